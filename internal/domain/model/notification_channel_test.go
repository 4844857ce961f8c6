//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChannelKind(t *testing.T) {
	kind, ok := ParseChannelKind(" Gotify ")
	assert.True(t, ok)
	assert.Equal(t, ChannelKindGotify, kind)

	_, ok = ParseChannelKind("pager")
	assert.False(t, ok)
}

func TestValidateChannelConfig_Gotify(t *testing.T) {
	err := ValidateChannelConfig(ChannelKindGotify, map[string]any{
		"url":   "https://gotify.example.com",
		"token": "Axxxx",
	})
	assert.NoError(t, err)

	err = ValidateChannelConfig(ChannelKindGotify, map[string]any{"url": "https://gotify.example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.token is required")

	err = ValidateChannelConfig(ChannelKindGotify, map[string]any{"url": "not a url", "token": "A"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.url must be a valid http(s) URL")
}

func TestValidateChannelConfig_Ntfy(t *testing.T) {
	err := ValidateChannelConfig(ChannelKindNtfy, map[string]any{
		"url":   "https://ntfy.sh",
		"topic": "armada-alerts",
		"tags":  []any{"warning", "server"},
	})
	assert.NoError(t, err)

	err = ValidateChannelConfig(ChannelKindNtfy, map[string]any{"url": "https://ntfy.sh"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.topic is required")

	err = ValidateChannelConfig(ChannelKindNtfy, map[string]any{
		"url":   "https://ntfy.sh",
		"topic": "armada-alerts",
		"tags":  []any{1, 2},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.tags must be a list of strings")
}

func TestValidateChannelConfig_Email(t *testing.T) {
	valid := map[string]any{
		"smtp_host": "smtp.example.com",
		"smtp_port": float64(587), // JSON numbers decode as float64
		"from":      "armada@example.com",
		"to":        []any{"ops@example.com"},
		"use_tls":   true,
	}
	assert.NoError(t, ValidateChannelConfig(ChannelKindEmail, valid))

	noRecipients := map[string]any{
		"smtp_host": "smtp.example.com",
		"smtp_port": 587,
		"from":      "armada@example.com",
		"to":        []any{},
	}
	err := ValidateChannelConfig(ChannelKindEmail, noRecipients)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one recipient")

	badPort := map[string]any{
		"smtp_host": "smtp.example.com",
		"smtp_port": 0,
		"from":      "armada@example.com",
		"to":        []any{"ops@example.com"},
	}
	err = ValidateChannelConfig(ChannelKindEmail, badPort)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp_port must be between")
}

func TestValidateChannelConfig_Webhook(t *testing.T) {
	tests := []struct {
		name    string
		kind    ChannelKind
		config  map[string]any
		wantErr string
	}{
		{
			name:   "slack minimal",
			kind:   ChannelKindSlack,
			config: map[string]any{"url": "https://hooks.slack.com/services/T0/B0/x"},
		},
		{
			name:   "discord minimal",
			kind:   ChannelKindDiscord,
			config: map[string]any{"url": "https://discord.com/api/webhooks/1/x"},
		},
		{
			name: "webhook with method and headers",
			kind: ChannelKindWebhook,
			config: map[string]any{
				"url":     "https://ops.example.com/hook",
				"method":  "put",
				"headers": map[string]any{"X-Token": "abc"},
			},
		},
		{
			name:    "bad method",
			kind:    ChannelKindWebhook,
			config:  map[string]any{"url": "https://ops.example.com/hook", "method": "DELETE"},
			wantErr: "config.method must be one of",
		},
		{
			name:    "bad headers",
			kind:    ChannelKindWebhook,
			config:  map[string]any{"url": "https://ops.example.com/hook", "headers": "X-Token: abc"},
			wantErr: "config.headers must be a map",
		},
		{
			name:    "missing url",
			kind:    ChannelKindSlack,
			config:  map[string]any{"method": "POST"},
			wantErr: "config.url is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChannelConfig(tt.kind, tt.config)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigStringList(t *testing.T) {
	list, err := ConfigStringList(map[string]any{"to": "a@x.com, b@x.com"}, "to")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, list)

	list, err = ConfigStringList(map[string]any{"to": []string{"a@x.com"}}, "to")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com"}, list)

	_, err = ConfigStringList(map[string]any{"to": 42}, "to")
	assert.Error(t, err)
}

func TestConfigInt(t *testing.T) {
	n, err := ConfigInt(map[string]any{"smtp_port": "465"}, "smtp_port")
	require.NoError(t, err)
	assert.Equal(t, 465, n)

	_, err = ConfigInt(map[string]any{"smtp_port": "many"}, "smtp_port")
	assert.Error(t, err)
}

func TestCreateNotificationChannelRequest_Validate(t *testing.T) {
	req := &CreateNotificationChannelRequest{
		Name: "ops-gotify",
		Kind: ChannelKindGotify,
		Config: map[string]any{
			"url":   "https://gotify.example.com",
			"token": "Axxxx",
		},
	}
	assert.NoError(t, req.Validate())

	req.DefaultPriority = intPtr(99)
	err := req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_priority must be between 0 and 10")
}
