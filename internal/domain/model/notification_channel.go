//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxChannelNameLen  = 255
	maxChannelURLLen   = 1024
	minChannelPriority = 0
	maxChannelPriority = 10
)

// ChannelKind selects the delivery adapter for a notification channel.
type ChannelKind string

const (
	ChannelKindGotify  ChannelKind = "gotify"
	ChannelKindNtfy    ChannelKind = "ntfy"
	ChannelKindEmail   ChannelKind = "email"
	ChannelKindSlack   ChannelKind = "slack"
	ChannelKindDiscord ChannelKind = "discord"
	ChannelKindWebhook ChannelKind = "webhook"
)

// Valid reports whether the channel kind is supported.
func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelKindGotify, ChannelKindNtfy, ChannelKindEmail, ChannelKindSlack, ChannelKindDiscord, ChannelKindWebhook:
		return true
	default:
		return false
	}
}

// ParseChannelKind normalizes a kind string and reports whether it is supported.
func ParseChannelKind(value string) (ChannelKind, bool) {
	kind := ChannelKind(strings.ToLower(strings.TrimSpace(value)))
	if kind.Valid() {
		return kind, true
	}
	return "", false
}

// ChannelsListOptions controls paging and filtering for listing channels.
type ChannelsListOptions struct {
	Limit   int
	Offset  int
	Kind    *ChannelKind
	Enabled *bool
}

// NotificationChannel is one configured delivery target. Config is
// kind-specific; see ValidateChannelConfig for the accepted shapes.
type NotificationChannel struct {
	ID              int64          `json:"id"                          db:"id"`
	Name            string         `json:"name"                        db:"name"`
	Kind            ChannelKind    `json:"kind"                        db:"kind"`
	Config          map[string]any `json:"config"                      db:"config"`
	Enabled         bool           `json:"enabled"                     db:"enabled"`
	DefaultPriority int            `json:"default_priority"            db:"default_priority"`
	LastTestAt      *time.Time     `json:"last_test_at,omitempty"      db:"last_test_at"`
	LastTestSuccess *bool          `json:"last_test_success,omitempty" db:"last_test_success"`
	CreatedAt       time.Time      `json:"created_at"                  db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"                  db:"updated_at"`
}

// CreateNotificationChannelRequest represents parameters to create a NotificationChannel.
type CreateNotificationChannelRequest struct {
	Name            string         `json:"name"`
	Kind            ChannelKind    `json:"kind"`
	Config          map[string]any `json:"config"`
	Enabled         *bool          `json:"enabled,omitempty"`
	DefaultPriority *int           `json:"default_priority,omitempty"`
}

// UpdateNotificationChannelRequest represents parameters to update a NotificationChannel.
// Kind is immutable; Config replaces the stored map wholesale when set.
type UpdateNotificationChannelRequest struct {
	Name            *string        `json:"name,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	Enabled         *bool          `json:"enabled,omitempty"`
	DefaultPriority *int           `json:"default_priority,omitempty"`
}

// Validate validates CreateNotificationChannelRequest including the
// kind-specific config shape.
func (r *CreateNotificationChannelRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return errors.New("name is required and cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxChannelNameLen {
		return errors.New("name cannot exceed 255 characters")
	}
	if !r.Kind.Valid() {
		return errors.New("kind must be one of: gotify, ntfy, email, slack, discord, webhook")
	}
	if r.DefaultPriority != nil && (*r.DefaultPriority < minChannelPriority || *r.DefaultPriority > maxChannelPriority) {
		return errors.New("default_priority must be between 0 and 10")
	}
	return ValidateChannelConfig(r.Kind, r.Config)
}

// HasUpdates reports whether any field is set in UpdateNotificationChannelRequest.
func (r *UpdateNotificationChannelRequest) HasUpdates() bool {
	return r.Name != nil || r.Config != nil || r.Enabled != nil || r.DefaultPriority != nil
}

// Validate validates UpdateNotificationChannelRequest. Config shape checking
// needs the stored kind, so the channel service performs it after load.
func (r *UpdateNotificationChannelRequest) Validate() error {
	if !r.HasUpdates() {
		return errors.New("at least one field must be updated")
	}
	if r.Name != nil {
		n := strings.TrimSpace(*r.Name)
		if n == "" {
			return errors.New("name cannot be empty")
		}
		if utf8.RuneCountInString(n) > maxChannelNameLen {
			return errors.New("name cannot exceed 255 characters")
		}
	}
	if r.DefaultPriority != nil && (*r.DefaultPriority < minChannelPriority || *r.DefaultPriority > maxChannelPriority) {
		return errors.New("default_priority must be between 0 and 10")
	}
	return nil
}

// ValidateChannelConfig checks a channel config map against the shape its
// kind requires. Unknown keys are tolerated.
func ValidateChannelConfig(kind ChannelKind, config map[string]any) error {
	if len(config) == 0 {
		return errors.New("config is required")
	}
	switch kind {
	case ChannelKindGotify:
		if err := requireConfigURL(config, "url"); err != nil {
			return err
		}
		return requireConfigString(config, "token")
	case ChannelKindNtfy:
		if err := requireConfigURL(config, "url"); err != nil {
			return err
		}
		if err := requireConfigString(config, "topic"); err != nil {
			return err
		}
		if _, ok := config["tags"]; ok {
			if _, err := ConfigStringList(config, "tags"); err != nil {
				return err
			}
		}
		return nil
	case ChannelKindEmail:
		if err := requireConfigString(config, "smtp_host"); err != nil {
			return err
		}
		port, err := ConfigInt(config, "smtp_port")
		if err != nil {
			return err
		}
		if port < 1 || port > 65535 {
			return errors.New("config.smtp_port must be between 1 and 65535")
		}
		if err := requireConfigString(config, "from"); err != nil {
			return err
		}
		to, err := ConfigStringList(config, "to")
		if err != nil {
			return err
		}
		if len(to) == 0 {
			return errors.New("config.to must list at least one recipient")
		}
		if _, ok := config["use_tls"]; ok {
			if _, err := ConfigBool(config, "use_tls"); err != nil {
				return err
			}
		}
		return nil
	case ChannelKindSlack, ChannelKindDiscord, ChannelKindWebhook:
		if err := requireConfigURL(config, "url"); err != nil {
			return err
		}
		if method, ok := config["method"]; ok {
			m, isStr := method.(string)
			if !isStr {
				return errors.New("config.method must be a string")
			}
			switch strings.ToUpper(strings.TrimSpace(m)) {
			case "GET", "POST", "PUT", "PATCH":
			default:
				return errors.New("config.method must be one of: GET, POST, PUT, PATCH")
			}
		}
		if headers, ok := config["headers"]; ok {
			if _, isMap := headers.(map[string]any); !isMap {
				return errors.New("config.headers must be a map")
			}
		}
		return nil
	default:
		return errors.New("unsupported channel kind")
	}
}

// ConfigString reads a string value from a channel config map.
func ConfigString(config map[string]any, key string) (string, bool) {
	v, ok := config[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ConfigInt reads an integer value from a channel config map. JSON decoding
// yields float64, so both numeric forms and numeric strings are accepted.
func ConfigInt(config map[string]any, key string) (int, error) {
	v, ok := config[key]
	if !ok {
		return 0, fmt.Errorf("config.%s is required", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		var parsed int
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%d", &parsed); err != nil {
			return 0, fmt.Errorf("config.%s must be an integer", key)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("config.%s must be an integer", key)
	}
}

// ConfigBool reads a boolean value from a channel config map.
func ConfigBool(config map[string]any, key string) (bool, error) {
	v, ok := config[key]
	if !ok {
		return false, fmt.Errorf("config.%s is required", key)
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
	}
	return false, fmt.Errorf("config.%s must be a boolean", key)
}

// ConfigStringList reads a list of strings from a channel config map,
// accepting []string, []any of strings, or a comma-separated string.
func ConfigStringList(config map[string]any, key string) ([]string, error) {
	v, ok := config[key]
	if !ok {
		return nil, fmt.Errorf("config.%s is required", key)
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, isStr := item.(string)
			if !isStr {
				return nil, fmt.Errorf("config.%s must be a list of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		parts := strings.Split(list, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("config.%s must be a list of strings", key)
	}
}

func requireConfigString(config map[string]any, key string) error {
	s, ok := ConfigString(config, key)
	if !ok || strings.TrimSpace(s) == "" {
		return fmt.Errorf("config.%s is required", key)
	}
	return nil
}

func requireConfigURL(config map[string]any, key string) error {
	s, ok := ConfigString(config, key)
	if !ok || strings.TrimSpace(s) == "" {
		return fmt.Errorf("config.%s is required", key)
	}
	if utf8.RuneCountInString(s) > maxChannelURLLen {
		return fmt.Errorf("config.%s cannot exceed 1024 characters", key)
	}
	parsed, err := url.Parse(strings.TrimSpace(s))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("config.%s must be a valid http(s) URL", key)
	}
	return nil
}
