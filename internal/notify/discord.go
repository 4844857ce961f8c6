package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hullcrest/armada/internal/domain/model"
)

// discordContentLimit is Discord's hard cap on webhook message content.
const discordContentLimit = 2000

// discordChannel posts to a Discord webhook URL.
type discordChannel struct {
	url    string
	client *http.Client
}

func newDiscord(config map[string]any, opts Options) (*discordChannel, error) {
	rawURL, _ := model.ConfigString(config, "url")
	return &discordChannel{
		url:    strings.TrimSpace(rawURL),
		client: opts.httpClient(),
	}, nil
}

func (d *discordChannel) Send(ctx context.Context, msg Message) error {
	content := msg.Body
	if title := strings.TrimSpace(msg.Title); title != "" {
		content = "**" + title + "**\n" + msg.Body
	}
	// Discord counts characters, not bytes.
	if runes := []rune(content); len(runes) > discordContentLimit {
		content = string(runes[:discordContentLimit-1]) + "…"
	}

	body, err := json.Marshal(map[string]any{"content": content})
	if err != nil {
		return fmt.Errorf("encode discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return send(d.client, req, "discord webhook")
}
