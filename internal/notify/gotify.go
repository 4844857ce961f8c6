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

// gotifyChannel posts messages to a Gotify server's /message endpoint.
type gotifyChannel struct {
	url    string
	token  string
	client *http.Client
}

func newGotify(config map[string]any, opts Options) (*gotifyChannel, error) {
	rawURL, _ := model.ConfigString(config, "url")
	token, _ := model.ConfigString(config, "token")
	return &gotifyChannel{
		url:    strings.TrimRight(strings.TrimSpace(rawURL), "/") + "/message",
		token:  strings.TrimSpace(token),
		client: opts.httpClient(),
	}, nil
}

func (g *gotifyChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(map[string]any{
		"title":    msg.Title,
		"message":  msg.Body,
		"priority": msg.Priority,
	})
	if err != nil {
		return fmt.Errorf("encode gotify payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create gotify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gotify-Key", g.token)

	return send(g.client, req, "gotify")
}
