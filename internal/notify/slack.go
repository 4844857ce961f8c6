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

// slackChannel posts a simple text message to an incoming-webhook URL.
type slackChannel struct {
	url    string
	client *http.Client
}

func newSlack(config map[string]any, opts Options) (*slackChannel, error) {
	rawURL, _ := model.ConfigString(config, "url")
	return &slackChannel{
		url:    strings.TrimSpace(rawURL),
		client: opts.httpClient(),
	}, nil
}

func (s *slackChannel) Send(ctx context.Context, msg Message) error {
	text := msg.Body
	if title := strings.TrimSpace(msg.Title); title != "" {
		text = "*" + title + "*\n" + msg.Body
	}

	body, err := json.Marshal(map[string]any{"text": text})
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return send(s.client, req, "slack webhook")
}
