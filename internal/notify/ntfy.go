package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/hullcrest/armada/internal/domain/model"
)

// ntfyChannel publishes to an ntfy topic. The message body is the HTTP
// body; title, priority and tags travel as headers per the ntfy API.
type ntfyChannel struct {
	url    string
	token  string
	tags   []string
	client *http.Client
}

func newNtfy(config map[string]any, opts Options) (*ntfyChannel, error) {
	rawURL, _ := model.ConfigString(config, "url")
	topic, _ := model.ConfigString(config, "topic")
	token, _ := model.ConfigString(config, "token")

	var tags []string
	if _, ok := config["tags"]; ok {
		list, err := model.ConfigStringList(config, "tags")
		if err != nil {
			return nil, err
		}
		tags = list
	}

	return &ntfyChannel{
		url:    strings.TrimRight(strings.TrimSpace(rawURL), "/") + "/" + strings.TrimSpace(topic),
		token:  strings.TrimSpace(token),
		tags:   tags,
		client: opts.httpClient(),
	}, nil
}

func (n *ntfyChannel) Send(ctx context.Context, msg Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, strings.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("create ntfy request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if title := singleLine(msg.Title); title != "" {
		req.Header.Set("Title", title)
	}
	req.Header.Set("Priority", strconv.Itoa(ntfyPriority(msg.Priority)))
	if len(n.tags) > 0 {
		req.Header.Set("Tags", strings.Join(n.tags, ","))
	}
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	return send(n.client, req, "ntfy")
}

// ntfyPriority maps the 0..10 channel scale to ntfy's 1..5.
func ntfyPriority(p int) int {
	mapped := (p + 1) / 2
	if mapped < 1 {
		return 1
	}
	if mapped > 5 {
		return 5
	}
	return mapped
}
