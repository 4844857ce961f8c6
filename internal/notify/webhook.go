package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/hullcrest/armada/internal/domain/model"
)

// webhookChannel delivers the canonical run payload to an arbitrary HTTP
// endpoint. An optional body_expression (JMESPath) derives a custom body
// from the payload; without one the payload is sent as-is.
type webhookChannel struct {
	url      string
	method   string
	headers  map[string]string
	bodyExpr string
	client   *http.Client
}

func newWebhook(config map[string]any, opts Options) (*webhookChannel, error) {
	rawURL, _ := model.ConfigString(config, "url")

	method := http.MethodPost
	if m, ok := model.ConfigString(config, "method"); ok && strings.TrimSpace(m) != "" {
		method = strings.ToUpper(strings.TrimSpace(m))
	}

	headers := make(map[string]string)
	if raw, ok := config["headers"]; ok {
		m, isMap := raw.(map[string]any)
		if !isMap {
			return nil, fmt.Errorf("config.headers must be a map")
		}
		for k, v := range m {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			headers[k] = headerValue(v)
		}
	}

	bodyExpr := ""
	if expr, ok := model.ConfigString(config, "body_expression"); ok && strings.TrimSpace(expr) != "" {
		bodyExpr = strings.TrimSpace(expr)
		if _, err := jmespath.Compile(bodyExpr); err != nil {
			return nil, fmt.Errorf("invalid body_expression: %w", err)
		}
	}

	return &webhookChannel{
		url:      strings.TrimSpace(rawURL),
		method:   method,
		headers:  headers,
		bodyExpr: bodyExpr,
		client:   opts.httpClient(),
	}, nil
}

func (w *webhookChannel) Send(ctx context.Context, msg Message) error {
	body, err := w.buildBody(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, w.method, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	return send(w.client, req, "webhook")
}

func (w *webhookChannel) buildBody(msg Message) ([]byte, error) {
	payload := msg.Payload
	if payload == nil {
		payload = map[string]any{
			"title":    msg.Title,
			"body":     msg.Body,
			"priority": msg.Priority,
		}
	}

	if w.bodyExpr == "" {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode webhook payload: %w", err)
		}
		return b, nil
	}

	derived, err := jmespath.Search(w.bodyExpr, payload)
	if err != nil {
		return nil, fmt.Errorf("evaluate body_expression: %w", err)
	}
	b, err := json.Marshal(derived)
	if err != nil {
		return nil, fmt.Errorf("encode derived webhook body: %w", err)
	}
	return b, nil
}

// headerValue renders a config header value as a string the way JSON
// users expect: strings pass through, everything else is re-encoded.
func headerValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
