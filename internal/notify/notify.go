// Package notify delivers rendered run notifications to external
// channels. Each supported channel kind has an adapter implementing the
// Channel interface; New builds the right adapter from a stored
// NotificationChannel row. Adapters are single-shot senders: retry and
// backoff belong to the caller.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hullcrest/armada/internal/domain/model"
)

// defaultTimeout bounds a single delivery attempt when the caller does
// not supply an HTTP client or context deadline.
const defaultTimeout = 10 * time.Second

// Message is one rendered notification handed to a channel adapter.
type Message struct {
	Title    string
	Body     string
	Priority int            // 0..10; adapters map to their native scale
	Payload  map[string]any // canonical run payload for webhook body expressions
}

// Channel delivers one message to one destination.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// ChannelFunc adapts a function to the Channel interface (useful for tests).
type ChannelFunc func(ctx context.Context, msg Message) error

// Send implements the Channel interface.
func (f ChannelFunc) Send(ctx context.Context, msg Message) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

// Options carries shared adapter construction knobs.
type Options struct {
	Client  *http.Client  // optional; built from Timeout when nil
	Timeout time.Duration // per-attempt bound, defaults to 10s
}

func (o Options) httpClient() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return defaultTimeout
}

// New builds the delivery adapter for a channel row. The config shape is
// re-checked here so rows saved before a validation change fail loudly
// instead of sending garbage.
func New(ch model.NotificationChannel, opts Options) (Channel, error) {
	if err := model.ValidateChannelConfig(ch.Kind, ch.Config); err != nil {
		return nil, err
	}
	switch ch.Kind {
	case model.ChannelKindGotify:
		return newGotify(ch.Config, opts)
	case model.ChannelKindNtfy:
		return newNtfy(ch.Config, opts)
	case model.ChannelKindEmail:
		return newEmail(ch.Config, opts)
	case model.ChannelKindSlack:
		return newSlack(ch.Config, opts)
	case model.ChannelKindDiscord:
		return newDiscord(ch.Config, opts)
	case model.ChannelKindWebhook:
		return newWebhook(ch.Config, opts)
	default:
		return nil, fmt.Errorf("unsupported channel kind %q", ch.Kind)
	}
}

// send performs one HTTP delivery and treats any non-2xx status as an
// error carrying the response body.
func send(client *http.Client, req *http.Request, label string) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", label, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorResponse(resp, label)
	}

	return drainSuccess(resp, label)
}

func drainSuccess(resp *http.Response, label string) error {
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return errors.Join(
				fmt.Errorf("drain %s response body: %w", label, err),
				fmt.Errorf("close response body: %w", closeErr),
			)
		}
		return fmt.Errorf("drain %s response body: %w", label, err)
	}
	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}
	return nil
}

func errorResponse(resp *http.Response, label string) error {
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	closeErr := resp.Body.Close()
	if readErr != nil {
		if closeErr != nil {
			return errors.Join(
				fmt.Errorf("read %s error response: %w", label, readErr),
				fmt.Errorf("close response body: %w", closeErr),
			)
		}
		return fmt.Errorf("read %s error response: %w", label, readErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close response body: %w", closeErr)
	}

	return fmt.Errorf("%s %s: %s", label, resp.Status, strings.TrimSpace(string(respBody)))
}

// singleLine collapses a rendered title into something safe for header
// transports that reject newlines.
func singleLine(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
