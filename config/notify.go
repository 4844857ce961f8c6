package config

import (
	"strings"
	"time"
)

// NotifyConfig contains notification delivery configuration.
type NotifyConfig struct {
	// BaseURL is the externally reachable base URL used to build run links
	// in notification payloads. When empty, payloads carry no link.
	BaseURL string `env:"BASE_URL"`

	// Timeout bounds each individual webhook delivery attempt.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// Sanitize normalises notification configuration values.
func (n *NotifyConfig) Sanitize() {
	n.BaseURL = strings.TrimRight(strings.TrimSpace(n.BaseURL), "/")
	if n.Timeout <= 0 {
		n.Timeout = 10 * time.Second
	}
}
