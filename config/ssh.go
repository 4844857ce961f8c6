package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SSHConfig contains SSH dispatch configuration.
type SSHConfig struct {
	// KeyDir is the directory searched for private keys named by
	// key-reference credentials. A known_hosts file in the same directory
	// enables host key verification; without one, host keys are accepted
	// unverified.
	KeyDir string `env:"KEY_DIR" envDefault:"~/.ssh"`

	// PoolIdleTTL is how long an idle SSH connection is kept open for
	// reuse. Negative values disable connection pooling entirely.
	PoolIdleTTL time.Duration `env:"POOL_IDLE_TTL" envDefault:"60s"`
}

// Sanitize applies guardrails to SSH configuration values. A leading "~"
// in KeyDir is expanded to the current user's home directory.
func (s *SSHConfig) Sanitize() {
	s.KeyDir = strings.TrimSpace(s.KeyDir)
	if s.KeyDir == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			s.KeyDir = home
		}
		return
	}
	if strings.HasPrefix(s.KeyDir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			s.KeyDir = filepath.Join(home, s.KeyDir[2:])
		}
	}
}
