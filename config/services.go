package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeScheduler runs the schedule poller together with the run
	// executor and the control-channel listener it feeds.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeReaper runs stale-run cleanup and retention pruning.
	ServiceModeReaper ServiceMode = "reaper"
	// ServiceModeAll expands to every concrete service mode.
	ServiceModeAll ServiceMode = "all"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeScheduler,
		ServiceModeReaper,
		ServiceModeAll,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// The "all" shorthand enables every concrete service. It validates that all
// service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeScheduler, ServiceModeReaper:
			services[mode] = true
		case ServiceModeAll:
			services[ServiceModeScheduler] = true
			services[ServiceModeReaper] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: scheduler, reaper, all)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SchedulerConfig contains schedule poller configuration.
type SchedulerConfig struct {
	// BatchSize is the maximum number of due schedules claimed per tick.
	BatchSize int `env:"BATCH_SIZE" envDefault:"100"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
}

// ExecutorConfig contains run executor configuration.
type ExecutorConfig struct {
	// ShutdownGrace is how long in-flight runs may keep going after a
	// shutdown signal before the process stops waiting for them.
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"15s"`
}

// Sanitize applies guardrails to executor configuration values.
func (e *ExecutorConfig) Sanitize() {
	if e.ShutdownGrace < time.Second {
		e.ShutdownGrace = 15 * time.Second
	}
}

// ReaperConfig contains stale-run reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper pass interval.
	Interval time.Duration `env:"INTERVAL" envDefault:"1h"`

	// StaleRunAge is how long a run may sit in the running state before
	// the reaper fails it as abandoned.
	StaleRunAge time.Duration `env:"STALE_RUN_AGE" envDefault:"24h"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.StaleRunAge < 1*time.Hour {
		r.StaleRunAge = 1 * time.Hour
	}
}
