package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hullcrest/armada/config"
	"github.com/hullcrest/armada/internal/adapters/control"
	"github.com/hullcrest/armada/internal/adapters/reaper"
	schedrunner "github.com/hullcrest/armada/internal/adapters/scheduler"
	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/observability/statsd"
	"github.com/hullcrest/armada/internal/service"
)

// SchedulerRunnerConfig contains configuration for the scheduler loop.
type SchedulerRunnerConfig struct {
	Scheduler core.JobScheduler
	Settings  *service.SettingsService
	Metrics   statsd.Sink
	Logger    *slog.Logger
}

// NewSchedulerRunner builds the scheduler loop runner. The runner is returned
// rather than run so the control listener can share its Wake hook.
func NewSchedulerRunner(cfg SchedulerRunnerConfig) (*schedrunner.Runner, error) {
	runner, err := schedrunner.NewRunner(schedrunner.RunnerOptions{
		Scheduler: cfg.Scheduler,
		Settings:  cfg.Settings,
		Metrics:   cfg.Metrics,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create scheduler runner: %w", err)
	}

	return runner, nil
}

// ControlListenerConfig contains configuration for the control listener.
type ControlListenerConfig struct {
	Source    control.Source
	Scheduler control.Waker
	Executor  control.RunCanceller
	Logger    *slog.Logger
}

// RunControlListener starts the pg_notify control listener.
func RunControlListener(ctx context.Context, cfg ControlListenerConfig) error {
	listener, err := control.NewListener(control.ListenerOptions{
		Source:    cfg.Source,
		Scheduler: cfg.Scheduler,
		Executor:  cfg.Executor,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("create control listener: %w", err)
	}

	return listener.Run(ctx)
}

// ReaperConfig contains configuration for the reaper.
type ReaperConfig struct {
	DB       *sql.DB
	Config   config.ReaperConfig
	Settings *service.SettingsService
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// RunReaper starts the retention reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:       cfg.DB,
		Config:   cfg.Config,
		Settings: cfg.Settings,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
