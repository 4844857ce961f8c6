// Package reaper provides the adapter for running retention cleanup.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hullcrest/armada/config"
	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/data"
	"github.com/hullcrest/armada/internal/observability/statsd"
	"github.com/hullcrest/armada/internal/service"
)

// Runner provides a simple adapter to run the retention loop.
// It constructs the reaper service and delegates the cleanup loop to it.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB       *sql.DB
	Config   config.ReaperConfig
	Settings *service.SettingsService
	Logger   *slog.Logger

	// Optional dependency injection for testing/decoupling
	Runs    core.RunRepository
	Log     core.NotificationLogRepository
	Metrics statsd.Sink
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	reaper, err := wireReaperService(opts)
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	return &Runner{
		reaper: reaper,
		logger: opts.Logger,
	}, nil
}

// validateRunnerOptions validates and sets defaults for RunnerOptions.
func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && (opts.Runs == nil || opts.Log == nil) {
		return errors.New("database connection is required")
	}
	if opts.Settings == nil {
		return errors.New("settings service is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// wireReaperService wires up all dependencies for the reaper service.
func wireReaperService(opts RunnerOptions) (*service.ReaperService, error) {
	runs := opts.Runs
	if runs == nil {
		runs = data.NewRunRepo(opts.DB)
	}
	log := opts.Log
	if log == nil {
		log = data.NewNotificationLogRepo(opts.DB)
	}

	return service.NewReaperService(service.ReaperServiceOptions{
		Runs:        runs,
		Log:         log,
		Settings:    opts.Settings,
		Interval:    opts.Config.Interval,
		StaleRunAge: opts.Config.StaleRunAge,
		Metrics:     opts.Metrics,
		Logger:      opts.Logger,
	})
}

// Run starts the retention loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}
