// Package scheduler runs the cron scheduler loop for the armada daemon.
//
// The runner owns pacing and wake-ups: it re-reads the tick interval from
// settings on every lap so operators can retune it without a restart, and
// exposes Wake for the control listener to force an immediate reload and
// tick when schedules change on another replica.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/data"
	"github.com/hullcrest/armada/internal/observability/metrics"
	"github.com/hullcrest/armada/internal/observability/statsd"
	"github.com/hullcrest/armada/internal/service"
)

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Scheduler    core.JobScheduler
	Settings     *service.SettingsService
	Metrics      statsd.Sink // optional
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// Runner drives the scheduler on a settings-controlled interval.
type Runner struct {
	scheduler    core.JobScheduler
	settings     *service.SettingsService
	metrics      statsd.Sink
	timeProvider data.TimeProvider
	logger       *slog.Logger
	wake         chan struct{}
}

// NewRunner creates a new scheduler runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	if opts.Settings == nil {
		return nil, errors.New("settings service is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		scheduler:    opts.Scheduler,
		settings:     opts.Settings,
		metrics:      opts.Metrics,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger.With("component", "scheduler_runner"),
		wake:         make(chan struct{}, 1),
	}, nil
}

// Wake requests an immediate reload and tick. Safe to call from any
// goroutine; wake-ups coalesce while one is already pending.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run ticks the scheduler until the context is cancelled. Returns nil on
// graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.settings.CheckInterval(ctx)
	r.logger.InfoContext(ctx, "starting scheduler loop", "interval", interval)

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "scheduler loop stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-r.wake:
			if !timer.Stop() {
				<-timer.C
			}
			r.logger.InfoContext(ctx, "scheduler woken for reload")
			r.scheduler.Reload()
			r.tick(ctx)

		case <-timer.C:
			r.tick(ctx)
		}
		timer.Reset(r.settings.CheckInterval(ctx))
	}
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	processed, err := r.scheduler.Tick(ctx, r.timeProvider.Now())
	metrics.EmitSchedulerTick(r.metrics, processed, time.Since(start), err)
	if err != nil && ctx.Err() == nil {
		r.logger.ErrorContext(ctx, "scheduler tick failed", "error", err)
	}
}
