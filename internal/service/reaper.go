package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/data"
	"github.com/hullcrest/armada/internal/observability/metrics"
	"github.com/hullcrest/armada/internal/observability/statsd"
)

const (
	defaultReaperInterval = time.Hour
	defaultStaleRunAge    = 24 * time.Hour
)

// staleRunError is written onto running rows whose executor disappeared,
// usually across a daemon restart.
const staleRunError = "run abandoned: executor never reported a result (daemon restart?)"

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Runs     core.RunRepository
	Log      core.NotificationLogRepository
	Settings *SettingsService
	// Interval between retention passes; defaults to one hour.
	Interval time.Duration
	// StaleRunAge is how long a row may sit in running before it is declared
	// abandoned; defaults to 24 hours. Must exceed the longest job timeout.
	StaleRunAge  time.Duration
	Metrics      statsd.Sink // optional
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// ReaperService owns retention: pruning terminal runs and notification log
// rows past jobs.retention_days, and failing runs abandoned by a dead
// executor so they stop looking in-flight forever.
type ReaperService struct {
	runs         core.RunRepository
	log          core.NotificationLogRepository
	settings     *SettingsService
	interval     time.Duration
	staleRunAge  time.Duration
	metrics      statsd.Sink
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Runs == nil {
		return nil, errors.New("run repository is required")
	}
	if opts.Log == nil {
		return nil, errors.New("notification log repository is required")
	}
	if opts.Settings == nil {
		return nil, errors.New("settings service is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultReaperInterval
	}
	if opts.StaleRunAge <= 0 {
		opts.StaleRunAge = defaultStaleRunAge
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ReaperService{
		runs:         opts.Runs,
		log:          opts.Log,
		settings:     opts.Settings,
		interval:     opts.Interval,
		staleRunAge:  opts.StaleRunAge,
		metrics:      opts.Metrics,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger.With("component", "reaper"),
	}, nil
}

// Run starts the retention loop and runs until the context is cancelled.
// Returns nil on graceful shutdown.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting retention loop",
		"interval", s.interval, "stale_run_age", s.staleRunAge)

	// Jitter the first pass so restarting replicas do not prune in lockstep.
	s.waitWithJitter(ctx)
	if ctx.Err() == nil {
		s.pass(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "retention loop stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

// RunOnce performs a single retention pass, for the admin prune command.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	return s.pass(ctx)
}

// pass executes all retention steps, logging and continuing on per-step
// failures. The joined error is informational; the loop never stops for it.
func (s *ReaperService) pass(ctx context.Context) error {
	now := s.timeProvider.Now().UTC()
	var errs []error

	count, err := s.runs.FailStale(ctx, now.Add(-s.staleRunAge), staleRunError)
	s.report(ctx, "fail_stale_runs", count, err)
	if err != nil {
		errs = append(errs, err)
	}

	retention := s.settings.RetentionDays(ctx)
	if retention > 0 {
		horizon := now.AddDate(0, 0, -retention)

		count, err = s.runs.Prune(ctx, horizon)
		s.report(ctx, "prune_runs", count, err)
		if err != nil {
			errs = append(errs, err)
		}

		count, err = s.log.Prune(ctx, horizon)
		s.report(ctx, "prune_notification_log", count, err)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *ReaperService) report(ctx context.Context, operation string, count int64, err error) {
	metrics.EmitRetention(s.metrics, operation, count, err)
	switch {
	case err != nil && isContextCancellation(err):
		s.logger.DebugContext(ctx, "retention step cancelled", "operation", operation)
	case err != nil:
		s.logger.ErrorContext(ctx, "retention step failed", "operation", operation, "error", err)
	case count > 0:
		s.logger.InfoContext(ctx, "retention step processed rows",
			"operation", operation, "rows", count)
	}
}

// waitWithJitter sleeps up to 10% of the interval before the first pass.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "jitter source failed, starting immediately", "error", err)
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))) // #nosec G115 - bounded by maxJitter

	timer := time.NewTimer(jitter)
	select {
	case <-ctx.Done():
		if !timer.Stop() {
			<-timer.C
		}
	case <-timer.C:
	}
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
