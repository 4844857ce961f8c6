// Package service provides the business logic services for the armada fleet
// orchestrator.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/domain/cronspec"
	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// defaultSchedulerBatchSize caps how many due schedules a single tick pulls.
// Anything beyond the cap is still due and picked up by the next tick.
const defaultSchedulerBatchSize = 100

// SchedulerService implements the core.JobScheduler interface. Each tick reads
// the due schedules and hands them to the executor with trigger=scheduled.
// Advancing next_run_at rides on the executor's atomic claim, so concurrent
// replicas fire each schedule at most once per slot.
type SchedulerService struct {
	schedules core.ScheduleRepository
	runs      core.RunRepository
	executor  *ExecutorService
	settings  *SettingsService
	batchSize int
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[int64]compiledCron
}

type compiledCron struct {
	expr  string
	tz    string
	sched *cronspec.Schedule
}

// SchedulerServiceOptions holds the dependencies for creating a SchedulerService.
type SchedulerServiceOptions struct {
	Schedules core.ScheduleRepository
	Runs      core.RunRepository
	Executor  *ExecutorService
	Settings  *SettingsService

	// BatchSize caps how many due schedules one tick pulls. Zero or negative
	// uses the default.
	BatchSize int

	Logger *slog.Logger
}

// NewSchedulerService creates a new SchedulerService with the given dependencies.
func NewSchedulerService(opts SchedulerServiceOptions) *SchedulerService {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = defaultSchedulerBatchSize
	}
	return &SchedulerService{
		schedules: opts.Schedules,
		runs:      opts.Runs,
		executor:  opts.Executor,
		settings:  opts.Settings,
		batchSize: opts.BatchSize,
		logger:    opts.Logger.With("component", "scheduler"),
		cache:     make(map[int64]compiledCron),
	}
}

// Tick processes all schedules due at now and returns how many this process
// acted on (fired or recorded as skipped). Fires claimed by another replica
// are not counted.
//
// Per-schedule failures are logged and do not abort the loop; only the due
// query itself can fail the tick, and the caller retries on the next one.
func (s *SchedulerService) Tick(ctx context.Context, now time.Time) (int, error) {
	due, err := s.schedules.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return 0, err
	}

	local := now.In(s.settings.Timezone(ctx))
	processed := 0
	for _, sched := range due {
		if ctx.Err() != nil {
			break
		}
		if s.fire(ctx, sched, local) {
			processed++
		}
	}

	if processed > 0 {
		s.logger.InfoContext(ctx, "tick processed due schedules",
			"due", len(due), "processed", processed)
	}
	return processed, nil
}

// Reload drops the compiled expression cache so the next tick re-reads every
// schedule from the store. In-flight runs are unaffected.
func (s *SchedulerService) Reload() {
	s.mu.Lock()
	s.cache = make(map[int64]compiledCron)
	s.mu.Unlock()
	s.logger.Debug("schedule cache dropped")
}

// fire handles one due schedule: compile the expression, check for an
// overlapping run, and hand the fire to the executor. Reports whether this
// process took an action for the schedule.
func (s *SchedulerService) fire(ctx context.Context, sched *model.JobSchedule, now time.Time) bool {
	compiled, err := s.compiled(sched, now.Location())
	if err != nil {
		// A malformed expression parks the schedule (next_run_at NULL) until
		// an operator fixes it. Editing the expression revalidates and re-arms.
		s.logger.WarnContext(ctx, "invalid cron expression",
			"schedule_id", sched.ID, "schedule_name", sched.Name,
			"expression", sched.Schedule, "error", err)
		s.markSkipped(ctx, sched, "invalid cron expression: "+err.Error(), nil)
		if perr := s.schedules.SetNextRun(ctx, sched.ID, nil); perr != nil {
			s.logger.ErrorContext(ctx, "park schedule failed",
				"schedule_id", sched.ID, "error", perr)
		}
		return true
	}

	// Next future slot from now, never from the stale next_run_at: a fleet
	// that was down for an hour fires each schedule once, without backfill.
	var next *time.Time
	if n := compiled.Next(now); !n.IsZero() {
		next = &n
	}

	active, err := s.runs.HasActiveRun(ctx, sched.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "overlap check failed",
			"schedule_id", sched.ID, "error", err)
		return false
	}
	if active {
		s.logger.InfoContext(ctx, "previous run still in flight, skipping fire",
			"schedule_id", sched.ID, "schedule_name", sched.Name)
		s.markSkipped(ctx, sched, "previous run still running", next)
		return true
	}

	runID, err := s.executor.Execute(ctx, ExecuteRequest{
		JobTemplateID:     sched.JobTemplateID,
		ServerID:          sched.ServerID,
		TriggeredBy:       model.RunTriggerScheduled,
		JobScheduleID:     &sched.ID,
		ScheduleNextRunAt: next,
		TimeoutOverride:   sched.TimeoutSeconds,
		RetryOverride:     sched.RetryCount,
	})
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "schedule fired",
			"schedule_id", sched.ID, "schedule_name", sched.Name, "run_id", runID)
		return true
	case apperrors.IsConflict(err):
		// Another replica claimed this slot between the due query and the
		// insert. Its run is the real one.
		s.logger.DebugContext(ctx, "schedule claimed by another replica",
			"schedule_id", sched.ID)
		return false
	case apperrors.IsOverloaded(err):
		s.logger.WarnContext(ctx, "executor saturated, skipping fire",
			"schedule_id", sched.ID, "schedule_name", sched.Name)
		s.markSkipped(ctx, sched, "executor saturated", next)
		return true
	case apperrors.IsNotFound(err), apperrors.IsValidation(err):
		// Broken reference or disabled target. Advance past this slot so the
		// schedule does not refire every tick; the reason stays on last_error.
		s.logger.WarnContext(ctx, "schedule cannot fire",
			"schedule_id", sched.ID, "schedule_name", sched.Name, "error", err)
		s.markSkipped(ctx, sched, firstLine(err.Error()), next)
		return true
	default:
		s.logger.ErrorContext(ctx, "schedule fire failed",
			"schedule_id", sched.ID, "error", err)
		return false
	}
}

// compiled returns the parsed cron schedule, recompiling when the expression
// or the fleet timezone changed since it was cached.
func (s *SchedulerService) compiled(sched *model.JobSchedule, loc *time.Location) (*cronspec.Schedule, error) {
	s.mu.Lock()
	entry, ok := s.cache[sched.ID]
	s.mu.Unlock()
	if ok && entry.expr == sched.Schedule && entry.tz == loc.String() {
		return entry.sched, nil
	}

	parsed, err := cronspec.Parse(sched.Schedule, loc)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[sched.ID] = compiledCron{expr: sched.Schedule, tz: loc.String(), sched: parsed}
	s.mu.Unlock()
	return parsed, nil
}

func (s *SchedulerService) markSkipped(ctx context.Context, sched *model.JobSchedule, reason string, next *time.Time) {
	if err := s.schedules.MarkSkipped(ctx, sched.ID, reason, next); err != nil {
		s.logger.ErrorContext(ctx, "mark schedule skipped failed",
			"schedule_id", sched.ID, "reason", reason, "error", err)
	}
}
