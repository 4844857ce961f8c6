package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/data"
	"github.com/hullcrest/armada/internal/domain/cronspec"
	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// ScheduleServiceOptions groups dependencies for ScheduleService.
type ScheduleServiceOptions struct {
	Repo         core.ScheduleRepository
	Settings     *SettingsService
	ControlBus   core.ControlBus // optional; nudges running daemons after writes
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// ScheduleService manages job schedules. It owns the cron dialect: every
// expression is parsed in the fleet timezone before it reaches storage, and
// next_run_at is maintained here so the scheduler only ever reads it.
type ScheduleService struct {
	schedules    core.ScheduleRepository
	settings     *SettingsService
	control      core.ControlBus
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewScheduleService constructs a new ScheduleService.
func NewScheduleService(opts ScheduleServiceOptions) *ScheduleService {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleService{
		schedules:    opts.Repo,
		settings:     opts.Settings,
		control:      opts.ControlBus,
		timeProvider: opts.TimeProvider,
		logger:       logger.With("component", "schedule_service"),
	}
}

// Create creates a schedule. The cron expression must parse and have at
// least one future fire time; next_run_at is seeded from it unless the
// schedule starts disabled.
func (s *ScheduleService) Create(ctx context.Context, req *model.CreateJobScheduleRequest) (*model.JobSchedule, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	loc := s.location(ctx)
	now := s.timeProvider.Now()
	sched, err := cronspec.Parse(req.Schedule, loc)
	if err != nil {
		return nil, apperrors.ValidationField("schedule", err.Error())
	}

	var nextRunAt *time.Time
	if req.Enabled == nil || *req.Enabled {
		next := sched.Next(now)
		if next.IsZero() {
			return nil, apperrors.ValidationField("schedule", cronspec.ErrNeverFires.Error())
		}
		nextRunAt = &next
	}

	created, err := s.schedules.Create(ctx, req, nextRunAt)
	if err != nil {
		return nil, err
	}
	s.notifyReload(ctx)
	return created, nil
}

// GetByID retrieves a schedule by ID.
func (s *ScheduleService) GetByID(ctx context.Context, id int64) (*model.JobSchedule, error) {
	return s.schedules.GetByID(ctx, id)
}

// GetByName retrieves a schedule by its unique name.
func (s *ScheduleService) GetByName(ctx context.Context, name string) (*model.JobSchedule, error) {
	return s.schedules.GetByName(ctx, name)
}

// List returns a page of schedules.
func (s *ScheduleService) List(ctx context.Context, opts model.SchedulesListOptions) ([]*model.JobSchedule, error) {
	return s.schedules.List(ctx, opts)
}

// Update updates a schedule. Changing the expression or enabling the
// schedule recomputes next_run_at; disabling parks it.
func (s *ScheduleService) Update(ctx context.Context, id int64, req model.UpdateJobScheduleRequest) (*model.JobSchedule, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	loc := s.location(ctx)
	now := s.timeProvider.Now()
	if req.Schedule != nil {
		if err := cronspec.Validate(*req.Schedule, loc, now); err != nil {
			return nil, apperrors.ValidationField("schedule", err.Error())
		}
	}

	var nextRunAt *time.Time
	park := false
	if req.Schedule != nil || req.Enabled != nil {
		current, err := s.schedules.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		expr := current.Schedule
		if req.Schedule != nil {
			expr = *req.Schedule
		}
		enabled := current.Enabled
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		if enabled {
			sched, err := cronspec.Parse(expr, loc)
			if err != nil {
				return nil, apperrors.ValidationField("schedule", err.Error())
			}
			next := sched.Next(now)
			if next.IsZero() {
				return nil, apperrors.ValidationField("schedule", cronspec.ErrNeverFires.Error())
			}
			nextRunAt = &next
		} else {
			park = true
		}
	}

	updated, err := s.schedules.Update(ctx, id, req, nextRunAt)
	if err != nil {
		return nil, err
	}
	if park {
		if err := s.schedules.SetNextRun(ctx, id, nil); err != nil {
			s.logger.WarnContext(ctx, "park disabled schedule failed", "schedule_id", id, "error", err)
		} else {
			updated.NextRunAt = nil
		}
	}
	s.notifyReload(ctx)
	return updated, nil
}

// Delete removes a schedule. Recorded runs keep their snapshot of it.
func (s *ScheduleService) Delete(ctx context.Context, id int64) error {
	if err := s.schedules.Delete(ctx, id); err != nil {
		return err
	}
	s.notifyReload(ctx)
	return nil
}

// Reload asks running daemons to recompute schedule state immediately
// instead of waiting for the next poll.
func (s *ScheduleService) Reload(ctx context.Context) error {
	if s.control == nil {
		return apperrors.Validation("control bus is not configured")
	}
	return s.control.NotifyReload(ctx)
}

func (s *ScheduleService) location(ctx context.Context) *time.Location {
	if s.settings == nil {
		return time.UTC
	}
	return s.settings.Timezone(ctx)
}

// notifyReload is best effort: schedule writes must not fail because no
// daemon is listening.
func (s *ScheduleService) notifyReload(ctx context.Context) {
	if s.control == nil {
		return
	}
	if err := s.control.NotifyReload(ctx); err != nil {
		s.logger.WarnContext(ctx, "notify reload failed", "error", err)
	}
}
