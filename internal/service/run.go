package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// TriggerManualRequest carries an operator-initiated run request.
type TriggerManualRequest struct {
	JobTemplateID     int64          `json:"job_template_id"`
	ServerID          int64          `json:"server_id"`
	VariableOverrides map[string]any `json:"variable_overrides,omitempty"`
}

// Validate validates TriggerManualRequest.
func (r *TriggerManualRequest) Validate() error {
	if r.JobTemplateID <= 0 {
		return apperrors.ValidationField("job_template_id", "job_template_id is required")
	}
	if r.ServerID <= 0 {
		return apperrors.ValidationField("server_id", "server_id is required")
	}
	return nil
}

// RunServiceOptions holds the dependencies for creating a RunService.
type RunServiceOptions struct {
	Runs      core.RunRepository
	Steps     core.StepResultRepository
	Schedules core.ScheduleRepository
	Executor  *ExecutorService
	// ControlBus reaches runs executing on another daemon; optional.
	ControlBus core.ControlBus
	Logger     *slog.Logger
}

// RunService exposes run history and the manual trigger and cancel paths.
// Execution itself belongs to the executor; this service owns the bookkeeping
// around operator-initiated actions.
type RunService struct {
	runs      core.RunRepository
	steps     core.StepResultRepository
	schedules core.ScheduleRepository
	executor  *ExecutorService
	control   core.ControlBus
	logger    *slog.Logger
}

// NewRunService creates a new RunService with the given dependencies.
func NewRunService(opts RunServiceOptions) *RunService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RunService{
		runs:      opts.Runs,
		steps:     opts.Steps,
		schedules: opts.Schedules,
		executor:  opts.Executor,
		control:   opts.ControlBus,
		logger:    logger.With("component", "run_service"),
	}
}

// List returns runs matching the given options.
func (s *RunService) List(ctx context.Context, opts model.RunsListOptions) ([]*model.JobRun, error) {
	return s.runs.List(ctx, opts)
}

// Count returns how many runs match the given options.
func (s *RunService) Count(ctx context.Context, opts model.RunsListOptions) (int64, error) {
	return s.runs.Count(ctx, opts)
}

// GetByID returns one run by id.
func (s *RunService) GetByID(ctx context.Context, id int64) (*model.JobRun, error) {
	return s.runs.GetByID(ctx, id)
}

// GetWithSteps returns a run together with its step results. Simple runs
// return an empty step list.
func (s *RunService) GetWithSteps(ctx context.Context, id int64) (*model.JobRun, []*model.StepExecutionResult, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	steps, err := s.steps.ListByRun(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return run, steps, nil
}

// Stats summarizes run counts per status, optionally bounded to runs started
// since the given time.
func (s *RunService) Stats(ctx context.Context, since *time.Time) (*model.RunStats, error) {
	return s.runs.Stats(ctx, since)
}

// TriggerManual submits an operator-initiated run, independent of any
// schedule. Returns the id of the created run.
func (s *RunService) TriggerManual(ctx context.Context, req TriggerManualRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	runID, err := s.executor.Execute(ctx, ExecuteRequest{
		JobTemplateID:     req.JobTemplateID,
		ServerID:          req.ServerID,
		TriggeredBy:       model.RunTriggerManual,
		VariableOverrides: req.VariableOverrides,
	})
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "manual run triggered",
		"run_id", runID, "job_template_id", req.JobTemplateID, "server_id", req.ServerID)
	return runID, nil
}

// TriggerSchedule fires a schedule now, outside its cron slots. The run links
// to the schedule but counts as a manual run: next_run_at and the scheduled
// outcome counters are untouched.
func (s *RunService) TriggerSchedule(ctx context.Context, scheduleID int64) (int64, error) {
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return 0, err
	}
	runID, err := s.executor.Execute(ctx, ExecuteRequest{
		JobTemplateID:   sched.JobTemplateID,
		ServerID:        sched.ServerID,
		TriggeredBy:     model.RunTriggerManual,
		JobScheduleID:   &sched.ID,
		TimeoutOverride: sched.TimeoutSeconds,
		RetryOverride:   sched.RetryCount,
	})
	if err != nil {
		return 0, err
	}
	if err := s.schedules.RecordManualRun(ctx, sched.ID); err != nil {
		s.logger.WarnContext(ctx, "record manual run failed",
			"schedule_id", sched.ID, "run_id", runID, "error", err)
	}
	s.logger.InfoContext(ctx, "schedule triggered manually",
		"schedule_id", sched.ID, "schedule_name", sched.Name, "run_id", runID)
	return runID, nil
}

// Cancel signals the run to stop. Terminal runs are a no-op, so repeated
// cancels are safe. Runs executing on another daemon are reached over the
// control bus.
func (s *RunService) Cancel(ctx context.Context, runID int64) error {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}
	if s.executor != nil && s.executor.Cancel(runID) {
		s.logger.InfoContext(ctx, "run cancel signalled", "run_id", runID)
		return nil
	}
	if s.control == nil {
		s.logger.WarnContext(ctx, "run not local and no control bus configured",
			"run_id", runID)
		return nil
	}
	if err := s.control.NotifyCancel(ctx, runID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "run cancel forwarded to owning daemon", "run_id", runID)
	return nil
}
