package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/dispatch"
	"github.com/hullcrest/armada/internal/domain/capability"
	"github.com/hullcrest/armada/internal/domain/model"
	"github.com/hullcrest/armada/internal/domain/render"
	apperrors "github.com/hullcrest/armada/internal/errors"
	"github.com/hullcrest/armada/internal/observability/metrics"
	"github.com/hullcrest/armada/internal/observability/statsd"
)

const (
	minRetryDelay      = time.Second
	shutdownDrainGrace = 10 * time.Second
)

// RunNotifier receives completed runs for notification fan-out. The executor
// calls it only for runs whose template or schedule opted into the outcome.
type RunNotifier interface {
	NotifyRun(ctx context.Context, run *model.JobRun, steps []*model.StepExecutionResult)
}

// ExecuteRequest carries one run request into the executor.
type ExecuteRequest struct {
	JobTemplateID int64
	ServerID      int64
	TriggeredBy   model.RunTrigger
	// JobScheduleID links the run to its schedule. Scheduled fires claim the
	// schedule atomically, writing ScheduleNextRunAt as the new next_run_at;
	// nil parks the schedule (the expression never fires again).
	JobScheduleID     *int64
	ScheduleNextRunAt *time.Time
	VariableOverrides map[string]any
	// TimeoutOverride and RetryOverride are schedule-level overrides, seconds
	// and attempt count respectively.
	TimeoutOverride *int
	RetryOverride   *int
	RetryAttempt    int
	IsRetry         bool
}

// ExecutorServiceOptions groups dependencies for ExecutorService.
type ExecutorServiceOptions struct {
	Runs         core.RunRepository
	Steps        core.StepResultRepository
	Templates    core.JobTemplateRepository
	Commands     core.CommandTemplateRepository
	JobTypes     core.JobTypeRepository
	Servers      core.ServerRepository
	Capabilities core.CapabilityRepository
	Credentials  core.CredentialRepository
	Schedules    core.ScheduleRepository
	Runner       dispatch.Runner
	Settings     *SettingsService
	Notifier     RunNotifier // optional
	Metrics      statsd.Sink // optional
	Logger       *slog.Logger
}

// ExecutorService admits, runs, and finishes job runs. Admission is gated by
// a semaphore sized from jobs.max_concurrent; execution happens on a
// goroutine per run while Execute returns the run id immediately.
type ExecutorService struct {
	runs         core.RunRepository
	steps        core.StepResultRepository
	templates    core.JobTemplateRepository
	commands     core.CommandTemplateRepository
	jobTypes     core.JobTypeRepository
	servers      core.ServerRepository
	capabilities core.CapabilityRepository
	credentials  core.CredentialRepository
	schedules    core.ScheduleRepository
	runner       dispatch.Runner
	settings     *SettingsService
	notifier     RunNotifier
	metrics      statsd.Sink
	logger       *slog.Logger

	mu      sync.Mutex
	sem     *semaphore.Weighted
	semSize int64
	cancels map[int64]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewExecutorService constructs a new ExecutorService.
func NewExecutorService(opts ExecutorServiceOptions) *ExecutorService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutorService{
		runs:         opts.Runs,
		steps:        opts.Steps,
		templates:    opts.Templates,
		commands:     opts.Commands,
		jobTypes:     opts.JobTypes,
		servers:      opts.Servers,
		capabilities: opts.Capabilities,
		credentials:  opts.Credentials,
		schedules:    opts.Schedules,
		runner:       opts.Runner,
		settings:     opts.Settings,
		notifier:     opts.Notifier,
		metrics:      opts.Metrics,
		logger:       logger.With("component", "executor"),
	}
}

// Execute admits one run and returns its id while a goroutine completes the
// work. Errors before the run row exists (unknown template or server,
// disabled target, saturation, storage) propagate to the caller; everything
// after lands on the row itself.
func (s *ExecutorService) Execute(ctx context.Context, req ExecuteRequest) (int64, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, apperrors.Canceled("executor is shutting down")
	}

	sem := s.semaphoreFor(ctx)
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, s.settings.SubmitTimeout(ctx))
	err := sem.Acquire(acquireCtx, 1)
	cancelAcquire()
	if err != nil {
		if ctx.Err() != nil {
			return 0, apperrors.Canceled("job submission cancelled")
		}
		return 0, apperrors.Overloaded(
			fmt.Sprintf("executor at capacity (%d concurrent runs)", s.semSnapshot()))
	}
	release := func() { sem.Release(1) }

	plan, err := s.prepare(ctx, req)
	if err != nil {
		release()
		return 0, err
	}

	createReq := &model.CreateJobRunRequest{
		JobScheduleID:   req.JobScheduleID,
		JobTemplateID:   req.JobTemplateID,
		ServerID:        req.ServerID,
		TriggeredBy:     req.TriggeredBy,
		RenderedCommand: plan.rendered,
		RetryAttempt:    req.RetryAttempt,
		IsRetry:         req.IsRetry,
	}
	var run *model.JobRun
	if req.TriggeredBy == model.RunTriggerScheduled && req.JobScheduleID != nil {
		run, err = s.runs.CreateScheduled(ctx, createReq, req.ScheduleNextRunAt)
	} else {
		run, err = s.runs.Create(ctx, createReq)
	}
	if err != nil {
		release()
		return 0, err
	}

	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	s.track(run.ID, cancelRun)
	s.wg.Add(1)
	go s.runJob(runCtx, run, plan, req, release)

	s.logger.InfoContext(ctx, "run admitted",
		"run_id", run.ID, "job_template_id", req.JobTemplateID,
		"server_id", req.ServerID, "trigger", req.TriggeredBy,
		"retry_attempt", req.RetryAttempt)
	return run.ID, nil
}

// Cancel signals the in-flight run to stop. Reports whether this process was
// executing it; terminal or foreign runs return false.
func (s *ExecutorService) Cancel(runID int64) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[runID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveRuns reports how many runs this process is currently executing.
func (s *ExecutorService) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancels)
}

// Shutdown stops admitting runs and waits for in-flight ones. When ctx
// expires first, remaining runs are cancelled and given a short drain window;
// rows still running after that are recovered as stale on the next boot.
func (s *ExecutorService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	s.cancelAll()
	select {
	case <-done:
	case <-time.After(shutdownDrainGrace):
		s.logger.Warn("shutdown drain grace expired with runs still in flight")
	}
	return ctx.Err()
}

// runPlan is everything resolved before the run row exists. prepErr carries a
// domain failure (missing variable, capability mismatch) that must be
// recorded on the run instead of propagating.
type runPlan struct {
	template  *model.JobTemplate
	jobType   *model.JobType
	server    *model.Server
	caps      []model.ServerCapability
	target    dispatch.Target
	overrides map[string]any

	// simple path
	command  *model.CommandTemplate
	rendered string
	spec     dispatch.Spec

	// composite path
	steps      []plannedStep
	runTimeout time.Duration

	prepErr error
}

type plannedStep struct {
	step    *model.JobTemplateStep
	command *model.CommandTemplate
}

func (s *ExecutorService) prepare(ctx context.Context, req ExecuteRequest) (*runPlan, error) {
	if !req.TriggeredBy.Valid() {
		return nil, apperrors.Validation("triggered_by must be one of: scheduled, manual, retry")
	}

	tmpl, err := s.templates.GetByID(ctx, req.JobTemplateID)
	if err != nil {
		return nil, err
	}
	jobType, err := s.jobTypes.GetByID(ctx, tmpl.JobTypeID)
	if err != nil {
		return nil, err
	}
	if !jobType.Enabled {
		return nil, apperrors.Validationf("job type %q is disabled", jobType.Name)
	}
	server, err := s.servers.GetByID(ctx, req.ServerID)
	if err != nil {
		return nil, err
	}
	if !server.Enabled {
		return nil, apperrors.Validationf("server %q is disabled", server.Name)
	}
	target, err := resolveTarget(ctx, s.credentials, server)
	if err != nil {
		return nil, err
	}
	capRows, err := s.capabilities.ListByServer(ctx, server.ID)
	if err != nil {
		return nil, err
	}
	caps := make([]model.ServerCapability, 0, len(capRows))
	for _, c := range capRows {
		caps = append(caps, *c)
	}

	plan := &runPlan{
		template:  tmpl,
		jobType:   jobType,
		server:    server,
		caps:      caps,
		target:    target,
		overrides: req.VariableOverrides,
	}

	if tmpl.IsComposite {
		return s.prepareComposite(ctx, plan, req)
	}
	return s.prepareSimple(ctx, plan, req)
}

func (s *ExecutorService) prepareSimple(ctx context.Context, plan *runPlan, req ExecuteRequest) (*runPlan, error) {
	tmpl := plan.template
	if tmpl.CommandTemplateID == nil {
		return nil, apperrors.Validationf("job template %q has no command template", tmpl.Name)
	}
	cmd, err := s.commands.GetByID(ctx, *tmpl.CommandTemplateID)
	if err != nil {
		return nil, err
	}
	plan.command = cmd

	vars := render.Merge(render.MergeEnv(cmd.Environment), tmpl.Variables, plan.overrides)
	resolved, err := render.ResolveParams(cmd.Parameters, vars)
	if err != nil {
		plan.prepErr = err
		return plan, nil
	}
	rendered, err := render.RenderString(cmd.CommandString, resolved)
	if err != nil {
		plan.prepErr = err
		return plan, nil
	}
	plan.rendered = rendered

	if err := capability.Check(plan.server, plan.caps, plan.jobType, cmd); err != nil {
		plan.prepErr = err
		return plan, nil
	}

	timeoutSecs := cmd.TimeoutSeconds
	if tmpl.TimeoutSeconds != nil {
		timeoutSecs = *tmpl.TimeoutSeconds
	}
	if req.TimeoutOverride != nil {
		timeoutSecs = *req.TimeoutOverride
	}
	timeout := time.Duration(timeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = s.settings.DefaultTimeout(ctx)
	}

	plan.spec = dispatch.Spec{
		Command: rendered,
		Env:     cmd.Environment,
		Timeout: timeout,
		Target:  plan.target,
	}
	if cmd.WorkingDirectory != nil {
		plan.spec.WorkingDir = *cmd.WorkingDirectory
	}
	return plan, nil
}

func (s *ExecutorService) prepareComposite(ctx context.Context, plan *runPlan, req ExecuteRequest) (*runPlan, error) {
	tmpl := plan.template
	steps, err := s.templates.ListSteps(ctx, tmpl.ID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, apperrors.Validationf("composite job template %q has no steps", tmpl.Name)
	}
	plan.steps = make([]plannedStep, 0, len(steps))
	for _, step := range steps {
		cmd, err := s.commands.GetByID(ctx, step.CommandTemplateID)
		if err != nil {
			return nil, err
		}
		plan.steps = append(plan.steps, plannedStep{step: step, command: cmd})
	}

	timeoutSecs := 0
	if tmpl.TimeoutSeconds != nil {
		timeoutSecs = *tmpl.TimeoutSeconds
	}
	if req.TimeoutOverride != nil {
		timeoutSecs = *req.TimeoutOverride
	}
	if timeoutSecs > 0 {
		plan.runTimeout = time.Duration(timeoutSecs) * time.Second
	}
	return plan, nil
}

// runJob owns one admitted run from dispatch to terminal state. It must
// finish the row on every path, including panics; the permit and registry
// entry are released in the same breath.
func (s *ExecutorService) runJob(ctx context.Context, run *model.JobRun, plan *runPlan, req ExecuteRequest, release func()) {
	defer s.wg.Done()

	var (
		finished    *model.JobRun
		stepResults []*model.StepExecutionResult
	)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("run panicked", "run_id", run.ID, "panic", r)
			finished = s.finishRun(ctx, run.ID, model.FinishJobRunRequest{
				Status: model.RunStatusFailure,
				Error:  fmt.Sprintf("internal error: %v", r),
			})
		}
		s.untrack(run.ID)
		release()
		if finished != nil {
			s.afterRun(finished, stepResults, plan, req)
		}
	}()

	if plan.prepErr != nil {
		finished = s.finishRun(ctx, run.ID, model.FinishJobRunRequest{
			Status: model.RunStatusFailure,
			Error:  plan.prepErr.Error(),
		})
		return
	}

	if plan.template.IsComposite {
		finished, stepResults = s.runComposite(ctx, run, plan)
	} else {
		finished = s.runSimple(ctx, run, plan)
	}
}

func (s *ExecutorService) runSimple(ctx context.Context, run *model.JobRun, plan *runPlan) *model.JobRun {
	res, err := s.runner.Run(ctx, plan.spec)
	status, exitCode, errText := runOutcome(res, err)
	return s.finishRun(ctx, run.ID, model.FinishJobRunRequest{
		Status:   status,
		ExitCode: exitCode,
		Output:   res.Stdout,
		Error:    errText,
	})
}

func (s *ExecutorService) runComposite(ctx context.Context, run *model.JobRun, plan *runPlan) (*model.JobRun, []*model.StepExecutionResult) {
	runCtx := ctx
	if plan.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, plan.runTimeout)
		defer cancel()
	}

	var (
		results      []*model.StepExecutionResult
		output       strings.Builder
		failures     []string
		anySuccess   bool
		stoppedEarly bool
		runStatus    = model.RunStatusSuccess
	)
	for _, ps := range plan.steps {
		if err := runCtx.Err(); err != nil {
			// The whole-run clamp or a cancel fired between steps.
			if ctx.Err() == nil {
				runStatus = model.RunStatusTimeout
				failures = append(failures, fmt.Sprintf("run timeout after %s", plan.runTimeout))
			} else {
				runStatus = model.RunStatusCancelled
			}
			stoppedEarly = true
			break
		}

		outcome := s.runStep(runCtx, run, plan, ps)
		if outcome.row != nil {
			results = append(results, outcome.row)
		}
		fmt.Fprintf(&output, "\n--- step %d: %s ---\n", ps.step.StepOrder, ps.step.Name)
		output.WriteString(outcome.output)

		switch outcome.status {
		case model.RunStatusSuccess:
			anySuccess = true
			continue
		case model.RunStatusCancelled:
			// A step killed by the whole-run clamp is a timeout, not an
			// operator cancel.
			if runCtx.Err() != nil && ctx.Err() == nil {
				runStatus = model.RunStatusTimeout
				failures = append(failures, fmt.Sprintf("run timeout after %s", plan.runTimeout))
			} else {
				runStatus = model.RunStatusCancelled
			}
			stoppedEarly = true
		default:
			failures = append(failures,
				fmt.Sprintf("step %d (%s): %s", ps.step.StepOrder, ps.step.Name, firstLine(outcome.errText)))
			if !ps.step.ContinueOnFailure {
				runStatus = model.RunStatusFailure
				stoppedEarly = true
			}
		}
		if stoppedEarly {
			break
		}
	}

	var metadata map[string]any
	if runStatus == model.RunStatusSuccess && len(failures) > 0 {
		// Every failing step was continue_on_failure and the run completed.
		runStatus = model.RunStatusFailure
		if anySuccess {
			metadata = map[string]any{model.MetadataKeyPartialSuccess: true}
		}
	}

	finished := s.finishRun(ctx, run.ID, model.FinishJobRunRequest{
		Status:   runStatus,
		Output:   strings.TrimPrefix(output.String(), "\n"),
		Error:    strings.Join(failures, "; "),
		Metadata: metadata,
	})
	return finished, results
}

type stepOutcome struct {
	row     *model.StepExecutionResult
	status  model.RunStatus
	output  string
	errText string
}

// runStep renders, gates, and dispatches one composite step. Step rows are
// written with a detached context so a cancel mid-step still records truth.
func (s *ExecutorService) runStep(ctx context.Context, run *model.JobRun, plan *runPlan, ps plannedStep) stepOutcome {
	dbCtx := context.WithoutCancel(ctx)
	row, err := s.steps.StartStep(dbCtx, run.ID, ps.step.StepOrder, ps.step.Name, ps.command.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "start step failed",
			"run_id", run.ID, "step_order", ps.step.StepOrder, "error", err)
		return stepOutcome{status: model.RunStatusFailure, errText: err.Error()}
	}

	finish := func(status model.RunStatus, exitCode *int, output, errText string) stepOutcome {
		finished, ferr := s.steps.FinishStep(dbCtx, row.ID, status, exitCode, output, errText)
		if ferr != nil {
			s.logger.ErrorContext(ctx, "finish step failed",
				"run_id", run.ID, "step_order", ps.step.StepOrder, "error", ferr)
			finished = row
		}
		return stepOutcome{row: finished, status: status, output: output, errText: errText}
	}

	vars := render.Merge(
		render.MergeEnv(ps.command.Environment),
		plan.template.Variables,
		ps.step.Variables,
		plan.overrides,
	)
	resolved, err := render.ResolveParams(ps.command.Parameters, vars)
	if err != nil {
		return finish(model.RunStatusFailure, nil, "", err.Error())
	}
	rendered, err := render.RenderString(ps.command.CommandString, resolved)
	if err != nil {
		return finish(model.RunStatusFailure, nil, "", err.Error())
	}
	if err := capability.Check(plan.server, plan.caps, plan.jobType, ps.command); err != nil {
		return finish(model.RunStatusFailure, nil, "", err.Error())
	}

	spec := dispatch.Spec{
		Command: rendered,
		Env:     ps.command.Environment,
		Timeout: stepTimeout(ps),
		Target:  plan.target,
	}
	if ps.command.WorkingDirectory != nil {
		spec.WorkingDir = *ps.command.WorkingDirectory
	}

	res, runErr := s.runner.Run(ctx, spec)
	status, exitCode, errText := runOutcome(res, runErr)
	return finish(status, exitCode, res.Stdout, errText)
}

// stepTimeout resolves the wall-clock cap for one step: the step override
// when set, otherwise its command template's timeout.
func stepTimeout(ps plannedStep) time.Duration {
	secs := ps.command.TimeoutSeconds
	if ps.step.TimeoutSeconds != nil {
		secs = *ps.step.TimeoutSeconds
	}
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// runOutcome maps a dispatch result onto the run status taxonomy. Exit codes
// are recorded only when the process actually reported one.
func runOutcome(res dispatch.Result, err error) (model.RunStatus, *int, string) {
	if err != nil {
		msg := err.Error()
		if res.Stderr != "" {
			msg += "\n" + res.Stderr
		}
		return model.RunStatusFailure, nil, msg
	}
	switch res.Status {
	case dispatch.StatusTimedOut:
		return model.RunStatusTimeout, nil, res.Stderr
	case dispatch.StatusCancelled:
		return model.RunStatusCancelled, nil, res.Stderr
	case dispatch.StatusConnectFailed:
		return model.RunStatusFailure, nil, res.Stderr
	}
	exit := res.ExitCode
	if exit == 0 {
		return model.RunStatusSuccess, &exit, res.Stderr
	}
	return model.RunStatusFailure, &exit, res.Stderr
}

// finishRun moves the run to a terminal state on a detached context, so
// cancellation cannot lose the outcome. When the row already left running
// (stale-run recovery raced us), the stored row wins.
func (s *ExecutorService) finishRun(ctx context.Context, id int64, req model.FinishJobRunRequest) *model.JobRun {
	dbCtx := context.WithoutCancel(ctx)
	finished, err := s.runs.Finish(dbCtx, id, req)
	if err == nil {
		return finished
	}
	if apperrors.IsNotFound(err) {
		if current, gerr := s.runs.GetByID(dbCtx, id); gerr == nil {
			return current
		}
	}
	s.logger.Error("finish run failed", "run_id", id, "status", req.Status, "error", err)
	return nil
}

// afterRun handles everything downstream of a terminal run: schedule
// bookkeeping, retry scheduling, metrics, and the notifier handoff.
func (s *ExecutorService) afterRun(run *model.JobRun, stepResults []*model.StepExecutionResult, plan *runPlan, req ExecuteRequest) {
	ctx := context.Background()

	s.logger.Info("run finished",
		"run_id", run.ID, "status", run.Status, "duration_ms", run.DurationMS,
		"trigger", run.TriggeredBy, "job_template", plan.template.Name,
		"server", plan.server.Name)

	metrics.EmitRunFinished(s.metrics, metrics.RunMetric{
		JobType:  plan.jobType.Name,
		Trigger:  string(run.TriggeredBy),
		Status:   string(run.Status),
		Duration: run.Duration(),
		Err:      plan.prepErr,
	})

	var sched *model.JobSchedule
	if run.JobScheduleID != nil {
		var err error
		sched, err = s.schedules.GetByID(ctx, *run.JobScheduleID)
		if err != nil {
			s.logger.Warn("load schedule for bookkeeping failed",
				"run_id", run.ID, "schedule_id", *run.JobScheduleID, "error", err)
		} else if run.TriggeredBy != model.RunTriggerManual {
			var errMsg *string
			if run.Status != model.RunStatusSuccess && run.Error != "" {
				msg := firstLine(run.Error)
				errMsg = &msg
			}
			// nil next_run_at: the scheduler already claimed the next slot
			// when it fired, and a later tick may have advanced it again.
			if err := s.schedules.RecordRun(ctx, sched.ID, scheduleOutcome(run.Status), errMsg, nil); err != nil {
				s.logger.Warn("record schedule outcome failed",
					"run_id", run.ID, "schedule_id", sched.ID, "error", err)
			}
		}
	}

	s.maybeRetry(run, plan, req)

	if s.notifier != nil && wantNotify(run.Status, plan.template, sched) {
		s.notifier.NotifyRun(ctx, run, stepResults)
	}
}

// maybeRetry schedules a follow-up run when the outcome and retry budget call
// for one. Cancelled runs never retry.
func (s *ExecutorService) maybeRetry(run *model.JobRun, plan *runPlan, req ExecuteRequest) {
	if run.Status != model.RunStatusFailure && run.Status != model.RunStatusTimeout {
		return
	}
	retryCount := plan.template.RetryCount
	if req.RetryOverride != nil {
		retryCount = *req.RetryOverride
	}
	if req.RetryAttempt >= retryCount {
		return
	}

	delay := time.Duration(plan.template.RetryDelaySeconds) * time.Second
	if delay < minRetryDelay {
		delay = minRetryDelay
	}
	next := req
	next.TriggeredBy = model.RunTriggerRetry
	next.RetryAttempt = req.RetryAttempt + 1
	next.IsRetry = true
	next.ScheduleNextRunAt = nil

	s.logger.Info("retry scheduled",
		"run_id", run.ID, "attempt", next.RetryAttempt, "of", retryCount, "delay", delay)
	time.AfterFunc(delay, func() {
		if _, err := s.Execute(context.Background(), next); err != nil {
			s.logger.Error("retry submission failed",
				"job_template_id", next.JobTemplateID, "server_id", next.ServerID,
				"attempt", next.RetryAttempt, "error", err)
		}
	})
}

// wantNotify applies the template's outcome flags, with schedule overrides,
// to decide whether the notifier hears about this run at all. Policies do
// their own filtering afterwards.
func wantNotify(status model.RunStatus, tmpl *model.JobTemplate, sched *model.JobSchedule) bool {
	onSuccess := tmpl.NotifyOnSuccess
	onFailure := tmpl.NotifyOnFailure
	if sched != nil {
		if sched.NotifyOnSuccess != nil {
			onSuccess = *sched.NotifyOnSuccess
		}
		if sched.NotifyOnFailure != nil {
			onFailure = *sched.NotifyOnFailure
		}
	}
	switch status {
	case model.RunStatusSuccess:
		return onSuccess
	case model.RunStatusFailure, model.RunStatusTimeout:
		return onFailure
	default:
		return false
	}
}

// scheduleOutcome collapses a run status onto the schedule's coarser scale.
func scheduleOutcome(status model.RunStatus) model.ScheduleRunStatus {
	switch status {
	case model.RunStatusSuccess:
		return model.ScheduleRunSuccess
	case model.RunStatusTimeout:
		return model.ScheduleRunTimeout
	default:
		return model.ScheduleRunFailure
	}
}

// semaphoreFor returns the admission semaphore, swapping in a fresh one when
// jobs.max_concurrent changed. Runs admitted under the old size release to
// the semaphore they captured.
func (s *ExecutorService) semaphoreFor(ctx context.Context) *semaphore.Weighted {
	size := int64(s.settings.MaxConcurrent(ctx))
	if size < 1 {
		size = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sem == nil || s.semSize != size {
		s.sem = semaphore.NewWeighted(size)
		s.semSize = size
	}
	return s.sem
}

func (s *ExecutorService) semSnapshot() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.semSize
}

func (s *ExecutorService) track(runID int64, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancels == nil {
		s.cancels = make(map[int64]context.CancelFunc)
	}
	s.cancels[runID] = cancel
}

func (s *ExecutorService) untrack(runID int64) {
	s.mu.Lock()
	cancel, ok := s.cancels[runID]
	if ok {
		delete(s.cancels, runID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *ExecutorService) cancelAll() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for _, cancel := range s.cancels {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
