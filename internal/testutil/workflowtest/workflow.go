// Package workflowtest provides end-to-end testing utilities for the armada
// execution pipeline: real repositories against a test database, the executor
// and scheduler driven by a scripted dispatch runner, and the notifier
// delivering through its real webhook adapter to a capturing HTTP server.
package workflowtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/hullcrest/armada/internal/data"
	"github.com/hullcrest/armada/internal/dispatch"
	"github.com/hullcrest/armada/internal/domain/model"
	"github.com/hullcrest/armada/internal/notify"
	"github.com/hullcrest/armada/internal/service"
	"github.com/hullcrest/armada/internal/testutil"
)

// ScriptedRunner is a dispatch.Runner whose responses are programmed by the
// test. Every spec the executor hands it is recorded for later inspection.
type ScriptedRunner struct {
	mu      sync.Mutex
	specs   []dispatch.Spec
	respond func(dispatch.Spec) (dispatch.Result, error)
}

// NewScriptedRunner creates a runner that reports a clean zero exit with
// "ok\n" on stdout until Respond installs a different script.
func NewScriptedRunner() *ScriptedRunner {
	return &ScriptedRunner{}
}

// Respond installs the response script for subsequent Run calls.
func (r *ScriptedRunner) Respond(fn func(dispatch.Spec) (dispatch.Result, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.respond = fn
}

// RespondExit is shorthand for a fixed exit code and stderr on every run.
func (r *ScriptedRunner) RespondExit(code int, stderr string) {
	r.Respond(func(dispatch.Spec) (dispatch.Result, error) {
		return dispatch.Result{
			ExitCode: code,
			Stderr:   stderr,
			Duration: 5 * time.Millisecond,
			Status:   dispatch.StatusCompleted,
		}, nil
	})
}

// Run implements dispatch.Runner.
func (r *ScriptedRunner) Run(_ context.Context, spec dispatch.Spec) (dispatch.Result, error) {
	r.mu.Lock()
	r.specs = append(r.specs, spec)
	fn := r.respond
	r.mu.Unlock()

	if fn != nil {
		return fn(spec)
	}
	return dispatch.Result{
		ExitCode: 0,
		Stdout:   "ok\n",
		Duration: 5 * time.Millisecond,
		Status:   dispatch.StatusCompleted,
	}, nil
}

// Specs returns a copy of every spec the executor dispatched so far.
func (r *ScriptedRunner) Specs() []dispatch.Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dispatch.Spec, len(r.specs))
	copy(out, r.specs)
	return out
}

// WebhookDelivery is one request the capture server received from the
// notifier's webhook adapter.
type WebhookDelivery struct {
	Method string
	Path   string
	Header http.Header
	Body   map[string]any
}

// WorkflowTestHarness wires real repositories and services against a test
// database for end-to-end pipeline tests.
//
//nolint:revive // WorkflowTestHarness is intentionally verbose for clarity in test code.
type WorkflowTestHarness struct {
	t  testutil.TestingTB
	db *sql.DB
	ts *httptest.Server

	// Repositories
	Runs         *data.RunRepo
	Steps        *data.StepResultRepo
	Schedules    *data.ScheduleRepo
	Templates    *data.JobTemplateRepo
	Commands     *data.CommandTemplateRepo
	JobTypes     *data.JobTypeRepo
	Servers      *data.ServerRepo
	Capabilities *data.CapabilityRepo
	Credentials  *data.CredentialRepo
	Channels     *data.NotificationChannelRepo
	Policies     *data.NotificationPolicyRepo
	DeliveryLog  *data.NotificationLogRepo
	SettingsRepo *data.SettingsRepo

	// Services
	Settings  *service.SettingsService
	Executor  *service.ExecutorService
	Scheduler *service.SchedulerService
	Notifier  *service.NotifierService

	// Runner receives every dispatch the executor makes.
	Runner *ScriptedRunner

	mu         sync.Mutex
	deliveries []WebhookDelivery
	webhookRC  int
}

// WorkflowTestOptions configures the workflow test harness.
//
//nolint:revive // WorkflowTestOptions is intentionally verbose for clarity in test code.
type WorkflowTestOptions struct {
	// WebhookStatus is the HTTP status the capture server answers deliveries
	// with; defaults to 200.
	WebhookStatus int
	// BaseURL is handed to the notifier for run_url rendering.
	BaseURL string
	// SettingOverrides are applied to the seeded settings rows before any
	// service reads them, keyed by setting key.
	SettingOverrides map[string]string
	// SchedulerBatch overrides the scheduler's due-query batch size.
	SchedulerBatch int
}

// DefaultWorkflowOptions returns default options for workflow testing.
func DefaultWorkflowOptions() WorkflowTestOptions {
	return WorkflowTestOptions{
		WebhookStatus: http.StatusOK,
	}
}

// NewWorkflowTestHarness creates a workflow test harness with all components
// wired up against the given database.
func NewWorkflowTestHarness(t testutil.TestingTB, db *sql.DB, opts WorkflowTestOptions) *WorkflowTestHarness {
	t.Helper()

	if opts.WebhookStatus == 0 {
		opts.WebhookStatus = http.StatusOK
	}

	h := &WorkflowTestHarness{
		t:         t,
		db:        db,
		Runner:    NewScriptedRunner(),
		webhookRC: opts.WebhookStatus,
	}

	// Wire repositories
	h.Runs = data.NewRunRepo(db)
	h.Steps = data.NewStepResultRepo(db)
	h.Schedules = data.NewScheduleRepo(db)
	h.Templates = data.NewJobTemplateRepo(db)
	h.Commands = data.NewCommandTemplateRepo(db)
	h.JobTypes = data.NewJobTypeRepo(db)
	h.Servers = data.NewServerRepo(db)
	h.Capabilities = data.NewCapabilityRepo(db)
	h.Credentials = data.NewCredentialRepo(db)
	h.Channels = data.NewNotificationChannelRepo(db)
	h.Policies = data.NewNotificationPolicyRepo(db)
	h.DeliveryLog = data.NewNotificationLogRepo(db)
	h.SettingsRepo = data.NewSettingsRepo(db)

	h.applySettingOverrides(opts.SettingOverrides)
	h.setupWebhookServer()

	// Wire services
	settings, err := service.NewSettingsService(service.SettingsServiceOptions{
		Repo: h.SettingsRepo,
	})
	if err != nil {
		t.Fatalf("create settings service: %v", err)
	}
	h.Settings = settings

	h.Notifier = service.NewNotifierService(service.NotifierServiceOptions{
		Policies:  h.Policies,
		Channels:  h.Channels,
		Log:       h.DeliveryLog,
		Runs:      h.Runs,
		Templates: h.Templates,
		JobTypes:  h.JobTypes,
		Servers:   h.Servers,
		Settings:  h.Settings,
		Notify:    notify.Options{Timeout: 5 * time.Second},
		BaseURL:   opts.BaseURL,
	})

	h.Executor = service.NewExecutorService(service.ExecutorServiceOptions{
		Runs:         h.Runs,
		Steps:        h.Steps,
		Templates:    h.Templates,
		Commands:     h.Commands,
		JobTypes:     h.JobTypes,
		Servers:      h.Servers,
		Capabilities: h.Capabilities,
		Credentials:  h.Credentials,
		Schedules:    h.Schedules,
		Runner:       h.Runner,
		Settings:     h.Settings,
		Notifier:     h.Notifier,
	})

	h.Scheduler = service.NewSchedulerService(service.SchedulerServiceOptions{
		Schedules: h.Schedules,
		Runs:      h.Runs,
		Executor:  h.Executor,
		Settings:  h.Settings,
		BatchSize: opts.SchedulerBatch,
	})

	return h
}

// applySettingOverrides rewrites seeded settings rows before services read them.
func (h *WorkflowTestHarness) applySettingOverrides(overrides map[string]string) {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for key, value := range overrides {
		if _, err := h.SettingsRepo.Update(ctx, key, model.UpdateSettingRequest{Value: value}); err != nil {
			h.t.Fatalf("override setting %s: %v", key, err)
		}
	}
}

// setupWebhookServer starts the HTTP server that captures webhook deliveries.
func (h *WorkflowTestHarness) setupWebhookServer() {
	h.t.Helper()

	h.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		h.mu.Lock()
		h.deliveries = append(h.deliveries, WebhookDelivery{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Body:   body,
		})
		status := h.webhookRC
		h.mu.Unlock()
		w.WriteHeader(status)
	}))
}

// Close shuts down the executor and the capture server.
func (h *WorkflowTestHarness) Close() {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Executor.Shutdown(ctx); err != nil {
		h.t.Logf("warning: executor shutdown: %v", err)
	}
	if h.ts != nil {
		h.ts.Close()
	}
}

// WebhookURL returns the capture server's base URL.
func (h *WorkflowTestHarness) WebhookURL() string {
	return h.ts.URL
}

// WebhookDeliveries returns a copy of every delivery the capture server
// received so far.
func (h *WorkflowTestHarness) WebhookDeliveries() []WebhookDelivery {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]WebhookDelivery, len(h.deliveries))
	copy(out, h.deliveries)
	return out
}

// SetWebhookStatus changes the status code the capture server answers with.
func (h *WorkflowTestHarness) SetWebhookStatus(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.webhookRC = code
}

// Fleet identifies the rows SeedFleet creates: one enabled job type, a
// command template under it, a simple job template, and a local server.
type Fleet struct {
	JobType  *model.JobType
	Command  *model.CommandTemplate
	Template *model.JobTemplate
	Server   *model.Server
}

// SeedFleet creates the minimal fleet a run needs. Names carry a nanosecond
// suffix so repeated harnesses in one schema never collide.
func (h *WorkflowTestHarness) SeedFleet(ctx context.Context) *Fleet {
	h.t.Helper()

	suffix := time.Now().UnixNano()

	jt, err := h.JobTypes.Create(ctx, &model.CreateJobTypeRequest{
		Name:        fmt.Sprintf("maintenance-%d", suffix),
		DisplayName: "Maintenance",
	})
	if err != nil {
		h.t.Fatalf("create job type: %v", err)
	}

	cmd, err := h.Commands.Create(ctx, testutil.NewCommandTemplateRequest(jt.ID).
		WithName(fmt.Sprintf("disk-usage-%d", suffix)).
		Build())
	if err != nil {
		h.t.Fatalf("create command template: %v", err)
	}

	tpl, err := h.Templates.Create(ctx, testutil.NewJobTemplateRequest(jt.ID, cmd.ID).
		WithName(fmt.Sprintf("disk-check-%d", suffix)).
		Build())
	if err != nil {
		h.t.Fatalf("create job template: %v", err)
	}

	srv, err := h.Servers.Create(ctx, testutil.LocalServerRequest(fmt.Sprintf("local-%d", suffix)))
	if err != nil {
		h.t.Fatalf("create server: %v", err)
	}

	return &Fleet{JobType: jt, Command: cmd, Template: tpl, Server: srv}
}

// CreateWebhookChannel creates an enabled webhook channel pointed at the
// capture server.
func (h *WorkflowTestHarness) CreateWebhookChannel(ctx context.Context, name string) *model.NotificationChannel {
	h.t.Helper()

	ch, err := h.Channels.Create(ctx, testutil.NewChannelRequest().
		WithName(name).
		WithKind(model.ChannelKindWebhook, map[string]any{"url": h.WebhookURL()}).
		Build())
	if err != nil {
		h.t.Fatalf("create webhook channel: %v", err)
	}
	return ch
}

// CreatePolicy creates a notification policy from the given request.
func (h *WorkflowTestHarness) CreatePolicy(ctx context.Context, req *model.CreateNotificationPolicyRequest) *model.NotificationPolicy {
	h.t.Helper()

	p, err := h.Policies.Create(ctx, req)
	if err != nil {
		h.t.Fatalf("create policy: %v", err)
	}
	return p
}

// CreateDueSchedule creates an enabled schedule whose next fire is already in
// the past, so the next scheduler tick picks it up.
func (h *WorkflowTestHarness) CreateDueSchedule(ctx context.Context, name string, templateID, serverID int64) *model.JobSchedule {
	h.t.Helper()

	due := time.Now().Add(-time.Minute)
	sched, err := h.Schedules.Create(ctx, testutil.NewScheduleRequest(templateID, serverID).
		WithName(name).
		WithCron("0 */5 * * * *").
		Build(), &due)
	if err != nil {
		h.t.Fatalf("create schedule: %v", err)
	}
	return sched
}

// ExecuteManual submits a manual run for the template on the server and
// returns the run ID.
func (h *WorkflowTestHarness) ExecuteManual(ctx context.Context, templateID, serverID int64) int64 {
	h.t.Helper()

	runID, err := h.Executor.Execute(ctx, service.ExecuteRequest{
		JobTemplateID: templateID,
		ServerID:      serverID,
		TriggeredBy:   model.RunTriggerManual,
	})
	if err != nil {
		h.t.Fatalf("execute run: %v", err)
	}
	return runID
}

// AwaitTerminal polls the run row until its status is terminal.
func (h *WorkflowTestHarness) AwaitTerminal(runID int64, timeout time.Duration) *model.JobRun {
	h.t.Helper()

	run := h.awaitRun(runID, timeout, func(r *model.JobRun) bool {
		return r.Status.Terminal()
	})
	if run == nil {
		h.t.Fatalf("run %d did not reach a terminal status within %s", runID, timeout)
	}
	return run
}

// AwaitNotification polls the run row until the notifier has recorded an
// outcome: either a successful fan-out or a delivery error.
func (h *WorkflowTestHarness) AwaitNotification(runID int64, timeout time.Duration) *model.JobRun {
	h.t.Helper()

	run := h.awaitRun(runID, timeout, func(r *model.JobRun) bool {
		return r.NotificationSent || r.NotificationError != nil
	})
	if run == nil {
		h.t.Fatalf("run %d has no notification outcome after %s", runID, timeout)
	}
	return run
}

// awaitRun polls the run until done reports true or the timeout expires,
// returning nil on timeout.
func (h *WorkflowTestHarness) awaitRun(runID int64, timeout time.Duration, done func(*model.JobRun) bool) *model.JobRun {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		run, err := h.Runs.GetByID(ctx, runID)
		cancel()
		if err != nil {
			h.t.Fatalf("poll run %d: %v", runID, err)
		}
		if done(run) {
			return run
		}
		if time.Now().After(deadline) {
			return nil
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// WithWorkflowHarness sets up and tears down a workflow test harness around fn.
func WithWorkflowHarness(t testutil.TestingTB, opts WorkflowTestOptions, fn func(*WorkflowTestHarness)) {
	t.Helper()

	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		harness := NewWorkflowTestHarness(t, db, opts)
		defer harness.Close()
		fn(harness)
	})
}
