package service

// Shared in-memory fakes for the service tests. Each fake embeds its port so
// only the methods the services actually call need bodies; hitting an
// unimplemented method panics at the call site, which is the failure we want.

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/dispatch"
	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubClock pins Now for services that take a TimeProvider.
type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func intPtr(v int) *int { return &v }

func int64Ptr(v int64) *int64 { return &v }

func strPtr(v string) *string { return &v }

func boolPtr(v bool) *bool { return &v }

func timePtr(v time.Time) *time.Time { return &v }

// --- settings ---

// fakeSettingsRepo serves the seeded defaults plus any overrides. Types are
// inferred the same way the migration seeds them.
type fakeSettingsRepo struct {
	mu        sync.Mutex
	values    map[string]string
	getErr    error
	getCalls  int
	updateErr error
}

func settingDefaults() map[string]string {
	return map[string]string{
		model.SettingSchedulerCheckInterval: "30",
		model.SettingJobsDefaultTimeout:     "300",
		model.SettingJobsMaxConcurrent:      "5",
		model.SettingJobsSubmitTimeout:      "1",
		model.SettingJobsRetentionDays:      "90",
		model.SettingSSHConnectTimeout:      "10",
		model.SettingSSHCommandTimeout:      "300",
		model.SettingNotificationsEnabled:   "true",
		model.SettingNotificationsPriority:  "5",
		model.SettingTimezone:               "UTC",
	}
}

func newFakeSettingsRepo(overrides map[string]string) *fakeSettingsRepo {
	values := settingDefaults()
	for k, v := range overrides {
		values[k] = v
	}
	return &fakeSettingsRepo{values: values}
}

func settingTypeFor(key, value string) model.SettingType {
	if _, err := strconv.Atoi(value); err == nil {
		return model.SettingTypeInteger
	}
	if _, err := strconv.ParseBool(value); err == nil {
		return model.SettingTypeBoolean
	}
	_ = key
	return model.SettingTypeString
}

func (f *fakeSettingsRepo) Get(ctx context.Context, key string) (*model.Setting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.values[key]
	if !ok {
		return nil, apperrors.NotFoundf("setting %q not found", key)
	}
	return &model.Setting{Key: key, Value: v, ValueType: settingTypeFor(key, v)}, nil
}

func (f *fakeSettingsRepo) All(ctx context.Context) ([]*model.Setting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Setting, 0, len(f.values))
	for k, v := range f.values {
		out = append(out, &model.Setting{Key: k, Value: v, ValueType: settingTypeFor(k, v)})
	}
	return out, nil
}

func (f *fakeSettingsRepo) Update(ctx context.Context, key string, req model.UpdateSettingRequest) (*model.Setting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if _, ok := f.values[key]; !ok {
		return nil, apperrors.NotFoundf("setting %q not found", key)
	}
	f.values[key] = req.Value
	return &model.Setting{Key: key, Value: req.Value, ValueType: settingTypeFor(key, req.Value)}, nil
}

func (f *fakeSettingsRepo) set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
}

func newTestSettings(t *testing.T, overrides map[string]string) *SettingsService {
	t.Helper()
	svc, err := NewSettingsService(SettingsServiceOptions{
		Repo:   newFakeSettingsRepo(overrides),
		Logger: testLogger(),
	})
	require.NoError(t, err)
	return svc
}

// --- cache ---

type fakeCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	sets   int
	gets   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.data[key] = append([]byte(nil), value...)
	return nil
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, c.getErr
	}
	v, ok := c.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (c *fakeCache) Delete(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	delete(c.data, key)
	return ok, nil
}

func (c *fakeCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok, nil
}

func (c *fakeCache) SetTTL(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok, nil
}

func (c *fakeCache) SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[key]; ok {
		return false, nil
	}
	c.data[key] = append([]byte(nil), value...)
	return true, nil
}

func (c *fakeCache) Health(ctx context.Context) error { return nil }

// --- runs ---

type claimRecord struct {
	scheduleID int64
	nextRunAt  *time.Time
}

type notificationRecord struct {
	runID int64
	sent  bool
	err   *string
}

type fakeRunRepo struct {
	core.RunRepository

	mu   sync.Mutex
	seq  int64
	rows map[int64]*model.JobRun

	createErr error
	claimErr  error
	finishErr error
	activeErr error

	claims        []claimRecord
	finished      []int64
	notifications []notificationRecord

	failStaleErr   error
	failStaleCalls []time.Time
	pruneErr       error
	pruneCalls     []time.Time
	pruneCount     int64
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{rows: map[int64]*model.JobRun{}}
}

func (f *fakeRunRepo) insert(req *model.CreateJobRunRequest) *model.JobRun {
	f.seq++
	now := time.Now().UTC()
	run := &model.JobRun{
		ID:              f.seq,
		JobScheduleID:   req.JobScheduleID,
		JobTemplateID:   req.JobTemplateID,
		ServerID:        req.ServerID,
		Status:          model.RunStatusRunning,
		TriggeredBy:     req.TriggeredBy,
		StartedAt:       now,
		RenderedCommand: req.RenderedCommand,
		RetryAttempt:    req.RetryAttempt,
		IsRetry:         req.IsRetry,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	f.rows[run.ID] = run
	cp := *run
	return &cp
}

func (f *fakeRunRepo) Create(ctx context.Context, req *model.CreateJobRunRequest) (*model.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.insert(req), nil
}

func (f *fakeRunRepo) CreateScheduled(ctx context.Context, req *model.CreateJobRunRequest, nextRunAt *time.Time) (*model.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	var schedID int64
	if req.JobScheduleID != nil {
		schedID = *req.JobScheduleID
	}
	f.claims = append(f.claims, claimRecord{scheduleID: schedID, nextRunAt: nextRunAt})
	return f.insert(req), nil
}

func (f *fakeRunRepo) GetByID(ctx context.Context, id int64) (*model.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.rows[id]
	if !ok {
		return nil, apperrors.NotFoundf("job run %d not found", id)
	}
	cp := *run
	return &cp, nil
}

func (f *fakeRunRepo) Finish(ctx context.Context, id int64, req model.FinishJobRunRequest) (*model.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finishErr != nil {
		return nil, f.finishErr
	}
	run, ok := f.rows[id]
	if !ok || run.Status.Terminal() {
		return nil, apperrors.NotFoundf("job run %d not found or already finished", id)
	}
	now := time.Now().UTC()
	run.Status = req.Status
	run.ExitCode = req.ExitCode
	run.Output = req.Output
	run.Error = req.Error
	run.Metadata = req.Metadata
	run.FinishedAt = &now
	ms := now.Sub(run.StartedAt).Milliseconds()
	run.DurationMS = &ms
	run.UpdatedAt = now
	f.finished = append(f.finished, id)
	cp := *run
	return &cp, nil
}

func (f *fakeRunRepo) List(ctx context.Context, opts model.RunsListOptions) ([]*model.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.JobRun
	for _, run := range f.rows {
		if opts.Status != nil && run.Status != *opts.Status {
			continue
		}
		if opts.JobScheduleID != nil && (run.JobScheduleID == nil || *run.JobScheduleID != *opts.JobScheduleID) {
			continue
		}
		cp := *run
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeRunRepo) Count(ctx context.Context, opts model.RunsListOptions) (int64, error) {
	runs, err := f.List(ctx, opts)
	if err != nil {
		return 0, err
	}
	return int64(len(runs)), nil
}

func (f *fakeRunRepo) HasActiveRun(ctx context.Context, scheduleID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activeErr != nil {
		return false, f.activeErr
	}
	for _, run := range f.rows {
		if run.JobScheduleID != nil && *run.JobScheduleID == scheduleID && !run.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRunRepo) FindStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.JobRun
	for _, run := range f.rows {
		if run.Status == model.RunStatusRunning && run.StartedAt.Before(olderThan) {
			cp := *run
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRunRepo) FailStale(ctx context.Context, olderThan time.Time, errMsg string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failStaleCalls = append(f.failStaleCalls, olderThan)
	if f.failStaleErr != nil {
		return 0, f.failStaleErr
	}
	var n int64
	now := time.Now().UTC()
	for _, run := range f.rows {
		if run.Status == model.RunStatusRunning && run.StartedAt.Before(olderThan) {
			run.Status = model.RunStatusFailure
			run.Error = errMsg
			run.FinishedAt = &now
			n++
		}
	}
	return n, nil
}

func (f *fakeRunRepo) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneCalls = append(f.pruneCalls, olderThan)
	if f.pruneErr != nil {
		return 0, f.pruneErr
	}
	if f.pruneCount > 0 {
		return f.pruneCount, nil
	}
	var n int64
	for id, run := range f.rows {
		if run.Status.Terminal() && run.StartedAt.Before(olderThan) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeRunRepo) RecordNotification(ctx context.Context, id int64, sent bool, notifErr *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, notificationRecord{runID: id, sent: sent, err: notifErr})
	if run, ok := f.rows[id]; ok {
		run.NotificationSent = sent
		run.NotificationError = notifErr
	}
	return nil
}

func (f *fakeRunRepo) Stats(ctx context.Context, since *time.Time) (*model.RunStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &model.RunStats{}
	for _, run := range f.rows {
		if since != nil && run.StartedAt.Before(*since) {
			continue
		}
		switch run.Status {
		case model.RunStatusRunning:
			stats.Running++
		case model.RunStatusSuccess:
			stats.Success++
		case model.RunStatusFailure:
			stats.Failure++
		case model.RunStatusTimeout:
			stats.Timeout++
		case model.RunStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

func (f *fakeRunRepo) status(id int64) model.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.rows[id]
	if !ok {
		return ""
	}
	return run.Status
}

func (f *fakeRunRepo) snapshot(t *testing.T, id int64) *model.JobRun {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.rows[id]
	require.True(t, ok, "run %d not stored", id)
	cp := *run
	return &cp
}

// seedRunning inserts a running row directly, bypassing the executor.
func (f *fakeRunRepo) seedRunning(templateID, serverID int64, scheduleID *int64, startedAt time.Time) *model.JobRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	run := &model.JobRun{
		ID:            f.seq,
		JobScheduleID: scheduleID,
		JobTemplateID: templateID,
		ServerID:      serverID,
		Status:        model.RunStatusRunning,
		TriggeredBy:   model.RunTriggerManual,
		StartedAt:     startedAt,
		CreatedAt:     startedAt,
		UpdatedAt:     startedAt,
	}
	f.rows[run.ID] = run
	return run
}

// --- step results ---

type fakeStepRepo struct {
	core.StepResultRepository

	mu       sync.Mutex
	seq      int64
	rows     map[int64]*model.StepExecutionResult
	startErr error
}

func newFakeStepRepo() *fakeStepRepo {
	return &fakeStepRepo{rows: map[int64]*model.StepExecutionResult{}}
}

func (f *fakeStepRepo) StartStep(ctx context.Context, runID int64, stepOrder int, stepName string, commandTemplateID int64) (*model.StepExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.seq++
	row := &model.StepExecutionResult{
		ID:                f.seq,
		JobRunID:          runID,
		StepOrder:         stepOrder,
		StepName:          stepName,
		CommandTemplateID: commandTemplateID,
		Status:            model.RunStatusRunning,
		StartedAt:         time.Now().UTC(),
	}
	f.rows[row.ID] = row
	cp := *row
	return &cp, nil
}

func (f *fakeStepRepo) FinishStep(ctx context.Context, id int64, status model.RunStatus, exitCode *int, output, errMsg string) (*model.StepExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, apperrors.NotFoundf("step result %d not found", id)
	}
	now := time.Now().UTC()
	row.Status = status
	row.ExitCode = exitCode
	row.Output = output
	row.Error = errMsg
	row.FinishedAt = &now
	cp := *row
	return &cp, nil
}

func (f *fakeStepRepo) ListByRun(ctx context.Context, runID int64) ([]*model.StepExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.StepExecutionResult
	for _, row := range f.rows {
		if row.JobRunID == runID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStepRepo) byRun(runID int64) []*model.StepExecutionResult {
	rows, _ := f.ListByRun(context.Background(), runID)
	return rows
}

// --- job templates ---

type fakeTemplateRepo struct {
	core.JobTemplateRepository

	mu        sync.Mutex
	templates map[int64]*model.JobTemplate
	steps     map[int64][]*model.JobTemplateStep
	stepsErr  error
}

func newFakeTemplateRepo() *fakeTemplateRepo {
	return &fakeTemplateRepo{
		templates: map[int64]*model.JobTemplate{},
		steps:     map[int64][]*model.JobTemplateStep{},
	}
}

func (f *fakeTemplateRepo) put(tmpl *model.JobTemplate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates[tmpl.ID] = tmpl
}

func (f *fakeTemplateRepo) putSteps(templateID int64, steps ...*model.JobTemplateStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps[templateID] = steps
}

func (f *fakeTemplateRepo) GetByID(ctx context.Context, id int64) (*model.JobTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tmpl, ok := f.templates[id]
	if !ok {
		return nil, apperrors.NotFoundf("job template %d not found", id)
	}
	cp := *tmpl
	return &cp, nil
}

func (f *fakeTemplateRepo) ListSteps(ctx context.Context, jobTemplateID int64) ([]*model.JobTemplateStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stepsErr != nil {
		return nil, f.stepsErr
	}
	return f.steps[jobTemplateID], nil
}

// --- command templates ---

type fakeCommandRepo struct {
	core.CommandTemplateRepository

	mu       sync.Mutex
	commands map[int64]*model.CommandTemplate
}

func newFakeCommandRepo() *fakeCommandRepo {
	return &fakeCommandRepo{commands: map[int64]*model.CommandTemplate{}}
}

func (f *fakeCommandRepo) put(cmd *model.CommandTemplate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands[cmd.ID] = cmd
}

func (f *fakeCommandRepo) GetByID(ctx context.Context, id int64) (*model.CommandTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd, ok := f.commands[id]
	if !ok {
		return nil, apperrors.NotFoundf("command template %d not found", id)
	}
	cp := *cmd
	return &cp, nil
}

// --- job types ---

type fakeJobTypeRepo struct {
	core.JobTypeRepository

	mu    sync.Mutex
	types map[int64]*model.JobType
}

func newFakeJobTypeRepo() *fakeJobTypeRepo {
	return &fakeJobTypeRepo{types: map[int64]*model.JobType{}}
}

func (f *fakeJobTypeRepo) put(jt *model.JobType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types[jt.ID] = jt
}

func (f *fakeJobTypeRepo) GetByID(ctx context.Context, id int64) (*model.JobType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jt, ok := f.types[id]
	if !ok {
		return nil, apperrors.NotFoundf("job type %d not found", id)
	}
	cp := *jt
	return &cp, nil
}

// --- servers ---

type fakeServerRepo struct {
	core.ServerRepository

	mu      sync.Mutex
	servers map[int64]*model.Server

	seen   []int64
	errors []string
	facts  []model.DetectedFacts
}

func newFakeServerRepo() *fakeServerRepo {
	return &fakeServerRepo{servers: map[int64]*model.Server{}}
}

func (f *fakeServerRepo) put(s *model.Server) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers[s.ID] = s
}

func (f *fakeServerRepo) GetByID(ctx context.Context, id int64) (*model.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.servers[id]
	if !ok {
		return nil, apperrors.NotFoundf("server %d not found", id)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeServerRepo) RecordSeen(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, id)
	return nil
}

func (f *fakeServerRepo) RecordError(ctx context.Context, id int64, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, message)
	return nil
}

func (f *fakeServerRepo) RecordDetectedFacts(ctx context.Context, id int64, facts model.DetectedFacts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.facts = append(f.facts, facts)
	return nil
}

// --- capabilities ---

type fakeCapabilityRepo struct {
	core.CapabilityRepository

	mu     sync.Mutex
	byServ map[int64][]*model.ServerCapability
	seq    int64
}

func newFakeCapabilityRepo() *fakeCapabilityRepo {
	return &fakeCapabilityRepo{byServ: map[int64][]*model.ServerCapability{}}
}

func (f *fakeCapabilityRepo) put(serverID int64, caps ...*model.ServerCapability) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byServ[serverID] = caps
}

func (f *fakeCapabilityRepo) Upsert(ctx context.Context, req *model.UpsertCapabilityRequest) (*model.ServerCapability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.byServ[req.ServerID] {
		if row.Capability == req.Capability {
			row.Available = req.Available
			row.Version = req.Version
			cp := *row
			return &cp, nil
		}
	}
	f.seq++
	row := &model.ServerCapability{
		ID:         f.seq,
		ServerID:   req.ServerID,
		Capability: req.Capability,
		Available:  req.Available,
		Version:    req.Version,
		DetectedAt: time.Now().UTC(),
	}
	f.byServ[req.ServerID] = append(f.byServ[req.ServerID], row)
	cp := *row
	return &cp, nil
}

func (f *fakeCapabilityRepo) ListByServer(ctx context.Context, serverID int64) ([]*model.ServerCapability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.byServ[serverID]
	out := make([]*model.ServerCapability, 0, len(rows))
	for _, row := range rows {
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeCapabilityRepo) DeleteByServer(ctx context.Context, serverID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byServ, serverID)
	return nil
}

// --- credentials ---

type fakeCredentialRepo struct {
	core.CredentialRepository

	mu    sync.Mutex
	creds map[int64]*model.Credential
}

func newFakeCredentialRepo() *fakeCredentialRepo {
	return &fakeCredentialRepo{creds: map[int64]*model.Credential{}}
}

func (f *fakeCredentialRepo) put(c *model.Credential) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[c.ID] = c
}

func (f *fakeCredentialRepo) GetByID(ctx context.Context, id int64) (*model.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[id]
	if !ok {
		return nil, apperrors.NotFoundf("credential %d not found", id)
	}
	cp := *c
	return &cp, nil
}

// --- schedules ---

type skipRecord struct {
	scheduleID int64
	reason     string
	nextRunAt  *time.Time
}

type runRecord struct {
	scheduleID int64
	status     model.ScheduleRunStatus
	errMsg     *string
	nextRunAt  *time.Time
}

type fakeScheduleRepo struct {
	core.ScheduleRepository

	mu        sync.Mutex
	seq       int64
	schedules map[int64]*model.JobSchedule

	listDueErr error
	createErr  error

	skips      []skipRecord
	runRecords []runRecord
	manualRuns []int64
	nextRuns   []claimRecord
}

func newFakeScheduleRepo() *fakeScheduleRepo {
	return &fakeScheduleRepo{schedules: map[int64]*model.JobSchedule{}}
}

func (f *fakeScheduleRepo) put(s *model.JobSchedule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == 0 {
		f.seq++
		s.ID = f.seq
	} else if s.ID > f.seq {
		f.seq = s.ID
	}
	f.schedules[s.ID] = s
}

func (f *fakeScheduleRepo) Create(ctx context.Context, req *model.CreateJobScheduleRequest, nextRunAt *time.Time) (*model.JobSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.seq++
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	now := time.Now().UTC()
	s := &model.JobSchedule{
		ID:              f.seq,
		Name:            req.Name,
		JobTemplateID:   req.JobTemplateID,
		ServerID:        req.ServerID,
		Schedule:        req.Schedule,
		Enabled:         enabled,
		TimeoutSeconds:  req.TimeoutSeconds,
		RetryCount:      req.RetryCount,
		NotifyOnSuccess: req.NotifyOnSuccess,
		NotifyOnFailure: req.NotifyOnFailure,
		NextRunAt:       nextRunAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	f.schedules[s.ID] = s
	cp := *s
	return &cp, nil
}

func (f *fakeScheduleRepo) GetByID(ctx context.Context, id int64) (*model.JobSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return nil, apperrors.NotFoundf("schedule %d not found", id)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeScheduleRepo) List(ctx context.Context, opts model.SchedulesListOptions) ([]*model.JobSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.JobSchedule, 0, len(f.schedules))
	for _, s := range f.schedules {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.JobSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listDueErr != nil {
		return nil, f.listDueErr
	}
	var out []*model.JobSchedule
	for _, s := range f.schedules {
		if !s.Enabled || s.NextRunAt == nil || s.NextRunAt.After(now) {
			continue
		}
		cp := *s
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeScheduleRepo) ListEnabled(ctx context.Context) ([]*model.JobSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.JobSchedule
	for _, s := range f.schedules {
		if s.Enabled {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeScheduleRepo) Update(ctx context.Context, id int64, req model.UpdateJobScheduleRequest, nextRunAt *time.Time) (*model.JobSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return nil, apperrors.NotFoundf("schedule %d not found", id)
	}
	if req.Name != nil {
		s.Name = *req.Name
	}
	if req.JobTemplateID != nil {
		s.JobTemplateID = *req.JobTemplateID
	}
	if req.ServerID != nil {
		s.ServerID = *req.ServerID
	}
	if req.Schedule != nil {
		s.Schedule = *req.Schedule
	}
	if req.Enabled != nil {
		s.Enabled = *req.Enabled
	}
	if req.TimeoutSeconds != nil {
		s.TimeoutSeconds = req.TimeoutSeconds
	}
	if req.RetryCount != nil {
		s.RetryCount = req.RetryCount
	}
	if nextRunAt != nil {
		s.NextRunAt = nextRunAt
	}
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	return &cp, nil
}

func (f *fakeScheduleRepo) SetNextRun(ctx context.Context, id int64, nextRunAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return apperrors.NotFoundf("schedule %d not found", id)
	}
	f.nextRuns = append(f.nextRuns, claimRecord{scheduleID: id, nextRunAt: nextRunAt})
	s.NextRunAt = nextRunAt
	return nil
}

func (f *fakeScheduleRepo) RecordRun(ctx context.Context, id int64, status model.ScheduleRunStatus, errMsg *string, nextRunAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runRecords = append(f.runRecords, runRecord{scheduleID: id, status: status, errMsg: errMsg, nextRunAt: nextRunAt})
	s, ok := f.schedules[id]
	if !ok {
		return apperrors.NotFoundf("schedule %d not found", id)
	}
	now := time.Now().UTC()
	s.LastRunAt = &now
	s.LastRunStatus = &status
	s.LastError = errMsg
	if nextRunAt != nil {
		s.NextRunAt = nextRunAt
	}
	switch status {
	case model.ScheduleRunSuccess:
		s.SuccessCount++
	case model.ScheduleRunFailure, model.ScheduleRunTimeout:
		s.FailureCount++
	}
	return nil
}

func (f *fakeScheduleRepo) MarkSkipped(ctx context.Context, id int64, reason string, nextRunAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skips = append(f.skips, skipRecord{scheduleID: id, reason: reason, nextRunAt: nextRunAt})
	if s, ok := f.schedules[id]; ok {
		s.LastError = &reason
		if nextRunAt != nil {
			s.NextRunAt = nextRunAt
		}
	}
	return nil
}

func (f *fakeScheduleRepo) RecordManualRun(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manualRuns = append(f.manualRuns, id)
	if s, ok := f.schedules[id]; ok {
		s.ManualRunCount++
	}
	return nil
}

func (f *fakeScheduleRepo) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedules[id]; !ok {
		return apperrors.NotFoundf("schedule %d not found", id)
	}
	delete(f.schedules, id)
	return nil
}

func (f *fakeScheduleRepo) snapshot(t *testing.T, id int64) *model.JobSchedule {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	require.True(t, ok, "schedule %d not stored", id)
	cp := *s
	return &cp
}

func (f *fakeScheduleRepo) skipped() []skipRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]skipRecord(nil), f.skips...)
}

func (f *fakeScheduleRepo) recorded() []runRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runRecord(nil), f.runRecords...)
}

// --- notification policies / channels / log ---

type fakePolicyRepo struct {
	core.NotificationPolicyRepository

	mu       sync.Mutex
	policies map[int64]*model.NotificationPolicy
	listErr  error
}

func newFakePolicyRepo() *fakePolicyRepo {
	return &fakePolicyRepo{policies: map[int64]*model.NotificationPolicy{}}
}

func (f *fakePolicyRepo) put(p *model.NotificationPolicy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policies[p.ID] = p
}

func (f *fakePolicyRepo) GetByID(ctx context.Context, id int64) (*model.NotificationPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.policies[id]
	if !ok {
		return nil, apperrors.NotFoundf("notification policy %d not found", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakePolicyRepo) ListEnabled(ctx context.Context) ([]*model.NotificationPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*model.NotificationPolicy
	for _, p := range f.policies {
		if p.Enabled {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeChannelRepo struct {
	core.NotificationChannelRepository

	mu       sync.Mutex
	channels map[int64]*model.NotificationChannel
	tests    []struct {
		id int64
		ok bool
	}
}

func newFakeChannelRepo() *fakeChannelRepo {
	return &fakeChannelRepo{channels: map[int64]*model.NotificationChannel{}}
}

func (f *fakeChannelRepo) put(c *model.NotificationChannel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[c.ID] = c
}

func (f *fakeChannelRepo) GetByID(ctx context.Context, id int64) (*model.NotificationChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.channels[id]
	if !ok {
		return nil, apperrors.NotFoundf("notification channel %d not found", id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeChannelRepo) RecordTest(ctx context.Context, id int64, ok bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tests = append(f.tests, struct {
		id int64
		ok bool
	}{id, ok})
	return nil
}

type fakeLogRepo struct {
	core.NotificationLogRepository

	mu        sync.Mutex
	seq       int64
	rows      []*model.NotificationLog
	countErr  error
	pruneErr  error
	pruneN    int64
	pruneCall []time.Time
}

func newFakeLogRepo() *fakeLogRepo {
	return &fakeLogRepo{}
}

func (f *fakeLogRepo) Insert(ctx context.Context, req *model.LogNotificationRequest) (*model.NotificationLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	row := &model.NotificationLog{
		ID:           f.seq,
		ChannelID:    req.ChannelID,
		PolicyID:     req.PolicyID,
		JobRunID:     req.JobRunID,
		Title:        req.Title,
		Body:         req.Body,
		Priority:     req.Priority,
		Success:      req.Success,
		ErrorMessage: req.ErrorMessage,
		RetryCount:   req.RetryCount,
		SentAt:       time.Now().UTC(),
	}
	f.rows = append(f.rows, row)
	cp := *row
	return &cp, nil
}

func (f *fakeLogRepo) CountForPolicySince(ctx context.Context, policyID int64, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	n := 0
	for _, row := range f.rows {
		if row.PolicyID != nil && *row.PolicyID == policyID && row.Success && !row.SentAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeLogRepo) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneCall = append(f.pruneCall, olderThan)
	if f.pruneErr != nil {
		return 0, f.pruneErr
	}
	return f.pruneN, nil
}

func (f *fakeLogRepo) all() []*model.NotificationLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.NotificationLog, len(f.rows))
	for i, row := range f.rows {
		cp := *row
		out[i] = &cp
	}
	return out
}

// --- dispatch ---

// stubRunner satisfies dispatch.Runner with a programmable response. The
// default response is a clean zero-exit completion.
type stubRunner struct {
	mu    sync.Mutex
	specs []dispatch.Spec
	fn    func(ctx context.Context, spec dispatch.Spec) (dispatch.Result, error)
}

func newStubRunner() *stubRunner { return &stubRunner{} }

func (r *stubRunner) Run(ctx context.Context, spec dispatch.Spec) (dispatch.Result, error) {
	r.mu.Lock()
	r.specs = append(r.specs, spec)
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, spec)
	}
	return dispatch.Result{ExitCode: 0, Stdout: "ok", Status: dispatch.StatusCompleted}, nil
}

func (r *stubRunner) calls() []dispatch.Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatch.Spec(nil), r.specs...)
}

func (r *stubRunner) respond(fn func(ctx context.Context, spec dispatch.Spec) (dispatch.Result, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fn = fn
}

// --- notifier hook ---

type notifyCall struct {
	run   *model.JobRun
	steps []*model.StepExecutionResult
}

type fakeRunNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (f *fakeRunNotifier) NotifyRun(ctx context.Context, run *model.JobRun, steps []*model.StepExecutionResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{run: run, steps: steps})
}

func (f *fakeRunNotifier) notified() []notifyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notifyCall(nil), f.calls...)
}

// --- control bus ---

type fakeControlBus struct {
	mu      sync.Mutex
	reloads int
	cancels []int64

	reloadErr error
	cancelErr error
}

func (f *fakeControlBus) NotifyReload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reloadErr != nil {
		return f.reloadErr
	}
	f.reloads++
	return nil
}

func (f *fakeControlBus) NotifyCancel(ctx context.Context, runID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancels = append(f.cancels, runID)
	return nil
}

// --- executor fixture ---

// execFixture wires a real executor over fakes. The seeded world is job type
// 1 ("maintenance"), command template 1 ("disk-usage"), simple job template 1
// ("disk-check") and the enabled local server 1.
type execFixture struct {
	runs      *fakeRunRepo
	steps     *fakeStepRepo
	templates *fakeTemplateRepo
	commands  *fakeCommandRepo
	jobTypes  *fakeJobTypeRepo
	servers   *fakeServerRepo
	caps      *fakeCapabilityRepo
	creds     *fakeCredentialRepo
	schedules *fakeScheduleRepo
	runner    *stubRunner
	notifier  *fakeRunNotifier
	settings  *SettingsService
}

func newExecFixture(t *testing.T, settingOverrides map[string]string) *execFixture {
	t.Helper()
	fx := &execFixture{
		runs:      newFakeRunRepo(),
		steps:     newFakeStepRepo(),
		templates: newFakeTemplateRepo(),
		commands:  newFakeCommandRepo(),
		jobTypes:  newFakeJobTypeRepo(),
		servers:   newFakeServerRepo(),
		caps:      newFakeCapabilityRepo(),
		creds:     newFakeCredentialRepo(),
		schedules: newFakeScheduleRepo(),
		runner:    newStubRunner(),
		notifier:  &fakeRunNotifier{},
		settings:  newTestSettings(t, settingOverrides),
	}
	fx.jobTypes.put(&model.JobType{ID: 1, Name: "maintenance", Enabled: true})
	fx.commands.put(&model.CommandTemplate{
		ID:             1,
		JobTypeID:      1,
		Name:           "disk-usage",
		CommandString:  "df -h {{path}}",
		Parameters:     []model.ParamSpec{{Name: "path", Required: false, Default: strPtr("/")}},
		TimeoutSeconds: 60,
	})
	fx.templates.put(&model.JobTemplate{
		ID:                1,
		Name:              "disk-check",
		DisplayName:       "Disk check",
		JobTypeID:         1,
		IsComposite:       false,
		CommandTemplateID: int64Ptr(1),
		Variables:         map[string]any{"path": "/var"},
		NotifyOnFailure:   true,
	})
	fx.servers.put(&model.Server{ID: 1, Name: "local-box", IsLocal: true, Enabled: true})
	return fx
}

func (fx *execFixture) executor(t *testing.T) *ExecutorService {
	t.Helper()
	exec := NewExecutorService(ExecutorServiceOptions{
		Runs:         fx.runs,
		Steps:        fx.steps,
		Templates:    fx.templates,
		Commands:     fx.commands,
		JobTypes:     fx.jobTypes,
		Servers:      fx.servers,
		Capabilities: fx.caps,
		Credentials:  fx.creds,
		Schedules:    fx.schedules,
		Runner:       fx.runner,
		Settings:     fx.settings,
		Notifier:     fx.notifier,
		Logger:       testLogger(),
	})
	t.Cleanup(func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = exec.Shutdown(shutCtx)
	})
	return exec
}

// waitTerminal polls until the run reaches a terminal state and returns it.
func (fx *execFixture) waitTerminal(t *testing.T, runID int64) *model.JobRun {
	t.Helper()
	require.Eventually(t, func() bool {
		return fx.runs.status(runID).Terminal()
	}, 2*time.Second, 5*time.Millisecond, "run %d never reached a terminal state", runID)
	return fx.runs.snapshot(t, runID)
}

// seedCompositeTemplate registers a three-step composite template as id 2.
// Step 2 tolerates failure, step 3 does not.
func (fx *execFixture) seedCompositeTemplate() {
	fx.commands.put(&model.CommandTemplate{
		ID:             2,
		JobTypeID:      1,
		Name:           "sync-repo",
		CommandString:  "git -C {{dir}} pull",
		Parameters:     []model.ParamSpec{{Name: "dir", Required: true}},
		TimeoutSeconds: 30,
	})
	fx.templates.put(&model.JobTemplate{
		ID:          2,
		Name:        "nightly-maintenance",
		DisplayName: "Nightly maintenance",
		JobTypeID:   1,
		IsComposite: true,
	})
	fx.templates.putSteps(2,
		&model.JobTemplateStep{ID: 1, JobTemplateID: 2, StepOrder: 1, Name: "check disk", CommandTemplateID: 1},
		&model.JobTemplateStep{ID: 2, JobTemplateID: 2, StepOrder: 2, Name: "pull repo", CommandTemplateID: 2, Variables: map[string]any{"dir": "/srv/app"}, ContinueOnFailure: true},
		&model.JobTemplateStep{ID: 3, JobTemplateID: 2, StepOrder: 3, Name: "check disk again", CommandTemplateID: 1},
	)
}
