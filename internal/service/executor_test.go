package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/hullcrest/armada/internal/dispatch"
	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
	"github.com/hullcrest/armada/internal/mocks"
)

func TestExecutor_SimpleRunSuccess(t *testing.T) {
	fx := newExecFixture(t, nil)
	exec := fx.executor(t)

	id, err := exec.Execute(context.Background(), ExecuteRequest{
		JobTemplateID: 1,
		ServerID:      1,
		TriggeredBy:   model.RunTriggerManual,
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	run := fx.waitTerminal(t, id)
	assert.Equal(t, model.RunStatusSuccess, run.Status)
	require.NotNil(t, run.ExitCode)
	assert.Equal(t, 0, *run.ExitCode)
	assert.Equal(t, "ok", run.Output)
	assert.Equal(t, "df -h /var", run.RenderedCommand)
	assert.Equal(t, model.RunTriggerManual, run.TriggeredBy)

	calls := fx.runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "df -h /var", calls[0].Command)
	assert.True(t, calls[0].Target.Local)
	assert.Equal(t, 60*time.Second, calls[0].Timeout)

	// Template only notifies on failure, so a clean run stays quiet.
	require.Eventually(t, func() bool { return exec.ActiveRuns() == 0 },
		time.Second, 5*time.Millisecond)
	assert.Empty(t, fx.notifier.notified())
}

func TestExecutor_VariableOverridesWinOverTemplate(t *testing.T) {
	fx := newExecFixture(t, nil)
	exec := fx.executor(t)

	id, err := exec.Execute(context.Background(), ExecuteRequest{
		JobTemplateID:     1,
		ServerID:          1,
		TriggeredBy:       model.RunTriggerManual,
		VariableOverrides: map[string]any{"path": "/tmp"},
	})
	require.NoError(t, err)

	run := fx.waitTerminal(t, id)
	assert.Equal(t, "df -h /tmp", run.RenderedCommand)
}

func TestExecutor_RemoteTargetCarriesCredential(t *testing.T) {
	fx := newExecFixture(t, nil)
	fx.creds.put(&model.Credential{ID: 7, Name: "ops-key", Kind: model.CredentialKindSSHKey, Value: "KEYDATA", Username: strPtr("ops")})
	fx.servers.put(&model.Server{
		ID:           3,
		Name:         "web-1",
		Hostname:     strPtr("10.0.0.5"),
		Port:         2222,
		Username:     strPtr("deploy"),
		CredentialID: int64Ptr(7),
		Enabled:      true,
	})
	exec := fx.executor(t)

	id, err := exec.Execute(context.Background(), ExecuteRequest{
		JobTemplateID: 1,
		ServerID:      3,
		TriggeredBy:   model.RunTriggerManual,
	})
	require.NoError(t, err)
	fx.waitTerminal(t, id)

	calls := fx.runner.calls()
	require.Len(t, calls, 1)
	target := calls[0].Target
	assert.False(t, target.Local)
	assert.Equal(t, "10.0.0.5", target.Host)
	assert.Equal(t, 2222, target.Port)
	assert.Equal(t, "deploy", target.User)
	require.NotNil(t, target.Credential)
	assert.Equal(t, int64(7), target.Credential.ID)
}

func TestExecutor_AdmissionErrors(t *testing.T) {
	fx := newExecFixture(t, nil)
	fx.jobTypes.put(&model.JobType{ID: 2, Name: "patching", Enabled: false})
	fx.templates.put(&model.JobTemplate{ID: 9, Name: "patch-all", JobTypeID: 2, CommandTemplateID: int64Ptr(1)})
	fx.templates.put(&model.JobTemplate{ID: 10, Name: "hollow", JobTypeID: 1, IsComposite: true})
	fx.templates.put(&model.JobTemplate{ID: 11, Name: "untethered", JobTypeID: 1})
	fx.servers.put(&model.Server{ID: 2, Name: "mothballed", IsLocal: true, Enabled: false})
	exec := fx.executor(t)

	tests := []struct {
		name    string
		req     ExecuteRequest
		check   func(error) bool
		message string
	}{
		{
			name:  "unknown template",
			req:   ExecuteRequest{JobTemplateID: 99, ServerID: 1, TriggeredBy: model.RunTriggerManual},
			check: apperrors.IsNotFound,
		},
		{
			name:    "disabled job type",
			req:     ExecuteRequest{JobTemplateID: 9, ServerID: 1, TriggeredBy: model.RunTriggerManual},
			check:   apperrors.IsValidation,
			message: "disabled",
		},
		{
			name:  "unknown server",
			req:   ExecuteRequest{JobTemplateID: 1, ServerID: 42, TriggeredBy: model.RunTriggerManual},
			check: apperrors.IsNotFound,
		},
		{
			name:    "disabled server",
			req:     ExecuteRequest{JobTemplateID: 1, ServerID: 2, TriggeredBy: model.RunTriggerManual},
			check:   apperrors.IsValidation,
			message: "disabled",
		},
		{
			name:  "invalid trigger",
			req:   ExecuteRequest{JobTemplateID: 1, ServerID: 1, TriggeredBy: model.RunTrigger("whim")},
			check: apperrors.IsValidation,
		},
		{
			name:    "composite without steps",
			req:     ExecuteRequest{JobTemplateID: 10, ServerID: 1, TriggeredBy: model.RunTriggerManual},
			check:   apperrors.IsValidation,
			message: "no steps",
		},
		{
			name:    "simple template without command",
			req:     ExecuteRequest{JobTemplateID: 11, ServerID: 1, TriggeredBy: model.RunTriggerManual},
			check:   apperrors.IsValidation,
			message: "no command template",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := exec.Execute(context.Background(), tt.req)
			require.Error(t, err)
			assert.Zero(t, id)
			assert.True(t, tt.check(err), "unexpected error kind: %v", err)
			if tt.message != "" {
				assert.Contains(t, err.Error(), tt.message)
			}
		})
	}

	// Nothing above got far enough to create a row or reach the runner.
	rows, err := fx.runs.List(context.Background(), model.RunsListOptions{})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, fx.runner.calls())
}

func TestExecutor_PrepFailureLandsOnRun(t *testing.T) {
	t.Run("missing required variable", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		fx.commands.put(&model.CommandTemplate{
			ID:            2,
			JobTypeID:     1,
			Name:          "sync-repo",
			CommandString: "git -C {{dir}} pull",
			Parameters:    []model.ParamSpec{{Name: "dir", Required: true}},
		})
		fx.templates.put(&model.JobTemplate{ID: 7, Name: "sync", JobTypeID: 1, CommandTemplateID: int64Ptr(2)})
		exec := fx.executor(t)

		id, err := exec.Execute(context.Background(), ExecuteRequest{
			JobTemplateID: 7,
			ServerID:      1,
			TriggeredBy:   model.RunTriggerManual,
		})
		require.NoError(t, err, "domain failures must land on the run, not the caller")

		run := fx.waitTerminal(t, id)
		assert.Equal(t, model.RunStatusFailure, run.Status)
		assert.Contains(t, run.Error, "dir")
		assert.Empty(t, fx.runner.calls())
	})

	t.Run("capability mismatch", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		fx.commands.put(&model.CommandTemplate{
			ID:                   3,
			JobTypeID:            1,
			Name:                 "prune-images",
			CommandString:        "docker image prune -f",
			RequiredCapabilities: []string{"docker"},
		})
		fx.templates.put(&model.JobTemplate{ID: 8, Name: "prune", JobTypeID: 1, CommandTemplateID: int64Ptr(3)})
		exec := fx.executor(t)

		id, err := exec.Execute(context.Background(), ExecuteRequest{
			JobTemplateID: 8,
			ServerID:      1,
			TriggeredBy:   model.RunTriggerManual,
		})
		require.NoError(t, err)

		run := fx.waitTerminal(t, id)
		assert.Equal(t, model.RunStatusFailure, run.Status)
		assert.Contains(t, run.Error, "docker")
		assert.Empty(t, fx.runner.calls())
	})
}

func TestExecutor_Overloaded(t *testing.T) {
	fx := newExecFixture(t, map[string]string{
		model.SettingJobsMaxConcurrent: "1",
		model.SettingJobsSubmitTimeout: "1",
	})
	gate := make(chan struct{})
	fx.runner.respond(func(ctx context.Context, spec dispatch.Spec) (dispatch.Result, error) {
		select {
		case <-gate:
			return dispatch.Result{ExitCode: 0, Status: dispatch.StatusCompleted}, nil
		case <-ctx.Done():
			return dispatch.Result{ExitCode: -1, Status: dispatch.StatusCancelled}, nil
		}
	})
	exec := fx.executor(t)

	first, err := exec.Execute(context.Background(), ExecuteRequest{
		JobTemplateID: 1, ServerID: 1, TriggeredBy: model.RunTriggerManual,
	})
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), ExecuteRequest{
		JobTemplateID: 1, ServerID: 1, TriggeredBy: model.RunTriggerManual,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsOverloaded(err), "want overloaded, got %v", err)
	assert.Contains(t, err.Error(), "at capacity")

	close(gate)
	run := fx.waitTerminal(t, first)
	assert.Equal(t, model.RunStatusSuccess, run.Status)
}

func TestExecutor_SemaphoreResizeTakesEffect(t *testing.T) {
	repo := newFakeSettingsRepo(map[string]string{
		model.SettingJobsMaxConcurrent: "1",
		model.SettingJobsSubmitTimeout: "1",
	})
	settings, err := NewSettingsService(SettingsServiceOptions{Repo: repo, Logger: testLogger()})
	require.NoError(t, err)

	fx := newExecFixture(t, nil)
	fx.settings = settings
	gate := make(chan struct{})
	fx.runner.respond(func(ctx context.Context, spec dispatch.Spec) (dispatch.Result, error) {
		select {
		case <-gate:
			return dispatch.Result{ExitCode: 0, Status: dispatch.StatusCompleted}, nil
		case <-ctx.Done():
			return dispatch.Result{ExitCode: -1, Status: dispatch.StatusCancelled}, nil
		}
	})
	exec := fx.executor(t)

	first, err := exec.Execute(context.Background(), ExecuteRequest{
		JobTemplateID: 1, ServerID: 1, TriggeredBy: model.RunTriggerManual,
	})
	require.NoError(t, err)

	// Raising the cap swaps in a bigger semaphore on the next admission.
	repo.set(model.SettingJobsMaxConcurrent, "2")
	second, err := exec.Execute(context.Background(), ExecuteRequest{
		JobTemplateID: 1, ServerID: 1, TriggeredBy: model.RunTriggerManual,
	})
	require.NoError(t, err)

	close(gate)
	assert.Equal(t, model.RunStatusSuccess, fx.waitTerminal(t, first).Status)
	assert.Equal(t, model.RunStatusSuccess, fx.waitTerminal(t, second).Status)
}

func TestExecutor_Cancel(t *testing.T) {
	fx := newExecFixture(t, nil)
	fx.templates.put(&model.JobTemplate{
		ID: 6, Name: "retry-job", JobTypeID: 1, CommandTemplateID: int64Ptr(1),
		RetryCount: 2, RetryDelaySeconds: 1,
	})
	fx.runner.respond(func(ctx context.Context, spec dispatch.Spec) (dispatch.Result, error) {
		<-ctx.Done()
		return dispatch.Result{ExitCode: -1, Status: dispatch.StatusCancelled}, nil
	})
	exec := fx.executor(t)

	id, err := exec.Execute(context.Background(), ExecuteRequest{
		JobTemplateID: 6, ServerID: 1, TriggeredBy: model.RunTriggerManual,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(fx.runner.calls()) == 1 },
		time.Second, 5*time.Millisecond)

	assert.True(t, exec.Cancel(id))
	run := fx.waitTerminal(t, id)
	assert.Equal(t, model.RunStatusCancelled, run.Status)

	// The registry entry is gone once the run is terminal.
	require.Eventually(t, func() bool { return exec.ActiveRuns() == 0 },
		time.Second, 5*time.Millisecond)
	assert.False(t, exec.Cancel(id))

	// Cancelled runs never retry, whatever the template's budget says.
	time.Sleep(1300 * time.Millisecond)
	rows, err := fx.runs.List(context.Background(), model.RunsListOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestExecutor_RetryAfterFailure(t *testing.T) {
	fx := newExecFixture(t, nil)
	fx.templates.put(&model.JobTemplate{
		ID: 6, Name: "retry-job", JobTypeID: 1, CommandTemplateID: int64Ptr(1),
		RetryCount: 1, RetryDelaySeconds: 0,
	})
	fx.runner.respond(func(ctx context.Context, spec dispatch.Spec) (dispatch.Result, error) {
		return dispatch.Result{ExitCode: 1, Stderr: "disk on fire", Status: dispatch.StatusCompleted}, nil
	})
	exec := fx.executor(t)

	id, err := exec.Execute(context.Background(), ExecuteRequest{
		JobTemplateID: 6, ServerID: 1, TriggeredBy: model.RunTriggerManual,
	})
	require.NoError(t, err)
	first := fx.waitTerminal(t, id)
	assert.Equal(t, model.RunStatusFailure, first.Status)

	// The retry fires after the floor delay and is marked as such.
	var retry *model.JobRun
	require.Eventually(t, func() bool {
		rows, lerr := fx.runs.List(context.Background(), model.RunsListOptions{})
		require.NoError(t, lerr)
		for _, row := range rows {
			if row.IsRetry && row.Status.Terminal() {
				retry = row
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, model.RunTriggerRetry, retry.TriggeredBy)
	assert.Equal(t, 1, retry.RetryAttempt)
	assert.Equal(t, model.RunStatusFailure, retry.Status)

	// Attempt 1 exhausted the budget of 1; no third run shows up.
	time.Sleep(1300 * time.Millisecond)
	rows, err := fx.runs.List(context.Background(), model.RunsListOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestExecutor_CompositeRun(t *testing.T) {
	t.Run("all steps succeed", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		fx.seedCompositeTemplate()
		exec := fx.executor(t)

		id, err := exec.Execute(context.Background(), ExecuteRequest{
			JobTemplateID:     2,
			ServerID:          1,
			TriggeredBy:       model.RunTriggerManual,
			VariableOverrides: map[string]any{"dir": "/srv/app"},
		})
		require.NoError(t, err)

		run := fx.waitTerminal(t, id)
		assert.Equal(t, model.RunStatusSuccess, run.Status)
		assert.False(t, run.PartialSuccess())
		assert.Contains(t, run.Output, "--- step 1: check disk ---")
		assert.Contains(t, run.Output, "--- step 3: check disk again ---")
		assert.Len(t, fx.runner.calls(), 3)
		assert.Len(t, fx.steps.byRun(id), 3)
	})

	t.Run("continue_on_failure keeps going", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		fx.seedCompositeTemplate()
		fx.runner.respond(func(ctx context.Context, spec dispatch.Spec) (dispatch.Result, error) {
			if strings.HasPrefix(spec.Command, "git") {
				return dispatch.Result{ExitCode: 128, Stderr: "fatal: not a git repository", Status: dispatch.StatusCompleted}, nil
			}
			return dispatch.Result{ExitCode: 0, Stdout: "ok", Status: dispatch.StatusCompleted}, nil
		})
		exec := fx.executor(t)

		id, err := exec.Execute(context.Background(), ExecuteRequest{
			JobTemplateID: 2,
			ServerID:      1,
			TriggeredBy:   model.RunTriggerManual,
		})
		require.NoError(t, err)

		run := fx.waitTerminal(t, id)
		assert.Equal(t, model.RunStatusFailure, run.Status)
		assert.True(t, run.PartialSuccess(), "tolerated failures with later successes should flag partial success")
		assert.Contains(t, run.Error, "step 2 (pull repo)")
		assert.Len(t, fx.runner.calls(), 3, "step 3 still runs after a tolerated failure")
	})

	t.Run("hard failure stops the run", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		fx.seedCompositeTemplate()
		fx.runner.respond(func(ctx context.Context, spec dispatch.Spec) (dispatch.Result, error) {
			return dispatch.Result{ExitCode: 2, Stderr: "df: /var: no such file", Status: dispatch.StatusCompleted}, nil
		})
		exec := fx.executor(t)

		id, err := exec.Execute(context.Background(), ExecuteRequest{
			JobTemplateID: 2,
			ServerID:      1,
			TriggeredBy:   model.RunTriggerManual,
		})
		require.NoError(t, err)

		run := fx.waitTerminal(t, id)
		assert.Equal(t, model.RunStatusFailure, run.Status)
		assert.False(t, run.PartialSuccess())
		assert.Contains(t, run.Error, "step 1 (check disk)")
		assert.Len(t, fx.runner.calls(), 1, "step 1 is not continue_on_failure")
		assert.Len(t, fx.steps.byRun(id), 1)
	})
}

func TestExecutor_ScheduledClaim(t *testing.T) {
	next := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	t.Run("claims and records the outcome", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		fx.schedules.put(&model.JobSchedule{
			ID: 5, Name: "hourly-disk", JobTemplateID: 1, ServerID: 1,
			Schedule: "0 0 * * * *", Enabled: true, NextRunAt: timePtr(next),
		})
		exec := fx.executor(t)

		id, err := exec.Execute(context.Background(), ExecuteRequest{
			JobTemplateID:     1,
			ServerID:          1,
			TriggeredBy:       model.RunTriggerScheduled,
			JobScheduleID:     int64Ptr(5),
			ScheduleNextRunAt: timePtr(next),
		})
		require.NoError(t, err)

		fx.runs.mu.Lock()
		claims := append([]claimRecord(nil), fx.runs.claims...)
		fx.runs.mu.Unlock()
		require.Len(t, claims, 1)
		assert.Equal(t, int64(5), claims[0].scheduleID)
		require.NotNil(t, claims[0].nextRunAt)
		assert.True(t, claims[0].nextRunAt.Equal(next))

		run := fx.waitTerminal(t, id)
		assert.Equal(t, model.RunStatusSuccess, run.Status)

		require.Eventually(t, func() bool { return len(fx.schedules.recorded()) == 1 },
			time.Second, 5*time.Millisecond)
		rec := fx.schedules.recorded()[0]
		assert.Equal(t, int64(5), rec.scheduleID)
		assert.Equal(t, model.ScheduleRunSuccess, rec.status)
		assert.Nil(t, rec.errMsg)
		assert.Nil(t, rec.nextRunAt, "terminal bookkeeping carries no slot of its own")

		// The claimed slot survives the run finishing, so a tick that
		// advanced it mid-run is never rewound to a past fire time.
		sched, err := fx.schedules.GetByID(context.Background(), 5)
		require.NoError(t, err)
		require.NotNil(t, sched.NextRunAt)
		assert.True(t, sched.NextRunAt.Equal(next))
	})

	t.Run("conflict when another instance claimed first", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		fx.runs.claimErr = apperrors.Conflict("schedule fire already claimed")
		exec := fx.executor(t)

		_, err := exec.Execute(context.Background(), ExecuteRequest{
			JobTemplateID:     1,
			ServerID:          1,
			TriggeredBy:       model.RunTriggerScheduled,
			JobScheduleID:     int64Ptr(5),
			ScheduleNextRunAt: timePtr(next),
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
	})
}

func TestExecutor_ManualRunSkipsScheduleCounters(t *testing.T) {
	fx := newExecFixture(t, nil)
	fx.schedules.put(&model.JobSchedule{
		ID: 5, Name: "hourly-disk", JobTemplateID: 1, ServerID: 1,
		Schedule: "0 0 * * * *", Enabled: true,
		NotifyOnSuccess: boolPtr(true),
	})
	exec := fx.executor(t)

	id, err := exec.Execute(context.Background(), ExecuteRequest{
		JobTemplateID: 1,
		ServerID:      1,
		TriggeredBy:   model.RunTriggerManual,
		JobScheduleID: int64Ptr(5),
	})
	require.NoError(t, err)
	fx.waitTerminal(t, id)

	// The schedule's notify override applies, so the notifier call doubles as
	// the signal that post-run bookkeeping finished.
	require.Eventually(t, func() bool { return len(fx.notifier.notified()) == 1 },
		time.Second, 5*time.Millisecond)

	fx.runs.mu.Lock()
	claims := len(fx.runs.claims)
	fx.runs.mu.Unlock()
	assert.Zero(t, claims, "manual runs insert plainly, no schedule claim")
	assert.Empty(t, fx.schedules.recorded(), "manual runs leave last_run counters alone")
}

func TestExecutor_NotifyFollowsOutcomeFlags(t *testing.T) {
	fx := newExecFixture(t, nil)
	fx.runner.respond(func(ctx context.Context, spec dispatch.Spec) (dispatch.Result, error) {
		return dispatch.Result{ExitCode: 1, Stderr: "boom", Status: dispatch.StatusCompleted}, nil
	})
	exec := fx.executor(t)

	id, err := exec.Execute(context.Background(), ExecuteRequest{
		JobTemplateID: 1, ServerID: 1, TriggeredBy: model.RunTriggerManual,
	})
	require.NoError(t, err)
	run := fx.waitTerminal(t, id)
	assert.Equal(t, model.RunStatusFailure, run.Status)

	require.Eventually(t, func() bool { return len(fx.notifier.notified()) == 1 },
		time.Second, 5*time.Millisecond)
	call := fx.notifier.notified()[0]
	assert.Equal(t, id, call.run.ID)
	assert.Equal(t, model.RunStatusFailure, call.run.Status)
}

func TestExecutor_PanicFinishesRun(t *testing.T) {
	fx := newExecFixture(t, nil)
	fx.runner.respond(func(ctx context.Context, spec dispatch.Spec) (dispatch.Result, error) {
		panic("wires crossed")
	})
	exec := fx.executor(t)

	id, err := exec.Execute(context.Background(), ExecuteRequest{
		JobTemplateID: 1, ServerID: 1, TriggeredBy: model.RunTriggerManual,
	})
	require.NoError(t, err)

	run := fx.waitTerminal(t, id)
	assert.Equal(t, model.RunStatusFailure, run.Status)
	assert.Contains(t, run.Error, "internal error: wires crossed")

	require.Eventually(t, func() bool { return exec.ActiveRuns() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestExecutor_StaleRecoveryRowWins(t *testing.T) {
	fx := newExecFixture(t, nil)
	gate := make(chan struct{})
	fx.runner.respond(func(ctx context.Context, spec dispatch.Spec) (dispatch.Result, error) {
		<-gate
		return dispatch.Result{ExitCode: 0, Stdout: "late ok", Status: dispatch.StatusCompleted}, nil
	})
	exec := fx.executor(t)

	_, err := exec.Execute(context.Background(), ExecuteRequest{
		JobTemplateID: 1, ServerID: 1, TriggeredBy: model.RunTriggerManual,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(fx.runner.calls()) == 1 },
		time.Second, 5*time.Millisecond)

	// Stale-run recovery fails the row while the process is still working.
	n, err := fx.runs.FailStale(context.Background(), time.Now().Add(time.Minute), "run abandoned")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	close(gate)

	// The late success must not overwrite the recovered row; downstream
	// consumers see the stored failure.
	require.Eventually(t, func() bool { return len(fx.notifier.notified()) == 1 },
		time.Second, 5*time.Millisecond)
	call := fx.notifier.notified()[0]
	assert.Equal(t, model.RunStatusFailure, call.run.Status)
	assert.Equal(t, "run abandoned", call.run.Error)
}

func TestExecutor_Shutdown(t *testing.T) {
	t.Run("drains idle immediately", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		exec := fx.executor(t)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, exec.Shutdown(ctx))

		_, err := exec.Execute(context.Background(), ExecuteRequest{
			JobTemplateID: 1, ServerID: 1, TriggeredBy: model.RunTriggerManual,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsCanceled(err))
	})

	t.Run("cancels stragglers after the deadline", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		fx.runner.respond(func(ctx context.Context, spec dispatch.Spec) (dispatch.Result, error) {
			<-ctx.Done()
			return dispatch.Result{ExitCode: -1, Status: dispatch.StatusCancelled}, nil
		})
		exec := fx.executor(t)

		id, err := exec.Execute(context.Background(), ExecuteRequest{
			JobTemplateID: 1, ServerID: 1, TriggeredBy: model.RunTriggerManual,
		})
		require.NoError(t, err)
		require.Eventually(t, func() bool { return len(fx.runner.calls()) == 1 },
			time.Second, 5*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		err = exec.Shutdown(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)

		run := fx.waitTerminal(t, id)
		assert.Equal(t, model.RunStatusCancelled, run.Status)
	})
}

// A dispatch-layer error (spawn or connect failure) carries no exit code but
// must still land the run as a failure and reach the notifier.
func TestExecutor_DispatchErrorFailsRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fx := newExecFixture(t, nil)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().
		Run(gomock.Any(), gomock.AssignableToTypeOf(dispatch.Spec{})).
		Return(dispatch.Result{ExitCode: -1, Status: dispatch.StatusConnectFailed},
			errors.New("dial tcp 10.0.0.5:22: connect: connection refused"))

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
		Runner:       runner,
		Settings:     fx.settings,
		Notifier:     fx.notifier,
		Logger:       testLogger(),
	})
	t.Cleanup(func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = exec.Shutdown(shutCtx)
	})

	id, err := exec.Execute(context.Background(), ExecuteRequest{
		JobTemplateID: 1,
		ServerID:      1,
		TriggeredBy:   model.RunTriggerManual,
	})
	require.NoError(t, err)

	run := fx.waitTerminal(t, id)
	assert.Equal(t, model.RunStatusFailure, run.Status)
	assert.Nil(t, run.ExitCode, "no exit code when the process never ran")
	assert.Contains(t, run.Error, "connection refused")

	require.Eventually(t, func() bool { return len(fx.notifier.notified()) == 1 },
		time.Second, 5*time.Millisecond)
}
