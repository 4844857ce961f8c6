package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/dispatch"
	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

func newRunService(t *testing.T, fx *execFixture, bus core.ControlBus) *RunService {
	t.Helper()
	return NewRunService(RunServiceOptions{
		Runs:       fx.runs,
		Steps:      fx.steps,
		Schedules:  fx.schedules,
		Executor:   fx.executor(t),
		ControlBus: bus,
		Logger:     testLogger(),
	})
}

func TestRunsTriggerManual_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  TriggerManualRequest
		want string
	}{
		{"missing template", TriggerManualRequest{ServerID: 1}, "job_template_id"},
		{"missing server", TriggerManualRequest{JobTemplateID: 1}, "server_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newExecFixture(t, nil)
			svc := newRunService(t, fx, nil)

			_, err := svc.TriggerManual(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err), "want validation, got %v", err)
			assert.Contains(t, err.Error(), tt.want)

			fx.runs.mu.Lock()
			rows := len(fx.runs.rows)
			fx.runs.mu.Unlock()
			assert.Zero(t, rows, "rejected requests never reach the executor")
		})
	}
}

func TestRunsTriggerManual_Submits(t *testing.T) {
	fx := newExecFixture(t, nil)
	svc := newRunService(t, fx, nil)

	id, err := svc.TriggerManual(context.Background(), TriggerManualRequest{
		JobTemplateID:     1,
		ServerID:          1,
		VariableOverrides: map[string]any{"path": "/tmp"},
	})
	require.NoError(t, err)
	require.Positive(t, id)

	run := fx.waitTerminal(t, id)
	assert.Equal(t, model.RunStatusSuccess, run.Status)
	assert.Equal(t, model.RunTriggerManual, run.TriggeredBy)
	assert.Nil(t, run.JobScheduleID)

	calls := fx.runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "df -h /tmp", calls[0].Command)
}

func TestRunsTriggerSchedule_CountsAsManual(t *testing.T) {
	fx := newExecFixture(t, nil)
	fx.schedules.put(&model.JobSchedule{
		ID: 9, Name: "hourly-disk", JobTemplateID: 1, ServerID: 1,
		Schedule: "0 0 * * * *", Enabled: true,
		TimeoutSeconds: intPtr(120),
	})
	svc := newRunService(t, fx, nil)

	id, err := svc.TriggerSchedule(context.Background(), 9)
	require.NoError(t, err)

	run := fx.waitTerminal(t, id)
	assert.Equal(t, model.RunStatusSuccess, run.Status)
	assert.Equal(t, model.RunTriggerManual, run.TriggeredBy)
	require.NotNil(t, run.JobScheduleID)
	assert.Equal(t, int64(9), *run.JobScheduleID)

	calls := fx.runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 120*time.Second, calls[0].Timeout, "the schedule's timeout override applies")

	// Bookkeeping goes to the manual counter, not the scheduled slot.
	fx.schedules.mu.Lock()
	manual := append([]int64(nil), fx.schedules.manualRuns...)
	fx.schedules.mu.Unlock()
	assert.Equal(t, []int64{9}, manual)

	fx.runs.mu.Lock()
	claims := len(fx.runs.claims)
	fx.runs.mu.Unlock()
	assert.Zero(t, claims, "firing by hand never claims the cron slot")
}

func TestRunsTriggerSchedule_Errors(t *testing.T) {
	t.Run("missing schedule", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		svc := newRunService(t, fx, nil)

		_, err := svc.TriggerSchedule(context.Background(), 404)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("submission failure skips the manual counter", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		fx.schedules.put(&model.JobSchedule{
			ID: 9, Name: "broken", JobTemplateID: 99, ServerID: 1,
			Schedule: "0 0 * * * *", Enabled: true,
		})
		svc := newRunService(t, fx, nil)

		_, err := svc.TriggerSchedule(context.Background(), 9)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))

		fx.schedules.mu.Lock()
		manual := len(fx.schedules.manualRuns)
		fx.schedules.mu.Unlock()
		assert.Zero(t, manual)
	})
}

func TestRunsCancel(t *testing.T) {
	t.Run("local run cancelled in place", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		fx.runner.respond(func(ctx context.Context, spec dispatch.Spec) (dispatch.Result, error) {
			<-ctx.Done()
			return dispatch.Result{ExitCode: -1, Status: dispatch.StatusCancelled}, nil
		})
		bus := &fakeControlBus{}
		svc := newRunService(t, fx, bus)

		id, err := svc.TriggerManual(context.Background(), TriggerManualRequest{
			JobTemplateID: 1, ServerID: 1,
		})
		require.NoError(t, err)
		require.Eventually(t, func() bool { return len(fx.runner.calls()) == 1 },
			time.Second, 5*time.Millisecond)

		require.NoError(t, svc.Cancel(context.Background(), id))
		run := fx.waitTerminal(t, id)
		assert.Equal(t, model.RunStatusCancelled, run.Status)

		bus.mu.Lock()
		forwarded := len(bus.cancels)
		bus.mu.Unlock()
		assert.Zero(t, forwarded, "local cancels never touch the control bus")
	})

	t.Run("remote run forwarded over the control bus", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		bus := &fakeControlBus{}
		svc := newRunService(t, fx, bus)
		row := fx.runs.seedRunning(1, 1, nil, time.Now().UTC())

		require.NoError(t, svc.Cancel(context.Background(), row.ID))

		bus.mu.Lock()
		forwarded := append([]int64(nil), bus.cancels...)
		bus.mu.Unlock()
		assert.Equal(t, []int64{row.ID}, forwarded)
	})

	t.Run("terminal run is a no-op", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		bus := &fakeControlBus{}
		svc := newRunService(t, fx, bus)
		row := fx.runs.seedRunning(1, 1, nil, time.Now().UTC())
		_, err := fx.runs.Finish(context.Background(), row.ID, model.FinishJobRunRequest{
			Status: model.RunStatusSuccess, ExitCode: intPtr(0), Output: "ok",
		})
		require.NoError(t, err)

		require.NoError(t, svc.Cancel(context.Background(), row.ID))

		bus.mu.Lock()
		forwarded := len(bus.cancels)
		bus.mu.Unlock()
		assert.Zero(t, forwarded)
	})

	t.Run("missing run", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		svc := newRunService(t, fx, &fakeControlBus{})

		err := svc.Cancel(context.Background(), 404)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("no control bus degrades to a warning", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		svc := newRunService(t, fx, nil)
		row := fx.runs.seedRunning(1, 1, nil, time.Now().UTC())

		assert.NoError(t, svc.Cancel(context.Background(), row.ID))
	})

	t.Run("control bus failure propagates", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		bus := &fakeControlBus{cancelErr: errors.New("bus unreachable")}
		svc := newRunService(t, fx, bus)
		row := fx.runs.seedRunning(1, 1, nil, time.Now().UTC())

		err := svc.Cancel(context.Background(), row.ID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bus unreachable")
	})
}

func TestRunsGetWithSteps(t *testing.T) {
	t.Run("composite run returns its steps", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		fx.seedCompositeTemplate()
		svc := newRunService(t, fx, nil)

		id, err := svc.TriggerManual(context.Background(), TriggerManualRequest{
			JobTemplateID: 2, ServerID: 1,
		})
		require.NoError(t, err)
		fx.waitTerminal(t, id)

		run, steps, err := svc.GetWithSteps(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, run.ID)
		require.Len(t, steps, 3)
	})

	t.Run("simple run has no steps", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		svc := newRunService(t, fx, nil)
		row := fx.runs.seedRunning(1, 1, nil, time.Now().UTC())

		run, steps, err := svc.GetWithSteps(context.Background(), row.ID)
		require.NoError(t, err)
		assert.Equal(t, row.ID, run.ID)
		assert.Empty(t, steps)
	})

	t.Run("missing run", func(t *testing.T) {
		fx := newExecFixture(t, nil)
		svc := newRunService(t, fx, nil)

		_, _, err := svc.GetWithSteps(context.Background(), 404)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}
