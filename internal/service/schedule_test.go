package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

type scheduleFixture struct {
	repo     *fakeScheduleRepo
	bus      *fakeControlBus
	clock    *stubClock
	settings *SettingsService
}

func newScheduleFixture(t *testing.T, settingOverrides map[string]string) *scheduleFixture {
	t.Helper()
	return &scheduleFixture{
		repo:     newFakeScheduleRepo(),
		bus:      &fakeControlBus{},
		clock:    &stubClock{now: time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)},
		settings: newTestSettings(t, settingOverrides),
	}
}

func (fx *scheduleFixture) service(t *testing.T) *ScheduleService {
	t.Helper()
	return NewScheduleService(ScheduleServiceOptions{
		Repo:         fx.repo,
		Settings:     fx.settings,
		ControlBus:   fx.bus,
		TimeProvider: fx.clock,
		Logger:       testLogger(),
	})
}

func createReq(name, expr string) *model.CreateJobScheduleRequest {
	return &model.CreateJobScheduleRequest{
		Name:          name,
		JobTemplateID: 1,
		ServerID:      1,
		Schedule:      expr,
	}
}

func TestScheduleCreate_SeedsNextRun(t *testing.T) {
	fx := newScheduleFixture(t, nil)
	svc := fx.service(t)

	created, err := svc.Create(context.Background(), createReq("five-minutely", "0 */5 * * * *"))
	require.NoError(t, err)
	require.NotNil(t, created.NextRunAt)
	assert.True(t, created.NextRunAt.Equal(time.Date(2026, 3, 10, 10, 35, 0, 0, time.UTC)),
		"next fire should be the slot after the current instant, got %v", created.NextRunAt)
	assert.True(t, created.Enabled)

	fx.bus.mu.Lock()
	reloads := fx.bus.reloads
	fx.bus.mu.Unlock()
	assert.Equal(t, 1, reloads, "writes nudge running daemons")
}

func TestScheduleCreate_DisabledStartsParked(t *testing.T) {
	fx := newScheduleFixture(t, nil)
	svc := fx.service(t)

	req := createReq("paused", "0 0 * * * *")
	req.Enabled = boolPtr(false)
	created, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, created.NextRunAt)
	assert.False(t, created.Enabled)
}

func TestScheduleCreate_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  *model.CreateJobScheduleRequest
		want string
	}{
		{"empty name", createReq("   ", "0 0 * * * *"), "name is required"},
		{"five fields", createReq("bad", "0 * * * *"), "6 fields"},
		{"not a cron line", createReq("bad", "every day at nine x"), "6 fields"},
		{"unparseable field", createReq("bad", "0 0 25 * * *"), "invalid cron expression"},
		{"never fires", createReq("leap", "0 0 0 30 2 *"), "never fires"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newScheduleFixture(t, nil)
			svc := fx.service(t)

			_, err := svc.Create(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err), "want validation, got %v", err)
			assert.Contains(t, err.Error(), tt.want)

			fx.bus.mu.Lock()
			reloads := fx.bus.reloads
			fx.bus.mu.Unlock()
			assert.Zero(t, reloads, "rejected writes stay quiet")
		})
	}
}

func TestScheduleCreate_FleetTimezone(t *testing.T) {
	fx := newScheduleFixture(t, map[string]string{
		model.SettingTimezone: "America/New_York",
	})
	svc := fx.service(t)

	created, err := svc.Create(context.Background(), createReq("morning-report", "0 0 9 * * *"))
	require.NoError(t, err)
	require.NotNil(t, created.NextRunAt)

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	local := created.NextRunAt.In(loc)
	assert.Equal(t, 9, local.Hour(), "09:00 means nine o'clock fleet time, not UTC")
	assert.Zero(t, local.Minute())
	assert.Zero(t, local.Second())
}

func TestScheduleCreate_ReloadIsBestEffort(t *testing.T) {
	fx := newScheduleFixture(t, nil)
	fx.bus.reloadErr = assert.AnError
	svc := fx.service(t)

	_, err := svc.Create(context.Background(), createReq("hourly", "0 0 * * * *"))
	assert.NoError(t, err, "a deaf control bus must not fail the write")
}

func TestScheduleUpdate_RecomputesNextRun(t *testing.T) {
	fx := newScheduleFixture(t, nil)
	fx.repo.put(&model.JobSchedule{
		ID: 3, Name: "hourly", JobTemplateID: 1, ServerID: 1,
		Schedule: "0 0 * * * *", Enabled: true,
		NextRunAt: timePtr(time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)),
	})
	svc := fx.service(t)

	updated, err := svc.Update(context.Background(), 3, model.UpdateJobScheduleRequest{
		Schedule: strPtr("0 15 * * * *"),
	})
	require.NoError(t, err)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.Equal(time.Date(2026, 3, 10, 11, 15, 0, 0, time.UTC)),
		"got %v", updated.NextRunAt)
}

func TestScheduleUpdate_DisableParks(t *testing.T) {
	fx := newScheduleFixture(t, nil)
	fx.repo.put(&model.JobSchedule{
		ID: 3, Name: "hourly", JobTemplateID: 1, ServerID: 1,
		Schedule: "0 0 * * * *", Enabled: true,
		NextRunAt: timePtr(time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)),
	})
	svc := fx.service(t)

	updated, err := svc.Update(context.Background(), 3, model.UpdateJobScheduleRequest{
		Enabled: boolPtr(false),
	})
	require.NoError(t, err)
	assert.Nil(t, updated.NextRunAt)
	assert.Nil(t, fx.repo.snapshot(t, 3).NextRunAt, "parked schedules carry no fire time")
}

func TestScheduleUpdate_EnableRecomputes(t *testing.T) {
	fx := newScheduleFixture(t, nil)
	fx.repo.put(&model.JobSchedule{
		ID: 3, Name: "hourly", JobTemplateID: 1, ServerID: 1,
		Schedule: "0 0 * * * *", Enabled: false,
	})
	svc := fx.service(t)

	updated, err := svc.Update(context.Background(), 3, model.UpdateJobScheduleRequest{
		Enabled: boolPtr(true),
	})
	require.NoError(t, err)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.Equal(time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)),
		"got %v", updated.NextRunAt)
}

func TestScheduleUpdate_NameOnlyKeepsSlot(t *testing.T) {
	fx := newScheduleFixture(t, nil)
	slot := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	fx.repo.put(&model.JobSchedule{
		ID: 3, Name: "hourly", JobTemplateID: 1, ServerID: 1,
		Schedule: "0 0 * * * *", Enabled: true, NextRunAt: timePtr(slot),
	})
	svc := fx.service(t)

	updated, err := svc.Update(context.Background(), 3, model.UpdateJobScheduleRequest{
		Name: strPtr("hourly-disk"),
	})
	require.NoError(t, err)
	assert.Equal(t, "hourly-disk", updated.Name)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.Equal(slot), "renames must not move the fire time")
}

func TestScheduleUpdate_Errors(t *testing.T) {
	t.Run("empty update", func(t *testing.T) {
		fx := newScheduleFixture(t, nil)
		svc := fx.service(t)

		_, err := svc.Update(context.Background(), 3, model.UpdateJobScheduleRequest{})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		assert.Contains(t, err.Error(), "at least one field")
	})

	t.Run("malformed expression", func(t *testing.T) {
		fx := newScheduleFixture(t, nil)
		svc := fx.service(t)

		_, err := svc.Update(context.Background(), 3, model.UpdateJobScheduleRequest{
			Schedule: strPtr("0 0 25 * * *"),
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("missing schedule", func(t *testing.T) {
		fx := newScheduleFixture(t, nil)
		svc := fx.service(t)

		_, err := svc.Update(context.Background(), 404, model.UpdateJobScheduleRequest{
			Enabled: boolPtr(true),
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestScheduleDelete(t *testing.T) {
	fx := newScheduleFixture(t, nil)
	fx.repo.put(&model.JobSchedule{
		ID: 3, Name: "hourly", JobTemplateID: 1, ServerID: 1,
		Schedule: "0 0 * * * *", Enabled: true,
	})
	svc := fx.service(t)

	require.NoError(t, svc.Delete(context.Background(), 3))
	_, err := fx.repo.GetByID(context.Background(), 3)
	assert.True(t, apperrors.IsNotFound(err))

	fx.bus.mu.Lock()
	reloads := fx.bus.reloads
	fx.bus.mu.Unlock()
	assert.Equal(t, 1, reloads)

	err = svc.Delete(context.Background(), 3)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestScheduleReload(t *testing.T) {
	t.Run("forwards to the control bus", func(t *testing.T) {
		fx := newScheduleFixture(t, nil)
		svc := fx.service(t)

		require.NoError(t, svc.Reload(context.Background()))
		fx.bus.mu.Lock()
		reloads := fx.bus.reloads
		fx.bus.mu.Unlock()
		assert.Equal(t, 1, reloads)
	})

	t.Run("no control bus configured", func(t *testing.T) {
		fx := newScheduleFixture(t, nil)
		svc := NewScheduleService(ScheduleServiceOptions{
			Repo:         fx.repo,
			Settings:     fx.settings,
			TimeProvider: fx.clock,
			Logger:       testLogger(),
		})

		err := svc.Reload(context.Background())
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		assert.Contains(t, err.Error(), "control bus is not configured")
	})

	t.Run("bus failure propagates", func(t *testing.T) {
		fx := newScheduleFixture(t, nil)
		fx.bus.reloadErr = assert.AnError
		svc := fx.service(t)

		assert.Error(t, svc.Reload(context.Background()))
	})
}
