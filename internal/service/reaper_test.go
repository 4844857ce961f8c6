package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hullcrest/armada/internal/domain/model"
)

type reaperFixture struct {
	runs     *fakeRunRepo
	log      *fakeLogRepo
	settings *SettingsService
	clock    *stubClock
}

func newReaperFixture(t *testing.T, settingOverrides map[string]string) *reaperFixture {
	t.Helper()
	return &reaperFixture{
		runs:     newFakeRunRepo(),
		log:      newFakeLogRepo(),
		settings: newTestSettings(t, settingOverrides),
		clock:    &stubClock{now: time.Now().UTC()},
	}
}

func (fx *reaperFixture) reaper(t *testing.T, interval, staleAge time.Duration) *ReaperService {
	t.Helper()
	reaper, err := NewReaperService(ReaperServiceOptions{
		Runs:         fx.runs,
		Log:          fx.log,
		Settings:     fx.settings,
		Interval:     interval,
		StaleRunAge:  staleAge,
		TimeProvider: fx.clock,
		Logger:       testLogger(),
	})
	require.NoError(t, err)
	return reaper
}

func TestReaperRunOnce_AllSteps(t *testing.T) {
	fx := newReaperFixture(t, nil)
	stale := fx.runs.seedRunning(1, 1, nil, fx.clock.Now().Add(-3*time.Hour))
	fresh := fx.runs.seedRunning(1, 1, nil, fx.clock.Now().Add(-10*time.Minute))
	reaper := fx.reaper(t, time.Hour, time.Hour)

	require.NoError(t, reaper.RunOnce(context.Background()))

	// Abandoned rows fail with a readable reason; in-flight ones are left alone.
	staleRow := fx.runs.snapshot(t, stale.ID)
	assert.Equal(t, model.RunStatusFailure, staleRow.Status)
	assert.Contains(t, staleRow.Error, "run abandoned")
	assert.Equal(t, model.RunStatusRunning, fx.runs.status(fresh.ID))

	fx.runs.mu.Lock()
	staleCalls := append([]time.Time(nil), fx.runs.failStaleCalls...)
	pruneCalls := append([]time.Time(nil), fx.runs.pruneCalls...)
	fx.runs.mu.Unlock()
	require.Len(t, staleCalls, 1)
	assert.True(t, staleCalls[0].Equal(fx.clock.Now().Add(-time.Hour)))

	// Both prunes use the retention horizon, 90 days by default.
	horizon := fx.clock.Now().UTC().AddDate(0, 0, -90)
	require.Len(t, pruneCalls, 1)
	assert.True(t, pruneCalls[0].Equal(horizon))

	fx.log.mu.Lock()
	logPrunes := append([]time.Time(nil), fx.log.pruneCall...)
	fx.log.mu.Unlock()
	require.Len(t, logPrunes, 1)
	assert.True(t, logPrunes[0].Equal(horizon))
}

func TestReaperRunOnce_RetentionZeroKeepsHistory(t *testing.T) {
	fx := newReaperFixture(t, map[string]string{
		model.SettingJobsRetentionDays: "0",
	})
	reaper := fx.reaper(t, time.Hour, time.Hour)

	require.NoError(t, reaper.RunOnce(context.Background()))

	fx.runs.mu.Lock()
	staleCalls := len(fx.runs.failStaleCalls)
	pruneCalls := len(fx.runs.pruneCalls)
	fx.runs.mu.Unlock()
	assert.Equal(t, 1, staleCalls, "stale recovery is not retention, it always runs")
	assert.Zero(t, pruneCalls)

	fx.log.mu.Lock()
	logPrunes := len(fx.log.pruneCall)
	fx.log.mu.Unlock()
	assert.Zero(t, logPrunes)
}

func TestReaperRunOnce_ContinuesPastFailures(t *testing.T) {
	fx := newReaperFixture(t, nil)
	fx.runs.failStaleErr = errors.New("lock timeout")
	fx.runs.pruneErr = errors.New("disk full")
	reaper := fx.reaper(t, time.Hour, time.Hour)

	err := reaper.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock timeout")
	assert.Contains(t, err.Error(), "disk full")

	// The notification log prune still ran after two failed steps.
	fx.log.mu.Lock()
	logPrunes := len(fx.log.pruneCall)
	fx.log.mu.Unlock()
	assert.Equal(t, 1, logPrunes)
}

func TestReaperRun_StopsOnCancel(t *testing.T) {
	fx := newReaperFixture(t, nil)
	reaper := fx.reaper(t, 10*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reaper.Run(ctx) }()

	require.Eventually(t, func() bool {
		fx.runs.mu.Lock()
		defer fx.runs.mu.Unlock()
		return len(fx.runs.failStaleCalls) >= 2
	}, time.Second, 5*time.Millisecond, "loop should keep passing on the ticker")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a graceful stop")
	case <-time.After(time.Second):
		t.Fatal("retention loop did not stop")
	}
}

func TestReaperRun_DeadlineReported(t *testing.T) {
	fx := newReaperFixture(t, nil)
	reaper := fx.reaper(t, 10*time.Millisecond, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := reaper.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewReaperService_RequiresDependencies(t *testing.T) {
	fx := newReaperFixture(t, nil)
	tests := []struct {
		name string
		opts ReaperServiceOptions
	}{
		{"missing runs", ReaperServiceOptions{Log: fx.log, Settings: fx.settings}},
		{"missing log", ReaperServiceOptions{Runs: fx.runs, Settings: fx.settings}},
		{"missing settings", ReaperServiceOptions{Runs: fx.runs, Log: fx.log}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReaperService(tt.opts)
			assert.Error(t, err)
		})
	}
}
