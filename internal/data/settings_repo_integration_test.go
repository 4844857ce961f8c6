package data

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
	"github.com/hullcrest/armada/internal/testutil"
)

// TestSettingsRepo_Integration_SeededDefaults tests that the migration seed is
// present and readable through the repo.
func TestSettingsRepo_Integration_SeededDefaults(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSettingsRepo(db)
		ctx := context.Background()

		all, err := repo.All(ctx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(all), 10, "migration seed must be present")

		byKey := make(map[string]*model.Setting, len(all))
		for _, s := range all {
			byKey[s.Key] = s
		}
		require.Contains(t, byKey, model.SettingJobsRetentionDays)
		require.Contains(t, byKey, model.SettingSchedulerCheckInterval)
		require.Contains(t, byKey, model.SettingNotificationsEnabled)
		require.Contains(t, byKey, model.SettingTimezone)

		retention := byKey[model.SettingJobsRetentionDays]
		assert.Equal(t, model.SettingTypeInteger, retention.ValueType)
		days, err := retention.Int()
		require.NoError(t, err)
		assert.Equal(t, 90, days)

		enabled, err := byKey[model.SettingNotificationsEnabled].Bool()
		require.NoError(t, err)
		assert.True(t, enabled)

		_, err = repo.Get(ctx, "no.such.key")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

// TestSettingsRepo_Integration_UpdateValidatesType tests that value updates
// are checked against the stored value_type before writing.
func TestSettingsRepo_Integration_UpdateValidatesType(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSettingsRepo(db)
		ctx := context.Background()

		updated, err := repo.Update(ctx, model.SettingJobsMaxConcurrent, model.UpdateSettingRequest{Value: "12"})
		require.NoError(t, err)
		assert.Equal(t, "12", updated.Value)

		got, err := repo.Get(ctx, model.SettingJobsMaxConcurrent)
		require.NoError(t, err)
		assert.Equal(t, "12", got.Value)

		// An integer setting rejects non-numeric values
		_, err = repo.Update(ctx, model.SettingJobsMaxConcurrent, model.UpdateSettingRequest{Value: "lots"})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))

		// A boolean setting rejects anything but true/false
		_, err = repo.Update(ctx, model.SettingNotificationsEnabled, model.UpdateSettingRequest{Value: "probably"})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))

		// Unknown keys cannot be created through Update
		_, err = repo.Update(ctx, "made.up.key", model.UpdateSettingRequest{Value: "1"})
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))

		// The failed updates left the stored values alone
		got, err = repo.Get(ctx, model.SettingJobsMaxConcurrent)
		require.NoError(t, err)
		assert.Equal(t, "12", got.Value)
	})
}
