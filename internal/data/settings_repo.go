package data

import (
	"context"
	"database/sql"

	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// SettingsRepo provides database operations for runtime tunables. Keys are
// fixed by the migration seed; only values change.
type SettingsRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewSettingsRepo creates a SettingsRepo with the real clock.
func NewSettingsRepo(db *sql.DB) *SettingsRepo {
	return &SettingsRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewSettingsRepoWithTimeProvider creates a SettingsRepo with a custom clock (tests).
func NewSettingsRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *SettingsRepo {
	return &SettingsRepo{DB: db, timeProvider: tp}
}

const settingColumns = `key, value, value_type, description, updated_at`

// Get retrieves one setting by key.
func (r *SettingsRepo) Get(ctx context.Context, key string) (*model.Setting, error) {
	return queryOne[model.Setting](ctx, r.DB, "setting",
		`SELECT `+settingColumns+` FROM settings WHERE key = $1`, key)
}

// All retrieves every setting ordered by key.
func (r *SettingsRepo) All(ctx context.Context) ([]*model.Setting, error) {
	return queryMany[model.Setting](ctx, r.DB,
		`SELECT `+settingColumns+` FROM settings ORDER BY key ASC`)
}

// Update changes one setting's value after checking it parses under the
// stored type, and returns the stored row.
func (r *SettingsRepo) Update(ctx context.Context, key string, req model.UpdateSettingRequest) (*model.Setting, error) {
	current, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateSettingValue(current.ValueType, req.Value); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	return queryOne[model.Setting](ctx, r.DB, "setting", `
		UPDATE settings
		SET value = $2, updated_at = $3
		WHERE key = $1
		RETURNING `+settingColumns,
		key, req.Value, r.timeProvider.Now().UTC())
}
