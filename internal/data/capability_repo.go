package data

import (
	"context"
	"database/sql"

	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// CapabilityRepo persists per-server capability detection results.
type CapabilityRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewCapabilityRepo creates a CapabilityRepo with the real clock.
func NewCapabilityRepo(db *sql.DB) *CapabilityRepo {
	return &CapabilityRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewCapabilityRepoWithTimeProvider creates a CapabilityRepo with a custom clock (tests).
func NewCapabilityRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *CapabilityRepo {
	return &CapabilityRepo{DB: db, timeProvider: tp}
}

const capabilityColumns = `id, server_id, capability, available, version, detected_at`

// Upsert records a detection result, replacing any previous row for the same
// (server, capability) pair.
func (r *CapabilityRepo) Upsert(ctx context.Context, req *model.UpsertCapabilityRequest) (*model.ServerCapability, error) {
	if req == nil {
		return nil, apperrors.Validation("upsert capability request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	return queryOne[model.ServerCapability](ctx, r.DB, "server capability", `
		INSERT INTO server_capabilities (server_id, capability, available, version, detected_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (server_id, capability) DO UPDATE
		SET available = EXCLUDED.available,
		    version = EXCLUDED.version,
		    detected_at = EXCLUDED.detected_at
		RETURNING `+capabilityColumns,
		req.ServerID, req.Capability, req.Available, req.Version, r.timeProvider.Now().UTC())
}

// ListByServer returns every recorded capability for a server, ordered by name.
func (r *CapabilityRepo) ListByServer(ctx context.Context, serverID int64) ([]*model.ServerCapability, error) {
	return queryMany[model.ServerCapability](ctx, r.DB, `
		SELECT `+capabilityColumns+`
		FROM server_capabilities
		WHERE server_id = $1
		ORDER BY capability`, serverID)
}

// DeleteByServer clears all recorded capabilities for a server, typically
// before a full re-detection.
func (r *CapabilityRepo) DeleteByServer(ctx context.Context, serverID int64) error {
	_, err := execCommand(ctx, r.DB, `DELETE FROM server_capabilities WHERE server_id = $1`, serverID)
	return err
}
