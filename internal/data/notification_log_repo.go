package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/hullcrest/armada/internal/data/database"
	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// NotificationLogRepo provides database operations for the delivery audit trail.
type NotificationLogRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewNotificationLogRepo creates a NotificationLogRepo with the real clock.
func NewNotificationLogRepo(db *sql.DB) *NotificationLogRepo {
	return &NotificationLogRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewNotificationLogRepoWithTimeProvider creates a NotificationLogRepo with a custom clock (tests).
func NewNotificationLogRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *NotificationLogRepo {
	return &NotificationLogRepo{DB: db, timeProvider: tp}
}

const (
	notificationLogColumns = `id, channel_id, policy_id, job_run_id, title, body,
		priority, success, error_message, retry_count, sent_at`

	notificationLogInsertQuery = `
		INSERT INTO notification_log (channel_id, policy_id, job_run_id, title,
			body, priority, success, error_message, retry_count, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + notificationLogColumns
)

// Insert records the final outcome of one delivery attempt.
func (r *NotificationLogRepo) Insert(ctx context.Context, req *model.LogNotificationRequest) (*model.NotificationLog, error) {
	if req == nil {
		return nil, apperrors.Validation("log notification request is required")
	}
	if req.ChannelID <= 0 {
		return nil, apperrors.Validation("channel_id is required")
	}

	return queryOne[model.NotificationLog](ctx, r.DB, "notification log entry", notificationLogInsertQuery,
		req.ChannelID, req.PolicyID, req.JobRunID, req.Title, req.Body,
		req.Priority, req.Success, req.ErrorMessage, req.RetryCount,
		r.timeProvider.Now().UTC())
}

// List retrieves log entries filtered per opts, most recent first.
func (r *NotificationLogRepo) List(ctx context.Context, opts model.NotificationLogListOptions) ([]*model.NotificationLog, error) {
	limit, offset := normalizePagination(opts.Limit, opts.Offset)

	queryOpts := []database.ListQueryOption{
		database.WithLimit(limit),
		database.WithOffset(offset),
		database.WithOrderBy("sent_at", sortDirDesc),
		database.WithTieBreak("id"),
	}
	if opts.ChannelID != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("channel_id", database.Equal, *opts.ChannelID),
		))
	}
	if opts.PolicyID != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("policy_id", database.Equal, *opts.PolicyID),
		))
	}
	if opts.JobRunID != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("job_run_id", database.Equal, *opts.JobRunID),
		))
	}
	if opts.Success != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("success", database.Equal, *opts.Success),
		))
	}

	query, args := database.BuildListQuery(database.NewListQueryOptions("notification_log", queryOpts...))
	return queryMany[model.NotificationLog](ctx, r.DB, query, args...)
}

// CountForPolicySince counts deliveries a policy produced at or after since.
// The throttle counts attempts, failed ones included, so a flapping channel
// cannot amplify traffic.
func (r *NotificationLogRepo) CountForPolicySince(ctx context.Context, policyID int64, since time.Time) (int, error) {
	return queryScalar[int](ctx, r.DB,
		`SELECT COUNT(*) FROM notification_log WHERE policy_id = $1 AND sent_at >= $2`,
		policyID, since)
}

// Prune deletes log entries sent before olderThan and reports how many rows went.
func (r *NotificationLogRepo) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	return execCommand(ctx, r.DB,
		`DELETE FROM notification_log WHERE sent_at < $1`, olderThan)
}
