package data

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/hullcrest/armada/internal/data/database"
	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// NotificationChannelRepo provides database operations for notification channels.
type NotificationChannelRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewNotificationChannelRepo creates a NotificationChannelRepo with the real clock.
func NewNotificationChannelRepo(db *sql.DB) *NotificationChannelRepo {
	return &NotificationChannelRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewNotificationChannelRepoWithTimeProvider creates a NotificationChannelRepo with a custom clock (tests).
func NewNotificationChannelRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *NotificationChannelRepo {
	return &NotificationChannelRepo{DB: db, timeProvider: tp}
}

const (
	channelColumns = `id, name, kind, config, enabled, default_priority,
		last_test_at, last_test_success, created_at, updated_at`

	channelGetByIDQuery = `
		SELECT ` + channelColumns + `
		FROM notification_channels
		WHERE id = $1`

	channelGetByNameQuery = `
		SELECT ` + channelColumns + `
		FROM notification_channels
		WHERE name = $1`

	channelInsertQuery = `
		INSERT INTO notification_channels (name, kind, config, enabled, default_priority)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + channelColumns

	channelRecordTestQuery = `
		UPDATE notification_channels
		SET last_test_at = $2, last_test_success = $3, updated_at = $2
		WHERE id = $1`
)

// Create inserts a notification channel.
func (r *NotificationChannelRepo) Create(ctx context.Context, req *model.CreateNotificationChannelRequest) (*model.NotificationChannel, error) {
	if req == nil {
		return nil, apperrors.Validation("create notification channel request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	priority := 5
	if req.DefaultPriority != nil {
		priority = *req.DefaultPriority
	}
	return queryOne[model.NotificationChannel](ctx, r.DB, "notification channel", channelInsertQuery,
		strings.TrimSpace(req.Name), req.Kind, req.Config, enabled, priority)
}

// GetByID retrieves a notification channel by ID.
func (r *NotificationChannelRepo) GetByID(ctx context.Context, id int64) (*model.NotificationChannel, error) {
	return queryOne[model.NotificationChannel](ctx, r.DB, "notification channel", channelGetByIDQuery, id)
}

// GetByName retrieves a notification channel by its unique name.
func (r *NotificationChannelRepo) GetByName(ctx context.Context, name string) (*model.NotificationChannel, error) {
	return queryOne[model.NotificationChannel](ctx, r.DB, "notification channel", channelGetByNameQuery, name)
}

// List retrieves notification channels filtered per opts, ordered by name.
func (r *NotificationChannelRepo) List(ctx context.Context, opts model.ChannelsListOptions) ([]*model.NotificationChannel, error) {
	limit, offset := normalizePagination(opts.Limit, opts.Offset)

	queryOpts := []database.ListQueryOption{
		database.WithLimit(limit),
		database.WithOffset(offset),
		database.WithOrderBy("name", sortDirAsc),
		database.WithTieBreak("id"),
	}
	if opts.Kind != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("kind", database.Equal, *opts.Kind),
		))
	}
	if opts.Enabled != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("enabled", database.Equal, *opts.Enabled),
		))
	}

	query, args := database.BuildListQuery(database.NewListQueryOptions("notification_channels", queryOpts...))
	return queryMany[model.NotificationChannel](ctx, r.DB, query, args...)
}

// Update applies a partial update and returns the stored row. Kind never changes.
func (r *NotificationChannelRepo) Update(ctx context.Context, id int64, req model.UpdateNotificationChannelRequest) (*model.NotificationChannel, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	setClause, args := r.buildUpdateClause(req)
	args = append(args, id)
	query := "UPDATE notification_channels SET " + setClause +
		" WHERE id = $" + strconv.Itoa(len(args)) +
		" RETURNING " + channelColumns
	return queryOne[model.NotificationChannel](ctx, r.DB, "notification channel", query, args...)
}

func (r *NotificationChannelRepo) buildUpdateClause(req model.UpdateNotificationChannelRequest) (string, []any) {
	setParts := make([]string, 0, 5)
	args := make([]any, 0, 5)
	nextIdx := func() int { return len(args) + 1 }

	if req.Name != nil {
		setParts = append(setParts, fmt.Sprintf("name = $%d", nextIdx()))
		args = append(args, strings.TrimSpace(*req.Name))
	}
	if req.Config != nil {
		setParts = append(setParts, fmt.Sprintf("config = $%d", nextIdx()))
		args = append(args, req.Config)
	}
	if req.Enabled != nil {
		setParts = append(setParts, fmt.Sprintf("enabled = $%d", nextIdx()))
		args = append(args, *req.Enabled)
	}
	if req.DefaultPriority != nil {
		setParts = append(setParts, fmt.Sprintf("default_priority = $%d", nextIdx()))
		args = append(args, *req.DefaultPriority)
	}

	setParts = append(setParts, fmt.Sprintf("updated_at = $%d", nextIdx()))
	args = append(args, r.timeProvider.Now().UTC())
	return strings.Join(setParts, ", "), args
}

// RecordTest stamps the outcome of a test delivery onto the channel.
func (r *NotificationChannelRepo) RecordTest(ctx context.Context, id int64, ok bool) error {
	affected, err := execCommand(ctx, r.DB, channelRecordTestQuery,
		id, r.timeProvider.Now().UTC(), ok)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("notification channel not found")
	}
	return nil
}

// Delete removes a notification channel. Fails with InUse while a policy
// references it; log entries cascade.
func (r *NotificationChannelRepo) Delete(ctx context.Context, id int64) error {
	affected, err := execCommand(ctx, r.DB, `DELETE FROM notification_channels WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("notification channel not found")
	}
	return nil
}
