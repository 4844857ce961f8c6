package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hullcrest/armada/internal/data/pgxutil"
	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// NotificationPolicyRepo provides database operations for notification
// policies and their channel links.
type NotificationPolicyRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewNotificationPolicyRepo creates a NotificationPolicyRepo with the real clock.
func NewNotificationPolicyRepo(db *sql.DB) *NotificationPolicyRepo {
	return &NotificationPolicyRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewNotificationPolicyRepoWithTimeProvider creates a NotificationPolicyRepo with a custom clock (tests).
func NewNotificationPolicyRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *NotificationPolicyRepo {
	return &NotificationPolicyRepo{DB: db, timeProvider: tp}
}

// policySelect pulls the linked channel IDs alongside each row so the
// evaluator never needs a second query per policy.
const policySelect = `
	SELECT p.id, p.name, p.enabled, p.on_success, p.on_failure, p.on_timeout,
		p.filters, p.min_severity, p.max_per_hour, p.title_template,
		p.body_template, p.success_title_template, p.success_body_template,
		p.failure_title_template, p.failure_body_template, p.include_output,
		p.output_max_lines,
		COALESCE((
			SELECT array_agg(pc.channel_id ORDER BY pc.channel_id)
			FROM notification_policy_channels pc
			WHERE pc.policy_id = p.id
		), '{}') AS channel_ids,
		p.created_at, p.updated_at
	FROM notification_policies p`

// Create inserts a policy and its channel links in a single transaction.
func (r *NotificationPolicyRepo) Create(ctx context.Context, req *model.CreateNotificationPolicyRequest) (*model.NotificationPolicy, error) {
	if req == nil {
		return nil, apperrors.Validation("create notification policy request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	includeOutput := false
	if req.IncludeOutput != nil {
		includeOutput = *req.IncludeOutput
	}

	var id int64
	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO notification_policies (name, enabled, on_success, on_failure,
				on_timeout, filters, min_severity, max_per_hour, title_template,
				body_template, success_title_template, success_body_template,
				failure_title_template, failure_body_template, include_output,
				output_max_lines)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING id`,
			strings.TrimSpace(req.Name), enabled, req.OnSuccess, req.OnFailure,
			req.OnTimeout, req.Filters, req.MinSeverity, req.MaxPerHour,
			req.TitleTemplate, req.BodyTemplate, req.SuccessTitleTemplate,
			req.SuccessBodyTemplate, req.FailureTitleTemplate, req.FailureBodyTemplate,
			includeOutput, *req.OutputMaxLines,
		).Scan(&id); err != nil {
			return err
		}
		return insertPolicyChannels(ctx, tx, id, req.ChannelIDs)
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return r.GetByID(ctx, id)
}

// GetByID retrieves a policy with its channel IDs.
func (r *NotificationPolicyRepo) GetByID(ctx context.Context, id int64) (*model.NotificationPolicy, error) {
	return queryOne[model.NotificationPolicy](ctx, r.DB, "notification policy",
		policySelect+` WHERE p.id = $1`, id)
}

// GetByName retrieves a policy by its unique name.
func (r *NotificationPolicyRepo) GetByName(ctx context.Context, name string) (*model.NotificationPolicy, error) {
	return queryOne[model.NotificationPolicy](ctx, r.DB, "notification policy",
		policySelect+` WHERE p.name = $1`, name)
}

// List retrieves policies filtered per opts, ordered by name.
func (r *NotificationPolicyRepo) List(ctx context.Context, opts model.PoliciesListOptions) ([]*model.NotificationPolicy, error) {
	limit, offset := normalizePagination(opts.Limit, opts.Offset)

	var conditions []string
	var args []any
	nextIdx := func() int { return len(args) + 1 }

	if opts.Enabled != nil {
		conditions = append(conditions, fmt.Sprintf("p.enabled = $%d", nextIdx()))
		args = append(args, *opts.Enabled)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`%s%s ORDER BY p.name LIMIT $%d OFFSET $%d`,
		policySelect, whereClause, len(args)-1, len(args))

	return queryMany[model.NotificationPolicy](ctx, r.DB, query, args...)
}

// ListEnabled retrieves every enabled policy. The evaluator walks these for
// each finished run.
func (r *NotificationPolicyRepo) ListEnabled(ctx context.Context) ([]*model.NotificationPolicy, error) {
	return queryMany[model.NotificationPolicy](ctx, r.DB,
		policySelect+` WHERE p.enabled ORDER BY p.id ASC`)
}

// Update applies a partial update, replacing the channel links when
// channel_ids is present, and returns the stored row.
func (r *NotificationPolicyRepo) Update(ctx context.Context, id int64, req model.UpdateNotificationPolicyRequest) (*model.NotificationPolicy, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	setClause, args := r.buildUpdateClause(req)
	args = append(args, id)

	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx,
			fmt.Sprintf("UPDATE notification_policies SET %s WHERE id = $%d", setClause, len(args)),
			args...)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		if req.ChannelIDs != nil {
			if _, err := tx.Exec(ctx,
				`DELETE FROM notification_policy_channels WHERE policy_id = $1`, id); err != nil {
				return err
			}
			return insertPolicyChannels(ctx, tx, id, req.ChannelIDs)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("notification policy not found")
		}
		return nil, apperrors.MapDBError(err)
	}
	return r.GetByID(ctx, id)
}

func (r *NotificationPolicyRepo) buildUpdateClause(req model.UpdateNotificationPolicyRequest) (string, []any) {
	setParts := make([]string, 0, 17)
	args := make([]any, 0, 17)
	nextIdx := func() int { return len(args) + 1 }

	if req.Name != nil {
		setParts = append(setParts, fmt.Sprintf("name = $%d", nextIdx()))
		args = append(args, strings.TrimSpace(*req.Name))
	}
	if req.Enabled != nil {
		setParts = append(setParts, fmt.Sprintf("enabled = $%d", nextIdx()))
		args = append(args, *req.Enabled)
	}
	if req.OnSuccess != nil {
		setParts = append(setParts, fmt.Sprintf("on_success = $%d", nextIdx()))
		args = append(args, *req.OnSuccess)
	}
	if req.OnFailure != nil {
		setParts = append(setParts, fmt.Sprintf("on_failure = $%d", nextIdx()))
		args = append(args, *req.OnFailure)
	}
	if req.OnTimeout != nil {
		setParts = append(setParts, fmt.Sprintf("on_timeout = $%d", nextIdx()))
		args = append(args, *req.OnTimeout)
	}
	if req.Filters != nil {
		setParts = append(setParts, fmt.Sprintf("filters = $%d", nextIdx()))
		args = append(args, *req.Filters)
	}
	if req.MinSeverity != nil {
		setParts = append(setParts, fmt.Sprintf("min_severity = $%d", nextIdx()))
		args = append(args, *req.MinSeverity)
	}
	if req.MaxPerHour != nil {
		if *req.MaxPerHour == 0 {
			setParts = append(setParts, "max_per_hour = NULL")
		} else {
			setParts = append(setParts, fmt.Sprintf("max_per_hour = $%d", nextIdx()))
			args = append(args, *req.MaxPerHour)
		}
	}
	if req.TitleTemplate != nil {
		setParts = append(setParts, fmt.Sprintf("title_template = $%d", nextIdx()))
		args = append(args, *req.TitleTemplate)
	}
	if req.BodyTemplate != nil {
		setParts = append(setParts, fmt.Sprintf("body_template = $%d", nextIdx()))
		args = append(args, *req.BodyTemplate)
	}
	if req.SuccessTitleTemplate != nil {
		appendNullableText(&setParts, &args, nextIdx, "success_title_template", *req.SuccessTitleTemplate)
	}
	if req.SuccessBodyTemplate != nil {
		appendNullableText(&setParts, &args, nextIdx, "success_body_template", *req.SuccessBodyTemplate)
	}
	if req.FailureTitleTemplate != nil {
		appendNullableText(&setParts, &args, nextIdx, "failure_title_template", *req.FailureTitleTemplate)
	}
	if req.FailureBodyTemplate != nil {
		appendNullableText(&setParts, &args, nextIdx, "failure_body_template", *req.FailureBodyTemplate)
	}
	if req.IncludeOutput != nil {
		setParts = append(setParts, fmt.Sprintf("include_output = $%d", nextIdx()))
		args = append(args, *req.IncludeOutput)
	}
	if req.OutputMaxLines != nil {
		setParts = append(setParts, fmt.Sprintf("output_max_lines = $%d", nextIdx()))
		args = append(args, *req.OutputMaxLines)
	}

	setParts = append(setParts, fmt.Sprintf("updated_at = $%d", nextIdx()))
	args = append(args, r.timeProvider.Now().UTC())
	return strings.Join(setParts, ", "), args
}

// appendNullableText treats an empty string as "clear the override".
func appendNullableText(setParts *[]string, args *[]any, nextIdx func() int, column, value string) {
	if strings.TrimSpace(value) == "" {
		*setParts = append(*setParts, column+" = NULL")
		return
	}
	*setParts = append(*setParts, fmt.Sprintf("%s = $%d", column, nextIdx()))
	*args = append(*args, value)
}

// Delete removes a policy. Channel links cascade; job templates and log
// entries keep their rows with the reference nulled.
func (r *NotificationPolicyRepo) Delete(ctx context.Context, id int64) error {
	affected, err := execCommand(ctx, r.DB, `DELETE FROM notification_policies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("notification policy not found")
	}
	return nil
}

func insertPolicyChannels(ctx context.Context, tx pgx.Tx, policyID int64, channelIDs []int64) error {
	for _, channelID := range channelIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO notification_policy_channels (policy_id, channel_id) VALUES ($1, $2)`,
			policyID, channelID); err != nil {
			return err
		}
	}
	return nil
}
