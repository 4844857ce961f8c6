package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hullcrest/armada/internal/data/pgxutil"
	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// JobTemplateRepo provides database operations for job templates and their steps.
type JobTemplateRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewJobTemplateRepo creates a JobTemplateRepo with the real clock.
func NewJobTemplateRepo(db *sql.DB) *JobTemplateRepo {
	return &JobTemplateRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewJobTemplateRepoWithTimeProvider creates a JobTemplateRepo with a custom clock (tests).
func NewJobTemplateRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *JobTemplateRepo {
	return &JobTemplateRepo{DB: db, timeProvider: tp}
}

const (
	jobTemplateColumns = `id, name, display_name, job_type_id, is_composite,
		command_template_id, variables, timeout_seconds, retry_count,
		retry_delay_seconds, notify_on_success, notify_on_failure,
		notification_policy_id, created_at, updated_at`

	jobTemplateStepColumns = `id, job_template_id, step_order, name,
		command_template_id, variables, continue_on_failure, timeout_seconds,
		created_at, updated_at`

	jobTemplateGetByIDQuery = `
		SELECT ` + jobTemplateColumns + `
		FROM job_templates
		WHERE id = $1`

	jobTemplateGetByNameQuery = `
		SELECT ` + jobTemplateColumns + `
		FROM job_templates
		WHERE name = $1`

	jobTemplateStepsQuery = `
		SELECT ` + jobTemplateStepColumns + `
		FROM job_template_steps
		WHERE job_template_id = $1
		ORDER BY step_order ASC`

	jobTemplateStepInsertQuery = `
		INSERT INTO job_template_steps (job_template_id, step_order, name,
			command_template_id, variables, continue_on_failure, timeout_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

// Create inserts a job template and, for composite templates, its steps in a
// single transaction.
func (r *JobTemplateRepo) Create(ctx context.Context, req *model.CreateJobTemplateRequest) (*model.JobTemplate, error) {
	if req == nil {
		return nil, apperrors.Validation("create job template request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	variables := req.Variables
	if variables == nil {
		variables = map[string]any{}
	}
	notifyOnSuccess := false
	if req.NotifyOnSuccess != nil {
		notifyOnSuccess = *req.NotifyOnSuccess
	}
	notifyOnFailure := true
	if req.NotifyOnFailure != nil {
		notifyOnFailure = *req.NotifyOnFailure
	}

	var id int64
	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO job_templates (name, display_name, job_type_id, is_composite,
				command_template_id, variables, timeout_seconds, retry_count,
				retry_delay_seconds, notify_on_success, notify_on_failure,
				notification_policy_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id`,
			strings.TrimSpace(req.Name), req.DisplayName, req.JobTypeID, req.IsComposite,
			req.CommandTemplateID, variables, req.TimeoutSeconds, req.RetryCount,
			req.RetryDelaySeconds, notifyOnSuccess, notifyOnFailure,
			req.NotificationPolicyID,
		).Scan(&id); err != nil {
			return err
		}
		return insertTemplateSteps(ctx, tx, id, req.Steps)
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return r.GetByID(ctx, id)
}

// GetByID retrieves a job template by ID.
func (r *JobTemplateRepo) GetByID(ctx context.Context, id int64) (*model.JobTemplate, error) {
	return queryOne[model.JobTemplate](ctx, r.DB, "job template", jobTemplateGetByIDQuery, id)
}

// GetByName retrieves a job template by its unique name.
func (r *JobTemplateRepo) GetByName(ctx context.Context, name string) (*model.JobTemplate, error) {
	return queryOne[model.JobTemplate](ctx, r.DB, "job template", jobTemplateGetByNameQuery, name)
}

// ListSteps retrieves a composite template's steps ordered by step_order.
// Simple templates return an empty slice.
func (r *JobTemplateRepo) ListSteps(ctx context.Context, jobTemplateID int64) ([]*model.JobTemplateStep, error) {
	return queryMany[model.JobTemplateStep](ctx, r.DB, jobTemplateStepsQuery, jobTemplateID)
}

// List retrieves job templates filtered per opts, ordered by name.
func (r *JobTemplateRepo) List(ctx context.Context, opts model.JobTemplatesListOptions) ([]*model.JobTemplate, error) {
	limit, offset := normalizePagination(opts.Limit, opts.Offset)

	var conditions []string
	var args []any
	nextIdx := func() int { return len(args) + 1 }

	if opts.Q != nil && strings.TrimSpace(*opts.Q) != "" {
		idx := nextIdx()
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR display_name ILIKE $%d)", idx, idx))
		args = append(args, "%"+strings.TrimSpace(*opts.Q)+"%")
	}
	if opts.JobTypeID != nil {
		conditions = append(conditions, fmt.Sprintf("job_type_id = $%d", nextIdx()))
		args = append(args, *opts.JobTypeID)
	}
	if opts.IsComposite != nil {
		conditions = append(conditions, fmt.Sprintf("is_composite = $%d", nextIdx()))
		args = append(args, *opts.IsComposite)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM job_templates%s ORDER BY name LIMIT $%d OFFSET $%d`,
		jobTemplateColumns, whereClause, len(args)-1, len(args))

	return queryMany[model.JobTemplate](ctx, r.DB, query, args...)
}

// Update applies a partial update and returns the stored row. The composite
// flag cannot change; the shape constraint rejects mismatched updates.
func (r *JobTemplateRepo) Update(ctx context.Context, id int64, req model.UpdateJobTemplateRequest) (*model.JobTemplate, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	setClause, args := r.buildUpdateClause(req)
	args = append(args, id)
	query := "UPDATE job_templates SET " + setClause +
		" WHERE id = $" + strconv.Itoa(len(args)) +
		" RETURNING " + jobTemplateColumns
	return queryOne[model.JobTemplate](ctx, r.DB, "job template", query, args...)
}

func (r *JobTemplateRepo) buildUpdateClause(req model.UpdateJobTemplateRequest) (string, []any) {
	setParts := make([]string, 0, 11)
	args := make([]any, 0, 11)
	nextIdx := func() int { return len(args) + 1 }

	if req.Name != nil {
		setParts = append(setParts, fmt.Sprintf("name = $%d", nextIdx()))
		args = append(args, strings.TrimSpace(*req.Name))
	}
	if req.DisplayName != nil {
		setParts = append(setParts, fmt.Sprintf("display_name = $%d", nextIdx()))
		args = append(args, strings.TrimSpace(*req.DisplayName))
	}
	if req.CommandTemplateID != nil {
		setParts = append(setParts, fmt.Sprintf("command_template_id = $%d", nextIdx()))
		args = append(args, *req.CommandTemplateID)
	}
	if req.Variables != nil {
		setParts = append(setParts, fmt.Sprintf("variables = $%d", nextIdx()))
		args = append(args, req.Variables)
	}
	if req.TimeoutSeconds != nil {
		setParts = append(setParts, fmt.Sprintf("timeout_seconds = $%d", nextIdx()))
		args = append(args, *req.TimeoutSeconds)
	}
	if req.RetryCount != nil {
		setParts = append(setParts, fmt.Sprintf("retry_count = $%d", nextIdx()))
		args = append(args, *req.RetryCount)
	}
	if req.RetryDelaySeconds != nil {
		setParts = append(setParts, fmt.Sprintf("retry_delay_seconds = $%d", nextIdx()))
		args = append(args, *req.RetryDelaySeconds)
	}
	if req.NotifyOnSuccess != nil {
		setParts = append(setParts, fmt.Sprintf("notify_on_success = $%d", nextIdx()))
		args = append(args, *req.NotifyOnSuccess)
	}
	if req.NotifyOnFailure != nil {
		setParts = append(setParts, fmt.Sprintf("notify_on_failure = $%d", nextIdx()))
		args = append(args, *req.NotifyOnFailure)
	}
	if req.NotificationPolicyID != nil {
		if *req.NotificationPolicyID == 0 {
			setParts = append(setParts, "notification_policy_id = NULL")
		} else {
			setParts = append(setParts, fmt.Sprintf("notification_policy_id = $%d", nextIdx()))
			args = append(args, *req.NotificationPolicyID)
		}
	}

	setParts = append(setParts, fmt.Sprintf("updated_at = $%d", nextIdx()))
	args = append(args, r.timeProvider.Now().UTC())
	return strings.Join(setParts, ", "), args
}

// ReplaceSteps swaps out a composite template's step list atomically and
// returns the new steps. Simple templates are rejected.
func (r *JobTemplateRepo) ReplaceSteps(ctx context.Context, id int64, steps []model.CreateJobTemplateStepRequest) ([]*model.JobTemplateStep, error) {
	if err := model.ValidateJobTemplateSteps(steps); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		var isComposite bool
		err := tx.QueryRow(ctx,
			`SELECT is_composite FROM job_templates WHERE id = $1 FOR UPDATE`, id,
		).Scan(&isComposite)
		if err != nil {
			return err
		}
		if !isComposite {
			return apperrors.Validation("steps can only be replaced on composite templates")
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM job_template_steps WHERE job_template_id = $1`, id); err != nil {
			return err
		}
		if err := insertTemplateSteps(ctx, tx, id, steps); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE job_templates SET updated_at = $1 WHERE id = $2`,
			r.timeProvider.Now().UTC(), id)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("job template not found")
		}
		return nil, apperrors.MapDBError(err)
	}
	return r.ListSteps(ctx, id)
}

// Delete removes a job template along with its steps, schedules, and run history.
func (r *JobTemplateRepo) Delete(ctx context.Context, id int64) error {
	affected, err := execCommand(ctx, r.DB, `DELETE FROM job_templates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("job template not found")
	}
	return nil
}

func insertTemplateSteps(ctx context.Context, tx pgx.Tx, jobTemplateID int64, steps []model.CreateJobTemplateStepRequest) error {
	for i := range steps {
		s := &steps[i]
		variables := s.Variables
		if variables == nil {
			variables = map[string]any{}
		}
		if _, err := tx.Exec(ctx, jobTemplateStepInsertQuery,
			jobTemplateID, s.StepOrder, strings.TrimSpace(s.Name),
			s.CommandTemplateID, variables, s.ContinueOnFailure, s.TimeoutSeconds); err != nil {
			return err
		}
	}
	return nil
}
