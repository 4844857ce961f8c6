package data

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// JobTypeRepo provides database operations for job types.
type JobTypeRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewJobTypeRepo creates a JobTypeRepo with the real clock.
func NewJobTypeRepo(db *sql.DB) *JobTypeRepo {
	return &JobTypeRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

const (
	jobTypeColumns = `id, name, display_name, requires_capabilities, enabled, created_at, updated_at`

	jobTypeGetByIDQuery = `
		SELECT ` + jobTypeColumns + `
		FROM job_types
		WHERE id = $1`

	jobTypeGetByNameQuery = `
		SELECT ` + jobTypeColumns + `
		FROM job_types
		WHERE name = $1`

	jobTypeInsertQuery = `
		INSERT INTO job_types (name, display_name, requires_capabilities, enabled)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + jobTypeColumns
)

// Create inserts a new job type.
func (r *JobTypeRepo) Create(ctx context.Context, req *model.CreateJobTypeRequest) (*model.JobType, error) {
	if req == nil {
		return nil, apperrors.Validation("create job type request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	caps := req.RequiresCapabilities
	if caps == nil {
		caps = []string{}
	}
	return queryOne[model.JobType](ctx, r.DB, "job type", jobTypeInsertQuery,
		strings.TrimSpace(req.Name), req.DisplayName, caps, enabled)
}

// GetByID retrieves a job type by ID.
func (r *JobTypeRepo) GetByID(ctx context.Context, id int64) (*model.JobType, error) {
	return queryOne[model.JobType](ctx, r.DB, "job type", jobTypeGetByIDQuery, id)
}

// GetByName retrieves a job type by its unique name.
func (r *JobTypeRepo) GetByName(ctx context.Context, name string) (*model.JobType, error) {
	return queryOne[model.JobType](ctx, r.DB, "job type", jobTypeGetByNameQuery, name)
}

// List retrieves job types ordered by name.
func (r *JobTypeRepo) List(ctx context.Context, opts model.JobTypesListOptions) ([]*model.JobType, error) {
	limit, offset := normalizePagination(opts.Limit, opts.Offset)

	var conditions []string
	var args []any
	nextIdx := func() int { return len(args) + 1 }

	if opts.Q != nil && strings.TrimSpace(*opts.Q) != "" {
		idx := nextIdx()
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR display_name ILIKE $%d)", idx, idx))
		args = append(args, "%"+strings.TrimSpace(*opts.Q)+"%")
	}
	if opts.Enabled != nil {
		conditions = append(conditions, fmt.Sprintf("enabled = $%d", nextIdx()))
		args = append(args, *opts.Enabled)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM job_types%s ORDER BY name LIMIT $%d OFFSET $%d`,
		jobTypeColumns, whereClause, len(args)-1, len(args))

	return queryMany[model.JobType](ctx, r.DB, query, args...)
}

// Update applies a partial update and returns the stored row.
func (r *JobTypeRepo) Update(ctx context.Context, id int64, req model.UpdateJobTypeRequest) (*model.JobType, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	setParts := make([]string, 0, 5)
	args := make([]any, 0, 5)
	nextIdx := func() int { return len(args) + 1 }

	if req.Name != nil {
		setParts = append(setParts, fmt.Sprintf("name = $%d", nextIdx()))
		args = append(args, strings.TrimSpace(*req.Name))
	}
	if req.DisplayName != nil {
		setParts = append(setParts, fmt.Sprintf("display_name = $%d", nextIdx()))
		args = append(args, strings.TrimSpace(*req.DisplayName))
	}
	if req.RequiresCapabilities != nil {
		setParts = append(setParts, fmt.Sprintf("requires_capabilities = $%d", nextIdx()))
		args = append(args, req.RequiresCapabilities)
	}
	if req.Enabled != nil {
		setParts = append(setParts, fmt.Sprintf("enabled = $%d", nextIdx()))
		args = append(args, *req.Enabled)
	}
	setParts = append(setParts, fmt.Sprintf("updated_at = $%d", nextIdx()))
	args = append(args, r.timeProvider.Now().UTC())

	args = append(args, id)
	query := "UPDATE job_types SET " + strings.Join(setParts, ", ") +
		" WHERE id = $" + strconv.Itoa(len(args)) +
		" RETURNING " + jobTypeColumns
	return queryOne[model.JobType](ctx, r.DB, "job type", query, args...)
}

// Delete removes a job type. Fails with InUse while command templates or job
// templates reference it.
func (r *JobTypeRepo) Delete(ctx context.Context, id int64) error {
	affected, err := execCommand(ctx, r.DB, `DELETE FROM job_types WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("job type not found")
	}
	return nil
}
