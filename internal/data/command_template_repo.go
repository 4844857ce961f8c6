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

// CommandTemplateRepo provides database operations for command templates.
type CommandTemplateRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewCommandTemplateRepo creates a CommandTemplateRepo with the real clock.
func NewCommandTemplateRepo(db *sql.DB) *CommandTemplateRepo {
	return &CommandTemplateRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewCommandTemplateRepoWithTimeProvider creates a CommandTemplateRepo with a custom clock (tests).
func NewCommandTemplateRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *CommandTemplateRepo {
	return &CommandTemplateRepo{DB: db, timeProvider: tp}
}

const (
	commandTemplateColumns = `id, job_type_id, name, command_string, parameters,
		required_capabilities, os_filter, timeout_seconds, working_directory,
		environment, output_format, notify_on_success, notify_on_failure,
		created_at, updated_at`

	commandTemplateGetByIDQuery = `
		SELECT ` + commandTemplateColumns + `
		FROM command_templates
		WHERE id = $1`

	commandTemplateGetByNameQuery = `
		SELECT ` + commandTemplateColumns + `
		FROM command_templates
		WHERE job_type_id = $1 AND name = $2`

	commandTemplateListByJobTypeQuery = `
		SELECT ` + commandTemplateColumns + `
		FROM command_templates
		WHERE job_type_id = $1
		ORDER BY name ASC, id DESC`

	commandTemplateInsertQuery = `
		INSERT INTO command_templates (job_type_id, name, command_string, parameters,
			required_capabilities, os_filter, timeout_seconds, working_directory,
			environment, output_format, notify_on_success, notify_on_failure)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + commandTemplateColumns
)

// Create inserts a new command template under its job type.
func (r *CommandTemplateRepo) Create(ctx context.Context, req *model.CreateCommandTemplateRequest) (*model.CommandTemplate, error) {
	if req == nil {
		return nil, apperrors.Validation("create command template request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	parameters := req.Parameters
	if parameters == nil {
		parameters = []model.ParamSpec{}
	}
	capabilities := req.RequiredCapabilities
	if capabilities == nil {
		capabilities = []string{}
	}
	environment := req.Environment
	if environment == nil {
		environment = map[string]string{}
	}
	notifyOnSuccess := false
	if req.NotifyOnSuccess != nil {
		notifyOnSuccess = *req.NotifyOnSuccess
	}
	notifyOnFailure := true
	if req.NotifyOnFailure != nil {
		notifyOnFailure = *req.NotifyOnFailure
	}

	return queryOne[model.CommandTemplate](ctx, r.DB, "command template", commandTemplateInsertQuery,
		req.JobTypeID, strings.TrimSpace(req.Name), req.CommandString, parameters,
		capabilities, req.OSFilter, *req.TimeoutSeconds, req.WorkingDirectory,
		environment, req.OutputFormat, notifyOnSuccess, notifyOnFailure)
}

// GetByID retrieves a command template by ID.
func (r *CommandTemplateRepo) GetByID(ctx context.Context, id int64) (*model.CommandTemplate, error) {
	return queryOne[model.CommandTemplate](ctx, r.DB, "command template", commandTemplateGetByIDQuery, id)
}

// GetByName retrieves a command template by name within a job type. Names
// repeat across job types, so the pair is the natural key.
func (r *CommandTemplateRepo) GetByName(ctx context.Context, jobTypeID int64, name string) (*model.CommandTemplate, error) {
	return queryOne[model.CommandTemplate](ctx, r.DB, "command template", commandTemplateGetByNameQuery, jobTypeID, name)
}

// List retrieves command templates filtered per opts, ordered by name.
func (r *CommandTemplateRepo) List(ctx context.Context, opts model.CommandTemplatesListOptions) ([]*model.CommandTemplate, error) {
	limit, offset := normalizePagination(opts.Limit, opts.Offset)

	queryOpts := []database.ListQueryOption{
		database.WithLimit(limit),
		database.WithOffset(offset),
		database.WithOrderBy("name", sortDirAsc),
		database.WithTieBreak("id"),
	}
	if opts.Q != nil && strings.TrimSpace(*opts.Q) != "" {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("name", database.ILike, "%"+strings.TrimSpace(*opts.Q)+"%"),
		))
	}
	if opts.JobTypeID != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("job_type_id", database.Equal, *opts.JobTypeID),
		))
	}

	query, args := database.BuildListQuery(database.NewListQueryOptions("command_templates", queryOpts...))
	return queryMany[model.CommandTemplate](ctx, r.DB, query, args...)
}

// ListByJobType retrieves every command template of a job type, ordered by
// name. Server selection walks these as sibling candidates.
func (r *CommandTemplateRepo) ListByJobType(ctx context.Context, jobTypeID int64) ([]*model.CommandTemplate, error) {
	return queryMany[model.CommandTemplate](ctx, r.DB, commandTemplateListByJobTypeQuery, jobTypeID)
}

// Update applies a partial update and returns the stored row.
func (r *CommandTemplateRepo) Update(ctx context.Context, id int64, req model.UpdateCommandTemplateRequest) (*model.CommandTemplate, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	setClause, args := r.buildUpdateClause(req)
	args = append(args, id)
	query := "UPDATE command_templates SET " + setClause +
		" WHERE id = $" + strconv.Itoa(len(args)) +
		" RETURNING " + commandTemplateColumns
	return queryOne[model.CommandTemplate](ctx, r.DB, "command template", query, args...)
}

func (r *CommandTemplateRepo) buildUpdateClause(req model.UpdateCommandTemplateRequest) (string, []any) {
	setParts := make([]string, 0, 12)
	args := make([]any, 0, 12)
	nextIdx := func() int { return len(args) + 1 }

	if req.Name != nil {
		setParts = append(setParts, fmt.Sprintf("name = $%d", nextIdx()))
		args = append(args, strings.TrimSpace(*req.Name))
	}
	if req.CommandString != nil {
		setParts = append(setParts, fmt.Sprintf("command_string = $%d", nextIdx()))
		args = append(args, *req.CommandString)
	}
	if req.Parameters != nil {
		setParts = append(setParts, fmt.Sprintf("parameters = $%d", nextIdx()))
		args = append(args, req.Parameters)
	}
	if req.RequiredCapabilities != nil {
		setParts = append(setParts, fmt.Sprintf("required_capabilities = $%d", nextIdx()))
		args = append(args, req.RequiredCapabilities)
	}
	if req.OSFilter != nil {
		setParts = append(setParts, fmt.Sprintf("os_filter = $%d", nextIdx()))
		args = append(args, *req.OSFilter)
	}
	if req.TimeoutSeconds != nil {
		setParts = append(setParts, fmt.Sprintf("timeout_seconds = $%d", nextIdx()))
		args = append(args, *req.TimeoutSeconds)
	}
	if req.WorkingDirectory != nil {
		if strings.TrimSpace(*req.WorkingDirectory) == "" {
			setParts = append(setParts, "working_directory = NULL")
		} else {
			setParts = append(setParts, fmt.Sprintf("working_directory = $%d", nextIdx()))
			args = append(args, *req.WorkingDirectory)
		}
	}
	if req.Environment != nil {
		setParts = append(setParts, fmt.Sprintf("environment = $%d", nextIdx()))
		args = append(args, req.Environment)
	}
	if req.OutputFormat != nil {
		setParts = append(setParts, fmt.Sprintf("output_format = $%d", nextIdx()))
		args = append(args, *req.OutputFormat)
	}
	if req.NotifyOnSuccess != nil {
		setParts = append(setParts, fmt.Sprintf("notify_on_success = $%d", nextIdx()))
		args = append(args, *req.NotifyOnSuccess)
	}
	if req.NotifyOnFailure != nil {
		setParts = append(setParts, fmt.Sprintf("notify_on_failure = $%d", nextIdx()))
		args = append(args, *req.NotifyOnFailure)
	}

	setParts = append(setParts, fmt.Sprintf("updated_at = $%d", nextIdx()))
	args = append(args, r.timeProvider.Now().UTC())
	return strings.Join(setParts, ", "), args
}

// Delete removes a command template. Fails with InUse while a job template or
// step references it.
func (r *CommandTemplateRepo) Delete(ctx context.Context, id int64) error {
	affected, err := execCommand(ctx, r.DB, `DELETE FROM command_templates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("command template not found")
	}
	return nil
}
