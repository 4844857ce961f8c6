package data

import (
	"context"
	"database/sql"

	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// StepResultRepo provides database operations for per-step results of
// composite runs.
type StepResultRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewStepResultRepo creates a StepResultRepo with the real clock.
func NewStepResultRepo(db *sql.DB) *StepResultRepo {
	return &StepResultRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewStepResultRepoWithTimeProvider creates a StepResultRepo with a custom clock (tests).
func NewStepResultRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *StepResultRepo {
	return &StepResultRepo{DB: db, timeProvider: tp}
}

const (
	stepResultColumns = `id, job_run_id, step_order, step_name, command_template_id,
		status, started_at, finished_at, duration_ms, exit_code, output, error,
		created_at`

	stepResultInsertQuery = `
		INSERT INTO job_step_results (job_run_id, step_order, step_name,
			command_template_id, started_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + stepResultColumns

	stepResultFinishQuery = `
		UPDATE job_step_results
		SET status = $2,
			finished_at = $3,
			duration_ms = (EXTRACT(EPOCH FROM ($3::timestamptz - started_at)) * 1000)::BIGINT,
			exit_code = $4,
			output = $5,
			error = $6
		WHERE id = $1 AND status = 'running'
		RETURNING ` + stepResultColumns

	stepResultListByRunQuery = `
		SELECT ` + stepResultColumns + `
		FROM job_step_results
		WHERE job_run_id = $1
		ORDER BY step_order ASC`
)

// StartStep records the start of one step before it dispatches. A run aborted
// mid-step keeps the row, which later shows where it died.
func (r *StepResultRepo) StartStep(ctx context.Context, runID int64, stepOrder int, stepName string, commandTemplateID int64) (*model.StepExecutionResult, error) {
	return queryOne[model.StepExecutionResult](ctx, r.DB, "step result", stepResultInsertQuery,
		runID, stepOrder, stepName, commandTemplateID, r.timeProvider.Now().UTC())
}

// FinishStep writes the terminal fields of a step result. Guarded on the
// running state like run finishes.
func (r *StepResultRepo) FinishStep(ctx context.Context, id int64, status model.RunStatus, exitCode *int, output, errMsg string) (*model.StepExecutionResult, error) {
	if !status.Terminal() {
		return nil, apperrors.Validation("status must be terminal: success, failure, timeout, or cancelled")
	}
	return queryOne[model.StepExecutionResult](ctx, r.DB, "running step result", stepResultFinishQuery,
		id, status, r.timeProvider.Now().UTC(), exitCode, output, errMsg)
}

// ListByRun retrieves a run's step results ordered by step_order.
func (r *StepResultRepo) ListByRun(ctx context.Context, runID int64) ([]*model.StepExecutionResult, error) {
	return queryMany[model.StepExecutionResult](ctx, r.DB, stepResultListByRunQuery, runID)
}
