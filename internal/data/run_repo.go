package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hullcrest/armada/internal/data/database"
	"github.com/hullcrest/armada/internal/data/pgxutil"
	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// RunRepo provides database operations for job runs.
type RunRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewRunRepo creates a RunRepo with the real clock.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewRunRepoWithTimeProvider creates a RunRepo with a custom clock (tests).
func NewRunRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *RunRepo {
	return &RunRepo{DB: db, timeProvider: tp}
}

const (
	runColumns = `id, job_schedule_id, job_template_id, server_id, status,
		triggered_by, started_at, finished_at, duration_ms, exit_code, output,
		error, rendered_command, retry_attempt, is_retry, metadata,
		notification_sent, notification_error, created_at, updated_at`

	runGetByIDQuery = `
		SELECT ` + runColumns + `
		FROM job_runs
		WHERE id = $1`

	runInsertQuery = `
		INSERT INTO job_runs (job_schedule_id, job_template_id, server_id,
			triggered_by, started_at, rendered_command, retry_attempt, is_retry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + runColumns

	// Duration is derived from started_at inside the statement so a clock
	// shared with the caller is not required.
	runFinishQuery = `
		UPDATE job_runs
		SET status = $2,
			finished_at = $3,
			duration_ms = (EXTRACT(EPOCH FROM ($3::timestamptz - started_at)) * 1000)::BIGINT,
			exit_code = $4,
			output = $5,
			error = $6,
			metadata = $7,
			updated_at = $3
		WHERE id = $1 AND status = 'running'
		RETURNING ` + runColumns

	runFailStaleQuery = `
		UPDATE job_runs
		SET status = 'failure',
			error = $2,
			finished_at = $3,
			duration_ms = (EXTRACT(EPOCH FROM ($3::timestamptz - started_at)) * 1000)::BIGINT,
			updated_at = $3
		WHERE status = 'running' AND started_at < $1`

	runStatsQuery = `
		SELECT
			COUNT(*) FILTER (WHERE status = 'running')   AS running,
			COUNT(*) FILTER (WHERE status = 'success')   AS success,
			COUNT(*) FILTER (WHERE status = 'failure')   AS failure,
			COUNT(*) FILTER (WHERE status = 'timeout')   AS timeout,
			COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled
		FROM job_runs`
)

// Create inserts a run in the running state and returns it.
func (r *RunRepo) Create(ctx context.Context, req *model.CreateJobRunRequest) (*model.JobRun, error) {
	if req == nil {
		return nil, apperrors.Validation("create job run request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	return queryOne[model.JobRun](ctx, r.DB, "job run", runInsertQuery,
		req.JobScheduleID, req.JobTemplateID, req.ServerID, req.TriggeredBy,
		r.timeProvider.Now().UTC(), req.RenderedCommand, req.RetryAttempt, req.IsRetry)
}

// CreateScheduled claims a due schedule and inserts its running row in one
// transaction: the schedule's next_run_at moves forward only together with
// the insert, so a crash between the two cannot double-fire. Returns a
// conflict error when the schedule was already claimed, disabled, or is no
// longer due.
func (r *RunRepo) CreateScheduled(ctx context.Context, req *model.CreateJobRunRequest, nextRunAt *time.Time) (*model.JobRun, error) {
	if req == nil {
		return nil, apperrors.Validation("create job run request is required")
	}
	if req.JobScheduleID == nil {
		return nil, apperrors.Validation("job_schedule_id is required for scheduled runs")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	now := r.timeProvider.Now().UTC()
	var run model.JobRun
	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE job_schedules
			SET next_run_at = $2, updated_at = $3
			WHERE id = $1 AND enabled AND next_run_at IS NOT NULL AND next_run_at <= $3`,
			*req.JobScheduleID, nextRunAt, now)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return apperrors.Conflict("schedule is not due or was already claimed")
		}

		rows, err := tx.Query(ctx, runInsertQuery,
			req.JobScheduleID, req.JobTemplateID, req.ServerID, req.TriggeredBy,
			now, req.RenderedCommand, req.RetryAttempt, req.IsRetry)
		if err != nil {
			return err
		}
		defer rows.Close()
		run, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.JobRun])
		return err
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &run, nil
}

// GetByID retrieves a run by ID.
func (r *RunRepo) GetByID(ctx context.Context, id int64) (*model.JobRun, error) {
	return queryOne[model.JobRun](ctx, r.DB, "job run", runGetByIDQuery, id)
}

// Finish writes the terminal fields of a run. The update is guarded on the
// running state, so a cancel racing a timeout records exactly one outcome;
// the loser surfaces as not found.
func (r *RunRepo) Finish(ctx context.Context, id int64, req model.FinishJobRunRequest) (*model.JobRun, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return queryOne[model.JobRun](ctx, r.DB, "running job run", runFinishQuery,
		id, req.Status, r.timeProvider.Now().UTC(), req.ExitCode,
		req.Output, req.Error, metadata)
}

// List retrieves runs filtered and sorted per opts, most recent first by default.
func (r *RunRepo) List(ctx context.Context, opts model.RunsListOptions) ([]*model.JobRun, error) {
	limit, offset := normalizePagination(opts.Limit, opts.Offset)
	sortCol, sortDir := validateSort(opts.Sort, opts.Dir, "started_at",
		"started_at", "finished_at", "duration_ms")

	queryOpts := []database.ListQueryOption{
		database.WithLimit(limit),
		database.WithOffset(offset),
		database.WithOrderBy(sortCol, sortDir),
		database.WithTieBreak("id"),
	}
	if opts.Status != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("status", database.Equal, *opts.Status),
		))
	}
	if opts.ServerID != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("server_id", database.Equal, *opts.ServerID),
		))
	}
	if opts.JobTemplateID != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("job_template_id", database.Equal, *opts.JobTemplateID),
		))
	}
	if opts.JobScheduleID != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("job_schedule_id", database.Equal, *opts.JobScheduleID),
		))
	}
	if opts.TriggeredBy != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("triggered_by", database.Equal, *opts.TriggeredBy),
		))
	}
	if opts.Since != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("started_at", database.GreaterThanOrEqual, *opts.Since),
		))
	}

	query, args := database.BuildListQuery(database.NewListQueryOptions("job_runs", queryOpts...))
	return queryMany[model.JobRun](ctx, r.DB, query, args...)
}

// HasActiveRun reports whether a schedule already has a run in flight.
func (r *RunRepo) HasActiveRun(ctx context.Context, scheduleID int64) (bool, error) {
	return queryScalar[bool](ctx, r.DB,
		`SELECT EXISTS (SELECT 1 FROM job_runs WHERE job_schedule_id = $1 AND status = 'running')`,
		scheduleID)
}

// FindStale retrieves runs stuck in the running state since before olderThan,
// oldest first. These are runs orphaned by a crash or restart.
func (r *RunRepo) FindStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.JobRun, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return queryMany[model.JobRun](ctx, r.DB, `
		SELECT `+runColumns+`
		FROM job_runs
		WHERE status = 'running' AND started_at < $1
		ORDER BY started_at ASC
		LIMIT $2`,
		olderThan, limit)
}

// FailStale marks every run stuck in the running state since before olderThan
// as failed with the given error and reports how many it closed.
func (r *RunRepo) FailStale(ctx context.Context, olderThan time.Time, errMsg string) (int64, error) {
	return execCommand(ctx, r.DB, runFailStaleQuery,
		olderThan, errMsg, r.timeProvider.Now().UTC())
}

// Prune deletes terminal runs started before olderThan and reports how many
// rows went. Step results cascade with their runs.
func (r *RunRepo) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	return execCommand(ctx, r.DB,
		`DELETE FROM job_runs WHERE status <> 'running' AND started_at < $1`,
		olderThan)
}

// RecordNotification stamps the notification outcome onto the run.
func (r *RunRepo) RecordNotification(ctx context.Context, id int64, sent bool, notifErr *string) error {
	affected, err := execCommand(ctx, r.DB, `
		UPDATE job_runs
		SET notification_sent = $2, notification_error = $3, updated_at = $4
		WHERE id = $1`,
		id, sent, notifErr, r.timeProvider.Now().UTC())
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("job run not found")
	}
	return nil
}

// Stats counts runs per state, optionally restricted to runs started at or
// after since.
func (r *RunRepo) Stats(ctx context.Context, since *time.Time) (*model.RunStats, error) {
	query := runStatsQuery
	var args []any
	if since != nil {
		query += ` WHERE started_at >= $1`
		args = append(args, *since)
	}
	return queryOne[model.RunStats](ctx, r.DB, "run stats", query, args...)
}

// buildRunFilter is used by callers that count rather than page, sharing the
// List filter vocabulary.
func buildRunFilter(opts model.RunsListOptions) (string, []any) {
	var conditions []string
	var args []any
	nextIdx := func() int { return len(args) + 1 }

	if opts.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", nextIdx()))
		args = append(args, *opts.Status)
	}
	if opts.ServerID != nil {
		conditions = append(conditions, fmt.Sprintf("server_id = $%d", nextIdx()))
		args = append(args, *opts.ServerID)
	}
	if opts.JobTemplateID != nil {
		conditions = append(conditions, fmt.Sprintf("job_template_id = $%d", nextIdx()))
		args = append(args, *opts.JobTemplateID)
	}
	if opts.JobScheduleID != nil {
		conditions = append(conditions, fmt.Sprintf("job_schedule_id = $%d", nextIdx()))
		args = append(args, *opts.JobScheduleID)
	}
	if opts.TriggeredBy != nil {
		conditions = append(conditions, fmt.Sprintf("triggered_by = $%d", nextIdx()))
		args = append(args, *opts.TriggeredBy)
	}
	if opts.Since != nil {
		conditions = append(conditions, fmt.Sprintf("started_at >= $%d", nextIdx()))
		args = append(args, *opts.Since)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// Count reports how many runs match the filter portion of opts.
func (r *RunRepo) Count(ctx context.Context, opts model.RunsListOptions) (int64, error) {
	whereClause, args := buildRunFilter(opts)
	return queryScalar[int64](ctx, r.DB, `SELECT COUNT(*) FROM job_runs`+whereClause, args...)
}
