package data

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hullcrest/armada/internal/data/database"
	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// ScheduleRepo provides database operations for job schedules.
type ScheduleRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewScheduleRepo creates a ScheduleRepo with the real clock.
func NewScheduleRepo(db *sql.DB) *ScheduleRepo {
	return &ScheduleRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewScheduleRepoWithTimeProvider creates a ScheduleRepo with a custom clock (tests).
func NewScheduleRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ScheduleRepo {
	return &ScheduleRepo{DB: db, timeProvider: tp}
}

const (
	scheduleColumns = `id, name, job_template_id, server_id, schedule, enabled,
		timeout_seconds, retry_count, notify_on_success, notify_on_failure,
		last_run_at, last_run_status, last_error, next_run_at,
		success_count, failure_count, last_manual_run_at, manual_run_count,
		created_at, updated_at`

	scheduleGetByIDQuery = `
		SELECT ` + scheduleColumns + `
		FROM job_schedules
		WHERE id = $1`

	scheduleGetByNameQuery = `
		SELECT ` + scheduleColumns + `
		FROM job_schedules
		WHERE name = $1`

	scheduleListDueQuery = `
		SELECT ` + scheduleColumns + `
		FROM job_schedules
		WHERE enabled AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at ASC
		LIMIT $2`

	scheduleListEnabledQuery = `
		SELECT ` + scheduleColumns + `
		FROM job_schedules
		WHERE enabled
		ORDER BY id ASC`

	scheduleInsertQuery = `
		INSERT INTO job_schedules (name, job_template_id, server_id, schedule,
			enabled, timeout_seconds, retry_count, notify_on_success,
			notify_on_failure, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + scheduleColumns

	// Counters move with the recorded status: success bumps success_count,
	// failure and timeout bump failure_count, skipped bumps neither. A nil
	// next_run_at keeps whatever slot the scheduler has already claimed, so
	// terminal bookkeeping cannot rewind a schedule another tick advanced.
	scheduleRecordRunQuery = `
		UPDATE job_schedules
		SET last_run_at = $2,
			last_run_status = $3,
			last_error = $4,
			next_run_at = COALESCE($5, next_run_at),
			success_count = success_count + CASE WHEN $3 = 'success' THEN 1 ELSE 0 END,
			failure_count = failure_count + CASE WHEN $3 IN ('failure', 'timeout') THEN 1 ELSE 0 END,
			updated_at = $2
		WHERE id = $1`

	scheduleRecordManualRunQuery = `
		UPDATE job_schedules
		SET last_manual_run_at = $2,
			manual_run_count = manual_run_count + 1,
			updated_at = $2
		WHERE id = $1`
)

// Create inserts a schedule. The caller computes next_run_at from the cron
// expression; the repo stores the expression verbatim.
func (r *ScheduleRepo) Create(ctx context.Context, req *model.CreateJobScheduleRequest, nextRunAt *time.Time) (*model.JobSchedule, error) {
	if req == nil {
		return nil, apperrors.Validation("create schedule request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return queryOne[model.JobSchedule](ctx, r.DB, "schedule", scheduleInsertQuery,
		strings.TrimSpace(req.Name), req.JobTemplateID, req.ServerID,
		strings.TrimSpace(req.Schedule), enabled, req.TimeoutSeconds, req.RetryCount,
		req.NotifyOnSuccess, req.NotifyOnFailure, nextRunAt)
}

// GetByID retrieves a schedule by ID.
func (r *ScheduleRepo) GetByID(ctx context.Context, id int64) (*model.JobSchedule, error) {
	return queryOne[model.JobSchedule](ctx, r.DB, "schedule", scheduleGetByIDQuery, id)
}

// GetByName retrieves a schedule by its unique name.
func (r *ScheduleRepo) GetByName(ctx context.Context, name string) (*model.JobSchedule, error) {
	return queryOne[model.JobSchedule](ctx, r.DB, "schedule", scheduleGetByNameQuery, name)
}

// List retrieves schedules filtered and sorted per opts.
func (r *ScheduleRepo) List(ctx context.Context, opts model.SchedulesListOptions) ([]*model.JobSchedule, error) {
	limit, offset := normalizePagination(opts.Limit, opts.Offset)
	sortCol, sortDir := validateSort(opts.Sort, opts.Dir, "name",
		"name", "next_run_at", "last_run_at", "created_at")

	queryOpts := []database.ListQueryOption{
		database.WithLimit(limit),
		database.WithOffset(offset),
		database.WithOrderBy(sortCol, sortDir),
		database.WithTieBreak("id"),
	}
	if opts.Enabled != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("enabled", database.Equal, *opts.Enabled),
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

	query, args := database.BuildListQuery(database.NewListQueryOptions("job_schedules", queryOpts...))
	return queryMany[model.JobSchedule](ctx, r.DB, query, args...)
}

// ListDue retrieves enabled schedules whose next_run_at is at or before now,
// soonest first.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.JobSchedule, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return queryMany[model.JobSchedule](ctx, r.DB, scheduleListDueQuery, now, limit)
}

// ListEnabled retrieves every enabled schedule. The scheduler walks these on
// boot and on reload to recompute next fire times.
func (r *ScheduleRepo) ListEnabled(ctx context.Context) ([]*model.JobSchedule, error) {
	return queryMany[model.JobSchedule](ctx, r.DB, scheduleListEnabledQuery)
}

// Update applies a partial update and returns the stored row. When the cron
// expression or enabled flag changes, the caller passes a recomputed
// nextRunAt; nil leaves next_run_at untouched.
func (r *ScheduleRepo) Update(ctx context.Context, id int64, req model.UpdateJobScheduleRequest, nextRunAt *time.Time) (*model.JobSchedule, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	setClause, args := r.buildUpdateClause(req, nextRunAt)
	args = append(args, id)
	query := "UPDATE job_schedules SET " + setClause +
		" WHERE id = $" + strconv.Itoa(len(args)) +
		" RETURNING " + scheduleColumns
	return queryOne[model.JobSchedule](ctx, r.DB, "schedule", query, args...)
}

func (r *ScheduleRepo) buildUpdateClause(req model.UpdateJobScheduleRequest, nextRunAt *time.Time) (string, []any) {
	setParts := make([]string, 0, 10)
	args := make([]any, 0, 10)
	nextIdx := func() int { return len(args) + 1 }

	if req.Name != nil {
		setParts = append(setParts, fmt.Sprintf("name = $%d", nextIdx()))
		args = append(args, strings.TrimSpace(*req.Name))
	}
	if req.JobTemplateID != nil {
		setParts = append(setParts, fmt.Sprintf("job_template_id = $%d", nextIdx()))
		args = append(args, *req.JobTemplateID)
	}
	if req.ServerID != nil {
		setParts = append(setParts, fmt.Sprintf("server_id = $%d", nextIdx()))
		args = append(args, *req.ServerID)
	}
	if req.Schedule != nil {
		setParts = append(setParts, fmt.Sprintf("schedule = $%d", nextIdx()))
		args = append(args, strings.TrimSpace(*req.Schedule))
	}
	if req.Enabled != nil {
		setParts = append(setParts, fmt.Sprintf("enabled = $%d", nextIdx()))
		args = append(args, *req.Enabled)
	}
	if req.TimeoutSeconds != nil {
		if *req.TimeoutSeconds == 0 {
			setParts = append(setParts, "timeout_seconds = NULL")
		} else {
			setParts = append(setParts, fmt.Sprintf("timeout_seconds = $%d", nextIdx()))
			args = append(args, *req.TimeoutSeconds)
		}
	}
	if req.RetryCount != nil {
		setParts = append(setParts, fmt.Sprintf("retry_count = $%d", nextIdx()))
		args = append(args, *req.RetryCount)
	}
	if req.NotifyOnSuccess != nil {
		setParts = append(setParts, fmt.Sprintf("notify_on_success = $%d", nextIdx()))
		args = append(args, *req.NotifyOnSuccess)
	}
	if req.NotifyOnFailure != nil {
		setParts = append(setParts, fmt.Sprintf("notify_on_failure = $%d", nextIdx()))
		args = append(args, *req.NotifyOnFailure)
	}
	if nextRunAt != nil {
		setParts = append(setParts, fmt.Sprintf("next_run_at = $%d", nextIdx()))
		args = append(args, *nextRunAt)
	}

	setParts = append(setParts, fmt.Sprintf("updated_at = $%d", nextIdx()))
	args = append(args, r.timeProvider.Now().UTC())
	return strings.Join(setParts, ", "), args
}

// SetNextRun overwrites a schedule's next fire time. A nil nextRunAt parks
// the schedule until a reload recomputes it.
func (r *ScheduleRepo) SetNextRun(ctx context.Context, id int64, nextRunAt *time.Time) error {
	affected, err := execCommand(ctx, r.DB,
		`UPDATE job_schedules SET next_run_at = $2, updated_at = $3 WHERE id = $1`,
		id, nextRunAt, r.timeProvider.Now().UTC())
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("schedule not found")
	}
	return nil
}

// RecordRun stamps the outcome of a fire onto the schedule in one statement:
// last run fields, the counters, and the next fire time. Pass a nil errMsg to
// clear last_error; a nil nextRunAt leaves next_run_at as is. Parking a
// schedule goes through SetNextRun, which writes the NULL explicitly.
func (r *ScheduleRepo) RecordRun(ctx context.Context, id int64, status model.ScheduleRunStatus, errMsg *string, nextRunAt *time.Time) error {
	if !status.Valid() {
		return apperrors.Validation("invalid schedule run status: " + string(status))
	}
	affected, err := execCommand(ctx, r.DB, scheduleRecordRunQuery,
		id, r.timeProvider.Now().UTC(), string(status), errMsg, nextRunAt)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("schedule not found")
	}
	return nil
}

// MarkSkipped records a fire that never dispatched (malformed cron, missing
// capability, overload) without touching the success or failure counters.
// A nil nextRunAt leaves the current slot in place.
func (r *ScheduleRepo) MarkSkipped(ctx context.Context, id int64, reason string, nextRunAt *time.Time) error {
	return r.RecordRun(ctx, id, model.ScheduleRunSkipped, &reason, nextRunAt)
}

// RecordManualRun bumps the manual trigger bookkeeping.
func (r *ScheduleRepo) RecordManualRun(ctx context.Context, id int64) error {
	affected, err := execCommand(ctx, r.DB, scheduleRecordManualRunQuery,
		id, r.timeProvider.Now().UTC())
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("schedule not found")
	}
	return nil
}

// Delete removes a schedule. Run history survives with job_schedule_id nulled.
func (r *ScheduleRepo) Delete(ctx context.Context, id int64) error {
	affected, err := execCommand(ctx, r.DB, `DELETE FROM job_schedules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("schedule not found")
	}
	return nil
}
