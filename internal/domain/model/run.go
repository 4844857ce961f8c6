// Package model defines the core data types and structures used throughout the armada orchestrator.
package model

import (
	"errors"
	"strings"
	"time"
)

// RunStatus represents the lifecycle state of a job run. Runs move from
// running to exactly one terminal state and never back.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailure   RunStatus = "failure"
	RunStatusTimeout   RunStatus = "timeout"
	RunStatusCancelled RunStatus = "cancelled"
)

// Valid reports whether the run status is supported.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusSuccess, RunStatusFailure, RunStatusTimeout, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status ends a run's lifecycle.
func (s RunStatus) Terminal() bool {
	return s.Valid() && s != RunStatusRunning
}

// ParseRunStatus normalizes a status string and reports whether it is supported.
func ParseRunStatus(value string) (RunStatus, bool) {
	status := RunStatus(strings.ToLower(strings.TrimSpace(value)))
	if status.Valid() {
		return status, true
	}
	return "", false
}

// RunTrigger records what caused a run to start.
type RunTrigger string

const (
	RunTriggerScheduled RunTrigger = "scheduled"
	RunTriggerManual    RunTrigger = "manual"
	RunTriggerRetry     RunTrigger = "retry"
)

// Valid reports whether the run trigger is supported.
func (t RunTrigger) Valid() bool {
	switch t {
	case RunTriggerScheduled, RunTriggerManual, RunTriggerRetry:
		return true
	default:
		return false
	}
}

// MetadataKeyPartialSuccess marks a failed composite run whose failing steps
// were all continue_on_failure. Step results carry the per-step truth.
const MetadataKeyPartialSuccess = "partial_success"

// RunsListOptions controls paging and filtering for listing job runs.
// Notes:
// - Sort supports: "started_at", "finished_at", "duration_ms" (case-insensitive).
// - Dir supports: "asc", "desc"; runs default to started_at DESC.
type RunsListOptions struct {
	Limit         int
	Offset        int
	Status        *RunStatus
	ServerID      *int64
	JobTemplateID *int64
	JobScheduleID *int64
	TriggeredBy   *RunTrigger
	Since         *time.Time
	Sort          string
	Dir           string
}

// JobRun is one execution of a job template on a server, scheduled or manual.
type JobRun struct {
	ID                int64          `json:"id"                           db:"id"`
	JobScheduleID     *int64         `json:"job_schedule_id,omitempty"    db:"job_schedule_id"`
	JobTemplateID     int64          `json:"job_template_id"              db:"job_template_id"`
	ServerID          int64          `json:"server_id"                    db:"server_id"`
	Status            RunStatus      `json:"status"                       db:"status"`
	TriggeredBy       RunTrigger     `json:"triggered_by"                 db:"triggered_by"`
	StartedAt         time.Time      `json:"started_at"                   db:"started_at"`
	FinishedAt        *time.Time     `json:"finished_at,omitempty"        db:"finished_at"`
	DurationMS        *int64         `json:"duration_ms,omitempty"        db:"duration_ms"`
	ExitCode          *int           `json:"exit_code,omitempty"          db:"exit_code"`
	Output            string         `json:"output"                       db:"output"`
	Error             string         `json:"error"                        db:"error"`
	RenderedCommand   string         `json:"rendered_command"             db:"rendered_command"`
	RetryAttempt      int            `json:"retry_attempt"                db:"retry_attempt"`
	IsRetry           bool           `json:"is_retry"                     db:"is_retry"`
	Metadata          map[string]any `json:"metadata,omitempty"           db:"metadata"`
	NotificationSent  bool           `json:"notification_sent"            db:"notification_sent"`
	NotificationError *string        `json:"notification_error,omitempty" db:"notification_error"`
	CreatedAt         time.Time      `json:"created_at"                   db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"                   db:"updated_at"`
}

// PartialSuccess reports whether the run failed only on continue_on_failure steps.
func (r *JobRun) PartialSuccess() bool {
	if r.Metadata == nil {
		return false
	}
	v, ok := r.Metadata[MetadataKeyPartialSuccess].(bool)
	return ok && v
}

// Duration returns the recorded duration, or zero when the run is still in flight.
func (r *JobRun) Duration() time.Duration {
	if r.DurationMS == nil {
		return 0
	}
	return time.Duration(*r.DurationMS) * time.Millisecond
}

// CreateJobRunRequest represents parameters to insert a running JobRun row.
// Only the executor creates runs.
type CreateJobRunRequest struct {
	JobScheduleID   *int64     `json:"job_schedule_id,omitempty"`
	JobTemplateID   int64      `json:"job_template_id"`
	ServerID        int64      `json:"server_id"`
	TriggeredBy     RunTrigger `json:"triggered_by"`
	RenderedCommand string     `json:"rendered_command,omitempty"`
	RetryAttempt    int        `json:"retry_attempt,omitempty"`
	IsRetry         bool       `json:"is_retry,omitempty"`
}

// Validate validates CreateJobRunRequest.
func (r *CreateJobRunRequest) Validate() error {
	if r.JobTemplateID <= 0 {
		return errors.New("job_template_id is required")
	}
	if r.ServerID <= 0 {
		return errors.New("server_id is required")
	}
	if !r.TriggeredBy.Valid() {
		return errors.New("triggered_by must be one of: scheduled, manual, retry")
	}
	if r.RetryAttempt < 0 {
		return errors.New("retry_attempt must be >= 0")
	}
	return nil
}

// FinishJobRunRequest carries the terminal fields written when a run completes.
type FinishJobRunRequest struct {
	Status   RunStatus      `json:"status"`
	ExitCode *int           `json:"exit_code,omitempty"`
	Output   string         `json:"output"`
	Error    string         `json:"error"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate validates FinishJobRunRequest; only terminal statuses are accepted.
func (r *FinishJobRunRequest) Validate() error {
	if !r.Status.Terminal() {
		return errors.New("status must be terminal: success, failure, timeout, or cancelled")
	}
	return nil
}

// StepExecutionResult is the per-step record of a composite run.
type StepExecutionResult struct {
	ID                int64      `json:"id"                    db:"id"`
	JobRunID          int64      `json:"job_run_id"            db:"job_run_id"`
	StepOrder         int        `json:"step_order"            db:"step_order"`
	StepName          string     `json:"step_name"             db:"step_name"`
	CommandTemplateID int64      `json:"command_template_id"   db:"command_template_id"`
	Status            RunStatus  `json:"status"                db:"status"`
	StartedAt         time.Time  `json:"started_at"            db:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	DurationMS        *int64     `json:"duration_ms,omitempty" db:"duration_ms"`
	ExitCode          *int       `json:"exit_code,omitempty"   db:"exit_code"`
	Output            string     `json:"output"                db:"output"`
	Error             string     `json:"error"                 db:"error"`
	CreatedAt         time.Time  `json:"created_at"            db:"created_at"`
}

// RunStats summarizes run counts per terminal state for dashboard views.
type RunStats struct {
	Running   int `json:"running"   db:"running"`
	Success   int `json:"success"   db:"success"`
	Failure   int `json:"failure"   db:"failure"`
	Timeout   int `json:"timeout"   db:"timeout"`
	Cancelled int `json:"cancelled" db:"cancelled"`
}
