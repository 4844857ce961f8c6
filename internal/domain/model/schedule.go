//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const maxScheduleNameLen = 255

// ScheduleRunStatus is the coarse outcome recorded on a schedule after each
// fire. Cancelled runs are recorded as failure here; the run row keeps the
// precise status.
type ScheduleRunStatus string

const (
	ScheduleRunSuccess ScheduleRunStatus = "success"
	ScheduleRunFailure ScheduleRunStatus = "failure"
	ScheduleRunTimeout ScheduleRunStatus = "timeout"
	ScheduleRunSkipped ScheduleRunStatus = "skipped"
)

// Valid reports whether the schedule run status is supported.
func (s ScheduleRunStatus) Valid() bool {
	switch s {
	case ScheduleRunSuccess, ScheduleRunFailure, ScheduleRunTimeout, ScheduleRunSkipped:
		return true
	default:
		return false
	}
}

// SchedulesListOptions controls paging and filtering for listing schedules.
type SchedulesListOptions struct {
	Limit         int
	Offset        int
	Enabled       *bool
	ServerID      *int64
	JobTemplateID *int64
	Sort          string
	Dir           string
}

// JobSchedule binds a job template to a server on a cron expression.
// Nullable override fields fall back to the job template's values.
type JobSchedule struct {
	ID              int64              `json:"id"                           db:"id"`
	Name            string             `json:"name"                         db:"name"`
	JobTemplateID   int64              `json:"job_template_id"              db:"job_template_id"`
	ServerID        int64              `json:"server_id"                    db:"server_id"`
	Schedule        string             `json:"schedule"                     db:"schedule"`
	Enabled         bool               `json:"enabled"                      db:"enabled"`
	TimeoutSeconds  *int               `json:"timeout_seconds,omitempty"    db:"timeout_seconds"`
	RetryCount      *int               `json:"retry_count,omitempty"        db:"retry_count"`
	NotifyOnSuccess *bool              `json:"notify_on_success,omitempty"  db:"notify_on_success"`
	NotifyOnFailure *bool              `json:"notify_on_failure,omitempty"  db:"notify_on_failure"`
	LastRunAt       *time.Time         `json:"last_run_at,omitempty"        db:"last_run_at"`
	LastRunStatus   *ScheduleRunStatus `json:"last_run_status,omitempty"    db:"last_run_status"`
	LastError       *string            `json:"last_error,omitempty"         db:"last_error"`
	NextRunAt       *time.Time         `json:"next_run_at,omitempty"        db:"next_run_at"`
	SuccessCount    int                `json:"success_count"                db:"success_count"`
	FailureCount    int                `json:"failure_count"                db:"failure_count"`
	LastManualRunAt *time.Time         `json:"last_manual_run_at,omitempty" db:"last_manual_run_at"`
	ManualRunCount  int                `json:"manual_run_count"             db:"manual_run_count"`
	CreatedAt       time.Time          `json:"created_at"                   db:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"                   db:"updated_at"`
}

// CreateJobScheduleRequest represents parameters to create a JobSchedule.
// The cron expression is validated by the schedule service, which owns the
// dialect.
type CreateJobScheduleRequest struct {
	Name            string `json:"name"`
	JobTemplateID   int64  `json:"job_template_id"`
	ServerID        int64  `json:"server_id"`
	Schedule        string `json:"schedule"`
	Enabled         *bool  `json:"enabled,omitempty"`
	TimeoutSeconds  *int   `json:"timeout_seconds,omitempty"`
	RetryCount      *int   `json:"retry_count,omitempty"`
	NotifyOnSuccess *bool  `json:"notify_on_success,omitempty"`
	NotifyOnFailure *bool  `json:"notify_on_failure,omitempty"`
}

// UpdateJobScheduleRequest represents parameters to update a JobSchedule.
type UpdateJobScheduleRequest struct {
	Name            *string `json:"name,omitempty"`
	JobTemplateID   *int64  `json:"job_template_id,omitempty"`
	ServerID        *int64  `json:"server_id,omitempty"`
	Schedule        *string `json:"schedule,omitempty"`
	Enabled         *bool   `json:"enabled,omitempty"`
	TimeoutSeconds  *int    `json:"timeout_seconds,omitempty"`
	RetryCount      *int    `json:"retry_count,omitempty"`
	NotifyOnSuccess *bool   `json:"notify_on_success,omitempty"`
	NotifyOnFailure *bool   `json:"notify_on_failure,omitempty"`
}

// Validate validates CreateJobScheduleRequest.
func (r *CreateJobScheduleRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return errors.New("name is required and cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxScheduleNameLen {
		return errors.New("name cannot exceed 255 characters")
	}
	if r.JobTemplateID <= 0 {
		return errors.New("job_template_id is required")
	}
	if r.ServerID <= 0 {
		return errors.New("server_id is required")
	}
	if strings.TrimSpace(r.Schedule) == "" {
		return errors.New("schedule is required")
	}
	if r.TimeoutSeconds != nil && *r.TimeoutSeconds <= 0 {
		return errors.New("timeout_seconds must be > 0")
	}
	if r.RetryCount != nil && *r.RetryCount < 0 {
		return errors.New("retry_count must be >= 0")
	}
	return nil
}

// HasUpdates reports whether any field is set in UpdateJobScheduleRequest.
func (r *UpdateJobScheduleRequest) HasUpdates() bool {
	return r.Name != nil || r.JobTemplateID != nil || r.ServerID != nil || r.Schedule != nil ||
		r.Enabled != nil ||
		r.TimeoutSeconds != nil ||
		r.RetryCount != nil ||
		r.NotifyOnSuccess != nil ||
		r.NotifyOnFailure != nil
}

// Validate validates UpdateJobScheduleRequest.
func (r *UpdateJobScheduleRequest) Validate() error {
	if !r.HasUpdates() {
		return errors.New("at least one field must be updated")
	}
	if r.Name != nil {
		n := strings.TrimSpace(*r.Name)
		if n == "" {
			return errors.New("name cannot be empty")
		}
		if utf8.RuneCountInString(n) > maxScheduleNameLen {
			return errors.New("name cannot exceed 255 characters")
		}
	}
	if r.JobTemplateID != nil && *r.JobTemplateID <= 0 {
		return errors.New("job_template_id must be > 0")
	}
	if r.ServerID != nil && *r.ServerID <= 0 {
		return errors.New("server_id must be > 0")
	}
	if r.Schedule != nil && strings.TrimSpace(*r.Schedule) == "" {
		return errors.New("schedule cannot be empty")
	}
	if r.TimeoutSeconds != nil && *r.TimeoutSeconds <= 0 {
		return errors.New("timeout_seconds must be > 0")
	}
	if r.RetryCount != nil && *r.RetryCount < 0 {
		return errors.New("retry_count must be >= 0")
	}
	return nil
}
