//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import "time"

// NotificationLog is the audit record of one delivery attempt that reached a
// final outcome, success or exhausted retries.
type NotificationLog struct {
	ID           int64     `json:"id"                      db:"id"`
	ChannelID    int64     `json:"channel_id"              db:"channel_id"`
	PolicyID     *int64    `json:"policy_id,omitempty"     db:"policy_id"`
	JobRunID     *int64    `json:"job_run_id,omitempty"    db:"job_run_id"`
	Title        string    `json:"title"                   db:"title"`
	Body         string    `json:"body"                    db:"body"`
	Priority     int       `json:"priority"                db:"priority"`
	Success      bool      `json:"success"                 db:"success"`
	ErrorMessage *string   `json:"error_message,omitempty" db:"error_message"`
	RetryCount   int       `json:"retry_count"             db:"retry_count"`
	SentAt       time.Time `json:"sent_at"                 db:"sent_at"`
}

// LogNotificationRequest represents parameters to insert a NotificationLog row.
type LogNotificationRequest struct {
	ChannelID    int64   `json:"channel_id"`
	PolicyID     *int64  `json:"policy_id,omitempty"`
	JobRunID     *int64  `json:"job_run_id,omitempty"`
	Title        string  `json:"title"`
	Body         string  `json:"body"`
	Priority     int     `json:"priority"`
	Success      bool    `json:"success"`
	ErrorMessage *string `json:"error_message,omitempty"`
	RetryCount   int     `json:"retry_count"`
}

// NotificationLogListOptions controls paging and filtering for the audit trail.
type NotificationLogListOptions struct {
	Limit     int
	Offset    int
	ChannelID *int64
	PolicyID  *int64
	JobRunID  *int64
	Success   *bool
}
