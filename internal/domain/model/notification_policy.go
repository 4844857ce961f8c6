//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxPolicyNameLen          = 255
	defaultOutputMaxLines     = 20
	defaultPolicyTitle        = "{{job_display_name}} on {{server_name}}: {{status}}"
	defaultPolicyBody         = "{{status_emoji}} {{job_display_name}} finished with {{status}} on {{server_name}} in {{duration_human}}.{{#if error_summary}}\n{{error_summary}}{{/if}}{{#if output_snippet}}\n\n{{output_snippet}}{{/if}}"
	maxPolicyOutputLinesLimit = 500
)

// PolicyFilters narrows which runs a policy applies to. Empty filters match
// every run; a server passes the tag filter when it carries any listed tag.
type PolicyFilters struct {
	JobType   *string  `json:"job_type,omitempty"`
	ServerIDs []int64  `json:"server_ids,omitempty"`
	TagNames  []string `json:"tag_names,omitempty"`
}

// IsZero reports whether the filters impose no restriction.
func (f PolicyFilters) IsZero() bool {
	return f.JobType == nil && len(f.ServerIDs) == 0 && len(f.TagNames) == 0
}

// PoliciesListOptions controls paging and filtering for listing policies.
type PoliciesListOptions struct {
	Limit   int
	Offset  int
	Enabled *bool
}

// NotificationPolicy decides which run outcomes produce notifications, how
// they are rendered, and which channels receive them.
type NotificationPolicy struct {
	ID                   int64         `json:"id"                               db:"id"`
	Name                 string        `json:"name"                             db:"name"`
	Enabled              bool          `json:"enabled"                          db:"enabled"`
	OnSuccess            bool          `json:"on_success"                       db:"on_success"`
	OnFailure            bool          `json:"on_failure"                       db:"on_failure"`
	OnTimeout            bool          `json:"on_timeout"                       db:"on_timeout"`
	Filters              PolicyFilters `json:"filters"                          db:"filters"`
	MinSeverity          int           `json:"min_severity"                     db:"min_severity"`
	MaxPerHour           *int          `json:"max_per_hour,omitempty"           db:"max_per_hour"`
	TitleTemplate        string        `json:"title_template"                   db:"title_template"`
	BodyTemplate         string        `json:"body_template"                    db:"body_template"`
	SuccessTitleTemplate *string       `json:"success_title_template,omitempty" db:"success_title_template"`
	SuccessBodyTemplate  *string       `json:"success_body_template,omitempty"  db:"success_body_template"`
	FailureTitleTemplate *string       `json:"failure_title_template,omitempty" db:"failure_title_template"`
	FailureBodyTemplate  *string       `json:"failure_body_template,omitempty"  db:"failure_body_template"`
	IncludeOutput        bool          `json:"include_output"                   db:"include_output"`
	OutputMaxLines       int           `json:"output_max_lines"                 db:"output_max_lines"`
	ChannelIDs           []int64       `json:"channel_ids"                      db:"channel_ids"`
	CreatedAt            time.Time     `json:"created_at"                       db:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"                       db:"updated_at"`
}

// StatusSeverity ranks run outcomes for the min_severity policy filter:
// success 0, cancelled 1, failure and timeout 2.
func StatusSeverity(status RunStatus) int {
	switch status {
	case RunStatusSuccess:
		return 0
	case RunStatusCancelled:
		return 1
	case RunStatusFailure, RunStatusTimeout:
		return 2
	default:
		return 0
	}
}

// CreateNotificationPolicyRequest represents parameters to create a NotificationPolicy.
type CreateNotificationPolicyRequest struct {
	Name                 string        `json:"name"`
	Enabled              *bool         `json:"enabled,omitempty"`
	OnSuccess            bool          `json:"on_success,omitempty"`
	OnFailure            bool          `json:"on_failure,omitempty"`
	OnTimeout            bool          `json:"on_timeout,omitempty"`
	Filters              PolicyFilters `json:"filters,omitempty"`
	MinSeverity          int           `json:"min_severity,omitempty"`
	MaxPerHour           *int          `json:"max_per_hour,omitempty"`
	TitleTemplate        string        `json:"title_template,omitempty"`
	BodyTemplate         string        `json:"body_template,omitempty"`
	SuccessTitleTemplate *string       `json:"success_title_template,omitempty"`
	SuccessBodyTemplate  *string       `json:"success_body_template,omitempty"`
	FailureTitleTemplate *string       `json:"failure_title_template,omitempty"`
	FailureBodyTemplate  *string       `json:"failure_body_template,omitempty"`
	IncludeOutput        *bool         `json:"include_output,omitempty"`
	OutputMaxLines       *int          `json:"output_max_lines,omitempty"`
	ChannelIDs           []int64       `json:"channel_ids"`
}

// UpdateNotificationPolicyRequest represents parameters to update a NotificationPolicy.
type UpdateNotificationPolicyRequest struct {
	Name                 *string        `json:"name,omitempty"`
	Enabled              *bool          `json:"enabled,omitempty"`
	OnSuccess            *bool          `json:"on_success,omitempty"`
	OnFailure            *bool          `json:"on_failure,omitempty"`
	OnTimeout            *bool          `json:"on_timeout,omitempty"`
	Filters              *PolicyFilters `json:"filters,omitempty"`
	MinSeverity          *int           `json:"min_severity,omitempty"`
	MaxPerHour           *int           `json:"max_per_hour,omitempty"`
	TitleTemplate        *string        `json:"title_template,omitempty"`
	BodyTemplate         *string        `json:"body_template,omitempty"`
	SuccessTitleTemplate *string        `json:"success_title_template,omitempty"`
	SuccessBodyTemplate  *string        `json:"success_body_template,omitempty"`
	FailureTitleTemplate *string        `json:"failure_title_template,omitempty"`
	FailureBodyTemplate  *string        `json:"failure_body_template,omitempty"`
	IncludeOutput        *bool          `json:"include_output,omitempty"`
	OutputMaxLines       *int           `json:"output_max_lines,omitempty"`
	ChannelIDs           []int64        `json:"channel_ids,omitempty"`
}

// Validate validates CreateNotificationPolicyRequest, applying template and
// output-cap defaults.
func (r *CreateNotificationPolicyRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return errors.New("name is required and cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxPolicyNameLen {
		return errors.New("name cannot exceed 255 characters")
	}
	if !r.OnSuccess && !r.OnFailure && !r.OnTimeout {
		return errors.New("at least one of on_success, on_failure, on_timeout must be set")
	}
	if r.MinSeverity < 0 || r.MinSeverity > 2 {
		return errors.New("min_severity must be between 0 and 2")
	}
	if r.MaxPerHour != nil && *r.MaxPerHour <= 0 {
		return errors.New("max_per_hour must be > 0")
	}
	if strings.TrimSpace(r.TitleTemplate) == "" {
		r.TitleTemplate = defaultPolicyTitle
	}
	if strings.TrimSpace(r.BodyTemplate) == "" {
		r.BodyTemplate = defaultPolicyBody
	}
	if r.OutputMaxLines == nil {
		n := defaultOutputMaxLines
		r.OutputMaxLines = &n
	}
	if *r.OutputMaxLines < 1 || *r.OutputMaxLines > maxPolicyOutputLinesLimit {
		return errors.New("output_max_lines must be between 1 and 500")
	}
	if len(r.ChannelIDs) == 0 {
		return errors.New("channel_ids must list at least one channel")
	}
	return validateChannelIDs(r.ChannelIDs)
}

// HasUpdates reports whether any field is set in UpdateNotificationPolicyRequest.
func (r *UpdateNotificationPolicyRequest) HasUpdates() bool {
	return r.Name != nil || r.Enabled != nil || r.OnSuccess != nil || r.OnFailure != nil ||
		r.OnTimeout != nil ||
		r.Filters != nil ||
		r.MinSeverity != nil ||
		r.MaxPerHour != nil ||
		r.TitleTemplate != nil ||
		r.BodyTemplate != nil ||
		r.SuccessTitleTemplate != nil ||
		r.SuccessBodyTemplate != nil ||
		r.FailureTitleTemplate != nil ||
		r.FailureBodyTemplate != nil ||
		r.IncludeOutput != nil ||
		r.OutputMaxLines != nil ||
		r.ChannelIDs != nil
}

// Validate validates UpdateNotificationPolicyRequest.
func (r *UpdateNotificationPolicyRequest) Validate() error {
	if !r.HasUpdates() {
		return errors.New("at least one field must be updated")
	}
	if r.Name != nil {
		n := strings.TrimSpace(*r.Name)
		if n == "" {
			return errors.New("name cannot be empty")
		}
		if utf8.RuneCountInString(n) > maxPolicyNameLen {
			return errors.New("name cannot exceed 255 characters")
		}
	}
	if r.MinSeverity != nil && (*r.MinSeverity < 0 || *r.MinSeverity > 2) {
		return errors.New("min_severity must be between 0 and 2")
	}
	if r.MaxPerHour != nil && *r.MaxPerHour <= 0 {
		return errors.New("max_per_hour must be > 0")
	}
	if r.TitleTemplate != nil && strings.TrimSpace(*r.TitleTemplate) == "" {
		return errors.New("title_template cannot be empty")
	}
	if r.BodyTemplate != nil && strings.TrimSpace(*r.BodyTemplate) == "" {
		return errors.New("body_template cannot be empty")
	}
	if r.OutputMaxLines != nil && (*r.OutputMaxLines < 1 || *r.OutputMaxLines > maxPolicyOutputLinesLimit) {
		return errors.New("output_max_lines must be between 1 and 500")
	}
	if r.ChannelIDs != nil {
		if len(r.ChannelIDs) == 0 {
			return errors.New("channel_ids must list at least one channel")
		}
		return validateChannelIDs(r.ChannelIDs)
	}
	return nil
}

func validateChannelIDs(ids []int64) error {
	seen := make(map[int64]bool)
	for _, id := range ids {
		if id <= 0 {
			return errors.New("channel_ids must be positive")
		}
		if seen[id] {
			return errors.New("channel_ids cannot contain duplicates")
		}
		seen[id] = true
	}
	return nil
}
