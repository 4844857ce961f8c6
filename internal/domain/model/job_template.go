//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const maxJobTemplateNameLen = 255

// JobTemplatesListOptions controls paging and filtering for listing job
// templates.
type JobTemplatesListOptions struct {
	Limit       int
	Offset      int
	Q           *string // substring match on name or display_name (ILIKE)
	JobTypeID   *int64
	IsComposite *bool
}

// JobTemplate is a reusable, user-facing job definition. Simple templates
// point at one command template; composite templates run an ordered list of
// steps instead.
type JobTemplate struct {
	ID                   int64          `json:"id"                               db:"id"`
	Name                 string         `json:"name"                             db:"name"`
	DisplayName          string         `json:"display_name"                     db:"display_name"`
	JobTypeID            int64          `json:"job_type_id"                      db:"job_type_id"`
	IsComposite          bool           `json:"is_composite"                     db:"is_composite"`
	CommandTemplateID    *int64         `json:"command_template_id,omitempty"    db:"command_template_id"`
	Variables            map[string]any `json:"variables,omitempty"              db:"variables"`
	TimeoutSeconds       *int           `json:"timeout_seconds,omitempty"        db:"timeout_seconds"`
	RetryCount           int            `json:"retry_count"                      db:"retry_count"`
	RetryDelaySeconds    int            `json:"retry_delay_seconds"              db:"retry_delay_seconds"`
	NotifyOnSuccess      bool           `json:"notify_on_success"                db:"notify_on_success"`
	NotifyOnFailure      bool           `json:"notify_on_failure"                db:"notify_on_failure"`
	NotificationPolicyID *int64         `json:"notification_policy_id,omitempty" db:"notification_policy_id"`
	CreatedAt            time.Time      `json:"created_at"                       db:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"                       db:"updated_at"`
}

// JobTemplateStep is one ordered step of a composite job template. Steps run
// by ascending StepOrder; gaps in the ordering are allowed.
type JobTemplateStep struct {
	ID                int64          `json:"id"                        db:"id"`
	JobTemplateID     int64          `json:"job_template_id"           db:"job_template_id"`
	StepOrder         int            `json:"step_order"                db:"step_order"`
	Name              string         `json:"name"                      db:"name"`
	CommandTemplateID int64          `json:"command_template_id"       db:"command_template_id"`
	Variables         map[string]any `json:"variables,omitempty"       db:"variables"`
	ContinueOnFailure bool           `json:"continue_on_failure"       db:"continue_on_failure"`
	TimeoutSeconds    *int           `json:"timeout_seconds,omitempty" db:"timeout_seconds"`
	CreatedAt         time.Time      `json:"created_at"                db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"                db:"updated_at"`
}

// CreateJobTemplateRequest represents parameters to create a JobTemplate.
// Composite templates must be created with at least one step; simple ones
// with a command_template_id and no steps.
type CreateJobTemplateRequest struct {
	Name                 string                         `json:"name"`
	DisplayName          string                         `json:"display_name,omitempty"`
	JobTypeID            int64                          `json:"job_type_id"`
	IsComposite          bool                           `json:"is_composite,omitempty"`
	CommandTemplateID    *int64                         `json:"command_template_id,omitempty"`
	Variables            map[string]any                 `json:"variables,omitempty"`
	TimeoutSeconds       *int                           `json:"timeout_seconds,omitempty"`
	RetryCount           int                            `json:"retry_count,omitempty"`
	RetryDelaySeconds    int                            `json:"retry_delay_seconds,omitempty"`
	NotifyOnSuccess      *bool                          `json:"notify_on_success,omitempty"`
	NotifyOnFailure      *bool                          `json:"notify_on_failure,omitempty"`
	NotificationPolicyID *int64                         `json:"notification_policy_id,omitempty"`
	Steps                []CreateJobTemplateStepRequest `json:"steps,omitempty"`
}

// CreateJobTemplateStepRequest represents one step of a composite template.
type CreateJobTemplateStepRequest struct {
	StepOrder         int            `json:"step_order"`
	Name              string         `json:"name"`
	CommandTemplateID int64          `json:"command_template_id"`
	Variables         map[string]any `json:"variables,omitempty"`
	ContinueOnFailure bool           `json:"continue_on_failure,omitempty"`
	TimeoutSeconds    *int           `json:"timeout_seconds,omitempty"`
}

// UpdateJobTemplateRequest represents parameters to update a JobTemplate.
// The composite flag is immutable after creation; replace the template instead.
type UpdateJobTemplateRequest struct {
	Name                 *string        `json:"name,omitempty"`
	DisplayName          *string        `json:"display_name,omitempty"`
	CommandTemplateID    *int64         `json:"command_template_id,omitempty"`
	Variables            map[string]any `json:"variables,omitempty"`
	TimeoutSeconds       *int           `json:"timeout_seconds,omitempty"`
	RetryCount           *int           `json:"retry_count,omitempty"`
	RetryDelaySeconds    *int           `json:"retry_delay_seconds,omitempty"`
	NotifyOnSuccess      *bool          `json:"notify_on_success,omitempty"`
	NotifyOnFailure      *bool          `json:"notify_on_failure,omitempty"`
	NotificationPolicyID *int64         `json:"notification_policy_id,omitempty"`
}

// Validate validates CreateJobTemplateRequest, enforcing the composite shape:
// composite templates carry steps and no command_template_id, simple ones the
// reverse.
func (r *CreateJobTemplateRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return errors.New("name is required and cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxJobTemplateNameLen {
		return errors.New("name cannot exceed 255 characters")
	}
	if strings.TrimSpace(r.DisplayName) == "" {
		r.DisplayName = name
	}
	if r.JobTypeID <= 0 {
		return errors.New("job_type_id is required")
	}
	if r.IsComposite {
		if r.CommandTemplateID != nil {
			return errors.New("composite templates cannot have a command_template_id")
		}
		if len(r.Steps) == 0 {
			return errors.New("composite templates require at least one step")
		}
		if err := validateSteps(r.Steps); err != nil {
			return err
		}
	} else {
		if r.CommandTemplateID == nil {
			return errors.New("command_template_id is required for simple templates")
		}
		if len(r.Steps) > 0 {
			return errors.New("simple templates cannot have steps")
		}
	}
	if r.TimeoutSeconds != nil && *r.TimeoutSeconds <= 0 {
		return errors.New("timeout_seconds must be > 0")
	}
	if r.RetryCount < 0 {
		return errors.New("retry_count must be >= 0")
	}
	if r.RetryDelaySeconds < 0 {
		return errors.New("retry_delay_seconds must be >= 0")
	}
	return nil
}

// HasUpdates reports whether any field is set in UpdateJobTemplateRequest.
func (r *UpdateJobTemplateRequest) HasUpdates() bool {
	return r.Name != nil || r.DisplayName != nil || r.CommandTemplateID != nil ||
		r.Variables != nil ||
		r.TimeoutSeconds != nil ||
		r.RetryCount != nil ||
		r.RetryDelaySeconds != nil ||
		r.NotifyOnSuccess != nil ||
		r.NotifyOnFailure != nil ||
		r.NotificationPolicyID != nil
}

// Validate validates UpdateJobTemplateRequest.
func (r *UpdateJobTemplateRequest) Validate() error {
	if !r.HasUpdates() {
		return errors.New("at least one field must be updated")
	}
	if r.Name != nil {
		n := strings.TrimSpace(*r.Name)
		if n == "" {
			return errors.New("name cannot be empty")
		}
		if utf8.RuneCountInString(n) > maxJobTemplateNameLen {
			return errors.New("name cannot exceed 255 characters")
		}
	}
	if r.DisplayName != nil && strings.TrimSpace(*r.DisplayName) == "" {
		return errors.New("display_name cannot be empty")
	}
	if r.TimeoutSeconds != nil && *r.TimeoutSeconds <= 0 {
		return errors.New("timeout_seconds must be > 0")
	}
	if r.RetryCount != nil && *r.RetryCount < 0 {
		return errors.New("retry_count must be >= 0")
	}
	if r.RetryDelaySeconds != nil && *r.RetryDelaySeconds < 0 {
		return errors.New("retry_delay_seconds must be >= 0")
	}
	return nil
}

// ValidateJobTemplateSteps validates a replacement step list for a composite
// template. At least one step is required.
func ValidateJobTemplateSteps(steps []CreateJobTemplateStepRequest) error {
	if len(steps) == 0 {
		return errors.New("composite templates require at least one step")
	}
	return validateSteps(steps)
}

func validateSteps(steps []CreateJobTemplateStepRequest) error {
	seenOrder := make(map[int]bool)
	for i := range steps {
		s := &steps[i]
		if s.StepOrder < 0 {
			return errors.New("step_order must be >= 0")
		}
		if seenOrder[s.StepOrder] {
			return errors.New("step_order values must be unique")
		}
		seenOrder[s.StepOrder] = true
		if strings.TrimSpace(s.Name) == "" {
			return errors.New("step name is required")
		}
		if s.CommandTemplateID <= 0 {
			return errors.New("step command_template_id is required")
		}
		if s.TimeoutSeconds != nil && *s.TimeoutSeconds <= 0 {
			return errors.New("step timeout_seconds must be > 0")
		}
	}
	return nil
}
