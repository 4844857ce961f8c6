//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxCommandTemplateNameLen = 255
	defaultCommandTimeoutSecs = 300
)

// OutputFormat hints how a command's stdout should be presented downstream.
type OutputFormat string

const (
	OutputFormatText  OutputFormat = "text"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// Valid reports whether the output format is supported.
func (f OutputFormat) Valid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatTable:
		return true
	default:
		return false
	}
}

// normalizeOutputFormat trims and lowercases the input, defaulting to text when empty.
func normalizeOutputFormat(v OutputFormat) OutputFormat {
	normalized := OutputFormat(strings.ToLower(strings.TrimSpace(string(v))))
	if normalized == "" {
		return OutputFormatText
	}
	return normalized
}

// OSFilter restricts a command template to servers whose detected distro or
// package manager is listed. Empty lists match every server.
type OSFilter struct {
	Distro     []string `json:"distro,omitempty"`
	PkgManager []string `json:"pkg_manager,omitempty"`
}

// IsZero reports whether the filter imposes no restriction.
func (f OSFilter) IsZero() bool {
	return len(f.Distro) == 0 && len(f.PkgManager) == 0
}

// ParamSpec declares one variable a command template consumes. Required
// parameters without a value fail rendering; optional ones fall back to
// Default, or empty string when Default is nil.
type ParamSpec struct {
	Name        string  `json:"name"`
	Required    bool    `json:"required,omitempty"`
	Default     *string `json:"default,omitempty"`
	Description string  `json:"description,omitempty"`
}

// CommandTemplatesListOptions controls paging and filtering for listing
// command templates.
type CommandTemplatesListOptions struct {
	Limit     int
	Offset    int
	Q         *string // substring match on name (ILIKE)
	JobTypeID *int64
}

// CommandTemplate is a parameterized command bound to a job type. The command
// string carries {{placeholder}} markers resolved at execution time.
type CommandTemplate struct {
	ID                   int64             `json:"id"                          db:"id"`
	JobTypeID            int64             `json:"job_type_id"                 db:"job_type_id"`
	Name                 string            `json:"name"                        db:"name"`
	CommandString        string            `json:"command_string"              db:"command_string"`
	Parameters           []ParamSpec       `json:"parameters,omitempty"        db:"parameters"`
	RequiredCapabilities []string          `json:"required_capabilities"       db:"required_capabilities"`
	OSFilter             OSFilter          `json:"os_filter"                   db:"os_filter"`
	TimeoutSeconds       int               `json:"timeout_seconds"             db:"timeout_seconds"`
	WorkingDirectory     *string           `json:"working_directory,omitempty" db:"working_directory"`
	Environment          map[string]string `json:"environment,omitempty"       db:"environment"`
	OutputFormat         OutputFormat      `json:"output_format"               db:"output_format"`
	NotifyOnSuccess      bool              `json:"notify_on_success"           db:"notify_on_success"`
	NotifyOnFailure      bool              `json:"notify_on_failure"           db:"notify_on_failure"`
	CreatedAt            time.Time         `json:"created_at"                  db:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"                  db:"updated_at"`
}

// CreateCommandTemplateRequest represents parameters to create a CommandTemplate.
type CreateCommandTemplateRequest struct {
	JobTypeID            int64             `json:"job_type_id"`
	Name                 string            `json:"name"`
	CommandString        string            `json:"command_string"`
	Parameters           []ParamSpec       `json:"parameters,omitempty"`
	RequiredCapabilities []string          `json:"required_capabilities,omitempty"`
	OSFilter             OSFilter          `json:"os_filter,omitempty"`
	TimeoutSeconds       *int              `json:"timeout_seconds,omitempty"`
	WorkingDirectory     *string           `json:"working_directory,omitempty"`
	Environment          map[string]string `json:"environment,omitempty"`
	OutputFormat         OutputFormat      `json:"output_format,omitempty"`
	NotifyOnSuccess      *bool             `json:"notify_on_success,omitempty"`
	NotifyOnFailure      *bool             `json:"notify_on_failure,omitempty"`
}

// UpdateCommandTemplateRequest represents parameters to update a CommandTemplate.
type UpdateCommandTemplateRequest struct {
	Name                 *string           `json:"name,omitempty"`
	CommandString        *string           `json:"command_string,omitempty"`
	Parameters           []ParamSpec       `json:"parameters,omitempty"`
	RequiredCapabilities []string          `json:"required_capabilities,omitempty"`
	OSFilter             *OSFilter         `json:"os_filter,omitempty"`
	TimeoutSeconds       *int              `json:"timeout_seconds,omitempty"`
	WorkingDirectory     *string           `json:"working_directory,omitempty"`
	Environment          map[string]string `json:"environment,omitempty"`
	OutputFormat         *OutputFormat     `json:"output_format,omitempty"`
	NotifyOnSuccess      *bool             `json:"notify_on_success,omitempty"`
	NotifyOnFailure      *bool             `json:"notify_on_failure,omitempty"`
}

// Validate validates CreateCommandTemplateRequest, applying defaults for
// timeout and output format.
func (r *CreateCommandTemplateRequest) Validate() error {
	if r.JobTypeID <= 0 {
		return errors.New("job_type_id is required")
	}
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return errors.New("name is required and cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxCommandTemplateNameLen {
		return errors.New("name cannot exceed 255 characters")
	}
	if strings.TrimSpace(r.CommandString) == "" {
		return errors.New("command_string is required")
	}
	if err := validateParamSpecs(r.Parameters); err != nil {
		return err
	}
	if err := validateCapabilityNames(r.RequiredCapabilities); err != nil {
		return err
	}
	if r.TimeoutSeconds == nil {
		t := defaultCommandTimeoutSecs
		r.TimeoutSeconds = &t
	}
	if *r.TimeoutSeconds <= 0 {
		return errors.New("timeout_seconds must be > 0")
	}
	r.OutputFormat = normalizeOutputFormat(r.OutputFormat)
	if !r.OutputFormat.Valid() {
		return errors.New("output_format must be one of: text, json, table")
	}
	return nil
}

// HasUpdates reports whether any field is set in UpdateCommandTemplateRequest.
func (r *UpdateCommandTemplateRequest) HasUpdates() bool {
	return r.Name != nil || r.CommandString != nil || r.Parameters != nil ||
		r.RequiredCapabilities != nil ||
		r.OSFilter != nil ||
		r.TimeoutSeconds != nil ||
		r.WorkingDirectory != nil ||
		r.Environment != nil ||
		r.OutputFormat != nil ||
		r.NotifyOnSuccess != nil ||
		r.NotifyOnFailure != nil
}

// Validate validates UpdateCommandTemplateRequest.
func (r *UpdateCommandTemplateRequest) Validate() error {
	if !r.HasUpdates() {
		return errors.New("at least one field must be updated")
	}
	if r.Name != nil {
		n := strings.TrimSpace(*r.Name)
		if n == "" {
			return errors.New("name cannot be empty")
		}
		if utf8.RuneCountInString(n) > maxCommandTemplateNameLen {
			return errors.New("name cannot exceed 255 characters")
		}
	}
	if r.CommandString != nil && strings.TrimSpace(*r.CommandString) == "" {
		return errors.New("command_string cannot be empty")
	}
	if r.Parameters != nil {
		if err := validateParamSpecs(r.Parameters); err != nil {
			return err
		}
	}
	if r.RequiredCapabilities != nil {
		if err := validateCapabilityNames(r.RequiredCapabilities); err != nil {
			return err
		}
	}
	if r.TimeoutSeconds != nil && *r.TimeoutSeconds <= 0 {
		return errors.New("timeout_seconds must be > 0")
	}
	if r.OutputFormat != nil {
		format := normalizeOutputFormat(*r.OutputFormat)
		if !format.Valid() {
			return errors.New("output_format must be one of: text, json, table")
		}
		*r.OutputFormat = format
	}
	return nil
}

func validateParamSpecs(params []ParamSpec) error {
	seen := make(map[string]bool)
	for i := range params {
		name := strings.TrimSpace(params[i].Name)
		if name == "" {
			return errors.New("parameter names cannot be empty")
		}
		if seen[name] {
			return fmt.Errorf("duplicate parameter %q", name)
		}
		seen[name] = true
		params[i].Name = name
	}
	return nil
}
