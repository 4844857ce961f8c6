//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const maxJobTypeNameLen = 100

// JobTypesListOptions controls paging and filtering for listing job types.
type JobTypesListOptions struct {
	Limit   int
	Offset  int
	Q       *string // substring match on name or display_name (ILIKE)
	Enabled *bool
}

// JobType is a top-level grouping of command templates, e.g. "maintenance"
// or "deployment". Capabilities listed here are required by every template in
// the group.
type JobType struct {
	ID                   int64     `json:"id"                    db:"id"`
	Name                 string    `json:"name"                  db:"name"`
	DisplayName          string    `json:"display_name"          db:"display_name"`
	RequiresCapabilities []string  `json:"requires_capabilities" db:"requires_capabilities"`
	Enabled              bool      `json:"enabled"               db:"enabled"`
	CreatedAt            time.Time `json:"created_at"            db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"            db:"updated_at"`
}

// CreateJobTypeRequest represents parameters to create a JobType.
type CreateJobTypeRequest struct {
	Name                 string   `json:"name"`
	DisplayName          string   `json:"display_name,omitempty"`
	RequiresCapabilities []string `json:"requires_capabilities,omitempty"`
	Enabled              *bool    `json:"enabled,omitempty"`
}

// UpdateJobTypeRequest represents parameters to update a JobType.
type UpdateJobTypeRequest struct {
	Name                 *string  `json:"name,omitempty"`
	DisplayName          *string  `json:"display_name,omitempty"`
	RequiresCapabilities []string `json:"requires_capabilities,omitempty"`
	Enabled              *bool    `json:"enabled,omitempty"`
}

// Validate validates CreateJobTypeRequest. DisplayName defaults to Name.
func (r *CreateJobTypeRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return errors.New("name is required and cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxJobTypeNameLen {
		return errors.New("name cannot exceed 100 characters")
	}
	if strings.TrimSpace(r.DisplayName) == "" {
		r.DisplayName = name
	}
	return validateCapabilityNames(r.RequiresCapabilities)
}

// HasUpdates reports whether any field is set in UpdateJobTypeRequest.
func (r *UpdateJobTypeRequest) HasUpdates() bool {
	return r.Name != nil || r.DisplayName != nil || r.RequiresCapabilities != nil || r.Enabled != nil
}

// Validate validates UpdateJobTypeRequest.
func (r *UpdateJobTypeRequest) Validate() error {
	if !r.HasUpdates() {
		return errors.New("at least one field must be updated")
	}
	if r.Name != nil {
		n := strings.TrimSpace(*r.Name)
		if n == "" {
			return errors.New("name cannot be empty")
		}
		if utf8.RuneCountInString(n) > maxJobTypeNameLen {
			return errors.New("name cannot exceed 100 characters")
		}
	}
	if r.DisplayName != nil && strings.TrimSpace(*r.DisplayName) == "" {
		return errors.New("display_name cannot be empty")
	}
	if r.RequiresCapabilities != nil {
		return validateCapabilityNames(r.RequiresCapabilities)
	}
	return nil
}

func validateCapabilityNames(names []string) error {
	seen := make(map[string]bool)
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return errors.New("capability names cannot be empty")
		}
		if seen[trimmed] {
			return errors.New("capability names cannot contain duplicates")
		}
		seen[trimmed] = true
	}
	return nil
}
