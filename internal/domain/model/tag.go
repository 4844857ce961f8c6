//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const maxTagNameLen = 100

// reHexColor matches "#rgb" and "#rrggbb" forms.
var reHexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// TagsListOptions controls paging and filtering for listing tags.
type TagsListOptions struct {
	Limit  int
	Offset int
	Q      *string // substring match on name (ILIKE)
}

// Tag groups servers for filtering and notification policy scoping.
type Tag struct {
	ID          int64     `json:"id"                    db:"id"`
	Name        string    `json:"name"                  db:"name"`
	Color       string    `json:"color"                 db:"color"`
	Description *string   `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at"            db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"            db:"updated_at"`
}

// CreateTagRequest represents parameters to create a Tag.
type CreateTagRequest struct {
	Name        string  `json:"name"`
	Color       string  `json:"color,omitempty"`
	Description *string `json:"description,omitempty"`
}

// UpdateTagRequest represents parameters to update a Tag.
type UpdateTagRequest struct {
	Name        *string `json:"name,omitempty"`
	Color       *string `json:"color,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Validate validates CreateTagRequest. An empty color falls back to the default.
func (r *CreateTagRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return errors.New("name is required and cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxTagNameLen {
		return errors.New("name cannot exceed 100 characters")
	}
	if r.Color == "" {
		r.Color = "#6b7280"
	}
	if !reHexColor.MatchString(r.Color) {
		return errors.New("color must be a hex color like #3b82f6")
	}
	return nil
}

// HasUpdates reports whether any field is set in UpdateTagRequest.
func (r *UpdateTagRequest) HasUpdates() bool {
	return r.Name != nil || r.Color != nil || r.Description != nil
}

// Validate validates UpdateTagRequest.
func (r *UpdateTagRequest) Validate() error {
	if !r.HasUpdates() {
		return errors.New("at least one field must be updated")
	}
	if r.Name != nil {
		n := strings.TrimSpace(*r.Name)
		if n == "" {
			return errors.New("name cannot be empty")
		}
		if utf8.RuneCountInString(n) > maxTagNameLen {
			return errors.New("name cannot exceed 100 characters")
		}
	}
	if r.Color != nil && !reHexColor.MatchString(*r.Color) {
		return errors.New("color must be a hex color like #3b82f6")
	}
	return nil
}
