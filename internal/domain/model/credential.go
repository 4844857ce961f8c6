//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const maxCredentialNameLen = 255

// CredentialKind identifies what kind of secret a credential holds.
type CredentialKind string

const (
	CredentialKindSSHKey      CredentialKind = "ssh_key"
	CredentialKindAPIToken    CredentialKind = "api_token"
	CredentialKindPassword    CredentialKind = "password"
	CredentialKindCertificate CredentialKind = "certificate"
)

// Valid reports whether the credential kind is supported.
func (k CredentialKind) Valid() bool {
	switch k {
	case CredentialKindSSHKey, CredentialKindAPIToken, CredentialKindPassword, CredentialKindCertificate:
		return true
	default:
		return false
	}
}

// ParseCredentialKind normalizes a kind string and reports whether it is supported.
func ParseCredentialKind(value string) (CredentialKind, bool) {
	kind := CredentialKind(strings.ToLower(strings.TrimSpace(value)))
	if kind.Valid() {
		return kind, true
	}
	return "", false
}

// CredentialsListOptions controls paging and filtering for listing credentials.
// Sort supports "name", "kind", "created_at"; Dir supports "asc"/"desc".
type CredentialsListOptions struct {
	Limit  int
	Offset int
	Q      *string // substring match on name (ILIKE)
	Kind   *CredentialKind
	Sort   string
	Dir    string
}

// Credential is an opaque secret bundle referenced by servers.
// Value is stored as provided; encryption at rest is handled outside the core.
type Credential struct {
	ID        int64             `json:"id"                 db:"id"`
	Name      string            `json:"name"               db:"name"`
	Kind      CredentialKind    `json:"kind"               db:"kind"`
	Value     string            `json:"-"                  db:"value"`
	Username  *string           `json:"username,omitempty" db:"username"`
	Metadata  map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time         `json:"created_at"         db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"         db:"updated_at"`
}

// CreateCredentialRequest represents parameters to create a Credential.
type CreateCredentialRequest struct {
	Name     string            `json:"name"`
	Kind     CredentialKind    `json:"kind"`
	Value    string            `json:"value"`
	Username *string           `json:"username,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UpdateCredentialRequest represents parameters to update a Credential.
type UpdateCredentialRequest struct {
	Name     *string           `json:"name,omitempty"`
	Kind     *CredentialKind   `json:"kind,omitempty"`
	Value    *string           `json:"value,omitempty"`
	Username *string           `json:"username,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate validates CreateCredentialRequest.
func (r *CreateCredentialRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return errors.New("name is required and cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxCredentialNameLen {
		return errors.New("name cannot exceed 255 characters")
	}
	if !r.Kind.Valid() {
		return errors.New("kind must be one of: ssh_key, api_token, password, certificate")
	}
	if r.Value == "" {
		return errors.New("value is required")
	}
	return nil
}

// HasUpdates reports whether any field is set in UpdateCredentialRequest.
func (r *UpdateCredentialRequest) HasUpdates() bool {
	return r.Name != nil || r.Kind != nil || r.Value != nil || r.Username != nil || r.Metadata != nil
}

// Validate validates UpdateCredentialRequest, ensuring at least one field is set and values are sane.
func (r *UpdateCredentialRequest) Validate() error {
	if !r.HasUpdates() {
		return errors.New("at least one field must be updated")
	}
	if r.Name != nil {
		n := strings.TrimSpace(*r.Name)
		if n == "" {
			return errors.New("name cannot be empty")
		}
		if utf8.RuneCountInString(n) > maxCredentialNameLen {
			return errors.New("name cannot exceed 255 characters")
		}
	}
	if r.Kind != nil && !r.Kind.Valid() {
		return errors.New("kind must be one of: ssh_key, api_token, password, certificate")
	}
	if r.Value != nil && *r.Value == "" {
		return errors.New("value cannot be empty")
	}
	return nil
}
