//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxServerNameLen = 255
	defaultSSHPort   = 22
)

// ServersListOptions controls paging and filtering for listing servers.
// Notes:
// - Sort supports: "created_at", "name", "last_seen_at" (case-insensitive).
// - Dir supports: "asc", "desc" (case-insensitive); values are normalized internally.
// - Q matches name or hostname via ILIKE substring.
// - Enabled matches exactly; Tag matches servers carrying the named tag.
type ServersListOptions struct {
	Limit   int
	Offset  int
	Q       *string
	Enabled *bool
	Tag     *string
	Sort    string
	Dir     string
}

// Server is an execution target, either the local host or a remote reached over SSH.
type Server struct {
	ID               int64      `json:"id"                        db:"id"`
	Name             string     `json:"name"                      db:"name"`
	IsLocal          bool       `json:"is_local"                  db:"is_local"`
	Hostname         *string    `json:"hostname,omitempty"        db:"hostname"`
	Port             int        `json:"port"                      db:"port"`
	Username         *string    `json:"username,omitempty"        db:"username"`
	CredentialID     *int64     `json:"credential_id,omitempty"   db:"credential_id"`
	Enabled          bool       `json:"enabled"                   db:"enabled"`
	OSType           *string    `json:"os_type,omitempty"         db:"os_type"`
	OSDistro         *string    `json:"os_distro,omitempty"       db:"os_distro"`
	PackageManager   *string    `json:"package_manager,omitempty" db:"package_manager"`
	DockerAvailable  bool       `json:"docker_available"          db:"docker_available"`
	SystemdAvailable bool       `json:"systemd_available"         db:"systemd_available"`
	LastSeenAt       *time.Time `json:"last_seen_at,omitempty"    db:"last_seen_at"`
	LastError        *string    `json:"last_error,omitempty"      db:"last_error"`
	TagNames         []string   `json:"tag_names,omitempty"       db:"tag_names"`
	CreatedAt        time.Time  `json:"created_at"                db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"                db:"updated_at"`
}

// Address returns the host:port dial target for remote servers.
func (s *Server) Address() string {
	host := ""
	if s.Hostname != nil {
		host = *s.Hostname
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}

// CreateServerRequest represents parameters to create a Server.
type CreateServerRequest struct {
	Name         string   `json:"name"`
	IsLocal      bool     `json:"is_local,omitempty"`
	Hostname     *string  `json:"hostname,omitempty"`
	Port         *int     `json:"port,omitempty"`
	Username     *string  `json:"username,omitempty"`
	CredentialID *int64   `json:"credential_id,omitempty"`
	Enabled      *bool    `json:"enabled,omitempty"`
	TagNames     []string `json:"tag_names,omitempty"`
}

// UpdateServerRequest represents parameters to update a Server.
type UpdateServerRequest struct {
	Name         *string  `json:"name,omitempty"`
	Hostname     *string  `json:"hostname,omitempty"`
	Port         *int     `json:"port,omitempty"`
	Username     *string  `json:"username,omitempty"`
	CredentialID *int64   `json:"credential_id,omitempty"`
	Enabled      *bool    `json:"enabled,omitempty"`
	TagNames     []string `json:"tag_names,omitempty"`
}

// Validate validates CreateServerRequest. Remote servers require hostname and
// username; local servers must not carry them.
func (r *CreateServerRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return errors.New("name is required and cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxServerNameLen {
		return errors.New("name cannot exceed 255 characters")
	}
	if r.IsLocal {
		if r.Hostname != nil && strings.TrimSpace(*r.Hostname) != "" {
			return errors.New("local servers cannot have a hostname")
		}
		if r.Username != nil && strings.TrimSpace(*r.Username) != "" {
			return errors.New("local servers cannot have an ssh username")
		}
	} else {
		if r.Hostname == nil || strings.TrimSpace(*r.Hostname) == "" {
			return errors.New("hostname is required for remote servers")
		}
		if r.Username == nil || strings.TrimSpace(*r.Username) == "" {
			return errors.New("username is required for remote servers")
		}
	}
	if r.Port == nil {
		p := defaultSSHPort
		r.Port = &p
	}
	if *r.Port < 1 || *r.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	return validateTagNames(r.TagNames)
}

// HasUpdates reports whether any field is set in UpdateServerRequest.
func (r *UpdateServerRequest) HasUpdates() bool {
	return r.Name != nil || r.Hostname != nil || r.Port != nil || r.Username != nil ||
		r.CredentialID != nil ||
		r.Enabled != nil ||
		r.TagNames != nil
}

// Validate validates UpdateServerRequest.
func (r *UpdateServerRequest) Validate() error {
	if !r.HasUpdates() {
		return errors.New("at least one field must be updated")
	}
	if r.Name != nil {
		n := strings.TrimSpace(*r.Name)
		if n == "" {
			return errors.New("name cannot be empty")
		}
		if utf8.RuneCountInString(n) > maxServerNameLen {
			return errors.New("name cannot exceed 255 characters")
		}
	}
	if r.Port != nil && (*r.Port < 1 || *r.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}
	if r.TagNames != nil {
		return validateTagNames(r.TagNames)
	}
	return nil
}

func validateTagNames(names []string) error {
	seen := make(map[string]bool)
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return errors.New("tag_names cannot contain empty entries")
		}
		if seen[trimmed] {
			return errors.New("tag_names cannot contain duplicate entries")
		}
		seen[trimmed] = true
	}
	return nil
}

// ConnectionTestResult reports the outcome of an SSH reachability test.
type ConnectionTestResult struct {
	OK         bool   `json:"ok"`
	Message    string `json:"message"`
	DurationMS int64  `json:"duration_ms"`
}

// DetectedFacts carries what capability detection learned about a server.
type DetectedFacts struct {
	OSType           *string
	OSDistro         *string
	PackageManager   *string
	DockerAvailable  bool
	SystemdAvailable bool
	SeenAt           time.Time
}
