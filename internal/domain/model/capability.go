//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"strings"
	"time"
)

// ServerCapability records one detected capability on a server.
// Rows are owned by the capability gate and upserted on detection.
type ServerCapability struct {
	ID         int64     `json:"id"                db:"id"`
	ServerID   int64     `json:"server_id"         db:"server_id"`
	Capability string    `json:"capability"        db:"capability"`
	Available  bool      `json:"available"         db:"available"`
	Version    *string   `json:"version,omitempty" db:"version"`
	DetectedAt time.Time `json:"detected_at"       db:"detected_at"`
}

// UpsertCapabilityRequest represents one detection result to record.
type UpsertCapabilityRequest struct {
	ServerID   int64   `json:"server_id"`
	Capability string  `json:"capability"`
	Available  bool    `json:"available"`
	Version    *string `json:"version,omitempty"`
}

// Validate validates UpsertCapabilityRequest.
func (r *UpsertCapabilityRequest) Validate() error {
	if r.ServerID <= 0 {
		return errors.New("server_id is required")
	}
	if strings.TrimSpace(r.Capability) == "" {
		return errors.New("capability is required")
	}
	return nil
}
