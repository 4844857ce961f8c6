//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SettingType describes how a setting's string value should be interpreted.
type SettingType string

const (
	SettingTypeString  SettingType = "string"
	SettingTypeInteger SettingType = "integer"
	SettingTypeBoolean SettingType = "boolean"
	SettingTypeJSON    SettingType = "json"
)

// Valid reports whether the setting type is supported.
func (t SettingType) Valid() bool {
	switch t {
	case SettingTypeString, SettingTypeInteger, SettingTypeBoolean, SettingTypeJSON:
		return true
	default:
		return false
	}
}

// Keys of the tunables the orchestrator reads at runtime. The migration seed
// inserts defaults for all of them.
const (
	SettingSchedulerCheckInterval = "scheduler.check_interval_seconds"
	SettingJobsDefaultTimeout     = "jobs.default_timeout_seconds"
	SettingJobsMaxConcurrent      = "jobs.max_concurrent"
	SettingJobsSubmitTimeout      = "jobs.submit_timeout_seconds"
	SettingJobsRetentionDays      = "jobs.retention_days"
	SettingSSHConnectTimeout      = "ssh.connection_timeout_seconds"
	SettingSSHCommandTimeout      = "ssh.command_timeout_seconds"
	SettingNotificationsEnabled   = "notifications.enabled"
	SettingNotificationsPriority  = "notifications.default_priority"
	SettingTimezone               = "timezone"
)

// Setting is one key/value tunable. Values are stored in string form and
// interpreted per ValueType.
type Setting struct {
	Key         string      `json:"key"         db:"key"`
	Value       string      `json:"value"       db:"value"`
	ValueType   SettingType `json:"value_type"  db:"value_type"`
	Description string      `json:"description" db:"description"`
	UpdatedAt   time.Time   `json:"updated_at"  db:"updated_at"`
}

// Int interprets the setting value as an integer.
func (s *Setting) Int() (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s.Value))
	if err != nil {
		return 0, fmt.Errorf("setting %s: %w", s.Key, err)
	}
	return n, nil
}

// Bool interprets the setting value as a boolean.
func (s *Setting) Bool() (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(s.Value))
	if err != nil {
		return false, fmt.Errorf("setting %s: %w", s.Key, err)
	}
	return b, nil
}

// UpdateSettingRequest represents parameters to change one setting's value.
type UpdateSettingRequest struct {
	Value string `json:"value"`
}

// ValidateSettingValue checks that a value parses under the setting's type.
func ValidateSettingValue(valueType SettingType, value string) error {
	switch valueType {
	case SettingTypeString:
		return nil
	case SettingTypeInteger:
		if _, err := strconv.Atoi(strings.TrimSpace(value)); err != nil {
			return errors.New("value must be an integer")
		}
		return nil
	case SettingTypeBoolean:
		if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
			return errors.New("value must be a boolean")
		}
		return nil
	case SettingTypeJSON:
		if !json.Valid([]byte(value)) {
			return errors.New("value must be valid JSON")
		}
		return nil
	default:
		return errors.New("unsupported value_type")
	}
}
