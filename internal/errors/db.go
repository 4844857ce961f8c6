package errors

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Regular expressions for parsing PgError.Detail messages.
var (
	// reKeyField extracts field name from unique violation detail: "Key (field)=(value) already exists.".
	reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)
	// reReferencedFrom detects parent deletion: "... is still referenced from table ...".
	reReferencedFrom = regexp.MustCompile(`is still referenced from table "?([^"]+)"?`)
	// reNotPresent detects missing parent: "... is not present in table ...".
	reNotPresent = regexp.MustCompile(`is not present in table "?([^"]+)"?`)
)

// MapDBError maps database errors to AppError instances.
// It handles common database error patterns including:
// - pgx.ErrNoRows → NotFound
// - Unique constraint violations → Conflict
// - Foreign key violations on delete → InUse
// - Foreign key violations on insert/update → Validation (missing parent)
// - Check constraint violations → Validation
// - NOT NULL violations → Validation
// - Context timeouts/cancellations → Timeout/Canceled
//
// If the error is not a recognized database error, it returns a Storage error
// wrapping the original so callers always see the taxonomy.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	// Check for context errors first
	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{
			Code:    ErrCodeTimeout,
			Message: "operation timed out",
			Cause:   err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{
			Code:    ErrCodeCanceled,
			Message: "operation was canceled",
			Cause:   err,
		}
	}

	// Check for pgx.ErrNoRows (not found)
	if errors.Is(err, pgx.ErrNoRows) {
		return &AppError{
			Code:    ErrCodeNotFound,
			Message: "resource not found",
			Cause:   err,
		}
	}

	// Check for PostgreSQL errors
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	// Already mapped errors pass through unchanged.
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}

	return &AppError{
		Code:    ErrCodeStorage,
		Message: "database error",
		Cause:   err,
	}
}

// mapPgError maps PostgreSQL-specific errors to AppError instances.
func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return mapUniqueViolation(pgErr)
	case pgerrcode.ForeignKeyViolation:
		return mapForeignKeyViolation(pgErr)
	case pgerrcode.CheckViolation:
		return mapCheckViolation(pgErr)
	case pgerrcode.NotNullViolation:
		return mapNotNullViolation(pgErr)
	default:
		return &AppError{
			Code:    ErrCodeStorage,
			Message: "database error",
			Cause:   pgErr,
		}
	}
}

// mapUniqueViolation maps unique constraint violations to Conflict errors.
func mapUniqueViolation(pgErr *pgconn.PgError) error {
	var field string

	// Prefer ColumnName metadata when available (most reliable)
	if pgErr.ColumnName != "" {
		field = pgErr.ColumnName
	}

	// Fallback: Parse Detail message for "Key (field)=(value) already exists."
	// This is more reliable than constraint name inference for multi-column and non-standard constraints
	if field == "" && pgErr.Detail != "" {
		if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
			field = m[1]
		}
	}

	// Last resort: Infer from constraint name (e.g., "servers_name_key" → "name")
	if field == "" {
		field = inferFieldFromConstraint(pgErr.ConstraintName)
	}

	message := "value already exists"
	if field != "" {
		message = "value for " + field + " already exists"
	}
	return &AppError{
		Code:    ErrCodeConflict,
		Message: message,
		Field:   field,
		Cause:   pgErr,
	}
}

// mapForeignKeyViolation distinguishes deletes blocked by children (InUse)
// from inserts/updates referencing a missing parent (Validation).
func mapForeignKeyViolation(pgErr *pgconn.PgError) error {
	if pgErr.Detail != "" {
		if m := reReferencedFrom.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
			return &AppError{
				Code:    ErrCodeInUse,
				Message: "cannot delete: still referenced by " + mapTableToEntity(m[1]),
				Cause:   pgErr,
			}
		}
		if m := reNotPresent.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
			return &AppError{
				Code:    ErrCodeValidation,
				Message: "referenced " + mapTableToEntity(m[1]) + " does not exist",
				Cause:   pgErr,
			}
		}
	}

	// Fallback: the constraint name tells us which side we are on often enough.
	if pgErr.TableName != "" {
		return &AppError{
			Code:    ErrCodeInUse,
			Message: "cannot complete operation: referenced by " + mapTableToEntity(pgErr.TableName),
			Cause:   pgErr,
		}
	}

	return &AppError{
		Code:    ErrCodeInUse,
		Message: "cannot complete operation: item is in use",
		Cause:   pgErr,
	}
}

// mapNotNullViolation maps NOT NULL constraint violations to Validation errors.
func mapNotNullViolation(pgErr *pgconn.PgError) error {
	field := pgErr.ColumnName
	if field != "" {
		return &AppError{
			Code:    ErrCodeValidation,
			Message: field + " is required",
			Field:   field,
			Cause:   pgErr,
		}
	}
	return &AppError{
		Code:    ErrCodeValidation,
		Message: "required field is missing",
		Cause:   pgErr,
	}
}

// mapCheckViolation maps CHECK constraint violations to Validation errors.
func mapCheckViolation(pgErr *pgconn.PgError) error {
	field := pgErr.ColumnName
	if field != "" {
		return &AppError{
			Code:    ErrCodeValidation,
			Message: field + " has an invalid value",
			Field:   field,
			Cause:   pgErr,
		}
	}
	return &AppError{
		Code:    ErrCodeValidation,
		Message: "invalid value: " + pgErr.ConstraintName,
		Cause:   pgErr,
	}
}

// inferFieldFromConstraint attempts to infer the field name from a constraint name.
// e.g., "servers_name_key" → "name"
// Returns empty string if inference fails or is ambiguous.
func inferFieldFromConstraint(constraintName string) string {
	if constraintName == "" {
		return ""
	}

	parts := strings.Split(constraintName, "_")
	// Constraint names typically follow patterns like:
	// - "table_field_key" (unique) → 3 parts
	// - "table_field_unique" → 3 parts
	//
	// Multi-column or complex constraints have more parts, and armada tables
	// with two-word names (command_templates, notification_channels) shift the
	// segments, so only the unambiguous 3-part shape is inferred.
	if len(parts) != 3 {
		return ""
	}

	fieldCandidate := parts[1]
	if isFunctionName(fieldCandidate) {
		return ""
	}
	return fieldCandidate
}

// mapTableToEntity maps table names to the entity names operators know.
func mapTableToEntity(tableName string) string {
	tableName = strings.ToLower(strings.TrimSpace(tableName))

	entityMap := map[string]string{
		"credentials":                  "credential",
		"tags":                         "tag",
		"servers":                      "server",
		"server_tags":                  "server",
		"server_capabilities":          "server capability",
		"job_types":                    "job type",
		"command_templates":            "command template",
		"job_templates":                "job template",
		"job_template_steps":           "job template step",
		"job_schedules":                "job schedule",
		"job_runs":                     "job run",
		"job_step_results":             "step result",
		"notification_channels":        "notification channel",
		"notification_policies":        "notification policy",
		"notification_policy_channels": "notification policy",
		"notification_log":             "notification log entry",
	}

	if entity, ok := entityMap[tableName]; ok {
		return entity
	}
	return strings.ReplaceAll(tableName, "_", " ")
}

// isFunctionName checks if a string looks like a common SQL function name
// used in expression indexes (e.g., lower, upper, trim, etc.)
func isFunctionName(s string) bool {
	commonFunctions := []string{
		"lower", "upper", "trim", "ltrim", "rtrim",
		"md5", "sha1", "sha256", "encode", "decode",
	}
	s = strings.ToLower(s)
	for _, fn := range commonFunctions {
		if s == fn {
			return true
		}
	}
	return false
}
