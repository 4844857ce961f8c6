package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing data (e.g., unique constraint violation).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInUse indicates a deletion was blocked by referential integrity.
	ErrCodeInUse ErrorCode = "in_use"
	// ErrCodeMissingVariable indicates template rendering required a variable that was absent.
	ErrCodeMissingVariable ErrorCode = "missing_variable"
	// ErrCodeCapabilityMismatch indicates a server does not satisfy a template's capability or OS filter.
	ErrCodeCapabilityMismatch ErrorCode = "capability_mismatch"
	// ErrCodeOverloaded indicates the executor could not admit a job before the submit timeout.
	ErrCodeOverloaded ErrorCode = "overloaded"
	// ErrCodeDispatchFailed indicates a command could not be started on its target.
	ErrCodeDispatchFailed ErrorCode = "dispatch_failed"
	// ErrCodeTimeout indicates a wall-clock cap was reached.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation observed a cancel signal.
	ErrCodeCanceled ErrorCode = "canceled"
	// ErrCodeStorage indicates an underlying database or IO error.
	ErrCodeStorage ErrorCode = "storage"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: message,
	}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf(format, args...),
	}
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    ErrCodeConflict,
		Message: message,
	}
}

// Conflictf creates a new Conflict error with formatted message.
func Conflictf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeConflict,
		Message: fmt.Sprintf(format, args...),
	}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
		Field:   field,
	}
}

// InUse creates a new InUse error.
func InUse(message string) *AppError {
	return &AppError{
		Code:    ErrCodeInUse,
		Message: message,
	}
}

// InUsef creates a new InUse error with formatted message.
func InUsef(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeInUse,
		Message: fmt.Sprintf(format, args...),
	}
}

// MissingVariable creates an error for a required template variable that was not supplied.
func MissingVariable(name string) *AppError {
	return &AppError{
		Code:    ErrCodeMissingVariable,
		Message: fmt.Sprintf("required variable %q is not set", name),
		Field:   name,
	}
}

// CapabilityMismatch creates an error describing why a server cannot run a template.
func CapabilityMismatch(detail string) *AppError {
	return &AppError{
		Code:    ErrCodeCapabilityMismatch,
		Message: "capability/OS mismatch: " + detail,
	}
}

// Overloaded creates an error for a saturated executor.
func Overloaded(message string) *AppError {
	return &AppError{
		Code:    ErrCodeOverloaded,
		Message: message,
	}
}

// DispatchFailed creates a new DispatchFailed error.
func DispatchFailed(message string) *AppError {
	return &AppError{
		Code:    ErrCodeDispatchFailed,
		Message: message,
	}
}

// DispatchFailedf creates a new DispatchFailed error with formatted message.
func DispatchFailedf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeDispatchFailed,
		Message: fmt.Sprintf(format, args...),
	}
}

// Timeoutf creates a new Timeout error with formatted message.
func Timeoutf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeTimeout,
		Message: fmt.Sprintf(format, args...),
	}
}

// Canceled creates a new Canceled error.
func Canceled(message string) *AppError {
	return &AppError{
		Code:    ErrCodeCanceled,
		Message: message,
	}
}

// Storage creates a new Storage error.
func Storage(message string) *AppError {
	return &AppError{
		Code:    ErrCodeStorage,
		Message: message,
	}
}

// Storagef creates a new Storage error with formatted message.
func Storagef(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeStorage,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// MessageTemplate describes a lazily formatted error message used with Wrapf.
type MessageTemplate struct {
	format string
	args   []any
}

// Messagef creates a lazily formatted message template for Wrapf.
func Messagef(format string, args ...any) MessageTemplate {
	return MessageTemplate{
		format: format,
		args:   args,
	}
}

func (mt MessageTemplate) String() string {
	if len(mt.args) == 0 {
		return mt.format
	}
	return fmt.Sprintf(mt.format, mt.args...)
}

// WrapTemplate wraps an existing error with an AppError using a preconstructed message template.
func WrapTemplate(err error, code ErrorCode, template MessageTemplate) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: template.String(),
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	return WrapTemplate(err, code, Messagef(format, args...))
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsInUse checks if an error is an InUse error.
func IsInUse(err error) bool {
	return isCode(err, ErrCodeInUse)
}

// IsMissingVariable checks if an error is a MissingVariable error.
func IsMissingVariable(err error) bool {
	return isCode(err, ErrCodeMissingVariable)
}

// IsCapabilityMismatch checks if an error is a CapabilityMismatch error.
func IsCapabilityMismatch(err error) bool {
	return isCode(err, ErrCodeCapabilityMismatch)
}

// IsOverloaded checks if an error is an Overloaded error.
func IsOverloaded(err error) bool {
	return isCode(err, ErrCodeOverloaded)
}

// IsDispatchFailed checks if an error is a DispatchFailed error.
func IsDispatchFailed(err error) bool {
	return isCode(err, ErrCodeDispatchFailed)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// IsStorage checks if an error is a Storage error.
func IsStorage(err error) bool {
	return isCode(err, ErrCodeStorage)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
