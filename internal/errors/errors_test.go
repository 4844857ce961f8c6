package errors

import (
	"errors"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeNotFound,
				Message: "resource not found",
			},
			want: "resource not found",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeStorage,
				Message: "failed to process",
				Cause:   errors.New("underlying error"),
			},
			want: "failed to process: underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &AppError{
		Code:    ErrCodeStorage,
		Message: "wrapped error",
		Cause:   cause,
	}

	if unwrapped := err.Unwrap(); !errors.Is(unwrapped, cause) {
		t.Errorf("AppError.Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound("resource not found")
	if err.Code != ErrCodeNotFound {
		t.Errorf("NotFound().Code = %v, want %v", err.Code, ErrCodeNotFound)
	}
	if err.Message != "resource not found" {
		t.Errorf("NotFound().Message = %v, want %v", err.Message, "resource not found")
	}
}

func TestNotFoundf(t *testing.T) {
	err := NotFoundf("server %q not found", "web1")
	if err.Code != ErrCodeNotFound {
		t.Errorf("NotFoundf().Code = %v, want %v", err.Code, ErrCodeNotFound)
	}
	if err.Message != `server "web1" not found` {
		t.Errorf("NotFoundf().Message = %v", err.Message)
	}
}

func TestConflict(t *testing.T) {
	err := Conflict("resource already exists")
	if err.Code != ErrCodeConflict {
		t.Errorf("Conflict().Code = %v, want %v", err.Code, ErrCodeConflict)
	}
	if err.Message != "resource already exists" {
		t.Errorf("Conflict().Message = %v, want %v", err.Message, "resource already exists")
	}
}

func TestValidation(t *testing.T) {
	err := Validation("invalid input")
	if err.Code != ErrCodeValidation {
		t.Errorf("Validation().Code = %v, want %v", err.Code, ErrCodeValidation)
	}
	if err.Message != "invalid input" {
		t.Errorf("Validation().Message = %v, want %v", err.Message, "invalid input")
	}
}

func TestValidationField(t *testing.T) {
	err := ValidationField("schedule", "malformed cron expression")
	if err.Code != ErrCodeValidation {
		t.Errorf("ValidationField().Code = %v, want %v", err.Code, ErrCodeValidation)
	}
	if err.Field != "schedule" {
		t.Errorf("ValidationField().Field = %v, want %v", err.Field, "schedule")
	}
	if err.Message != "malformed cron expression" {
		t.Errorf("ValidationField().Message = %v", err.Message)
	}
}

func TestInUse(t *testing.T) {
	err := InUsef("credential %q is referenced by %d servers", "deploy-key", 3)
	if err.Code != ErrCodeInUse {
		t.Errorf("InUsef().Code = %v, want %v", err.Code, ErrCodeInUse)
	}
	if !IsInUse(err) {
		t.Error("IsInUse() = false, want true")
	}
}

func TestMissingVariable(t *testing.T) {
	err := MissingVariable("package")
	if err.Code != ErrCodeMissingVariable {
		t.Errorf("MissingVariable().Code = %v, want %v", err.Code, ErrCodeMissingVariable)
	}
	if err.Field != "package" {
		t.Errorf("MissingVariable().Field = %v, want %v", err.Field, "package")
	}
	if !IsMissingVariable(err) {
		t.Error("IsMissingVariable() = false, want true")
	}
}

func TestCapabilityMismatch(t *testing.T) {
	err := CapabilityMismatch("server lacks docker")
	if err.Code != ErrCodeCapabilityMismatch {
		t.Errorf("CapabilityMismatch().Code = %v, want %v", err.Code, ErrCodeCapabilityMismatch)
	}
	if err.Message != "capability/OS mismatch: server lacks docker" {
		t.Errorf("CapabilityMismatch().Message = %v", err.Message)
	}
}

func TestOverloaded(t *testing.T) {
	err := Overloaded("executor saturated")
	if !IsOverloaded(err) {
		t.Errorf("IsOverloaded() = false for %v", err)
	}
}

func TestDispatchFailed(t *testing.T) {
	err := DispatchFailedf("ssh connect to %s failed", "web1:22")
	if !IsDispatchFailed(err) {
		t.Errorf("IsDispatchFailed() = false for %v", err)
	}
	if err.Message != "ssh connect to web1:22 failed" {
		t.Errorf("DispatchFailedf().Message = %v", err.Message)
	}
}

func TestStorage(t *testing.T) {
	err := Storage("database unavailable")
	if err.Code != ErrCodeStorage {
		t.Errorf("Storage().Code = %v, want %v", err.Code, ErrCodeStorage)
	}
	if !IsStorage(err) {
		t.Error("IsStorage() = false, want true")
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(cause, ErrCodeStorage, "query failed")
	if err.Code != ErrCodeStorage {
		t.Errorf("Wrap().Code = %v, want %v", err.Code, ErrCodeStorage)
	}
	if !errors.Is(err, cause) {
		t.Error("Wrap() should preserve cause for errors.Is")
	}

	if Wrap(nil, ErrCodeStorage, "anything") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrapf(t *testing.T) {
	cause := errors.New("boom")
	err := Wrapf(cause, ErrCodeDispatchFailed, "spawn %s", "/bin/sh")
	if err.Message != "spawn /bin/sh" {
		t.Errorf("Wrapf().Message = %v", err.Message)
	}
	if !errors.Is(err, cause) {
		t.Error("Wrapf() should preserve cause")
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(NotFound("x")); got != ErrCodeNotFound {
		t.Errorf("GetCode() = %v, want %v", got, ErrCodeNotFound)
	}
	if got := GetCode(errors.New("plain")); got != "" {
		t.Errorf("GetCode(plain error) = %v, want empty", got)
	}
	// Wrapped AppError is still discoverable.
	wrapped := Wrap(Conflict("dup"), ErrCodeStorage, "outer")
	if got := GetCode(wrapped); got != ErrCodeStorage {
		t.Errorf("GetCode(wrapped) = %v, want outermost code %v", got, ErrCodeStorage)
	}
}

func TestGetField(t *testing.T) {
	if got := GetField(ValidationField("name", "required")); got != "name" {
		t.Errorf("GetField() = %v, want name", got)
	}
	if got := GetField(errors.New("plain")); got != "" {
		t.Errorf("GetField(plain error) = %v, want empty", got)
	}
}

func TestPredicates_NonAppErrors(t *testing.T) {
	plain := errors.New("plain")
	predicates := map[string]func(error) bool{
		"IsNotFound":           IsNotFound,
		"IsConflict":           IsConflict,
		"IsValidation":         IsValidation,
		"IsInUse":              IsInUse,
		"IsMissingVariable":    IsMissingVariable,
		"IsCapabilityMismatch": IsCapabilityMismatch,
		"IsOverloaded":         IsOverloaded,
		"IsDispatchFailed":     IsDispatchFailed,
		"IsTimeout":            IsTimeout,
		"IsCanceled":           IsCanceled,
		"IsStorage":            IsStorage,
	}
	for name, pred := range predicates {
		if pred(plain) {
			t.Errorf("%s(plain error) = true, want false", name)
		}
		if pred(nil) {
			t.Errorf("%s(nil) = true, want false", name)
		}
	}
}
