package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestOutpostError_Error(t *testing.T) {
	err := &OutpostError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "timeline item not found",
	}

	expected := "NOT_FOUND: timeline item not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewValidation(t *testing.T) {
	err := NewValidation("content is required")

	if err.Code != ErrValidation {
		t.Errorf("Code = %q, want %q", err.Code, ErrValidation)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "content is required" {
		t.Errorf("Message = %q, want %q", err.Message, "content is required")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("msg_1_abc")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["id"] != "msg_1_abc" {
		t.Errorf("Details[id] = %v, want %q", err.Details["id"], "msg_1_abc")
	}
}

func TestNewDuplicateID(t *testing.T) {
	err := NewDuplicateID("txn_1_abc")

	if err.Code != ErrDuplicateID {
		t.Errorf("Code = %q, want %q", err.Code, ErrDuplicateID)
	}
	if err.Status != 409 {
		t.Errorf("Status = %d, want 409", err.Status)
	}
}

func TestNewStorage_Unwraps(t *testing.T) {
	cause := stderrors.New("disk I/O error")
	err := NewStorage(cause)

	if err.Code != ErrStorage {
		t.Errorf("Code = %q, want %q", err.Code, ErrStorage)
	}
	if !stderrors.Is(err, cause) {
		t.Error("NewStorage should wrap its cause")
	}
	if err.Message != "disk I/O error" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestNewStorage_NilCause(t *testing.T) {
	err := NewStorage(nil)
	if err.Message != "storage error" {
		t.Errorf("Message = %q, want %q", err.Message, "storage error")
	}
}

func TestNewSync_Retryable(t *testing.T) {
	if !IsRetryable(NewSync(stderrors.New("timeout"), true)) {
		t.Error("retryable sync error reported as terminal")
	}
	if IsRetryable(NewSync(stderrors.New("rejected"), false)) {
		t.Error("terminal sync error reported as retryable")
	}
	if !IsRetryable(stderrors.New("plain")) {
		t.Error("plain errors should default to retryable")
	}
}

func TestNewInternal(t *testing.T) {
	err := NewInternal(nil)
	if err.Code != ErrInternal || err.Message != "internal error" {
		t.Errorf("NewInternal(nil) = %+v", err)
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching code", NewNotFound("x"), ErrNotFound, true},
		{"different code", NewNotFound("x"), ErrConflict, false},
		{"wrapped", fmt.Errorf("outer: %w", NewStaleContext("p1")), ErrStaleContext, true},
		{"plain error", stderrors.New("boom"), ErrInternal, false},
		{"nil", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}
