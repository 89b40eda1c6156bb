package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an Outpost error code.
type ErrorCode string

const (
	ErrValidation   ErrorCode = "VALIDATION"    // 400
	ErrNotFound     ErrorCode = "NOT_FOUND"     // 404
	ErrDuplicateID  ErrorCode = "DUPLICATE_ID"  // 409
	ErrConflict     ErrorCode = "CONFLICT"      // 409 (illegal status transition)
	ErrStaleContext ErrorCode = "STALE_CONTEXT" // 409
	ErrCancelled    ErrorCode = "CANCELLED"     // 499
	ErrStorage      ErrorCode = "STORAGE"       // 500
	ErrInternal     ErrorCode = "INTERNAL"      // 500
	ErrSync         ErrorCode = "SYNC"          // 502
)

// OutpostError represents a structured error with code, status, and details.
type OutpostError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *OutpostError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying driver or transport error, if any.
func (e *OutpostError) Unwrap() error {
	return e.cause
}

// NewValidation creates a 400 error for bad caller input.
func NewValidation(msg string) *OutpostError {
	return &OutpostError{
		Code:    ErrValidation,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a timeline item cannot be found.
func NewNotFound(id string) *OutpostError {
	return &OutpostError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("timeline item not found: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewDuplicateID creates a 409 error when an item id is already stored.
// This is a caller bug, not a retryable condition.
func NewDuplicateID(id string) *OutpostError {
	return &OutpostError{
		Code:    ErrDuplicateID,
		Status:  409,
		Message: fmt.Sprintf("timeline item %q already exists", id),
		Details: map[string]any{"id": id},
	}
}

// NewConflict creates a 409 error for a rejected status transition.
func NewConflict(msg string) *OutpostError {
	return &OutpostError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewStaleContext marks work whose captured profile is no longer active.
func NewStaleContext(profileID string) *OutpostError {
	return &OutpostError{
		Code:    ErrStaleContext,
		Status:  409,
		Message: fmt.Sprintf("profile %q is no longer active", profileID),
		Details: map[string]any{"profile_id": profileID},
	}
}

// NewCancelled marks work abandoned because its token was invalidated.
func NewCancelled(cause error) *OutpostError {
	return &OutpostError{
		Code:    ErrCancelled,
		Status:  499,
		Message: "operation cancelled by profile switch",
		cause:   cause,
	}
}

// NewStorage wraps a local store failure.
func NewStorage(err error) *OutpostError {
	msg := "storage error"
	if err != nil {
		msg = err.Error()
	}
	return &OutpostError{
		Code:    ErrStorage,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// NewSync wraps a remote API failure. Retryable failures are rescheduled
// by the sync worker; non-retryable ones fail the item immediately.
func NewSync(err error, retryable bool) *OutpostError {
	msg := "sync error"
	if err != nil {
		msg = err.Error()
	}
	return &OutpostError{
		Code:    ErrSync,
		Status:  502,
		Message: msg,
		Details: map[string]any{"retryable": retryable},
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *OutpostError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &OutpostError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error is (or wraps) an OutpostError with the given code.
func Is(err error, code ErrorCode) bool {
	var oErr *OutpostError
	if stderrors.As(err, &oErr) {
		return oErr.Code == code
	}
	return false
}

// IsRetryable reports whether a sync error may be retried.
// Errors that are not SyncErrors are treated as retryable.
func IsRetryable(err error) bool {
	var oErr *OutpostError
	if !stderrors.As(err, &oErr) || oErr.Code != ErrSync {
		return true
	}
	retryable, ok := oErr.Details["retryable"].(bool)
	return !ok || retryable
}
