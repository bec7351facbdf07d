package billing

import (
	"errors"
	"fmt"
)

// Sentinels matched with errors.Is against the typed errors below.
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("document not found")
	ErrPartialFailure = errors.New("partial failure")
	ErrConflict       = errors.New("document number conflict")
)

// ValidationError reports malformed input. It is always returned before any
// write happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing document.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// PartialFailureError reports a multi-step write where some steps persisted.
// Cause is the failure of the forward step; CompensationErr is set when the
// undo attempt failed too, meaning the store may be inconsistent.
type PartialFailureError struct {
	Op              string
	DocumentID      int64
	Cause           error
	CompensationErr error
}

func (e *PartialFailureError) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("%s document %d: partial failure: %v (compensation failed: %v)", e.Op, e.DocumentID, e.Cause, e.CompensationErr)
	}
	return fmt.Sprintf("%s document %d: partial failure: %v (compensated)", e.Op, e.DocumentID, e.Cause)
}

func (e *PartialFailureError) Unwrap() error { return e.Cause }

func (e *PartialFailureError) Is(target error) bool { return target == ErrPartialFailure }

// Compensated reports whether the undo step succeeded.
func (e *PartialFailureError) Compensated() bool { return e.CompensationErr == nil }

// ConflictError reports that a number could not be allocated without
// colliding with an existing document.
type ConflictError struct {
	Scope    Scope
	Number   string
	Attempts int
}

func (e *ConflictError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("number %s in %s already taken after %d attempts", e.Number, e.Scope, e.Attempts)
	}
	return fmt.Sprintf("number %s in %s already taken", e.Number, e.Scope)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
