package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName indicates a unique name is already taken.
	ErrDuplicateName = errors.New("duplicate name")
	// ErrValidation indicates rejected input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the entity is still referenced with cascading disabled,
	// or another update of it holds the lock.
	ErrConflict = errors.New("conflict")
	// ErrPartialFailure indicates a bulk operation where some targets failed.
	ErrPartialFailure = errors.New("partial failure")
	// ErrStoreUnavailable indicates a transient infrastructure failure.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrForbidden indicates the caller lacks access.
	ErrForbidden = errors.New("forbidden")
)

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// DuplicateNameError reports a name collision.
type DuplicateNameError struct {
	Entity string
	Name   string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s name %q already exists", e.Entity, e.Name)
}

// Is matches ErrDuplicateName.
func (e *DuplicateNameError) Is(target error) bool { return target == ErrDuplicateName }

// DuplicateName builds a DuplicateNameError.
func DuplicateName(entity, name string) error {
	return &DuplicateNameError{Entity: entity, Name: name}
}

// ValidationError names the offending field and why it was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError reports a delete blocked by existing references.
type ConflictError struct {
	Entity string
	ID     any
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %v: %s", e.Entity, e.ID, e.Reason)
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Conflict builds a ConflictError.
func Conflict(entity string, id any, reason string) error {
	return &ConflictError{Entity: entity, ID: id, Reason: reason}
}

// PartialFailureError summarises a bulk run with failures.
type PartialFailureError struct {
	Succeeded int
	Total     int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%d of %d succeeded", e.Succeeded, e.Total)
}

// Is matches ErrPartialFailure.
func (e *PartialFailureError) Is(target error) bool { return target == ErrPartialFailure }

// StoreError wraps a transient store failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the driver error.
func (e *StoreError) Unwrap() error { return e.Err }

// Is matches ErrStoreUnavailable.
func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// StoreUnavailable wraps err as a transient store failure.
func StoreUnavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// UserSafeMessage renders an error for display without leaking internals.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrDuplicateName),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrPartialFailure):
		return err.Error()
	case errors.Is(err, ErrStoreUnavailable):
		return "Service temporarily unavailable, please retry"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	default:
		return "Unexpected error"
	}
}
