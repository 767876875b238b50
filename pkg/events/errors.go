package events

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an unknown event id.
	ErrNotFound = errors.New("event not found")

	// ErrVersionConflict indicates the event changed since it was read.
	ErrVersionConflict = errors.New("event version conflict")

	// ErrDuplicateID indicates an append with an id that already exists.
	ErrDuplicateID = errors.New("duplicate event id")
)

// StorageError represents an error from an event store backend.
type StorageError struct {
	Backend   string // "memory", "sqlite"
	Operation string // "append", "query", "update_outcome", ...
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("event storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// RecorderError represents a failure to enqueue an event.
type RecorderError struct {
	EventID string
	Cause   error
}

// Error implements the error interface.
func (e *RecorderError) Error() string {
	return fmt.Sprintf("recorder error [event=%s]: %v", e.EventID, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *RecorderError) Unwrap() error {
	return e.Cause
}

// NewRecorderError creates a new RecorderError.
func NewRecorderError(eventID string, cause error) *RecorderError {
	return &RecorderError{EventID: eventID, Cause: cause}
}
