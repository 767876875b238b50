package ledger

import (
	"errors"
	"fmt"
)

// ErrInvalidDelta indicates a negative requested amount.
var ErrInvalidDelta = errors.New("requested deltas must be non-negative")

// StorageError wraps a backend failure.
type StorageError struct {
	Operation string
	Cause     error
}

// Error returns the error message.
func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger %s failed: %v", e.Operation, e.Cause)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Operation: op, Cause: err}
}
