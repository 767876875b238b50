package decision

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownFeature indicates a feature outside the registry.
	ErrUnknownFeature = errors.New("unknown feature")

	// ErrUnknownAction indicates an action outside the registry.
	ErrUnknownAction = errors.New("unknown action")

	// ErrNoSnapshot indicates no policy snapshot is loaded.
	ErrNoSnapshot = errors.New("no policy snapshot loaded")

	// ErrTimeout matches any TimeoutError with errors.Is.
	ErrTimeout = errors.New("evaluation timeout")
)

// TimeoutError indicates an evaluation exceeded its deadline.
type TimeoutError struct {
	Stage   string
	Timeout time.Duration
}

// Error returns the error message.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("evaluation timeout after %v during %s", e.Timeout, e.Stage)
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Unwrap returns context.DeadlineExceeded.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}
