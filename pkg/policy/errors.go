package policy

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoGlobalPolicy indicates no enabled global policy is loaded.
	ErrNoGlobalPolicy = errors.New("no enabled global policy loaded")

	// ErrPolicyNotFound indicates a policy id is not in the current snapshot.
	ErrPolicyNotFound = errors.New("policy not found")
)

// FieldError is a validation failure for a single policy field.
type FieldError struct {
	// PolicyID is the policy the field belongs to, empty for set-level checks.
	PolicyID string `json:"policy_id,omitempty"`

	// Field is the dotted path of the field (e.g. "budgets[0].max_spend").
	Field string `json:"field"`

	// Message is a human-readable description.
	Message string `json:"message"`
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	if e.PolicyID == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("policy %s: %s: %s", e.PolicyID, e.Field, e.Message)
}

// ValidationError collects every field error found in a policy write.
// A write that fails validation never reaches the snapshot.
type ValidationError struct {
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e *ValidationError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "policy validation failed"
	case 1:
		return fmt.Sprintf("policy validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("policy validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// HasField reports whether any error refers to the given field.
func (e *ValidationError) HasField(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}
