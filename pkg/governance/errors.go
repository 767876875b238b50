package governance

import "errors"

var (
	// ErrThrottled is returned when an on-demand simulation or job run
	// exceeds the configured rate.
	ErrThrottled = errors.New("too many on-demand requests, try again later")

	// ErrNoDecision is returned when an incident references an event that is
	// not a decision.
	ErrNoDecision = errors.New("referenced event is not a decision")

	// ErrInvalidRiskEvent is returned for a risk event without a type or
	// target.
	ErrInvalidRiskEvent = errors.New("risk event requires a type and a target")

	// ErrNoIncidentSubject is returned for an incident that names neither a
	// feature nor a decision event.
	ErrNoIncidentSubject = errors.New("incident requires a feature or a decision event id")

	// ErrNoPolicySource is returned by ReloadPolicies when the policies were
	// not loaded from files.
	ErrNoPolicySource = errors.New("policies were not loaded from files")
)
