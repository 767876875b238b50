package guard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/decision"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

// BlockedError is returned when governance denies an action. Callers should
// treat it as a terminal failure for the attempt unless ShouldRetry is set.
type BlockedError struct {
	Feature    policy.Feature
	Action     policy.Action
	PolicyID   string
	Reasons    []decision.Reason
	RetryAfter time.Duration

	// ShouldRetry is set when the block lifts on its own after RetryAfter.
	ShouldRetry bool

	// EventID is the decision_made event recorded for the attempt.
	EventID string

	Decision *decision.Decision
}

// Error returns the error message.
func (e *BlockedError) Error() string {
	codes := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		codes[i] = string(r.Code)
	}
	msg := fmt.Sprintf("action %s/%s blocked by policy %q: %s", e.Feature, e.Action, e.PolicyID, strings.Join(codes, ", "))
	if e.ShouldRetry {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

// Unwrap returns the infrastructure cause of a fail-closed block, if any.
func (e *BlockedError) Unwrap() error {
	if e.Decision == nil {
		return nil
	}
	return e.Decision.Cause
}

// Infrastructure reports whether the block came from a governance failure
// rather than a policy.
func (e *BlockedError) Infrastructure() bool {
	return len(e.Reasons) > 0 && e.Reasons[0].Code.Infrastructure()
}

// IsBlocked unwraps a BlockedError from err.
func IsBlocked(err error) (*BlockedError, bool) {
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return blocked, true
	}
	return nil, false
}

func newBlockedError(d *decision.Decision, eventID string) *BlockedError {
	return &BlockedError{
		Feature:     d.Feature,
		Action:      d.Action,
		PolicyID:    d.MatchedPolicyID,
		Reasons:     d.Reasons,
		RetryAfter:  d.RetryAfter(),
		ShouldRetry: d.RetryAfterSeconds > 0,
		EventID:     eventID,
		Decision:    d,
	}
}
