package decision

import (
	"time"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

// Outcome is the final verdict for an action.
type Outcome string

const (
	OutcomeAllow Outcome = "ALLOW"
	OutcomeWarn  Outcome = "WARN"
	OutcomeBlock Outcome = "BLOCK"
)

// Severity grades a reason.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ReasonCode identifies why a decision was made.
type ReasonCode string

const (
	ReasonActionBlocked         ReasonCode = "ACTION_BLOCKED"
	ReasonOutsideTimeWindow     ReasonCode = "OUTSIDE_TIME_WINDOW"
	ReasonActionNotAllowed      ReasonCode = "ACTION_NOT_ALLOWED"
	ReasonBudgetExhausted       ReasonCode = "BUDGET_EXHAUSTED"
	ReasonApprovalRequired      ReasonCode = "APPROVAL_REQUIRED"
	ReasonOverrideActive        ReasonCode = "OVERRIDE_ACTIVE"
	ReasonGovernanceDisabled    ReasonCode = "GOVERNANCE_DISABLED"
	ReasonGovernanceUnavailable ReasonCode = "GOVERNANCE_UNAVAILABLE"
	ReasonEvaluationTimeout     ReasonCode = "EVALUATION_TIMEOUT"
)

// Infrastructure reports whether the code means governance itself failed
// rather than a policy denying the action.
func (c ReasonCode) Infrastructure() bool {
	return c == ReasonGovernanceUnavailable || c == ReasonEvaluationTimeout
}

// Reason is a structured explanation attached to a decision.
type Reason struct {
	Code     ReasonCode `json:"code"`
	Message  string     `json:"message"`
	Severity Severity   `json:"severity"`
}

// Request is an action a guarded feature wants to perform.
type Request struct {
	Feature  policy.Feature `json:"feature"`
	Action   policy.Action  `json:"action"`
	EntityID string         `json:"entity_id,omitempty"`
	Locale   string         `json:"locale,omitempty"`
	Team     string         `json:"team,omitempty"`

	// Estimate is the expected consumption. A zero estimate counts as one
	// action.
	Estimate ledger.Deltas `json:"estimate"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Deltas returns the consumption the request is checked against.
func (r *Request) Deltas() ledger.Deltas {
	if r.Estimate.IsZero() {
		return ledger.Deltas{Actions: 1}
	}
	return r.Estimate
}

// ResolveContext returns the policy lookup context for the request.
func (r *Request) ResolveContext() policy.ResolveContext {
	return policy.ResolveContext{Feature: r.Feature, EntityID: r.EntityID, Locale: r.Locale}
}

// Decision is the result of evaluating a request.
type Decision struct {
	Outcome Outcome  `json:"outcome"`
	Reasons []Reason `json:"reasons,omitempty"`

	MatchedPolicyID string               `json:"matched_policy_id,omitempty"`
	MatchedTarget   policy.Target        `json:"matched_target"`
	PolicyVersion   uint64               `json:"policy_version"`
	Approval        policy.ApprovalLevel `json:"approval,omitempty"`

	// RetryAfterSeconds is set for blocks that lift on their own.
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`

	// OverrideActive is set when a human override bypassed a block or an
	// approval requirement.
	OverrideActive bool `json:"override_active,omitempty"`

	// Headroom is the budget check result, when budgets were checked.
	Headroom *ledger.HeadroomResult `json:"headroom,omitempty"`

	Feature     policy.Feature `json:"feature"`
	Action      policy.Action  `json:"action"`
	EvaluatedAt time.Time      `json:"evaluated_at"`
	Duration    time.Duration  `json:"duration"`

	// Cause is the infrastructure error behind a fail-closed block.
	Cause error `json:"-"`
}

// Allowed reports whether the action may proceed.
func (d *Decision) Allowed() bool {
	return d.Outcome != OutcomeBlock
}

// HasReason reports whether the decision carries the code.
func (d *Decision) HasReason(code ReasonCode) bool {
	for _, r := range d.Reasons {
		if r.Code == code {
			return true
		}
	}
	return false
}

// PrimaryReason returns the first reason, or a zero Reason.
func (d *Decision) PrimaryReason() Reason {
	if len(d.Reasons) == 0 {
		return Reason{}
	}
	return d.Reasons[0]
}

// RetryAfter returns RetryAfterSeconds as a duration.
func (d *Decision) RetryAfter() time.Duration {
	return time.Duration(d.RetryAfterSeconds) * time.Second
}

// ReasonCodes returns the codes of every reason.
func (d *Decision) ReasonCodes() []string {
	out := make([]string, len(d.Reasons))
	for i, r := range d.Reasons {
		out[i] = string(r.Code)
	}
	return out
}
