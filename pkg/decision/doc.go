// Package decision evaluates actions against the live policy snapshot and
// budget ledger.
//
// Rules are applied in a fixed order and the first terminal rule wins:
// blocked action, time window, allowed actions, budget headroom, approval
// level. Every BLOCK and WARN carries at least one Reason. When policy
// resolution or the budget check fails the engine fails closed with
// GOVERNANCE_UNAVAILABLE or EVALUATION_TIMEOUT so operators can tell an
// unhealthy governance layer from a policy denial.
//
// An active human override lifts time-window, allowed-action and budget
// blocks and the approval warning. It never lifts an explicitly blocked
// action.
package decision
