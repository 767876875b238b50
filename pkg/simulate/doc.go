// Package simulate predicts the effect of a policy change by replaying
// recorded decisions.
//
// Each run evaluates the window's decision_made events in order against a
// copy of the live policy set that includes the hypothetical policy, with a
// private in-memory ledger whose clock follows the recorded timestamps.
// Runs are advisory: they are time-boxed, capped in records and limited in
// concurrency, and never touch the live ledger.
package simulate
