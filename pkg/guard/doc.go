// Package guard wraps guarded feature calls with governance.
//
// Do evaluates the request, reserves its estimated consumption, runs the
// work, corrects the ledger with the consumption actually used and appends
// a decision_made event. A BLOCK surfaces as *BlockedError; with
// DoWithFallback it becomes a DegradedResponse so the caller can serve
// default content instead of failing.
package guard
