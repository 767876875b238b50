// Package ledger tracks budget consumption per policy target and period.
//
// Buckets are keyed by target, period and period start, so consumption rolls
// over on its own when the clock crosses a boundary. Periods are computed in
// the configured time zone: hourly from the top of the hour, daily from local
// midnight, weekly from Sunday, monthly from the first. Stale buckets are
// evicted by Sweep and, for the in-memory backend, by an entry cap.
package ledger
