// Package scheduler runs background jobs on cron schedules.
//
// Drift detection, learning, recommendation, event retention and ledger
// sweeps all run here. Each job is time-boxed, never overlaps itself, and
// can be paused, resumed or run on demand.
package scheduler
