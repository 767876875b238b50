// Governor is the governance core for autonomous content operations.
//
// It decides whether an autonomous action may run (ALLOW, WARN or BLOCK)
// from layered policies and consumption budgets, records every decision
// and its outcome, and learns from that history:
//   - Policy store with per-feature, per-entity and per-locale targets
//   - Budget ledger over hourly, daily, weekly and monthly periods
//   - Human overrides, incident tracking and systemic risk scoring
//   - Drift detection, pattern learning and budget recommendations
//   - Policy simulation against recorded decisions
//
// Usage:
//
//	# Start the API server
//	governor run --config /etc/governor/config.yaml
//
//	# Decide a single action
//	governor evaluate --feature translation --action translate
//
//	# Validate policy files
//	governor policy validate ./policies
//
//	# Replay last week's decisions against a candidate policy
//	governor simulate --policy candidate.yaml
//
//	# Show version information
//	governor version
package main

import "os"

func main() {
	os.Exit(Execute())
}
