// Package governance assembles the governance core from configuration and
// exposes the operations callers and the HTTP API use.
//
// A Core owns one instance of every component: the policy store and its
// file watcher, the budget ledger, the override store, the event log and
// recorder, the decision engine and guard, the risk assessor, and the
// scheduled analysis jobs (learning, drift, recommender, retention, ledger
// sweep, override pruning).
//
// Basic usage:
//
//	core, err := governance.Open(ctx, cfg, governance.Options{Registerer: reg})
//	if err != nil {
//	    return err
//	}
//	defer core.Close()
//
//	core.Start(ctx)
//	exec, err := core.Guard(ctx, req, work)
//
// The request path (Evaluate, Guard, GrantOverride, RecordOutcome) never
// waits on the analysis jobs. They read the event log and ledger on their
// own schedule, and their results are served by the query operations.
package governance
