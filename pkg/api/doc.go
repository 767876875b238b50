// Package api serves the governance core over HTTP.
//
// The API is the boundary the dashboard and operators talk to. It exposes
// decision evaluation, override grants, outcome and incident reporting, and
// the read-only query surfaces of governance.Core (status, autonomy impact,
// learned patterns, drift signals, recommendations, simulations and
// explanations). Liveness, readiness and Prometheus metrics are served
// alongside.
//
// # Routes
//
//	GET    /health                          liveness
//	GET    /ready                           readiness
//	GET    /metrics                         Prometheus exposition
//
//	POST   /api/v1/evaluate                 decide a request (?audience= adds an explanation)
//	GET    /api/v1/status                   governance summary
//	GET    /api/v1/autonomy                 autonomy impact (?window=24h)
//	GET    /api/v1/usage                    ledger usage (?target=feature:translation)
//	GET    /api/v1/risk                     systemic risk (?feature=&team=)
//	POST   /api/v1/risk/events              record a risk observation
//
//	GET    /api/v1/overrides                active overrides (?all=true for every retained one)
//	POST   /api/v1/overrides                grant an override
//	DELETE /api/v1/overrides/{id}           revoke an override
//
//	POST   /api/v1/events/{id}/outcome      attach an outcome to an event
//	POST   /api/v1/incidents                report an incident
//
//	GET    /api/v1/patterns                 learned patterns (?feature=)
//	GET    /api/v1/patterns/dangerous       patterns with a high incident rate
//
//	GET    /api/v1/drift/signals            drift signals (?feature=&type=&status=&min_severity=&open=true)
//	GET    /api/v1/drift/signals/{id}       one signal (?audience= adds an explanation)
//	POST   /api/v1/drift/signals/{id}/{op}  acknowledge, resolve or dismiss
//
//	GET    /api/v1/recommendations          latest budget recommendations
//	GET    /api/v1/recommendations/{feature}
//	POST   /api/v1/simulate                 replay history against a hypothetical policy
//
//	GET    /api/v1/policies                 live policy snapshot
//	PUT    /api/v1/policies/{id}            create or replace a policy
//	POST   /api/v1/policies/{id}/disable    disable a policy
//	POST   /api/v1/policies/reload          reload policy files
//
//	GET    /api/v1/jobs                     background job status
//	POST   /api/v1/jobs/{name}/run          run a job now
//
// Errors are returned as {"error": {"code": "...", "message": "..."}} with a
// status code derived from the underlying error.
//
// # Middleware
//
// Requests pass through recovery, request id propagation, structured access
// logging, Prometheus instrumentation, optional per-client rate limiting,
// optional CORS, and a body size cap.
//
// # Usage
//
//	srv := api.NewServer(&cfg.API, api.Deps{
//	    Core:     core,
//	    Health:   checker,
//	    Gatherer: registry,
//	    Metrics:  metrics.NewHTTPMetrics(registry),
//	})
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
package api
