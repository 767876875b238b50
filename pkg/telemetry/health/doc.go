// Package health implements liveness and readiness probes.
//
// Liveness only reports that the process is serving. Readiness runs every
// registered check concurrently, each under its own timeout, and reports
// "degraded" with HTTP 503 when any check fails.
package health
