// Package metrics owns the Prometheus registry the governor exposes.
//
// Components register their own collectors on the registry returned by
// NewRegistry. This package adds process and Go runtime collectors, the HTTP
// request metrics recorded by the API, and the /metrics handler.
package metrics
