// Package telemetry groups the governor's observability packages.
//
//   - logging: slog setup with secret redaction and request context fields
//   - metrics: the Prometheus registry, HTTP metrics and the /metrics handler
//   - tracing: OpenTelemetry tracer provider with an OTLP gRPC exporter
//   - health: liveness and readiness checks over the stores and backends
//
// Components never import these packages to log or count; they take a
// *slog.Logger, a prometheus.Registerer or a trace.Tracer. Only the command
// and the HTTP API wire telemetry together.
package telemetry
