// Package tracing configures OpenTelemetry for the governor.
//
// When tracing is disabled New returns a Tracer backed by the noop provider,
// so callers never branch on configuration. When enabled, spans are batched
// to an OTLP gRPC collector and the global provider and W3C propagator are
// installed.
//
//	t, err := tracing.New(ctx, cfg.Telemetry.Tracing)
//	if err != nil {
//	    return err
//	}
//	defer t.Shutdown(context.Background())
package tracing
