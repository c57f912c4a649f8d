// Package tracing wires OpenTelemetry for Tollgate.
//
// New installs a global tracer provider: an OTLP gRPC exporter with a
// parent-based sampler when tracing is enabled, a noop provider otherwise.
// Components open spans with Start and close them with End, so they never
// hold a provider reference:
//
//	ctx, span := tracing.Start(ctx, "selection.Select")
//	resp, err := engine.Select(...)
//	tracing.End(span, err)
package tracing
