// Package telemetry groups Tollgate's observability packages.
//
// # Components
//
//   - logging: structured slog logging with request, budget and model
//     identifiers carried on the context
//   - metrics: Prometheus collectors for selection, ledger, ingress, cost
//     and cache behavior
//   - tracing: OpenTelemetry spans exported over OTLP/gRPC
//   - health: liveness, readiness and version endpoints
//
// Components take a *metrics.Collector and *slog.Logger through their
// options; a nil collector disables metrics for that component.
package telemetry
