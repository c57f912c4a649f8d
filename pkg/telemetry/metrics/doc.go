// Package metrics provides Prometheus metrics collection for Tollgate.
//
// # Metrics Categories
//
//   - Ledger Metrics: usage records by outcome, spend per budget, percent used
//   - Alert Metrics: thresholds fired by action
//   - Selection Metrics: selections by model and outcome, latency, failures
//   - Fallback Metrics: chain advances by reason
//   - Ingress Metrics: degraded-mode events by reason
//   - Cost Metrics: reconciled cost by model
//   - Cache Metrics: ingress status cache hits and misses
//
// # Usage
//
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)
//	collector.RecordUsage("team-ml", 0.42, false)
//	collector.RecordSelection("claude-haiku", "selected", 3*time.Millisecond)
//
//	mux.Handle("/metrics", collector.Handler())
//
// A nil *Collector is valid and records nothing, so components can be built
// without metrics in tests.
//
// # Cardinality
//
// Budget and model labels are bounded by a CardinalityLimiter; label values
// past the limit are aggregated into "other".
package metrics
