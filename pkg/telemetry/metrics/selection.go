package metrics

import "github.com/prometheus/client_golang/prometheus"

// SelectionMetrics tracks model selection and fallback.
//
// Metrics:
//   - tollgate_selection_total: selections by model and outcome
//   - tollgate_selection_duration_seconds: time spent selecting
//   - tollgate_selection_failures_total: failed selections by error kind
//   - tollgate_fallback_advances_total: fallback chain advances by reason
type SelectionMetrics struct {
	selections *prometheus.CounterVec
	duration   prometheus.Histogram
	failures   *prometheus.CounterVec
	fallbacks  *prometheus.CounterVec
}

// NewSelectionMetrics creates and registers selection metrics.
func NewSelectionMetrics(namespace string, registry *prometheus.Registry) *SelectionMetrics {
	sm := &SelectionMetrics{
		selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "selection",
				Name:      "total",
				Help:      "Model selections by model and outcome",
			},
			[]string{"model", "outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "selection",
				Name:      "duration_seconds",
				Help:      "Time spent selecting a model, including status lookups",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "selection",
				Name:      "failures_total",
				Help:      "Failed selections by error kind",
			},
			[]string{"kind"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fallback",
				Name:      "advances_total",
				Help:      "Fallback chain advances by failure reason",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(sm.selections, sm.duration, sm.failures, sm.fallbacks)
	return sm
}
