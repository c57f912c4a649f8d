package metrics

import "github.com/prometheus/client_golang/prometheus"

// CostMetrics tracks reconciled request cost.
//
// Metrics:
//   - tollgate_cost_total: total reconciled cost by model
//   - tollgate_cost_per_request: cost distribution per request (histogram)
type CostMetrics struct {
	costTotal      *prometheus.CounterVec
	costPerRequest *prometheus.HistogramVec
}

// NewCostMetrics creates and registers cost metrics with the provided registry.
func NewCostMetrics(namespace string, registry *prometheus.Registry) *CostMetrics {
	cm := &CostMetrics{
		costTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cost_total",
				Help:      "Total reconciled cost by model",
			},
			[]string{"model"},
		),
		costPerRequest: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cost_per_request",
				Help:      "Reconciled cost distribution per request",
				// $0.0001 to $10, LLM pricing range
				Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"model"},
		),
	}

	registry.MustRegister(cm.costTotal, cm.costPerRequest)
	return cm
}

// RecordCost records the cost of one reconciled request.
func (cm *CostMetrics) RecordCost(model string, cost float64) {
	cm.costTotal.WithLabelValues(model).Add(cost)
	cm.costPerRequest.WithLabelValues(model).Observe(cost)
}
