package metrics

import "github.com/prometheus/client_golang/prometheus"

// IngressMetrics tracks the request-path adapter.
//
// Metrics:
//   - tollgate_ingress_degraded_total: requests forwarded or rejected without
//     cost-aware selection, by reason
type IngressMetrics struct {
	degraded *prometheus.CounterVec
}

// NewIngressMetrics creates and registers ingress metrics.
func NewIngressMetrics(namespace string, registry *prometheus.Registry) *IngressMetrics {
	im := &IngressMetrics{
		degraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingress",
				Name:      "degraded_total",
				Help:      "Degraded-mode events on the request path by reason",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(im.degraded)
	return im
}
