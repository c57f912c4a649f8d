package metrics

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics tracks budget ledger and threshold activity.
//
// Metrics:
//   - tollgate_ledger_usage_records_total: usage records by outcome (accepted, duplicate)
//   - tollgate_ledger_spend_total: accepted spend by budget
//   - tollgate_ledger_budget_percent_used: latest percent used by budget
//   - tollgate_monitor_alerts_fired_total: threshold actions applied by action
type LedgerMetrics struct {
	records     *prometheus.CounterVec
	spend       *prometheus.CounterVec
	percentUsed *prometheus.GaugeVec
	alerts      *prometheus.CounterVec
}

// NewLedgerMetrics creates and registers ledger metrics.
func NewLedgerMetrics(namespace string, registry *prometheus.Registry) *LedgerMetrics {
	lm := &LedgerMetrics{
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "usage_records_total",
				Help:      "Usage records received by outcome",
			},
			[]string{"outcome"},
		),
		spend: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "spend_total",
				Help:      "Accepted spend by budget in the budget currency",
			},
			[]string{"budget_id"},
		),
		percentUsed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "budget_percent_used",
				Help:      "Percent of the budget limit used in the current period",
			},
			[]string{"budget_id"},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "monitor",
				Name:      "alerts_fired_total",
				Help:      "Threshold actions applied by action",
			},
			[]string{"action"},
		),
	}

	registry.MustRegister(lm.records, lm.spend, lm.percentUsed, lm.alerts)
	return lm
}
