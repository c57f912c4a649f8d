package metrics

import (
	"sync"
	"time"

	"mercator-hq/tollgate/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every Tollgate Prometheus metric and its registry.
// All methods are safe on a nil receiver.
type Collector struct {
	config   config.MetricsConfig
	registry *prometheus.Registry

	ledger    *LedgerMetrics
	selection *SelectionMetrics
	ingress   *IngressMetrics
	cost      *CostMetrics
	cache     *CacheMetrics

	budgets *CardinalityLimiter
	models  *CardinalityLimiter
}

// NewCollector creates a collector registering into registry. If registry is
// nil a fresh one is created.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}

	return &Collector{
		config:    cfg,
		registry:  registry,
		ledger:    NewLedgerMetrics(cfg.Namespace, registry),
		selection: NewSelectionMetrics(cfg.Namespace, registry),
		ingress:   NewIngressMetrics(cfg.Namespace, registry),
		cost:      NewCostMetrics(cfg.Namespace, registry),
		cache:     NewCacheMetrics(cfg.Namespace, registry),
		budgets:   NewCardinalityLimiter(1000),
		models:    NewCardinalityLimiter(500),
	}
}

func (c *Collector) active() bool {
	return c != nil && c.config.Enabled
}

// RecordUsage records an accepted or duplicate usage record.
func (c *Collector) RecordUsage(budgetID string, amount float64, duplicate bool) {
	if !c.active() {
		return
	}
	if duplicate {
		c.ledger.records.WithLabelValues("duplicate").Inc()
		return
	}
	c.ledger.records.WithLabelValues("accepted").Inc()
	c.ledger.spend.WithLabelValues(c.budgetLabel(budgetID)).Add(amount)
}

// SetBudgetPercent updates the percent-used gauge for a budget.
func (c *Collector) SetBudgetPercent(budgetID string, percent float64) {
	if !c.active() {
		return
	}
	c.ledger.percentUsed.WithLabelValues(c.budgetLabel(budgetID)).Set(percent)
}

// RecordAlert records a fired threshold action.
func (c *Collector) RecordAlert(action string) {
	if !c.active() {
		return
	}
	c.ledger.alerts.WithLabelValues(action).Inc()
}

// RecordSelection records a completed selection.
// Outcome is "selected", "preferred" or "degraded".
func (c *Collector) RecordSelection(model, outcome string, duration time.Duration) {
	if !c.active() {
		return
	}
	c.selection.selections.WithLabelValues(c.modelLabel(model), outcome).Inc()
	c.selection.duration.Observe(duration.Seconds())
}

// RecordSelectionFailure records a failed selection by error kind.
func (c *Collector) RecordSelectionFailure(kind string) {
	if !c.active() {
		return
	}
	c.selection.failures.WithLabelValues(kind).Inc()
}

// RecordFallback records one advance through a fallback chain.
func (c *Collector) RecordFallback(reason string) {
	if !c.active() {
		return
	}
	c.selection.fallbacks.WithLabelValues(reason).Inc()
}

// RecordDegraded records a degraded-mode event on the request path.
func (c *Collector) RecordDegraded(reason string) {
	if !c.active() {
		return
	}
	c.ingress.degraded.WithLabelValues(reason).Inc()
}

// RecordReconciled records the actual cost of a completed request.
func (c *Collector) RecordReconciled(model string, cost float64) {
	if !c.active() {
		return
	}
	c.cost.RecordCost(c.modelLabel(model), cost)
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit(cacheName string) {
	if !c.active() {
		return
	}
	c.cache.RecordHit(cacheName)
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss(cacheName string) {
	if !c.active() {
		return
	}
	c.cache.RecordMiss(cacheName)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) budgetLabel(id string) string {
	if c.budgets.Allow(id) {
		return id
	}
	return "other"
}

func (c *Collector) modelLabel(id string) string {
	if c.models.Allow(id) {
		return id
	}
	return "other"
}

// CardinalityLimiter bounds the number of distinct label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter allowing maxCardinality values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value may be used as a label. Known values are
// always allowed; new values are allowed until the limit is reached.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
