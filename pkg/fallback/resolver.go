package fallback

import (
	"context"
	"fmt"
	"log/slog"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/catalog"
	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/selection"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

// Resolver walks static fallback chains.
type Resolver struct {
	catalog selection.CatalogSource
	engine  *selection.Engine
	audit   audit.Sink
	metrics *metrics.Collector
	logger  *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAudit sets the audit sink.
func WithAudit(sink audit.Sink) Option {
	return func(r *Resolver) { r.audit = audit.OrDiscard(sink) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Resolver) { r.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logging.Component(logger, "fallback") }
}

// NewResolver creates a Resolver. The engine supplies the hard filters.
func NewResolver(cat selection.CatalogSource, engine *selection.Engine, opts ...Option) *Resolver {
	r := &Resolver{
		catalog: cat,
		engine:  engine,
		audit:   audit.Discard,
		logger:  logging.Component(nil, "fallback"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Chain returns the static fallback chain of a model.
func (r *Resolver) Chain(ctx context.Context, modelID string) ([]string, error) {
	snap, err := r.catalog.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Chain(modelID)
}

// Next returns the next model in primary's chain that is not in tried and
// passes the request's hard filters. Under restrict-models only the cheaper
// half of the catalog qualifies. An exhausted chain is a terminal
// SelectionFailure.
func (r *Resolver) Next(ctx context.Context, req selection.Request, status *ledger.BudgetStatus, enforcement ledger.ActionSet, primary string, tried []string, reason Reason) (catalog.Model, error) {
	snap, err := r.catalog.Snapshot(ctx)
	if err != nil {
		return catalog.Model{}, err
	}
	chain, err := snap.Chain(primary)
	if err != nil {
		return catalog.Model{}, err
	}

	var permitted map[string]bool
	if enforcement.Has(ledger.ActionRestrictModels) {
		permitted = r.engine.Permitted(req, status, enforcement, snap.All())
	}

	done := make(map[string]bool, len(tried))
	for _, id := range tried {
		done[id] = true
	}

	rejected := make(map[string]string, len(chain))
	for _, id := range chain {
		if done[id] {
			rejected[id] = "tried"
			continue
		}
		m, err := snap.Get(id)
		if err != nil {
			rejected[id] = "unknown"
			continue
		}
		if why := r.engine.Admit(req, status, m); why != "" {
			rejected[id] = string(why)
			continue
		}
		if permitted != nil && !permitted[id] {
			rejected[id] = string(selection.ReasonRestricted)
			continue
		}

		r.metrics.RecordFallback(string(reason))
		r.audit.Record(ctx, audit.Event{
			Type:      audit.TypeFallbackAdvanced,
			Component: "fallback",
			BudgetID:  req.BudgetID,
			ModelID:   m.ID,
			RequestID: req.ID,
			Message:   fmt.Sprintf("falling back from %s after %s", lastTried(tried, primary), reason),
			Fields:    map[string]any{"primary": primary, "reason": string(reason), "tried": len(tried)},
		})
		r.logger.InfoContext(ctx, "advancing fallback chain",
			"request_id", req.ID, "primary", primary, "next", m.ID, "reason", reason)
		return m, nil
	}

	return catalog.Model{}, &faults.SelectionFailureError{
		Reason:   fmt.Sprintf("fallback chain of %q exhausted", primary),
		Rejected: rejected,
	}
}

func lastTried(tried []string, primary string) string {
	if len(tried) == 0 {
		return primary
	}
	return tried[len(tried)-1]
}
