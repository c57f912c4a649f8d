package selection

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/catalog"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
)

// CatalogSource provides the current catalog snapshot.
type CatalogSource interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
}

// StatusSource provides budget status.
type StatusSource interface {
	Status(ctx context.Context, budgetID string) (ledger.BudgetStatus, error)
}

// EnforcementSource provides the enforcement actions in effect for a budget.
type EnforcementSource interface {
	Enforcement(ctx context.Context, status ledger.BudgetStatus) (ledger.ActionSet, error)
}

// Degraded reasons.
const (
	DegradedStatusTimeout      = "status_timeout"
	DegradedStatusUnavailable  = "status_unavailable"
	DegradedEnforcementFailure = "enforcement_unavailable"
)

// Service orchestrates a selection: it resolves budget status and
// enforcement within a deadline, then runs the Engine over the catalog.
// Status or enforcement failures degrade to cost-unaware selection instead
// of failing the request.
type Service struct {
	engine      *Engine
	catalog     CatalogSource
	status      StatusSource
	enforcement EnforcementSource

	timeout time.Duration
	audit   audit.Sink
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStatusTimeout bounds status and enforcement lookups.
func WithStatusTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.timeout = d }
}

// WithAudit sets the audit sink.
func WithAudit(sink audit.Sink) ServiceOption {
	return func(s *Service) { s.audit = audit.OrDiscard(sink) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) ServiceOption {
	return func(s *Service) { s.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logging.Component(logger, "selection") }
}

// NewService creates a Service. status and enforcement may be nil, in which
// case selections are cost-unaware and unenforced.
func NewService(engine *Engine, cat CatalogSource, status StatusSource, enforcement EnforcementSource, opts ...ServiceOption) *Service {
	s := &Service{
		engine:      engine,
		catalog:     cat,
		status:      status,
		enforcement: enforcement,
		timeout:     config.DefaultSelectionStatusTimeout,
		audit:       audit.Discard,
		logger:      logging.Component(nil, "selection"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine returns the scoring engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Select resolves the status of req.BudgetID and selects a model. Unknown
// budgets fail with NotFound. A status lookup that times out or reports
// ExternalUnavailable yields a Degraded response.
func (s *Service) Select(ctx context.Context, req Request) (resp Response, err error) {
	ctx, span := tracing.Start(ctx, "selection.Select",
		attribute.String("request.id", req.ID),
		attribute.String("budget.id", req.BudgetID),
	)
	defer func() { tracing.End(span, err) }()

	if req.BudgetID == "" || s.status == nil {
		return s.run(ctx, req, nil, "")
	}

	lctx, cancel := s.lookupContext(ctx)
	st, serr := s.status.Status(lctx, req.BudgetID)
	cancel()
	if serr != nil {
		if reason, ok := degradable(serr); ok {
			s.logger.WarnContext(ctx, "budget status lookup failed, selecting without cost awareness",
				"budget_id", req.BudgetID, "reason", reason, "error", serr)
			return s.run(ctx, req, nil, reason)
		}
		s.fail(ctx, req, serr)
		return Response{}, serr
	}
	return s.SelectWithStatus(ctx, req, st)
}

// SelectWithStatus selects against a status the caller already holds,
// looking up only the enforcement actions.
func (s *Service) SelectWithStatus(ctx context.Context, req Request, status ledger.BudgetStatus) (Response, error) {
	if s.enforcement == nil {
		return s.runWith(ctx, req, &status, nil, "")
	}

	lctx, cancel := s.lookupContext(ctx)
	enf, err := s.enforcement.Enforcement(lctx, status)
	cancel()
	if err != nil {
		s.logger.WarnContext(ctx, "enforcement lookup failed, selecting without cost awareness",
			"budget_id", status.BudgetID, "error", err)
		return s.run(ctx, req, nil, DegradedEnforcementFailure)
	}
	return s.runWith(ctx, req, &status, enf, "")
}

// EstimateCosts prices req on the named models, or on every active model
// when ids is empty.
func (s *Service) EstimateCosts(ctx context.Context, req Request, ids []string) ([]CostEstimate, error) {
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	models := snap.Active()
	if len(ids) > 0 {
		models = models[:0]
		for _, id := range ids {
			m, err := snap.Get(id)
			if err != nil {
				return nil, err
			}
			models = append(models, m)
		}
	}
	return s.engine.EstimateCosts(req, models), nil
}

func (s *Service) lookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// degradable classifies lookup errors that selection tolerates.
func degradable(err error) (string, bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return DegradedStatusTimeout, true
	case errors.Is(err, faults.ErrExternalUnavailable):
		return DegradedStatusUnavailable, true
	}
	return "", false
}

func (s *Service) run(ctx context.Context, req Request, status *ledger.BudgetStatus, degraded string) (Response, error) {
	return s.runWith(ctx, req, status, nil, degraded)
}

func (s *Service) runWith(ctx context.Context, req Request, status *ledger.BudgetStatus, enf ledger.ActionSet, degraded string) (Response, error) {
	start := s.now()

	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		s.fail(ctx, req, err)
		return Response{}, err
	}

	resp, err := s.engine.Select(req, status, enf, snap.All())
	if err != nil {
		s.fail(ctx, req, err)
		return Response{}, err
	}

	outcome := "selected"
	switch {
	case degraded != "":
		resp.Degraded = true
		outcome = "degraded"
		s.metrics.RecordDegraded(degraded)
		s.audit.Record(ctx, audit.Event{
			Type:      audit.TypeDegraded,
			Component: "selection",
			BudgetID:  req.BudgetID,
			ModelID:   resp.Model,
			RequestID: req.ID,
			Message:   "selection ran without budget awareness",
			Fields:    map[string]any{"reason": degraded},
		})
	case resp.Preferred:
		outcome = "preferred"
	}

	s.metrics.RecordSelection(resp.Model, outcome, s.now().Sub(start))
	s.audit.Record(ctx, audit.Event{
		Type:      audit.TypeModelSelected,
		Component: "selection",
		BudgetID:  resp.Impact.BudgetID,
		ModelID:   resp.Model,
		RequestID: req.ID,
		Message:   resp.Rationale,
		Fields: map[string]any{
			"score":          resp.Score,
			"estimated_cost": resp.Cost.Total,
			"impact":         string(resp.Impact.Tier),
			"alternatives":   len(resp.Alternatives),
			"degraded":       resp.Degraded,
		},
	})
	s.logger.DebugContext(ctx, "model selected",
		"request_id", req.ID,
		"model", resp.Model,
		"score", resp.Score,
		"estimated_cost", resp.Cost.Total,
		"degraded", resp.Degraded,
	)
	return resp, nil
}

func (s *Service) fail(ctx context.Context, req Request, err error) {
	kind := faults.Kind(err)
	s.metrics.RecordSelectionFailure(kind)
	s.audit.Record(ctx, audit.Event{
		Type:      audit.TypeSelectionFailed,
		Component: "selection",
		BudgetID:  req.BudgetID,
		RequestID: req.ID,
		Message:   err.Error(),
		Fields:    map[string]any{"kind": kind},
	})
	s.logger.InfoContext(ctx, "selection failed", "request_id", req.ID, "kind", kind, "error", err)
}
