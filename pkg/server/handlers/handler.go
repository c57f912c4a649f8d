package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mercator-hq/tollgate/pkg/catalog"
	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/monitor"
	"mercator-hq/tollgate/pkg/reconcile"
	"mercator-hq/tollgate/pkg/selection"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

// Budgets is the ledger surface used by the budget endpoints.
type Budgets interface {
	Create(ctx context.Context, b ledger.Budget) (ledger.Budget, error)
	Get(ctx context.Context, id string) (ledger.Budget, error)
	Update(ctx context.Context, id string, p ledger.Patch) (ledger.Budget, error)
	Delete(ctx context.Context, id string) error
	ListByScope(ctx context.Context, kind ledger.ScopeKind, scopeID string) ([]ledger.Budget, error)
	RecordUsage(ctx context.Context, budgetID string, rec ledger.UsageRecord) (ledger.RecordResult, error)
	Status(ctx context.Context, id string) (ledger.BudgetStatus, error)
	Report(ctx context.Context, budgetID string, from, to time.Time, groupBy ledger.GroupBy) (ledger.Report, error)
}

// Alerts is the threshold monitor surface.
type Alerts interface {
	Active(ctx context.Context, budgetID string) ([]monitor.Alert, error)
	Acknowledge(ctx context.Context, budgetID string, percentage float64, actor string) (monitor.Alert, error)
}

// Selector picks and prices models.
type Selector interface {
	Select(ctx context.Context, req selection.Request) (selection.Response, error)
	EstimateCosts(ctx context.Context, req selection.Request, ids []string) ([]selection.CostEstimate, error)
}

// Catalog provides catalog snapshots.
type Catalog interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
}

// Reconciler charges actual usage.
type Reconciler interface {
	ReconcileUsage(ctx context.Context, u reconcile.Usage) (reconcile.Result, error)
}

// Deps are the components behind the API. Routes whose component is nil
// are not registered.
type Deps struct {
	Budgets    Budgets
	Alerts     Alerts
	Selector   Selector
	Catalog    Catalog
	Reconciler Reconciler
}

// Handler serves the JSON API.
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

// New creates a Handler.
func New(deps Deps, logger *slog.Logger) *Handler {
	return &Handler{deps: deps, logger: logging.Component(logger, "api")}
}

// Register mounts the API routes under /v1.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		if h.deps.Budgets != nil {
			r.Route("/budgets", func(r chi.Router) {
				r.Post("/", h.createBudget)
				r.Get("/", h.listBudgets)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.getBudget)
					r.Patch("/", h.updateBudget)
					r.Delete("/", h.deleteBudget)
					r.Get("/status", h.budgetStatus)
					r.Post("/usage", h.recordUsage)
					r.Get("/report", h.budgetReport)
					if h.deps.Alerts != nil {
						r.Get("/alerts", h.listAlerts)
						r.Post("/alerts/{percentage}/ack", h.acknowledgeAlert)
					}
				})
			})
		}
		if h.deps.Selector != nil {
			r.Post("/select", h.selectModel)
			r.Post("/estimate", h.estimate)
		}
		if h.deps.Catalog != nil {
			r.Get("/models", h.listModels)
			r.Get("/models/{id}", h.getModel)
			r.Get("/models/{id}/fallbacks", h.modelFallbacks)
		}
		if h.deps.Reconciler != nil {
			r.Post("/reconcile", h.reconcileUsage)
		}
	})
}

// fail writes err and logs it when it maps to a server error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if faults.HTTPStatus(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	faults.WriteHTTP(w, err)
}
