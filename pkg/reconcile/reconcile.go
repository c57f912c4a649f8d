// Package reconcile turns a completed request's actual token counts into a
// ledger charge.
//
// Reconciliation is keyed by request id: the usage record carries the
// request id as its id, so reconciling the same request twice leaves the
// ledger unchanged the second time.
package reconcile

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/selection"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
)

// Source is the Source tag on reconciled usage records.
const Source = "reconciler"

// Recorder records usage against a budget.
type Recorder interface {
	RecordUsage(ctx context.Context, budgetID string, rec ledger.UsageRecord) (ledger.RecordResult, error)
}

// Usage is the actual usage of one completed request. RequestID is the
// idempotency key; CallerID, when set, is the caller's own request id and
// is what the usage record is attributed to.
type Usage struct {
	RequestID    string             `json:"request_id"`
	CallerID     string             `json:"caller_id,omitempty"`
	BudgetID     string             `json:"budget_id"`
	ModelID      string             `json:"model_id"`
	InputTokens  int                `json:"input_tokens"`
	OutputTokens int                `json:"output_tokens"`
	TaskType     selection.TaskType `json:"task_type,omitempty"`
	UserID       string             `json:"user_id,omitempty"`
	TeamID       string             `json:"team_id,omitempty"`
	ProjectID    string             `json:"project_id,omitempty"`
}

func (u Usage) validate() error {
	switch {
	case u.RequestID == "":
		return faults.Invalid("request_id", "must not be empty")
	case u.BudgetID == "":
		return faults.Invalid("budget_id", "must not be empty")
	case u.ModelID == "":
		return faults.Invalid("model_id", "must not be empty")
	case u.InputTokens < 0 || u.OutputTokens < 0:
		return faults.Invalid("tokens", "token counts must not be negative")
	}
	return nil
}

// Result is the outcome of a reconciliation.
type Result struct {
	Cost      float64             `json:"cost"`
	Currency  string              `json:"currency"`
	Duplicate bool                `json:"duplicate"`
	Status    ledger.BudgetStatus `json:"status"`
}

// Reconciler prices completed requests and records them in the ledger.
type Reconciler struct {
	catalog selection.CatalogSource
	ledger  Recorder
	history *selection.History
	audit   audit.Sink
	metrics *metrics.Collector
	logger  *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithHistory records each first reconciliation as a successful outcome.
func WithHistory(h *selection.History) Option {
	return func(r *Reconciler) { r.history = h }
}

// WithAudit sets the audit sink.
func WithAudit(sink audit.Sink) Option {
	return func(r *Reconciler) { r.audit = audit.OrDiscard(sink) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Reconciler) { r.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logging.Component(logger, "reconcile") }
}

// New creates a Reconciler.
func New(cat selection.CatalogSource, recorder Recorder, opts ...Option) *Reconciler {
	r := &Reconciler{
		catalog: cat,
		ledger:  recorder,
		audit:   audit.Discard,
		logger:  logging.Component(nil, "reconcile"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile charges budgetID for a request served by modelID.
func (r *Reconciler) Reconcile(ctx context.Context, requestID, budgetID, modelID string, inputTokens, outputTokens int) (Result, error) {
	return r.ReconcileUsage(ctx, Usage{
		RequestID:    requestID,
		BudgetID:     budgetID,
		ModelID:      modelID,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	})
}

// ReconcileUsage charges u.BudgetID at the model's token rates. A request id
// that was already reconciled against the budget is reported as Duplicate
// and changes nothing.
func (r *Reconciler) ReconcileUsage(ctx context.Context, u Usage) (res Result, err error) {
	ctx, span := tracing.Start(ctx, "reconcile.Reconcile",
		attribute.String("request.id", u.RequestID),
		attribute.String("budget.id", u.BudgetID),
		attribute.String("model.id", u.ModelID),
	)
	defer func() { tracing.End(span, err) }()

	if err := u.validate(); err != nil {
		return Result{}, err
	}

	snap, err := r.catalog.Snapshot(ctx)
	if err != nil {
		return Result{}, err
	}
	m, err := snap.Get(u.ModelID)
	if err != nil {
		return Result{}, err
	}

	attributed := u.CallerID
	if attributed == "" {
		attributed = u.RequestID
	}
	cost := m.Cost(u.InputTokens, u.OutputTokens)
	rec := ledger.UsageRecord{
		ID:       u.RequestID,
		Amount:   cost,
		Currency: m.Currency,
		Source:   Source,
		Attribution: ledger.Attribution{
			RequestID: attributed,
			ModelID:   m.ID,
			UserID:    u.UserID,
			TeamID:    u.TeamID,
			ProjectID: u.ProjectID,
			TaskType:  string(u.TaskType),
		},
	}

	out, err := r.ledger.RecordUsage(ctx, u.BudgetID, rec)
	if err != nil {
		r.logger.WarnContext(ctx, "reconciliation failed",
			"request_id", u.RequestID, "budget_id", u.BudgetID, "model", m.ID, "error", err)
		return Result{}, err
	}

	res = Result{Cost: cost, Currency: m.Currency, Duplicate: out.Duplicate, Status: out.Status}
	if out.Duplicate {
		r.logger.InfoContext(ctx, "request already reconciled", "request_id", u.RequestID, "budget_id", u.BudgetID)
		return res, nil
	}

	r.history.Record(m.ID, u.TaskType, true)
	r.metrics.RecordReconciled(m.ID, cost)
	r.audit.Record(ctx, audit.Event{
		Type:      audit.TypeReconciled,
		Component: "reconcile",
		BudgetID:  u.BudgetID,
		ModelID:   m.ID,
		RequestID: u.RequestID,
		Fields: map[string]any{
			"input_tokens":  u.InputTokens,
			"output_tokens": u.OutputTokens,
			"cost":          cost,
			"currency":      m.Currency,
			"percent_used":  out.Status.PercentUsed,
		},
	})
	return res, nil
}
