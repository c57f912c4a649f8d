package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

// StatusReader returns the current status of a budget. *ledger.Ledger
// satisfies it.
type StatusReader interface {
	Status(ctx context.Context, budgetID string) (ledger.BudgetStatus, error)
}

// Monitor evaluates alert thresholds whenever the ledger reports a change.
// It is registered with ledger.Ledger.AddObserver.
type Monitor struct {
	store    AlertStore
	status   StatusReader
	handlers Handlers
	audit    audit.Sink
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithHandlers replaces the action handlers. Nil fields keep the defaults.
func WithHandlers(h Handlers) Option {
	return func(m *Monitor) {
		if h.Notify != nil {
			m.handlers.Notify = h.Notify
		}
		if h.RestrictModels != nil {
			m.handlers.RestrictModels = h.RestrictModels
		}
		if h.RequireApproval != nil {
			m.handlers.RequireApproval = h.RequireApproval
		}
		if h.BlockAll != nil {
			m.handlers.BlockAll = h.BlockAll
		}
		if h.AutoDowngrade != nil {
			m.handlers.AutoDowngrade = h.AutoDowngrade
		}
	}
}

// WithNotifier routes the notify action to n.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.handlers.Notify = NotifyHandler(n) }
}

// WithAudit sets the audit sink.
func WithAudit(sink audit.Sink) Option {
	return func(m *Monitor) { m.audit = audit.OrDiscard(sink) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Monitor) { m.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logging.Component(logger, "monitor") }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor. The notify action defaults to an AuditNotifier on
// the monitor's audit sink.
func New(store AlertStore, status StatusReader, opts ...Option) *Monitor {
	m := &Monitor{
		store:  store,
		status: status,
		audit:  audit.Discard,
		logger: logging.Component(nil, "monitor"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.handlers.Notify == nil {
		m.handlers.Notify = NotifyHandler(AuditNotifier{Sink: m.audit})
	}
	return m
}

// BudgetChanged implements ledger.Observer.
func (m *Monitor) BudgetChanged(ctx context.Context, change ledger.Change) {
	budgetID := change.Budget.ID

	switch change.Kind {
	case ledger.ChangeDeleted:
		if err := m.store.DeleteBudget(ctx, budgetID); err != nil {
			m.logger.ErrorContext(ctx, "failed to delete alerts", "budget_id", budgetID, "error", err)
		}
		return
	case ledger.ChangeRollover:
		if err := m.store.Prune(ctx, budgetID, change.Status.PeriodStart); err != nil {
			m.logger.ErrorContext(ctx, "failed to reset alerts", "budget_id", budgetID, "error", err)
		}
	}

	m.evaluate(ctx, change.Budget, change.Status)
}

// evaluate fires every crossed threshold that has no alert in the current
// period. Thresholds are checked in ascending order.
func (m *Monitor) evaluate(ctx context.Context, b ledger.Budget, status ledger.BudgetStatus) {
	for _, t := range b.Thresholds {
		if status.PercentUsed < t.Percentage {
			break
		}

		alert := Alert{
			ID:          uuid.NewString(),
			BudgetID:    b.ID,
			Percentage:  t.Percentage,
			PeriodStart: status.PeriodStart,
			TriggeredAt: m.now(),
			Actions:     append([]ledger.Action(nil), t.Actions...),
			Targets:     append([]string(nil), t.Targets...),
		}
		stored, created, err := m.store.CreateIfAbsent(ctx, alert)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to store alert", "budget_id", b.ID, "percentage", t.Percentage, "error", err)
			continue
		}
		if created {
			m.fire(ctx, stored, b, status)
		}
	}
}

func (m *Monitor) fire(ctx context.Context, alert Alert, b ledger.Budget, status ledger.BudgetStatus) {
	names := make([]string, len(alert.Actions))
	for i, a := range alert.Actions {
		names[i] = a.String()
	}

	m.logger.WarnContext(ctx, "budget threshold crossed",
		"budget_id", b.ID,
		"percentage", alert.Percentage,
		"percent_used", status.PercentUsed,
		"actions", names,
	)
	m.audit.Record(ctx, audit.Event{
		Type:      audit.TypeAlertFired,
		Component: "monitor",
		BudgetID:  b.ID,
		Fields: map[string]any{
			"alert_id":     alert.ID,
			"percentage":   alert.Percentage,
			"percent_used": status.PercentUsed,
			"actions":      names,
		},
	})

	for _, a := range alert.Actions {
		m.metrics.RecordAlert(a.String())

		h, err := m.handlers.For(a)
		if err != nil {
			m.logger.ErrorContext(ctx, "unknown action", "action", a.String(), "error", err)
			continue
		}
		if h == nil {
			continue
		}
		if err := h(ctx, alert, b); err != nil {
			m.logger.ErrorContext(ctx, "action handler failed", "budget_id", b.ID, "action", a.String(), "error", err)
		}
	}
}

// Active returns the alerts of the budget's current period.
func (m *Monitor) Active(ctx context.Context, budgetID string) ([]Alert, error) {
	status, err := m.status.Status(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	return m.store.List(ctx, budgetID, status.PeriodStart)
}

// Enforcement returns the actions of unacknowledged alerts in the period of
// status. It is the enforcement mode read by selection.
func (m *Monitor) Enforcement(ctx context.Context, status ledger.BudgetStatus) (ledger.ActionSet, error) {
	alerts, err := m.store.List(ctx, status.BudgetID, status.PeriodStart)
	if err != nil {
		return nil, err
	}

	set := ledger.ActionSet{}
	for _, a := range alerts {
		if a.Acknowledged {
			continue
		}
		for _, action := range a.Actions {
			set[action] = true
		}
	}
	return set, nil
}

// Acknowledge marks the current-period alert at percentage acknowledged,
// lifting its actions from enforcement.
func (m *Monitor) Acknowledge(ctx context.Context, budgetID string, percentage float64, actor string) (Alert, error) {
	status, err := m.status.Status(ctx, budgetID)
	if err != nil {
		return Alert{}, err
	}

	alert, err := m.store.Acknowledge(ctx, budgetID, percentage, status.PeriodStart, actor, m.now())
	if err != nil {
		return Alert{}, err
	}

	m.logger.InfoContext(ctx, "alert acknowledged", "budget_id", budgetID, "percentage", percentage, "actor", actor)
	m.audit.Record(ctx, audit.Event{
		Type:      audit.TypeAlertAcked,
		Component: "monitor",
		BudgetID:  budgetID,
		Fields:    map[string]any{"alert_id": alert.ID, "percentage": percentage, "actor": actor},
	})
	return alert, nil
}
