package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

// Handler applies one enforcement action for a freshly fired alert.
type Handler func(ctx context.Context, alert Alert, budget ledger.Budget) error

// Handlers holds one handler per enforcement action. A nil field means the
// action only takes effect through Enforcement.
type Handlers struct {
	Notify          Handler
	RestrictModels  Handler
	RequireApproval Handler
	BlockAll        Handler
	AutoDowngrade   Handler
}

// For returns the handler of an action.
func (h Handlers) For(a ledger.Action) (Handler, error) {
	switch a {
	case ledger.ActionNotify:
		return h.Notify, nil
	case ledger.ActionRestrictModels:
		return h.RestrictModels, nil
	case ledger.ActionRequireApproval:
		return h.RequireApproval, nil
	case ledger.ActionBlockAll:
		return h.BlockAll, nil
	case ledger.ActionAutoDowngrade:
		return h.AutoDowngrade, nil
	default:
		return nil, fmt.Errorf("no handler for %s", a)
	}
}

// Notification is delivered to the targets of a fired threshold.
type Notification struct {
	Alert   Alert
	Budget  ledger.Budget
	Targets []string
	Message string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// AuditNotifier records one audit event per notification target.
type AuditNotifier struct {
	Sink audit.Sink
}

// Notify implements Notifier.
func (n AuditNotifier) Notify(ctx context.Context, note Notification) error {
	sink := audit.OrDiscard(n.Sink)
	targets := note.Targets
	if len(targets) == 0 {
		targets = []string{""}
	}
	for _, target := range targets {
		sink.Record(ctx, audit.Event{
			Type:      audit.TypeNotification,
			Component: "monitor",
			BudgetID:  note.Alert.BudgetID,
			Message:   note.Message,
			Fields: map[string]any{
				"target":     target,
				"alert_id":   note.Alert.ID,
				"percentage": note.Alert.Percentage,
			},
		})
	}
	return nil
}

// LogNotifier writes one warning per notification target. It delivers
// notifications when audit logging is off.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(ctx context.Context, note Notification) error {
	logger := logging.Component(n.Logger, "monitor")
	targets := note.Targets
	if len(targets) == 0 {
		targets = []string{""}
	}
	for _, target := range targets {
		logger.WarnContext(ctx, note.Message,
			"budget_id", note.Alert.BudgetID,
			"alert_id", note.Alert.ID,
			"percentage", note.Alert.Percentage,
			"target", target,
		)
	}
	return nil
}

// NotifyHandler adapts a Notifier to the notify action.
func NotifyHandler(n Notifier) Handler {
	return func(ctx context.Context, alert Alert, budget ledger.Budget) error {
		return n.Notify(ctx, Notification{
			Alert:   alert,
			Budget:  budget,
			Targets: alert.Targets,
			Message: fmt.Sprintf("budget %s crossed %s%% of %s %s",
				budget.ID, alertPercent(alert.Percentage), strconv.FormatFloat(budget.Limit, 'f', 2, 64), budget.Currency),
		})
	}
}

func alertPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func alertName(budgetID string, percentage float64) string {
	return budgetID + "/" + alertPercent(percentage)
}
