package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/ledger"
)

// budgetFromSeed converts a configured budget into a ledger budget.
func budgetFromSeed(s config.BudgetSeed) (ledger.Budget, error) {
	b := ledger.Budget{
		ID:        s.ID,
		ScopeKind: ledger.ScopeKind(s.ScopeKind),
		ScopeID:   s.ScopeID,
		Limit:     s.Limit,
		Currency:  s.Currency,
		Period:    ledger.PeriodKind(s.Period),
		Start:     s.Start,
		End:       s.End,
		Recurring: s.Recurring,
		ParentID:  s.ParentID,
	}
	for i, ts := range s.Thresholds {
		t := ledger.Threshold{Percentage: ts.Percentage, Targets: ts.Targets}
		for _, name := range ts.Actions {
			a, err := ledger.ParseAction(name)
			if err != nil {
				return ledger.Budget{}, faults.Invalid(fmt.Sprintf("budgets[%s].thresholds[%d].actions", s.ID, i), "%v", err)
			}
			t.Actions = append(t.Actions, a)
		}
		b.Thresholds = append(b.Thresholds, t)
	}
	return b, nil
}

// seedBudgets creates configured budgets that do not exist yet. Parents
// must be listed before their children. Existing budgets are left as they
// are so restarts against persistent storage keep recorded spend.
func seedBudgets(ctx context.Context, l *ledger.Ledger, seeds []config.BudgetSeed, logger *slog.Logger) error {
	for _, s := range seeds {
		if _, err := l.Get(ctx, s.ID); err == nil {
			logger.Debug("seed budget already exists", "budget_id", s.ID)
			continue
		} else if !errors.Is(err, faults.ErrNotFound) {
			return err
		}

		b, err := budgetFromSeed(s)
		if err != nil {
			return err
		}
		if _, err := l.Create(ctx, b); err != nil {
			return fmt.Errorf("failed to seed budget %q: %w", s.ID, err)
		}
	}
	return nil
}
