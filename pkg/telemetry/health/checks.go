package health

import (
	"context"
	"fmt"

	"mercator-hq/tollgate/pkg/catalog"
	"mercator-hq/tollgate/pkg/ledger"
)

// Catalog fails while no catalog snapshot is installed.
func Catalog(src interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
}) CheckFunc {
	return func(ctx context.Context) error {
		snap, err := src.Snapshot(ctx)
		if err != nil {
			return err
		}
		if len(snap.Active()) == 0 {
			return fmt.Errorf("catalog version %d has no active models", snap.Version())
		}
		return nil
	}
}

// Ledger fails when budgets cannot be listed from storage.
func Ledger(l interface {
	ListByScope(ctx context.Context, kind ledger.ScopeKind, scopeID string) ([]ledger.Budget, error)
}) CheckFunc {
	return func(ctx context.Context) error {
		_, err := l.ListByScope(ctx, ledger.ScopeOrganization, "")
		return err
	}
}

// Breaker fails while a circuit breaker is open.
func Breaker(state func() string) CheckFunc {
	return func(context.Context) error {
		if s := state(); s == "open" {
			return fmt.Errorf("circuit breaker %s", s)
		}
		return nil
	}
}
