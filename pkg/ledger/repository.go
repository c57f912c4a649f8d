package ledger

import (
	"context"
	"time"
)

// Repository persists budgets, running totals and usage records.
//
// Implementations must make AppendUsage atomic: inserting the record and
// incrementing the running total happen together or not at all, and a
// record whose (budget id, record id) already exists changes nothing.
// Unknown budget ids yield faults.ErrNotFound.
type Repository interface {
	// CreateBudget stores a new budget with a zero running total.
	CreateBudget(ctx context.Context, b Budget) error

	// Load returns a budget and its running total for the current period.
	Load(ctx context.Context, id string) (Budget, float64, error)

	// UpdateBudget replaces a budget definition, keeping its running total.
	UpdateBudget(ctx context.Context, b Budget) error

	// DeleteBudget removes a budget and its usage records.
	DeleteBudget(ctx context.Context, id string) error

	// ListBudgets returns budgets matching the filter ordered by id.
	ListBudgets(ctx context.Context, filter ListFilter) ([]Budget, error)

	// AppendUsage inserts rec if absent and adds its amount to the running
	// total. It returns the resulting total and whether rec was inserted.
	AppendUsage(ctx context.Context, rec UsageRecord) (total float64, inserted bool, err error)

	// Rollover moves a budget to a new period and resets its running total.
	Rollover(ctx context.Context, id string, start, end time.Time) error

	// ListUsage returns records for a budget with from <= timestamp < to,
	// oldest first. Zero bounds are open.
	ListUsage(ctx context.Context, budgetID string, from, to time.Time) ([]UsageRecord, error)

	// Close releases resources held by the repository.
	Close() error
}

// ListFilter narrows ListBudgets. Empty fields match everything.
type ListFilter struct {
	ScopeKind ScopeKind
	ScopeID   string
	ParentID  string
}

// Matches reports whether b satisfies the filter.
func (f ListFilter) Matches(b Budget) bool {
	if f.ScopeKind != "" && b.ScopeKind != f.ScopeKind {
		return false
	}
	if f.ScopeID != "" && b.ScopeID != f.ScopeID {
		return false
	}
	if f.ParentID != "" && b.ParentID != f.ParentID {
		return false
	}
	return true
}
