package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/ledger"
)

// MemoryRepository implements ledger.Repository in process memory.
// All data is lost when the process exits.
type MemoryRepository struct {
	mu      sync.RWMutex
	budgets map[string]*memoryAccount
}

type memoryAccount struct {
	budget  ledger.Budget
	current float64
	usage   []ledger.UsageRecord
	seen    map[string]struct{}
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{budgets: make(map[string]*memoryAccount)}
}

// CreateBudget implements ledger.Repository.
func (m *MemoryRepository) CreateBudget(_ context.Context, b ledger.Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.budgets[b.ID]; exists {
		return faults.Invalid("id", "budget %q already exists", b.ID)
	}
	m.budgets[b.ID] = &memoryAccount{
		budget: b.Clone(),
		seen:   make(map[string]struct{}),
	}
	return nil
}

// Load implements ledger.Repository.
func (m *MemoryRepository) Load(_ context.Context, id string) (ledger.Budget, float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.budgets[id]
	if !ok {
		return ledger.Budget{}, 0, faults.NotFound("budget", id)
	}
	return acct.budget.Clone(), acct.current, nil
}

// UpdateBudget implements ledger.Repository.
func (m *MemoryRepository) UpdateBudget(_ context.Context, b ledger.Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.budgets[b.ID]
	if !ok {
		return faults.NotFound("budget", b.ID)
	}
	acct.budget = b.Clone()
	return nil
}

// DeleteBudget implements ledger.Repository.
func (m *MemoryRepository) DeleteBudget(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.budgets[id]; !ok {
		return faults.NotFound("budget", id)
	}
	delete(m.budgets, id)
	return nil
}

// ListBudgets implements ledger.Repository.
func (m *MemoryRepository) ListBudgets(_ context.Context, filter ledger.ListFilter) ([]ledger.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ledger.Budget, 0, len(m.budgets))
	for _, acct := range m.budgets {
		if filter.Matches(acct.budget) {
			out = append(out, acct.budget.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AppendUsage implements ledger.Repository.
func (m *MemoryRepository) AppendUsage(_ context.Context, rec ledger.UsageRecord) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.budgets[rec.BudgetID]
	if !ok {
		return 0, false, faults.NotFound("budget", rec.BudgetID)
	}
	if _, dup := acct.seen[rec.ID]; dup {
		return acct.current, false, nil
	}

	acct.seen[rec.ID] = struct{}{}
	acct.usage = append(acct.usage, rec)
	acct.current += rec.Amount
	return acct.current, true, nil
}

// Rollover implements ledger.Repository.
func (m *MemoryRepository) Rollover(_ context.Context, id string, start, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.budgets[id]
	if !ok {
		return faults.NotFound("budget", id)
	}
	acct.budget.Start = start
	acct.budget.End = end
	acct.current = 0
	return nil
}

// ListUsage implements ledger.Repository.
func (m *MemoryRepository) ListUsage(_ context.Context, budgetID string, from, to time.Time) ([]ledger.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.budgets[budgetID]
	if !ok {
		return nil, faults.NotFound("budget", budgetID)
	}

	var out []ledger.UsageRecord
	for _, rec := range acct.usage {
		if !from.IsZero() && rec.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !rec.Timestamp.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Close implements ledger.Repository.
func (m *MemoryRepository) Close() error {
	return nil
}
