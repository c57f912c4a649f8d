package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/ledger"
)

// Alert is the state of one crossed threshold. At most one exists per
// (budget, threshold percentage, period start).
type Alert struct {
	ID             string          `json:"id"`
	BudgetID       string          `json:"budget_id"`
	Percentage     float64         `json:"percentage"`
	PeriodStart    time.Time       `json:"period_start"`
	TriggeredAt    time.Time       `json:"triggered_at"`
	Actions        []ledger.Action `json:"actions"`
	Targets        []string        `json:"targets,omitempty"`
	Acknowledged   bool            `json:"acknowledged"`
	AcknowledgedBy string          `json:"acknowledged_by,omitempty"`
	AcknowledgedAt time.Time       `json:"acknowledged_at,omitzero"`
}

// AlertStore persists alert state.
type AlertStore interface {
	// CreateIfAbsent stores a unless an alert already exists for its
	// (budget, percentage, period start). It returns the stored alert and
	// whether a was inserted. The check and insert are atomic.
	CreateIfAbsent(ctx context.Context, a Alert) (Alert, bool, error)

	// List returns alerts of a budget for one period ordered by percentage.
	// A zero periodStart lists every period.
	List(ctx context.Context, budgetID string, periodStart time.Time) ([]Alert, error)

	// Acknowledge marks an alert acknowledged. Unknown alerts yield
	// faults.ErrNotFound.
	Acknowledge(ctx context.Context, budgetID string, percentage float64, periodStart time.Time, actor string, at time.Time) (Alert, error)

	// Prune deletes alerts of a budget from periods starting before before.
	Prune(ctx context.Context, budgetID string, before time.Time) error

	// DeleteBudget deletes every alert of a budget.
	DeleteBudget(ctx context.Context, budgetID string) error
}

type alertKey struct {
	budgetID    string
	percentage  float64
	periodStart int64
}

func keyOf(budgetID string, percentage float64, periodStart time.Time) alertKey {
	return alertKey{budgetID: budgetID, percentage: percentage, periodStart: periodStart.UnixNano()}
}

// MemoryStore is an in-memory AlertStore.
type MemoryStore struct {
	mu     sync.Mutex
	alerts map[alertKey]Alert
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[alertKey]Alert)}
}

// CreateIfAbsent implements AlertStore.
func (s *MemoryStore) CreateIfAbsent(_ context.Context, a Alert) (Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(a.BudgetID, a.Percentage, a.PeriodStart)
	if existing, ok := s.alerts[k]; ok {
		return existing, false, nil
	}
	s.alerts[k] = a
	return a, true, nil
}

// List implements AlertStore.
func (s *MemoryStore) List(_ context.Context, budgetID string, periodStart time.Time) ([]Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Alert
	for k, a := range s.alerts {
		if k.budgetID != budgetID {
			continue
		}
		if !periodStart.IsZero() && k.periodStart != periodStart.UnixNano() {
			continue
		}
		out = append(out, a)
	}
	sortAlerts(out)
	return out, nil
}

// Acknowledge implements AlertStore.
func (s *MemoryStore) Acknowledge(_ context.Context, budgetID string, percentage float64, periodStart time.Time, actor string, at time.Time) (Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(budgetID, percentage, periodStart)
	a, ok := s.alerts[k]
	if !ok {
		return Alert{}, faults.NotFound("alert", alertName(budgetID, percentage))
	}
	a.Acknowledged = true
	a.AcknowledgedBy = actor
	a.AcknowledgedAt = at
	s.alerts[k] = a
	return a, nil
}

// Prune implements AlertStore.
func (s *MemoryStore) Prune(_ context.Context, budgetID string, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.alerts {
		if k.budgetID == budgetID && k.periodStart < before.UnixNano() {
			delete(s.alerts, k)
		}
	}
	return nil
}

// DeleteBudget implements AlertStore.
func (s *MemoryStore) DeleteBudget(_ context.Context, budgetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.alerts {
		if k.budgetID == budgetID {
			delete(s.alerts, k)
		}
	}
	return nil
}

func sortAlerts(alerts []Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if !alerts[i].PeriodStart.Equal(alerts[j].PeriodStart) {
			return alerts[i].PeriodStart.Before(alerts[j].PeriodStart)
		}
		return alerts[i].Percentage < alerts[j].Percentage
	})
}
