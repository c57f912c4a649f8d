package selection

import (
	"context"
	"errors"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/catalog"
	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/ledger"
)

type fakeStatus struct {
	status ledger.BudgetStatus
	err    error
	delay  time.Duration
	calls  int
}

func (f *fakeStatus) Status(ctx context.Context, budgetID string) (ledger.BudgetStatus, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ledger.BudgetStatus{}, ctx.Err()
		}
	}
	if f.err != nil {
		return ledger.BudgetStatus{}, f.err
	}
	st := f.status
	st.BudgetID = budgetID
	return st, nil
}

type enforcementFunc func(ctx context.Context, status ledger.BudgetStatus) (ledger.ActionSet, error)

func (f enforcementFunc) Enforcement(ctx context.Context, status ledger.BudgetStatus) (ledger.ActionSet, error) {
	return f(ctx, status)
}

func loadedCatalog(t *testing.T, models ...catalog.Model) *catalog.Catalog {
	t.Helper()
	c := catalog.New("")
	if err := c.Replace(context.Background(), models); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	return c
}

func TestService_Select(t *testing.T) {
	cat := loadedCatalog(t, model("cheap", 0.00001, 80), model("premium", 0.0001, 95))
	status := &fakeStatus{status: *roomyStatus()}

	tests := []struct {
		name         string
		status       *fakeStatus
		enforcement  EnforcementSource
		budgetID     string
		wantErr      error
		wantDegraded bool
		wantEvent    string
	}{
		{
			name:      "budget aware",
			status:    status,
			budgetID:  "b1",
			wantEvent: audit.TypeModelSelected,
		},
		{
			name:      "no budget",
			status:    status,
			wantEvent: audit.TypeModelSelected,
		},
		{
			name:         "status timeout degrades",
			status:       &fakeStatus{status: *roomyStatus(), delay: time.Second},
			budgetID:     "b1",
			wantDegraded: true,
			wantEvent:    audit.TypeDegraded,
		},
		{
			name:         "ledger unavailable degrades",
			status:       &fakeStatus{err: faults.Unavailable("ledger", errors.New("connection refused"))},
			budgetID:     "b1",
			wantDegraded: true,
			wantEvent:    audit.TypeDegraded,
		},
		{
			name:      "unknown budget surfaces",
			status:    &fakeStatus{err: faults.NotFound("budget", "ghost")},
			budgetID:  "ghost",
			wantErr:   faults.ErrNotFound,
			wantEvent: audit.TypeSelectionFailed,
		},
		{
			name:   "enforcement blocks",
			status: status,
			enforcement: enforcementFunc(func(context.Context, ledger.BudgetStatus) (ledger.ActionSet, error) {
				return ledger.ActionSet{ledger.ActionBlockAll: true}, nil
			}),
			budgetID:  "b1",
			wantErr:   faults.ErrBudgetBlocked,
			wantEvent: audit.TypeSelectionFailed,
		},
		{
			name:   "enforcement failure degrades",
			status: status,
			enforcement: enforcementFunc(func(context.Context, ledger.BudgetStatus) (ledger.ActionSet, error) {
				return nil, faults.Unavailable("alerts", errors.New("locked"))
			}),
			budgetID:     "b1",
			wantDegraded: true,
			wantEvent:    audit.TypeDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := audit.NewMemorySink()
			svc := NewService(NewEngine(), cat, tt.status, tt.enforcement,
				WithAudit(sink),
				WithStatusTimeout(20*time.Millisecond),
			)

			resp, err := svc.Select(context.Background(), Request{ID: "req-1", BudgetID: tt.budgetID, InputTokens: 100})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Select() error = %v, want %v", err, tt.wantErr)
				}
			} else {
				if err != nil {
					t.Fatalf("Select() error = %v", err)
				}
				if resp.Model != "cheap" {
					t.Errorf("Select() model = %s, want cheap", resp.Model)
				}
				if resp.Degraded != tt.wantDegraded {
					t.Errorf("Degraded = %v, want %v", resp.Degraded, tt.wantDegraded)
				}
			}

			if got := len(sink.OfType(tt.wantEvent)); got != 1 {
				t.Errorf("%s events = %d, want 1", tt.wantEvent, got)
			}
		})
	}
}

func TestService_CatalogUnavailable(t *testing.T) {
	sink := audit.NewMemorySink()
	svc := NewService(NewEngine(), catalog.New(""), nil, nil, WithAudit(sink))

	_, err := svc.Select(context.Background(), Request{ID: "req-1"})
	if !errors.Is(err, faults.ErrExternalUnavailable) {
		t.Fatalf("Select() error = %v, want external unavailable", err)
	}
	events := sink.OfType(audit.TypeSelectionFailed)
	if len(events) != 1 || events[0].Fields["kind"] != "external_unavailable" {
		t.Errorf("selection.failed events = %+v", events)
	}
}

func TestService_SelectWithStatus(t *testing.T) {
	cat := loadedCatalog(t, model("cheap", 0.00001, 80), model("premium", 0.0001, 95))
	var seen ledger.BudgetStatus
	enf := enforcementFunc(func(_ context.Context, st ledger.BudgetStatus) (ledger.ActionSet, error) {
		seen = st
		return ledger.ActionSet{ledger.ActionNotify: true}, nil
	})
	status := &fakeStatus{}
	svc := NewService(NewEngine(), cat, status, enf)

	st := *roomyStatus()
	st.BudgetID = "team-a"
	resp, err := svc.SelectWithStatus(context.Background(), Request{InputTokens: 100}, st)
	if err != nil {
		t.Fatalf("SelectWithStatus() error = %v", err)
	}
	if status.calls != 0 {
		t.Errorf("status source called %d times, want 0", status.calls)
	}
	if seen.BudgetID != "team-a" || resp.Impact.BudgetID != "team-a" {
		t.Errorf("enforcement saw %q, impact on %q", seen.BudgetID, resp.Impact.BudgetID)
	}
}

func TestService_EstimateCosts(t *testing.T) {
	cat := loadedCatalog(t, model("cheap", 0.00001, 80), model("premium", 0.0001, 95))
	svc := NewService(NewEngine(), cat, nil, nil)

	all, err := svc.EstimateCosts(context.Background(), Request{InputTokens: 1000}, nil)
	if err != nil || len(all) != 2 || all[0].Model != "cheap" {
		t.Fatalf("EstimateCosts(all) = %+v, %v", all, err)
	}

	one, err := svc.EstimateCosts(context.Background(), Request{InputTokens: 1000}, []string{"premium"})
	if err != nil || len(one) != 1 || one[0].Model != "premium" {
		t.Errorf("EstimateCosts(premium) = %+v, %v", one, err)
	}

	if _, err := svc.EstimateCosts(context.Background(), Request{}, []string{"ghost"}); !errors.Is(err, faults.ErrNotFound) {
		t.Errorf("EstimateCosts(ghost) error = %v, want not found", err)
	}
}
