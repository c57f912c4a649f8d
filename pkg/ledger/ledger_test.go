package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/ledger/storage"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var jan1 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newLedger(t *testing.T) (*ledger.Ledger, *clock, *audit.MemorySink) {
	t.Helper()
	c := &clock{now: jan1.Add(12 * time.Hour)}
	sink := audit.NewMemorySink()
	l := ledger.New(storage.NewMemoryRepository(), ledger.WithClock(c.Now), ledger.WithAudit(sink))
	return l, c, sink
}

func teamBudget(id string, limit float64) ledger.Budget {
	return ledger.Budget{
		ID:        id,
		ScopeKind: ledger.ScopeTeam,
		ScopeID:   id,
		Limit:     limit,
		Currency:  "usd",
		Period:    ledger.PeriodMonthly,
		Start:     jan1,
		Recurring: true,
	}
}

func record(id string, amount float64) ledger.UsageRecord {
	return ledger.UsageRecord{ID: id, Amount: amount, Currency: "USD", Source: "test"}
}

func mustCreate(t *testing.T, l *ledger.Ledger, b ledger.Budget) ledger.Budget {
	t.Helper()
	created, err := l.Create(context.Background(), b)
	if err != nil {
		t.Fatalf("Create(%s) error = %v", b.ID, err)
	}
	return created
}

func TestLedgerCreate(t *testing.T) {
	l, _, sink := newLedger(t)
	ctx := context.Background()

	b := mustCreate(t, l, teamBudget("team-a", 10000))
	if b.Currency != "USD" {
		t.Errorf("Currency = %s, want normalized USD", b.Currency)
	}
	if want := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC); !b.End.Equal(want) {
		t.Errorf("End = %v, want derived %v", b.End, want)
	}
	if len(sink.OfType(audit.TypeBudgetCreated)) != 1 {
		t.Error("expected one budget.created audit event")
	}

	if _, err := l.Create(ctx, teamBudget("team-a", 10)); !errors.Is(err, faults.ErrValidation) {
		t.Errorf("duplicate Create() error = %v, want validation", err)
	}

	noStart := teamBudget("team-b", 10)
	noStart.Start = time.Time{}
	created := mustCreate(t, l, noStart)
	if !created.Start.Equal(jan1) {
		t.Errorf("defaulted Start = %v, want %v", created.Start, jan1)
	}
}

func TestLedgerStatusAfterSpend(t *testing.T) {
	l, c, _ := newLedger(t)
	ctx := context.Background()
	mustCreate(t, l, teamBudget("team-a", 10000))

	c.Set(jan1.AddDate(0, 0, 10))
	if _, err := l.RecordUsage(ctx, "team-a", record("r1", 4500)); err != nil {
		t.Fatalf("RecordUsage() error = %v", err)
	}

	st, err := l.Status(ctx, "team-a")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.CurrentAmount != 4500 || st.PercentUsed != 45 || st.Remaining != 5500 || st.Level != ledger.LevelNormal {
		t.Errorf("Status() = %+v, want 4500/45%%/5500/normal", st)
	}

	if _, err := l.Status(ctx, "missing"); !errors.Is(err, faults.ErrNotFound) {
		t.Errorf("Status(missing) error = %v, want not found", err)
	}
}

func TestLedgerRecordUsageValidation(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	mustCreate(t, l, teamBudget("team-a", 100))

	tests := []struct {
		name    string
		budget  string
		rec     ledger.UsageRecord
		wantErr error
	}{
		{name: "unknown budget", budget: "nope", rec: record("r1", 1), wantErr: faults.ErrNotFound},
		{name: "negative amount", budget: "team-a", rec: record("r1", -1), wantErr: faults.ErrValidation},
		{name: "missing id", budget: "team-a", rec: record("", 1), wantErr: faults.ErrValidation},
		{
			name:    "currency mismatch",
			budget:  "team-a",
			rec:     ledger.UsageRecord{ID: "r1", Amount: 1, Currency: "EUR"},
			wantErr: faults.ErrValidation,
		},
		{name: "zero amount", budget: "team-a", rec: record("r0", 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.RecordUsage(ctx, tt.budget, tt.rec)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("RecordUsage() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("RecordUsage() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLedgerDuplicateRecordIgnored(t *testing.T) {
	l, _, sink := newLedger(t)
	ctx := context.Background()
	mustCreate(t, l, teamBudget("team-a", 100))

	first, err := l.RecordUsage(ctx, "team-a", record("req-42", 7.5))
	if err != nil {
		t.Fatalf("RecordUsage() error = %v", err)
	}
	second, err := l.RecordUsage(ctx, "team-a", record("req-42", 7.5))
	if err != nil {
		t.Fatalf("second RecordUsage() error = %v", err)
	}

	if first.Duplicate || !second.Duplicate {
		t.Errorf("Duplicate flags = %v, %v; want false, true", first.Duplicate, second.Duplicate)
	}
	if second.Status.CurrentAmount != 7.5 {
		t.Errorf("CurrentAmount after duplicate = %v, want 7.5", second.Status.CurrentAmount)
	}
	if len(sink.OfType(audit.TypeUsageDuplicate)) != 1 {
		t.Error("expected one usage.duplicate audit event")
	}
}

func TestLedgerConcurrentUsage(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	mustCreate(t, l, teamBudget("team-a", 1e6))
	mustCreate(t, l, teamBudget("team-b", 1e6))

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			budget := "team-a"
			if i%2 == 1 {
				budget = "team-b"
			}
			if _, err := l.RecordUsage(ctx, budget, record(fmt.Sprintf("r%d", i), 1.5)); err != nil {
				t.Errorf("RecordUsage() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	for _, id := range []string{"team-a", "team-b"} {
		st, err := l.Status(ctx, id)
		if err != nil {
			t.Fatalf("Status(%s) error = %v", id, err)
		}
		if want := 1.5 * n / 2; st.CurrentAmount != want {
			t.Errorf("Status(%s).CurrentAmount = %v, want %v", id, st.CurrentAmount, want)
		}
	}
}

func TestLedgerHierarchyPropagation(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	org := teamBudget("org", 1000)
	org.ScopeKind = ledger.ScopeOrganization
	mustCreate(t, l, org)
	team := teamBudget("team-a", 100)
	team.ParentID = "org"
	mustCreate(t, l, team)
	user := teamBudget("user-a", 10)
	user.ScopeKind = ledger.ScopeUser
	user.ParentID = "team-a"
	mustCreate(t, l, user)

	for i := 0; i < 2; i++ {
		if _, err := l.RecordUsage(ctx, "user-a", record("r1", 4)); err != nil {
			t.Fatalf("RecordUsage() error = %v", err)
		}
	}

	for _, id := range []string{"user-a", "team-a", "org"} {
		st, err := l.Status(ctx, id)
		if err != nil {
			t.Fatalf("Status(%s) error = %v", id, err)
		}
		if st.CurrentAmount != 4 {
			t.Errorf("Status(%s).CurrentAmount = %v, want 4", id, st.CurrentAmount)
		}
	}

	if err := l.Delete(ctx, "team-a"); !errors.Is(err, faults.ErrValidation) {
		t.Errorf("Delete(parent) error = %v, want validation", err)
	}
}

func TestLedgerParentValidation(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	mustCreate(t, l, teamBudget("org", 1000))

	tests := []struct {
		name   string
		budget func() ledger.Budget
	}{
		{
			name: "unknown parent",
			budget: func() ledger.Budget {
				b := teamBudget("t1", 10)
				b.ParentID = "ghost"
				return b
			},
		},
		{
			name: "currency mismatch",
			budget: func() ledger.Budget {
				b := teamBudget("t2", 10)
				b.Currency = "EUR"
				b.ParentID = "org"
				return b
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := l.Create(ctx, tt.budget()); !errors.Is(err, faults.ErrValidation) {
				t.Errorf("Create() error = %v, want validation", err)
			}
		})
	}

	child := teamBudget("child", 10)
	child.ParentID = "org"
	mustCreate(t, l, child)

	cycle := "child"
	if _, err := l.Update(ctx, "org", ledger.Patch{ParentID: &cycle}); !errors.Is(err, faults.ErrValidation) {
		t.Errorf("Update() forming a cycle error = %v, want validation", err)
	}
}

func TestLedgerUpdate(t *testing.T) {
	l, _, sink := newLedger(t)
	ctx := context.Background()
	mustCreate(t, l, teamBudget("team-a", 100))
	if _, err := l.RecordUsage(ctx, "team-a", record("r1", 80)); err != nil {
		t.Fatalf("RecordUsage() error = %v", err)
	}

	var changes []ledger.Change
	l.AddObserver(ledger.ObserverFunc(func(_ context.Context, c ledger.Change) {
		changes = append(changes, c)
	}))

	limit := 200.0
	updated, err := l.Update(ctx, "team-a", ledger.Patch{Limit: &limit})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Limit != 200 {
		t.Errorf("Limit = %v, want 200", updated.Limit)
	}
	if len(changes) != 1 || changes[0].Kind != ledger.ChangeUpdated || changes[0].Status.PercentUsed != 40 {
		t.Errorf("observer changes = %+v, want one update at 40%%", changes)
	}
	if len(sink.OfType(audit.TypeBudgetUpdated)) != 1 {
		t.Error("expected one budget.updated audit event")
	}

	bad := -1.0
	if _, err := l.Update(ctx, "team-a", ledger.Patch{Limit: &bad}); !errors.Is(err, faults.ErrValidation) {
		t.Errorf("Update(negative limit) error = %v, want validation", err)
	}
	if _, err := l.Update(ctx, "missing", ledger.Patch{Limit: &limit}); !errors.Is(err, faults.ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want not found", err)
	}
}

func TestLedgerDeleteAndList(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	mustCreate(t, l, teamBudget("b", 100))
	mustCreate(t, l, teamBudget("a", 100))
	user := teamBudget("u", 100)
	user.ScopeKind = ledger.ScopeUser
	mustCreate(t, l, user)

	teams, err := l.ListByScope(ctx, ledger.ScopeTeam, "")
	if err != nil {
		t.Fatalf("ListByScope() error = %v", err)
	}
	if len(teams) != 2 || teams[0].ID != "a" || teams[1].ID != "b" {
		t.Errorf("ListByScope(team) = %v, want [a b]", teams)
	}
	if _, err := l.ListByScope(ctx, "planet", ""); !errors.Is(err, faults.ErrValidation) {
		t.Errorf("ListByScope(planet) error = %v, want validation", err)
	}

	if err := l.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := l.Get(ctx, "a"); !errors.Is(err, faults.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want not found", err)
	}
	if err := l.Delete(ctx, "a"); !errors.Is(err, faults.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want not found", err)
	}
}

func TestLedgerRollover(t *testing.T) {
	l, c, sink := newLedger(t)
	ctx := context.Background()
	mustCreate(t, l, teamBudget("team-a", 100))
	once := teamBudget("once", 100)
	once.Recurring = false
	mustCreate(t, l, once)

	for _, id := range []string{"team-a", "once"} {
		if _, err := l.RecordUsage(ctx, id, record("r1", 50)); err != nil {
			t.Fatalf("RecordUsage() error = %v", err)
		}
	}

	var rollovers int
	l.AddObserver(ledger.ObserverFunc(func(_ context.Context, ch ledger.Change) {
		if ch.Kind == ledger.ChangeRollover {
			rollovers++
		}
	}))

	c.Set(time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC))
	n, err := l.RolloverDue(ctx)
	if err != nil {
		t.Fatalf("RolloverDue() error = %v", err)
	}
	if n != 1 || rollovers != 1 {
		t.Errorf("RolloverDue() = %d (observed %d), want 1", n, rollovers)
	}
	if len(sink.OfType(audit.TypeBudgetRollover)) != 1 {
		t.Error("expected one budget.rollover audit event")
	}

	st, err := l.Status(ctx, "team-a")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.CurrentAmount != 0 || !st.PeriodStart.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Status() after rollover = %+v", st)
	}

	st, _ = l.Status(ctx, "once")
	if st.CurrentAmount != 50 {
		t.Errorf("non-recurring CurrentAmount = %v, want 50", st.CurrentAmount)
	}

	// Lazy rollover on the next record.
	c.Set(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	res, err := l.RecordUsage(ctx, "team-a", record("r2", 5))
	if err != nil {
		t.Fatalf("RecordUsage() error = %v", err)
	}
	if res.Status.CurrentAmount != 5 {
		t.Errorf("CurrentAmount after lazy rollover = %v, want 5", res.Status.CurrentAmount)
	}
}

func TestLedgerMostConstrained(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		b := teamBudget(id, 100)
		b.ScopeID = "platform"
		mustCreate(t, l, b)
	}
	for id, amount := range map[string]float64{"a": 10, "b": 60, "c": 60} {
		if _, err := l.RecordUsage(ctx, id, record("r", amount)); err != nil {
			t.Fatalf("RecordUsage() error = %v", err)
		}
	}

	st, err := l.MostConstrained(ctx, ledger.ScopeTeam, "platform")
	if err != nil {
		t.Fatalf("MostConstrained() error = %v", err)
	}
	if st.BudgetID != "b" {
		t.Errorf("MostConstrained() = %s, want b", st.BudgetID)
	}

	if _, err := l.MostConstrained(ctx, ledger.ScopeTeam, "nobody"); !errors.Is(err, faults.ErrNotFound) {
		t.Errorf("MostConstrained(nobody) error = %v, want not found", err)
	}
}

func TestLedgerReport(t *testing.T) {
	l, c, _ := newLedger(t)
	ctx := context.Background()
	mustCreate(t, l, teamBudget("team-a", 1000))

	entries := []struct {
		id    string
		model string
		day   int
		cost  float64
	}{
		{id: "r1", model: "gpt-4o", day: 1, cost: 30},
		{id: "r2", model: "gpt-4o-mini", day: 1, cost: 10},
		{id: "r3", model: "gpt-4o", day: 2, cost: 60},
		{id: "r4", model: "", day: 3, cost: 0},
	}
	for _, e := range entries {
		rec := record(e.id, e.cost)
		rec.Timestamp = time.Date(2026, 1, e.day, 10, 0, 0, 0, time.UTC)
		rec.Attribution.ModelID = e.model
		if _, err := l.RecordUsage(ctx, "team-a", rec); err != nil {
			t.Fatalf("RecordUsage() error = %v", err)
		}
	}
	c.Set(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))

	tests := []struct {
		name    string
		groupBy ledger.GroupBy
		want    map[string]float64
	}{
		{
			name:    "by model",
			groupBy: ledger.GroupByModel,
			want:    map[string]float64{"gpt-4o": 90, "gpt-4o-mini": 10, "unknown": 0},
		},
		{
			name:    "by day",
			groupBy: ledger.GroupByDay,
			want:    map[string]float64{"2026-01-01": 40, "2026-01-02": 60, "2026-01-03": 0},
		},
		{
			name:    "by month",
			groupBy: ledger.GroupByMonth,
			want:    map[string]float64{"2026-01": 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := l.Report(ctx, "team-a", time.Time{}, time.Time{}, tt.groupBy)
			if err != nil {
				t.Fatalf("Report() error = %v", err)
			}
			if rep.Total != 100 || rep.Count != 4 {
				t.Errorf("Report() total = %v count = %d, want 100 and 4", rep.Total, rep.Count)
			}
			if len(rep.Groups) != len(tt.want) {
				t.Fatalf("Report() groups = %+v", rep.Groups)
			}
			for _, g := range rep.Groups {
				if g.Amount != tt.want[g.Key] {
					t.Errorf("group %s amount = %v, want %v", g.Key, g.Amount, tt.want[g.Key])
				}
				if g.Percentage != g.Amount {
					t.Errorf("group %s percentage = %v, want %v", g.Key, g.Percentage, g.Amount)
				}
			}
		})
	}

	if _, err := l.Report(ctx, "team-a", time.Time{}, time.Time{}, "planet"); !errors.Is(err, faults.ErrValidation) {
		t.Errorf("Report(planet) error = %v, want validation", err)
	}
}
