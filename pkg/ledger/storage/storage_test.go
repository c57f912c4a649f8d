package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/ledger/storage"
	"mercator-hq/tollgate/pkg/monitor"
)

var (
	periodStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
)

type backend struct {
	name string
	open func(t *testing.T) (ledger.Repository, monitor.AlertStore)
}

func backends() []backend {
	return []backend{
		{
			name: "memory",
			open: func(t *testing.T) (ledger.Repository, monitor.AlertStore) {
				return storage.NewMemoryRepository(), monitor.NewMemoryStore()
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) (ledger.Repository, monitor.AlertStore) {
				repo, err := storage.NewSQLiteRepository(storage.SQLiteConfig{
					Path: filepath.Join(t.TempDir(), "tollgate.db"),
				})
				if err != nil {
					t.Fatalf("NewSQLiteRepository() error = %v", err)
				}
				t.Cleanup(func() { repo.Close() })
				return repo, repo.Alerts()
			},
		},
	}
}

func testBudget(id string) ledger.Budget {
	return ledger.Budget{
		ID:        id,
		ScopeKind: ledger.ScopeTeam,
		ScopeID:   "platform",
		Limit:     1000,
		Currency:  "USD",
		Period:    ledger.PeriodMonthly,
		Start:     periodStart,
		End:       periodEnd,
		Recurring: true,
		Thresholds: []ledger.Threshold{
			{Percentage: 70, Actions: []ledger.Action{ledger.ActionNotify}, Targets: []string{"ops@example.com"}},
			{Percentage: 100, Actions: []ledger.Action{ledger.ActionBlockAll}},
		},
		CreatedAt: periodStart,
		UpdatedAt: periodStart,
	}
}

func usage(budgetID, id string, amount float64, ts time.Time) ledger.UsageRecord {
	return ledger.UsageRecord{
		ID:        id,
		BudgetID:  budgetID,
		Amount:    amount,
		Currency:  "USD",
		Timestamp: ts,
		Source:    "test",
		Attribution: ledger.Attribution{
			RequestID: id,
			ModelID:   "gpt-4o-mini",
			TeamID:    "platform",
		},
	}
}

func TestRepositoryBudgetLifecycle(t *testing.T) {
	for _, be := range backends() {
		t.Run(be.name, func(t *testing.T) {
			ctx := context.Background()
			repo, _ := be.open(t)

			if err := repo.CreateBudget(ctx, testBudget("team-a")); err != nil {
				t.Fatalf("CreateBudget() error = %v", err)
			}
			if err := repo.CreateBudget(ctx, testBudget("team-a")); !errors.Is(err, faults.ErrValidation) {
				t.Errorf("duplicate CreateBudget() error = %v, want validation", err)
			}

			got, current, err := repo.Load(ctx, "team-a")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if current != 0 {
				t.Errorf("Load() current = %v, want 0", current)
			}
			if !got.Start.Equal(periodStart) || !got.End.Equal(periodEnd) {
				t.Errorf("Load() period = %v..%v, want %v..%v", got.Start, got.End, periodStart, periodEnd)
			}
			if len(got.Thresholds) != 2 || got.Thresholds[1].Actions[0] != ledger.ActionBlockAll {
				t.Errorf("Load() thresholds = %+v", got.Thresholds)
			}
			if got.Thresholds[0].Targets[0] != "ops@example.com" {
				t.Errorf("Load() targets = %v", got.Thresholds[0].Targets)
			}

			got.Limit = 2000
			if err := repo.UpdateBudget(ctx, got); err != nil {
				t.Fatalf("UpdateBudget() error = %v", err)
			}
			got, _, _ = repo.Load(ctx, "team-a")
			if got.Limit != 2000 {
				t.Errorf("Limit after update = %v, want 2000", got.Limit)
			}

			if err := repo.DeleteBudget(ctx, "team-a"); err != nil {
				t.Fatalf("DeleteBudget() error = %v", err)
			}
			if _, _, err := repo.Load(ctx, "team-a"); !errors.Is(err, faults.ErrNotFound) {
				t.Errorf("Load() after delete error = %v, want not found", err)
			}
			if err := repo.DeleteBudget(ctx, "team-a"); !errors.Is(err, faults.ErrNotFound) {
				t.Errorf("second DeleteBudget() error = %v, want not found", err)
			}
		})
	}
}

func TestRepositoryListBudgets(t *testing.T) {
	for _, be := range backends() {
		t.Run(be.name, func(t *testing.T) {
			ctx := context.Background()
			repo, _ := be.open(t)

			org := testBudget("org")
			org.ScopeKind = ledger.ScopeOrganization
			org.ScopeID = "acme"
			child := testBudget("team-b")
			child.ParentID = "org"
			for _, b := range []ledger.Budget{testBudget("team-c"), org, child} {
				if err := repo.CreateBudget(ctx, b); err != nil {
					t.Fatalf("CreateBudget(%s) error = %v", b.ID, err)
				}
			}

			tests := []struct {
				name   string
				filter ledger.ListFilter
				want   []string
			}{
				{name: "all", filter: ledger.ListFilter{}, want: []string{"org", "team-b", "team-c"}},
				{name: "scope", filter: ledger.ListFilter{ScopeKind: ledger.ScopeTeam, ScopeID: "platform"}, want: []string{"team-b", "team-c"}},
				{name: "parent", filter: ledger.ListFilter{ParentID: "org"}, want: []string{"team-b"}},
				{name: "none", filter: ledger.ListFilter{ScopeKind: ledger.ScopeUser}, want: nil},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := repo.ListBudgets(ctx, tt.filter)
					if err != nil {
						t.Fatalf("ListBudgets() error = %v", err)
					}
					if len(got) != len(tt.want) {
						t.Fatalf("ListBudgets() returned %d budgets, want %d", len(got), len(tt.want))
					}
					for i := range got {
						if got[i].ID != tt.want[i] {
							t.Errorf("ListBudgets()[%d] = %s, want %s", i, got[i].ID, tt.want[i])
						}
					}
				})
			}
		})
	}
}

func TestRepositoryAppendUsageIdempotent(t *testing.T) {
	for _, be := range backends() {
		t.Run(be.name, func(t *testing.T) {
			ctx := context.Background()
			repo, _ := be.open(t)
			if err := repo.CreateBudget(ctx, testBudget("team-a")); err != nil {
				t.Fatalf("CreateBudget() error = %v", err)
			}

			ts := periodStart.Add(time.Hour)
			total, inserted, err := repo.AppendUsage(ctx, usage("team-a", "req-1", 12.5, ts))
			if err != nil || !inserted || total != 12.5 {
				t.Fatalf("AppendUsage() = %v, %v, %v; want 12.5, true, nil", total, inserted, err)
			}

			total, inserted, err = repo.AppendUsage(ctx, usage("team-a", "req-1", 12.5, ts))
			if err != nil || inserted || total != 12.5 {
				t.Fatalf("duplicate AppendUsage() = %v, %v, %v; want 12.5, false, nil", total, inserted, err)
			}

			if _, _, err := repo.AppendUsage(ctx, usage("missing", "req-1", 1, ts)); !errors.Is(err, faults.ErrNotFound) {
				t.Errorf("AppendUsage() on unknown budget error = %v, want not found", err)
			}

			records, err := repo.ListUsage(ctx, "team-a", time.Time{}, time.Time{})
			if err != nil {
				t.Fatalf("ListUsage() error = %v", err)
			}
			if len(records) != 1 {
				t.Fatalf("ListUsage() returned %d records, want 1", len(records))
			}
			if records[0].Attribution.ModelID != "gpt-4o-mini" || !records[0].Timestamp.Equal(ts) {
				t.Errorf("ListUsage()[0] = %+v", records[0])
			}
		})
	}
}

func TestRepositoryConcurrentAppend(t *testing.T) {
	for _, be := range backends() {
		t.Run(be.name, func(t *testing.T) {
			ctx := context.Background()
			repo, _ := be.open(t)
			if err := repo.CreateBudget(ctx, testBudget("team-a")); err != nil {
				t.Fatalf("CreateBudget() error = %v", err)
			}

			const workers = 20
			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					// Every record is sent twice.
					for j := 0; j < 2; j++ {
						rec := usage("team-a", "req-"+string(rune('a'+i)), 1, periodStart.Add(time.Minute))
						if _, _, err := repo.AppendUsage(ctx, rec); err != nil {
							errs <- err
						}
					}
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Errorf("AppendUsage() error = %v", err)
			}

			_, current, err := repo.Load(ctx, "team-a")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if current != workers {
				t.Errorf("running total = %v, want %d", current, workers)
			}
		})
	}
}

func TestRepositoryRolloverAndListUsageWindow(t *testing.T) {
	for _, be := range backends() {
		t.Run(be.name, func(t *testing.T) {
			ctx := context.Background()
			repo, _ := be.open(t)
			if err := repo.CreateBudget(ctx, testBudget("team-a")); err != nil {
				t.Fatalf("CreateBudget() error = %v", err)
			}

			for i, ts := range []time.Time{
				periodStart.Add(48 * time.Hour),
				periodStart.Add(24 * time.Hour),
				periodEnd.Add(time.Hour),
			} {
				rec := usage("team-a", "req-"+string(rune('0'+i)), 10, ts)
				if _, _, err := repo.AppendUsage(ctx, rec); err != nil {
					t.Fatalf("AppendUsage() error = %v", err)
				}
			}

			records, err := repo.ListUsage(ctx, "team-a", periodStart, periodEnd)
			if err != nil {
				t.Fatalf("ListUsage() error = %v", err)
			}
			if len(records) != 2 {
				t.Fatalf("ListUsage() returned %d records, want 2", len(records))
			}
			if !records[0].Timestamp.Before(records[1].Timestamp) {
				t.Errorf("ListUsage() not ordered oldest first: %v, %v", records[0].Timestamp, records[1].Timestamp)
			}

			nextEnd := periodEnd.AddDate(0, 1, 0)
			if err := repo.Rollover(ctx, "team-a", periodEnd, nextEnd); err != nil {
				t.Fatalf("Rollover() error = %v", err)
			}
			b, current, err := repo.Load(ctx, "team-a")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if current != 0 {
				t.Errorf("running total after rollover = %v, want 0", current)
			}
			if !b.Start.Equal(periodEnd) || !b.End.Equal(nextEnd) {
				t.Errorf("period after rollover = %v..%v", b.Start, b.End)
			}
			if err := repo.Rollover(ctx, "missing", periodEnd, nextEnd); !errors.Is(err, faults.ErrNotFound) {
				t.Errorf("Rollover() on unknown budget error = %v, want not found", err)
			}
		})
	}
}

func TestAlertStore(t *testing.T) {
	for _, be := range backends() {
		t.Run(be.name, func(t *testing.T) {
			ctx := context.Background()
			_, store := be.open(t)

			alert := monitor.Alert{
				ID:          "a1",
				BudgetID:    "team-a",
				Percentage:  70,
				PeriodStart: periodStart,
				TriggeredAt: periodStart.Add(time.Hour),
				Actions:     []ledger.Action{ledger.ActionNotify, ledger.ActionRestrictModels},
				Targets:     []string{"ops@example.com"},
			}

			got, created, err := store.CreateIfAbsent(ctx, alert)
			if err != nil || !created {
				t.Fatalf("CreateIfAbsent() = %v, %v; want created", created, err)
			}
			if got.ID != "a1" {
				t.Errorf("CreateIfAbsent() id = %s, want a1", got.ID)
			}

			again := alert
			again.ID = "a2"
			got, created, err = store.CreateIfAbsent(ctx, again)
			if err != nil || created {
				t.Fatalf("second CreateIfAbsent() = %v, %v; want existing", created, err)
			}
			if got.ID != "a1" {
				t.Errorf("second CreateIfAbsent() id = %s, want a1", got.ID)
			}

			next := alert
			next.ID = "a3"
			next.PeriodStart = periodEnd
			if _, _, err := store.CreateIfAbsent(ctx, next); err != nil {
				t.Fatalf("CreateIfAbsent() next period error = %v", err)
			}

			current, err := store.List(ctx, "team-a", periodStart)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(current) != 1 || len(current[0].Actions) != 2 {
				t.Fatalf("List() = %+v, want one alert with two actions", current)
			}
			all, _ := store.List(ctx, "team-a", time.Time{})
			if len(all) != 2 {
				t.Errorf("List() all periods = %d alerts, want 2", len(all))
			}

			acked, err := store.Acknowledge(ctx, "team-a", 70, periodStart, "alice", periodStart.Add(2*time.Hour))
			if err != nil {
				t.Fatalf("Acknowledge() error = %v", err)
			}
			if !acked.Acknowledged || acked.AcknowledgedBy != "alice" {
				t.Errorf("Acknowledge() = %+v", acked)
			}
			if _, err := store.Acknowledge(ctx, "team-a", 90, periodStart, "alice", periodStart); !errors.Is(err, faults.ErrNotFound) {
				t.Errorf("Acknowledge() unknown error = %v, want not found", err)
			}

			if err := store.Prune(ctx, "team-a", periodEnd); err != nil {
				t.Fatalf("Prune() error = %v", err)
			}
			all, _ = store.List(ctx, "team-a", time.Time{})
			if len(all) != 1 || !all[0].PeriodStart.Equal(periodEnd) {
				t.Errorf("List() after prune = %+v", all)
			}

			if err := store.DeleteBudget(ctx, "team-a"); err != nil {
				t.Fatalf("DeleteBudget() error = %v", err)
			}
			all, _ = store.List(ctx, "team-a", time.Time{})
			if len(all) != 0 {
				t.Errorf("List() after delete = %d alerts, want 0", len(all))
			}
		})
	}
}

func TestSQLiteReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tollgate.db")

	repo, err := storage.NewSQLiteRepository(storage.SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	if err := repo.CreateBudget(ctx, testBudget("team-a")); err != nil {
		t.Fatalf("CreateBudget() error = %v", err)
	}
	if _, _, err := repo.AppendUsage(ctx, usage("team-a", "req-1", 42, periodStart)); err != nil {
		t.Fatalf("AppendUsage() error = %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	reopened, err := storage.NewSQLiteRepository(storage.SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	_, current, err := reopened.Load(ctx, "team-a")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if current != 42 {
		t.Errorf("running total after reopen = %v, want 42", current)
	}
}

func TestNewSQLiteRepositoryErrors(t *testing.T) {
	if _, err := storage.NewSQLiteRepository(storage.SQLiteConfig{}); err == nil {
		t.Error("expected error for empty path")
	}
	_, err := storage.NewSQLiteRepository(storage.SQLiteConfig{Path: filepath.Join(t.TempDir(), "x.db"), Driver: "postgres"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantErr bool
	}{
		{name: "default", cfg: config.StorageConfig{}},
		{name: "memory", cfg: config.StorageConfig{Backend: storage.BackendMemory}},
		{name: "sqlite", cfg: config.StorageConfig{
			Backend: storage.BackendSQLite,
			SQLite:  config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "open.db"), Driver: storage.DriverModernc},
		}},
		{name: "unknown", cfg: config.StorageConfig{Backend: "redis"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, alerts, err := storage.Open(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			defer repo.Close()
			if alerts == nil {
				t.Error("Open() returned nil alert store")
			}
		})
	}
}
