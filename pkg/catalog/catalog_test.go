package catalog

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/faults"
)

const sampleYAML = `
models:
  - id: small
    provider: openai
    input_cost_per_token: 0.000001
    output_cost_per_token: 0.000002
    currency: usd
    quality: {reasoning: 60, creativity: 60, knowledge: 60, coding: 65, math: 55}
    context_window: 16000
    max_output_tokens: 4096
    capabilities: [chat, code]
  - id: large
    provider: anthropic
    input_cost_per_token: 0.00001
    output_cost_per_token: 0.00003
    currency: USD
    quality: {reasoning: 92, creativity: 88, knowledge: 90, coding: 91, math: 89}
    context_window: 200000
    max_output_tokens: 8192
    capabilities: [chat, code, vision]
    fallbacks: [medium, small]
  - id: medium
    provider: anthropic
    input_cost_per_token: 0.000003
    output_cost_per_token: 0.000015
    currency: USD
    quality: {reasoning: 80, creativity: 80, knowledge: 80, coding: 82, math: 75}
    capabilities: [chat]
    fallbacks: [small]
  - id: legacy
    provider: openai
    input_cost_per_token: 0.00002
    output_cost_per_token: 0.00004
    currency: USD
    quality: {reasoning: 70, creativity: 70, knowledge: 70, coding: 70, math: 70}
    status: deprecated
`

func sampleModels(t *testing.T) []Model {
	t.Helper()
	models, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return models
}

func TestParse(t *testing.T) {
	models := sampleModels(t)
	if len(models) != 4 {
		t.Fatalf("Parse() returned %d models, want 4", len(models))
	}
	if models[0].Currency != "USD" {
		t.Errorf("Currency = %s, want normalized USD", models[0].Currency)
	}
	if models[0].Status != StatusActive {
		t.Errorf("Status = %s, want default active", models[0].Status)
	}
	if got := models[1].Cost(1000, 500); math.Abs(got-0.025) > 1e-12 {
		t.Errorf("Cost() = %v, want 0.025", got)
	}
}

func TestValidate(t *testing.T) {
	base := func() []Model {
		models, _ := Parse([]byte(sampleYAML))
		return models
	}

	tests := []struct {
		name    string
		mutate  func([]Model) []Model
		wantSub string
	}{
		{name: "valid", mutate: func(m []Model) []Model { return m }},
		{name: "empty", mutate: func([]Model) []Model { return nil }, wantSub: "catalog is empty"},
		{
			name:    "duplicate id",
			mutate:  func(m []Model) []Model { m[1].ID = "small"; m[2].Fallbacks = nil; return m },
			wantSub: "duplicate id",
		},
		{
			name:    "negative cost",
			mutate:  func(m []Model) []Model { m[0].InputCostPerToken = -1; return m },
			wantSub: "input_cost_per_token",
		},
		{
			name:    "quality range",
			mutate:  func(m []Model) []Model { m[0].Quality[DimMath] = 101; return m },
			wantSub: "quality.math",
		},
		{
			name:    "missing dimension",
			mutate:  func(m []Model) []Model { delete(m[0].Quality, DimCoding); return m },
			wantSub: "quality.coding",
		},
		{
			name:    "unknown fallback",
			mutate:  func(m []Model) []Model { m[2].Fallbacks = []string{"ghost"}; return m },
			wantSub: "unknown model",
		},
		{
			name:    "self fallback",
			mutate:  func(m []Model) []Model { m[0].Fallbacks = []string{"small"}; return m },
			wantSub: "itself",
		},
		{
			name:    "transitive cycle",
			mutate:  func(m []Model) []Model { m[0].Fallbacks = []string{"large"}; return m },
			wantSub: "fallback cycle",
		},
		{
			name:    "status",
			mutate:  func(m []Model) []Model { m[0].Status = "retired"; return m },
			wantSub: "unknown status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.mutate(base()))
			if tt.wantSub == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantSub)
			}
			if !errors.Is(err, faults.ErrValidation) {
				t.Errorf("Validate() error does not match ErrValidation: %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestChainsAreFinite(t *testing.T) {
	snap := newSnapshot(sampleModels(t), 1, time.Now())

	for _, m := range snap.All() {
		seen := map[string]bool{m.ID: true}
		frontier := m.Fallbacks
		for steps := 0; len(frontier) > 0; steps++ {
			if steps > snap.Len() {
				t.Fatalf("chain from %s does not terminate", m.ID)
			}
			var next []string
			for _, id := range frontier {
				if seen[id] {
					continue
				}
				seen[id] = true
				chain, err := snap.Chain(id)
				if err != nil {
					t.Fatalf("Chain(%s) error = %v", id, err)
				}
				next = append(next, chain...)
			}
			frontier = next
		}
	}
}

func TestSnapshotQueries(t *testing.T) {
	snap := newSnapshot(sampleModels(t), 1, time.Now())

	ids := func(models []Model) string {
		out := make([]string, len(models))
		for i, m := range models {
			out[i] = m.ID
		}
		return strings.Join(out, ",")
	}

	tests := []struct {
		name string
		got  []Model
		want string
	}{
		{name: "all", got: snap.All(), want: "large,legacy,medium,small"},
		{name: "active", got: snap.Active(), want: "large,medium,small"},
		{name: "provider", got: snap.ByProvider("anthropic"), want: "large,medium"},
		{name: "capabilities", got: snap.WithCapabilities("code"), want: "large,small"},
		{name: "case-insensitive capabilities", got: snap.WithCapabilities("CHAT", "vision"), want: "large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ids(tt.got); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	legacy, err := snap.Get("legacy")
	if err != nil || legacy.Status != StatusDeprecated {
		t.Errorf("Get(legacy) = %+v, %v", legacy, err)
	}
	if _, err := snap.Get("ghost"); !errors.Is(err, faults.ErrNotFound) {
		t.Errorf("Get(ghost) error = %v, want not found", err)
	}

	chain, err := snap.Chain("large")
	if err != nil || strings.Join(chain, ",") != "medium,small" {
		t.Errorf("Chain(large) = %v, %v", chain, err)
	}

	// Snapshots hand out copies.
	m, _ := snap.Get("small")
	m.Quality[DimMath] = 0
	again, _ := snap.Get("small")
	if again.Quality[DimMath] != 55 {
		t.Error("snapshot model mutated through returned copy")
	}
}

func TestCatalogNotLoaded(t *testing.T) {
	c := New("")
	_, err := c.Snapshot(context.Background())
	if !errors.Is(err, faults.ErrExternalUnavailable) || !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Snapshot() error = %v, want external unavailable", err)
	}
}

func TestCatalogReloadKeepsPreviousOnError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	sink := audit.NewMemorySink()
	c := New(path, WithAudit(sink))
	if err := c.Reload(ctx); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	first, _ := c.Snapshot(ctx)

	if err := os.WriteFile(path, []byte("models: [{id: broken}]"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := c.Reload(ctx); err == nil {
		t.Fatal("Reload() of invalid file succeeded")
	}

	current, _ := c.Snapshot(ctx)
	if current != first || current.Len() != 4 {
		t.Errorf("snapshot replaced by invalid reload")
	}
	if got := len(sink.OfType(audit.TypeCatalogReloaded)); got != 1 {
		t.Errorf("catalog.reloaded events = %d, want 1", got)
	}

	if err := c.Replace(ctx, sampleModels(t)[:1]); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	current, _ = c.Snapshot(ctx)
	if current.Len() != 1 || current.Version() != first.Version()+1 {
		t.Errorf("Replace() snapshot len=%d version=%d", current.Len(), current.Version())
	}
	if first.Len() != 4 {
		t.Error("old snapshot changed after Replace")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	c := New(path)
	if err := c.Reload(ctx); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	w, err := NewWatcher(c, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	trimmed := sampleYAML[:strings.Index(sampleYAML, "  - id: large")]
	if err := os.WriteFile(path, []byte(trimmed), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		snap, _ := c.Snapshot(ctx)
		if snap.Len() == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("catalog not reloaded, still %d models", snap.Len())
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}

func TestNewWatcherRequiresPath(t *testing.T) {
	if _, err := NewWatcher(New(""), 0, nil); err == nil {
		t.Error("NewWatcher() expected error for catalog without file")
	}
}

func TestDebouncerCoalesces(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	calls := make(chan int, 10)
	for i := 0; i < 5; i++ {
		i := i
		d.Trigger(func() { calls <- i })
	}

	select {
	case got := <-calls:
		if got != 4 {
			t.Errorf("debounced callback = %d, want last (4)", got)
		}
	case <-time.After(time.Second):
		t.Fatal("debounced callback never ran")
	}

	select {
	case extra := <-calls:
		t.Errorf("unexpected extra callback %d", extra)
	case <-time.After(100 * time.Millisecond):
	}

	d.Stop()
	d.Trigger(func() { calls <- 99 })
	select {
	case <-calls:
		t.Error("callback ran after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}
