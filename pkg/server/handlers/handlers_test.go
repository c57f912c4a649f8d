package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"mercator-hq/tollgate/pkg/catalog"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/ledger/storage"
	"mercator-hq/tollgate/pkg/monitor"
	"mercator-hq/tollgate/pkg/reconcile"
	"mercator-hq/tollgate/pkg/selection"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const teamBudget = `{
	"id": "team-a",
	"scope_kind": "team",
	"scope_id": "a",
	"limit": 10,
	"currency": "usd",
	"period": "monthly",
	"start": "2026-03-01T00:00:00Z",
	"thresholds": [
		{"percentage": 50, "actions": ["notify"]},
		{"percentage": 90, "actions": ["block-all"]}
	]
}`

func model(id string, in, out float64, caps ...string) catalog.Model {
	quality := map[string]float64{}
	for _, d := range catalog.RequiredDimensions {
		quality[d] = 75
	}
	return catalog.Model{
		ID:                 id,
		Provider:           "test",
		InputCostPerToken:  in,
		OutputCostPerToken: out,
		Currency:           "USD",
		Quality:            quality,
		Capabilities:       caps,
		Status:             catalog.StatusActive,
	}
}

// newRouter wires in-memory components behind the API. With loaded false
// the catalog is left empty.
func newRouter(t *testing.T, loaded bool) http.Handler {
	t.Helper()
	clock := func() time.Time { return now }

	l := ledger.New(storage.NewMemoryRepository(), ledger.WithClock(clock))
	mon := monitor.New(monitor.NewMemoryStore(), l, monitor.WithClock(clock))
	l.AddObserver(mon)

	cat := catalog.New("")
	if loaded {
		large := model("large", 0.00001, 0.00003, "chat", "vision")
		large.Fallbacks = []string{"small"}
		if err := cat.Replace(context.Background(), []catalog.Model{
			model("small", 0.000001, 0.000002, "chat"),
			large,
		}); err != nil {
			t.Fatalf("Replace() error = %v", err)
		}
	}

	r := chi.NewRouter()
	New(Deps{
		Budgets:    l,
		Alerts:     mon,
		Selector:   selection.NewService(selection.NewEngine(), cat, l, mon),
		Catalog:    cat,
		Reconciler: reconcile.New(cat, l),
	}, nil).Register(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: response is not a JSON object: %s", method, path, w.Body.String())
		}
	}
	return w.Code, out
}

func errorType(body map[string]any) string {
	detail, _ := body["error"].(map[string]any)
	s, _ := detail["type"].(string)
	return s
}

func TestBudgetLifecycle(t *testing.T) {
	h := newRouter(t, true)

	code, body := do(t, h, http.MethodPost, "/v1/budgets", teamBudget)
	if code != http.StatusCreated || body["currency"] != "USD" {
		t.Fatalf("create = %d %v", code, body)
	}

	code, body = do(t, h, http.MethodGet, "/v1/budgets?scope_kind=team&scope_id=a", "")
	if list, _ := body["budgets"].([]any); code != http.StatusOK || len(list) != 1 {
		t.Errorf("list = %d %v", code, body)
	}

	usage := `{"id":"u1","amount":6,"currency":"USD"}`
	if code, body = do(t, h, http.MethodPost, "/v1/budgets/team-a/usage", usage); code != http.StatusCreated {
		t.Fatalf("usage = %d %v", code, body)
	}
	code, body = do(t, h, http.MethodPost, "/v1/budgets/team-a/usage", usage)
	if code != http.StatusOK || body["duplicate"] != true {
		t.Errorf("replayed usage = %d %v", code, body)
	}

	code, body = do(t, h, http.MethodGet, "/v1/budgets/team-a/status", "")
	if code != http.StatusOK || body["current_amount"] != 6.0 || body["percent_used"] != 60.0 {
		t.Errorf("status = %d %v", code, body)
	}

	code, body = do(t, h, http.MethodGet, "/v1/budgets/team-a/alerts", "")
	alerts, _ := body["alerts"].([]any)
	if code != http.StatusOK || len(alerts) != 1 {
		t.Fatalf("alerts = %d %v", code, body)
	}

	code, body = do(t, h, http.MethodPost, "/v1/budgets/team-a/alerts/50/ack", `{"actor":"ops"}`)
	if code != http.StatusOK || body["acknowledged"] != true || body["acknowledged_by"] != "ops" {
		t.Errorf("ack = %d %v", code, body)
	}

	code, body = do(t, h, http.MethodGet, "/v1/budgets/team-a/report?group_by=day&to=2026-03-11T00:00:00Z", "")
	if code != http.StatusOK || body["total"] != 6.0 {
		t.Errorf("report = %d %v", code, body)
	}

	code, body = do(t, h, http.MethodPatch, "/v1/budgets/team-a", `{"limit":20}`)
	if code != http.StatusOK || body["limit"] != 20.0 {
		t.Errorf("patch = %d %v", code, body)
	}

	if code, _ = do(t, h, http.MethodDelete, "/v1/budgets/team-a", ""); code != http.StatusNoContent {
		t.Errorf("delete = %d", code)
	}
	if code, body = do(t, h, http.MethodGet, "/v1/budgets/team-a", ""); code != http.StatusNotFound || errorType(body) != "not_found" {
		t.Errorf("get after delete = %d %v", code, body)
	}
}

func TestBudgetErrors(t *testing.T) {
	h := newRouter(t, true)
	if code, body := do(t, h, http.MethodPost, "/v1/budgets", teamBudget); code != http.StatusCreated {
		t.Fatalf("create = %d %v", code, body)
	}

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantType string
	}{
		{
			name:     "negative limit",
			method:   http.MethodPost,
			path:     "/v1/budgets",
			body:     `{"id":"b","scope_kind":"team","scope_id":"b","limit":-1,"currency":"USD","period":"monthly"}`,
			wantCode: http.StatusBadRequest,
			wantType: "validation",
		},
		{
			name:     "unknown field",
			method:   http.MethodPost,
			path:     "/v1/budgets",
			body:     `{"id":"b","budget":12}`,
			wantCode: http.StatusBadRequest,
			wantType: "validation",
		},
		{
			name:     "empty body",
			method:   http.MethodPost,
			path:     "/v1/budgets/team-a/usage",
			wantCode: http.StatusBadRequest,
			wantType: "validation",
		},
		{
			name:     "unknown budget status",
			method:   http.MethodGet,
			path:     "/v1/budgets/ghost/status",
			wantCode: http.StatusNotFound,
			wantType: "not_found",
		},
		{
			name:     "currency mismatch",
			method:   http.MethodPost,
			path:     "/v1/budgets/team-a/usage",
			body:     `{"id":"u9","amount":1,"currency":"EUR"}`,
			wantCode: http.StatusBadRequest,
			wantType: "validation",
		},
		{
			name:     "bad report time",
			method:   http.MethodGet,
			path:     "/v1/budgets/team-a/report?from=yesterday",
			wantCode: http.StatusBadRequest,
			wantType: "validation",
		},
		{
			name:     "bad ack percentage",
			method:   http.MethodPost,
			path:     "/v1/budgets/team-a/alerts/half/ack",
			wantCode: http.StatusBadRequest,
			wantType: "validation",
		},
		{
			name:     "invalid scope kind",
			method:   http.MethodGet,
			path:     "/v1/budgets?scope_kind=galaxy",
			wantCode: http.StatusBadRequest,
			wantType: "validation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, h, tt.method, tt.path, tt.body)
			if code != tt.wantCode || errorType(body) != tt.wantType {
				t.Errorf("got %d %v, want %d %s", code, body, tt.wantCode, tt.wantType)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	h := newRouter(t, true)
	if code, body := do(t, h, http.MethodPost, "/v1/budgets", teamBudget); code != http.StatusCreated {
		t.Fatalf("create = %d %v", code, body)
	}

	code, body := do(t, h, http.MethodPost, "/v1/select", `{"budget_id":"team-a","prompt":"Hello","output_tokens":100}`)
	if code != http.StatusOK {
		t.Fatalf("select = %d %v", code, body)
	}
	if m, _ := body["model"].(string); m == "" {
		t.Errorf("select returned no model: %v", body)
	}
	impact, _ := body["impact"].(map[string]any)
	if impact["budget_id"] != "team-a" {
		t.Errorf("impact = %v", impact)
	}

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantType string
	}{
		{name: "unknown task", body: `{"task_type":"juggling"}`, wantCode: http.StatusBadRequest, wantType: "validation"},
		{name: "unknown budget", body: `{"budget_id":"ghost"}`, wantCode: http.StatusNotFound, wantType: "not_found"},
		{
			name:     "nothing admissible",
			body:     `{"constraints":{"excluded_models":["small","large"]}}`,
			wantCode: http.StatusUnprocessableEntity,
			wantType: "selection_failure",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, h, http.MethodPost, "/v1/select", tt.body)
			if code != tt.wantCode || errorType(body) != tt.wantType {
				t.Errorf("got %d %v, want %d %s", code, body, tt.wantCode, tt.wantType)
			}
		})
	}
}

func TestSelect_BlockedBudget(t *testing.T) {
	h := newRouter(t, true)
	if code, body := do(t, h, http.MethodPost, "/v1/budgets", teamBudget); code != http.StatusCreated {
		t.Fatalf("create = %d %v", code, body)
	}
	if code, body := do(t, h, http.MethodPost, "/v1/budgets/team-a/usage", `{"id":"u1","amount":9.5,"currency":"USD"}`); code != http.StatusCreated {
		t.Fatalf("usage = %d %v", code, body)
	}

	code, body := do(t, h, http.MethodPost, "/v1/select", `{"budget_id":"team-a","prompt":"Hello"}`)
	if code != http.StatusForbidden || errorType(body) != "budget_blocked" {
		t.Errorf("select on blocked budget = %d %v", code, body)
	}
}

func TestSelect_RejectionsListed(t *testing.T) {
	h := newRouter(t, true)
	_, body := do(t, h, http.MethodPost, "/v1/select", `{"constraints":{"excluded_models":["small","large"]}}`)
	detail, _ := body["error"].(map[string]any)
	rejected, _ := detail["rejected"].(map[string]any)
	if len(rejected) != 2 {
		t.Errorf("rejected = %v, want both models", detail)
	}
}

func TestEstimate(t *testing.T) {
	h := newRouter(t, true)

	code, body := do(t, h, http.MethodPost, "/v1/estimate", `{"input_tokens":1000,"output_tokens":500,"models":["small"]}`)
	if code != http.StatusOK {
		t.Fatalf("estimate = %d %v", code, body)
	}
	estimates, _ := body["estimates"].([]any)
	if len(estimates) != 1 {
		t.Fatalf("estimates = %v", body)
	}
	est, _ := estimates[0].(map[string]any)
	if total, _ := est["total"].(float64); math.Abs(total-0.002) > 1e-12 {
		t.Errorf("total = %v, want 0.002", est["total"])
	}

	if code, _ = do(t, h, http.MethodPost, "/v1/estimate", `{"models":["ghost"]}`); code != http.StatusNotFound {
		t.Errorf("estimate of unknown model = %d, want 404", code)
	}
	code, body = do(t, h, http.MethodPost, "/v1/estimate", `{}`)
	if all, _ := body["estimates"].([]any); code != http.StatusOK || len(all) != 2 {
		t.Errorf("estimate of all models = %d %v", code, body)
	}
}

func TestModels(t *testing.T) {
	h := newRouter(t, true)

	tests := []struct {
		name  string
		path  string
		count int
	}{
		{name: "all active", path: "/v1/models", count: 2},
		{name: "capability", path: "/v1/models?capability=vision", count: 1},
		{name: "provider", path: "/v1/models?provider=other", count: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, h, http.MethodGet, tt.path, "")
			models, _ := body["models"].([]any)
			if code != http.StatusOK || len(models) != tt.count {
				t.Errorf("got %d with %d models, want %d", code, len(models), tt.count)
			}
		})
	}

	code, body := do(t, h, http.MethodGet, "/v1/models/large/fallbacks", "")
	chain, _ := body["fallbacks"].([]any)
	if code != http.StatusOK || len(chain) != 1 || chain[0] != "small" {
		t.Errorf("fallbacks = %d %v", code, body)
	}
	if code, _ = do(t, h, http.MethodGet, "/v1/models/ghost", ""); code != http.StatusNotFound {
		t.Errorf("unknown model = %d, want 404", code)
	}
}

func TestModels_CatalogNotLoaded(t *testing.T) {
	h := newRouter(t, false)
	code, body := do(t, h, http.MethodGet, "/v1/models", "")
	if code != http.StatusServiceUnavailable || errorType(body) != "external_unavailable" {
		t.Errorf("models = %d %v, want 503", code, body)
	}
}

func TestReconcile(t *testing.T) {
	h := newRouter(t, true)
	if code, body := do(t, h, http.MethodPost, "/v1/budgets", teamBudget); code != http.StatusCreated {
		t.Fatalf("create = %d %v", code, body)
	}

	usage := `{"request_id":"r1","budget_id":"team-a","model_id":"small","input_tokens":1000,"output_tokens":500}`
	code, body := do(t, h, http.MethodPost, "/v1/reconcile", usage)
	if cost, _ := body["cost"].(float64); code != http.StatusOK || math.Abs(cost-0.002) > 1e-12 {
		t.Fatalf("reconcile = %d %v", code, body)
	}
	code, body = do(t, h, http.MethodPost, "/v1/reconcile", usage)
	if code != http.StatusOK || body["duplicate"] != true {
		t.Errorf("replayed reconcile = %d %v", code, body)
	}

	_, body = do(t, h, http.MethodGet, "/v1/budgets/team-a/status", "")
	if amount, _ := body["current_amount"].(float64); math.Abs(amount-0.002) > 1e-12 {
		t.Errorf("current_amount = %v, want 0.002", body["current_amount"])
	}
}

func TestRegister_SkipsMissingDeps(t *testing.T) {
	r := chi.NewRouter()
	New(Deps{}, nil).Register(r)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unregistered route", w.Code)
	}
}
