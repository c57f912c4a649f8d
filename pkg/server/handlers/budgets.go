package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/monitor"
)

func (h *Handler) createBudget(w http.ResponseWriter, r *http.Request) {
	var b ledger.Budget
	if err := decodeJSON(w, r, &b); err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.deps.Budgets.Create(r.Context(), b)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listBudgets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	budgets, err := h.deps.Budgets.ListByScope(r.Context(), ledger.ScopeKind(q.Get("scope_kind")), q.Get("scope_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if budgets == nil {
		budgets = []ledger.Budget{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"budgets": budgets})
}

func (h *Handler) getBudget(w http.ResponseWriter, r *http.Request) {
	b, err := h.deps.Budgets.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) updateBudget(w http.ResponseWriter, r *http.Request) {
	var p ledger.Patch
	if err := decodeJSON(w, r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.deps.Budgets.Update(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) deleteBudget(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Budgets.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) budgetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Budgets.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// recordUsage accepts a usage record. A replayed record id answers 200
// with duplicate set; a new record answers 201.
func (h *Handler) recordUsage(w http.ResponseWriter, r *http.Request) {
	var rec ledger.UsageRecord
	if err := decodeJSON(w, r, &rec); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.deps.Budgets.RecordUsage(r.Context(), chi.URLParam(r, "id"), rec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *Handler) budgetReport(w http.ResponseWriter, r *http.Request) {
	from, err := parseTime(r, "from")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := parseTime(r, "to")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	groupBy := ledger.GroupBy(r.URL.Query().Get("group_by"))

	rep, err := h.deps.Budgets.Report(r.Context(), chi.URLParam(r, "id"), from, to, groupBy)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.deps.Alerts.Active(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []monitor.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (h *Handler) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	pct, err := strconv.ParseFloat(chi.URLParam(r, "percentage"), 64)
	if err != nil {
		h.fail(w, r, faults.Invalid("percentage", "must be a number"))
		return
	}
	var body struct {
		Actor string `json:"actor"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if body.Actor == "" {
		body.Actor = r.Header.Get("X-Actor")
	}

	alert, err := h.deps.Alerts.Acknowledge(r.Context(), chi.URLParam(r, "id"), pct, body.Actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}
