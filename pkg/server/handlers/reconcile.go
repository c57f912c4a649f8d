package handlers

import (
	"net/http"

	"mercator-hq/tollgate/pkg/reconcile"
)

// reconcileUsage charges the actual cost of a completed request. Replays
// of the same request id are idempotent and answer with duplicate set.
func (h *Handler) reconcileUsage(w http.ResponseWriter, r *http.Request) {
	var u reconcile.Usage
	if err := decodeJSON(w, r, &u); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.deps.Reconciler.ReconcileUsage(r.Context(), u)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
