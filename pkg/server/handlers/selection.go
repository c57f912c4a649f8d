package handlers

import (
	"net/http"

	"mercator-hq/tollgate/pkg/selection"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

func (h *Handler) selectModel(w http.ResponseWriter, r *http.Request) {
	var req selection.Request
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.ID == "" {
		req.ID = logging.GetRequestID(r.Context())
	}

	resp, err := h.deps.Selector.Select(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// estimateRequest is a selection request plus the models to price. No
// models means every active model.
type estimateRequest struct {
	selection.Request
	Models []string `json:"models,omitempty"`
}

func (h *Handler) estimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := req.Request.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}

	estimates, err := h.deps.Selector.EstimateCosts(r.Context(), req.Request, req.Models)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if estimates == nil {
		estimates = []selection.CostEstimate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"estimates": estimates})
}
