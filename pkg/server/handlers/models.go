package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mercator-hq/tollgate/pkg/catalog"
)

// listModels returns active models. Query parameters narrow the list:
// provider, capability (repeatable) and status=all to include deprecated
// and preview models.
func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.Catalog.Snapshot(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	q := r.URL.Query()
	models := snap.Active()
	if q.Get("status") == "all" {
		models = snap.All()
	}
	provider := q.Get("provider")
	capabilities := q["capability"]

	out := make([]catalog.Model, 0, len(models))
	for _, m := range models {
		if provider != "" && m.Provider != provider {
			continue
		}
		if !m.HasCapabilities(capabilities...) {
			continue
		}
		out = append(out, m)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": snap.Version(),
		"models":  out,
	})
}

func (h *Handler) getModel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.Catalog.Snapshot(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := snap.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) modelFallbacks(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.Catalog.Snapshot(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	chain, err := snap.Chain(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if chain == nil {
		chain = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"model": id, "fallbacks": chain})
}
