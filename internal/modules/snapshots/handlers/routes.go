package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all snapshot routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/portfolios/{id}/snapshots/recalculate", h.HandleRecalculate)
	r.Get("/portfolios/{id}/snapshots", h.HandleListSnapshots)
	r.Get("/portfolios/{id}/snapshots/{date}", h.HandleGetSnapshot)
	r.Get("/portfolios/{id}/snapshots/{date}/assets", h.HandleGetSnapshotAssets)

	r.Post("/snapshots/run", h.HandleRunSnapshots)
}
