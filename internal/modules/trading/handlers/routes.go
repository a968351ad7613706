package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all trading routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/trades", func(r chi.Router) {
		r.Post("/", h.HandleRecordTrade)
		r.Get("/", h.HandleListAllTrades)
		r.Get("/{id}", h.HandleGetTrade)
	})

	r.Get("/portfolios/{id}/trades", h.HandleListTrades)
	r.Get("/portfolios/{id}/assets/{assetID}/lots", h.HandleListLots)
	r.Post("/portfolios/{id}/assets/{assetID}/rematch", h.HandleRematch)
}
