package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all cash flow routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/portfolios/{id}/cashflows", h.HandleCreateCashFlow)
	r.Get("/portfolios/{id}/cashflows", h.HandleListCashFlows)
	r.Get("/portfolios/{id}/cashflows/balance", h.HandleGetBalance)
}
