package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all fund routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/portfolios/{id}/fund/subscribe", h.HandleSubscribe)
	r.Post("/portfolios/{id}/fund/redeem", h.HandleRedeem)
	r.Get("/portfolios/{id}/fund/nav", h.HandleGetNAV)
	r.Get("/portfolios/{id}/fund/holdings", h.HandleGetHoldings)
	r.Get("/portfolios/{id}/fund/transactions", h.HandleGetTransactions)
	r.Post("/portfolios/{id}/fund/holdings/{accountID}/rebuild", h.HandleRebuildHolding)
	r.Get("/portfolios/{id}/fund/consistency", h.HandleCheckConsistency)
}
