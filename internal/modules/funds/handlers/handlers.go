// Package handlers provides HTTP handlers for fund unit accounting.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/folioledger/folioledger/internal/domain"
	"github.com/folioledger/folioledger/internal/modules/funds"
)

// Handler contains HTTP handlers for the funds API
type Handler struct {
	service *funds.Service
	log     zerolog.Logger
}

// NewHandler creates a new funds handler
func NewHandler(service *funds.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "funds").Logger(),
	}
}

// HandleSubscribe handles POST /api/portfolios/{id}/fund/subscribe
func (h *Handler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")

	var req struct {
		AccountID string `json:"account_id"`
		Amount    string `json:"amount"`
		Date      string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Date == "" {
		req.Date = domain.Today()
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	txn, err := h.service.Subscribe(r.Context(), portfolioID, req.AccountID, amount, req.Date)
	if err != nil {
		h.log.Error().Err(err).
			Str("portfolio_id", portfolioID).
			Str("account_id", req.AccountID).
			Msg("Subscription failed")
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, txn)
}

// HandleRedeem handles POST /api/portfolios/{id}/fund/redeem
func (h *Handler) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")

	var req struct {
		AccountID string `json:"account_id"`
		Units     string `json:"units"`
		Date      string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Date == "" {
		req.Date = domain.Today()
	}
	units, err := decimal.NewFromString(req.Units)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid units")
		return
	}

	txn, err := h.service.Redeem(r.Context(), portfolioID, req.AccountID, units, req.Date)
	if err != nil {
		h.log.Error().Err(err).
			Str("portfolio_id", portfolioID).
			Str("account_id", req.AccountID).
			Msg("Redemption failed")
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, txn)
}

// HandleGetNAV handles GET /api/portfolios/{id}/fund/nav
func (h *Handler) HandleGetNAV(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")
	date := r.URL.Query().Get("date")
	if date == "" {
		date = domain.Today()
	}

	nav, err := h.service.NAVPerUnit(r.Context(), portfolioID, date)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	outstanding, err := h.service.OutstandingUnits(portfolioID, date)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"portfolio_id":      portfolioID,
		"date":              date,
		"nav_per_unit":      nav,
		"outstanding_units": outstanding,
	})
}

// HandleGetHoldings handles GET /api/portfolios/{id}/fund/holdings
func (h *Handler) HandleGetHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := h.service.Holdings(chi.URLParam(r, "id"))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list holdings")
		h.writeError(w, http.StatusInternalServerError, "Failed to list holdings")
		return
	}
	h.writeJSON(w, http.StatusOK, holdings)
}

// HandleGetTransactions handles GET /api/portfolios/{id}/fund/transactions
func (h *Handler) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.service.Transactions(chi.URLParam(r, "id"))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list unit transactions")
		h.writeError(w, http.StatusInternalServerError, "Failed to list unit transactions")
		return
	}
	h.writeJSON(w, http.StatusOK, txns)
}

// HandleRebuildHolding handles POST /api/portfolios/{id}/fund/holdings/{accountID}/rebuild
func (h *Handler) HandleRebuildHolding(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")
	accountID := chi.URLParam(r, "accountID")

	holding, err := h.service.RebuildHolding(r.Context(), portfolioID, accountID)
	if err != nil {
		h.log.Error().Err(err).
			Str("portfolio_id", portfolioID).
			Str("account_id", accountID).
			Msg("Holding rebuild failed")
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, holding)
}

// HandleCheckConsistency handles GET /api/portfolios/{id}/fund/consistency
func (h *Handler) HandleCheckConsistency(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")
	date := r.URL.Query().Get("date")
	if date == "" {
		date = domain.Today()
	}

	if err := h.service.CheckConsistency(portfolioID, date); err != nil {
		if errors.Is(err, domain.ErrConsistency) {
			h.writeJSON(w, http.StatusOK, map[string]interface{}{
				"consistent": false,
				"detail":     err.Error(),
			})
			return
		}
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"consistent": true})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrConsistency):
		h.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
