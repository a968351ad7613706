// Package handlers provides HTTP handlers for portfolio cash flows.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/folioledger/folioledger/internal/domain"
	"github.com/folioledger/folioledger/internal/modules/cashflows"
)

// Handler contains HTTP handlers for the cash flow API
type Handler struct {
	repo *cashflows.Repository
	log  zerolog.Logger
}

// NewHandler creates a new cash flow handler
func NewHandler(repo *cashflows.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "cashflows").Logger(),
	}
}

// HandleCreateCashFlow handles POST /api/portfolios/{id}/cashflows
func (h *Handler) HandleCreateCashFlow(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")

	var req struct {
		Type        string `json:"type"`
		Amount      string `json:"amount"`
		Date        string `json:"date"`
		Description string `json:"description"`
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

	flow := &cashflows.CashFlow{
		PortfolioID: portfolioID,
		Type:        cashflows.FlowType(req.Type),
		Amount:      amount,
		FlowDate:    req.Date,
		Description: req.Description,
	}
	if err := h.repo.Create(flow); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Str("portfolio_id", portfolioID).Msg("Failed to create cash flow")
		h.writeError(w, http.StatusInternalServerError, "Failed to create cash flow")
		return
	}
	h.writeJSON(w, http.StatusCreated, flow)
}

// HandleListCashFlows handles GET /api/portfolios/{id}/cashflows
func (h *Handler) HandleListCashFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.repo.ListByPortfolio(chi.URLParam(r, "id"))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list cash flows")
		h.writeError(w, http.StatusInternalServerError, "Failed to list cash flows")
		return
	}
	h.writeJSON(w, http.StatusOK, flows)
}

// HandleGetBalance handles GET /api/portfolios/{id}/cashflows/balance
func (h *Handler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")
	date := r.URL.Query().Get("date")
	if date == "" {
		date = domain.Today()
	}

	balance, err := h.repo.BalanceAsOf(portfolioID, date)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute cash balance")
		h.writeError(w, http.StatusInternalServerError, "Failed to compute cash balance")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"portfolio_id": portfolioID,
		"date":         date,
		"balance":      balance,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
