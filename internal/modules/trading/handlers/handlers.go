// Package handlers provides HTTP handlers for trade recording and the
// matching state.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/folioledger/folioledger/internal/domain"
	"github.com/folioledger/folioledger/internal/modules/trading"
)

// Handler contains HTTP handlers for the trading API
type Handler struct {
	matcher   *trading.MatcherService
	tradeRepo *trading.TradeRepository
	log       zerolog.Logger
}

// NewHandler creates a new trading handler
func NewHandler(matcher *trading.MatcherService, tradeRepo *trading.TradeRepository, log zerolog.Logger) *Handler {
	return &Handler{
		matcher:   matcher,
		tradeRepo: tradeRepo,
		log:       log.With().Str("handler", "trading").Logger(),
	}
}

// HandleRecordTrade handles POST /api/trades
func (h *Handler) HandleRecordTrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PortfolioID string `json:"portfolio_id"`
		AssetID     string `json:"asset_id"`
		Side        string `json:"side"`
		Quantity    string `json:"quantity"`
		Price       string `json:"price"`
		Fee         string `json:"fee"`
		Tax         string `json:"tax"`
		TradeDate   string `json:"trade_date"`
		Source      string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	trade := &trading.Trade{
		PortfolioID: req.PortfolioID,
		AssetID:     req.AssetID,
		Side:        domain.Side(req.Side),
		TradeDate:   req.TradeDate,
		Source:      req.Source,
	}
	var err error
	if trade.Quantity, err = parseAmount(req.Quantity, "quantity"); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if trade.Price, err = parseAmount(req.Price, "price"); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if trade.Fee, err = parseOptionalAmount(req.Fee, "fee"); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if trade.Tax, err = parseOptionalAmount(req.Tax, "tax"); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.matcher.RecordTrade(r.Context(), trade); err != nil {
		h.log.Error().Err(err).
			Str("portfolio_id", req.PortfolioID).
			Str("asset_id", req.AssetID).
			Msg("Failed to record trade")
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, trade)
}

// HandleGetTrade handles GET /api/trades/{id}
func (h *Handler) HandleGetTrade(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid trade id")
		return
	}

	trade, err := h.tradeRepo.GetByID(id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, trade)
}

// HandleListAllTrades handles GET /api/trades
func (h *Handler) HandleListAllTrades(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	trades, err := h.tradeRepo.History(r.URL.Query().Get("portfolio_id"), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list trades")
		h.writeError(w, http.StatusInternalServerError, "Failed to list trades")
		return
	}
	h.writeJSON(w, http.StatusOK, trades)
}

// HandleListTrades handles GET /api/portfolios/{id}/trades
func (h *Handler) HandleListTrades(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")

	if assetID := r.URL.Query().Get("asset"); assetID != "" {
		trades, err := h.tradeRepo.ListByScope(portfolioID, assetID)
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to list trades")
			h.writeError(w, http.StatusInternalServerError, "Failed to list trades")
			return
		}
		h.writeJSON(w, http.StatusOK, trades)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	trades, err := h.tradeRepo.History(portfolioID, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list trades")
		h.writeError(w, http.StatusInternalServerError, "Failed to list trades")
		return
	}
	h.writeJSON(w, http.StatusOK, trades)
}

// HandleListLots handles GET /api/portfolios/{id}/assets/{assetID}/lots
func (h *Handler) HandleListLots(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")
	assetID := chi.URLParam(r, "assetID")

	lots, err := h.tradeRepo.ListLots(portfolioID, assetID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list matched lots")
		h.writeError(w, http.StatusInternalServerError, "Failed to list matched lots")
		return
	}
	h.writeJSON(w, http.StatusOK, lots)
}

// HandleRematch handles POST /api/portfolios/{id}/assets/{assetID}/rematch
func (h *Handler) HandleRematch(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")
	assetID := chi.URLParam(r, "assetID")

	if err := h.matcher.RematchAsset(r.Context(), portfolioID, assetID); err != nil {
		h.log.Error().Err(err).
			Str("portfolio_id", portfolioID).
			Str("asset_id", assetID).
			Msg("Rematch failed")
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"portfolio_id": portfolioID,
		"asset_id":     assetID,
		"status":       "rematched",
	})
}

func parseAmount(raw, field string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, errors.New(field + " is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.New("invalid " + field)
	}
	return d, nil
}

func parseOptionalAmount(raw, field string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return parseAmount(raw, field)
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
	case errors.Is(err, domain.ErrUpstreamData):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
