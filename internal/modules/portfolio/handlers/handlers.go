// Package handlers provides HTTP handlers for portfolio metadata and
// derived positions.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/folioledger/folioledger/internal/domain"
	"github.com/folioledger/folioledger/internal/modules/portfolio"
)

// Handler contains HTTP handlers for the portfolio API
type Handler struct {
	portfolioRepo *portfolio.PortfolioRepository
	ledger        *portfolio.Ledger
	log           zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(portfolioRepo *portfolio.PortfolioRepository, ledger *portfolio.Ledger, log zerolog.Logger) *Handler {
	return &Handler{
		portfolioRepo: portfolioRepo,
		ledger:        ledger,
		log:           log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleCreatePortfolio handles POST /api/portfolios
func (h *Handler) HandleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		BaseCurrency string `json:"base_currency"`
		IsFund       bool   `json:"is_fund"`
		OpeningCash  string `json:"opening_cash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "Portfolio name is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.BaseCurrency == "" {
		req.BaseCurrency = "EUR"
	}

	openingCash := decimal.Zero
	if req.OpeningCash != "" {
		var err error
		openingCash, err = decimal.NewFromString(req.OpeningCash)
		if err != nil || openingCash.IsNegative() {
			h.writeError(w, http.StatusBadRequest, "Invalid opening cash")
			return
		}
	}

	p := &portfolio.Portfolio{
		ID:           req.ID,
		Name:         req.Name,
		BaseCurrency: req.BaseCurrency,
		IsFund:       req.IsFund,
		OpeningCash:  openingCash,
	}
	if err := h.portfolioRepo.Create(p); err != nil {
		h.log.Error().Err(err).Str("name", req.Name).Msg("Failed to create portfolio")
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, p)
}

// HandleListPortfolios handles GET /api/portfolios
func (h *Handler) HandleListPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := h.portfolioRepo.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list portfolios")
		h.writeError(w, http.StatusInternalServerError, "Failed to list portfolios")
		return
	}
	h.writeJSON(w, http.StatusOK, portfolios)
}

// HandleGetPortfolio handles GET /api/portfolios/{id}
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.portfolioRepo.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// HandleGetPositions handles GET /api/portfolios/{id}/positions
func (h *Handler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")
	date := r.URL.Query().Get("date")
	if date == "" {
		date = domain.Today()
	} else if _, err := domain.ParseDate(date); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid date")
		return
	}

	positions, err := h.ledger.PositionsAsOf(r.Context(), portfolioID, date)
	if err != nil {
		h.log.Error().Err(err).Str("portfolio_id", portfolioID).Msg("Failed to fold positions")
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, positions)
}

// HandleGetPosition handles GET /api/portfolios/{id}/positions/{assetID}
func (h *Handler) HandleGetPosition(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")
	assetID := chi.URLParam(r, "assetID")
	date := r.URL.Query().Get("date")
	if date == "" {
		date = domain.Today()
	} else if _, err := domain.ParseDate(date); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid date")
		return
	}

	pos, err := h.ledger.PositionAsOf(r.Context(), portfolioID, assetID, date)
	if err != nil {
		h.log.Error().Err(err).
			Str("portfolio_id", portfolioID).
			Str("asset_id", assetID).
			Msg("Failed to fold position")
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pos)
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
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
