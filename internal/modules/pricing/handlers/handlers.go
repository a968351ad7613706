// Package handlers provides HTTP handlers for price recording and lookup.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/folioledger/folioledger/internal/domain"
	"github.com/folioledger/folioledger/internal/modules/pricing"
)

// Handler contains HTTP handlers for the pricing API
type Handler struct {
	service *pricing.Service
	log     zerolog.Logger
}

// NewHandler creates a new pricing handler
func NewHandler(service *pricing.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "pricing").Logger(),
	}
}

// HandleRecordPrice handles POST /api/prices
func (h *Handler) HandleRecordPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetID string `json:"asset_id"`
		Date    string `json:"date"`
		Close   string `json:"close"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AssetID == "" {
		h.writeError(w, http.StatusBadRequest, "Asset id is required")
		return
	}
	if _, err := domain.ParseDate(req.Date); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid date")
		return
	}
	closePrice, err := decimal.NewFromString(req.Close)
	if err != nil || !closePrice.IsPositive() {
		h.writeError(w, http.StatusBadRequest, "Close price must be a positive number")
		return
	}

	if err := h.service.Record(req.AssetID, req.Date, closePrice); err != nil {
		h.log.Error().Err(err).Str("asset_id", req.AssetID).Msg("Failed to record price")
		h.writeError(w, http.StatusInternalServerError, "Failed to record price")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{
		"asset_id": req.AssetID,
		"date":     req.Date,
		"close":    closePrice.String(),
	})
}

// HandleGetPrice handles GET /api/prices/{assetID}
func (h *Handler) HandleGetPrice(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	date := r.URL.Query().Get("date")
	if date == "" {
		date = domain.Today()
	}

	quote, err := h.service.PriceAsOf(r.Context(), assetID, date)
	if err != nil {
		if errors.Is(err, domain.ErrUpstreamData) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.log.Error().Err(err).Str("asset_id", assetID).Msg("Price lookup failed")
		h.writeError(w, http.StatusInternalServerError, "Price lookup failed")
		return
	}
	h.writeJSON(w, http.StatusOK, quote)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
