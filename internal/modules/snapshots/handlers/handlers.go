// Package handlers provides HTTP handlers for snapshot computation and
// retrieval.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/folioledger/folioledger/internal/domain"
	"github.com/folioledger/folioledger/internal/modules/snapshots"
)

// Handler contains HTTP handlers for the snapshots API
type Handler struct {
	aggregator   *snapshots.AggregatorService
	snapshotRepo *snapshots.SnapshotRepository
	log          zerolog.Logger
}

// NewHandler creates a new snapshots handler
func NewHandler(aggregator *snapshots.AggregatorService, snapshotRepo *snapshots.SnapshotRepository, log zerolog.Logger) *Handler {
	return &Handler{
		aggregator:   aggregator,
		snapshotRepo: snapshotRepo,
		log:          log.With().Str("handler", "snapshots").Logger(),
	}
}

// HandleRecalculate handles POST /api/portfolios/{id}/snapshots/recalculate
func (h *Handler) HandleRecalculate(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")

	var req struct {
		Date        string `json:"date"`
		Granularity string `json:"granularity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Date == "" {
		req.Date = domain.Today()
	}
	if req.Granularity == "" {
		req.Granularity = string(domain.GranularityDaily)
	}

	snapshot, err := h.aggregator.CreateOrRecalculate(r.Context(), portfolioID, req.Date, domain.Granularity(req.Granularity))
	if err != nil {
		h.log.Error().Err(err).
			Str("portfolio_id", portfolioID).
			Str("date", req.Date).
			Msg("Snapshot recalculation failed")
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

// HandleListSnapshots handles GET /api/portfolios/{id}/snapshots
func (h *Handler) HandleListSnapshots(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")

	granularity := domain.Granularity(r.URL.Query().Get("granularity"))
	if granularity == "" {
		granularity = domain.GranularityDaily
	}
	if !granularity.Valid() {
		h.writeError(w, http.StatusBadRequest, "Invalid granularity")
		return
	}
	from := r.URL.Query().Get("from")
	if from == "" {
		from = "0000-01-01"
	}
	to := r.URL.Query().Get("to")
	if to == "" {
		to = domain.Today()
	}

	list, err := h.snapshotRepo.ListPortfolioSnapshots(portfolioID, granularity, from, to)
	if err != nil {
		h.log.Error().Err(err).Str("portfolio_id", portfolioID).Msg("Failed to list snapshots")
		h.writeError(w, http.StatusInternalServerError, "Failed to list snapshots")
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

// HandleGetSnapshot handles GET /api/portfolios/{id}/snapshots/{date}
func (h *Handler) HandleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")
	date := chi.URLParam(r, "date")

	granularity := domain.Granularity(r.URL.Query().Get("granularity"))
	if granularity == "" {
		granularity = domain.GranularityDaily
	}

	snapshot, err := h.snapshotRepo.GetPortfolioSnapshot(portfolioID, date, granularity)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

// HandleGetSnapshotAssets handles GET /api/portfolios/{id}/snapshots/{date}/assets
func (h *Handler) HandleGetSnapshotAssets(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")
	date := chi.URLParam(r, "date")

	granularity := domain.Granularity(r.URL.Query().Get("granularity"))
	if granularity == "" {
		granularity = domain.GranularityDaily
	}

	assets, err := h.snapshotRepo.ListAssetSnapshots(portfolioID, date, granularity)
	if err != nil {
		h.log.Error().Err(err).Str("portfolio_id", portfolioID).Msg("Failed to list asset snapshots")
		h.writeError(w, http.StatusInternalServerError, "Failed to list asset snapshots")
		return
	}
	h.writeJSON(w, http.StatusOK, assets)
}

// HandleRunSnapshots handles POST /api/snapshots/run
func (h *Handler) HandleRunSnapshots(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date        string `json:"date"`
		Granularity string `json:"granularity"`
		Scope       string `json:"scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Date == "" {
		req.Date = domain.Today()
	}
	if req.Granularity == "" {
		req.Granularity = string(domain.GranularityDaily)
	}

	run, err := h.aggregator.RunSnapshots(r.Context(), req.Date, domain.Granularity(req.Granularity), req.Scope)
	if err != nil {
		h.log.Error().Err(err).Str("date", req.Date).Msg("Snapshot run failed")
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, run)
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
