// Package handlers provides HTTP handlers for run inspection, including a
// websocket progress stream.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/folioledger/folioledger/internal/domain"
	"github.com/folioledger/folioledger/internal/runs"
)

// Handler contains HTTP handlers for the runs API
type Handler struct {
	runRepo *runs.Repository
	log     zerolog.Logger
}

// NewHandler creates a new runs handler
func NewHandler(runRepo *runs.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		runRepo: runRepo,
		log:     log.With().Str("handler", "runs").Logger(),
	}
}

// HandleListRuns handles GET /api/runs
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := runs.Filter{
		Status:      runs.Status(r.URL.Query().Get("status")),
		Kind:        r.URL.Query().Get("kind"),
		PortfolioID: r.URL.Query().Get("portfolio"),
		From:        r.URL.Query().Get("from"),
		To:          r.URL.Query().Get("to"),
		Limit:       50,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}

	list, err := h.runRepo.Query(filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query runs")
		h.writeError(w, http.StatusInternalServerError, "Failed to query runs")
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

// HandleGetRun handles GET /api/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runRepo.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("Failed to get run")
		h.writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

// HandleCancelRun handles POST /api/runs/{id}/cancel
func (h *Handler) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.runRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}
	if run.Status.Terminal() {
		h.writeError(w, http.StatusConflict, "Run is already finished")
		return
	}

	if err := h.runRepo.Cancel(id); err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to cancel run")
		h.writeError(w, http.StatusInternalServerError, "Failed to cancel run")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(runs.StatusCancelled)})
}

// HandleStreamRun handles GET /api/runs/{id}/stream. It upgrades to a
// websocket and pushes the run record on every change until the run reaches
// a terminal status or the client disconnects.
func (h *Handler) HandleStreamRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Same-host dashboard, no origin allowlist
	})
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := r.Context()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastStatus runs.Status
	var lastSucceeded, lastFailed int
	for {
		run, err := h.runRepo.GetByID(id)
		if err != nil {
			h.log.Warn().Err(err).Str("run_id", id).Msg("Run lookup failed during stream")
			conn.Close(websocket.StatusPolicyViolation, "run not found")
			return
		}

		changed := run.Status != lastStatus || run.Succeeded != lastSucceeded || run.Failed != lastFailed
		if changed {
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = wsjson.Write(writeCtx, conn, run)
			cancel()
			if err != nil {
				return
			}
			lastStatus = run.Status
			lastSucceeded = run.Succeeded
			lastFailed = run.Failed
		}

		if run.Status.Terminal() {
			conn.Close(websocket.StatusNormalClosure, "run finished")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
