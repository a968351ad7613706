package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/folioledger/folioledger/internal/di"
)

// SystemHandlers serves health and resource endpoints
type SystemHandlers struct {
	container *di.Container
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates new system handlers
func NewSystemHandlers(container *di.Container, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		container: container,
		startTime: time.Now(),
		log:       log.With().Str("handler", "system").Logger(),
	}
}

// HandleHealth handles GET /health. It pings every database so a wedged
// sqlite file turns the health check red.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	databases := map[string]string{}
	healthy := true
	for name, db := range h.container.Databases() {
		if err := db.Conn().PingContext(r.Context()); err != nil {
			databases[name] = "unreachable"
			healthy = false
			continue
		}
		databases[name] = "ok"
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	h.writeJSON(w, status, map[string]interface{}{
		"status":         state,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"databases":      databases,
	})
}

// HandleStats handles GET /api/system/stats
func (h *SystemHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := h.systemStats()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cpu_percent":    cpuPct,
		"memory_percent": memPct,
		"goroutines":     runtime.NumGoroutine(),
		"heap_alloc_mb":  float64(m.HeapAlloc) / 1024 / 1024,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{}
	for name, db := range h.container.Databases() {
		entry := map[string]interface{}{
			"profile": string(db.Profile()),
		}
		if info, err := os.Stat(db.Path()); err == nil {
			entry["size_bytes"] = info.Size()
		}
		// WAL size shows checkpoint lag
		if info, err := os.Stat(db.Path() + "-wal"); err == nil {
			entry["wal_bytes"] = info.Size()
		}
		entry["file"] = filepath.Base(db.Path())
		stats[name] = entry
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// systemStats samples CPU and RAM usage percentages. The 100ms CPU sample
// keeps the endpoint fast enough for dashboard polling.
func (h *SystemHandlers) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}
	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuAvg, 0
	}
	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
