package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// CheckpointReader exposes the last known checkpoint without touching storage.
type CheckpointReader interface {
	Last() (int64, bool)
}

// Handler serves GET /healthz.
type Handler struct {
	monitor    *Monitor
	checkpoint CheckpointReader
	logger     *slog.Logger
}

// NewHandler creates a Handler. checkpoint may be nil.
func NewHandler(m *Monitor, checkpoint CheckpointReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{monitor: m, checkpoint: checkpoint, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.monitor.IsHealthy() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"detail": h.monitor.Detail()})
		return
	}

	if h.checkpoint != nil {
		if last, ok := h.checkpoint.Last(); ok {
			h.logger.Info("last sent", "checkpoint", time.Unix(last, 0).Format(time.DateTime))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode("healthy")
}
