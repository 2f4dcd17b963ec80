package handlers

import (
	"net/http"

	"github.com/amaumene/mediasync/internal/metrics"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	progress *metrics.Progress
	logger   *logrus.Logger
}

// NewHealthHandler creates a new health handler. progress may be nil.
func NewHealthHandler(progress *metrics.Progress, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{progress: progress, logger: logger}
}

// HealthResponse reports liveness and the phase of the running sync, if any
type HealthResponse struct {
	Status string `json:"status"`
	Phase  string `json:"phase,omitempty"`
	Done   int64  `json:"done,omitempty"`
	Total  int64  `json:"total,omitempty"`
}

// ServeHTTP handles the health check endpoint
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{Status: "healthy"}
	if h.progress != nil {
		response.Phase, response.Done, response.Total = h.progress.Snapshot()
	}
	writeJSON(w, http.StatusOK, response, h.logger)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *logrus.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Warn("Failed to encode response")
	}
}
