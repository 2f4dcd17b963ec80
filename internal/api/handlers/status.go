package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/amaumene/mediasync/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultRunLimit = 10
	maxRunLimit     = 100
)

// RunLister reads the recorded sync runs
type RunLister interface {
	ListSyncRuns(limit int) ([]*models.SyncRun, error)
}

// Schedule reports when the next run happens
type Schedule interface {
	NextRun() time.Time
}

// StatusHandler handles status requests
type StatusHandler struct {
	runs     RunLister
	schedule Schedule
	logger   *logrus.Logger
}

// NewStatusHandler creates a new status handler. schedule may be nil.
func NewStatusHandler(runs RunLister, schedule Schedule, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{
		runs:     runs,
		schedule: schedule,
		logger:   logger,
	}
}

// StatusResponse represents the status response
type StatusResponse struct {
	NextRun   *time.Time        `json:"next_run,omitempty"`
	LastRun   *models.SyncRun   `json:"last_run,omitempty"`
	Runs      []*models.SyncRun `json:"runs"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

// ServeHTTP handles the status endpoint
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.runs.ListSyncRuns(limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list sync runs")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := StatusResponse{Runs: runs}
	if response.Runs == nil {
		response.Runs = []*models.SyncRun{}
	}
	if len(runs) > 0 {
		response.LastRun = runs[0]
	}
	for _, run := range runs {
		if run.Success {
			response.Succeeded++
		} else {
			response.Failed++
		}
	}
	if h.schedule != nil {
		if next := h.schedule.NextRun(); !next.IsZero() {
			response.NextRun = &next
		}
	}

	writeJSON(w, http.StatusOK, response, h.logger)
}
