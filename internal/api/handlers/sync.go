package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

// Trigger starts a sync outside the schedule
type Trigger interface {
	Trigger()
}

// SyncHandler starts a sync run on request
type SyncHandler struct {
	trigger Trigger
	logger  *logrus.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(trigger Trigger, logger *logrus.Logger) *SyncHandler {
	return &SyncHandler{
		trigger: trigger,
		logger:  logger,
	}
}

// ServeHTTP handles the manual sync endpoint. The run happens in the background.
func (h *SyncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.logger.WithField("remote_addr", r.RemoteAddr).Info("Manual sync requested")
	h.trigger.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"}, h.logger)
}
