package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradecycle/internal/pipeline"
)

// CycleRunner is the part of the cycle the API drives.
type CycleRunner interface {
	Trigger() bool
	Last() *pipeline.CycleReport
}

// CycleHandler triggers cycles and reports on the last one.
type CycleHandler struct {
	cycle  CycleRunner
	logger *slog.Logger
}

// NewCycleHandler creates a CycleHandler.
func NewCycleHandler(cycle CycleRunner, logger *slog.Logger) *CycleHandler {
	return &CycleHandler{cycle: cycle, logger: logger}
}

// Trigger asks the run loop for an immediate cycle.
// POST /api/cycle/trigger
func (h *CycleHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	queued := h.cycle.Trigger()
	h.logger.InfoContext(r.Context(), "handler: cycle trigger requested", slog.Bool("queued", queued))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":       queued,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Last returns the report of the most recent cycle.
// GET /api/cycle/last
func (h *CycleHandler) Last(w http.ResponseWriter, _ *http.Request) {
	last := h.cycle.Last()
	if last == nil {
		writeError(w, http.StatusNotFound, "no cycle has run yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}
