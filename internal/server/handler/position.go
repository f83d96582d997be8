package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// PositionHandler exposes the position store read-only.
type PositionHandler struct {
	positions domain.PositionStore
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions domain.PositionStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logger}
}

type positionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns every position in one status.
// GET /api/positions?status=OPEN
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	status, err := domain.ParsePositionStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := h.positions.ListByStatus(r.Context(), status)
	if err != nil {
		h.fail(w, r, "list positions failed", err)
		return
	}
	writeJSON(w, http.StatusOK, positionsResponse{Positions: nonNil(list)})
}

// History returns the records of one ticker, newest first.
// GET /api/positions/{ticker}/history
func (h *PositionHandler) History(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(pathParam(r, "ticker"))
	list, err := h.positions.ListHistory(r.Context(), ticker, parseListOpts(r))
	if err != nil {
		h.fail(w, r, "list history failed", err)
		return
	}
	writeJSON(w, http.StatusOK, positionsResponse{Positions: nonNil(list)})
}

func (h *PositionHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), "handler: "+msg, slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, msg)
}

func nonNil(list []domain.Position) []domain.Position {
	if list == nil {
		return []domain.Position{}
	}
	return list
}
