// internal/api/reservations/handlers.go
package reservations

import (
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ezhao/courtqueue/internal/api/apiutil"
	"github.com/ezhao/courtqueue/internal/engine"
)

var (
	alloc    *engine.Engine
	initOnce sync.Once
)

// InitHandlers must be called during server startup before handling requests.
func InitHandlers(e *engine.Engine) {
	if e == nil {
		return
	}
	initOnce.Do(func() {
		alloc = e
	})
}

type reservationRequest struct {
	CourtID int64 `json:"court_id"`
}

// POST /api/v1/reservations
func HandleReservationCreate(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if alloc == nil {
		logger.Error().Msg("Reservation handlers not initialized")
		apiutil.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	user, ok := apiutil.RequireUser(w, r)
	if !ok {
		return
	}

	var req reservationRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CourtID <= 0 {
		apiutil.WriteError(w, http.StatusBadRequest, "court_id must be greater than 0")
		return
	}

	entry, err := alloc.Reserve(r.Context(), req.CourtID, engine.Actor{ID: user.ID, Name: user.Name})
	if err != nil {
		apiutil.WriteEngineError(w, r, err, "Failed to create reservation")
		return
	}

	apiutil.WriteJSON(w, http.StatusCreated, map[string]any{
		"reservation_id": entry.ID,
		"court_id":       entry.CourtID,
		"position":       entry.Position,
	})
}

// GET /api/v1/courts/{id}/queue
func HandleQueueList(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if alloc == nil {
		logger.Error().Msg("Reservation handlers not initialized")
		apiutil.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if _, ok := apiutil.RequireUser(w, r); !ok {
		return
	}

	courtID, err := apiutil.PathID(r, "id")
	if err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := alloc.QueueFor(r.Context(), courtID)
	if err != nil {
		apiutil.WriteEngineError(w, r, err, "Failed to load queue")
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, map[string]any{"queue": entries})
}

// DELETE /api/v1/reservations/{id}
func HandleReservationCancel(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if alloc == nil {
		logger.Error().Msg("Reservation handlers not initialized")
		apiutil.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	user, ok := apiutil.RequireUser(w, r)
	if !ok {
		return
	}

	entryID, err := apiutil.PathID(r, "id")
	if err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := alloc.CancelReservation(r.Context(), entryID, engine.Actor{ID: user.ID, Name: user.Name}); err != nil {
		apiutil.WriteEngineError(w, r, err, "Failed to cancel reservation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
