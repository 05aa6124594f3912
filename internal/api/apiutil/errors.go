package apiutil

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/ezhao/courtqueue/internal/engine"
)

// WriteEngineError maps engine sentinel errors onto HTTP statuses. Anything
// unrecognized is logged and reported as a 500 with the fallback message.
func WriteEngineError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		WriteError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, engine.ErrForbidden):
		WriteError(w, http.StatusForbidden, "Not allowed")
	case errors.Is(err, engine.ErrCourtOccupied):
		WriteError(w, http.StatusConflict, "Court is in use")
	case errors.Is(err, engine.ErrCourtNotBusy):
		WriteError(w, http.StatusConflict, "Court is open; take it instead of reserving")
	case errors.Is(err, engine.ErrActorBusy):
		WriteError(w, http.StatusConflict, "You already hold a session or reservation")
	case errors.Is(err, engine.ErrGroupBusy):
		WriteError(w, http.StatusConflict, "Your group already holds a session or reservation")
	case errors.Is(err, engine.ErrDuplicateReservation):
		WriteError(w, http.StatusConflict, "You already hold a session or reservation")
	case errors.Is(err, engine.ErrNoActiveSession):
		WriteError(w, http.StatusConflict, "No active session of yours on this court")
	default:
		log.Ctx(r.Context()).Error().Err(err).Msg(fallback)
		WriteError(w, http.StatusInternalServerError, fallback)
	}
}
