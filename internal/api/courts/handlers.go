// internal/api/courts/handlers.go
package courts

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

// GET /api/v1/courts
func HandleListCourts(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if alloc == nil {
		logger.Error().Msg("Court handlers not initialized")
		apiutil.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if _, ok := apiutil.RequireUser(w, r); !ok {
		return
	}

	views, err := alloc.Overview(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load court overview")
		apiutil.WriteError(w, http.StatusInternalServerError, "Failed to load courts")
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, map[string]any{"courts": views})
}

// GET /api/v1/courts/{id}
func HandleCourtStatus(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if alloc == nil {
		logger.Error().Msg("Court handlers not initialized")
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

	view, err := alloc.CourtStatus(r.Context(), courtID)
	if err != nil {
		apiutil.WriteEngineError(w, r, err, "Failed to load court status")
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, view)
}

// POST /api/v1/courts/{id}/take
func HandleTake(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if alloc == nil {
		logger.Error().Msg("Court handlers not initialized")
		apiutil.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	user, ok := apiutil.RequireUser(w, r)
	if !ok {
		return
	}

	courtID, err := apiutil.PathID(r, "id")
	if err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := alloc.Take(r.Context(), courtID, engine.Actor{ID: user.ID, Name: user.Name})
	if err != nil {
		apiutil.WriteEngineError(w, r, err, "Failed to take court")
		return
	}

	apiutil.WriteJSON(w, http.StatusCreated, map[string]any{
		"session_id": session.ID,
		"court_id":   session.CourtID,
		"started_at": session.StartedAt,
		"expires_at": session.ExpiresAt,
	})
}

// POST /api/v1/courts/{id}/release
func HandleRelease(w http.ResponseWriter, r *http.Request) {
	handleEndSession(w, r, "Failed to release court")
}

// POST /api/v1/courts/{id}/advance
//
// Semantically identical to release: the occupant ends early and the queue
// head, if any, is promoted. Kept as its own route so clients can express
// intent.
func HandleAdvance(w http.ResponseWriter, r *http.Request) {
	handleEndSession(w, r, "Failed to advance court")
}

func handleEndSession(w http.ResponseWriter, r *http.Request, failureMessage string) {
	logger := log.Ctx(r.Context())
	if alloc == nil {
		logger.Error().Msg("Court handlers not initialized")
		apiutil.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	user, ok := apiutil.RequireUser(w, r)
	if !ok {
		return
	}

	courtID, err := apiutil.PathID(r, "id")
	if err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := alloc.Release(r.Context(), courtID, engine.Actor{ID: user.ID, Name: user.Name}); err != nil {
		apiutil.WriteEngineError(w, r, err, failureMessage)
		return
	}

	view, err := alloc.CourtStatus(r.Context(), courtID)
	if err != nil {
		apiutil.WriteEngineError(w, r, err, "Failed to load court status")
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, view)
}

// GET /api/v1/status
//
// Unauthenticated snapshot: court states and queue lengths without any
// occupant or queue identity.
func HandlePublicStatus(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if alloc == nil {
		logger.Error().Msg("Court handlers not initialized")
		apiutil.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	snapshot, err := alloc.Snapshot(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load status snapshot")
		apiutil.WriteError(w, http.StatusInternalServerError, "Failed to load status")
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, map[string]any{"courts": snapshot})
}
