// internal/api/groups/handlers.go
package groups

import (
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ezhao/courtqueue/internal/api/apiutil"
	"github.com/ezhao/courtqueue/internal/groups"
)

var (
	service  *groups.Service
	initOnce sync.Once
)

// InitHandlers must be called during server startup before handling requests.
func InitHandlers(s *groups.Service) {
	if s == nil {
		return
	}
	initOnce.Do(func() {
		service = s
	})
}

type joinRequest struct {
	JoinCode string `json:"join_code"`
}

type memberView struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

type groupView struct {
	ID       int64        `json:"id"`
	JoinCode string       `json:"join_code"`
	Members  []memberView `json:"members"`
}

// GET /api/v1/groups/mine
func HandleMyGroup(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if service == nil {
		logger.Error().Msg("Group handlers not initialized")
		apiutil.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	user, ok := apiutil.RequireUser(w, r)
	if !ok {
		return
	}

	info, found, err := service.MyGroup(r.Context(), user.ID)
	if err != nil {
		logger.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to load group")
		apiutil.WriteError(w, http.StatusInternalServerError, "Failed to load group")
		return
	}
	if !found {
		apiutil.WriteJSON(w, http.StatusOK, map[string]any{"group": nil})
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, map[string]any{"group": toView(info)})
}

// POST /api/v1/groups
func HandleGroupCreate(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if service == nil {
		logger.Error().Msg("Group handlers not initialized")
		apiutil.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	user, ok := apiutil.RequireUser(w, r)
	if !ok {
		return
	}

	info, err := service.Create(r.Context(), user.ID)
	if err != nil {
		writeGroupError(w, r, err, "Failed to create group")
		return
	}
	apiutil.WriteJSON(w, http.StatusCreated, map[string]any{"group": toView(info)})
}

// POST /api/v1/groups/join
func HandleGroupJoin(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if service == nil {
		logger.Error().Msg("Group handlers not initialized")
		apiutil.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	user, ok := apiutil.RequireUser(w, r)
	if !ok {
		return
	}

	var req joinRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	code, err := apiutil.ParseRequiredString(req.JoinCode, "join_code")
	if err != nil {
		apiutil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := service.Join(r.Context(), user.ID, code)
	if err != nil {
		writeGroupError(w, r, err, "Failed to join group")
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, map[string]any{"group": toView(info)})
}

// POST /api/v1/groups/leave
func HandleGroupLeave(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if service == nil {
		logger.Error().Msg("Group handlers not initialized")
		apiutil.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	user, ok := apiutil.RequireUser(w, r)
	if !ok {
		return
	}

	if err := service.Leave(r.Context(), user.ID); err != nil {
		writeGroupError(w, r, err, "Failed to leave group")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toView(info groups.Info) groupView {
	members := make([]memberView, 0, len(info.Members))
	for _, m := range info.Members {
		members = append(members, memberView{UserID: m.UserID, Name: m.Name})
	}
	return groupView{
		ID:       info.Group.ID,
		JoinCode: info.Group.JoinCode,
		Members:  members,
	}
}

func writeGroupError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, groups.ErrAlreadyInGroup):
		apiutil.WriteError(w, http.StatusConflict, "You already belong to a group")
	case errors.Is(err, groups.ErrNotInGroup):
		apiutil.WriteError(w, http.StatusConflict, "You do not belong to a group")
	case errors.Is(err, groups.ErrGroupNotFound):
		apiutil.WriteError(w, http.StatusNotFound, "Group not found")
	default:
		log.Ctx(r.Context()).Error().Err(err).Msg(fallback)
		apiutil.WriteError(w, http.StatusInternalServerError, fallback)
	}
}
