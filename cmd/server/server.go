// cmd/server/server.go
package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ezhao/courtqueue/internal/api"
	"github.com/ezhao/courtqueue/internal/api/auth"
	"github.com/ezhao/courtqueue/internal/api/courts"
	groupsapi "github.com/ezhao/courtqueue/internal/api/groups"
	"github.com/ezhao/courtqueue/internal/api/reservations"
	"github.com/ezhao/courtqueue/internal/config"
	appdb "github.com/ezhao/courtqueue/internal/db"
	"github.com/ezhao/courtqueue/internal/engine"
	"github.com/ezhao/courtqueue/internal/groups"
	"github.com/ezhao/courtqueue/internal/ratelimit"
)

func newServer(cfg *config.Config, database *appdb.DB, alloc *engine.Engine, groupService *groups.Service) (*http.Server, error) {
	tokens, err := auth.NewTokenManager(cfg.Auth.Secret, cfg.TokenTTL())
	if err != nil {
		return nil, fmt.Errorf("create token manager: %w", err)
	}

	trustProxy := cfg.App.Environment == "production"
	auth.InitHandlers(database, tokens, ratelimit.New(ratelimit.DefaultConfig()), trustProxy)
	courts.InitHandlers(alloc)
	reservations.InitHandlers(alloc)
	groupsapi.InitHandlers(groupService)

	router := http.NewServeMux()
	registerRoutes(router)

	// Setup middleware chain
	handler := api.ChainMiddleware(
		router,
		api.WithAuth(tokens),
		api.WithLogging,
		api.WithRecovery,
		api.WithRequestID,
	)

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, nil
}

func registerRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Identity
	mux.HandleFunc("POST /api/v1/auth/token", auth.HandleIssueToken)

	// Public status snapshot
	mux.HandleFunc("GET /api/v1/status", courts.HandlePublicStatus)

	// Court routes
	mux.HandleFunc("GET /api/v1/courts", courts.HandleListCourts)
	mux.HandleFunc("GET /api/v1/courts/{id}", courts.HandleCourtStatus)
	mux.HandleFunc("POST /api/v1/courts/{id}/take", courts.HandleTake)
	mux.HandleFunc("POST /api/v1/courts/{id}/release", courts.HandleRelease)
	mux.HandleFunc("POST /api/v1/courts/{id}/advance", courts.HandleAdvance)
	mux.HandleFunc("GET /api/v1/courts/{id}/queue", reservations.HandleQueueList)

	// Reservation routes
	mux.HandleFunc("POST /api/v1/reservations", reservations.HandleReservationCreate)
	mux.HandleFunc("DELETE /api/v1/reservations/{id}", reservations.HandleReservationCancel)

	// Group routes
	mux.HandleFunc("GET /api/v1/groups/mine", groupsapi.HandleMyGroup)
	mux.HandleFunc("POST /api/v1/groups", groupsapi.HandleGroupCreate)
	mux.HandleFunc("POST /api/v1/groups/join", groupsapi.HandleGroupJoin)
	mux.HandleFunc("POST /api/v1/groups/leave", groupsapi.HandleGroupLeave)
}
