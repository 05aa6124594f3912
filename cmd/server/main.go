// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ezhao/courtqueue/internal/config"
	appdb "github.com/ezhao/courtqueue/internal/db"
	"github.com/ezhao/courtqueue/internal/email"
	"github.com/ezhao/courtqueue/internal/engine"
	"github.com/ezhao/courtqueue/internal/groups"
	"github.com/ezhao/courtqueue/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

func setupLogger(environment string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", configPath).Msg("Failed to load configuration")
	}

	setupLogger(cfg.App.Environment)

	database, err := appdb.NewFromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.SeedCourts(ctx, cfg.Courts.Names); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed courts")
	}

	alloc, err := engine.New(database, clockwork.NewRealClock(), engine.Config{
		SessionDuration:       cfg.SessionDuration(),
		AllowReserveOpenCourt: cfg.Queue.AllowReserveOpenCourt,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create allocation engine")
	}

	if cfg.Email.Enabled {
		sesClient, err := email.NewSESClient(
			cfg.Email.AccessKeyID,
			cfg.Email.SecretAccessKey,
			cfg.Email.Region,
			cfg.Email.Sender,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create SES client")
		}
		alloc.SetNotifier(email.NewPromotionNotifier(sesClient))
		log.Info().Str("region", cfg.Email.Region).Msg("Promotion emails enabled")
	}

	groupService, err := groups.NewService(database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create group service")
	}

	if err := scheduler.Init(nil); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize scheduler")
	}
	if _, err := scheduler.AddIntervalJob("session-expiry", cfg.SweepInterval(), func() {
		if err := alloc.ExpireSessions(context.Background()); err != nil {
			log.Error().Err(err).Msg("Session expiry sweep failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register expiry sweep")
	}

	server, err := newServer(cfg, database, alloc, groupService)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", cfg.App.Port).Msg("Starting server")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		log.Info().Msg("Shutting down server")
		if err := scheduler.Stop(); err != nil {
			log.Error().Err(err).Msg("Scheduler shutdown error")
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server terminated with error")
		os.Exit(1)
	}
}
