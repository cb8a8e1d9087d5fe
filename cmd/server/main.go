package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Tandem/internal/adapters/http"
	"github.com/dkeye/Tandem/internal/app"
	"github.com/dkeye/Tandem/internal/app/orch"
	"github.com/dkeye/Tandem/internal/catalog"
	"github.com/dkeye/Tandem/internal/config"
	"github.com/dkeye/Tandem/internal/core"
	"github.com/dkeye/Tandem/internal/telemetry"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logger first so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTelemetry(ctx, cfg.Telemetry.ServiceName, version)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init telemetry")
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("telemetry shutdown")
			}
		}()
	}

	prompts, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.CatalogPath).Msg("failed to load prompt catalog")
	}
	log.Info().Int("prompts", prompts.Len()).Msg("prompt catalog ready")

	sessions := app.NewSessionRegistry(prompts, core.Options{
		TickInterval: cfg.Rounds.TickInterval,
		GraceDelay:   cfg.Rounds.GraceDelay,
	}, app.WithInactivityThreshold(cfg.Sessions.InactivityThreshold))
	app.StartReaper(ctx, sessions, cfg.Sessions.SweepInterval)

	o := &orch.Orchestrator{
		Channels:           app.NewChannelRegistry(),
		Sessions:           sessions,
		Policy:             app.SimplePolicy{},
		DeleteEmptyOnLeave: cfg.Sessions.DeleteEmptyOnLeave,
	}

	r, err := router.SetupRouter(ctx, cfg, o)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up router")
	}
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           router.WithCORS(cfg, r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Str("version", version).Msg("Tandem server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}
