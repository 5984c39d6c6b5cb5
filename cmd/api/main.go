package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/api/handlers"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/api/middleware"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/app"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/config"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/jobs"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/jobs/inmemory"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/logger"
)

func main() {
	envFile := flag.String("env", ".env", "Path to a .env file (ignored when missing)")
	port := flag.String("port", "", "HTTP server port (overrides PORT)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		boot := logger.New(logger.Options{})
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}
	if *port != "" {
		cfg.Port = *port
	}

	log := logger.New(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize filing engine")
	}
	defer a.Close()

	// Job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, jobs.NewHandler(a.Engine, scannerOrNil(a))); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}

	routes := handlers.Routes{
		Filings: handlers.NewFilingsHandler(a.Manager, a.Engine, jobQueue, log),
		Records: handlers.NewRecordsHandler(a.Manager, a.Engine, a.Records, log),
		Admin:   handlers.NewAdminHandler(a.Manager, log),
		Jobs:    handlers.NewJobsHandler(jobStore, log),
	}
	if a.Storage != nil {
		routes.Proofs = handlers.NewProofsHandler(a.Manager, a.Storage, log)
	}

	mux := http.NewServeMux()
	handlers.Register(mux, routes)

	handler := middleware.Chain(mux,
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS,
		middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, log),
		middleware.Auth,
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	cancelWorker()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}

// scannerOrNil keeps a nil *pipeline.Scanner from becoming a non-nil
// interface value.
func scannerOrNil(a *app.App) jobs.ProofScanner {
	if a.Scanner == nil {
		return nil
	}
	return a.Scanner
}
