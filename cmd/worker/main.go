package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/app"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/config"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/jobs"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/jobs/inmemory"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/logger"
)

// reviewSource lists filings whose payment proof awaits review.
type reviewSource interface {
	PendingReview(ctx context.Context) ([]*domain.Filing, error)
}

func main() {
	envFile := flag.String("env", ".env", "Path to a .env file (ignored when missing)")
	interval := flag.Duration("interval", 0, "Sweep the review queue at this interval; 0 sweeps once and exits")
	workers := flag.Int("workers", 2, "Number of concurrent scan workers")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		boot := logger.New(logger.Options{})
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.New(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize filing engine")
	}
	defer a.Close()

	if a.Scanner == nil {
		log.Fatal().Msg("Proof scanning is not configured: set GCS_BUCKET and Gemini credentials")
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore, inmemory.WithWorkers(*workers))
	if err := jobQueue.Start(ctx, jobs.NewHandler(a.Engine, a.Scanner)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().Dur("interval", *interval).Int("workers", *workers).Msg("Starting worker service")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	run := func() {
		n, err := sweep(ctx, a.Manager, jobQueue)
		if err != nil {
			log.Error().Err(err).Msg("Review queue sweep failed")
			return
		}
		log.Info().Int("published", n).Msg("Review queue swept")
	}

	run()
	if *interval <= 0 {
		// The queue does not drain on Stop, so wait for the sweep to finish.
		waitCtx, stop := context.WithTimeout(ctx, 10*time.Minute)
		if err := awaitIdle(waitCtx, jobStore, time.Second); err != nil {
			log.Error().Err(err).Msg("Gave up waiting for scans")
		}
		stop()
	} else {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ticker.C:
				run()
			case <-quit:
				break loop
			}
		}
	}

	log.Info().Msg("Shutting down worker service...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Minute)
	defer stop()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	report(log, jobStore)
	log.Info().Msg("Worker service stopped")
}

// sweep publishes one scan job per proof awaiting review.
func sweep(ctx context.Context, source reviewSource, pub jobs.Publisher) (int, error) {
	filings, err := source.PendingReview(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep: listing review queue: %w", err)
	}
	n := 0
	for _, f := range filings {
		if f.PaymentProof == nil || f.PaymentProof.DocumentRef == "" {
			continue
		}
		job := &jobs.FilingJob{Type: jobs.JobTypeScanProof, FilingID: f.ID, DocumentRef: f.PaymentProof.DocumentRef}
		if err := pub.Publish(ctx, job); err != nil {
			return n, fmt.Errorf("sweep: publishing scan for %s: %w", f.ID, err)
		}
		n++
	}
	return n, nil
}

// awaitIdle blocks until every stored job is completed or failed.
func awaitIdle(ctx context.Context, store jobs.JobStore, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		all, err := store.ListJobs(ctx, jobs.JobFilter{})
		if err != nil {
			return fmt.Errorf("awaitIdle: %w", err)
		}
		busy := false
		for _, j := range all {
			if j.Status != jobs.JobStatusCompleted && j.Status != jobs.JobStatusFailed {
				busy = true
				break
			}
		}
		if !busy {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("awaitIdle: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// report logs the outcome of every scan.
func report(log zerolog.Logger, store jobs.JobStore) {
	done, err := store.ListJobs(context.Background(), jobs.JobFilter{Type: jobs.JobTypeScanProof})
	if err != nil {
		log.Error().Err(err).Msg("Failed to list jobs")
		return
	}
	for _, j := range done {
		ev := log.Info()
		if j.Status != jobs.JobStatusCompleted {
			ev = log.Warn().Str("error", j.Error).Str("error_code", j.ErrorCode)
		}
		ev.Str("job_id", j.JobID).
			Str("filing_id", j.FilingID).
			Str("status", string(j.Status)).
			Str("scanned_amount", j.Result).
			Msg("scan result")
	}
}
