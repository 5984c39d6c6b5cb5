package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/app"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/config"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/logger"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/notionsync"
)

func main() {
	envFile := flag.String("env", ".env", "Path to a .env file (ignored when missing)")
	notionToken := flag.String("notion-token", "", "Notion API token (overrides NOTION_TOKEN)")
	notionDBID := flag.String("notion-db-id", "", "Notion review database ID (overrides NOTION_REVIEW_DB_ID)")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		boot := logger.New(logger.Options{})
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.New(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	if *notionToken != "" {
		cfg.NotionToken = *notionToken
	}
	if *notionDBID != "" {
		cfg.NotionReviewDBID = *notionDBID
	}
	if cfg.NotionToken == "" {
		log.Fatal().Msg("Error: --notion-token or NOTION_TOKEN is required")
	}
	if cfg.NotionReviewDBID == "" {
		log.Fatal().Msg("Error: --notion-db-id or NOTION_REVIEW_DB_ID is required")
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize filing engine")
	}
	defer a.Close()

	log.Info().
		Str("backend", cfg.StoreBackend).
		Bool("dry_run", *dryRun).
		Msg("Starting review board sync")

	client := notionsync.NewNotionClient(cfg.NotionToken)
	res, err := notionsync.SyncReviewBoard(ctx, a.Manager, client, cfg.NotionReviewDBID, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("Sync completed: %d created, %d updated, %d archived, %d failed.\n",
		res.Created, res.Updated, res.Archived, res.Failed)
}
