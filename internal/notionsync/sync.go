// Package notionsync mirrors the payment review queue into a Notion
// database so reviewers can work from a board.
package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/logger"
)

// SyncResult counts what a sync did. Failed counts pages that could not be
// written; the sync carries on past them.
type SyncResult struct {
	Created  int
	Updated  int
	Archived int
	Failed   int
}

// SyncReviewBoard makes the Notion database match the review queue:
// 1. Lists filings with a pending payment proof
// 2. Archives pages whose filing left the queue
// 3. Updates pages of queued filings and creates the missing ones
func SyncReviewBoard(ctx context.Context, source ReviewSource, notionClient NotionService, notionDBID string, dryRun bool) (SyncResult, error) {
	log := logger.FromContext(ctx).With().Str("database_id", notionDBID).Bool("dry_run", dryRun).Logger()
	var res SyncResult

	filings, err := source.PendingReview(ctx)
	if err != nil {
		return res, fmt.Errorf("SyncReviewBoard: listing review queue: %w", err)
	}
	log.Info().Int("queued", len(filings)).Msg("Starting review board sync")

	pages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return res, fmt.Errorf("SyncReviewBoard: %w", err)
	}

	queued := make(map[string]bool, len(filings))
	for _, f := range filings {
		queued[f.ID] = true
	}

	// A filing should have one page; extra pages for the same id are archived.
	pageByFiling := make(map[string]string)
	for _, page := range pages {
		id := extractFilingID(page)
		pageID := string(page.ID)
		_, dup := pageByFiling[id]
		if id != "" && queued[id] && !dup {
			pageByFiling[id] = pageID
			continue
		}
		if dryRun {
			log.Info().Str("filing_id", id).Str("page_id", pageID).Msg("[DRY RUN] Would archive review page")
			res.Archived++
			continue
		}
		if err := notionClient.DeletePage(ctx, pageID); err != nil {
			log.Warn().Err(err).Str("filing_id", id).Str("page_id", pageID).Msg("Failed to archive review page")
			res.Failed++
			continue
		}
		res.Archived++
	}

	for _, f := range filings {
		pageID, exists := pageByFiling[f.ID]
		if dryRun {
			if exists {
				res.Updated++
			} else {
				res.Created++
			}
			continue
		}

		props := FilingToReviewProperties(f)
		if exists {
			if _, err := notionClient.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().Err(err).Str("filing_id", f.ID).Str("page_id", pageID).Msg("Failed to update review page")
				res.Failed++
				continue
			}
			res.Updated++
			continue
		}
		page, err := notionClient.CreatePage(ctx, notionDBID, props)
		if err != nil {
			log.Warn().Err(err).Str("filing_id", f.ID).Msg("Failed to create review page")
			res.Failed++
			continue
		}
		log.Debug().Str("filing_id", f.ID).Str("page_id", string(page.ID)).Msg("Created review page")
		res.Created++
	}

	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("archived", res.Archived).
		Int("failed", res.Failed).
		Msg("Review board sync completed")
	return res, nil
}

// queryAllNotionPages queries all pages from a Notion database and returns them.
// Handles pagination automatically.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: 100}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}
		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
