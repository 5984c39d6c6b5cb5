package notionsync

import (
	"context"

	"github.com/jomei/notionapi"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

// NotionService is the slice of the Notion API the review board uses: one
// page per filing awaiting payment review.
type NotionService interface {
	// CreatePage adds a filing row to the review database.
	CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)

	// UpdatePage rewrites the properties of an existing filing row.
	UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)

	// QueryDatabase returns one page of rows; follow NextCursor for more.
	QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)

	// DeletePage archives a row whose filing left the review queue.
	DeletePage(ctx context.Context, pageID string) error
}

// ReviewSource lists filings waiting for a payment decision.
type ReviewSource interface {
	PendingReview(ctx context.Context) ([]*domain.Filing, error)
}
