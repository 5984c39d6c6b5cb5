// Package bigquery stores filings and category records in BigQuery. Writes
// use DML rather than the streaming API so rows can be updated right away.
package bigquery

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

const (
	filingsTable = "filings"
	recordsTable = "category_records"
)

// Dataset names the project and dataset holding the tables.
type Dataset struct {
	ProjectID string
	DatasetID string
}

// Table returns the quoted, fully qualified name of a table.
func (d Dataset) Table(name string) string {
	return "`" + d.ProjectID + "." + d.DatasetID + "." + name + "`"
}

// Validate reports whether the dataset is usable.
func (d Dataset) Validate() error {
	if d.ProjectID == "" {
		return fmt.Errorf("Validate: project id is required")
	}
	if d.DatasetID == "" {
		return fmt.Errorf("Validate: dataset id is required")
	}
	return nil
}

// Client owns a BigQuery client shared by the filing and record stores.
type Client struct {
	client *bigquery.Client
	ds     Dataset
}

// NewClient creates a BigQuery client for the dataset.
func NewClient(ctx context.Context, ds Dataset) (*Client, error) {
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("NewClient: %w", err)
	}
	client, err := bigquery.NewClient(ctx, ds.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewClient: creating client: %w", err)
	}
	return &Client{client: client, ds: ds}, nil
}

// Close closes the BigQuery client connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// BigQuery returns the underlying client.
func (c *Client) BigQuery() *bigquery.Client {
	return c.client
}

// Filings returns the filing repository.
func (c *Client) Filings() *FilingRepository {
	return &FilingRepository{client: c.client, ds: c.ds}
}

// Records returns the category record store.
func (c *Client) Records() *RecordStore {
	return &RecordStore{client: c.client, ds: c.ds}
}

// runDML runs a DML statement and returns the number of affected rows.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}
	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}

// storeErr wraps a client failure unless it already carries a code.
func storeErr(op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.StoreUnavailable(op, err)
}
