package bigquery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/aggregate"
	bq "github.com/M-Abdullah-Amjad/filer-pak/internal/bigquery"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/filing"
)

const recordSelect = `
	SELECT
		record_id,
		filing_id,
		family,
		tag,
		amount,
		TO_JSON_STRING(amounts) AS amounts,
		currency,
		note,
		created_ts,
		updated_ts
	FROM `

// RecordStore implements aggregate.RecordStore on BigQuery.
type RecordStore struct {
	client *bigquery.Client
	ds     Dataset
}

// NewRecordStore creates a record store with a shared client.
func NewRecordStore(client *bigquery.Client, ds Dataset) *RecordStore {
	return &RecordStore{client: client, ds: ds}
}

// PutRecord inserts or replaces a record with a MERGE. A record cannot move
// between filings, and a finalized filing takes no writes.
func (s *RecordStore) PutRecord(ctx context.Context, rec domain.CategoryRecord) (domain.CategoryRecord, error) {
	const op = "PutRecord"
	if rec.FilingID == "" {
		return domain.CategoryRecord{}, domain.Validation(op, "filing id is required")
	}
	if err := rec.ResolveFamily(); err != nil {
		return domain.CategoryRecord{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	row, err := bq.NewRecordRow(rec)
	if err != nil {
		return domain.CategoryRecord{}, domain.Validation(op, "%v", err)
	}

	q := s.client.Query(`
		MERGE ` + s.ds.Table(recordsTable) + ` T
		USING (
			SELECT
				@record_id AS record_id,
				@filing_id AS filing_id,
				@family AS family,
				@tag AS tag,
				@amount AS amount,
				PARSE_JSON(@amounts) AS amounts,
				@currency AS currency,
				@note AS note,
				@created_ts AS created_ts,
				@updated_ts AS updated_ts
			FROM UNNEST([1])
			WHERE NOT EXISTS (
				SELECT 1 FROM ` + s.ds.Table(filingsTable) + `
				WHERE filing_id = @filing_id AND status = @finalized
			)
		) S
		ON T.record_id = S.record_id
		WHEN MATCHED AND T.filing_id = S.filing_id THEN
			UPDATE SET family = S.family, tag = S.tag, amount = S.amount, amounts = S.amounts,
				currency = S.currency, note = S.note, updated_ts = S.updated_ts
		WHEN NOT MATCHED THEN
			INSERT (record_id, filing_id, family, tag, amount, amounts, currency, note, created_ts, updated_ts)
			VALUES (S.record_id, S.filing_id, S.family, S.tag, S.amount, S.amounts, S.currency, S.note, S.created_ts, S.updated_ts)
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "record_id", Value: row.RecordID},
		{Name: "filing_id", Value: row.FilingID},
		{Name: "family", Value: row.Family},
		{Name: "tag", Value: row.Tag},
		{Name: "amount", Value: row.Amount},
		{Name: "amounts", Value: row.Amounts},
		{Name: "currency", Value: row.Currency},
		{Name: "note", Value: row.Note},
		{Name: "created_ts", Value: row.CreatedTS},
		{Name: "updated_ts", Value: row.UpdatedTS},
		{Name: "finalized", Value: string(domain.StatusFinalized)},
	}

	n, err := runDML(ctx, q)
	if err != nil {
		return domain.CategoryRecord{}, storeErr(op, err)
	}
	if n == 0 {
		if err := s.checkWritable(ctx, op, rec.FilingID); err != nil {
			return domain.CategoryRecord{}, err
		}
		return domain.CategoryRecord{}, domain.Validation(op, "record %s belongs to another filing", rec.ID).ForFiling(rec.FilingID)
	}

	stored, err := s.getRecord(ctx, rec.FilingID, rec.ID)
	if err != nil {
		return domain.CategoryRecord{}, storeErr(op, err)
	}
	if stored != nil {
		rec.CreatedAt = stored.CreatedAt
	}
	return rec.Clone(), nil
}

func (s *RecordStore) getRecord(ctx context.Context, filingID, recordID string) (*domain.CategoryRecord, error) {
	q := s.client.Query(recordSelect + s.ds.Table(recordsTable) + `
		WHERE filing_id = @filing_id AND record_id = @record_id
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "filing_id", Value: filingID},
		{Name: "record_id", Value: recordID},
	}
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("getRecord: reading query: %w", err)
	}
	var row bq.RecordRow
	err = it.Next(&row)
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getRecord: iterating: %w", err)
	}
	rec, err := row.ToRecord()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteRecord removes one record.
func (s *RecordStore) DeleteRecord(ctx context.Context, filingID, recordID string) error {
	const op = "DeleteRecord"
	q := s.client.Query(`
		DELETE FROM ` + s.ds.Table(recordsTable) + `
		WHERE filing_id = @filing_id AND record_id = @record_id
		AND NOT EXISTS (
			SELECT 1 FROM ` + s.ds.Table(filingsTable) + `
			WHERE filing_id = @filing_id AND status = @finalized
		)
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "filing_id", Value: filingID},
		{Name: "record_id", Value: recordID},
		{Name: "finalized", Value: string(domain.StatusFinalized)},
	}
	n, err := runDML(ctx, q)
	if err != nil {
		return storeErr(op, err)
	}
	if n == 0 {
		if err := s.checkWritable(ctx, op, filingID); err != nil {
			return err
		}
		return domain.NewError(domain.CodeNotFound, op, "record %s not found", recordID).ForFiling(filingID)
	}
	return nil
}

// checkWritable returns FILING_LOCKED when the filing is finalized. It
// explains a guarded write that changed nothing.
func (s *RecordStore) checkWritable(ctx context.Context, op, filingID string) error {
	q := s.client.Query(`
		SELECT COUNT(*) AS n
		FROM ` + s.ds.Table(filingsTable) + `
		WHERE filing_id = @filing_id AND status = @finalized
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "filing_id", Value: filingID},
		{Name: "finalized", Value: string(domain.StatusFinalized)},
	}
	it, err := q.Read(ctx)
	if err != nil {
		return storeErr(op, fmt.Errorf("reading query: %w", err))
	}
	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		return storeErr(op, fmt.Errorf("iterating: %w", err))
	}
	if row.N > 0 {
		return domain.FilingLocked(op, filingID)
	}
	return nil
}

// DeleteRecords implements filing.RecordDeleter.
func (s *RecordStore) DeleteRecords(ctx context.Context, filingID string) error {
	q := s.client.Query(`
		DELETE FROM ` + s.ds.Table(recordsTable) + `
		WHERE filing_id = @filing_id
	`)
	q.Parameters = []bigquery.QueryParameter{{Name: "filing_id", Value: filingID}}
	if _, err := runDML(ctx, q); err != nil {
		return storeErr("DeleteRecords", err)
	}
	return nil
}

// ListRecords implements aggregate.RecordSource. Rows are paged in by the
// BigQuery iterator as the caller advances.
func (s *RecordStore) ListRecords(ctx context.Context, filingID string, family domain.Family) (aggregate.RecordIterator, error) {
	q := s.client.Query(recordSelect + s.ds.Table(recordsTable) + `
		WHERE filing_id = @filing_id AND family = @family
		ORDER BY created_ts, record_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "filing_id", Value: filingID},
		{Name: "family", Value: string(family)},
	}
	it, err := q.Read(ctx)
	if err != nil {
		return nil, storeErr("ListRecords", fmt.Errorf("reading query: %w", err))
	}
	return &rowIterator{it: it}, nil
}

// CountRecords implements aggregate.RecordSource.
func (s *RecordStore) CountRecords(ctx context.Context, filingID string, family domain.Family) (int, error) {
	const op = "CountRecords"
	q := s.client.Query(`
		SELECT COUNT(*) AS n
		FROM ` + s.ds.Table(recordsTable) + `
		WHERE filing_id = @filing_id AND family = @family
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "filing_id", Value: filingID},
		{Name: "family", Value: string(family)},
	}
	it, err := q.Read(ctx)
	if err != nil {
		return 0, storeErr(op, fmt.Errorf("reading query: %w", err))
	}
	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		return 0, storeErr(op, fmt.Errorf("iterating: %w", err))
	}
	return int(row.N), nil
}

// Fingerprint implements aggregate.RecordFingerprinter.
func (s *RecordStore) Fingerprint(ctx context.Context, filingID string) (aggregate.Fingerprint, error) {
	const op = "Fingerprint"
	q := s.client.Query(`
		SELECT COUNT(*) AS n, MAX(updated_ts) AS latest
		FROM ` + s.ds.Table(recordsTable) + `
		WHERE filing_id = @filing_id
	`)
	q.Parameters = []bigquery.QueryParameter{{Name: "filing_id", Value: filingID}}
	it, err := q.Read(ctx)
	if err != nil {
		return aggregate.Fingerprint{}, storeErr(op, fmt.Errorf("reading query: %w", err))
	}
	var row struct {
		N      int64                  `bigquery:"n"`
		Latest bigquery.NullTimestamp `bigquery:"latest"`
	}
	if err := it.Next(&row); err != nil {
		return aggregate.Fingerprint{}, storeErr(op, fmt.Errorf("iterating: %w", err))
	}
	fp := aggregate.Fingerprint{Count: int(row.N)}
	if row.Latest.Valid {
		fp.LastUpdated = row.Latest.Timestamp.UTC()
	}
	return fp, nil
}

// CopyRecords implements aggregate.RecordCopier in a single statement, so the
// copy is all or nothing.
func (s *RecordStore) CopyRecords(ctx context.Context, fromFilingID, toFilingID string) error {
	table := s.ds.Table(recordsTable)
	q := s.client.Query(`
		INSERT INTO ` + table + ` (
			record_id, filing_id, family, tag, amount, amounts, currency, note, created_ts, updated_ts
		)
		SELECT GENERATE_UUID(), @to_filing_id, family, tag, amount, amounts, currency, note, created_ts, updated_ts
		FROM ` + table + `
		WHERE filing_id = @from_filing_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "from_filing_id", Value: fromFilingID},
		{Name: "to_filing_id", Value: toFilingID},
	}
	if _, err := runDML(ctx, q); err != nil {
		return storeErr("CopyRecords", err)
	}
	return nil
}

// rowIterator adapts *bigquery.RowIterator to aggregate.RecordIterator.
type rowIterator struct {
	it      *bigquery.RowIterator
	stopped bool
}

func (r *rowIterator) Next() (domain.CategoryRecord, error) {
	if r.stopped {
		return domain.CategoryRecord{}, iterator.Done
	}
	var row bq.RecordRow
	err := r.it.Next(&row)
	if errors.Is(err, iterator.Done) {
		r.stopped = true
		return domain.CategoryRecord{}, iterator.Done
	}
	if err != nil {
		return domain.CategoryRecord{}, storeErr("ListRecords", fmt.Errorf("iterating: %w", err))
	}
	return row.ToRecord()
}

func (r *rowIterator) Stop() {
	r.stopped = true
}

var (
	_ aggregate.RecordStore = (*RecordStore)(nil)
	_ filing.RecordDeleter  = (*RecordStore)(nil)
)
