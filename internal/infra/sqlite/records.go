package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/aggregate"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/filing"
)

const recordColumns = `id, filing_id, family, tag, amounts, currency, note, created_at, updated_at`

// RecordStore implements aggregate.RecordStore on SQLite.
type RecordStore struct {
	db *sql.DB
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(op string, row scanner) (domain.CategoryRecord, error) {
	var (
		rec              domain.CategoryRecord
		family, tag      string
		amounts          []byte
		created, updated int64
	)
	if err := row.Scan(&rec.ID, &rec.FilingID, &family, &tag, &amounts, &rec.Currency, &rec.Note, &created, &updated); err != nil {
		return domain.CategoryRecord{}, storeErr(op, err)
	}
	rec.Family = domain.Family(family)
	rec.Tag = domain.Tag(tag)
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	if err := json.Unmarshal(amounts, &rec.Amounts); err != nil {
		return domain.CategoryRecord{}, domain.DataIntegrity(op, rec.FilingID, rec.ID, "amounts are not valid json: %v", err)
	}
	return rec, nil
}

// PutRecord inserts or replaces a record. Missing ids and timestamps are
// filled. A record cannot move between filings, and a finalized filing
// takes no writes.
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
	if rec.Amounts == nil {
		rec.Amounts = map[string]decimal.Decimal{}
	}
	amounts, err := json.Marshal(rec.Amounts)
	if err != nil {
		return domain.CategoryRecord{}, domain.Validation(op, "encoding amounts: %v", err)
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	var created int64
	err = s.db.QueryRowContext(ctx, `INSERT INTO category_records (`+recordColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM filings WHERE id = ? AND status = ?)
		ON CONFLICT(id) DO UPDATE SET
			family = excluded.family,
			tag = excluded.tag,
			amounts = excluded.amounts,
			currency = excluded.currency,
			note = excluded.note,
			updated_at = excluded.updated_at
		WHERE category_records.filing_id = excluded.filing_id
		RETURNING created_at`,
		rec.ID, rec.FilingID, string(rec.Family), string(rec.Tag), string(amounts), rec.Currency, rec.Note,
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
		rec.FilingID, string(domain.StatusFinalized)).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		if lerr := s.checkWritable(ctx, op, rec.FilingID); lerr != nil {
			return domain.CategoryRecord{}, lerr
		}
		return domain.CategoryRecord{}, domain.Validation(op, "record %s belongs to another filing", rec.ID).ForFiling(rec.FilingID)
	}
	if err != nil {
		return domain.CategoryRecord{}, storeErr(op, err)
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	return rec.Clone(), nil
}

// DeleteRecord removes one record.
func (s *RecordStore) DeleteRecord(ctx context.Context, filingID, recordID string) error {
	const op = "DeleteRecord"
	res, err := s.db.ExecContext(ctx, `DELETE FROM category_records
		WHERE filing_id = ? AND id = ?
		AND NOT EXISTS (SELECT 1 FROM filings WHERE id = ? AND status = ?)`,
		filingID, recordID, filingID, string(domain.StatusFinalized))
	if err != nil {
		return storeErr(op, err)
	}
	n, err := res.RowsAffected()
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

// checkWritable returns FILING_LOCKED when the filing is finalized. Writes
// carry the same condition in their statement; this only explains a write
// that changed nothing.
func (s *RecordStore) checkWritable(ctx context.Context, op, filingID string) error {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM filings WHERE id = ? AND status = ?`,
		filingID, string(domain.StatusFinalized)).Scan(&n)
	if err != nil {
		return storeErr(op, err)
	}
	if n > 0 {
		return domain.FilingLocked(op, filingID)
	}
	return nil
}

// DeleteRecords implements filing.RecordDeleter.
func (s *RecordStore) DeleteRecords(ctx context.Context, filingID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM category_records WHERE filing_id = ?`, filingID); err != nil {
		return storeErr("DeleteRecords", err)
	}
	return nil
}

// ListRecords implements aggregate.RecordSource. Rows are streamed; the
// connection is held until the iterator is drained or stopped.
func (s *RecordStore) ListRecords(ctx context.Context, filingID string, family domain.Family) (aggregate.RecordIterator, error) {
	const op = "ListRecords"
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM category_records
		WHERE filing_id = ? AND family = ?
		ORDER BY created_at, id`, filingID, string(family))
	if err != nil {
		return nil, storeErr(op, err)
	}
	return &rowIterator{rows: rows}, nil
}

// CountRecords implements aggregate.RecordSource.
func (s *RecordStore) CountRecords(ctx context.Context, filingID string, family domain.Family) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM category_records WHERE filing_id = ? AND family = ?`,
		filingID, string(family)).Scan(&n)
	if err != nil {
		return 0, storeErr("CountRecords", err)
	}
	return n, nil
}

// Fingerprint implements aggregate.RecordFingerprinter.
func (s *RecordStore) Fingerprint(ctx context.Context, filingID string) (aggregate.Fingerprint, error) {
	var (
		fp     aggregate.Fingerprint
		latest int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(MAX(updated_at), 0)
		FROM category_records WHERE filing_id = ?`, filingID).Scan(&fp.Count, &latest)
	if err != nil {
		return aggregate.Fingerprint{}, storeErr("Fingerprint", err)
	}
	if latest > 0 {
		fp.LastUpdated = time.Unix(0, latest).UTC()
	}
	return fp, nil
}

// CopyRecords implements aggregate.RecordCopier. Copies get new ids and the
// whole copy commits or none of it does.
func (s *RecordStore) CopyRecords(ctx context.Context, fromFilingID, toFilingID string) error {
	const op = "CopyRecords"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(op, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT `+recordColumns+` FROM category_records WHERE filing_id = ?`, fromFilingID)
	if err != nil {
		return storeErr(op, err)
	}
	var src []domain.CategoryRecord
	for rows.Next() {
		rec, err := scanRecord(op, rows)
		if err != nil {
			rows.Close()
			return err
		}
		src = append(src, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return storeErr(op, err)
	}
	rows.Close()

	for _, rec := range src {
		amounts, err := json.Marshal(rec.Amounts)
		if err != nil {
			return domain.DataIntegrity(op, fromFilingID, rec.ID, "encoding amounts: %v", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO category_records (`+recordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), toFilingID, string(rec.Family), string(rec.Tag), string(amounts),
			rec.Currency, rec.Note, rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano())
		if err != nil {
			return storeErr(op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr(op, err)
	}
	return nil
}

// rowIterator adapts *sql.Rows to aggregate.RecordIterator.
type rowIterator struct {
	rows *sql.Rows
	done bool
}

func (it *rowIterator) Next() (domain.CategoryRecord, error) {
	if it.done {
		return domain.CategoryRecord{}, iterator.Done
	}
	if !it.rows.Next() {
		err := it.rows.Err()
		it.Stop()
		if err != nil {
			return domain.CategoryRecord{}, storeErr("ListRecords", err)
		}
		return domain.CategoryRecord{}, iterator.Done
	}
	return scanRecord("ListRecords", it.rows)
}

func (it *rowIterator) Stop() {
	if it.done {
		return
	}
	it.done = true
	it.rows.Close()
}

var (
	_ aggregate.RecordStore = (*RecordStore)(nil)
	_ filing.RecordDeleter  = (*RecordStore)(nil)
)
