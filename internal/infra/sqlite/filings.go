package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/filing"
)

const filingColumns = `id, user_id, year, status, revision, amends_id, version, doc, created_at, updated_at`

// FilingRepository implements filing.Repository on SQLite.
type FilingRepository struct {
	db *sql.DB
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeFiling(op string, f *domain.Filing) ([]byte, error) {
	doc, err := json.Marshal(f)
	if err != nil {
		return nil, domain.NewError(domain.CodeDataIntegrity, op, "encoding filing %s: %v", f.ID, err)
	}
	return doc, nil
}

func decodeFiling(op string, id string, doc []byte) (*domain.Filing, error) {
	var f domain.Filing
	if err := json.Unmarshal(doc, &f); err != nil {
		return nil, domain.NewError(domain.CodeDataIntegrity, op, "decoding filing %s: %v", id, err).ForFiling(id)
	}
	return &f, nil
}

// Create implements filing.Repository.
func (r *FilingRepository) Create(ctx context.Context, f *domain.Filing) error {
	const op = "Create"
	if f.ID == "" {
		return domain.Validation(op, "filing id is required")
	}
	doc, err := encodeFiling(op, f)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO filings (`+filingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.Year, string(f.Status), f.Revision, nullString(f.AmendsID),
		f.Version, string(doc), f.CreatedAt.UnixNano(), f.UpdatedAt.UnixNano())
	if err != nil {
		if isConstraint(err) {
			return domain.AlreadyExists(op, "filing %s or an original filing for user %s and year %d already exists", f.ID, f.UserID, f.Year)
		}
		return storeErr(op, err)
	}
	return nil
}

// Get implements filing.Repository.
func (r *FilingRepository) Get(ctx context.Context, id string) (*domain.Filing, error) {
	const op = "Get"
	var doc []byte
	err := r.db.QueryRowContext(ctx, `SELECT doc FROM filings WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, id)
	}
	if err != nil {
		return nil, storeErr(op, err)
	}
	return decodeFiling(op, id, doc)
}

// FindByUserYear implements filing.Repository.
func (r *FilingRepository) FindByUserYear(ctx context.Context, userID string, year int) ([]*domain.Filing, error) {
	return r.list(ctx, "FindByUserYear", `user_id = ? AND year = ?`, userID, year)
}

// ListByUser implements filing.Repository.
func (r *FilingRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Filing, error) {
	return r.list(ctx, "ListByUser", `user_id = ?`, userID)
}

// ListByStatus implements filing.Repository.
func (r *FilingRepository) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Filing, error) {
	return r.list(ctx, "ListByStatus", `status = ?`, string(status))
}

func (r *FilingRepository) list(ctx context.Context, op, where string, args ...any) ([]*domain.Filing, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, doc FROM filings WHERE `+where+` ORDER BY year DESC, revision DESC, id`, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var out []*domain.Filing
	for rows.Next() {
		var (
			id  string
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, storeErr(op, err)
		}
		f, err := decodeFiling(op, id, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

// Update implements filing.Repository.
func (r *FilingRepository) Update(ctx context.Context, f *domain.Filing, expectedVersion int64) error {
	const op = "Update"
	doc, err := encodeFiling(op, f)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `UPDATE filings
		SET status = ?, revision = ?, amends_id = ?, version = ?, doc = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(f.Status), f.Revision, nullString(f.AmendsID), f.Version, string(doc), f.UpdatedAt.UnixNano(),
		f.ID, expectedVersion)
	if err != nil {
		return storeErr(op, err)
	}
	return r.checkApplied(ctx, op, res, f.ID, expectedVersion)
}

// SaveSnapshot implements filing.Repository.
func (r *FilingRepository) SaveSnapshot(ctx context.Context, id string, version int64, snap domain.Snapshot, completed []domain.StepID) error {
	const op = "SaveSnapshot"
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(op, err)
	}
	defer tx.Rollback()

	var (
		doc    []byte
		stored int64
	)
	err = tx.QueryRowContext(ctx, `SELECT doc, version FROM filings WHERE id = ?`, id).Scan(&doc, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(op, id)
	}
	if err != nil {
		return storeErr(op, err)
	}
	if stored != version {
		return domain.VersionConflict(op, id, version, stored)
	}

	f, err := decodeFiling(op, id, doc)
	if err != nil {
		return err
	}
	s := snap.Clone()
	f.Snapshot = &s
	f.CompletedSteps = append([]domain.StepID(nil), completed...)
	if doc, err = encodeFiling(op, f); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE filings SET doc = ? WHERE id = ? AND version = ?`,
		string(doc), id, version); err != nil {
		return storeErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(op, err)
	}
	return nil
}

// checkApplied turns a zero-row update into NotFound or VersionConflict.
func (r *FilingRepository) checkApplied(ctx context.Context, op string, res sql.Result, id string, expected int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(op, err)
	}
	if n > 0 {
		return nil
	}
	var actual int64
	err = r.db.QueryRowContext(ctx, `SELECT version FROM filings WHERE id = ?`, id).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(op, id)
	}
	if err != nil {
		return storeErr(op, fmt.Errorf("reading version after failed update: %w", err))
	}
	return domain.VersionConflict(op, id, expected, actual)
}

// Ensure FilingRepository implements filing.Repository.
var _ filing.Repository = (*FilingRepository)(nil)
