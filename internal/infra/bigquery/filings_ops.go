package bigquery

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	bq "github.com/M-Abdullah-Amjad/filer-pak/internal/bigquery"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/filing"
)

const filingSelect = `
	SELECT
		filing_id,
		user_id,
		tax_year,
		status,
		revision,
		amends_id,
		version,
		tax_payable,
		TO_JSON_STRING(doc) AS doc,
		created_ts,
		updated_ts
	FROM `

// FilingRepository implements filing.Repository on BigQuery. Uniqueness and
// the version check are expressed in the DML statements themselves.
type FilingRepository struct {
	client *bigquery.Client
	ds     Dataset
}

// NewFilingRepository creates a repository with a shared client.
func NewFilingRepository(client *bigquery.Client, ds Dataset) *FilingRepository {
	return &FilingRepository{client: client, ds: ds}
}

func filingParams(row *bq.FilingRow) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "filing_id", Value: row.FilingID},
		{Name: "user_id", Value: row.UserID},
		{Name: "tax_year", Value: row.TaxYear},
		{Name: "status", Value: row.Status},
		{Name: "revision", Value: row.Revision},
		{Name: "amends_id", Value: row.AmendsID},
		{Name: "version", Value: row.Version},
		{Name: "tax_payable", Value: row.TaxPayable},
		{Name: "doc", Value: row.Doc},
		{Name: "created_ts", Value: row.CreatedTS},
		{Name: "updated_ts", Value: row.UpdatedTS},
	}
}

// Create implements filing.Repository. The insert only happens when neither
// the id nor an original filing for the same user and year exists.
func (r *FilingRepository) Create(ctx context.Context, f *domain.Filing) error {
	const op = "Create"
	if f.ID == "" {
		return domain.Validation(op, "filing id is required")
	}
	row, err := bq.NewFilingRow(f)
	if err != nil {
		return domain.NewError(domain.CodeDataIntegrity, op, "%v", err)
	}

	table := r.ds.Table(filingsTable)
	q := r.client.Query(`
		INSERT INTO ` + table + ` (
			filing_id, user_id, tax_year, status, revision, amends_id,
			version, tax_payable, doc, created_ts, updated_ts
		)
		SELECT
			@filing_id, @user_id, @tax_year, @status, @revision, @amends_id,
			@version, @tax_payable, PARSE_JSON(@doc), @created_ts, @updated_ts
		FROM UNNEST([1])
		WHERE NOT EXISTS (
			SELECT 1 FROM ` + table + `
			WHERE filing_id = @filing_id
			   OR (@original AND amends_id IS NULL AND user_id = @user_id AND tax_year = @tax_year)
		)
	`)
	q.Parameters = append(filingParams(row), bigquery.QueryParameter{Name: "original", Value: !f.IsAmendment()})

	n, err := runDML(ctx, q)
	if err != nil {
		return storeErr(op, err)
	}
	if n == 0 {
		return domain.AlreadyExists(op, "filing %s or an original filing for user %s and year %d already exists", f.ID, f.UserID, f.Year)
	}
	return nil
}

// Get implements filing.Repository.
func (r *FilingRepository) Get(ctx context.Context, id string) (*domain.Filing, error) {
	const op = "Get"
	row, err := r.getRow(ctx, id)
	if err != nil {
		return nil, storeErr(op, err)
	}
	if row == nil {
		return nil, domain.NotFound(op, id)
	}
	f, err := row.ToFiling()
	if err != nil {
		return nil, domain.NewError(domain.CodeDataIntegrity, op, "%v", err).ForFiling(id)
	}
	return f, nil
}

func (r *FilingRepository) getRow(ctx context.Context, id string) (*bq.FilingRow, error) {
	q := r.client.Query(filingSelect + r.ds.Table(filingsTable) + `
		WHERE filing_id = @filing_id
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{{Name: "filing_id", Value: id}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("getRow: reading query: %w", err)
	}
	var row bq.FilingRow
	err = it.Next(&row)
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getRow: iterating: %w", err)
	}
	return &row, nil
}

// FindByUserYear implements filing.Repository.
func (r *FilingRepository) FindByUserYear(ctx context.Context, userID string, year int) ([]*domain.Filing, error) {
	return r.list(ctx, "FindByUserYear", `user_id = @user_id AND tax_year = @tax_year`,
		bigquery.QueryParameter{Name: "user_id", Value: userID},
		bigquery.QueryParameter{Name: "tax_year", Value: int64(year)})
}

// ListByUser implements filing.Repository.
func (r *FilingRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Filing, error) {
	return r.list(ctx, "ListByUser", `user_id = @user_id`,
		bigquery.QueryParameter{Name: "user_id", Value: userID})
}

// ListByStatus implements filing.Repository.
func (r *FilingRepository) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Filing, error) {
	return r.list(ctx, "ListByStatus", `status = @status`,
		bigquery.QueryParameter{Name: "status", Value: string(status)})
}

func (r *FilingRepository) list(ctx context.Context, op, where string, params ...bigquery.QueryParameter) ([]*domain.Filing, error) {
	q := r.client.Query(filingSelect + r.ds.Table(filingsTable) + `
		WHERE ` + where + `
		ORDER BY tax_year DESC, revision DESC, filing_id
	`)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, storeErr(op, fmt.Errorf("reading query: %w", err))
	}

	var filings []*domain.Filing
	for {
		var row bq.FilingRow
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, storeErr(op, fmt.Errorf("iterating: %w", err))
		}
		f, err := row.ToFiling()
		if err != nil {
			return nil, domain.NewError(domain.CodeDataIntegrity, op, "%v", err).ForFiling(row.FilingID)
		}
		filings = append(filings, f)
	}
	return filings, nil
}

// Update implements filing.Repository.
func (r *FilingRepository) Update(ctx context.Context, f *domain.Filing, expectedVersion int64) error {
	const op = "Update"
	row, err := bq.NewFilingRow(f)
	if err != nil {
		return domain.NewError(domain.CodeDataIntegrity, op, "%v", err)
	}

	q := r.client.Query(`
		UPDATE ` + r.ds.Table(filingsTable) + `
		SET status = @status,
			revision = @revision,
			amends_id = @amends_id,
			version = @version,
			tax_payable = @tax_payable,
			doc = PARSE_JSON(@doc),
			updated_ts = @updated_ts
		WHERE filing_id = @filing_id AND version = @expected
	`)
	q.Parameters = append(filingParams(row), bigquery.QueryParameter{Name: "expected", Value: expectedVersion})

	n, err := runDML(ctx, q)
	if err != nil {
		return storeErr(op, err)
	}
	if n > 0 {
		return nil
	}
	return r.missedUpdate(ctx, op, f.ID, expectedVersion)
}

// SaveSnapshot implements filing.Repository.
func (r *FilingRepository) SaveSnapshot(ctx context.Context, id string, version int64, snap domain.Snapshot, completed []domain.StepID) error {
	const op = "SaveSnapshot"
	f, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if f.Version != version {
		return domain.VersionConflict(op, id, version, f.Version)
	}
	s := snap.Clone()
	f.Snapshot = &s
	f.CompletedSteps = append([]domain.StepID(nil), completed...)

	row, err := bq.NewFilingRow(f)
	if err != nil {
		return domain.NewError(domain.CodeDataIntegrity, op, "%v", err)
	}
	q := r.client.Query(`
		UPDATE ` + r.ds.Table(filingsTable) + `
		SET tax_payable = @tax_payable,
			doc = PARSE_JSON(@doc)
		WHERE filing_id = @filing_id AND version = @version
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "tax_payable", Value: row.TaxPayable},
		{Name: "doc", Value: row.Doc},
		{Name: "filing_id", Value: id},
		{Name: "version", Value: version},
	}

	n, err := runDML(ctx, q)
	if err != nil {
		return storeErr(op, err)
	}
	if n > 0 {
		return nil
	}
	return r.missedUpdate(ctx, op, id, version)
}

// missedUpdate explains a DML update that matched no row.
func (r *FilingRepository) missedUpdate(ctx context.Context, op, id string, expected int64) error {
	row, err := r.getRow(ctx, id)
	if err != nil {
		return storeErr(op, err)
	}
	if row == nil {
		return domain.NotFound(op, id)
	}
	return domain.VersionConflict(op, id, expected, row.Version)
}

// Ensure FilingRepository implements filing.Repository.
var _ filing.Repository = (*FilingRepository)(nil)
