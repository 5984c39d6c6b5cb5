// Package bigquery holds the BigQuery row shapes of filings and category
// records and their conversions to domain types.
package bigquery

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

// numericScale is the number of fractional digits of a BigQuery NUMERIC.
const numericScale = 9

// FilingRow represents a filing in BigQuery. Doc is the JSON encoding of the
// whole filing; the other columns are copies kept for filtering and reports.
type FilingRow struct {
	FilingID   string              `bigquery:"filing_id"`
	UserID     string              `bigquery:"user_id"`
	TaxYear    int64               `bigquery:"tax_year"`
	Status     string              `bigquery:"status"`
	Revision   int64               `bigquery:"revision"`
	AmendsID   bigquery.NullString `bigquery:"amends_id"`
	Version    int64               `bigquery:"version"`
	TaxPayable *big.Rat            `bigquery:"tax_payable"`
	Doc        string              `bigquery:"doc"`
	CreatedTS  time.Time           `bigquery:"created_ts"`
	UpdatedTS  time.Time           `bigquery:"updated_ts"`
}

// RecordRow represents a category record in BigQuery. Amount is the primary
// amount field; Amounts holds every field as JSON.
type RecordRow struct {
	RecordID  string              `bigquery:"record_id"`
	FilingID  string              `bigquery:"filing_id"`
	Family    string              `bigquery:"family"`
	Tag       string              `bigquery:"tag"`
	Amount    *big.Rat            `bigquery:"amount"`
	Amounts   string              `bigquery:"amounts"`
	Currency  string              `bigquery:"currency"`
	Note      bigquery.NullString `bigquery:"note"`
	CreatedTS time.Time           `bigquery:"created_ts"`
	UpdatedTS time.Time           `bigquery:"updated_ts"`
}

// DecimalToRat converts a decimal to the NUMERIC representation.
func DecimalToRat(d decimal.Decimal) *big.Rat {
	return d.Rat()
}

// RatToDecimal converts a NUMERIC value back to a decimal. A nil value is zero.
func RatToDecimal(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(r.FloatString(numericScale))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// NewFilingRow encodes a filing.
func NewFilingRow(f *domain.Filing) (*FilingRow, error) {
	doc, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("NewFilingRow: encoding filing %s: %w", f.ID, err)
	}
	payable := decimal.Zero
	if f.Snapshot != nil {
		payable = f.Snapshot.TaxPayable
	}
	return &FilingRow{
		FilingID:   f.ID,
		UserID:     f.UserID,
		TaxYear:    int64(f.Year),
		Status:     string(f.Status),
		Revision:   int64(f.Revision),
		AmendsID:   bigquery.NullString{StringVal: f.AmendsID, Valid: f.AmendsID != ""},
		Version:    f.Version,
		TaxPayable: DecimalToRat(payable),
		Doc:        string(doc),
		CreatedTS:  f.CreatedAt,
		UpdatedTS:  f.UpdatedAt,
	}, nil
}

// ToFiling decodes the filing document.
func (r *FilingRow) ToFiling() (*domain.Filing, error) {
	var f domain.Filing
	if err := json.Unmarshal([]byte(r.Doc), &f); err != nil {
		return nil, fmt.Errorf("ToFiling: decoding filing %s: %w", r.FilingID, err)
	}
	// The scalar columns win over the document when both are present.
	f.ID = r.FilingID
	f.Version = r.Version
	return &f, nil
}

// NewRecordRow encodes a category record.
func NewRecordRow(rec domain.CategoryRecord) (*RecordRow, error) {
	amounts, err := json.Marshal(rec.Amounts)
	if err != nil {
		return nil, fmt.Errorf("NewRecordRow: encoding amounts of %s: %w", rec.ID, err)
	}
	if rec.Amounts == nil {
		amounts = []byte("{}")
	}
	return &RecordRow{
		RecordID:  rec.ID,
		FilingID:  rec.FilingID,
		Family:    string(rec.Family),
		Tag:       string(rec.Tag),
		Amount:    DecimalToRat(rec.Amounts[domain.FieldAmount]),
		Amounts:   string(amounts),
		Currency:  rec.Currency,
		Note:      bigquery.NullString{StringVal: rec.Note, Valid: rec.Note != ""},
		CreatedTS: rec.CreatedAt,
		UpdatedTS: rec.UpdatedAt,
	}, nil
}

// ToRecord decodes the row. Malformed amounts are a data integrity failure
// of that record.
func (r *RecordRow) ToRecord() (domain.CategoryRecord, error) {
	rec := domain.CategoryRecord{
		ID:        r.RecordID,
		FilingID:  r.FilingID,
		Family:    domain.Family(r.Family),
		Tag:       domain.Tag(r.Tag),
		Currency:  r.Currency,
		CreatedAt: r.CreatedTS,
		UpdatedAt: r.UpdatedTS,
	}
	if r.Note.Valid {
		rec.Note = r.Note.StringVal
	}
	if err := json.Unmarshal([]byte(r.Amounts), &rec.Amounts); err != nil {
		return domain.CategoryRecord{}, domain.DataIntegrity("ToRecord", r.FilingID, r.RecordID, "amounts are not valid json: %v", err)
	}
	return rec, nil
}
