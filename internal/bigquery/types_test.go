package bigquery

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

func TestRatConversion(t *testing.T) {
	d := decimal.RequireFromString("1234.56")
	assert.True(t, RatToDecimal(DecimalToRat(d)).Equal(d))
	assert.True(t, RatToDecimal(nil).IsZero())
	assert.Equal(t, "0.333333333", RatToDecimal(big.NewRat(1, 3)).String())
}

func TestFilingRow(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	f := &domain.Filing{
		ID:        "f1",
		UserID:    "u1",
		Year:      2024,
		Status:    domain.StatusPendingReview,
		Version:   4,
		Revision:  1,
		AmendsID:  "f0",
		Snapshot:  &domain.Snapshot{TaxPayable: decimal.NewFromInt(8000)},
		CreatedAt: now,
		UpdatedAt: now,
	}

	row, err := NewFilingRow(f)
	require.NoError(t, err)
	assert.Equal(t, int64(2024), row.TaxYear)
	assert.True(t, row.AmendsID.Valid)
	assert.Equal(t, "8000", row.TaxPayable.RatString())

	back, err := row.ToFiling()
	require.NoError(t, err)
	assert.Equal(t, "f0", back.AmendsID)
	assert.True(t, back.Snapshot.TaxPayable.Equal(decimal.NewFromInt(8000)))

	row.Version = 9
	back, err = row.ToFiling()
	require.NoError(t, err)
	assert.Equal(t, int64(9), back.Version)

	row.Doc = "{"
	_, err = row.ToFiling()
	assert.Error(t, err)
}

func TestNewFilingRow_NoSnapshot(t *testing.T) {
	row, err := NewFilingRow(&domain.Filing{ID: "f1"})
	require.NoError(t, err)
	assert.False(t, row.AmendsID.Valid)
	assert.Equal(t, "0", row.TaxPayable.RatString())
}

func TestRecordRow(t *testing.T) {
	rec := domain.CategoryRecord{
		ID:       "r1",
		FilingID: "f1",
		Family:   domain.FamilyIncome,
		Tag:      domain.TagSalary,
		Amounts:  map[string]decimal.Decimal{domain.FieldAmount: decimal.RequireFromString("100000.25")},
		Note:     "slip",
	}
	row, err := NewRecordRow(rec)
	require.NoError(t, err)
	assert.Equal(t, "400001/4", row.Amount.RatString())

	back, err := row.ToRecord()
	require.NoError(t, err)
	assert.Equal(t, "slip", back.Note)
	assert.True(t, back.Amounts[domain.FieldAmount].Equal(rec.Amounts[domain.FieldAmount]))

	row.Amounts = "not json"
	_, err = row.ToRecord()
	assert.True(t, domain.IsCode(err, domain.CodeDataIntegrity))
}
