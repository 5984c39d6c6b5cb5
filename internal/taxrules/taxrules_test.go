package taxrules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDefaultTable(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)
	assert.Equal(t, []int{2023, 2024, 2025}, table.Years())

	y, ok := table.Lookup(2025)
	require.True(t, ok)
	assert.True(t, y.IncomeMustCoverDeductions)
	assert.True(t, y.Exemption(domain.TagAgriculture).Equal(d("1")))
	assert.True(t, y.Exemption(domain.TagSalary).IsZero())

	_, ok = table.Lookup(1999)
	assert.False(t, ok)
}

func TestStatutoryTaxProgressive(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)
	y, _ := table.Lookup(2025)

	tests := []struct {
		taxable string
		want    string
	}{
		{"0", "0"},
		{"-100", "0"},
		{"600000", "0"},
		{"600001", "0.05"},
		{"1500000", "75000"},
		{"5000000", "1015000"},
	}
	for _, tt := range tests {
		t.Run(tt.taxable, func(t *testing.T) {
			got := y.StatutoryTax(d(tt.taxable))
			assert.True(t, d(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestStatutoryTaxFlat(t *testing.T) {
	table, err := Parse([]byte(`
years:
  - year: 2030
    flat_rate: "0.10"
`))
	require.NoError(t, err)
	y, ok := table.Lookup(2030)
	require.True(t, ok)
	assert.Equal(t, domain.DefaultCurrency, y.Currency)
	assert.True(t, d("8000").Equal(y.StatutoryTax(d("80000"))))
	assert.True(t, d("0.33").Equal(y.StatutoryTax(d("3.33"))))
}

func TestParseRejectsBadTables(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", `years: []`},
		{"unknown key", "years:\n  - year: 2030\n    flat_rate: \"0.1\"\n    surcharge: \"0.1\"\n"},
		{"no rates", "years:\n  - year: 2030\n"},
		{"both rates", "years:\n  - year: 2030\n    flat_rate: \"0.1\"\n    brackets:\n      - { over: \"0\", rate: \"0\" }\n"},
		{"rate above one", "years:\n  - year: 2030\n    flat_rate: \"1.5\"\n"},
		{"unsorted brackets", "years:\n  - year: 2030\n    brackets:\n      - { over: \"0\", rate: \"0\" }\n      - { over: \"0\", rate: \"0.1\" }\n"},
		{"first bracket above zero", "years:\n  - year: 2030\n    brackets:\n      - { over: \"10\", rate: \"0\" }\n"},
		{"unknown exemption tag", "years:\n  - year: 2030\n    flat_rate: \"0.1\"\n    exemptions:\n      lottery: \"1\"\n"},
		{"exemption on a deduction", "years:\n  - year: 2030\n    flat_rate: \"0.1\"\n    exemptions:\n      utility: \"1\"\n"},
		{"duplicate year", "years:\n  - year: 2030\n    flat_rate: \"0.1\"\n  - year: 2030\n    flat_rate: \"0.2\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("years:\n  - year: 2031\n    version: v9\n    flat_rate: \"0.2\"\n"), 0o600))

	table, err := Load(path)
	require.NoError(t, err)
	y, ok := table.Lookup(2031)
	require.True(t, ok)
	assert.Equal(t, "v9", y.Version)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
