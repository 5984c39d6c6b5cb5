// Package taxrules loads the year-keyed statutory rate and exemption tables.
package taxrules

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

//go:embed rules.yaml
var defaultRules []byte

// Bracket is one marginal slab.
type Bracket struct {
	Over decimal.Decimal
	Rate decimal.Decimal
}

// Year is the rule set for one tax year.
type Year struct {
	Year                      int
	Version                   string
	Currency                  string
	FlatRate                  *decimal.Decimal
	Brackets                  []Bracket
	Exemptions                map[domain.Tag]decimal.Decimal
	IncomeMustCoverDeductions bool
}

// Exemption returns the exempt fraction for a tag, zero when none applies.
func (y Year) Exemption(tag domain.Tag) decimal.Decimal {
	if f, ok := y.Exemptions[tag]; ok {
		return f
	}
	return decimal.Zero
}

// StatutoryTax computes the tax on taxable income, rounded to two places.
func (y Year) StatutoryTax(taxable decimal.Decimal) decimal.Decimal {
	if !taxable.IsPositive() {
		return decimal.Zero
	}
	if y.FlatRate != nil {
		return taxable.Mul(*y.FlatRate).Round(2)
	}

	tax := decimal.Zero
	for i, b := range y.Brackets {
		if taxable.LessThanOrEqual(b.Over) {
			break
		}
		upper := taxable
		if i+1 < len(y.Brackets) && y.Brackets[i+1].Over.LessThan(taxable) {
			upper = y.Brackets[i+1].Over
		}
		tax = tax.Add(upper.Sub(b.Over).Mul(b.Rate))
	}
	return tax.Round(2)
}

// Table holds the rules of every configured year.
type Table struct {
	years map[int]Year
}

// Lookup returns the rules for a year.
func (t *Table) Lookup(year int) (Year, bool) {
	y, ok := t.years[year]
	return y, ok
}

// Years lists the configured years in ascending order.
func (t *Table) Years() []int {
	out := make([]int, 0, len(t.years))
	for y := range t.years {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

type fileFormat struct {
	Years []yearEntry `yaml:"years"`
}

type yearEntry struct {
	Year                      int               `yaml:"year"`
	Version                   string            `yaml:"version"`
	Currency                  string            `yaml:"currency"`
	FlatRate                  string            `yaml:"flat_rate"`
	IncomeMustCoverDeductions bool              `yaml:"income_must_cover_deductions"`
	Brackets                  []bracketEntry    `yaml:"brackets"`
	Exemptions                map[string]string `yaml:"exemptions"`
}

type bracketEntry struct {
	Over string `yaml:"over"`
	Rate string `yaml:"rate"`
}

// Default returns the built-in table.
func Default() (*Table, error) {
	return Parse(defaultRules)
}

// Load reads a table from a YAML file. An empty path loads the built-in table.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Load: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML table. Unknown keys are rejected.
func Parse(data []byte) (*Table, error) {
	var raw fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("Parse: decoding rules: %w", err)
	}
	if len(raw.Years) == 0 {
		return nil, fmt.Errorf("Parse: no years configured")
	}

	t := &Table{years: make(map[int]Year, len(raw.Years))}
	for _, e := range raw.Years {
		y, err := e.build()
		if err != nil {
			return nil, fmt.Errorf("Parse: year %d: %w", e.Year, err)
		}
		if _, dup := t.years[y.Year]; dup {
			return nil, fmt.Errorf("Parse: year %d configured twice", y.Year)
		}
		t.years[y.Year] = y
	}
	return t, nil
}

func (e yearEntry) build() (Year, error) {
	if e.Year <= 0 {
		return Year{}, fmt.Errorf("year must be positive")
	}
	y := Year{
		Year:                      e.Year,
		Version:                   e.Version,
		Currency:                  e.Currency,
		IncomeMustCoverDeductions: e.IncomeMustCoverDeductions,
		Exemptions:                make(map[domain.Tag]decimal.Decimal, len(e.Exemptions)),
	}
	if y.Currency == "" {
		y.Currency = domain.DefaultCurrency
	}
	if y.Version == "" {
		y.Version = fmt.Sprintf("%d", e.Year)
	}

	if e.FlatRate != "" {
		r, err := fraction("flat_rate", e.FlatRate)
		if err != nil {
			return Year{}, err
		}
		y.FlatRate = &r
	}
	if y.FlatRate == nil && len(e.Brackets) == 0 {
		return Year{}, fmt.Errorf("either flat_rate or brackets is required")
	}
	if y.FlatRate != nil && len(e.Brackets) > 0 {
		return Year{}, fmt.Errorf("flat_rate and brackets are mutually exclusive")
	}

	for i, b := range e.Brackets {
		over, err := decimal.NewFromString(b.Over)
		if err != nil {
			return Year{}, fmt.Errorf("bracket %d: over: %w", i, err)
		}
		rate, err := fraction(fmt.Sprintf("bracket %d rate", i), b.Rate)
		if err != nil {
			return Year{}, err
		}
		if i == 0 && !over.IsZero() {
			return Year{}, fmt.Errorf("first bracket must start at 0")
		}
		if i > 0 && !over.GreaterThan(y.Brackets[i-1].Over) {
			return Year{}, fmt.Errorf("bracket %d must start above bracket %d", i, i-1)
		}
		y.Brackets = append(y.Brackets, Bracket{Over: over, Rate: rate})
	}

	for name, v := range e.Exemptions {
		tag, err := domain.ParseTag(name)
		if err != nil {
			return Year{}, fmt.Errorf("exemptions: %w", err)
		}
		if s, _ := domain.LookupTag(tag); s.Family != domain.FamilyIncome {
			return Year{}, fmt.Errorf("exemptions: %s is not an income tag", tag)
		}
		f, err := fraction("exemption "+name, v)
		if err != nil {
			return Year{}, err
		}
		y.Exemptions[tag] = f
	}
	return y, nil
}

var one = decimal.NewFromInt(1)

func fraction(name, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", name, err)
	}
	if d.IsNegative() || d.GreaterThan(one) {
		return decimal.Zero, fmt.Errorf("%s must be between 0 and 1, got %s", name, s)
	}
	return d, nil
}
