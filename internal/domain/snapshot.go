package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the derived aggregate of a filing's records. It is rebuilt from
// records and the year's rule table and is never edited directly.
type Snapshot struct {
	Year         int    `json:"year"`
	RulesVersion string `json:"rules_version"`
	Currency     string `json:"currency"`

	PerFamily map[Family]decimal.Decimal `json:"per_family"`
	PerTag    map[Tag]decimal.Decimal    `json:"per_tag"`

	GrossIncome     decimal.Decimal `json:"gross_income"`
	ExemptIncome    decimal.Decimal `json:"exempt_income"`
	TotalDeductions decimal.Decimal `json:"total_deductions"`
	TaxableIncome   decimal.Decimal `json:"taxable_income"`
	StatutoryTax    decimal.Decimal `json:"statutory_tax"`
	TotalCredits    decimal.Decimal `json:"total_credits"`
	CreditsApplied  decimal.Decimal `json:"credits_applied"`
	TaxPayable      decimal.Decimal `json:"tax_payable"`

	TotalAssets      decimal.Decimal `json:"total_assets"`
	TotalLiabilities decimal.Decimal `json:"total_liabilities"`
	NetWorth         decimal.Decimal `json:"net_worth"`

	GSTOutput  decimal.Decimal `json:"gst_output"`
	GSTInput   decimal.Decimal `json:"gst_input"`
	GSTPayable decimal.Decimal `json:"gst_payable"`

	RecordCount int       `json:"record_count"`
	ComputedAt  time.Time `json:"computed_at"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.PerFamily = make(map[Family]decimal.Decimal, len(s.PerFamily))
	for k, v := range s.PerFamily {
		out.PerFamily[k] = v
	}
	out.PerTag = make(map[Tag]decimal.Decimal, len(s.PerTag))
	for k, v := range s.PerTag {
		out.PerTag[k] = v
	}
	return out
}

// Equal compares the computed figures of two snapshots, ignoring ComputedAt.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.Year != o.Year || s.RulesVersion != o.RulesVersion || s.Currency != o.Currency || s.RecordCount != o.RecordCount {
		return false
	}
	pairs := [][2]decimal.Decimal{
		{s.GrossIncome, o.GrossIncome},
		{s.ExemptIncome, o.ExemptIncome},
		{s.TotalDeductions, o.TotalDeductions},
		{s.TaxableIncome, o.TaxableIncome},
		{s.StatutoryTax, o.StatutoryTax},
		{s.TotalCredits, o.TotalCredits},
		{s.CreditsApplied, o.CreditsApplied},
		{s.TaxPayable, o.TaxPayable},
		{s.TotalAssets, o.TotalAssets},
		{s.TotalLiabilities, o.TotalLiabilities},
		{s.NetWorth, o.NetWorth},
		{s.GSTOutput, o.GSTOutput},
		{s.GSTInput, o.GSTInput},
		{s.GSTPayable, o.GSTPayable},
	}
	for _, p := range pairs {
		if !p[0].Equal(p[1]) {
			return false
		}
	}
	if len(s.PerTag) != len(o.PerTag) || len(s.PerFamily) != len(o.PerFamily) {
		return false
	}
	for k, v := range s.PerTag {
		if !v.Equal(o.PerTag[k]) {
			return false
		}
	}
	for k, v := range s.PerFamily {
		if !v.Equal(o.PerFamily[k]) {
			return false
		}
	}
	return true
}
