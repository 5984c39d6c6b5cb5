package pipeline

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Receipt is a normalized payment receipt read off a proof document.
type Receipt struct {
	Amount    decimal.Decimal `json:"amount"`            // from "amount"
	Currency  string          `json:"currency"`          // from "currency", DefaultCurrency when absent
	PaidOn    *civil.Date     `json:"paid_on,omitempty"` // from "paid_on" (YYYY-MM-DD) or nil
	Reference string          `json:"reference"`         // PSID or CPR number, from "reference"
	Bank      string          `json:"bank,omitempty"`    // from "bank" or ""
}
