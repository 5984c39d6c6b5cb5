package pipeline

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

// ReceiptValidator checks a scanned receipt before its amount is trusted.
type ReceiptValidator struct {
	currency string
	now      func() time.Time
}

// NewReceiptValidator creates a validator expecting the given currency.
// An empty currency accepts any.
func NewReceiptValidator(currency string) *ReceiptValidator {
	return &ReceiptValidator{currency: normalizeCurrency(currency), now: time.Now}
}

// Validate rejects receipts with a non-positive amount, a different
// currency, a missing reference or a payment date in the future.
func (v *ReceiptValidator) Validate(r *Receipt) error {
	const op = "ValidateReceipt"
	if r == nil {
		return domain.Validation(op, "no receipt")
	}
	if !r.Amount.IsPositive() {
		return domain.Validation(op, "receipt amount %s is not positive", r.Amount.String())
	}
	if v.currency != "" && r.Currency != v.currency {
		return domain.Validation(op, "receipt is in %s, expected %s", r.Currency, v.currency)
	}
	if r.Reference == "" {
		return domain.Validation(op, "receipt has no CPR or PSID reference")
	}
	if r.PaidOn != nil && r.PaidOn.After(civil.DateOf(v.now())) {
		return domain.Validation(op, "receipt is dated %s, which is in the future", r.PaidOn.String())
	}
	return nil
}
