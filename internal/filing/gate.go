package filing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

// Reason codes reported by the finalization gate.
const (
	ReasonStepIncomplete       = "STEP_INCOMPLETE"
	ReasonPaymentNotApproved   = "PAYMENT_NOT_APPROVED"
	ReasonSnapshotInconsistent = "SNAPSHOT_INCONSISTENT"
)

// CanFinalize reports whether the filing would pass the finalization gate,
// with every failing check. Store outages are returned as errors.
func (m *Manager) CanFinalize(ctx context.Context, id string) (bool, []domain.Reason, error) {
	f, err := m.repo.Get(ctx, id)
	if err != nil {
		return false, nil, err
	}
	if f.IsFinalized() {
		return false, []domain.Reason{{Code: string(domain.CodeFilingLocked), Message: "filing is already finalized"}}, nil
	}
	d, err := m.derive(ctx, f)
	if err != nil {
		return false, nil, err
	}
	reasons := m.gate(f, d)
	return len(reasons) == 0, reasons, nil
}

// gate evaluates every finalization check and never stops at the first failure.
func (m *Manager) gate(f *domain.Filing, d *derived) []domain.Reason {
	var reasons []domain.Reason

	for _, st := range d.evaluate(f).Incomplete() {
		reasons = append(reasons, domain.Reason{
			Code:    ReasonStepIncomplete,
			Step:    st.ID,
			Message: fmt.Sprintf("%s: %s", st.Title, st.Reason),
		})
	}

	if f.PaymentProof == nil || f.PaymentProof.Status != domain.ProofApproved {
		msg := "payment has not been verified"
		if f.PaymentProof == nil {
			msg = "no payment proof attached"
		}
		reasons = append(reasons, domain.Reason{Code: ReasonPaymentNotApproved, Step: domain.StepPayment, Message: msg})
	}

	if d.snapErr != nil {
		code := string(domain.CodeOf(d.snapErr))
		if code == "" {
			code = string(domain.CodeDataIntegrity)
		}
		msg := d.snapErr.Error()
		var de *domain.Error
		if errors.As(d.snapErr, &de) {
			msg = de.Message
			if de.RecordID != "" {
				msg = fmt.Sprintf("record %s: %s", de.RecordID, de.Message)
			}
		}
		reasons = append(reasons, domain.Reason{Code: code, Step: domain.StepReview, Message: msg})
		return reasons
	}
	if d.snap == nil {
		return append(reasons, domain.Reason{Code: ReasonSnapshotInconsistent, Message: "summary has not been computed"})
	}

	mustCover := false
	if y, ok := m.agg.Rules(f.Year); ok {
		mustCover = y.IncomeMustCoverDeductions
	}
	for _, msg := range consistencyProblems(*d.snap, mustCover) {
		reasons = append(reasons, domain.Reason{Code: ReasonSnapshotInconsistent, Step: domain.StepReview, Message: msg})
	}
	return reasons
}

func consistencyProblems(s domain.Snapshot, incomeMustCoverDeductions bool) []string {
	var out []string
	if s.TaxableIncome.IsNegative() {
		out = append(out, "taxable income is negative")
	}
	if s.TaxPayable.IsNegative() {
		out = append(out, "tax payable is negative")
	}
	if !s.TaxPayable.Equal(s.StatutoryTax.Sub(s.CreditsApplied)) {
		out = append(out, "tax payable does not equal statutory tax minus applied credits")
	}
	if s.CreditsApplied.GreaterThan(s.StatutoryTax) {
		out = append(out, "applied credits exceed statutory tax")
	}
	wantTaxable := s.GrossIncome.Sub(s.TotalDeductions)
	if wantTaxable.IsNegative() {
		wantTaxable = decimal.Zero
	}
	if !s.TaxableIncome.Equal(wantTaxable) {
		out = append(out, "taxable income does not match gross income minus deductions")
	}
	if incomeMustCoverDeductions && s.GrossIncome.LessThan(s.TotalDeductions) {
		out = append(out, fmt.Sprintf("deductions (%s) exceed gross income (%s)", s.TotalDeductions, s.GrossIncome))
	}
	return out
}
