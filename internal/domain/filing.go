package domain

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle status of a filing.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusInProgress     Status = "in_progress"
	StatusPendingPayment Status = "pending_payment"
	StatusPendingReview  Status = "pending_review"
	StatusFinalized      Status = "finalized"
	StatusAmending       Status = "amending"
)

// StepID identifies a workflow step.
type StepID string

const (
	StepIdentity    StepID = "identity"
	StepIncome      StepID = "income"
	StepDeductions  StepID = "deductions"
	StepWealth      StepID = "wealth"
	StepLiabilities StepID = "liabilities"
	StepCredits     StepID = "credits"
	StepReview      StepID = "review"
	StepPayment     StepID = "payment"
	StepWrapUp      StepID = "wrapup"
)

// ProofStatus is the verification status of a payment proof.
type ProofStatus string

const (
	ProofPending  ProofStatus = "pending"
	ProofApproved ProofStatus = "approved"
	ProofRejected ProofStatus = "rejected"
)

// DefaultCurrency is used when a filing is created without one.
const DefaultCurrency = "PKR"

var taxpayerIDPattern = regexp.MustCompile(`^(\d{13}|\d{7}-?\d)$`)

// Profile holds the identity details collected by the first step.
type Profile struct {
	FullName   string `json:"full_name"`
	TaxpayerID string `json:"taxpayer_id"`
	Residency  string `json:"residency,omitempty"`
}

// Complete reports whether the profile is usable for a return and, if not, why.
func (p Profile) Complete() (bool, string) {
	if strings.TrimSpace(p.FullName) == "" {
		return false, "full name is required"
	}
	id := strings.ReplaceAll(strings.TrimSpace(p.TaxpayerID), "-", "")
	if id == "" {
		return false, "taxpayer id (CNIC or NTN) is required"
	}
	if !taxpayerIDPattern.MatchString(strings.TrimSpace(p.TaxpayerID)) && !taxpayerIDPattern.MatchString(id) {
		return false, "taxpayer id must be a 13-digit CNIC or an 8-digit NTN"
	}
	return true, ""
}

// PaymentProof is the evidence of tax payment attached at the payment step.
type PaymentProof struct {
	DocumentRef    string          `json:"document_ref"`
	DeclaredAmount decimal.Decimal `json:"declared_amount"`
	Status         ProofStatus     `json:"status"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	ReviewedAt     *time.Time      `json:"reviewed_at,omitempty"`
	ReviewerNote   string          `json:"reviewer_note,omitempty"`
}

// Filing is one user's return for one tax year.
type Filing struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Year     int    `json:"year"`
	Currency string `json:"currency"`

	Status      Status `json:"status"`
	CurrentStep StepID `json:"current_step"`

	// EnteredSteps are steps the user has moved into at least once.
	EnteredSteps []StepID `json:"entered_steps"`
	// CompletedSteps is a read model refreshed on every mutation.
	// Decisions always re-derive completeness instead of trusting it.
	CompletedSteps []StepID `json:"completed_steps"`
	// ConfirmedSteps are explicit user confirmations (review, wrap-up).
	ConfirmedSteps []StepID `json:"confirmed_steps"`
	// DeclaredNone are families the user declared to have no records.
	DeclaredNone []Family `json:"declared_none"`

	Profile Profile `json:"profile"`

	Version  int64     `json:"version"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`

	PaymentProof *PaymentProof `json:"payment_proof,omitempty"`
	FinalizedAt  *time.Time    `json:"finalized_at,omitempty"`

	Revision     int    `json:"revision"`
	AmendsID     string `json:"amends_id,omitempty"`
	SupersededBy string `json:"superseded_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAmendment reports whether the filing is a revision of an earlier one.
func (f *Filing) IsAmendment() bool {
	return f.AmendsID != ""
}

// IsFinalized reports whether the filing is read-only.
func (f *Filing) IsFinalized() bool {
	return f.Status == StatusFinalized
}

// HasEntered reports whether the step was entered.
func (f *Filing) HasEntered(s StepID) bool {
	return containsStep(f.EnteredSteps, s)
}

// HasConfirmed reports whether the step was confirmed.
func (f *Filing) HasConfirmed(s StepID) bool {
	return containsStep(f.ConfirmedSteps, s)
}

// DeclaredEmpty reports whether the family was declared to have no records.
func (f *Filing) DeclaredEmpty(fam Family) bool {
	for _, d := range f.DeclaredNone {
		if d == fam {
			return true
		}
	}
	return false
}

// SetDeclaredNone adds or removes a family from the declared-none set.
func (f *Filing) SetDeclaredNone(fam Family, none bool) {
	out := f.DeclaredNone[:0:0]
	for _, d := range f.DeclaredNone {
		if d != fam {
			out = append(out, d)
		}
	}
	if none {
		out = append(out, fam)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	f.DeclaredNone = out
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (f *Filing) Clone() *Filing {
	if f == nil {
		return nil
	}
	out := *f
	out.EnteredSteps = append([]StepID(nil), f.EnteredSteps...)
	out.CompletedSteps = append([]StepID(nil), f.CompletedSteps...)
	out.ConfirmedSteps = append([]StepID(nil), f.ConfirmedSteps...)
	out.DeclaredNone = append([]Family(nil), f.DeclaredNone...)
	if f.Snapshot != nil {
		s := f.Snapshot.Clone()
		out.Snapshot = &s
	}
	if f.PaymentProof != nil {
		p := *f.PaymentProof
		if f.PaymentProof.ReviewedAt != nil {
			t := *f.PaymentProof.ReviewedAt
			p.ReviewedAt = &t
		}
		out.PaymentProof = &p
	}
	if f.FinalizedAt != nil {
		t := *f.FinalizedAt
		out.FinalizedAt = &t
	}
	return &out
}

// AddStep appends s to set if missing.
func AddStep(set []StepID, s StepID) []StepID {
	if containsStep(set, s) {
		return set
	}
	return append(set, s)
}

// RemoveStep drops s from set.
func RemoveStep(set []StepID, s StepID) []StepID {
	out := set[:0:0]
	for _, x := range set {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}

func containsStep(set []StepID, s StepID) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}
