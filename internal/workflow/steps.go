// Package workflow holds the ordered step table of a filing and derives
// step completeness and enterability from filing state.
package workflow

import (
	"fmt"
	"strings"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

// StepDefinition is a static description of one step.
type StepDefinition struct {
	ID                   domain.StepID
	Ordinal              int
	Title                string
	Family               domain.Family
	DependsOn            []domain.StepID
	RequiresConfirmation bool

	// ready reports whether the step's own conditions hold, ignoring
	// confirmation. The returned string explains a false result.
	ready func(in Input) (bool, string)
}

// Steps is the step table in ordinal order.
var Steps = []StepDefinition{
	{
		ID: domain.StepIdentity, Ordinal: 1, Title: "Personal information",
		ready: func(in Input) (bool, string) { return in.Filing.Profile.Complete() },
	},
	familyStep(domain.StepIncome, 2, "Income sources", domain.FamilyIncome, domain.StepIdentity),
	familyStep(domain.StepDeductions, 3, "Deductions", domain.FamilyDeduction, domain.StepIncome),
	familyStep(domain.StepWealth, 4, "Assets and wealth", domain.FamilyAsset, domain.StepIdentity),
	familyStep(domain.StepLiabilities, 5, "Liabilities", domain.FamilyLiability, domain.StepWealth),
	familyStep(domain.StepCredits, 6, "Tax credits", domain.FamilyCredit, domain.StepIncome),
	{
		ID: domain.StepReview, Ordinal: 7, Title: "Review summary",
		DependsOn: []domain.StepID{
			domain.StepIncome, domain.StepDeductions, domain.StepWealth,
			domain.StepLiabilities, domain.StepCredits,
		},
		RequiresConfirmation: true,
		ready: func(in Input) (bool, string) {
			if in.SnapshotErr != nil {
				return false, fmt.Sprintf("summary cannot be computed: %v", in.SnapshotErr)
			}
			if in.Snapshot == nil {
				return false, "summary has not been computed"
			}
			return true, ""
		},
	},
	{
		ID: domain.StepPayment, Ordinal: 8, Title: "Tax payment",
		DependsOn: []domain.StepID{domain.StepReview},
		ready: func(in Input) (bool, string) {
			p := in.Filing.PaymentProof
			switch {
			case p == nil:
				return false, "payment proof has not been attached"
			case p.Status == domain.ProofRejected:
				return false, "payment proof was rejected; attach a new one"
			}
			return true, ""
		},
	},
	{
		ID: domain.StepWrapUp, Ordinal: 9, Title: "Declaration and documents",
		DependsOn:            []domain.StepID{domain.StepPayment},
		RequiresConfirmation: true,
		ready:                func(Input) (bool, string) { return true, "" },
	},
}

func familyStep(id domain.StepID, ordinal int, title string, fam domain.Family, dep domain.StepID) StepDefinition {
	return StepDefinition{
		ID: id, Ordinal: ordinal, Title: title, Family: fam,
		DependsOn: []domain.StepID{dep},
		ready: func(in Input) (bool, string) {
			if in.Counts[fam] > 0 || in.Filing.DeclaredEmpty(fam) {
				return true, ""
			}
			return false, fmt.Sprintf("add at least one %s record or declare that there are none", fam)
		},
	}
}

var byID = func() map[domain.StepID]StepDefinition {
	m := make(map[domain.StepID]StepDefinition, len(Steps))
	for _, s := range Steps {
		m[s.ID] = s
	}
	return m
}()

// Lookup returns the definition of a step.
func Lookup(id domain.StepID) (StepDefinition, bool) {
	s, ok := byID[id]
	return s, ok
}

// ParseStep normalizes and validates a step id.
func ParseStep(s string) (domain.StepID, error) {
	id := domain.StepID(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := byID[id]; !ok {
		return "", fmt.Errorf("unknown step %q", s)
	}
	return id, nil
}

// First is the initial step of every filing.
func First() domain.StepID {
	return Steps[0].ID
}

// StepForFamily returns the step that collects a family's records. GST
// records have no step of their own.
func StepForFamily(fam domain.Family) (domain.StepID, bool) {
	for _, s := range Steps {
		if s.Family == fam && fam != "" {
			return s.ID, true
		}
	}
	return "", false
}
