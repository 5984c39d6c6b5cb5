package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTagRegistryCounts(t *testing.T) {
	want := map[Family]int{
		FamilyIncome:    12,
		FamilyDeduction: 4,
		FamilyAsset:     9,
		FamilyLiability: 2,
		FamilyCredit:    3,
		FamilyGST:       2,
	}
	total := 0
	for fam, n := range want {
		assert.Len(t, TagsOf(fam), n, "family %s", fam)
		total += n
	}
	assert.Len(t, AllTags(), total)
}

func TestParseTag(t *testing.T) {
	tag, err := ParseTag("  Salary ")
	require.NoError(t, err)
	assert.Equal(t, TagSalary, tag)

	_, err = ParseTag("lottery")
	assert.Error(t, err)
}

func TestParseFamily(t *testing.T) {
	f, err := ParseFamily("GST")
	require.NoError(t, err)
	assert.Equal(t, FamilyGST, f)

	_, err = ParseFamily("expenses")
	assert.Error(t, err)
}

func TestMeasure(t *testing.T) {
	tests := []struct {
		name     string
		rec      CategoryRecord
		want     string
		wantCode ErrorCode
	}{
		{
			name: "single amount",
			rec:  CategoryRecord{ID: "r1", Tag: TagSalary, Currency: "PKR", Amounts: map[string]decimal.Decimal{"amount": amt("1200.50")}},
			want: "1200.5",
		},
		{
			name: "property gain",
			rec: CategoryRecord{ID: "r2", Tag: TagPropertySale, Currency: "PKR", Amounts: map[string]decimal.Decimal{
				"sale_price": amt("5000000"), "purchase_cost": amt("3500000"),
			}},
			want: "1500000",
		},
		{
			name: "property loss floors at zero",
			rec: CategoryRecord{ID: "r3", Tag: TagPropertySale, Currency: "PKR", Amounts: map[string]decimal.Decimal{
				"sale_price": amt("100"), "purchase_cost": amt("300"),
			}},
			want: "0",
		},
		{
			name: "rent without optional repairs",
			rec:  CategoryRecord{ID: "r4", Tag: TagRent, Currency: "PKR", Amounts: map[string]decimal.Decimal{"gross_rent": amt("60000")}},
			want: "60000",
		},
		{
			name:     "unknown tag",
			rec:      CategoryRecord{ID: "r5", Tag: "lottery", Currency: "PKR", Amounts: map[string]decimal.Decimal{"amount": amt("1")}},
			wantCode: CodeDataIntegrity,
		},
		{
			name:     "negative amount",
			rec:      CategoryRecord{ID: "r6", Tag: TagSalary, Currency: "PKR", Amounts: map[string]decimal.Decimal{"amount": amt("-1")}},
			wantCode: CodeValidation,
		},
		{
			name:     "missing required field",
			rec:      CategoryRecord{ID: "r7", Tag: TagPropertySale, Currency: "PKR", Amounts: map[string]decimal.Decimal{"sale_price": amt("1")}},
			wantCode: CodeValidation,
		},
		{
			name:     "unknown field",
			rec:      CategoryRecord{ID: "r8", Tag: TagSalary, Currency: "PKR", Amounts: map[string]decimal.Decimal{"amount": amt("1"), "bonus": amt("2")}},
			wantCode: CodeValidation,
		},
		{
			name:     "currency mismatch",
			rec:      CategoryRecord{ID: "r9", Tag: TagSalary, Currency: "USD", Amounts: map[string]decimal.Decimal{"amount": amt("1")}},
			wantCode: CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got, err := tt.rec.Measure("PKR")
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, CodeOf(err))
				var e *Error
				require.True(t, errors.As(err, &e))
				assert.Equal(t, tt.rec.ID, e.RecordID)
				return
			}
			require.NoError(t, err)
			assert.True(t, amt(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestResolveFamily(t *testing.T) {
	tests := []struct {
		name   string
		tag    Tag
		family Family
		want   Family
		code   ErrorCode
	}{
		{"filled from tag", TagSalary, "", FamilyIncome, ""},
		{"matching family kept", TagSalary, FamilyIncome, FamilyIncome, ""},
		{"mismatched family", TagSalary, FamilyAsset, FamilyAsset, CodeValidation},
		{"unknown tag keeps family", Tag("mystery"), FamilyIncome, FamilyIncome, ""},
		{"unknown tag without family", Tag("mystery"), "", "", CodeDataIntegrity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := CategoryRecord{ID: "r1", FilingID: "f1", Tag: tt.tag, Family: tt.family}
			err := rec.ResolveFamily()
			if tt.code != "" {
				require.Error(t, err)
				assert.True(t, IsCode(err, tt.code), "got %v", err)
				var de *Error
				require.True(t, errors.As(err, &de))
				assert.Equal(t, "r1", de.RecordID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Family)
		})
	}
}

func TestProfileComplete(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		ok      bool
	}{
		{"cnic", Profile{FullName: "Ayesha Khan", TaxpayerID: "3520112345671"}, true},
		{"ntn with dash", Profile{FullName: "Ayesha Khan", TaxpayerID: "1234567-8"}, true},
		{"missing name", Profile{TaxpayerID: "3520112345671"}, false},
		{"missing id", Profile{FullName: "Ayesha Khan"}, false},
		{"short id", Profile{FullName: "Ayesha Khan", TaxpayerID: "12345"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := tt.profile.Complete()
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestFilingCloneIsDeep(t *testing.T) {
	f := &Filing{
		ID:             "f1",
		EnteredSteps:   []StepID{StepIdentity},
		ConfirmedSteps: []StepID{StepReview},
		Snapshot:       &Snapshot{PerTag: map[Tag]decimal.Decimal{TagSalary: amt("10")}},
		PaymentProof:   &PaymentProof{DocumentRef: "gs://b/o", Status: ProofPending},
	}
	c := f.Clone()
	c.EnteredSteps[0] = StepIncome
	c.Snapshot.PerTag[TagSalary] = amt("99")
	c.PaymentProof.Status = ProofApproved

	assert.Equal(t, StepIdentity, f.EnteredSteps[0])
	assert.True(t, f.Snapshot.PerTag[TagSalary].Equal(amt("10")))
	assert.Equal(t, ProofPending, f.PaymentProof.Status)
}

func TestSetDeclaredNone(t *testing.T) {
	f := &Filing{}
	f.SetDeclaredNone(FamilyLiability, true)
	f.SetDeclaredNone(FamilyCredit, true)
	f.SetDeclaredNone(FamilyLiability, true)
	assert.Equal(t, []Family{FamilyCredit, FamilyLiability}, f.DeclaredNone)

	f.SetDeclaredNone(FamilyCredit, false)
	assert.True(t, f.DeclaredEmpty(FamilyLiability))
	assert.False(t, f.DeclaredEmpty(FamilyCredit))
}

func TestErrorHelpers(t *testing.T) {
	base := StoreUnavailable("ListRecords", errors.New("connection reset"))
	wrapped := fmt.Errorf("Recompute: aggregating: %w", base)

	assert.True(t, IsRetryable(wrapped))
	assert.True(t, IsCode(wrapped, CodeStoreUnavailable))
	assert.False(t, IsRetryable(DataIntegrity("Aggregate", "f1", "r1", "bad tag")))
	assert.False(t, IsRetryable(errors.New("plain")))

	e := StepNotReady("AdvanceStep", "f1", StepReview, []StepID{StepDeductions, StepCredits})
	assert.Contains(t, e.Error(), "deductions, credits")
	assert.Equal(t, []StepID{StepDeductions, StepCredits}, e.Unmet)

	err := WithFiling(Validation("Create", "bad year"), "f9")
	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "f9", de.FilingID)
}
