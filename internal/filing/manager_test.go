package filing_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/aggregate"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/filing"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/store/inmemory"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/taxrules"
)

const testYear = 2030

type env struct {
	ctx     context.Context
	rules   *taxrules.Table
	repo    *inmemory.FilingRepository
	records *inmemory.RecordStore
	mgr     *filing.Manager
	engine  *filing.Engine
}

type fakeLocator struct {
	exists bool
	err    error
}

func (l fakeLocator) Exists(ctx context.Context, ref string) (bool, error) {
	return l.exists, l.err
}

func newEnv(t *testing.T, opts ...filing.ManagerOption) *env {
	t.Helper()
	rules, err := taxrules.Parse([]byte(`
years:
  - year: 2030
    version: flat-10
    flat_rate: "0.10"
  - year: 2031
    flat_rate: "0.10"
    income_must_cover_deductions: true
`))
	require.NoError(t, err)

	repo := inmemory.NewFilingRepository()
	records := inmemory.NewRecordStore(inmemory.GuardedBy(repo))
	mgr := filing.NewManager(repo, records, aggregate.New(records, rules), opts...)
	return &env{
		ctx:     context.Background(),
		rules:   rules,
		repo:    repo,
		records: records,
		mgr:     mgr,
		engine:  filing.NewEngine(mgr, 0),
	}
}

func (e *env) put(t *testing.T, filingID string, tag domain.Tag, amount string) domain.CategoryRecord {
	t.Helper()
	rec, err := e.records.PutRecord(e.ctx, domain.CategoryRecord{
		FilingID: filingID,
		Tag:      tag,
		Currency: "PKR",
		Amounts:  map[string]decimal.Decimal{domain.FieldAmount: decimal.RequireFromString(amount)},
	})
	require.NoError(t, err)
	return rec
}

func validProfile() domain.Profile {
	return domain.Profile{FullName: "Sana Malik", TaxpayerID: "3520112345671"}
}

type progress struct {
	f       *domain.Filing
	utility domain.CategoryRecord
}

// must fails the test on a non-nil error and returns the filing.
func must(t *testing.T) func(*domain.Filing, error) *domain.Filing {
	return func(f *domain.Filing, err error) *domain.Filing {
		t.Helper()
		require.NoError(t, err)
		return f
	}
}

// toReview fills in every data step and confirms the review summary.
func (e *env) toReview(t *testing.T) progress {
	t.Helper()
	f := must(t)(e.mgr.CreateFiling(e.ctx, "user-1", testYear))
	f = must(t)(e.mgr.UpdateProfile(e.ctx, f.ID, validProfile(), f.Version))

	e.put(t, f.ID, domain.TagSalary, "100000")
	utility := e.put(t, f.ID, domain.TagUtility, "20000")

	for _, fam := range []domain.Family{domain.FamilyAsset, domain.FamilyLiability, domain.FamilyCredit} {
		f = must(t)(e.mgr.DeclareNone(e.ctx, f.ID, fam, true, f.Version))
	}
	for _, step := range []domain.StepID{
		domain.StepIncome, domain.StepDeductions, domain.StepWealth,
		domain.StepLiabilities, domain.StepCredits, domain.StepReview,
	} {
		f = must(t)(e.mgr.AdvanceStep(e.ctx, f.ID, step, f.Version))
	}
	f = must(t)(e.mgr.ConfirmStep(e.ctx, f.ID, domain.StepReview, f.Version))
	return progress{f: f, utility: utility}
}

// toPendingReview continues to an attached, unreviewed payment proof.
func (e *env) toPendingReview(t *testing.T) progress {
	t.Helper()
	p := e.toReview(t)
	f := must(t)(e.mgr.AdvanceStep(e.ctx, p.f.ID, domain.StepPayment, p.f.Version))
	require.Equal(t, domain.StatusPendingPayment, f.Status)

	f = must(t)(e.mgr.AttachPaymentProof(e.ctx, f.ID, filing.ProofInput{
		DocumentRef:    "gs://proofs/user-1/cpr.pdf",
		DeclaredAmount: decimal.NewFromInt(8000),
	}, f.Version))
	require.Equal(t, domain.StatusPendingReview, f.Status)
	p.f = f
	return p
}

// toReady continues to a filing that passes the gate.
func (e *env) toReady(t *testing.T) progress {
	t.Helper()
	p := e.toPendingReview(t)
	f := must(t)(e.mgr.VerifyPayment(e.ctx, p.f.ID, filing.Decision{Status: domain.ProofApproved}, p.f.Version))
	f = must(t)(e.mgr.AdvanceStep(e.ctx, f.ID, domain.StepWrapUp, f.Version))
	f = must(t)(e.mgr.ConfirmStep(e.ctx, f.ID, domain.StepWrapUp, f.Version))
	p.f = f
	return p
}

func codeOf(t *testing.T, err error) domain.ErrorCode {
	t.Helper()
	require.Error(t, err)
	return domain.CodeOf(err)
}

func TestCreateFiling(t *testing.T) {
	e := newEnv(t)

	f, err := e.mgr.CreateFiling(e.ctx, "user-1", testYear)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, f.Status)
	assert.Equal(t, domain.StepIdentity, f.CurrentStep)
	assert.Equal(t, int64(1), f.Version)
	assert.Equal(t, 1, f.Revision)
	assert.Equal(t, "PKR", f.Currency)

	_, err = e.mgr.CreateFiling(e.ctx, "user-1", testYear)
	assert.Equal(t, domain.CodeAlreadyExists, codeOf(t, err))

	_, err = e.mgr.CreateFiling(e.ctx, "user-1", 1990)
	assert.Equal(t, domain.CodeValidation, codeOf(t, err))

	_, err = e.mgr.CreateFiling(e.ctx, " ", testYear)
	assert.Equal(t, domain.CodeValidation, codeOf(t, err))

	list, err := e.mgr.ListFilings(e.ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAdvanceStep_RejectsUnmetDependencies(t *testing.T) {
	e := newEnv(t)
	f := must(t)(e.mgr.CreateFiling(e.ctx, "user-1", testYear))

	_, err := e.mgr.AdvanceStep(e.ctx, f.ID, domain.StepIncome, f.Version)
	require.Error(t, err)
	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.CodeStepNotReady, de.Code)
	assert.Equal(t, []domain.StepID{domain.StepIdentity}, de.Unmet)

	stored, err := e.mgr.Get(e.ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.Version, stored.Version)
	assert.Equal(t, domain.StepIdentity, stored.CurrentStep)
}

func TestAdvanceStep_SameStepIsNoop(t *testing.T) {
	e := newEnv(t)
	f := must(t)(e.mgr.CreateFiling(e.ctx, "user-1", testYear))
	f = must(t)(e.mgr.UpdateProfile(e.ctx, f.ID, validProfile(), f.Version))
	f = must(t)(e.mgr.AdvanceStep(e.ctx, f.ID, domain.StepIncome, f.Version))

	again, err := e.mgr.AdvanceStep(e.ctx, f.ID, domain.StepIncome, f.Version)
	require.NoError(t, err)
	assert.Equal(t, f.Version, again.Version)
	assert.Equal(t, domain.StatusInProgress, again.Status)
}

func TestVersionConflictLeavesStateUntouched(t *testing.T) {
	e := newEnv(t)
	f := must(t)(e.mgr.CreateFiling(e.ctx, "user-1", testYear))
	stale := f.Version
	f = must(t)(e.mgr.UpdateProfile(e.ctx, f.ID, validProfile(), f.Version))

	for i := 0; i < 3; i++ {
		_, err := e.mgr.AdvanceStep(e.ctx, f.ID, domain.StepIncome, stale)
		assert.Equal(t, domain.CodeVersionConflict, codeOf(t, err))
	}
	_, err := e.mgr.UpdateProfile(e.ctx, f.ID, domain.Profile{FullName: "Other"}, stale)
	assert.Equal(t, domain.CodeVersionConflict, codeOf(t, err))

	// Re-issuing the current step is only a no-op at the stored version.
	for _, v := range []int64{stale, f.Version + 10} {
		_, err = e.mgr.AdvanceStep(e.ctx, f.ID, domain.StepIdentity, v)
		assert.Equal(t, domain.CodeVersionConflict, codeOf(t, err), "version %d", v)
	}

	stored, err := e.mgr.Get(e.ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.Version, stored.Version)
	assert.Equal(t, domain.StepIdentity, stored.CurrentStep)
	assert.Equal(t, "Sana Malik", stored.Profile.FullName)
}

func TestFullLifecycle_WorkedExample(t *testing.T) {
	e := newEnv(t)
	p := e.toReady(t)

	final, err := e.mgr.Finalize(e.ctx, p.f.ID, p.f.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinalized, final.Status)
	assert.NotNil(t, final.FinalizedAt)
	assert.Equal(t, p.f.Version+1, final.Version)
	require.NotNil(t, final.Snapshot)
	assert.True(t, decimal.NewFromInt(80000).Equal(final.Snapshot.TaxableIncome))
	assert.True(t, decimal.NewFromInt(8000).Equal(final.Snapshot.TaxPayable))
	assert.Len(t, final.CompletedSteps, 9)

	_, err = e.mgr.UpdateProfile(e.ctx, final.ID, validProfile(), final.Version)
	assert.Equal(t, domain.CodeFilingLocked, codeOf(t, err))
	_, err = e.mgr.Finalize(e.ctx, final.ID, final.Version)
	assert.Equal(t, domain.CodeFilingLocked, codeOf(t, err))

	_, err = e.records.PutRecord(e.ctx, domain.CategoryRecord{
		FilingID: final.ID,
		Tag:      domain.TagSalary,
		Amounts:  map[string]decimal.Decimal{domain.FieldAmount: decimal.NewFromInt(5000000)},
	})
	assert.Equal(t, domain.CodeFilingLocked, codeOf(t, err))
	err = e.records.DeleteRecord(e.ctx, final.ID, p.utility.ID)
	assert.Equal(t, domain.CodeFilingLocked, codeOf(t, err))

	snap, err := e.mgr.Recompute(e.ctx, final.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(8000).Equal(snap.TaxPayable))
}

func TestFinalize_ReportsEveryReason(t *testing.T) {
	e := newEnv(t)
	p := e.toPendingReview(t)
	require.NoError(t, e.records.DeleteRecord(e.ctx, p.f.ID, p.utility.ID))

	ok, reasons, err := e.mgr.CanFinalize(e.ctx, p.f.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, reasons, 3)

	var steps []domain.StepID
	codes := map[string]int{}
	for _, r := range reasons {
		codes[r.Code]++
		if r.Code == filing.ReasonStepIncomplete {
			steps = append(steps, r.Step)
		}
	}
	assert.Equal(t, 2, codes[filing.ReasonStepIncomplete])
	assert.Equal(t, 1, codes[filing.ReasonPaymentNotApproved])
	assert.ElementsMatch(t, []domain.StepID{domain.StepDeductions, domain.StepWrapUp}, steps)

	_, err = e.mgr.Finalize(e.ctx, p.f.ID, p.f.Version)
	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.CodeFinalizationBlocked, de.Code)
	assert.Len(t, de.Reasons, 3)

	stored, err := e.mgr.Get(e.ctx, p.f.ID)
	require.NoError(t, err)
	assert.Equal(t, p.f.Version, stored.Version)
	assert.Equal(t, domain.StatusPendingReview, stored.Status)
}

func TestFinalize_IncomeMustCoverDeductions(t *testing.T) {
	e := newEnv(t)
	f := must(t)(e.mgr.CreateFiling(e.ctx, "user-2", 2031))
	e.put(t, f.ID, domain.TagSalary, "100")
	e.put(t, f.ID, domain.TagOtherDeduction, "500")

	_, reasons, err := e.mgr.CanFinalize(e.ctx, f.ID)
	require.NoError(t, err)
	found := false
	for _, r := range reasons {
		if r.Code == filing.ReasonSnapshotInconsistent {
			found = true
			assert.Contains(t, r.Message, "exceed gross income")
		}
	}
	assert.True(t, found, "expected a consistency reason, got %v", reasons)
}

func TestCanFinalize_ReportsBadRecords(t *testing.T) {
	e := newEnv(t)
	f := must(t)(e.mgr.CreateFiling(e.ctx, "user-1", testYear))
	_, err := e.records.PutRecord(e.ctx, domain.CategoryRecord{
		ID:       "rec-bad",
		FilingID: f.ID,
		Family:   domain.FamilyIncome,
		Tag:      "lottery",
		Currency: "PKR",
		Amounts:  map[string]decimal.Decimal{domain.FieldAmount: decimal.NewFromInt(1)},
	})
	require.NoError(t, err)

	_, reasons, err := e.mgr.CanFinalize(e.ctx, f.ID)
	require.NoError(t, err)
	var integrity []domain.Reason
	for _, r := range reasons {
		if r.Code == string(domain.CodeDataIntegrity) {
			integrity = append(integrity, r)
		}
	}
	require.Len(t, integrity, 1)
	assert.Contains(t, integrity[0].Message, "rec-bad")

	_, err = e.mgr.Recompute(e.ctx, f.ID)
	assert.Equal(t, domain.CodeDataIntegrity, codeOf(t, err))
}

func TestBackEditInvalidatesLaterSteps(t *testing.T) {
	e := newEnv(t)
	p := e.toReview(t)
	require.Contains(t, p.f.CompletedSteps, domain.StepReview)

	f, err := e.mgr.AdvanceStep(e.ctx, p.f.ID, domain.StepIncome, p.f.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.StepIncome, f.CurrentStep)
	assert.NotContains(t, f.ConfirmedSteps, domain.StepReview)
	assert.NotContains(t, f.EnteredSteps, domain.StepReview)
	assert.NotContains(t, f.CompletedSteps, domain.StepReview)
	assert.Contains(t, f.CompletedSteps, domain.StepIncome)

	f, err = e.mgr.AdvanceStep(e.ctx, f.ID, domain.StepReview, f.Version)
	require.NoError(t, err)
	assert.NotContains(t, f.CompletedSteps, domain.StepReview)
}

func TestBackEditFromPaymentDropsProof(t *testing.T) {
	e := newEnv(t)
	p := e.toPendingReview(t)

	f, err := e.mgr.AdvanceStep(e.ctx, p.f.ID, domain.StepDeductions, p.f.Version)
	require.NoError(t, err)
	assert.Nil(t, f.PaymentProof)
	assert.Equal(t, domain.StatusInProgress, f.Status)
}

func TestVerifyPayment_Rejection(t *testing.T) {
	e := newEnv(t)
	p := e.toPendingReview(t)

	f, err := e.mgr.VerifyPayment(e.ctx, p.f.ID, filing.Decision{Status: domain.ProofRejected, Note: "amount unreadable"}, p.f.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.StepPayment, f.CurrentStep)
	assert.Equal(t, domain.StatusPendingPayment, f.Status)
	require.NotNil(t, f.PaymentProof)
	assert.Equal(t, domain.ProofRejected, f.PaymentProof.Status)
	assert.Equal(t, "amount unreadable", f.PaymentProof.ReviewerNote)
	assert.NotContains(t, f.CompletedSteps, domain.StepPayment)

	_, err = e.mgr.VerifyPayment(e.ctx, f.ID, filing.Decision{Status: domain.ProofApproved}, f.Version)
	assert.Equal(t, domain.CodeValidation, codeOf(t, err))

	f, err = e.mgr.AttachPaymentProof(e.ctx, f.ID, filing.ProofInput{DocumentRef: "gs://proofs/new.pdf", DeclaredAmount: decimal.NewFromInt(8000)}, f.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingReview, f.Status)

	_, err = e.mgr.VerifyPayment(e.ctx, f.ID, filing.Decision{Status: "maybe"}, f.Version)
	assert.Equal(t, domain.CodeValidation, codeOf(t, err))
}

func TestAttachPaymentProof_Preconditions(t *testing.T) {
	t.Run("before the payment step", func(t *testing.T) {
		e := newEnv(t)
		f := must(t)(e.mgr.CreateFiling(e.ctx, "user-1", testYear))
		_, err := e.mgr.AttachPaymentProof(e.ctx, f.ID, filing.ProofInput{DocumentRef: "gs://b/o", DeclaredAmount: decimal.NewFromInt(1)}, f.Version)
		assert.Equal(t, domain.CodeStepNotReady, codeOf(t, err))
	})

	t.Run("missing document", func(t *testing.T) {
		e := newEnv(t, filing.WithDocumentLocator(fakeLocator{exists: false}))
		f := must(t)(e.mgr.CreateFiling(e.ctx, "user-1", testYear))
		_, err := e.mgr.AttachPaymentProof(e.ctx, f.ID, filing.ProofInput{DocumentRef: "gs://b/missing", DeclaredAmount: decimal.NewFromInt(1)}, f.Version)
		assert.Equal(t, domain.CodeValidation, codeOf(t, err))
	})

	t.Run("locator outage", func(t *testing.T) {
		e := newEnv(t, filing.WithDocumentLocator(fakeLocator{err: errors.New("503")}))
		f := must(t)(e.mgr.CreateFiling(e.ctx, "user-1", testYear))
		_, err := e.mgr.AttachPaymentProof(e.ctx, f.ID, filing.ProofInput{DocumentRef: "gs://b/o", DeclaredAmount: decimal.NewFromInt(1)}, f.Version)
		assert.True(t, domain.IsRetryable(err))
	})

	t.Run("non-positive amount", func(t *testing.T) {
		e := newEnv(t)
		f := must(t)(e.mgr.CreateFiling(e.ctx, "user-1", testYear))
		_, err := e.mgr.AttachPaymentProof(e.ctx, f.ID, filing.ProofInput{DocumentRef: "gs://b/o"}, f.Version)
		assert.Equal(t, domain.CodeValidation, codeOf(t, err))
	})
}

func TestConfirmStep_Preconditions(t *testing.T) {
	e := newEnv(t)
	f := must(t)(e.mgr.CreateFiling(e.ctx, "user-1", testYear))

	_, err := e.mgr.ConfirmStep(e.ctx, f.ID, domain.StepIncome, f.Version)
	assert.Equal(t, domain.CodeValidation, codeOf(t, err))

	_, err = e.mgr.ConfirmStep(e.ctx, f.ID, domain.StepReview, f.Version)
	assert.Equal(t, domain.CodeStepNotReady, codeOf(t, err))
}

func TestDeclareNone(t *testing.T) {
	e := newEnv(t)
	f := must(t)(e.mgr.CreateFiling(e.ctx, "user-1", testYear))
	e.put(t, f.ID, domain.TagCash, "10")

	_, err := e.mgr.DeclareNone(e.ctx, f.ID, domain.FamilyAsset, true, f.Version)
	assert.Equal(t, domain.CodeValidation, codeOf(t, err))

	_, err = e.mgr.DeclareNone(e.ctx, f.ID, domain.FamilyGST, true, f.Version)
	assert.Equal(t, domain.CodeValidation, codeOf(t, err))

	f, err = e.mgr.DeclareNone(e.ctx, f.ID, domain.FamilyCredit, true, f.Version)
	require.NoError(t, err)
	assert.True(t, f.DeclaredEmpty(domain.FamilyCredit))
}

func TestRecomputeKeepsVersionAndStatus(t *testing.T) {
	e := newEnv(t)
	f := must(t)(e.mgr.CreateFiling(e.ctx, "user-1", testYear))
	e.put(t, f.ID, domain.TagSalary, "100000")

	snap, err := e.mgr.Recompute(e.ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10000).Equal(snap.TaxPayable))

	stored, err := e.mgr.Get(e.ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.Version, stored.Version)
	assert.Equal(t, f.Status, stored.Status)
	require.NotNil(t, stored.Snapshot)
	assert.True(t, snap.Equal(*stored.Snapshot))
}

func TestAmend(t *testing.T) {
	e := newEnv(t)
	p := e.toReady(t)
	orig := must(t)(e.mgr.Finalize(e.ctx, p.f.ID, p.f.Version))

	_, err := e.mgr.Amend(e.ctx, orig.ID, orig.Version-1)
	assert.Equal(t, domain.CodeVersionConflict, codeOf(t, err))

	rev, err := e.mgr.Amend(e.ctx, orig.ID, orig.Version)
	require.NoError(t, err)
	assert.NotEqual(t, orig.ID, rev.ID)
	assert.Equal(t, domain.StatusAmending, rev.Status)
	assert.Equal(t, domain.StepIdentity, rev.CurrentStep)
	assert.Equal(t, 2, rev.Revision)
	assert.Equal(t, orig.ID, rev.AmendsID)
	assert.Equal(t, int64(1), rev.Version)
	assert.Nil(t, rev.PaymentProof)
	assert.Nil(t, rev.FinalizedAt)
	assert.NotContains(t, rev.ConfirmedSteps, domain.StepReview)
	assert.NotContains(t, rev.ConfirmedSteps, domain.StepWrapUp)
	assert.Equal(t, orig.Profile, rev.Profile)

	stored, err := e.mgr.Get(e.ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, rev.ID, stored.SupersededBy)
	assert.Equal(t, domain.StatusFinalized, stored.Status)

	n, err := e.records.CountRecords(e.ctx, rev.ID, domain.FamilyIncome)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	e.put(t, rev.ID, domain.TagDividend, "5000")
	n, err = e.records.CountRecords(e.ctx, orig.ID, domain.FamilyIncome)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "original records must not change")

	_, err = e.mgr.Amend(e.ctx, orig.ID, stored.Version)
	assert.Equal(t, domain.CodeAlreadyExists, codeOf(t, err))

	_, err = e.mgr.Amend(e.ctx, rev.ID, rev.Version)
	assert.Equal(t, domain.CodeValidation, codeOf(t, err))

	f, err := e.mgr.AdvanceStep(e.ctx, rev.ID, domain.StepIncome, rev.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAmending, f.Status)
}

func TestPendingReview(t *testing.T) {
	e := newEnv(t)
	p := e.toPendingReview(t)

	pending, err := e.mgr.PendingReview(e.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, p.f.ID, pending[0].ID)
}

func TestConcurrentMutationsOneWinner(t *testing.T) {
	const n = 8
	e := newEnv(t)
	f := must(t)(e.mgr.CreateFiling(e.ctx, "user-1", testYear))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := validProfile()
			p.FullName = fmt.Sprintf("Writer %d", i)
			_, err := e.mgr.UpdateProfile(e.ctx, f.ID, p, f.Version)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case domain.IsCode(err, domain.CodeVersionConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
	stored, err := e.mgr.Get(e.ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.Version+1, stored.Version)
}

// racingRecords writes one extra record the first time the manager reads
// the record fingerprint, as a concurrent writer would.
type racingRecords struct {
	*inmemory.RecordStore
	filingID string
	fired    bool
}

func (r *racingRecords) Fingerprint(ctx context.Context, filingID string) (aggregate.Fingerprint, error) {
	fp, err := r.RecordStore.Fingerprint(ctx, filingID)
	if err == nil && !r.fired && filingID == r.filingID {
		r.fired = true
		_, err = r.RecordStore.PutRecord(ctx, domain.CategoryRecord{
			FilingID: filingID,
			Tag:      domain.TagSalary,
			Amounts:  map[string]decimal.Decimal{domain.FieldAmount: decimal.NewFromInt(1000)},
		})
	}
	return fp, err
}

func TestFinalize_RevertsWhenRecordsChange(t *testing.T) {
	e := newEnv(t)
	p := e.toReady(t)

	racing := &racingRecords{RecordStore: e.records, filingID: p.f.ID}
	mgr := filing.NewManager(e.repo, racing, aggregate.New(racing, e.rules))

	_, err := mgr.Finalize(e.ctx, p.f.ID, p.f.Version)
	assert.Equal(t, domain.CodeVersionConflict, codeOf(t, err))

	stored, err := e.mgr.Get(e.ctx, p.f.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsFinalized())
	assert.Nil(t, stored.FinalizedAt)
	assert.Equal(t, p.f.Status, stored.Status)
	assert.Equal(t, p.f.Version+2, stored.Version)

	final, err := mgr.Finalize(e.ctx, stored.ID, stored.Version)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(81000).Equal(final.Snapshot.TaxableIncome), final.Snapshot.TaxableIncome.String())
}

func TestPutRecord_FamilyMustMatchTag(t *testing.T) {
	e := newEnv(t)
	f := must(t)(e.mgr.CreateFiling(e.ctx, "user-1", testYear))

	_, err := e.records.PutRecord(e.ctx, domain.CategoryRecord{
		FilingID: f.ID,
		Family:   domain.FamilyAsset,
		Tag:      domain.TagSalary,
		Amounts:  map[string]decimal.Decimal{domain.FieldAmount: decimal.NewFromInt(1)},
	})
	assert.Equal(t, domain.CodeValidation, codeOf(t, err))

	n, err := e.records.CountRecords(e.ctx, f.ID, domain.FamilyAsset)
	require.NoError(t, err)
	assert.Zero(t, n)
}
