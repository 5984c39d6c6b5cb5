package filing

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/aggregate"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/logger"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/workflow"
)

// Manager owns every state transition of a filing. Each mutation reads the
// filing, derives its step state from the record store, applies the change
// to a copy and writes it back with a compare-and-swap on the version.
type Manager struct {
	repo    Repository
	records aggregate.RecordStore
	agg     *aggregate.Aggregator
	locator DocumentLocator
	newID   func() string
	now     func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDocumentLocator makes AttachPaymentProof check that references resolve.
func WithDocumentLocator(l DocumentLocator) ManagerOption {
	return func(m *Manager) { m.locator = l }
}

// WithIDGenerator overrides filing id generation.
func WithIDGenerator(fn func() string) ManagerOption {
	return func(m *Manager) { m.newID = fn }
}

// WithManagerClock overrides the time source.
func WithManagerClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = fn }
}

// NewManager creates a Manager.
func NewManager(repo Repository, records aggregate.RecordStore, agg *aggregate.Aggregator, opts ...ManagerOption) *Manager {
	m := &Manager{
		repo:    repo,
		records: records,
		agg:     agg,
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ProofInput is what a user submits at the payment step.
type ProofInput struct {
	DocumentRef    string          `json:"document_ref"`
	DeclaredAmount decimal.Decimal `json:"declared_amount"`
}

// Decision is an administrator's verdict on a payment proof.
type Decision struct {
	Status domain.ProofStatus `json:"status"`
	Note   string             `json:"note,omitempty"`
}

// derived is the store-backed state of one filing for one request.
type derived struct {
	counts  map[domain.Family]int
	snap    *domain.Snapshot
	snapErr error
}

func (d *derived) evaluate(f *domain.Filing) *workflow.Evaluation {
	return workflow.Evaluate(workflow.Input{
		Filing:      f,
		Counts:      d.counts,
		Snapshot:    d.snap,
		SnapshotErr: d.snapErr,
	})
}

// derive reads record counts and computes a fresh snapshot. Record problems
// are kept on the result; store outages are returned.
func (m *Manager) derive(ctx context.Context, f *domain.Filing) (*derived, error) {
	counts, err := m.agg.FamilyCounts(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	d := &derived{counts: counts}
	if f.IsFinalized() && f.Snapshot != nil {
		s := f.Snapshot.Clone()
		d.snap = &s
		return d, nil
	}
	snap, err := m.agg.Aggregate(ctx, f)
	if err != nil {
		if domain.IsRetryable(err) {
			return nil, err
		}
		d.snapErr = err
		return d, nil
	}
	d.snap = &snap
	return d, nil
}

// nextStatus derives the non-terminal status from the filing's position.
func nextStatus(f *domain.Filing) domain.Status {
	if f.IsAmendment() {
		return domain.StatusAmending
	}
	if f.PaymentProof != nil && f.PaymentProof.Status == domain.ProofPending {
		return domain.StatusPendingReview
	}
	if f.CurrentStep == domain.StepPayment &&
		(f.PaymentProof == nil || f.PaymentProof.Status == domain.ProofRejected) {
		return domain.StatusPendingPayment
	}
	if f.Status == domain.StatusDraft && f.CurrentStep == workflow.First() {
		return domain.StatusDraft
	}
	return domain.StatusInProgress
}

func (m *Manager) finish(w *domain.Filing, d *derived) {
	w.Status = nextStatus(w)
	if d.snap != nil {
		s := d.snap.Clone()
		w.Snapshot = &s
	}
	w.CompletedSteps = d.evaluate(w).CompletedSteps()
	w.Version++
	w.UpdatedAt = m.now()
}

// mutate runs fn on a copy of the filing and writes the result back at
// expectedVersion. Nothing is written when fn fails.
func (m *Manager) mutate(ctx context.Context, op, id string, expectedVersion int64, fn func(w *domain.Filing, d *derived) error) (*domain.Filing, error) {
	cur, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.IsFinalized() {
		return nil, domain.FilingLocked(op, id)
	}
	if cur.Version != expectedVersion {
		return nil, domain.VersionConflict(op, id, expectedVersion, cur.Version)
	}

	w := cur.Clone()
	d, err := m.derive(ctx, w)
	if err != nil {
		return nil, err
	}
	if err := fn(w, d); err != nil {
		return nil, domain.WithFiling(err, id)
	}
	m.finish(w, d)

	if err := m.repo.Update(ctx, w, expectedVersion); err != nil {
		return nil, err
	}
	log := logger.ForFiling(logger.FromContext(ctx), id, w.Version)
	log.Info().Str("op", op).Str("status", string(w.Status)).Str("step", string(w.CurrentStep)).Msg("filing updated")
	return w.Clone(), nil
}

// CreateFiling starts a draft filing for a user and year.
func (m *Manager) CreateFiling(ctx context.Context, userID string, year int) (*domain.Filing, error) {
	const op = "CreateFiling"
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.Validation(op, "user id is required")
	}
	rules, ok := m.agg.Rules(year)
	if !ok {
		return nil, domain.Validation(op, "no rate table configured for year %d", year)
	}

	existing, err := m.repo.FindByUserYear(ctx, userID, year)
	if err != nil {
		return nil, err
	}
	for _, f := range existing {
		if !f.IsAmendment() {
			return nil, domain.AlreadyExists(op, "user %s already has filing %s for %d", userID, f.ID, year)
		}
	}

	now := m.now()
	f := &domain.Filing{
		ID:           m.newID(),
		UserID:       userID,
		Year:         year,
		Currency:     rules.Currency,
		Status:       domain.StatusDraft,
		CurrentStep:  workflow.First(),
		EnteredSteps: []domain.StepID{workflow.First()},
		Version:      1,
		Revision:     1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.repo.Create(ctx, f); err != nil {
		return nil, err
	}
	log := logger.ForFiling(logger.FromContext(ctx), f.ID, f.Version)
	log.Info().
		Str("user_id", userID).Int("year", year).Msg("filing created")
	return f.Clone(), nil
}

// Get returns a filing.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Filing, error) {
	return m.repo.Get(ctx, id)
}

// ListFilings returns every filing of a user.
func (m *Manager) ListFilings(ctx context.Context, userID string) ([]*domain.Filing, error) {
	return m.repo.ListByUser(ctx, userID)
}

// AdvanceStep moves the filing to target. Re-entering the current step at
// the stored version is a no-op that leaves the version unchanged. Returning to an earlier entered
// step clears every later step's progress and any attached payment proof.
func (m *Manager) AdvanceStep(ctx context.Context, id string, target domain.StepID, expectedVersion int64) (*domain.Filing, error) {
	const op = "AdvanceStep"
	if _, ok := workflow.Lookup(target); !ok {
		return nil, domain.Validation(op, "unknown step %q", target)
	}

	cur, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.CurrentStep == target && !cur.IsFinalized() {
		if cur.Version != expectedVersion {
			return nil, domain.VersionConflict(op, id, expectedVersion, cur.Version)
		}
		return cur, nil
	}

	return m.mutate(ctx, op, id, expectedVersion, func(w *domain.Filing, d *derived) error {
		move, err := workflow.CheckEnter(d.evaluate(w), target)
		if err != nil {
			return err
		}
		switch move {
		case workflow.MoveBack:
			workflow.InvalidateAfter(w, target)
			if workflow.Before(target, domain.StepPayment) {
				w.PaymentProof = nil
			}
			if w.Status == domain.StatusDraft {
				w.Status = domain.StatusInProgress
			}
		case workflow.MoveForward:
			w.EnteredSteps = domain.AddStep(w.EnteredSteps, target)
			if w.Status == domain.StatusDraft {
				w.Status = domain.StatusInProgress
			}
		}
		w.CurrentStep = target
		return nil
	})
}

// Recompute refreshes the stored snapshot from the current records. It never
// changes status or version. A finalized filing returns its frozen snapshot.
func (m *Manager) Recompute(ctx context.Context, id string) (domain.Snapshot, error) {
	const op = "Recompute"
	f, err := m.repo.Get(ctx, id)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if f.IsFinalized() {
		if f.Snapshot == nil {
			return domain.Snapshot{}, domain.DataIntegrity(op, id, "", "finalized filing has no snapshot")
		}
		return f.Snapshot.Clone(), nil
	}

	d, err := m.derive(ctx, f)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if d.snapErr != nil {
		return domain.Snapshot{}, d.snapErr
	}

	completed := d.evaluate(f).CompletedSteps()
	if err := m.repo.SaveSnapshot(ctx, id, f.Version, *d.snap, completed); err != nil {
		if !domain.IsCode(err, domain.CodeVersionConflict) {
			return domain.Snapshot{}, err
		}
		// A concurrent mutation stored its own fresh snapshot.
		log := logger.FromContext(ctx)
		log.Debug().Str("filing_id", id).Msg("snapshot superseded by concurrent update")
	}
	return d.snap.Clone(), nil
}

// UpdateProfile replaces the identity details.
func (m *Manager) UpdateProfile(ctx context.Context, id string, p domain.Profile, expectedVersion int64) (*domain.Filing, error) {
	p.FullName = strings.TrimSpace(p.FullName)
	p.TaxpayerID = strings.TrimSpace(p.TaxpayerID)
	p.Residency = strings.TrimSpace(p.Residency)
	return m.mutate(ctx, "UpdateProfile", id, expectedVersion, func(w *domain.Filing, _ *derived) error {
		w.Profile = p
		return nil
	})
}

// DeclareNone records that a family has no records, or withdraws that
// declaration.
func (m *Manager) DeclareNone(ctx context.Context, id string, fam domain.Family, none bool, expectedVersion int64) (*domain.Filing, error) {
	const op = "DeclareNone"
	if _, ok := workflow.StepForFamily(fam); !ok {
		return nil, domain.Validation(op, "family %q cannot be declared empty", fam)
	}
	return m.mutate(ctx, op, id, expectedVersion, func(w *domain.Filing, d *derived) error {
		if none && d.counts[fam] > 0 {
			return domain.Validation(op, "%s has %d record(s); remove them before declaring none", fam, d.counts[fam])
		}
		w.SetDeclaredNone(fam, none)
		return nil
	})
}

// ConfirmStep records the user's confirmation of the current step.
func (m *Manager) ConfirmStep(ctx context.Context, id string, step domain.StepID, expectedVersion int64) (*domain.Filing, error) {
	const op = "ConfirmStep"
	def, ok := workflow.Lookup(step)
	if !ok {
		return nil, domain.Validation(op, "unknown step %q", step)
	}
	if !def.RequiresConfirmation {
		return nil, domain.Validation(op, "step %q does not take a confirmation", step)
	}
	return m.mutate(ctx, op, id, expectedVersion, func(w *domain.Filing, d *derived) error {
		if w.CurrentStep != step {
			return domain.NewError(domain.CodeStepNotReady, op, "step %q is not the current step", step)
		}
		st, _ := d.evaluate(w).State(step)
		if !st.Ready {
			return domain.NewError(domain.CodeStepNotReady, op, "step %q cannot be confirmed: %s", step, st.Reason)
		}
		w.ConfirmedSteps = domain.AddStep(w.ConfirmedSteps, step)
		return nil
	})
}

// AttachPaymentProof submits a payment proof for review. The filing must
// have reached the payment step.
func (m *Manager) AttachPaymentProof(ctx context.Context, id string, in ProofInput, expectedVersion int64) (*domain.Filing, error) {
	const op = "AttachPaymentProof"
	ref := strings.TrimSpace(in.DocumentRef)
	if ref == "" {
		return nil, domain.Validation(op, "document reference is required")
	}
	if !in.DeclaredAmount.IsPositive() {
		return nil, domain.Validation(op, "declared amount must be positive")
	}
	if m.locator != nil {
		ok, err := m.locator.Exists(ctx, ref)
		if err != nil {
			return nil, domain.StoreUnavailable(op, err)
		}
		if !ok {
			return nil, domain.Validation(op, "document %s does not exist", ref)
		}
	}

	return m.mutate(ctx, op, id, expectedVersion, func(w *domain.Filing, _ *derived) error {
		if !w.HasEntered(domain.StepPayment) {
			return domain.NewError(domain.CodeStepNotReady, op, "payment proof can only be attached at the payment step")
		}
		if w.PaymentProof != nil && w.PaymentProof.Status == domain.ProofApproved {
			return domain.AlreadyExists(op, "payment has already been approved")
		}
		w.PaymentProof = &domain.PaymentProof{
			DocumentRef:    ref,
			DeclaredAmount: in.DeclaredAmount,
			Status:         domain.ProofPending,
			SubmittedAt:    m.now(),
		}
		return nil
	})
}

// VerifyPayment applies an administrator's decision on a pending proof.
// A rejection returns the filing to the payment step.
func (m *Manager) VerifyPayment(ctx context.Context, id string, dec Decision, expectedVersion int64) (*domain.Filing, error) {
	const op = "VerifyPayment"
	if dec.Status != domain.ProofApproved && dec.Status != domain.ProofRejected {
		return nil, domain.Validation(op, "decision must be %q or %q", domain.ProofApproved, domain.ProofRejected)
	}
	return m.mutate(ctx, op, id, expectedVersion, func(w *domain.Filing, _ *derived) error {
		if w.PaymentProof == nil || w.PaymentProof.Status != domain.ProofPending {
			return domain.Validation(op, "no payment proof is awaiting review")
		}
		now := m.now()
		w.PaymentProof.Status = dec.Status
		w.PaymentProof.ReviewedAt = &now
		w.PaymentProof.ReviewerNote = strings.TrimSpace(dec.Note)
		if dec.Status == domain.ProofRejected {
			workflow.InvalidateAfter(w, domain.StepPayment)
			w.CurrentStep = domain.StepPayment
		}
		return nil
	})
}

// Finalize runs the finalization gate and, when it passes, locks the filing.
func (m *Manager) Finalize(ctx context.Context, id string, expectedVersion int64) (*domain.Filing, error) {
	const op = "Finalize"
	cur, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.IsFinalized() {
		return nil, domain.FilingLocked(op, id)
	}
	if cur.Version != expectedVersion {
		return nil, domain.VersionConflict(op, id, expectedVersion, cur.Version)
	}

	before, err := m.records.Fingerprint(ctx, id)
	if err != nil {
		return nil, storeError(op, err)
	}
	d, err := m.derive(ctx, cur)
	if err != nil {
		return nil, err
	}
	if reasons := m.gate(cur, d); len(reasons) > 0 {
		log := logger.ForFiling(logger.FromContext(ctx), id, cur.Version)
		log.Info().
			Int("reasons", len(reasons)).Msg("finalization blocked")
		return nil, domain.FinalizationBlocked(op, id, reasons)
	}

	w := cur.Clone()
	now := m.now()
	s := d.snap.Clone()
	w.Snapshot = &s
	w.CompletedSteps = d.evaluate(w).CompletedSteps()
	w.Status = domain.StatusFinalized
	w.FinalizedAt = &now
	w.Version++
	w.UpdatedAt = now
	if err := m.repo.Update(ctx, w, expectedVersion); err != nil {
		return nil, err
	}

	// Record stores refuse writes once the filing is finalized, so the
	// fingerprint is stable from here on. A write that landed while the
	// gate ran means the frozen snapshot may not match the records.
	after, err := m.records.Fingerprint(ctx, id)
	if err != nil || !after.Equal(before) {
		m.unfinalize(ctx, cur, w)
		if err != nil {
			return nil, storeError(op, err)
		}
		return nil, domain.NewError(domain.CodeVersionConflict, op, "records changed during finalization").ForFiling(id)
	}

	log := logger.ForFiling(logger.FromContext(ctx), id, w.Version)
	log.Info().
		Str("tax_payable", s.TaxPayable.String()).Msg("filing finalized")
	return w.Clone(), nil
}

// unfinalize restores the pre-finalization state of cur over the committed
// finalized copy.
func (m *Manager) unfinalize(ctx context.Context, cur, finalized *domain.Filing) {
	revert := cur.Clone()
	revert.Version = finalized.Version + 1
	revert.UpdatedAt = m.now()
	if err := m.repo.Update(ctx, revert, finalized.Version); err != nil {
		log := logger.ForFiling(logger.FromContext(ctx), cur.ID, finalized.Version)
		log.Error().Err(err).Msg("failed to revert finalization")
	}
}

// Amend opens a new revision of a finalized filing. The revision starts at
// the first step with the original's progress, minus the review and
// wrap-up confirmations and the payment proof. Records are copied.
func (m *Manager) Amend(ctx context.Context, id string, expectedVersion int64) (*domain.Filing, error) {
	const op = "Amend"
	orig, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !orig.IsFinalized() {
		return nil, domain.Validation(op, "only finalized filings can be amended").ForFiling(id)
	}
	if orig.SupersededBy != "" {
		return nil, domain.AlreadyExists(op, "filing was already amended by %s", orig.SupersededBy).ForFiling(id)
	}
	if orig.Version != expectedVersion {
		return nil, domain.VersionConflict(op, id, expectedVersion, orig.Version)
	}

	now := m.now()
	rev := orig.Clone()
	rev.ID = m.newID()
	rev.Status = domain.StatusAmending
	rev.CurrentStep = workflow.First()
	rev.ConfirmedSteps = domain.RemoveStep(domain.RemoveStep(rev.ConfirmedSteps, domain.StepReview), domain.StepWrapUp)
	rev.PaymentProof = nil
	rev.FinalizedAt = nil
	rev.Revision = orig.Revision + 1
	rev.AmendsID = orig.ID
	rev.SupersededBy = ""
	rev.Version = 1
	rev.CreatedAt = now
	rev.UpdatedAt = now

	if err := m.records.CopyRecords(ctx, orig.ID, rev.ID); err != nil {
		return nil, domain.WithFiling(storeError("CopyRecords", err), orig.ID)
	}

	stamped := orig.Clone()
	stamped.SupersededBy = rev.ID
	stamped.Version++
	stamped.UpdatedAt = now
	if err := m.repo.Update(ctx, stamped, expectedVersion); err != nil {
		m.dropRecords(ctx, rev.ID)
		return nil, err
	}

	if d, err := m.derive(ctx, rev); err == nil {
		if d.snap != nil {
			s := d.snap.Clone()
			rev.Snapshot = &s
		}
		rev.CompletedSteps = d.evaluate(rev).CompletedSteps()
	}
	if err := m.repo.Create(ctx, rev); err != nil {
		revert := stamped.Clone()
		revert.SupersededBy = ""
		revert.Version++
		if rerr := m.repo.Update(ctx, revert, stamped.Version); rerr != nil {
			log := logger.FromContext(ctx)
			log.Error().Err(rerr).Str("filing_id", id).Msg("failed to revert amendment stamp")
		}
		m.dropRecords(ctx, rev.ID)
		return nil, err
	}

	log := logger.ForFiling(logger.FromContext(ctx), rev.ID, rev.Version)
	log.Info().
		Str("amends_id", orig.ID).Int("revision", rev.Revision).Msg("amendment opened")
	return rev.Clone(), nil
}

func (m *Manager) dropRecords(ctx context.Context, filingID string) {
	del, ok := m.records.(RecordDeleter)
	if !ok {
		return
	}
	if err := del.DeleteRecords(ctx, filingID); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("filing_id", filingID).Msg("failed to drop orphaned records")
	}
}

// storeError keeps coded errors and treats the rest as outages.
func storeError(op string, err error) error {
	if domain.CodeOf(err) != "" {
		return err
	}
	return domain.StoreUnavailable(op, err)
}

// PendingReview lists filings whose payment proof awaits an administrator,
// oldest submission first.
func (m *Manager) PendingReview(ctx context.Context) ([]*domain.Filing, error) {
	var out []*domain.Filing
	for _, st := range []domain.Status{domain.StatusPendingReview, domain.StatusAmending} {
		fs, err := m.repo.ListByStatus(ctx, st)
		if err != nil {
			return nil, err
		}
		for _, f := range fs {
			if f.PaymentProof != nil && f.PaymentProof.Status == domain.ProofPending {
				out = append(out, f)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PaymentProof.SubmittedAt.Before(out[j].PaymentProof.SubmittedAt)
	})
	return out, nil
}
