package filing

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/aggregate"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/logger"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/workflow"
)

const (
	// DefaultStateTTL bounds how long a computed state is served from cache.
	DefaultStateTTL = 30 * time.Second

	stateReadAttempts = 3
)

// State is the externally visible state of a filing.
type State struct {
	ID           string               `json:"id"`
	UserID       string               `json:"user_id"`
	Year         int                  `json:"year"`
	Status       domain.Status        `json:"status"`
	CurrentStep  domain.StepID        `json:"current_step"`
	Version      int64                `json:"version"`
	Revision     int                  `json:"revision"`
	AmendsID     string               `json:"amends_id,omitempty"`
	SupersededBy string               `json:"superseded_by,omitempty"`
	Profile      domain.Profile       `json:"profile"`
	Snapshot     *domain.Snapshot     `json:"snapshot,omitempty"`
	PaymentProof *domain.PaymentProof `json:"payment_proof,omitempty"`
	Checklist    []workflow.StepState `json:"checklist"`
	CanFinalize  bool                 `json:"can_finalize"`
	// Reasons lists every check that currently blocks finalization.
	Reasons []domain.Reason `json:"reasons,omitempty"`
}

// Engine is the external interface over the lifecycle manager. It caches
// computed states by filing id, keyed on the filing version and the record
// fingerprint, so any record write invalidates the entry.
type Engine struct {
	*Manager
	cache *cache.Cache
}

// NewEngine wraps a manager. ttl <= 0 uses DefaultStateTTL.
func NewEngine(m *Manager, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &Engine{Manager: m, cache: cache.New(ttl, 2*ttl)}
}

type cachedState struct {
	version int64
	records aggregate.Fingerprint
	state   State
}

// NotifyRecordChanged is called after a record of a filing was created,
// updated or deleted. It recomputes the filing's snapshot.
func (e *Engine) NotifyRecordChanged(ctx context.Context, id string, tag string) (domain.Snapshot, error) {
	const op = "NotifyRecordChanged"
	t, err := domain.ParseTag(tag)
	if err != nil {
		return domain.Snapshot{}, domain.Validation(op, "%v", err).ForFiling(id)
	}
	f, err := e.repo.Get(ctx, id)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if f.IsFinalized() {
		return domain.Snapshot{}, domain.FilingLocked(op, id)
	}

	e.cache.Delete(id)
	snap, err := e.Recompute(ctx, id)
	if err != nil {
		return domain.Snapshot{}, err
	}
	log := logger.FromContext(ctx)
	log.Debug().Str("filing_id", id).Str("tag", string(t)).Msg("recomputed after record change")
	return snap, nil
}

// GetFilingState returns status, checklist, snapshot and finalization
// reasons. If the filing's version or records move while the state is
// being derived, the read is retried a bounded number of times.
func (e *Engine) GetFilingState(ctx context.Context, id string) (*State, error) {
	const op = "GetFilingState"
	var last int64
	for attempt := 0; attempt < stateReadAttempts; attempt++ {
		f, err := e.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		fp, err := e.records.Fingerprint(ctx, id)
		if err != nil {
			return nil, storeError(op, err)
		}
		if c, ok := e.cache.Get(id); ok {
			if cs := c.(cachedState); cs.version == f.Version && cs.records.Equal(fp) {
				return copyState(cs.state), nil
			}
		}

		st, err := e.buildState(ctx, f)
		if err != nil {
			return nil, err
		}

		after, err := e.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		afterFP, err := e.records.Fingerprint(ctx, id)
		if err != nil {
			return nil, storeError(op, err)
		}
		if after.Version == f.Version && afterFP.Equal(fp) {
			e.cache.SetDefault(id, cachedState{version: f.Version, records: fp, state: *copyState(*st)})
			return st, nil
		}
		last = after.Version
		log := logger.FromContext(ctx)
		log.Debug().Str("filing_id", id).Int64("from", f.Version).Int64("to", after.Version).
			Msg("filing changed during read, retrying")
	}
	return nil, domain.VersionConflict(op, id, last, last)
}

func (e *Engine) buildState(ctx context.Context, f *domain.Filing) (*State, error) {
	st := &State{
		ID:           f.ID,
		UserID:       f.UserID,
		Year:         f.Year,
		Status:       f.Status,
		CurrentStep:  f.CurrentStep,
		Version:      f.Version,
		Revision:     f.Revision,
		AmendsID:     f.AmendsID,
		SupersededBy: f.SupersededBy,
		Profile:      f.Profile,
		PaymentProof: f.Clone().PaymentProof,
	}

	d, err := e.derive(ctx, f)
	if err != nil {
		return nil, err
	}
	st.Checklist = d.evaluate(f).Checklist()
	if d.snap != nil {
		s := d.snap.Clone()
		st.Snapshot = &s
	} else if f.Snapshot != nil {
		s := f.Snapshot.Clone()
		st.Snapshot = &s
	}
	if !f.IsFinalized() {
		st.Reasons = e.gate(f, d)
		st.CanFinalize = len(st.Reasons) == 0
	}
	return st, nil
}

func copyState(s State) *State {
	out := s
	out.Checklist = append([]workflow.StepState(nil), s.Checklist...)
	out.Reasons = append([]domain.Reason(nil), s.Reasons...)
	if s.Snapshot != nil {
		snap := s.Snapshot.Clone()
		out.Snapshot = &snap
	}
	if s.PaymentProof != nil {
		p := *s.PaymentProof
		out.PaymentProof = &p
	}
	return &out
}

// RequestFinalize finalizes the filing at its currently stored version.
func (e *Engine) RequestFinalize(ctx context.Context, id string) (*domain.Filing, error) {
	f, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := e.Finalize(ctx, id, f.Version)
	if err == nil {
		e.cache.Delete(id)
	}
	return out, err
}
