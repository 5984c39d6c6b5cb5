// Package inmemory provides map-backed filing and record stores. They are
// safe for concurrent use and lose their data on restart.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/filing"
)

// FilingRepository is an in-memory implementation of filing.Repository.
type FilingRepository struct {
	mu      sync.RWMutex
	filings map[string]*domain.Filing
}

// NewFilingRepository creates an empty repository.
func NewFilingRepository() *FilingRepository {
	return &FilingRepository{filings: make(map[string]*domain.Filing)}
}

// Create implements filing.Repository.
func (r *FilingRepository) Create(ctx context.Context, f *domain.Filing) error {
	const op = "Create"
	if f.ID == "" {
		return domain.Validation(op, "filing id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.filings[f.ID]; exists {
		return domain.AlreadyExists(op, "filing %s already exists", f.ID)
	}
	if !f.IsAmendment() {
		for _, other := range r.filings {
			if other.UserID == f.UserID && other.Year == f.Year && !other.IsAmendment() {
				return domain.AlreadyExists(op, "user %s already has a filing for %d", f.UserID, f.Year)
			}
		}
	}
	r.filings[f.ID] = f.Clone()
	return nil
}

// Get implements filing.Repository.
func (r *FilingRepository) Get(ctx context.Context, id string) (*domain.Filing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.filings[id]
	if !ok {
		return nil, domain.NotFound("Get", id)
	}
	return f.Clone(), nil
}

// FindByUserYear implements filing.Repository.
func (r *FilingRepository) FindByUserYear(ctx context.Context, userID string, year int) ([]*domain.Filing, error) {
	return r.list(func(f *domain.Filing) bool { return f.UserID == userID && f.Year == year }), nil
}

// ListByUser implements filing.Repository.
func (r *FilingRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Filing, error) {
	return r.list(func(f *domain.Filing) bool { return f.UserID == userID }), nil
}

// ListByStatus implements filing.Repository.
func (r *FilingRepository) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Filing, error) {
	return r.list(func(f *domain.Filing) bool { return f.Status == status }), nil
}

func (r *FilingRepository) list(match func(*domain.Filing) bool) []*domain.Filing {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Filing
	for _, f := range r.filings {
		if match(f) {
			out = append(out, f.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		if out[i].Revision != out[j].Revision {
			return out[i].Revision > out[j].Revision
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// finalized reports whether id is stored as finalized. Unknown filings are
// not finalized.
func (r *FilingRepository) finalized(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.filings[id]
	return ok && f.IsFinalized()
}

// Update implements filing.Repository.
func (r *FilingRepository) Update(ctx context.Context, f *domain.Filing, expectedVersion int64) error {
	const op = "Update"
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.filings[f.ID]
	if !ok {
		return domain.NotFound(op, f.ID)
	}
	if stored.Version != expectedVersion {
		return domain.VersionConflict(op, f.ID, expectedVersion, stored.Version)
	}
	r.filings[f.ID] = f.Clone()
	return nil
}

// SaveSnapshot implements filing.Repository.
func (r *FilingRepository) SaveSnapshot(ctx context.Context, id string, version int64, snap domain.Snapshot, completed []domain.StepID) error {
	const op = "SaveSnapshot"
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.filings[id]
	if !ok {
		return domain.NotFound(op, id)
	}
	if stored.Version != version {
		return domain.VersionConflict(op, id, version, stored.Version)
	}
	s := snap.Clone()
	stored.Snapshot = &s
	stored.CompletedSteps = append([]domain.StepID(nil), completed...)
	return nil
}

// Ensure FilingRepository implements filing.Repository.
var _ filing.Repository = (*FilingRepository)(nil)
