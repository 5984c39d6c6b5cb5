package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/aggregate"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/filing"
)

// RecordStore is an in-memory category record store.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]map[string]domain.CategoryRecord
	guard   *FilingRepository
	stamp   time.Time
}

// RecordStoreOption configures a RecordStore.
type RecordStoreOption func(*RecordStore)

// GuardedBy rejects writes to filings that repo holds as finalized.
func GuardedBy(repo *FilingRepository) RecordStoreOption {
	return func(s *RecordStore) { s.guard = repo }
}

// NewRecordStore creates an empty record store.
func NewRecordStore(opts ...RecordStoreOption) *RecordStore {
	s := &RecordStore{records: make(map[string]map[string]domain.CategoryRecord)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// checkWritable must be called with s.mu held, so a write cannot slip in
// after a concurrent finalization has read the fingerprint.
func (s *RecordStore) checkWritable(op, filingID string) error {
	if s.guard != nil && s.guard.finalized(filingID) {
		return domain.FilingLocked(op, filingID)
	}
	return nil
}

// nextStamp returns a timestamp strictly after every earlier write.
func (s *RecordStore) nextStamp() time.Time {
	now := time.Now().UTC()
	if !now.After(s.stamp) {
		now = s.stamp.Add(time.Nanosecond)
	}
	s.stamp = now
	return now
}

// PutRecord inserts or replaces a record. Missing ids and timestamps are
// filled. With GuardedBy, a finalized filing takes no writes.
func (s *RecordStore) PutRecord(ctx context.Context, rec domain.CategoryRecord) (domain.CategoryRecord, error) {
	if rec.FilingID == "" {
		return domain.CategoryRecord{}, domain.Validation("PutRecord", "filing id is required")
	}
	if err := rec.ResolveFamily(); err != nil {
		return domain.CategoryRecord{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritable("PutRecord", rec.FilingID); err != nil {
		return domain.CategoryRecord{}, err
	}
	now := s.nextStamp()

	byID, ok := s.records[rec.FilingID]
	if !ok {
		byID = make(map[string]domain.CategoryRecord)
		s.records[rec.FilingID] = byID
	}
	if prev, exists := byID[rec.ID]; exists {
		rec.CreatedAt = prev.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	byID[rec.ID] = rec.Clone()
	return rec.Clone(), nil
}

// DeleteRecord removes one record.
func (s *RecordStore) DeleteRecord(ctx context.Context, filingID, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritable("DeleteRecord", filingID); err != nil {
		return err
	}
	if _, ok := s.records[filingID][recordID]; !ok {
		return domain.NewError(domain.CodeNotFound, "DeleteRecord", "record %s not found", recordID).ForFiling(filingID)
	}
	delete(s.records[filingID], recordID)
	return nil
}

// DeleteRecords implements filing.RecordDeleter.
func (s *RecordStore) DeleteRecords(ctx context.Context, filingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, filingID)
	return nil
}

// ListRecords implements aggregate.RecordSource. The iterator reads a copy
// taken at call time.
func (s *RecordStore) ListRecords(ctx context.Context, filingID string, family domain.Family) (aggregate.RecordIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.CategoryRecord
	for _, r := range s.records[filingID] {
		if r.Family == family {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return aggregate.NewSliceIterator(out), nil
}

// CountRecords implements aggregate.RecordSource.
func (s *RecordStore) CountRecords(ctx context.Context, filingID string, family domain.Family) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.records[filingID] {
		if r.Family == family {
			n++
		}
	}
	return n, nil
}

// Fingerprint implements aggregate.RecordFingerprinter.
func (s *RecordStore) Fingerprint(ctx context.Context, filingID string) (aggregate.Fingerprint, error) {
	if err := ctx.Err(); err != nil {
		return aggregate.Fingerprint{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var fp aggregate.Fingerprint
	for _, r := range s.records[filingID] {
		fp.Count++
		if r.UpdatedAt.After(fp.LastUpdated) {
			fp.LastUpdated = r.UpdatedAt
		}
	}
	return fp, nil
}

// CopyRecords implements aggregate.RecordCopier. Copies get new ids.
func (s *RecordStore) CopyRecords(ctx context.Context, fromFilingID, toFilingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.records[fromFilingID]
	dst, ok := s.records[toFilingID]
	if !ok {
		dst = make(map[string]domain.CategoryRecord, len(src))
		s.records[toFilingID] = dst
	}
	for _, r := range src {
		c := r.Clone()
		c.ID = uuid.NewString()
		c.FilingID = toFilingID
		dst[c.ID] = c
	}
	return nil
}

var (
	_ aggregate.RecordStore = (*RecordStore)(nil)
	_ filing.RecordDeleter  = (*RecordStore)(nil)
)
