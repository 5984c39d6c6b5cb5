package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/jobs"
)

// DefaultMaxJobs bounds a Store created without WithMaxJobs.
const DefaultMaxJobs = 10000

// Store keeps job records in memory for the lifetime of the process. It is
// safe for concurrent use and only hands out copies. Once more than maxJobs
// records are held, the oldest finished ones are evicted.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*jobs.FilingJob
	maxJobs int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxJobs caps the number of retained jobs; n <= 0 keeps every job.
func WithMaxJobs(n int) StoreOption {
	return func(s *Store) { s.maxJobs = n }
}

// NewStore creates an empty job store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		byID:    make(map[string]*jobs.FilingJob),
		maxJobs: DefaultMaxJobs,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func finished(j *jobs.FilingJob) bool {
	return j.Status == jobs.JobStatusCompleted || j.Status == jobs.JobStatusFailed
}

// SaveJob implements jobs.JobStore.
func (s *Store) SaveJob(ctx context.Context, job *jobs.FilingJob) error {
	if job.JobID == "" {
		return domain.Validation("SaveJob", "job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *job
	s.byID[job.JobID] = &cp
	s.evictLocked()
	return nil
}

// evictLocked drops the oldest finished jobs until the store is within its
// bound. Jobs still pending, running or retrying are never evicted.
func (s *Store) evictLocked() {
	if s.maxJobs <= 0 || len(s.byID) <= s.maxJobs {
		return
	}
	var done []*jobs.FilingJob
	for _, j := range s.byID {
		if finished(j) {
			done = append(done, j)
		}
	}
	sortByCreation(done)
	for _, j := range done {
		if len(s.byID) <= s.maxJobs {
			return
		}
		delete(s.byID, j.JobID)
	}
}

// GetJob implements jobs.JobStore. A missing job is a NOT_FOUND error.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.FilingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.byID[jobID]
	if !ok {
		return nil, domain.NewError(domain.CodeNotFound, "GetJob", "job %s not found", jobID)
	}
	cp := *j
	return &cp, nil
}

// ListJobs implements jobs.JobStore. Results are ordered by creation time,
// oldest first, before the offset and limit apply.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.FilingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*jobs.FilingJob
	for _, j := range s.byID {
		switch {
		case filter.FilingID != "" && j.FilingID != filter.FilingID:
		case filter.Type != "" && j.Type != filter.Type:
		case filter.Status != "" && j.Status != filter.Status:
		default:
			cp := *j
			out = append(out, &cp)
		}
	}
	sortByCreation(out)

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*jobs.FilingJob{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateJobStatus implements jobs.JobStore.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byID[jobID]
	if !ok {
		return domain.NewError(domain.CodeNotFound, "UpdateJobStatus", "job %s not found", jobID)
	}
	j.Status = status
	if errorMsg != "" {
		j.Error = errorMsg
	}
	s.evictLocked()
	return nil
}

func sortByCreation(list []*jobs.FilingJob) {
	sort.Slice(list, func(i, k int) bool {
		if !list[i].CreatedAt.Equal(list[k].CreatedAt) {
			return list[i].CreatedAt.Before(list[k].CreatedAt)
		}
		return list[i].JobID < list[k].JobID
	})
}

var _ jobs.JobStore = (*Store)(nil)
