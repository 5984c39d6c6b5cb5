package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/jobs"
)

func runQueue(t *testing.T, handler jobs.JobHandler) (*Queue, *Store) {
	t.Helper()
	store := NewStore()
	q := NewQueue(8, store, WithWorkers(2), WithBackoff(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Start(ctx, handler))
	t.Cleanup(func() {
		cancel()
		_ = q.Close()
	})
	return q, store
}

func waitFor(t *testing.T, store *Store, id string, status jobs.JobStatus) *jobs.FilingJob {
	t.Helper()
	var last *jobs.FilingJob
	require.Eventually(t, func() bool {
		j, err := store.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		last = j
		return j.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func TestQueue_RetriesStoreOutages(t *testing.T) {
	var calls atomic.Int32
	q, store := runQueue(t, func(ctx context.Context, job *jobs.FilingJob) error {
		if calls.Add(1) <= 2 {
			return domain.StoreUnavailable("ListRecords", errors.New("connection reset"))
		}
		return nil
	})

	job := &jobs.FilingJob{Type: jobs.JobTypeRecompute, FilingID: "f1", Tag: "salary"}
	require.NoError(t, q.Publish(context.Background(), job))

	done := waitFor(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, 2, done.RetryCount)
	assert.Empty(t, done.Error)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueue_DoesNotRetryDataErrors(t *testing.T) {
	var calls atomic.Int32
	q, store := runQueue(t, func(ctx context.Context, job *jobs.FilingJob) error {
		calls.Add(1)
		return domain.DataIntegrity("Aggregate", job.FilingID, "r1", "unrecognized category tag")
	})

	job := &jobs.FilingJob{Type: jobs.JobTypeRecompute, FilingID: "f1"}
	require.NoError(t, q.Publish(context.Background(), job))

	failed := waitFor(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, 0, failed.RetryCount)
	assert.Equal(t, string(domain.CodeDataIntegrity), failed.ErrorCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	q, store := runQueue(t, func(ctx context.Context, job *jobs.FilingJob) error {
		return domain.StoreUnavailable("CountRecords", errors.New("timeout"))
	})

	job := &jobs.FilingJob{Type: jobs.JobTypeRecompute, FilingID: "f1", MaxRetries: 2}
	require.NoError(t, q.Publish(context.Background(), job))

	failed := waitFor(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, 2, failed.RetryCount)
	assert.Equal(t, string(domain.CodeStoreUnavailable), failed.ErrorCode)
}

func TestQueue_PublishValidation(t *testing.T) {
	q := NewQueue(1, nil)
	assert.Error(t, q.Publish(context.Background(), &jobs.FilingJob{Type: jobs.JobTypeRecompute}))

	require.NoError(t, q.Close())
	assert.Error(t, q.Publish(context.Background(), &jobs.FilingJob{FilingID: "f1"}))
}

func TestStore_ListJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, fid := range []string{"f1", "f2", "f1"} {
		require.NoError(t, s.SaveJob(ctx, &jobs.FilingJob{
			JobID:     string(rune('a' + i)),
			FilingID:  fid,
			Type:      jobs.JobTypeRecompute,
			Status:    jobs.JobStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := s.ListJobs(ctx, jobs.JobFilter{FilingID: "f1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].JobID)
	assert.Equal(t, "c", list[1].JobID)

	list, err = s.ListJobs(ctx, jobs.JobFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].JobID)

	require.NoError(t, s.UpdateJobStatus(ctx, "b", jobs.JobStatusFailed, "boom"))
	j, err := s.GetJob(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, j.Status)
	assert.Error(t, s.UpdateJobStatus(ctx, "zz", jobs.JobStatusFailed, ""))
}

func TestStore_EvictsOldestFinished(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithMaxJobs(2))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	save := func(id string, status jobs.JobStatus, minute int) {
		require.NoError(t, s.SaveJob(ctx, &jobs.FilingJob{
			JobID:     id,
			Status:    status,
			CreatedAt: base.Add(time.Duration(minute) * time.Minute),
		}))
	}

	save("old-done", jobs.JobStatusCompleted, 0)
	save("pending", jobs.JobStatusPending, 1)
	save("new-done", jobs.JobStatusFailed, 2)

	_, err := s.GetJob(ctx, "old-done")
	assert.True(t, domain.IsCode(err, domain.CodeNotFound), "%v", err)
	_, err = s.GetJob(ctx, "pending")
	assert.NoError(t, err)
	_, err = s.GetJob(ctx, "new-done")
	assert.NoError(t, err)

	// Unfinished jobs are kept even past the bound.
	save("p2", jobs.JobStatusRunning, 3)
	save("p3", jobs.JobStatusPending, 4)
	list, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, j := range list {
		ids = append(ids, j.JobID)
	}
	assert.Equal(t, []string{"pending", "p2", "p3"}, ids)
}

func TestStore_Errors(t *testing.T) {
	s := NewStore()
	err := s.SaveJob(context.Background(), &jobs.FilingJob{})
	assert.True(t, domain.IsCode(err, domain.CodeValidation), "%v", err)

	err = s.UpdateJobStatus(context.Background(), "missing", jobs.JobStatusFailed, "")
	assert.True(t, domain.IsCode(err, domain.CodeNotFound), "%v", err)
}
