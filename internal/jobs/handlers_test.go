package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

type recomputeFunc func(ctx context.Context, id, tag string) (domain.Snapshot, error)

func (f recomputeFunc) NotifyRecordChanged(ctx context.Context, id, tag string) (domain.Snapshot, error) {
	return f(ctx, id, tag)
}

type scanFunc func(ctx context.Context, ref string) (decimal.Decimal, error)

func (f scanFunc) ScanAmount(ctx context.Context, ref string) (decimal.Decimal, error) {
	return f(ctx, ref)
}

func TestNewHandler_Recompute(t *testing.T) {
	var gotID, gotTag string
	h := NewHandler(recomputeFunc(func(ctx context.Context, id, tag string) (domain.Snapshot, error) {
		gotID, gotTag = id, tag
		return domain.Snapshot{TaxPayable: decimal.NewFromInt(8000)}, nil
	}), nil)

	job := &FilingJob{Type: JobTypeRecompute, FilingID: "f1", Tag: "salary"}
	require.NoError(t, h(context.Background(), job))
	assert.Equal(t, "f1", gotID)
	assert.Equal(t, "salary", gotTag)
	assert.Equal(t, "8000.00", job.Result)
}

func TestNewHandler_Scan(t *testing.T) {
	h := NewHandler(nil, scanFunc(func(ctx context.Context, ref string) (decimal.Decimal, error) {
		assert.Equal(t, "gs://proofs/r.pdf", ref)
		return decimal.RequireFromString("8000.5"), nil
	}))

	job := &FilingJob{Type: JobTypeScanProof, FilingID: "f1", DocumentRef: "gs://proofs/r.pdf"}
	require.NoError(t, h(context.Background(), job))
	assert.Equal(t, "8000.50", job.Result)
}

func TestNewHandler_Errors(t *testing.T) {
	outage := domain.StoreUnavailable("ListRecords", errors.New("down"))
	h := NewHandler(recomputeFunc(func(ctx context.Context, id, tag string) (domain.Snapshot, error) {
		return domain.Snapshot{}, outage
	}), nil)

	err := h(context.Background(), &FilingJob{Type: JobTypeRecompute, FilingID: "f1"})
	assert.True(t, IsRetryable(err))

	err = h(context.Background(), &FilingJob{Type: JobTypeScanProof, FilingID: "f1"})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))

	err = h(context.Background(), &FilingJob{Type: "bogus", FilingID: "f1"})
	assert.Error(t, err)
}
