package aggregate

import (
	"context"
	"time"

	"google.golang.org/api/iterator"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

// RecordIterator yields records one at a time. Next returns iterator.Done
// once the sequence is exhausted. Stop releases resources early and is safe
// to call more than once.
type RecordIterator interface {
	Next() (domain.CategoryRecord, error)
	Stop()
}

// RecordSource is the read side of the category record store.
// A new ListRecords call restarts iteration from the beginning.
type RecordSource interface {
	ListRecords(ctx context.Context, filingID string, family domain.Family) (RecordIterator, error)
	CountRecords(ctx context.Context, filingID string, family domain.Family) (int, error)
}

// RecordCopier duplicates every record of one filing under another.
type RecordCopier interface {
	CopyRecords(ctx context.Context, fromFilingID, toFilingID string) error
}

// Fingerprint summarizes the record set of one filing. A put or delete
// changes the count or moves LastUpdated forward.
type Fingerprint struct {
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// Equal reports whether both fingerprints describe the same record set.
func (f Fingerprint) Equal(o Fingerprint) bool {
	return f.Count == o.Count && f.LastUpdated.Equal(o.LastUpdated)
}

// RecordFingerprinter reads a filing's record fingerprint.
type RecordFingerprinter interface {
	Fingerprint(ctx context.Context, filingID string) (Fingerprint, error)
}

// RecordStore combines the read, copy and fingerprint sides.
type RecordStore interface {
	RecordSource
	RecordCopier
	RecordFingerprinter
}

// SliceIterator iterates over a fixed slice of records.
type SliceIterator struct {
	records []domain.CategoryRecord
	pos     int
}

// NewSliceIterator returns an iterator over copies of records.
func NewSliceIterator(records []domain.CategoryRecord) *SliceIterator {
	cp := make([]domain.CategoryRecord, len(records))
	for i, r := range records {
		cp[i] = r.Clone()
	}
	return &SliceIterator{records: cp}
}

// Next implements RecordIterator.
func (it *SliceIterator) Next() (domain.CategoryRecord, error) {
	if it.pos >= len(it.records) {
		return domain.CategoryRecord{}, iterator.Done
	}
	r := it.records[it.pos]
	it.pos++
	return r, nil
}

// Stop implements RecordIterator.
func (it *SliceIterator) Stop() {
	it.pos = len(it.records)
}
