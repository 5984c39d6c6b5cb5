// Package filing manages the lifecycle of tax filings: creation, step
// transitions, payment verification, finalization and amendment.
package filing

import (
	"context"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

// Repository persists filings. Implementations return *domain.Error values
// with CodeNotFound, CodeAlreadyExists, CodeVersionConflict or
// CodeStoreUnavailable so callers can branch on the code.
type Repository interface {
	// Create inserts a new filing. At most one non-amendment filing may exist
	// per user and year.
	Create(ctx context.Context, f *domain.Filing) error

	// Get retrieves a filing by id.
	Get(ctx context.Context, id string) (*domain.Filing, error)

	// FindByUserYear lists every revision a user has for one year.
	FindByUserYear(ctx context.Context, userID string, year int) ([]*domain.Filing, error)

	// ListByUser lists a user's filings, newest year first.
	ListByUser(ctx context.Context, userID string) ([]*domain.Filing, error)

	// ListByStatus lists filings in one status.
	ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Filing, error)

	// Update replaces the stored filing when its stored version equals
	// expectedVersion. f.Version carries the new version.
	Update(ctx context.Context, f *domain.Filing, expectedVersion int64) error

	// SaveSnapshot refreshes the derived snapshot and completed steps without
	// bumping the version. It is a no-op conflict when the version moved.
	SaveSnapshot(ctx context.Context, id string, version int64, snap domain.Snapshot, completed []domain.StepID) error
}

// DocumentLocator resolves payment proof document references.
type DocumentLocator interface {
	Exists(ctx context.Context, ref string) (bool, error)
}

// RecordDeleter is implemented by record stores that can drop the records of
// a filing. It is used to clean up after a failed amendment.
type RecordDeleter interface {
	DeleteRecords(ctx context.Context, filingID string) error
}
