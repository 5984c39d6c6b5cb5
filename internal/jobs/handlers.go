package jobs

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/logger"
)

// IsRetryable reports whether a handler error is worth another attempt.
// Only store outages qualify; data and validation failures never heal by
// themselves.
func IsRetryable(err error) bool {
	return domain.IsRetryable(err)
}

// Recomputer recomputes a filing after a record change.
type Recomputer interface {
	NotifyRecordChanged(ctx context.Context, id string, tag string) (domain.Snapshot, error)
}

// ProofScanner extracts the paid amount from a proof document.
type ProofScanner interface {
	ScanAmount(ctx context.Context, documentRef string) (decimal.Decimal, error)
}

// NewHandler dispatches jobs by type. scanner may be nil, in which case
// scan jobs fail.
func NewHandler(recomputer Recomputer, scanner ProofScanner) JobHandler {
	return func(ctx context.Context, job *FilingJob) error {
		log := logger.FromContext(ctx).With().
			Str("job_id", job.JobID).Str("type", string(job.Type)).Str("filing_id", job.FilingID).Logger()

		switch job.Type {
		case JobTypeRecompute:
			snap, err := recomputer.NotifyRecordChanged(ctx, job.FilingID, job.Tag)
			if err != nil {
				return err
			}
			job.Result = snap.TaxPayable.StringFixed(2)
			log.Debug().Str("tax_payable", job.Result).Msg("recompute finished")
			return nil

		case JobTypeScanProof:
			if scanner == nil {
				return fmt.Errorf("NewHandler: proof scanning is not configured")
			}
			amount, err := scanner.ScanAmount(ctx, job.DocumentRef)
			if err != nil {
				return err
			}
			job.Result = amount.StringFixed(2)
			log.Info().Str("scanned_amount", job.Result).Msg("proof scanned")
			return nil
		}
		return fmt.Errorf("NewHandler: unknown job type %q", job.Type)
	}
}
