// Package pipeline reads the paid amount off payment proof documents so
// reviewers can compare it with the declared amount.
package pipeline

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/jobs"
)

// Scanner runs the receipt scan pipeline for one document at a time.
type Scanner struct {
	pipeline *Pipeline
}

// NewScanner creates a scanner over the standard pipeline.
func NewScanner(fetcher Fetcher, parser AIParser, currency string) *Scanner {
	return &Scanner{pipeline: NewReceiptScanPipeline(fetcher, parser, NewReceiptValidator(currency))}
}

// Scan reads the receipt behind a document reference.
func (s *Scanner) Scan(ctx context.Context, documentRef string) (*Receipt, error) {
	state := &ScanState{DocumentRef: documentRef}
	if err := s.pipeline.Execute(ctx, state); err != nil {
		return nil, err
	}
	return state.Receipt, nil
}

// ScanAmount implements jobs.ProofScanner.
func (s *Scanner) ScanAmount(ctx context.Context, documentRef string) (decimal.Decimal, error) {
	r, err := s.Scan(ctx, documentRef)
	if err != nil {
		return decimal.Zero, err
	}
	return r.Amount, nil
}

var _ jobs.ProofScanner = (*Scanner)(nil)
