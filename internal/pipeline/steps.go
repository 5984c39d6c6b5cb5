package pipeline

import (
	"context"
	"fmt"
	"net/http"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/logger"
)

// PipelineStep represents a single step in the scan pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *ScanState) error
}

// ScanState holds the shared state across all pipeline steps.
type ScanState struct {
	DocumentRef    string
	ContentType    string
	Bytes          []byte
	RawModelOutput map[string]any
	Receipt        *Receipt
}

// Step 1: FetchProofStep downloads the proof document.
type FetchProofStep struct {
	Fetcher Fetcher
}

func (s *FetchProofStep) Execute(ctx context.Context, state *ScanState) error {
	data, err := s.Fetcher.Fetch(ctx, state.DocumentRef)
	if err != nil {
		if domain.CodeOf(err) == "" {
			return domain.StoreUnavailable("FetchProof", err)
		}
		return err
	}
	state.Bytes = data
	if state.ContentType == "" {
		state.ContentType = http.DetectContentType(data)
	}
	return nil
}

// Step 2: ParseReceiptStep sends the document to the receipt parser.
type ParseReceiptStep struct {
	Parser AIParser
}

func (s *ParseReceiptStep) Execute(ctx context.Context, state *ScanState) error {
	raw, err := s.Parser.ParseReceipt(ctx, state.Bytes, state.ContentType)
	if err != nil {
		return err
	}
	state.RawModelOutput = raw
	return nil
}

// Step 3: TransformReceiptStep normalizes the model output.
type TransformReceiptStep struct{}

func (s *TransformReceiptStep) Execute(ctx context.Context, state *ScanState) error {
	r, err := transformModelOutputToReceipt(state.RawModelOutput)
	if err != nil {
		return domain.Validation("TransformReceipt", "%v", err)
	}
	state.Receipt = r
	return nil
}

// Step 4: ValidateReceiptStep rejects receipts that cannot be trusted.
type ValidateReceiptStep struct {
	Validator *ReceiptValidator
}

func (s *ValidateReceiptStep) Execute(ctx context.Context, state *ScanState) error {
	if err := s.Validator.Validate(state.Receipt); err != nil {
		return err
	}
	log := logger.FromContext(ctx)
	log.Debug().
		Str("document_ref", state.DocumentRef).
		Str("amount", state.Receipt.Amount.String()).
		Str("reference", state.Receipt.Reference).
		Msg("receipt validated")
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *ScanState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// NewReceiptScanPipeline creates the standard 4-step receipt scan pipeline.
func NewReceiptScanPipeline(fetcher Fetcher, parser AIParser, validator *ReceiptValidator) *Pipeline {
	return NewPipeline(
		&FetchProofStep{Fetcher: fetcher},
		&ParseReceiptStep{Parser: parser},
		&TransformReceiptStep{},
		&ValidateReceiptStep{Validator: validator},
	)
}
