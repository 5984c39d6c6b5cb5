// Package app assembles the filing engine from configuration. The binaries
// under cmd/ share it so they all see the same stores and rules.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/aggregate"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/config"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/filing"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/gcsuploader"
	infraBQ "github.com/M-Abdullah-Amjad/filer-pak/internal/infra/bigquery"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/infra/sqlite"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/pipeline"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/store/inmemory"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/taxrules"
)

// RecordStore is what every backend offers for category records.
type RecordStore interface {
	aggregate.RecordStore
	PutRecord(ctx context.Context, rec domain.CategoryRecord) (domain.CategoryRecord, error)
	DeleteRecord(ctx context.Context, filingID, recordID string) error
}

// App holds the wired components. Storage and Scanner are nil when no
// bucket is configured.
type App struct {
	Config  *config.Config
	Rules   *taxrules.Table
	Filings filing.Repository
	Records RecordStore
	Manager *filing.Manager
	Engine  *filing.Engine
	Storage *gcsuploader.GCSStorageService
	Scanner *pipeline.Scanner

	closers []func() error
}

// New builds the components for cfg. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	rules, err := taxrules.Load(cfg.TaxRulesPath)
	if err != nil {
		return nil, fmt.Errorf("New: loading tax rules: %w", err)
	}

	a := &App{Config: cfg, Rules: rules}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	var opts []filing.ManagerOption
	if cfg.GCSBucket != "" {
		storage, err := gcsuploader.NewGCSStorageService(ctx, cfg.GCSBucket)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		a.Storage = storage
		a.closers = append(a.closers, storage.Close)
		opts = append(opts, filing.WithDocumentLocator(storage))

		parser, err := pipeline.NewGeminiAIParser(ctx, cfg.GeminiModel)
		if err != nil {
			log.Warn().Err(err).Msg("proof scanning disabled")
		} else {
			a.Scanner = pipeline.NewScanner(storage, parser, pipeline.DefaultCurrency)
		}
	} else {
		log.Warn().Msg("no GCS bucket configured, proof uploads and scanning are disabled")
	}

	agg := aggregate.New(a.Records, rules, aggregate.WithStoreTimeout(cfg.StoreTimeout))
	a.Manager = filing.NewManager(a.Filings, a.Records, agg, opts...)
	a.Engine = filing.NewEngine(a.Manager, cfg.CacheTTL)

	log.Info().
		Str("backend", cfg.StoreBackend).
		Ints("tax_years", rules.Years()).
		Bool("proof_storage", a.Storage != nil).
		Bool("proof_scanning", a.Scanner != nil).
		Msg("filing engine ready")
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.StoreBackend {
	case config.BackendMemory:
		repo := inmemory.NewFilingRepository()
		a.Filings = repo
		a.Records = inmemory.NewRecordStore(inmemory.GuardedBy(repo))

	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("New: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.Filings = db.Filings()
		a.Records = db.Records()

	case config.BackendBigQuery:
		client, err := infraBQ.NewClient(ctx, infraBQ.Dataset{ProjectID: cfg.GCPProject, DatasetID: cfg.BQDataset})
		if err != nil {
			return fmt.Errorf("New: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.Filings = client.Filings()
		a.Records = client.Records()

	default:
		return fmt.Errorf("New: unknown store backend %q", cfg.StoreBackend)
	}
	return nil
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
