// Package aggregate turns a filing's category records into a snapshot of
// section totals and tax figures.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/logger"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/taxrules"
)

// DefaultStoreTimeout bounds every record store call.
const DefaultStoreTimeout = 5 * time.Second

// Aggregator computes snapshots from a record source and the year table.
type Aggregator struct {
	source  RecordSource
	rules   *taxrules.Table
	timeout time.Duration
	now     func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithStoreTimeout sets the per-call store timeout.
func WithStoreTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithClock overrides the time source used for ComputedAt.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New creates an Aggregator.
func New(source RecordSource, rules *taxrules.Table, opts ...Option) *Aggregator {
	a := &Aggregator{
		source:  source,
		rules:   rules,
		timeout: DefaultStoreTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Rules returns the rule set for a year.
func (a *Aggregator) Rules(year int) (taxrules.Year, bool) {
	return a.rules.Lookup(year)
}

type familySum struct {
	total  decimal.Decimal
	exempt decimal.Decimal
	signed decimal.Decimal
	perTag map[domain.Tag]decimal.Decimal
	count  int
}

// Aggregate computes the snapshot of a filing. Any failing record aborts the
// whole computation; no partial snapshot is returned.
func (a *Aggregator) Aggregate(ctx context.Context, f *domain.Filing) (domain.Snapshot, error) {
	const op = "Aggregate"
	log := logger.FromContext(ctx).With().Str("filing_id", f.ID).Int("year", f.Year).Logger()

	year, ok := a.rules.Lookup(f.Year)
	if !ok {
		e := domain.Validation(op, "no rate table configured for year %d", f.Year)
		e.FilingID = f.ID
		return domain.Snapshot{}, e
	}

	sums := make([]familySum, len(domain.Families))
	g, gctx := errgroup.WithContext(ctx)
	for i, fam := range domain.Families {
		g.Go(func() error {
			s, err := a.sumFamily(gctx, f, fam, year)
			if err != nil {
				return err
			}
			sums[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("aggregation failed")
		return domain.Snapshot{}, domain.WithFiling(err, f.ID)
	}

	snap := domain.Snapshot{
		Year:         f.Year,
		RulesVersion: year.Version,
		Currency:     f.Currency,
		PerFamily:    make(map[domain.Family]decimal.Decimal, len(domain.Families)),
		PerTag:       make(map[domain.Tag]decimal.Decimal),
		ComputedAt:   a.now(),
	}
	byFamily := make(map[domain.Family]familySum, len(sums))
	for i, fam := range domain.Families {
		s := sums[i]
		byFamily[fam] = s
		snap.RecordCount += s.count
		for tag, v := range s.perTag {
			snap.PerTag[tag] = v
		}
	}

	income := byFamily[domain.FamilyIncome]
	snap.GrossIncome = income.total
	snap.ExemptIncome = income.exempt
	snap.TotalDeductions = byFamily[domain.FamilyDeduction].total
	snap.TaxableIncome = floor(snap.GrossIncome.Sub(snap.TotalDeductions))
	snap.StatutoryTax = year.StatutoryTax(snap.TaxableIncome)
	snap.TotalCredits = byFamily[domain.FamilyCredit].total
	snap.CreditsApplied = decimal.Min(snap.TotalCredits, snap.StatutoryTax)
	snap.TaxPayable = floor(snap.StatutoryTax.Sub(snap.CreditsApplied))

	snap.TotalAssets = byFamily[domain.FamilyAsset].total
	snap.TotalLiabilities = byFamily[domain.FamilyLiability].total
	snap.NetWorth = snap.TotalAssets.Sub(snap.TotalLiabilities)

	gst := byFamily[domain.FamilyGST]
	snap.GSTOutput = gst.total
	snap.GSTInput = gst.total.Sub(gst.signed)
	snap.GSTPayable = floor(gst.signed)

	snap.PerFamily[domain.FamilyIncome] = snap.GrossIncome
	snap.PerFamily[domain.FamilyDeduction] = snap.TotalDeductions
	snap.PerFamily[domain.FamilyAsset] = snap.TotalAssets
	snap.PerFamily[domain.FamilyLiability] = snap.TotalLiabilities
	snap.PerFamily[domain.FamilyCredit] = snap.TotalCredits
	snap.PerFamily[domain.FamilyGST] = snap.GSTPayable

	log.Debug().
		Int("records", snap.RecordCount).
		Str("taxable", snap.TaxableIncome.String()).
		Str("payable", snap.TaxPayable.String()).
		Msg("aggregated filing")
	return snap, nil
}

// sumFamily streams one family's records. For GST, total holds the output
// side and signed holds output minus input.
func (a *Aggregator) sumFamily(ctx context.Context, f *domain.Filing, fam domain.Family, year taxrules.Year) (familySum, error) {
	const op = "Aggregate"
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	it, err := a.source.ListRecords(ctx, f.ID, fam)
	if err != nil {
		return familySum{}, storeError("ListRecords", err)
	}
	defer it.Stop()

	sum := familySum{perTag: make(map[domain.Tag]decimal.Decimal)}
	for {
		rec, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return familySum{}, storeError("ListRecords", err)
		}

		if rec.FilingID != "" && rec.FilingID != f.ID {
			return familySum{}, domain.DataIntegrity(op, f.ID, rec.ID, "record belongs to filing %s", rec.FilingID)
		}
		schema, measured, err := rec.Measure(f.Currency)
		if err != nil {
			return familySum{}, err
		}
		if schema.Family != fam {
			return familySum{}, domain.DataIntegrity(op, f.ID, rec.ID, "record tagged %s listed under family %s", rec.Tag, fam)
		}

		sum.count++
		sum.perTag[rec.Tag] = sum.perTag[rec.Tag].Add(measured)

		exempt := measured.Mul(year.Exemption(rec.Tag))
		counted := measured.Sub(exempt)
		sum.exempt = sum.exempt.Add(exempt)
		if schema.Sign < 0 {
			sum.signed = sum.signed.Sub(counted)
			continue
		}
		sum.total = sum.total.Add(counted)
		sum.signed = sum.signed.Add(counted)
	}
	return sum, nil
}

// FamilyCounts returns the record count of every family.
func (a *Aggregator) FamilyCounts(ctx context.Context, filingID string) (map[domain.Family]int, error) {
	counts := make([]int, len(domain.Families))
	g, gctx := errgroup.WithContext(ctx)
	for i, fam := range domain.Families {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, a.timeout)
			defer cancel()
			n, err := a.source.CountRecords(cctx, filingID, fam)
			if err != nil {
				return storeError("CountRecords", err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, domain.WithFiling(err, filingID)
	}
	out := make(map[domain.Family]int, len(counts))
	for i, fam := range domain.Families {
		out[fam] = counts[i]
	}
	return out, nil
}

func storeError(op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.StoreUnavailable(op, fmt.Errorf("timed out: %w", err))
	}
	return domain.StoreUnavailable(op, err)
}

func floor(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
