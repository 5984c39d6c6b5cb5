package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CategoryRecord is one user-entered item owned by exactly one filing.
// Amounts are keyed by the field names of the tag's schema.
type CategoryRecord struct {
	ID        string                     `json:"id"`
	FilingID  string                     `json:"filing_id"`
	Family    Family                     `json:"family"`
	Tag       Tag                        `json:"tag"`
	Amounts   map[string]decimal.Decimal `json:"amounts"`
	Currency  string                     `json:"currency"`
	Note      string                     `json:"note,omitempty"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r CategoryRecord) Clone() CategoryRecord {
	out := r
	out.Amounts = make(map[string]decimal.Decimal, len(r.Amounts))
	for k, v := range r.Amounts {
		out.Amounts[k] = v
	}
	return out
}

// ResolveFamily sets Family from the tag's schema. A family that disagrees
// with a known tag is a validation failure. Records with an unknown tag keep
// an explicit family so aggregation can report them.
func (r *CategoryRecord) ResolveFamily() error {
	const op = "ResolveFamily"
	schema, ok := LookupTag(r.Tag)
	if !ok {
		if r.Family != "" {
			return nil
		}
		return DataIntegrity(op, r.FilingID, r.ID, "unrecognized category tag %q", r.Tag)
	}
	if r.Family != "" && r.Family != schema.Family {
		e := Validation(op, "tag %q belongs to %s, not %s", r.Tag, schema.Family, r.Family)
		e.FilingID, e.RecordID = r.FilingID, r.ID
		return e
	}
	r.Family = schema.Family
	return nil
}

// Measure validates the record against its schema and returns the measured
// amount, floored at zero, before any sign or exemption is applied.
//
// An unknown tag is a data integrity failure. Shape problems (missing or
// unknown fields, negative amounts, currency mismatch) are validation failures.
func (r CategoryRecord) Measure(currency string) (TagSchema, decimal.Decimal, error) {
	const op = "Measure"

	schema, ok := LookupTag(r.Tag)
	if !ok {
		return TagSchema{}, decimal.Zero, DataIntegrity(op, r.FilingID, r.ID, "unrecognized category tag %q", r.Tag)
	}

	if currency != "" && r.Currency != "" && !strings.EqualFold(r.Currency, currency) {
		e := Validation(op, "record currency %q does not match filing currency %q", r.Currency, currency)
		e.FilingID, e.RecordID = r.FilingID, r.ID
		return schema, decimal.Zero, e
	}

	fields := make([]string, 0, len(r.Amounts))
	for f := range r.Amounts {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if !schema.Accepts(f) {
			e := Validation(op, "field %q is not part of the %s schema", f, r.Tag)
			e.FilingID, e.RecordID = r.FilingID, r.ID
			return schema, decimal.Zero, e
		}
		if r.Amounts[f].IsNegative() {
			e := Validation(op, "field %q must not be negative", f)
			e.FilingID, e.RecordID = r.FilingID, r.ID
			return schema, decimal.Zero, e
		}
	}

	total := decimal.Zero
	for _, f := range schema.Plus {
		v, ok := r.Amounts[f]
		if !ok && !schema.IsOptional(f) {
			e := Validation(op, "required field %q is missing", f)
			e.FilingID, e.RecordID = r.FilingID, r.ID
			return schema, decimal.Zero, e
		}
		total = total.Add(v)
	}
	for _, f := range schema.Minus {
		v, ok := r.Amounts[f]
		if !ok && !schema.IsOptional(f) {
			e := Validation(op, "required field %q is missing", f)
			e.FilingID, e.RecordID = r.FilingID, r.ID
			return schema, decimal.Zero, e
		}
		total = total.Sub(v)
	}

	if total.IsNegative() {
		total = decimal.Zero
	}
	return schema, total, nil
}
