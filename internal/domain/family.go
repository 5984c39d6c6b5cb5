package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Family groups category tags into the sections of a return.
type Family string

const (
	FamilyIncome    Family = "income"
	FamilyDeduction Family = "deduction"
	FamilyAsset     Family = "asset"
	FamilyLiability Family = "liability"
	FamilyCredit    Family = "credit"
	FamilyGST       Family = "gst"
)

// Families lists every family in section order.
var Families = []Family{
	FamilyIncome,
	FamilyDeduction,
	FamilyAsset,
	FamilyLiability,
	FamilyCredit,
	FamilyGST,
}

// ParseFamily normalizes and validates a family name.
func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Families {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown family %q", s)
}

// Tag identifies the kind of a single user-entered record.
type Tag string

const (
	TagSalary               Tag = "salary"
	TagBusiness             Tag = "business"
	TagAgriculture          Tag = "agriculture"
	TagCommission           Tag = "commission"
	TagDividend             Tag = "dividend"
	TagFreelance            Tag = "freelance"
	TagOtherIncome          Tag = "other_income"
	TagPartnership          Tag = "partnership"
	TagProfessionalServices Tag = "professional_services"
	TagProfitOnSavings      Tag = "profit_on_savings"
	TagPropertySale         Tag = "property_sale"
	TagRent                 Tag = "rent"

	TagBankTransaction Tag = "bank_transaction"
	TagVehicleExpense  Tag = "vehicle_expense"
	TagUtility         Tag = "utility"
	TagOtherDeduction  Tag = "other_deduction"

	TagOpeningWealth Tag = "opening_wealth"
	TagProperty      Tag = "property"
	TagVehicle       Tag = "vehicle"
	TagBankAccount   Tag = "bank_account"
	TagInsurance     Tag = "insurance"
	TagCash          Tag = "cash"
	TagPossession    Tag = "possession"
	TagForeignAsset  Tag = "foreign_asset"
	TagOtherAsset    Tag = "other_asset"

	TagBankLoan       Tag = "bank_loan"
	TagOtherLiability Tag = "other_liability"

	TagWithholdingTax     Tag = "withholding_tax"
	TagCharitableDonation Tag = "charitable_donation"
	TagPensionFund        Tag = "pension_fund"

	TagGSTOutput Tag = "gst_output"
	TagGSTInput  Tag = "gst_input"
)

// FieldAmount is the single amount field used by most tags.
const FieldAmount = "amount"

// TagSchema describes how a record of one tag is shaped and measured.
// A record's measured amount is the sum of Plus fields minus the sum of
// Minus fields. Fields listed in Optional may be absent. Sign flips the
// measured amount's contribution inside its family (GST input tax offsets
// output tax).
type TagSchema struct {
	Tag      Tag
	Family   Family
	Label    string
	Plus     []string
	Minus    []string
	Optional []string
	Sign     int
}

// Accepts reports whether field belongs to the schema.
func (s TagSchema) Accepts(field string) bool {
	for _, f := range s.Plus {
		if f == field {
			return true
		}
	}
	for _, f := range s.Minus {
		if f == field {
			return true
		}
	}
	return false
}

// IsOptional reports whether field may be omitted.
func (s TagSchema) IsOptional(field string) bool {
	for _, f := range s.Optional {
		if f == field {
			return true
		}
	}
	return false
}

func single(tag Tag, family Family, label string) TagSchema {
	return TagSchema{Tag: tag, Family: family, Label: label, Plus: []string{FieldAmount}, Sign: 1}
}

var schemas = map[Tag]TagSchema{}

func init() {
	table := []TagSchema{
		single(TagSalary, FamilyIncome, "Salary"),
		single(TagBusiness, FamilyIncome, "Business income"),
		single(TagAgriculture, FamilyIncome, "Agriculture income"),
		single(TagCommission, FamilyIncome, "Commission / service income"),
		single(TagDividend, FamilyIncome, "Dividend"),
		single(TagFreelance, FamilyIncome, "Freelance income"),
		single(TagOtherIncome, FamilyIncome, "Other income"),
		single(TagPartnership, FamilyIncome, "Share from partnership"),
		single(TagProfessionalServices, FamilyIncome, "Professional services"),
		single(TagProfitOnSavings, FamilyIncome, "Profit on savings"),
		{Tag: TagPropertySale, Family: FamilyIncome, Label: "Gain on property sale",
			Plus: []string{"sale_price"}, Minus: []string{"purchase_cost"}, Sign: 1},
		{Tag: TagRent, Family: FamilyIncome, Label: "Rental income",
			Plus: []string{"gross_rent"}, Minus: []string{"repairs"}, Optional: []string{"repairs"}, Sign: 1},

		single(TagBankTransaction, FamilyDeduction, "Bank transaction deduction"),
		single(TagVehicleExpense, FamilyDeduction, "Vehicle expense"),
		single(TagUtility, FamilyDeduction, "Utility bills"),
		single(TagOtherDeduction, FamilyDeduction, "Other deduction"),

		single(TagOpeningWealth, FamilyAsset, "Opening wealth"),
		single(TagProperty, FamilyAsset, "Property"),
		single(TagVehicle, FamilyAsset, "Vehicle"),
		single(TagBankAccount, FamilyAsset, "Bank account"),
		single(TagInsurance, FamilyAsset, "Insurance"),
		single(TagCash, FamilyAsset, "Cash"),
		single(TagPossession, FamilyAsset, "Possessions"),
		single(TagForeignAsset, FamilyAsset, "Foreign asset"),
		single(TagOtherAsset, FamilyAsset, "Other asset"),

		single(TagBankLoan, FamilyLiability, "Bank loan"),
		single(TagOtherLiability, FamilyLiability, "Other liability"),

		single(TagWithholdingTax, FamilyCredit, "Tax withheld at source"),
		single(TagCharitableDonation, FamilyCredit, "Charitable donation credit"),
		single(TagPensionFund, FamilyCredit, "Pension fund credit"),

		single(TagGSTOutput, FamilyGST, "GST on sales"),
		{Tag: TagGSTInput, Family: FamilyGST, Label: "GST on purchases",
			Plus: []string{FieldAmount}, Sign: -1},
	}
	for _, s := range table {
		schemas[s.Tag] = s
	}
}

// LookupTag returns the schema for a tag.
func LookupTag(tag Tag) (TagSchema, bool) {
	s, ok := schemas[tag]
	return s, ok
}

// ParseTag normalizes and validates a tag name.
func ParseTag(s string) (Tag, error) {
	t := Tag(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := schemas[t]; !ok {
		return "", fmt.Errorf("unknown category tag %q", s)
	}
	return t, nil
}

// TagsOf lists the tags of a family in a stable order.
func TagsOf(f Family) []Tag {
	var out []Tag
	for t, s := range schemas {
		if s.Family == f {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllTags lists every known tag in a stable order.
func AllTags() []Tag {
	out := make([]Tag, 0, len(schemas))
	for t := range schemas {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
