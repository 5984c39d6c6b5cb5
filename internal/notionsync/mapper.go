package notionsync

import (
	"github.com/jomei/notionapi"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

// Review board column names.
const (
	propFilingID       = "Filing ID"
	propUser           = "User"
	propTaxpayer       = "Taxpayer"
	propYear           = "Tax Year"
	propRevision       = "Revision"
	propStatus         = "Status"
	propTaxPayable     = "Tax Payable"
	propDeclaredAmount = "Declared Amount"
	propMismatch       = "Amount Mismatch"
	propProof          = "Proof"
	propSubmitted      = "Submitted"
)

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: s},
		},
	}
}

// FilingToReviewProperties converts a filing awaiting payment review into
// review board properties.
func FilingToReviewProperties(f *domain.Filing) notionapi.Properties {
	props := notionapi.Properties{
		propFilingID: notionapi.TitleProperty{Title: richText(f.ID)},
		propUser:     notionapi.RichTextProperty{RichText: richText(f.UserID)},
		propYear:     notionapi.NumberProperty{Number: float64(f.Year)},
		propRevision: notionapi.NumberProperty{Number: float64(f.Revision)},
		propStatus:   notionapi.SelectProperty{Select: notionapi.Option{Name: string(f.Status)}},
	}

	if f.Profile.FullName != "" {
		props[propTaxpayer] = notionapi.RichTextProperty{RichText: richText(f.Profile.FullName)}
	}

	if f.Snapshot != nil {
		payable, _ := f.Snapshot.TaxPayable.Float64()
		props[propTaxPayable] = notionapi.NumberProperty{Number: payable}
	}

	if p := f.PaymentProof; p != nil {
		declared, _ := p.DeclaredAmount.Float64()
		props[propDeclaredAmount] = notionapi.NumberProperty{Number: declared}
		props[propProof] = notionapi.URLProperty{URL: p.DocumentRef}
		submitted := notionapi.Date(p.SubmittedAt)
		props[propSubmitted] = notionapi.DateProperty{Date: &notionapi.DateObject{Start: &submitted}}
		if f.Snapshot != nil {
			props[propMismatch] = notionapi.CheckboxProperty{Checkbox: !p.DeclaredAmount.Equal(f.Snapshot.TaxPayable)}
		}
	}

	return props
}

// extractFilingID extracts the filing ID from a review board page.
// Returns empty string if not found.
func extractFilingID(page notionapi.Page) string {
	if prop, ok := page.Properties[propFilingID]; ok {
		if title, ok := prop.(*notionapi.TitleProperty); ok {
			if len(title.Title) > 0 {
				return title.Title[0].PlainText
			}
		}
	}
	return ""
}
