package billing

import (
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DocumentView is the presentation form of a document. Amounts are rounded
// to cents here and nowhere earlier.
type DocumentView struct {
	ID              int64          `json:"id"`
	Kind            Kind           `json:"kind"`
	Number          string         `json:"number"`
	Status          Status         `json:"status"`
	Client          ClientSnapshot `json:"client"`
	IssueDate       string         `json:"issue_date"`
	DueDate         *string        `json:"due_date,omitempty"`
	ValidUntil      *string        `json:"valid_until,omitempty"`
	Subtotal        float64        `json:"subtotal"`
	TotalTax        float64        `json:"total_tax"`
	Total           float64        `json:"total"`
	FormattedTotal  string         `json:"formatted_total"`
	Notes           *string        `json:"notes,omitempty"`
	Terms           *string        `json:"terms,omitempty"`
	ConvertedFromID *int64         `json:"converted_from_id,omitempty"`
	Items           []LineItemView `json:"items"`
}

// LineItemView is the presentation form of a line item.
type LineItemView struct {
	Position    int     `json:"position"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TaxRate     float64 `json:"tax_rate"`
	Subtotal    float64 `json:"subtotal"`
	TaxAmount   float64 `json:"tax_amount"`
	Total       float64 `json:"total"`
}

// Presenter formats documents for a locale.
type Presenter struct {
	printer *message.Printer
}

// NewPresenter builds a presenter for a BCP 47 locale tag, falling back to
// en-US for unparsable tags.
func NewPresenter(locale string) *Presenter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.AmericanEnglish
	}
	return &Presenter{printer: message.NewPrinter(tag)}
}

// FormatAmount renders a rounded amount with locale grouping, two decimals.
func (p *Presenter) FormatAmount(v float64) string {
	return p.printer.Sprintf("%.2f", RoundMoney(v))
}

// View converts doc into its presentation form.
func (p *Presenter) View(doc *Document) DocumentView {
	view := DocumentView{
		ID:     doc.ID,
		Kind:   doc.Kind,
		Number: doc.Number,
		Status: doc.Status,
		Client: ClientSnapshot{
			Name:    doc.ClientName,
			Email:   doc.ClientEmail,
			Phone:   doc.ClientPhone,
			Address: doc.ClientAddress,
		},
		IssueDate:       formatDate(doc.IssueDate),
		DueDate:         formatOptionalDate(doc.DueDate),
		ValidUntil:      formatOptionalDate(doc.ValidUntil),
		Subtotal:        RoundMoney(doc.Subtotal),
		TotalTax:        RoundMoney(doc.TotalTax),
		Total:           RoundMoney(doc.Total),
		FormattedTotal:  p.FormatAmount(doc.Total),
		Notes:           doc.Notes,
		Terms:           doc.Terms,
		ConvertedFromID: doc.ConvertedFromID,
		Items:           make([]LineItemView, 0, len(doc.Items)),
	}
	for _, item := range doc.Items {
		view.Items = append(view.Items, LineItemView{
			Position:    item.Position,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   RoundMoney(item.UnitPrice),
			TaxRate:     item.TaxRate,
			Subtotal:    RoundMoney(item.Subtotal),
			TaxAmount:   RoundMoney(item.TaxAmount),
			Total:       RoundMoney(item.Total),
		})
	}
	return view
}

func formatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

func formatOptionalDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatDate(*t)
	return &s
}
