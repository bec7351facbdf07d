package billing

import "time"

// Kind tags a document as a quote or an invoice.
type Kind string

const (
	KindQuote   Kind = "quote"
	KindInvoice Kind = "invoice"
)

// Valid reports whether k is a known document kind.
func (k Kind) Valid() bool {
	return k == KindQuote || k == KindInvoice
}

// Status is a kind-scoped lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Document is the header of a quote or invoice together with its line items.
type Document struct {
	ID              int64      `json:"id" db:"id"`
	TenantID        int64      `json:"tenant_id" db:"tenant_id"`
	Kind            Kind       `json:"kind" db:"kind"`
	Number          string     `json:"number" db:"number"`
	IssueYear       int        `json:"issue_year" db:"issue_year"`
	ClientName      string     `json:"client_name" db:"client_name"`
	ClientEmail     *string    `json:"client_email,omitempty" db:"client_email"`
	ClientPhone     *string    `json:"client_phone,omitempty" db:"client_phone"`
	ClientAddress   *string    `json:"client_address,omitempty" db:"client_address"`
	IssueDate       time.Time  `json:"issue_date" db:"issue_date"`
	DueDate         *time.Time `json:"due_date,omitempty" db:"due_date"`
	ValidUntil      *time.Time `json:"valid_until,omitempty" db:"valid_until"`
	Status          Status     `json:"status" db:"status"`
	Subtotal        float64    `json:"subtotal" db:"subtotal"`
	TotalTax        float64    `json:"total_tax" db:"total_tax"`
	Total           float64    `json:"total" db:"total"`
	Notes           *string    `json:"notes,omitempty" db:"notes"`
	Terms           *string    `json:"terms,omitempty" db:"terms"`
	ConvertedFromID *int64     `json:"converted_from_id,omitempty" db:"converted_from_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
	Items           []LineItem `json:"items" db:"-"`
}

// LineItem is one priced row of a document. Subtotal, TaxAmount and Total are
// always derived from Quantity, UnitPrice and TaxRate.
type LineItem struct {
	ID          int64   `json:"id" db:"id"`
	DocumentID  int64   `json:"document_id" db:"document_id"`
	Position    int     `json:"position" db:"position"`
	Description string  `json:"description" db:"description"`
	Quantity    float64 `json:"quantity" db:"quantity"`
	UnitPrice   float64 `json:"unit_price" db:"unit_price"`
	TaxRate     float64 `json:"tax_rate" db:"tax_rate"`
	Subtotal    float64 `json:"subtotal" db:"subtotal"`
	TaxAmount   float64 `json:"tax_amount" db:"tax_amount"`
	Total       float64 `json:"total" db:"total"`
}

// ClientSnapshot captures client details at the time a document is written.
type ClientSnapshot struct {
	Name    string  `json:"name" validate:"required,max=200"`
	Email   *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone   *string `json:"phone,omitempty" validate:"omitempty,max=50"`
	Address *string `json:"address,omitempty" validate:"omitempty,max=500"`
}

// LineItemInput is the caller supplied part of a line item.
type LineItemInput struct {
	Description string  `json:"description" validate:"required,max=500"`
	Quantity    float64 `json:"quantity" validate:"gt=0,lte=1000000"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0,lte=1000000000"`
	TaxRate     float64 `json:"tax_rate" validate:"gte=0,lte=100"`
}

// CreateDocumentRequest carries the header and items for a new document.
type CreateDocumentRequest struct {
	Client     ClientSnapshot  `json:"client" validate:"required"`
	IssueDate  time.Time       `json:"issue_date" validate:"required"`
	DueDate    *time.Time      `json:"due_date,omitempty"`
	ValidUntil *time.Time      `json:"valid_until,omitempty"`
	Notes      *string         `json:"notes,omitempty"`
	Terms      *string         `json:"terms,omitempty"`
	Items      []LineItemInput `json:"items" validate:"dive"`
}

// UpdateDocumentRequest patches a document header. A nil Items keeps the
// current line items; a non-nil Items replaces the whole set.
type UpdateDocumentRequest struct {
	Client     *ClientSnapshot  `json:"client,omitempty" validate:"omitempty"`
	IssueDate  *time.Time       `json:"issue_date,omitempty"`
	DueDate    *time.Time       `json:"due_date,omitempty"`
	ValidUntil *time.Time       `json:"valid_until,omitempty"`
	Notes      *string          `json:"notes,omitempty"`
	Terms      *string          `json:"terms,omitempty"`
	Items      *[]LineItemInput `json:"items,omitempty" validate:"omitempty,dive"`
}

// ListDocumentsRequest filters documents of a tenant.
type ListDocumentsRequest struct {
	Kind   *Kind   `json:"kind,omitempty"`
	Status *Status `json:"status,omitempty"`
	Year   *int    `json:"year,omitempty"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// HeaderUpdate is the repository level header write. Totals are always
// written together so they can never drift from the item set.
type HeaderUpdate struct {
	ClientName    string
	ClientEmail   *string
	ClientPhone   *string
	ClientAddress *string
	IssueDate     time.Time
	DueDate       *time.Time
	ValidUntil    *time.Time
	Notes         *string
	Terms         *string
	Totals        Totals
}

func headerFromDocument(doc *Document) HeaderUpdate {
	return HeaderUpdate{
		ClientName:    doc.ClientName,
		ClientEmail:   doc.ClientEmail,
		ClientPhone:   doc.ClientPhone,
		ClientAddress: doc.ClientAddress,
		IssueDate:     doc.IssueDate,
		DueDate:       doc.DueDate,
		ValidUntil:    doc.ValidUntil,
		Notes:         doc.Notes,
		Terms:         doc.Terms,
		Totals:        Totals{Subtotal: doc.Subtotal, TotalTax: doc.TotalTax, Total: doc.Total},
	}
}
