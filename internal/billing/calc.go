package billing

import "math"

// Totals are the document level sums of its line items.
type Totals struct {
	Subtotal float64 `json:"subtotal"`
	TotalTax float64 `json:"total_tax"`
	Total    float64 `json:"total"`
}

// CalculateLineTotals derives the amounts of a single line. No rounding is
// applied; see RoundMoney.
func CalculateLineTotals(quantity, unitPrice, taxRate float64) (subtotal, taxAmount, total float64) {
	subtotal = quantity * unitPrice
	taxAmount = subtotal * taxRate / 100
	total = subtotal + taxAmount
	return
}

// CalculateItems derives every line of inputs, keeping input order as the
// position, and returns the document totals.
func CalculateItems(inputs []LineItemInput) ([]LineItem, Totals) {
	items := make([]LineItem, 0, len(inputs))
	for i, in := range inputs {
		subtotal, tax, total := CalculateLineTotals(in.Quantity, in.UnitPrice, in.TaxRate)
		items = append(items, LineItem{
			Position:    i + 1,
			Description: in.Description,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			TaxRate:     in.TaxRate,
			Subtotal:    subtotal,
			TaxAmount:   tax,
			Total:       total,
		})
	}
	return items, SumItems(items)
}

// SumItems recomputes the totals of already derived items.
func SumItems(items []LineItem) Totals {
	var t Totals
	for _, item := range items {
		t.Subtotal += item.Subtotal
		t.TotalTax += item.TaxAmount
	}
	t.Total = t.Subtotal + t.TotalTax
	return t
}

// InputsFromItems strips derived amounts so items can be recalculated.
func InputsFromItems(items []LineItem) []LineItemInput {
	inputs := make([]LineItemInput, 0, len(items))
	for _, item := range items {
		inputs = append(inputs, LineItemInput{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TaxRate:     item.TaxRate,
		})
	}
	return inputs
}

// RoundMoney rounds to cents. Only presentation code should call it.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

// Matches reports whether two totals are equal within a tolerance that
// absorbs numeric column round trips.
func (t Totals) Matches(other Totals) bool {
	const epsilon = 1e-6
	return math.Abs(t.Subtotal-other.Subtotal) < epsilon &&
		math.Abs(t.TotalTax-other.TotalTax) < epsilon &&
		math.Abs(t.Total-other.Total) < epsilon
}

// Finite reports whether every amount is a real number. Infinite or NaN
// totals cannot be stored or encoded as JSON.
func (t Totals) Finite() bool {
	for _, v := range []float64{t.Subtotal, t.TotalTax, t.Total} {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	return true
}
