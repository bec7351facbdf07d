package billing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateLineTotals(t *testing.T) {
	tests := []struct {
		name                  string
		quantity, price, rate float64
		subtotal, tax, total  float64
	}{
		{name: "standard vat", quantity: 2, price: 50, rate: 20, subtotal: 100, tax: 20, total: 120},
		{name: "zero rate", quantity: 3, price: 9.5, rate: 0, subtotal: 28.5, tax: 0, total: 28.5},
		{name: "free line", quantity: 1, price: 0, rate: 20, subtotal: 0, tax: 0, total: 0},
		{name: "fractional quantity", quantity: 1.5, price: 40, rate: 10, subtotal: 60, tax: 6, total: 66},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subtotal, tax, total := CalculateLineTotals(tt.quantity, tt.price, tt.rate)
			assert.InDelta(t, tt.subtotal, subtotal, 1e-9)
			assert.InDelta(t, tt.tax, tax, 1e-9)
			assert.InDelta(t, tt.total, total, 1e-9)
		})
	}
}

func TestCalculateItems_TotalsAreItemSums(t *testing.T) {
	inputs := []LineItemInput{
		{Description: "Wash", Quantity: 2, UnitPrice: 50, TaxRate: 20},
		{Description: "Wax", Quantity: 3, UnitPrice: 19.99, TaxRate: 5.5},
		{Description: "Vacuum", Quantity: 1, UnitPrice: 15, TaxRate: 0},
	}

	items, totals := CalculateItems(inputs)

	assert.Len(t, items, 3)
	var subtotal, tax float64
	for i, item := range items {
		assert.Equal(t, i+1, item.Position)
		subtotal += item.Subtotal
		tax += item.TaxAmount
	}
	assert.Equal(t, subtotal, totals.Subtotal)
	assert.Equal(t, tax, totals.TotalTax)
	assert.Equal(t, totals.Subtotal+totals.TotalTax, totals.Total)
	assert.Equal(t, totals, SumItems(items))
}

func TestCalculateItems_Idempotent(t *testing.T) {
	inputs := []LineItemInput{{Description: "Wax", Quantity: 3, UnitPrice: 19.99, TaxRate: 5.5}}

	first, firstTotals := CalculateItems(inputs)
	second, secondTotals := CalculateItems(InputsFromItems(first))

	assert.Equal(t, first, second)
	assert.Equal(t, firstTotals, secondTotals)
}

func TestCalculateItems_Empty(t *testing.T) {
	items, totals := CalculateItems(nil)
	assert.Empty(t, items)
	assert.Equal(t, Totals{}, totals)
}

func TestRoundMoney(t *testing.T) {
	assert.Equal(t, 59.97, RoundMoney(59.97000000000001))
	assert.Equal(t, 3.3, RoundMoney(3.2985))
	assert.Equal(t, 0.0, RoundMoney(0.004))
}

func TestTotalsMatches(t *testing.T) {
	a := Totals{Subtotal: 100, TotalTax: 20, Total: 120}
	assert.True(t, a.Matches(Totals{Subtotal: 100.0000000001, TotalTax: 20, Total: 120}))
	assert.False(t, a.Matches(Totals{Subtotal: 100, TotalTax: 20, Total: 120.01}))
}

func TestTotalsFinite(t *testing.T) {
	assert.True(t, Totals{Subtotal: 100, TotalTax: 20, Total: 120}.Finite())

	_, huge := CalculateItems([]LineItemInput{{Description: "x", Quantity: 1e308, UnitPrice: 1e308}})
	assert.False(t, huge.Finite())
	assert.False(t, Totals{Total: math.NaN()}.Finite())
}
