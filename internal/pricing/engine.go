package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Round2 rounds half away from zero to two decimal places, which for the
// non-negative amounts handled here is round-half-up.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FromMinorUnits converts paise (or cents) to major units.
func FromMinorUnits(minor int64) decimal.Decimal {
	return Round2(decimal.New(minor, -2))
}

type Quote struct {
	ActualPrice        decimal.Decimal
	Shipping           decimal.Decimal
	Taxes              decimal.Decimal
	DiscountCode       string
	DiscountPercentage decimal.Decimal
	DiscountAmount     decimal.Decimal
	FinalAmount        decimal.Decimal
	// FromCatalog is false when the paid amount was used as the price.
	FromCatalog bool
}

// Values is the only place decimals become floats.
type Values struct {
	ActualPrice        float64
	Shipping           float64
	Taxes              float64
	DiscountCode       string
	DiscountPercentage float64
	DiscountAmount     float64
	FinalAmount        float64
}

func (q Quote) Values() Values {
	return Values{
		ActualPrice:        q.ActualPrice.InexactFloat64(),
		Shipping:           q.Shipping.InexactFloat64(),
		Taxes:              q.Taxes.InexactFloat64(),
		DiscountCode:       q.DiscountCode,
		DiscountPercentage: q.DiscountPercentage.InexactFloat64(),
		DiscountAmount:     q.DiscountAmount.InexactFloat64(),
		FinalAmount:        q.FinalAmount.InexactFloat64(),
	}
}

type Engine struct {
	tables *Tables
}

func NewEngine(tables *Tables) *Engine {
	return &Engine{tables: tables}
}

// Quote prices one order. Unknown book/variant pairs fall back to what the
// customer actually paid, with no shipping or taxes.
func (e *Engine) Quote(bookID, variant, discountCode string, paidMinor int64) Quote {
	q := Quote{DiscountCode: strings.ToUpper(strings.TrimSpace(discountCode))}

	if a, ok := e.tables.Catalog.lookup(bookID, variant); ok {
		q.ActualPrice, q.Shipping, q.Taxes = a.price, a.shipping, a.taxes
		q.FromCatalog = true
	} else {
		q.ActualPrice = FromMinorUnits(paidMinor)
		q.Shipping, q.Taxes = decimal.Zero, decimal.Zero
	}

	q.DiscountPercentage = e.tables.Discounts.Percentage(q.DiscountCode)
	q.DiscountAmount = Round2(q.DiscountPercentage.Mul(q.ActualPrice).Div(hundred))
	q.FinalAmount = Round2(q.ActualPrice.Sub(q.DiscountAmount).Add(q.Shipping).Add(q.Taxes))

	return q
}
