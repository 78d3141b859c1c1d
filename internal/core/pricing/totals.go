package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

// Policy holds the per-deployment amounts that shape order totals.
type Policy struct {
	TaxRate               decimal.Decimal
	ShippingFee           decimal.Decimal
	FreeShippingThreshold decimal.Decimal // zero disables free shipping
	MinimumPurchase       decimal.Decimal
}

type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// Compute derives totals from already frozen line subtotals.
func (p Policy) Compute(lines []domain.OrderLine) Totals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Subtotal)
	}

	tax := subtotal.Mul(p.TaxRate).Round(2)

	shipping := p.ShippingFee
	if p.FreeShippingThreshold.Sign() > 0 && subtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal.Add(tax).Add(shipping),
	}
}

// MeetsMinimum reports whether total reaches the configured purchase floor.
func (p Policy) MeetsMinimum(total decimal.Decimal) bool {
	return total.GreaterThanOrEqual(p.MinimumPurchase)
}
