// Package pricing freezes catalog prices onto order lines and derives order
// totals from them.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

var hundred = decimal.NewFromInt(100)

// LineSnapshot is the price information captured for one order line.
type LineSnapshot struct {
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
	Promotion domain.PromotionSnapshot
}

// EffectivePrice returns the promotional price when the product is flagged
// on promotion and carries a promotional price, otherwise the regular price.
func EffectivePrice(p domain.Product) (decimal.Decimal, bool) {
	if p.OnPromotion && p.PromoPrice.Valid {
		return p.PromoPrice.Decimal, true
	}
	return p.Price, false
}

// DiscountPercent computes round((1 - promo/regular) * 100).
func DiscountPercent(regular, promo decimal.Decimal) int {
	if regular.Sign() <= 0 {
		return 0
	}
	ratio := decimal.NewFromInt(1).Sub(promo.Div(regular))
	return int(ratio.Mul(hundred).Round(0).IntPart())
}

// Snapshot resolves the effective unit price of p for qty units.
func Snapshot(p domain.Product, qty int) LineSnapshot {
	unit, promo := EffectivePrice(p)
	snap := LineSnapshot{
		UnitPrice: unit,
		Subtotal:  unit.Mul(decimal.NewFromInt(int64(qty))),
		Promotion: domain.PromotionSnapshot{
			OnPromotion:  promo,
			RegularPrice: p.Price,
		},
	}
	if promo {
		snap.Promotion.PromoPrice = p.PromoPrice.Decimal
		snap.Promotion.DiscountPercent = DiscountPercent(p.Price, p.PromoPrice.Decimal)
	}
	return snap
}
