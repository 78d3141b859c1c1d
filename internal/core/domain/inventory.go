package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string
	Name        string
	Price       decimal.Decimal
	PromoPrice  decimal.NullDecimal
	OnPromotion bool
	Stock       int
	MinStock    int
	Version     int // optimistic locking for stock-takes
	UpdatedAt   time.Time
}

// LowStock reports whether the product has reached its reorder threshold.
func (p Product) LowStock() bool {
	return p.Stock <= p.MinStock
}

type MovementDirection string

const (
	MovementIn  MovementDirection = "IN"
	MovementOut MovementDirection = "OUT"
)

// InventoryMovement is an append-only audit record.
type InventoryMovement struct {
	ID        string
	ProductID string
	Direction MovementDirection
	Quantity  int
	Reason    string
	ActorID   string
	OrderID   string
	CreatedAt time.Time
}
