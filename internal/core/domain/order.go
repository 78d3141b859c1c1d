package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type FulfillmentStatus string

const (
	FulfillmentPending   FulfillmentStatus = "PENDING"
	FulfillmentPreparing FulfillmentStatus = "PREPARING"
	FulfillmentShipped   FulfillmentStatus = "SHIPPED"
	FulfillmentDelivered FulfillmentStatus = "DELIVERED"
	FulfillmentCancelled FulfillmentStatus = "CANCELLED"
)

// Valid reports whether s is one of the known fulfillment statuses.
func (s FulfillmentStatus) Valid() bool {
	switch s {
	case FulfillmentPending, FulfillmentPreparing, FulfillmentShipped, FulfillmentDelivered, FulfillmentCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed:
		return true
	}
	return false
}

type OrderSource string

const (
	OrderSourceOnline OrderSource = "online"
	OrderSourceManual OrderSource = "manual"
)

// Order is the persisted order header. Money fields always satisfy
// Total == Subtotal + Tax + Shipping.
type Order struct {
	ID                string
	SequenceNumber    string
	Source            OrderSource
	CustomerID        string
	CustomerName      string
	CustomerEmail     string
	CustomerPhone     string
	AddressID         string
	Subtotal          decimal.Decimal
	Tax               decimal.Decimal
	Shipping          decimal.Decimal
	Total             decimal.Decimal
	FulfillmentStatus FulfillmentStatus
	PaymentStatus     PaymentStatus
	PaymentReference  string
	Lines             []OrderLine
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsOpen reports whether the order still counts against the customer's
// single pending-order slot.
func (o Order) IsOpen() bool {
	return o.FulfillmentStatus == FulfillmentPending && o.PaymentStatus == PaymentPending
}

// OrderLine is immutable once written: later catalog price changes never
// touch it.
type OrderLine struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
	Promotion   PromotionSnapshot
}

type PromotionSnapshot struct {
	OnPromotion     bool
	RegularPrice    decimal.Decimal
	PromoPrice      decimal.Decimal
	DiscountPercent int
}

// OrderView is the fully materialized read shape handed to reporters and
// API clients.
type OrderView struct {
	Order
	Address *Address
}
