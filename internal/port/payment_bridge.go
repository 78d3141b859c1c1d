package port

import (
	"context"

	"github.com/shopspring/decimal"
)

type PaymentIntentRequest struct {
	OrderID        string
	SequenceNumber string
	Total          decimal.Decimal
	Currency       string
	CustomerID     string
	CustomerEmail  string
}

type PaymentIntent struct {
	Reference    string
	ClientSecret string
}

type PaymentBridge interface {
	// CreatePaymentIntent asks the provider for a payment confirmation handle
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error)
}

// PaymentTracker follows a started payment until the provider reports an
// outcome or the payment times out.
type PaymentTracker interface {
	TrackPayment(ctx context.Context, orderID, reference string) error
}
