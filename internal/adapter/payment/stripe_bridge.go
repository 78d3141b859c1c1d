// Package payment connects orders to the payment provider: it creates
// PaymentIntents and turns provider webhooks into payment outcomes.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"
	"golang.org/x/text/currency"

	"github.com/rl1809/storefront-orders/internal/port"
)

const (
	metadataOrderID  = "order_id"
	metadataSequence = "sequence_number"
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type StripeBridgeConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   *zap.Logger
	// Intents replaces the Stripe API client, mainly for tests.
	Intents stripePaymentIntentAPI
}

// StripeBridge creates Stripe PaymentIntents for orders.
type StripeBridge struct {
	intents stripePaymentIntentAPI
	logger  *zap.Logger
}

var _ port.PaymentBridge = (*StripeBridge)(nil)

func NewStripeBridge(cfg StripeBridgeConfig) (*StripeBridge, error) {
	intents := cfg.Intents
	if intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeBridge{intents: intents, logger: logger}, nil
}

// CreatePaymentIntent creates one PaymentIntent per order. The order id is
// the idempotency key, so retrying returns the same intent.
func (b *StripeBridge) CreatePaymentIntent(ctx context.Context, req port.PaymentIntentRequest) (port.PaymentIntent, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return port.PaymentIntent{}, errors.New("stripe: order id is required")
	}
	amount, err := MinorUnits(req.Total, req.Currency)
	if err != nil {
		return port.PaymentIntent{}, err
	}
	if amount <= 0 {
		return port.PaymentIntent{}, fmt.Errorf("stripe: amount must be positive, got %s", req.Total)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("order-" + req.OrderID)
	params.AddMetadata(metadataOrderID, req.OrderID)
	if req.SequenceNumber != "" {
		params.AddMetadata(metadataSequence, req.SequenceNumber)
		params.Description = stripe.String("Order " + req.SequenceNumber)
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}

	intent, err := b.intents.New(params)
	if err != nil {
		return port.PaymentIntent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	b.logger.Info("payment intent created",
		zap.String("order_id", req.OrderID),
		zap.String("payment_intent", intent.ID),
		zap.Int64("amount", amount),
	)
	return port.PaymentIntent{Reference: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

// MinorUnits converts an amount into the currency's smallest unit, e.g.
// 25.50 MXN -> 2550 and 1200 JPY -> 1200.
func MinorUnits(amount decimal.Decimal, code string) (int64, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 0, fmt.Errorf("stripe: unknown currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return amount.Shift(int32(scale)).Round(0).IntPart(), nil
}
