package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"

	"github.com/rl1809/storefront-orders/internal/port"
)

type stubIntents struct {
	params *stripe.PaymentIntentParams
	err    error
}

func (s *stubIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return &stripe.PaymentIntent{ID: "pi_123", ClientSecret: "pi_123_secret"}, nil
}

func TestStripeBridgeCreatePaymentIntent(t *testing.T) {
	stub := &stubIntents{}
	bridge, err := NewStripeBridge(StripeBridgeConfig{Intents: stub})
	require.NoError(t, err)

	ctx := context.Background()
	intent, err := bridge.CreatePaymentIntent(ctx, port.PaymentIntentRequest{
		OrderID:        "order-1",
		SequenceNumber: "ORD-000042",
		Total:          decimal.RequireFromString("1250.50"),
		Currency:       "MXN",
		CustomerEmail:  "ana@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.Reference)
	assert.Equal(t, "pi_123_secret", intent.ClientSecret)

	require.NotNil(t, stub.params)
	assert.Equal(t, int64(125050), *stub.params.Amount)
	assert.Equal(t, "mxn", *stub.params.Currency)
	assert.Equal(t, "order-order-1", *stub.params.IdempotencyKey)
	assert.Equal(t, "order-1", stub.params.Metadata[metadataOrderID])
	assert.Equal(t, "ORD-000042", stub.params.Metadata[metadataSequence])
	assert.Equal(t, "ana@example.com", *stub.params.ReceiptEmail)
	assert.Equal(t, ctx, stub.params.Context)
}

func TestStripeBridgeErrors(t *testing.T) {
	_, err := NewStripeBridge(StripeBridgeConfig{})
	assert.Error(t, err)

	stub := &stubIntents{err: errors.New("card_declined")}
	bridge, err := NewStripeBridge(StripeBridgeConfig{Intents: stub})
	require.NoError(t, err)

	_, err = bridge.CreatePaymentIntent(context.Background(), port.PaymentIntentRequest{
		OrderID: "order-1", Total: decimal.NewFromInt(10), Currency: "MXN",
	})
	assert.ErrorContains(t, err, "card_declined")

	_, err = bridge.CreatePaymentIntent(context.Background(), port.PaymentIntentRequest{
		OrderID: "order-1", Total: decimal.Zero, Currency: "MXN",
	})
	assert.ErrorContains(t, err, "amount must be positive")

	_, err = bridge.CreatePaymentIntent(context.Background(), port.PaymentIntentRequest{
		OrderID: "order-1", Total: decimal.NewFromInt(10), Currency: "XXXX",
	})
	assert.ErrorContains(t, err, "unknown currency")

	_, err = bridge.CreatePaymentIntent(context.Background(), port.PaymentIntentRequest{Total: decimal.NewFromInt(10), Currency: "MXN"})
	assert.ErrorContains(t, err, "order id is required")
}

func TestMinorUnits(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
		want     int64
	}{
		{"25.50", "MXN", 2550},
		{"0.01", "usd", 1},
		{"1200", "JPY", 1200},
		{"10.005", "EUR", 1001},
	}
	for _, tc := range cases {
		t.Run(tc.currency+"/"+tc.amount, func(t *testing.T) {
			got, err := MinorUnits(decimal.RequireFromString(tc.amount), tc.currency)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
