package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/core/service"
	"github.com/rl1809/storefront-orders/internal/platform/httpx"
	"github.com/rl1809/storefront-orders/internal/platform/observability"
)

const (
	eventIntentSucceeded = "payment_intent.succeeded"
	eventIntentFailed    = "payment_intent.payment_failed"
	eventIntentCanceled  = "payment_intent.canceled"

	maxWebhookBytes = 65536
)

// Outcome is a final payment result reported by the provider.
type Outcome struct {
	OrderID   string               `json:"order_id"`
	Reference string               `json:"reference"`
	Status    domain.PaymentStatus `json:"status"`
}

// OutcomeHandler consumes payment outcomes, either by recording them on the
// order directly or by signalling a running payment workflow.
type OutcomeHandler interface {
	HandlePaymentOutcome(ctx context.Context, outcome Outcome) error
}

type OutcomeHandlerFunc func(ctx context.Context, outcome Outcome) error

func (f OutcomeHandlerFunc) HandlePaymentOutcome(ctx context.Context, outcome Outcome) error {
	return f(ctx, outcome)
}

// RecordOnOrder applies outcomes straight to the order state machine as the
// payment bridge actor.
func RecordOnOrder(orders *service.OrderService) OutcomeHandler {
	return OutcomeHandlerFunc(func(ctx context.Context, outcome Outcome) error {
		_, err := orders.RecordPayment(ctx, service.RecordPaymentCommand{
			OrderID:   outcome.OrderID,
			Status:    outcome.Status,
			Reference: outcome.Reference,
			Actor:     domain.Actor{Kind: domain.ActorPaymentBridge, ID: "stripe"},
		})
		return err
	})
}

// WebhookHandler verifies Stripe signatures and forwards PaymentIntent
// outcomes. Events it does not care about are acknowledged and dropped.
type WebhookHandler struct {
	secret  string
	handler OutcomeHandler
	logger  *zap.Logger
}

func NewWebhookHandler(secret string, handler OutcomeHandler, logger *zap.Logger) (*WebhookHandler, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	if handler == nil {
		return nil, errors.New("stripe: outcome handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{secret: secret, handler: handler, logger: logger}, nil
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContextOr(ctx, h.logger)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "unable to read body", http.StatusBadRequest))
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		logger.Warn("stripe webhook rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "signature verification failed", http.StatusBadRequest))
		return
	}

	outcome, ok, err := outcomeFromEvent(event)
	if err != nil {
		logger.Warn("stripe webhook payload invalid", zap.String("event_id", event.ID), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", err.Error(), http.StatusBadRequest))
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.handler.HandlePaymentOutcome(ctx, outcome); err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound),
			errors.Is(err, service.ErrInvalidTransition),
			errors.Is(err, service.ErrInvalidRequest):
			// Redelivery would not change the outcome.
			logger.Warn("stripe webhook ignored",
				zap.String("event_id", event.ID),
				zap.String("order_id", outcome.OrderID),
				zap.Error(err),
			)
			w.WriteHeader(http.StatusNoContent)
		default:
			logger.Error("stripe webhook failed",
				zap.String("event_id", event.ID),
				zap.String("order_id", outcome.OrderID),
				zap.Error(err),
			)
			httpx.WriteError(ctx, w, httpx.NewError("webhook_failed", "unable to apply payment outcome", http.StatusInternalServerError))
		}
		return
	}

	logger.Info("payment outcome applied",
		zap.String("event_id", event.ID),
		zap.String("order_id", outcome.OrderID),
		zap.String("status", string(outcome.Status)),
	)
	w.WriteHeader(http.StatusNoContent)
}

func outcomeFromEvent(event stripe.Event) (Outcome, bool, error) {
	var status domain.PaymentStatus
	switch string(event.Type) {
	case eventIntentSucceeded:
		status = domain.PaymentPaid
	case eventIntentFailed, eventIntentCanceled:
		status = domain.PaymentFailed
	default:
		return Outcome{}, false, nil
	}
	if event.Data == nil {
		return Outcome{}, false, errors.New("event has no data")
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return Outcome{}, false, err
	}
	orderID := intent.Metadata[metadataOrderID]
	if orderID == "" {
		return Outcome{}, false, errors.New("payment intent has no order_id metadata")
	}
	return Outcome{OrderID: orderID, Reference: intent.ID, Status: status}, true, nil
}
