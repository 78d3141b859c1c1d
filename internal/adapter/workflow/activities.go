package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/rl1809/storefront-orders/internal/adapter/payment"
	"github.com/rl1809/storefront-orders/internal/core/service"
)

type Activities struct {
	recorder payment.OutcomeHandler
}

func NewActivities(recorder payment.OutcomeHandler) *Activities {
	return &Activities{recorder: recorder}
}

// RecordOutcome applies the outcome to the order. Outcomes the state machine
// rejects are not retried.
func (a *Activities) RecordOutcome(ctx context.Context, outcome payment.Outcome) error {
	logger := activity.GetLogger(ctx)
	logger.Info("recording payment outcome", "order_id", outcome.OrderID, "status", outcome.Status)

	err := a.recorder.HandlePaymentOutcome(ctx, outcome)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrInvalidTransition):
		logger.Warn("payment outcome no longer applies", "order_id", outcome.OrderID, "error", err)
		return nil
	case errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrForbiddenTransition),
		errors.Is(err, service.ErrInvalidRequest):
		return temporal.NewNonRetryableApplicationError(err.Error(), "PaymentOutcomeRejected", err)
	default:
		return fmt.Errorf("record payment outcome: %w", err)
	}
}
