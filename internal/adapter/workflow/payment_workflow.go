// Package workflow runs the payment follow-up as a Temporal workflow: it
// waits for the provider outcome signalled by the webhook and fails the
// payment when none arrives in time.
package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/rl1809/storefront-orders/internal/adapter/payment"
	"github.com/rl1809/storefront-orders/internal/core/domain"
)

const (
	SignalPaymentOutcome = "payment-outcome"
	QueryPaymentState    = "payment-state"

	defaultPaymentTimeout = 30 * time.Minute
)

const (
	StateAwaitingOutcome = "awaiting_outcome"
	StateRecording       = "recording"
	StateCompleted       = "completed"
)

type PaymentInput struct {
	OrderID   string        `json:"order_id"`
	Reference string        `json:"reference"`
	Timeout   time.Duration `json:"timeout"`
}

type PaymentResult struct {
	OrderID   string               `json:"order_id"`
	Reference string               `json:"reference"`
	Status    domain.PaymentStatus `json:"status"`
	TimedOut  bool                 `json:"timed_out"`
}

// WorkflowID is the deterministic id of an order's payment workflow, so the
// webhook can signal it knowing only the order id.
func WorkflowID(orderID string) string {
	return "payment-" + orderID
}

// PaymentWorkflow waits for a payment outcome signal and records it on the
// order. Without a signal before the timeout the payment is marked FAILED.
func PaymentWorkflow(ctx workflow.Context, in PaymentInput) (PaymentResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("PaymentWorkflow started", "order_id", in.OrderID, "reference", in.Reference)

	state := StateAwaitingOutcome
	if err := workflow.SetQueryHandler(ctx, QueryPaymentState, func() (string, error) {
		return state, nil
	}); err != nil {
		return PaymentResult{}, err
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 20 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    10,
		},
	})

	timeout := in.Timeout
	if timeout <= 0 {
		timeout = defaultPaymentTimeout
	}

	var outcome payment.Outcome
	timedOut := false

	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	timer := workflow.NewTimer(timerCtx, timeout)
	outcomes := workflow.GetSignalChannel(ctx, SignalPaymentOutcome)

	selector := workflow.NewSelector(ctx)
	selector.AddReceive(outcomes, func(c workflow.ReceiveChannel, more bool) {
		c.Receive(ctx, &outcome)
		cancelTimer()
	})
	selector.AddFuture(timer, func(f workflow.Future) {
		timedOut = true
	})
	selector.Select(ctx)

	if timedOut {
		logger.Warn("payment timed out", "order_id", in.OrderID, "timeout", timeout)
		outcome = payment.Outcome{Status: domain.PaymentFailed}
	}
	outcome.OrderID = in.OrderID
	if outcome.Reference == "" {
		outcome.Reference = in.Reference
	}

	state = StateRecording
	var acts *Activities
	if err := workflow.ExecuteActivity(ctx, acts.RecordOutcome, outcome).Get(ctx, nil); err != nil {
		logger.Error("recording payment outcome failed", "order_id", in.OrderID, "error", err)
		return PaymentResult{}, err
	}
	state = StateCompleted

	logger.Info("PaymentWorkflow completed", "order_id", in.OrderID, "status", outcome.Status)
	return PaymentResult{
		OrderID:   in.OrderID,
		Reference: outcome.Reference,
		Status:    outcome.Status,
		TimedOut:  timedOut,
	}, nil
}
