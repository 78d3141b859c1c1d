package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/adapter/payment"
	"github.com/rl1809/storefront-orders/internal/port"
)

// Tracker starts one payment workflow per order.
type Tracker struct {
	client    client.Client
	taskQueue string
	timeout   time.Duration
}

var _ port.PaymentTracker = (*Tracker)(nil)

func NewTracker(c client.Client, taskQueue string, timeout time.Duration) *Tracker {
	return &Tracker{client: c, taskQueue: taskQueue, timeout: timeout}
}

// TrackPayment starts the workflow. Starting it again for the same order
// returns the running execution.
func (t *Tracker) TrackPayment(ctx context.Context, orderID, reference string) error {
	_, err := t.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(orderID),
		TaskQueue: t.taskQueue,
	}, PaymentWorkflow, PaymentInput{OrderID: orderID, Reference: reference, Timeout: t.timeout})
	if err != nil {
		return fmt.Errorf("start payment workflow: %w", err)
	}
	return nil
}

// Signaler forwards webhook outcomes to the order's payment workflow. When no
// workflow is running the outcome goes to fallback instead.
type Signaler struct {
	client   client.Client
	fallback payment.OutcomeHandler
	logger   *zap.Logger
}

var _ payment.OutcomeHandler = (*Signaler)(nil)

func NewSignaler(c client.Client, fallback payment.OutcomeHandler, logger *zap.Logger) *Signaler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Signaler{client: c, fallback: fallback, logger: logger}
}

func (s *Signaler) HandlePaymentOutcome(ctx context.Context, outcome payment.Outcome) error {
	err := s.client.SignalWorkflow(ctx, WorkflowID(outcome.OrderID), "", SignalPaymentOutcome, outcome)
	if err == nil {
		return nil
	}

	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) && s.fallback != nil {
		s.logger.Info("no payment workflow running, recording directly", zap.String("order_id", outcome.OrderID))
		return s.fallback.HandlePaymentOutcome(ctx, outcome)
	}
	return fmt.Errorf("signal payment workflow: %w", err)
}

// NewWorker registers the payment workflow and its activities on taskQueue.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     50,
		MaxConcurrentWorkflowTaskExecutionSize: 50,
	})
	w.RegisterWorkflow(PaymentWorkflow)
	w.RegisterActivity(acts)
	return w
}
