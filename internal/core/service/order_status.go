package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

type AdvanceFulfillmentCommand struct {
	OrderID string
	Target  domain.FulfillmentStatus
	Actor   domain.Actor
}

// CancelOrderCommand cancels an order. Restock returns every line's quantity
// to stock with an IN movement; only staff may restock.
type CancelOrderCommand struct {
	OrderID string
	Actor   domain.Actor
	Restock bool
	Reason  string
}

type RecordPaymentCommand struct {
	OrderID   string
	Status    domain.PaymentStatus
	Reference string
	Actor     domain.Actor
}

// AdvanceFulfillment moves the fulfillment track one legal step.
func (s *OrderService) AdvanceFulfillment(ctx context.Context, cmd AdvanceFulfillmentCommand) (*domain.OrderView, error) {
	if !cmd.Target.Valid() {
		return nil, fmt.Errorf("%w: fulfillment status %q", ErrInvalidRequest, cmd.Target)
	}
	if cmd.Target == domain.FulfillmentCancelled {
		return s.CancelOrder(ctx, CancelOrderCommand{OrderID: cmd.OrderID, Actor: cmd.Actor})
	}
	return s.transition(ctx, cmd.OrderID, "OrderService.AdvanceFulfillment", func(ctx context.Context, tx port.Transaction, order *domain.Order) error {
		return applyFulfillment(order, cmd.Target, cmd.Actor, s.clock())
	})
}

// CancelOrder cancels any order that has not been delivered. Stock is only
// returned when Restock is set.
func (s *OrderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (*domain.OrderView, error) {
	var restocked []string
	view, err := s.transition(ctx, cmd.OrderID, "OrderService.CancelOrder", func(ctx context.Context, tx port.Transaction, order *domain.Order) error {
		if err := applyFulfillment(order, domain.FulfillmentCancelled, cmd.Actor, s.clock()); err != nil {
			return err
		}
		if !cmd.Restock {
			return nil
		}
		if cmd.Actor.Kind != domain.ActorStaff {
			s.logger.Info("restock ignored for non-staff cancel",
				zap.String("order_id", order.ID),
				zap.String("actor", string(cmd.Actor.Kind)),
			)
			return nil
		}

		reason := strings.TrimSpace(cmd.Reason)
		if reason == "" {
			reason = "order " + order.SequenceNumber + " cancelled"
		}
		for _, line := range order.Lines {
			change := StockChange{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Reason:    reason,
				ActorID:   cmd.Actor.ID,
				OrderID:   order.ID,
			}
			if err := s.ledger.Release(ctx, tx, change); err != nil {
				return err
			}
			restocked = append(restocked, line.ProductID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	invalidateCatalog(ctx, s.cache, s.logger, restocked...)
	return view, nil
}

// RecordPayment applies a payment outcome reported by the payment bridge or
// an operator. A FAILED outcome leaves fulfillment untouched so staff can
// retry payment or cancel. Repeating the current status is a no-op, which
// keeps webhook redelivery harmless.
func (s *OrderService) RecordPayment(ctx context.Context, cmd RecordPaymentCommand) (*domain.OrderView, error) {
	if !cmd.Status.Valid() || cmd.Status == domain.PaymentPending {
		return nil, fmt.Errorf("%w: payment status %q", ErrInvalidRequest, cmd.Status)
	}
	view, err := s.transition(ctx, cmd.OrderID, "OrderService.RecordPayment", func(ctx context.Context, tx port.Transaction, order *domain.Order) error {
		if order.PaymentStatus == cmd.Status {
			return errNoChange
		}
		if err := applyPayment(order, cmd.Status, cmd.Actor, s.clock()); err != nil {
			return err
		}
		if ref := strings.TrimSpace(cmd.Reference); ref != "" {
			order.PaymentReference = ref
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cmd.Status == domain.PaymentFailed {
		s.logger.Warn("payment failed", zap.String("order_id", view.ID), zap.String("reference", view.PaymentReference))
	}
	return view, nil
}

// errNoChange short-circuits a transition that is already in the requested state.
var errNoChange = errors.New("no change")

func (s *OrderService) transition(ctx context.Context, orderID, spanName string, mutate func(context.Context, port.Transaction, *domain.Order) error) (_ *domain.OrderView, err error) {
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}

	var before, after domain.Order
	changed := true
	err = s.withRetry(ctx, func() error {
		return s.store.WithTransaction(ctx, func(ctx context.Context, tx port.Transaction) error {
			order, err := s.lockOrder(ctx, tx, orderID)
			if err != nil {
				return err
			}
			before = *order

			if err := mutate(ctx, tx, order); err != nil {
				if errors.Is(err, errNoChange) {
					changed = false
					return nil
				}
				return err
			}
			after = *order
			return mapStoreError(tx.UpdateOrderStatus(ctx, *order))
		})
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Info("order status changed",
			zap.String("order_id", orderID),
			zap.String("fulfillment_from", string(before.FulfillmentStatus)),
			zap.String("fulfillment_to", string(after.FulfillmentStatus)),
			zap.String("payment_from", string(before.PaymentStatus)),
			zap.String("payment_to", string(after.PaymentStatus)),
		)
	}
	return s.GetOrder(ctx, orderID)
}
