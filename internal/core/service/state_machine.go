package service

import (
	"fmt"
	"slices"
	"time"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

var fulfillmentTransitions = map[domain.FulfillmentStatus][]domain.FulfillmentStatus{
	domain.FulfillmentPending:   {domain.FulfillmentPreparing, domain.FulfillmentCancelled},
	domain.FulfillmentPreparing: {domain.FulfillmentShipped, domain.FulfillmentCancelled},
	domain.FulfillmentShipped:   {domain.FulfillmentDelivered, domain.FulfillmentCancelled},
}

var paymentTransitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentPending: {domain.PaymentPaid, domain.PaymentFailed},
}

// CanTransitionFulfillment reports whether the fulfillment track allows from -> to.
func CanTransitionFulfillment(from, to domain.FulfillmentStatus) bool {
	return slices.Contains(fulfillmentTransitions[from], to)
}

// CanTransitionPayment reports whether the payment track allows from -> to.
func CanTransitionPayment(from, to domain.PaymentStatus) bool {
	return slices.Contains(paymentTransitions[from], to)
}

func authorizeFulfillment(actor domain.Actor, order domain.Order, to domain.FulfillmentStatus) error {
	switch actor.Kind {
	case domain.ActorStaff:
		return nil
	case domain.ActorCustomer:
		if order.CustomerID == "" || order.CustomerID != actor.ID {
			return fmt.Errorf("%w: order does not belong to customer", ErrForbiddenTransition)
		}
		if order.FulfillmentStatus == domain.FulfillmentPending && to == domain.FulfillmentCancelled {
			return nil
		}
	case domain.ActorSystem:
		if order.FulfillmentStatus == domain.FulfillmentPending && to == domain.FulfillmentCancelled {
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot move fulfillment %s -> %s", ErrForbiddenTransition, actor.Kind, order.FulfillmentStatus, to)
}

func authorizePayment(actor domain.Actor, order domain.Order, to domain.PaymentStatus) error {
	switch actor.Kind {
	case domain.ActorStaff, domain.ActorPaymentBridge:
		return nil
	case domain.ActorSystem:
		if to == domain.PaymentFailed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot move payment %s -> %s", ErrForbiddenTransition, actor.Kind, order.PaymentStatus, to)
}

func applyFulfillment(order *domain.Order, to domain.FulfillmentStatus, actor domain.Actor, now time.Time) error {
	if !CanTransitionFulfillment(order.FulfillmentStatus, to) {
		return fmt.Errorf("%w: fulfillment %s -> %s", ErrInvalidTransition, order.FulfillmentStatus, to)
	}
	if err := authorizeFulfillment(actor, *order, to); err != nil {
		return err
	}
	order.FulfillmentStatus = to
	order.UpdatedAt = now
	return nil
}

func applyPayment(order *domain.Order, to domain.PaymentStatus, actor domain.Actor, now time.Time) error {
	if !CanTransitionPayment(order.PaymentStatus, to) {
		return fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, order.PaymentStatus, to)
	}
	if err := authorizePayment(actor, *order, to); err != nil {
		return err
	}
	order.PaymentStatus = to
	order.UpdatedAt = now
	return nil
}
