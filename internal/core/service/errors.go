package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest        = errors.New("invalid request")
	ErrBelowMinimumAmount    = errors.New("order total below minimum purchase amount")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrDuplicatePendingOrder = errors.New("customer already has a pending order")
	ErrProductNotFound       = errors.New("product not found")
	ErrPaymentFailed         = errors.New("payment failed")
	ErrTransactionConflict   = errors.New("transaction conflict, retry the request")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrForbiddenTransition   = errors.New("actor may not perform this transition")
	ErrCheckoutInProgress    = errors.New("another checkout is in progress for this customer")
)

// DuplicatePendingOrderError carries the open order the client should resume.
type DuplicatePendingOrderError struct {
	OrderID        string
	SequenceNumber string
}

func (e *DuplicatePendingOrderError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrDuplicatePendingOrder, e.SequenceNumber, e.OrderID)
}

func (e *DuplicatePendingOrderError) Is(target error) bool {
	return target == ErrDuplicatePendingOrder
}
