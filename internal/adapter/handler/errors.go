package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/storefront-orders/internal/core/service"
	"github.com/rl1809/storefront-orders/internal/platform/httpx"
)

type errorMapping struct {
	target error
	code   string
	status int
	grpc   codes.Code
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{service.ErrInvalidRequest, "invalid_request", http.StatusBadRequest, codes.InvalidArgument},
	{service.ErrBelowMinimumAmount, "below_minimum_amount", http.StatusUnprocessableEntity, codes.FailedPrecondition},
	{service.ErrInsufficientStock, "insufficient_stock", http.StatusConflict, codes.ResourceExhausted},
	{service.ErrDuplicatePendingOrder, "duplicate_pending_order", http.StatusConflict, codes.AlreadyExists},
	{service.ErrCheckoutInProgress, "checkout_in_progress", http.StatusConflict, codes.Aborted},
	{service.ErrTransactionConflict, "transaction_conflict", http.StatusConflict, codes.Aborted},
	{service.ErrProductNotFound, "product_not_found", http.StatusNotFound, codes.NotFound},
	{service.ErrOrderNotFound, "order_not_found", http.StatusNotFound, codes.NotFound},
	{service.ErrForbiddenTransition, "forbidden_transition", http.StatusForbidden, codes.PermissionDenied},
	{service.ErrInvalidTransition, "invalid_transition", http.StatusUnprocessableEntity, codes.FailedPrecondition},
	{service.ErrPaymentFailed, "payment_failed", http.StatusBadGateway, codes.Unavailable},
}

var errUnauthenticated = errors.New("missing actor identity")

// classify maps a service error to its wire representation. Unknown errors
// are reported as internal without leaking their text.
func classify(err error) (errorMapping, string) {
	if errors.Is(err, errUnauthenticated) {
		return errorMapping{code: "unauthenticated", status: http.StatusUnauthorized, grpc: codes.Unauthenticated}, err.Error()
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m, err.Error()
		}
	}
	return errorMapping{code: "internal_error", status: http.StatusInternalServerError, grpc: codes.Internal}, "internal error"
}

func toHTTPError(err error) httpx.Error {
	m, msg := classify(err)
	herr := httpx.NewError(m.code, msg, m.status)

	var dup *service.DuplicatePendingOrderError
	if errors.As(err, &dup) {
		herr = herr.WithDetails(map[string]any{
			"order_id":        dup.OrderID,
			"sequence_number": dup.SequenceNumber,
		})
	}
	return herr
}
