package service

import (
	"context"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

// Staff-entered text ends up in printed documents; strip any markup.
var plainText = bluemonday.StrictPolicy()

// CreateManualOrder records a staff-entered sale. It stores the inline
// address as a manual address row and then reuses the same line creation,
// reservation and totals logic as Checkout. Manual orders are not checked
// against the pending-order guard.
func (s *OrderService) CreateManualOrder(ctx context.Context, req ManualOrderRequest) (_ *domain.OrderView, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.CreateManualOrder", trace.WithAttributes(
		attribute.String("staff.id", req.StaffID),
		attribute.Int("items", len(req.Items)),
	))
	defer func() { endSpan(span, err) }()

	req = sanitizeManual(req)
	items, err := req.validate()
	if err != nil {
		return nil, err
	}

	var orderID string
	err = s.withRetry(ctx, func() error {
		return s.store.WithTransaction(ctx, func(ctx context.Context, tx port.Transaction) error {
			products, err := s.loadStock(ctx, tx, items)
			if err != nil {
				return err
			}
			lines, totals, err := s.price(items, products)
			if err != nil {
				return err
			}

			address := domain.Address{
				ID:         s.newID(),
				Recipient:  firstNonEmpty(req.Address.Recipient, req.Customer.Name),
				Line1:      req.Address.Line1,
				Line2:      req.Address.Line2,
				City:       req.Address.City,
				State:      req.Address.State,
				PostalCode: req.Address.PostalCode,
				Country:    req.Address.Country,
				Phone:      firstNonEmpty(req.Address.Phone, req.Customer.Phone),
				Manual:     true,
				CreatedAt:  s.clock(),
			}
			if err := tx.InsertAddress(ctx, address); err != nil {
				return mapStoreError(err)
			}

			order := s.newOrder(domain.OrderSourceManual)
			order.CustomerName = req.Customer.Name
			order.CustomerEmail = req.Customer.Email
			order.CustomerPhone = req.Customer.Phone
			order.AddressID = address.ID

			if err := s.createOrder(ctx, tx, &order, lines, totals, req.StaffID); err != nil {
				return err
			}
			orderID = order.ID
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidateItems(ctx, items)

	view, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("manual order created",
		zap.String("order_id", view.ID),
		zap.String("sequence", view.SequenceNumber),
		zap.String("staff_id", req.StaffID),
	)
	return view, nil
}

func sanitizeManual(req ManualOrderRequest) ManualOrderRequest {
	req.StaffID = clean(req.StaffID)
	req.Customer = ManualCustomer{
		Name:  clean(req.Customer.Name),
		Email: strings.ToLower(clean(req.Customer.Email)),
		Phone: clean(req.Customer.Phone),
	}
	req.Address = ManualAddress{
		Recipient:  clean(req.Address.Recipient),
		Line1:      clean(req.Address.Line1),
		Line2:      clean(req.Address.Line2),
		City:       clean(req.Address.City),
		State:      clean(req.Address.State),
		PostalCode: clean(req.Address.PostalCode),
		Country:    clean(req.Address.Country),
		Phone:      clean(req.Address.Phone),
	}
	return req
}

const maxCleanPasses = 4

// clean returns plain text with entities decoded. Decoding can expose markup
// that was entity-encoded or split around a stripped tag, so passes repeat
// until the text is stable. Unstable input is returned still escaped.
func clean(s string) string {
	for i := 0; i < maxCleanPasses; i++ {
		next := html.UnescapeString(plainText.Sanitize(html.UnescapeString(s)))
		if next == s {
			return strings.TrimSpace(next)
		}
		s = next
	}
	return strings.TrimSpace(plainText.Sanitize(s))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
