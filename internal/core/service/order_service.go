package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/core/pricing"
	"github.com/rl1809/storefront-orders/internal/port"
)

const (
	sequencePrefix = "ORD-"
	sequenceWidth  = 6

	defaultCheckoutLockTTL = 15 * time.Second
	defaultCurrency        = "MXN"
)

var tracer = otel.Tracer("github.com/rl1809/storefront-orders/internal/core/service")

// OrderServiceDeps bundles the collaborators of the order core. Store is the
// only required one.
type OrderServiceDeps struct {
	Store           port.DatabaseRepository
	Cache           port.CatalogCache
	Lock            port.CheckoutLock
	Payments        port.PaymentBridge
	Tracker         port.PaymentTracker
	Ledger          *InventoryLedger
	Policy          pricing.Policy
	PendingWindow   time.Duration
	Currency        string
	ConflictRetries int
	CheckoutLockTTL time.Duration
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          *zap.Logger
}

type OrderService struct {
	store    port.DatabaseRepository
	cache    port.CatalogCache
	lock     port.CheckoutLock
	payments port.PaymentBridge
	tracker  port.PaymentTracker
	ledger   *InventoryLedger
	guard    *PendingGuard
	policy   pricing.Policy
	currency string
	retries  int
	lockTTL  time.Duration
	clock    func() time.Time
	newID    func() string
	logger   *zap.Logger
}

func NewOrderService(deps OrderServiceDeps) (*OrderService, error) {
	if deps.Store == nil {
		return nil, errors.New("order service: store is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	utc := func() time.Time { return clock().UTC() }

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return uuid.New().String() }
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ledger := deps.Ledger
	if ledger == nil {
		ledger = NewInventoryLedger(clock)
	}

	lockTTL := deps.CheckoutLockTTL
	if lockTTL <= 0 {
		lockTTL = defaultCheckoutLockTTL
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	retries := deps.ConflictRetries
	if retries < 0 {
		retries = 0
	}

	return &OrderService{
		store:    deps.Store,
		cache:    deps.Cache,
		lock:     deps.Lock,
		payments: deps.Payments,
		tracker:  deps.Tracker,
		ledger:   ledger,
		guard:    NewPendingGuard(deps.Store, deps.PendingWindow, clock, logger),
		policy:   deps.Policy,
		currency: currency,
		retries:  retries,
		lockTTL:  lockTTL,
		clock:    utc,
		newID:    idGen,
		logger:   logger,
	}, nil
}

// Guard exposes the pending-order guard so the server can run the periodic sweep.
func (s *OrderService) Guard() *PendingGuard {
	return s.guard
}

func (s *OrderService) Currency() string {
	return s.currency
}

// PlaceOrder dispatches either request variant to its entry point.
func (s *OrderService) PlaceOrder(ctx context.Context, req OrderRequest) (*domain.OrderView, error) {
	switch r := req.(type) {
	case OnlineCheckoutRequest:
		return s.Checkout(ctx, r)
	case *OnlineCheckoutRequest:
		return s.Checkout(ctx, *r)
	case ManualOrderRequest:
		return s.CreateManualOrder(ctx, r)
	case *ManualOrderRequest:
		return s.CreateManualOrder(ctx, *r)
	default:
		return nil, fmt.Errorf("%w: unsupported request type %T", ErrInvalidRequest, req)
	}
}

// Checkout turns a customer's cart into an order in one transaction: live
// stock check, pending-order guard, price snapshot, order and lines, stock
// reservation with audit, recomputed totals. On failure nothing is persisted.
func (s *OrderService) Checkout(ctx context.Context, req OnlineCheckoutRequest) (_ *domain.OrderView, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.Checkout", trace.WithAttributes(
		attribute.String("customer.id", req.CustomerID),
		attribute.Int("items", len(req.Items)),
	))
	defer func() { endSpan(span, err) }()

	items, err := req.validate()
	if err != nil {
		return nil, err
	}
	customerID := strings.TrimSpace(req.CustomerID)

	if s.lock != nil {
		token, ok, err := s.lock.AcquireCheckout(ctx, customerID, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire checkout lock: %w", err)
		}
		if !ok {
			return nil, ErrCheckoutInProgress
		}
		defer func() {
			if err := s.lock.ReleaseCheckout(context.WithoutCancel(ctx), customerID, token); err != nil {
				s.logger.Warn("release checkout lock failed", zap.String("customer_id", customerID), zap.Error(err))
			}
		}()
	}

	if err := s.guard.ExpireStale(ctx, customerID); err != nil {
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

			if err := s.guard.Check(ctx, tx, customerID); err != nil {
				return err
			}

			address, err := tx.GetAddress(ctx, strings.TrimSpace(req.AddressID))
			if errors.Is(err, port.ErrNotFound) {
				return fmt.Errorf("%w: address %s not found", ErrInvalidRequest, req.AddressID)
			}
			if err != nil {
				return mapStoreError(err)
			}
			if address.CustomerID != customerID {
				return fmt.Errorf("%w: address does not belong to customer", ErrInvalidRequest)
			}

			order := s.newOrder(domain.OrderSourceOnline)
			order.CustomerID = customerID
			order.AddressID = address.ID

			if err := s.createOrder(ctx, tx, &order, lines, totals, customerID); err != nil {
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

	if req.DeclaredTotal.Valid && !req.DeclaredTotal.Decimal.Equal(view.Total) {
		s.logger.Warn("declared total differs from computed total",
			zap.String("order_id", view.ID),
			zap.String("declared", req.DeclaredTotal.Decimal.String()),
			zap.String("computed", view.Total.String()),
		)
	}

	s.logger.Info("order created",
		zap.String("order_id", view.ID),
		zap.String("sequence", view.SequenceNumber),
		zap.String("customer_id", customerID),
		zap.String("total", view.Total.String()),
	)
	return view, nil
}

// GetOrder returns the order fully materialized for reporters and clients.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.OrderView, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}
	view, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return view, nil
}

// StartPayment asks the payment bridge for a payment handle and stores its
// reference on the order.
func (s *OrderService) StartPayment(ctx context.Context, orderID string) (port.PaymentIntent, error) {
	if s.payments == nil {
		return port.PaymentIntent{}, errors.New("order service: payment bridge not configured")
	}

	view, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return port.PaymentIntent{}, err
	}
	if view.PaymentStatus != domain.PaymentPending {
		return port.PaymentIntent{}, fmt.Errorf("%w: payment is %s", ErrInvalidTransition, view.PaymentStatus)
	}
	if view.FulfillmentStatus == domain.FulfillmentCancelled {
		return port.PaymentIntent{}, fmt.Errorf("%w: order is cancelled", ErrInvalidTransition)
	}

	intent, err := s.payments.CreatePaymentIntent(ctx, port.PaymentIntentRequest{
		OrderID:        view.ID,
		SequenceNumber: view.SequenceNumber,
		Total:          view.Total,
		Currency:       s.currency,
		CustomerID:     view.CustomerID,
		CustomerEmail:  view.CustomerEmail,
	})
	if err != nil {
		return port.PaymentIntent{}, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx port.Transaction) error {
		order, err := s.lockOrder(ctx, tx, view.ID)
		if err != nil {
			return err
		}
		order.PaymentReference = intent.Reference
		order.UpdatedAt = s.clock()
		return mapStoreError(tx.UpdateOrderStatus(ctx, *order))
	})
	if err != nil {
		return port.PaymentIntent{}, err
	}

	if s.tracker != nil {
		if err := s.tracker.TrackPayment(ctx, view.ID, intent.Reference); err != nil {
			s.logger.Warn("payment tracking not started", zap.String("order_id", view.ID), zap.Error(err))
		}
	}

	s.logger.Info("payment started", zap.String("order_id", view.ID), zap.String("reference", intent.Reference))
	return intent, nil
}

// price snapshots every line and computes the totals, rejecting carts below
// the minimum purchase before anything is written.
func (s *OrderService) price(items []OrderItem, products map[string]*domain.Product) ([]domain.OrderLine, pricing.Totals, error) {
	lines := make([]domain.OrderLine, 0, len(items))
	for _, item := range items {
		product := products[item.ProductID]
		snap := pricing.Snapshot(*product, item.Quantity)
		lines = append(lines, domain.OrderLine{
			ID:          s.newID(),
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   snap.UnitPrice,
			Subtotal:    snap.Subtotal,
			Promotion:   snap.Promotion,
		})
	}

	totals := s.policy.Compute(lines)
	if !s.policy.MeetsMinimum(totals.Total) {
		return nil, pricing.Totals{}, fmt.Errorf("%w: total %s, minimum %s", ErrBelowMinimumAmount, totals.Total.StringFixed(2), s.policy.MinimumPurchase.StringFixed(2))
	}
	return lines, totals, nil
}

// createOrder runs the shared part of online and manual order creation
// inside tx: sequence number, order and lines, reservations, totals.
func (s *OrderService) createOrder(ctx context.Context, tx port.Transaction, order *domain.Order, lines []domain.OrderLine, totals pricing.Totals, actorID string) error {
	for i := range lines {
		lines[i].OrderID = order.ID
	}

	seq, err := tx.NextSequence(ctx)
	if err != nil {
		return fmt.Errorf("next sequence: %w", mapStoreError(err))
	}
	order.SequenceNumber = FormatSequence(seq)
	order.Lines = lines

	if err := tx.InsertOrder(ctx, *order); err != nil {
		if errors.Is(err, port.ErrOpenOrderExists) {
			return s.guard.existing(ctx, tx, order.CustomerID)
		}
		return fmt.Errorf("insert order: %w", mapStoreError(err))
	}

	for _, line := range lines {
		change := StockChange{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Reason:    "order " + order.SequenceNumber,
			ActorID:   actorID,
			OrderID:   order.ID,
		}
		if err := s.ledger.Reserve(ctx, tx, change); err != nil {
			return err
		}
	}

	order.Subtotal = totals.Subtotal
	order.Tax = totals.Tax
	order.Shipping = totals.Shipping
	order.Total = totals.Total
	if err := tx.UpdateOrderTotals(ctx, *order); err != nil {
		return fmt.Errorf("update totals: %w", mapStoreError(err))
	}
	return nil
}

// loadStock re-reads every product inside the transaction and rejects the
// order when any requested quantity exceeds live stock.
func (s *OrderService) loadStock(ctx context.Context, tx port.Transaction, items []OrderItem) (map[string]*domain.Product, error) {
	products := make(map[string]*domain.Product, len(items))
	for _, item := range items {
		product, err := loadProduct(ctx, tx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if item.Quantity > product.Stock {
			return nil, fmt.Errorf("%w: product %s has %d, requested %d", ErrInsufficientStock, product.ID, product.Stock, item.Quantity)
		}
		products[product.ID] = product
	}
	return products, nil
}

func (s *OrderService) lockOrder(ctx context.Context, tx port.Transaction, orderID string) (*domain.Order, error) {
	order, err := tx.GetOrderForUpdate(ctx, orderID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, mapStoreError(err)
	}
	return order, nil
}

func (s *OrderService) newOrder(source domain.OrderSource) domain.Order {
	now := s.clock()
	return domain.Order{
		ID:                s.newID(),
		Source:            source,
		FulfillmentStatus: domain.FulfillmentPending,
		PaymentStatus:     domain.PaymentPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// withRetry reruns fn while it fails with a transaction conflict. Retrying is
// safe because a failed transaction leaves nothing behind.
func (s *OrderService) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = mapStoreError(fn())
		if !errors.Is(err, ErrTransactionConflict) || attempt >= s.retries {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		s.logger.Debug("retrying after transaction conflict", zap.Int("attempt", attempt+1), zap.Error(err))
	}
}

func (s *OrderService) invalidateItems(ctx context.Context, items []OrderItem) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	invalidateCatalog(ctx, s.cache, s.logger, ids...)
}

// FormatSequence renders the human-readable order number, e.g. ORD-000042.
func FormatSequence(n int64) string {
	return fmt.Sprintf("%s%0*d", sequencePrefix, sequenceWidth, n)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
