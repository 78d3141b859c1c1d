package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront-orders/internal/adapter/storage"
	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/core/pricing"
	"github.com/rl1809/storefront-orders/internal/port"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testEnv struct {
	store *storage.MemoryAdapter
	svc   *OrderService
	cache *fakeCache
}

func newTestEnv(t *testing.T, mutate ...func(*OrderServiceDeps)) *testEnv {
	t.Helper()
	store := storage.NewMemoryAdapter()
	store.PutProduct(domain.Product{ID: "A", Name: "Coffee", Price: dec("10"), Stock: 100, MinStock: 5})
	store.PutProduct(domain.Product{ID: "B", Name: "Mug", Price: dec("5"), Stock: 50, MinStock: 5})
	store.PutAddress(domain.Address{ID: "addr-1", CustomerID: "cust-1", Recipient: "Ana", Line1: "Calle 1", City: "CDMX"})

	cache := newFakeCache()
	deps := OrderServiceDeps{
		Store:           store,
		Cache:           cache,
		ConflictRetries: 2,
	}
	for _, m := range mutate {
		m(&deps)
	}
	svc, err := NewOrderService(deps)
	require.NoError(t, err)
	return &testEnv{store: store, svc: svc, cache: cache}
}

func (e *testEnv) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := e.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (e *testEnv) movements(t *testing.T, id string) []domain.InventoryMovement {
	t.Helper()
	mvs, err := e.store.ListMovements(context.Background(), id, 100)
	require.NoError(t, err)
	return mvs
}

func checkoutRequest(customer, address string, items ...OrderItem) OnlineCheckoutRequest {
	return OnlineCheckoutRequest{CustomerID: customer, AddressID: address, Items: items}
}

func TestCheckout_CreatesOrderAndReservesStock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view, err := env.svc.Checkout(ctx, checkoutRequest("cust-1", "addr-1",
		OrderItem{ProductID: "A", Quantity: 2},
		OrderItem{ProductID: "B", Quantity: 1},
	))
	require.NoError(t, err)

	assert.Equal(t, "ORD-000001", view.SequenceNumber)
	assert.Equal(t, domain.OrderSourceOnline, view.Source)
	assert.Equal(t, domain.FulfillmentPending, view.FulfillmentStatus)
	assert.Equal(t, domain.PaymentPending, view.PaymentStatus)
	assert.True(t, view.Subtotal.Equal(dec("25")), "subtotal %s", view.Subtotal)
	assert.True(t, view.Total.Equal(dec("25")), "total %s", view.Total)
	require.NotNil(t, view.Address)
	assert.Equal(t, "addr-1", view.Address.ID)
	require.Len(t, view.Lines, 2)

	assert.Equal(t, 98, env.stock(t, "A"))
	assert.Equal(t, 49, env.stock(t, "B"))

	mvs := env.movements(t, "A")
	require.Len(t, mvs, 1)
	assert.Equal(t, domain.MovementOut, mvs[0].Direction)
	assert.Equal(t, 2, mvs[0].Quantity)
	assert.Equal(t, view.ID, mvs[0].OrderID)
	assert.Equal(t, "order ORD-000001", mvs[0].Reason)

	assert.ElementsMatch(t, []string{"A", "B"}, env.cache.invalidated())
}

func TestCheckout_TotalsFollowPolicy(t *testing.T) {
	env := newTestEnv(t, func(d *OrderServiceDeps) {
		d.Policy = pricing.Policy{
			TaxRate:               dec("0.16"),
			ShippingFee:           dec("99"),
			FreeShippingThreshold: dec("1000"),
		}
	})

	view, err := env.svc.Checkout(context.Background(), checkoutRequest("cust-1", "addr-1", OrderItem{ProductID: "A", Quantity: 3}))
	require.NoError(t, err)

	assert.True(t, view.Subtotal.Equal(dec("30")))
	assert.True(t, view.Tax.Equal(dec("4.8")))
	assert.True(t, view.Shipping.Equal(dec("99")))
	assert.True(t, view.Total.Equal(view.Subtotal.Add(view.Tax).Add(view.Shipping)))
}

func TestCheckout_SnapshotsPromotion(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutProduct(domain.Product{
		ID: "P", Name: "Promo", Price: dec("80"), PromoPrice: decimal.NewNullDecimal(dec("60")), OnPromotion: true, Stock: 10,
	})

	view, err := env.svc.Checkout(context.Background(), checkoutRequest("cust-1", "addr-1", OrderItem{ProductID: "P", Quantity: 1}))
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)

	line := view.Lines[0]
	assert.True(t, line.UnitPrice.Equal(dec("60")))
	assert.True(t, line.Promotion.OnPromotion)
	assert.Equal(t, 25, line.Promotion.DiscountPercent)

	// later catalog changes leave the line untouched
	env.store.PutProduct(domain.Product{ID: "P", Name: "Promo", Price: dec("100"), Stock: 9})
	again, err := env.svc.GetOrder(context.Background(), view.ID)
	require.NoError(t, err)
	assert.True(t, again.Lines[0].UnitPrice.Equal(dec("60")))
}

func TestCheckout_InsufficientStockHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutProduct(domain.Product{ID: "C", Name: "Rare", Price: dec("1"), Stock: 1})

	_, err := env.svc.Checkout(context.Background(), checkoutRequest("cust-1", "addr-1",
		OrderItem{ProductID: "A", Quantity: 1},
		OrderItem{ProductID: "C", Quantity: 2},
	))
	require.ErrorIs(t, err, ErrInsufficientStock)

	assert.Empty(t, env.store.Orders())
	assert.Equal(t, 100, env.stock(t, "A"))
	assert.Equal(t, 1, env.stock(t, "C"))
	assert.Empty(t, env.movements(t, "A"))
}

func TestCheckout_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  OnlineCheckoutRequest
		want error
	}{
		{"empty cart", checkoutRequest("cust-1", "addr-1"), ErrInvalidRequest},
		{"zero quantity", checkoutRequest("cust-1", "addr-1", OrderItem{ProductID: "A"}), ErrInvalidRequest},
		{"negative quantity", checkoutRequest("cust-1", "addr-1", OrderItem{ProductID: "A", Quantity: -1}), ErrInvalidRequest},
		{"missing customer", checkoutRequest("", "addr-1", OrderItem{ProductID: "A", Quantity: 1}), ErrInvalidRequest},
		{"unknown product", checkoutRequest("cust-1", "addr-1", OrderItem{ProductID: "nope", Quantity: 1}), ErrProductNotFound},
		{"unknown address", checkoutRequest("cust-1", "addr-x", OrderItem{ProductID: "A", Quantity: 1}), ErrInvalidRequest},
		{"foreign address", checkoutRequest("cust-2", "addr-1", OrderItem{ProductID: "A", Quantity: 1}), ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Checkout(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, env.store.Orders())
}

func TestCheckout_MergesRepeatedProducts(t *testing.T) {
	env := newTestEnv(t)

	view, err := env.svc.Checkout(context.Background(), checkoutRequest("cust-1", "addr-1",
		OrderItem{ProductID: "A", Quantity: 1},
		OrderItem{ProductID: "A", Quantity: 2},
	))
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, 3, view.Lines[0].Quantity)
	assert.Equal(t, 97, env.stock(t, "A"))
}

func TestCheckout_BelowMinimumAmount(t *testing.T) {
	env := newTestEnv(t, func(d *OrderServiceDeps) {
		d.Policy = pricing.Policy{MinimumPurchase: dec("100")}
	})

	_, err := env.svc.Checkout(context.Background(), checkoutRequest("cust-1", "addr-1", OrderItem{ProductID: "A", Quantity: 2}))
	require.ErrorIs(t, err, ErrBelowMinimumAmount)
	assert.Empty(t, env.store.Orders())
	assert.Equal(t, 100, env.stock(t, "A"))
}

func TestCheckout_MinimumIsCheckedBeforePendingOrder(t *testing.T) {
	env := newTestEnv(t, func(d *OrderServiceDeps) {
		d.Policy = pricing.Policy{MinimumPurchase: dec("100")}
	})
	ctx := context.Background()

	_, err := env.svc.Checkout(ctx, checkoutRequest("cust-1", "addr-1", OrderItem{ProductID: "A", Quantity: 10}))
	require.NoError(t, err)

	_, err = env.svc.Checkout(ctx, checkoutRequest("cust-1", "addr-1", OrderItem{ProductID: "B", Quantity: 1}))
	require.ErrorIs(t, err, ErrBelowMinimumAmount)
	assert.NotErrorIs(t, err, ErrDuplicatePendingOrder)
	assert.Len(t, env.store.Orders(), 1)
}

func TestCheckout_DuplicatePendingOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.svc.Checkout(ctx, checkoutRequest("cust-1", "addr-1", OrderItem{ProductID: "A", Quantity: 1}))
	require.NoError(t, err)

	_, err = env.svc.Checkout(ctx, checkoutRequest("cust-1", "addr-1", OrderItem{ProductID: "B", Quantity: 1}))
	require.ErrorIs(t, err, ErrDuplicatePendingOrder)

	var dup *DuplicatePendingOrderError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.ID, dup.OrderID)
	assert.Equal(t, first.SequenceNumber, dup.SequenceNumber)

	assert.Len(t, env.store.Orders(), 1)
	assert.Equal(t, 50, env.stock(t, "B"))
	assert.Empty(t, env.movements(t, "B"))
}

func TestCheckout_ExpiresStalePendingOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-31 * 24 * time.Hour)

	env.store.PutOrder(domain.Order{
		ID: "stale", SequenceNumber: "ORD-000001", Source: domain.OrderSourceOnline, CustomerID: "cust-1",
		AddressID: "addr-1", FulfillmentStatus: domain.FulfillmentPending, PaymentStatus: domain.PaymentPending,
		CreatedAt: old, UpdatedAt: old,
	})

	view, err := env.svc.Checkout(ctx, checkoutRequest("cust-1", "addr-1", OrderItem{ProductID: "A", Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, "ORD-000002", view.SequenceNumber)

	stale, err := env.svc.GetOrder(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentCancelled, stale.FulfillmentStatus)
	assert.Equal(t, domain.PaymentFailed, stale.PaymentStatus)
}

func TestCheckout_ConcurrentLastUnit(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutProduct(domain.Product{ID: "LAST", Name: "Last one", Price: dec("10"), Stock: 1})

	const concurrency = 50
	for i := 0; i < concurrency; i++ {
		env.store.PutAddress(domain.Address{ID: fmt.Sprintf("addr-c%d", i), CustomerID: fmt.Sprintf("c%d", i), Line1: "x", City: "y"})
	}

	var successCount, stockFailures atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.Checkout(context.Background(), checkoutRequest(
				fmt.Sprintf("c%d", i), fmt.Sprintf("addr-c%d", i), OrderItem{ProductID: "LAST", Quantity: 1}))
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, ErrInsufficientStock):
				stockFailures.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, successCount.Load())
	assert.EqualValues(t, concurrency-1, stockFailures.Load())
	assert.Equal(t, 0, env.stock(t, "LAST"))
	assert.Len(t, env.store.Orders(), 1)
	assert.Len(t, env.movements(t, "LAST"), 1)
}

func TestCheckout_LockHeld(t *testing.T) {
	lock := &fakeLock{held: map[string]string{"cust-1": "other"}}
	env := newTestEnv(t, func(d *OrderServiceDeps) { d.Lock = lock })

	_, err := env.svc.Checkout(context.Background(), checkoutRequest("cust-1", "addr-1", OrderItem{ProductID: "A", Quantity: 1}))
	require.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.Empty(t, env.store.Orders())
}

func TestCheckout_ReleasesLock(t *testing.T) {
	lock := &fakeLock{held: map[string]string{}}
	env := newTestEnv(t, func(d *OrderServiceDeps) { d.Lock = lock })

	_, err := env.svc.Checkout(context.Background(), checkoutRequest("cust-1", "addr-1", OrderItem{ProductID: "A", Quantity: 1}))
	require.NoError(t, err)
	assert.Empty(t, lock.held)
}

func TestCheckout_RetriesConflicts(t *testing.T) {
	store := storage.NewMemoryAdapter()
	store.PutProduct(domain.Product{ID: "A", Name: "Coffee", Price: dec("10"), Stock: 10})
	store.PutAddress(domain.Address{ID: "addr-1", CustomerID: "cust-1"})
	flaky := &conflictingStore{DatabaseRepository: store, failures: 2}

	svc, err := NewOrderService(OrderServiceDeps{Store: flaky, ConflictRetries: 2})
	require.NoError(t, err)

	_, err = svc.Checkout(context.Background(), checkoutRequest("cust-1", "addr-1", OrderItem{ProductID: "A", Quantity: 1}))
	require.NoError(t, err)
	assert.Len(t, store.Orders(), 1)
}

func TestCheckout_GivesUpAfterRetries(t *testing.T) {
	store := storage.NewMemoryAdapter()
	store.PutProduct(domain.Product{ID: "A", Name: "Coffee", Price: dec("10"), Stock: 10})
	store.PutAddress(domain.Address{ID: "addr-1", CustomerID: "cust-1"})
	flaky := &conflictingStore{DatabaseRepository: store, failures: 10}

	svc, err := NewOrderService(OrderServiceDeps{Store: flaky, ConflictRetries: 1})
	require.NoError(t, err)

	_, err = svc.Checkout(context.Background(), checkoutRequest("cust-1", "addr-1", OrderItem{ProductID: "A", Quantity: 1}))
	require.ErrorIs(t, err, ErrTransactionConflict)
	assert.Empty(t, store.Orders())
}

func TestPlaceOrder_Dispatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	online, err := env.svc.PlaceOrder(ctx, &OnlineCheckoutRequest{CustomerID: "cust-1", AddressID: "addr-1", Items: []OrderItem{{ProductID: "A", Quantity: 1}}})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSourceOnline, online.Source)

	manual, err := env.svc.PlaceOrder(ctx, ManualOrderRequest{
		StaffID:  "staff-1",
		Customer: ManualCustomer{Name: "Walk-in"},
		Address:  ManualAddress{Line1: "Store", City: "CDMX"},
		Items:    []OrderItem{{ProductID: "B", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSourceManual, manual.Source)
}

func TestFormatSequence(t *testing.T) {
	assert.Equal(t, "ORD-000001", FormatSequence(1))
	assert.Equal(t, "ORD-000042", FormatSequence(42))
	assert.Equal(t, "ORD-1234567", FormatSequence(1234567))
}

func TestStartPayment(t *testing.T) {
	bridge := &fakeBridge{reference: "pi_123"}
	env := newTestEnv(t, func(d *OrderServiceDeps) { d.Payments = bridge; d.Currency = "mxn" })
	ctx := context.Background()

	view, err := env.svc.Checkout(ctx, checkoutRequest("cust-1", "addr-1", OrderItem{ProductID: "A", Quantity: 1}))
	require.NoError(t, err)

	intent, err := env.svc.StartPayment(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.Reference)
	assert.Equal(t, "MXN", bridge.last.Currency)
	assert.True(t, bridge.last.Total.Equal(dec("10")))

	after, err := env.svc.GetOrder(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_123", after.PaymentReference)
	assert.Equal(t, domain.PaymentPending, after.PaymentStatus)

	tracker := &fakeTracker{}
	env.svc.tracker = tracker
	_, err = env.svc.StartPayment(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{view.ID + "/pi_123"}, tracker.tracked)

	tracker.err = errors.New("workflow engine unavailable")
	_, err = env.svc.StartPayment(ctx, view.ID)
	require.NoError(t, err, "tracking failures do not fail the payment start")

	bridge.err = errors.New("card network down")
	_, err = env.svc.StartPayment(ctx, view.ID)
	assert.ErrorIs(t, err, ErrPaymentFailed)
}

// conflictingStore fails the first n order-inserting transactions with a
// storage conflict after they ran to completion.
type conflictingStore struct {
	port.DatabaseRepository
	mu       sync.Mutex
	failures int
}

type insertSpyTx struct {
	port.Transaction
	inserted bool
}

func (t *insertSpyTx) InsertOrder(ctx context.Context, order domain.Order) error {
	t.inserted = true
	return t.Transaction.InsertOrder(ctx, order)
}

func (s *conflictingStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx port.Transaction) error) error {
	return s.DatabaseRepository.WithTransaction(ctx, func(ctx context.Context, tx port.Transaction) error {
		spy := &insertSpyTx{Transaction: tx}
		if err := fn(ctx, spy); err != nil {
			return err
		}
		if !spy.inserted {
			return nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.failures > 0 {
			s.failures--
			return fmt.Errorf("%w: deadlock", port.ErrConflict)
		}
		return nil
	})
}

type fakeCache struct {
	mu       sync.Mutex
	products map[string]domain.Product
	dropped  []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{products: make(map[string]domain.Product)}
}

func (c *fakeCache) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (c *fakeCache) SetProduct(ctx context.Context, product domain.Product, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[product.ID] = product
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, productIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range productIDs {
		delete(c.products, id)
		c.dropped = append(c.dropped, id)
	}
	return nil
}

func (c *fakeCache) invalidated() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.dropped...)
}

type fakeLock struct {
	mu   sync.Mutex
	held map[string]string
}

func (l *fakeLock) AcquireCheckout(ctx context.Context, customerID string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[customerID]; ok {
		return "", false, nil
	}
	l.held[customerID] = "token-" + customerID
	return l.held[customerID], true, nil
}

func (l *fakeLock) ReleaseCheckout(ctx context.Context, customerID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[customerID] == token {
		delete(l.held, customerID)
	}
	return nil
}

type fakeBridge struct {
	reference string
	err       error
	last      port.PaymentIntentRequest
}

func (b *fakeBridge) CreatePaymentIntent(ctx context.Context, req port.PaymentIntentRequest) (port.PaymentIntent, error) {
	b.last = req
	if b.err != nil {
		return port.PaymentIntent{}, b.err
	}
	return port.PaymentIntent{Reference: b.reference, ClientSecret: b.reference + "_secret"}, nil
}

type fakeTracker struct {
	tracked []string
	err     error
}

func (f *fakeTracker) TrackPayment(ctx context.Context, orderID, reference string) error {
	f.tracked = append(f.tracked, orderID+"/"+reference)
	return f.err
}
