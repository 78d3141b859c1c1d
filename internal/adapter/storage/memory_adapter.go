package storage

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

// MemoryAdapter is an in-process DatabaseRepository. Transactions run one at
// a time against a copy of the state that is swapped in on commit, so a
// failed transaction leaves nothing behind. Service and handler tests run
// against it.
type MemoryAdapter struct {
	mu    sync.Mutex
	state memoryState
}

type memoryState struct {
	products  map[string]domain.Product
	addresses map[string]domain.Address
	orders    map[string]domain.Order
	movements []domain.InventoryMovement
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{state: memoryState{
		products:  make(map[string]domain.Product),
		addresses: make(map[string]domain.Address),
		orders:    make(map[string]domain.Order),
	}}
}

func (s memoryState) clone() memoryState {
	return memoryState{
		products:  maps.Clone(s.products),
		addresses: maps.Clone(s.addresses),
		orders:    maps.Clone(s.orders),
		movements: slices.Clone(s.movements),
	}
}

// PutProduct inserts or replaces a catalog row.
func (m *MemoryAdapter) PutProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.products[p.ID] = p
}

func (m *MemoryAdapter) PutAddress(a domain.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.addresses[a.ID] = a
}

// PutOrder stores an order as-is, bypassing the open-order slot check.
func (m *MemoryAdapter) PutOrder(o domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.Lines = slices.Clone(o.Lines)
	m.state.orders[o.ID] = o
}

// Orders returns every stored order sorted by sequence number.
func (m *MemoryAdapter) Orders() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Order, 0, len(m.state.orders))
	for _, o := range m.state.orders {
		o.Lines = slices.Clone(o.Lines)
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return strings.Compare(a.SequenceNumber, b.SequenceNumber) })
	return out
}

func (m *MemoryAdapter) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx port.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{state: m.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, orderID string) (*domain.OrderView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.state.orders[orderID]
	if !ok {
		return nil, port.ErrNotFound
	}
	o.Lines = slices.Clone(o.Lines)
	view := &domain.OrderView{Order: o}
	if a, ok := m.state.addresses[o.AddressID]; ok {
		view.Address = &a
	}
	return view, nil
}

func (m *MemoryAdapter) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.products[productID]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &p, nil
}

func (m *MemoryAdapter) ListLowStock(ctx context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	for _, p := range m.state.products {
		if p.LowStock() {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Product) int {
		if a.Stock != b.Stock {
			return a.Stock - b.Stock
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *MemoryAdapter) ListMovements(ctx context.Context, productID string, limit int) ([]domain.InventoryMovement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.InventoryMovement
	for i := len(m.state.movements) - 1; i >= 0; i-- {
		mv := m.state.movements[i]
		if mv.ProductID != productID {
			continue
		}
		out = append(out, mv)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type memoryTx struct {
	state memoryState
}

func (t *memoryTx) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	p, ok := t.state.products[productID]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &p, nil
}

func (t *memoryTx) DecrementStock(ctx context.Context, productID string, quantity int) (bool, error) {
	p, ok := t.state.products[productID]
	if !ok || p.Stock < quantity {
		return false, nil
	}
	p.Stock -= quantity
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	t.state.products[productID] = p
	return true, nil
}

func (t *memoryTx) IncrementStock(ctx context.Context, productID string, quantity int) error {
	p, ok := t.state.products[productID]
	if !ok {
		return port.ErrNotFound
	}
	p.Stock += quantity
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	t.state.products[productID] = p
	return nil
}

func (t *memoryTx) SetStock(ctx context.Context, productID string, quantity, expectedVersion int) error {
	p, ok := t.state.products[productID]
	if !ok {
		return port.ErrNotFound
	}
	if p.Version != expectedVersion {
		return fmt.Errorf("%w: product %s version %d, expected %d", port.ErrConflict, productID, p.Version, expectedVersion)
	}
	p.Stock = quantity
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	t.state.products[productID] = p
	return nil
}

func (t *memoryTx) AppendMovement(ctx context.Context, movement domain.InventoryMovement) error {
	t.state.movements = append(t.state.movements, movement)
	return nil
}

func (t *memoryTx) GetAddress(ctx context.Context, addressID string) (*domain.Address, error) {
	a, ok := t.state.addresses[addressID]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &a, nil
}

func (t *memoryTx) InsertAddress(ctx context.Context, address domain.Address) error {
	if _, ok := t.state.addresses[address.ID]; ok {
		return fmt.Errorf("%w: address %s exists", port.ErrConflict, address.ID)
	}
	t.state.addresses[address.ID] = address
	return nil
}

func (t *memoryTx) FindOpenOrder(ctx context.Context, customerID string, since time.Time) (*domain.Order, error) {
	var found *domain.Order
	for _, o := range t.state.orders {
		if o.CustomerID != customerID || !o.IsOpen() || o.CreatedAt.Before(since) {
			continue
		}
		if found == nil || o.CreatedAt.After(found.CreatedAt) {
			o := o
			found = &o
		}
	}
	return found, nil
}

func (t *memoryTx) ExpireOpenOrders(ctx context.Context, customerID string, cutoff, now time.Time) ([]string, error) {
	var ids []string
	for id, o := range t.state.orders {
		if o.Source != domain.OrderSourceOnline {
			continue
		}
		if customerID != "" && o.CustomerID != customerID {
			continue
		}
		if !o.IsOpen() || !o.CreatedAt.Before(cutoff) {
			continue
		}
		o.FulfillmentStatus = domain.FulfillmentCancelled
		o.PaymentStatus = domain.PaymentFailed
		o.UpdatedAt = now
		t.state.orders[id] = o
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (t *memoryTx) NextSequence(ctx context.Context) (int64, error) {
	var highest int64
	for _, o := range t.state.orders {
		n, ok := sequenceSuffix(o.SequenceNumber)
		if ok && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

func (t *memoryTx) InsertOrder(ctx context.Context, order domain.Order) error {
	if _, ok := t.state.orders[order.ID]; ok {
		return fmt.Errorf("%w: order %s exists", port.ErrConflict, order.ID)
	}
	for _, o := range t.state.orders {
		if o.SequenceNumber == order.SequenceNumber {
			return fmt.Errorf("%w: sequence %s taken", port.ErrConflict, order.SequenceNumber)
		}
		if openCustomerKey(order) != "" && openCustomerKey(o) == openCustomerKey(order) {
			return port.ErrOpenOrderExists
		}
	}
	order.Lines = slices.Clone(order.Lines)
	t.state.orders[order.ID] = order
	return nil
}

func (t *memoryTx) UpdateOrderTotals(ctx context.Context, order domain.Order) error {
	o, ok := t.state.orders[order.ID]
	if !ok {
		return port.ErrNotFound
	}
	o.Subtotal, o.Tax, o.Shipping, o.Total = order.Subtotal, order.Tax, order.Shipping, order.Total
	o.UpdatedAt = order.UpdatedAt
	t.state.orders[order.ID] = o
	return nil
}

func (t *memoryTx) GetOrderForUpdate(ctx context.Context, orderID string) (*domain.Order, error) {
	o, ok := t.state.orders[orderID]
	if !ok {
		return nil, port.ErrNotFound
	}
	o.Lines = slices.Clone(o.Lines)
	return &o, nil
}

func (t *memoryTx) UpdateOrderStatus(ctx context.Context, order domain.Order) error {
	o, ok := t.state.orders[order.ID]
	if !ok {
		return port.ErrNotFound
	}
	o.FulfillmentStatus = order.FulfillmentStatus
	o.PaymentStatus = order.PaymentStatus
	o.PaymentReference = order.PaymentReference
	o.UpdatedAt = order.UpdatedAt
	t.state.orders[order.ID] = o
	return nil
}

// openCustomerKey is the value of the unique open-order column: the customer
// id while an online order is open, empty otherwise.
func openCustomerKey(o domain.Order) string {
	if o.Source != domain.OrderSourceOnline || o.CustomerID == "" || !o.IsOpen() {
		return ""
	}
	return o.CustomerID
}

// sequenceSuffix parses the numeric tail of an order number like ORD-000042.
func sequenceSuffix(seq string) (int64, bool) {
	i := len(seq)
	for i > 0 && seq[i-1] >= '0' && seq[i-1] <= '9' {
		i--
	}
	if i == len(seq) {
		return 0, false
	}
	n, err := strconv.ParseInt(seq[i:], 10, 64)
	return n, err == nil
}
