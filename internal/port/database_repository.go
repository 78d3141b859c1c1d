package port

import (
	"context"
	"errors"
	"time"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when the store detected a conflicting concurrent
	// write (deadlock, lock timeout, stale version, duplicate sequence number).
	ErrConflict = errors.New("conflicting concurrent write")
	// ErrOpenOrderExists is returned when a customer already holds an open order.
	ErrOpenOrderExists = errors.New("customer already has an open order")
)

type DatabaseRepository interface {
	// WithTransaction runs fn inside one transaction, committing only when fn
	// returns nil.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error

	// GetOrder returns the order with its lines and address
	GetOrder(ctx context.Context, orderID string) (*domain.OrderView, error)

	// GetProduct reads a product outside any transaction
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	// ListLowStock returns products at or below their minimum stock threshold
	ListLowStock(ctx context.Context) ([]domain.Product, error)

	// ListMovements returns the audit trail of a product, newest first
	ListMovements(ctx context.Context, productID string, limit int) ([]domain.InventoryMovement, error)
}

// Transaction is the set of statements the order core issues inside a
// transaction boundary.
type Transaction interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	// DecrementStock atomically decreases stock, returns false if it would go negative
	DecrementStock(ctx context.Context, productID string, quantity int) (bool, error)

	IncrementStock(ctx context.Context, productID string, quantity int) error

	// SetStock overwrites stock with version check for optimistic locking
	SetStock(ctx context.Context, productID string, quantity, expectedVersion int) error

	AppendMovement(ctx context.Context, movement domain.InventoryMovement) error

	GetAddress(ctx context.Context, addressID string) (*domain.Address, error)

	InsertAddress(ctx context.Context, address domain.Address) error

	// FindOpenOrder returns the customer's PENDING/PENDING order created at or
	// after since, or nil.
	FindOpenOrder(ctx context.Context, customerID string, since time.Time) (*domain.Order, error)

	// ExpireOpenOrders moves PENDING/PENDING orders created before cutoff to
	// CANCELLED/FAILED. An empty customerID expires across all customers.
	ExpireOpenOrders(ctx context.Context, customerID string, cutoff, now time.Time) ([]string, error)

	// NextSequence returns the highest numeric order sequence suffix + 1
	NextSequence(ctx context.Context) (int64, error)

	// InsertOrder persists the header and its lines
	InsertOrder(ctx context.Context, order domain.Order) error

	UpdateOrderTotals(ctx context.Context, order domain.Order) error

	// GetOrderForUpdate loads the order header and lines, locking the header row
	GetOrderForUpdate(ctx context.Context, orderID string) (*domain.Order, error)

	// UpdateOrderStatus persists both status tracks, payment reference and updated_at
	UpdateOrderStatus(ctx context.Context, order domain.Order) error
}
