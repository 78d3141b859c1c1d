package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

// StockChange describes one reservation or release against a product.
type StockChange struct {
	ProductID string
	Quantity  int
	Reason    string
	ActorID   string
	OrderID   string
}

// InventoryLedger owns every mutation of product stock. It only runs inside a
// caller-provided transaction so the stock change and its audit record commit
// together with whatever else the caller writes.
type InventoryLedger struct {
	clock func() time.Time
	newID func() string
}

func NewInventoryLedger(clock func() time.Time) *InventoryLedger {
	if clock == nil {
		clock = time.Now
	}
	return &InventoryLedger{
		clock: func() time.Time { return clock().UTC() },
		newID: func() string { return ulid.Make().String() },
	}
}

// Reserve decrements stock with a single conditional update and appends an
// OUT movement. It fails with ErrInsufficientStock when the decrement would
// take stock below zero.
func (l *InventoryLedger) Reserve(ctx context.Context, tx port.Transaction, c StockChange) error {
	if c.Quantity <= 0 {
		return fmt.Errorf("%w: reserve quantity must be positive", ErrInvalidRequest)
	}

	ok, err := tx.DecrementStock(ctx, c.ProductID, c.Quantity)
	if err != nil {
		return mapStoreError(err)
	}
	if !ok {
		return fmt.Errorf("%w: product %s", ErrInsufficientStock, c.ProductID)
	}

	return l.record(ctx, tx, domain.MovementOut, c)
}

// Release returns stock and appends the paired IN movement.
func (l *InventoryLedger) Release(ctx context.Context, tx port.Transaction, c StockChange) error {
	if c.Quantity <= 0 {
		return fmt.Errorf("%w: release quantity must be positive", ErrInvalidRequest)
	}

	if err := tx.IncrementStock(ctx, c.ProductID, c.Quantity); err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrProductNotFound, c.ProductID)
		}
		return mapStoreError(err)
	}

	return l.record(ctx, tx, domain.MovementIn, c)
}

func (l *InventoryLedger) record(ctx context.Context, tx port.Transaction, dir domain.MovementDirection, c StockChange) error {
	movement := domain.InventoryMovement{
		ID:        l.newID(),
		ProductID: c.ProductID,
		Direction: dir,
		Quantity:  c.Quantity,
		Reason:    c.Reason,
		ActorID:   c.ActorID,
		OrderID:   c.OrderID,
		CreatedAt: l.clock(),
	}
	if err := tx.AppendMovement(ctx, movement); err != nil {
		return fmt.Errorf("append movement: %w", mapStoreError(err))
	}
	return nil
}

// mapStoreError converts port-level storage errors into service errors.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, port.ErrConflict):
		return fmt.Errorf("%w: %v", ErrTransactionConflict, err)
	default:
		return err
	}
}
