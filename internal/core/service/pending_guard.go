package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

const DefaultPendingWindow = 30 * 24 * time.Hour

// PendingGuard allows at most one open (PENDING/PENDING) order per customer
// inside a rolling window. Open orders older than the window are expired to
// CANCELLED/FAILED without restocking.
type PendingGuard struct {
	store  port.DatabaseRepository
	window time.Duration
	clock  func() time.Time
	logger *zap.Logger
}

func NewPendingGuard(store port.DatabaseRepository, window time.Duration, clock func() time.Time, logger *zap.Logger) *PendingGuard {
	if window <= 0 {
		window = DefaultPendingWindow
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PendingGuard{
		store:  store,
		window: window,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}
}

func (g *PendingGuard) Window() time.Duration {
	return g.window
}

// ExpireStale expires the customer's stale open orders in its own
// transaction so the expiry sticks even when the checkout that triggered it
// fails.
func (g *PendingGuard) ExpireStale(ctx context.Context, customerID string) error {
	_, err := g.expire(ctx, customerID)
	return err
}

// Sweep expires stale open orders across all customers.
func (g *PendingGuard) Sweep(ctx context.Context) (int, error) {
	ids, err := g.expire(ctx, "")
	return len(ids), err
}

// Run sweeps every interval until ctx is cancelled.
func (g *PendingGuard) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.Sweep(ctx)
			if err != nil {
				g.logger.Error("pending order sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				g.logger.Info("pending order sweep", zap.Int("expired", n))
			}
		}
	}
}

// Check rejects the checkout when the customer already holds an open order
// inside the window.
func (g *PendingGuard) Check(ctx context.Context, tx port.Transaction, customerID string) error {
	open, err := tx.FindOpenOrder(ctx, customerID, g.clock().Add(-g.window))
	if err != nil {
		return fmt.Errorf("find open order: %w", mapStoreError(err))
	}
	if open != nil {
		return &DuplicatePendingOrderError{OrderID: open.ID, SequenceNumber: open.SequenceNumber}
	}
	return nil
}

// existing returns the open order regardless of age, used after the store
// rejected an insert because the customer's open slot is taken.
func (g *PendingGuard) existing(ctx context.Context, tx port.Transaction, customerID string) error {
	open, err := tx.FindOpenOrder(ctx, customerID, time.Time{})
	if err != nil {
		return fmt.Errorf("find open order: %w", mapStoreError(err))
	}
	if open == nil {
		return fmt.Errorf("%w: open order slot taken", ErrTransactionConflict)
	}
	return &DuplicatePendingOrderError{OrderID: open.ID, SequenceNumber: open.SequenceNumber}
}

func (g *PendingGuard) expire(ctx context.Context, customerID string) ([]string, error) {
	now := g.clock()
	cutoff := now.Add(-g.window)

	var expired []string
	err := g.store.WithTransaction(ctx, func(ctx context.Context, tx port.Transaction) error {
		ids, err := tx.ExpireOpenOrders(ctx, customerID, cutoff, now)
		expired = ids
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("expire pending orders: %w", mapStoreError(err))
	}

	for _, id := range expired {
		g.logger.Info("pending order expired",
			zap.String("order_id", id),
			zap.String("fulfillment_status", string(domain.FulfillmentCancelled)),
			zap.String("payment_status", string(domain.PaymentFailed)),
		)
	}
	return expired, nil
}
