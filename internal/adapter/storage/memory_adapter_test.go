package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

func TestMemoryAdapter_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	m.PutProduct(domain.Product{ID: "p1", Price: decimal.NewFromInt(10), Stock: 5})

	boom := errors.New("boom")
	err := m.WithTransaction(ctx, func(ctx context.Context, tx port.Transaction) error {
		if ok, _ := tx.DecrementStock(ctx, "p1", 2); !ok {
			t.Fatal("expected decrement to apply")
		}
		if err := tx.AppendMovement(ctx, domain.InventoryMovement{ID: "m1", ProductID: "p1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	p, _ := m.GetProduct(ctx, "p1")
	if p.Stock != 5 {
		t.Errorf("expected stock 5 after rollback, got %d", p.Stock)
	}
	mvs, _ := m.ListMovements(ctx, "p1", 10)
	if len(mvs) != 0 {
		t.Errorf("expected no movements, got %d", len(mvs))
	}
}

func TestMemoryAdapter_DecrementNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	m.PutProduct(domain.Product{ID: "p1", Stock: 1})

	_ = m.WithTransaction(ctx, func(ctx context.Context, tx port.Transaction) error {
		ok, err := tx.DecrementStock(ctx, "p1", 2)
		if err != nil || ok {
			t.Errorf("expected refused decrement, got ok=%v err=%v", ok, err)
		}
		return nil
	})

	p, _ := m.GetProduct(ctx, "p1")
	if p.Stock != 1 {
		t.Errorf("expected stock 1, got %d", p.Stock)
	}
}

func TestMemoryAdapter_NextSequence(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	m.PutOrder(domain.Order{ID: "a", SequenceNumber: "ORD-000005"})
	m.PutOrder(domain.Order{ID: "b", SequenceNumber: "ORD-000002"})
	m.PutOrder(domain.Order{ID: "c", SequenceNumber: "LEGACY"})

	_ = m.WithTransaction(ctx, func(ctx context.Context, tx port.Transaction) error {
		n, err := tx.NextSequence(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 6 {
			t.Errorf("expected 6, got %d", n)
		}
		return nil
	})
}

func TestMemoryAdapter_OpenOrderSlot(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	now := time.Now().UTC()
	open := domain.Order{
		ID: "o1", SequenceNumber: "ORD-000001", Source: domain.OrderSourceOnline, CustomerID: "c1",
		FulfillmentStatus: domain.FulfillmentPending, PaymentStatus: domain.PaymentPending, CreatedAt: now.Add(-48 * time.Hour),
	}
	m.PutOrder(open)

	second := open
	second.ID, second.SequenceNumber, second.CreatedAt = "o2", "ORD-000002", now
	err := m.WithTransaction(ctx, func(ctx context.Context, tx port.Transaction) error {
		return tx.InsertOrder(ctx, second)
	})
	if !errors.Is(err, port.ErrOpenOrderExists) {
		t.Fatalf("expected ErrOpenOrderExists, got %v", err)
	}

	err = m.WithTransaction(ctx, func(ctx context.Context, tx port.Transaction) error {
		ids, err := tx.ExpireOpenOrders(ctx, "", now.Add(-24*time.Hour), now)
		if err != nil {
			return err
		}
		if len(ids) != 1 || ids[0] != "o1" {
			t.Errorf("expected o1 expired, got %v", ids)
		}
		return tx.InsertOrder(ctx, second)
	})
	if err != nil {
		t.Fatalf("insert after expiry failed: %v", err)
	}

	view, _ := m.GetOrder(ctx, "o1")
	if view.FulfillmentStatus != domain.FulfillmentCancelled || view.PaymentStatus != domain.PaymentFailed {
		t.Errorf("expected CANCELLED/FAILED, got %s/%s", view.FulfillmentStatus, view.PaymentStatus)
	}
}

func TestMemoryAdapter_MovementsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	m.PutProduct(domain.Product{ID: "p1"})

	_ = m.WithTransaction(ctx, func(ctx context.Context, tx port.Transaction) error {
		for _, id := range []string{"m1", "m2", "m3"} {
			_ = tx.AppendMovement(ctx, domain.InventoryMovement{ID: id, ProductID: "p1"})
		}
		return tx.AppendMovement(ctx, domain.InventoryMovement{ID: "other", ProductID: "p2"})
	})

	mvs, _ := m.ListMovements(ctx, "p1", 2)
	if len(mvs) != 2 || mvs[0].ID != "m3" || mvs[1].ID != "m2" {
		t.Errorf("unexpected movements: %+v", mvs)
	}
}
