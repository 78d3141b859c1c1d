package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

const defaultMovementLimit = 50

type InventoryServiceDeps struct {
	Store    port.DatabaseRepository
	Ledger   *InventoryLedger
	Cache    port.CatalogCache
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// InventoryService exposes the admin stock operations and the catalog read
// path. Stock mutations go through the ledger.
type InventoryService struct {
	store    port.DatabaseRepository
	ledger   *InventoryLedger
	cache    port.CatalogCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

type AdjustStockCommand struct {
	ProductID string
	Delta     int
	Reason    string
	ActorID   string
}

// SetStockCommand records a physical stock count.
type SetStockCommand struct {
	ProductID       string
	Quantity        int
	ExpectedVersion int
	Reason          string
	ActorID         string
}

func NewInventoryService(deps InventoryServiceDeps) (*InventoryService, error) {
	if deps.Store == nil {
		return nil, errors.New("inventory service: store is required")
	}
	ledger := deps.Ledger
	if ledger == nil {
		ledger = NewInventoryLedger(nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryService{
		store:    deps.Store,
		ledger:   ledger,
		cache:    deps.Cache,
		cacheTTL: deps.CacheTTL,
		logger:   logger,
	}, nil
}

// GetProduct is the catalog lookup used for display. It may serve a cached
// copy; checkout never calls it.
func (s *InventoryService) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, fmt.Errorf("%w: product id is required", ErrInvalidRequest)
	}

	if s.cache != nil {
		cached, err := s.cache.GetProduct(ctx, productID)
		if err != nil {
			s.logger.Warn("catalog cache read failed", zap.String("product_id", productID), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	product, err := s.store.GetProduct(ctx, productID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}

	if s.cache != nil && s.cacheTTL > 0 {
		if err := s.cache.SetProduct(ctx, *product, s.cacheTTL); err != nil {
			s.logger.Warn("catalog cache write failed", zap.String("product_id", productID), zap.Error(err))
		}
	}
	return product, nil
}

// AdjustStock applies a signed delta. Negative deltas use the same
// conditional decrement as checkout.
func (s *InventoryService) AdjustStock(ctx context.Context, cmd AdjustStockCommand) (*domain.Product, error) {
	if strings.TrimSpace(cmd.ProductID) == "" {
		return nil, fmt.Errorf("%w: product id is required", ErrInvalidRequest)
	}
	if cmd.Delta == 0 {
		return nil, fmt.Errorf("%w: delta must be non-zero", ErrInvalidRequest)
	}
	if strings.TrimSpace(cmd.ActorID) == "" {
		return nil, fmt.Errorf("%w: actor id is required", ErrInvalidRequest)
	}

	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = "manual adjustment"
	}

	var product *domain.Product
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx port.Transaction) error {
		if _, err := loadProduct(ctx, tx, cmd.ProductID); err != nil {
			return err
		}

		change := StockChange{ProductID: cmd.ProductID, Reason: reason, ActorID: cmd.ActorID}
		if cmd.Delta < 0 {
			change.Quantity = -cmd.Delta
			if err := s.ledger.Reserve(ctx, tx, change); err != nil {
				return err
			}
		} else {
			change.Quantity = cmd.Delta
			if err := s.ledger.Release(ctx, tx, change); err != nil {
				return err
			}
		}

		p, err := loadProduct(ctx, tx, cmd.ProductID)
		product = p
		return err
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	s.invalidate(ctx, cmd.ProductID)
	s.logger.Info("stock adjusted",
		zap.String("product_id", cmd.ProductID),
		zap.Int("delta", cmd.Delta),
		zap.Int("stock", product.Stock),
		zap.String("actor_id", cmd.ActorID),
	)
	return product, nil
}

// SetStock overwrites the stock with a counted quantity, guarded by the
// product version read by the operator.
func (s *InventoryService) SetStock(ctx context.Context, cmd SetStockCommand) (*domain.Product, error) {
	if strings.TrimSpace(cmd.ProductID) == "" {
		return nil, fmt.Errorf("%w: product id is required", ErrInvalidRequest)
	}
	if cmd.Quantity < 0 {
		return nil, fmt.Errorf("%w: quantity must be >= 0", ErrInvalidRequest)
	}
	if strings.TrimSpace(cmd.ActorID) == "" {
		return nil, fmt.Errorf("%w: actor id is required", ErrInvalidRequest)
	}

	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = "stock count"
	}

	var product *domain.Product
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx port.Transaction) error {
		current, err := loadProduct(ctx, tx, cmd.ProductID)
		if err != nil {
			return err
		}
		if err := tx.SetStock(ctx, cmd.ProductID, cmd.Quantity, cmd.ExpectedVersion); err != nil {
			return mapStoreError(err)
		}

		diff := cmd.Quantity - current.Stock
		if diff != 0 {
			dir := domain.MovementIn
			if diff < 0 {
				dir, diff = domain.MovementOut, -diff
			}
			change := StockChange{ProductID: cmd.ProductID, Quantity: diff, Reason: reason, ActorID: cmd.ActorID}
			if err := s.ledger.record(ctx, tx, dir, change); err != nil {
				return err
			}
		}

		p, err := loadProduct(ctx, tx, cmd.ProductID)
		product = p
		return err
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	s.invalidate(ctx, cmd.ProductID)
	return product, nil
}

func (s *InventoryService) ListLowStock(ctx context.Context) ([]domain.Product, error) {
	products, err := s.store.ListLowStock(ctx)
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	return products, nil
}

func (s *InventoryService) ListMovements(ctx context.Context, productID string, limit int) ([]domain.InventoryMovement, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, fmt.Errorf("%w: product id is required", ErrInvalidRequest)
	}
	if limit <= 0 {
		limit = defaultMovementLimit
	}
	movements, err := s.store.ListMovements(ctx, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return movements, nil
}

func (s *InventoryService) invalidate(ctx context.Context, productIDs ...string) {
	invalidateCatalog(ctx, s.cache, s.logger, productIDs...)
}

func invalidateCatalog(ctx context.Context, cache port.CatalogCache, logger *zap.Logger, productIDs ...string) {
	if cache == nil || len(productIDs) == 0 {
		return
	}
	if err := cache.Invalidate(ctx, productIDs...); err != nil {
		logger.Warn("catalog cache invalidation failed", zap.Strings("product_ids", productIDs), zap.Error(err))
	}
}

func loadProduct(ctx context.Context, tx port.Transaction, productID string) (*domain.Product, error) {
	product, err := tx.GetProduct(ctx, productID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, mapStoreError(err)
	}
	return product, nil
}
