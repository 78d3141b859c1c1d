package port

import (
	"context"
	"time"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

// CatalogCache is a swappable read-through cache for product lookups. It
// carries no correctness obligation: stock decisions never read from it.
type CatalogCache interface {
	// GetProduct returns nil, nil on a miss
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	SetProduct(ctx context.Context, product domain.Product, ttl time.Duration) error

	Invalidate(ctx context.Context, productIDs ...string) error
}

type CheckoutLock interface {
	// AcquireCheckout sets a short-lived key per customer, returns false if already held
	AcquireCheckout(ctx context.Context, customerID string, ttl time.Duration) (token string, ok bool, err error)

	// ReleaseCheckout deletes the key only if it still holds token
	ReleaseCheckout(ctx context.Context, customerID, token string) error
}
