package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

const (
	productKeyPrefix  = "catalog:product:"
	checkoutKeyPrefix = "checkout:lock:"
)

// releaseLockScript deletes the lock only when it still holds the caller's
// token, so an expired holder cannot release a lock taken over by someone else.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
local token = ARGV[1]

if redis.call('GET', key) == token then
	return redis.call('DEL', key)
end

return 0
`)

// RedisAdapter serves the catalog read cache and the per-customer checkout
// lock. Neither is a source of truth for stock.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	raw, err := r.client.Get(ctx, productKeyPrefix+productID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p domain.Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode cached product %s: %w", productID, err)
	}
	return &p, nil
}

func (r *RedisAdapter) SetProduct(ctx context.Context, product domain.Product, ttl time.Duration) error {
	raw, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("encode product %s: %w", product.ID, err)
	}
	return r.client.Set(ctx, productKeyPrefix+product.ID, raw, ttl).Err()
}

func (r *RedisAdapter) Invalidate(ctx context.Context, productIDs ...string) error {
	if len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, productKeyPrefix+id)
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisAdapter) AcquireCheckout(ctx context.Context, customerID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, checkoutKeyPrefix+customerID, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (r *RedisAdapter) ReleaseCheckout(ctx context.Context, customerID, token string) error {
	return releaseLockScript.Run(ctx, r.client, []string{checkoutKeyPrefix + customerID}, token).Err()
}
