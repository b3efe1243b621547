package cache

import (
	"context"
	"time"

	"inventra/backend/internal/domain"
)

// ProductCache is a read-through cache for single product lookups. Writes
// to a product must invalidate its entry so stock reads stay fresh.
type ProductCache interface {
	Get(ctx context.Context, productID string) (*domain.Product, bool, error)
	Set(ctx context.Context, product *domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context, productIDs ...string) error
}

type NoopProductCache struct{}

func (NoopProductCache) Get(_ context.Context, _ string) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) Set(_ context.Context, _ *domain.Product, _ time.Duration) error {
	return nil
}

func (NoopProductCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
