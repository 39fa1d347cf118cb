package cache

import (
	"context"
	"time"

	"tillpoint/backend/internal/domain"
)

type ProductCache interface {
	Get(ctx context.Context, tenantID string, productID string) (*domain.Product, bool, error)
	Set(ctx context.Context, tenantID string, product *domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context, tenantID string, productIDs ...string) error
}

type NoopProductCache struct{}

func (NoopProductCache) Get(_ context.Context, _ string, _ string) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) Set(_ context.Context, _ string, _ *domain.Product, _ time.Duration) error {
	return nil
}

func (NoopProductCache) Invalidate(_ context.Context, _ string, _ ...string) error {
	return nil
}
