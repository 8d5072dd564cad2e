package cache

import (
	"context"
	"time"

	"florapos/internal/domain"
)

// CatalogSnapshot is the last merged inventory projection.
type CatalogSnapshot struct {
	Items    []domain.InventoryItem `json:"items"`
	LoadedAt time.Time              `json:"loaded_at"`
}

type CatalogCache interface {
	Get(ctx context.Context, key string) (*CatalogSnapshot, bool, error)
	Set(ctx context.Context, key string, value *CatalogSnapshot, ttl time.Duration) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) (*CatalogSnapshot, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ *CatalogSnapshot, _ time.Duration) error {
	return nil
}
