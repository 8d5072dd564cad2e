package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"florapos/internal/domain"
)

func TestNoopCatalogCacheAlwaysMisses(t *testing.T) {
	var c CatalogCache = NoopCatalogCache{}
	ctx := context.Background()

	snapshot := &CatalogSnapshot{
		Items:    []domain.InventoryItem{{Code: "R01", Name: "Rose"}},
		LoadedAt: time.Now().UTC(),
	}
	if err := c.Set(ctx, "catalog", snapshot, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, "catalog")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok || got != nil {
		t.Fatalf("expected miss, got %+v", got)
	}
}

func TestRedisCatalogCacheSkipsNilValue(t *testing.T) {
	c := NewRedisCatalogCache("127.0.0.1:0", "", 0)
	defer c.Close()
	if err := c.Set(context.Background(), "catalog", nil, time.Minute); err != nil {
		t.Fatalf("expected nil snapshot to be ignored, got %v", err)
	}
}

// Set FLORAPOS_TEST_REDIS_ADDR (for example 127.0.0.1:6379) to run against a
// real server.
func newTestRedisCache(t *testing.T) *RedisCatalogCache {
	t.Helper()
	addr := os.Getenv("FLORAPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FLORAPOS_TEST_REDIS_ADDR not set")
	}
	c := NewRedisCatalogCache(addr, os.Getenv("FLORAPOS_TEST_REDIS_PASSWORD"), 0)
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping redis at %s: %v", addr, err)
	}
	return c
}

func TestRedisCatalogCacheRoundTrip(t *testing.T) {
	c := newTestRedisCache(t)
	ctx := context.Background()
	key := "florapos:test:" + t.Name()

	snapshot := &CatalogSnapshot{
		Items: []domain.InventoryItem{
			{Code: "R01", Name: "Red Rose", ListPriceCents: 1000, Stock: 40},
			{Code: "T01", Name: "Tulip", ListPriceCents: 500},
		},
		LoadedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := c.Set(ctx, key, snapshot, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	t.Cleanup(func() { _ = c.client.Del(context.Background(), key).Err() })

	got, ok, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || got == nil {
		t.Fatalf("expected hit for %s", key)
	}
	if len(got.Items) != 2 || got.Items[0].Code != "R01" || got.Items[0].ListPriceCents != 1000 || got.Items[1].Name != "Tulip" {
		t.Fatalf("unexpected items %+v", got.Items)
	}
	if !got.LoadedAt.Equal(snapshot.LoadedAt) {
		t.Fatalf("expected loaded_at %s, got %s", snapshot.LoadedAt, got.LoadedAt)
	}
}

func TestRedisCatalogCacheMissingKeyIsMiss(t *testing.T) {
	c := newTestRedisCache(t)

	got, ok, err := c.Get(context.Background(), "florapos:test:absent")
	if err != nil {
		t.Fatalf("expected missing key to be a plain miss, got %v", err)
	}
	if ok || got != nil {
		t.Fatalf("expected miss, got %+v", got)
	}
}
