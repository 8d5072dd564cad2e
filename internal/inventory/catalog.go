package inventory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"florapos/internal/cache"
	"florapos/internal/domain"
)

var ErrUnknownProduct = errors.New("product not in catalog")

const catalogCacheKey = "florapos:catalog"

type CatalogOptions struct {
	GeneralCategories []string
	CacheTTL          time.Duration
}

// Catalog holds the latest projection and answers code lookups. A reload
// replaces the projection wholesale.
type Catalog struct {
	sources []Source
	general map[string]bool
	cache   cache.CatalogCache
	ttl     time.Duration
	logger  *slog.Logger

	mu       sync.RWMutex
	items    []domain.InventoryItem
	byCode   map[string]int
	loadedAt time.Time
}

func NewCatalog(sources []Source, opts CatalogOptions, c cache.CatalogCache, logger *slog.Logger) *Catalog {
	if c == nil {
		c = cache.NoopCatalogCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	return &Catalog{
		sources: sources,
		general: GeneralCategories(opts.GeneralCategories),
		cache:   c,
		ttl:     opts.CacheTTL,
		logger:  logger,
		byCode:  map[string]int{},
	}
}

// Load serves the cached projection when there is one and reloads otherwise.
func (c *Catalog) Load(ctx context.Context) error {
	snapshot, ok, err := c.cache.Get(ctx, catalogCacheKey)
	if err != nil {
		c.logger.Warn("catalog cache read failed", slog.String("error", err.Error()))
	}
	if ok && snapshot != nil {
		c.set(snapshot.Items, snapshot.LoadedAt)
		c.logger.Info("catalog loaded from cache", slog.Int("items", len(snapshot.Items)))
		return nil
	}
	return c.Reload(ctx)
}

// Reload reads every source again.
func (c *Catalog) Reload(ctx context.Context) error {
	items, err := Project(ctx, c.sources, c.general, c.logger)
	if err != nil {
		return err
	}
	loadedAt := time.Now().UTC()
	c.set(items, loadedAt)

	if err := c.cache.Set(ctx, catalogCacheKey, &cache.CatalogSnapshot{Items: items, LoadedAt: loadedAt}, c.ttl); err != nil {
		c.logger.Warn("catalog cache write failed", slog.String("error", err.Error()))
	}
	c.logger.Info("catalog reloaded",
		slog.Int("sources", len(c.sources)),
		slog.Int("items", len(items)),
	)
	return nil
}

func (c *Catalog) set(items []domain.InventoryItem, loadedAt time.Time) {
	byCode := make(map[string]int, len(items))
	for i, item := range items {
		for _, key := range []string{item.Code, item.SKU} {
			key = normalizeCode(key)
			if key == "" {
				continue
			}
			if _, taken := byCode[key]; !taken {
				byCode[key] = i
			}
		}
	}

	c.mu.Lock()
	c.items = items
	c.byCode = byCode
	c.loadedAt = loadedAt
	c.mu.Unlock()
}

func (c *Catalog) Items() ([]domain.InventoryItem, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.InventoryItem(nil), c.items...), c.loadedAt
}

// Lookup finds an item by code, falling back to SKU.
func (c *Catalog) Lookup(code string) (domain.InventoryItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, ok := c.byCode[normalizeCode(code)]
	if !ok {
		return domain.InventoryItem{}, ErrUnknownProduct
	}
	return c.items[idx], nil
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
