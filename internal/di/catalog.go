package di

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"florapos/internal/cache"
	"florapos/internal/config"
	"florapos/internal/inventory"
)

// CatalogModule provides the inventory sources, the snapshot cache and the
// catalog, loading it on start.
var CatalogModule = fx.Options(
	fx.Provide(
		newCatalogCache,
		newCatalogSources,
		newCatalog,
	),
	fx.Invoke(loadCatalog),
)

type catalogCacheParams struct {
	fx.In

	Ctx       context.Context
	Lifecycle fx.Lifecycle
	Config    config.Config
	Logger    *slog.Logger
}

// newCatalogCache falls back to the no-op cache when redis is not
// configured or does not answer.
func newCatalogCache(p catalogCacheParams) cache.CatalogCache {
	if p.Config.RedisAddr == "" {
		p.Logger.Info("catalog cache: noop")
		return cache.NoopCatalogCache{}
	}

	rc := cache.NewRedisCatalogCache(p.Config.RedisAddr, p.Config.RedisPassword, p.Config.RedisDB)
	if err := rc.Ping(p.Ctx); err != nil {
		p.Logger.Warn("redis unavailable, using noop cache", slog.String("error", err.Error()))
		_ = rc.Close()
		return cache.NoopCatalogCache{}
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return rc.Close()
		},
	})
	p.Logger.Info("catalog cache: redis", slog.String("addr", p.Config.RedisAddr))
	return rc
}

func newCatalogSources(lc fx.Lifecycle, cfg config.Config) ([]inventory.Source, error) {
	sources := make([]inventory.Source, 0, len(cfg.CatalogCSVSources)+1)
	for _, location := range cfg.CatalogCSVSources {
		sources = append(sources, inventory.NewCSVSource(location))
	}
	if cfg.CatalogDatabaseURL == "" {
		return sources, nil
	}

	table, err := inventory.OpenTableSource(cfg.CatalogDatabaseURL, cfg.CatalogTable)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return table.Close()
		},
	})
	return append(sources, table), nil
}

func newCatalog(sources []inventory.Source, c cache.CatalogCache, cfg config.Config, logger *slog.Logger) *inventory.Catalog {
	return inventory.NewCatalog(sources, inventory.CatalogOptions{
		GeneralCategories: cfg.GeneralCategories,
		CacheTTL:          cfg.CatalogCacheTTL,
	}, c, logger)
}

// loadCatalog does not fail startup: an empty catalog can be filled later
// through the reload endpoint.
func loadCatalog(lc fx.Lifecycle, catalog *inventory.Catalog, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := catalog.Load(ctx); err != nil {
				logger.Warn("initial catalog load failed", slog.String("error", err.Error()))
			}
			return nil
		},
	})
}
