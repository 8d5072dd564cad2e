package di

import (
	"context"
	"log/slog"
	"path/filepath"

	"go.uber.org/fx"

	"florapos/internal/clock"
	"florapos/internal/config"
	"florapos/internal/sequence"
	"florapos/internal/store"
	"florapos/internal/store/memory"
	"florapos/internal/store/postgres"
)

// StorageModule provides the store clock, the row store and the
// client-local sequence state.
var StorageModule = fx.Options(
	fx.Provide(
		newClock,
		func(z *clock.Zoned) clock.Clock { return z },
		newRepository,
		newSequenceStore,
		newAllocator,
	),
)

// HealthChecker is implemented by stores that can report connectivity.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

func newClock(cfg config.Config) (*clock.Zoned, error) {
	return clock.New(cfg.StoreTimezone)
}

type repositoryParams struct {
	fx.In

	Ctx       context.Context
	Lifecycle fx.Lifecycle
	Config    config.Config
	Logger    *slog.Logger
}

// newRepository uses Postgres when DATABASE_URL is set and refuses to fall
// back to memory if it cannot connect.
func newRepository(p repositoryParams) (store.Repository, error) {
	if p.Config.DatabaseURL == "" {
		p.Logger.Info("repository: in-memory")
		return memory.NewSeeded(), nil
	}

	pg, err := postgres.New(p.Ctx, p.Config.DatabaseURL, p.Logger)
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pg.Close()
			return nil
		},
	})
	p.Logger.Info("repository: postgres")
	return pg, nil
}

func newSequenceStore(lc fx.Lifecycle, cfg config.Config, logger *slog.Logger) (sequence.Store, error) {
	dir := ""
	if cfg.LocalStateDir != "" {
		dir = filepath.Join(cfg.LocalStateDir, "sequence")
	}
	bs, err := sequence.OpenBadger(dir)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return bs.Close()
		},
	})
	logger.Info("sequence store opened", slog.String("dir", dir))
	return bs, nil
}

func newAllocator(bs sequence.Store, repo store.Repository, clk clock.Clock, logger *slog.Logger) *sequence.Allocator {
	return sequence.NewAllocator(bs, repo, clk, logger)
}
