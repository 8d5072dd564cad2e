package di

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.uber.org/fx"

	"florapos/internal/config"
	"florapos/internal/httpapi"
	"florapos/internal/service"
	"florapos/internal/store"
	"florapos/internal/syncer"
)

const shutdownTimeout = 8 * time.Second

// ServerModule provides the HTTP API and starts every long-running component.
var ServerModule = fx.Options(
	fx.Provide(
		newAuthManager,
		newAPI,
		newHTTPServer,
	),
	fx.Invoke(registerLifecycle),
)

func newAuthManager(cfg config.Config, repo store.Repository, logger *slog.Logger) *httpapi.AuthManager {
	return httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo, logger)
}

func newAPI(svc *service.Service, auth *httpapi.AuthManager, repo store.Repository, cfg config.Config, logger *slog.Logger) *httpapi.API {
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)
	if hc, ok := repo.(HealthChecker); ok {
		api.SetHealthCheck(hc.HealthCheck)
	}
	return api
}

func newHTTPServer(api *httpapi.API, cfg config.Config) *http.Server {
	return &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type lifecycleParams struct {
	fx.In

	Ctx        context.Context
	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Logger     *slog.Logger
	Server     *http.Server
	Refresher  *service.PreviewRefresher
	Worker     *syncer.Worker
}

func registerLifecycle(p lifecycleParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			p.Logger.Info("starting florapos", slog.String("addr", p.Server.Addr))
			p.Refresher.Start(p.Ctx)
			if p.Worker != nil {
				p.Worker.Start(p.Ctx)
			}
			go func() {
				if err := p.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					p.Logger.Error("http server terminated", slog.String("error", err.Error()))
					_ = p.Shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx := ctx
			cancel := func() {}
			if _, ok := ctx.Deadline(); !ok {
				shutdownCtx, cancel = context.WithTimeout(ctx, shutdownTimeout)
			}
			defer cancel()

			err := p.Server.Shutdown(shutdownCtx)
			p.Refresher.Stop()
			if p.Worker != nil {
				p.Worker.Stop()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			p.Logger.Info("florapos stopped")
			return nil
		},
	})
}
