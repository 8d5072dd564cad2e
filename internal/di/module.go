// Package di composes the application graph with fx.
package di

import (
	"go.uber.org/fx"

	"florapos/internal/config"
	"florapos/internal/logger"
)

func Module(opts ...fx.Option) fx.Option {
	modules := []fx.Option{
		config.Module,
		logger.Module,
		StorageModule,
		CatalogModule,
		CheckoutModule,
		ServerModule,
	}
	modules = append(modules, opts...)
	return fx.Options(modules...)
}
