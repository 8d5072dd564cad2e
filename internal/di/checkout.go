package di

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"florapos/internal/checkout"
	"florapos/internal/clock"
	"florapos/internal/config"
	"florapos/internal/inventory"
	"florapos/internal/printer"
	"florapos/internal/sequence"
	"florapos/internal/service"
	"florapos/internal/store"
	"florapos/internal/syncer"
)

// CheckoutModule provides the printer, the submission pipeline, the terminal
// service and its background workers.
var CheckoutModule = fx.Options(
	fx.Provide(
		newPrinter,
		newPipeline,
		newService,
		newPreviewRefresher,
		newExportWorker,
	),
)

type printerParams struct {
	fx.In

	Ctx       context.Context
	Lifecycle fx.Lifecycle
	Config    config.Config
	Logger    *slog.Logger
}

// newPrinter discovers the bridge in the background so a missing printer
// never blocks startup.
func newPrinter(p printerParams) (printer.Printer, error) {
	if p.Config.PrinterURL == "" {
		return printer.Noop{Logger: p.Logger}, nil
	}

	bridge, err := printer.NewBridgeClient(p.Config.PrinterURL, printer.BridgeOptions{
		StoreName: p.Config.StoreName,
		Attempts:  p.Config.PrinterDiscoveryAttempts,
		Interval:  p.Config.PrinterDiscoveryInterval,
	}, p.Logger)
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := bridge.Discover(p.Ctx); err != nil {
					p.Logger.Warn("printer discovery failed", slog.String("error", err.Error()))
					return
				}
				p.Logger.Info("printer discovered", slog.String("url", p.Config.PrinterURL))
			}()
			return nil
		},
	})
	return bridge, nil
}

type pipelineParams struct {
	fx.In

	Repo      store.Repository
	Allocator *sequence.Allocator
	Printer   printer.Printer
	Clock     clock.Clock
	Config    config.Config
	Logger    *slog.Logger
}

func newPipeline(p pipelineParams) *checkout.Pipeline {
	return checkout.New(p.Repo, p.Repo, p.Allocator, p.Printer, p.Clock, checkout.Options{
		PrintReceipts: p.Config.PrintReceipts,
		MaxAttempts:   p.Config.SubmitMaxAttempts,
		DefaultMode:   p.Config.OrderMode,
	}, p.Logger)
}

type serviceParams struct {
	fx.In

	Repo     store.Repository
	Pipeline *checkout.Pipeline
	Catalog  *inventory.Catalog
	Printer  printer.Printer
	Clock    clock.Clock
	Logger   *slog.Logger
}

func newService(p serviceParams) *service.Service {
	return service.New(p.Repo, p.Pipeline, p.Catalog, p.Printer, p.Clock, p.Logger)
}

func newPreviewRefresher(svc *service.Service, cfg config.Config) *service.PreviewRefresher {
	return service.NewPreviewRefresher(svc, cfg.PreviewRefreshInterval)
}

// newExportSink returns nil when neither an export dir nor a webhook is
// configured. With both, rows go to the file first.
func newExportSink(cfg config.Config, z *clock.Zoned, logger *slog.Logger) (syncer.Sink, error) {
	if !cfg.SyncEnabled() {
		return nil, nil
	}
	var sinks syncer.MultiSink
	if cfg.SyncExportDir != "" {
		csvSink, err := syncer.NewCSVSink(cfg.SyncExportDir, z.Location())
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, csvSink)
	}
	if cfg.SyncWebhookURL != "" {
		hook, err := syncer.NewWebhookSink(cfg.SyncWebhookURL, z.Location(), logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, hook)
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

// newExportWorker returns nil when order export is not configured.
func newExportWorker(repo store.Repository, cfg config.Config, z *clock.Zoned, logger *slog.Logger) (*syncer.Worker, error) {
	sink, err := newExportSink(cfg, z, logger)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		logger.Info("order export disabled")
		return nil, nil
	}
	return syncer.NewWorker(repo, sink, cfg.SyncInterval, 0, logger), nil
}
