package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"florapos/internal/domain"
)

// OrderSource is the subset of the row store the worker needs.
type OrderSource interface {
	ListUnsyncedOrders(ctx context.Context, limit int) ([]domain.OrderHeader, error)
	GetOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	UpdateOrderSyncStatus(ctx context.Context, orderID string, synced bool) error
}

// Worker periodically pushes unsynced orders to a sink.
type Worker struct {
	orders    OrderSource
	sink      Sink
	interval  time.Duration
	batchSize int
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(orders OrderSource, sink Sink, interval time.Duration, batchSize int, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Worker{
		orders:    orders,
		sink:      sink,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(runCtx)
}

// Stop cancels the loop and waits for the running pass to return.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce exports one batch and returns how many orders were marked synced.
func (w *Worker) RunOnce(ctx context.Context) int {
	headers, err := w.orders.ListUnsyncedOrders(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("list unsynced orders failed", slog.String("error", err.Error()))
		return 0
	}

	synced := 0
	for _, header := range headers {
		if ctx.Err() != nil {
			return synced
		}
		if w.export(ctx, header) {
			synced++
		}
	}
	if synced > 0 {
		w.logger.Info("orders exported", slog.Int("count", synced), slog.String("sink", w.sink.Name()))
	}
	return synced
}

func (w *Worker) export(ctx context.Context, header domain.OrderHeader) bool {
	items, err := w.orders.GetOrderItems(ctx, header.OrderID)
	if err != nil {
		w.logger.Warn("load order items failed",
			slog.String("order_id", header.OrderID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if err := w.sink.Push(ctx, header, items); err != nil {
		w.logger.Warn("export order failed, will retry",
			slog.String("order_id", header.OrderID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if err := w.orders.UpdateOrderSyncStatus(ctx, header.OrderID, true); err != nil {
		w.logger.Error("mark order synced failed",
			slog.String("order_id", header.OrderID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}
