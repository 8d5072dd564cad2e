package service

import (
	"context"
	"sync"
	"time"
)

// PreviewRefresher periodically moves idle terminals onto the current
// preview id, so a till left open over midnight shows today's prefix.
type PreviewRefresher struct {
	svc      *Service
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPreviewRefresher(svc *Service, interval time.Duration) *PreviewRefresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PreviewRefresher{svc: svc, interval: interval}
}

func (r *PreviewRefresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.svc.RefreshPreviews(runCtx)
			}
		}
	}()
}

func (r *PreviewRefresher) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()

	r.wg.Wait()
}
