// Package printer sends receipts and labels to a local ESC/POS print bridge.
package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"florapos/internal/domain"
)

// ErrUnavailable means no bridge answered within the discovery budget.
var ErrUnavailable = errors.New("printer unavailable")

type Printer interface {
	PrintReceipt(ctx context.Context, header domain.OrderHeader, items []domain.OrderItem) error
	PrintLabel(ctx context.Context, item domain.InventoryItem, copies int) error
	Status(ctx context.Context) domain.PrinterStatus
}

type BridgeOptions struct {
	StoreName string
	Attempts  int
	Interval  time.Duration
}

// BridgeClient talks to the print bridge over HTTP. The bridge accepts raw
// ESC/POS bytes on POST /print and answers GET /status when a printer is
// attached.
type BridgeClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
	opts       BridgeOptions

	mu         sync.Mutex
	discovered bool
}

func NewBridgeClient(baseURL string, opts BridgeOptions, logger *slog.Logger) (*BridgeClient, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse printer url: %w", err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("printer url must be absolute")
	}
	if opts.Attempts < 1 {
		opts.Attempts = 5
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &BridgeClient{
		baseURL: parsed,
		logger:  logger,
		opts:    opts,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Discover polls the bridge status endpoint a bounded number of times and
// returns ErrUnavailable when it never answers.
func (c *BridgeClient) Discover(ctx context.Context) error {
	c.mu.Lock()
	if c.discovered {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		lastErr = c.ping(ctx)
		if lastErr == nil {
			c.mu.Lock()
			c.discovered = true
			c.mu.Unlock()
			return nil
		}
		c.logger.Debug("printer discovery attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)
		if attempt == c.opts.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.Interval):
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *BridgeClient) PrintReceipt(ctx context.Context, header domain.OrderHeader, items []domain.OrderItem) error {
	return c.print(ctx, "receipt-"+header.OrderID, BuildReceipt(c.opts.StoreName, header, items))
}

func (c *BridgeClient) PrintLabel(ctx context.Context, item domain.InventoryItem, copies int) error {
	return c.print(ctx, "label-"+item.Code, BuildLabel(item, copies))
}

func (c *BridgeClient) Status(ctx context.Context) domain.PrinterStatus {
	status := domain.PrinterStatus{Endpoint: c.baseURL.String()}
	if err := c.ping(ctx); err != nil {
		status.Error = err.Error()
		return status
	}
	status.Available = true
	return status
}

func (c *BridgeClient) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/status"), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("printer status: %s", resp.Status)
	}
	return nil
}

func (c *BridgeClient) print(ctx context.Context, job string, payload []byte) error {
	if err := c.Discover(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/print"), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Print-Job", job)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.forget()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	default:
		body, _ := io.ReadAll(resp.Body)
		c.logger.Error("print job rejected",
			slog.String("job", job),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return fmt.Errorf("print job %s: %s", job, resp.Status)
	}
}

func (c *BridgeClient) forget() {
	c.mu.Lock()
	c.discovered = false
	c.mu.Unlock()
}

func (c *BridgeClient) endpoint(p string) string {
	u := *c.baseURL
	u.Path = path.Join(u.Path, p)
	return u.String()
}

// Noop is used when no bridge is configured.
type Noop struct {
	Logger *slog.Logger
}

func (n Noop) PrintReceipt(_ context.Context, header domain.OrderHeader, _ []domain.OrderItem) error {
	if n.Logger != nil {
		n.Logger.Info("no printer configured, receipt skipped", slog.String("order_id", header.OrderID))
	}
	return nil
}

func (n Noop) PrintLabel(_ context.Context, item domain.InventoryItem, _ int) error {
	if n.Logger != nil {
		n.Logger.Info("no printer configured, label skipped", slog.String("code", item.Code))
	}
	return nil
}

func (n Noop) Status(context.Context) domain.PrinterStatus {
	return domain.PrinterStatus{Error: "no printer configured"}
}
