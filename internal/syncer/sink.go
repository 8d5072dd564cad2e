package syncer

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"florapos/internal/domain"
)

const (
	OrdersFile = "orders.csv"
	ItemsFile  = "order_items.csv"
)

// Sink receives one order at a time. An error leaves the order unsynced.
type Sink interface {
	Name() string
	Push(ctx context.Context, header domain.OrderHeader, items []domain.OrderItem) error
}

// CSVSink appends rows to orders.csv and order_items.csv in Dir, writing
// the column row when a file is new.
type CSVSink struct {
	dir string
	loc *time.Location
	mu  sync.Mutex
}

func NewCSVSink(dir string, loc *time.Location) (*CSVSink, error) {
	if dir == "" {
		return nil, errors.New("export dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &CSVSink{dir: dir, loc: loc}, nil
}

func (s *CSVSink) Name() string {
	return "csv:" + s.dir
}

func (s *CSVSink) Push(_ context.Context, header domain.OrderHeader, items []domain.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	itemRows := make([][]string, 0, len(items))
	for _, it := range items {
		itemRows = append(itemRows, ItemRecord(it, s.loc))
	}
	if err := s.appendRows(ItemsFile, ItemColumns, itemRows); err != nil {
		return err
	}
	return s.appendRows(OrdersFile, OrderColumns, [][]string{OrderRecord(header, s.loc)})
}

func (s *CSVSink) appendRows(name string, columns []string, rows [][]string) error {
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(columns); err != nil {
			return fmt.Errorf("write %s columns: %w", name, err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

type webhookPayload struct {
	Order map[string]string   `json:"order"`
	Items []map[string]string `json:"items"`
}

// WebhookSink posts each order with its items as JSON, keyed by column name.
type WebhookSink struct {
	endpoint string
	loc      *time.Location
	client   *http.Client
	logger   *slog.Logger
}

func NewWebhookSink(endpoint string, loc *time.Location, logger *slog.Logger) (*WebhookSink, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse webhook url: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("webhook url must be absolute")
	}
	return &WebhookSink{
		endpoint: u.String(),
		loc:      loc,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}, nil
}

func (s *WebhookSink) Name() string {
	return "webhook:" + s.endpoint
}

func (s *WebhookSink) Push(ctx context.Context, header domain.OrderHeader, items []domain.OrderItem) error {
	payload := webhookPayload{
		Order: keyed(OrderColumns, OrderRecord(header, s.loc)),
		Items: make([]map[string]string, 0, len(items)),
	}
	for _, it := range items {
		payload.Items = append(payload.Items, keyed(ItemColumns, ItemRecord(it, s.loc)))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post order %s: %w", header.OrderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Error("export webhook rejected order",
			slog.String("order_id", header.OrderID),
			slog.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("post order %s: unexpected status %d", header.OrderID, resp.StatusCode)
	}
	return nil
}

// MultiSink pushes to every sink in order and stops at the first failure.
type MultiSink []Sink

func (m MultiSink) Name() string {
	name := "multi"
	for _, s := range m {
		name += "," + s.Name()
	}
	return name
}

func (m MultiSink) Push(ctx context.Context, header domain.OrderHeader, items []domain.OrderItem) error {
	for _, s := range m {
		if err := s.Push(ctx, header, items); err != nil {
			return fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	return nil
}
