// Package checkout turns a terminal's working order into persisted order
// rows. A write for a given order happens at most once per terminal session;
// retries after success only re-run printing.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"florapos/internal/cart"
	"florapos/internal/clock"
	"florapos/internal/domain"
	"florapos/internal/pricing"
	"florapos/internal/printer"
	"florapos/internal/store"
)

const OrderModeSetting = "order_mode"

var (
	ErrEmptyOrder = errors.New("order has no items")
	// ErrPersistFailed wraps any row store failure. The working order is left
	// as it was and nothing is claimed, so the same submission can be retried.
	ErrPersistFailed    = errors.New("order could not be saved")
	ErrNothingToReprint = errors.New("no submitted order to reprint")
)

// Sequencer is the part of the sequence allocator the pipeline drives.
type Sequencer interface {
	Preview(ctx context.Context) string
	NextAfter(ctx context.Context, orderID string) (string, error)
	Rollover(ctx context.Context, orderID string) (string, bool, error)
	Claim(ctx context.Context, orderID string) error
}

// Terminal is the working order of one till plus its idempotency state.
// Callers hold the lock around every pipeline call.
type Terminal struct {
	sync.Mutex

	ID   string
	Cart *cart.Cart

	persisted bool
	last      *domain.SubmitResponse
}

// Persisted reports whether the current order was already written.
func (t *Terminal) Persisted() bool {
	return t.persisted
}

// Last returns the result of the last successful submission, if any.
func (t *Terminal) Last() (domain.SubmitResponse, bool) {
	if t.last == nil {
		return domain.SubmitResponse{}, false
	}
	return cloneResult(*t.last), true
}

type Options struct {
	PrintReceipts bool
	MaxAttempts   int
	DefaultMode   domain.OrderMode
}

type Pipeline struct {
	orders   store.OrderStore
	settings store.SettingStore
	seq      Sequencer
	printer  printer.Printer
	clock    clock.Clock
	logger   *slog.Logger
	opts     Options
}

func New(orders store.OrderStore, settings store.SettingStore, seq Sequencer, p printer.Printer, clk clock.Clock, opts Options, logger *slog.Logger) *Pipeline {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = domain.OrderModeTest
	}
	if logger == nil {
		logger = slog.Default()
	}
	if p == nil {
		p = printer.Noop{Logger: logger}
	}
	return &Pipeline{
		orders:   orders,
		settings: settings,
		seq:      seq,
		printer:  p,
		clock:    clk,
		logger:   logger,
		opts:     opts,
	}
}

// Open starts a terminal with an empty order carrying the preview id.
func (p *Pipeline) Open(ctx context.Context, terminalID string) *Terminal {
	return &Terminal{
		ID:   terminalID,
		Cart: cart.New(p.seq.Preview(ctx)),
	}
}

// Finish completes the working order. Cash orders need cashReceived to cover
// the amount due; other payment methods ignore it.
func (p *Pipeline) Finish(ctx context.Context, t *Terminal, cashReceived int64) (domain.SubmitResponse, error) {
	return p.submit(ctx, t, domain.OrderStatusCompleted, cashReceived)
}

// Hold persists the working order with status Hold. A held order is closed
// for editing; it can only be recalled as a new order.
func (p *Pipeline) Hold(ctx context.Context, t *Terminal) (domain.SubmitResponse, error) {
	return p.submit(ctx, t, domain.OrderStatusHold, 0)
}

func (p *Pipeline) submit(ctx context.Context, t *Terminal, status domain.OrderStatus, cashReceived int64) (domain.SubmitResponse, error) {
	if t.persisted && t.last != nil {
		result := cloneResult(*t.last)
		result.Duplicate = true
		result.PrintError = p.print(ctx, result.Header, result.Items)
		p.logger.Info("order already submitted, skipping write",
			slog.String("terminal_id", t.ID),
			slog.String("order_id", result.Header.OrderID),
		)
		return result, nil
	}

	order := t.Cart.Order()
	if len(order.Items) == 0 {
		return domain.SubmitResponse{}, ErrEmptyOrder
	}
	totals := pricing.Compute(order)

	var change int64
	if status == domain.OrderStatusCompleted && order.PaymentMethod == domain.PaymentCash {
		c, err := pricing.Change(totals.GrandCents, cashReceived)
		if err != nil {
			return domain.SubmitResponse{}, err
		}
		change = c
	} else {
		cashReceived = 0
	}

	orderID, rolled, err := p.seq.Rollover(ctx, order.OrderID)
	if err != nil {
		return domain.SubmitResponse{}, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	if rolled {
		if err := t.Cart.AssignOrderID(orderID); err != nil {
			return domain.SubmitResponse{}, err
		}
		order.OrderID = orderID
	}

	mode := p.mode(ctx)
	now := p.clock.Now()

	var (
		saved *domain.OrderHeader
		items []domain.OrderItem
	)
	for attempt := 1; ; attempt++ {
		header, rows := snapshot(order, totals, status, mode, now)
		header.TerminalID = t.ID
		header.CashReceivedCents = cashReceived
		header.ChangeCents = change

		saved, err = p.orders.SaveOrder(ctx, header, rows)
		if err == nil {
			items = rows
			break
		}
		if !errors.Is(err, store.ErrDuplicateOrderID) || attempt >= p.opts.MaxAttempts {
			p.logger.Error("order write failed",
				slog.String("terminal_id", t.ID),
				slog.String("order_id", order.OrderID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return domain.SubmitResponse{}, fmt.Errorf("%w: %w", ErrPersistFailed, err)
		}

		next, nextErr := p.seq.NextAfter(ctx, order.OrderID)
		if nextErr != nil {
			return domain.SubmitResponse{}, fmt.Errorf("%w: %w", ErrPersistFailed, nextErr)
		}
		p.logger.Warn("order id taken by another terminal, retrying",
			slog.String("terminal_id", t.ID),
			slog.String("order_id", order.OrderID),
			slog.String("next_order_id", next),
		)
		if err := t.Cart.AssignOrderID(next); err != nil {
			return domain.SubmitResponse{}, err
		}
		order.OrderID = next
	}

	if saved.OrderID != order.OrderID {
		// an earlier attempt committed under another id; report that one
		items = p.storedItems(ctx, *saved, items)
		if err := t.Cart.AssignOrderID(saved.OrderID); err != nil {
			p.logger.Warn("could not restore stored order id", slog.String("error", err.Error()))
		}
		p.logger.Info("order write replayed an earlier commit",
			slog.String("terminal_id", t.ID),
			slog.String("order_id", saved.OrderID),
			slog.String("attempted_order_id", order.OrderID),
		)
	}

	t.persisted = true
	if err := p.seq.Claim(ctx, saved.OrderID); err != nil {
		p.logger.Warn("sequence claim failed",
			slog.String("order_id", saved.OrderID),
			slog.String("error", err.Error()),
		)
	}

	var markErr error
	if status == domain.OrderStatusHold {
		markErr = t.Cart.MarkHeld()
	} else {
		markErr = t.Cart.MarkCompleted()
	}
	if markErr != nil {
		p.logger.Warn("could not close working order", slog.String("error", markErr.Error()))
	}

	result := domain.SubmitResponse{Header: *saved, Items: items}
	t.last = &result
	out := cloneResult(result)
	out.PrintError = p.print(ctx, out.Header, out.Items)
	return out, nil
}

// storedItems reads the items committed with header. When they cannot be
// read, the freshly built rows are relabeled with the stored id and time.
func (p *Pipeline) storedItems(ctx context.Context, header domain.OrderHeader, built []domain.OrderItem) []domain.OrderItem {
	items, err := p.orders.GetOrderItems(ctx, header.OrderID)
	if err == nil && len(items) > 0 {
		return items
	}
	if err != nil {
		p.logger.Warn("stored order items unreadable",
			slog.String("order_id", header.OrderID),
			slog.String("error", err.Error()),
		)
	}
	out := make([]domain.OrderItem, len(built))
	for i, item := range built {
		item.OrderID = header.OrderID
		item.CreatedAt = header.CreatedAt
		out[i] = item
	}
	return out
}

// Reprint sends the last submitted order to the printer again.
func (p *Pipeline) Reprint(ctx context.Context, t *Terminal) (domain.SubmitResponse, error) {
	if t.last == nil {
		return domain.SubmitResponse{}, ErrNothingToReprint
	}
	result := cloneResult(*t.last)
	if err := p.printer.PrintReceipt(ctx, result.Header, result.Items); err != nil {
		result.PrintError = err.Error()
	}
	return result, nil
}

// Close dismisses the confirmation and begins a fresh order on a new
// preview id. It returns the new id.
func (p *Pipeline) Close(ctx context.Context, t *Terminal) string {
	orderID := p.seq.Preview(ctx)
	t.Cart.Reset(orderID)
	t.persisted = false
	t.last = nil
	return orderID
}

// RefreshPreview moves an unsubmitted order onto the current preview id,
// e.g. after midnight or after another terminal advanced the sequence.
func (p *Pipeline) RefreshPreview(ctx context.Context, t *Terminal) {
	if t.persisted {
		return
	}
	state := t.Cart.State()
	if state != cart.StateEmpty && state != cart.StateBuilding {
		return
	}
	next := p.seq.Preview(ctx)
	if next == t.Cart.Order().OrderID {
		return
	}
	_ = t.Cart.AssignOrderID(next)
}

func (p *Pipeline) print(ctx context.Context, header domain.OrderHeader, items []domain.OrderItem) string {
	if !p.opts.PrintReceipts {
		return ""
	}
	if err := p.printer.PrintReceipt(ctx, header, items); err != nil {
		p.logger.Warn("receipt print failed",
			slog.String("order_id", header.OrderID),
			slog.String("error", err.Error()),
		)
		return err.Error()
	}
	return ""
}

func (p *Pipeline) mode(ctx context.Context) domain.OrderMode {
	if p.settings == nil {
		return p.opts.DefaultMode
	}
	raw, err := p.settings.GetSetting(ctx, OrderModeSetting)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("order mode setting unreadable", slog.String("error", err.Error()))
		}
		return p.opts.DefaultMode
	}
	switch mode := domain.OrderMode(raw); mode {
	case domain.OrderModeTest, domain.OrderModeProduction:
		return mode
	}
	return p.opts.DefaultMode
}

func snapshot(order domain.OrderState, totals domain.Totals, status domain.OrderStatus, mode domain.OrderMode, now time.Time) (domain.OrderHeader, []domain.OrderItem) {
	header := domain.OrderHeader{
		OrderID:             order.OrderID,
		UUID:                order.UUID,
		CreatedAt:           now,
		CustomerID:          order.CustomerID,
		ReferenceTotalCents: totals.OriginalCents,
		DiscountCents:       totals.DiscountCents,
		GrandTotalCents:     totals.GrandCents,
		PaymentMethod:       order.PaymentMethod,
		SysPercent:          order.SysPercent,
		SysAmountCents:      order.SysAmountCents,
		Status:              status,
		Mode:                mode,
	}
	if order.FinalPriceOverrideCents != nil {
		v := *order.FinalPriceOverrideCents
		header.FinalPriceCents = &v
	}

	items := make([]domain.OrderItem, 0, len(order.Items))
	for i, line := range order.Items {
		lt := totals.Lines[i]
		items = append(items, domain.OrderItem{
			OrderID:        order.OrderID,
			UUID:           order.UUID,
			CreatedAt:      now,
			Line:           i + 1,
			Code:           line.Code,
			SKU:            line.SKU,
			GeneralIndex:   line.GeneralIndexLetter,
			Quantity:       line.Quantity,
			UnitPriceCents: line.ListPriceCents,
			DiscountCents:  lt.DiscountCents,
			SubtotalCents:  lt.FinalCents,
			Description:    line.Description,
		})
	}
	return header, items
}

func cloneResult(r domain.SubmitResponse) domain.SubmitResponse {
	out := r
	out.Items = append([]domain.OrderItem(nil), r.Items...)
	if r.Header.FinalPriceCents != nil {
		v := *r.Header.FinalPriceCents
		out.Header.FinalPriceCents = &v
	}
	return out
}
