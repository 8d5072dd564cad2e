package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"florapos/internal/cart"
	"florapos/internal/checkout"
	"florapos/internal/clock"
	"florapos/internal/domain"
	"florapos/internal/inventory"
	"florapos/internal/pricing"
	"florapos/internal/printer"
	"florapos/internal/store"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrAdminRequired   = errors.New("admin role required")
	ErrPriceNotAllowed = errors.New("price override is only allowed for general products")
)

const maxLabelCopies = 50

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service is the use-case layer behind the HTTP API. It keeps one
// checkout.Terminal per terminal id and serializes every call on it.
type Service struct {
	repo     store.Repository
	pipeline *checkout.Pipeline
	catalog  *inventory.Catalog
	printer  printer.Printer
	clock    clock.Clock
	logger   *slog.Logger

	mu        sync.Mutex
	terminals map[string]*checkout.Terminal
}

func New(repo store.Repository, pipeline *checkout.Pipeline, catalog *inventory.Catalog, p printer.Printer, clk clock.Clock, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if p == nil {
		p = printer.Noop{Logger: logger}
	}
	return &Service{
		repo:      repo,
		pipeline:  pipeline,
		catalog:   catalog,
		printer:   p,
		clock:     clk,
		logger:    logger,
		terminals: make(map[string]*checkout.Terminal),
	}
}

// ValidateTerminalID accepts 1-64 characters of letters, digits, '-' and '_'.
func ValidateTerminalID(id string) error {
	if id == "" || len(id) > 64 {
		return fmt.Errorf("%w: terminal id", ErrInvalidRequest)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("%w: terminal id", ErrInvalidRequest)
		}
	}
	return nil
}

func (s *Service) terminal(ctx context.Context, id string) (*checkout.Terminal, error) {
	id = strings.TrimSpace(id)
	if err := ValidateTerminalID(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	t, ok := s.terminals[id]
	s.mu.Unlock()
	if ok {
		return t, nil
	}

	// Open reads the row store; keep the registry unlocked meanwhile.
	opened := s.pipeline.Open(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.terminals[id]; ok {
		return t, nil
	}
	s.terminals[id] = opened
	s.logger.Info("terminal opened", slog.String("terminal_id", id), slog.String("order_id", opened.Cart.Order().OrderID))
	return opened, nil
}

func (s *Service) withTerminal(ctx context.Context, id string, fn func(t *checkout.Terminal) error) error {
	t, err := s.terminal(ctx, id)
	if err != nil {
		return err
	}
	t.Lock()
	defer t.Unlock()
	return fn(t)
}

// view must be called with the terminal locked.
func view(t *checkout.Terminal) domain.OrderView {
	order := t.Cart.Order()
	return domain.OrderView{
		TerminalID: t.ID,
		State:      string(t.Cart.State()),
		Persisted:  t.Persisted(),
		Order:      order,
		Totals:     pricing.Compute(order),
	}
}

func (s *Service) GetOrderView(ctx context.Context, terminalID string) (domain.OrderView, error) {
	var out domain.OrderView
	err := s.withTerminal(ctx, terminalID, func(t *checkout.Terminal) error {
		out = view(t)
		return nil
	})
	return out, err
}

// AddItem looks the code up in the catalog and adds it to the working order.
// General products may carry a cashier-entered price.
func (s *Service) AddItem(ctx context.Context, terminalID string, req domain.AddItemRequest) (domain.OrderView, error) {
	item, err := s.catalog.Lookup(req.Code)
	if err != nil {
		return domain.OrderView{}, err
	}

	product := cart.Product{
		Code:           item.Code,
		SKU:            item.SKU,
		Description:    item.Name,
		Category:       item.Category,
		ListPriceCents: item.ListPriceCents,
		IsGeneral:      item.IsGeneral,
	}
	if req.PriceCents != nil {
		if !item.IsGeneral {
			return domain.OrderView{}, ErrPriceNotAllowed
		}
		product.ListPriceCents = *req.PriceCents
	}

	var out domain.OrderView
	err = s.withTerminal(ctx, terminalID, func(t *checkout.Terminal) error {
		if _, err := t.Cart.Add(product, cart.AddMode(strings.ToLower(req.Mode)), req.Quantity, req.GeneralLetter); err != nil {
			return err
		}
		out = view(t)
		return nil
	})
	return out, err
}

func (s *Service) RemoveItem(ctx context.Context, terminalID string, cartID string) (domain.OrderView, error) {
	var out domain.OrderView
	err := s.withTerminal(ctx, terminalID, func(t *checkout.Terminal) error {
		if err := t.Cart.Remove(cartID); err != nil {
			return err
		}
		out = view(t)
		return nil
	})
	return out, err
}

func (s *Service) SetItemDiscount(ctx context.Context, terminalID string, cartID string, req domain.ItemDiscountRequest) (domain.OrderView, error) {
	var out domain.OrderView
	err := s.withTerminal(ctx, terminalID, func(t *checkout.Terminal) error {
		if err := t.Cart.SetItemDiscount(cartID, req.Type, req.Value); err != nil {
			return err
		}
		out = view(t)
		return nil
	})
	return out, err
}

// SetOrderDiscount updates the order-level controls. Fields left out of req
// keep their current value. Either everything in req applies or nothing does.
func (s *Service) SetOrderDiscount(ctx context.Context, terminalID string, req domain.OrderDiscountRequest) (domain.OrderView, error) {
	if req.FinalPriceCents != nil && *req.FinalPriceCents < 0 {
		return domain.OrderView{}, cart.ErrInvalidPrice
	}

	var out domain.OrderView
	err := s.withTerminal(ctx, terminalID, func(t *checkout.Terminal) error {
		current := t.Cart.Order()
		percent, amount := current.SysPercent, current.SysAmountCents
		if req.SysPercent != nil {
			percent = *req.SysPercent
		}
		if req.SysAmountCents != nil {
			amount = *req.SysAmountCents
		}
		if err := t.Cart.SetSystemDiscount(percent, amount); err != nil {
			return err
		}
		switch {
		case req.ClearFinalPrice:
			_ = t.Cart.SetFinalPrice(nil)
		case req.FinalPriceCents != nil:
			_ = t.Cart.SetFinalPrice(req.FinalPriceCents)
		}
		out = view(t)
		return nil
	})
	return out, err
}

func (s *Service) SetDetails(ctx context.Context, terminalID string, req domain.OrderDetailsRequest) (domain.OrderView, error) {
	if req.PaymentMethod != nil && !req.PaymentMethod.Valid() {
		return domain.OrderView{}, cart.ErrInvalidPaymentMethod
	}

	var out domain.OrderView
	err := s.withTerminal(ctx, terminalID, func(t *checkout.Terminal) error {
		if req.PaymentMethod != nil {
			if err := t.Cart.SetPaymentMethod(*req.PaymentMethod); err != nil {
				return err
			}
		}
		if req.CustomerID != nil {
			if err := t.Cart.SetCustomer(*req.CustomerID); err != nil {
				return err
			}
		}
		out = view(t)
		return nil
	})
	return out, err
}

// CashCheck validates a cash amount against the current total without
// submitting anything.
func (s *Service) CashCheck(ctx context.Context, terminalID string, req domain.CashCheckRequest) (domain.CashCheckResponse, error) {
	var out domain.CashCheckResponse
	err := s.withTerminal(ctx, terminalID, func(t *checkout.Terminal) error {
		due := pricing.Compute(t.Cart.Order()).GrandCents
		change, err := pricing.Change(due, req.ReceivedCents)
		if err != nil {
			return err
		}
		out = domain.CashCheckResponse{DueCents: due, ReceivedCents: req.ReceivedCents, ChangeCents: change}
		return nil
	})
	return out, err
}

func (s *Service) Finish(ctx context.Context, terminalID string, req domain.FinishRequest) (domain.SubmitResponse, error) {
	var out domain.SubmitResponse
	err := s.withTerminal(ctx, terminalID, func(t *checkout.Terminal) error {
		result, err := s.pipeline.Finish(ctx, t, req.CashReceivedCents)
		if err != nil {
			return err
		}
		out = result
		return nil
	})
	if err != nil {
		return domain.SubmitResponse{}, err
	}
	if !out.Duplicate {
		s.logAudit(ctx, terminalID, "order_finish", "order", out.Header.OrderID,
			fmt.Sprintf("total=%d,method=%s,items=%d", out.Header.GrandTotalCents, out.Header.PaymentMethod, len(out.Items)))
	}
	return out, nil
}

func (s *Service) Hold(ctx context.Context, terminalID string) (domain.SubmitResponse, error) {
	var out domain.SubmitResponse
	err := s.withTerminal(ctx, terminalID, func(t *checkout.Terminal) error {
		result, err := s.pipeline.Hold(ctx, t)
		if err != nil {
			return err
		}
		out = result
		return nil
	})
	if err != nil {
		return domain.SubmitResponse{}, err
	}
	if !out.Duplicate {
		s.logAudit(ctx, terminalID, "order_hold", "order", out.Header.OrderID, fmt.Sprintf("items=%d", len(out.Items)))
	}
	return out, nil
}

// Close dismisses the confirmation and starts a new order on the terminal.
func (s *Service) Close(ctx context.Context, terminalID string) (domain.OrderView, error) {
	var out domain.OrderView
	err := s.withTerminal(ctx, terminalID, func(t *checkout.Terminal) error {
		s.pipeline.Close(ctx, t)
		out = view(t)
		return nil
	})
	return out, err
}

func (s *Service) Reprint(ctx context.Context, terminalID string) (domain.SubmitResponse, error) {
	var out domain.SubmitResponse
	err := s.withTerminal(ctx, terminalID, func(t *checkout.Terminal) error {
		result, err := s.pipeline.Reprint(ctx, t)
		if err != nil {
			return err
		}
		out = result
		return nil
	})
	return out, err
}

// LoadOrder recalls a stored order (usually a held one) into the terminal as
// a new order: it gets a fresh uuid and the current preview id. Per-line
// discounts come back as amount discounts of the stored value.
func (s *Service) LoadOrder(ctx context.Context, terminalID string, req domain.LoadOrderRequest) (domain.OrderView, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.OrderView{}, fmt.Errorf("%w: order_id is required", ErrInvalidRequest)
	}
	header, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.OrderView{}, err
	}
	items, err := s.repo.GetOrderItems(ctx, orderID)
	if err != nil {
		return domain.OrderView{}, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Line < items[j].Line })

	var out domain.OrderView
	err = s.withTerminal(ctx, terminalID, func(t *checkout.Terminal) error {
		previewID := s.pipeline.Close(ctx, t)
		t.Cart.Load(recalled(*header, items, previewID))
		out = view(t)
		return nil
	})
	if err != nil {
		return domain.OrderView{}, err
	}
	s.logAudit(ctx, terminalID, "order_load", "order", orderID, "new_order_id="+out.Order.OrderID)
	return out, nil
}

func recalled(header domain.OrderHeader, items []domain.OrderItem, orderID string) domain.OrderState {
	state := domain.OrderState{
		OrderID:        orderID,
		Items:          make([]domain.CartItem, 0, len(items)),
		SysPercent:     header.SysPercent,
		SysAmountCents: header.SysAmountCents,
		CustomerID:     header.CustomerID,
		PaymentMethod:  header.PaymentMethod,
	}
	if header.FinalPriceCents != nil {
		v := *header.FinalPriceCents
		state.FinalPriceOverrideCents = &v
	}
	for _, it := range items {
		line := domain.CartItem{
			CartID:             uuid.NewString(),
			Code:               it.Code,
			SKU:                it.SKU,
			Description:        it.Description,
			Quantity:           it.Quantity,
			ListPriceCents:     it.UnitPriceCents,
			DiscountValue:      decimal.Zero,
			IsGeneralProduct:   it.GeneralIndex != "",
			GeneralIndexLetter: it.GeneralIndex,
		}
		if it.DiscountCents > 0 {
			line.DiscountType = domain.DiscountAmount
			line.DiscountValue = decimal.NewFromInt(it.DiscountCents)
		}
		state.Items = append(state.Items, line)
	}
	return state
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.OrderDetailResponse, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.OrderDetailResponse{}, fmt.Errorf("%w: order id", ErrInvalidRequest)
	}
	header, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.OrderDetailResponse{}, err
	}
	items, err := s.repo.GetOrderItems(ctx, orderID)
	if err != nil {
		return domain.OrderDetailResponse{}, err
	}
	return domain.OrderDetailResponse{Header: *header, Items: items}, nil
}

func (s *Service) ListInventory(_ context.Context) domain.InventoryListResponse {
	items, loadedAt := s.catalog.Items()
	return domain.InventoryListResponse{Items: items, LoadedAt: loadedAt}
}

func (s *Service) ReloadInventory(ctx context.Context) (domain.InventoryListResponse, error) {
	if actor, ok := ActorFromContext(ctx); !ok || actor.Role != "admin" {
		return domain.InventoryListResponse{}, ErrAdminRequired
	}
	if err := s.catalog.Reload(ctx); err != nil {
		return domain.InventoryListResponse{}, err
	}
	out := s.ListInventory(ctx)
	s.logAudit(ctx, "", "inventory_reload", "catalog", "", fmt.Sprintf("items=%d", len(out.Items)))
	return out, nil
}

func (s *Service) PrintLabel(ctx context.Context, code string, req domain.LabelRequest) error {
	if req.Copies == 0 {
		req.Copies = 1
	}
	if req.Copies < 0 || req.Copies > maxLabelCopies {
		return fmt.Errorf("%w: copies must be between 1 and %d", ErrInvalidRequest, maxLabelCopies)
	}
	item, err := s.catalog.Lookup(code)
	if err != nil {
		return err
	}
	return s.printer.PrintLabel(ctx, item, req.Copies)
}

func (s *Service) PrinterStatus(ctx context.Context) domain.PrinterStatus {
	return s.printer.Status(ctx)
}

func (s *Service) GetSetting(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: setting key", ErrInvalidRequest)
	}
	return s.repo.GetSetting(ctx, key)
}

func (s *Service) SaveSetting(ctx context.Context, key string, value string) error {
	if actor, ok := ActorFromContext(ctx); !ok || actor.Role != "admin" {
		return ErrAdminRequired
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" {
		return fmt.Errorf("%w: setting key", ErrInvalidRequest)
	}
	if key == checkout.OrderModeSetting {
		switch domain.OrderMode(value) {
		case domain.OrderModeTest, domain.OrderModeProduction:
		default:
			return fmt.Errorf("%w: order mode must be test or production", ErrInvalidRequest)
		}
	}
	if err := s.repo.SaveSetting(ctx, key, value); err != nil {
		return err
	}
	s.logAudit(ctx, "", "setting_update", "setting", key, "value="+value)
	return nil
}

// ListAuditLogs returns entries of one store-local day (YYYY-MM-DD),
// defaulting to today.
func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	now := s.clock.Now()
	date = strings.TrimSpace(date)
	if date == "" {
		date = now.Format("2006-01-02")
	}
	from, err := time.ParseInLocation("2006-01-02", date, now.Location())
	if err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	to := from.AddDate(0, 0, 1)

	return s.repo.ListAuditLogs(ctx, from.UTC(), to.UTC(), limit)
}

// RefreshPreviews re-derives the preview id of every idle terminal. A
// terminal that is busy is skipped until the next pass.
func (s *Service) RefreshPreviews(ctx context.Context) {
	s.mu.Lock()
	terminals := make([]*checkout.Terminal, 0, len(s.terminals))
	for _, t := range s.terminals {
		terminals = append(terminals, t)
	}
	s.mu.Unlock()

	for _, t := range terminals {
		if !t.TryLock() {
			continue
		}
		s.pipeline.RefreshPreview(ctx, t)
		t.Unlock()
	}
}

func (s *Service) logAudit(ctx context.Context, terminalID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            uuid.NewString(),
		TerminalID:    terminalID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.clock.Now().UTC(),
	}); err != nil {
		s.logger.Warn("audit log write failed",
			slog.String("action", action),
			slog.String("entity", entityType+"/"+entityID),
			slog.String("error", err.Error()),
		)
	}
}
