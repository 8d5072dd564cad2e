package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"florapos/internal/cart"
	"florapos/internal/checkout"
	"florapos/internal/clock"
	"florapos/internal/domain"
	"florapos/internal/inventory"
	"florapos/internal/pricing"
	"florapos/internal/sequence"
	"florapos/internal/store"
	"florapos/internal/store/memory"
)

const catalogCSV = "Code,Name,SKU,Price,Stock,Category\n" +
	"R01,Red Rose,ROSE-RED,10.00,40,Flowers\n" +
	"T01,Tulip,TULIP-Y,5.00,25,Flowers\n" +
	"GEN,Custom Bouquet,,0,0,Arrangement\n"

type fixture struct {
	svc  *Service
	repo *memory.Store
	now  time.Time
}

func newTestService(t *testing.T) *fixture {
	t.Helper()
	return newServiceWithRemote(t, nil)
}

// newServiceWithRemote lets a test put its own sequence lookup in front of
// the memory store.
func newServiceWithRemote(t *testing.T, remote func(repo *memory.Store) sequence.Remote) *fixture {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	path := filepath.Join(t.TempDir(), "catalog.csv")
	if err := os.WriteFile(path, []byte(catalogCSV), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	catalog := inventory.NewCatalog(
		[]inventory.Source{inventory.NewCSVSource(path)},
		inventory.CatalogOptions{GeneralCategories: []string{"Arrangement"}},
		nil, logger,
	)
	if err := catalog.Load(context.Background()); err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	f := &fixture{repo: memory.New(), now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	clk := clock.Func(func() time.Time { return f.now })
	var seqRemote sequence.Remote = f.repo
	if remote != nil {
		seqRemote = remote(f.repo)
	}
	alloc := sequence.NewAllocator(sequence.NewMemoryStore(), seqRemote, clk, logger)
	pipeline := checkout.New(f.repo, f.repo, alloc, nil, clk, checkout.Options{}, logger)
	f.svc = New(f.repo, pipeline, catalog, nil, clk, logger)
	return f
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func TestAddItemUsesCatalogPrice(t *testing.T) {
	f := newTestService(t)
	ctx := cashierCtx()

	v, err := f.svc.AddItem(ctx, "T1", domain.AddItemRequest{Code: "r01", Quantity: 2})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	v, err = f.svc.AddItem(ctx, "T1", domain.AddItemRequest{Code: "ROSE-RED"})
	if err != nil {
		t.Fatalf("add by sku: %v", err)
	}
	if len(v.Order.Items) != 1 || v.Order.Items[0].Quantity != 3 {
		t.Fatalf("expected one merged line of 3, got %+v", v.Order.Items)
	}
	if v.Totals.GrandCents != 3000 {
		t.Fatalf("expected grand 3000, got %d", v.Totals.GrandCents)
	}
	if v.State != string(cart.StateBuilding) {
		t.Fatalf("expected building, got %s", v.State)
	}
	if v.Order.OrderID != "240501-001" {
		t.Fatalf("expected preview id 240501-001, got %s", v.Order.OrderID)
	}
}

func TestAddItemRejectsUnknownCode(t *testing.T) {
	f := newTestService(t)
	_, err := f.svc.AddItem(cashierCtx(), "T1", domain.AddItemRequest{Code: "nope"})
	if !errors.Is(err, inventory.ErrUnknownProduct) {
		t.Fatalf("expected unknown product, got %v", err)
	}
}

func TestAddItemPriceOverrideOnlyForGeneral(t *testing.T) {
	f := newTestService(t)
	ctx := cashierCtx()
	price := int64(7500)

	if _, err := f.svc.AddItem(ctx, "T1", domain.AddItemRequest{Code: "R01", PriceCents: &price}); !errors.Is(err, ErrPriceNotAllowed) {
		t.Fatalf("expected price override rejection, got %v", err)
	}

	v, err := f.svc.AddItem(ctx, "T1", domain.AddItemRequest{Code: "GEN", PriceCents: &price})
	if err != nil {
		t.Fatalf("add general: %v", err)
	}
	v, err = f.svc.AddItem(ctx, "T1", domain.AddItemRequest{Code: "GEN", PriceCents: &price})
	if err != nil {
		t.Fatalf("add second general: %v", err)
	}
	if len(v.Order.Items) != 2 {
		t.Fatalf("general items must not merge, got %d lines", len(v.Order.Items))
	}
	if v.Order.Items[0].GeneralIndexLetter != "B" || v.Order.Items[1].GeneralIndexLetter != "A" {
		t.Fatalf("unexpected letters %q %q", v.Order.Items[0].GeneralIndexLetter, v.Order.Items[1].GeneralIndexLetter)
	}
}

func TestInvalidTerminalID(t *testing.T) {
	f := newTestService(t)
	if _, err := f.svc.GetOrderView(context.Background(), "../etc"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestSetOrderDiscountIsAllOrNothing(t *testing.T) {
	f := newTestService(t)
	ctx := cashierCtx()
	if _, err := f.svc.AddItem(ctx, "T1", domain.AddItemRequest{Code: "R01", Quantity: 3}); err != nil {
		t.Fatalf("add: %v", err)
	}

	pct := decimal.NewFromInt(10)
	v, err := f.svc.SetOrderDiscount(ctx, "T1", domain.OrderDiscountRequest{SysPercent: &pct})
	if err != nil {
		t.Fatalf("set percent: %v", err)
	}
	if v.Totals.GrandCents != 2700 {
		t.Fatalf("expected 2700, got %d", v.Totals.GrandCents)
	}

	tooMuch := decimal.NewFromInt(150)
	final := int64(100)
	if _, err := f.svc.SetOrderDiscount(ctx, "T1", domain.OrderDiscountRequest{SysPercent: &tooMuch, FinalPriceCents: &final}); !errors.Is(err, cart.ErrInvalidDiscount) {
		t.Fatalf("expected invalid discount, got %v", err)
	}
	v, _ = f.svc.GetOrderView(ctx, "T1")
	if v.Order.FinalPriceOverrideCents != nil || !v.Order.SysPercent.Equal(pct) {
		t.Fatalf("failed update must leave order untouched: %+v", v.Order)
	}

	v, err = f.svc.SetOrderDiscount(ctx, "T1", domain.OrderDiscountRequest{FinalPriceCents: &final})
	if err != nil || v.Totals.GrandCents != 100 {
		t.Fatalf("expected final price 100, got %d (%v)", v.Totals.GrandCents, err)
	}
	v, _ = f.svc.SetOrderDiscount(ctx, "T1", domain.OrderDiscountRequest{ClearFinalPrice: true})
	if v.Totals.GrandCents != 2700 {
		t.Fatalf("expected cleared final price, got %d", v.Totals.GrandCents)
	}
}

func TestCashCheckAndFinish(t *testing.T) {
	f := newTestService(t)
	ctx := cashierCtx()
	if _, err := f.svc.AddItem(ctx, "T1", domain.AddItemRequest{Code: "T01", Quantity: 2}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := f.svc.CashCheck(ctx, "T1", domain.CashCheckRequest{ReceivedCents: 500}); !errors.Is(err, pricing.ErrInsufficientCash) {
		t.Fatalf("expected insufficient cash, got %v", err)
	}
	check, err := f.svc.CashCheck(ctx, "T1", domain.CashCheckRequest{ReceivedCents: 2000})
	if err != nil || check.ChangeCents != 1000 {
		t.Fatalf("expected change 1000, got %+v (%v)", check, err)
	}

	result, err := f.svc.Finish(ctx, "T1", domain.FinishRequest{CashReceivedCents: 2000})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if result.Header.OrderID != "240501-001" || result.Header.ChangeCents != 1000 {
		t.Fatalf("unexpected header %+v", result.Header)
	}

	again, err := f.svc.Finish(ctx, "T1", domain.FinishRequest{CashReceivedCents: 2000})
	if err != nil || !again.Duplicate {
		t.Fatalf("second finish should be a duplicate, got %+v (%v)", again, err)
	}

	if _, err := f.svc.AddItem(ctx, "T1", domain.AddItemRequest{Code: "R01"}); !errors.Is(err, cart.ErrOrderClosed) {
		t.Fatalf("expected closed order, got %v", err)
	}

	logs, err := f.repo.ListAuditLogs(context.Background(), time.Time{}, time.Now().Add(time.Hour), 10)
	if err != nil || len(logs) != 1 || logs[0].Action != "order_finish" || logs[0].ActorUsername != "cashier" {
		t.Fatalf("expected one finish audit entry, got %+v (%v)", logs, err)
	}

	v, err := f.svc.Close(ctx, "T1")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if v.Order.OrderID != "240501-002" || v.State != string(cart.StateEmpty) || v.Persisted {
		t.Fatalf("unexpected view after close %+v", v)
	}
}

func TestTerminalsAreIndependent(t *testing.T) {
	f := newTestService(t)
	ctx := cashierCtx()
	if _, err := f.svc.AddItem(ctx, "T1", domain.AddItemRequest{Code: "R01"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	v, err := f.svc.GetOrderView(ctx, "T2")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(v.Order.Items) != 0 {
		t.Fatalf("terminal T2 should be empty")
	}
}

func TestHoldThenLoadAsNewOrder(t *testing.T) {
	f := newTestService(t)
	ctx := cashierCtx()
	v, err := f.svc.AddItem(ctx, "T1", domain.AddItemRequest{Code: "R01", Quantity: 2})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := f.svc.SetItemDiscount(ctx, "T1", v.Order.Items[0].CartID, domain.ItemDiscountRequest{
		Type: domain.DiscountPercent, Value: decimal.NewFromInt(50),
	}); err != nil {
		t.Fatalf("discount: %v", err)
	}
	customer := "C-42"
	if _, err := f.svc.SetDetails(ctx, "T1", domain.OrderDetailsRequest{CustomerID: &customer}); err != nil {
		t.Fatalf("details: %v", err)
	}

	held, err := f.svc.Hold(ctx, "T1")
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if held.Header.Status != domain.OrderStatusHold {
		t.Fatalf("expected hold status, got %s", held.Header.Status)
	}

	loaded, err := f.svc.LoadOrder(ctx, "T2", domain.LoadOrderRequest{OrderID: held.Header.OrderID})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Order.UUID == held.Header.UUID || loaded.Order.OrderID == held.Header.OrderID {
		t.Fatalf("loaded order must be new, got %s/%s", loaded.Order.OrderID, loaded.Order.UUID)
	}
	if loaded.Order.CustomerID != "C-42" || loaded.Totals.GrandCents != 1000 {
		t.Fatalf("unexpected loaded order %+v totals %+v", loaded.Order, loaded.Totals)
	}
	if loaded.State != string(cart.StateBuilding) {
		t.Fatalf("expected building, got %s", loaded.State)
	}

	if _, err := f.svc.LoadOrder(ctx, "T2", domain.LoadOrderRequest{OrderID: "240501-999"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRemoveItemAndReprintWithoutOrder(t *testing.T) {
	f := newTestService(t)
	ctx := cashierCtx()
	v, err := f.svc.AddItem(ctx, "T1", domain.AddItemRequest{Code: "R01"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	v, err = f.svc.RemoveItem(ctx, "T1", v.Order.Items[0].CartID)
	if err != nil || len(v.Order.Items) != 0 {
		t.Fatalf("remove: %+v (%v)", v, err)
	}
	if _, err := f.svc.RemoveItem(ctx, "T1", "missing"); !errors.Is(err, cart.ErrLineNotFound) {
		t.Fatalf("expected line not found, got %v", err)
	}
	if _, err := f.svc.Reprint(ctx, "T1"); !errors.Is(err, checkout.ErrNothingToReprint) {
		t.Fatalf("expected nothing to reprint, got %v", err)
	}
	if _, err := f.svc.Finish(ctx, "T1", domain.FinishRequest{}); !errors.Is(err, checkout.ErrEmptyOrder) {
		t.Fatalf("expected empty order, got %v", err)
	}
}

func TestSettingsRequireAdminAndValidateMode(t *testing.T) {
	f := newTestService(t)

	if err := f.svc.SaveSetting(cashierCtx(), checkout.OrderModeSetting, "production"); !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("expected admin required, got %v", err)
	}
	if err := f.svc.SaveSetting(adminCtx(), checkout.OrderModeSetting, "live"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid mode, got %v", err)
	}
	if err := f.svc.SaveSetting(adminCtx(), checkout.OrderModeSetting, "production"); err != nil {
		t.Fatalf("save setting: %v", err)
	}
	value, err := f.svc.GetSetting(cashierCtx(), checkout.OrderModeSetting)
	if err != nil || value != "production" {
		t.Fatalf("expected production, got %q (%v)", value, err)
	}
	if _, err := f.svc.GetSetting(cashierCtx(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReloadInventoryRequiresAdmin(t *testing.T) {
	f := newTestService(t)
	if _, err := f.svc.ReloadInventory(cashierCtx()); !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("expected admin required, got %v", err)
	}
	out, err := f.svc.ReloadInventory(adminCtx())
	if err != nil || len(out.Items) != 3 {
		t.Fatalf("expected 3 items, got %d (%v)", len(out.Items), err)
	}
}

func TestPrintLabelValidatesCopies(t *testing.T) {
	f := newTestService(t)
	if err := f.svc.PrintLabel(cashierCtx(), "R01", domain.LabelRequest{Copies: 99}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid copies, got %v", err)
	}
	if err := f.svc.PrintLabel(cashierCtx(), "R01", domain.LabelRequest{}); err != nil {
		t.Fatalf("print label: %v", err)
	}
	if status := f.svc.PrinterStatus(context.Background()); status.Available || status.Error == "" {
		t.Fatalf("noop printer should report unavailable, got %+v", status)
	}
}

func TestRefreshPreviewsAfterMidnight(t *testing.T) {
	f := newTestService(t)
	if _, err := f.svc.GetOrderView(context.Background(), "T1"); err != nil {
		t.Fatalf("open: %v", err)
	}

	f.now = f.now.Add(24 * time.Hour)
	f.svc.RefreshPreviews(context.Background())

	v, _ := f.svc.GetOrderView(context.Background(), "T1")
	if v.Order.OrderID != "240502-001" {
		t.Fatalf("expected 240502-001, got %s", v.Order.OrderID)
	}
}

func TestListAuditLogsValidatesDate(t *testing.T) {
	f := newTestService(t)
	if _, err := f.svc.ListAuditLogs(context.Background(), "01/05/2024", 10); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid date, got %v", err)
	}
	if err := f.svc.SaveSetting(adminCtx(), "store_note", "hello"); err != nil {
		t.Fatalf("save: %v", err)
	}
	logs, err := f.svc.ListAuditLogs(context.Background(), "2024-05-01", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "setting_update" {
		t.Fatalf("unexpected logs %+v", logs)
	}
	if logs, _ := f.svc.ListAuditLogs(context.Background(), "2024-05-02", 10); len(logs) != 0 {
		t.Fatalf("expected no entries the next day, got %+v", logs)
	}
	if logs, _ := f.svc.ListAuditLogs(context.Background(), "", 10); len(logs) != 1 {
		t.Fatalf("empty date should mean today, got %+v", logs)
	}
}

// gatedRemote blocks lookups made while gate is set until it is released.
type gatedRemote struct {
	sequence.Remote
	mu      sync.Mutex
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedRemote) LastSequenceNumber(ctx context.Context, prefix string) (int, error) {
	g.mu.Lock()
	gate := g.gate
	g.gate = nil
	g.mu.Unlock()
	if gate != nil {
		close(g.entered)
		<-gate
	}
	return g.Remote.LastSequenceNumber(ctx, prefix)
}

func TestSlowTerminalOpenDoesNotBlockOthers(t *testing.T) {
	remote := &gatedRemote{gate: make(chan struct{}), entered: make(chan struct{})}
	f := newServiceWithRemote(t, func(repo *memory.Store) sequence.Remote {
		remote.Remote = repo
		return remote
	})
	ctx := cashierCtx()

	slow := make(chan error, 1)
	go func() {
		_, err := f.svc.GetOrderView(ctx, "T1")
		slow <- err
	}()
	<-remote.entered

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.GetOrderView(ctx, "T2")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("open T2: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("T2 waited on T1's sequence lookup")
	}

	close(remote.gate)
	if err := <-slow; err != nil {
		t.Fatalf("open T1: %v", err)
	}
	v, err := f.svc.GetOrderView(ctx, "T1")
	if err != nil || v.Order.OrderID != "240501-001" {
		t.Fatalf("unexpected T1 view %+v (%v)", v.Order, err)
	}
}
