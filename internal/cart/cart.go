// Package cart holds the working order of one terminal and the rules for
// editing it. A Cart is not safe for concurrent use; the owning terminal
// serializes access.
package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"florapos/internal/domain"
)

type State string

const (
	StateEmpty     State = "empty"
	StateBuilding  State = "building"
	StateHeld      State = "held"
	StateCompleted State = "completed"
)

type AddMode string

const (
	// ModeScan adds one unit (or the given quantity) on top of an existing line.
	ModeScan AddMode = "scan"
	// ModeSelect sets the quantity of an existing line.
	ModeSelect AddMode = "select"
)

var (
	ErrOrderClosed          = errors.New("order is closed for editing")
	ErrLineNotFound         = errors.New("cart line not found")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrInvalidDiscount      = errors.New("invalid discount")
	ErrInvalidPrice         = errors.New("price must not be negative")
	ErrInvalidLetter        = errors.New("general index letter must be A-Z")
	ErrInvalidPaymentMethod = errors.New("payment method must be Cash, Card or Online")
	ErrEmptyCart            = errors.New("order has no items")
	ErrInvalidProduct       = errors.New("invalid product")
	ErrInvalidMode          = errors.New("add mode must be scan or select")
)

var maxPercent = decimal.NewFromInt(100)

// Product is what the cart needs to know about a catalog entry.
type Product struct {
	Code           string
	SKU            string
	Description    string
	Category       string
	ListPriceCents int64
	IsGeneral      bool
}

type Cart struct {
	order   domain.OrderState
	state   State
	letters map[string]int
	newID   func() string
}

// New starts an empty order carrying orderID.
func New(orderID string) *Cart {
	c := &Cart{newID: uuid.NewString}
	c.Reset(orderID)
	return c
}

// Reset discards the working order and begins a new one.
func (c *Cart) Reset(orderID string) {
	c.order = domain.OrderState{
		UUID:          c.newID(),
		OrderID:       orderID,
		Items:         []domain.CartItem{},
		SysPercent:    decimal.Zero,
		PaymentMethod: domain.PaymentCash,
	}
	c.state = StateEmpty
	c.letters = make(map[string]int)
}

func (c *Cart) State() State {
	return c.state
}

// Order returns a copy of the working order.
func (c *Cart) Order() domain.OrderState {
	return c.order.Clone()
}

func (c *Cart) Len() int {
	return len(c.order.Items)
}

func (c *Cart) closed() bool {
	return c.state == StateHeld || c.state == StateCompleted
}

// Add puts p into the cart. Catalog items merge into an existing line with
// the same code; general items always get their own line and an index
// letter, either the explicit one or the next unused letter for the code.
// New lines go to the front.
func (c *Cart) Add(p Product, mode AddMode, qty int, letter string) (domain.CartItem, error) {
	if c.closed() {
		return domain.CartItem{}, ErrOrderClosed
	}
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return domain.CartItem{}, ErrInvalidQuantity
	}
	if p.ListPriceCents < 0 {
		return domain.CartItem{}, ErrInvalidPrice
	}
	code := strings.TrimSpace(p.Code)
	if code == "" {
		return domain.CartItem{}, fmt.Errorf("%w: code is required", ErrInvalidProduct)
	}
	if mode == "" {
		mode = ModeScan
	}
	if mode != ModeScan && mode != ModeSelect {
		return domain.CartItem{}, fmt.Errorf("%w: got %q", ErrInvalidMode, mode)
	}

	if !p.IsGeneral {
		for i := range c.order.Items {
			line := &c.order.Items[i]
			if line.IsGeneralProduct || line.Code != code {
				continue
			}
			if mode == ModeSelect {
				line.Quantity = qty
			} else {
				line.Quantity += qty
			}
			c.state = StateBuilding
			return *line, nil
		}
	}

	item := domain.CartItem{
		CartID:           c.newID(),
		Code:             code,
		SKU:              p.SKU,
		Description:      p.Description,
		Category:         p.Category,
		Quantity:         qty,
		ListPriceCents:   p.ListPriceCents,
		DiscountValue:    decimal.Zero,
		IsGeneralProduct: p.IsGeneral,
	}
	if p.IsGeneral {
		assigned, err := c.assignLetter(code, letter)
		if err != nil {
			return domain.CartItem{}, err
		}
		item.GeneralIndexLetter = assigned
	}

	c.order.Items = append([]domain.CartItem{item}, c.order.Items...)
	c.state = StateBuilding
	return item, nil
}

// Remove drops the line with cartID. Other lines keep their order and letters.
func (c *Cart) Remove(cartID string) error {
	if c.closed() {
		return ErrOrderClosed
	}
	idx := c.indexOf(cartID)
	if idx < 0 {
		return ErrLineNotFound
	}
	c.order.Items = append(c.order.Items[:idx], c.order.Items[idx+1:]...)
	if len(c.order.Items) == 0 {
		c.state = StateEmpty
	}
	return nil
}

// SetItemDiscount replaces the discount of one line. A zero value clears it.
func (c *Cart) SetItemDiscount(cartID string, kind domain.DiscountType, value decimal.Decimal) error {
	if c.closed() {
		return ErrOrderClosed
	}
	idx := c.indexOf(cartID)
	if idx < 0 {
		return ErrLineNotFound
	}
	if value.IsNegative() {
		return ErrInvalidDiscount
	}

	line := &c.order.Items[idx]
	if value.IsZero() || kind == domain.DiscountNone {
		line.DiscountType = domain.DiscountNone
		line.DiscountValue = decimal.Zero
		return nil
	}
	switch kind {
	case domain.DiscountPercent:
		if value.GreaterThan(maxPercent) {
			return ErrInvalidDiscount
		}
	case domain.DiscountAmount:
	default:
		return ErrInvalidDiscount
	}
	line.DiscountType = kind
	line.DiscountValue = value
	return nil
}

// SetSystemDiscount sets the order-level percent and amount controls.
func (c *Cart) SetSystemDiscount(percent decimal.Decimal, amountCents int64) error {
	if c.closed() {
		return ErrOrderClosed
	}
	if percent.IsNegative() || percent.GreaterThan(maxPercent) || amountCents < 0 {
		return ErrInvalidDiscount
	}
	c.order.SysPercent = percent
	c.order.SysAmountCents = amountCents
	return nil
}

// SetFinalPrice fixes the grand total, or clears the override when nil.
func (c *Cart) SetFinalPrice(cents *int64) error {
	if c.closed() {
		return ErrOrderClosed
	}
	if cents == nil {
		c.order.FinalPriceOverrideCents = nil
		return nil
	}
	if *cents < 0 {
		return ErrInvalidPrice
	}
	v := *cents
	c.order.FinalPriceOverrideCents = &v
	return nil
}

func (c *Cart) SetCustomer(customerID string) error {
	if c.closed() {
		return ErrOrderClosed
	}
	c.order.CustomerID = strings.TrimSpace(customerID)
	return nil
}

func (c *Cart) SetPaymentMethod(method domain.PaymentMethod) error {
	if c.closed() {
		return ErrOrderClosed
	}
	if !method.Valid() {
		return ErrInvalidPaymentMethod
	}
	c.order.PaymentMethod = method
	return nil
}

// AssignOrderID rewrites the order id of the working order, e.g. after a
// date rollover or an id conflict at submission time.
func (c *Cart) AssignOrderID(orderID string) error {
	if c.closed() {
		return ErrOrderClosed
	}
	c.order.OrderID = orderID
	return nil
}

// Load replaces the working order wholesale and begins a new order from it.
func (c *Cart) Load(order domain.OrderState) {
	c.order = order.Clone()
	if c.order.UUID == "" {
		c.order.UUID = c.newID()
	}
	if c.order.Items == nil {
		c.order.Items = []domain.CartItem{}
	}
	if !c.order.PaymentMethod.Valid() {
		c.order.PaymentMethod = domain.PaymentCash
	}
	c.letters = make(map[string]int)
	for _, item := range c.order.Items {
		if !item.IsGeneralProduct || item.GeneralIndexLetter == "" {
			continue
		}
		if n, ok := letterIndex(item.GeneralIndexLetter); ok && n+1 > c.letters[item.Code] {
			c.letters[item.Code] = n + 1
		}
	}
	c.state = StateEmpty
	if len(c.order.Items) > 0 {
		c.state = StateBuilding
	}
}

func (c *Cart) MarkHeld() error {
	return c.close(StateHeld)
}

func (c *Cart) MarkCompleted() error {
	return c.close(StateCompleted)
}

func (c *Cart) close(to State) error {
	if c.closed() {
		return ErrOrderClosed
	}
	if len(c.order.Items) == 0 {
		return ErrEmptyCart
	}
	c.state = to
	return nil
}

func (c *Cart) indexOf(cartID string) int {
	for i := range c.order.Items {
		if c.order.Items[i].CartID == cartID {
			return i
		}
	}
	return -1
}

func (c *Cart) assignLetter(code string, explicit string) (string, error) {
	explicit = strings.ToUpper(strings.TrimSpace(explicit))
	if explicit != "" {
		if len(explicit) != 1 || explicit[0] < 'A' || explicit[0] > 'Z' {
			return "", ErrInvalidLetter
		}
		return explicit, nil
	}

	used := make(map[string]bool)
	for _, item := range c.order.Items {
		if item.IsGeneralProduct && item.Code == code {
			used[item.GeneralIndexLetter] = true
		}
	}
	for {
		letter := letterFor(c.letters[code])
		c.letters[code]++
		if !used[letter] {
			return letter, nil
		}
	}
}

// letterFor maps 0 -> A, 25 -> Z, 26 -> AA and so on.
func letterFor(n int) string {
	var buf []byte
	for n >= 0 {
		buf = append([]byte{byte('A' + n%26)}, buf...)
		n = n/26 - 1
	}
	return string(buf)
}

func letterIndex(letter string) (int, bool) {
	n := 0
	for _, r := range letter {
		if r < 'A' || r > 'Z' {
			return 0, false
		}
		n = n*26 + int(r-'A'+1)
	}
	return n - 1, n > 0
}
