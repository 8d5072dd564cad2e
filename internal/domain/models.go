package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "Cash"
	PaymentCard   PaymentMethod = "Card"
	PaymentOnline PaymentMethod = "Online"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentOnline:
		return true
	}
	return false
}

type DiscountType string

const (
	DiscountNone    DiscountType = ""
	DiscountPercent DiscountType = "percent"
	DiscountAmount  DiscountType = "amount"
)

type OrderStatus string

const (
	OrderStatusHold      OrderStatus = "Hold"
	OrderStatusCompleted OrderStatus = "Completed"
)

type OrderMode string

const (
	OrderModeTest       OrderMode = "test"
	OrderModeProduction OrderMode = "production"
)

// CartItem is one line of the working order. For percent discounts
// DiscountValue holds percent points, for amount discounts it holds cents.
type CartItem struct {
	CartID             string          `json:"cart_id"`
	Code               string          `json:"code"`
	SKU                string          `json:"sku,omitempty"`
	Description        string          `json:"description"`
	Category           string          `json:"category,omitempty"`
	Quantity           int             `json:"quantity"`
	ListPriceCents     int64           `json:"list_price_cents"`
	DiscountType       DiscountType    `json:"discount_type,omitempty"`
	DiscountValue      decimal.Decimal `json:"discount_value"`
	IsGeneralProduct   bool            `json:"is_general_product"`
	GeneralIndexLetter string          `json:"general_index_letter,omitempty"`
}

func (c CartItem) HasDiscount() bool {
	return c.DiscountType != DiscountNone && c.DiscountValue.IsPositive()
}

// OrderState is the in-progress order of one terminal.
type OrderState struct {
	UUID                    string          `json:"uuid"`
	OrderID                 string          `json:"order_id"`
	Items                   []CartItem      `json:"items"`
	SysPercent              decimal.Decimal `json:"sys_percent"`
	SysAmountCents          int64           `json:"sys_amount_cents"`
	FinalPriceOverrideCents *int64          `json:"final_price_override_cents"`
	CustomerID              string          `json:"customer_id"`
	PaymentMethod           PaymentMethod   `json:"payment_method"`
}

// Clone returns a deep copy so callers can snapshot or roll back.
func (o OrderState) Clone() OrderState {
	out := o
	if o.Items != nil {
		out.Items = make([]CartItem, len(o.Items))
		copy(out.Items, o.Items)
	}
	if o.FinalPriceOverrideCents != nil {
		v := *o.FinalPriceOverrideCents
		out.FinalPriceOverrideCents = &v
	}
	return out
}

type LineTotal struct {
	CartID        string `json:"cart_id"`
	BaseCents     int64  `json:"base_cents"`
	DiscountCents int64  `json:"discount_cents"`
	FinalCents    int64  `json:"final_cents"`
	Discounted    bool   `json:"discounted"`
}

type Totals struct {
	OriginalCents int64       `json:"original_cents"`
	StandardCents int64       `json:"standard_cents"`
	SpecificCents int64       `json:"specific_cents"`
	GrandCents    int64       `json:"grand_cents"`
	DiscountCents int64       `json:"discount_cents"`
	Lines         []LineTotal `json:"lines"`
}

// OrderHeader is the persisted, immutable snapshot of a submitted order.
type OrderHeader struct {
	Index               int64           `json:"index"`
	OrderID             string          `json:"order_id"`
	UUID                string          `json:"uuid"`
	CreatedAt           time.Time       `json:"created_at"`
	TerminalID          string          `json:"terminal_id"`
	CustomerID          string          `json:"customer_id"`
	ReferenceTotalCents int64           `json:"reference_total_cents"`
	DiscountCents       int64           `json:"discount_cents"`
	GrandTotalCents     int64           `json:"grand_total_cents"`
	PaymentMethod       PaymentMethod   `json:"payment_method"`
	SysPercent          decimal.Decimal `json:"sys_percent"`
	SysAmountCents      int64           `json:"sys_amount_cents"`
	FinalPriceCents     *int64          `json:"final_price_cents"`
	Status              OrderStatus     `json:"status"`
	Synced              bool            `json:"synced"`
	Mode                OrderMode       `json:"mode"`
	CashReceivedCents   int64           `json:"cash_received_cents"`
	ChangeCents         int64           `json:"change_cents"`
}

type OrderItem struct {
	Index          int64     `json:"index"`
	OrderID        string    `json:"order_id"`
	UUID           string    `json:"uuid"`
	CreatedAt      time.Time `json:"created_at"`
	Line           int       `json:"line"`
	Code           string    `json:"code"`
	SKU            string    `json:"sku"`
	GeneralIndex   string    `json:"general_index"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	DiscountCents  int64     `json:"discount_cents"`
	SubtotalCents  int64     `json:"subtotal_cents"`
	Description    string    `json:"description"`
}

// InventoryItem is a product row normalized from one of the catalog sources.
// Columns the projection does not know are kept verbatim in Extra.
type InventoryItem struct {
	Code           string            `json:"code"`
	Name           string            `json:"name"`
	SKU            string            `json:"sku"`
	ListPriceCents int64             `json:"list_price_cents"`
	Stock          int               `json:"stock"`
	Category       string            `json:"category"`
	IsGeneral      bool              `json:"is_general"`
	SubOptions     []string          `json:"sub_options,omitempty"`
	WPID           string            `json:"wp_id,omitempty"`
	Slug           string            `json:"slug,omitempty"`
	ImageURL       string            `json:"image_url,omitempty"`
	SEOTitle       string            `json:"seo_title,omitempty"`
	SEODescription string            `json:"seo_description,omitempty"`
	Description    string            `json:"description,omitempty"`
	Source         string            `json:"source"`
	Extra          map[string]string `json:"extra,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type AddItemRequest struct {
	Code          string `json:"code"`
	Mode          string `json:"mode"`
	Quantity      int    `json:"quantity"`
	PriceCents    *int64 `json:"price_cents,omitempty"`
	GeneralLetter string `json:"general_letter,omitempty"`
}

type ItemDiscountRequest struct {
	Type  DiscountType    `json:"type"`
	Value decimal.Decimal `json:"value"`
}

type OrderDiscountRequest struct {
	SysPercent      *decimal.Decimal `json:"sys_percent,omitempty"`
	SysAmountCents  *int64           `json:"sys_amount_cents,omitempty"`
	FinalPriceCents *int64           `json:"final_price_cents,omitempty"`
	ClearFinalPrice bool             `json:"clear_final_price,omitempty"`
}

type OrderDetailsRequest struct {
	CustomerID    *string        `json:"customer_id,omitempty"`
	PaymentMethod *PaymentMethod `json:"payment_method,omitempty"`
}

type CashCheckRequest struct {
	ReceivedCents int64 `json:"received_cents"`
}

type CashCheckResponse struct {
	DueCents      int64 `json:"due_cents"`
	ReceivedCents int64 `json:"received_cents"`
	ChangeCents   int64 `json:"change_cents"`
}

type FinishRequest struct {
	CashReceivedCents int64 `json:"cash_received_cents"`
}

type LoadOrderRequest struct {
	OrderID string `json:"order_id"`
}

type LabelRequest struct {
	Copies int `json:"copies"`
}

type SettingRequest struct {
	Value string `json:"value"`
}

type OrderView struct {
	TerminalID string     `json:"terminal_id"`
	State      string     `json:"state"`
	Persisted  bool       `json:"persisted"`
	Order      OrderState `json:"order"`
	Totals     Totals     `json:"totals"`
}

type SubmitResponse struct {
	Header     OrderHeader `json:"header"`
	Items      []OrderItem `json:"items"`
	Duplicate  bool        `json:"duplicate"`
	PrintError string      `json:"print_error,omitempty"`
}

type OrderDetailResponse struct {
	Header OrderHeader `json:"header"`
	Items  []OrderItem `json:"items"`
}

type InventoryListResponse struct {
	Items    []InventoryItem `json:"items"`
	LoadedAt time.Time       `json:"loaded_at"`
}

type PrinterStatus struct {
	Available bool   `json:"available"`
	Endpoint  string `json:"endpoint,omitempty"`
	Error     string `json:"error,omitempty"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	TerminalID    string    `json:"terminal_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
