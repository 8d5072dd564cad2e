package store

import (
	"context"
	"errors"
	"time"

	"florapos/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicateOrderID means another order (different uuid) already owns the id.
	ErrDuplicateOrderID = errors.New("order id already used by another order")
	ErrInvalidOrder     = errors.New("invalid order")
	ErrInvalidUser      = errors.New("invalid user")
)

// OrderStore persists submitted orders. SaveOrder writes header and items in
// one unit: either both are stored or neither is. Saving a uuid that is
// already stored returns the stored header unchanged.
type OrderStore interface {
	LastSequenceNumber(ctx context.Context, datePrefix string) (int, error)
	SaveOrder(ctx context.Context, header domain.OrderHeader, items []domain.OrderItem) (*domain.OrderHeader, error)
	GetOrder(ctx context.Context, orderID string) (*domain.OrderHeader, error)
	GetOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	ListUnsyncedOrders(ctx context.Context, limit int) ([]domain.OrderHeader, error)
	UpdateOrderSyncStatus(ctx context.Context, orderID string, synced bool) error
}

type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type Repository interface {
	OrderStore
	SettingStore
	UserStore
	AuditStore
}

// ValidateOrder checks the shape every implementation requires before a write.
func ValidateOrder(header domain.OrderHeader, items []domain.OrderItem) error {
	if header.OrderID == "" || header.UUID == "" || len(items) == 0 {
		return ErrInvalidOrder
	}
	if header.Status != domain.OrderStatusHold && header.Status != domain.OrderStatusCompleted {
		return ErrInvalidOrder
	}
	for _, item := range items {
		if item.OrderID != header.OrderID || item.UUID != header.UUID || item.Quantity < 1 {
			return ErrInvalidOrder
		}
	}
	return nil
}
