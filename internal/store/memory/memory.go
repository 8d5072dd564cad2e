package memory

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"florapos/internal/domain"
	"florapos/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	nextIndex       int64
	nextItemIndex   int64
	ordersByID      map[string]domain.OrderHeader
	orderIDByUUID   map[string]string
	itemsByOrderID  map[string][]domain.OrderItem
	settings        map[string]string
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		ordersByID:      make(map[string]domain.OrderHeader),
		orderIDByUUID:   make(map[string]string),
		itemsByOrderID:  make(map[string][]domain.OrderItem),
		settings:        make(map[string]string),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with a dev admin and cashier account.
// Passwords come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	return s
}

func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("memory store is using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			panic("memory store: hash seed password: " + err.Error())
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) LastSequenceNumber(_ context.Context, datePrefix string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	last := 0
	for orderID := range s.ordersByID {
		prefix, raw, ok := strings.Cut(orderID, "-")
		if !ok || prefix != datePrefix {
			continue
		}
		if n, err := strconv.Atoi(raw); err == nil && n > last {
			last = n
		}
	}
	return last, nil
}

func (s *Store) SaveOrder(_ context.Context, header domain.OrderHeader, items []domain.OrderItem) (*domain.OrderHeader, error) {
	if err := store.ValidateOrder(header, items); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.orderIDByUUID[header.UUID]; ok {
		existing := s.ordersByID[existingID]
		return cloneHeader(existing), nil
	}
	if _, taken := s.ordersByID[header.OrderID]; taken {
		return nil, store.ErrDuplicateOrderID
	}

	s.nextIndex++
	header.Index = s.nextIndex
	stored := make([]domain.OrderItem, len(items))
	for i, item := range items {
		s.nextItemIndex++
		item.Index = s.nextItemIndex
		stored[i] = item
	}

	s.ordersByID[header.OrderID] = *cloneHeader(header)
	s.orderIDByUUID[header.UUID] = header.OrderID
	s.itemsByOrderID[header.OrderID] = stored
	return cloneHeader(header), nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (*domain.OrderHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	header, ok := s.ordersByID[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneHeader(header), nil
}

func (s *Store) GetOrderItems(_ context.Context, orderID string) ([]domain.OrderItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, ok := s.itemsByOrderID[orderID]
	if !ok {
		return []domain.OrderItem{}, nil
	}
	return slices.Clone(items), nil
}

func (s *Store) ListUnsyncedOrders(_ context.Context, limit int) ([]domain.OrderHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.OrderHeader, 0, 16)
	for _, header := range s.ordersByID {
		if header.Synced {
			continue
		}
		result = append(result, *cloneHeader(header))
	}
	slices.SortFunc(result, func(a, b domain.OrderHeader) int {
		return int(a.Index - b.Index)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdateOrderSyncStatus(_ context.Context, orderID string, synced bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	header, ok := s.ordersByID[orderID]
	if !ok {
		return store.ErrNotFound
	}
	header.Synced = synced
	s.ordersByID[orderID] = header
	return nil
}

func (s *Store) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.settings[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return value, nil
}

func (s *Store) SaveSetting(_ context.Context, key string, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return store.ErrInvalidOrder
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidUser
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidUser
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidUser
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneHeader(src domain.OrderHeader) *domain.OrderHeader {
	dup := src
	if src.FinalPriceCents != nil {
		v := *src.FinalPriceCents
		dup.FinalPriceCents = &v
	}
	return &dup
}
