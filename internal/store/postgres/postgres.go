package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"florapos/internal/domain"
	"florapos/internal/store"
)

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

var newPgxPool = func(ctx context.Context, cfg *pgxpool.Config) (pgxPool, error) {
	return pgxpool.NewWithConfig(ctx, cfg)
}

// Store is the cloud order database.
type Store struct {
	pool   pgxPool
	logger *slog.Logger
}

func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 30
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := newPgxPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{pool: pool, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pos_orders (
            idx BIGSERIAL PRIMARY KEY,
            order_id TEXT UNIQUE NOT NULL,
            uuid TEXT UNIQUE NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            terminal_id TEXT NOT NULL DEFAULT '',
            customer_id TEXT NOT NULL DEFAULT '',
            reference_total_cents BIGINT NOT NULL,
            discount_cents BIGINT NOT NULL,
            grand_total_cents BIGINT NOT NULL,
            payment_method TEXT NOT NULL,
            sys_percent NUMERIC(7,3) NOT NULL DEFAULT 0,
            sys_amount_cents BIGINT NOT NULL DEFAULT 0,
            final_price_cents BIGINT,
            status TEXT NOT NULL,
            synced BOOLEAN NOT NULL DEFAULT false,
            mode TEXT NOT NULL,
            cash_received_cents BIGINT NOT NULL DEFAULT 0,
            change_cents BIGINT NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS pos_order_items (
            idx BIGSERIAL PRIMARY KEY,
            order_uuid TEXT NOT NULL REFERENCES pos_orders(uuid),
            order_id TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            line INTEGER NOT NULL,
            code TEXT NOT NULL,
            sku TEXT NOT NULL DEFAULT '',
            general_index TEXT NOT NULL DEFAULT '',
            quantity INTEGER NOT NULL,
            unit_price_cents BIGINT NOT NULL,
            discount_cents BIGINT NOT NULL,
            subtotal_cents BIGINT NOT NULL,
            description TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE TABLE IF NOT EXISTS pos_settings (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE TABLE IF NOT EXISTS app_users (
            username TEXT PRIMARY KEY,
            password TEXT NOT NULL,
            role TEXT NOT NULL,
            active BOOLEAN NOT NULL DEFAULT true,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
            id TEXT PRIMARY KEY,
            terminal_id TEXT NOT NULL DEFAULT '',
            actor_username TEXT NOT NULL,
            actor_role TEXT NOT NULL,
            action TEXT NOT NULL,
            entity_type TEXT NOT NULL,
            entity_id TEXT NOT NULL,
            detail TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_pos_orders_unsynced ON pos_orders(idx) WHERE synced = false`,
		`CREATE INDEX IF NOT EXISTS idx_pos_order_items_order ON pos_order_items(order_id, line)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// WithinTransaction runs fn in a transaction, committing on success.
func (s *Store) WithinTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("rollback failed", slog.Any("error", rbErr))
		}
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) LastSequenceNumber(ctx context.Context, datePrefix string) (int, error) {
	const query = `SELECT COALESCE(MAX(CAST(split_part(order_id, '-', 2) AS INTEGER)), 0)
        FROM pos_orders WHERE order_id LIKE $1`
	var last int
	if err := s.pool.QueryRow(ctx, query, datePrefix+"-%").Scan(&last); err != nil {
		return 0, err
	}
	return last, nil
}

const orderColumns = `idx, order_id, uuid, created_at, terminal_id, customer_id,
    reference_total_cents, discount_cents, grand_total_cents, payment_method,
    sys_percent::text, sys_amount_cents, final_price_cents, status, synced, mode,
    cash_received_cents, change_cents`

func (s *Store) SaveOrder(ctx context.Context, header domain.OrderHeader, items []domain.OrderItem) (*domain.OrderHeader, error) {
	if err := store.ValidateOrder(header, items); err != nil {
		return nil, err
	}

	const insertOrder = `INSERT INTO pos_orders (
            order_id, uuid, created_at, terminal_id, customer_id,
            reference_total_cents, discount_cents, grand_total_cents, payment_method,
            sys_percent, sys_amount_cents, final_price_cents, status, synced, mode,
            cash_received_cents, change_cents
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
        ON CONFLICT (uuid) DO NOTHING
        RETURNING idx`
	const insertItem = `INSERT INTO pos_order_items (
            order_uuid, order_id, created_at, line, code, sku, general_index,
            quantity, unit_price_cents, discount_cents, subtotal_cents, description
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	var saved *domain.OrderHeader
	err := s.WithinTransaction(ctx, func(tx pgx.Tx) error {
		var idx int64
		err := tx.QueryRow(ctx, insertOrder,
			header.OrderID, header.UUID, header.CreatedAt, header.TerminalID, header.CustomerID,
			header.ReferenceTotalCents, header.DiscountCents, header.GrandTotalCents, string(header.PaymentMethod),
			header.SysPercent.String(), header.SysAmountCents, header.FinalPriceCents, string(header.Status), header.Synced, string(header.Mode),
			header.CashReceivedCents, header.ChangeCents,
		).Scan(&idx)
		if errors.Is(err, pgx.ErrNoRows) {
			existing, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM pos_orders WHERE uuid = $1`, header.UUID))
			if err != nil {
				return err
			}
			saved = existing
			return nil
		}
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicateOrderID
			}
			return err
		}

		for _, item := range items {
			if _, err := tx.Exec(ctx, insertItem,
				header.UUID, header.OrderID, item.CreatedAt, item.Line, item.Code, item.SKU, item.GeneralIndex,
				item.Quantity, item.UnitPriceCents, item.DiscountCents, item.SubtotalCents, item.Description,
			); err != nil {
				return err
			}
		}

		header.Index = idx
		saved = &header
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*domain.OrderHeader, error) {
	header, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM pos_orders WHERE order_id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return header, nil
}

func (s *Store) GetOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT idx, order_id, order_uuid, created_at, line, code, sku, general_index,
            quantity, unit_price_cents, discount_cents, subtotal_cents, description
        FROM pos_order_items
        WHERE order_id = $1
        ORDER BY line ASC
    `, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.Index, &item.OrderID, &item.UUID, &item.CreatedAt, &item.Line, &item.Code, &item.SKU, &item.GeneralIndex,
			&item.Quantity, &item.UnitPriceCents, &item.DiscountCents, &item.SubtotalCents, &item.Description); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListUnsyncedOrders(ctx context.Context, limit int) ([]domain.OrderHeader, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+` FROM pos_orders WHERE synced = false ORDER BY idx ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.OrderHeader, 0, limit)
	for rows.Next() {
		header, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *header)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) UpdateOrderSyncStatus(ctx context.Context, orderID string, synced bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE pos_orders SET synced = $2 WHERE order_id = $1`, orderID, synced)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM pos_settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func (s *Store) SaveSetting(ctx context.Context, key string, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return store.ErrInvalidOrder
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO pos_settings (key, value, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
    `, key, value)
	return err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
        INSERT INTO audit_logs (
            id, terminal_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
        )
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    `, entry.ID, entry.TerminalID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
        SELECT id, terminal_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
        FROM audit_logs
        WHERE created_at >= $1
            AND created_at < $2
        ORDER BY created_at DESC
        LIMIT $3
    `, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.TerminalID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidUser
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
        INSERT INTO app_users (username, password, role, active, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,NOW())
    `, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidUser
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT username, password, role, active, created_at
        FROM app_users
        ORDER BY username ASC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidUser
	}

	tag, err := s.pool.Exec(ctx, `
        UPDATE app_users
        SET password = $2, updated_at = NOW()
        WHERE username = $1
    `, username, password)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.OrderHeader, error) {
	var (
		header     domain.OrderHeader
		payment    string
		sysPercent string
		status     string
		mode       string
	)
	if err := row.Scan(
		&header.Index, &header.OrderID, &header.UUID, &header.CreatedAt, &header.TerminalID, &header.CustomerID,
		&header.ReferenceTotalCents, &header.DiscountCents, &header.GrandTotalCents, &payment,
		&sysPercent, &header.SysAmountCents, &header.FinalPriceCents, &status, &header.Synced, &mode,
		&header.CashReceivedCents, &header.ChangeCents,
	); err != nil {
		return nil, err
	}

	pct, err := decimal.NewFromString(sysPercent)
	if err != nil {
		return nil, fmt.Errorf("order %s: parse sys_percent: %w", header.OrderID, err)
	}
	header.SysPercent = pct
	header.PaymentMethod = domain.PaymentMethod(payment)
	header.Status = domain.OrderStatus(status)
	header.Mode = domain.OrderMode(mode)
	header.CreatedAt = header.CreatedAt.UTC()
	return &header, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
