package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"florapos/internal/cart"
	"florapos/internal/checkout"
	"florapos/internal/domain"
	"florapos/internal/inventory"
	"florapos/internal/pricing"
	"florapos/internal/printer"
	"florapos/internal/service"
	"florapos/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
	healthCheck   func(ctx context.Context) error
	logger        *slog.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
		logger:        logger,
	}
}

// SetHealthCheck makes /healthz report the given dependency check.
func (a *API) SetHealthCheck(fn func(ctx context.Context) error) {
	a.healthCheck = fn
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour), hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current or the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/terminals/", a.requireAuth(a.handleTerminalActions, "cashier", "admin"))
	mux.HandleFunc("/api/v1/orders/", a.requireAuth(a.handleOrder, "cashier", "admin"))
	mux.HandleFunc("/api/v1/inventory", a.requireAuth(a.handleInventory, "cashier", "admin"))
	mux.HandleFunc("/api/v1/inventory/", a.requireAuth(a.handleInventoryActions, "cashier", "admin"))
	mux.HandleFunc("/api/v1/settings/", a.requireAuth(a.handleSettings, "cashier", "admin"))
	mux.HandleFunc("/api/v1/printer/status", a.requireAuth(a.handlePrinterStatus, "cashier", "admin"))

	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, "admin"))
	mux.HandleFunc("/api/v1/users/cashiers", a.requireAuth(a.handleCashiers, "admin"))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	if a.healthCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.healthCheck(ctx); err != nil {
			a.logger.Warn("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token for the current hour bucket.
// Clients send it back in X-CSRF-Token on every mutating request.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces the CSRF token on POST, PUT and PATCH. It writes the
// error response itself when the token is missing or stale.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

// handleTerminalActions serves /api/v1/terminals/{terminal}/order[/...].
func (a *API) handleTerminalActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/terminals/"
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	parts := strings.Split(tail, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] != "order" {
		writeError(w, http.StatusNotFound, errors.New("unknown terminal route"))
		return
	}
	terminalID, rest := parts[0], parts[2:]
	ctx := r.Context()

	switch {
	case len(rest) == 0:
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		view, err := a.service.GetOrderView(ctx, terminalID)
		a.respond(w, http.StatusOK, view, err)

	case len(rest) == 1:
		a.handleOrderAction(w, r, terminalID, rest[0])

	case len(rest) == 3 && rest[0] == "items":
		cartID := rest[1]
		switch rest[2] {
		case "remove":
			if !requireMethod(w, r, http.MethodPost) {
				return
			}
			view, err := a.service.RemoveItem(ctx, terminalID, cartID)
			a.respond(w, http.StatusOK, view, err)
		case "discount":
			if !requireMethod(w, r, http.MethodPatch) {
				return
			}
			var req domain.ItemDiscountRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			view, err := a.service.SetItemDiscount(ctx, terminalID, cartID, req)
			a.respond(w, http.StatusOK, view, err)
		default:
			writeError(w, http.StatusNotFound, errors.New("unknown item action"))
		}

	default:
		writeError(w, http.StatusNotFound, errors.New("unknown terminal route"))
	}
}

func (a *API) handleOrderAction(w http.ResponseWriter, r *http.Request, terminalID string, action string) {
	ctx := r.Context()

	switch action {
	case "items":
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req domain.AddItemRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.service.AddItem(ctx, terminalID, req)
		a.respond(w, http.StatusOK, view, err)

	case "discount":
		if !requireMethod(w, r, http.MethodPatch) {
			return
		}
		var req domain.OrderDiscountRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.service.SetOrderDiscount(ctx, terminalID, req)
		a.respond(w, http.StatusOK, view, err)

	case "details":
		if !requireMethod(w, r, http.MethodPatch) {
			return
		}
		var req domain.OrderDetailsRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.service.SetDetails(ctx, terminalID, req)
		a.respond(w, http.StatusOK, view, err)

	case "cash-check":
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req domain.CashCheckRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.CashCheck(ctx, terminalID, req)
		a.respond(w, http.StatusOK, resp, err)

	case "finish":
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req domain.FinishRequest
		if err := decodeOptionalJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.Finish(ctx, terminalID, req)
		a.respond(w, submitStatus(resp), resp, err)

	case "hold":
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		resp, err := a.service.Hold(ctx, terminalID)
		a.respond(w, submitStatus(resp), resp, err)

	case "close":
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		view, err := a.service.Close(ctx, terminalID)
		a.respond(w, http.StatusOK, view, err)

	case "reprint":
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		resp, err := a.service.Reprint(ctx, terminalID)
		a.respond(w, http.StatusOK, resp, err)

	case "load":
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var req domain.LoadOrderRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.service.LoadOrder(ctx, terminalID, req)
		a.respond(w, http.StatusOK, view, err)

	default:
		writeError(w, http.StatusNotFound, errors.New("unknown order action"))
	}
}

// submitStatus is 201 for a fresh write and 200 when the order had already
// been written.
func submitStatus(resp domain.SubmitResponse) int {
	if resp.Duplicate {
		return http.StatusOK
	}
	return http.StatusCreated
}

func (a *API) handleOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	orderID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/orders/"), "/")
	if orderID == "" || strings.Contains(orderID, "/") {
		writeError(w, http.StatusBadRequest, errors.New("order id path required"))
		return
	}
	resp, err := a.service.GetOrder(r.Context(), orderID)
	a.respond(w, http.StatusOK, resp, err)
}

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.service.ListInventory(r.Context()))
}

func (a *API) handleInventoryActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/inventory/"), "/")
	if tail == "reload" {
		resp, err := a.service.ReloadInventory(r.Context())
		a.respond(w, http.StatusOK, resp, err)
		return
	}

	if strings.HasSuffix(tail, "/label") {
		code := strings.Trim(strings.TrimSuffix(tail, "/label"), "/")
		if code == "" {
			writeError(w, http.StatusBadRequest, errors.New("product code path required"))
			return
		}
		var req domain.LabelRequest
		if err := decodeOptionalJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		err := a.service.PrintLabel(r.Context(), code, req)
		a.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
		return
	}

	writeError(w, http.StatusNotFound, errors.New("unknown inventory action"))
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	key := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/settings/"), "/")
	if key == "" || strings.Contains(key, "/") {
		writeError(w, http.StatusBadRequest, errors.New("setting key path required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		value, err := a.service.GetSetting(r.Context(), key)
		a.respond(w, http.StatusOK, map[string]any{"key": key, "value": value}, err)
	case http.MethodPut:
		var req domain.SettingRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		err := a.service.SaveSetting(r.Context(), key, req.Value)
		a.respond(w, http.StatusOK, map[string]any{"key": key, "value": strings.TrimSpace(req.Value)}, err)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePrinterStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.service.PrinterStatus(r.Context()))
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	a.respond(w, http.StatusOK, map[string]any{"logs": logs}, err)
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cashiers := a.auth.ListCashiers(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{"cashiers": cashiers})
	case http.MethodPost:
		var req domain.CashierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		cashier, err := a.auth.CreateCashier(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration", time.Since(startedAt)),
		)
	})
}

// statusFor maps domain errors onto HTTP statuses. Anything unknown is a
// server error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrAdminRequired):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, inventory.ErrUnknownProduct),
		errors.Is(err, cart.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, cart.ErrOrderClosed),
		errors.Is(err, checkout.ErrNothingToReprint):
		return http.StatusConflict
	case errors.Is(err, checkout.ErrPersistFailed),
		errors.Is(err, inventory.ErrNoSource):
		return http.StatusBadGateway
	case errors.Is(err, printer.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrPriceNotAllowed),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidDiscount),
		errors.Is(err, cart.ErrInvalidPrice),
		errors.Is(err, cart.ErrInvalidLetter),
		errors.Is(err, cart.ErrInvalidPaymentMethod),
		errors.Is(err, cart.ErrInvalidProduct),
		errors.Is(err, cart.ErrInvalidMode),
		errors.Is(err, cart.ErrEmptyCart),
		errors.Is(err, checkout.ErrEmptyOrder),
		errors.Is(err, pricing.ErrInsufficientCash),
		errors.Is(err, store.ErrInvalidOrder):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respond writes payload with status, or the mapped error when err is set.
func (a *API) respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		code := statusFor(err)
		if code >= 500 {
			a.logger.Error("request failed", slog.Int("status", code), slog.String("error", err.Error()))
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, status, payload)
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeMethodNotAllowed(w)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, dest any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(r, dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the message of 5xx responses; 4xx messages are meant for
// the cashier and are returned as is.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
		switch status {
		case http.StatusBadGateway:
			msg = "upstream write or read failed, try again"
		case http.StatusServiceUnavailable:
			msg = "printer unavailable"
		}
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
