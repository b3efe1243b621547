package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"inventra/backend/internal/domain"
	"inventra/backend/internal/service"
	"inventra/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	log           *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		log:           log,
	}
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

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, "clerk", "admin"))
	mux.HandleFunc("/api/v1/products/", a.requireAuth(a.handleProductActions, "clerk", "admin"))
	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, "clerk", "admin"))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions, "clerk", "admin"))
	mux.HandleFunc("/api/v1/notifications", a.requireAuth(a.handleNotifications, "clerk", "admin"))
	mux.HandleFunc("/api/v1/notifications/", a.requireAuth(a.handleNotificationActions, "clerk", "admin"))
	mux.HandleFunc("/api/v1/users/clerks", a.requireAuth(a.handleClerks, "admin"))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
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

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(startedAt)),
		)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := a.service.ListProducts(r.Context())
		if err != nil {
			a.writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.ProductListResponse{Products: products})
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}

		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, domain.ProductResponse{Product: product})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/products/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("product id required"))
		return
	}

	if id, ok := strings.CutSuffix(tail, "/restock"); ok {
		a.handleRestock(w, r, strings.Trim(id, "/"))
		return
	}
	if id, ok := strings.CutSuffix(tail, "/adjust-stock"); ok {
		a.handleAdjustStock(w, r, strings.Trim(id, "/"))
		return
	}
	if id, ok := strings.CutSuffix(tail, "/stock-history"); ok {
		a.handleStockHistory(w, r, strings.Trim(id, "/"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		product, err := a.service.GetProduct(r.Context(), tail)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.ProductResponse{Product: product})
	case http.MethodPatch:
		var req domain.ProductUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}

		updated, err := a.service.UpdateProduct(r.Context(), tail, req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.ProductResponse{Product: updated})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleRestock(w http.ResponseWriter, r *http.Request, productID string) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	if productID == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("product id required"))
		return
	}

	var req domain.RestockRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.RestockProduct(r.Context(), productID, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ProductResponse{Product: product})
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request, productID string) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	if productID == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("product id required"))
		return
	}

	var req domain.AdjustStockRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.AdjustStock(r.Context(), productID, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ProductResponse{Product: product})
}

func (a *API) handleStockHistory(w http.ResponseWriter, r *http.Request, productID string) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	if productID == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("product id required"))
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
	history, err := a.service.ListStockHistory(r.Context(), productID, limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.StockHistoryResponse{History: history})
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status := domain.SaleStatus(strings.TrimSpace(r.URL.Query().Get("status")))
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

		sales, err := a.service.ListSales(r.Context(), status, limit)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.SaleListResponse{Sales: sales})
	case http.MethodPost:
		var req domain.SaleCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}

		sale, err := a.service.CreateSale(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, domain.SaleResponse{Sale: sale})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/sales/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("sale id required"))
		return
	}

	if id, ok := strings.CutSuffix(tail, "/status"); ok {
		a.handleSaleStatus(w, r, strings.Trim(id, "/"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		sale, err := a.service.GetSale(r.Context(), tail)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.SaleResponse{Sale: sale})
	case http.MethodPatch:
		var req domain.SaleUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}

		sale, err := a.service.UpdateSale(r.Context(), tail, req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.SaleResponse{Sale: sale})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleSaleStatus(w http.ResponseWriter, r *http.Request, saleID string) {
	if r.Method != http.MethodPatch {
		a.writeMethodNotAllowed(w)
		return
	}
	if saleID == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("sale id required"))
		return
	}

	var req domain.SaleStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	sale, err := a.service.UpdateSaleStatus(r.Context(), saleID, req.Status)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SaleResponse{Sale: sale})
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	unreadOnly := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("unread")), "true")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	resp, err := a.service.ListNotifications(r.Context(), unreadOnly, limit)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleNotificationActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/notifications/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))

	if tail == "read-all" {
		if r.Method != http.MethodPost {
			a.writeMethodNotAllowed(w)
			return
		}
		marked, err := a.service.MarkAllNotificationsRead(r.Context())
		if err != nil {
			a.writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"marked": marked})
		return
	}

	id, ok := strings.CutSuffix(tail, "/read")
	if !ok {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid notification action path"))
		return
	}
	id = strings.Trim(id, "/")
	if id == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("notification id required"))
		return
	}
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	if err := a.service.MarkNotificationRead(r.Context(), id); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleClerks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"clerks": a.auth.ListClerks()})
	case http.MethodPost:
		var req domain.ClerkCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}

		clerk, err := a.auth.CreateClerk(req)
		if err != nil {
			a.writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"clerk": clerk})
	default:
		a.writeMethodNotAllowed(w)
	}
}

// writeServiceError maps service and store errors onto HTTP statuses.
// Conflict-class errors (stock, transitions, write races) all map to 409.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, store.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrProductNotFound),
		errors.Is(err, store.ErrVariantNotFound),
		errors.Is(err, store.ErrSaleNotFound),
		errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrConcurrentModification):
		status = http.StatusConflict
	}
	if strings.Contains(strings.ToLower(err.Error()), "admin role required") {
		status = http.StatusForbidden
	}
	a.writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
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

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError returns the original message for 4xx responses and a generic
// one for 5xx, so internal details never reach the client.
func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		a.log.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
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
