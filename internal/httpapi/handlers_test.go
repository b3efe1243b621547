package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"inventra/backend/internal/alert"
	"inventra/backend/internal/cache"
	"inventra/backend/internal/domain"
	"inventra/backend/internal/ledger"
	"inventra/backend/internal/service"
	"inventra/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	alerts := alert.New(repo, nil)
	led := ledger.New(repo, alerts, nil)
	svc := service.New(repo, led, alerts, cache.NoopProductCache{}, time.Second, nil)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*", nil)
}

func login(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d (body: %s)", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestProductsRequireAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestListProductsAsClerk(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "clerk", "clerk123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.ProductListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Products) == 0 {
		t.Fatalf("expected seeded products")
	}
}

func TestCreateProductForbiddenForClerk(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "clerk", "clerk123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", token, domain.ProductCreateRequest{
		Name: "New", Category: "test", SKU: "SKU-NEW-01", PriceCents: 100,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	admin := login(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", admin, domain.ProductCreateRequest{
		Name: "HTTP Product", Category: "test", SKU: "SKU-HTTP-01",
		PriceCents: 1000, CostCents: 600, InitialStock: 10, MinStockLevel: 5,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created domain.ProductResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode product: %v", err)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", admin, domain.SaleCreateRequest{
		Customer: "Budi",
		Items:    []domain.SaleItemRequest{{ProductID: created.Product.ID, Quantity: 6}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var sale domain.SaleResponse
	if err := json.NewDecoder(rec.Body).Decode(&sale); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if sale.Sale.TotalCents != 6000 {
		t.Fatalf("expected total 6000, got %d", sale.Sale.TotalCents)
	}

	// Oversell is a conflict.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", admin, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: created.Product.ID, Quantity: 100}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("oversell: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	statusPath := fmt.Sprintf("/api/v1/sales/%s/status", sale.Sale.ID)
	rec = doJSON(t, handler, http.MethodPatch, statusPath, admin, domain.SaleStatusRequest{Status: domain.SaleCancelled})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Cancelled is terminal.
	rec = doJSON(t, handler, http.MethodPatch, statusPath, admin, domain.SaleStatusRequest{Status: domain.SaleCompleted})
	if rec.Code != http.StatusConflict {
		t.Fatalf("reopen cancelled: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/v1/products/%s/stock-history", created.Product.ID), admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", rec.Code)
	}
	var history domain.StockHistoryResponse
	if err := json.NewDecoder(rec.Body).Decode(&history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	// initial + sale + cancellation restore.
	if len(history.History) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(history.History))
	}
}

func TestNotificationsOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	admin := login(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", admin, domain.ProductCreateRequest{
		Name: "Scarce", Category: "test", SKU: "SKU-SCARCE-01",
		PriceCents: 1000, InitialStock: 4, MinStockLevel: 5,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: expected 201, got %d", rec.Code)
	}
	var created domain.ProductResponse
	_ = json.NewDecoder(rec.Body).Decode(&created)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", admin, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: created.Product.ID, Quantity: 4}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/notifications?unread=true", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("notifications: expected 200, got %d", rec.Code)
	}
	var resp domain.NotificationListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode notifications: %v", err)
	}
	if resp.UnreadCount == 0 {
		t.Fatalf("expected unread notifications after sale depleted stock")
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/notifications/read-all", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read-all: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/notifications?unread=true", admin, nil)
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.UnreadCount != 0 {
		t.Fatalf("expected 0 unread after read-all, got %d", resp.UnreadCount)
	}
}

func TestUnknownProductIs404(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "clerk", "clerk123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products/nope", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestValidationErrorsAre400(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "clerk", "clerk123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, domain.SaleCreateRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty sale, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
