package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tillpoint/backend/internal/cache"
	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/service"
	"tillpoint/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopProductCache{}, nil, 5*time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, nil, "*")
}

func doJSON(t *testing.T, api *API, method, path, token, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func firstProductID(t *testing.T, api *API, token string) string {
	t.Helper()
	rec := doJSON(t, api, http.MethodGet, "/api/products", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list products failed: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	products, ok := body["products"].([]any)
	if !ok || len(products) == 0 {
		t.Fatalf("expected seeded products, got %v", body)
	}
	first, ok := products[0].(map[string]any)
	if !ok {
		t.Fatalf("unexpected product shape %v", products[0])
	}
	id, _ := first["id"].(string)
	if id == "" {
		t.Fatalf("expected product id, got %v", first)
	}
	return id
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/healthz", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/login", "", "", map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
	if body["tenant_id"] != memory.DefaultTenantID {
		t.Fatalf("expected tenant_id %s, got %v", memory.DefaultTenantID, body["tenant_id"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/login", "", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/api/products", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleMe(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodGet, "/api/me", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["username"] != "cashier" || body["role"] != "cashier" {
		t.Fatalf("unexpected identity %v", body)
	}
}

func TestCheckoutEndToEnd(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)
	productID := firstProductID(t, api, token)

	rec := doJSON(t, api, http.MethodPost, "/api/sales/checkout", token, csrf, domain.CheckoutRequest{
		PaymentType: "cash",
		Items:       []domain.CheckoutLine{{ProductID: productID, Quantity: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["sale_id"] == "" || body["sale_id"] == nil {
		t.Fatalf("expected sale_id, got %v", body)
	}
}

func TestCheckoutInsufficientStockReturns409WithDetail(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)
	productID := firstProductID(t, api, token)

	rec := doJSON(t, api, http.MethodPost, "/api/sales/checkout", token, csrf, domain.CheckoutRequest{
		PaymentType: "cash",
		Items:       []domain.CheckoutLine{{ProductID: productID, Quantity: 100000}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["available"] == nil || body["requested"] == nil {
		t.Fatalf("expected stock detail in response, got %v", body)
	}
}

func TestCheckoutEmptyCartReturns400(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/sales/checkout", token, csrf, domain.CheckoutRequest{
		PaymentType: "cash",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestReturnsMissingReasonReturns400(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)
	productID := firstProductID(t, api, token)

	rec := doJSON(t, api, http.MethodPost, "/api/returns", token, csrf, domain.ReturnBatchRequest{
		Returns: []domain.ReturnLine{{ProductID: productID, Quantity: 1}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSessionOpenConflictReturns409(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/sessions/open", token, csrf, map[string]any{
		"opening_cash": "100.00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/sessions/open", token, csrf, map[string]any{
		"opening_cash": "50.00",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second open, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSessionCurrentWithoutOpenReturns404(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodGet, "/api/sessions/current", token, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestInventoryEventsRequireAdminRole(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/inventory/events", token, csrf, domain.InventoryEventRequest{
		ProductID: "prod-x",
		Change:    1,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestZReportCSVDownload(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")

	rec := doJSON(t, api, http.MethodGet, "/api/manager/zreport.csv", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Fatalf("expected csv content type, got %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("expected csv body")
	}
}

func TestUserRegistrationEndToEnd(t *testing.T) {
	api := newTestAPI(t)
	adminToken := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/users", adminToken, csrf, map[string]any{
		"username": "newstaff",
		"password": "staff-secret",
		"role":     "cashier",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	user, ok := body["user"].(map[string]any)
	if !ok {
		t.Fatalf("expected user object, got %v", body)
	}
	if user["username"] != "newstaff" || user["role"] != "cashier" {
		t.Fatalf("unexpected user %v", user)
	}
	if _, leaked := user["password"]; leaked {
		t.Fatalf("password must not be serialized: %v", user)
	}

	// The new account can log in right away.
	loginAs(t, api, "newstaff", "staff-secret")

	rec = doJSON(t, api, http.MethodPost, "/api/users", adminToken, csrf, map[string]any{
		"username": "newstaff",
		"password": "staff-secret",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/users", adminToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	users, ok := decodeBody(t, rec)["users"].([]any)
	if !ok || len(users) < 3 {
		t.Fatalf("expected seeded users plus newstaff, got %v", users)
	}
}

func TestUserRegistrationRejectsWeakPasswordAndNonAdmin(t *testing.T) {
	api := newTestAPI(t)
	csrf := fetchCSRFToken(t, api)

	adminToken := loginAs(t, api, "admin", "admin123")
	rec := doJSON(t, api, http.MethodPost, "/api/users", adminToken, csrf, map[string]any{
		"username": "shorty",
		"password": "abc",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short password, got %d", rec.Code)
	}

	cashierToken := loginAs(t, api, "cashier", "cashier123")
	rec = doJSON(t, api, http.MethodPost, "/api/users", cashierToken, csrf, map[string]any{
		"username": "intruder",
		"password": "long-enough",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}
}

func TestLowStockAlertsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	// Seeded stock sits well above the default threshold.
	rec := doJSON(t, api, http.MethodGet, "/api/products/low-stock", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	alerts, ok := decodeBody(t, rec)["alerts"].([]any)
	if !ok || len(alerts) != 0 {
		t.Fatalf("expected no alerts at default threshold, got %v", alerts)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/products/low-stock?threshold=500", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	alerts, ok = decodeBody(t, rec)["alerts"].([]any)
	if !ok || len(alerts) == 0 {
		t.Fatalf("expected every seeded product below 500, got %v", alerts)
	}
	first, ok := alerts[0].(map[string]any)
	if !ok || first["product_id"] == "" || first["stock_level"] != float64(120) {
		t.Fatalf("unexpected alert shape %v", alerts[0])
	}

	rec = doJSON(t, api, http.MethodGet, "/api/products/low-stock?threshold=-3", token, "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative threshold, got %d", rec.Code)
	}
}
