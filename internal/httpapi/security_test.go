package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mostrador/backend/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func preflight(api *API, requestHeaders string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/api/checkout", nil)
	req.Header.Set("Origin", "https://caja.example.mx")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", requestHeaders)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func TestCORSPreflightAnsweredWithoutAuth(t *testing.T) {
	api := newTestAPI(t)

	// Browsers send the requested headers lowercased and comma separated.
	res := preflight(api, "authorization,x-csrf-token,idempotency-key")
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", res.Code)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard allow origin, got %q", got)
	}
}

func TestCORSPreflightRefusesUnlistedHeader(t *testing.T) {
	api := newTestAPI(t)

	res := preflight(api, "authorization,x-debug-override")
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow origin for an unlisted header, got %q", got)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}

	// Another address keeps its own budget.
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "127.0.0.2:5000"
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a fresh address, got %d", res.Code)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestUnknownJSONFieldsRejected(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"admin","password":"admin123","role":"admin"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", res.Code)
	}
}

func TestManagerPINRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	manager := newClient(t, api, "manager", "manager123")

	adjust := domain.CreditTransactionRequest{
		TransactionType: domain.CreditLimitChange,
		AmountCents:     900000,
		ManagerPIN:      "000000",
	}
	for i := 0; i < 9; i++ {
		res := manager.do(http.MethodPost, "/api/customers/cust-003/credit", adjust)
		if i < 8 && res.Code != http.StatusForbidden {
			t.Fatalf("attempt %d expected 403 before pin limit, got %d", i+1, res.Code)
		}
		if i == 8 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 9 expected 429, got %d", res.Code)
		}
	}
}

func TestCashierTokenCannotReachAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	for _, path := range []string{"/api/audit-logs", "/api/users"} {
		if res := cashier.do(http.MethodGet, path, nil); res.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", path, res.Code)
		}
	}
}

func TestCSRFTokenAcceptsPreviousHourOnly(t *testing.T) {
	api := newTestAPI(t)
	current := time.Now().UTC().Truncate(time.Hour).Unix()

	if !api.validateCSRFToken(api.csrfTokenForHour(current)) {
		t.Fatalf("expected current hour token to validate")
	}
	if !api.validateCSRFToken(api.csrfTokenForHour(current - 3600)) {
		t.Fatalf("expected previous hour token to validate")
	}
	if api.validateCSRFToken(api.csrfTokenForHour(current - 7200)) {
		t.Fatalf("expected token from two hours ago to be rejected")
	}
	if api.validateCSRFToken("") {
		t.Fatalf("expected empty token to be rejected")
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}
