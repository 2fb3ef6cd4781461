package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"gudang/backend/internal/domain"
	"gudang/backend/internal/xid"
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
	if got := res.Header().Get("X-Request-ID"); got == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestPreflightShortCircuits(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/supplier-transactions", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", res.Code)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected allowed origin header, got %q", got)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	body := `{"note":"` + strings.Repeat("a", maxBodyBytes+1024) + `"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/supplier-transactions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, api, domain.RoleStaff))
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestUnknownFieldsRejected(t *testing.T) {
	api := newTestAPI(t)
	rec, env := call(t, api, http.MethodPost, "/api/v1/supplier-transactions", tokenFor(t, api, domain.RoleStaff), map[string]any{
		"type":     "in",
		"discount": "10",
	})
	if rec.Code != http.StatusBadRequest || env.Field != "body" {
		t.Fatalf("expected 400 on unknown field, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestAdminPINRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	token := tokenFor(t, api, domain.RoleAdmin)
	path := "/api/v1/supplier-transactions/" + xid.New() + "/lock"

	for i := 0; i < 9; i++ {
		rec, _ := call(t, api, http.MethodPost, path, token, map[string]any{"locked": true, "adminPin": "000000"})
		if i < 8 && rec.Code != http.StatusForbidden {
			t.Fatalf("attempt %d expected 403 before pin limit, got %d", i+1, rec.Code)
		}
		if i == 8 && rec.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 9 expected 429, got %d", rec.Code)
		}
	}
}

func TestInternalErrorsAreHidden(t *testing.T) {
	api := newTestAPI(t)
	engine := api.Handler()
	engine.GET("/boom", func(c *gin.Context) {
		api.writeError(c, errors.New(`pq: relation "inventory_lots" does not exist`))
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	res := httptest.NewRecorder()
	engine.ServeHTTP(res, req)

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "pq: relation") {
		t.Fatalf("expected internal details to be hidden, got %s", res.Body.String())
	}
}
