package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	secret := []byte("test-secret")
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil))
	handler := mw.Wrap(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/calculations", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ViewerForbiddenPricingWrite(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "tenant-a", "viewer")
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pricing/versions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAuthMiddleware_OperatorForbiddenBulkCommission(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "tenant-a", "operator")
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/commissions/bulk", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAuthMiddleware_OperatorCanCalculate(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "tenant-a", "operator")
	var gotTenant string
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = TenantIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/calculations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if gotTenant != "tenant-a" {
		t.Fatalf("expected tenant in context, got %q", gotTenant)
	}
}

func TestAuthMiddleware_ExemptHealthz(t *testing.T) {
	handler := NewMiddleware([]byte("s"), NewDefaultPolicy([]string{"/healthz"}, nil)).Wrap(okHandler())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestTriggerAuthMiddleware(t *testing.T) {
	secret := []byte("trigger-secret")
	handler := NewTriggerAuthMiddleware(secret, time.Minute, "tenant-a").Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RoleFromContext(r.Context()) != RoleAdmin {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	body := `{"year":2025,"month":7}`
	path := "/internal/triggers/close-month"
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("X-Trigger-Timestamp", ts)
	req.Header.Set("X-Trigger-Signature", SignTrigger(secret, ts, path, []byte(body)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("X-Trigger-Timestamp", ts)
	req.Header.Set("X-Trigger-Signature", SignTrigger([]byte("wrong"), ts, path, []byte(body)))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", resp.Code)
	}
}

func TestTenantGuard(t *testing.T) {
	guard := NewTenantGuard("tenant-a")
	if err := guard.Ensure(context.Background()); err != nil {
		t.Fatalf("anonymous context should pass: %v", err)
	}
	ctx := WithIdentity(context.Background(), "tenant-b", RoleAdmin, "u")
	if err := guard.Ensure(ctx); err != ErrTenantMismatch {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func mustToken(t *testing.T, secret []byte, tenantID, role string) string {
	t.Helper()
	signed, err := IssueJWT(secret, Identity{TenantID: tenantID, Role: Role(role), Subject: "user-1"}, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestParseJWT_Rejections(t *testing.T) {
	secret := []byte("test-secret")
	cases := map[string]Identity{
		"missing tenant":  {Role: RoleAdmin, Subject: "u"},
		"unknown role":    {TenantID: "t", Role: "root", Subject: "u"},
		"missing subject": {TenantID: "t", Role: RoleViewer},
	}
	for name, id := range cases {
		token, err := IssueJWT(secret, id, time.Hour)
		if err != nil {
			t.Fatalf("%s: sign: %v", name, err)
		}
		if _, err := ParseJWT(token, secret); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}

	expired, _ := IssueJWT(secret, Identity{TenantID: "t", Role: RoleAdmin, Subject: "u"}, -time.Hour)
	if _, err := ParseJWT(expired, secret); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
	valid, _ := IssueJWT(secret, Identity{TenantID: "t", Role: RoleAdmin, Subject: "u"}, time.Hour)
	if _, err := ParseJWT(valid, []byte("other")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature mismatch rejected, got %v", err)
	}
	id, err := ParseJWT(valid, secret)
	if err != nil || id.Subject != "u" || id.Role != RoleAdmin {
		t.Fatalf("unexpected identity %+v %v", id, err)
	}
}

func TestPolicy_RequiredRole(t *testing.T) {
	policy := NewDefaultPolicy([]string{"/healthz"}, []string{"/internal/triggers/"})
	cases := []struct {
		method string
		path   string
		want   Role
		ok     bool
	}{
		{http.MethodGet, "/api/v1/calculations", RoleViewer, true},
		{http.MethodPost, "/api/v1/calculations", RoleOperator, true},
		{http.MethodPost, "/api/v1/pricing/versions", RoleAdmin, true},
		{http.MethodGet, "/api/v1/closings/2025-07", RoleViewer, true},
		{http.MethodGet, "/api/v1/closings/2025-07/export.pdf", RoleAdmin, true},
		{http.MethodPost, "/api/v1/recalculations/zero-revenue", RoleAdmin, true},
		{http.MethodGet, "/api/v1/diagnostics/pricing", RoleViewer, true},
		{http.MethodDelete, "/api/v1/unknown", RoleOperator, true},
		{http.MethodGet, "/healthz", "", false},
	}
	for _, tc := range cases {
		got, ok := policy.RequiredRole(httptest.NewRequest(tc.method, tc.path, nil))
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%s %s: expected (%q,%v), got (%q,%v)", tc.method, tc.path, tc.want, tc.ok, got, ok)
		}
	}
	if !policy.IsExempt(httptest.NewRequest(http.MethodPost, "/internal/triggers/close-month", nil)) {
		t.Fatalf("expected trigger prefix exempt from bearer auth")
	}
}

func TestRoleSatisfies(t *testing.T) {
	if !RoleAdmin.Satisfies(RoleOperator) || RoleViewer.Satisfies(RoleOperator) {
		t.Fatalf("unexpected role ordering")
	}
	if Role("root").Satisfies(RoleViewer) {
		t.Fatalf("unknown role must satisfy nothing")
	}
	if role, ok := ParseRole(" Admin "); !ok || role != RoleAdmin {
		t.Fatalf("expected admin, got %q %v", role, ok)
	}
}

func TestTriggerAuthMiddleware_Stale(t *testing.T) {
	secret := []byte("trigger-secret")
	handler := NewTriggerAuthMiddleware(secret, time.Minute, "tenant-a").Wrap(okHandler())
	path := "/internal/triggers/recalc-zero"
	ts := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)

	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("X-Trigger-Timestamp", ts)
	req.Header.Set("X-Trigger-Signature", SignTrigger(secret, ts, path, nil))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for stale timestamp, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	NewTriggerAuthMiddleware(nil, 0, "tenant-a").Wrap(okHandler()).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, path, nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", resp.Code)
	}
}
