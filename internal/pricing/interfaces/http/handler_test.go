package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"installops/internal/audit"
	"installops/internal/auth"
	"installops/internal/diagnostics"
	pricingapp "installops/internal/pricing/application"
	"installops/internal/pricing/infrastructure/cache"
	"installops/internal/pricing/infrastructure/memory"
)

type stubAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *stubAudit) Log(ctx context.Context, entry audit.Entry) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *stubAudit) {
	t.Helper()
	repo := memory.NewVersionRepository()
	c, _ := cache.NewManufacturerKeyCache(16)
	rec := diagnostics.NewRecorder(10)
	resolver, err := pricingapp.NewResolver(repo, pricingapp.WithCache(c), pricingapp.WithDiagnostics(rec))
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	coord, err := pricingapp.NewCoordinator(repo, repo, pricingapp.WithCacheInvalidation(c), pricingapp.WithBulkInterval(0))
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	logs := &stubAudit{}
	h, err := NewHandler(resolver, coord,
		WithDiagnostics(rec, c),
		WithAudit(logs),
		WithTenantGuard(auth.NewTenantGuard("tenant-a")),
	)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return h, logs
}

func do(h http.Handler, method, target, body string, ctx context.Context) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestHandler_CreateThenResolve(t *testing.T) {
	h, logs := newTestHandler(t)
	ctx := auth.WithIdentity(context.Background(), "tenant-a", auth.RoleAdmin, "admin-1")

	resp := do(h, http.MethodPost, "/api/v1/pricing/versions",
		`{"kind":"equipment_cost","primary_key":"gateway","manufacturer":"A","value":100000,"effective_from":"2025-01-01"}`, ctx)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var created pricingapp.UpdateResult
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.NewVersionID == "" {
		t.Fatalf("missing version id")
	}
	if len(logs.entries) != 1 || logs.entries[0].Action != "pricing.version.create" || logs.entries[0].Actor != "admin-1" {
		t.Fatalf("unexpected audit entries %+v", logs.entries)
	}

	resp = do(h, http.MethodGet, "/api/v1/pricing/resolve?kind=equipment_cost&primary_key=gateway&manufacturer=a&date=2025-03-01", "", ctx)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var res pricingapp.Resolution
	_ = json.NewDecoder(resp.Body).Decode(&res)
	if !res.Found || res.Value.IntPart() != 100000 || res.VersionID != created.NewVersionID {
		t.Fatalf("unexpected resolution %+v", res)
	}

	resp = do(h, http.MethodGet, "/api/v1/pricing/versions?kind=equipment_cost&primary_key=gateway&manufacturer=A", "", ctx)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), created.NewVersionID) {
		t.Fatalf("history missing version: %d %s", resp.Code, resp.Body.String())
	}
}

func TestHandler_ValidationErrors(t *testing.T) {
	h, _ := newTestHandler(t)
	cases := []string{
		`{"kind":"bogus","primary_key":"g","manufacturer":"a","value":1,"effective_from":"2025-01-01"}`,
		`{"kind":"equipment_cost","primary_key":"g","manufacturer":"a","value":1,"effective_from":"2025/01/01"}`,
		`{"kind":"equipment_cost","primary_key":"g","manufacturer":"a","value":-5,"effective_from":"2025-01-01"}`,
		`not json`,
	}
	for _, body := range cases {
		resp := do(h, http.MethodPost, "/api/v1/pricing/versions", body, nil)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, resp.Code)
		}
	}
}

func TestHandler_TenantMismatch(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := auth.WithIdentity(context.Background(), "tenant-b", auth.RoleAdmin, "x")
	resp := do(h, http.MethodGet, "/api/v1/diagnostics/pricing", "", ctx)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestHandler_BulkCommission(t *testing.T) {
	h, _ := newTestHandler(t)
	seedCommissions(t, h, "X", "Y")
	resp := do(h, http.MethodPost, "/api/v1/commissions/bulk", `{"manufacturer":"a","new_rate":"7.5","effective_from":"2025-06-01","target_offices":["X","Y"]}`, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var res pricingapp.BulkResult
	_ = json.NewDecoder(resp.Body).Decode(&res)
	if res.Succeeded != 2 || len(res.Results) != 2 {
		t.Fatalf("unexpected bulk result %+v", res)
	}
	if got := resolvedValue(t, h, "X", "2025-06-01"); got != "7.5" {
		t.Fatalf("expected X at 7.5, got %s", got)
	}
}

func TestHandler_BulkRequiresNewRate(t *testing.T) {
	h, _ := newTestHandler(t)
	seedCommissions(t, h, "X", "Y")
	bodies := []string{
		`{"manufacturer":"a","effective_from":"2025-06-01","target_offices":["X","Y"]}`,
		`{"manufacturer":"a","rate":"7.5","effective_from":"2025-06-01","target_offices":["X","Y"]}`,
		`{"manufacturer":"a","new_rate":null,"effective_from":"2025-06-01"}`,
	}
	for _, body := range bodies {
		if resp := do(h, http.MethodPost, "/api/v1/commissions/bulk", body, nil); resp.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, resp.Code)
		}
	}
	for _, office := range []string{"X", "Y"} {
		if got := resolvedValue(t, h, office, "2025-06-01"); got != "5" {
			t.Fatalf("office %s changed to %s", office, got)
		}
	}
}

func TestHandler_UpdateRequiresValue(t *testing.T) {
	h, _ := newTestHandler(t)
	body := `{"kind":"commission_rate","primary_key":"X","manufacturer":"a","effective_from":"2025-01-01"}`
	if resp := do(h, http.MethodPost, "/api/v1/pricing/versions", body, nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	history := do(h, http.MethodGet, "/api/v1/pricing/versions?kind=commission_rate&primary_key=X&manufacturer=a", "", nil)
	if strings.TrimSpace(history.Body.String()) != "[]" {
		t.Fatalf("expected no stored versions, got %s", history.Body.String())
	}
}

type failingTx struct{}

func (failingTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return errors.New("connection reset")
}

func TestHandler_BulkAllFailedIsConflict(t *testing.T) {
	repo := memory.NewVersionRepository()
	resolver, err := pricingapp.NewResolver(repo)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	coord, err := pricingapp.NewCoordinator(repo, failingTx{}, pricingapp.WithBulkInterval(0))
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	h, err := NewHandler(resolver, coord)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	resp := do(h, http.MethodPost, "/api/v1/commissions/bulk", `{"manufacturer":"a","new_rate":"7.5","effective_from":"2025-06-01","target_offices":["X","Y"]}`, nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", resp.Code, resp.Body.String())
	}
	var res pricingapp.BulkResult
	_ = json.NewDecoder(resp.Body).Decode(&res)
	if res.Failed != 2 || res.Succeeded != 0 {
		t.Fatalf("unexpected bulk result %+v", res)
	}
}

func seedCommissions(t *testing.T, h http.Handler, offices ...string) {
	t.Helper()
	for _, office := range offices {
		body := `{"kind":"commission_rate","primary_key":"` + office + `","manufacturer":"A","value":"5","effective_from":"2025-01-01"}`
		if resp := do(h, http.MethodPost, "/api/v1/pricing/versions", body, nil); resp.Code != http.StatusCreated {
			t.Fatalf("seed %s: %d %s", office, resp.Code, resp.Body.String())
		}
	}
}

func resolvedValue(t *testing.T, h http.Handler, office, date string) string {
	t.Helper()
	resp := do(h, http.MethodGet, "/api/v1/pricing/resolve?kind=commission_rate&primary_key="+office+"&manufacturer=a&date="+date, "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("resolve %s: %d %s", office, resp.Code, resp.Body.String())
	}
	var res struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return res.Value
}

func TestHandler_Diagnostics(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := do(h, http.MethodGet, "/api/v1/diagnostics/pricing", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Events []diagnostics.Event `json:"events"`
		Cache  *cache.Stats        `json:"cache"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Events == nil || body.Cache == nil || body.Cache.Capacity != 16 {
		t.Fatalf("unexpected diagnostics body %+v", body)
	}
}
