package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"installops/internal/audit"
	"installops/internal/equipment"
	pricingapp "installops/internal/pricing/application"
	pricing "installops/internal/pricing/domain"
	pricingmemory "installops/internal/pricing/infrastructure/memory"
	revenueapp "installops/internal/revenue/application"
	revenuememory "installops/internal/revenue/infrastructure/memory"
	sites "installops/internal/sites/domain"
	sitesmemory "installops/internal/sites/infrastructure/memory"
)

type stubAudit struct {
	entries []audit.Entry
}

func (s *stubAudit) Log(ctx context.Context, entry audit.Entry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *stubAudit) {
	t.Helper()
	prices := pricingmemory.NewVersionRepository()
	_ = prices.Insert(context.Background(), pricing.Version{
		ID:            "v1",
		Key:           pricing.Key{Kind: pricing.KindEquipmentCost, Primary: "gateway", Manufacturer: "a"},
		Value:         decimal.NewFromInt(100000),
		EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:        pricing.StatusActive,
		Active:        true,
	})
	siteRepo := sitesmemory.NewSiteRepository()
	_ = siteRepo.Save(context.Background(), &sites.Site{
		ID:               "site-1",
		Manufacturer:     "A",
		ProgressCategory: sites.ProgressSubsidy,
		Quantities:       map[string]int64{"gateway": 2},
		Invoices:         sites.Invoices{First: 500000},
	})
	resolver, _ := pricingapp.NewResolver(prices)
	reader, _ := sites.NewEquipmentReader(equipment.Default())
	calc, err := revenueapp.NewCalculator(resolver, reader)
	if err != nil {
		t.Fatalf("calculator: %v", err)
	}
	calcs := revenuememory.NewCalculationRepository()
	svc, _ := revenueapp.NewCalculationService(siteRepo, calc, calcs)
	runner, _ := revenueapp.NewRecalculationRunner(siteRepo, calc, calcs, revenueapp.WithRunnerInterval(0))
	logs := &stubAudit{}
	h, err := NewHandler(svc, runner, WithAudit(logs))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return h, logs
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestHandler_CalculateAndFetch(t *testing.T) {
	h, logs := newTestHandler(t)

	resp := do(h, http.MethodPost, "/api/v1/calculations", `{"site_id":"site-1","as_of_date":"2025-03-01","persist":true}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body revenueapp.CalculateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Persisted || body.Result.TotalCost != 200000 || body.Result.GrossProfit != 300000 {
		t.Fatalf("unexpected response %+v", body)
	}
	// Audit entries need a tenant; none is configured here.
	if len(logs.entries) != 0 {
		t.Fatalf("unexpected audit entries %+v", logs.entries)
	}

	resp = do(h, http.MethodGet, "/api/v1/calculations?site_id=site-1&date=2025-03-01", "")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"total_revenue":500000`) {
		t.Fatalf("unexpected stored response %d %s", resp.Code, resp.Body.String())
	}
	resp = do(h, http.MethodGet, "/api/v1/calculations?site_id=site-1&date=2025-03-02", "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestHandler_CalculateErrors(t *testing.T) {
	h, _ := newTestHandler(t)
	cases := map[string]int{
		`{"site_id":"missing","as_of_date":"2025-03-01"}`: http.StatusNotFound,
		`{"site_id":"site-1","as_of_date":"03/01/2025"}`:  http.StatusBadRequest,
		`{"as_of_date":"2025-03-01"}`:                     http.StatusBadRequest,
		`{`:                                               http.StatusBadRequest,
	}
	for body, want := range cases {
		resp := do(h, http.MethodPost, "/api/v1/calculations", body)
		if resp.Code != want {
			t.Fatalf("body %s: expected %d, got %d", body, want, resp.Code)
		}
	}
}

func TestHandler_RecalculateEmptyBody(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := do(h, http.MethodPost, "/api/v1/recalculations/zero-revenue", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var report revenueapp.RecalcReport
	_ = json.NewDecoder(resp.Body).Decode(&report)
	if report.Success != 0 || report.Unresolved == nil {
		t.Fatalf("unexpected report %+v", report)
	}
	resp = do(h, http.MethodPost, TriggerRecalcPath, `{"limit":-1}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", resp.Code)
	}
}
