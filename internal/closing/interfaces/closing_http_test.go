package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"installops/internal/audit"
	"installops/internal/auth"
	closingapp "installops/internal/closing/application"
	closing "installops/internal/closing/domain"
	closingmemory "installops/internal/closing/infrastructure/memory"
	revenue "installops/internal/revenue/domain"
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

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestHandler(t *testing.T) (*ClosingHandler, *stubAudit) {
	t.Helper()
	ctx := context.Background()
	siteRepo := sitesmemory.NewSiteRepository()
	installed := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	if err := siteRepo.Save(ctx, &sites.Site{ID: "s1", Manufacturer: "A", ProgressCategory: sites.ProgressSelfPay, InstalledAt: &installed}); err != nil {
		t.Fatalf("save site: %v", err)
	}
	calcs := revenuememory.NewCalculationRepository()
	_ = calcs.Upsert(ctx, revenue.Result{
		SiteID:          "s1",
		CalculationDate: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		TotalRevenue:    300000,
		TotalCost:       100000,
		GrossProfit:     200000,
		NetProfit:       180000,
		Commission:      20000,
		Lines:           []revenue.Line{},
	})
	agg, err := closingapp.NewAggregator(calcs, siteRepo, closingmemory.NewClosingRepository(),
		closingapp.WithClock(fixedClock{now: time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC)}))
	if err != nil {
		t.Fatalf("aggregator: %v", err)
	}
	logs := &stubAudit{}
	h, err := NewClosingHandler(agg, WithAudit(logs), WithTenantGuard(auth.NewTenantGuard("tenant-a")))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return h, logs
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), "tenant-a", auth.RoleAdmin, "alice"))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestClosingHandler_CloseFetchExport(t *testing.T) {
	h, logs := newTestHandler(t)

	resp := do(h, http.MethodPost, "/api/v1/closings", `{"year":2025,"month":3}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var report closing.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.SiteCount != 1 || report.Totals.NetProfit != 180000 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(logs.entries) != 1 || logs.entries[0].Action != "closing.generate" || logs.entries[0].ResourceID != "2025-03" {
		t.Fatalf("unexpected audit entries %+v", logs.entries)
	}

	resp = do(h, http.MethodGet, "/api/v1/closings/2025-03", "")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), report.SnapshotHash) {
		t.Fatalf("unexpected fetch %d %s", resp.Code, resp.Body.String())
	}

	resp = do(h, http.MethodGet, "/api/v1/closings/2025-03/export.pdf", "")
	if resp.Code != http.StatusOK || resp.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("unexpected pdf response %d %v", resp.Code, resp.Header())
	}
	if !bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("pdf body missing header")
	}

	resp = do(h, http.MethodGet, "/api/v1/closings/2025-03/export.xlsx", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected xlsx status %d", resp.Code)
	}
	book, err := excelize.OpenReader(bytes.NewReader(resp.Body.Bytes()))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer book.Close()
	site, err := book.GetCellValue("sites", "A2")
	if err != nil || site != "s1" {
		t.Fatalf("unexpected sites sheet cell %q: %v", site, err)
	}
	if len(logs.entries) != 3 || logs.entries[2].Action != "closing.export" {
		t.Fatalf("expected export audits, got %+v", logs.entries)
	}
}

func TestClosingHandler_Errors(t *testing.T) {
	h, _ := newTestHandler(t)
	cases := []struct {
		method, target, body string
		want                 int
	}{
		{http.MethodPost, "/api/v1/closings", `{"year":2025,"month":13}`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/closings", `{`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/closings", ``, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/closings/2025-3x", "", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/closings/2025-06", "", http.StatusNotFound},
		{http.MethodGet, "/api/v1/closings/2025-06/export.csv", "", http.StatusNotFound},
		{http.MethodDelete, "/api/v1/closings", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		resp := do(h, tc.method, tc.target, tc.body)
		if resp.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.target, tc.want, resp.Code)
		}
	}
}

func TestClosingHandler_TriggerClosesPreviousMonth(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := do(h, http.MethodPost, TriggerClosePath, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var report closing.Report
	_ = json.NewDecoder(resp.Body).Decode(&report)
	if report.Year != 2025 || report.Month != 3 || report.SiteCount != 1 {
		t.Fatalf("unexpected trigger report %+v", report)
	}
}

func TestClosingHandler_TenantMismatch(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/closings/2025-03", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "tenant-b", auth.RoleAdmin, "mallory"))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}
