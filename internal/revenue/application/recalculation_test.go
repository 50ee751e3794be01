package application

import (
	"context"
	"testing"

	pricing "installops/internal/pricing/domain"
	revenue "installops/internal/revenue/domain"
	sites "installops/internal/sites/domain"
)

func storeZero(t *testing.T, f *fixture, siteID string, d ...int) {
	t.Helper()
	for _, dd := range d {
		if err := f.calcs.Upsert(context.Background(), revenue.Result{SiteID: siteID, CalculationDate: day(2025, 1, dd)}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
}

func TestRecalculation_CountsAndOverwrites(t *testing.T) {
	f := newFixture(t)
	f.price(pricing.KindEquipmentCost, "gateway", "A", "100000", day(2025, 1, 1))
	f.site(t, sites.Site{ID: "fixed", Manufacturer: "A", Quantities: map[string]int64{"gateway": 1}, Invoices: sites.Invoices{First: 400000}})
	f.site(t, sites.Site{ID: "empty"})
	storeZero(t, f, "fixed", 5, 6)
	storeZero(t, f, "empty", 5)
	storeZero(t, f, "ghost", 7)

	runner, err := NewRecalculationRunner(f.sites, f.calc, f.calcs,
		WithRunnerInterval(0),
		WithRunnerClock(fixedClock{now: day(2025, 3, 1)}),
	)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	report, err := runner.RecalculateZeroRevenue(context.Background(), revenue.ZeroFilter{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Success != 1 || report.Skipped != 1 || report.Failed != 1 {
		t.Fatalf("unexpected counts %+v", report)
	}
	if len(report.Unresolved) != 2 || report.Unresolved[0] != "empty" || report.Unresolved[1] != "ghost" {
		t.Fatalf("unexpected unresolved %v", report.Unresolved)
	}
	for _, item := range report.Items {
		if item.SiteID == "fixed" && (item.Outcome != OutcomeSuccess || item.RowsUpdated != 2) {
			t.Fatalf("expected both duplicate rows fixed, got %+v", item)
		}
	}

	for _, d := range []int{5, 6} {
		row, err := f.calcs.Get(context.Background(), "fixed", day(2025, 1, d))
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if row.TotalRevenue != 400000 || row.TotalCost != 100000 {
			t.Fatalf("row %d not overwritten: %+v", d, row)
		}
	}
	row, _ := f.calcs.Get(context.Background(), "empty", day(2025, 1, 5))
	if row.TotalRevenue != 0 || len(row.Lines) != 0 {
		t.Fatalf("degenerate site must stay untouched: %+v", row)
	}
}

func TestRecalculation_DegenerateSiteSkippedTwice(t *testing.T) {
	f := newFixture(t)
	f.site(t, sites.Site{ID: "empty"})
	storeZero(t, f, "empty", 1)
	runner, _ := NewRecalculationRunner(f.sites, f.calc, f.calcs, WithRunnerInterval(0))
	for i := 0; i < 2; i++ {
		report, err := runner.RecalculateZeroRevenue(context.Background(), revenue.ZeroFilter{})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if report.Skipped != 1 || report.Success != 0 || report.Failed != 0 {
			t.Fatalf("run %d: unexpected counts %+v", i, report)
		}
	}
}

func TestRecalculation_FilterAndCanceledContext(t *testing.T) {
	f := newFixture(t)
	f.site(t, sites.Site{ID: "a", Invoices: sites.Invoices{First: 10}})
	f.site(t, sites.Site{ID: "b", Invoices: sites.Invoices{First: 10}})
	storeZero(t, f, "a", 1)
	storeZero(t, f, "b", 1)

	runner, _ := NewRecalculationRunner(f.sites, f.calc, f.calcs, WithRunnerInterval(0))
	report, _ := runner.RecalculateZeroRevenue(context.Background(), revenue.ZeroFilter{SiteIDs: []string{"b"}})
	if report.Success != 1 || len(report.Items) != 1 || report.Items[0].SiteID != "b" {
		t.Fatalf("filter ignored: %+v", report)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := runner.RecalculateZeroRevenue(ctx, revenue.ZeroFilter{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Failed != 1 || report.Items[0].SiteID != "a" {
		t.Fatalf("expected remaining site failed, got %+v", report)
	}
}
