package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"installops/internal/equipment"
	"installops/internal/locking"
	pricingapp "installops/internal/pricing/application"
	pricing "installops/internal/pricing/domain"
	pricingrepo "installops/internal/pricing/infrastructure/postgres"
	revenueapp "installops/internal/revenue/application"
	revenue "installops/internal/revenue/domain"
	revenuerepo "installops/internal/revenue/infrastructure/postgres"
	sites "installops/internal/sites/domain"
	sitesrepo "installops/internal/sites/infrastructure/postgres"
	"installops/internal/storage"
)

const tenantID = "tenant-it-revenue"

func TestRevenue_CalculatePersistAndRecalculatePostgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := storage.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !tableExists(db, "sites") || !tableExists(db, "revenue_calculations") || !tableExists(db, "pricing_versions") {
		t.Skip("schema missing")
	}
	for _, table := range []string{"sites", "revenue_calculations", "pricing_versions"} {
		_, _ = db.ExecContext(ctx, "DELETE FROM "+table+" WHERE tenant_id = $1", tenantID)
	}

	versions := pricingrepo.NewVersionRepository(db, pricingrepo.WithTenantID(tenantID))
	coordinator, err := pricingapp.NewCoordinator(versions, storage.NewTxManager(db), pricingapp.WithKeyLocker(versions))
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seed := []pricing.Key{
		{Kind: pricing.KindEquipmentCost, Primary: "gateway", Manufacturer: "acme"},
		{Kind: pricing.KindCommissionRate, Primary: "north", Manufacturer: "acme"},
	}
	values := []int64{50000, 10}
	for i, key := range seed {
		if _, err := coordinator.Update(ctx, pricingapp.UpdateRequest{Key: key, Value: decimal.NewFromInt(values[i]), EffectiveFrom: jan}); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	siteRepo := sitesrepo.NewSiteRepository(db, sitesrepo.WithTenantID(tenantID))
	installed := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	survey := int64(20000)
	site := &sites.Site{
		ID:               "site-it-1",
		Manufacturer:     "Acme",
		SalesOffice:      "north",
		ProgressCategory: sites.ProgressSubsidy,
		InstalledAt:      &installed,
		Quantities:       map[string]int64{"gateway": 2, "mystery": 1},
		Invoices:         sites.Invoices{First: 200000, Second: 100000},
		SurveyCost:       &survey,
	}
	if err := siteRepo.Save(ctx, site); err != nil {
		t.Fatalf("save site: %v", err)
	}
	loaded, err := siteRepo.Get(ctx, site.ID)
	if err != nil {
		t.Fatalf("get site: %v", err)
	}
	if loaded.Quantities["gateway"] != 2 || loaded.SurveyCost == nil || *loaded.SurveyCost != survey || !loaded.InstalledAt.Equal(installed) {
		t.Fatalf("site did not round trip: %+v", loaded)
	}

	resolver, _ := pricingapp.NewResolver(versions)
	reader, _ := sites.NewEquipmentReader(equipment.Default())
	calculator, err := revenueapp.NewCalculator(resolver, reader)
	if err != nil {
		t.Fatalf("calculator: %v", err)
	}
	calcRepo := revenuerepo.NewCalculationRepository(db, revenuerepo.WithTenantID(tenantID))
	locker := locking.NewKeyedMutex()
	service, _ := revenueapp.NewCalculationService(siteRepo, calculator, calcRepo, revenueapp.WithLocker(locker))

	asOf := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	resp, err := service.Calculate(ctx, revenueapp.CalculateRequest{SiteID: site.ID, AsOf: asOf, Persist: true})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if resp.Result.TotalRevenue != 300000 || resp.Result.TotalCost != 100000 || resp.Result.Commission != 30000 {
		t.Fatalf("unexpected result %+v", resp.Result)
	}
	stored, err := calcRepo.Get(ctx, site.ID, asOf)
	if err != nil {
		t.Fatalf("get stored: %v", err)
	}
	if stored.NetProfit != resp.Result.NetProfit || len(stored.Lines) != len(resp.Result.Lines) ||
		len(stored.UnknownEquipment) != 1 || stored.UnknownEquipment[0] != "mystery" {
		t.Fatalf("stored calculation differs: %+v", stored)
	}

	zeroDay := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := calcRepo.Upsert(ctx, revenue.Result{SiteID: site.ID, CalculationDate: zeroDay, Lines: []revenue.Line{}}); err != nil {
		t.Fatalf("seed zero row: %v", err)
	}
	runner, _ := revenueapp.NewRecalculationRunner(siteRepo, calculator, calcRepo,
		revenueapp.WithRunnerLocker(locker), revenueapp.WithRunnerInterval(0))
	report, err := runner.RecalculateZeroRevenue(ctx, revenue.ZeroFilter{SiteIDs: []string{site.ID}})
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if report.Success != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	fixed, err := calcRepo.Get(ctx, site.ID, zeroDay)
	if err != nil {
		t.Fatalf("get recalculated: %v", err)
	}
	if fixed.TotalRevenue != 300000 {
		t.Fatalf("zero row not overwritten: %+v", fixed)
	}
	zeros, err := calcRepo.ListZeroRevenue(ctx, revenue.ZeroFilter{SiteIDs: []string{site.ID}})
	if err != nil || len(zeros) != 0 {
		t.Fatalf("expected no zero rows left, got %d %v", len(zeros), err)
	}
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
