package application

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"installops/internal/equipment"
	pricingapp "installops/internal/pricing/application"
	pricing "installops/internal/pricing/domain"
	pricingmemory "installops/internal/pricing/infrastructure/memory"
	revenuememory "installops/internal/revenue/infrastructure/memory"
	sites "installops/internal/sites/domain"
	sitesmemory "installops/internal/sites/infrastructure/memory"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func int64Ptr(v int64) *int64 {
	return &v
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type fixture struct {
	prices *pricingmemory.VersionRepository
	sites  *sitesmemory.SiteRepository
	calcs  *revenuememory.CalculationRepository
	calc   *Calculator
	n      int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		prices: pricingmemory.NewVersionRepository(),
		sites:  sitesmemory.NewSiteRepository(),
		calcs:  revenuememory.NewCalculationRepository(),
	}
	resolver, err := pricingapp.NewResolver(f.prices)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	reader, err := sites.NewEquipmentReader(equipment.Default())
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	f.calc, err = NewCalculator(resolver, reader)
	if err != nil {
		t.Fatalf("calculator: %v", err)
	}
	return f
}

func (f *fixture) price(kind pricing.Kind, primary, manufacturer, value string, from time.Time) {
	f.n++
	_ = f.prices.Insert(context.Background(), pricing.Version{
		ID:            "v" + string(rune('a'+f.n)),
		Key:           pricing.Key{Kind: kind, Primary: primary, Manufacturer: pricing.NormalizeManufacturer(manufacturer)},
		Value:         decimal.RequireFromString(value),
		EffectiveFrom: from,
		Status:        pricing.StatusActive,
		Active:        true,
		CreatedAt:     from,
	})
}

func (f *fixture) site(t *testing.T, site sites.Site) *sites.Site {
	t.Helper()
	if site.ProgressCategory == "" {
		site.ProgressCategory = sites.ProgressSubsidy
	}
	if err := f.sites.Save(context.Background(), &site); err != nil {
		t.Fatalf("save site: %v", err)
	}
	return &site
}
