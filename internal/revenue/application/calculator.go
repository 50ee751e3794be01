package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"installops/internal/observability/metrics"
	pricingapp "installops/internal/pricing/application"
	pricing "installops/internal/pricing/domain"
	revenue "installops/internal/revenue/domain"
	sites "installops/internal/sites/domain"
)

var hundred = decimal.NewFromInt(100)

// PriceResolver resolves one time-versioned value.
type PriceResolver interface {
	Resolve(ctx context.Context, kind pricing.Kind, primary, manufacturer string, asOf time.Time) (pricingapp.Resolution, error)
}

// Calculator computes revenue, cost and profit for one site at one date.
// It holds no mutable state; identical inputs give identical results.
type Calculator struct {
	prices PriceResolver
	reader *sites.EquipmentReader
	logger *zap.Logger
}

// CalculatorOption configures the calculator.
type CalculatorOption func(*Calculator)

// WithCalculatorLogger sets the logger.
func WithCalculatorLogger(logger *zap.Logger) CalculatorOption {
	return func(c *Calculator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCalculator constructs a calculator.
func NewCalculator(prices PriceResolver, reader *sites.EquipmentReader, opts ...CalculatorOption) (*Calculator, error) {
	if prices == nil {
		return nil, errors.New("revenue calculator: nil price resolver")
	}
	if reader == nil {
		return nil, errors.New("revenue calculator: nil equipment reader")
	}
	c := &Calculator{prices: prices, reader: reader, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Calculate builds the breakdown for site as of asOf. Missing prices never
// fail the call; they are flagged as unpriced on the result.
func (c *Calculator) Calculate(ctx context.Context, site *sites.Site, asOf time.Time) (result revenue.Result, err error) {
	start := time.Now()
	outcome := metrics.ResultSuccess
	defer func() {
		if err != nil {
			outcome = metrics.ResultError
		}
		metrics.ObserveRevenueCalculation(outcome, time.Since(start))
	}()

	if site == nil {
		return revenue.Result{}, revenue.ErrNilSite
	}
	if asOf.IsZero() {
		return revenue.Result{}, revenue.ErrInvalidDate
	}
	if site.Deleted {
		return revenue.Result{}, fmt.Errorf("%w: %s", sites.ErrSiteDeleted, site.ID)
	}
	if err := site.Validate(); err != nil {
		return revenue.Result{}, err
	}
	reading, err := c.reader.Read(*site)
	if err != nil {
		return revenue.Result{}, err
	}
	day := pricing.Day(asOf)

	result = revenue.Result{
		SiteID:           site.ID,
		CalculationDate:  day,
		ProgressCategory: string(site.ProgressCategory),
		Manufacturer:     reading.Manufacturer,
		SalesOffice:      reading.SalesOffice,
		TotalRevenue:     site.Revenue(),
		MiscCost:         site.MiscCost,
		UnknownEquipment: reading.Unknown,
		Lines:            make([]revenue.Line, 0, len(reading.Items)),
	}

	var installationTotal int64
	for _, item := range reading.Items {
		line, err := c.line(ctx, item, reading.Manufacturer, day, site.InstallationCost == nil)
		if err != nil {
			return revenue.Result{}, err
		}
		result.TotalCost += line.Cost
		installationTotal += line.InstallationCost
		if line.Unpriced {
			result.Unpriced = true
		}
		result.Lines = append(result.Lines, line)
	}
	result.GrossProfit = result.TotalRevenue - result.TotalCost

	if err := c.commission(ctx, site, reading, day, &result); err != nil {
		return revenue.Result{}, err
	}

	if site.SurveyCost != nil {
		result.SurveyCost = *site.SurveyCost
	}
	if site.InstallationCost != nil {
		result.InstallationCost = *site.InstallationCost
	} else {
		result.InstallationCost = installationTotal
	}
	result.NetProfit = result.GrossProfit - result.Commission - result.SurveyCost - result.InstallationCost - result.MiscCost

	if result.Unpriced {
		c.logger.Info("calculation has unpriced equipment",
			zap.String("site_id", site.ID),
			zap.String("as_of", pricing.FormatDate(day)),
			zap.Strings("equipment", result.UnpricedKeys()),
		)
	}
	return result, nil
}

func (c *Calculator) line(ctx context.Context, item sites.Item, manufacturer string, day time.Time, withInstallation bool) (revenue.Line, error) {
	line := revenue.Line{
		EquipmentKey: item.Descriptor.Key,
		Label:        item.Descriptor.Label,
		Quantity:     item.Quantity,
	}
	price, err := c.prices.Resolve(ctx, pricing.KindEquipmentCost, item.Descriptor.Key, manufacturer, day)
	if err != nil {
		return revenue.Line{}, fmt.Errorf("revenue: resolve %s cost: %w", item.Descriptor.Key, err)
	}
	if price.Found {
		line.UnitCost = price.Value.Round(0).IntPart()
		line.PriceVersionID = price.VersionID
	} else {
		line.Unpriced = true
	}
	line.Cost = line.UnitCost * item.Quantity

	if !withInstallation {
		line.InstallationSource = revenue.InstallationFromSite
		return line, nil
	}
	inst, err := c.prices.Resolve(ctx, pricing.KindInstallationCost, item.Descriptor.Key, manufacturer, day)
	if err != nil {
		return revenue.Line{}, fmt.Errorf("revenue: resolve %s installation cost: %w", item.Descriptor.Key, err)
	}
	if inst.Found {
		line.InstallationUnitCost = inst.Value.Round(0).IntPart()
		line.InstallationSource = revenue.InstallationFromVersion
	} else {
		line.InstallationUnitCost = item.Descriptor.DefaultInstallationCost
		line.InstallationSource = revenue.InstallationFromRegistry
	}
	line.InstallationCost = line.InstallationUnitCost * item.Quantity
	return line, nil
}

// commission fills the rate-table commission and applies the admin override.
// The override is not effective-dated; it replaces the figure whenever set.
func (c *Calculator) commission(ctx context.Context, site *sites.Site, reading sites.Reading, day time.Time, result *revenue.Result) error {
	rate, err := c.prices.Resolve(ctx, pricing.KindCommissionRate, reading.SalesOffice, reading.Manufacturer, day)
	if err != nil {
		return fmt.Errorf("revenue: resolve commission rate: %w", err)
	}
	if rate.Found {
		result.CommissionRate = rate.Value
		result.CommissionVersionID = rate.VersionID
		result.CommissionRaw = decimal.NewFromInt(result.TotalRevenue).Mul(rate.Value).Div(hundred).Round(0).IntPart()
	} else {
		result.CommissionUnpriced = true
	}
	result.Commission = result.CommissionRaw
	result.CommissionSource = revenue.CommissionFromRateTable

	if site.AdminAdjustedCommission != nil {
		result.Commission = *site.AdminAdjustedCommission
		result.CommissionSource = revenue.CommissionFromAdminOverride
		result.CommissionNote = site.CommissionAdjustReason
		if site.CommissionAdjustedBy != "" {
			result.CommissionNote = fmt.Sprintf("%s (by %s)", site.CommissionAdjustReason, site.CommissionAdjustedBy)
		}
	}
	return nil
}
