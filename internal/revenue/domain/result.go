package revenue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CommissionSource records where the commission figure came from.
type CommissionSource string

const (
	CommissionFromRateTable     CommissionSource = "rate_table"
	CommissionFromAdminOverride CommissionSource = "admin_override"
)

// InstallationSource records where a line's installation cost came from.
type InstallationSource string

const (
	InstallationFromVersion  InstallationSource = "version"
	InstallationFromRegistry InstallationSource = "registry_default"
	InstallationFromSite     InstallationSource = "site"
)

// Line is the cost breakdown of one equipment type.
type Line struct {
	EquipmentKey string `json:"equipment_key"`
	Label        string `json:"label"`
	Quantity     int64  `json:"quantity"`
	UnitCost     int64  `json:"unit_cost"`
	Cost         int64  `json:"cost"`
	// Unpriced is set when no equipment cost version covers the date.
	Unpriced       bool   `json:"unpriced"`
	PriceVersionID string `json:"price_version_id,omitempty"`

	InstallationUnitCost int64              `json:"installation_unit_cost"`
	InstallationCost     int64              `json:"installation_cost"`
	InstallationSource   InstallationSource `json:"installation_source"`
}

// Result is the full calculation of one site at one date.
type Result struct {
	SiteID           string    `json:"site_id"`
	CalculationDate  time.Time `json:"calculation_date"`
	ProgressCategory string    `json:"progress_category"`
	Manufacturer     string    `json:"manufacturer"`
	SalesOffice      string    `json:"sales_office"`

	TotalRevenue int64 `json:"total_revenue"`
	TotalCost    int64 `json:"total_cost"`
	GrossProfit  int64 `json:"gross_profit"`

	CommissionRate      decimal.Decimal  `json:"commission_rate"`
	CommissionRaw       int64            `json:"commission_raw"`
	Commission          int64            `json:"commission"`
	CommissionSource    CommissionSource `json:"commission_source"`
	CommissionVersionID string           `json:"commission_version_id,omitempty"`
	CommissionUnpriced  bool             `json:"commission_unpriced"`
	CommissionNote      string           `json:"commission_note,omitempty"`

	SurveyCost       int64 `json:"survey_cost"`
	InstallationCost int64 `json:"installation_cost"`
	MiscCost         int64 `json:"misc_cost"`
	NetProfit        int64 `json:"net_profit"`

	// Unpriced is set when any equipment line is unpriced.
	Unpriced         bool     `json:"unpriced"`
	Lines            []Line   `json:"lines"`
	UnknownEquipment []string `json:"unknown_equipment,omitempty"`
}

// Degenerate reports a result with neither revenue nor cost, which means the
// inputs are not yet complete rather than that the site made no profit.
func (r Result) Degenerate() bool {
	return r.TotalRevenue == 0 && r.TotalCost == 0
}

// UnpricedKeys lists equipment keys without a configured cost.
func (r Result) UnpricedKeys() []string {
	var keys []string
	for _, line := range r.Lines {
		if line.Unpriced {
			keys = append(keys, line.EquipmentKey)
		}
	}
	return keys
}

// ZeroFilter narrows the zero-revenue scan.
type ZeroFilter struct {
	SiteIDs []string
	Limit   int
}

// Repository persists calculations keyed by (site, calculation date).
type Repository interface {
	Upsert(ctx context.Context, result Result) error
	Get(ctx context.Context, siteID string, day time.Time) (*Result, error)
	// ListZeroRevenue returns rows with total_revenue = 0, oldest first.
	ListZeroRevenue(ctx context.Context, filter ZeroFilter) ([]Result, error)
	// OverwriteZero replaces the figures of every zero-revenue row of the
	// site with result, keeping each row's calculation date.
	OverwriteZero(ctx context.Context, siteID string, result Result) (int, error)
	// ListBetween returns rows with start <= calculation_date < end.
	ListBetween(ctx context.Context, start, end time.Time) ([]Result, error)
}
