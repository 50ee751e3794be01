package closing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	revenue "installops/internal/revenue/domain"
)

// Totals are the summed figures of a set of calculations.
type Totals struct {
	TotalRevenue     int64 `json:"total_revenue"`
	TotalCost        int64 `json:"total_cost"`
	GrossProfit      int64 `json:"gross_profit"`
	Commission       int64 `json:"commission"`
	SurveyCost       int64 `json:"survey_cost"`
	InstallationCost int64 `json:"installation_cost"`
	MiscCost         int64 `json:"misc_cost"`
	NetProfit        int64 `json:"net_profit"`
}

// Add accumulates one calculation.
func (t *Totals) Add(r revenue.Result) {
	t.TotalRevenue += r.TotalRevenue
	t.TotalCost += r.TotalCost
	t.GrossProfit += r.GrossProfit
	t.Commission += r.Commission
	t.SurveyCost += r.SurveyCost
	t.InstallationCost += r.InstallationCost
	t.MiscCost += r.MiscCost
	t.NetProfit += r.NetProfit
}

// SiteDetail is one site's contribution to a closing.
type SiteDetail struct {
	SiteID           string   `json:"site_id"`
	InstalledAt      string   `json:"installed_at"`
	CalculationDates []string `json:"calculation_dates"`
	Unpriced         bool     `json:"unpriced"`
	Totals
}

// Report is the closing of one month.
type Report struct {
	Year             int          `json:"year"`
	Month            int          `json:"month"`
	PeriodStart      time.Time    `json:"period_start"`
	PeriodEnd        time.Time    `json:"period_end"`
	Totals           Totals       `json:"totals"`
	SiteCount        int          `json:"site_count"`
	CalculationCount int          `json:"calculation_count"`
	Sites            []SiteDetail `json:"sites"`
	SnapshotHash     string       `json:"snapshot_hash"`
	GeneratedAt      time.Time    `json:"generated_at"`
}

// Period returns the report window.
func (r Report) Period() Period {
	p, _ := NewPeriod(r.Year, r.Month)
	return p
}

// Aggregate sums the calculations dated inside period whose site has a
// confirmed install date. installed maps site id to its install date; sites
// missing from it are left out.
func Aggregate(period Period, calcs []revenue.Result, installed map[string]time.Time) Report {
	report := Report{
		Year:        period.Year,
		Month:       int(period.Month),
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Sites:       []SiteDetail{},
	}
	bySite := make(map[string]*SiteDetail)
	for _, calc := range calcs {
		if !period.Contains(calc.CalculationDate) {
			continue
		}
		installedAt, ok := installed[calc.SiteID]
		if !ok || installedAt.IsZero() {
			continue
		}
		detail, ok := bySite[calc.SiteID]
		if !ok {
			detail = &SiteDetail{SiteID: calc.SiteID, InstalledAt: installedAt.Format("2006-01-02")}
			bySite[calc.SiteID] = detail
		}
		detail.Add(calc)
		detail.CalculationDates = append(detail.CalculationDates, calc.CalculationDate.Format("2006-01-02"))
		detail.Unpriced = detail.Unpriced || calc.Unpriced
		report.Totals.Add(calc)
		report.CalculationCount++
	}
	for _, detail := range bySite {
		sort.Strings(detail.CalculationDates)
		report.Sites = append(report.Sites, *detail)
	}
	sort.Slice(report.Sites, func(i, j int) bool {
		return report.Sites[i].SiteID < report.Sites[j].SiteID
	})
	report.SiteCount = len(report.Sites)
	report.SnapshotHash = SnapshotHash(report)
	return report
}

// SnapshotHash hashes everything but the generation time, so two closings of
// unchanged data hash equal.
func SnapshotHash(r Report) string {
	payload := struct {
		Year             int          `json:"year"`
		Month            int          `json:"month"`
		Totals           Totals       `json:"totals"`
		SiteCount        int          `json:"site_count"`
		CalculationCount int          `json:"calculation_count"`
		Sites            []SiteDetail `json:"sites"`
	}{r.Year, r.Month, r.Totals, r.SiteCount, r.CalculationCount, r.Sites}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Repository persists closings keyed by (year, month).
type Repository interface {
	Save(ctx context.Context, report Report) error
	Get(ctx context.Context, year, month int) (*Report, error)
}
