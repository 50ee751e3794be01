package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	closing "installops/internal/closing/domain"
	"installops/internal/storage"
)

const defaultClosingsTable = "monthly_closings"

// ClosingRepository persists monthly closings.
type ClosingRepository struct {
	db       *sql.DB
	table    string
	tenantID string
}

// ClosingOption configures the repository.
type ClosingOption func(*ClosingRepository)

// WithClosingTable overrides the default table.
func WithClosingTable(table string) ClosingOption {
	return func(repo *ClosingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithTenantID sets the tenant id.
func WithTenantID(tenantID string) ClosingOption {
	return func(repo *ClosingRepository) {
		if tenantID != "" {
			repo.tenantID = tenantID
		}
	}
}

// NewClosingRepository constructs a repository.
func NewClosingRepository(db *sql.DB, opts ...ClosingOption) *ClosingRepository {
	repo := &ClosingRepository{db: db, table: defaultClosingsTable, tenantID: "default"}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Save upserts the closing for its year/month.
func (r *ClosingRepository) Save(ctx context.Context, report closing.Report) error {
	if r == nil || r.db == nil {
		return errors.New("closing repo: nil db")
	}
	details := report.Sites
	if details == nil {
		details = []closing.SiteDetail{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return err
	}
	t := report.Totals
	query := fmt.Sprintf(`
INSERT INTO %s (
	tenant_id, year, month, period_start, period_end,
	total_revenue, total_cost, gross_profit, commission, survey_cost, installation_cost, misc_cost, net_profit,
	site_count, calculation_count, snapshot_hash, details, generated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
)
ON CONFLICT (tenant_id, year, month)
DO UPDATE SET
	period_start = EXCLUDED.period_start,
	period_end = EXCLUDED.period_end,
	total_revenue = EXCLUDED.total_revenue,
	total_cost = EXCLUDED.total_cost,
	gross_profit = EXCLUDED.gross_profit,
	commission = EXCLUDED.commission,
	survey_cost = EXCLUDED.survey_cost,
	installation_cost = EXCLUDED.installation_cost,
	misc_cost = EXCLUDED.misc_cost,
	net_profit = EXCLUDED.net_profit,
	site_count = EXCLUDED.site_count,
	calculation_count = EXCLUDED.calculation_count,
	snapshot_hash = EXCLUDED.snapshot_hash,
	details = EXCLUDED.details,
	generated_at = EXCLUDED.generated_at`, r.table)
	_, err = storage.Executor(ctx, r.db).ExecContext(ctx, query,
		r.tenantID,
		report.Year,
		report.Month,
		report.PeriodStart,
		report.PeriodEnd,
		t.TotalRevenue,
		t.TotalCost,
		t.GrossProfit,
		t.Commission,
		t.SurveyCost,
		t.InstallationCost,
		t.MiscCost,
		t.NetProfit,
		report.SiteCount,
		report.CalculationCount,
		report.SnapshotHash,
		payload,
		report.GeneratedAt,
	)
	return err
}

// Get loads the closing for year/month.
func (r *ClosingRepository) Get(ctx context.Context, year, month int) (*closing.Report, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("closing repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT year, month, period_start, period_end,
	total_revenue, total_cost, gross_profit, commission, survey_cost, installation_cost, misc_cost, net_profit,
	site_count, calculation_count, snapshot_hash, details, generated_at
FROM %s
WHERE tenant_id = $1 AND year = $2 AND month = $3`, r.table)
	var (
		report  closing.Report
		payload []byte
	)
	t := &report.Totals
	err := storage.Executor(ctx, r.db).QueryRowContext(ctx, query, r.tenantID, year, month).Scan(
		&report.Year,
		&report.Month,
		&report.PeriodStart,
		&report.PeriodEnd,
		&t.TotalRevenue,
		&t.TotalCost,
		&t.GrossProfit,
		&t.Commission,
		&t.SurveyCost,
		&t.InstallationCost,
		&t.MiscCost,
		&t.NetProfit,
		&report.SiteCount,
		&report.CalculationCount,
		&report.SnapshotHash,
		&payload,
		&report.GeneratedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, closing.ErrClosingNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(payload, &report.Sites); err != nil {
		return nil, fmt.Errorf("closing repo: details: %w", err)
	}
	report.PeriodStart = report.PeriodStart.UTC()
	report.PeriodEnd = report.PeriodEnd.UTC()
	report.GeneratedAt = report.GeneratedAt.UTC()
	return &report, nil
}
