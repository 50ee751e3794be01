package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pricing "installops/internal/pricing/domain"
	revenue "installops/internal/revenue/domain"
	"installops/internal/storage"
)

const defaultCalculationsTable = "revenue_calculations"

const calculationColumns = `site_id, calculation_date, total_revenue, total_cost, gross_profit,
	commission_rate, commission_raw, commission, commission_source,
	survey_cost, installation_cost, misc_cost, net_profit, unpriced, breakdown`

// breakdown is the nested record stored next to the summary columns.
type breakdown struct {
	ProgressCategory    string         `json:"progress_category"`
	Manufacturer        string         `json:"manufacturer"`
	SalesOffice         string         `json:"sales_office"`
	CommissionVersionID string         `json:"commission_version_id,omitempty"`
	CommissionUnpriced  bool           `json:"commission_unpriced"`
	CommissionNote      string         `json:"commission_note,omitempty"`
	Lines               []revenue.Line `json:"lines"`
	UnknownEquipment    []string       `json:"unknown_equipment,omitempty"`
}

// CalculationRepository persists calculations in Postgres.
type CalculationRepository struct {
	db       *sql.DB
	table    string
	tenantID string
}

// CalculationOption configures the repository.
type CalculationOption func(*CalculationRepository)

// WithCalculationTable overrides the default table.
func WithCalculationTable(table string) CalculationOption {
	return func(repo *CalculationRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithTenantID sets the tenant id.
func WithTenantID(tenantID string) CalculationOption {
	return func(repo *CalculationRepository) {
		if tenantID != "" {
			repo.tenantID = tenantID
		}
	}
}

// NewCalculationRepository constructs a repository.
func NewCalculationRepository(db *sql.DB, opts ...CalculationOption) *CalculationRepository {
	repo := &CalculationRepository{db: db, table: defaultCalculationsTable, tenantID: "default"}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Upsert writes result keyed by (tenant, site, calculation date).
func (r *CalculationRepository) Upsert(ctx context.Context, result revenue.Result) error {
	if r == nil || r.db == nil {
		return errors.New("calculation repo: nil db")
	}
	if result.SiteID == "" || result.CalculationDate.IsZero() {
		return revenue.ErrInvalidDate
	}
	payload, err := encodeBreakdown(result)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	tenant_id, site_id, calculation_date, total_revenue, total_cost, gross_profit,
	commission_rate, commission_raw, commission, commission_source,
	survey_cost, installation_cost, misc_cost, net_profit, unpriced, breakdown
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
)
ON CONFLICT (tenant_id, site_id, calculation_date)
DO UPDATE SET
	total_revenue = EXCLUDED.total_revenue,
	total_cost = EXCLUDED.total_cost,
	gross_profit = EXCLUDED.gross_profit,
	commission_rate = EXCLUDED.commission_rate,
	commission_raw = EXCLUDED.commission_raw,
	commission = EXCLUDED.commission,
	commission_source = EXCLUDED.commission_source,
	survey_cost = EXCLUDED.survey_cost,
	installation_cost = EXCLUDED.installation_cost,
	misc_cost = EXCLUDED.misc_cost,
	net_profit = EXCLUDED.net_profit,
	unpriced = EXCLUDED.unpriced,
	breakdown = EXCLUDED.breakdown,
	updated_at = NOW()`, r.table)
	_, err = storage.Executor(ctx, r.db).ExecContext(ctx, query,
		r.tenantID,
		result.SiteID,
		pricing.Day(result.CalculationDate),
		result.TotalRevenue,
		result.TotalCost,
		result.GrossProfit,
		result.CommissionRate,
		result.CommissionRaw,
		result.Commission,
		string(result.CommissionSource),
		result.SurveyCost,
		result.InstallationCost,
		result.MiscCost,
		result.NetProfit,
		result.Unpriced,
		payload,
	)
	return err
}

// Get loads one calculation.
func (r *CalculationRepository) Get(ctx context.Context, siteID string, day time.Time) (*revenue.Result, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("calculation repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE tenant_id = $1 AND site_id = $2 AND calculation_date = $3`, calculationColumns, r.table)
	res, err := scanResult(storage.Executor(ctx, r.db).QueryRowContext(ctx, query, r.tenantID, siteID, pricing.Day(day)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, revenue.ErrCalculationNotFound
		}
		return nil, err
	}
	return &res, nil
}

// ListZeroRevenue returns zero-revenue rows, oldest first.
func (r *CalculationRepository) ListZeroRevenue(ctx context.Context, filter revenue.ZeroFilter) ([]revenue.Result, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("calculation repo: nil db")
	}
	args := []any{r.tenantID}
	conds := []string{"tenant_id = $1", "total_revenue = 0"}
	if len(filter.SiteIDs) > 0 {
		placeholders := make([]string, len(filter.SiteIDs))
		for i, id := range filter.SiteIDs {
			args = append(args, id)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conds = append(conds, fmt.Sprintf("site_id IN (%s)", strings.Join(placeholders, ", ")))
	}
	limit := ""
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		limit = fmt.Sprintf("\nLIMIT $%d", len(args))
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE %s
ORDER BY calculation_date ASC, site_id ASC%s`, calculationColumns, r.table, strings.Join(conds, " AND "), limit)
	return r.query(ctx, query, args...)
}

// OverwriteZero replaces the figures of every zero-revenue row of siteID.
func (r *CalculationRepository) OverwriteZero(ctx context.Context, siteID string, result revenue.Result) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("calculation repo: nil db")
	}
	payload, err := encodeBreakdown(result)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`
UPDATE %s
SET total_revenue = $3,
	total_cost = $4,
	gross_profit = $5,
	commission_rate = $6,
	commission_raw = $7,
	commission = $8,
	commission_source = $9,
	survey_cost = $10,
	installation_cost = $11,
	misc_cost = $12,
	net_profit = $13,
	unpriced = $14,
	breakdown = $15,
	updated_at = NOW()
WHERE tenant_id = $1 AND site_id = $2 AND total_revenue = 0`, r.table)
	res, err := storage.Executor(ctx, r.db).ExecContext(ctx, query,
		r.tenantID,
		siteID,
		result.TotalRevenue,
		result.TotalCost,
		result.GrossProfit,
		result.CommissionRate,
		result.CommissionRaw,
		result.Commission,
		string(result.CommissionSource),
		result.SurveyCost,
		result.InstallationCost,
		result.MiscCost,
		result.NetProfit,
		result.Unpriced,
		payload,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListBetween returns rows with start <= calculation_date < end.
func (r *CalculationRepository) ListBetween(ctx context.Context, start, end time.Time) ([]revenue.Result, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("calculation repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE tenant_id = $1 AND calculation_date >= $2 AND calculation_date < $3
ORDER BY calculation_date ASC, site_id ASC`, calculationColumns, r.table)
	return r.query(ctx, query, r.tenantID, pricing.Day(start), pricing.Day(end))
}

func (r *CalculationRepository) query(ctx context.Context, query string, args ...any) ([]revenue.Result, error) {
	rows, err := storage.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []revenue.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (revenue.Result, error) {
	var (
		res     revenue.Result
		source  string
		payload []byte
	)
	if err := row.Scan(
		&res.SiteID,
		&res.CalculationDate,
		&res.TotalRevenue,
		&res.TotalCost,
		&res.GrossProfit,
		&res.CommissionRate,
		&res.CommissionRaw,
		&res.Commission,
		&source,
		&res.SurveyCost,
		&res.InstallationCost,
		&res.MiscCost,
		&res.NetProfit,
		&res.Unpriced,
		&payload,
	); err != nil {
		return revenue.Result{}, err
	}
	res.CalculationDate = pricing.Day(res.CalculationDate.UTC())
	res.CommissionSource = revenue.CommissionSource(source)
	if len(payload) > 0 {
		var doc breakdown
		if err := json.Unmarshal(payload, &doc); err != nil {
			return revenue.Result{}, fmt.Errorf("calculation repo: breakdown for %s: %w", res.SiteID, err)
		}
		res.ProgressCategory = doc.ProgressCategory
		res.Manufacturer = doc.Manufacturer
		res.SalesOffice = doc.SalesOffice
		res.CommissionVersionID = doc.CommissionVersionID
		res.CommissionUnpriced = doc.CommissionUnpriced
		res.CommissionNote = doc.CommissionNote
		res.Lines = doc.Lines
		res.UnknownEquipment = doc.UnknownEquipment
	}
	return res, nil
}

func encodeBreakdown(result revenue.Result) ([]byte, error) {
	lines := result.Lines
	if lines == nil {
		lines = []revenue.Line{}
	}
	return json.Marshal(breakdown{
		ProgressCategory:    result.ProgressCategory,
		Manufacturer:        result.Manufacturer,
		SalesOffice:         result.SalesOffice,
		CommissionVersionID: result.CommissionVersionID,
		CommissionUnpriced:  result.CommissionUnpriced,
		CommissionNote:      result.CommissionNote,
		Lines:               lines,
		UnknownEquipment:    result.UnknownEquipment,
	})
}
