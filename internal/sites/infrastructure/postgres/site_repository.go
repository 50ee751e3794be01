package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sites "installops/internal/sites/domain"
	"installops/internal/storage"
)

const defaultSitesTable = "sites"

const siteColumns = `id, manufacturer, sales_office, progress_category, installed_at, quantities,
	first_invoice, second_invoice, advance_invoice, balance_invoice,
	admin_adjusted_commission, commission_adjust_reason, commission_adjusted_by,
	survey_cost, installation_cost, misc_cost, inactive, deleted, created_at, updated_at`

// SiteRepository is a Postgres implementation for sites.
type SiteRepository struct {
	db       *sql.DB
	table    string
	tenantID string
}

// SiteOption configures the repository.
type SiteOption func(*SiteRepository)

// WithSiteTable overrides the default table name.
func WithSiteTable(table string) SiteOption {
	return func(repo *SiteRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithTenantID sets the tenant id.
func WithTenantID(tenantID string) SiteOption {
	return func(repo *SiteRepository) {
		if tenantID != "" {
			repo.tenantID = tenantID
		}
	}
}

// NewSiteRepository constructs a repository.
func NewSiteRepository(db *sql.DB, opts ...SiteOption) *SiteRepository {
	repo := &SiteRepository{db: db, table: defaultSitesTable, tenantID: "default"}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Get loads a site by id.
func (r *SiteRepository) Get(ctx context.Context, id string) (*sites.Site, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("site repo: nil db")
	}
	if id == "" {
		return nil, sites.ErrEmptySiteID
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE tenant_id = $1 AND id = $2
LIMIT 1`, siteColumns, r.table)
	site, err := scanSite(storage.Executor(ctx, r.db).QueryRowContext(ctx, query, r.tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sites.ErrSiteNotFound
		}
		return nil, err
	}
	return &site, nil
}

// List loads the sites with the given ids.
func (r *SiteRepository) List(ctx context.Context, ids []string) ([]sites.Site, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("site repo: nil db")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, r.tenantID)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE tenant_id = $1 AND id IN (%s)
ORDER BY id ASC`, siteColumns, r.table, strings.Join(placeholders, ", "))
	rows, err := storage.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sites.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, site)
	}
	return out, rows.Err()
}

// Save upserts a site.
func (r *SiteRepository) Save(ctx context.Context, site *sites.Site) error {
	if r == nil || r.db == nil {
		return errors.New("site repo: nil db")
	}
	if site == nil {
		return errors.New("site repo: nil site")
	}
	if err := site.Validate(); err != nil {
		return err
	}
	quantities, err := json.Marshal(site.Quantities)
	if err != nil {
		return err
	}
	if site.Quantities == nil {
		quantities = []byte("{}")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	tenant_id, id, manufacturer, sales_office, progress_category, installed_at, quantities,
	first_invoice, second_invoice, advance_invoice, balance_invoice,
	admin_adjusted_commission, commission_adjust_reason, commission_adjusted_by,
	survey_cost, installation_cost, misc_cost, inactive, deleted
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19
)
ON CONFLICT (tenant_id, id)
DO UPDATE SET
	manufacturer = EXCLUDED.manufacturer,
	sales_office = EXCLUDED.sales_office,
	progress_category = EXCLUDED.progress_category,
	installed_at = EXCLUDED.installed_at,
	quantities = EXCLUDED.quantities,
	first_invoice = EXCLUDED.first_invoice,
	second_invoice = EXCLUDED.second_invoice,
	advance_invoice = EXCLUDED.advance_invoice,
	balance_invoice = EXCLUDED.balance_invoice,
	admin_adjusted_commission = EXCLUDED.admin_adjusted_commission,
	commission_adjust_reason = EXCLUDED.commission_adjust_reason,
	commission_adjusted_by = EXCLUDED.commission_adjusted_by,
	survey_cost = EXCLUDED.survey_cost,
	installation_cost = EXCLUDED.installation_cost,
	misc_cost = EXCLUDED.misc_cost,
	inactive = EXCLUDED.inactive,
	deleted = EXCLUDED.deleted,
	updated_at = NOW()`, r.table)

	_, err = storage.Executor(ctx, r.db).ExecContext(ctx, query,
		r.tenantID,
		site.ID,
		site.Manufacturer,
		site.SalesOffice,
		string(site.ProgressCategory),
		nullTime(site),
		quantities,
		site.Invoices.First,
		site.Invoices.Second,
		site.Invoices.Advance,
		site.Invoices.Balance,
		nullInt(site.AdminAdjustedCommission),
		site.CommissionAdjustReason,
		site.CommissionAdjustedBy,
		nullInt(site.SurveyCost),
		nullInt(site.InstallationCost),
		site.MiscCost,
		site.Inactive,
		site.Deleted,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSite(row rowScanner) (sites.Site, error) {
	var (
		site        sites.Site
		category    string
		installedAt sql.NullTime
		quantities  []byte
		adjusted    sql.NullInt64
		survey      sql.NullInt64
		install     sql.NullInt64
	)
	if err := row.Scan(
		&site.ID,
		&site.Manufacturer,
		&site.SalesOffice,
		&category,
		&installedAt,
		&quantities,
		&site.Invoices.First,
		&site.Invoices.Second,
		&site.Invoices.Advance,
		&site.Invoices.Balance,
		&adjusted,
		&site.CommissionAdjustReason,
		&site.CommissionAdjustedBy,
		&survey,
		&install,
		&site.MiscCost,
		&site.Inactive,
		&site.Deleted,
		&site.CreatedAt,
		&site.UpdatedAt,
	); err != nil {
		return sites.Site{}, err
	}
	site.ProgressCategory = sites.ProgressCategory(category)
	if installedAt.Valid {
		t := installedAt.Time.UTC()
		site.InstalledAt = &t
	}
	if len(quantities) > 0 {
		if err := json.Unmarshal(quantities, &site.Quantities); err != nil {
			return sites.Site{}, fmt.Errorf("site repo: quantities for %s: %w", site.ID, err)
		}
	}
	site.AdminAdjustedCommission = fromNullInt(adjusted)
	site.SurveyCost = fromNullInt(survey)
	site.InstallationCost = fromNullInt(install)
	site.CreatedAt = site.CreatedAt.UTC()
	site.UpdatedAt = site.UpdatedAt.UTC()
	return site, nil
}

func nullTime(site *sites.Site) any {
	if !site.Installed() {
		return nil
	}
	return site.InstalledAt.UTC()
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}
