package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pricing "installops/internal/pricing/domain"
	"installops/internal/storage"
)

const defaultVersionsTable = "pricing_versions"

// VersionRepository persists pricing versions in Postgres. Writes join the
// transaction carried by ctx when one was started by storage.TxManager.
type VersionRepository struct {
	db       *sql.DB
	table    string
	tenantID string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*VersionRepository)

// WithTable overrides the default table.
func WithTable(table string) RepositoryOption {
	return func(repo *VersionRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithTenantID sets the tenant id.
func WithTenantID(tenantID string) RepositoryOption {
	return func(repo *VersionRepository) {
		if tenantID != "" {
			repo.tenantID = tenantID
		}
	}
}

// NewVersionRepository constructs a repository with defaults.
func NewVersionRepository(db *sql.DB, opts ...RepositoryOption) *VersionRepository {
	repo := &VersionRepository{
		db:       db,
		table:    defaultVersionsTable,
		tenantID: "default",
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// LockKey takes a transaction-scoped advisory lock for the key.
func (r *VersionRepository) LockKey(ctx context.Context, key pricing.Key) error {
	if r == nil || r.db == nil {
		return errors.New("pricing repo: nil db")
	}
	if !storage.InTx(ctx) {
		return errors.New("pricing repo: lock requires a transaction")
	}
	_, err := storage.Executor(ctx, r.db).ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, r.tenantID+"|"+key.String())
	return err
}

// ListVersions returns all rows for key ordered by effective_from.
func (r *VersionRepository) ListVersions(ctx context.Context, key pricing.Key) ([]pricing.Version, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("pricing repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE tenant_id = $1 AND kind = $2 AND primary_key = $3 AND manufacturer = $4
ORDER BY effective_from ASC, id ASC`, versionColumns, r.table)
	rows, err := storage.Executor(ctx, r.db).QueryContext(ctx, query, r.tenantID, string(key.Kind), key.Primary, key.Manufacturer)
	if err != nil {
		return nil, err
	}
	return scanVersions(rows)
}

// ListCovering returns usable versions of key covering day.
func (r *VersionRepository) ListCovering(ctx context.Context, key pricing.Key, day time.Time) ([]pricing.Version, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("pricing repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE tenant_id = $1 AND kind = $2 AND primary_key = $3 AND manufacturer = $4
	AND active = TRUE AND deleted = FALSE AND status = 'active'
	AND effective_from <= $5 AND (effective_to IS NULL OR effective_to >= $5)
ORDER BY effective_from DESC, created_at DESC, id DESC`, versionColumns, r.table)
	rows, err := storage.Executor(ctx, r.db).QueryContext(ctx, query, r.tenantID, string(key.Kind), key.Primary, key.Manufacturer, pricing.Day(day))
	if err != nil {
		return nil, err
	}
	return scanVersions(rows)
}

// HasKey reports whether usable rows exist for key.
func (r *VersionRepository) HasKey(ctx context.Context, key pricing.Key) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("pricing repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT EXISTS (
	SELECT 1 FROM %s
	WHERE tenant_id = $1 AND kind = $2 AND primary_key = $3 AND manufacturer = $4
		AND active = TRUE AND deleted = FALSE AND status = 'active'
)`, r.table)
	var exists bool
	err := storage.Executor(ctx, r.db).QueryRowContext(ctx, query, r.tenantID, string(key.Kind), key.Primary, key.Manufacturer).Scan(&exists)
	return exists, err
}

// ListOpenPrimaryKeys returns primary keys with an open usable version.
func (r *VersionRepository) ListOpenPrimaryKeys(ctx context.Context, kind pricing.Kind, manufacturer string) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("pricing repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT DISTINCT primary_key
FROM %s
WHERE tenant_id = $1 AND kind = $2 AND manufacturer = $3
	AND active = TRUE AND deleted = FALSE AND status = 'active'
	AND effective_to IS NULL
ORDER BY primary_key ASC`, r.table)
	rows, err := storage.Executor(ctx, r.db).QueryContext(ctx, query, r.tenantID, string(kind), manufacturer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// Insert stores a new version.
func (r *VersionRepository) Insert(ctx context.Context, v pricing.Version) error {
	if r == nil || r.db == nil {
		return errors.New("pricing repo: nil db")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, tenant_id, kind, primary_key, manufacturer, value,
	effective_from, effective_to, status, active, deleted, note,
	created_by, created_at, updated_by, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)`, r.table)
	var to sql.NullTime
	if v.EffectiveTo != nil {
		to = sql.NullTime{Time: pricing.Day(*v.EffectiveTo), Valid: true}
	}
	_, err := storage.Executor(ctx, r.db).ExecContext(ctx, query,
		v.ID, r.tenantID, string(v.Key.Kind), v.Key.Primary, v.Key.Manufacturer, v.Value,
		pricing.Day(v.EffectiveFrom), to, string(v.Status), v.Active, v.Deleted, v.Note,
		v.CreatedBy, v.CreatedAt, v.UpdatedBy, v.UpdatedAt,
	)
	return err
}

// SetEffectiveTo closes a version at to.
func (r *VersionRepository) SetEffectiveTo(ctx context.Context, id string, to time.Time, actor string, at time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s
SET effective_to = $3, updated_by = $4, updated_at = $5
WHERE tenant_id = $1 AND id = $2`, r.table)
	return r.exec(ctx, query, id, pricing.Day(to), actor, at)
}

// Supersede retires a version replaced by a same-day edit.
func (r *VersionRepository) Supersede(ctx context.Context, id string, actor string, at time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s
SET active = FALSE, deleted = TRUE, updated_by = $3, updated_at = $4
WHERE tenant_id = $1 AND id = $2`, r.table)
	return r.exec(ctx, query, id, actor, at)
}

// Activate flips a pending version to active.
func (r *VersionRepository) Activate(ctx context.Context, id string, actor string, at time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'active', active = TRUE, updated_by = $3, updated_at = $4
WHERE tenant_id = $1 AND id = $2 AND status = 'pending'`, r.table)
	return r.exec(ctx, query, id, actor, at)
}

func (r *VersionRepository) exec(ctx context.Context, query, id string, args ...any) error {
	if r == nil || r.db == nil {
		return errors.New("pricing repo: nil db")
	}
	params := append([]any{r.tenantID, id}, args...)
	res, err := storage.Executor(ctx, r.db).ExecContext(ctx, query, params...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return pricing.ErrVersionNotFound
	}
	return nil
}

const versionColumns = `id, kind, primary_key, manufacturer, value, effective_from, effective_to,
	status, active, deleted, note, created_by, created_at, updated_by, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (pricing.Version, error) {
	var (
		v    pricing.Version
		kind string
		st   string
		to   sql.NullTime
	)
	err := row.Scan(
		&v.ID, &kind, &v.Key.Primary, &v.Key.Manufacturer, &v.Value, &v.EffectiveFrom, &to,
		&st, &v.Active, &v.Deleted, &v.Note, &v.CreatedBy, &v.CreatedAt, &v.UpdatedBy, &v.UpdatedAt,
	)
	if err != nil {
		return pricing.Version{}, err
	}
	v.Key.Kind = pricing.Kind(kind)
	v.Status = pricing.Status(st)
	v.EffectiveFrom = pricing.Day(v.EffectiveFrom)
	if to.Valid {
		end := pricing.Day(to.Time)
		v.EffectiveTo = &end
	}
	return v, nil
}

func scanVersions(rows *sql.Rows) ([]pricing.Version, error) {
	defer rows.Close()
	var out []pricing.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
