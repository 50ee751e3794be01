package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"installops/internal/storage"
)

const defaultAuditTable = "audit_logs"

// Repository stores audit entries in Postgres.
type Repository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*Repository)

// WithAuditTable overrides the table name.
func WithAuditTable(table string) RepositoryOption {
	return func(r *Repository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewRepository constructs an audit repository. A nil db yields nil.
func NewRepository(db *sql.DB, opts ...RepositoryOption) *Repository {
	if db == nil {
		return nil
	}
	r := &Repository{db: db, table: defaultAuditTable}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Log inserts entry, filling id, time and digest when unset. It joins the
// transaction carried by ctx, so a version write and its audit row commit
// together.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit: nil repository")
	}
	if entry.TenantID == "" || entry.Action == "" {
		return errors.New("audit: tenant and action required")
	}
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = []byte(entry.Metadata)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, tenant_id, actor, role, action, resource_type, resource_id, site_id,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, r.table)
	_, err := storage.Executor(ctx, r.db).ExecContext(ctx, query,
		entry.ID, entry.TenantID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID,
		entry.SiteID, metadata, entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: insert %s: %w", entry.Action, err)
	}
	return nil
}

// ListByResource returns the entries for one resource, oldest first.
func (r *Repository) ListByResource(ctx context.Context, tenantID, resourceType, resourceID string) ([]Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("audit: nil repository")
	}
	query := fmt.Sprintf(`
SELECT id, tenant_id, actor, role, action, resource_type, resource_id, site_id,
	COALESCE(metadata::text, ''), payload_digest, ip, user_agent, created_at
FROM %s
WHERE tenant_id = $1 AND resource_type = $2 AND resource_id = $3
ORDER BY created_at, id`, r.table)
	rows, err := storage.Executor(ctx, r.db).QueryContext(ctx, query, tenantID, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry    Entry
			metadata string
		)
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.Actor, &entry.Role, &entry.Action,
			&entry.ResourceType, &entry.ResourceID, &entry.SiteID, &metadata, &entry.PayloadDigest,
			&entry.IP, &entry.UserAgent, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if metadata != "" {
			entry.Metadata = []byte(metadata)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
