package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresTenantRepository implements domain.TenantRepository using PostgreSQL
type PostgresTenantRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresTenantRepository creates a new tenant repository
func NewPostgresTenantRepository(db *sql.DB, logger *slog.Logger) *PostgresTenantRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTenantRepository{db: db, logger: logger}
}

// Reserve inserts a pending tenant row. The UNIQUE(slug) constraint is the
// reservation; a violation is reported as domain.ErrSlugTaken.
func (r *PostgresTenantRepository) Reserve(ctx context.Context, t *domain.Tenant) error {
	meta, err := json.Marshal(t.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode tenant meta: %w", err)
	}
	if t.Status == "" {
		t.Status = domain.TenantPending
	}
	query := `
		INSERT INTO tenants (slug, title, status, owner_user_id, blueprint_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		t.Slug, t.Title, t.Status, t.OwnerUserID, t.BlueprintID, meta,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSlugTaken
		}
		r.logger.Error("failed to reserve tenant",
			slog.String("slug", t.Slug),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to reserve tenant: %w", err)
	}
	return nil
}

// Release deletes a pending reservation that has no platform site yet
func (r *PostgresTenantRepository) Release(ctx context.Context, slug string) error {
	return r.exec(ctx, "release tenant",
		`DELETE FROM tenants WHERE slug = $1 AND status = $2 AND site_id IS NULL`,
		slug, domain.TenantPending)
}

// AttachSite records the platform-assigned site id
func (r *PostgresTenantRepository) AttachSite(ctx context.Context, slug string, siteID int64) error {
	return r.exec(ctx, "attach site",
		`UPDATE tenants SET site_id = $1, status = $2, updated_at = now() WHERE slug = $3`,
		siteID, domain.TenantCreated, slug)
}

// SetOwner records the bound administrator
func (r *PostgresTenantRepository) SetOwner(ctx context.Context, slug string, ownerUserID int64) error {
	return r.exec(ctx, "set owner",
		`UPDATE tenants SET owner_user_id = $1, updated_at = now() WHERE slug = $2`,
		ownerUserID, slug)
}

// SetStatus moves the tenant to status, keeping reason for failures
func (r *PostgresTenantRepository) SetStatus(ctx context.Context, slug string, status domain.TenantStatus, reason string) error {
	return r.exec(ctx, "set status",
		`UPDATE tenants SET status = $1, fail_reason = $2, updated_at = now() WHERE slug = $3`,
		status, reason, slug)
}

func (r *PostgresTenantRepository) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const tenantColumns = `slug, COALESCE(site_id, 0), title, status, owner_user_id, blueprint_id, meta, fail_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*domain.Tenant, error) {
	t := &domain.Tenant{}
	var meta []byte
	err := row.Scan(&t.Slug, &t.SiteID, &t.Title, &t.Status, &t.OwnerUserID,
		&t.BlueprintID, &meta, &t.FailReason, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode tenant meta: %w", err)
		}
	}
	return t, nil
}

// GetBySiteID retrieves a tenant by its platform site id
func (r *PostgresTenantRepository) GetBySiteID(ctx context.Context, siteID int64) (*domain.Tenant, error) {
	t, err := scanTenant(r.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE site_id = $1`, siteID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// GetBySlug retrieves a tenant by slug
func (r *PostgresTenantRepository) GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	t, err := scanTenant(r.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant by slug: %w", err)
	}
	return t, nil
}

// ListByStatus returns tenants in any of the given states, oldest first
func (r *PostgresTenantRepository) ListByStatus(ctx context.Context, statuses ...domain.TenantStatus) ([]*domain.Tenant, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE status = ANY($1) ORDER BY created_at`,
		pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var out []*domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
