package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TenantDirectory exposes the narrow view of the tenants table the deletion
// subsystem needs: lifecycle status, precondition checks and the snapshot
// captured into the audit trail.
type TenantDirectory struct {
	pool *pgxpool.Pool
}

// NewTenantDirectory returns a directory over the shared pool.
func NewTenantDirectory(pool *pgxpool.Pool) (*TenantDirectory, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &TenantDirectory{pool: pool}, nil
}

// Get fetches a tenant row.
func (d *TenantDirectory) Get(ctx context.Context, id uuid.UUID) (TenantRecord, error) {
	var rec TenantRecord
	err := d.pool.QueryRow(ctx, `
		SELECT id, name, subdomain, plan, lifecycle_status, created_at
		FROM tenants WHERE id = $1`, id).
		Scan(&rec.ID, &rec.Name, &rec.Subdomain, &rec.Plan, &rec.LifecycleStatus, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return TenantRecord{}, ErrNotFound
	}
	if err != nil {
		return TenantRecord{}, fmt.Errorf("get tenant: %w", err)
	}
	return rec, nil
}

// SetLifecycleStatus writes the mirrored lifecycle field on the tenant row.
func (d *TenantDirectory) SetLifecycleStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE tenants SET lifecycle_status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set tenant lifecycle status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HasActiveLegalHold reports whether deletion is blocked by a legal hold.
func (d *TenantDirectory) HasActiveLegalHold(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	var held bool
	err := d.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM legal_holds WHERE tenant_id = $1 AND active = TRUE
		)`, tenantID).Scan(&held)
	if err != nil {
		return false, fmt.Errorf("check legal hold: %w", err)
	}
	return held, nil
}

// SharedResourceCount reports resources the tenant shares with other tenants;
// a non-zero count blocks deletion.
func (d *TenantDirectory) SharedResourceCount(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var n int
	err := d.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM shared_resources WHERE tenant_id = $1`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count shared resources: %w", err)
	}
	return n, nil
}

// UserCount returns the number of users the tenant owns at request time.
func (d *TenantDirectory) UserCount(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var n int
	err := d.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM users WHERE tenant_id = $1`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// AdminEmails lists the tenant's admin addresses for the warning notification.
func (d *TenantDirectory) AdminEmails(ctx context.Context, tenantID uuid.UUID) ([]string, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT email FROM users WHERE tenant_id = $1 AND is_admin = TRUE`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list admin emails: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan admin email: %w", err)
		}
		out = append(out, email)
	}
	return out, rows.Err()
}
