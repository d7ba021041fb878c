package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrIntegrityViolation signals that tenant-scoped rows survived a completed
// deletion run. It is never retryable: it means the step ordering or coverage
// is wrong and an operator has to look.
var ErrIntegrityViolation = errors.New("tenant data remains after deletion")

// ComplianceWhitelist names the tables that must survive a tenant's deletion:
// the audit trail, the deletion bookkeeping itself, export registrations,
// archived invoices and the manual follow-up table for failed blob removals.
var ComplianceWhitelist = map[string]struct{}{
	"tenant_deletion_queue": {},
	"tenant_deletion_steps": {},
	"tenant_deletion_audit": {},
	"tenant_data_exports":   {},
	"failed_file_deletions": {},
	"archived_invoices":     {},
}

// TenantScopedTables enumerates every table in the current schema that carries
// a tenant_id column. The list comes from the schema catalog, not from a
// hand-maintained registry, so adding a table without a deletion step becomes
// a loud verification failure instead of a silent leak.
func TenantScopedTables(ctx context.Context, tx pgx.Tx) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT table_name
		FROM information_schema.columns
		WHERE column_name = 'tenant_id'
		  AND table_schema = current_schema()
		ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("enumerate tenant-scoped tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// VerifyTenantDataRemoved asserts that no rows for the tenant remain in any
// tenant-scoped table outside the compliance whitelist. It returns the number
// of tables checked on success and ErrIntegrityViolation with per-table counts
// on failure.
func VerifyTenantDataRemoved(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) (int64, error) {
	tables, err := TenantScopedTables(ctx, tx)
	if err != nil {
		return 0, err
	}

	leftovers := make(map[string]int64)
	checked := int64(0)
	for _, table := range tables {
		if _, ok := ComplianceWhitelist[table]; ok {
			continue
		}
		var count int64
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE tenant_id = $1`,
			pgx.Identifier{table}.Sanitize())
		if err := tx.QueryRow(ctx, query, tenantID).Scan(&count); err != nil {
			return 0, fmt.Errorf("count remaining rows in %s: %w", table, err)
		}
		if count > 0 {
			leftovers[table] = count
		}
		checked++
	}

	if len(leftovers) > 0 {
		names := make([]string, 0, len(leftovers))
		for table, count := range leftovers {
			names = append(names, fmt.Sprintf("%s=%d", table, count))
		}
		sort.Strings(names)
		return 0, fmt.Errorf("%w: %s", ErrIntegrityViolation, strings.Join(names, ", "))
	}

	return checked, nil
}
