package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/staffbridge/staffbridge-saas/platform/go/cache"
	"github.com/staffbridge/staffbridge-saas/platform/go/notify"
	"github.com/staffbridge/staffbridge-saas/platform/go/persistence"
	"github.com/staffbridge/staffbridge-saas/platform/go/storage"
)

// Exporter produces the GDPR export and final backup archives and owns the
// staging area under the export root.
type Exporter interface {
	ExportTenant(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) (persistence.DataExportRecord, error)
	BackupTenant(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) (persistence.DataExportRecord, error)
	PurgeTemp(tenantID uuid.UUID) (int64, error)
}

// Deps carries the collaborators individual steps close over. Everything
// outside the transactional connection is injected here so the registry stays
// testable in isolation.
type Deps struct {
	Store    *persistence.DeletionStore
	Exporter Exporter
	Cache    *cache.Client
	Objects  storage.ObjectStore
	Mailer   notify.Mailer
	Webhooks notify.DeletionWebhooks
	Logger   *zap.Logger
}

// Registry is the fixed, hand-ordered deletion sequence.
type Registry struct {
	steps []Step
}

// Steps returns the sequence in execution order.
func (r *Registry) Steps() []Step {
	return r.steps
}

// Len is the total step count, used for progress reporting.
func (r *Registry) Len() int {
	return len(r.steps)
}

// Validate asserts unique step names and monotonically non-decreasing phases.
func (r *Registry) Validate() error {
	seen := make(map[string]struct{}, len(r.steps))
	last := -1
	for _, s := range r.steps {
		if s.Name == "" || s.Handler == nil {
			return fmt.Errorf("step %q is incomplete", s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("duplicate step name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		order, ok := phaseOrder[s.Phase]
		if !ok {
			return fmt.Errorf("step %q has unknown phase %q", s.Name, s.Phase)
		}
		if order < last {
			return fmt.Errorf("step %q breaks phase ordering", s.Name)
		}
		last = order
	}
	return nil
}

// execCount runs a statement and returns its affected-row count.
func execCount(ctx context.Context, tx pgx.Tx, sql string, args ...any) (int64, error) {
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// deleteByTenant builds a handler deleting all of a tenant's rows in a table.
func deleteByTenant(table string) Handler {
	sql := fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1`, pgx.Identifier{table}.Sanitize())
	return func(ctx context.Context, tx pgx.Tx, tenantID, _ uuid.UUID) (int64, error) {
		return execCount(ctx, tx, sql, tenantID)
	}
}

// NewRegistry builds the canonical deletion sequence. Order reflects
// referential dependencies; do not reorder without rechecking the schema.
func NewRegistry(deps Deps) (*Registry, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("deletion store is required")
	}
	if deps.Exporter == nil {
		return nil, fmt.Errorf("exporter is required")
	}
	if deps.Objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Mailer == nil {
		deps.Mailer = notify.NopMailer{}
	}
	if deps.Webhooks == nil {
		deps.Webhooks = notify.NewHTTPDeletionWebhooks(nil)
	}

	r := &Registry{steps: []Step{
		{
			Name:        "check_legal_hold",
			Description: "abort if a legal hold became active after approval",
			Phase:       PhasePre,
			Critical:    true,
			Handler: func(ctx context.Context, tx pgx.Tx, tenantID, _ uuid.UUID) (int64, error) {
				var held bool
				if err := tx.QueryRow(ctx, `
					SELECT EXISTS (SELECT 1 FROM legal_holds WHERE tenant_id = $1 AND active = TRUE)`,
					tenantID).Scan(&held); err != nil {
					return 0, err
				}
				if held {
					return 0, fmt.Errorf("active legal hold present")
				}
				return 0, nil
			},
		},
		{
			Name:        "check_shared_resources",
			Description: "abort if the tenant still owns cross-tenant resources",
			Phase:       PhasePre,
			Critical:    true,
			Handler: func(ctx context.Context, tx pgx.Tx, tenantID, _ uuid.UUID) (int64, error) {
				var n int64
				if err := tx.QueryRow(ctx, `
					SELECT COUNT(*) FROM shared_resources WHERE tenant_id = $1`,
					tenantID).Scan(&n); err != nil {
					return 0, err
				}
				if n > 0 {
					return 0, fmt.Errorf("%d shared resources still attached", n)
				}
				return 0, nil
			},
		},
		{
			Name:        "export_tenant_data",
			Description: "produce the GDPR data export archive",
			Phase:       PhasePre,
			Critical:    true,
			Handler: func(ctx context.Context, tx pgx.Tx, tenantID, _ uuid.UUID) (int64, error) {
				rec, err := deps.Exporter.ExportTenant(ctx, tx, tenantID)
				if err != nil {
					return 0, err
				}
				if err := deps.Store.InsertDataExport(ctx, tx, rec); err != nil {
					return 0, err
				}
				return 1, nil
			},
		},
		{
			Name:        "create_final_backup",
			Description: "write the rollback backup archive",
			Phase:       PhasePre,
			Critical:    true,
			Handler: func(ctx context.Context, tx pgx.Tx, tenantID, _ uuid.UUID) (int64, error) {
				rec, err := deps.Exporter.BackupTenant(ctx, tx, tenantID)
				if err != nil {
					return 0, err
				}
				if err := deps.Store.InsertDataExport(ctx, tx, rec); err != nil {
					return 0, err
				}
				return 1, nil
			},
		},
		{
			Name:        "archive_billing_records",
			Description: "copy invoices into the compliance archive",
			Phase:       PhasePre,
			Handler: func(ctx context.Context, tx pgx.Tx, tenantID, _ uuid.UUID) (int64, error) {
				archived, err := execCount(ctx, tx, `
					INSERT INTO archived_invoices (id, tenant_id, amount_cents, issued_at)
					SELECT id, tenant_id, amount_cents, issued_at
					FROM invoices WHERE tenant_id = $1
					ON CONFLICT (id) DO NOTHING`, tenantID)
				if err != nil {
					return 0, err
				}
				if _, err := execCount(ctx, tx, `DELETE FROM invoices WHERE tenant_id = $1`, tenantID); err != nil {
					return 0, err
				}
				return archived, nil
			},
		},
		{
			Name:        "send_final_notifications",
			Description: "last email to tenant admins before destruction",
			Phase:       PhasePre,
			Handler: func(ctx context.Context, tx pgx.Tx, tenantID, _ uuid.UUID) (int64, error) {
				rows, err := tx.Query(ctx, `
					SELECT email FROM users WHERE tenant_id = $1 AND is_admin = TRUE`, tenantID)
				if err != nil {
					return 0, err
				}
				var admins []string
				for rows.Next() {
					var email string
					if err := rows.Scan(&email); err != nil {
						rows.Close()
						return 0, err
					}
					admins = append(admins, email)
				}
				rows.Close()
				if err := rows.Err(); err != nil {
					return 0, err
				}
				if len(admins) == 0 {
					return 0, nil
				}
				if err := deps.Mailer.SendEmail(ctx, admins,
					"Workspace deletion in progress",
					"<p>The scheduled deletion of your workspace has started. A copy of your data was exported beforehand.</p>"); err != nil {
					return 0, err
				}
				return int64(len(admins)), nil
			},
		},
		{
			Name:        "notify_external_webhooks",
			Description: "tell registered integrations to drop their copies",
			Phase:       PhasePre,
			Handler: func(ctx context.Context, _ pgx.Tx, tenantID, _ uuid.UUID) (int64, error) {
				if err := deps.Webhooks.NotifyTenantDeletion(ctx, tenantID); err != nil {
					return 0, err
				}
				return 0, nil
			},
		},

		{
			Name:        "purge_cache_sessions",
			Description: "drop cached sessions and derived caches; safe to skip",
			Phase:       PhaseCache,
			Handler: func(ctx context.Context, _ pgx.Tx, tenantID, _ uuid.UUID) (int64, error) {
				sessions, err := deps.Cache.PurgePattern(ctx, cache.SessionPattern(tenantID.String()))
				if err != nil {
					return 0, err
				}
				cached, err := deps.Cache.PurgePattern(ctx, cache.TenantCachePattern(tenantID.String()))
				if err != nil {
					return sessions, err
				}
				return sessions + cached, nil
			},
		},

		{
			Name:        "delete_activity_logs",
			Description: "application activity log rows",
			Phase:       PhaseLeaf,
			Handler:     deleteByTenant("activity_logs"),
		},
		{
			Name:        "delete_read_receipts",
			Description: "chat read receipts (reference messages and users)",
			Phase:       PhaseLeaf,
			Handler:     deleteByTenant("read_receipts"),
		},
		{
			Name:        "delete_notification_prefs",
			Description: "per-user notification preferences",
			Phase:       PhaseLeaf,
			Handler:     deleteByTenant("notification_prefs"),
		},
		{
			Name:        "delete_legal_hold_records",
			Description: "released legal hold rows (active holds abort earlier)",
			Phase:       PhaseLeaf,
			Handler:     deleteByTenant("legal_holds"),
		},

		{
			Name:        "delete_chat_messages",
			Description: "chat messages after their read receipts are gone",
			Phase:       PhaseMid,
			Critical:    true,
			Handler:     deleteByTenant("chat_messages"),
		},
		{
			Name:        "delete_documents",
			Description: "document rows and their blobs; per-file failures are recorded, not fatal",
			Phase:       PhaseMid,
			Critical:    true,
			Handler: func(ctx context.Context, tx pgx.Tx, tenantID, queueID uuid.UUID) (int64, error) {
				rows, err := tx.Query(ctx, `
					SELECT file_path FROM documents
					WHERE tenant_id = $1 AND file_path IS NOT NULL`, tenantID)
				if err != nil {
					return 0, err
				}
				var paths []string
				for rows.Next() {
					var p string
					if err := rows.Scan(&p); err != nil {
						rows.Close()
						return 0, err
					}
					paths = append(paths, p)
				}
				rows.Close()
				if err := rows.Err(); err != nil {
					return 0, err
				}

				for _, p := range paths {
					if err := deps.Objects.DeleteObject(ctx, p); err != nil {
						deps.Logger.Warn("document blob removal failed",
							zap.String("path", p), zap.Error(err))
						if _, ierr := tx.Exec(ctx, `
							INSERT INTO failed_file_deletions (id, tenant_id, queue_id, file_path, error)
							VALUES ($1, $2, $3, $4, $5)`,
							uuid.New(), tenantID, queueID, p, err.Error()); ierr != nil {
							return 0, ierr
						}
					}
				}

				return execCount(ctx, tx, `DELETE FROM documents WHERE tenant_id = $1`, tenantID)
			},
		},
		{
			Name:        "delete_surveys",
			Description: "survey responses, then the surveys themselves",
			Phase:       PhaseMid,
			Critical:    true,
			Handler: func(ctx context.Context, tx pgx.Tx, tenantID, _ uuid.UUID) (int64, error) {
				responses, err := execCount(ctx, tx, `DELETE FROM survey_responses WHERE tenant_id = $1`, tenantID)
				if err != nil {
					return 0, err
				}
				surveys, err := execCount(ctx, tx, `DELETE FROM surveys WHERE tenant_id = $1`, tenantID)
				if err != nil {
					return responses, err
				}
				return responses + surveys, nil
			},
		},
		{
			Name:        "delete_shifts",
			Description: "shift plan entries",
			Phase:       PhaseMid,
			Critical:    true,
			Handler:     deleteByTenant("shifts"),
		},
		{
			Name:        "delete_calendar_events",
			Description: "calendar entries",
			Phase:       PhaseMid,
			Critical:    true,
			Handler:     deleteByTenant("calendar_events"),
		},
		{
			Name:        "delete_blackboard_posts",
			Description: "company blackboard announcements",
			Phase:       PhaseMid,
			Critical:    true,
			Handler:     deleteByTenant("blackboard_posts"),
		},
		{
			Name:        "delete_kvp_suggestions",
			Description: "improvement-process suggestions",
			Phase:       PhaseMid,
			Critical:    true,
			Handler:     deleteByTenant("kvp_suggestions"),
		},

		{
			Name:        "null_user_references",
			Description: "null nullable references to users so user rows can go without ordering deadlocks",
			Phase:       PhaseFKNull,
			Critical:    true,
			Handler: func(ctx context.Context, tx pgx.Tx, tenantID, _ uuid.UUID) (int64, error) {
				var total int64
				for _, stmt := range []string{
					`UPDATE users SET team_id = NULL, created_by = NULL WHERE tenant_id = $1 AND (team_id IS NOT NULL OR created_by IS NOT NULL)`,
					`UPDATE teams SET team_lead_id = NULL, created_by = NULL WHERE tenant_id = $1 AND (team_lead_id IS NOT NULL OR created_by IS NOT NULL)`,
					`UPDATE departments SET head_id = NULL WHERE tenant_id = $1 AND head_id IS NOT NULL`,
				} {
					n, err := execCount(ctx, tx, stmt, tenantID)
					if err != nil {
						return total, err
					}
					total += n
				}
				return total, nil
			},
		},

		{
			Name:        "delete_teams",
			Description: "team rows",
			Phase:       PhaseCore,
			Critical:    true,
			Handler:     deleteByTenant("teams"),
		},
		{
			Name:        "delete_departments",
			Description: "department rows",
			Phase:       PhaseCore,
			Critical:    true,
			Handler:     deleteByTenant("departments"),
		},
		{
			Name:        "delete_users_except_requester",
			Description: "all users except the deletion requester, who stays attributable until the end",
			Phase:       PhaseCore,
			Critical:    true,
			Handler: func(ctx context.Context, tx pgx.Tx, tenantID, queueID uuid.UUID) (int64, error) {
				return execCount(ctx, tx, `
					DELETE FROM users
					WHERE tenant_id = $1
					  AND id <> (SELECT created_by FROM tenant_deletion_queue WHERE id = $2)`,
					tenantID, queueID)
			},
		},
		{
			Name:        "delete_requesting_user",
			Description: "the requester's own user row",
			Phase:       PhaseCore,
			Critical:    true,
			Handler:     deleteByTenant("users"),
		},
		{
			Name:        "delete_tenant_record",
			Description: "the tenant row itself",
			Phase:       PhaseCore,
			Critical:    true,
			Handler: func(ctx context.Context, tx pgx.Tx, tenantID, _ uuid.UUID) (int64, error) {
				return execCount(ctx, tx, `DELETE FROM tenants WHERE id = $1`, tenantID)
			},
		},

		{
			Name:        "release_subdomain",
			Description: "free the subdomain for reuse",
			Phase:       PhasePost,
			Handler:     deleteByTenant("subdomain_reservations"),
		},
		{
			Name:        "purge_export_temp_files",
			Description: "drop the export staging directory; archives stay until retention expires",
			Phase:       PhasePost,
			Handler: func(ctx context.Context, _ pgx.Tx, tenantID, _ uuid.UUID) (int64, error) {
				return deps.Exporter.PurgeTemp(tenantID)
			},
		},
		{
			Name:        "purge_object_storage",
			Description: "remove the tenant's upload prefix from blob storage",
			Phase:       PhasePost,
			Handler: func(ctx context.Context, _ pgx.Tx, tenantID, _ uuid.UUID) (int64, error) {
				return deps.Objects.PurgePrefix(ctx, storage.TenantUploadPrefix(tenantID.String()))
			},
		},
		{
			Name:        "verify_tenant_data_removed",
			Description: "schema-catalog sweep asserting zero rows outside the compliance whitelist",
			Phase:       PhasePost,
			Critical:    true,
			Handler: func(ctx context.Context, tx pgx.Tx, tenantID, _ uuid.UUID) (int64, error) {
				return persistence.VerifyTenantDataRemoved(ctx, tx, tenantID)
			},
		},
		{
			Name:        "archive_queue_item",
			Description: "stamp the queue row archived; it is the last record standing",
			Phase:       PhasePost,
			Handler: func(ctx context.Context, tx pgx.Tx, _, queueID uuid.UUID) (int64, error) {
				if err := deps.Store.ArchiveQueueItem(ctx, tx, queueID, time.Now().UTC()); err != nil {
					return 0, err
				}
				return 1, nil
			},
		},
	}}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
