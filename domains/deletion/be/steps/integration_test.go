package steps

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/staffbridge/staffbridge-saas/domains/deletion/be/export"
	"github.com/staffbridge/staffbridge-saas/platform/go/cache"
	"github.com/staffbridge/staffbridge-saas/platform/go/persistence"
	"github.com/staffbridge/staffbridge-saas/platform/go/storage"
)

func integrationPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()
	url, ok := os.LookupEnv("TEST_DATABASE_URL")
	if !ok || url == "" {
		if testing.Short() {
			t.Skip("skipping Postgres-backed test in short mode")
		}

		startCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
		defer cancel()

		pgContainer, err := postgres.Run(startCtx,
			"postgres:16-alpine",
			postgres.WithDatabase("staffbridge"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = pgContainer.Terminate(context.Background())
		})

		url, err = pgContainer.ConnectionString(startCtx, "sslmode=disable")
		require.NoError(t, err)
	}

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, persistence.BootstrapSchema(ctx, pool))
	return pool
}

type sequenceFixture struct {
	pool     *pgxpool.Pool
	store    *persistence.DeletionStore
	registry *Registry
	executor *Executor
	objects  *storage.LocalStore
}

func newSequenceFixture(t *testing.T) *sequenceFixture {
	t.Helper()

	pool := integrationPool(t)
	store, err := persistence.NewDeletionStore(pool)
	require.NoError(t, err)

	exporter, err := export.NewExporter(t.TempDir(), time.Hour, zap.NewNop())
	require.NoError(t, err)
	objects, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	registry, err := NewRegistry(Deps{
		Store:    store,
		Exporter: exporter,
		Cache:    cache.NewFromClient(nil),
		Objects:  objects,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)

	executor, err := NewExecutor(pool, store, zap.NewNop())
	require.NoError(t, err)

	return &sequenceFixture{
		pool:     pool,
		store:    store,
		registry: registry,
		executor: executor,
		objects:  objects,
	}
}

func (f *sequenceFixture) enqueue(t *testing.T, tenantID, requesterID uuid.UUID) persistence.DeletionQueueRecord {
	t.Helper()
	now := time.Now().UTC()
	rec, err := f.store.CreateQueueItem(context.Background(), persistence.DeletionQueueRecord{
		ID:                    uuid.New(),
		TenantID:              tenantID,
		CreatedBy:             requesterID,
		Reason:                "contract ended",
		Status:                "queued",
		ApprovalStatus:        "approved",
		CoolingOffHours:       24,
		ScheduledDeletionDate: now,
		RequestedAt:           now,
	})
	require.NoError(t, err)
	return rec
}

func (f *sequenceFixture) runAll(t *testing.T, tenantID, queueID uuid.UUID) map[string]Outcome {
	t.Helper()
	outcomes := make(map[string]Outcome, f.registry.Len())
	for _, step := range f.registry.Steps() {
		outcome := f.executor.Run(context.Background(), step, tenantID, queueID)
		require.NoError(t, outcome.Err, "step %s", step.Name)
		outcomes[step.Name] = outcome
	}
	return outcomes
}

func (f *sequenceFixture) tableCount(t *testing.T, table string, tenantID uuid.UUID) int64 {
	t.Helper()
	var n int64
	err := f.pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM `+table+` WHERE tenant_id = $1`, tenantID).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestDeletionSequenceEmptyTenant(t *testing.T) {
	f := newSequenceFixture(t)
	ctx := context.Background()

	tenantID := uuid.New()
	requesterID := uuid.New()
	_, err := f.pool.Exec(ctx, `
		INSERT INTO tenants (id, name, subdomain, plan, lifecycle_status)
		VALUES ($1, 'Empty Corp', $2, 'standard', 'suspended')`,
		tenantID, "empty-"+tenantID.String()[:8])
	require.NoError(t, err)

	item := f.enqueue(t, tenantID, requesterID)
	outcomes := f.runAll(t, tenantID, item.ID)
	require.Len(t, outcomes, f.registry.Len())

	// With nothing to delete, the data steps touch zero rows except the
	// tenant row itself.
	for name, outcome := range outcomes {
		if name == "delete_tenant_record" {
			require.EqualValues(t, 1, outcome.Records, name)
			continue
		}
		if strings.HasPrefix(name, "delete_") || name == "null_user_references" {
			require.Zero(t, outcome.Records, name)
		}
	}

	logs, err := f.store.ListStepLogs(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, logs, f.registry.Len())
	for _, rec := range logs {
		require.Equal(t, "success", rec.Status, rec.StepName)
	}

	got, err := f.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ArchivedAt)

	// Re-running is a no-op except for the bookkeeping steps.
	rerun := f.runAll(t, tenantID, item.ID)
	require.Zero(t, rerun["delete_tenant_record"].Records)
}

func TestDeletionSequencePopulatedTenant(t *testing.T) {
	f := newSequenceFixture(t)
	ctx := context.Background()

	tenantID := uuid.New()
	requesterID := uuid.New()
	adminID := uuid.New()
	teamID := uuid.New()
	deptID := uuid.New()
	subdomain := "acme-" + tenantID.String()[:8]

	_, err := f.pool.Exec(ctx, `
		INSERT INTO tenants (id, name, subdomain, plan, lifecycle_status)
		VALUES ($1, 'Acme Staffing', $2, 'enterprise', 'suspended')`, tenantID, subdomain)
	require.NoError(t, err)
	_, err = f.pool.Exec(ctx, `
		INSERT INTO subdomain_reservations (subdomain, tenant_id) VALUES ($1, $2)`,
		subdomain, tenantID)
	require.NoError(t, err)
	_, err = f.pool.Exec(ctx, `
		INSERT INTO departments (id, tenant_id, name, head_id) VALUES ($1, $2, 'Operations', $3)`,
		deptID, tenantID, adminID)
	require.NoError(t, err)
	_, err = f.pool.Exec(ctx, `
		INSERT INTO teams (id, tenant_id, department_id, name, team_lead_id, created_by)
		VALUES ($1, $2, $3, 'Night Shift', $4, $5)`,
		teamID, tenantID, deptID, adminID, requesterID)
	require.NoError(t, err)
	_, err = f.pool.Exec(ctx, `
		INSERT INTO users (id, tenant_id, email, full_name, is_admin, team_id)
		VALUES ($1, $2, 'admin@acme.test', 'Acme Admin', TRUE, $3),
		       ($4, $2, 'root@acme.test', 'Acme Root', TRUE, NULL)`,
		adminID, tenantID, teamID, requesterID)
	require.NoError(t, err)
	_, err = f.pool.Exec(ctx, `
		INSERT INTO invoices (id, tenant_id, amount_cents, issued_at)
		VALUES ($1, $2, 129900, now()), ($3, $2, 129900, now())`,
		uuid.New(), tenantID, uuid.New())
	require.NoError(t, err)
	_, err = f.pool.Exec(ctx, `
		INSERT INTO shifts (id, tenant_id, user_id, starts_at, ends_at)
		VALUES ($1, $2, $3, now(), now() + interval '8 hours')`,
		uuid.New(), tenantID, adminID)
	require.NoError(t, err)

	blobRel := filepath.Join(storage.TenantUploadPrefix(tenantID.String()), "handbook.pdf")
	blobAbs := filepath.Join(f.objects.Root(), blobRel)
	require.NoError(t, os.MkdirAll(filepath.Dir(blobAbs), 0o755))
	require.NoError(t, os.WriteFile(blobAbs, []byte("pdf"), 0o644))
	_, err = f.pool.Exec(ctx, `
		INSERT INTO documents (id, tenant_id, title, file_path, uploaded_by)
		VALUES ($1, $2, 'Handbook', $3, $4)`,
		uuid.New(), tenantID, blobRel, adminID)
	require.NoError(t, err)

	item := f.enqueue(t, tenantID, requesterID)
	outcomes := f.runAll(t, tenantID, item.ID)

	require.EqualValues(t, 2, outcomes["archive_billing_records"].Records)
	require.EqualValues(t, 1, outcomes["delete_documents"].Records)
	require.EqualValues(t, 1, outcomes["delete_users_except_requester"].Records)
	require.EqualValues(t, 1, outcomes["delete_requesting_user"].Records)
	require.EqualValues(t, 1, outcomes["delete_tenant_record"].Records)
	require.EqualValues(t, 1, outcomes["release_subdomain"].Records)

	for _, table := range []string{
		"users", "teams", "departments", "documents", "shifts", "invoices",
		"subdomain_reservations",
	} {
		require.Zero(t, f.tableCount(t, table, tenantID), table)
	}
	require.EqualValues(t, 2, f.tableCount(t, "archived_invoices", tenantID))

	var tenants int64
	require.NoError(t, f.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tenants WHERE id = $1`, tenantID).Scan(&tenants))
	require.Zero(t, tenants)

	_, err = os.Stat(blobAbs)
	require.True(t, os.IsNotExist(err))

	exports, err := f.store.ExportsForTenant(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, exports, 2)
	for _, rec := range exports {
		_, err := os.Stat(rec.FilePath)
		require.NoError(t, err, rec.Kind)
	}

	got, err := f.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ArchivedAt)
}
