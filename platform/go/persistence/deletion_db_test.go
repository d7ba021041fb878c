package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func seedQueueItem(t *testing.T, store *DeletionStore, tenantID uuid.UUID) DeletionQueueRecord {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	rec, err := store.CreateQueueItem(context.Background(), DeletionQueueRecord{
		ID:                    uuid.New(),
		TenantID:              tenantID,
		CreatedBy:             uuid.New(),
		Reason:                "contract ended",
		Status:                "pending_approval",
		ApprovalStatus:        "pending",
		CoolingOffHours:       24,
		ScheduledDeletionDate: now.Add(30 * 24 * time.Hour),
		RequestedAt:           now,
	})
	require.NoError(t, err)
	return rec
}

func TestQueueItemLifecycle(t *testing.T) {
	pool, cleanup := mustTestPool(t)
	defer cleanup()
	ctx := context.Background()

	store, err := NewDeletionStore(pool)
	require.NoError(t, err)

	tenantID := uuid.New()
	created := seedQueueItem(t, store, tenantID)
	require.Equal(t, "pending_approval", created.Status)
	require.Zero(t, created.Progress)
	require.False(t, created.EmergencyStop)

	got, err := store.GetQueueItem(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, "contract ended", got.Reason)

	approver := uuid.New()
	approvedAt := time.Now().UTC().Truncate(time.Millisecond)
	approved, err := store.RecordApproval(ctx, created.ID, approver, "verified", "approved", "queued", approvedAt)
	require.NoError(t, err)
	require.Equal(t, "queued", approved.Status)
	require.Equal(t, "approved", approved.ApprovalStatus)
	require.Equal(t, approver, *approved.ApproverID)
	require.WithinDuration(t, approvedAt, *approved.ApprovedAt, time.Second)

	started := time.Now().UTC()
	processing, err := store.MarkProcessing(ctx, created.ID, started, 30)
	require.NoError(t, err)
	require.Equal(t, "processing", processing.Status)
	require.Equal(t, 30, processing.TotalSteps)
	require.NotNil(t, processing.StartedAt)

	require.NoError(t, store.UpdateProgress(ctx, created.ID, 40, "delete_documents"))
	inFlight, err := store.GetQueueItem(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, 40, inFlight.Progress)
	require.Equal(t, "delete_documents", inFlight.CurrentStep)

	msg := "step delete_documents: disk full"
	failed, err := store.MarkTerminal(ctx, created.ID, "failed", &msg, nil)
	require.NoError(t, err)
	require.Equal(t, "failed", failed.Status)
	require.Equal(t, msg, *failed.ErrorMessage)
	require.Equal(t, 40, failed.Progress)

	retried, err := store.ResetForRetry(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "queued", retried.Status)
	require.Equal(t, 1, retried.RetryCount)
	require.Nil(t, retried.ErrorMessage)
	require.Zero(t, retried.Progress)

	completedAt := time.Now().UTC().Truncate(time.Millisecond)
	completed, err := store.MarkTerminal(ctx, created.ID, "completed", nil, &completedAt)
	require.NoError(t, err)
	require.Equal(t, "completed", completed.Status)
	require.Equal(t, 100, completed.Progress)
}

func TestGetQueueItemNotFound(t *testing.T) {
	pool, cleanup := mustTestPool(t)
	defer cleanup()

	store, err := NewDeletionStore(pool)
	require.NoError(t, err)

	_, err = store.GetQueueItem(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindInFlightForTenant(t *testing.T) {
	pool, cleanup := mustTestPool(t)
	defer cleanup()
	ctx := context.Background()

	store, err := NewDeletionStore(pool)
	require.NoError(t, err)

	tenantID := uuid.New()
	_, err = store.FindInFlightForTenant(ctx, tenantID)
	require.ErrorIs(t, err, ErrNotFound)

	created := seedQueueItem(t, store, tenantID)

	found, err := store.FindInFlightForTenant(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, created.ID, found.ID)

	_, err = store.MarkTerminal(ctx, created.ID, "cancelled", nil, nil)
	require.NoError(t, err)

	_, err = store.FindInFlightForTenant(ctx, tenantID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNextEligibleRespectsDatesAndCoolingOff(t *testing.T) {
	pool, cleanup := mustTestPool(t)
	defer cleanup()
	ctx := context.Background()

	store, err := NewDeletionStore(pool)
	require.NoError(t, err)

	// Queued leftovers from earlier runs would sort ahead of this test's item.
	_, err = pool.Exec(ctx, `DELETE FROM tenant_deletion_queue WHERE status = 'queued'`)
	require.NoError(t, err)

	tenantID := uuid.New()
	created := seedQueueItem(t, store, tenantID)
	now := time.Now().UTC()

	// Pending approval: never eligible.
	probe := now.Add(60 * 24 * time.Hour)
	if rec, err := store.NextEligible(ctx, probe); err == nil {
		require.NotEqual(t, created.ID, rec.ID)
	}

	approvedAt := now
	_, err = store.RecordApproval(ctx, created.ID, uuid.New(), "", "approved", "queued", approvedAt)
	require.NoError(t, err)

	// Before the scheduled date the item stays invisible.
	if rec, err := store.NextEligible(ctx, now.Add(time.Hour)); err == nil {
		require.NotEqual(t, created.ID, rec.ID)
	}

	// Past both the scheduled date and the cooling-off window it surfaces.
	eligible, err := store.NextEligible(ctx, now.Add(31*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, created.ID, eligible.ID)
}

func TestQueueDepthCountsBacklog(t *testing.T) {
	pool, cleanup := mustTestPool(t)
	defer cleanup()
	ctx := context.Background()

	store, err := NewDeletionStore(pool)
	require.NoError(t, err)

	before, err := store.QueueDepth(ctx)
	require.NoError(t, err)

	created := seedQueueItem(t, store, uuid.New())

	// Pending approval is not backlog yet.
	depth, err := store.QueueDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, before, depth)

	_, err = store.RecordApproval(ctx, created.ID, uuid.New(), "", "approved", "queued", time.Now().UTC())
	require.NoError(t, err)
	depth, err = store.QueueDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, before+1, depth)

	_, err = store.MarkTerminal(ctx, created.ID, "completed", nil, nil)
	require.NoError(t, err)
	depth, err = store.QueueDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, before, depth)
}

func TestArchiveQueueItem(t *testing.T) {
	pool, cleanup := mustTestPool(t)
	defer cleanup()
	ctx := context.Background()

	store, err := NewDeletionStore(pool)
	require.NoError(t, err)

	created := seedQueueItem(t, store, uuid.New())

	err = runInTx(ctx, pool, func(tx pgx.Tx) error {
		return store.ArchiveQueueItem(ctx, tx, created.ID, time.Now().UTC())
	})
	require.NoError(t, err)

	got, err := store.GetQueueItem(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ArchivedAt)
}

func TestStepLogRoundtrip(t *testing.T) {
	pool, cleanup := mustTestPool(t)
	defer cleanup()
	ctx := context.Background()

	store, err := NewDeletionStore(pool)
	require.NoError(t, err)

	created := seedQueueItem(t, store, uuid.New())

	base := time.Now().UTC().Truncate(time.Millisecond)
	msg := "relation does not exist"
	for i, rec := range []StepLogRecord{
		{ID: uuid.New(), QueueID: created.ID, StepName: "check_legal_hold", Status: "success", RecordsDeleted: 0, DurationMS: 3},
		{ID: uuid.New(), QueueID: created.ID, StepName: "delete_activity_logs", Status: "success", RecordsDeleted: 120, DurationMS: 15},
		{ID: uuid.New(), QueueID: created.ID, StepName: "delete_documents", Status: "failed", ErrorMessage: &msg, DurationMS: 8},
	} {
		rec.ExecutedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.AppendStepLog(ctx, rec))
	}

	logs, err := store.ListStepLogs(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	require.Equal(t, "check_legal_hold", logs[0].StepName)
	require.Equal(t, "delete_documents", logs[2].StepName)
	require.EqualValues(t, 120, logs[1].RecordsDeleted)
	require.Equal(t, msg, *logs[2].ErrorMessage)
}

func TestAuditTrailSurvivesWithMetadata(t *testing.T) {
	pool, cleanup := mustTestPool(t)
	defer cleanup()
	ctx := context.Background()

	store, err := NewDeletionStore(pool)
	require.NoError(t, err)

	tenantID := uuid.New()
	require.NoError(t, store.InsertAuditTrail(ctx, AuditTrailRecord{
		ID:                  uuid.New(),
		TenantID:            tenantID,
		TenantName:          "Acme Staffing",
		UserCountAtDeletion: 42,
		DeletedBy:           uuid.New(),
		IPAddress:           "203.0.113.7",
		Reason:              "contract ended",
		Metadata:            map[string]any{"subdomain": "acme", "plan": "enterprise"},
		CreatedAt:           time.Now().UTC(),
	}))

	var name string
	var metadata map[string]any
	err = pool.QueryRow(ctx, `
		SELECT tenant_name, metadata FROM tenant_deletion_audit WHERE tenant_id = $1`,
		tenantID).Scan(&name, &metadata)
	require.NoError(t, err)
	require.Equal(t, "Acme Staffing", name)
	require.Equal(t, "acme", metadata["subdomain"])
}

func TestDataExportRegistry(t *testing.T) {
	pool, cleanup := mustTestPool(t)
	defer cleanup()
	ctx := context.Background()

	store, err := NewDeletionStore(pool)
	require.NoError(t, err)

	tenantID := uuid.New()
	now := time.Now().UTC().Truncate(time.Millisecond)
	err = runInTx(ctx, pool, func(tx pgx.Tx) error {
		return store.InsertDataExport(ctx, tx, DataExportRecord{
			ID:        uuid.New(),
			TenantID:  tenantID,
			FilePath:  "exports/acme-gdpr.zip",
			Checksum:  "deadbeef",
			Kind:      "gdpr_export",
			CreatedAt: now,
			ExpiresAt: now.Add(90 * 24 * time.Hour),
		})
	})
	require.NoError(t, err)

	exports, err := store.ExportsForTenant(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, exports, 1)
	require.Equal(t, "gdpr_export", exports[0].Kind)
	require.Equal(t, "deadbeef", exports[0].Checksum)
}

func runInTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
