package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the requested row could not be located.
var ErrNotFound = errors.New("record not found")

// Queue statuses that count as in-flight when deciding whether a tenant
// already has a deletion underway.
var inFlightStatuses = []string{"pending_approval", "queued", "processing"}

// DeletionStore provides PostgreSQL-backed access to the deletion queue, the
// step log, the audit trail and the export registry.
type DeletionStore struct {
	pool *pgxpool.Pool
}

// NewDeletionStore returns a store instance over the shared pool.
func NewDeletionStore(pool *pgxpool.Pool) (*DeletionStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &DeletionStore{pool: pool}, nil
}

const queueColumns = `
	id, tenant_id, created_by, reason, status, approval_status, approver_id,
	approval_comment, approved_at, cooling_off_hours, scheduled_deletion_date,
	progress, current_step, total_steps, retry_count, emergency_stop,
	emergency_stopped_by, error_message, archived_at, requested_at, started_at,
	completed_at`

func scanQueueRow(row pgx.Row) (DeletionQueueRecord, error) {
	var rec DeletionQueueRecord
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.CreatedBy, &rec.Reason, &rec.Status,
		&rec.ApprovalStatus, &rec.ApproverID, &rec.ApprovalComment,
		&rec.ApprovedAt, &rec.CoolingOffHours, &rec.ScheduledDeletionDate,
		&rec.Progress, &rec.CurrentStep, &rec.TotalSteps, &rec.RetryCount,
		&rec.EmergencyStop, &rec.EmergencyStoppedBy, &rec.ErrorMessage,
		&rec.ArchivedAt, &rec.RequestedAt, &rec.StartedAt, &rec.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeletionQueueRecord{}, ErrNotFound
	}
	if err != nil {
		return DeletionQueueRecord{}, fmt.Errorf("scan deletion queue row: %w", err)
	}
	return rec, nil
}

// CreateQueueItem persists a freshly requested deletion.
func (s *DeletionStore) CreateQueueItem(ctx context.Context, rec DeletionQueueRecord) (DeletionQueueRecord, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tenant_deletion_queue (
			id, tenant_id, created_by, reason, status, approval_status,
			cooling_off_hours, scheduled_deletion_date, requested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+queueColumns,
		rec.ID, rec.TenantID, rec.CreatedBy, rec.Reason, rec.Status,
		rec.ApprovalStatus, rec.CoolingOffHours, rec.ScheduledDeletionDate,
		rec.RequestedAt,
	)
	return scanQueueRow(row)
}

// GetQueueItem fetches one queue row by id.
func (s *DeletionStore) GetQueueItem(ctx context.Context, id uuid.UUID) (DeletionQueueRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM tenant_deletion_queue WHERE id = $1`, id)
	return scanQueueRow(row)
}

// FindInFlightForTenant returns the tenant's current deletion attempt, if one
// exists in a non-terminal state.
func (s *DeletionStore) FindInFlightForTenant(ctx context.Context, tenantID uuid.UUID) (DeletionQueueRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM tenant_deletion_queue
		WHERE tenant_id = $1 AND status = ANY($2)
		ORDER BY requested_at DESC
		LIMIT 1`, tenantID, inFlightStatuses)
	return scanQueueRow(row)
}

// LatestForTenant returns the most recent queue row for the tenant regardless
// of state; used by the status endpoint.
func (s *DeletionStore) LatestForTenant(ctx context.Context, tenantID uuid.UUID) (DeletionQueueRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM tenant_deletion_queue
		WHERE tenant_id = $1
		ORDER BY requested_at DESC
		LIMIT 1`, tenantID)
	return scanQueueRow(row)
}

// RecordApproval stores the approval decision and the resulting queue status.
func (s *DeletionStore) RecordApproval(ctx context.Context, id uuid.UUID, approverID uuid.UUID, comment string, approvalStatus, status string, approvedAt time.Time) (DeletionQueueRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE tenant_deletion_queue
		SET approval_status = $2, status = $3, approver_id = $4,
		    approval_comment = $5, approved_at = $6
		WHERE id = $1
		RETURNING `+queueColumns,
		id, approvalStatus, status, approverID, comment, approvedAt)
	return scanQueueRow(row)
}

// FlagEmergencyStop marks the cooperative abort flag; the orchestrator honors
// it at the next step boundary.
func (s *DeletionStore) FlagEmergencyStop(ctx context.Context, id uuid.UUID, stoppedBy uuid.UUID) (DeletionQueueRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE tenant_deletion_queue
		SET emergency_stop = TRUE, emergency_stopped_by = $2
		WHERE id = $1
		RETURNING `+queueColumns,
		id, stoppedBy)
	return scanQueueRow(row)
}

// NextEligible returns the oldest queue item that is approved, past its
// scheduled deletion date and past the cooling-off window.
func (s *DeletionStore) NextEligible(ctx context.Context, now time.Time) (DeletionQueueRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM tenant_deletion_queue
		WHERE status = 'queued'
		  AND approval_status = 'approved'
		  AND scheduled_deletion_date <= $1
		  AND approved_at + make_interval(hours => cooling_off_hours) <= $1
		ORDER BY requested_at ASC
		LIMIT 1`, now)
	return scanQueueRow(row)
}

// QueueDepth counts items waiting for or undergoing deletion.
func (s *DeletionStore) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tenant_deletion_queue
		WHERE status IN ('queued', 'processing')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queue depth: %w", err)
	}
	return n, nil
}

// MarkProcessing transitions a picked-up item into the run state.
func (s *DeletionStore) MarkProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time, totalSteps int) (DeletionQueueRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE tenant_deletion_queue
		SET status = 'processing', started_at = $2, total_steps = $3,
		    progress = 0, current_step = '', error_message = NULL
		WHERE id = $1
		RETURNING `+queueColumns,
		id, startedAt, totalSteps)
	return scanQueueRow(row)
}

// UpdateProgress records the step the run is currently on.
func (s *DeletionStore) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, currentStep string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenant_deletion_queue
		SET progress = $2, current_step = $3
		WHERE id = $1`, id, progress, currentStep)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTerminal writes a terminal status with an optional error message.
func (s *DeletionStore) MarkTerminal(ctx context.Context, id uuid.UUID, status string, errorMessage *string, completedAt *time.Time) (DeletionQueueRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE tenant_deletion_queue
		SET status = $2, error_message = $3, completed_at = $4,
		    progress = CASE WHEN $2 = 'completed' THEN 100 ELSE progress END
		WHERE id = $1
		RETURNING `+queueColumns,
		id, status, errorMessage, completedAt)
	return scanQueueRow(row)
}

// ResetForRetry re-queues a failed item and bumps its retry counter.
func (s *DeletionStore) ResetForRetry(ctx context.Context, id uuid.UUID) (DeletionQueueRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE tenant_deletion_queue
		SET status = 'queued', retry_count = retry_count + 1,
		    error_message = NULL, emergency_stop = FALSE,
		    emergency_stopped_by = NULL, progress = 0, current_step = ''
		WHERE id = $1
		RETURNING `+queueColumns, id)
	return scanQueueRow(row)
}

// ArchiveQueueItem stamps the queue row archived. The row itself stays: it is
// the last record standing for the tenant and is whitelisted by verification.
func (s *DeletionStore) ArchiveQueueItem(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE tenant_deletion_queue SET archived_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("archive queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendStepLog writes one immutable step outcome row.
func (s *DeletionStore) AppendStepLog(ctx context.Context, rec StepLogRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenant_deletion_steps (
			id, queue_id, step_name, status, records_deleted, duration_ms,
			error_message, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.QueueID, rec.StepName, rec.Status, rec.RecordsDeleted,
		rec.DurationMS, rec.ErrorMessage, rec.ExecutedAt)
	if err != nil {
		return fmt.Errorf("append step log: %w", err)
	}
	return nil
}

// ListStepLogs returns the step history for a queue item in execution order.
func (s *DeletionStore) ListStepLogs(ctx context.Context, queueID uuid.UUID) ([]StepLogRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, queue_id, step_name, status, records_deleted, duration_ms,
		       error_message, executed_at
		FROM tenant_deletion_steps
		WHERE queue_id = $1
		ORDER BY executed_at ASC`, queueID)
	if err != nil {
		return nil, fmt.Errorf("list step logs: %w", err)
	}
	defer rows.Close()

	var out []StepLogRecord
	for rows.Next() {
		var rec StepLogRecord
		if err := rows.Scan(&rec.ID, &rec.QueueID, &rec.StepName, &rec.Status,
			&rec.RecordsDeleted, &rec.DurationMS, &rec.ErrorMessage, &rec.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan step log: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// InsertAuditTrail writes the immutable pre-deletion audit entry.
func (s *DeletionStore) InsertAuditTrail(ctx context.Context, rec AuditTrailRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenant_deletion_audit (
			id, tenant_id, tenant_name, user_count_at_deletion, deleted_by,
			ip_address, reason, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.TenantID, rec.TenantName, rec.UserCountAtDeletion,
		rec.DeletedBy, rec.IPAddress, rec.Reason, rec.Metadata, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit trail: %w", err)
	}
	return nil
}

// InsertDataExport registers an export or backup artifact.
func (s *DeletionStore) InsertDataExport(ctx context.Context, tx pgx.Tx, rec DataExportRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO tenant_data_exports (
			id, tenant_id, file_path, checksum, kind, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.TenantID, rec.FilePath, rec.Checksum, rec.Kind,
		rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert data export: %w", err)
	}
	return nil
}

// ExportsForTenant lists registered artifacts; used by the purge step to find
// temp files past retention and by tests.
func (s *DeletionStore) ExportsForTenant(ctx context.Context, tenantID uuid.UUID) ([]DataExportRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, file_path, checksum, kind, created_at, expires_at
		FROM tenant_data_exports
		WHERE tenant_id = $1
		ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list data exports: %w", err)
	}
	defer rows.Close()

	var out []DataExportRecord
	for rows.Next() {
		var rec DataExportRecord
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.FilePath, &rec.Checksum,
			&rec.Kind, &rec.CreatedAt, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan data export: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
