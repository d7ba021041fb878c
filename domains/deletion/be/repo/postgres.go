package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/staffbridge/staffbridge-saas/domains/deletion/be/service"
	"github.com/staffbridge/staffbridge-saas/platform/go/persistence"
)

// PostgresRepository implements the deletion repository over the shared
// persistence layer.
type PostgresRepository struct {
	store *persistence.DeletionStore
}

// NewPostgresRepository constructs a repository backed by DeletionStore.
func NewPostgresRepository(store *persistence.DeletionStore) *PostgresRepository {
	if store == nil {
		panic("deletion store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) CreateQueueItem(ctx context.Context, item service.QueueItem) (service.QueueItem, error) {
	rec, err := r.store.CreateQueueItem(ctx, toRecord(item))
	if err != nil {
		return service.QueueItem{}, err
	}
	return toItem(rec), nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.QueueItem, error) {
	rec, err := r.store.GetQueueItem(ctx, id)
	if err != nil {
		return service.QueueItem{}, mapNotFound(err)
	}
	return toItem(rec), nil
}

func (r *PostgresRepository) FindInFlightForTenant(ctx context.Context, tenantID uuid.UUID) (service.QueueItem, error) {
	rec, err := r.store.FindInFlightForTenant(ctx, tenantID)
	if err != nil {
		return service.QueueItem{}, mapNotFound(err)
	}
	return toItem(rec), nil
}

func (r *PostgresRepository) LatestForTenant(ctx context.Context, tenantID uuid.UUID) (service.QueueItem, error) {
	rec, err := r.store.LatestForTenant(ctx, tenantID)
	if err != nil {
		return service.QueueItem{}, mapNotFound(err)
	}
	return toItem(rec), nil
}

func (r *PostgresRepository) RecordApproval(ctx context.Context, id uuid.UUID, approverID uuid.UUID, comment string, approval service.ApprovalStatus, status service.QueueStatus, approvedAt time.Time) (service.QueueItem, error) {
	rec, err := r.store.RecordApproval(ctx, id, approverID, comment, string(approval), string(status), approvedAt)
	if err != nil {
		return service.QueueItem{}, mapNotFound(err)
	}
	return toItem(rec), nil
}

func (r *PostgresRepository) FlagEmergencyStop(ctx context.Context, id uuid.UUID, stoppedBy uuid.UUID) (service.QueueItem, error) {
	rec, err := r.store.FlagEmergencyStop(ctx, id, stoppedBy)
	if err != nil {
		return service.QueueItem{}, mapNotFound(err)
	}
	return toItem(rec), nil
}

func (r *PostgresRepository) MarkTerminal(ctx context.Context, id uuid.UUID, status service.QueueStatus, errorMessage *string, completedAt *time.Time) (service.QueueItem, error) {
	rec, err := r.store.MarkTerminal(ctx, id, string(status), errorMessage, completedAt)
	if err != nil {
		return service.QueueItem{}, mapNotFound(err)
	}
	return toItem(rec), nil
}

func (r *PostgresRepository) ResetForRetry(ctx context.Context, id uuid.UUID) (service.QueueItem, error) {
	rec, err := r.store.ResetForRetry(ctx, id)
	if err != nil {
		return service.QueueItem{}, mapNotFound(err)
	}
	return toItem(rec), nil
}

// NextEligible returns the oldest approved item past both its scheduled date
// and its cooling-off window; used by the orchestrator only.
func (r *PostgresRepository) NextEligible(ctx context.Context, now time.Time) (service.QueueItem, error) {
	rec, err := r.store.NextEligible(ctx, now)
	if err != nil {
		return service.QueueItem{}, mapNotFound(err)
	}
	return toItem(rec), nil
}

func (r *PostgresRepository) QueueDepth(ctx context.Context) (int, error) {
	return r.store.QueueDepth(ctx)
}

func (r *PostgresRepository) MarkProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time, totalSteps int) (service.QueueItem, error) {
	rec, err := r.store.MarkProcessing(ctx, id, startedAt, totalSteps)
	if err != nil {
		return service.QueueItem{}, mapNotFound(err)
	}
	return toItem(rec), nil
}

func (r *PostgresRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, currentStep string) error {
	return mapNotFound(r.store.UpdateProgress(ctx, id, progress, currentStep))
}

func (r *PostgresRepository) InsertAuditTrail(ctx context.Context, entry service.AuditEntry) error {
	return r.store.InsertAuditTrail(ctx, persistence.AuditTrailRecord{
		ID:                  entry.ID,
		TenantID:            entry.TenantID,
		TenantName:          entry.TenantName,
		UserCountAtDeletion: entry.UserCountAtDeletion,
		DeletedBy:           entry.DeletedBy,
		IPAddress:           entry.IPAddress,
		Reason:              entry.Reason,
		Metadata:            entry.Metadata,
		CreatedAt:           entry.CreatedAt,
	})
}

func toRecord(item service.QueueItem) persistence.DeletionQueueRecord {
	return persistence.DeletionQueueRecord{
		ID:                    item.ID,
		TenantID:              item.TenantID,
		CreatedBy:             item.CreatedBy,
		Reason:                item.Reason,
		Status:                string(item.Status),
		ApprovalStatus:        string(item.ApprovalStatus),
		ApproverID:            item.ApproverID,
		ApprovalComment:       item.ApprovalComment,
		ApprovedAt:            item.ApprovedAt,
		CoolingOffHours:       item.CoolingOffHours,
		ScheduledDeletionDate: item.ScheduledDeletionDate,
		Progress:              item.Progress,
		CurrentStep:           item.CurrentStep,
		TotalSteps:            item.TotalSteps,
		RetryCount:            item.RetryCount,
		EmergencyStop:         item.EmergencyStop,
		EmergencyStoppedBy:    item.EmergencyStoppedBy,
		ErrorMessage:          item.ErrorMessage,
		ArchivedAt:            item.ArchivedAt,
		RequestedAt:           item.RequestedAt,
		StartedAt:             item.StartedAt,
		CompletedAt:           item.CompletedAt,
	}
}

func toItem(rec persistence.DeletionQueueRecord) service.QueueItem {
	return service.QueueItem{
		ID:                    rec.ID,
		TenantID:              rec.TenantID,
		CreatedBy:             rec.CreatedBy,
		Reason:                rec.Reason,
		Status:                service.QueueStatus(rec.Status),
		ApprovalStatus:        service.ApprovalStatus(rec.ApprovalStatus),
		ApproverID:            rec.ApproverID,
		ApprovalComment:       rec.ApprovalComment,
		ApprovedAt:            rec.ApprovedAt,
		CoolingOffHours:       rec.CoolingOffHours,
		ScheduledDeletionDate: rec.ScheduledDeletionDate,
		Progress:              rec.Progress,
		CurrentStep:           rec.CurrentStep,
		TotalSteps:            rec.TotalSteps,
		RetryCount:            rec.RetryCount,
		EmergencyStop:         rec.EmergencyStop,
		EmergencyStoppedBy:    rec.EmergencyStoppedBy,
		ErrorMessage:          rec.ErrorMessage,
		ArchivedAt:            rec.ArchivedAt,
		RequestedAt:           rec.RequestedAt,
		StartedAt:             rec.StartedAt,
		CompletedAt:           rec.CompletedAt,
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return service.ErrNotFound
	}
	return err
}

var _ service.Repository = (*PostgresRepository)(nil)
