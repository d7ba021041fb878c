package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/staffbridge/staffbridge-saas/platform/go/notify"
)

// Repository abstracts queue, audit and step-log persistence.
type Repository interface {
	CreateQueueItem(ctx context.Context, item QueueItem) (QueueItem, error)
	Get(ctx context.Context, id uuid.UUID) (QueueItem, error)
	FindInFlightForTenant(ctx context.Context, tenantID uuid.UUID) (QueueItem, error)
	LatestForTenant(ctx context.Context, tenantID uuid.UUID) (QueueItem, error)
	RecordApproval(ctx context.Context, id uuid.UUID, approverID uuid.UUID, comment string, approval ApprovalStatus, status QueueStatus, approvedAt time.Time) (QueueItem, error)
	FlagEmergencyStop(ctx context.Context, id uuid.UUID, stoppedBy uuid.UUID) (QueueItem, error)
	MarkTerminal(ctx context.Context, id uuid.UUID, status QueueStatus, errorMessage *string, completedAt *time.Time) (QueueItem, error)
	ResetForRetry(ctx context.Context, id uuid.UUID) (QueueItem, error)
	InsertAuditTrail(ctx context.Context, entry AuditEntry) error
}

// TenantDirectory abstracts the tenant registry reads and lifecycle writes.
type TenantDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (Tenant, error)
	SetLifecycleStatus(ctx context.Context, id uuid.UUID, status LifecycleStatus) error
	HasActiveLegalHold(ctx context.Context, tenantID uuid.UUID) (bool, error)
	SharedResourceCount(ctx context.Context, tenantID uuid.UUID) (int, error)
	UserCount(ctx context.Context, tenantID uuid.UUID) (int, error)
	AdminEmails(ctx context.Context, tenantID uuid.UUID) ([]string, error)
}

// SessionRevoker force-expires every live session for a tenant. Best-effort:
// errors are logged, never propagated.
type SessionRevoker interface {
	RevokeTenantSessions(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

// Service is the approval gate: it owns every queue item until the item leaves
// the queued state, after which the orchestrator takes over.
type Service struct {
	repo     Repository
	tenants  TenantDirectory
	sessions SessionRevoker
	mailer   notify.Mailer
	alerter  notify.Alerter
	cfg      Config
	logger   *zap.Logger

	now func() time.Time
}

// New constructs a Service with required dependencies.
func New(repo Repository, tenants TenantDirectory, sessions SessionRevoker, mailer notify.Mailer, alerter notify.Alerter, cfg Config, logger *zap.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("deletion repo is required")
	}
	if tenants == nil {
		return nil, fmt.Errorf("tenant directory is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("deletion config: %w", err)
	}
	if mailer == nil {
		mailer = notify.NopMailer{}
	}
	if alerter == nil {
		alerter = notify.NopAlerter{}
	}
	return &Service{
		repo:     repo,
		tenants:  tenants,
		sessions: sessions,
		mailer:   mailer,
		alerter:  alerter,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// RequestInput carries the parameters of a new deletion request.
type RequestInput struct {
	TenantID    uuid.UUID
	RequestedBy uuid.UUID
	Reason      string
	IPAddress   string
}

// RequestDeletion validates preconditions, writes the audit trail, enqueues
// the attempt pending approval and marks the tenant for deletion.
func (s *Service) RequestDeletion(ctx context.Context, input RequestInput) (QueueItem, error) {
	if input.Reason == "" {
		return QueueItem{}, fmt.Errorf("%w: a reason is required", ErrInvalidState)
	}

	tenant, err := s.tenants.Get(ctx, input.TenantID)
	if err != nil {
		return QueueItem{}, err
	}
	if tenant.Lifecycle != LifecycleActive {
		return QueueItem{}, fmt.Errorf("%w: tenant lifecycle is %s", ErrInvalidState, tenant.Lifecycle)
	}

	if _, err := s.repo.FindInFlightForTenant(ctx, input.TenantID); err == nil {
		return QueueItem{}, ErrDeletionInProgress
	} else if !errors.Is(err, ErrNotFound) {
		return QueueItem{}, err
	}

	held, err := s.tenants.HasActiveLegalHold(ctx, input.TenantID)
	if err != nil {
		return QueueItem{}, err
	}
	if held {
		return QueueItem{}, ErrBlockedLegalHold
	}

	shared, err := s.tenants.SharedResourceCount(ctx, input.TenantID)
	if err != nil {
		return QueueItem{}, err
	}
	if shared > 0 {
		return QueueItem{}, fmt.Errorf("%w: %d shared resources", ErrBlockedSharedResources, shared)
	}

	userCount, err := s.tenants.UserCount(ctx, input.TenantID)
	if err != nil {
		return QueueItem{}, err
	}

	now := s.now().UTC()

	if err := s.repo.InsertAuditTrail(ctx, AuditEntry{
		ID:                  uuid.New(),
		TenantID:            tenant.ID,
		TenantName:          tenant.Name,
		UserCountAtDeletion: userCount,
		DeletedBy:           input.RequestedBy,
		IPAddress:           input.IPAddress,
		Reason:              input.Reason,
		Metadata: map[string]any{
			"subdomain":  tenant.Subdomain,
			"plan":       tenant.Plan,
			"created_at": tenant.CreatedAt.Format(time.RFC3339),
		},
		CreatedAt: now,
	}); err != nil {
		return QueueItem{}, fmt.Errorf("write audit trail: %w", err)
	}

	// The queue item goes in before the lifecycle flips. The reverse order
	// can strand a tenant in marked_for_deletion with no queue item to
	// reject, and no API path back to active.
	item, err := s.repo.CreateQueueItem(ctx, QueueItem{
		ID:                    uuid.New(),
		TenantID:              tenant.ID,
		CreatedBy:             input.RequestedBy,
		Reason:                input.Reason,
		Status:                StatusPendingApproval,
		ApprovalStatus:        ApprovalPending,
		CoolingOffHours:       s.cfg.CoolingOffHours,
		ScheduledDeletionDate: now.Add(s.cfg.GracePeriod()),
		RequestedAt:           now,
	})
	if err != nil {
		return QueueItem{}, err
	}

	if err := s.tenants.SetLifecycleStatus(ctx, tenant.ID, LifecycleMarkedForDeletion); err != nil {
		if _, cancelErr := s.repo.MarkTerminal(ctx, item.ID, StatusCancelled, nil, nil); cancelErr != nil {
			s.logger.Error("cancel queue item after lifecycle write failure",
				zap.String("queue_id", item.ID.String()), zap.Error(cancelErr))
		}
		return QueueItem{}, err
	}

	s.notifyRequestCreated(tenant, item)
	return item, nil
}

// Approve applies the second operator's sign-off, suspends the tenant and
// queues the run.
func (s *Service) Approve(ctx context.Context, queueID, approverID uuid.UUID, comment string) (QueueItem, error) {
	item, err := s.repo.Get(ctx, queueID)
	if err != nil {
		return QueueItem{}, err
	}
	if item.ApprovalStatus != ApprovalPending {
		return QueueItem{}, fmt.Errorf("%w: approval status is %s", ErrInvalidState, item.ApprovalStatus)
	}
	if approverID == item.CreatedBy {
		return QueueItem{}, ErrSelfApproval
	}

	now := s.now().UTC()
	elapsed := now.Sub(item.RequestedAt)
	if elapsed < s.cfg.CoolingOff() {
		remaining := s.cfg.CoolingOff() - elapsed
		hours := int(math.Ceil(remaining.Hours()))
		return QueueItem{}, fmt.Errorf("%w: %d hours remaining", ErrCoolingOffNotElapsed, hours)
	}

	item, err = s.repo.RecordApproval(ctx, queueID, approverID, comment, ApprovalApproved, StatusQueued, now)
	if err != nil {
		return QueueItem{}, err
	}

	// Suspension takes immediate effect: all live sessions die now, not when
	// the worker picks the item up.
	if err := s.tenants.SetLifecycleStatus(ctx, item.TenantID, LifecycleSuspended); err != nil {
		return QueueItem{}, err
	}
	s.revokeSessions(ctx, item.TenantID)

	s.logger.Info("deletion request approved",
		zap.String("queue_id", item.ID.String()),
		zap.String("tenant_id", item.TenantID.String()),
		zap.String("approver_id", approverID.String()),
	)
	s.alert(notify.SeverityInfo, "Tenant deletion approved",
		fmt.Sprintf("Deletion of tenant %s approved; scheduled for %s.", item.TenantID, item.ScheduledDeletionDate.Format(time.RFC3339)),
		map[string]string{"queue_id": item.ID.String()})

	return item, nil
}

// Reject declines the request and returns the tenant to normal service.
func (s *Service) Reject(ctx context.Context, queueID, approverID uuid.UUID, reason string) (QueueItem, error) {
	item, err := s.repo.Get(ctx, queueID)
	if err != nil {
		return QueueItem{}, err
	}
	if item.ApprovalStatus != ApprovalPending {
		return QueueItem{}, fmt.Errorf("%w: approval status is %s", ErrInvalidState, item.ApprovalStatus)
	}
	if approverID == item.CreatedBy {
		return QueueItem{}, ErrSelfApproval
	}

	item, err = s.repo.RecordApproval(ctx, queueID, approverID, reason, ApprovalRejected, StatusRejected, s.now().UTC())
	if err != nil {
		return QueueItem{}, err
	}
	if err := s.tenants.SetLifecycleStatus(ctx, item.TenantID, LifecycleActive); err != nil {
		return QueueItem{}, err
	}

	s.logger.Info("deletion request rejected",
		zap.String("queue_id", item.ID.String()),
		zap.String("tenant_id", item.TenantID.String()),
		zap.String("approver_id", approverID.String()),
	)
	return item, nil
}

// EmergencyStop sets the cooperative abort flag. For items still sitting in
// the queue the stop is finalized immediately; once a run is in flight the
// orchestrator honors the flag at the next step boundary.
func (s *Service) EmergencyStop(ctx context.Context, queueID, stoppedBy uuid.UUID) (QueueItem, error) {
	item, err := s.repo.Get(ctx, queueID)
	if err != nil {
		return QueueItem{}, err
	}
	if item.Status != StatusQueued && item.Status != StatusProcessing {
		return QueueItem{}, fmt.Errorf("%w: status is %s", ErrInvalidState, item.Status)
	}

	wasQueued := item.Status == StatusQueued

	item, err = s.repo.FlagEmergencyStop(ctx, queueID, stoppedBy)
	if err != nil {
		return QueueItem{}, err
	}

	if wasQueued {
		// No run owns the item yet; finalize now instead of waiting for the
		// worker to notice at its scheduled date.
		item, err = s.repo.MarkTerminal(ctx, queueID, StatusEmergencyStopped, nil, nil)
		if err != nil {
			return QueueItem{}, err
		}
		if err := s.tenants.SetLifecycleStatus(ctx, item.TenantID, LifecycleActive); err != nil {
			return QueueItem{}, err
		}
	}

	s.logger.Warn("emergency stop requested",
		zap.String("queue_id", item.ID.String()),
		zap.String("tenant_id", item.TenantID.String()),
		zap.String("stopped_by", stoppedBy.String()),
	)
	s.alert(notify.SeverityCritical, "Tenant deletion emergency stop",
		fmt.Sprintf("Emergency stop requested for tenant %s.", item.TenantID),
		map[string]string{"queue_id": item.ID.String(), "stopped_by": stoppedBy.String()})

	return item, nil
}

// RetryDeletion re-queues a failed run. Steps are idempotent, so a retry
// replays the whole sequence; already-deleted rows report zero affected.
func (s *Service) RetryDeletion(ctx context.Context, queueID uuid.UUID) (QueueItem, error) {
	item, err := s.repo.Get(ctx, queueID)
	if err != nil {
		return QueueItem{}, err
	}
	if item.Status != StatusFailed {
		return QueueItem{}, fmt.Errorf("%w: status is %s, retry requires failed", ErrInvalidState, item.Status)
	}
	return s.repo.ResetForRetry(ctx, queueID)
}

// Status reports the latest durable deletion state for a tenant. When the
// tenant row is already gone the lifecycle reported is "deleting" until the
// run reaches a terminal state, and "deleted" after.
func (s *Service) Status(ctx context.Context, tenantID uuid.UUID) (StatusReport, error) {
	item, err := s.repo.LatestForTenant(ctx, tenantID)
	if err != nil {
		return StatusReport{}, err
	}

	lifecycle := LifecycleDeleting
	if item.Status.Terminal() {
		lifecycle = LifecycleDeleted
	}
	if tenant, err := s.tenants.Get(ctx, tenantID); err == nil {
		lifecycle = tenant.Lifecycle
	} else if !errors.Is(err, ErrNotFound) {
		return StatusReport{}, err
	}

	daysRemaining := 0
	if until := item.ScheduledDeletionDate.Sub(s.now().UTC()); until > 0 {
		daysRemaining = int(math.Ceil(until.Hours() / 24))
	}

	return StatusReport{
		TenantID:        tenantID,
		DeletionStatus:  lifecycle,
		QueueStatus:     item.Status,
		Progress:        item.Progress,
		CurrentStep:     item.CurrentStep,
		GracePeriodDays: s.cfg.GracePeriodDays,
		DaysRemaining:   daysRemaining,
		ErrorMessage:    item.ErrorMessage,
	}, nil
}

func (s *Service) revokeSessions(ctx context.Context, tenantID uuid.UUID) {
	if s.sessions == nil {
		return
	}
	if n, err := s.sessions.RevokeTenantSessions(ctx, tenantID); err != nil {
		s.logger.Warn("session revocation failed",
			zap.String("tenant_id", tenantID.String()), zap.Error(err))
	} else if n > 0 {
		s.logger.Info("tenant sessions revoked",
			zap.String("tenant_id", tenantID.String()), zap.Int64("sessions", n))
	}
}

// notifyRequestCreated warns the tenant's admins and pings the approvers
// channel. Fire-and-forget: runs detached with its own deadline.
func (s *Service) notifyRequestCreated(tenant Tenant, item QueueItem) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		admins, err := s.tenants.AdminEmails(ctx, tenant.ID)
		if err != nil {
			s.logger.Warn("listing tenant admins failed", zap.Error(err))
		} else if len(admins) > 0 {
			subject := fmt.Sprintf("Scheduled deletion of workspace %q", tenant.Name)
			body := fmt.Sprintf(
				"<p>A deletion of this workspace has been requested. All data will be permanently removed on %s unless the request is rejected or stopped.</p>",
				item.ScheduledDeletionDate.Format("2006-01-02"))
			if err := s.mailer.SendEmail(ctx, admins, subject, body); err != nil {
				s.logger.Warn("deletion warning email failed", zap.Error(err))
			}
		}

		if err := s.alerter.SendAlert(ctx, "tenant-deletions", notify.SeverityWarning,
			"Tenant deletion requested",
			fmt.Sprintf("Tenant %s (%s) is marked for deletion and awaits a second operator's approval.", tenant.Name, tenant.ID),
			map[string]string{
				"queue_id":       item.ID.String(),
				"scheduled_date": item.ScheduledDeletionDate.Format(time.RFC3339),
			}); err != nil {
			s.logger.Warn("approval request alert failed", zap.Error(err))
		}
	}()
}

func (s *Service) alert(severity, title, message string, fields map[string]string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.alerter.SendAlert(ctx, "tenant-deletions", severity, title, message, fields); err != nil {
			s.logger.Warn("alert delivery failed", zap.Error(err))
		}
	}()
}
