package service

import (
	"time"

	"github.com/google/uuid"
)

// QueueStatus is the lifecycle of one deletion attempt.
type QueueStatus string

const (
	StatusPendingApproval  QueueStatus = "pending_approval"
	StatusQueued           QueueStatus = "queued"
	StatusProcessing       QueueStatus = "processing"
	StatusCompleted        QueueStatus = "completed"
	StatusFailed           QueueStatus = "failed"
	StatusCancelled        QueueStatus = "cancelled"
	StatusRejected         QueueStatus = "rejected"
	StatusEmergencyStopped QueueStatus = "emergency_stopped"
)

// Terminal reports whether no further transitions are possible except retry.
func (s QueueStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRejected, StatusEmergencyStopped:
		return true
	}
	return false
}

// ApprovalStatus is the two-person-rule state. Transitions run only forward:
// pending to approved or pending to rejected.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// LifecycleStatus mirrors the tenant's lifecycle field. Only Active serves
// normal API traffic; Suspended and Deleting revoke live sessions.
type LifecycleStatus string

const (
	LifecycleActive            LifecycleStatus = "active"
	LifecycleMarkedForDeletion LifecycleStatus = "marked_for_deletion"
	LifecycleSuspended         LifecycleStatus = "suspended"
	LifecycleDeleting          LifecycleStatus = "deleting"

	// LifecycleDeleted is never stored; the status endpoint reports it for
	// tenants whose row is gone and whose run reached a terminal state.
	LifecycleDeleted LifecycleStatus = "deleted"
)

// QueueItem is the domain model of one tenant deletion attempt.
type QueueItem struct {
	ID                    uuid.UUID
	TenantID              uuid.UUID
	CreatedBy             uuid.UUID
	Reason                string
	Status                QueueStatus
	ApprovalStatus        ApprovalStatus
	ApproverID            *uuid.UUID
	ApprovalComment       *string
	ApprovedAt            *time.Time
	CoolingOffHours       int
	ScheduledDeletionDate time.Time
	Progress              int
	CurrentStep           string
	TotalSteps            int
	RetryCount            int
	EmergencyStop         bool
	EmergencyStoppedBy    *uuid.UUID
	ErrorMessage          *string
	ArchivedAt            *time.Time
	RequestedAt           time.Time
	StartedAt             *time.Time
	CompletedAt           *time.Time
}

// Tenant is the directory view the deletion subsystem works with.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	Subdomain string
	Plan      string
	Lifecycle LifecycleStatus
	CreatedAt time.Time
}

// AuditEntry is the immutable record created at request time. It outlives the
// tenant it describes.
type AuditEntry struct {
	ID                  uuid.UUID
	TenantID            uuid.UUID
	TenantName          string
	UserCountAtDeletion int
	DeletedBy           uuid.UUID
	IPAddress           string
	Reason              string
	Metadata            map[string]any
	CreatedAt           time.Time
}

// StatusReport is what the deletion-status endpoint returns.
type StatusReport struct {
	TenantID        uuid.UUID
	DeletionStatus  LifecycleStatus
	QueueStatus     QueueStatus
	Progress        int
	CurrentStep     string
	GracePeriodDays int
	DaysRemaining   int
	ErrorMessage    *string
}
