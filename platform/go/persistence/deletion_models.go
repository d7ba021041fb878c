package persistence

import (
	"time"

	"github.com/google/uuid"
)

// DeletionQueueRecord is the storage shape of one tenant deletion attempt.
// Status and approval status are kept as strings at this layer; the service
// package owns the enums and their transition rules.
type DeletionQueueRecord struct {
	ID                    uuid.UUID
	TenantID              uuid.UUID
	CreatedBy             uuid.UUID
	Reason                string
	Status                string
	ApprovalStatus        string
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

// StepLogRecord is one append-only row per step attempt per queue item.
type StepLogRecord struct {
	ID             uuid.UUID
	QueueID        uuid.UUID
	StepName       string
	Status         string
	RecordsDeleted int64
	DurationMS     int64
	ErrorMessage   *string
	ExecutedAt     time.Time
}

// AuditTrailRecord is written once at request time and never mutated. It must
// survive the tenant it describes.
type AuditTrailRecord struct {
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

// DataExportRecord tracks a GDPR export or final backup archive on disk.
type DataExportRecord struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	FilePath  string
	Checksum  string
	Kind      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// TenantRecord mirrors the tenants table fields the deletion subsystem reads.
type TenantRecord struct {
	ID              uuid.UUID
	Name            string
	Subdomain       string
	Plan            string
	LifecycleStatus string
	CreatedAt       time.Time
}
