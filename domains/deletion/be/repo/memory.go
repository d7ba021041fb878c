package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/staffbridge/staffbridge-saas/domains/deletion/be/service"
)

// MemoryRepository is a simple in-memory implementation suitable for tests
// and early development.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]service.QueueItem
	audit []service.AuditEntry
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[uuid.UUID]service.QueueItem)}
}

func (r *MemoryRepository) CreateQueueItem(ctx context.Context, item service.QueueItem) (service.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = item
	return item, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (service.QueueItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		return service.QueueItem{}, service.ErrNotFound
	}
	return item, nil
}

func (r *MemoryRepository) FindInFlightForTenant(ctx context.Context, tenantID uuid.UUID) (service.QueueItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, item := range r.items {
		if item.TenantID != tenantID {
			continue
		}
		switch item.Status {
		case service.StatusPendingApproval, service.StatusQueued, service.StatusProcessing:
			return item, nil
		}
	}
	return service.QueueItem{}, service.ErrNotFound
}

func (r *MemoryRepository) QueueDepth(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, item := range r.items {
		switch item.Status {
		case service.StatusQueued, service.StatusProcessing:
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) LatestForTenant(ctx context.Context, tenantID uuid.UUID) (service.QueueItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matches []service.QueueItem
	for _, item := range r.items {
		if item.TenantID == tenantID {
			matches = append(matches, item)
		}
	}
	if len(matches) == 0 {
		return service.QueueItem{}, service.ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].RequestedAt.After(matches[j].RequestedAt)
	})
	return matches[0], nil
}

func (r *MemoryRepository) RecordApproval(ctx context.Context, id uuid.UUID, approverID uuid.UUID, comment string, approval service.ApprovalStatus, status service.QueueStatus, approvedAt time.Time) (service.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return service.QueueItem{}, service.ErrNotFound
	}
	item.ApprovalStatus = approval
	item.Status = status
	item.ApproverID = &approverID
	item.ApprovalComment = &comment
	item.ApprovedAt = &approvedAt
	r.items[id] = item
	return item, nil
}

func (r *MemoryRepository) FlagEmergencyStop(ctx context.Context, id uuid.UUID, stoppedBy uuid.UUID) (service.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return service.QueueItem{}, service.ErrNotFound
	}
	item.EmergencyStop = true
	item.EmergencyStoppedBy = &stoppedBy
	r.items[id] = item
	return item, nil
}

func (r *MemoryRepository) MarkTerminal(ctx context.Context, id uuid.UUID, status service.QueueStatus, errorMessage *string, completedAt *time.Time) (service.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return service.QueueItem{}, service.ErrNotFound
	}
	item.Status = status
	item.ErrorMessage = errorMessage
	item.CompletedAt = completedAt
	if status == service.StatusCompleted {
		item.Progress = 100
	}
	r.items[id] = item
	return item, nil
}

func (r *MemoryRepository) ResetForRetry(ctx context.Context, id uuid.UUID) (service.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return service.QueueItem{}, service.ErrNotFound
	}
	item.Status = service.StatusQueued
	item.RetryCount++
	item.ErrorMessage = nil
	item.EmergencyStop = false
	item.EmergencyStoppedBy = nil
	item.Progress = 0
	item.CurrentStep = ""
	r.items[id] = item
	return item, nil
}

// NextEligible mirrors the store's eligibility query for worker tests.
func (r *MemoryRepository) NextEligible(ctx context.Context, now time.Time) (service.QueueItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var candidates []service.QueueItem
	for _, item := range r.items {
		if item.Status != service.StatusQueued || item.ApprovalStatus != service.ApprovalApproved {
			continue
		}
		if item.ScheduledDeletionDate.After(now) {
			continue
		}
		if item.ApprovedAt == nil || item.ApprovedAt.Add(time.Duration(item.CoolingOffHours)*time.Hour).After(now) {
			continue
		}
		candidates = append(candidates, item)
	}
	if len(candidates) == 0 {
		return service.QueueItem{}, service.ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].RequestedAt.Before(candidates[j].RequestedAt)
	})
	return candidates[0], nil
}

func (r *MemoryRepository) MarkProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time, totalSteps int) (service.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return service.QueueItem{}, service.ErrNotFound
	}
	item.Status = service.StatusProcessing
	item.StartedAt = &startedAt
	item.TotalSteps = totalSteps
	item.Progress = 0
	item.CurrentStep = ""
	item.ErrorMessage = nil
	r.items[id] = item
	return item, nil
}

func (r *MemoryRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, currentStep string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return service.ErrNotFound
	}
	item.Progress = progress
	item.CurrentStep = currentStep
	r.items[id] = item
	return nil
}

func (r *MemoryRepository) InsertAuditTrail(ctx context.Context, entry service.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, entry)
	return nil
}

// AuditEntries returns a copy of the recorded audit trail; test helper.
func (r *MemoryRepository) AuditEntries() []service.AuditEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]service.AuditEntry, len(r.audit))
	copy(out, r.audit)
	return out
}

// Put overwrites a queue item directly; test helper for shaping timestamps.
func (r *MemoryRepository) Put(item service.QueueItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = item
}

var _ service.Repository = (*MemoryRepository)(nil)
