package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/staffbridge/staffbridge-saas/domains/deletion/be/service"
	"github.com/staffbridge/staffbridge-saas/platform/go/persistence"
)

// DirectoryAdapter bridges the tenant directory store to the service's view
// of the tenant registry.
type DirectoryAdapter struct {
	dir *persistence.TenantDirectory
}

// NewDirectoryAdapter wraps a tenant directory store.
func NewDirectoryAdapter(dir *persistence.TenantDirectory) *DirectoryAdapter {
	return &DirectoryAdapter{dir: dir}
}

func (a *DirectoryAdapter) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	rec, err := a.dir.Get(ctx, id)
	if err != nil {
		return service.Tenant{}, mapNotFound(err)
	}
	return service.Tenant{
		ID:        rec.ID,
		Name:      rec.Name,
		Subdomain: rec.Subdomain,
		Plan:      rec.Plan,
		Lifecycle: service.LifecycleStatus(rec.LifecycleStatus),
		CreatedAt: rec.CreatedAt,
	}, nil
}

func (a *DirectoryAdapter) SetLifecycleStatus(ctx context.Context, id uuid.UUID, status service.LifecycleStatus) error {
	return mapNotFound(a.dir.SetLifecycleStatus(ctx, id, string(status)))
}

func (a *DirectoryAdapter) HasActiveLegalHold(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	return a.dir.HasActiveLegalHold(ctx, tenantID)
}

func (a *DirectoryAdapter) SharedResourceCount(ctx context.Context, tenantID uuid.UUID) (int, error) {
	return a.dir.SharedResourceCount(ctx, tenantID)
}

func (a *DirectoryAdapter) UserCount(ctx context.Context, tenantID uuid.UUID) (int, error) {
	return a.dir.UserCount(ctx, tenantID)
}

func (a *DirectoryAdapter) AdminEmails(ctx context.Context, tenantID uuid.UUID) ([]string, error) {
	return a.dir.AdminEmails(ctx, tenantID)
}

var _ service.TenantDirectory = (*DirectoryAdapter)(nil)
