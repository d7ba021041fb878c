package cache

import (
	"context"

	"github.com/google/uuid"
)

// SessionStore revokes live sessions by purging the tenant's session keys.
type SessionStore struct {
	client *Client
}

// NewSessionStore wraps a cache client. A client without a live connection is
// accepted; revocation then reports zero sessions.
func NewSessionStore(client *Client) *SessionStore {
	return &SessionStore{client: client}
}

// RevokeTenantSessions deletes every session key for the tenant and returns
// how many were removed.
func (s *SessionStore) RevokeTenantSessions(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	if s == nil || !s.client.Available() {
		return 0, nil
	}
	return s.client.PurgePattern(ctx, SessionPattern(tenantID.String()))
}
