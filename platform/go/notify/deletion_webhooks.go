package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DeletionWebhooks informs registered external integrations that a tenant is
// being removed, so they can drop their own copies of its data.
type DeletionWebhooks interface {
	NotifyTenantDeletion(ctx context.Context, tenantID uuid.UUID) error
}

// HTTPDeletionWebhooks posts a deletion event to each configured endpoint.
type HTTPDeletionWebhooks struct {
	urls   []string
	client *http.Client
}

// NewHTTPDeletionWebhooks builds a notifier for the given endpoints; an empty
// list yields a no-op notifier.
func NewHTTPDeletionWebhooks(urls []string) *HTTPDeletionWebhooks {
	return &HTTPDeletionWebhooks{
		urls:   urls,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// NotifyTenantDeletion posts the event to every endpoint and joins failures.
func (w *HTTPDeletionWebhooks) NotifyTenantDeletion(ctx context.Context, tenantID uuid.UUID) error {
	if len(w.urls) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"event":     "tenant.deletion",
		"tenant_id": tenantID.String(),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var errs []error
	for _, url := range w.urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			errs = append(errs, fmt.Errorf("build request for %s: %w", url, err))
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			errs = append(errs, fmt.Errorf("post to %s: %w", url, err))
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs = append(errs, fmt.Errorf("webhook %s returned %d", url, resp.StatusCode))
		}
	}
	return errors.Join(errs...)
}

var _ DeletionWebhooks = (*HTTPDeletionWebhooks)(nil)
