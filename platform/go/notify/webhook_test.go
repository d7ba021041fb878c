package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestWebhookAlerterPostsPayload(t *testing.T) {
	t.Parallel()

	var got webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	alerter := NewWebhookAlerter(server.URL)
	err := alerter.SendAlert(context.Background(), "tenant-deletions", SeverityCritical,
		"Tenant deletion failed", "step delete_documents: disk full",
		map[string]string{"queue_id": "q-1"})
	require.NoError(t, err)

	require.Equal(t, "tenant-deletions", got.Channel)
	require.Equal(t, SeverityCritical, got.Severity)
	require.Equal(t, "Tenant deletion failed", got.Title)
	require.Equal(t, "q-1", got.Fields["queue_id"])
}

func TestWebhookAlerterNon2xxIsError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewWebhookAlerter(server.URL).SendAlert(context.Background(), "c", SeverityInfo, "t", "m", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestWebhookAlerterEmptyURLIsNoOp(t *testing.T) {
	t.Parallel()

	err := NewWebhookAlerter("").SendAlert(context.Background(), "c", SeverityInfo, "t", "m", nil)
	require.NoError(t, err)
}

func TestDeletionWebhooksNotifyAllEndpoints(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "tenant.deletion", payload["event"])
		require.Equal(t, tenantID.String(), payload["tenant_id"])
		w.WriteHeader(http.StatusOK)
	})
	first := httptest.NewServer(handler)
	defer first.Close()
	second := httptest.NewServer(handler)
	defer second.Close()

	hooks := NewHTTPDeletionWebhooks([]string{first.URL, second.URL})
	require.NoError(t, hooks.NotifyTenantDeletion(context.Background(), tenantID))
	require.EqualValues(t, 2, calls.Load())
}

func TestDeletionWebhooksOneFailureStillNotifiesRest(t *testing.T) {
	t.Parallel()

	var healthyCalled atomic.Bool
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthyCalled.Store(true)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	hooks := NewHTTPDeletionWebhooks([]string{broken.URL, healthy.URL})
	err := hooks.NotifyTenantDeletion(context.Background(), uuid.New())
	require.Error(t, err)
	require.True(t, healthyCalled.Load())
}

func TestDeletionWebhooksEmptyListIsNoOp(t *testing.T) {
	t.Parallel()

	hooks := NewHTTPDeletionWebhooks(nil)
	require.NoError(t, hooks.NotifyTenantDeletion(context.Background(), uuid.New()))
}
