package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/rmf-intake/internal/config"
	"github.com/spec-kit/rmf-intake/internal/domain"
	"github.com/spec-kit/rmf-intake/internal/events"
)

func TestNotificationService_PostsCreatedEvent(t *testing.T) {
	var received map[string]any
	var header string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-RMF-Event")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewNotificationService(nil, config.NotificationConfig{WebhookURL: server.URL, WebhookTimeoutSeconds: 2})
	err := n.Deliver(context.Background(), events.Event{
		ID:            "evt-1",
		Type:          events.EventTicketCreated,
		ControlNumber: "RMF-ELEC-2024-03-001",
		Payload:       events.TicketCreatedPayload{CategoryCode: "ELEC", Status: domain.TicketStatusPending},
	})
	require.NoError(t, err)

	assert.Equal(t, "ticket_created", header)
	assert.Equal(t, "RMF-ELEC-2024-03-001", received["control_number"])
	payload, ok := received["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ELEC", payload["category_code"])
}

func TestNotificationService_WebhookErrorIsReturned(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewNotificationService(nil, config.NotificationConfig{WebhookURL: server.URL})
	err := n.Deliver(context.Background(), events.Event{Type: events.EventTicketStatusChanged, ControlNumber: "RMF-ELEC-2024-03-001"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestNotificationService_OnlyLifecycleEventsArePosted(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	n := NewNotificationService(nil, config.NotificationConfig{WebhookURL: server.URL})
	ctx := context.Background()
	for _, eventType := range []events.EventType{events.EventTicketRemarkAdded, events.EventTicketFileReplaced, events.EventTicketDeleted} {
		require.NoError(t, n.Deliver(ctx, events.Event{Type: eventType}))
	}
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestNotificationService_NoWebhookConfigured(t *testing.T) {
	n := NewNotificationService(nil, config.NotificationConfig{})
	assert.NoError(t, n.Deliver(context.Background(), events.Event{Type: events.EventTicketCreated}))
	assert.Len(t, n.Events(), 5)
}
