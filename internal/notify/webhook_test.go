package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/propertyhub-core/internal/infrastructure/config"
)

func TestWebhookSender_PostsJSON(t *testing.T) {
	var got Notification
	var token, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		token = r.Header.Get("X-Hook-Token")
		contentType = r.Header.Get("Content-Type")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(config.WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"X-Hook-Token": "s3cret"},
	})
	n := Notification{
		Title:     "SLA breached",
		Message:   "incident inc-1 is 2h overdue",
		Priority:  PriorityHigh,
		Tags:      []string{"sla"},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Send(context.Background(), n))

	assert.Equal(t, "s3cret", token)
	assert.Contains(t, contentType, "application/json")
	assert.Equal(t, n.Title, got.Title)
	assert.Equal(t, PriorityHigh, got.Priority)
	assert.Equal(t, []string{"sla"}, got.Tags)
	assert.True(t, n.Timestamp.Equal(got.Timestamp))
}

func TestWebhookSender_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewWebhookSender(config.WebhookConfig{URL: srv.URL, Retries: 2})
	err := s.Send(context.Background(), Notification{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookSender_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(config.WebhookConfig{URL: srv.URL, Retries: 1})
	require.NoError(t, s.Send(context.Background(), Notification{Title: "x"}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhookSender_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := NewWebhookSender(config.WebhookConfig{URL: url, Timeout: 1})
	assert.Error(t, s.Send(context.Background(), Notification{Title: "x"}))
}
