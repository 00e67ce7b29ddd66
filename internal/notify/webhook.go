package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nerrad567/propertyhub-core/internal/infrastructure/config"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	webhookRetryWait      = 500 * time.Millisecond
	webhookRetryMaxWait   = 5 * time.Second
)

// WebhookSender POSTs notifications as JSON to an HTTP endpoint.
// Transport errors and 5xx responses are retried; 4xx responses are not.
type WebhookSender struct {
	url    string
	client *resty.Client
}

// NewWebhookSender creates a WebhookSender for cfg.URL.
func NewWebhookSender(cfg config.WebhookConfig) *WebhookSender {
	timeout := defaultWebhookTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(webhookRetryWait).
		SetRetryMaxWaitTime(webhookRetryMaxWait).
		SetHeader("Content-Type", "application/json").
		SetHeaders(cfg.Headers).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || (resp != nil && resp.StatusCode() >= http.StatusInternalServerError)
		})

	return &WebhookSender{url: cfg.URL, client: client}
}

// Send delivers n. Any non-2xx final response is an error.
func (s *WebhookSender) Send(ctx context.Context, n Notification) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(n).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("posting notification: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook %s returned %s", s.url, resp.Status())
	}
	return nil
}
