// Package notify delivers operator notifications for outages, escalated
// incidents and SLA breaches.
//
// A Sender performs one synchronous delivery. The Dispatcher wraps a Sender
// so callers can fire and forget: Notify returns immediately, failures are
// logged and counted, never returned.
//
// Backends:
//   - log:  writes the notification to the service log
//   - mqtt: publishes JSON to a broker topic
//   - amqp: publishes JSON to a RabbitMQ exchange
//   - webhook: POSTs JSON to an HTTP endpoint
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/propertyhub-core/internal/infrastructure/config"
)

// Priority orders notifications for the receiving channel.
type Priority string

// Notification priorities.
const (
	PriorityLow     Priority = "low"
	PriorityDefault Priority = "default"
	PriorityHigh    Priority = "high"
	PriorityUrgent  Priority = "urgent"
)

// ErrClosed is returned by senders used after Close.
var ErrClosed = errors.New("notify: sender closed")

// Notification is one message for operators.
type Notification struct {
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Priority  Priority  `json:"priority"`
	Tags      []string  `json:"tags,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sender delivers a notification.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Logger defines the logging interface for notification delivery.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// LogSender writes notifications to a logger. It never fails.
type LogSender struct {
	logger Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger Logger) *LogSender {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogSender{logger: logger}
}

// Send logs n at warn level so it stands out from routine output.
func (s *LogSender) Send(_ context.Context, n Notification) error {
	s.logger.Warn("notification",
		"title", n.Title,
		"message", n.Message,
		"priority", string(n.Priority),
		"tags", n.Tags,
	)
	return nil
}

// NewSender builds the Sender selected by cfg.Backend. pub is used by the
// mqtt backend and may be nil otherwise.
func NewSender(cfg config.NotificationsConfig, pub Publisher, logger Logger) (Sender, error) {
	switch cfg.Backend {
	case "", "log":
		return NewLogSender(logger), nil
	case "mqtt":
		if pub == nil {
			return nil, errors.New("notify: mqtt backend needs a broker client")
		}
		return NewMQTTSender(pub, cfg.Topic), nil
	case "amqp":
		return NewAMQPSender(cfg.AMQP), nil
	case "webhook":
		if cfg.Webhook.URL == "" {
			return nil, errors.New("notify: webhook backend needs a url")
		}
		return NewWebhookSender(cfg.Webhook), nil
	default:
		return nil, fmt.Errorf("notify: unknown backend %q", cfg.Backend)
	}
}
