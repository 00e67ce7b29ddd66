package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/propertyhub-core/internal/alert"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/config"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/metrics"
	"github.com/nerrad567/propertyhub-core/internal/notify"
)

// OutageAlertKey is the KV key holding the id of the open outage alert.
const OutageAlertKey = "propertyhub:watchdog:outage_alert"

// Default supervision settings.
const (
	DefaultThreshold   = 5 * time.Minute
	DefaultMaxAttempts = 10
	DefaultCooldown    = 30 * time.Minute
)

// State is the broker connection state as the watchdog sees it.
type State string

// Watchdog states.
const (
	StateUp   State = "up"
	StateDown State = "down"
)

// Broker is the connection being supervised.
type Broker interface {
	IsConnected() bool
	Connect(ctx context.Context) error
}

// AlertStore is the subset of the alert repository the watchdog uses.
type AlertStore interface {
	Create(ctx context.Context, a *alert.Alert) error
	GetByID(ctx context.Context, id string) (*alert.Alert, error)
	UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error
	Resolve(ctx context.Context, id string, extra map[string]any, at time.Time) (*alert.Alert, error)
}

// Notifier accepts fire-and-forget notifications.
type Notifier interface {
	Notify(n notify.Notification)
}

// Publisher forwards alerts to realtime clients.
type Publisher interface {
	PublishAlert(a alert.Alert) int
}

// Logger defines the logging interface for the watchdog package.
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

// Options configures the Watchdog.
type Options struct {
	// Threshold is how long the broker must be down before the outage
	// alert is raised.
	Threshold time.Duration
	// MaxAttempts is the number of reconnect attempts per round.
	MaxAttempts int
	// Cooldown is the pause after a full round before attempts reset.
	Cooldown time.Duration
}

// DefaultOptions returns the standard settings.
func DefaultOptions() Options {
	return Options{
		Threshold:   DefaultThreshold,
		MaxAttempts: DefaultMaxAttempts,
		Cooldown:    DefaultCooldown,
	}
}

// OptionsFromConfig converts the watchdog config section.
func OptionsFromConfig(cfg config.WatchdogConfig) Options {
	return Options{
		Threshold:   time.Duration(cfg.DowntimeAlertThresholdMinutes) * time.Minute,
		MaxAttempts: cfg.MaxReconnectAttempts,
		Cooldown:    time.Duration(cfg.CooldownMinutes) * time.Minute,
	}
}

// Status is a snapshot of the watchdog state.
type Status struct {
	State     State      `json:"state"`
	Attempts  int        `json:"reconnect_attempts"`
	Failures  int        `json:"reconnect_failures"`
	DownSince *time.Time `json:"down_since,omitempty"`
	AlertID   string     `json:"outage_alert_id,omitempty"`
	LastCheck *time.Time `json:"last_check,omitempty"`
}

// Watchdog supervises a Broker. Tick is not safe for concurrent use; run it
// from one loop. Status may be called from anywhere.
type Watchdog struct {
	broker Broker
	alerts AlertStore
	opts   Options

	kv        kvstore.Store
	notifier  Notifier
	publisher Publisher
	metrics   *metrics.Metrics
	logger    Logger
	clock     Clock

	mu            sync.RWMutex
	state         State
	attempts      int
	failures      int
	downSince     time.Time
	cooldownSince time.Time
	alertID       string
	lastCheck     time.Time
	restored      bool
}

// New creates a Watchdog. Zero option fields take their defaults.
func New(broker Broker, alerts AlertStore, opts Options) *Watchdog {
	def := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = def.Cooldown
	}
	return &Watchdog{
		broker: broker,
		alerts: alerts,
		opts:   opts,
		logger: noopLogger{},
		clock:  realClock{},
		state:  StateUp,
	}
}

// SetStore sets the KV store that mirrors the outage alert id.
func (w *Watchdog) SetStore(kv kvstore.Store) { w.kv = kv }

// SetNotifier sets where outage and recovery notifications go.
func (w *Watchdog) SetNotifier(n Notifier) { w.notifier = n }

// SetPublisher sets where the outage alert is broadcast.
func (w *Watchdog) SetPublisher(p Publisher) { w.publisher = p }

// SetMetrics sets the metrics collector.
func (w *Watchdog) SetMetrics(m *metrics.Metrics) { w.metrics = m }

// SetLogger sets the logger.
func (w *Watchdog) SetLogger(l Logger) { w.logger = l }

// SetClock replaces the time source.
func (w *Watchdog) SetClock(c Clock) { w.clock = c }

// Status returns a snapshot of the current state.
func (w *Watchdog) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := Status{
		State:    w.state,
		Attempts: w.attempts,
		Failures: w.failures,
		AlertID:  w.alertID,
	}
	if !w.downSince.IsZero() {
		t := w.downSince
		s.DownSince = &t
	}
	if !w.lastCheck.IsZero() {
		t := w.lastCheck
		s.LastCheck = &t
	}
	return s
}

// Tick runs one supervision cycle. It returns only the context's error;
// store and broker failures are logged and retried next tick.
func (w *Watchdog) Tick(ctx context.Context) error {
	now := w.clock.Now()
	w.mu.Lock()
	w.lastCheck = now
	w.mu.Unlock()

	if !w.restored {
		w.restore(ctx)
		w.restored = true
	}

	if w.broker.IsConnected() {
		w.metrics.SetBrokerConnected(true)
		w.recover(ctx, now)
		return nil
	}
	w.metrics.SetBrokerConnected(false)

	w.mu.Lock()
	if w.state == StateUp {
		w.state = StateDown
		w.downSince = now
		w.logger.Warn("broker connection down")
	}
	downSince := w.downSince
	w.mu.Unlock()

	if elapsed := now.Sub(downSince); elapsed >= w.opts.Threshold {
		w.raiseOutage(ctx, now, elapsed)
	}

	return w.attemptReconnect(ctx)
}

// attemptReconnect waits out the backoff and calls Connect, unless the
// round is exhausted and still cooling down.
func (w *Watchdog) attemptReconnect(ctx context.Context) error {
	now := w.clock.Now()

	w.mu.Lock()
	if w.attempts >= w.opts.MaxAttempts {
		if w.cooldownSince.IsZero() {
			w.cooldownSince = now
		}
		if now.Sub(w.cooldownSince) < w.opts.Cooldown {
			attempts := w.attempts
			w.mu.Unlock()
			w.logger.Warn("broker still down, reconnect attempts exhausted; still trying after cooldown",
				"attempts", attempts,
				"cooldown", w.opts.Cooldown,
			)
			return nil
		}
		w.attempts = 0
		w.cooldownSince = time.Time{}
		w.logger.Info("watchdog cooldown elapsed, restarting reconnect attempts")
	}
	next := w.attempts + 1
	w.mu.Unlock()

	delay := Backoff(next)
	w.logger.Info("reconnecting to broker", "attempt", next, "delay", delay)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.clock.After(delay):
	}

	w.mu.Lock()
	w.attempts = next
	w.mu.Unlock()

	err := w.broker.Connect(ctx)
	w.metrics.ReconnectAttempted(err != nil)
	if err != nil {
		w.mu.Lock()
		w.failures++
		w.mu.Unlock()
		w.logger.Warn("broker reconnect failed", "attempt", next, "error", err)
		return nil
	}

	if w.broker.IsConnected() {
		w.logger.Info("broker reconnected", "attempt", next)
		w.metrics.SetBrokerConnected(true)
		w.recover(ctx, w.clock.Now())
	}
	return nil
}

// recover transitions Down → Up, resolving the outage alert if one was
// raised. It is a no-op while Up.
func (w *Watchdog) recover(ctx context.Context, now time.Time) {
	w.mu.Lock()
	if w.state == StateUp {
		w.attempts = 0
		w.mu.Unlock()
		return
	}
	downtime := now.Sub(w.downSince)
	alertID := w.alertID

	w.state = StateUp
	w.attempts = 0
	w.cooldownSince = time.Time{}
	w.downSince = time.Time{}
	w.alertID = ""
	w.mu.Unlock()

	minutes := int(downtime.Minutes())
	w.logger.Info("broker connection restored", "downtime_minutes", minutes)

	if alertID == "" {
		return
	}

	_, err := w.alerts.Resolve(ctx, alertID, map[string]any{
		"downtime_minutes": minutes,
		"resolved_by":      "watchdog",
	}, now)
	switch {
	case err == nil, errors.Is(err, alert.ErrAlertNotFound), errors.Is(err, alert.ErrInvalidTransition):
	default:
		w.logger.Error("resolving outage alert failed", "alert_id", alertID, "error", err)
	}

	if w.kv != nil {
		if err := w.kv.Delete(ctx, OutageAlertKey); err != nil {
			w.logger.Warn("clearing outage alert id failed", "error", err)
		}
	}

	w.notify(notify.Notification{
		Title:    "Broker connection restored",
		Message:  fmt.Sprintf("MQTT broker reachable again after %d minutes", minutes),
		Priority: notify.PriorityDefault,
		Tags:     []string{"broker", "recovered"},
	})
}

// raiseOutage creates the outage alert on first call and refreshes its
// metadata afterwards.
func (w *Watchdog) raiseOutage(ctx context.Context, now time.Time, elapsed time.Duration) {
	w.mu.RLock()
	alertID := w.alertID
	downSince := w.downSince
	attempts := w.attempts
	w.mu.RUnlock()

	minutes := int(elapsed.Minutes())
	meta := map[string]any{
		"downtime_minutes":   minutes,
		"reconnect_attempts": attempts,
		"down_since":         downSince.UTC().Format(time.RFC3339),
	}

	if alertID != "" {
		err := w.alerts.UpdateMetadata(ctx, alertID, meta)
		if err == nil {
			return
		}
		if !errors.Is(err, alert.ErrAlertNotFound) {
			w.logger.Error("updating outage alert failed", "alert_id", alertID, "error", err)
			return
		}
		// Deleted underneath us; open a fresh one.
	}

	a := &alert.Alert{
		Severity:  alert.SeverityCritical,
		Category:  alert.CategoryBroker,
		Source:    alert.SystemSource,
		Message:   fmt.Sprintf("MQTT broker unreachable for %d minutes", minutes),
		Metadata:  meta,
		CreatedAt: now,
	}
	if err := w.alerts.Create(ctx, a); err != nil {
		w.logger.Error("creating outage alert failed", "error", err)
		return
	}

	w.mu.Lock()
	w.alertID = a.ID
	w.mu.Unlock()

	if w.kv != nil {
		if err := w.kv.Set(ctx, OutageAlertKey, a.ID, 0); err != nil {
			w.logger.Warn("mirroring outage alert id failed", "error", err)
		}
	}

	w.logger.Error("broker outage alert raised", "alert_id", a.ID, "downtime_minutes", minutes)

	if w.publisher != nil {
		w.publisher.PublishAlert(*a)
	}
	w.notify(notify.Notification{
		Title:    "Broker connection lost",
		Message:  a.Message,
		Priority: notify.PriorityUrgent,
		Tags:     []string{"broker", "outage"},
	})
}

// restore picks up an outage alert left open by a previous process.
func (w *Watchdog) restore(ctx context.Context) {
	if w.kv == nil {
		return
	}
	id, err := w.kv.Get(ctx, OutageAlertKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			w.logger.Warn("reading outage alert id failed", "error", err)
		}
		return
	}

	a, err := w.alerts.GetByID(ctx, id)
	if err != nil || a.Status == alert.StatusResolved {
		w.kv.Delete(ctx, OutageAlertKey) //nolint:errcheck // Stale pointer; best effort
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.alertID = a.ID
	w.state = StateDown
	w.downSince = a.CreatedAt
	if s, ok := a.Metadata["down_since"].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			w.downSince = t
		}
	}
	w.logger.Info("resumed outage alert from previous run", "alert_id", a.ID)
}

func (w *Watchdog) notify(n notify.Notification) {
	if w.notifier == nil {
		return
	}
	n.Timestamp = w.clock.Now().UTC()
	w.notifier.Notify(n)
}
