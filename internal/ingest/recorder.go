package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/propertyhub-core/internal/alert"
	"github.com/nerrad567/propertyhub-core/internal/device"
	"github.com/nerrad567/propertyhub-core/internal/notify"
	"github.com/nerrad567/propertyhub-core/internal/telemetry"
)

// DeviceStore is the subset of device.Repository the recorder writes to.
type DeviceStore interface {
	RecordReadings(ctx context.Context, seen device.Seen, readings []device.Reading) (bool, error)
	RecordAccess(ctx context.Context, seen device.Seen, ev device.AccessEvent) (bool, error)
	RecordState(ctx context.Context, seen device.Seen, upd device.StateUpdate) (bool, error)
}

// AlertStore persists alerts raised by devices.
type AlertStore interface {
	Create(ctx context.Context, a *alert.Alert) error
}

// Notifier delivers operator notifications without blocking.
type Notifier interface {
	Notify(n notify.Notification)
}

// Logger defines the logging interface for ingestion.
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

// reportedAtKey holds the device-reported time in alert metadata when it
// differs from the receive time.
const reportedAtKey = "reported_at"

// Result reports what Record did with one event.
type Result struct {
	Kind          telemetry.Kind
	DeviceID      string
	DeviceCreated bool
	// AlertID is set when a SystemAlert was stored.
	AlertID string
	// Alert is the stored alert, for fan-out.
	Alert *alert.Alert
	Err   error
}

// Recorder writes routed events to the device and alert stores.
//
// Thread Safety:
//   - Record is safe for concurrent use; serialisation happens in SQLite.
type Recorder struct {
	devices  DeviceStore
	alerts   AlertStore
	notifier Notifier
	logger   Logger
}

// NewRecorder creates a Recorder. The notifier is optional.
func NewRecorder(devices DeviceStore, alerts AlertStore) *Recorder {
	return &Recorder{
		devices: devices,
		alerts:  alerts,
		logger:  noopLogger{},
	}
}

// SetNotifier sets the collaborator for urgent device alerts.
func (r *Recorder) SetNotifier(n Notifier) { r.notifier = n }

// SetLogger sets the logger.
func (r *Recorder) SetLogger(l Logger) { r.logger = l }

// Record persists ev. Errors are returned inside Result, never panicked.
func (r *Recorder) Record(ctx context.Context, ev telemetry.Event) Result {
	meta := ev.Source()
	res := Result{Kind: ev.Kind(), DeviceID: meta.DeviceID}

	switch e := ev.(type) {
	case telemetry.Reading:
		res.DeviceCreated, res.Err = r.recordReading(ctx, e)
	case telemetry.AccessEvent:
		res.DeviceCreated, res.Err = r.recordAccess(ctx, e)
	case telemetry.DeviceState:
		res.DeviceCreated, res.Err = r.recordState(ctx, e)
	case telemetry.SystemAlert:
		a, err := r.recordAlert(ctx, e)
		if err != nil {
			res.Err = err
			break
		}
		res.AlertID = a.ID
		res.Alert = a
	case telemetry.Unrecognized:
		res.Err = fmt.Errorf("%w: %s", ErrUnrecognized, e.Reason)
	default:
		res.Err = fmt.Errorf("%w: unsupported event %T", ErrUnrecognized, ev)
	}
	return res
}

// seenFor describes the device behind an event, creating it with the
// domain's category and the entity key as name.
func seenFor(meta telemetry.Meta, category device.Category) device.Seen {
	return device.Seen{
		ID:       meta.DeviceID,
		Name:     meta.DeviceID,
		Category: category,
		Scope:    meta.Scope,
		At:       received(meta),
	}
}

// at is the device-reported time, used for readings and access events.
func at(meta telemetry.Meta) time.Time {
	if meta.At.IsZero() {
		return received(meta)
	}
	return meta.At.UTC()
}

// received is the ingest time. Device last_seen and alert created_at use it
// so that a drifting device clock cannot move them.
func received(meta telemetry.Meta) time.Time {
	if meta.ReceivedAt.IsZero() {
		return time.Now().UTC()
	}
	return meta.ReceivedAt.UTC()
}

// CategoryFor maps a topic domain to the category given to new devices.
func CategoryFor(d telemetry.Domain) device.Category {
	switch d {
	case telemetry.DomainSensor:
		return device.CategorySensor
	case telemetry.DomainHVAC:
		return device.CategoryClimate
	case telemetry.DomainLock:
		return device.CategoryLock
	case telemetry.DomainAlert:
		return device.CategoryAlarm
	default:
		return device.CategoryUnknown
	}
}

func (r *Recorder) recordReading(ctx context.Context, e telemetry.Reading) (bool, error) {
	rows := make([]device.Reading, 0, len(e.Samples))
	for _, s := range e.Samples {
		rows = append(rows, device.Reading{
			DeviceID:   e.DeviceID,
			Metric:     s.Metric,
			Value:      s.Value,
			Unit:       s.Unit,
			Topic:      e.Topic,
			RecordedAt: at(e.Meta),
		})
	}

	created, err := r.devices.RecordReadings(ctx, seenFor(e.Meta, CategoryFor(e.Domain)), rows)
	if err != nil {
		return false, fmt.Errorf("recording readings for %s: %w", e.DeviceID, err)
	}
	return created, nil
}

func (r *Recorder) recordAccess(ctx context.Context, e telemetry.AccessEvent) (bool, error) {
	if !e.Success {
		args := []any{"device_id", e.DeviceID, "event_type", e.EventType}
		if e.Actor != nil {
			args = append(args, "actor", *e.Actor)
		}
		r.logger.Warn("failed access attempt", args...)
	}

	created, err := r.devices.RecordAccess(ctx, seenFor(e.Meta, device.CategoryLock), device.AccessEvent{
		DeviceID:   e.DeviceID,
		EventType:  e.EventType,
		Success:    e.Success,
		Actor:      e.Actor,
		Credential: e.Credential,
		Topic:      e.Topic,
		RecordedAt: at(e.Meta),
	})
	if err != nil {
		return false, fmt.Errorf("recording access event for %s: %w", e.DeviceID, err)
	}
	return created, nil
}

func (r *Recorder) recordState(ctx context.Context, e telemetry.DeviceState) (bool, error) {
	created, err := r.devices.RecordState(ctx, seenFor(e.Meta, device.CategoryUnknown), device.StateUpdate{
		Active:         e.Online(),
		State:          e.State,
		BatteryLevel:   e.BatteryLevel,
		SignalStrength: e.SignalStrength,
	})
	if err != nil {
		return false, fmt.Errorf("recording state for %s: %w", e.DeviceID, err)
	}
	return created, nil
}

func (r *Recorder) recordAlert(ctx context.Context, e telemetry.SystemAlert) (*alert.Alert, error) {
	a := &alert.Alert{
		Severity:  alert.Severity(e.Severity),
		Category:  e.Category,
		Source:    e.DeviceID,
		Message:   e.Message,
		Metadata:  e.Metadata,
		CreatedAt: received(e.Meta),
	}
	if reported := at(e.Meta); !reported.Equal(a.CreatedAt) {
		a.Metadata = make(map[string]any, len(e.Metadata)+1)
		for k, v := range e.Metadata {
			a.Metadata[k] = v
		}
		a.Metadata[reportedAtKey] = reported.Format(time.RFC3339)
	}
	if a.Message == "" {
		a.Message = fmt.Sprintf("%s alert from %s", e.Category, e.DeviceID)
	}
	if err := r.alerts.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("creating alert for %s: %w", e.DeviceID, err)
	}

	if e.SendNotification && a.Severity.IsUrgent() && r.notifier != nil {
		r.notifier.Notify(notify.Notification{
			Title:     fmt.Sprintf("%s alert: %s", a.Severity, a.Category),
			Message:   a.Message,
			Priority:  alertPriority(a.Severity),
			Tags:      []string{string(a.Severity), a.Category, a.Source},
			Timestamp: a.CreatedAt,
		})
	}
	return a, nil
}

func alertPriority(s alert.Severity) notify.Priority {
	if s == alert.SeverityEmergency {
		return notify.PriorityUrgent
	}
	return notify.PriorityHigh
}
