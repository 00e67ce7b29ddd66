package ingest

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/propertyhub-core/internal/alert"
	"github.com/nerrad567/propertyhub-core/internal/device"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/database"
	"github.com/nerrad567/propertyhub-core/internal/notify"
	"github.com/nerrad567/propertyhub-core/internal/telemetry"
	_ "github.com/nerrad567/propertyhub-core/migrations"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "ingest.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(context.Background()))
	return db.DB
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Notify(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// recordingLogger keeps "level: msg" entries.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+msg)
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *recordingLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}

type recorderFixture struct {
	db       *sql.DB
	devices  *device.SQLiteRepository
	alerts   *alert.SQLiteRepository
	notifier *recordingNotifier
	logger   *recordingLogger
	rec      *Recorder
}

func newRecorderFixture(t *testing.T) *recorderFixture {
	t.Helper()
	db := setupTestDB(t)
	f := &recorderFixture{
		db:       db,
		devices:  device.NewSQLiteRepository(db),
		alerts:   alert.NewSQLiteRepository(db),
		notifier: &recordingNotifier{},
		logger:   &recordingLogger{},
	}
	f.rec = NewRecorder(f.devices, f.alerts)
	f.rec.SetNotifier(f.notifier)
	f.rec.SetLogger(f.logger)
	return f
}

func reading(deviceID, metric string, value float64) telemetry.Reading {
	unit := "C"
	return telemetry.Reading{
		Meta:    telemetry.Meta{Topic: "propertyhub/sensor/" + deviceID + "/" + metric, DeviceID: deviceID, Scope: "unit-101", At: now},
		Domain:  telemetry.DomainSensor,
		Samples: []telemetry.Sample{{Metric: metric, Value: value, Unit: &unit}},
	}
}

func TestRecord_ReadingCreatesDeviceOnce(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	res := f.rec.Record(ctx, reading("unit-101/temp-1", "temperature", 21.5))
	require.NoError(t, res.Err)
	assert.Equal(t, telemetry.KindReading, res.Kind)
	assert.Equal(t, "unit-101/temp-1", res.DeviceID)
	assert.True(t, res.DeviceCreated)

	res = f.rec.Record(ctx, reading("unit-101/temp-1", "temperature", 22))
	require.NoError(t, res.Err)
	assert.False(t, res.DeviceCreated)

	dev, err := f.devices.GetByID(ctx, "unit-101/temp-1")
	require.NoError(t, err)
	assert.Equal(t, device.CategorySensor, dev.Category)
	assert.Equal(t, "unit-101/temp-1", dev.Name)
	assert.Equal(t, "unit-101", dev.Scope)

	readings, err := f.devices.ListReadings(ctx, "unit-101/temp-1", "temperature", 10)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, 22.0, readings[0].Value)
}

func TestRecord_HVACUsesClimateCategory(t *testing.T) {
	f := newRecorderFixture(t)

	ev := telemetry.Reading{
		Meta:   telemetry.Meta{DeviceID: "unit-101/thermostat", Scope: "unit-101", At: now},
		Domain: telemetry.DomainHVAC,
		Samples: []telemetry.Sample{
			{Metric: "current_temp", Value: 20},
			{Metric: "target_temp", Value: 22},
		},
	}
	res := f.rec.Record(context.Background(), ev)
	require.NoError(t, res.Err)

	dev, err := f.devices.GetByID(context.Background(), "unit-101/thermostat")
	require.NoError(t, err)
	assert.Equal(t, device.CategoryClimate, dev.Category)

	readings, err := f.devices.ListReadings(context.Background(), "unit-101/thermostat", "", 10)
	require.NoError(t, err)
	assert.Len(t, readings, 2)
}

func TestRecord_FailedAccessWarnsWithoutAlert(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	res := f.rec.Record(ctx, telemetry.AccessEvent{
		Meta:      telemetry.Meta{DeviceID: "unit-101/front-door", Scope: "unit-101", At: now},
		EventType: "unlock",
		Success:   false,
	})
	require.NoError(t, res.Err)
	assert.True(t, res.DeviceCreated)
	assert.Empty(t, res.AlertID)
	assert.True(t, f.logger.has("warn: failed access attempt"))

	dev, err := f.devices.GetByID(ctx, "unit-101/front-door")
	require.NoError(t, err)
	assert.Equal(t, device.CategoryLock, dev.Category)

	alerts, err := f.alerts.List(ctx, alert.Filter{})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestRecord_State(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()
	battery := 15.0

	res := f.rec.Record(ctx, telemetry.DeviceState{
		Meta:         telemetry.Meta{DeviceID: "unit-101/temp-1", Scope: "unit-101", At: now},
		State:        "OFFLINE",
		BatteryLevel: &battery,
	})
	require.NoError(t, res.Err)

	dev, err := f.devices.GetByID(ctx, "unit-101/temp-1")
	require.NoError(t, err)
	assert.False(t, dev.Active)
	require.NotNil(t, dev.BatteryLevel)
	assert.Equal(t, 15.0, *dev.BatteryLevel)

	res = f.rec.Record(ctx, telemetry.DeviceState{
		Meta:  telemetry.Meta{DeviceID: "unit-101/temp-1", Scope: "unit-101", At: now},
		State: "Connected",
	})
	require.NoError(t, res.Err)
	assert.False(t, res.DeviceCreated)

	dev, err = f.devices.GetByID(ctx, "unit-101/temp-1")
	require.NoError(t, err)
	assert.True(t, dev.Active)
	assert.Equal(t, 15.0, *dev.BatteryLevel)
}

func TestRecord_SystemAlert(t *testing.T) {
	tests := []struct {
		name       string
		severity   string
		notifyFlag bool
		wantNotify bool
		priority   notify.Priority
	}{
		{"critical with notification", telemetry.SeverityCritical, true, true, notify.PriorityHigh},
		{"emergency with notification", telemetry.SeverityEmergency, true, true, notify.PriorityUrgent},
		{"critical without notification", telemetry.SeverityCritical, false, false, ""},
		{"warning with notification", telemetry.SeverityWarning, true, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRecorderFixture(t)
			ctx := context.Background()

			res := f.rec.Record(ctx, telemetry.SystemAlert{
				Meta:             telemetry.Meta{DeviceID: "fleet/node-3", Scope: "fleet", At: now},
				Category:         "deployment_failed",
				Severity:         tt.severity,
				Message:          "rollout aborted",
				SendNotification: tt.notifyFlag,
				Metadata:         map[string]any{"release": "v2"},
			})
			require.NoError(t, res.Err)
			require.NotEmpty(t, res.AlertID)
			require.NotNil(t, res.Alert)

			stored, err := f.alerts.GetByID(ctx, res.AlertID)
			require.NoError(t, err)
			assert.Equal(t, alert.Severity(tt.severity), stored.Severity)
			assert.Equal(t, "deployment_failed", stored.Category)
			assert.Equal(t, "fleet/node-3", stored.Source)
			assert.Equal(t, "v2", stored.Metadata["release"])

			_, err = f.devices.GetByID(ctx, "fleet/node-3")
			require.NoError(t, err, "source device ensured with the alert")

			if !tt.wantNotify {
				assert.Empty(t, f.notifier.sent)
				return
			}
			require.Len(t, f.notifier.sent, 1)
			assert.Equal(t, tt.priority, f.notifier.sent[0].Priority)
			assert.Equal(t, "rollout aborted", f.notifier.sent[0].Message)
		})
	}
}

func TestRecord_AlertDefaultMessage(t *testing.T) {
	f := newRecorderFixture(t)

	res := f.rec.Record(context.Background(), telemetry.SystemAlert{
		Meta:     telemetry.Meta{DeviceID: "unit-101/smoke", Scope: "unit-101", At: now},
		Category: "smoke",
		Severity: telemetry.SeverityWarning,
	})
	require.NoError(t, res.Err)
	assert.Equal(t, "smoke alert from unit-101/smoke", res.Alert.Message)
}

func TestRecord_Unrecognized(t *testing.T) {
	f := newRecorderFixture(t)

	res := f.rec.Record(context.Background(), telemetry.Unrecognized{Reason: "unknown domain"})
	assert.ErrorIs(t, res.Err, ErrUnrecognized)
	assert.Equal(t, telemetry.KindUnrecognized, res.Kind)
}

type failingDevices struct{ err error }

func (f failingDevices) RecordReadings(context.Context, device.Seen, []device.Reading) (bool, error) {
	return false, f.err
}

func (f failingDevices) RecordAccess(context.Context, device.Seen, device.AccessEvent) (bool, error) {
	return false, f.err
}

func (f failingDevices) RecordState(context.Context, device.Seen, device.StateUpdate) (bool, error) {
	return false, f.err
}

func TestRecord_StoreErrorReported(t *testing.T) {
	boom := errors.New("disk full")
	rec := NewRecorder(failingDevices{err: boom}, nil)

	res := rec.Record(context.Background(), reading("unit-101/temp-1", "temperature", 1))
	assert.ErrorIs(t, res.Err, boom)
	assert.False(t, res.DeviceCreated)
}

func TestCategoryFor(t *testing.T) {
	assert.Equal(t, device.CategorySensor, CategoryFor(telemetry.DomainSensor))
	assert.Equal(t, device.CategoryClimate, CategoryFor(telemetry.DomainHVAC))
	assert.Equal(t, device.CategoryLock, CategoryFor(telemetry.DomainLock))
	assert.Equal(t, device.CategoryAlarm, CategoryFor(telemetry.DomainAlert))
	assert.Equal(t, device.CategoryUnknown, CategoryFor(telemetry.DomainState))
}

func TestRecord_DeviceClockDoesNotMoveStoredTimes(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	router := telemetry.NewRouter("propertyhub")
	router.SetClock(func() time.Time { return now })

	payloads := map[string]map[string]any{
		"hub-7": {"severity": "critical", "timestamp": float64(now.UnixMilli())},
		"hub-8": {"severity": "critical", "timestamp": float64(now.Add(-10 * time.Minute).Unix())},
		"hub-9": {"severity": "critical", "timestamp": "2090-01-01T00:00:00Z"},
	}
	ids := make(map[string]string)
	for dev, payload := range payloads {
		res := f.rec.Record(ctx, router.Route("propertyhub/alert/"+dev, payload))
		require.NoError(t, res.Err, dev)
		ids[dev] = res.AlertID
	}

	for dev, id := range ids {
		stored, err := f.alerts.GetByID(ctx, id)
		require.NoError(t, err, dev)
		assert.True(t, now.Equal(stored.CreatedAt), "%s created_at = %v", dev, stored.CreatedAt)

		d, err := f.devices.GetByID(ctx, dev)
		require.NoError(t, err, dev)
		require.NotNil(t, d.LastSeen)
		assert.True(t, now.Equal(*d.LastSeen), "%s last_seen = %v", dev, d.LastSeen)
	}

	slow, err := f.alerts.GetByID(ctx, ids["hub-8"])
	require.NoError(t, err)
	assert.Equal(t, now.Add(-10*time.Minute).Format(time.RFC3339), slow.Metadata["reported_at"])

	ms, err := f.alerts.GetByID(ctx, ids["hub-7"])
	require.NoError(t, err)
	assert.NotContains(t, ms.Metadata, "reported_at")

	_, err = f.devices.List(ctx, "")
	require.NoError(t, err)
	_, err = f.alerts.List(ctx, alert.Filter{})
	require.NoError(t, err)

	esc := alert.NewEscalator(f.alerts, nil, alert.DefaultPolicy())
	esc.SetClock(func() time.Time { return now.Add(time.Minute) })
	created, err := esc.Escalate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, created)
}

func TestRecord_ReadingKeepsReportedTime(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	reported := now.Add(-3 * time.Minute)
	res := f.rec.Record(ctx, telemetry.Reading{
		Meta: telemetry.Meta{
			Topic:      "propertyhub/sensor/unit-101/temp-1/temperature",
			DeviceID:   "unit-101/temp-1",
			Scope:      "unit-101",
			At:         reported,
			ReceivedAt: now,
		},
		Domain:  telemetry.DomainSensor,
		Samples: []telemetry.Sample{{Metric: "temperature", Value: 21.5}},
	})
	require.NoError(t, res.Err)

	readings, err := f.devices.ListReadings(ctx, "unit-101/temp-1", "", 10)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.True(t, reported.Equal(readings[0].RecordedAt))

	d, err := f.devices.GetByID(ctx, "unit-101/temp-1")
	require.NoError(t, err)
	require.NotNil(t, d.LastSeen)
	assert.True(t, now.Equal(*d.LastSeen))
}
