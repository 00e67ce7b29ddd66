package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRouter() *Router {
	r := NewRouter("base")
	r.SetClock(func() time.Time { return fixedNow })
	return r
}

func TestRoute_SensorReading(t *testing.T) {
	r := newTestRouter()

	ev := r.Route("base/sensor/unit-101/temperature", map[string]any{"value": 23.5, "unit": "celsius"})

	reading, ok := ev.(Reading)
	require.True(t, ok, "got %T: %+v", ev, ev)
	assert.Equal(t, KindReading, reading.Kind())
	assert.Equal(t, DomainSensor, reading.Domain)
	assert.Equal(t, "unit-101", reading.DeviceID)
	assert.Equal(t, "unit-101", reading.Scope)
	assert.Equal(t, fixedNow, reading.At)
	require.Len(t, reading.Samples, 1)
	assert.Equal(t, "temperature", reading.Samples[0].Metric)
	assert.InDelta(t, 23.5, reading.Samples[0].Value, 1e-9)
	require.NotNil(t, reading.Samples[0].Unit)
	assert.Equal(t, "celsius", *reading.Samples[0].Unit)
}

func TestRoute_SensorNestedEntity(t *testing.T) {
	r := newTestRouter()

	ev := r.Route("base/sensor/unit-101/kitchen/humidity", map[string]any{"value": "41"})

	reading, ok := ev.(Reading)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "unit-101/kitchen", reading.DeviceID)
	assert.Equal(t, "unit-101", reading.Scope)
	assert.Equal(t, "humidity", reading.Samples[0].Metric)
	assert.InDelta(t, 41.0, reading.Samples[0].Value, 1e-9)
	assert.Nil(t, reading.Samples[0].Unit)
}

func TestRoute_HVAC(t *testing.T) {
	r := newTestRouter()

	ev := r.Route("base/hvac/unit-204/thermostat", map[string]any{
		"current_temperature": 21.0,
		"target_temperature":  "22.5",
		"mode":                "heat",
	})

	reading, ok := ev.(Reading)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, DomainHVAC, reading.Domain)
	assert.Equal(t, "unit-204/thermostat", reading.DeviceID)
	require.Len(t, reading.Samples, 2)
	assert.Equal(t, "current_temperature", reading.Samples[0].Metric)
	assert.Equal(t, "target_temperature", reading.Samples[1].Metric)
	require.NotNil(t, reading.Mode)
	assert.Equal(t, "heat", *reading.Mode)
}

func TestRoute_Lock(t *testing.T) {
	r := newTestRouter()

	t.Run("failed unlock", func(t *testing.T) {
		ev := r.Route("base/lock/front-door", map[string]any{"event_type": "unlock", "success": false})

		access, ok := ev.(AccessEvent)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, "front-door", access.DeviceID)
		assert.Equal(t, "unlock", access.EventType)
		assert.False(t, access.Success)
		assert.Nil(t, access.Actor)
		assert.Nil(t, access.Credential)
	})

	t.Run("success defaults to true", func(t *testing.T) {
		ev := r.Route("base/lock/front-door", map[string]any{
			"event_type": "code_entry",
			"user_name":  "alice",
			"code_used":  float64(4821),
		})

		access, ok := ev.(AccessEvent)
		require.True(t, ok, "got %T", ev)
		assert.True(t, access.Success)
		require.NotNil(t, access.Actor)
		assert.Equal(t, "alice", *access.Actor)
		require.NotNil(t, access.Credential)
		assert.Equal(t, "4821", *access.Credential)
	})
}

func TestRoute_Alert(t *testing.T) {
	r := newTestRouter()

	ev := r.Route("base/alert/hub-7", map[string]any{
		"alert_type":        "deployment_failed",
		"severity":          "CRITICAL",
		"message":           "rollout failed",
		"send_notification": true,
		"release":           "v2.3.1",
	})

	alert, ok := ev.(SystemAlert)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "hub-7", alert.DeviceID)
	assert.Equal(t, "deployment_failed", alert.Category)
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.Equal(t, "rollout failed", alert.Message)
	assert.True(t, alert.SendNotification)
	assert.Equal(t, map[string]any{"release": "v2.3.1"}, alert.Metadata)
}

func TestRoute_AlertDefaults(t *testing.T) {
	r := newTestRouter()

	ev := r.Route("base/alert/smoke-3", map[string]any{"severity": "bogus"})

	alert, ok := ev.(SystemAlert)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "device", alert.Category)
	assert.Equal(t, SeverityWarning, alert.Severity)
	assert.False(t, alert.SendNotification)
	assert.Empty(t, alert.Metadata)
}

func TestRoute_State(t *testing.T) {
	r := newTestRouter()

	ev := r.Route("base/state/unit-101/camera-2", map[string]any{
		"state":         "Online",
		"battery_level": 87,
		"device_id":     "cam-2",
	})

	state, ok := ev.(DeviceState)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "cam-2", state.DeviceID)
	assert.Equal(t, "unit-101", state.Scope)
	assert.True(t, state.Online())
	require.NotNil(t, state.BatteryLevel)
	assert.InDelta(t, 87.0, *state.BatteryLevel, 1e-9)
	assert.Nil(t, state.SignalStrength)
}

func TestRoute_PayloadTimestamp(t *testing.T) {
	r := newTestRouter()

	ev := r.Route("base/sensor/unit-101/temperature", map[string]any{
		"value":     1.0,
		"timestamp": "2026-02-28T08:30:00Z",
	})
	assert.Equal(t, time.Date(2026, 2, 28, 8, 30, 0, 0, time.UTC), ev.Source().At)
	assert.Equal(t, fixedNow, ev.Source().ReceivedAt)
}

func TestRoute_PayloadTimestampBounds(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		name      string
		timestamp any
		want      time.Time
	}{
		{"epoch seconds", float64(fixedNow.Add(-time.Minute).Unix()), fixedNow.Add(-time.Minute)},
		{"epoch milliseconds", float64(fixedNow.Add(-time.Minute).UnixMilli()), fixedNow.Add(-time.Minute)},
		{"slow device clock kept", float64(fixedNow.Add(-10 * time.Minute).Unix()), fixedNow.Add(-10 * time.Minute)},
		{"small forward skew kept", fixedNow.Add(2 * time.Minute).Format(time.RFC3339), fixedNow.Add(2 * time.Minute)},
		{"future string", "2030-01-01T00:00:00Z", fixedNow},
		{"future seconds", float64(fixedNow.Add(time.Hour).Unix()), fixedNow},
		{"microseconds read as far future", float64(fixedNow.UnixMicro()), fixedNow},
		{"negative", float64(-5), fixedNow},
		{"garbage", "yesterday", fixedNow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := r.Route("base/alert/hub-7", map[string]any{
				"severity":  "critical",
				"timestamp": tt.timestamp,
			})
			alert, ok := ev.(SystemAlert)
			require.True(t, ok, "got %T", ev)
			assert.True(t, tt.want.Equal(alert.At), "At = %v, want %v", alert.At, tt.want)
			assert.Equal(t, fixedNow, alert.ReceivedAt)
		})
	}
}

func TestRoute_Unrecognized(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		name    string
		topic   string
		payload map[string]any
	}{
		{"wrong base", "other/sensor/unit-101/temperature", map[string]any{"value": 1.0}},
		{"base only", "base", map[string]any{}},
		{"unknown domain", "base/garage/door", map[string]any{}},
		{"sensor without metric", "base/sensor/unit-101", map[string]any{"value": 1.0}},
		{"sensor missing value", "base/sensor/unit-101/temperature", map[string]any{"unit": "c"}},
		{"sensor null value", "base/sensor/unit-101/temperature", map[string]any{"value": nil}},
		{"sensor non-numeric", "base/sensor/unit-101/temperature", map[string]any{"value": "warm"}},
		{"sensor bool value", "base/sensor/unit-101/temperature", map[string]any{"value": true}},
		{"sensor nested value", "base/sensor/unit-101/temperature", map[string]any{"value": map[string]any{"x": 1}}},
		{"empty segment", "base/sensor//temperature", map[string]any{"value": 1.0}},
		{"lock without entity", "base/lock", map[string]any{"event_type": "unlock"}},
		{"lock missing event_type", "base/lock/front-door", map[string]any{"success": true}},
		{"lock bad success", "base/lock/front-door", map[string]any{"event_type": "unlock", "success": "maybe"}},
		{"hvac no metrics", "base/hvac/unit-1", map[string]any{"mode": "cool"}},
		{"hvac bad metric", "base/hvac/unit-1", map[string]any{"humidity": []any{1}}},
		{"state missing", "base/state/unit-1", map[string]any{"battery_level": 50.0}},
		{"state bad battery", "base/state/unit-1", map[string]any{"state": "online", "battery_level": "low"}},
		{"nil payload", "base/state/unit-1", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ev Event
			require.NotPanics(t, func() { ev = r.Route(tt.topic, tt.payload) })

			u, ok := ev.(Unrecognized)
			require.True(t, ok, "got %T: %+v", ev, ev)
			assert.Equal(t, KindUnrecognized, u.Kind())
			assert.NotEmpty(t, u.Reason)
			assert.Equal(t, tt.topic, u.Topic)
		})
	}
}

func TestDecode(t *testing.T) {
	r := newTestRouter()

	t.Run("valid", func(t *testing.T) {
		ev := r.Decode("base/sensor/unit-101/co2", []byte(`{"value": 612, "unit": "ppm"}`))
		assert.Equal(t, KindReading, ev.Kind())
	})

	for name, raw := range map[string]string{
		"garbage": `{not json`,
		"array":   `[1,2,3]`,
		"null":    `null`,
		"string":  `"hello"`,
		"empty":   ``,
	} {
		t.Run(name, func(t *testing.T) {
			ev := r.Decode("base/sensor/unit-101/co2", []byte(raw))
			assert.Equal(t, KindUnrecognized, ev.Kind())
		})
	}
}

func TestNewRouter_DefaultBase(t *testing.T) {
	r := NewRouter("")
	assert.Equal(t, DefaultBase, r.Base())

	ev := r.Route("propertyhub/state/unit-1", map[string]any{"state": "offline"})
	state, ok := ev.(DeviceState)
	require.True(t, ok)
	assert.False(t, state.Online())
}

func TestNormalizeSeverity(t *testing.T) {
	tests := map[string]string{
		"info":      SeverityInfo,
		"Warning":   SeverityWarning,
		"critical":  SeverityCritical,
		"EMERGENCY": SeverityEmergency,
		"":          SeverityWarning,
		"whatever":  SeverityWarning,
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeSeverity(in), "NormalizeSeverity(%q)", in)
	}
}

func TestIsOnlineState(t *testing.T) {
	for _, s := range []string{"online", "ACTIVE", " connected "} {
		assert.True(t, IsOnlineState(s), s)
	}
	for _, s := range []string{"offline", "disconnected", "", "sleeping"} {
		assert.False(t, IsOnlineState(s), s)
	}
}
