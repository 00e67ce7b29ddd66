package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/propertyhub-core/internal/telemetry"
)

// Measurement names.
const (
	MeasurementReadings    = "readings"
	MeasurementAccess      = "access_events"
	MeasurementDeviceState = "device_state"
)

// pointTime uses the event time, or now when the payload carried none.
func pointTime(meta telemetry.Meta) time.Time {
	if meta.At.IsZero() {
		return time.Now()
	}
	return meta.At
}

func baseTags(meta telemetry.Meta) map[string]string {
	tags := map[string]string{"device_id": meta.DeviceID}
	if meta.Scope != "" {
		tags["scope"] = meta.Scope
	}
	return tags
}

// WriteReading writes one point per sample.
func (c *Client) WriteReading(r telemetry.Reading) {
	if !c.open() {
		return
	}

	at := pointTime(r.Meta)
	for _, s := range r.Samples {
		tags := baseTags(r.Meta)
		tags["domain"] = string(r.Domain)
		tags["metric"] = s.Metric
		if s.Unit != nil {
			tags["unit"] = *s.Unit
		}
		c.writes.WritePoint(write.NewPoint(MeasurementReadings, tags,
			map[string]interface{}{"value": s.Value}, at))
	}
}

// WriteAccess writes a lock or keypad event.
func (c *Client) WriteAccess(a telemetry.AccessEvent) {
	if !c.open() {
		return
	}

	tags := baseTags(a.Meta)
	tags["event_type"] = a.EventType

	fields := map[string]interface{}{"success": a.Success}
	if a.Actor != nil {
		fields["actor"] = *a.Actor
	}
	c.writes.WritePoint(write.NewPoint(MeasurementAccess, tags, fields, pointTime(a.Meta)))
}

// WriteState writes a device connectivity report.
func (c *Client) WriteState(s telemetry.DeviceState) {
	if !c.open() {
		return
	}

	fields := map[string]interface{}{
		"state":  s.State,
		"online": s.Online(),
	}
	if s.BatteryLevel != nil {
		fields["battery_level"] = *s.BatteryLevel
	}
	if s.SignalStrength != nil {
		fields["signal_strength"] = *s.SignalStrength
	}
	c.writes.WritePoint(write.NewPoint(MeasurementDeviceState, baseTags(s.Meta), fields, pointTime(s.Meta)))
}
