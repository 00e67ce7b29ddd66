// Package influxdb mirrors ingested telemetry into InfluxDB for dashboards.
//
// SQLite stays the system of record. This package writes a copy of every
// reading, access event and device state report as InfluxDB points so
// Grafana and similar tools can chart them without touching the main store.
//
// # Measurements
//
//   - readings: tags device_id, scope, domain, metric, unit; field value
//   - access_events: tags device_id, scope, event_type; fields success, actor
//   - device_state: tags device_id, scope; fields state, online,
//     battery_level, signal_strength
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, log)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // mirror off
//	}
//	defer client.Close()
//
//	client.WriteReading(reading)
//
// # Error Handling
//
// Writes are non-blocking and batched. Failures go to the Logger passed to
// Connect; they never affect ingestion.
package influxdb
