// Package ingest turns routed broker messages into durable records and
// forwards them to realtime clients.
//
// Recorder persists one telemetry.Event per call, each in its own
// transaction. Pipeline is the mqtt.MessageHandler that chains routing,
// recording, the optional InfluxDB mirror and realtime fan-out.
//
// Failures are at-most-once: a persistence error is logged and counted and
// the next message is processed normally.
package ingest
