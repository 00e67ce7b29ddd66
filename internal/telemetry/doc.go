// Package telemetry classifies broker messages into typed domain events.
//
// The Router is pure: it reads a topic and a decoded JSON payload and returns
// one of Reading, AccessEvent, DeviceState, SystemAlert or Unrecognized. It
// never touches storage and never returns an error. Anything it cannot make
// sense of comes back as Unrecognized with a Reason the caller logs before
// dropping the message.
//
// # Topic Layout
//
//	<base>/<domain>/<entity-path...>
//
//	propertyhub/sensor/unit-101/temperature   → Reading{DeviceID: unit-101, metric temperature}
//	propertyhub/hvac/unit-101/thermostat      → Reading{Domain: hvac, one sample per metric}
//	propertyhub/lock/front-door               → AccessEvent
//	propertyhub/alert/hub-7                   → SystemAlert
//	propertyhub/state/unit-101/camera-2       → DeviceState
//
// For sensor topics the last segment is the metric name. For every other
// domain the whole entity path is the device key. The first entity segment
// is the device scope (usually the unit).
package telemetry
