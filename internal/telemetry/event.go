package telemetry

import "time"

// Domain is the second topic segment and selects how the payload is read.
type Domain string

// Supported topic domains.
const (
	DomainSensor Domain = "sensor"
	DomainLock   Domain = "lock"
	DomainHVAC   Domain = "hvac"
	DomainAlert  Domain = "alert"
	DomainState  Domain = "state"
)

// Domains lists every domain the broker client subscribes to.
var Domains = []Domain{DomainSensor, DomainLock, DomainHVAC, DomainAlert, DomainState}

// Kind identifies the concrete Event variant.
type Kind string

// Event kinds.
const (
	KindReading      Kind = "reading"
	KindAccess       Kind = "access"
	KindState        Kind = "state"
	KindAlert        Kind = "alert"
	KindUnrecognized Kind = "unrecognized"
)

// Severity levels accepted on alert topics.
const (
	SeverityInfo      = "info"
	SeverityWarning   = "warning"
	SeverityCritical  = "critical"
	SeverityEmergency = "emergency"
)

// Event is a decoded broker message. The concrete type is one of Reading,
// AccessEvent, DeviceState, SystemAlert or Unrecognized.
type Event interface {
	Kind() Kind
	Source() Meta
}

// Meta carries the fields every routed event shares.
//
// At is the device-reported time, or the receive time when the payload
// had none or an implausible one. ReceivedAt is always the receive time.
type Meta struct {
	Topic      string    `json:"topic"`
	DeviceID   string    `json:"device_id"`
	Scope      string    `json:"scope"`
	At         time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at"`
}

// Source returns the shared event fields.
func (m Meta) Source() Meta { return m }

// Sample is one metric value within a Reading.
type Sample struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Unit   *string `json:"unit,omitempty"`
}

// Reading is a numeric measurement from a sensor or HVAC controller.
type Reading struct {
	Meta
	Domain  Domain   `json:"domain"`
	Samples []Sample `json:"samples"`
	// Mode is the HVAC operating mode, when reported.
	Mode *string `json:"mode,omitempty"`
}

// AccessEvent is a lock or keypad event.
type AccessEvent struct {
	Meta
	EventType  string  `json:"event_type"`
	Success    bool    `json:"success"`
	Actor      *string `json:"actor,omitempty"`
	Credential *string `json:"credential,omitempty"`
}

// DeviceState reports connectivity and health for a device.
type DeviceState struct {
	Meta
	State          string   `json:"state"`
	BatteryLevel   *float64 `json:"battery_level,omitempty"`
	SignalStrength *float64 `json:"signal_strength,omitempty"`
}

// Online reports whether State counts as online.
func (s DeviceState) Online() bool {
	return IsOnlineState(s.State)
}

// SystemAlert is an alert raised by a device or hub.
type SystemAlert struct {
	Meta
	Category         string         `json:"category"`
	Severity         string         `json:"severity"`
	Message          string         `json:"message"`
	SendNotification bool           `json:"send_notification"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Unrecognized is a message the router could not classify.
type Unrecognized struct {
	Meta
	Reason string `json:"reason"`
}

func (Reading) Kind() Kind      { return KindReading }
func (AccessEvent) Kind() Kind  { return KindAccess }
func (DeviceState) Kind() Kind  { return KindState }
func (SystemAlert) Kind() Kind  { return KindAlert }
func (Unrecognized) Kind() Kind { return KindUnrecognized }
