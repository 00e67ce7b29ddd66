package device

import "time"

// SystemDeviceID is the synthetic device that owns system-originated alerts.
const SystemDeviceID = "system"

// Category classifies a device by the kind of telemetry it produces.
type Category string

// Known device categories. Unknown categories are stored as given.
const (
	CategorySensor  Category = "sensor"
	CategoryLock    Category = "lock"
	CategoryClimate Category = "climate"
	CategoryCamera  Category = "camera"
	CategorySwitch  Category = "switch"
	CategoryAlarm   Category = "alarm"
	CategorySystem  Category = "system"
	CategoryUnknown Category = "unknown"
)

// Device is a physical or logical entity that reports over the broker.
//
// Devices are created on first sight of an entity key and are never
// hard-deleted; Active is cleared instead.
type Device struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category Category `json:"category"`
	// Scope is the first entity path segment, usually the unit id.
	Scope  string `json:"scope"`
	Active bool   `json:"active"`

	LastSeen       *time.Time `json:"last_seen,omitempty"`
	BatteryLevel   *float64   `json:"battery_level,omitempty"`
	SignalStrength *float64   `json:"signal_strength,omitempty"`
	State          *string    `json:"state,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Seen describes a device as observed in one message. It supplies the
// defaults used when the device has to be created.
type Seen struct {
	ID       string
	Name     string
	Category Category
	Scope    string
	At       time.Time
}

// Reading is one numeric sample. Readings are append-only.
type Reading struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	Unit       *string   `json:"unit,omitempty"`
	Topic      string    `json:"topic"`
	RecordedAt time.Time `json:"recorded_at"`
}

// AccessEvent is one lock or keypad event. Access events are append-only.
type AccessEvent struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	EventType  string    `json:"event_type"`
	Success    bool      `json:"success"`
	Actor      *string   `json:"actor,omitempty"`
	Credential *string   `json:"credential,omitempty"`
	Topic      string    `json:"topic"`
	RecordedAt time.Time `json:"recorded_at"`
}

// StateUpdate carries the fields a state message may change.
// Nil battery or signal values leave the stored value untouched.
type StateUpdate struct {
	Active         bool
	State          string
	BatteryLevel   *float64
	SignalStrength *float64
}
