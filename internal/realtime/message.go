package realtime

import (
	"encoding/json"
	"time"
)

// Server→client message types.
const (
	TypeConnection      = "connection"
	TypeSensorReading   = "sensor_reading"
	TypeHVACUpdate      = "hvac_update"
	TypeLockEvent       = "lock_event"
	TypeDeviceState     = "device_state"
	TypeDeviceAlert     = "device_alert"
	TypeIncidentCreated = "incident_created"
	TypeSLABreach       = "sla_breach"
	TypeRoomJoined      = "room_joined"
	TypeRoomLeft        = "room_left"
	TypePong            = "pong"
	TypeError           = "error"
)

// Client→server actions.
const (
	ActionPing      = "ping"
	ActionJoinRoom  = "join_room"
	ActionLeaveRoom = "leave_room"
)

// Message is a server→client envelope. The type and timestamp keys are set
// by NewMessage; everything else is type-specific.
type Message map[string]any

// NewMessage builds a message of msgType stamped with at.
func NewMessage(msgType string, at time.Time, fields map[string]any) Message {
	msg := make(Message, len(fields)+2)
	for k, v := range fields {
		msg[k] = v
	}
	msg["type"] = msgType
	msg["timestamp"] = at.UTC().Format(time.RFC3339)
	return msg
}

// Type returns the message type.
func (m Message) Type() string {
	t, _ := m["type"].(string) //nolint:errcheck // missing type yields ""
	return t
}

func (m Message) encode() ([]byte, error) {
	return json.Marshal(m)
}

// command is a client→server message.
type command struct {
	Action string `json:"action"`
	Room   string `json:"room,omitempty"`
}
