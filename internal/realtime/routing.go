package realtime

import (
	"strings"

	"github.com/nerrad567/propertyhub-core/internal/alert"
	"github.com/nerrad567/propertyhub-core/internal/telemetry"
)

// Room names and templates. {scope} is replaced with the event scope.
const (
	RoomUnit           = "unit:{scope}"
	RoomIoTAll         = "iot:all"
	RoomSecurityAccess = "security:access"
	RoomAlertsSecurity = "alerts:security"
	RoomAlertsCritical = "alerts:critical"
	RoomAlertsAll      = "alerts:all"
	RoomDevicesStatus  = "devices:status"
)

const scopePlaceholder = "{scope}"

// Facts are the event properties routing conditions look at.
type Facts struct {
	Scope    string
	Severity string
	Failed   bool
}

// Condition decides whether a rule applies to an event.
type Condition func(Facts) bool

// RoomRule targets one room. A nil When always applies. Global also sends
// the message to every connection when the rule applies.
type RoomRule struct {
	Room   string
	When   Condition
	Global bool
}

// RouteTable maps a message type to its room rules.
type RouteTable map[string][]RoomRule

// Routing conditions.
var (
	whenFailed = func(f Facts) bool { return f.Failed }
	whenUrgent = func(f Facts) bool { return alert.Severity(f.Severity).IsUrgent() }
	notUrgent  = func(f Facts) bool { return !alert.Severity(f.Severity).IsUrgent() }
)

// DefaultRoutes returns the standard routing table.
func DefaultRoutes() RouteTable {
	return RouteTable{
		TypeSensorReading: {
			{Room: RoomUnit},
			{Room: RoomIoTAll},
		},
		TypeHVACUpdate: {
			{Room: RoomUnit},
			{Room: RoomIoTAll},
		},
		TypeLockEvent: {
			{Room: RoomSecurityAccess},
			{Room: RoomIoTAll},
			{Room: RoomAlertsSecurity, When: whenFailed},
		},
		TypeDeviceState: {
			{Room: RoomDevicesStatus},
			{Room: RoomIoTAll},
		},
		TypeDeviceAlert: {
			{Room: RoomAlertsCritical, When: whenUrgent, Global: true},
			{Room: RoomAlertsAll, When: notUrgent},
		},
		TypeIncidentCreated: {
			{Room: RoomAlertsCritical},
			{Room: RoomAlertsAll},
		},
		TypeSLABreach: {
			{Room: RoomAlertsCritical},
			{Room: RoomAlertsAll},
		},
	}
}

// Resolve returns the concrete rooms msgType targets for facts, and
// whether it is also a global broadcast. Rules whose template needs a scope
// the event lacks are skipped.
func (t RouteTable) Resolve(msgType string, facts Facts) (rooms []string, global bool) {
	for _, rule := range t[msgType] {
		if rule.When != nil && !rule.When(facts) {
			continue
		}
		if rule.Global {
			global = true
		}
		room := rule.Room
		if strings.Contains(room, scopePlaceholder) {
			if facts.Scope == "" {
				continue
			}
			room = strings.ReplaceAll(room, scopePlaceholder, facts.Scope)
		}
		rooms = append(rooms, room)
	}
	return rooms, global
}

// Route delivers msg according to the routing table. Each connection gets
// at most one copy, however many targeted rooms it is in. It returns the
// number of connections reached.
func (h *Hub) Route(msg Message, facts Facts) int {
	rooms, global := h.routes.Resolve(msg.Type(), facts)
	if len(rooms) == 0 && !global {
		return 0
	}

	h.mu.RLock()
	seen := make(map[*Conn]struct{})
	if global {
		for conn := range h.conns {
			seen[conn] = struct{}{}
		}
	} else {
		for _, room := range rooms {
			for conn := range h.rooms[room] {
				seen[conn] = struct{}{}
			}
		}
	}
	h.mu.RUnlock()

	recipients := make([]*Conn, 0, len(seen))
	for conn := range seen {
		recipients = append(recipients, conn)
	}
	return h.fanout(recipients, msg)
}

// PublishEvent forwards a routed telemetry event. Unrecognized events are
// ignored.
func (h *Hub) PublishEvent(ev telemetry.Event) int {
	msg, facts, ok := h.eventMessage(ev)
	if !ok {
		return 0
	}
	return h.Route(msg, facts)
}

func (h *Hub) eventMessage(ev telemetry.Event) (Message, Facts, bool) {
	meta := ev.Source()
	base := map[string]any{
		"device_id": meta.DeviceID,
		"scope":     meta.Scope,
		"topic":     meta.Topic,
	}
	if !meta.At.IsZero() {
		base["recorded_at"] = meta.At.UTC()
	}
	facts := Facts{Scope: meta.Scope}

	switch e := ev.(type) {
	case telemetry.Reading:
		msgType := TypeSensorReading
		if e.Domain == telemetry.DomainHVAC {
			msgType = TypeHVACUpdate
			if e.Mode != nil {
				base["mode"] = *e.Mode
			}
		}
		base["samples"] = e.Samples
		if len(e.Samples) == 1 {
			s := e.Samples[0]
			base["metric"] = s.Metric
			base["value"] = s.Value
			if s.Unit != nil {
				base["unit"] = *s.Unit
			}
		}
		return NewMessage(msgType, h.now(), base), facts, true

	case telemetry.AccessEvent:
		base["event_type"] = e.EventType
		base["success"] = e.Success
		if e.Actor != nil {
			base["actor"] = *e.Actor
		}
		facts.Failed = !e.Success
		return NewMessage(TypeLockEvent, h.now(), base), facts, true

	case telemetry.DeviceState:
		base["state"] = e.State
		base["online"] = e.Online()
		if e.BatteryLevel != nil {
			base["battery_level"] = *e.BatteryLevel
		}
		if e.SignalStrength != nil {
			base["signal_strength"] = *e.SignalStrength
		}
		return NewMessage(TypeDeviceState, h.now(), base), facts, true

	case telemetry.SystemAlert:
		base["category"] = e.Category
		base["severity"] = e.Severity
		base["message"] = e.Message
		if len(e.Metadata) > 0 {
			base["metadata"] = e.Metadata
		}
		facts.Severity = e.Severity
		return NewMessage(TypeDeviceAlert, h.now(), base), facts, true

	default:
		return nil, Facts{}, false
	}
}

// PublishAlert forwards a stored alert, such as a broker outage.
func (h *Hub) PublishAlert(a alert.Alert) int {
	msg := NewMessage(TypeDeviceAlert, h.now(), map[string]any{
		"alert_id":  a.ID,
		"device_id": a.Source,
		"category":  a.Category,
		"severity":  string(a.Severity),
		"message":   a.Message,
		"status":    string(a.Status),
		"metadata":  a.Metadata,
	})
	return h.Route(msg, Facts{Severity: string(a.Severity)})
}

// PublishIncident announces a newly created incident.
func (h *Hub) PublishIncident(inc alert.Incident) {
	msg := NewMessage(TypeIncidentCreated, h.now(), map[string]any{
		"incident_id": inc.ID,
		"alert_id":    inc.AlertID,
		"scope":       inc.Scope,
		"category":    inc.Category,
		"priority":    string(inc.Priority),
		"sla_due":     inc.SLADue.UTC(),
	})
	h.Route(msg, Facts{Scope: inc.Scope})
}

// PublishBreach announces an incident that missed its SLA.
func (h *Hub) PublishBreach(inc alert.Incident, hoursOverdue float64) {
	msg := NewMessage(TypeSLABreach, h.now(), map[string]any{
		"incident_id":   inc.ID,
		"alert_id":      inc.AlertID,
		"scope":         inc.Scope,
		"category":      inc.Category,
		"priority":      string(inc.Priority),
		"sla_due":       inc.SLADue.UTC(),
		"hours_overdue": hoursOverdue,
	})
	h.Route(msg, Facts{Scope: inc.Scope})
}

var _ alert.Publisher = (*Hub)(nil)
