package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultBase is the topic prefix used when none is configured.
const DefaultBase = "propertyhub"

// defaultAlertCategory applies when an alert payload has no alert_type.
const defaultAlertCategory = "device"

const (
	// maxClockSkew is how far ahead of the receive time a device timestamp
	// may be before it is discarded.
	maxClockSkew = 5 * time.Minute

	// Numeric timestamps at or above this are epoch milliseconds.
	epochMillisThreshold = 1e11
)

// Reserved alert payload keys. Everything else is kept as metadata.
var alertKeys = map[string]bool{
	"alert_type":        true,
	"severity":          true,
	"message":           true,
	"send_notification": true,
	"timestamp":         true,
}

// hvacMetrics are read from hvac payloads in this order.
var hvacMetrics = []string{"current_temperature", "target_temperature", "humidity"}

// Router turns broker messages into Events.
//
// A Router holds no mutable state after construction and is safe for
// concurrent use.
type Router struct {
	base []string
	now  func() time.Time
}

// NewRouter creates a Router for topics under base. An empty base selects
// DefaultBase.
func NewRouter(base string) *Router {
	base = strings.Trim(base, "/")
	if base == "" {
		base = DefaultBase
	}
	return &Router{
		base: strings.Split(base, "/"),
		now:  time.Now,
	}
}

// SetClock replaces the time source used for events without a timestamp.
func (r *Router) SetClock(now func() time.Time) {
	r.now = now
}

// Base returns the configured topic prefix.
func (r *Router) Base() string {
	return strings.Join(r.base, "/")
}

// Decode parses a raw JSON payload and routes it.
func (r *Router) Decode(topic string, raw []byte) Event {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		now := r.now().UTC()
		return Unrecognized{Meta: Meta{Topic: topic, At: now, ReceivedAt: now}, Reason: "invalid JSON payload: " + err.Error()}
	}
	if payload == nil {
		now := r.now().UTC()
		return Unrecognized{Meta: Meta{Topic: topic, At: now, ReceivedAt: now}, Reason: "payload is not a JSON object"}
	}
	return r.Route(topic, payload)
}

// Route classifies a decoded payload by its topic.
//
// Route never panics: a panic while reading the payload is reported as
// Unrecognized.
func (r *Router) Route(topic string, payload map[string]any) (ev Event) {
	received := r.now().UTC()
	meta := Meta{Topic: topic, At: r.timestamp(payload, received), ReceivedAt: received}

	defer func() {
		if rec := recover(); rec != nil {
			ev = Unrecognized{Meta: meta, Reason: fmt.Sprintf("panic while routing: %v", rec)}
		}
	}()

	domain, entity, reason := r.split(topic)
	if reason != "" {
		return Unrecognized{Meta: meta, Reason: reason}
	}

	switch domain {
	case DomainSensor:
		// The final segment is the metric; at least one segment must remain.
		if len(entity) < 2 { //nolint:mnd // entity + metric
			return Unrecognized{Meta: meta, Reason: "sensor topic needs an entity key and a metric"}
		}
		meta.DeviceID = strings.Join(entity[:len(entity)-1], "/")
		meta.Scope = entity[0]
		return r.sensor(meta, entity[len(entity)-1], payload)
	case DomainHVAC, DomainLock, DomainAlert, DomainState:
		if len(entity) == 0 {
			return Unrecognized{Meta: meta, Reason: "missing entity key"}
		}
		meta.DeviceID = strings.Join(entity, "/")
		meta.Scope = entity[0]
	default:
		return Unrecognized{Meta: meta, Reason: fmt.Sprintf("unknown domain %q", domain)}
	}

	switch domain { //nolint:exhaustive // sensor handled above
	case DomainHVAC:
		return r.hvac(meta, payload)
	case DomainLock:
		return r.lock(meta, payload)
	case DomainAlert:
		return r.alert(meta, payload)
	default:
		return r.state(meta, payload)
	}
}

// split checks the base prefix and returns the domain and entity segments.
func (r *Router) split(topic string) (Domain, []string, string) {
	parts := strings.Split(topic, "/")
	if len(parts) <= len(r.base) {
		return "", nil, "topic too short"
	}
	for i, seg := range r.base {
		if parts[i] != seg {
			return "", nil, fmt.Sprintf("topic outside base %q", r.Base())
		}
	}

	rest := parts[len(r.base):]
	for _, seg := range rest {
		if seg == "" {
			return "", nil, "empty topic segment"
		}
	}
	return Domain(rest[0]), rest[1:], ""
}

func (r *Router) sensor(meta Meta, metric string, payload map[string]any) Event {
	raw, ok := payload["value"]
	if !ok || raw == nil {
		return Unrecognized{Meta: meta, Reason: "sensor payload missing value"}
	}
	value, ok := toFloat(raw)
	if !ok {
		return Unrecognized{Meta: meta, Reason: fmt.Sprintf("sensor value %v is not numeric", raw)}
	}
	return Reading{
		Meta:    meta,
		Domain:  DomainSensor,
		Samples: []Sample{{Metric: metric, Value: value, Unit: optionalString(payload, "unit")}},
	}
}

func (r *Router) hvac(meta Meta, payload map[string]any) Event {
	unit := optionalString(payload, "unit")

	samples := make([]Sample, 0, len(hvacMetrics))
	for _, metric := range hvacMetrics {
		raw, ok := payload[metric]
		if !ok || raw == nil {
			continue
		}
		value, ok := toFloat(raw)
		if !ok {
			return Unrecognized{Meta: meta, Reason: fmt.Sprintf("hvac %s %v is not numeric", metric, raw)}
		}
		s := Sample{Metric: metric, Value: value, Unit: unit}
		if metric == "humidity" {
			pct := "percent"
			s.Unit = &pct
		}
		samples = append(samples, s)
	}
	if len(samples) == 0 {
		return Unrecognized{Meta: meta, Reason: "hvac payload has no numeric metrics"}
	}

	return Reading{
		Meta:    meta,
		Domain:  DomainHVAC,
		Samples: samples,
		Mode:    optionalString(payload, "mode"),
	}
}

func (r *Router) lock(meta Meta, payload map[string]any) Event {
	eventType := optionalString(payload, "event_type")
	if eventType == nil {
		return Unrecognized{Meta: meta, Reason: "lock payload missing event_type"}
	}

	success := true
	if raw, ok := payload["success"]; ok && raw != nil {
		b, ok := toBool(raw)
		if !ok {
			return Unrecognized{Meta: meta, Reason: fmt.Sprintf("lock success %v is not a boolean", raw)}
		}
		success = b
	}

	return AccessEvent{
		Meta:       meta,
		EventType:  *eventType,
		Success:    success,
		Actor:      firstString(payload, "user", "user_name"),
		Credential: firstString(payload, "code_used", "code_type"),
	}
}

func (r *Router) alert(meta Meta, payload map[string]any) Event {
	category := defaultAlertCategory
	if c := optionalString(payload, "alert_type"); c != nil {
		category = *c
	}

	var message string
	if m := optionalString(payload, "message"); m != nil {
		message = *m
	}

	var notify bool
	if raw, ok := payload["send_notification"]; ok && raw != nil {
		b, ok := toBool(raw)
		if !ok {
			return Unrecognized{Meta: meta, Reason: fmt.Sprintf("send_notification %v is not a boolean", raw)}
		}
		notify = b
	}

	var severity string
	if raw, ok := payload["severity"].(string); ok {
		severity = raw
	}

	metadata := make(map[string]any)
	for k, v := range payload {
		if !alertKeys[k] {
			metadata[k] = v
		}
	}

	return SystemAlert{
		Meta:             meta,
		Category:         category,
		Severity:         NormalizeSeverity(severity),
		Message:          message,
		SendNotification: notify,
		Metadata:         metadata,
	}
}

func (r *Router) state(meta Meta, payload map[string]any) Event {
	state := optionalString(payload, "state")
	if state == nil {
		return Unrecognized{Meta: meta, Reason: "state payload missing state"}
	}
	if id := optionalString(payload, "device_id"); id != nil {
		meta.DeviceID = *id
	}

	ev := DeviceState{Meta: meta, State: *state}
	for key, dst := range map[string]**float64{
		"battery_level":   &ev.BatteryLevel,
		"signal_strength": &ev.SignalStrength,
	} {
		raw, ok := payload[key]
		if !ok || raw == nil {
			continue
		}
		v, ok := toFloat(raw)
		if !ok {
			return Unrecognized{Meta: meta, Reason: fmt.Sprintf("%s %v is not numeric", key, raw)}
		}
		*dst = &v
	}
	return ev
}

// timestamp reads an optional RFC 3339 or unix timestamp from the payload.
// Numbers are seconds, or milliseconds at or above epochMillisThreshold.
// Missing, unparsable or far-future values fall back to received.
func (r *Router) timestamp(payload map[string]any, received time.Time) time.Time {
	var t time.Time
	switch v := payload["timestamp"].(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			t = parsed
		}
	case float64:
		switch {
		case v >= epochMillisThreshold:
			t = time.UnixMilli(int64(v))
		case v > 0:
			t = time.Unix(int64(v), 0)
		}
	}
	if t.IsZero() || t.After(received.Add(maxClockSkew)) {
		return received
	}
	return t.UTC()
}

// NormalizeSeverity maps free-form severities onto the four known levels.
// Unknown or empty values become warning.
func NormalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info", "information", "low":
		return SeverityInfo
	case "critical", "crit", "high":
		return SeverityCritical
	case "emergency", "emerg", "fatal":
		return SeverityEmergency
	default:
		return SeverityWarning
	}
}

// IsOnlineState reports whether a device state string means online.
func IsOnlineState(state string) bool {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "online", "active", "connected":
		return true
	default:
		return false
	}
}
