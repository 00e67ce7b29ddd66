package alert

import (
	"time"

	"github.com/nerrad567/propertyhub-core/internal/device"
)

// Severity is how urgent an alert is.
type Severity string

// Alert severities, least to most urgent.
const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// IsUrgent reports whether the severity is critical or emergency. Urgent
// alerts are escalated, notified and broadcast globally.
func (s Severity) IsUrgent() bool {
	return s == SeverityCritical || s == SeverityEmergency
}

// Status is the lifecycle state of an alert.
type Status string

// Alert statuses. Transitions run open → acknowledged → resolved; an open
// alert may also be resolved directly.
const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// System alert constants.
const (
	SystemSource   = device.SystemDeviceID
	CategoryBroker = "broker"
)

// Alert is a condition raised by a device or by the service itself.
type Alert struct {
	ID             string         `json:"id"`
	Severity       Severity       `json:"severity"`
	Category       string         `json:"category"`
	Source         string         `json:"source"`
	Message        string         `json:"message"`
	Status         Status         `json:"status"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	AcknowledgedBy *string        `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// Filter narrows alert listings. Zero fields match everything.
type Filter struct {
	Status   Status
	Severity Severity
	Source   string
	Limit    int
}

// Priority ranks an incident and selects its SLA.
type Priority string

// Incident priorities.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Priorities lists every priority, most urgent first.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// PriorityFor maps an alert severity to an incident priority.
func PriorityFor(s Severity) Priority {
	switch s {
	case SeverityEmergency, SeverityCritical:
		return PriorityCritical
	case SeverityInfo:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

// Incident statuses. Only open and in_progress incidents can breach.
const (
	IncidentOpen       IncidentStatus = "open"
	IncidentInProgress IncidentStatus = "in_progress"
	IncidentResolved   IncidentStatus = "resolved"
	IncidentClosed     IncidentStatus = "closed"
)

// incidentSources lists the statuses each status may be entered from.
var incidentSources = map[IncidentStatus][]IncidentStatus{
	IncidentInProgress: {IncidentOpen},
	IncidentResolved:   {IncidentOpen, IncidentInProgress},
	IncidentClosed:     {IncidentOpen, IncidentInProgress, IncidentResolved},
}

// CanMoveTo reports whether an incident in status s may move to to.
// Incidents only move forward; closed is terminal.
func (s IncidentStatus) CanMoveTo(to IncidentStatus) bool {
	for _, from := range incidentSources[to] {
		if from == s {
			return true
		}
	}
	return false
}

// Incident is a tracked ticket derived from exactly one alert.
type Incident struct {
	ID         string         `json:"id"`
	AlertID    string         `json:"alert_id"`
	Scope      string         `json:"scope"`
	Category   string         `json:"category"`
	Priority   Priority       `json:"priority"`
	Status     IncidentStatus `json:"status"`
	SLADue     time.Time      `json:"sla_due"`
	Breached   bool           `json:"breached"`
	BreachedAt *time.Time     `json:"breached_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// HoursOverdue is how far past its SLA the incident is at now.
func (i Incident) HoursOverdue(now time.Time) float64 {
	return now.Sub(i.SLADue).Hours()
}

// SLATable maps priorities to response windows.
type SLATable map[Priority]time.Duration

// defaultSLA applies to priorities missing from the table.
const defaultSLA = 24 * time.Hour

// DefaultSLATable returns the standard response windows.
func DefaultSLATable() SLATable {
	return SLATable{
		PriorityCritical: 4 * time.Hour,
		PriorityHigh:     8 * time.Hour,
		PriorityMedium:   24 * time.Hour,
		PriorityLow:      72 * time.Hour,
	}
}

// For returns the SLA for p, 24h when unknown.
func (t SLATable) For(p Priority) time.Duration {
	if d, ok := t[p]; ok && d > 0 {
		return d
	}
	return defaultSLA
}
