package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/nerrad567/propertyhub-core/internal/alert"
	"github.com/nerrad567/propertyhub-core/internal/audit"
	"github.com/nerrad567/propertyhub-core/internal/realtime"
)

// resolveRequest is the optional body of POST /alerts/{id}/resolve.
type resolveRequest struct {
	Note string `json:"note"`
}

var (
	validStatuses = map[alert.Status]bool{
		alert.StatusOpen:         true,
		alert.StatusAcknowledged: true,
		alert.StatusResolved:     true,
	}
	validSeverities = map[alert.Severity]bool{
		alert.SeverityInfo:      true,
		alert.SeverityWarning:   true,
		alert.SeverityCritical:  true,
		alert.SeverityEmergency: true,
	}
	validIncidentStatuses = map[alert.IncidentStatus]bool{
		alert.IncidentOpen:       true,
		alert.IncidentInProgress: true,
		alert.IncidentResolved:   true,
		alert.IncidentClosed:     true,
	}
)

// caller returns the upstream-validated identity, or "api" when absent.
func caller(r *http.Request) string {
	if id := r.Header.Get(realtime.IdentityHeader); id != "" {
		return id
	}
	return "api"
}

// handleListAlerts returns alerts newest first.
//
// Query parameters:
//   - status: open, acknowledged, resolved
//   - severity: info, warning, critical, emergency
//   - source: device entity key
//   - limit: 1..1000
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeUnavailable(w, "alert store not configured")
		return
	}

	q := r.URL.Query()
	f := alert.Filter{
		Status:   alert.Status(q.Get("status")),
		Severity: alert.Severity(q.Get("severity")),
		Source:   q.Get("source"),
	}
	if f.Status != "" && !validStatuses[f.Status] {
		writeBadRequest(w, "invalid status")
		return
	}
	if f.Severity != "" && !validSeverities[f.Severity] {
		writeBadRequest(w, "invalid severity")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		writeBadRequest(w, "limit must be between 1 and 1000")
		return
	}
	f.Limit = limit

	alerts, err := s.alerts.List(r.Context(), f)
	if err != nil {
		s.logger.Error("listing alerts", "error", err)
		writeInternalError(w, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// handleGetAlert returns a single alert.
func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeUnavailable(w, "alert store not configured")
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid alert id")
		return
	}

	a, err := s.alerts.GetByID(r.Context(), id)
	if err != nil {
		s.writeAlertError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleAcknowledgeAlert moves an open alert to acknowledged.
func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeUnavailable(w, "alert store not configured")
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid alert id")
		return
	}

	a, err := s.alerts.Acknowledge(r.Context(), id, caller(r), s.now())
	if err != nil {
		s.writeAlertError(w, id, err)
		return
	}
	s.logger.Info("alert acknowledged", "alert_id", id, "by", caller(r))
	s.record(r, audit.ActionAcknowledge, audit.EntityAlert, id, nil)
	writeJSON(w, http.StatusOK, a)
}

// handleResolveAlert resolves an open or acknowledged alert. An optional
// JSON body {"note": "..."} is stored in the alert metadata.
func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeUnavailable(w, "alert store not configured")
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid alert id")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	extra := map[string]any{"resolved_by": caller(r)}
	if req.Note != "" {
		extra["resolution_note"] = req.Note
	}

	a, err := s.alerts.Resolve(r.Context(), id, extra, s.now())
	if err != nil {
		s.writeAlertError(w, id, err)
		return
	}
	s.logger.Info("alert resolved", "alert_id", id, "by", caller(r))
	var details map[string]any
	if req.Note != "" {
		details = map[string]any{"note": req.Note}
	}
	s.record(r, audit.ActionResolve, audit.EntityAlert, id, details)
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) writeAlertError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, alert.ErrAlertNotFound):
		writeNotFound(w, "alert not found")
	case errors.Is(err, alert.ErrInvalidTransition):
		writeConflict(w, err.Error())
	default:
		s.logger.Error("alert operation failed", "alert_id", id, "error", err)
		writeInternalError(w, "alert operation failed")
	}
}

// handleListIncidents returns incidents newest first.
//
// Query parameters:
//   - status: open, in_progress, resolved, closed
//   - limit: 1..1000
func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeUnavailable(w, "alert store not configured")
		return
	}

	status := alert.IncidentStatus(r.URL.Query().Get("status"))
	if status != "" && !validIncidentStatuses[status] {
		writeBadRequest(w, "invalid status")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		writeBadRequest(w, "limit must be between 1 and 1000")
		return
	}

	incidents, err := s.alerts.ListIncidents(r.Context(), status, limit)
	if err != nil {
		s.logger.Error("listing incidents", "error", err)
		writeInternalError(w, "failed to list incidents")
		return
	}
	if incidents == nil {
		incidents = []alert.Incident{}
	}
	now := s.now()
	views := make([]incidentView, 0, len(incidents))
	for _, inc := range incidents {
		views = append(views, newIncidentView(inc, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": views, "count": len(views)})
}

// handleGetIncident returns one incident.
func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeUnavailable(w, "alert store not configured")
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid incident id")
		return
	}

	inc, err := s.alerts.GetIncident(r.Context(), id)
	if err != nil {
		if errors.Is(err, alert.ErrIncidentNotFound) {
			writeNotFound(w, "incident not found")
			return
		}
		s.logger.Error("getting incident", "incident_id", id, "error", err)
		writeInternalError(w, "failed to get incident")
		return
	}
	writeJSON(w, http.StatusOK, newIncidentView(*inc, s.now()))
}

// handleIncidentTransition returns a handler that moves an incident to
// status to and records action in the audit trail.
func (s *Server) handleIncidentTransition(to alert.IncidentStatus, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.alerts == nil {
			writeUnavailable(w, "alert store not configured")
			return
		}
		id, ok := pathID(r)
		if !ok {
			writeBadRequest(w, "invalid incident id")
			return
		}

		inc, err := s.alerts.UpdateIncidentStatus(r.Context(), id, to, s.now())
		if err != nil {
			switch {
			case errors.Is(err, alert.ErrIncidentNotFound):
				writeNotFound(w, "incident not found")
			case errors.Is(err, alert.ErrInvalidTransition):
				writeConflict(w, err.Error())
			default:
				s.logger.Error("updating incident", "incident_id", id, "error", err)
				writeInternalError(w, "failed to update incident")
			}
			return
		}
		s.logger.Info("incident updated", "incident_id", id, "status", string(to), "by", caller(r))
		s.record(r, action, audit.EntityIncident, id, map[string]any{"status": string(to)})
		writeJSON(w, http.StatusOK, newIncidentView(*inc, s.now()))
	}
}

// incidentView adds the live overdue figure to an incident.
type incidentView struct {
	alert.Incident
	Overdue      bool    `json:"overdue"`
	HoursOverdue float64 `json:"hours_overdue,omitempty"`
}

func newIncidentView(inc alert.Incident, now time.Time) incidentView {
	v := incidentView{Incident: inc}
	if open := inc.Status == alert.IncidentOpen || inc.Status == alert.IncidentInProgress; open && now.After(inc.SLADue) {
		v.Overdue = true
		v.HoursOverdue = inc.HoursOverdue(now)
	}
	return v
}
