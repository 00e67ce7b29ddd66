package alert

import "errors"

// Domain errors for the alert package.
var (
	// ErrAlertNotFound is returned when an alert ID does not exist.
	ErrAlertNotFound = errors.New("alert: not found")

	// ErrIncidentNotFound is returned when an incident ID does not exist.
	ErrIncidentNotFound = errors.New("alert: incident not found")

	// ErrIncidentExists is returned when an alert already has an incident.
	ErrIncidentExists = errors.New("alert: incident already exists for alert")

	// ErrInvalidTransition is returned when a status change is not allowed,
	// such as acknowledging a resolved alert.
	ErrInvalidTransition = errors.New("alert: invalid status transition")

	// ErrInvalidAlert is returned when an alert is missing required fields.
	ErrInvalidAlert = errors.New("alert: invalid")
)
