package metrics

import "time"

// MessageReceived counts an inbound broker message.
func (m *Metrics) MessageReceived(domain string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(domain).Inc()
}

// MessageDropped counts a message discarded before persistence.
func (m *Metrics) MessageDropped(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

// EventRecorded counts a persisted event and its handling time.
func (m *Metrics) EventRecorded(kind string, deviceCreated bool, took time.Duration) {
	if m == nil {
		return
	}
	m.EventsRecorded.WithLabelValues(kind).Inc()
	m.HandlerDuration.WithLabelValues(kind).Observe(took.Seconds())
	if deviceCreated {
		m.DevicesCreated.Inc()
	}
}

// EventFailed counts an event whose persistence failed.
func (m *Metrics) EventFailed(kind string) {
	if m == nil {
		return
	}
	m.EventsFailed.WithLabelValues(kind).Inc()
}

// SetBrokerConnected records the broker connection state.
func (m *Metrics) SetBrokerConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.BrokerConnected.Set(1)
		return
	}
	m.BrokerConnected.Set(0)
}

// ReconnectAttempted counts a watchdog reconnect and whether it failed.
func (m *Metrics) ReconnectAttempted(failed bool) {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
	if failed {
		m.ReconnectFailures.Inc()
	}
}

// IncidentCreated counts an escalated incident.
func (m *Metrics) IncidentCreated(priority string) {
	if m == nil {
		return
	}
	m.IncidentsCreated.WithLabelValues(priority).Inc()
}

// SLABreached counts an incident flagged as breached.
func (m *Metrics) SLABreached() {
	if m == nil {
		return
	}
	m.SLABreaches.Inc()
}

// SweepFailed counts an aborted sweep.
func (m *Metrics) SweepFailed(sweep string) {
	if m == nil {
		return
	}
	m.SweepFailures.WithLabelValues(sweep).Inc()
}

// ConnectionOpened increments the open realtime connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// ConnectionClosed decrements the gauge and counts the reason.
func (m *Metrics) ConnectionClosed(reason string) {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.WSDisconnects.WithLabelValues(reason).Inc()
}

// NotificationSent counts a notification outcome ("sent", "failed" or "dropped").
func (m *Metrics) NotificationSent(outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(outcome).Inc()
}
