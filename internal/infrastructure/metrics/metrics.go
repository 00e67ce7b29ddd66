// Package metrics provides Prometheus metrics for PropertyHub Core.
//
// A Metrics value owns its own registry so tests can create as many as they
// like. Every recording method is safe on a nil *Metrics, which lets
// components take metrics as an optional dependency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "propertyhub"

// Metrics holds all collectors exported by the service.
type Metrics struct {
	registry *prometheus.Registry

	MessagesReceived  *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	EventsRecorded    *prometheus.CounterVec
	EventsFailed      *prometheus.CounterVec
	DevicesCreated    prometheus.Counter
	HandlerDuration   *prometheus.HistogramVec
	BrokerConnected   prometheus.Gauge
	ReconnectAttempts prometheus.Counter
	ReconnectFailures prometheus.Counter
	IncidentsCreated  *prometheus.CounterVec
	SLABreaches       prometheus.Counter
	SweepFailures     *prometheus.CounterVec
	WSConnections     prometheus.Gauge
	WSDisconnects     *prometheus.CounterVec
	Notifications     *prometheus.CounterVec
}

// New creates and registers all collectors, plus the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mqtt",
			Name:      "messages_received_total",
			Help:      "Broker messages received, by topic domain",
		}, []string{"domain"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mqtt",
			Name:      "messages_dropped_total",
			Help:      "Broker messages dropped before persistence",
		}, []string{"reason"}),
		EventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ingest",
			Name:      "events_recorded_total",
			Help:      "Domain events persisted, by kind",
		}, []string{"kind"}),
		EventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ingest",
			Name:      "events_failed_total",
			Help:      "Domain events that failed to persist, by kind",
		}, []string{"kind"}),
		DevicesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ingest",
			Name:      "devices_created_total",
			Help:      "Devices created on first sight",
		}),
		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "ingest",
			Name:      "handle_duration_seconds",
			Help:      "Time spent routing and persisting one message",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		BrokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "mqtt",
			Name:      "connected",
			Help:      "Broker connection status (1=connected, 0=disconnected)",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "watchdog",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts made by the watchdog",
		}),
		ReconnectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "watchdog",
			Name:      "reconnect_failures_total",
			Help:      "Reconnect attempts that failed",
		}),
		IncidentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "escalation",
			Name:      "incidents_created_total",
			Help:      "Incidents created from escalated alerts, by priority",
		}, []string{"priority"}),
		SLABreaches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "escalation",
			Name:      "sla_breaches_total",
			Help:      "Incidents flagged as SLA breached",
		}),
		SweepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "escalation",
			Name:      "sweep_failures_total",
			Help:      "Sweeps aborted by a store error",
		}, []string{"sweep"}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Open realtime connections",
		}),
		WSDisconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "realtime",
			Name:      "disconnects_total",
			Help:      "Realtime disconnects, by reason",
		}, []string{"reason"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Notifications handed to the sender, by outcome",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MessagesReceived,
		m.MessagesDropped,
		m.EventsRecorded,
		m.EventsFailed,
		m.DevicesCreated,
		m.HandlerDuration,
		m.BrokerConnected,
		m.ReconnectAttempts,
		m.ReconnectFailures,
		m.IncidentsCreated,
		m.SLABreaches,
		m.SweepFailures,
		m.WSConnections,
		m.WSDisconnects,
		m.Notifications,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
