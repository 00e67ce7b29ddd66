package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/propertyhub-core/internal/alert"
	"github.com/nerrad567/propertyhub-core/internal/audit"
	"github.com/nerrad567/propertyhub-core/internal/realtime"
)

// healthCheckTimeout bounds each dependency probe in the health endpoint.
const healthCheckTimeout = 2 * time.Second

// Health states.
const (
	healthOK       = "ok"
	healthDegraded = "degraded"
	healthDown     = "down"
	healthDisabled = "disabled"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware())
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)
		r.Get("/watchdog", s.handleWatchdog)

		if s.hub != nil {
			r.Get(s.wsPath(), realtime.NewHandler(s.hub, s.wsCfg).ServeHTTP)
		}

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/readings", s.handleListReadings)
				r.Get("/access-events", s.handleListAccessEvents)
			})
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleListAlerts)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAlert)
				r.Post("/acknowledge", s.handleAcknowledgeAlert)
				r.Post("/resolve", s.handleResolveAlert)
			})
		})

		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", s.handleListIncidents)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetIncident)
				r.Post("/start", s.handleIncidentTransition(alert.IncidentInProgress, audit.ActionStart))
				r.Post("/resolve", s.handleIncidentTransition(alert.IncidentResolved, audit.ActionResolve))
				r.Post("/close", s.handleIncidentTransition(alert.IncidentClosed, audit.ActionClose))
			})
		})

		r.Get("/audit", s.handleListAudit)
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth reports the service and its dependencies.
//
// The response is 503 when the database is unreachable. A disconnected
// broker or mirror degrades the status but still answers 200, since the
// watchdog is already working on it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{
		"database": s.probe(r.Context(), s.db),
		"influxdb": s.probe(r.Context(), s.mirror),
		"broker":   healthDisabled,
	}
	if s.broker != nil {
		components["broker"] = healthDown
		if s.broker.IsConnected() {
			components["broker"] = healthOK
		}
	}

	status := healthOK
	code := http.StatusOK
	if components["database"] != healthOK {
		status = healthDown
		code = http.StatusServiceUnavailable
	} else if components["broker"] == healthDown || components["influxdb"] == healthDown {
		status = healthDegraded
	}

	body := map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	}
	if s.watchdog != nil {
		body["watchdog"] = s.watchdog.Status().State
	}
	writeJSON(w, code, body)
}

func (s *Server) probe(ctx context.Context, hc HealthChecker) string {
	if hc == nil {
		return healthDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := hc.HealthCheck(ctx); err != nil {
		s.logger.Warn("health probe failed", "error", err)
		return healthDown
	}
	return healthOK
}
