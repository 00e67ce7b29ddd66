package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/propertyhub-core/internal/alert"
	"github.com/nerrad567/propertyhub-core/internal/audit"
	"github.com/nerrad567/propertyhub-core/internal/device"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/config"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/logging"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/metrics"
	"github.com/nerrad567/propertyhub-core/internal/process"
	"github.com/nerrad567/propertyhub-core/internal/realtime"
	"github.com/nerrad567/propertyhub-core/internal/watchdog"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by the database and the InfluxDB mirror.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BrokerStatus reports broker connectivity.
type BrokerStatus interface {
	IsConnected() bool
}

// WatchdogStatus exposes the watchdog state machine.
type WatchdogStatus interface {
	Status() watchdog.Status
}

// DeviceStore is the read side of the device repository.
type DeviceStore interface {
	GetByID(ctx context.Context, id string) (*device.Device, error)
	List(ctx context.Context, scope string) ([]device.Device, error)
	ListReadings(ctx context.Context, deviceID, metric string, limit int) ([]device.Reading, error)
	ListAccessEvents(ctx context.Context, deviceID string, limit int) ([]device.AccessEvent, error)
}

// AlertStore covers the alert and incident operations exposed over HTTP.
type AlertStore interface {
	GetByID(ctx context.Context, id string) (*alert.Alert, error)
	List(ctx context.Context, f alert.Filter) ([]alert.Alert, error)
	Acknowledge(ctx context.Context, id, by string, at time.Time) (*alert.Alert, error)
	Resolve(ctx context.Context, id string, extra map[string]any, at time.Time) (*alert.Alert, error)
	GetIncident(ctx context.Context, id string) (*alert.Incident, error)
	ListIncidents(ctx context.Context, status alert.IncidentStatus, limit int) ([]alert.Incident, error)
	UpdateIncidentStatus(ctx context.Context, id string, to alert.IncidentStatus, at time.Time) (*alert.Incident, error)
}

// AuditStore records and lists operator actions.
type AuditStore interface {
	Create(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, f audit.Filter) (*audit.ListResult, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	DB       HealthChecker
	Mirror   HealthChecker
	Broker   BrokerStatus
	Watchdog WatchdogStatus
	Devices  DeviceStore
	Alerts   AlertStore
	Audit    AuditStore
	Hub      *realtime.Hub
	Metrics  *metrics.Metrics
	Loops    []*process.Loop
	Version  string
}

// Server is the HTTP API server.
//
// It is created with New, started with Start and stopped with Close.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	db        HealthChecker
	mirror    HealthChecker
	broker    BrokerStatus
	watchdog  WatchdogStatus
	devices   DeviceStore
	alerts    AlertStore
	audit     AuditStore
	hub       *realtime.Hub
	metrics   *metrics.Metrics
	loops     []*process.Loop
	version   string
	startTime time.Time
	now       func() time.Time

	mu     sync.Mutex
	server *http.Server
	addr   string
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		db:        deps.DB,
		mirror:    deps.Mirror,
		broker:    deps.Broker,
		watchdog:  deps.Watchdog,
		devices:   deps.Devices,
		alerts:    deps.Alerts,
		audit:     deps.Audit,
		hub:       deps.Hub,
		metrics:   deps.Metrics,
		loops:     deps.Loops,
		version:   deps.Version,
		startTime: time.Now(),
		now:       time.Now,
	}, nil
}

// Handler returns the fully wired router. Start serves the same handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine. Bind
// errors (port in use) are returned; later serve errors are logged.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}
	s.addr = ln.Addr().String()

	s.logger.Info("API server listening", "address", s.addr)

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections. WebSocket connections are
// hijacked and are closed by the realtime hub, not here.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
