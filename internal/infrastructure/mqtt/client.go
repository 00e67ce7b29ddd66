package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/propertyhub-core/internal/infrastructure/config"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/metrics"
)

// Client wraps paho.mqtt.golang with PropertyHub-specific functionality.
//
// It owns the broker connection, the domain subscriptions and the handler
// registry. Reconnection is driven from outside through Connect (the
// watchdog) unless mqtt.auto_reconnect is set.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - SetLogger and SetMetrics should be called before Connect.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig
	topics  Topics

	// newClient builds the paho client; replaced in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	// connectMu serialises Connect and Disconnect.
	connectMu sync.Mutex

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// reconnecting is set by paho before an automatic reconnect.
	reconnecting atomic.Bool

	// Callbacks for connection events (optional, set via SetOnConnect/SetOnDisconnect).
	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	dispatch *dispatcher

	logger   Logger
	metrics  *metrics.Metrics
	loggerMu sync.RWMutex
}

// Logger defines the logging interface for the mqtt package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NewClient creates a client for the broker in cfg. It does not connect.
//
// The Last Will and the status topic are derived from cfg.TopicBase.
func NewClient(cfg config.MQTTConfig) *Client {
	topics := NewTopics(cfg.TopicBase)
	opts := buildClientOptions(cfg)
	configureLWT(opts, topics, cfg.Broker.ClientID)

	c := &Client{
		cfg:       cfg,
		options:   opts,
		topics:    topics,
		newClient: pahomqtt.NewClient,
		dispatch:  newDispatcher(),
		logger:    noopLogger{},
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.reconnecting.Store(true)
		c.getLogger().Info("mqtt auto-reconnecting", "broker", c.cfg.Broker.Host)
	})

	return c
}

// Topics returns the topic builder for this client's base.
func (c *Client) Topics() Topics {
	return c.topics
}

// Connect establishes the broker connection.
//
// It performs the following setup:
//  1. Connects, bounded by ctx and the connect timeout
//  2. Subscribes to <base>/{sensor,lock,hvac,alert,state}/#
//  3. Marks the client connected
//  4. Publishes a retained online status to <base>/system/status
//
// Connect on a connected client is a no-op. The watchdog calls it
// repeatedly while the broker is down.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.IsConnected() {
		return nil
	}

	if c.client == nil {
		c.client = c.newClient(c.options)
	}

	if err := waitToken(ctx, c.client.Connect(), defaultConnectTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return c.afterConnect(ctx)
}

// afterConnect subscribes and announces the client. A failed subscribe
// drops the connection so the next Connect starts clean.
func (c *Client) afterConnect(ctx context.Context) error {
	filters := make(map[string]byte, len(c.topics.Subscriptions()))
	for _, f := range c.topics.Subscriptions() {
		filters[f] = byte(c.cfg.QoS)
	}

	if err := waitToken(ctx, c.client.SubscribeMultiple(filters, c.onMessage), defaultPublishTimeout); err != nil {
		c.client.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()
	c.getMetrics().SetBrokerConnected(true)

	c.publishStatus("online", "")

	c.getLogger().Info("mqtt connected",
		"broker", c.cfg.Broker.Host,
		"port", c.cfg.Broker.Port,
		"subscriptions", len(filters),
	)

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
	return nil
}

// handleConnect runs for every paho connection. The initial one is
// finished by Connect itself; only automatic reconnects need the setup.
func (c *Client) handleConnect() {
	if !c.reconnecting.Swap(false) {
		return
	}
	go func() {
		if err := c.afterConnect(context.Background()); err != nil {
			c.getLogger().Error("mqtt resubscribe after reconnect failed", "error", err)
		}
	}()
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	c.getMetrics().SetBrokerConnected(false)

	c.getLogger().Warn("mqtt connection lost", "error", err)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// onMessage is the paho receive callback. It only enqueues.
func (c *Client) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	domain := c.topics.DomainOf(msg.Topic())
	if domain == "" {
		domain = "unknown"
	}
	m := c.getMetrics()
	m.MessageReceived(domain)

	if reason := c.dispatch.enqueue(msg.Topic(), msg.Payload()); reason != "" {
		m.MessageDropped(reason)
		c.getLogger().Warn("dropping mqtt message", "topic", msg.Topic(), "reason", reason)
	}
}

// publishStatus publishes a retained status message and waits briefly.
func (c *Client) publishStatus(status, reason string) {
	token := c.client.Publish(c.topics.SystemStatus(), statusQoS, true,
		buildStatusPayload(status, c.cfg.Broker.ClientID, reason))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.getLogger().Warn("mqtt status publish timed out", "status", status)
		return
	}
	if err := token.Error(); err != nil {
		c.getLogger().Warn("mqtt status publish failed", "status", status, "error", err)
	}
}

// Disconnect gracefully disconnects from the broker.
//
// It publishes a graceful offline status (different from the LWT crash
// status) and disconnects with a quiesce period for pending operations.
// Registered handlers and queued messages are kept.
func (c *Client) Disconnect() {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.client == nil {
		return
	}

	if c.IsConnected() {
		c.publishStatus("offline", "shutdown")
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	c.getMetrics().SetBrokerConnected(false)

	c.getLogger().Info("mqtt disconnected")
}

// Close disconnects and stops the dispatch workers once their queues
// drain. The client cannot be reused afterwards.
func (c *Client) Close() error {
	c.Disconnect()
	c.dispatch.close()
	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// RegisterHandler adds handler for every topic starting with prefix.
//
// Registrations are kept in order and every matching one fires, so a
// topic can feed persistence and a tap at the same time.
func (c *Client) RegisterHandler(prefix string, handler MessageHandler) {
	c.dispatch.register(prefix, handler)
}

// SetOnConnect sets a callback to be invoked when connection is established.
// This is called on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when connection is lost.
// The error parameter describes why the connection was lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for connection events and dispatch failures.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
	c.dispatch.setLogger(logger)
}

// SetMetrics sets the metrics sink. A nil sink disables metrics.
func (c *Client) SetMetrics(m *metrics.Metrics) {
	c.loggerMu.Lock()
	c.metrics = m
	c.loggerMu.Unlock()
	c.dispatch.setMetrics(m)
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) getMetrics() *metrics.Metrics {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.metrics
}

// waitToken waits for a paho token, bounded by ctx and timeout.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}
