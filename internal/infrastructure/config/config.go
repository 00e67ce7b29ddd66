package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for PropertyHub Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site          SiteConfig          `yaml:"site"`
	Database      DatabaseConfig      `yaml:"database"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	API           APIConfig           `yaml:"api"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	KVStore       KVStoreConfig       `yaml:"kvstore"`
	Watchdog      WatchdogConfig      `yaml:"watchdog"`
	Escalation    EscalationConfig    `yaml:"escalation"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// SiteConfig identifies the deployment.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`

	// TopicBase is the first topic segment for every device topic:
	// <base>/<domain>/<entity-path...>
	TopicBase string `yaml:"topic_base"`

	// AutoReconnect hands reconnection to the paho library. Leave it off
	// when the connection watchdog is running, which owns reconnection.
	AutoReconnect bool `yaml:"auto_reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains realtime WebSocket settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for the reading mirror.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// KVStoreConfig selects the backend for ephemeral shared state.
type KVStoreConfig struct {
	// Backend is "memory" (process-local) or "redis" (shared between instances).
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WatchdogConfig controls broker connection supervision.
type WatchdogConfig struct {
	Enabled bool `yaml:"enabled"`

	// HealthCheckInterval is the tick period in seconds.
	HealthCheckInterval int `yaml:"health_check_interval"`

	// DowntimeAlertThresholdMinutes is how long the broker must be down
	// before a system alert is raised.
	DowntimeAlertThresholdMinutes int `yaml:"downtime_alert_threshold_minutes"`

	// MaxReconnectAttempts is the number of backoff attempts before the
	// watchdog pauses for CooldownMinutes and starts over.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
	CooldownMinutes      int `yaml:"cooldown_minutes"`
}

// MinSweepInterval is the shortest escalation or SLA sweep period in
// seconds. The shorter of the two also caps the sweep lock TTL.
const MinSweepInterval = 10

// EscalationConfig controls alert escalation and SLA tracking.
type EscalationConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interval and SLASweepInterval are sweep periods in seconds.
	Interval         int `yaml:"interval"`
	SLASweepInterval int `yaml:"sla_sweep_interval"`

	LookbackMinutes  int `yaml:"lookback_minutes"`
	DedupWindowHours int `yaml:"dedup_window_hours"`

	// SLAHours maps incident priority (critical, high, medium, low) to hours.
	SLAHours map[string]int `yaml:"sla_hours"`

	// Scopes maps an alert source to the hub or client it belongs to.
	// Sources without an entry are their own scope.
	Scopes map[string]string `yaml:"scopes"`
}

// NotificationsConfig selects where operator notifications are delivered.
type NotificationsConfig struct {
	// Backend is "log", "mqtt", "amqp" or "webhook".
	Backend string        `yaml:"backend"`
	Topic   string        `yaml:"topic"`
	AMQP    AMQPConfig    `yaml:"amqp"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// WebhookConfig contains settings for the webhook notification backend.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	// Timeout is per attempt, in seconds.
	Timeout int `yaml:"timeout"`
	Retries int `yaml:"retries"`
}

// AMQPConfig contains RabbitMQ settings for the amqp notification backend.
type AMQPConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PROPERTYHUB_SECTION_KEY
// For example: PROPERTYHUB_DATABASE_PATH, PROPERTYHUB_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
// It is used when no configuration file exists.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "PropertyHub",
		},
		Database: DatabaseConfig{
			Path:        "./data/propertyhub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "propertyhub-core",
			},
			QoS:       1,
			TopicBase: "propertyhub",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		KVStore: KVStoreConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Watchdog: WatchdogConfig{
			Enabled:                       true,
			HealthCheckInterval:           60,
			DowntimeAlertThresholdMinutes: 5,
			MaxReconnectAttempts:          10,
			CooldownMinutes:               30,
		},
		Escalation: EscalationConfig{
			Enabled:          true,
			Interval:         300,
			SLASweepInterval: 900,
			LookbackMinutes:  5,
			DedupWindowHours: 4,
			SLAHours: map[string]int{
				"critical": 4,
				"high":     8,
				"medium":   24,
				"low":      72,
			},
		},
		Notifications: NotificationsConfig{
			Backend: "log",
			AMQP: AMQPConfig{
				Exchange:   "propertyhub.notifications",
				RoutingKey: "notification",
			},
			Webhook: WebhookConfig{
				Timeout: 10,
				Retries: 2,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PROPERTYHUB_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("PROPERTYHUB_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("PROPERTYHUB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PROPERTYHUB_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("PROPERTYHUB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PROPERTYHUB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("PROPERTYHUB_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("PROPERTYHUB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// KV store
	if v := os.Getenv("PROPERTYHUB_REDIS_ADDR"); v != "" {
		cfg.KVStore.Redis.Addr = v
	}
	if v := os.Getenv("PROPERTYHUB_REDIS_PASSWORD"); v != "" {
		cfg.KVStore.Redis.Password = v
	}

	// Notifications
	if v := os.Getenv("PROPERTYHUB_AMQP_URL"); v != "" {
		cfg.Notifications.AMQP.URL = v
	}
	if v := os.Getenv("PROPERTYHUB_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Webhook.URL = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicBase == "" || strings.ContainsAny(c.MQTT.TopicBase, "+#") {
		errs = append(errs, "mqtt.topic_base is required and must not contain wildcards")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	switch c.KVStore.Backend {
	case "memory":
	case "redis":
		if c.KVStore.Redis.Addr == "" {
			errs = append(errs, "kvstore.redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, "kvstore.backend must be memory or redis")
	}

	if c.Watchdog.Enabled {
		if c.Watchdog.HealthCheckInterval <= 0 {
			errs = append(errs, "watchdog.health_check_interval must be positive")
		}
		if c.Watchdog.MaxReconnectAttempts < 1 {
			errs = append(errs, "watchdog.max_reconnect_attempts must be at least 1")
		}
	}

	if c.Escalation.Enabled {
		if c.Escalation.Interval < MinSweepInterval || c.Escalation.SLASweepInterval < MinSweepInterval {
			errs = append(errs, fmt.Sprintf("escalation.interval and escalation.sla_sweep_interval must be at least %d seconds", MinSweepInterval))
		}
		for priority, hours := range c.Escalation.SLAHours {
			if hours <= 0 {
				errs = append(errs, fmt.Sprintf("escalation.sla_hours.%s must be positive", priority))
			}
		}
	}

	switch c.Notifications.Backend {
	case "log", "mqtt":
	case "amqp":
		if c.Notifications.AMQP.URL == "" {
			errs = append(errs, "notifications.amqp.url is required for the amqp backend")
		}
	case "webhook":
		if c.Notifications.Webhook.URL == "" {
			errs = append(errs, "notifications.webhook.url is required for the webhook backend")
		}
	default:
		errs = append(errs, "notifications.backend must be log, mqtt, amqp or webhook")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// SLAFor returns the SLA duration for an incident priority.
// Unknown priorities fall back to 24 hours.
func (e EscalationConfig) SLAFor(priority string) time.Duration {
	if hours, ok := e.SLAHours[priority]; ok && hours > 0 {
		return time.Duration(hours) * time.Hour
	}
	return 24 * time.Hour
}
