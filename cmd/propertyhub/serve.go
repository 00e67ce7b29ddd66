package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/propertyhub-core/internal/alert"
	"github.com/nerrad567/propertyhub-core/internal/api"
	"github.com/nerrad567/propertyhub-core/internal/audit"
	"github.com/nerrad567/propertyhub-core/internal/device"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/config"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/database"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/logging"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/metrics"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/propertyhub-core/internal/ingest"
	"github.com/nerrad567/propertyhub-core/internal/notify"
	"github.com/nerrad567/propertyhub-core/internal/process"
	"github.com/nerrad567/propertyhub-core/internal/realtime"
	"github.com/nerrad567/propertyhub-core/internal/telemetry"
	"github.com/nerrad567/propertyhub-core/internal/watchdog"
	_ "github.com/nerrad567/propertyhub-core/migrations"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Use default logger until config is loaded
			log := logging.Default()
			log.Info("starting PropertyHub Core",
				"version", version,
				"commit", commit,
				"build_date", date,
			)

			cfg, err := loadConfig(log)
			if err != nil {
				return err
			}

			log = logging.New(cfg.Logging, version)
			log.Info("logger initialised",
				"level", cfg.Logging.Level,
				"format", cfg.Logging.Format,
			)
			return run(cmd.Context(), cfg, log)
		},
	}
}

// run wires every component and blocks until ctx is cancelled or a loop
// fails. Components are closed in reverse order of creation.
func run(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	kv, err := kvstore.Open(ctx, cfg.KVStore)
	if err != nil {
		return fmt.Errorf("opening kvstore: %w", err)
	}
	defer kv.Close() //nolint:errcheck // shutdown path
	log.Info("kvstore ready", "backend", cfg.KVStore.Backend)

	m := metrics.New()
	devices := device.NewSQLiteRepository(db.DB)
	alerts := alert.NewSQLiteRepository(db.DB)

	hub := realtime.NewHub()
	hub.SetLogger(log.With("component", "realtime"))
	hub.SetMetrics(m)
	defer hub.Close()

	broker := mqtt.NewClient(cfg.MQTT)
	broker.SetLogger(log.With("component", "mqtt"))
	broker.SetMetrics(m)
	broker.SetOnConnect(func() { log.Info("MQTT connected") })
	broker.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

	dispatcher, closeSender, err := newDispatcher(cfg, broker, m, log)
	if err != nil {
		return err
	}
	defer closeSender()
	defer dispatcher.Close()

	pipeline := newPipeline(cfg, devices, alerts, dispatcher, hub, m, log)

	mirror, err := connectMirror(ctx, cfg, log)
	if err != nil {
		return err
	}
	if mirror != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := mirror.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		pipeline.SetMirror(mirror)
	}

	for _, domain := range telemetry.Domains {
		broker.RegisterHandler(broker.Topics().Domain(domain), pipeline.Handle)
	}

	if connErr := broker.Connect(ctx); connErr != nil {
		if !cfg.Watchdog.Enabled {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		log.Warn("MQTT unavailable at startup, watchdog will reconnect", "error", connErr)
	} else {
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := broker.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	var wd *watchdog.Watchdog
	var loops []*process.Loop
	if cfg.Watchdog.Enabled {
		wd = watchdog.New(broker, alerts, watchdog.OptionsFromConfig(cfg.Watchdog))
		wd.SetStore(kv)
		wd.SetNotifier(dispatcher)
		wd.SetPublisher(hub)
		wd.SetMetrics(m)
		wd.SetLogger(log.With("component", "watchdog"))
		loops = append(loops, process.NewLoop(process.Config{
			Name:     "watchdog",
			Interval: seconds(cfg.Watchdog.HealthCheckInterval),
		}, wd.Tick))
	} else {
		log.Info("connection watchdog disabled")
	}

	if cfg.Escalation.Enabled {
		loops = append(loops, escalationLoops(cfg, alerts, devices, kv, dispatcher, hub, m, log)...)
	} else {
		log.Info("alert escalation disabled")
	}
	for _, l := range loops {
		l.SetLogger(log.With("component", "process", "loop", l.Name()))
	}

	deps := api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log.With("component", "api"),
		DB:      db,
		Broker:  broker,
		Devices: devices,
		Alerts:  alerts,
		Audit:   audit.NewSQLiteRepository(db.DB),
		Hub:     hub,
		Metrics: m,
		Loops:   loops,
		Version: version,
	}
	if mirror != nil {
		deps.Mirror = mirror
	}
	if wd != nil {
		deps.Watchdog = wd
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server listening", "addr", server.Addr())

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range loops {
		g.Go(func() error {
			if err := l.Run(gctx); err != nil {
				return fmt.Errorf("%s loop: %w", l.Name(), err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal", "loops", len(loops))
	err = g.Wait()

	log.Info("shutdown signal received, cleaning up")
	if err != nil {
		return err
	}
	log.Info("PropertyHub Core stopped")
	return nil
}

// newDispatcher builds the notification sender named by config and wraps
// it in an asynchronous Dispatcher. The returned func closes the sender
// when it holds a connection.
func newDispatcher(cfg *config.Config, broker *mqtt.Client, m *metrics.Metrics, log *logging.Logger) (*notify.Dispatcher, func(), error) {
	ncfg := cfg.Notifications
	if ncfg.Topic == "" {
		ncfg.Topic = broker.Topics().Notifications()
	}

	notifyLog := log.With("component", "notify")
	sender, err := notify.NewSender(ncfg, broker, notifyLog)
	if err != nil {
		return nil, nil, fmt.Errorf("creating notification sender: %w", err)
	}

	closeSender := func() {}
	if c, ok := sender.(io.Closer); ok {
		closeSender = func() {
			if err := c.Close(); err != nil {
				notifyLog.Error("error closing notification sender", "error", err)
			}
		}
	}

	d := notify.NewDispatcher(sender)
	d.SetLogger(notifyLog)
	d.SetMetrics(m)
	log.Info("notifications ready", "backend", cfg.Notifications.Backend)
	return d, closeSender, nil
}

func newPipeline(
	cfg *config.Config,
	devices *device.SQLiteRepository,
	alerts *alert.SQLiteRepository,
	dispatcher *notify.Dispatcher,
	hub *realtime.Hub,
	m *metrics.Metrics,
	log *logging.Logger,
) *ingest.Pipeline {
	ingestLog := log.With("component", "ingest")

	recorder := ingest.NewRecorder(devices, alerts)
	recorder.SetNotifier(dispatcher)
	recorder.SetLogger(ingestLog)

	p := ingest.NewPipeline(telemetry.NewRouter(cfg.MQTT.TopicBase), recorder)
	p.SetPublisher(hub)
	p.SetMetrics(m)
	p.SetLogger(ingestLog)
	return p
}

// connectMirror connects the optional InfluxDB mirror. It returns nil when
// the mirror is disabled.
func connectMirror(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(ctx, cfg.InfluxDB, log.With("component", "influxdb"))
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// escalationLoops builds the escalation and SLA sweep loops over one
// shared Escalator.
func escalationLoops(
	cfg *config.Config,
	alerts *alert.SQLiteRepository,
	devices *device.SQLiteRepository,
	kv kvstore.Store,
	dispatcher *notify.Dispatcher,
	hub *realtime.Hub,
	m *metrics.Metrics,
	log *logging.Logger,
) []*process.Loop {
	escLog := log.With("component", "escalation")

	scopes := alert.NewDeviceScopes(cfg.Escalation.Scopes, devices)
	scopes.SetLogger(escLog)

	esc := alert.NewEscalator(alerts, scopes, escalationPolicy(cfg.Escalation))
	esc.SetNotifier(dispatcher)
	esc.SetPublisher(hub)
	esc.SetMetrics(m)
	esc.SetLogger(escLog)
	if cfg.KVStore.Backend == "redis" {
		esc.SetLock(kv, instanceName(cfg), sweepLockTTL(cfg.Escalation))
	}

	escalate := process.NewLoop(process.Config{
		Name:     "escalation",
		Interval: seconds(cfg.Escalation.Interval),
	}, func(ctx context.Context) error {
		n, err := esc.Escalate(ctx)
		if n > 0 {
			escLog.Info("incidents created", "count", n)
		}
		return err
	})

	sweep := process.NewLoop(process.Config{
		Name:     "sla-sweep",
		Interval: seconds(cfg.Escalation.SLASweepInterval),
	}, func(ctx context.Context) error {
		n, err := esc.SweepSLA(ctx)
		if n > 0 {
			escLog.Warn("SLA breaches flagged", "count", n)
		}
		return err
	})

	return []*process.Loop{escalate, sweep}
}

// escalationPolicy converts the escalation config section.
func escalationPolicy(cfg config.EscalationConfig) alert.Policy {
	sla := alert.SLATable{}
	for _, p := range []alert.Priority{alert.PriorityCritical, alert.PriorityHigh, alert.PriorityMedium, alert.PriorityLow} {
		sla[p] = cfg.SLAFor(string(p))
	}
	return alert.Policy{
		Lookback:    time.Duration(cfg.LookbackMinutes) * time.Minute,
		DedupWindow: time.Duration(cfg.DedupWindowHours) * time.Hour,
		SLA:         sla,
	}
}

// instanceName identifies this process in sweep locks.
func instanceName(cfg *config.Config) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return cfg.Site.ID + "/" + host
}

// sweepLockTTL bounds how long a crashed instance can hold a sweep lock:
// never longer than the shorter sweep interval, so at most one tick is lost.
func sweepLockTTL(e config.EscalationConfig) time.Duration {
	return seconds(min(e.Interval, e.SLASweepInterval))
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
