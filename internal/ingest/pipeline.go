package ingest

import (
	"context"
	"time"

	"github.com/nerrad567/propertyhub-core/internal/alert"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/metrics"
	"github.com/nerrad567/propertyhub-core/internal/telemetry"
)

// defaultRecordTimeout bounds the persistence of a single message.
const defaultRecordTimeout = 10 * time.Second

// dropUnrecognized is the messages_dropped_total reason for routing failures.
const dropUnrecognized = "unrecognized"

// Mirror receives a copy of persisted telemetry, typically InfluxDB.
type Mirror interface {
	WriteReading(r telemetry.Reading)
	WriteAccess(a telemetry.AccessEvent)
	WriteState(s telemetry.DeviceState)
}

// Publisher forwards recorded events to realtime clients.
type Publisher interface {
	PublishEvent(ev telemetry.Event) int
	PublishAlert(a alert.Alert) int
}

// Pipeline routes, records, mirrors and publishes one broker message.
//
// Handle matches mqtt.MessageHandler and is registered once per domain.
type Pipeline struct {
	router    *telemetry.Router
	recorder  *Recorder
	mirror    Mirror
	publisher Publisher
	logger    Logger
	metrics   *metrics.Metrics
	timeout   time.Duration
}

// NewPipeline creates a Pipeline. Mirror and publisher are optional.
func NewPipeline(router *telemetry.Router, recorder *Recorder) *Pipeline {
	return &Pipeline{
		router:   router,
		recorder: recorder,
		logger:   noopLogger{},
		timeout:  defaultRecordTimeout,
	}
}

// SetMirror sets the time-series mirror.
func (p *Pipeline) SetMirror(m Mirror) { p.mirror = m }

// SetPublisher sets the realtime publisher.
func (p *Pipeline) SetPublisher(pub Publisher) { p.publisher = pub }

// SetLogger sets the logger.
func (p *Pipeline) SetLogger(l Logger) { p.logger = l }

// SetMetrics sets the metrics collector.
func (p *Pipeline) SetMetrics(m *metrics.Metrics) { p.metrics = m }

// Handle processes one decoded message. Failures are logged and counted
// here, so Handle always returns nil.
func (p *Pipeline) Handle(topic string, payload map[string]any) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.Process(ctx, topic, payload)
}

// Process is Handle with a caller-supplied context.
func (p *Pipeline) Process(ctx context.Context, topic string, payload map[string]any) error {
	start := time.Now()

	ev := p.router.Route(topic, payload)
	if u, ok := ev.(telemetry.Unrecognized); ok {
		p.metrics.MessageDropped(dropUnrecognized)
		p.logger.Warn("dropping unrecognized message", "topic", topic, "reason", u.Reason)
		return nil
	}

	res := p.recorder.Record(ctx, ev)
	kind := string(res.Kind)
	if res.Err != nil {
		p.metrics.EventFailed(kind)
		p.logger.Error("recording event failed",
			"topic", topic,
			"kind", kind,
			"device_id", res.DeviceID,
			"error", res.Err,
		)
		return nil
	}

	p.metrics.EventRecorded(kind, res.DeviceCreated, time.Since(start))
	if res.DeviceCreated {
		p.logger.Info("device created", "device_id", res.DeviceID, "kind", kind)
	}

	p.mirrorEvent(ev)
	p.publish(ev, res)

	p.logger.Debug("event recorded", "topic", topic, "kind", kind, "device_id", res.DeviceID)
	return nil
}

func (p *Pipeline) mirrorEvent(ev telemetry.Event) {
	if p.mirror == nil {
		return
	}
	switch e := ev.(type) {
	case telemetry.Reading:
		p.mirror.WriteReading(e)
	case telemetry.AccessEvent:
		p.mirror.WriteAccess(e)
	case telemetry.DeviceState:
		p.mirror.WriteState(e)
	}
}

func (p *Pipeline) publish(ev telemetry.Event, res Result) {
	if p.publisher == nil {
		return
	}
	var delivered int
	if res.Alert != nil {
		delivered = p.publisher.PublishAlert(*res.Alert)
	} else {
		delivered = p.publisher.PublishEvent(ev)
	}
	p.logger.Debug("event published", "kind", string(res.Kind), "recipients", delivered)
}
