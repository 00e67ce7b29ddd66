package mqtt

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/propertyhub-core/internal/infrastructure/metrics"
)

const (
	// topicQueueSize bounds the backlog of one topic. A full queue drops.
	topicQueueSize = 256

	// workerIdleTimeout retires a topic worker after this long without work.
	workerIdleTimeout = 30 * time.Second
)

// Drop reasons reported to messages_dropped_total.
const (
	dropQueueFull = "queue_full"
	dropDecode    = "decode"
	dropNoHandler = "no_handler"
	dropClosed    = "closed"
)

// MessageHandler is the callback signature for received messages.
//
// Handlers run on the worker of the message's topic, so messages on one
// topic reach a handler in delivery order. A slow handler delays only its
// own topic.
//
// Parameters:
//   - topic: The topic the message was received on (wildcards expanded)
//   - payload: The decoded JSON object
//
// Returns:
//   - error: Logged at warn; the message is not redelivered
type MessageHandler func(topic string, payload map[string]any) error

type registration struct {
	prefix  string
	handler MessageHandler
}

type topicQueue struct {
	ch chan []byte
}

// dispatcher fans received payloads out to per-topic serial workers.
//
// Enqueueing and worker retirement both happen under mu, so a worker only
// exits when its channel is empty and no send can race with the exit.
type dispatcher struct {
	mu     sync.Mutex
	queues map[string]*topicQueue
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup

	handlersMu sync.RWMutex
	handlers   []registration

	idle time.Duration

	logMu   sync.RWMutex
	logger  Logger
	metrics *metrics.Metrics
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		queues: make(map[string]*topicQueue),
		stop:   make(chan struct{}),
		idle:   workerIdleTimeout,
		logger: noopLogger{},
	}
}

func (d *dispatcher) setLogger(logger Logger) {
	d.logMu.Lock()
	d.logger = logger
	d.logMu.Unlock()
}

func (d *dispatcher) setMetrics(m *metrics.Metrics) {
	d.logMu.Lock()
	d.metrics = m
	d.logMu.Unlock()
}

func (d *dispatcher) observers() (Logger, *metrics.Metrics) {
	d.logMu.RLock()
	defer d.logMu.RUnlock()
	return d.logger, d.metrics
}

// register appends a handler. Registration order is dispatch order.
func (d *dispatcher) register(prefix string, h MessageHandler) {
	d.handlersMu.Lock()
	d.handlers = append(d.handlers, registration{prefix: prefix, handler: h})
	d.handlersMu.Unlock()
}

// matching returns every handler whose prefix matches topic, in
// registration order.
func (d *dispatcher) matching(topic string) []registration {
	d.handlersMu.RLock()
	defer d.handlersMu.RUnlock()

	var matched []registration
	for _, r := range d.handlers {
		if strings.HasPrefix(topic, r.prefix) {
			matched = append(matched, r)
		}
	}
	return matched
}

// enqueue hands payload to the worker for topic, starting one if needed.
// It never blocks; the returned reason is empty on success.
func (d *dispatcher) enqueue(topic string, payload []byte) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return dropClosed
	}

	q, ok := d.queues[topic]
	if !ok {
		q = &topicQueue{ch: make(chan []byte, topicQueueSize)}
		d.queues[topic] = q
		d.wg.Add(1)
		go d.work(topic, q)
	}

	select {
	case q.ch <- payload:
		return ""
	default:
		return dropQueueFull
	}
}

func (d *dispatcher) work(topic string, q *topicQueue) {
	defer d.wg.Done()

	idle := time.NewTimer(d.idle)
	defer idle.Stop()

	for {
		select {
		case payload := <-q.ch:
			d.deliver(topic, payload)
			idle.Reset(d.idle)

		case <-idle.C:
			d.mu.Lock()
			if len(q.ch) == 0 {
				delete(d.queues, topic)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			idle.Reset(d.idle)

		case <-d.stop:
			// Finish what was accepted before close.
			for {
				select {
				case payload := <-q.ch:
					d.deliver(topic, payload)
				default:
					return
				}
			}
		}
	}
}

// deliver decodes payload and runs every matching handler.
func (d *dispatcher) deliver(topic string, raw []byte) {
	logger, m := d.observers()

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		m.MessageDropped(dropDecode)
		logger.Warn("dropping malformed mqtt payload",
			"topic", topic,
			"bytes", len(raw),
			"error", err,
		)
		return
	}

	matched := d.matching(topic)
	if len(matched) == 0 {
		m.MessageDropped(dropNoHandler)
		logger.Debug("no handler for topic", "topic", topic)
		return
	}

	for _, r := range matched {
		d.invoke(logger, r, topic, payload)
	}
}

// invoke runs one handler, recovering panics.
func (d *dispatcher) invoke(logger Logger, r registration, topic string, payload map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("mqtt handler panic recovered",
				"topic", topic,
				"prefix", r.prefix,
				"panic", rec,
			)
		}
	}()

	if err := r.handler(topic, payload); err != nil {
		logger.Warn("mqtt handler returned error",
			"topic", topic,
			"prefix", r.prefix,
			"error", err,
		)
	}
}

// close stops accepting messages, lets workers drain their queues and
// waits for them.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.stop)
	d.mu.Unlock()

	d.wg.Wait()
}

// activeTopics reports how many topic workers are running.
func (d *dispatcher) activeTopics() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}
