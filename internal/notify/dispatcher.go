package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/propertyhub-core/internal/infrastructure/metrics"
)

const (
	// defaultSendTimeout bounds a single delivery.
	defaultSendTimeout = 10 * time.Second

	// defaultWorkers is the number of concurrent deliveries.
	defaultWorkers = 2

	// defaultQueueSize is how many notifications may wait for a worker.
	// Beyond this, Notify drops instead of blocking the caller.
	defaultQueueSize = 64
)

// Dispatcher delivers notifications asynchronously through a bounded queue
// drained by a fixed pool of workers.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Dispatcher struct {
	sender  Sender
	logger  Logger
	metrics *metrics.Metrics
	timeout time.Duration

	queue chan Notification

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher over sender and starts its workers.
// Call Close to stop them.
func NewDispatcher(sender Sender) *Dispatcher {
	return newDispatcher(sender, defaultWorkers, defaultQueueSize)
}

func newDispatcher(sender Sender, workers, queueSize int) *Dispatcher {
	d := &Dispatcher{
		sender:  sender,
		logger:  noopLogger{},
		timeout: defaultSendTimeout,
		queue:   make(chan Notification, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// SetLogger sets the logger for delivery failures.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetMetrics sets the metrics collector.
func (d *Dispatcher) SetMetrics(m *metrics.Metrics) {
	d.metrics = m
}

// Notify queues n for delivery and returns immediately. Failures are
// logged; nothing is reported to the caller. When the queue is full or the
// dispatcher is closed the notification is dropped and counted.
func (d *Dispatcher) Notify(n Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	if n.Priority == "" {
		n.Priority = PriorityDefault
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.logger.Warn("notification dropped after shutdown", "title", n.Title)
		return
	}

	select {
	case d.queue <- n:
	default:
		d.metrics.NotificationSent("dropped")
		d.logger.Warn("notification queue full, dropping", "title", n.Title, "capacity", cap(d.queue))
	}
}

// Close stops accepting notifications, delivers what is already queued and
// waits for the workers to exit. Safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for n := range d.queue {
		if err := d.deliver(n); err != nil {
			d.metrics.NotificationSent("failed")
			d.logger.Warn("notification delivery failed", "title", n.Title, "error", err)
			continue
		}
		d.metrics.NotificationSent("sent")
	}
}

func (d *Dispatcher) deliver(n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	return d.sender.Send(ctx, n)
}
