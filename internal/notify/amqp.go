package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nerrad567/propertyhub-core/internal/infrastructure/config"
)

// AMQPChannel is the subset of *amqp.Channel used for publishing.
type AMQPChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// AMQPSender publishes notifications to a RabbitMQ exchange.
//
// The connection is dialled lazily and re-dialled when the channel has been
// closed by the server, so a broker restart costs one failed notification.
type AMQPSender struct {
	cfg  config.AMQPConfig
	dial func(url string) (*amqp.Connection, error)

	mu      sync.Mutex
	conn    *amqp.Connection
	channel AMQPChannel
	closed  bool
}

// NewAMQPSender creates an AMQPSender. No connection is made until the first Send.
func NewAMQPSender(cfg config.AMQPConfig) *AMQPSender {
	return &AMQPSender{cfg: cfg, dial: amqp.Dial}
}

// newAMQPSenderWithChannel creates a sender over an existing channel.
func newAMQPSenderWithChannel(cfg config.AMQPConfig, ch AMQPChannel) *AMQPSender {
	return &AMQPSender{cfg: cfg, channel: ch}
}

// Send publishes n as a persistent JSON message.
func (s *AMQPSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshalling notification: %w", err)
	}

	ch, err := s.ensureChannel()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, s.cfg.Exchange, s.cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.Timestamp,
		Type:         "notification",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing notification to %q: %w", s.cfg.Exchange, err)
	}
	return nil
}

// Close closes the channel and connection.
func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.channel != nil {
		s.channel.Close() //nolint:errcheck // Connection close below reports errors
		s.channel = nil
	}
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *AMQPSender) ensureChannel() (AMQPChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.channel != nil && !s.channel.IsClosed() {
		return s.channel, nil
	}
	if s.dial == nil {
		return nil, fmt.Errorf("amqp channel closed")
	}

	if s.conn == nil || s.conn.IsClosed() {
		conn, err := s.dial(s.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("dialling amqp: %w", err)
		}
		s.conn = conn
	}

	ch, err := s.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}
	s.channel = ch
	return ch, nil
}
