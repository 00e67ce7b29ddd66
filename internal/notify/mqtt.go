package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

// notificationQoS is at-least-once so operators do not miss alerts.
const notificationQoS = 1

// Publisher is the subset of the broker client MQTTSender needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTSender publishes notifications as JSON to a broker topic.
type MQTTSender struct {
	pub   Publisher
	topic string
}

// NewMQTTSender creates an MQTTSender publishing to topic.
func NewMQTTSender(pub Publisher, topic string) *MQTTSender {
	return &MQTTSender{pub: pub, topic: topic}
}

// Send publishes n. A disconnected broker client drops the message with a
// warning, so Send does not fail in that case.
func (s *MQTTSender) Send(_ context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshalling notification: %w", err)
	}
	if err := s.pub.Publish(s.topic, payload, notificationQoS, false); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}
	return nil
}
