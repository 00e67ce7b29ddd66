package mqtt

import (
	"strings"

	"github.com/nerrad567/propertyhub-core/internal/telemetry"
)

// Topics builds topic names under a base prefix.
//
//	topics := mqtt.NewTopics("propertyhub")
//	topics.SystemStatus()     // propertyhub/system/status
//	topics.Domain("sensor")   // propertyhub/sensor/
//	topics.Subscriptions()    // propertyhub/sensor/#, propertyhub/lock/#, ...
type Topics struct {
	Base string
}

// NewTopics creates a builder. An empty base selects telemetry.DefaultBase.
func NewTopics(base string) Topics {
	base = strings.Trim(base, "/")
	if base == "" {
		base = telemetry.DefaultBase
	}
	return Topics{Base: base}
}

// SystemStatus is the retained online/offline status topic and the Last
// Will topic.
func (t Topics) SystemStatus() string {
	return t.Base + "/system/status"
}

// Notifications is where the mqtt notification backend publishes.
func (t Topics) Notifications() string {
	return t.Base + "/system/notifications"
}

// Domain returns the prefix of every topic in a device domain, suitable for
// RegisterHandler.
func (t Topics) Domain(domain telemetry.Domain) string {
	return t.Base + "/" + string(domain) + "/"
}

// Subscriptions returns the wildcard filters for every device domain.
func (t Topics) Subscriptions() []string {
	filters := make([]string, 0, len(telemetry.Domains))
	for _, d := range telemetry.Domains {
		filters = append(filters, t.Base+"/"+string(d)+"/#")
	}
	return filters
}

// DomainOf returns the domain segment of a topic under the base, or "".
func (t Topics) DomainOf(topic string) string {
	rest, ok := strings.CutPrefix(topic, t.Base+"/")
	if !ok {
		return ""
	}
	domain, _, _ := strings.Cut(rest, "/")
	return domain
}
