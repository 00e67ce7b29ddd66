// Package mqtt provides broker connectivity for PropertyHub Core.
//
// This package manages:
//   - The connection to the broker, with a retained online/offline status
//     and a Last Will on <base>/system/status
//   - Subscriptions to the device domains <base>/{sensor,lock,hvac,alert,state}/#
//   - Inbound dispatch through per-topic serial queues
//   - Message publishing with QoS and size checks
//
// # Reconnection
//
// paho's auto-reconnect is off unless mqtt.auto_reconnect is set. The
// connection watchdog calls Connect with backoff instead, so there is one
// owner of retry policy and outage alerting.
//
// # Dispatch
//
// The paho receive callback only enqueues. Each topic gets its own queue
// and worker, so messages on one topic are handled in delivery order and a
// slow handler on one topic does not hold up others. Idle workers exit.
//
// Handlers are registered as (prefix, handler) pairs in order. Every
// handler whose prefix matches the topic is called. Payloads must be JSON
// objects; anything else is logged, counted and dropped.
//
// # Usage
//
//	client := mqtt.NewClient(cfg.MQTT)
//	client.SetLogger(log)
//	client.RegisterHandler(mqtt.NewTopics(cfg.MQTT.TopicBase).Domain("sensor"),
//	    func(topic string, payload map[string]any) error {
//	        return pipeline.Handle(ctx, topic, payload)
//	    })
//
//	if err := client.Connect(ctx); err != nil {
//	    // the watchdog will keep trying
//	}
//	defer client.Close()
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against the broker ACL
//   - Never log broker passwords
package mqtt
