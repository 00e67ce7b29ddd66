// Package config handles loading and validating PropertyHub Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with PROPERTYHUB_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker, Redis and AMQP credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.TopicBase)
package config
