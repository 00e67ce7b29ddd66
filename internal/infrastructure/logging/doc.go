// Package logging provides structured logging for PropertyHub Core.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text during development, with service and version fields on
// every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//	logger.With("component", "watchdog").Warn("broker down", "attempts", 3)
//
// Never log broker passwords, Redis passwords or AMQP URLs with credentials.
package logging
