// Package api implements the HTTP surface of PropertyHub Core.
//
// This package provides:
//   - Health and Prometheus endpoints for orchestration and scraping
//   - The realtime WebSocket endpoint (delegating to realtime.Handler)
//   - Read endpoints for devices, readings and access history
//   - Alert acknowledge/resolve and incident listing for operators
//   - Watchdog and background loop status
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Identity
//
// Callers are authenticated upstream. Acknowledgements record the opaque
// X-User-ID header as the acknowledging identity.
//
// # Graceful Degradation
//
// Every collaborator except the logger is optional. A missing broker
// reports as disconnected; a missing store answers 503 on its routes.
package api
