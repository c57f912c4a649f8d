// Package server runs the HTTP surface: the JSON API, the steering
// ingress for chat completions, health probes and Prometheus metrics.
//
// # Routes
//
//   - /v1/budgets... - budget management, status, usage, reports, alerts
//   - POST /v1/select, POST /v1/estimate - model selection and pricing
//   - GET /v1/models... - catalog view and fallback chains
//   - POST /v1/reconcile - charge actual usage
//   - POST /v1/chat/completions - steered and proxied to the provider
//   - GET /health, /ready, /version, /metrics
//
// # Middleware Chain
//
// Every route passes through panic recovery (outermost), request id
// assignment, real client IP resolution and request logging. The JSON API
// additionally gets the configured request timeout; the proxied chat route
// does not, since provider calls may stream.
//
// # Graceful Shutdown
//
// Start blocks until the context is cancelled, SIGINT or SIGTERM arrives,
// or Shutdown is called. In-flight requests get up to the configured
// shutdown timeout to complete.
package server
