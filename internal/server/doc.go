// Package server provides the HTTP API for mailwise.
//
// The API is served under /api/v1 and split into three groups:
//
//   - /auth: Google OAuth login flow and session endpoints
//   - /emails: Gmail read, search, send, and trash operations
//   - /chat: the Gemini-backed assistant
//
// Health endpoints (/healthz, /readyz, /healthz/detailed) live on the
// main listener; Prometheus metrics are served by a separate
// MetricsServer on a dedicated port so operational data is never
// exposed to API clients.
//
// All /emails and /chat routes require a Bearer session token and are
// rate limited per user.
package server
