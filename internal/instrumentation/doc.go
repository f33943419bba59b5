// Package instrumentation provides OpenTelemetry metrics, tracing, and
// audit logging for the mailwise server.
//
// # Metrics
//
// Metrics cover HTTP traffic, Google API calls, OAuth logins and token
// refreshes, assistant operations, and active sessions. The default
// exporter is Prometheus; OTLP and stdout exporters are available for
// push-based and development setups.
//
// # Tracing
//
// Tracing is disabled by default. When enabled (OTLP or stdout), spans
// are created for Gmail operations and assistant calls, with
// parent-based ratio sampling.
//
// # Cardinality
//
// User identifiers never appear as metric labels. Where a per-user
// dimension is wanted, the email domain is used instead; full
// addresses are restricted to audit logs, and only when PII inclusion
// is explicitly enabled.
//
// # Audit logging
//
// Mutating actions (sending and trashing mail, logins) are recorded as
// structured audit events through AuditLogger, carrying trace context
// for correlation.
package instrumentation
