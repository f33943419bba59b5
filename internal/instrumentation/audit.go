package instrumentation

import (
	"context"
	"log/slog"
	"time"
)

// UserAction captures one user-initiated operation for audit logging:
// a login, a sent message, a trashed message, an assistant command.
//
// # Privacy Considerations
//
// The UserEmail field contains PII. When logging, consider:
//   - Using UserDomain() to get only the domain for metrics/general logs
//   - Only logging full email in audit-specific log streams
//   - Ensuring audit logs have appropriate access controls
type UserAction struct {
	// Action name (login, send_email, trash_email, chat_command, ...)
	Action string

	// User identity (from OAuth)
	UserEmail string

	// Target information
	ServiceName string // upstream service (gmail, gemini)
	Operation   string // operation type (list, get, send, trash, search)
	ResourceID  string // Gmail message ID or conversation ID, if any

	// Execution details
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	// Tracing context
	TraceID string
	SpanID  string
}

// UserDomain returns the domain portion of the user's email for lower-cardinality logging.
func (ua *UserAction) UserDomain() string {
	return ExtractUserDomain(ua.UserEmail)
}

// Status returns "success" or "error" based on the Success field.
func (ua *UserAction) Status() string {
	if ua.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns slog attributes for structured logging with
// cardinality-controlled values (user_domain instead of the full
// address). For full audit logging, use LogAuditAttrs.
func (ua *UserAction) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("action", ua.Action),
		slog.String("user_domain", ua.UserDomain()),
		slog.Duration("duration", ua.Duration),
		slog.Bool("success", ua.Success),
	}

	if ua.ServiceName != "" {
		attrs = append(attrs, slog.String("service", ua.ServiceName))
	}
	if ua.Operation != "" {
		attrs = append(attrs, slog.String("operation", ua.Operation))
	}
	if ua.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ua.TraceID))
	}
	if ua.Error != "" {
		attrs = append(attrs, slog.String("error", ua.Error))
	}

	return attrs
}

// LogAuditAttrs returns slog attributes for full audit logging,
// including the full user email and resource identifiers.
//
// # Security Warning
//
// This method includes PII (full email). Ensure audit logs are:
//   - Stored securely with appropriate access controls
//   - Not exposed to general monitoring dashboards
//   - Retained according to compliance requirements
func (ua *UserAction) LogAuditAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("action", ua.Action),
		slog.String("user", ua.UserEmail),
		slog.Duration("duration", ua.Duration),
		slog.Bool("success", ua.Success),
	}

	if ua.ServiceName != "" {
		attrs = append(attrs, slog.String("service", ua.ServiceName))
	}
	if ua.Operation != "" {
		attrs = append(attrs, slog.String("operation", ua.Operation))
	}
	if ua.ResourceID != "" {
		attrs = append(attrs, slog.String("resource_id", ua.ResourceID))
	}
	if ua.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ua.TraceID))
	}
	if ua.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", ua.SpanID))
	}
	if ua.Error != "" {
		attrs = append(attrs, slog.String("error", ua.Error))
	}

	return attrs
}

// NewUserAction creates a new UserAction with timing started.
// Call Complete() when the operation finishes.
func NewUserAction(action string) *UserAction {
	return &UserAction{
		Action:    action,
		StartTime: time.Now(),
	}
}

// WithUser sets the user identity information.
func (ua *UserAction) WithUser(email string) *UserAction {
	ua.UserEmail = email
	return ua
}

// WithService sets the upstream service and operation.
func (ua *UserAction) WithService(serviceName, operation string) *UserAction {
	ua.ServiceName = serviceName
	ua.Operation = operation
	return ua
}

// WithResource sets the target resource identifier.
func (ua *UserAction) WithResource(id string) *UserAction {
	ua.ResourceID = id
	return ua
}

// WithSpanContext extracts trace context from the current span.
func (ua *UserAction) WithSpanContext(ctx context.Context) *UserAction {
	ua.TraceID = GetTraceID(ctx)
	ua.SpanID = GetSpanID(ctx)
	return ua
}

// Complete marks the action as completed and calculates duration.
// Returns the same UserAction for method chaining.
func (ua *UserAction) Complete(success bool, err error) *UserAction {
	ua.Duration = time.Since(ua.StartTime)
	ua.Success = success
	if err != nil {
		ua.Error = err.Error()
	}
	return ua
}

// CompleteWithError marks the action as failed with the given error.
func (ua *UserAction) CompleteWithError(err error) *UserAction {
	return ua.Complete(false, err)
}

// CompleteSuccess marks the action as successful.
func (ua *UserAction) CompleteSuccess() *UserAction {
	return ua.Complete(true, nil)
}

// AuditLogger provides structured audit logging for user actions.
// It wraps slog.Logger with convenience methods for logging operations.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates a new AuditLogger with the given slog.Logger.
// By default, PII is not included in logs (domain identifiers are used instead).
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: false,
		enabled:    true,
	}
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// SetIncludePII sets whether to include full email addresses in audit logs.
func (al *AuditLogger) SetIncludePII(include bool) {
	al.includePII = include
}

// SetEnabled sets whether audit logging is enabled.
func (al *AuditLogger) SetEnabled(enabled bool) {
	al.enabled = enabled
}

// LogUserAction logs a user action. If the logger is configured with
// IncludePII, full user emails are logged; otherwise only domain-based
// identifiers are used.
func (al *AuditLogger) LogUserAction(ua *UserAction) {
	if !al.enabled {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = ua.LogAuditAttrs()
	} else {
		attrs = ua.LogAttrs()
	}

	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if ua.Success {
		al.logger.Info("action_executed", args...)
	} else {
		al.logger.Warn("action_failed", args...)
	}
}
