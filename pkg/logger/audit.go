package logger

import (
	"context"
	"log/slog"
	"time"
)

// Lockout audit event types
const (
	EventAttemptFailed    = "attempt_failed"
	EventAttemptSucceeded = "attempt_succeeded"
	EventAttemptDenied    = "attempt_denied"
	EventLockoutTriggered = "lockout_triggered"
	EventLockoutReset     = "lockout_reset"
)

// AuditEvent represents a lockout audit event
type AuditEvent struct {
	EventType string
	ClientKey string
	Username  string
	IPAddress string
	UserAgent string
	Path      string
	Failures  int
	Removed   int64
	Metadata  map[string]string
}

// AuditLogger writes lockout audit events to a structured logger
type AuditLogger struct {
	logger *slog.Logger
	env    string
}

// NewAuditLogger creates a new audit logger. In production usernames are masked.
func NewAuditLogger(logger *slog.Logger, env string) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		env:    env,
	}
}

// Log writes event at a level derived from its type
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "lockout"),
		slog.String("event_type", event.EventType),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.ClientKey != "" {
		attrs = append(attrs, RedactedAttr("client_key", event.ClientKey, al.env))
	}
	if event.Username != "" {
		attrs = append(attrs, slog.String("username", al.username(event.Username)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.Path != "" {
		attrs = append(attrs, slog.String("path", event.Path))
	}
	if event.Failures > 0 {
		attrs = append(attrs, slog.Int("failures", event.Failures))
	}
	if event.EventType == EventLockoutReset {
		attrs = append(attrs, slog.Int64("removed", event.Removed))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.logger.LogAttrs(ctx, levelFor(event.EventType), "audit", attrs...)
}

func (al *AuditLogger) username(name string) string {
	if al.env == "production" {
		return MaskUsername(name)
	}
	return name
}

func levelFor(eventType string) slog.Level {
	switch eventType {
	case EventAttemptSucceeded, EventLockoutReset:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}
