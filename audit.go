package authd

import (
	"context"

	internalaudit "github.com/MrEthical07/authd/internal/audit"
)

// AuditEvent is one security-relevant occurrence.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink drops events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink delivers events to a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs events through log/slog.
type SlogSink = internalaudit.SlogSink

var (
	NewChannelSink    = internalaudit.NewChannelSink
	NewJSONWriterSink = internalaudit.NewJSONWriterSink
	NewSlogSink       = internalaudit.NewSlogSink
)

const (
	auditLoginSuccess     = "login_success"
	auditLoginFailure     = "login_failure"
	auditLoginRateLimited = "login_rate_limited"
	auditAccountLocked    = "account_locked"
	auditAccountUnlocked  = "account_unlocked"
	auditLogout           = "logout"
	auditRefreshSuccess   = "refresh_success"
	auditRefreshFailure   = "refresh_failure"
	auditPasswordChange   = "password_change"
	auditForcedLogout     = "forced_logout"
	auditSessionEvicted   = "session_evicted"
)

// emitAudit never blocks the caller on sink failures and never returns an error.
func (c *Coordinator) emitAudit(ctx context.Context, eventType string, success bool, userID, sessionID string, err error, metadata map[string]string) {
	if c == nil || c.audit == nil {
		return
	}
	event := AuditEvent{
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = KindOf(err).String()
	}
	c.audit.Emit(ctx, event)
}
