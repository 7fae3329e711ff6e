package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"crmbase.org/internal/auth"
	"crmbase.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes a structured audit entry enriched with request and caller
// context. Security-relevant transitions (login, rotation, revocation,
// suspension) all flow through here.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}

	entry := obs.Logger().WithFields(logrus.Fields{
		"type":  "audit",
		"event": event,
	})
	if rid := requestIDFromContext(ctx); rid != "" {
		entry = entry.WithField("request_id", rid)
	}
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		if principal.User != nil {
			entry = entry.WithField("user_id", principal.User.ID)
		}
		if tid := principal.TenantID(); tid != "" {
			entry = entry.WithField("tenant_id", tid)
		}
	}
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Info("audit")
	return nil
}
