package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/domain"
)

type contextKey string

const (
	ContextKeyTenantID  contextKey = "tenant_id"
	ContextKeyUserID    contextKey = "user_id"
	ContextKeyUserRole  contextKey = "role"
	ContextKeySessionID contextKey = "session_id"
	ContextKeyClientIP  contextKey = "client_ip"
	ContextKeyUserAgent contextKey = "user_agent"
)

func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ContextKeyTenantID).(uuid.UUID)
	return v, ok
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ContextKeyUserID).(uuid.UUID)
	return v, ok
}

func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyUserRole).(string)
	return v, ok
}

// ClientInfo records the caller's address and user agent for audit entries.
// Chain it after chi's RealIP so RemoteAddr is the forwarded client address.
func ClientInfo() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), ContextKeyClientIP, r.RemoteAddr)
			ctx = context.WithValue(ctx, ContextKeyUserAgent, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext builds the audit actor for the authenticated request.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return domain.Actor{}, false
	}
	a := domain.Actor{ID: userID}
	a.IPAddress, _ = ctx.Value(ContextKeyClientIP).(string)
	a.UserAgent, _ = ctx.Value(ContextKeyUserAgent).(string)
	a.SessionID, _ = ctx.Value(ContextKeySessionID).(string)
	return a, true
}
