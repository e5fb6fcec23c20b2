package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gosuda/costtrail/internal/auth"
)

// Auth validates the bearer access token and stores tenant, user and role in
// the request context. Refresh tokens are rejected.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tok := extractBearer(r); tok != "" {
				ctx, ok := authenticateJWT(r.Context(), tok, jwtSecret)
				if ok {
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	// Browsers cannot set headers on websocket upgrades.
	if r.Header.Get("Upgrade") != "" {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func authenticateJWT(ctx context.Context, tokenStr, secret string) (context.Context, bool) {
	claims, err := auth.ValidateToken(secret, tokenStr)
	if err != nil || !claims.IsAccess() {
		return ctx, false
	}

	p, err := claims.Principal()
	if err != nil {
		return ctx, false
	}

	ctx = context.WithValue(ctx, ContextKeyTenantID, p.TenantID)
	ctx = context.WithValue(ctx, ContextKeyUserID, p.UserID)
	ctx = context.WithValue(ctx, ContextKeyUserRole, p.Role)
	ctx = context.WithValue(ctx, ContextKeySessionID, claims.ID)
	return ctx, true
}
