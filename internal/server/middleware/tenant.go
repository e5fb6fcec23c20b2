package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TenantHeader lets integration clients state the tenant they expect to act
// on. It never selects a tenant; it can only confirm the token's.
const TenantHeader = "X-Tenant-ID"

// RequireTenant rejects requests whose token carries no tenant, and requests
// whose TenantHeader names another tenant. Breakdowns, audit events and
// reports are only ever read and written inside the token's tenant.
func RequireTenant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tid, ok := TenantIDFromContext(r.Context())
			if !ok || tid == uuid.Nil {
				http.Error(w, `{"title":"Forbidden","status":403,"detail":"valid tenant required"}`, http.StatusForbidden)
				return
			}
			if h := r.Header.Get(TenantHeader); h != "" {
				if claimed, err := uuid.Parse(h); err != nil || claimed != tid {
					userID, _ := UserIDFromContext(r.Context())
					log.Warn().
						Str("tenant_id", tid.String()).
						Str("claimed_tenant", h).
						Str("user_id", userID.String()).
						Str("path", r.URL.Path).
						Msg("middleware.RequireTenant: cross-tenant request refused")
					http.Error(w, `{"title":"Forbidden","status":403,"detail":"tenant does not match credentials"}`, http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
