package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/costtrail/internal/server/middleware"
)

// setRole injects a role into the request context using the same context key
// that the Auth middleware uses.
func setRole(r *http.Request, role string) *http.Request {
	ctx := context.WithValue(r.Context(), middleware.ContextKeyUserRole, role)
	return r.WithContext(ctx)
}

// okHandler is a simple handler that writes 200 OK.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { //nolint:gochecknoglobals // test fixture
	w.WriteHeader(http.StatusOK)
})

func TestRequireRole(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		middleware func(http.Handler) http.Handler
		role       string
		wantStatus int
	}{
		{"editor route admits admin", middleware.RequireEditor(), middleware.RoleAdmin, http.StatusOK},
		{"editor route admits editor", middleware.RequireEditor(), middleware.RoleEditor, http.StatusOK},
		{"editor route blocks auditor", middleware.RequireEditor(), middleware.RoleAuditor, http.StatusForbidden},
		{"editor route blocks viewer", middleware.RequireEditor(), middleware.RoleViewer, http.StatusForbidden},
		{"auditor route admits admin", middleware.RequireAuditor(), middleware.RoleAdmin, http.StatusOK},
		{"auditor route admits auditor", middleware.RequireAuditor(), middleware.RoleAuditor, http.StatusOK},
		{"auditor route blocks editor", middleware.RequireAuditor(), middleware.RoleEditor, http.StatusForbidden},
		{"single role", middleware.RequireRole(middleware.RoleViewer), middleware.RoleViewer, http.StatusOK},
		{"unknown role", middleware.RequireRole(middleware.RoleAdmin), "owner", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := setRole(httptest.NewRequest(http.MethodGet, "/", http.NoBody), tt.role)
			rec := httptest.NewRecorder()

			tt.middleware(okHandler).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusForbidden {
				require.Contains(t, rec.Body.String(), "insufficient permissions")
			}
		})
	}
}

func TestRequireRole_NoUserInContext_Returns401(t *testing.T) {
	t.Parallel()

	handler := middleware.RequireRole(middleware.RoleAdmin)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "authentication required")
}

func TestRequireRole_EmptyRoleInContext_Returns401(t *testing.T) {
	t.Parallel()

	handler := middleware.RequireRole(middleware.RoleAdmin)(okHandler)

	req := setRole(httptest.NewRequest(http.MethodGet, "/", http.NoBody), "")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "authentication required")
}
