package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/costtrail/internal/api/ws"
	"github.com/gosuda/costtrail/internal/feed"
	"github.com/gosuda/costtrail/internal/server/middleware"
	"github.com/gosuda/costtrail/internal/store/memory"
)

func withTenant(tenantID uuid.UUID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), middleware.ContextKeyTenantID, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newHubServer(t *testing.T, ps *memory.PubSub, tenantID uuid.UUID) *httptest.Server {
	t.Helper()

	hub := ws.NewHub(ps)
	r := chi.NewRouter()
	r.Get("/anon/projects/{projectID}", hub.ServeProject)
	r.Group(func(r chi.Router) {
		r.Use(withTenant(tenantID))
		r.Get("/ws/projects/{projectID}", hub.ServeProject)
		r.Get("/ws/tenant", hub.ServeTenant)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestHub_ServeProject_RelaysFeed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ps := memory.NewPubSub()
	tenantID, projectID := uuid.New(), uuid.New()
	srv := newHubServer(t, ps, tenantID)

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/ws/projects/"+projectID.String()), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	channel := feed.ProjectChannel(tenantID, projectID)
	require.Eventually(t, func() bool { return ps.Subscribers(channel) == 1 }, time.Second, 5*time.Millisecond)

	feed.NewEmitter(ps).Emit(ctx, feed.Event{
		Type:      feed.BreakdownCreated,
		TenantID:  tenantID,
		ProjectID: projectID,
		EntityID:  uuid.New(),
	})

	typ, msg, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	assert.Contains(t, string(msg), `"type":"breakdown_created"`)

	_ = conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return ps.Subscribers(channel) == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_ServeTenant_RelaysFeed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ps := memory.NewPubSub()
	tenantID := uuid.New()
	srv := newHubServer(t, ps, tenantID)

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/ws/tenant"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	channel := feed.TenantChannel(tenantID)
	require.Eventually(t, func() bool { return ps.Subscribers(channel) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, ws.NewHub(ps).Publish(ctx, channel, []byte(`{"type":"integrity_breach"}`)))

	_, msg, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"integrity_breach"}`, string(msg))
}

func TestHub_RejectsBadRequests(t *testing.T) {
	t.Parallel()

	srv := newHubServer(t, memory.NewPubSub(), uuid.New())

	tests := []struct {
		name string
		path string
	}{
		{"invalid_project_id", "/ws/projects/not-a-uuid"},
		{"missing_tenant", "/anon/projects/" + uuid.NewString()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, err := http.Get(srv.URL + tt.path) //nolint:noctx // test request
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}
