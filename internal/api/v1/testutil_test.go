package v1_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/costtrail/internal/api/v1"
	"github.com/gosuda/costtrail/internal/audit"
	"github.com/gosuda/costtrail/internal/breakdown"
	"github.com/gosuda/costtrail/internal/compliance"
	"github.com/gosuda/costtrail/internal/domain"
	"github.com/gosuda/costtrail/internal/report"
	"github.com/gosuda/costtrail/internal/server/middleware"
	"github.com/gosuda/costtrail/internal/store/memory"
	"github.com/gosuda/costtrail/internal/variance"
)

// ---------------------------------------------------------------------------
// Context helpers: inject tenant/user/role into context for DoCtx
// ---------------------------------------------------------------------------

func tenantCtx(tenantID uuid.UUID) context.Context {
	ctx := context.Background()
	ctx = context.WithValue(ctx, middleware.ContextKeyTenantID, tenantID)
	return ctx
}

func roleCtx(tenantID, userID uuid.UUID, role string) context.Context {
	ctx := tenantCtx(tenantID)
	ctx = context.WithValue(ctx, middleware.ContextKeyUserID, userID)
	ctx = context.WithValue(ctx, middleware.ContextKeyUserRole, role)
	return ctx
}

// ---------------------------------------------------------------------------
// In-memory stack with real services
// ---------------------------------------------------------------------------

type testEnv struct {
	api       humatest.TestAPI
	store     *memory.Store
	audit     *audit.Logger
	breakdown *breakdown.Service
	variance  *variance.Engine
	signer    *report.Signer
	tenantID  uuid.UUID
	projectID uuid.UUID
	userID    uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := memory.New()
	logger := audit.NewLogger(st.Audit(), st.IntegrityAlerts())
	engine := variance.NewEngine(st.Breakdowns(), st.VarianceAlerts(), variance.WithAudit(logger))
	svc := breakdown.NewService(st.Breakdowns(), st.Versions(), logger, breakdown.WithVariance(engine))
	signer, err := report.NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	_, api := humatest.New(t)
	v1.RegisterBreakdownRoutes(api, svc)
	v1.RegisterVarianceRoutes(api, engine)
	v1.RegisterAuditRoutes(api, logger, st.IntegrityAlerts())
	v1.RegisterImportRoutes(api, breakdown.NewImporter(svc, st.ImportBatches()))
	v1.RegisterReportRoutes(api, report.NewGenerator(st.Versions(), engine, logger, signer), signer)
	v1.RegisterComplianceRoutes(api, compliance.NewMonitor(st.Compliance(), st.Audit()))
	v1.RegisterChangeRequestRoutes(api, audit.NewChangeRequestLog(audit.NewLogger(st.ChangeAudit(), st.IntegrityAlerts())))

	return &testEnv{
		api:       api,
		store:     st,
		audit:     logger,
		breakdown: svc,
		variance:  engine,
		signer:    signer,
		tenantID:  uuid.New(),
		projectID: uuid.New(),
		userID:    uuid.New(),
	}
}

func (e *testEnv) as(role string) context.Context {
	return roleCtx(e.tenantID, e.userID, role)
}

func (e *testEnv) projectPath(suffix string) string {
	return "/projects/" + e.projectID.String() + suffix
}

// createNode creates a node through the API and returns its ID.
func (e *testEnv) createNode(t *testing.T, body map[string]any) uuid.UUID {
	t.Helper()

	resp := e.api.PostCtx(e.as(middleware.RoleEditor), e.projectPath("/breakdowns"), body)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var out v1.Breakdown
	decode(t, resp, &out)
	return out.ID
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), v), resp.Body.String())
}

// ---------------------------------------------------------------------------
// Mock BreakdownService
// ---------------------------------------------------------------------------

type mockBreakdownService struct {
	v1.BreakdownService

	getFunc    func(ctx context.Context, tenantID, id uuid.UUID) (*domain.POBreakdown, error)
	createFunc func(ctx context.Context, in breakdown.CreateInput) (*domain.POBreakdown, error)
	deleteFunc func(ctx context.Context, tenantID, id uuid.UUID, hard bool, actor domain.Actor, reason string) error
}

func (m *mockBreakdownService) Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.POBreakdown, error) {
	return m.getFunc(ctx, tenantID, id)
}

func (m *mockBreakdownService) Create(ctx context.Context, in breakdown.CreateInput) (*domain.POBreakdown, error) {
	return m.createFunc(ctx, in)
}

func (m *mockBreakdownService) Delete(ctx context.Context, tenantID, id uuid.UUID, hard bool, actor domain.Actor, reason string) error {
	return m.deleteFunc(ctx, tenantID, id, hard, actor, reason)
}

// ---------------------------------------------------------------------------
// Mock ReportVerifier
// ---------------------------------------------------------------------------

type mockVerifier struct {
	verifyFunc func(r *report.ComplianceReport) (bool, error)
}

func (m *mockVerifier) Verify(r *report.ComplianceReport) (bool, error) {
	return m.verifyFunc(r)
}
