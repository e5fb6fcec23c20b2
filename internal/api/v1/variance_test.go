package v1_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/costtrail/internal/api/v1"
	"github.com/gosuda/costtrail/internal/domain"
	"github.com/gosuda/costtrail/internal/server/middleware"
	"github.com/gosuda/costtrail/internal/variance"
)

func TestProjectVariance(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.createNode(t, map[string]any{"name": "Concrete", "category": "materials", "planned_amount": "100", "actual_amount": "104"})
	env.createNode(t, map[string]any{"name": "Labour", "category": "labour", "planned_amount": "200", "actual_amount": "400"})

	resp := env.api.GetCtx(env.as(middleware.RoleViewer), env.projectPath("/variance?top_n=1"))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var pv variance.ProjectVariance
	decode(t, resp, &pv)
	assert.Equal(t, env.projectID, pv.ProjectID)
	assert.Equal(t, "300", pv.Overall.Planned.String())
	assert.Equal(t, "504", pv.Overall.Actual.String())
	require.Len(t, pv.Outliers, 1)
	assert.Equal(t, "Labour", pv.Outliers[0].Name)
	assert.Len(t, pv.ByCategory, 2)
}

func TestVarianceAlertLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.createNode(t, map[string]any{"name": "Crane hire", "planned_amount": "100", "actual_amount": "200"})

	// Creation already ran the alert pass, so a manual run adds nothing.
	resp := env.api.PostCtx(env.as(middleware.RoleEditor), env.projectPath("/variance/alerts/generate"))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var generated []v1.VarianceAlert
	decode(t, resp, &generated)
	assert.Empty(t, generated)

	resp = env.api.GetCtx(env.as(middleware.RoleViewer), env.projectPath("/variance/alerts?status=active"))
	require.Equal(t, http.StatusOK, resp.Code)
	var alerts []v1.VarianceAlert
	decode(t, resp, &alerts)
	require.Len(t, alerts, 1)
	alert := alerts[0]
	assert.Equal(t, domain.AlertBudgetOverrun, alert.AlertType)
	assert.Equal(t, domain.RiskCritical, alert.Severity)
	assert.NotEmpty(t, alert.RecommendedActions)

	path := "/variance/alerts/" + alert.ID.String()

	resp = env.api.PostCtx(env.as(middleware.RoleViewer), path+"/acknowledge")
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = env.api.PostCtx(env.as(middleware.RoleEditor), path+"/acknowledge")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var acked v1.VarianceAlert
	decode(t, resp, &acked)
	assert.Equal(t, domain.AlertAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedBy)
	assert.Equal(t, env.userID, *acked.AcknowledgedBy)

	resp = env.api.PostCtx(env.as(middleware.RoleEditor), path+"/acknowledge")
	assert.Equal(t, http.StatusBadRequest, resp.Code, "already acknowledged")

	resp = env.api.PostCtx(env.as(middleware.RoleEditor), path+"/resolve", map[string]any{"notes": "budget revised"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var resolved v1.VarianceAlert
	decode(t, resp, &resolved)
	assert.Equal(t, domain.AlertResolved, resolved.Status)
	assert.Equal(t, "budget revised", resolved.ResolutionNotes)

	resp = env.api.GetCtx(env.as(middleware.RoleViewer), env.projectPath("/variance/alerts?status=active"))
	require.Equal(t, http.StatusOK, resp.Code)
	decode(t, resp, &alerts)
	assert.Empty(t, alerts)

	resp = env.api.PostCtx(env.as(middleware.RoleEditor), "/variance/alerts/"+env.projectID.String()+"/resolve", map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
