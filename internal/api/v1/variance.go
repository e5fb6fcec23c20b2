package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/domain"
	"github.com/gosuda/costtrail/internal/variance"
)

type ProjectVarianceInput struct {
	ProjectID uuid.UUID `path:"projectID" doc:"Project ID"`
	TopN      int       `query:"top_n" minimum:"0" maximum:"100" default:"10" doc:"Number of outliers to return"`
}

type ProjectVarianceOutput struct {
	Body *variance.ProjectVariance
}

type ListAlertsInput struct {
	ProjectID uuid.UUID `path:"projectID" doc:"Project ID"`
	Status    string    `query:"status" enum:"active,acknowledged,resolved" doc:"Filter by alert status"`
}

type AlertsOutput struct {
	Body []*VarianceAlert
}

type AlertIDInput struct {
	ID uuid.UUID `path:"id" doc:"Alert ID"`
}

type ResolveAlertInput struct {
	ID   uuid.UUID `path:"id" doc:"Alert ID"`
	Body struct {
		Notes string `json:"notes,omitempty" doc:"Resolution notes"`
	}
}

type AlertOutput struct {
	Body *VarianceAlert
}

func RegisterVarianceRoutes(api huma.API, svc VarianceService) {
	huma.Register(api, huma.Operation{
		OperationID: "get-project-variance",
		Method:      http.MethodGet,
		Path:        "/projects/{projectID}/variance",
		Summary:     "Analyze budget variance of a project",
		Tags:        []string{"Variance"},
		Middlewares: requireRoles(api, anyRole),
	}, func(ctx context.Context, input *ProjectVarianceInput) (*ProjectVarianceOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		pv, err := svc.ProjectVariance(ctx, tenantID, input.ProjectID, input.TopN)
		if err != nil {
			return nil, apiError(err, "variance")
		}

		return &ProjectVarianceOutput{Body: pv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-variance-alerts",
		Method:      http.MethodPost,
		Path:        "/projects/{projectID}/variance/alerts/generate",
		Summary:     "Raise alerts for nodes whose variance crossed a threshold",
		Tags:        []string{"Variance"},
		Middlewares: requireRoles(api, editorRoles),
	}, func(ctx context.Context, input *ProjectInput) (*AlertsOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		alerts, err := svc.GenerateAlerts(ctx, tenantID, input.ProjectID)
		if err != nil {
			return nil, apiError(err, "variance alerts")
		}

		return &AlertsOutput{Body: alertViews(alerts)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-variance-alerts",
		Method:      http.MethodGet,
		Path:        "/projects/{projectID}/variance/alerts",
		Summary:     "List variance alerts of a project",
		Tags:        []string{"Variance"},
		Middlewares: requireRoles(api, anyRole),
	}, func(ctx context.Context, input *ListAlertsInput) (*AlertsOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		alerts, err := svc.ListAlerts(ctx, tenantID, input.ProjectID, domain.AlertStatus(input.Status))
		if err != nil {
			return nil, apiError(err, "variance alerts")
		}

		return &AlertsOutput{Body: alertViews(alerts)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "acknowledge-variance-alert",
		Method:      http.MethodPost,
		Path:        "/variance/alerts/{id}/acknowledge",
		Summary:     "Acknowledge an active alert",
		Tags:        []string{"Variance"},
		Middlewares: requireRoles(api, editorRoles),
	}, func(ctx context.Context, input *AlertIDInput) (*AlertOutput, error) {
		tenantID, actor, err := callerFrom(ctx)
		if err != nil {
			return nil, err
		}

		a, err := svc.Acknowledge(ctx, tenantID, input.ID, actor)
		if err != nil {
			return nil, apiError(err, "variance alert")
		}

		return &AlertOutput{Body: alertView(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-variance-alert",
		Method:      http.MethodPost,
		Path:        "/variance/alerts/{id}/resolve",
		Summary:     "Resolve an open alert",
		Tags:        []string{"Variance"},
		Middlewares: requireRoles(api, editorRoles),
	}, func(ctx context.Context, input *ResolveAlertInput) (*AlertOutput, error) {
		tenantID, actor, err := callerFrom(ctx)
		if err != nil {
			return nil, err
		}

		a, err := svc.Resolve(ctx, tenantID, input.ID, actor, input.Body.Notes)
		if err != nil {
			return nil, apiError(err, "variance alert")
		}

		return &AlertOutput{Body: alertView(a)}, nil
	})
}
