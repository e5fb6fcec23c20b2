package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/audit"
)

type SubmitChangeRequestInput struct {
	Body struct {
		ID          uuid.UUID      `json:"id,omitempty" doc:"Client-chosen ID; generated when omitted"`
		ProjectID   uuid.UUID      `json:"project_id" doc:"Project the change applies to"`
		Title       string         `json:"title" minLength:"1" maxLength:"255"`
		Description string         `json:"description,omitempty"`
		Impact      map[string]any `json:"impact,omitempty" doc:"Expected effect, e.g. budget deltas"`
		Reference   string         `json:"regulatory_reference,omitempty"`
	}
}

type ChangeRequestIDInput struct {
	ID uuid.UUID `path:"id" doc:"Change request ID"`
}

type DecideChangeRequestInput struct {
	ID   uuid.UUID `path:"id" doc:"Change request ID"`
	Body struct {
		Decision string `json:"decision" enum:"approved,rejected"`
		Notes    string `json:"notes,omitempty" doc:"Recorded as compliance notes"`
	}
}

type EscalateChangeRequestInput struct {
	ID   uuid.UUID `path:"id" doc:"Change request ID"`
	Body struct {
		Reason string `json:"reason" minLength:"1"`
	}
}

type ChangeEventOutput struct {
	Body AuditEvent
}

func RegisterChangeRequestRoutes(api huma.API, svc ChangeRequestService) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-change-request",
		Method:      http.MethodPost,
		Path:        "/change-requests",
		Summary:     "Record the submission of a change request",
		Tags:        []string{"Change Requests"},
		Middlewares: requireRoles(api, editorRoles),
	}, func(ctx context.Context, input *SubmitChangeRequestInput) (*ChangeEventOutput, error) {
		tenantID, actor, err := callerFrom(ctx)
		if err != nil {
			return nil, err
		}

		id := input.Body.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		e, err := svc.Submit(ctx, audit.ChangeRequest{
			ID:          id,
			TenantID:    tenantID,
			ProjectID:   input.Body.ProjectID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Impact:      input.Body.Impact,
			Reference:   input.Body.Reference,
		}, actor)
		if err != nil {
			return nil, apiError(err, "change request")
		}

		return &ChangeEventOutput{Body: auditView(e)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-change-request",
		Method:      http.MethodPost,
		Path:        "/change-requests/{id}/decision",
		Summary:     "Approve or reject a submitted change request",
		Tags:        []string{"Change Requests"},
		Middlewares: requireRoles(api, adminRoles),
	}, func(ctx context.Context, input *DecideChangeRequestInput) (*ChangeEventOutput, error) {
		tenantID, actor, err := callerFrom(ctx)
		if err != nil {
			return nil, err
		}

		e, err := svc.Decide(ctx, tenantID, input.ID, audit.Decision(input.Body.Decision), input.Body.Notes, actor)
		if err != nil {
			return nil, apiError(err, "change request")
		}

		return &ChangeEventOutput{Body: auditView(e)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-change-request",
		Method:      http.MethodPost,
		Path:        "/change-requests/{id}/escalate",
		Summary:     "Escalate a change request for higher review",
		Tags:        []string{"Change Requests"},
		Middlewares: requireRoles(api, editorRoles),
	}, func(ctx context.Context, input *EscalateChangeRequestInput) (*ChangeEventOutput, error) {
		tenantID, actor, err := callerFrom(ctx)
		if err != nil {
			return nil, err
		}

		e, err := svc.Escalate(ctx, tenantID, input.ID, input.Body.Reason, actor)
		if err != nil {
			return nil, apiError(err, "change request")
		}

		return &ChangeEventOutput{Body: auditView(e)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-change-request-trail",
		Method:      http.MethodGet,
		Path:        "/change-requests/{id}/trail",
		Summary:     "Get the recorded workflow of a change request",
		Tags:        []string{"Change Requests"},
		Middlewares: requireRoles(api, anyRole),
	}, func(ctx context.Context, input *ChangeRequestIDInput) (*AuditTrailOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		events, err := svc.Trail(ctx, tenantID, input.ID)
		if err != nil {
			return nil, apiError(err, "change request")
		}
		if len(events) == 0 {
			return nil, huma.Error404NotFound("change request not found")
		}

		return &AuditTrailOutput{Body: auditViews(events)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-change-request-chain",
		Method:      http.MethodPost,
		Path:        "/change-requests/verify",
		Summary:     "Verify the change-request hash chain",
		Tags:        []string{"Change Requests"},
		Middlewares: requireRoles(api, auditRoles),
	}, func(ctx context.Context, _ *struct{}) (*VerifyChainOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		res, err := svc.Verify(ctx, tenantID)
		if err != nil {
			return nil, apiError(err, "change request chain")
		}

		return &VerifyChainOutput{Body: res}, nil
	})
}
