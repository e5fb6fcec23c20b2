package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

type RunChecksInput struct {
	Body struct {
		From time.Time `json:"from" doc:"Period start"`
		To   time.Time `json:"to" doc:"Period end"`
	}
}

type RunChecksOutput struct {
	Body []ComplianceResult
}

type ListViolationsInput struct {
	Limit  int `query:"limit" minimum:"1" maximum:"500" default:"50"`
	Offset int `query:"offset" minimum:"0"`
}

type ViolationsOutput struct {
	Body []ComplianceViolation
}

func RegisterComplianceRoutes(api huma.API, svc ComplianceService) {
	huma.Register(api, huma.Operation{
		OperationID: "run-compliance-checks",
		Method:      http.MethodPost,
		Path:        "/compliance/checks",
		Summary:     "Score every active framework over a period",
		Tags:        []string{"Compliance"},
		Middlewares: requireRoles(api, auditRoles),
	}, func(ctx context.Context, input *RunChecksInput) (*RunChecksOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}
		if input.Body.To.Before(input.Body.From) {
			return nil, huma.Error400BadRequest("to must not be before from")
		}

		if err := svc.EnsureDefaults(ctx, tenantID); err != nil {
			return nil, apiError(err, "compliance frameworks")
		}
		results, err := svc.RunChecks(ctx, tenantID, input.Body.From, input.Body.To)
		if err != nil {
			return nil, apiError(err, "compliance checks")
		}

		out := make([]ComplianceResult, 0, len(results))
		for _, m := range results {
			out = append(out, ComplianceResult{
				ID:                  m.ID,
				FrameworkID:         m.FrameworkID,
				PeriodStart:         m.PeriodStart,
				PeriodEnd:           m.PeriodEnd,
				EventsChecked:       m.EventsChecked,
				ImplementedControls: nonNilStrings(m.ImplementedControls),
				MissingControls:     nonNilStrings(m.MissingControls),
				RequiredControls:    nonNilStrings(m.RequiredControls),
				Score:               m.Score,
				CheckedAt:           m.CheckedAt,
			})
		}
		return &RunChecksOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-compliance-violations",
		Method:      http.MethodGet,
		Path:        "/compliance/violations",
		Summary:     "List detected control violations, newest first",
		Tags:        []string{"Compliance"},
		Middlewares: requireRoles(api, auditRoles),
	}, func(ctx context.Context, input *ListViolationsInput) (*ViolationsOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		list, err := svc.Violations(ctx, tenantID, input.Limit, input.Offset)
		if err != nil {
			return nil, apiError(err, "compliance violations")
		}

		out := make([]ComplianceViolation, 0, len(list))
		for _, v := range list {
			out = append(out, ComplianceViolation{
				ID:          v.ID,
				FrameworkID: v.FrameworkID,
				ControlCode: v.ControlCode,
				EventID:     v.EventID,
				Severity:    v.Severity,
				Description: v.Description,
				Resolved:    v.Resolved,
				DetectedAt:  v.DetectedAt,
			})
		}
		return &ViolationsOutput{Body: out}, nil
	})
}
