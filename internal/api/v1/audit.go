package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/audit/chain"
	"github.com/gosuda/costtrail/internal/domain"
)

type SearchAuditInput struct {
	EventTypes          []string  `query:"event_type" doc:"Event types to include"`
	RiskLevels          []string  `query:"risk_level" doc:"Risk levels to include"`
	ActorID             uuid.UUID `query:"actor_id" doc:"Only events by this user"`
	EntityType          string    `query:"entity_type"`
	EntityID            uuid.UUID `query:"entity_id"`
	From                time.Time `query:"from" doc:"Inclusive lower bound on performed_at"`
	To                  time.Time `query:"to" doc:"Inclusive upper bound on performed_at"`
	RegulatoryReference string    `query:"regulatory_reference" doc:"Case-insensitive substring"`
	Page                int       `query:"page" minimum:"1" default:"1"`
	PageSize            int       `query:"page_size" minimum:"1" maximum:"1000" default:"50"`
}

type SearchAuditOutput struct {
	Body struct {
		Events   []AuditEvent `json:"events"`
		Total    int          `json:"total"`
		Page     int          `json:"page"`
		PageSize int          `json:"page_size"`
	}
}

type AuditEventIDInput struct {
	ID uuid.UUID `path:"id" doc:"Audit event ID"`
}

type AuditEventOutput struct {
	Body AuditEvent
}

type AuditTrailInput struct {
	EntityID uuid.UUID `path:"entityID" doc:"Entity ID"`
	From     time.Time `query:"from"`
	To       time.Time `query:"to"`
}

type AuditTrailOutput struct {
	Body []AuditEvent
}

type VerifyChainInput struct {
	Mode string `query:"mode" enum:"links,content" default:"content" doc:"links checks predecessor hashes only; content also recomputes every hash"`
}

type VerifyChainOutput struct {
	Body chain.Result
}

type ListIntegrityAlertsInput struct {
	Limit  int `query:"limit" minimum:"1" maximum:"500" default:"50"`
	Offset int `query:"offset" minimum:"0"`
}

type IntegrityAlertsOutput struct {
	Body []IntegrityAlert
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func optionalID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func RegisterAuditRoutes(api huma.API, svc AuditService, alerts IntegrityAlertLister) {
	huma.Register(api, huma.Operation{
		OperationID: "search-audit-events",
		Method:      http.MethodGet,
		Path:        "/audit/events",
		Summary:     "Search audit events, newest first",
		Tags:        []string{"Audit"},
		Middlewares: requireRoles(api, auditRoles),
	}, func(ctx context.Context, input *SearchAuditInput) (*SearchAuditOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		filter := domain.AuditFilter{
			TenantID:            tenantID,
			ActorID:             optionalID(input.ActorID),
			EntityType:          input.EntityType,
			EntityID:            optionalID(input.EntityID),
			From:                optionalTime(input.From),
			To:                  optionalTime(input.To),
			RegulatoryReference: input.RegulatoryReference,
		}
		for _, et := range input.EventTypes {
			filter.EventTypes = append(filter.EventTypes, domain.AuditEventType(et))
		}
		for _, rl := range input.RiskLevels {
			filter.RiskLevels = append(filter.RiskLevels, domain.RiskLevel(rl))
		}

		res, err := svc.Search(ctx, filter, input.Page, input.PageSize)
		if err != nil {
			return nil, apiError(err, "audit events")
		}

		out := &SearchAuditOutput{}
		out.Body.Events = auditViews(res.Events)
		out.Body.Total = res.Total
		out.Body.Page = res.Page
		out.Body.PageSize = res.PageSize
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-audit-event",
		Method:      http.MethodGet,
		Path:        "/audit/events/{id}",
		Summary:     "Get a single audit event",
		Tags:        []string{"Audit"},
		Middlewares: requireRoles(api, auditRoles),
	}, func(ctx context.Context, input *AuditEventIDInput) (*AuditEventOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		e, err := svc.Get(ctx, tenantID, input.ID)
		if err != nil {
			return nil, apiError(err, "audit event")
		}

		return &AuditEventOutput{Body: auditView(e)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-audit-trail",
		Method:      http.MethodGet,
		Path:        "/audit/entities/{entityID}/trail",
		Summary:     "Get the audit trail of one entity, oldest first",
		Tags:        []string{"Audit"},
		Middlewares: requireRoles(api, auditRoles),
	}, func(ctx context.Context, input *AuditTrailInput) (*AuditTrailOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		events, err := svc.GetTrail(ctx, tenantID, input.EntityID, optionalTime(input.From), optionalTime(input.To))
		if err != nil {
			return nil, apiError(err, "audit trail")
		}

		return &AuditTrailOutput{Body: auditViews(events)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-audit-chain",
		Method:      http.MethodPost,
		Path:        "/audit/verify",
		Summary:     "Verify the tenant's audit hash chain",
		Tags:        []string{"Audit"},
		Middlewares: requireRoles(api, auditRoles),
	}, func(ctx context.Context, input *VerifyChainInput) (*VerifyChainOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		verify := svc.VerifyTenantChain
		if input.Mode == "links" {
			verify = svc.VerifyChain
		}
		res, err := verify(ctx, tenantID)
		if err != nil {
			return nil, apiError(err, "audit chain")
		}

		return &VerifyChainOutput{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-integrity-alerts",
		Method:      http.MethodGet,
		Path:        "/audit/integrity-alerts",
		Summary:     "List recorded audit chain breaks",
		Tags:        []string{"Audit"},
		Middlewares: requireRoles(api, auditRoles),
	}, func(ctx context.Context, input *ListIntegrityAlertsInput) (*IntegrityAlertsOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		list, err := alerts.ListByTenant(ctx, tenantID, input.Limit, input.Offset)
		if err != nil {
			return nil, apiError(err, "integrity alerts")
		}

		out := make([]IntegrityAlert, 0, len(list))
		for _, a := range list {
			out = append(out, IntegrityAlert{
				ID:                    a.ID,
				EventID:               a.EventID,
				BreakPoint:            a.BreakPoint,
				ExpectedHash:          a.ExpectedHash,
				ActualHash:            a.ActualHash,
				Severity:              a.Severity,
				Message:               a.Message,
				RequiresInvestigation: a.RequiresInvestigation,
				DetectedAt:            a.DetectedAt,
			})
		}
		return &IntegrityAlertsOutput{Body: out}, nil
	})
}
