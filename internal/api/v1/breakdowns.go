package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gosuda/costtrail/internal/breakdown"
	"github.com/gosuda/costtrail/internal/domain"
	"github.com/gosuda/costtrail/internal/server/middleware"
)

type CreateBreakdownInput struct {
	ProjectID uuid.UUID `path:"projectID" doc:"Project ID"`
	Body      struct {
		ParentID        *uuid.UUID           `json:"parent_id,omitempty" doc:"Parent node; omit for a root"`
		Name            string               `json:"name" minLength:"1" maxLength:"255" doc:"Node name"`
		Code            string               `json:"code,omitempty" maxLength:"100" doc:"Business code, unique among active nodes"`
		Type            domain.BreakdownType `json:"breakdown_type,omitempty" enum:"sap_standard,custom_hierarchy,cost_center,work_package"`
		SAPPONumber     string               `json:"sap_po_number,omitempty"`
		SAPLineItem     string               `json:"sap_line_item,omitempty"`
		PlannedAmount   decimal.Decimal      `json:"planned_amount,omitempty" doc:"Decimal string"`
		CommittedAmount decimal.Decimal      `json:"committed_amount,omitempty" doc:"Decimal string"`
		ActualAmount    decimal.Decimal      `json:"actual_amount,omitempty" doc:"Decimal string"`
		Currency        string               `json:"currency,omitempty" maxLength:"3"`
		ExchangeRate    decimal.Decimal      `json:"exchange_rate,omitempty" doc:"Decimal string, defaults to 1"`
		Category        string               `json:"category,omitempty"`
		Subcategory     string               `json:"subcategory,omitempty"`
		CustomFields    map[string]any       `json:"custom_fields,omitempty"`
		Tags            []string             `json:"tags,omitempty"`
		Notes           string               `json:"notes,omitempty"`
		DisplayOrder    int                  `json:"display_order,omitempty"`
	}
}

type BreakdownOutput struct {
	Body *Breakdown
}

type ListBreakdownsInput struct {
	ProjectID       uuid.UUID `path:"projectID" doc:"Project ID"`
	IncludeInactive bool      `query:"include_inactive" doc:"Include soft-deleted nodes"`
}

type ListBreakdownsOutput struct {
	Body []*Breakdown
}

type ProjectInput struct {
	ProjectID uuid.UUID `path:"projectID" doc:"Project ID"`
}

type TreeOutput struct {
	Body []*TreeNode
}

type RollupsOutput struct {
	Body map[string]breakdown.Rollup
}

type ValidateHierarchyOutput struct {
	Body breakdown.HierarchyReport
}

type BreakdownIDInput struct {
	ID uuid.UUID `path:"id" doc:"Breakdown ID"`
}

type UpdateBreakdownInput struct {
	ID   uuid.UUID `path:"id" doc:"Breakdown ID"`
	Body struct {
		Name            *string          `json:"name,omitempty" maxLength:"255"`
		Code            *string          `json:"code,omitempty" maxLength:"100"`
		SAPPONumber     *string          `json:"sap_po_number,omitempty"`
		SAPLineItem     *string          `json:"sap_line_item,omitempty"`
		PlannedAmount   *decimal.Decimal `json:"planned_amount,omitempty"`
		CommittedAmount *decimal.Decimal `json:"committed_amount,omitempty"`
		ActualAmount    *decimal.Decimal `json:"actual_amount,omitempty"`
		Currency        *string          `json:"currency,omitempty" maxLength:"3"`
		ExchangeRate    *decimal.Decimal `json:"exchange_rate,omitempty"`
		Category        *string          `json:"category,omitempty"`
		Subcategory     *string          `json:"subcategory,omitempty"`
		CustomFields    map[string]any   `json:"custom_fields,omitempty" doc:"Replaces all custom fields"`
		Tags            []string         `json:"tags,omitempty" doc:"Replaces all tags"`
		Notes           *string          `json:"notes,omitempty"`
		DisplayOrder    *int             `json:"display_order,omitempty"`
		Reason          string           `json:"reason,omitempty" doc:"Recorded on the version record"`
	}
}

type DeleteBreakdownInput struct {
	ID     uuid.UUID `path:"id" doc:"Breakdown ID"`
	Hard   bool      `query:"hard" doc:"Remove permanently (admin only)"`
	Reason string    `query:"reason" doc:"Recorded on the version record"`
}

type MoveBreakdownInput struct {
	ID   uuid.UUID `path:"id" doc:"Breakdown ID"`
	Body struct {
		NewParentID  *uuid.UUID `json:"new_parent_id,omitempty" doc:"Target parent; omit to make the node a root"`
		ValidateOnly bool       `json:"validate_only,omitempty" doc:"Plan the move without applying it"`
	}
}

type MoveBreakdownOutput struct {
	Body struct {
		Node                *Breakdown `json:"node"`
		OldParentID         *uuid.UUID `json:"old_parent_id"`
		NewParentID         *uuid.UUID `json:"new_parent_id"`
		OldLevel            int        `json:"old_level"`
		NewLevel            int        `json:"new_level"`
		AffectedDescendants int        `json:"affected_descendants"`
		ValidateOnly        bool       `json:"validate_only"`
	}
}

type RestoreBreakdownInput struct {
	ID   uuid.UUID `path:"id" doc:"Breakdown ID"`
	Body struct {
		Reason string `json:"reason,omitempty"`
	}
}

type RestoreVersionInput struct {
	ID      uuid.UUID `path:"id" doc:"Breakdown ID"`
	Version int       `path:"version" minimum:"1" doc:"Version number to restore"`
	Body    struct {
		Reason string `json:"reason,omitempty"`
	}
}

type VersionsOutput struct {
	Body []VersionRecord
}

type ChangeLogOutput struct {
	Body []breakdown.ChangeLogEntry
}

func RegisterBreakdownRoutes(api huma.API, svc BreakdownService) {
	huma.Register(api, huma.Operation{
		OperationID: "create-breakdown",
		Method:      http.MethodPost,
		Path:        "/projects/{projectID}/breakdowns",
		Summary:     "Create a breakdown node",
		Tags:        []string{"Breakdowns"},
		Middlewares: requireRoles(api, editorRoles),
	}, func(ctx context.Context, input *CreateBreakdownInput) (*BreakdownOutput, error) {
		tenantID, actor, err := callerFrom(ctx)
		if err != nil {
			return nil, err
		}

		b := input.Body
		node, err := svc.Create(ctx, breakdown.CreateInput{
			TenantID:        tenantID,
			ProjectID:       input.ProjectID,
			ParentID:        b.ParentID,
			Name:            b.Name,
			Code:            b.Code,
			Type:            b.Type,
			SAPPONumber:     b.SAPPONumber,
			SAPLineItem:     b.SAPLineItem,
			PlannedAmount:   b.PlannedAmount,
			CommittedAmount: b.CommittedAmount,
			ActualAmount:    b.ActualAmount,
			Currency:        b.Currency,
			ExchangeRate:    b.ExchangeRate,
			Category:        b.Category,
			Subcategory:     b.Subcategory,
			CustomFields:    b.CustomFields,
			Tags:            b.Tags,
			Notes:           b.Notes,
			DisplayOrder:    b.DisplayOrder,
			Actor:           actor,
		})
		if err != nil {
			return nil, apiError(err, "breakdown")
		}

		return &BreakdownOutput{Body: breakdownView(node)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-breakdowns",
		Method:      http.MethodGet,
		Path:        "/projects/{projectID}/breakdowns",
		Summary:     "List the breakdown nodes of a project",
		Tags:        []string{"Breakdowns"},
		Middlewares: requireRoles(api, anyRole),
	}, func(ctx context.Context, input *ListBreakdownsInput) (*ListBreakdownsOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		nodes, err := svc.List(ctx, tenantID, input.ProjectID, input.IncludeInactive)
		if err != nil {
			return nil, apiError(err, "breakdowns")
		}

		return &ListBreakdownsOutput{Body: breakdownViews(nodes)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-breakdown-tree",
		Method:      http.MethodGet,
		Path:        "/projects/{projectID}/breakdowns/tree",
		Summary:     "Get the active breakdown tree with rolled-up totals",
		Tags:        []string{"Breakdowns"},
		Middlewares: requireRoles(api, anyRole),
	}, func(ctx context.Context, input *ProjectInput) (*TreeOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		nodes, err := svc.List(ctx, tenantID, input.ProjectID, false)
		if err != nil {
			return nil, apiError(err, "breakdowns")
		}
		rollups, err := svc.Rollups(ctx, tenantID, input.ProjectID)
		if err != nil {
			return nil, apiError(err, "rollups")
		}

		return &TreeOutput{Body: buildTree(nodes, rollups)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-rollups",
		Method:      http.MethodGet,
		Path:        "/projects/{projectID}/rollups",
		Summary:     "Get rolled-up totals keyed by node ID",
		Tags:        []string{"Breakdowns"},
		Middlewares: requireRoles(api, anyRole),
	}, func(ctx context.Context, input *ProjectInput) (*RollupsOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		rollups, err := svc.Rollups(ctx, tenantID, input.ProjectID)
		if err != nil {
			return nil, apiError(err, "rollups")
		}

		out := make(map[string]breakdown.Rollup, len(rollups))
		for id, r := range rollups {
			out[id.String()] = r
		}
		return &RollupsOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-hierarchy",
		Method:      http.MethodGet,
		Path:        "/projects/{projectID}/hierarchy/validate",
		Summary:     "Check parent links and levels of the active tree",
		Tags:        []string{"Breakdowns"},
		Middlewares: requireRoles(api, anyRole),
	}, func(ctx context.Context, input *ProjectInput) (*ValidateHierarchyOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		report, err := svc.Validate(ctx, tenantID, input.ProjectID)
		if err != nil {
			return nil, apiError(err, "hierarchy")
		}

		return &ValidateHierarchyOutput{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-breakdown",
		Method:      http.MethodGet,
		Path:        "/breakdowns/{id}",
		Summary:     "Get a breakdown node by ID",
		Tags:        []string{"Breakdowns"},
		Middlewares: requireRoles(api, anyRole),
	}, func(ctx context.Context, input *BreakdownIDInput) (*BreakdownOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		node, err := svc.Get(ctx, tenantID, input.ID)
		if err != nil {
			return nil, apiError(err, "breakdown")
		}

		return &BreakdownOutput{Body: breakdownView(node)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-breakdown",
		Method:      http.MethodPatch,
		Path:        "/breakdowns/{id}",
		Summary:     "Update fields of a breakdown node",
		Tags:        []string{"Breakdowns"},
		Middlewares: requireRoles(api, editorRoles),
	}, func(ctx context.Context, input *UpdateBreakdownInput) (*BreakdownOutput, error) {
		tenantID, actor, err := callerFrom(ctx)
		if err != nil {
			return nil, err
		}

		b := input.Body
		patch := domain.BreakdownPatch{
			Name:            b.Name,
			Code:            b.Code,
			SAPPONumber:     b.SAPPONumber,
			SAPLineItem:     b.SAPLineItem,
			PlannedAmount:   b.PlannedAmount,
			CommittedAmount: b.CommittedAmount,
			ActualAmount:    b.ActualAmount,
			Currency:        b.Currency,
			ExchangeRate:    b.ExchangeRate,
			Category:        b.Category,
			Subcategory:     b.Subcategory,
			CustomFields:    b.CustomFields,
			Tags:            b.Tags,
			Notes:           b.Notes,
			DisplayOrder:    b.DisplayOrder,
		}

		node, err := svc.Update(ctx, tenantID, input.ID, patch, actor, b.Reason)
		if err != nil {
			return nil, apiError(err, "breakdown")
		}

		return &BreakdownOutput{Body: breakdownView(node)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-breakdown",
		Method:      http.MethodDelete,
		Path:        "/breakdowns/{id}",
		Summary:     "Soft-delete a leaf node, or remove it permanently with hard=true",
		Tags:        []string{"Breakdowns"},
		Middlewares: requireRoles(api, editorRoles),
	}, func(ctx context.Context, input *DeleteBreakdownInput) (*struct{}, error) {
		tenantID, actor, err := callerFrom(ctx)
		if err != nil {
			return nil, err
		}
		if input.Hard && !middleware.HasRole(ctx, middleware.RoleAdmin) {
			return nil, huma.Error403Forbidden("hard delete requires admin role")
		}

		if err := svc.Delete(ctx, tenantID, input.ID, input.Hard, actor, input.Reason); err != nil {
			return nil, apiError(err, "breakdown")
		}

		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-breakdown",
		Method:      http.MethodPost,
		Path:        "/breakdowns/{id}/move",
		Summary:     "Move a node under a new parent",
		Tags:        []string{"Breakdowns"},
		Middlewares: requireRoles(api, editorRoles),
	}, func(ctx context.Context, input *MoveBreakdownInput) (*MoveBreakdownOutput, error) {
		tenantID, actor, err := callerFrom(ctx)
		if err != nil {
			return nil, err
		}

		res, err := svc.Move(ctx, tenantID, input.ID, input.Body.NewParentID, actor, input.Body.ValidateOnly)
		if err != nil {
			return nil, apiError(err, "breakdown")
		}

		out := &MoveBreakdownOutput{}
		out.Body.Node = breakdownView(res.Node)
		out.Body.OldParentID = res.OldParentID
		out.Body.NewParentID = res.NewParentID
		out.Body.OldLevel = res.OldLevel
		out.Body.NewLevel = res.NewLevel
		out.Body.AffectedDescendants = res.AffectedDescendants
		out.Body.ValidateOnly = res.ValidateOnly
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-breakdown",
		Method:      http.MethodPost,
		Path:        "/breakdowns/{id}/restore",
		Summary:     "Restore a soft-deleted node",
		Tags:        []string{"Breakdowns"},
		Middlewares: requireRoles(api, editorRoles),
	}, func(ctx context.Context, input *RestoreBreakdownInput) (*BreakdownOutput, error) {
		tenantID, actor, err := callerFrom(ctx)
		if err != nil {
			return nil, err
		}

		node, err := svc.RestoreSoftDeleted(ctx, tenantID, input.ID, actor, input.Body.Reason)
		if err != nil {
			return nil, apiError(err, "breakdown")
		}

		return &BreakdownOutput{Body: breakdownView(node)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-breakdown-version",
		Method:      http.MethodPost,
		Path:        "/breakdowns/{id}/versions/{version}/restore",
		Summary:     "Restore a node to the state recorded in a version",
		Tags:        []string{"Breakdowns"},
		Middlewares: requireRoles(api, editorRoles),
	}, func(ctx context.Context, input *RestoreVersionInput) (*BreakdownOutput, error) {
		tenantID, actor, err := callerFrom(ctx)
		if err != nil {
			return nil, err
		}

		node, err := svc.RestoreToVersion(ctx, tenantID, input.ID, input.Version, actor, input.Body.Reason)
		if err != nil {
			return nil, apiError(err, "version")
		}

		return &BreakdownOutput{Body: breakdownView(node)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-breakdown-versions",
		Method:      http.MethodGet,
		Path:        "/breakdowns/{id}/versions",
		Summary:     "List the version records of a node",
		Tags:        []string{"Breakdowns"},
		Middlewares: requireRoles(api, anyRole),
	}, func(ctx context.Context, input *BreakdownIDInput) (*VersionsOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		recs, err := svc.Versions(ctx, tenantID, input.ID)
		if err != nil {
			return nil, apiError(err, "versions")
		}

		return &VersionsOutput{Body: versionViews(recs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-breakdown-changelog",
		Method:      http.MethodGet,
		Path:        "/breakdowns/{id}/changelog",
		Summary:     "Get a readable change log of a node",
		Tags:        []string{"Breakdowns"},
		Middlewares: requireRoles(api, anyRole),
	}, func(ctx context.Context, input *BreakdownIDInput) (*ChangeLogOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		entries, err := svc.ChangeLog(ctx, tenantID, input.ID)
		if err != nil {
			return nil, apiError(err, "changelog")
		}

		return &ChangeLogOutput{Body: entries}, nil
	})
}
