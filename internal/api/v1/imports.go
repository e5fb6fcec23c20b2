package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/breakdown"
)

type ImportInput struct {
	ProjectID uuid.UUID `path:"projectID" doc:"Project ID"`
	Body      struct {
		FileName             string                `json:"file_name" minLength:"1" maxLength:"255" doc:"Source file name, kept on the batch"`
		Rows                 []breakdown.ImportRow `json:"rows" minItems:"1" maxItems:"10000"`
		CreateMissingParents bool                  `json:"create_missing_parents,omitempty" doc:"Create a placeholder root for unknown parent codes"`
		SkipDuplicates       bool                  `json:"skip_duplicates,omitempty" doc:"Skip rows whose code already exists instead of failing them"`
	}
}

type ImportBatchOutput struct {
	Body *ImportBatch
}

type ImportIDInput struct {
	ID uuid.UUID `path:"id" doc:"Import batch ID"`
}

func RegisterImportRoutes(api huma.API, svc ImportService) {
	huma.Register(api, huma.Operation{
		OperationID: "import-breakdowns",
		Method:      http.MethodPost,
		Path:        "/projects/{projectID}/imports",
		Summary:     "Import breakdown rows into a project",
		Tags:        []string{"Imports"},
		Middlewares: requireRoles(api, editorRoles),
	}, func(ctx context.Context, input *ImportInput) (*ImportBatchOutput, error) {
		tenantID, actor, err := callerFrom(ctx)
		if err != nil {
			return nil, err
		}

		batch, err := svc.Import(ctx, breakdown.ImportRequest{
			TenantID:  tenantID,
			ProjectID: input.ProjectID,
			FileName:  input.Body.FileName,
			Rows:      input.Body.Rows,
			Options: breakdown.ImportOptions{
				CreateMissingParents: input.Body.CreateMissingParents,
				SkipDuplicates:       input.Body.SkipDuplicates,
			},
			Actor: actor,
		})
		if err != nil {
			return nil, apiError(err, "import")
		}

		return &ImportBatchOutput{Body: batchView(batch)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-import",
		Method:      http.MethodGet,
		Path:        "/imports/{id}",
		Summary:     "Get an import batch with its row issues",
		Tags:        []string{"Imports"},
		Middlewares: requireRoles(api, anyRole),
	}, func(ctx context.Context, input *ImportIDInput) (*ImportBatchOutput, error) {
		tenantID, err := tenantFrom(ctx)
		if err != nil {
			return nil, err
		}

		batch, err := svc.Get(ctx, tenantID, input.ID)
		if err != nil {
			return nil, apiError(err, "import batch")
		}

		return &ImportBatchOutput{Body: batchView(batch)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rollback-import",
		Method:      http.MethodPost,
		Path:        "/imports/{id}/rollback",
		Summary:     "Remove every node an import created",
		Tags:        []string{"Imports"},
		Middlewares: requireRoles(api, adminRoles),
	}, func(ctx context.Context, input *ImportIDInput) (*ImportBatchOutput, error) {
		tenantID, actor, err := callerFrom(ctx)
		if err != nil {
			return nil, err
		}

		batch, err := svc.Rollback(ctx, tenantID, input.ID, actor)
		if err != nil {
			return nil, apiError(err, "import batch")
		}

		return &ImportBatchOutput{Body: batchView(batch)}, nil
	})
}
