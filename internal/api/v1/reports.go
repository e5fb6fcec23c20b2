package v1

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/domain"
	"github.com/gosuda/costtrail/internal/report"
)

type ComplianceReportInput struct {
	ProjectID uuid.UUID `path:"projectID" doc:"Project ID"`
	Body      struct {
		From                time.Time `json:"from" doc:"Period start"`
		To                  time.Time `json:"to" doc:"Period end"`
		IncludeVariance     bool      `json:"include_variance,omitempty"`
		Sign                bool      `json:"sign,omitempty" doc:"Attach an HMAC signature"`
		RegulatoryReference string    `json:"regulatory_reference,omitempty" doc:"Recorded on the export audit event"`
	}
}

type ComplianceReportOutput struct {
	Body *report.ComplianceReport
}

type ComplianceReportCSVOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

type VerifyReportInput struct {
	Body *report.ComplianceReport
}

type VerifyReportOutput struct {
	Body struct {
		Valid          bool   `json:"valid"`
		KeyFingerprint string `json:"key_fingerprint,omitempty"`
		Reason         string `json:"reason,omitempty"`
	}
}

func (in *ComplianceReportInput) request(tenantID uuid.UUID, actor domain.Actor) report.Request {
	return report.Request{
		TenantID:            tenantID,
		ProjectID:           in.ProjectID,
		From:                in.Body.From,
		To:                  in.Body.To,
		IncludeVariance:     in.Body.IncludeVariance,
		Sign:                in.Body.Sign,
		RegulatoryReference: in.Body.RegulatoryReference,
		Actor:               actor,
	}
}

// RegisterReportRoutes registers report generation. verifier may be nil when
// signing is not configured; verification then answers 501.
func RegisterReportRoutes(api huma.API, svc ReportService, verifier ReportVerifier) {
	generate := func(ctx context.Context, input *ComplianceReportInput) (*report.ComplianceReport, error) {
		tenantID, actor, err := callerFrom(ctx)
		if err != nil {
			return nil, err
		}
		r, err := svc.ComplianceReport(ctx, input.request(tenantID, actor))
		if err != nil {
			return nil, apiError(err, "compliance report")
		}
		return r, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "generate-compliance-report",
		Method:      http.MethodPost,
		Path:        "/projects/{projectID}/reports/compliance",
		Summary:     "Generate a compliance report for a period",
		Tags:        []string{"Reports"},
		Middlewares: requireRoles(api, auditRoles),
	}, func(ctx context.Context, input *ComplianceReportInput) (*ComplianceReportOutput, error) {
		r, err := generate(ctx, input)
		if err != nil {
			return nil, err
		}
		return &ComplianceReportOutput{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-compliance-report-csv",
		Method:      http.MethodPost,
		Path:        "/projects/{projectID}/reports/compliance.csv",
		Summary:     "Export a compliance report as CSV",
		Tags:        []string{"Reports"},
		Middlewares: requireRoles(api, auditRoles),
	}, func(ctx context.Context, input *ComplianceReportInput) (*ComplianceReportCSVOutput, error) {
		r, err := generate(ctx, input)
		if err != nil {
			return nil, err
		}

		var buf bytes.Buffer
		if err := report.WriteCSV(&buf, r); err != nil {
			return nil, apiError(err, "compliance report")
		}
		return &ComplianceReportCSVOutput{
			ContentType:        "text/csv",
			ContentDisposition: `attachment; filename="compliance-` + r.ID.String() + `.csv"`,
			Body:               buf.Bytes(),
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-compliance-report",
		Method:      http.MethodPost,
		Path:        "/reports/verify",
		Summary:     "Check the signature of a previously generated report",
		Tags:        []string{"Reports"},
		Middlewares: requireRoles(api, auditRoles),
	}, func(_ context.Context, input *VerifyReportInput) (*VerifyReportOutput, error) {
		if verifier == nil {
			return nil, huma.Error501NotImplemented("report signing is not configured")
		}

		out := &VerifyReportOutput{}
		if input.Body.Signature != nil {
			out.Body.KeyFingerprint = input.Body.Signature.KeyFingerprint
		}

		ok, err := verifier.Verify(input.Body)
		switch {
		case errors.Is(err, report.ErrUnsigned):
			return nil, huma.Error400BadRequest("report has no signature")
		case errors.Is(err, report.ErrUnknownSigningKey):
			out.Body.Reason = "signed with a different key"
			return out, nil
		case err != nil:
			return nil, apiError(err, "report signature")
		}

		out.Body.Valid = ok
		if !ok {
			out.Body.Reason = "signature does not match report content"
		}
		return out, nil
	})
}
