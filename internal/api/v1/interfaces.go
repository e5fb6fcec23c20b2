package v1

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/audit"
	"github.com/gosuda/costtrail/internal/audit/chain"
	"github.com/gosuda/costtrail/internal/breakdown"
	"github.com/gosuda/costtrail/internal/domain"
	"github.com/gosuda/costtrail/internal/report"
	"github.com/gosuda/costtrail/internal/variance"
)

// BreakdownService abstracts hierarchy operations for handler testing.
// *breakdown.Service satisfies this interface.
type BreakdownService interface {
	Create(ctx context.Context, in breakdown.CreateInput) (*domain.POBreakdown, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.POBreakdown, error)
	List(ctx context.Context, tenantID, projectID uuid.UUID, includeInactive bool) ([]*domain.POBreakdown, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, patch domain.BreakdownPatch, actor domain.Actor, reason string) (*domain.POBreakdown, error)
	Move(ctx context.Context, tenantID, id uuid.UUID, newParentID *uuid.UUID, actor domain.Actor, validateOnly bool) (*breakdown.MoveResult, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID, hard bool, actor domain.Actor, reason string) error
	RestoreSoftDeleted(ctx context.Context, tenantID, id uuid.UUID, actor domain.Actor, reason string) (*domain.POBreakdown, error)
	RestoreToVersion(ctx context.Context, tenantID, id uuid.UUID, version int, actor domain.Actor, reason string) (*domain.POBreakdown, error)
	Versions(ctx context.Context, tenantID, id uuid.UUID) ([]*domain.VersionRecord, error)
	ChangeLog(ctx context.Context, tenantID, id uuid.UUID) ([]breakdown.ChangeLogEntry, error)
	Rollups(ctx context.Context, tenantID, projectID uuid.UUID) (map[uuid.UUID]breakdown.Rollup, error)
	Validate(ctx context.Context, tenantID, projectID uuid.UUID) (breakdown.HierarchyReport, error)
}

// VarianceService abstracts variance analysis and alert handling.
// *variance.Engine satisfies this interface.
type VarianceService interface {
	ProjectVariance(ctx context.Context, tenantID, projectID uuid.UUID, topN int) (*variance.ProjectVariance, error)
	GenerateAlerts(ctx context.Context, tenantID, projectID uuid.UUID) ([]*domain.VarianceAlert, error)
	ListAlerts(ctx context.Context, tenantID, projectID uuid.UUID, status domain.AlertStatus) ([]*domain.VarianceAlert, error)
	Acknowledge(ctx context.Context, tenantID, alertID uuid.UUID, actor domain.Actor) (*domain.VarianceAlert, error)
	Resolve(ctx context.Context, tenantID, alertID uuid.UUID, actor domain.Actor, notes string) (*domain.VarianceAlert, error)
}

// AuditService abstracts audit trail queries and chain verification.
// *audit.Logger satisfies this interface.
type AuditService interface {
	GetTrail(ctx context.Context, tenantID, entityID uuid.UUID, from, to *time.Time) ([]*domain.AuditEvent, error)
	Search(ctx context.Context, filter domain.AuditFilter, page, pageSize int) (*audit.SearchResult, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.AuditEvent, error)
	VerifyChain(ctx context.Context, tenantID uuid.UUID) (chain.Result, error)
	VerifyTenantChain(ctx context.Context, tenantID uuid.UUID) (chain.Result, error)
}

// IntegrityAlertLister lists recorded chain breaks.
// domain.IntegrityAlertRepository satisfies this interface.
type IntegrityAlertLister interface {
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.IntegrityAlert, error)
}

// ImportService abstracts bulk imports. *breakdown.Importer satisfies this interface.
type ImportService interface {
	Import(ctx context.Context, req breakdown.ImportRequest) (*domain.ImportBatch, error)
	Get(ctx context.Context, tenantID, batchID uuid.UUID) (*domain.ImportBatch, error)
	Rollback(ctx context.Context, tenantID, batchID uuid.UUID, actor domain.Actor) (*domain.ImportBatch, error)
}

// ReportService builds compliance reports. *report.Generator satisfies this interface.
type ReportService interface {
	ComplianceReport(ctx context.Context, req report.Request) (*report.ComplianceReport, error)
}

// ReportVerifier checks report signatures. *report.Signer satisfies this
// interface; it is nil when signing is not configured.
type ReportVerifier interface {
	Verify(r *report.ComplianceReport) (bool, error)
}

// ComplianceService abstracts framework checks. *compliance.Monitor satisfies this interface.
type ComplianceService interface {
	EnsureDefaults(ctx context.Context, tenantID uuid.UUID) error
	RunChecks(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]*domain.ComplianceMonitoring, error)
	Violations(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.ComplianceViolation, error)
}

// ChangeRequestService records the change-request workflow.
// *audit.ChangeRequestLog satisfies this interface.
type ChangeRequestService interface {
	Submit(ctx context.Context, cr audit.ChangeRequest, actor domain.Actor) (*domain.AuditEvent, error)
	Decide(ctx context.Context, tenantID, id uuid.UUID, decision audit.Decision, notes string, actor domain.Actor) (*domain.AuditEvent, error)
	Escalate(ctx context.Context, tenantID, id uuid.UUID, reason string, actor domain.Actor) (*domain.AuditEvent, error)
	Trail(ctx context.Context, tenantID, id uuid.UUID) ([]*domain.AuditEvent, error)
	Verify(ctx context.Context, tenantID uuid.UUID) (chain.Result, error)
}
