// Package report assembles compliance reports from version records and
// exports them as JSON or CSV.
package report

import (
	"cmp"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/costtrail/internal/audit"
	"github.com/gosuda/costtrail/internal/audit/chain"
	"github.com/gosuda/costtrail/internal/domain"
	"github.com/gosuda/costtrail/internal/variance"
)

// VarianceSource provides the variance section of a report.
type VarianceSource interface {
	ProjectVariance(ctx context.Context, tenantID, projectID uuid.UUID, topN int) (*variance.ProjectVariance, error)
}

// AuditLogger records chained audit events.
type AuditLogger interface {
	LogEvent(ctx context.Context, in audit.Event) (*domain.AuditEvent, error)
}

// ChangeRow is one version record in report form.
type ChangeRow struct {
	EntityID      uuid.UUID         `json:"entity_id"`
	VersionNumber int               `json:"version_number"`
	ChangeType    domain.ChangeType `json:"change_type"`
	Summary       string            `json:"summary"`
	Reason        string            `json:"reason,omitempty"`
	ChangedBy     uuid.UUID         `json:"changed_by"`
	ChangedAt     time.Time         `json:"changed_at"`
	Fields        []string          `json:"fields"`
}

// DeletionEntry is one deletion in the deletion audit trail.
type DeletionEntry struct {
	EntityID  uuid.UUID `json:"entity_id"`
	Name      string    `json:"name"`
	Code      string    `json:"code,omitempty"`
	Permanent bool      `json:"permanent"`
	DeletedBy uuid.UUID `json:"deleted_by"`
	DeletedAt time.Time `json:"deleted_at"`
	Reason    string    `json:"reason,omitempty"`
}

// ComplianceReport summarizes the changes made to a project over a period.
type ComplianceReport struct {
	ID             uuid.UUID                 `json:"id"`
	TenantID       uuid.UUID                 `json:"tenant_id"`
	ProjectID      uuid.UUID                 `json:"project_id"`
	PeriodStart    time.Time                 `json:"period_start"`
	PeriodEnd      time.Time                 `json:"period_end"`
	GeneratedAt    time.Time                 `json:"generated_at"`
	GeneratedBy    uuid.UUID                 `json:"generated_by"`
	TotalChanges   int                       `json:"total_changes"`
	ChangesByType  map[string]int            `json:"changes_by_type"`
	ChangesByActor map[string]int            `json:"changes_by_actor"`
	Deletions      []DeletionEntry           `json:"deletions"`
	Changes        []ChangeRow               `json:"changes"`
	Variance       *variance.ProjectVariance `json:"variance,omitempty"`
	Signature      *Signature                `json:"signature,omitempty"`
}

// Request selects the content of a report.
type Request struct {
	TenantID            uuid.UUID
	ProjectID           uuid.UUID
	From                time.Time
	To                  time.Time
	IncludeVariance     bool
	Sign                bool
	RegulatoryReference string
	Actor               domain.Actor
}

// Generator builds compliance reports.
type Generator struct {
	versions domain.VersionRepository
	variance VarianceSource
	audit    AuditLogger
	signer   *Signer
	now      func() time.Time
}

// NewGenerator creates a Generator. variance, auditLog and signer may be nil;
// the matching report sections and the export audit entry are then skipped.
func NewGenerator(versions domain.VersionRepository, vs VarianceSource, auditLog AuditLogger, signer *Signer) *Generator {
	return &Generator{versions: versions, variance: vs, audit: auditLog, signer: signer, now: time.Now}
}

// ComplianceReport assembles the report for req.
func (g *Generator) ComplianceReport(ctx context.Context, req Request) (*ComplianceReport, error) {
	if req.To.Before(req.From) {
		return nil, domain.NewValidationError("to", "period end is before period start", nil)
	}
	if req.Sign && g.signer == nil {
		return nil, domain.NewValidationError("sign", "report signing is not configured", nil)
	}

	recs, err := g.versions.ListByProject(ctx, req.TenantID, req.ProjectID, req.From, req.To)
	if err != nil {
		return nil, fmt.Errorf("report.Generator.ComplianceReport: %w", err)
	}

	r := &ComplianceReport{
		ID:             uuid.New(),
		TenantID:       req.TenantID,
		ProjectID:      req.ProjectID,
		PeriodStart:    req.From.UTC(),
		PeriodEnd:      req.To.UTC(),
		GeneratedAt:    g.now().UTC(),
		GeneratedBy:    req.Actor.ID,
		TotalChanges:   len(recs),
		ChangesByType:  make(map[string]int),
		ChangesByActor: make(map[string]int),
		Deletions:      []DeletionEntry{},
		Changes:        make([]ChangeRow, 0, len(recs)),
	}

	for _, v := range recs {
		r.ChangesByType[string(v.ChangeType)]++
		r.ChangesByActor[v.ChangedBy.String()]++
		r.Changes = append(r.Changes, changeRow(v))
		if v.ChangeType == domain.ChangeDelete {
			r.Deletions = append(r.Deletions, deletionEntry(v))
		}
	}
	slices.SortStableFunc(r.Changes, func(a, b ChangeRow) int {
		return cmp.Or(a.ChangedAt.Compare(b.ChangedAt), cmp.Compare(a.EntityID.String(), b.EntityID.String()))
	})

	if req.IncludeVariance && g.variance != nil {
		pv, err := g.variance.ProjectVariance(ctx, req.TenantID, req.ProjectID, 0)
		if err != nil {
			return nil, fmt.Errorf("report.Generator.ComplianceReport: variance: %w", err)
		}
		r.Variance = pv
	}

	if req.Sign {
		if err := g.signer.Sign(r); err != nil {
			return nil, fmt.Errorf("report.Generator.ComplianceReport: %w", err)
		}
	}

	g.logExport(ctx, req, r)
	return r, nil
}

func (g *Generator) logExport(ctx context.Context, req Request, r *ComplianceReport) {
	if g.audit == nil {
		return
	}
	_, err := g.audit.LogEvent(ctx, audit.Event{
		TenantID:    req.TenantID,
		EntityType:  "compliance_report",
		EntityID:    r.ID,
		EventType:   domain.AuditEventDataExport,
		Description: fmt.Sprintf("Compliance report generated for %s to %s", req.From.Format(time.DateOnly), req.To.Format(time.DateOnly)),
		Details: map[string]any{
			"project_id":    req.ProjectID.String(),
			"total_changes": r.TotalChanges,
			"signed":        r.Signature != nil,
		},
		Actor:               req.Actor,
		RiskLevel:           domain.RiskMedium,
		RegulatoryReference: req.RegulatoryReference,
	})
	if err != nil {
		log.Warn().Err(err).Str("report_id", r.ID.String()).Msg("report.Generator: failed to audit export")
	}
}

func changeRow(v *domain.VersionRecord) ChangeRow {
	fields := make([]string, 0, len(v.Changes))
	for f := range v.Changes {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	return ChangeRow{
		EntityID:      v.EntityID,
		VersionNumber: v.VersionNumber,
		ChangeType:    v.ChangeType,
		Summary:       v.ChangeSummary,
		Reason:        v.Reason,
		ChangedBy:     v.ChangedBy,
		ChangedAt:     v.ChangedAt.UTC(),
		Fields:        fields,
	}
}

func deletionEntry(v *domain.VersionRecord) DeletionEntry {
	d := DeletionEntry{
		EntityID:  v.EntityID,
		Permanent: v.VersionNumber == domain.DeleteVersionNumber,
		DeletedBy: v.ChangedBy,
		DeletedAt: v.ChangedAt.UTC(),
		Reason:    v.Reason,
	}
	if snap, err := domain.ParseSnapshot(v.BeforeValues); err == nil {
		d.Name = snap.Name
		d.Code = snap.Code
	}
	return d
}

// CanonicalBytes serializes r without its signature as compact JSON with
// sorted keys. It is the input of report signatures.
func CanonicalBytes(r *ComplianceReport) ([]byte, error) {
	unsigned := *r
	unsigned.Signature = nil
	return chain.Canonicalize(&unsigned)
}

var csvHeader = []string{ //nolint:gochecknoglobals // fixed export layout
	"changed_at", "entity_id", "version_number", "change_type", "changed_by", "summary", "reason", "fields",
}

// WriteCSV writes the change rows of r as CSV with a header line.
func WriteCSV(w io.Writer, r *ComplianceReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("report.WriteCSV: %w", err)
	}
	for _, c := range r.Changes {
		if err := cw.Write([]string{
			c.ChangedAt.Format(time.RFC3339Nano),
			c.EntityID.String(),
			strconv.Itoa(c.VersionNumber),
			string(c.ChangeType),
			c.ChangedBy.String(),
			c.Summary,
			c.Reason,
			strings.Join(c.Fields, ";"),
		}); err != nil {
			return fmt.Errorf("report.WriteCSV: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report.WriteCSV: %w", err)
	}
	return nil
}
