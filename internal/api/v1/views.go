package v1

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gosuda/costtrail/internal/breakdown"
	"github.com/gosuda/costtrail/internal/domain"
)

// Breakdown is the wire form of a breakdown node.
type Breakdown struct {
	ID               uuid.UUID            `json:"id"`
	ProjectID        uuid.UUID            `json:"project_id"`
	ParentID         *uuid.UUID           `json:"parent_id,omitempty"`
	Name             string               `json:"name"`
	Code             string               `json:"code,omitempty"`
	Type             domain.BreakdownType `json:"breakdown_type"`
	Level            int                  `json:"hierarchy_level"`
	HierarchyPath    []string             `json:"hierarchy_path"`
	SAPPONumber      string               `json:"sap_po_number,omitempty"`
	SAPLineItem      string               `json:"sap_line_item,omitempty"`
	OriginalParentID *uuid.UUID           `json:"original_parent_id,omitempty"`
	HasCustomParent  bool                 `json:"has_custom_parent"`
	PlannedAmount    decimal.Decimal      `json:"planned_amount"`
	CommittedAmount  decimal.Decimal      `json:"committed_amount"`
	ActualAmount     decimal.Decimal      `json:"actual_amount"`
	RemainingAmount  decimal.Decimal      `json:"remaining_amount"`
	Currency         string               `json:"currency"`
	ExchangeRate     decimal.Decimal      `json:"exchange_rate"`
	Category         string               `json:"category,omitempty"`
	Subcategory      string               `json:"subcategory,omitempty"`
	CustomFields     map[string]any       `json:"custom_fields,omitempty"`
	Tags             []string             `json:"tags"`
	Notes            string               `json:"notes,omitempty"`
	DisplayOrder     int                  `json:"display_order"`
	ImportBatchID    *uuid.UUID           `json:"import_batch_id,omitempty"`
	Version          int                  `json:"version"`
	IsActive         bool                 `json:"is_active"`
	CreatedBy        uuid.UUID            `json:"created_by"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

func breakdownView(b *domain.POBreakdown) *Breakdown {
	if b == nil {
		return nil
	}
	tags := b.Tags
	if tags == nil {
		tags = []string{}
	}
	path := b.HierarchyPath
	if path == nil {
		path = []string{}
	}
	return &Breakdown{
		ID:               b.ID,
		ProjectID:        b.ProjectID,
		ParentID:         b.ParentID,
		Name:             b.Name,
		Code:             b.Code,
		Type:             b.Type,
		Level:            b.Level,
		HierarchyPath:    path,
		SAPPONumber:      b.SAPPONumber,
		SAPLineItem:      b.SAPLineItem,
		OriginalParentID: b.OriginalParentID,
		HasCustomParent:  b.HasCustomParent,
		PlannedAmount:    b.PlannedAmount,
		CommittedAmount:  b.CommittedAmount,
		ActualAmount:     b.ActualAmount,
		RemainingAmount:  b.RemainingAmount,
		Currency:         b.Currency,
		ExchangeRate:     b.ExchangeRate,
		Category:         b.Category,
		Subcategory:      b.Subcategory,
		CustomFields:     b.CustomFields,
		Tags:             tags,
		Notes:            b.Notes,
		DisplayOrder:     b.DisplayOrder,
		ImportBatchID:    b.ImportBatchID,
		Version:          b.Version,
		IsActive:         b.IsActive,
		CreatedBy:        b.CreatedBy,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func breakdownViews(nodes []*domain.POBreakdown) []*Breakdown {
	out := make([]*Breakdown, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, breakdownView(n))
	}
	return out
}

// TreeNode is a breakdown with its rolled-up totals and active children.
type TreeNode struct {
	*Breakdown
	Rollup   breakdown.Rollup `json:"rollup"`
	Children []*TreeNode      `json:"children"`
}

// buildTree nests nodes under their parents. Roots, and nodes whose parent
// is not in the set, come back at the top level in input order.
func buildTree(nodes []*domain.POBreakdown, rollups map[uuid.UUID]breakdown.Rollup) []*TreeNode {
	byID := make(map[uuid.UUID]*TreeNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = &TreeNode{Breakdown: breakdownView(n), Rollup: rollups[n.ID], Children: []*TreeNode{}}
	}

	roots := make([]*TreeNode, 0)
	for _, n := range nodes {
		tn := byID[n.ID]
		if n.ParentID != nil {
			if parent, ok := byID[*n.ParentID]; ok {
				parent.Children = append(parent.Children, tn)
				continue
			}
		}
		roots = append(roots, tn)
	}
	return roots
}

// VersionRecord is the wire form of a version record.
type VersionRecord struct {
	ID            uuid.UUID                     `json:"id"`
	EntityID      uuid.UUID                     `json:"entity_id"`
	VersionNumber int                           `json:"version_number"`
	ChangeType    domain.ChangeType             `json:"change_type"`
	ChangeSummary string                        `json:"change_summary"`
	Changes       map[string]domain.FieldChange `json:"changes"`
	BeforeValues  map[string]any                `json:"before_values"`
	AfterValues   map[string]any                `json:"after_values"`
	ChangedBy     uuid.UUID                     `json:"changed_by"`
	ChangedAt     time.Time                     `json:"changed_at"`
	Reason        string                        `json:"reason,omitempty"`
	ImportBatchID *uuid.UUID                    `json:"import_batch_id,omitempty"`
}

func versionViews(recs []*domain.VersionRecord) []VersionRecord {
	out := make([]VersionRecord, 0, len(recs))
	for _, v := range recs {
		out = append(out, VersionRecord{
			ID:            v.ID,
			EntityID:      v.EntityID,
			VersionNumber: v.VersionNumber,
			ChangeType:    v.ChangeType,
			ChangeSummary: v.ChangeSummary,
			Changes:       v.Changes,
			BeforeValues:  v.BeforeValues,
			AfterValues:   v.AfterValues,
			ChangedBy:     v.ChangedBy,
			ChangedAt:     v.ChangedAt,
			Reason:        v.Reason,
			ImportBatchID: v.ImportBatchID,
		})
	}
	return out
}

// AuditEvent is the wire form of an audit event.
type AuditEvent struct {
	ID                  uuid.UUID             `json:"id"`
	Seq                 int64                 `json:"seq"`
	EntityType          string                `json:"entity_type"`
	EntityID            uuid.UUID             `json:"entity_id"`
	EventType           domain.AuditEventType `json:"event_type"`
	Description         string                `json:"description"`
	ActionDetails       map[string]any        `json:"action_details"`
	OldValues           map[string]any        `json:"old_values,omitempty"`
	NewValues           map[string]any        `json:"new_values,omitempty"`
	ActorID             uuid.UUID             `json:"user_id"`
	IPAddress           string                `json:"ip_address,omitempty"`
	UserAgent           string                `json:"user_agent,omitempty"`
	SessionID           string                `json:"session_id,omitempty"`
	RiskLevel           domain.RiskLevel      `json:"risk_level"`
	ComplianceNotes     string                `json:"compliance_notes,omitempty"`
	RegulatoryReference string                `json:"regulatory_reference,omitempty"`
	Hash                string                `json:"hash"`
	PreviousHash        string                `json:"previous_hash"`
	DataIntegrityHash   string                `json:"data_integrity_hash"`
	Timestamp           time.Time             `json:"timestamp"`
}

func auditView(e *domain.AuditEvent) AuditEvent {
	return AuditEvent{
		ID:                  e.ID,
		Seq:                 e.Seq,
		EntityType:          e.EntityType,
		EntityID:            e.EntityID,
		EventType:           e.EventType,
		Description:         e.Description,
		ActionDetails:       e.ActionDetails,
		OldValues:           e.OldValues,
		NewValues:           e.NewValues,
		ActorID:             e.ActorID,
		IPAddress:           e.IPAddress,
		UserAgent:           e.UserAgent,
		SessionID:           e.SessionID,
		RiskLevel:           e.RiskLevel,
		ComplianceNotes:     e.ComplianceNotes,
		RegulatoryReference: e.RegulatoryReference,
		Hash:                e.Hash,
		PreviousHash:        e.PreviousHash,
		DataIntegrityHash:   e.DataIntegrityHash,
		Timestamp:           e.Timestamp,
	}
}

func auditViews(events []*domain.AuditEvent) []AuditEvent {
	out := make([]AuditEvent, 0, len(events))
	for _, e := range events {
		out = append(out, auditView(e))
	}
	return out
}

// VarianceAlert is the wire form of a variance alert.
type VarianceAlert struct {
	ID                 uuid.UUID          `json:"id"`
	ProjectID          uuid.UUID          `json:"project_id"`
	BreakdownID        uuid.UUID          `json:"breakdown_id"`
	AlertType          domain.AlertType   `json:"alert_type"`
	Severity           domain.RiskLevel   `json:"severity"`
	ThresholdExceeded  decimal.Decimal    `json:"threshold_exceeded"`
	VarianceAmount     decimal.Decimal    `json:"variance_amount"`
	VariancePercentage decimal.Decimal    `json:"variance_percentage"`
	Message            string             `json:"message"`
	RecommendedActions []string           `json:"recommended_actions"`
	Status             domain.AlertStatus `json:"status"`
	AcknowledgedBy     *uuid.UUID         `json:"acknowledged_by,omitempty"`
	AcknowledgedAt     *time.Time         `json:"acknowledged_at,omitempty"`
	ResolvedBy         *uuid.UUID         `json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time         `json:"resolved_at,omitempty"`
	ResolutionNotes    string             `json:"resolution_notes,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

func alertView(a *domain.VarianceAlert) *VarianceAlert {
	actions := a.RecommendedActions
	if actions == nil {
		actions = []string{}
	}
	return &VarianceAlert{
		ID:                 a.ID,
		ProjectID:          a.ProjectID,
		BreakdownID:        a.BreakdownID,
		AlertType:          a.AlertType,
		Severity:           a.Severity,
		ThresholdExceeded:  a.ThresholdExceeded,
		VarianceAmount:     a.VarianceAmount,
		VariancePercentage: a.VariancePercentage,
		Message:            a.Message,
		RecommendedActions: actions,
		Status:             a.Status,
		AcknowledgedBy:     a.AcknowledgedBy,
		AcknowledgedAt:     a.AcknowledgedAt,
		ResolvedBy:         a.ResolvedBy,
		ResolvedAt:         a.ResolvedAt,
		ResolutionNotes:    a.ResolutionNotes,
		CreatedAt:          a.CreatedAt,
	}
}

func alertViews(alerts []*domain.VarianceAlert) []*VarianceAlert {
	out := make([]*VarianceAlert, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, alertView(a))
	}
	return out
}

// ImportIssue is one per-row problem of an import batch.
type ImportIssue struct {
	RowNumber int                    `json:"row_number"`
	Kind      domain.ImportIssueKind `json:"kind"`
	Field     string                 `json:"field,omitempty"`
	Value     string                 `json:"value,omitempty"`
	Message   string                 `json:"message"`
}

// ImportBatch is the wire form of an import batch.
type ImportBatch struct {
	ID                 uuid.UUID           `json:"id"`
	ProjectID          uuid.UUID           `json:"project_id"`
	FileName           string              `json:"file_name"`
	Status             domain.ImportStatus `json:"status"`
	TotalRows          int                 `json:"total_rows"`
	ProcessedRows      int                 `json:"processed_rows"`
	SuccessfulRows     int                 `json:"successful_rows"`
	FailedRows         int                 `json:"failed_rows"`
	SkippedRows        int                 `json:"skipped_rows"`
	MaxHierarchyDepth  int                 `json:"max_hierarchy_depth"`
	HierarchiesCreated int                 `json:"hierarchies_created"`
	CanRollback        bool                `json:"can_rollback"`
	CreatedNodeIDs     []uuid.UUID         `json:"created_node_ids"`
	Errors             []ImportIssue       `json:"errors"`
	Warnings           []ImportIssue       `json:"warnings"`
	Conflicts          []ImportIssue       `json:"conflicts"`
	CreatedBy          uuid.UUID           `json:"created_by"`
	CreatedAt          time.Time           `json:"created_at"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
}

func issueViews(issues []domain.ImportIssue) []ImportIssue {
	out := make([]ImportIssue, 0, len(issues))
	for _, is := range issues {
		out = append(out, ImportIssue{RowNumber: is.RowNumber, Kind: is.Kind, Field: is.Field, Value: is.Value, Message: is.Message})
	}
	return out
}

func batchView(b *domain.ImportBatch) *ImportBatch {
	created := b.CreatedNodeIDs
	if created == nil {
		created = []uuid.UUID{}
	}
	return &ImportBatch{
		ID:                 b.ID,
		ProjectID:          b.ProjectID,
		FileName:           b.FileName,
		Status:             b.Status,
		TotalRows:          b.TotalRows,
		ProcessedRows:      b.ProcessedRows,
		SuccessfulRows:     b.SuccessfulRows,
		FailedRows:         b.FailedRows,
		SkippedRows:        b.SkippedRows,
		MaxHierarchyDepth:  b.MaxHierarchyDepth,
		HierarchiesCreated: b.HierarchiesCreated,
		CanRollback:        b.CanRollback,
		CreatedNodeIDs:     created,
		Errors:             issueViews(b.IssuesOf(domain.IssueError)),
		Warnings:           issueViews(b.IssuesOf(domain.IssueWarning)),
		Conflicts:          issueViews(b.IssuesOf(domain.IssueConflict)),
		CreatedBy:          b.CreatedBy,
		CreatedAt:          b.CreatedAt,
		CompletedAt:        b.CompletedAt,
	}
}

// IntegrityAlert is the wire form of a recorded chain break.
type IntegrityAlert struct {
	ID                    uuid.UUID        `json:"id"`
	EventID               uuid.UUID        `json:"event_id"`
	BreakPoint            int              `json:"break_point"`
	ExpectedHash          string           `json:"expected_hash"`
	ActualHash            string           `json:"actual_hash"`
	Severity              domain.RiskLevel `json:"severity"`
	Message               string           `json:"message"`
	RequiresInvestigation bool             `json:"requires_investigation"`
	DetectedAt            time.Time        `json:"detected_at"`
}

// ComplianceResult is one framework's monitoring outcome.
type ComplianceResult struct {
	ID                  uuid.UUID `json:"id"`
	FrameworkID         uuid.UUID `json:"framework_id"`
	PeriodStart         time.Time `json:"period_start"`
	PeriodEnd           time.Time `json:"period_end"`
	EventsChecked       int       `json:"events_checked"`
	ImplementedControls []string  `json:"implemented_controls"`
	MissingControls     []string  `json:"missing_controls"`
	RequiredControls    []string  `json:"required_controls"`
	Score               float64   `json:"score"`
	CheckedAt           time.Time `json:"checked_at"`
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ComplianceViolation is the wire form of a detected control violation.
type ComplianceViolation struct {
	ID          uuid.UUID        `json:"id"`
	FrameworkID uuid.UUID        `json:"framework_id"`
	ControlCode string           `json:"control_code"`
	EventID     uuid.UUID        `json:"event_id"`
	Severity    domain.RiskLevel `json:"severity"`
	Description string           `json:"description"`
	Resolved    bool             `json:"resolved"`
	DetectedAt  time.Time        `json:"detected_at"`
}
