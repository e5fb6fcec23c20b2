package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultTenantScope names the hash chain of events without a tenant.
const DefaultTenantScope = "default"

type AuditEventType string

const (
	AuditEventCreation         AuditEventType = "creation"
	AuditEventUpdate           AuditEventType = "update"
	AuditEventDeletion         AuditEventType = "deletion"
	AuditEventRestoration      AuditEventType = "restoration"
	AuditEventMove             AuditEventType = "move"
	AuditEventSubmission       AuditEventType = "submission"
	AuditEventApprovalDecision AuditEventType = "approval_decision"
	AuditEventEscalation       AuditEventType = "escalation"
	AuditEventComplianceCheck  AuditEventType = "compliance_check"
	AuditEventDeviation        AuditEventType = "deviation"
	AuditEventDataExport       AuditEventType = "data_export"
	AuditEventImport           AuditEventType = "import"
	AuditEventIntegrityCheck   AuditEventType = "integrity_check"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels; unknown levels rank below low.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// AuditEvent is an immutable, hash-chained audit record.
type AuditEvent struct {
	ID       uuid.UUID
	Seq      int64 // assigned by the store; breaks timestamp ties in chain order
	TenantID uuid.UUID

	EntityType    string
	EntityID      uuid.UUID
	EventType     AuditEventType
	Description   string
	ActionDetails map[string]any
	OldValues     map[string]any
	NewValues     map[string]any

	ActorID   uuid.UUID
	IPAddress string
	UserAgent string
	SessionID string

	RiskLevel           RiskLevel
	ComplianceNotes     string
	RegulatoryReference string

	Hash              string
	PreviousHash      string
	DataIntegrityHash string
	Encrypted         bool

	Timestamp   time.Time
	PerformedAt time.Time
	CreatedAt   time.Time
}

// TenantScope returns the chain scope the event belongs to.
func (e *AuditEvent) TenantScope() string {
	return TenantScopeOf(e.TenantID)
}

// TenantScopeOf maps a tenant ID to its chain scope name.
func TenantScopeOf(tenantID uuid.UUID) string {
	if tenantID == uuid.Nil {
		return DefaultTenantScope
	}
	return tenantID.String()
}

// Clone returns a deep copy of the event.
func (e *AuditEvent) Clone() *AuditEvent {
	c := *e
	c.ActionDetails = CloneMap(e.ActionDetails)
	c.OldValues = CloneMap(e.OldValues)
	c.NewValues = CloneMap(e.NewValues)
	return &c
}

// AuditFilter selects audit events. Zero-valued fields do not filter.
type AuditFilter struct {
	TenantID            uuid.UUID
	EventTypes          []AuditEventType
	ActorID             *uuid.UUID
	EntityType          string
	EntityID            *uuid.UUID
	From                *time.Time
	To                  *time.Time
	RiskLevels          []RiskLevel
	RegulatoryReference string // case-insensitive substring
	Limit               int    // <= 0 returns every match
	Offset              int
}

type AuditRepository interface {
	// Append stores the event and assigns its Seq.
	Append(ctx context.Context, e *AuditEvent) error
	// LatestHash returns the hash of the newest event in the tenant chain,
	// ordered by (timestamp, seq). ok is false for an empty chain.
	LatestHash(ctx context.Context, tenantID uuid.UUID) (hash string, ok bool, err error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*AuditEvent, error)
	// ListChain returns every event of the tenant ordered by (timestamp, seq).
	ListChain(ctx context.Context, tenantID uuid.UUID) ([]*AuditEvent, error)
	// Search returns one page of matches ordered by performed_at descending,
	// plus the total match count.
	Search(ctx context.Context, filter AuditFilter) ([]*AuditEvent, int, error)
}

// IntegrityAlert records a detected hash-chain break. It never modifies the
// events it refers to.
type IntegrityAlert struct {
	ID                    uuid.UUID
	TenantID              uuid.UUID
	EventID               uuid.UUID
	BreakPoint            int
	ExpectedHash          string
	ActualHash            string
	Severity              RiskLevel
	Message               string
	RequiresInvestigation bool
	DetectedAt            time.Time
}

type IntegrityAlertRepository interface {
	Create(ctx context.Context, a *IntegrityAlert) error
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*IntegrityAlert, error)
}
