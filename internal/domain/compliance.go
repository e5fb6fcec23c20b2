package domain

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
)

type ControlRule string

const (
	// RuleComplianceNotes requires compliance notes on events at or above MinRisk.
	RuleComplianceNotes ControlRule = "requires_compliance_notes"
	// RuleRegulatoryReference requires a regulatory reference on the listed event types.
	RuleRegulatoryReference ControlRule = "requires_regulatory_reference"
	// RuleHumanActor forbids the system actor on the listed event types.
	RuleHumanActor ControlRule = "requires_human_actor"
)

type ComplianceControl struct {
	Code       string           `json:"code"`
	Name       string           `json:"name"`
	Rule       ControlRule      `json:"rule"`
	EventTypes []AuditEventType `json:"event_types,omitempty"`
	MinRisk    RiskLevel        `json:"min_risk,omitempty"`
}

// Violates reports whether e breaks the control, with a human-readable reason.
func (c ComplianceControl) Violates(e *AuditEvent) (bool, string) {
	applies := len(c.EventTypes) == 0 || slices.Contains(c.EventTypes, e.EventType)
	if !applies {
		return false, ""
	}

	switch c.Rule {
	case RuleComplianceNotes:
		if e.RiskLevel.Rank() >= c.MinRisk.Rank() && e.ComplianceNotes == "" {
			return true, "event at risk level " + string(e.RiskLevel) + " has no compliance notes"
		}
	case RuleRegulatoryReference:
		if e.RegulatoryReference == "" {
			return true, "event " + string(e.EventType) + " has no regulatory reference"
		}
	case RuleHumanActor:
		if e.ActorID == SystemActorID || e.ActorID == uuid.Nil {
			return true, "event " + string(e.EventType) + " was performed by the system actor"
		}
	}
	return false, ""
}

type ComplianceFramework struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Code        string
	Name        string
	Description string
	Controls    []ComplianceControl
	IsActive    bool
	CreatedAt   time.Time
}

// ComplianceMonitoring is the outcome of checking one framework over a period.
type ComplianceMonitoring struct {
	ID                  uuid.UUID
	TenantID            uuid.UUID
	FrameworkID         uuid.UUID
	PeriodStart         time.Time
	PeriodEnd           time.Time
	EventsChecked       int
	ImplementedControls []string
	MissingControls     []string
	RequiredControls    []string
	Score               float64
	CheckedAt           time.Time
}

type ComplianceViolation struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	FrameworkID uuid.UUID
	ControlCode string
	EventID     uuid.UUID
	Severity    RiskLevel
	Description string
	Resolved    bool
	DetectedAt  time.Time
}

type ComplianceRepository interface {
	CreateFramework(ctx context.Context, f *ComplianceFramework) error
	ListActiveFrameworks(ctx context.Context, tenantID uuid.UUID) ([]*ComplianceFramework, error)
	RecordMonitoring(ctx context.Context, m *ComplianceMonitoring) error
	CreateViolation(ctx context.Context, v *ComplianceViolation) error
	ListViolations(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*ComplianceViolation, error)
}
