package audit

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/audit/chain"
	"github.com/gosuda/costtrail/internal/domain"
)

// EntityChangeRequest is the entity type of change-request workflow events.
const EntityChangeRequest = "change_request"

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ChangeRequest is the submitted content of a change request.
type ChangeRequest struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	ProjectID   uuid.UUID
	Title       string
	Description string
	Impact      map[string]any // e.g. proposed budget deltas
	Reference   string         // regulatory or contract reference
}

// ChangeRequestLog keeps the business trail of change requests in its own
// hash chain, separate from the breakdown audit log.
type ChangeRequestLog struct {
	log *Logger
}

// NewChangeRequestLog wraps a Logger that writes to the change audit table.
func NewChangeRequestLog(l *Logger) *ChangeRequestLog {
	return &ChangeRequestLog{log: l}
}

// Wait blocks until background work on change request events has finished.
func (c *ChangeRequestLog) Wait() {
	c.log.Wait()
}

// Submit records a new change request.
func (c *ChangeRequestLog) Submit(ctx context.Context, cr ChangeRequest, actor domain.Actor) (*domain.AuditEvent, error) {
	if cr.ID == uuid.Nil {
		return nil, domain.NewValidationError("id", "is required", nil)
	}
	if cr.Title == "" {
		return nil, domain.NewValidationError("title", "is required", nil)
	}

	trail, err := c.Trail(ctx, cr.TenantID, cr.ID)
	if err != nil {
		return nil, fmt.Errorf("audit.ChangeRequestLog.Submit: %w", err)
	}
	if len(trail) > 0 {
		return nil, fmt.Errorf("audit.ChangeRequestLog.Submit: change request %s: %w", cr.ID, domain.ErrConflict)
	}

	e, err := c.log.LogEvent(ctx, Event{
		TenantID:    cr.TenantID,
		EntityType:  EntityChangeRequest,
		EntityID:    cr.ID,
		EventType:   domain.AuditEventSubmission,
		Description: "Change request submitted: " + cr.Title,
		Details: map[string]any{
			"project_id": cr.ProjectID.String(),
			"title":      cr.Title,
		},
		NewValues: map[string]any{
			"title":       cr.Title,
			"description": cr.Description,
			"impact":      cr.Impact,
		},
		Actor:               actor,
		RiskLevel:           domain.RiskMedium,
		RegulatoryReference: cr.Reference,
	})
	if err != nil {
		return nil, fmt.Errorf("audit.ChangeRequestLog.Submit: %w", err)
	}
	return e, nil
}

// Decide records an approval decision. The request must have been submitted
// and not decided yet.
func (c *ChangeRequestLog) Decide(ctx context.Context, tenantID, id uuid.UUID, decision Decision, notes string, actor domain.Actor) (*domain.AuditEvent, error) {
	if decision != DecisionApproved && decision != DecisionRejected {
		return nil, domain.NewValidationError("decision", "must be approved or rejected", nil)
	}

	trail, err := c.Trail(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("audit.ChangeRequestLog.Decide: %w", err)
	}
	if !hasEvent(trail, domain.AuditEventSubmission) {
		return nil, fmt.Errorf("audit.ChangeRequestLog.Decide: change request %s: %w", id, domain.ErrNotFound)
	}
	if hasEvent(trail, domain.AuditEventApprovalDecision) {
		return nil, fmt.Errorf("audit.ChangeRequestLog.Decide: change request %s already decided: %w", id, domain.ErrConflict)
	}

	e, err := c.log.LogEvent(ctx, Event{
		TenantID:        tenantID,
		EntityType:      EntityChangeRequest,
		EntityID:        id,
		EventType:       domain.AuditEventApprovalDecision,
		Description:     "Change request " + string(decision),
		Details:         map[string]any{"decision": string(decision)},
		NewValues:       map[string]any{"decision": string(decision), "notes": notes},
		Actor:           actor,
		RiskLevel:       domain.RiskHigh,
		ComplianceNotes: notes,
	})
	if err != nil {
		return nil, fmt.Errorf("audit.ChangeRequestLog.Decide: %w", err)
	}
	return e, nil
}

// Escalate records that a pending request was raised to a higher authority.
func (c *ChangeRequestLog) Escalate(ctx context.Context, tenantID, id uuid.UUID, reason string, actor domain.Actor) (*domain.AuditEvent, error) {
	trail, err := c.Trail(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("audit.ChangeRequestLog.Escalate: %w", err)
	}
	if !hasEvent(trail, domain.AuditEventSubmission) {
		return nil, fmt.Errorf("audit.ChangeRequestLog.Escalate: change request %s: %w", id, domain.ErrNotFound)
	}

	e, err := c.log.LogEvent(ctx, Event{
		TenantID:    tenantID,
		EntityType:  EntityChangeRequest,
		EntityID:    id,
		EventType:   domain.AuditEventEscalation,
		Description: "Change request escalated",
		Details:     map[string]any{"reason": reason},
		Actor:       actor,
		RiskLevel:   domain.RiskHigh,
	})
	if err != nil {
		return nil, fmt.Errorf("audit.ChangeRequestLog.Escalate: %w", err)
	}
	return e, nil
}

// Trail returns the events of one change request, oldest first.
func (c *ChangeRequestLog) Trail(ctx context.Context, tenantID, id uuid.UUID) ([]*domain.AuditEvent, error) {
	return c.log.GetTrail(ctx, tenantID, id, nil, nil)
}

// Verify recomputes the change-request chain of a tenant.
func (c *ChangeRequestLog) Verify(ctx context.Context, tenantID uuid.UUID) (chain.Result, error) {
	return c.log.VerifyTenantChain(ctx, tenantID)
}

func hasEvent(trail []*domain.AuditEvent, t domain.AuditEventType) bool {
	return slices.ContainsFunc(trail, func(e *domain.AuditEvent) bool { return e.EventType == t })
}
