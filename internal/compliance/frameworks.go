package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/domain"
)

// DefaultFrameworks returns the frameworks provisioned for a new tenant.
func DefaultFrameworks(tenantID uuid.UUID, now time.Time) []*domain.ComplianceFramework {
	return []*domain.ComplianceFramework{
		{
			ID:          uuid.New(),
			TenantID:    tenantID,
			Code:        "SOX",
			Name:        "Sarbanes-Oxley financial controls",
			Description: "Change traceability for financial records",
			Controls: []domain.ComplianceControl{
				{
					Code:    "SOX-404-1",
					Name:    "High-risk changes carry compliance notes",
					Rule:    domain.RuleComplianceNotes,
					MinRisk: domain.RiskHigh,
				},
				{
					Code:       "SOX-404-2",
					Name:       "Deletions and approvals are made by people",
					Rule:       domain.RuleHumanActor,
					EventTypes: []domain.AuditEventType{domain.AuditEventDeletion, domain.AuditEventApprovalDecision},
				},
			},
			IsActive:  true,
			CreatedAt: now,
		},
		{
			ID:          uuid.New(),
			TenantID:    tenantID,
			Code:        "GDPR",
			Name:        "General Data Protection Regulation",
			Description: "Lawful basis for data exports",
			Controls: []domain.ComplianceControl{
				{
					Code:       "GDPR-30",
					Name:       "Data exports cite a regulatory reference",
					Rule:       domain.RuleRegulatoryReference,
					EventTypes: []domain.AuditEventType{domain.AuditEventDataExport},
				},
			},
			IsActive:  true,
			CreatedAt: now,
		},
	}
}

// EnsureDefaults provisions DefaultFrameworks when the tenant has no active
// framework yet.
func (m *Monitor) EnsureDefaults(ctx context.Context, tenantID uuid.UUID) error {
	existing, err := m.repo.ListActiveFrameworks(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("compliance.Monitor.EnsureDefaults: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, f := range DefaultFrameworks(tenantID, m.now().UTC()) {
		if err := m.repo.CreateFramework(ctx, f); err != nil {
			return fmt.Errorf("compliance.Monitor.EnsureDefaults: %w", err)
		}
	}
	return nil
}
