package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type VarianceStatus string

const (
	VarianceOnTrack     VarianceStatus = "on_track"
	VarianceMinor       VarianceStatus = "minor_variance"
	VarianceSignificant VarianceStatus = "significant_variance"
	VarianceCritical    VarianceStatus = "critical_variance"
)

type AlertType string

const (
	AlertBudgetOverrun  AlertType = "budget_overrun"
	AlertBudgetUnderrun AlertType = "budget_underrun"
)

type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

var ErrInvalidAlertTransition = errors.New("variance alert: invalid state transition")

// VarianceAlert flags a breakdown node whose variance crossed a threshold.
// Lifecycle: active -> acknowledged -> resolved, or active -> resolved.
type VarianceAlert struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	ProjectID          uuid.UUID
	BreakdownID        uuid.UUID
	AlertType          AlertType
	Severity           RiskLevel
	ThresholdExceeded  decimal.Decimal
	VarianceAmount     decimal.Decimal
	VariancePercentage decimal.Decimal
	Message            string
	RecommendedActions []string
	Status             AlertStatus
	AcknowledgedBy     *uuid.UUID
	AcknowledgedAt     *time.Time
	ResolvedBy         *uuid.UUID
	ResolvedAt         *time.Time
	ResolutionNotes    string
	CreatedAt          time.Time
}

// Acknowledge moves an active alert to acknowledged.
func (a *VarianceAlert) Acknowledge(actorID uuid.UUID, at time.Time) error {
	if a.Status != AlertActive {
		return ErrInvalidAlertTransition
	}
	a.Status = AlertAcknowledged
	a.AcknowledgedBy = &actorID
	a.AcknowledgedAt = &at
	return nil
}

// Resolve closes an active or acknowledged alert.
func (a *VarianceAlert) Resolve(actorID uuid.UUID, at time.Time, notes string) error {
	if a.Status != AlertActive && a.Status != AlertAcknowledged {
		return ErrInvalidAlertTransition
	}
	a.Status = AlertResolved
	a.ResolvedBy = &actorID
	a.ResolvedAt = &at
	a.ResolutionNotes = notes
	return nil
}

// IsOpen reports whether the alert still needs attention.
func (a *VarianceAlert) IsOpen() bool {
	return a.Status == AlertActive || a.Status == AlertAcknowledged
}

type VarianceAlertRepository interface {
	Create(ctx context.Context, a *VarianceAlert) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*VarianceAlert, error)
	Update(ctx context.Context, a *VarianceAlert) error
	// ListByProject filters by status when status is non-empty.
	ListByProject(ctx context.Context, tenantID, projectID uuid.UUID, status AlertStatus) ([]*VarianceAlert, error)
}
