package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/costtrail/internal/domain"
)

const varianceAlertColumns = `id, tenant_id, project_id, breakdown_id, alert_type, severity,
	threshold_exceeded, variance_amount, variance_percentage, message, recommended_actions, status,
	acknowledged_by, acknowledged_at, resolved_by, resolved_at, resolution_notes, created_at`

type VarianceAlertRepo struct {
	pool *pgxpool.Pool
}

func NewVarianceAlertRepo(pool *pgxpool.Pool) *VarianceAlertRepo {
	return &VarianceAlertRepo{pool: pool}
}

func (r *VarianceAlertRepo) Create(ctx context.Context, a *domain.VarianceAlert) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO variance_alerts (`+varianceAlertColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		a.ID, a.TenantID, a.ProjectID, a.BreakdownID, a.AlertType, a.Severity,
		a.ThresholdExceeded, a.VarianceAmount, a.VariancePercentage, a.Message, nonNil(a.RecommendedActions), a.Status,
		a.AcknowledgedBy, a.AcknowledgedAt, a.ResolvedBy, a.ResolvedAt, a.ResolutionNotes, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("varianceAlertRepo.Create: %w", err)
	}

	return nil
}

func (r *VarianceAlertRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.VarianceAlert, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+varianceAlertColumns+` FROM variance_alerts WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)

	a, err := scanVarianceAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("varianceAlertRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("varianceAlertRepo.GetByID: %w", err)
	}

	return a, nil
}

func (r *VarianceAlertRepo) Update(ctx context.Context, a *domain.VarianceAlert) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE variance_alerts SET status = $1, acknowledged_by = $2, acknowledged_at = $3,
		        resolved_by = $4, resolved_at = $5, resolution_notes = $6
		 WHERE tenant_id = $7 AND id = $8`,
		a.Status, a.AcknowledgedBy, a.AcknowledgedAt,
		a.ResolvedBy, a.ResolvedAt, a.ResolutionNotes,
		a.TenantID, a.ID,
	)
	if err != nil {
		return fmt.Errorf("varianceAlertRepo.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("varianceAlertRepo.Update: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *VarianceAlertRepo) ListByProject(ctx context.Context, tenantID, projectID uuid.UUID, status domain.AlertStatus) ([]*domain.VarianceAlert, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+varianceAlertColumns+` FROM variance_alerts
		 WHERE tenant_id = $1 AND project_id = $2 AND ($3 = '' OR status = $3)
		 ORDER BY created_at DESC`,
		tenantID, projectID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("varianceAlertRepo.ListByProject: %w", err)
	}
	defer rows.Close()

	var out []*domain.VarianceAlert
	for rows.Next() {
		a, err := scanVarianceAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("varianceAlertRepo.ListByProject: scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("varianceAlertRepo.ListByProject: rows: %w", err)
	}

	return out, nil
}

func scanVarianceAlert(row pgx.Row) (*domain.VarianceAlert, error) {
	var a domain.VarianceAlert

	err := row.Scan(
		&a.ID, &a.TenantID, &a.ProjectID, &a.BreakdownID, &a.AlertType, &a.Severity,
		&a.ThresholdExceeded, &a.VarianceAmount, &a.VariancePercentage, &a.Message, &a.RecommendedActions, &a.Status,
		&a.AcknowledgedBy, &a.AcknowledgedAt, &a.ResolvedBy, &a.ResolvedAt, &a.ResolutionNotes, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &a, nil
}
