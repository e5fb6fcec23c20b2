package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/costtrail/internal/domain"
)

type ComplianceRepo struct {
	pool *pgxpool.Pool
}

func NewComplianceRepo(pool *pgxpool.Pool) *ComplianceRepo {
	return &ComplianceRepo{pool: pool}
}

// CreateFramework inserts a framework. A framework with the same code for the
// tenant is left untouched.
func (r *ComplianceRepo) CreateFramework(ctx context.Context, f *domain.ComplianceFramework) error {
	controls, err := json.Marshal(nonNil(f.Controls))
	if err != nil {
		return fmt.Errorf("complianceRepo.CreateFramework: marshal controls: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO compliance_frameworks (id, tenant_id, code, name, description, controls, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (tenant_id, code) DO NOTHING`,
		f.ID, f.TenantID, f.Code, f.Name, f.Description, controls, f.IsActive, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("complianceRepo.CreateFramework: %w", err)
	}

	return nil
}

func (r *ComplianceRepo) ListActiveFrameworks(ctx context.Context, tenantID uuid.UUID) ([]*domain.ComplianceFramework, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, code, name, description, controls, is_active, created_at
		 FROM compliance_frameworks WHERE tenant_id = $1 AND is_active
		 ORDER BY created_at, code`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("complianceRepo.ListActiveFrameworks: %w", err)
	}
	defer rows.Close()

	var out []*domain.ComplianceFramework
	for rows.Next() {
		var f domain.ComplianceFramework
		var controls []byte
		if err := rows.Scan(&f.ID, &f.TenantID, &f.Code, &f.Name, &f.Description, &controls, &f.IsActive, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("complianceRepo.ListActiveFrameworks: scan: %w", err)
		}
		if err := json.Unmarshal(controls, &f.Controls); err != nil {
			return nil, fmt.Errorf("complianceRepo.ListActiveFrameworks: controls: %w", err)
		}
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("complianceRepo.ListActiveFrameworks: rows: %w", err)
	}

	return out, nil
}

func (r *ComplianceRepo) RecordMonitoring(ctx context.Context, m *domain.ComplianceMonitoring) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO compliance_monitoring (id, tenant_id, framework_id, period_start, period_end, events_checked,
		        implemented_controls, missing_controls, required_controls, score, checked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.TenantID, m.FrameworkID, m.PeriodStart, m.PeriodEnd, m.EventsChecked,
		nonNil(m.ImplementedControls), nonNil(m.MissingControls), nonNil(m.RequiredControls), m.Score, m.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("complianceRepo.RecordMonitoring: %w", err)
	}

	return nil
}

func (r *ComplianceRepo) CreateViolation(ctx context.Context, v *domain.ComplianceViolation) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO compliance_violations (id, tenant_id, framework_id, control_code, event_id, severity,
		        description, resolved, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		v.ID, v.TenantID, v.FrameworkID, v.ControlCode, v.EventID, v.Severity,
		v.Description, v.Resolved, v.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("complianceRepo.CreateViolation: %w", err)
	}

	return nil
}

func (r *ComplianceRepo) ListViolations(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.ComplianceViolation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, framework_id, control_code, event_id, severity, description, resolved, detected_at
		 FROM compliance_violations WHERE tenant_id = $1
		 ORDER BY detected_at DESC
		 LIMIT $2 OFFSET $3`,
		tenantID, pageLimit(limit), offset,
	)
	if err != nil {
		return nil, fmt.Errorf("complianceRepo.ListViolations: %w", err)
	}
	defer rows.Close()

	var out []*domain.ComplianceViolation
	for rows.Next() {
		var v domain.ComplianceViolation
		if err := rows.Scan(&v.ID, &v.TenantID, &v.FrameworkID, &v.ControlCode, &v.EventID, &v.Severity,
			&v.Description, &v.Resolved, &v.DetectedAt); err != nil {
			return nil, fmt.Errorf("complianceRepo.ListViolations: scan: %w", err)
		}
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("complianceRepo.ListViolations: rows: %w", err)
	}

	return out, nil
}
