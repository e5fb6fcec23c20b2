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

const breakdownColumns = `id, tenant_id, project_id, parent_id, name, code, breakdown_type, hierarchy_level,
	sap_po_number, sap_line_item, original_parent_id, hierarchy_path, has_custom_parent,
	planned_amount, committed_amount, actual_amount, remaining_amount, currency, exchange_rate,
	category, subcategory, custom_fields, tags, notes, display_order, import_batch_id,
	version, is_active, created_by, created_at, updated_at`

type BreakdownRepo struct {
	pool *pgxpool.Pool
}

func NewBreakdownRepo(pool *pgxpool.Pool) *BreakdownRepo {
	return &BreakdownRepo{pool: pool}
}

func (r *BreakdownRepo) Create(ctx context.Context, b *domain.POBreakdown) error {
	fields, err := customFieldsJSON(b.CustomFields)
	if err != nil {
		return fmt.Errorf("breakdownRepo.Create: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO po_breakdowns (`+breakdownColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		         $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)`,
		b.ID, b.TenantID, b.ProjectID, b.ParentID, b.Name, b.Code, b.Type, b.Level,
		b.SAPPONumber, b.SAPLineItem, b.OriginalParentID, nonNil(b.HierarchyPath), b.HasCustomParent,
		b.PlannedAmount, b.CommittedAmount, b.ActualAmount, b.RemainingAmount, b.Currency, b.ExchangeRate,
		b.Category, b.Subcategory, fields, nonNil(b.Tags), b.Notes, b.DisplayOrder, b.ImportBatchID,
		b.Version, b.IsActive, b.CreatedBy, b.CreatedAt, b.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("breakdownRepo.Create: code %q: %w", b.Code, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("breakdownRepo.Create: %w", err)
	}

	return nil
}

func (r *BreakdownRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.POBreakdown, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+breakdownColumns+` FROM po_breakdowns WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)

	b, err := scanBreakdown(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("breakdownRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("breakdownRepo.GetByID: %w", err)
	}

	return b, nil
}

func (r *BreakdownRepo) GetByCode(ctx context.Context, tenantID, projectID uuid.UUID, code string) (*domain.POBreakdown, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+breakdownColumns+` FROM po_breakdowns
		 WHERE tenant_id = $1 AND project_id = $2 AND code = $3 AND is_active`,
		tenantID, projectID, code,
	)

	b, err := scanBreakdown(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("breakdownRepo.GetByCode: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("breakdownRepo.GetByCode: %w", err)
	}

	return b, nil
}

func (r *BreakdownRepo) Update(ctx context.Context, b *domain.POBreakdown) error {
	fields, err := customFieldsJSON(b.CustomFields)
	if err != nil {
		return fmt.Errorf("breakdownRepo.Update: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE po_breakdowns SET parent_id = $1, name = $2, code = $3, breakdown_type = $4, hierarchy_level = $5,
		        sap_po_number = $6, sap_line_item = $7, original_parent_id = $8, hierarchy_path = $9,
		        has_custom_parent = $10, planned_amount = $11, committed_amount = $12, actual_amount = $13,
		        remaining_amount = $14, currency = $15, exchange_rate = $16, category = $17, subcategory = $18,
		        custom_fields = $19, tags = $20, notes = $21, display_order = $22, import_batch_id = $23,
		        version = $24, is_active = $25, updated_at = $26
		 WHERE tenant_id = $27 AND id = $28`,
		b.ParentID, b.Name, b.Code, b.Type, b.Level,
		b.SAPPONumber, b.SAPLineItem, b.OriginalParentID, nonNil(b.HierarchyPath),
		b.HasCustomParent, b.PlannedAmount, b.CommittedAmount, b.ActualAmount,
		b.RemainingAmount, b.Currency, b.ExchangeRate, b.Category, b.Subcategory,
		fields, nonNil(b.Tags), b.Notes, b.DisplayOrder, b.ImportBatchID,
		b.Version, b.IsActive, b.UpdatedAt,
		b.TenantID, b.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("breakdownRepo.Update: code %q: %w", b.Code, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("breakdownRepo.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("breakdownRepo.Update: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *BreakdownRepo) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM po_breakdowns WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("breakdownRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("breakdownRepo.Delete: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *BreakdownRepo) ListByProject(ctx context.Context, tenantID, projectID uuid.UUID, includeInactive bool) ([]*domain.POBreakdown, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+breakdownColumns+` FROM po_breakdowns
		 WHERE tenant_id = $1 AND project_id = $2 AND ($3 OR is_active)
		 ORDER BY hierarchy_level, display_order, created_at, id`,
		tenantID, projectID, includeInactive,
	)
	if err != nil {
		return nil, fmt.Errorf("breakdownRepo.ListByProject: %w", err)
	}
	defer rows.Close()

	var out []*domain.POBreakdown
	for rows.Next() {
		b, err := scanBreakdown(rows)
		if err != nil {
			return nil, fmt.Errorf("breakdownRepo.ListByProject: scan: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("breakdownRepo.ListByProject: rows: %w", err)
	}

	return out, nil
}

func scanBreakdown(row pgx.Row) (*domain.POBreakdown, error) {
	var b domain.POBreakdown
	var fields []byte

	err := row.Scan(
		&b.ID, &b.TenantID, &b.ProjectID, &b.ParentID, &b.Name, &b.Code, &b.Type, &b.Level,
		&b.SAPPONumber, &b.SAPLineItem, &b.OriginalParentID, &b.HierarchyPath, &b.HasCustomParent,
		&b.PlannedAmount, &b.CommittedAmount, &b.ActualAmount, &b.RemainingAmount, &b.Currency, &b.ExchangeRate,
		&b.Category, &b.Subcategory, &fields, &b.Tags, &b.Notes, &b.DisplayOrder, &b.ImportBatchID,
		&b.Version, &b.IsActive, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.CustomFields, err = unmarshalJSON(fields)
	if err != nil {
		return nil, fmt.Errorf("custom_fields: %w", err)
	}

	return &b, nil
}

func customFieldsJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	raw, err := marshalJSON(m)
	if err != nil {
		return nil, fmt.Errorf("marshal custom_fields: %w", err)
	}
	return raw, nil
}

// nonNil maps a nil slice to an empty one for NOT NULL array columns.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
