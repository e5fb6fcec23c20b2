package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/costtrail/internal/domain"
)

const versionColumns = `id, tenant_id, project_id, entity_type, entity_id, version_number, change_type,
	change_summary, changes, before_values, after_values, changed_by, changed_at, reason,
	import_batch_id, ip_address, user_agent`

type VersionRepo struct {
	pool *pgxpool.Pool
}

func NewVersionRepo(pool *pgxpool.Pool) *VersionRepo {
	return &VersionRepo{pool: pool}
}

func (r *VersionRepo) Create(ctx context.Context, v *domain.VersionRecord) error {
	changes, err := json.Marshal(v.Changes)
	if err != nil {
		return fmt.Errorf("versionRepo.Create: marshal changes: %w", err)
	}
	if v.Changes == nil {
		changes = []byte("{}")
	}
	before, err := marshalJSON(v.BeforeValues)
	if err != nil {
		return fmt.Errorf("versionRepo.Create: marshal before: %w", err)
	}
	after, err := marshalJSON(v.AfterValues)
	if err != nil {
		return fmt.Errorf("versionRepo.Create: marshal after: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO po_breakdown_versions (`+versionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		v.ID, v.TenantID, v.ProjectID, v.EntityType, v.EntityID, v.VersionNumber, v.ChangeType,
		v.ChangeSummary, changes, before, after, v.ChangedBy, v.ChangedAt, v.Reason,
		v.ImportBatchID, v.IPAddress, v.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("versionRepo.Create: %w", err)
	}

	return nil
}

func (r *VersionRepo) ListByEntity(ctx context.Context, tenantID, entityID uuid.UUID) ([]*domain.VersionRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+versionColumns+` FROM po_breakdown_versions
		 WHERE tenant_id = $1 AND entity_id = $2
		 ORDER BY changed_at, version_number`,
		tenantID, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("versionRepo.ListByEntity: %w", err)
	}
	defer rows.Close()

	return scanVersions(rows, "versionRepo.ListByEntity")
}

func (r *VersionRepo) GetByNumber(ctx context.Context, tenantID, entityID uuid.UUID, version int) (*domain.VersionRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM po_breakdown_versions
		 WHERE tenant_id = $1 AND entity_id = $2 AND version_number = $3
		 ORDER BY changed_at DESC LIMIT 1`,
		tenantID, entityID, version,
	)

	v, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("versionRepo.GetByNumber: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("versionRepo.GetByNumber: %w", err)
	}

	return v, nil
}

func (r *VersionRepo) ListByProject(ctx context.Context, tenantID, projectID uuid.UUID, from, to time.Time) ([]*domain.VersionRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+versionColumns+` FROM po_breakdown_versions
		 WHERE tenant_id = $1 AND project_id = $2 AND changed_at BETWEEN $3 AND $4
		 ORDER BY changed_at, version_number`,
		tenantID, projectID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("versionRepo.ListByProject: %w", err)
	}
	defer rows.Close()

	return scanVersions(rows, "versionRepo.ListByProject")
}

func scanVersion(row pgx.Row) (*domain.VersionRecord, error) {
	var v domain.VersionRecord
	var changes, before, after []byte

	err := row.Scan(
		&v.ID, &v.TenantID, &v.ProjectID, &v.EntityType, &v.EntityID, &v.VersionNumber, &v.ChangeType,
		&v.ChangeSummary, &changes, &before, &after, &v.ChangedBy, &v.ChangedAt, &v.Reason,
		&v.ImportBatchID, &v.IPAddress, &v.UserAgent,
	)
	if err != nil {
		return nil, err
	}

	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &v.Changes); err != nil {
			return nil, fmt.Errorf("changes: %w", err)
		}
	}
	if v.BeforeValues, err = unmarshalJSON(before); err != nil {
		return nil, fmt.Errorf("before_values: %w", err)
	}
	if v.AfterValues, err = unmarshalJSON(after); err != nil {
		return nil, fmt.Errorf("after_values: %w", err)
	}

	return &v, nil
}

func scanVersions(rows pgx.Rows, caller string) ([]*domain.VersionRecord, error) {
	var out []*domain.VersionRecord
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}

	return out, nil
}
