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

type ImportBatchRepo struct {
	pool *pgxpool.Pool
}

func NewImportBatchRepo(pool *pgxpool.Pool) *ImportBatchRepo {
	return &ImportBatchRepo{pool: pool}
}

func (r *ImportBatchRepo) Create(ctx context.Context, b *domain.ImportBatch) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("importBatchRepo.Create: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO po_import_batches (id, tenant_id, project_id, file_name, status, total_rows, processed_rows,
		        successful_rows, failed_rows, skipped_rows, max_hierarchy_depth, hierarchies_created,
		        can_rollback, created_node_ids, created_by, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		b.ID, b.TenantID, b.ProjectID, b.FileName, b.Status, b.TotalRows, b.ProcessedRows,
		b.SuccessfulRows, b.FailedRows, b.SkippedRows, b.MaxHierarchyDepth, b.HierarchiesCreated,
		b.CanRollback, nonNil(b.CreatedNodeIDs), b.CreatedBy, b.CreatedAt, b.CompletedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("importBatchRepo.Create: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("importBatchRepo.Create: %w", err)
	}

	if err := insertIssues(ctx, tx, b.Issues); err != nil {
		return fmt.Errorf("importBatchRepo.Create: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("importBatchRepo.Create: commit: %w", err)
	}

	return nil
}

func (r *ImportBatchRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.ImportBatch, error) {
	var b domain.ImportBatch

	err := r.pool.QueryRow(ctx,
		`SELECT id, tenant_id, project_id, file_name, status, total_rows, processed_rows,
		        successful_rows, failed_rows, skipped_rows, max_hierarchy_depth, hierarchies_created,
		        can_rollback, created_node_ids, created_by, created_at, completed_at
		 FROM po_import_batches WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	).Scan(
		&b.ID, &b.TenantID, &b.ProjectID, &b.FileName, &b.Status, &b.TotalRows, &b.ProcessedRows,
		&b.SuccessfulRows, &b.FailedRows, &b.SkippedRows, &b.MaxHierarchyDepth, &b.HierarchiesCreated,
		&b.CanRollback, &b.CreatedNodeIDs, &b.CreatedBy, &b.CreatedAt, &b.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("importBatchRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("importBatchRepo.GetByID: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, batch_id, row_number, kind, field, value, message, created_at
		 FROM po_import_issues WHERE batch_id = $1
		 ORDER BY created_at, row_number`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("importBatchRepo.GetByID: issues: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var is domain.ImportIssue
		if err := rows.Scan(&is.ID, &is.BatchID, &is.RowNumber, &is.Kind, &is.Field, &is.Value, &is.Message, &is.CreatedAt); err != nil {
			return nil, fmt.Errorf("importBatchRepo.GetByID: scan issue: %w", err)
		}
		b.Issues = append(b.Issues, is)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("importBatchRepo.GetByID: issues: %w", err)
	}

	return &b, nil
}

func (r *ImportBatchRepo) Update(ctx context.Context, b *domain.ImportBatch) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("importBatchRepo.Update: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE po_import_batches SET status = $1, total_rows = $2, processed_rows = $3,
		        successful_rows = $4, failed_rows = $5, skipped_rows = $6, max_hierarchy_depth = $7,
		        hierarchies_created = $8, can_rollback = $9, created_node_ids = $10, completed_at = $11
		 WHERE tenant_id = $12 AND id = $13`,
		b.Status, b.TotalRows, b.ProcessedRows,
		b.SuccessfulRows, b.FailedRows, b.SkippedRows, b.MaxHierarchyDepth,
		b.HierarchiesCreated, b.CanRollback, nonNil(b.CreatedNodeIDs), b.CompletedAt,
		b.TenantID, b.ID,
	)
	if err != nil {
		return fmt.Errorf("importBatchRepo.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("importBatchRepo.Update: %w", domain.ErrNotFound)
	}

	if err := insertIssues(ctx, tx, b.Issues); err != nil {
		return fmt.Errorf("importBatchRepo.Update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("importBatchRepo.Update: commit: %w", err)
	}

	return nil
}

// insertIssues stores issues not persisted yet. Issue IDs are stable, so
// re-sending the full list only appends the new ones.
func insertIssues(ctx context.Context, tx pgx.Tx, issues []domain.ImportIssue) error {
	if len(issues) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, is := range issues {
		batch.Queue(
			`INSERT INTO po_import_issues (id, batch_id, row_number, kind, field, value, message, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO NOTHING`,
			is.ID, is.BatchID, is.RowNumber, is.Kind, is.Field, is.Value, is.Message, is.CreatedAt,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert issues: %w", err)
	}

	return nil
}
