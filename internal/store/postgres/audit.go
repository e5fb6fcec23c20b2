package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/costtrail/internal/domain"
)

const auditColumns = `seq, id, tenant_id, entity_type, entity_id, event_type, description,
	action_details, old_values, new_values, actor_id, ip_address, user_agent, session_id,
	risk_level, compliance_notes, regulatory_reference, hash, previous_hash,
	data_integrity_hash, encrypted, "timestamp", performed_at, created_at`

// AuditRepo stores one hash-chained audit log. The same schema backs the
// system audit log and the change audit log, so the table is a parameter.
type AuditRepo struct {
	pool  *pgxpool.Pool
	table string
}

func NewAuditRepo(pool *pgxpool.Pool, table string) *AuditRepo {
	return &AuditRepo{pool: pool, table: table}
}

func (r *AuditRepo) Append(ctx context.Context, e *domain.AuditEvent) error {
	details, err := marshalJSON(e.ActionDetails)
	if err != nil {
		return fmt.Errorf("auditRepo.Append: marshal details: %w", err)
	}
	oldValues, err := marshalJSON(e.OldValues)
	if err != nil {
		return fmt.Errorf("auditRepo.Append: marshal old values: %w", err)
	}
	newValues, err := marshalJSON(e.NewValues)
	if err != nil {
		return fmt.Errorf("auditRepo.Append: marshal new values: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO `+r.table+` (id, tenant_id, entity_type, entity_id, event_type, description,
		        action_details, old_values, new_values, actor_id, ip_address, user_agent, session_id,
		        risk_level, compliance_notes, regulatory_reference, hash, previous_hash,
		        data_integrity_hash, encrypted, "timestamp", performed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		 RETURNING seq`,
		e.ID, e.TenantID, e.EntityType, e.EntityID, e.EventType, e.Description,
		details, oldValues, newValues, e.ActorID, e.IPAddress, e.UserAgent, e.SessionID,
		e.RiskLevel, e.ComplianceNotes, e.RegulatoryReference, e.Hash, e.PreviousHash,
		e.DataIntegrityHash, e.Encrypted, e.Timestamp, e.PerformedAt, e.CreatedAt,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("auditRepo.Append: %w", err)
	}

	return nil
}

func (r *AuditRepo) LatestHash(ctx context.Context, tenantID uuid.UUID) (string, bool, error) {
	var hash string

	err := r.pool.QueryRow(ctx,
		`SELECT hash FROM `+r.table+` WHERE tenant_id = $1
		 ORDER BY "timestamp" DESC, seq DESC LIMIT 1`,
		tenantID,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("auditRepo.LatestHash: %w", err)
	}

	return hash, true, nil
}

func (r *AuditRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.AuditEvent, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+auditColumns+` FROM `+r.table+` WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)

	e, err := scanAuditEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("auditRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("auditRepo.GetByID: %w", err)
	}

	return e, nil
}

func (r *AuditRepo) ListChain(ctx context.Context, tenantID uuid.UUID) ([]*domain.AuditEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+auditColumns+` FROM `+r.table+` WHERE tenant_id = $1
		 ORDER BY "timestamp", seq`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("auditRepo.ListChain: %w", err)
	}
	defer rows.Close()

	return scanAuditEvents(rows, "auditRepo.ListChain")
}

func (r *AuditRepo) Search(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditEvent, int, error) {
	where, args := auditWhere(f)

	var total int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM `+r.table+` WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("auditRepo.Search: count: %w", err)
	}

	query := `SELECT ` + auditColumns + ` FROM ` + r.table + ` WHERE ` + where +
		` ORDER BY performed_at DESC, seq DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("auditRepo.Search: %w", err)
	}
	defer rows.Close()

	events, err := scanAuditEvents(rows, "auditRepo.Search")
	if err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

// auditWhere renders the filter as a parameterized WHERE clause.
func auditWhere(f domain.AuditFilter) (string, []any) {
	args := []any{f.TenantID}
	conds := []string{"tenant_id = $1"}

	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}

	if len(f.EventTypes) > 0 {
		types := make([]string, 0, len(f.EventTypes))
		for _, t := range f.EventTypes {
			types = append(types, string(t))
		}
		add("event_type = ANY(?)", types)
	}
	if f.ActorID != nil {
		add("actor_id = ?", *f.ActorID)
	}
	if f.EntityType != "" {
		add("entity_type = ?", f.EntityType)
	}
	if f.EntityID != nil {
		add("entity_id = ?", *f.EntityID)
	}
	if f.From != nil {
		add("performed_at >= ?", *f.From)
	}
	if f.To != nil {
		add("performed_at <= ?", *f.To)
	}
	if len(f.RiskLevels) > 0 {
		levels := make([]string, 0, len(f.RiskLevels))
		for _, l := range f.RiskLevels {
			levels = append(levels, string(l))
		}
		add("risk_level = ANY(?)", levels)
	}
	if f.RegulatoryReference != "" {
		add("strpos(lower(regulatory_reference), lower(?)) > 0", f.RegulatoryReference)
	}

	return strings.Join(conds, " AND "), args
}

func scanAuditEvent(row pgx.Row) (*domain.AuditEvent, error) {
	var e domain.AuditEvent
	var details, oldValues, newValues []byte

	err := row.Scan(
		&e.Seq, &e.ID, &e.TenantID, &e.EntityType, &e.EntityID, &e.EventType, &e.Description,
		&details, &oldValues, &newValues, &e.ActorID, &e.IPAddress, &e.UserAgent, &e.SessionID,
		&e.RiskLevel, &e.ComplianceNotes, &e.RegulatoryReference, &e.Hash, &e.PreviousHash,
		&e.DataIntegrityHash, &e.Encrypted, &e.Timestamp, &e.PerformedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.ActionDetails, err = unmarshalJSON(details); err != nil {
		return nil, fmt.Errorf("action_details: %w", err)
	}
	if e.OldValues, err = unmarshalJSON(oldValues); err != nil {
		return nil, fmt.Errorf("old_values: %w", err)
	}
	if e.NewValues, err = unmarshalJSON(newValues); err != nil {
		return nil, fmt.Errorf("new_values: %w", err)
	}
	e.Timestamp = e.Timestamp.UTC()
	e.PerformedAt = e.PerformedAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()

	return &e, nil
}

func scanAuditEvents(rows pgx.Rows, caller string) ([]*domain.AuditEvent, error) {
	var events []*domain.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}

	return events, nil
}

type IntegrityAlertRepo struct {
	pool *pgxpool.Pool
}

func NewIntegrityAlertRepo(pool *pgxpool.Pool) *IntegrityAlertRepo {
	return &IntegrityAlertRepo{pool: pool}
}

func (r *IntegrityAlertRepo) Create(ctx context.Context, a *domain.IntegrityAlert) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_integrity_alerts (id, tenant_id, event_id, break_point, expected_hash, actual_hash,
		        severity, message, requires_investigation, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.TenantID, a.EventID, a.BreakPoint, a.ExpectedHash, a.ActualHash,
		a.Severity, a.Message, a.RequiresInvestigation, a.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("integrityAlertRepo.Create: %w", err)
	}

	return nil
}

func (r *IntegrityAlertRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.IntegrityAlert, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, event_id, break_point, expected_hash, actual_hash,
		        severity, message, requires_investigation, detected_at
		 FROM audit_integrity_alerts WHERE tenant_id = $1
		 ORDER BY detected_at DESC
		 LIMIT $2 OFFSET $3`,
		tenantID, pageLimit(limit), offset,
	)
	if err != nil {
		return nil, fmt.Errorf("integrityAlertRepo.ListByTenant: %w", err)
	}
	defer rows.Close()

	var out []*domain.IntegrityAlert
	for rows.Next() {
		var a domain.IntegrityAlert
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.EventID, &a.BreakPoint, &a.ExpectedHash, &a.ActualHash,
			&a.Severity, &a.Message, &a.RequiresInvestigation, &a.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("integrityAlertRepo.ListByTenant: scan: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("integrityAlertRepo.ListByTenant: rows: %w", err)
	}

	return out, nil
}

// pageLimit maps a non-positive limit to "no limit" (LIMIT NULL).
func pageLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
