package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/costtrail/internal/domain"
)

//nolint:gochecknoglobals // embedded schema
//go:embed schema.sql
var schema string

const (
	auditTable       = "audit_logs"
	changeAuditTable = "change_audit_log"
)

type Store struct {
	pool           *pgxpool.Pool
	breakdowns     *BreakdownRepo
	versions       *VersionRepo
	audit          *AuditRepo
	changeAudit    *AuditRepo
	integrity      *IntegrityAlertRepo
	varianceAlerts *VarianceAlertRepo
	imports        *ImportBatchRepo
	compliance     *ComplianceRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{
		pool:           pool,
		breakdowns:     NewBreakdownRepo(pool),
		versions:       NewVersionRepo(pool),
		audit:          NewAuditRepo(pool, auditTable),
		changeAudit:    NewAuditRepo(pool, changeAuditTable),
		integrity:      NewIntegrityAlertRepo(pool),
		varianceAlerts: NewVarianceAlertRepo(pool),
		imports:        NewImportBatchRepo(pool),
		compliance:     NewComplianceRepo(pool),
	}, nil
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres.Migrate: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres.Ping: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Breakdowns() domain.BreakdownRepository           { return s.breakdowns }
func (s *Store) Versions() domain.VersionRepository               { return s.versions }
func (s *Store) Audit() domain.AuditRepository                    { return s.audit }
func (s *Store) ChangeAudit() domain.AuditRepository              { return s.changeAudit }
func (s *Store) IntegrityAlerts() domain.IntegrityAlertRepository { return s.integrity }
func (s *Store) VarianceAlerts() domain.VarianceAlertRepository   { return s.varianceAlerts }
func (s *Store) ImportBatches() domain.ImportBatchRepository      { return s.imports }
func (s *Store) Compliance() domain.ComplianceRepository          { return s.compliance }

// isUniqueViolation reports whether err is a unique constraint failure.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// marshalJSON encodes v for a JSONB column; nil maps stay NULL.
func marshalJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
