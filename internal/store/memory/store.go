// Package memory implements the domain repositories in process memory. It is
// used by tests and by the "memory" store mode for local runs.
package memory

import (
	"github.com/gosuda/costtrail/internal/domain"
)

type Store struct {
	breakdowns     *BreakdownRepo
	versions       *VersionRepo
	audit          *AuditRepo
	changeAudit    *AuditRepo
	integrity      *IntegrityAlertRepo
	varianceAlerts *VarianceAlertRepo
	imports        *ImportBatchRepo
	compliance     *ComplianceRepo
}

func New() *Store {
	return &Store{
		breakdowns:     NewBreakdownRepo(),
		versions:       NewVersionRepo(),
		audit:          NewAuditRepo(),
		changeAudit:    NewAuditRepo(),
		integrity:      NewIntegrityAlertRepo(),
		varianceAlerts: NewVarianceAlertRepo(),
		imports:        NewImportBatchRepo(),
		compliance:     NewComplianceRepo(),
	}
}

func (s *Store) Close() {}

func (s *Store) Breakdowns() domain.BreakdownRepository           { return s.breakdowns }
func (s *Store) Versions() domain.VersionRepository               { return s.versions }
func (s *Store) Audit() domain.AuditRepository                    { return s.audit }
func (s *Store) ChangeAudit() domain.AuditRepository              { return s.changeAudit }
func (s *Store) IntegrityAlerts() domain.IntegrityAlertRepository { return s.integrity }
func (s *Store) VarianceAlerts() domain.VarianceAlertRepository   { return s.varianceAlerts }
func (s *Store) ImportBatches() domain.ImportBatchRepository      { return s.imports }
func (s *Store) Compliance() domain.ComplianceRepository          { return s.compliance }
