package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/domain"
)

// AuditRepo keeps one append-only event log. Store uses two instances, one
// for audit_logs and one for change_audit_log.
type AuditRepo struct {
	mu     sync.RWMutex
	seq    int64
	events []*domain.AuditEvent
}

func NewAuditRepo() *AuditRepo {
	return &AuditRepo{}
}

func chainOrder(a, b *domain.AuditEvent) int {
	return cmp.Or(a.Timestamp.Compare(b.Timestamp), cmp.Compare(a.Seq, b.Seq))
}

func (r *AuditRepo) Append(_ context.Context, e *domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	e.Seq = r.seq
	r.events = append(r.events, e.Clone())
	return nil
}

func (r *AuditRepo) LatestHash(_ context.Context, tenantID uuid.UUID) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.AuditEvent
	for _, e := range r.events {
		if e.TenantID != tenantID {
			continue
		}
		if latest == nil || chainOrder(e, latest) > 0 {
			latest = e
		}
	}
	if latest == nil {
		return "", false, nil
	}
	return latest.Hash, true, nil
}

func (r *AuditRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*domain.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.events {
		if e.ID == id && e.TenantID == tenantID {
			return e.Clone(), nil
		}
	}
	return nil, fmt.Errorf("auditRepo.GetByID: %w", domain.ErrNotFound)
}

func (r *AuditRepo) ListChain(_ context.Context, tenantID uuid.UUID) ([]*domain.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.AuditEvent
	for _, e := range r.events {
		if e.TenantID == tenantID {
			out = append(out, e.Clone())
		}
	}
	slices.SortStableFunc(out, chainOrder)
	return out, nil
}

func (r *AuditRepo) Search(_ context.Context, f domain.AuditFilter) ([]*domain.AuditEvent, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*domain.AuditEvent
	for _, e := range r.events {
		if matches(e, f) {
			matched = append(matched, e)
		}
	}
	slices.SortStableFunc(matched, func(a, b *domain.AuditEvent) int {
		return cmp.Or(b.PerformedAt.Compare(a.PerformedAt), cmp.Compare(b.Seq, a.Seq))
	})

	paged := page(matched, f.Limit, f.Offset)
	out := make([]*domain.AuditEvent, 0, len(paged))
	for _, e := range paged {
		out = append(out, e.Clone())
	}
	return out, len(matched), nil
}

func matches(e *domain.AuditEvent, f domain.AuditFilter) bool {
	switch {
	case e.TenantID != f.TenantID:
		return false
	case len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType):
		return false
	case f.ActorID != nil && e.ActorID != *f.ActorID:
		return false
	case f.EntityType != "" && e.EntityType != f.EntityType:
		return false
	case f.EntityID != nil && e.EntityID != *f.EntityID:
		return false
	case f.From != nil && e.PerformedAt.Before(*f.From):
		return false
	case f.To != nil && e.PerformedAt.After(*f.To):
		return false
	case len(f.RiskLevels) > 0 && !slices.Contains(f.RiskLevels, e.RiskLevel):
		return false
	case f.RegulatoryReference != "" &&
		!strings.Contains(strings.ToLower(e.RegulatoryReference), strings.ToLower(f.RegulatoryReference)):
		return false
	}
	return true
}

// Tamper overwrites a stored event in place. Tests use it to simulate
// out-of-band edits to the log.
func (r *AuditRepo) Tamper(id uuid.UUID, mutate func(e *domain.AuditEvent)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.events {
		if e.ID == id {
			mutate(e)
			return true
		}
	}
	return false
}

type IntegrityAlertRepo struct {
	mu     sync.RWMutex
	alerts []*domain.IntegrityAlert
}

func NewIntegrityAlertRepo() *IntegrityAlertRepo {
	return &IntegrityAlertRepo{}
}

func (r *IntegrityAlertRepo) Create(_ context.Context, a *domain.IntegrityAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *a
	r.alerts = append(r.alerts, &c)
	return nil
}

func (r *IntegrityAlertRepo) ListByTenant(_ context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.IntegrityAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.IntegrityAlert
	for i := len(r.alerts) - 1; i >= 0; i-- {
		if r.alerts[i].TenantID == tenantID {
			c := *r.alerts[i]
			out = append(out, &c)
		}
	}
	return page(out, limit, offset), nil
}

// page slices items by limit/offset; limit <= 0 keeps everything after offset.
func page[T any](items []T, limit, offset int) []T {
	start := min(max(offset, 0), len(items))
	end := len(items)
	if limit > 0 {
		end = min(start+limit, end)
	}
	return items[start:end]
}
