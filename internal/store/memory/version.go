package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/domain"
)

type VersionRepo struct {
	mu      sync.RWMutex
	records []*domain.VersionRecord
}

func NewVersionRepo() *VersionRepo {
	return &VersionRepo{}
}

func cloneVersion(v *domain.VersionRecord) *domain.VersionRecord {
	c := *v
	c.BeforeValues = domain.CloneMap(v.BeforeValues)
	c.AfterValues = domain.CloneMap(v.AfterValues)
	if v.Changes != nil {
		c.Changes = make(map[string]domain.FieldChange, len(v.Changes))
		for k, fc := range v.Changes {
			c.Changes[k] = fc
		}
	}
	if v.ImportBatchID != nil {
		id := *v.ImportBatchID
		c.ImportBatchID = &id
	}
	return &c
}

func compareVersions(a, b *domain.VersionRecord) int {
	return cmp.Or(
		a.ChangedAt.Compare(b.ChangedAt),
		cmp.Compare(a.VersionNumber, b.VersionNumber),
	)
}

func (r *VersionRepo) Create(_ context.Context, v *domain.VersionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, cloneVersion(v))
	return nil
}

func (r *VersionRepo) ListByEntity(_ context.Context, tenantID, entityID uuid.UUID) ([]*domain.VersionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.VersionRecord
	for _, v := range r.records {
		if v.TenantID == tenantID && v.EntityID == entityID {
			out = append(out, cloneVersion(v))
		}
	}
	slices.SortStableFunc(out, compareVersions)
	return out, nil
}

func (r *VersionRepo) GetByNumber(_ context.Context, tenantID, entityID uuid.UUID, version int) (*domain.VersionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.records {
		if v.TenantID == tenantID && v.EntityID == entityID && v.VersionNumber == version {
			return cloneVersion(v), nil
		}
	}
	return nil, fmt.Errorf("versionRepo.GetByNumber: %w", domain.ErrNotFound)
}

func (r *VersionRepo) ListByProject(_ context.Context, tenantID, projectID uuid.UUID, from, to time.Time) ([]*domain.VersionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.VersionRecord
	for _, v := range r.records {
		if v.TenantID != tenantID || v.ProjectID != projectID {
			continue
		}
		if v.ChangedAt.Before(from) || v.ChangedAt.After(to) {
			continue
		}
		out = append(out, cloneVersion(v))
	}
	slices.SortStableFunc(out, compareVersions)
	return out, nil
}
