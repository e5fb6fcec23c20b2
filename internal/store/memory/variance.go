package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/domain"
)

type VarianceAlertRepo struct {
	mu     sync.RWMutex
	alerts map[uuid.UUID]*domain.VarianceAlert
}

func NewVarianceAlertRepo() *VarianceAlertRepo {
	return &VarianceAlertRepo{alerts: make(map[uuid.UUID]*domain.VarianceAlert)}
}

func cloneAlert(a *domain.VarianceAlert) *domain.VarianceAlert {
	c := *a
	c.RecommendedActions = slices.Clone(a.RecommendedActions)
	return &c
}

func (r *VarianceAlertRepo) Create(_ context.Context, a *domain.VarianceAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.alerts[a.ID] = cloneAlert(a)
	return nil
}

func (r *VarianceAlertRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*domain.VarianceAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.alerts[id]
	if !ok || a.TenantID != tenantID {
		return nil, fmt.Errorf("varianceAlertRepo.GetByID: %w", domain.ErrNotFound)
	}
	return cloneAlert(a), nil
}

func (r *VarianceAlertRepo) Update(_ context.Context, a *domain.VarianceAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.alerts[a.ID]
	if !ok || cur.TenantID != a.TenantID {
		return fmt.Errorf("varianceAlertRepo.Update: %w", domain.ErrNotFound)
	}
	r.alerts[a.ID] = cloneAlert(a)
	return nil
}

func (r *VarianceAlertRepo) ListByProject(_ context.Context, tenantID, projectID uuid.UUID, status domain.AlertStatus) ([]*domain.VarianceAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.VarianceAlert
	for _, a := range r.alerts {
		if a.TenantID != tenantID || a.ProjectID != projectID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, cloneAlert(a))
	}
	slices.SortFunc(out, func(a, b *domain.VarianceAlert) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}
