package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/domain"
)

type BreakdownRepo struct {
	mu    sync.RWMutex
	nodes map[uuid.UUID]*domain.POBreakdown
}

func NewBreakdownRepo() *BreakdownRepo {
	return &BreakdownRepo{nodes: make(map[uuid.UUID]*domain.POBreakdown)}
}

// codeTaken reports whether another active node of the project uses code.
// Callers hold the lock.
func (r *BreakdownRepo) codeTaken(b *domain.POBreakdown) bool {
	if b.Code == "" || !b.IsActive {
		return false
	}
	for _, n := range r.nodes {
		if n.ID != b.ID && n.IsActive && n.TenantID == b.TenantID && n.ProjectID == b.ProjectID && n.Code == b.Code {
			return true
		}
	}
	return false
}

func (r *BreakdownRepo) Create(_ context.Context, b *domain.POBreakdown) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[b.ID]; ok {
		return fmt.Errorf("breakdownRepo.Create: %w", domain.ErrConflict)
	}
	if r.codeTaken(b) {
		return fmt.Errorf("breakdownRepo.Create: code %q: %w", b.Code, domain.ErrConflict)
	}
	r.nodes[b.ID] = b.Clone()
	return nil
}

func (r *BreakdownRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*domain.POBreakdown, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[id]
	if !ok || n.TenantID != tenantID {
		return nil, fmt.Errorf("breakdownRepo.GetByID: %w", domain.ErrNotFound)
	}
	return n.Clone(), nil
}

func (r *BreakdownRepo) GetByCode(_ context.Context, tenantID, projectID uuid.UUID, code string) (*domain.POBreakdown, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, n := range r.nodes {
		if n.IsActive && n.TenantID == tenantID && n.ProjectID == projectID && n.Code == code {
			return n.Clone(), nil
		}
	}
	return nil, fmt.Errorf("breakdownRepo.GetByCode: %w", domain.ErrNotFound)
}

func (r *BreakdownRepo) Update(_ context.Context, b *domain.POBreakdown) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[b.ID]
	if !ok || n.TenantID != b.TenantID {
		return fmt.Errorf("breakdownRepo.Update: %w", domain.ErrNotFound)
	}
	if r.codeTaken(b) {
		return fmt.Errorf("breakdownRepo.Update: code %q: %w", b.Code, domain.ErrConflict)
	}
	r.nodes[b.ID] = b.Clone()
	return nil
}

func (r *BreakdownRepo) Delete(_ context.Context, tenantID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[id]
	if !ok || n.TenantID != tenantID {
		return fmt.Errorf("breakdownRepo.Delete: %w", domain.ErrNotFound)
	}
	delete(r.nodes, id)
	return nil
}

func (r *BreakdownRepo) ListByProject(_ context.Context, tenantID, projectID uuid.UUID, includeInactive bool) ([]*domain.POBreakdown, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.POBreakdown
	for _, n := range r.nodes {
		if n.TenantID != tenantID || n.ProjectID != projectID {
			continue
		}
		if !includeInactive && !n.IsActive {
			continue
		}
		out = append(out, n.Clone())
	}
	slices.SortFunc(out, func(a, b *domain.POBreakdown) int {
		return cmp.Or(
			cmp.Compare(a.Level, b.Level),
			cmp.Compare(a.DisplayOrder, b.DisplayOrder),
			a.CreatedAt.Compare(b.CreatedAt),
			cmp.Compare(a.ID.String(), b.ID.String()),
		)
	})
	return out, nil
}
