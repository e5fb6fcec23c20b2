package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/domain"
)

type ImportBatchRepo struct {
	mu      sync.RWMutex
	batches map[uuid.UUID]*domain.ImportBatch
}

func NewImportBatchRepo() *ImportBatchRepo {
	return &ImportBatchRepo{batches: make(map[uuid.UUID]*domain.ImportBatch)}
}

func cloneBatch(b *domain.ImportBatch) *domain.ImportBatch {
	c := *b
	c.CreatedNodeIDs = slices.Clone(b.CreatedNodeIDs)
	c.Issues = slices.Clone(b.Issues)
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (r *ImportBatchRepo) Create(_ context.Context, b *domain.ImportBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.batches[b.ID]; ok {
		return fmt.Errorf("importBatchRepo.Create: %w", domain.ErrConflict)
	}
	r.batches[b.ID] = cloneBatch(b)
	return nil
}

func (r *ImportBatchRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*domain.ImportBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.batches[id]
	if !ok || b.TenantID != tenantID {
		return nil, fmt.Errorf("importBatchRepo.GetByID: %w", domain.ErrNotFound)
	}
	return cloneBatch(b), nil
}

func (r *ImportBatchRepo) Update(_ context.Context, b *domain.ImportBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.batches[b.ID]
	if !ok || cur.TenantID != b.TenantID {
		return fmt.Errorf("importBatchRepo.Update: %w", domain.ErrNotFound)
	}
	r.batches[b.ID] = cloneBatch(b)
	return nil
}
