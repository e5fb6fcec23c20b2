package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/domain"
)

type ComplianceRepo struct {
	mu         sync.RWMutex
	frameworks []*domain.ComplianceFramework
	monitoring []*domain.ComplianceMonitoring
	violations []*domain.ComplianceViolation
}

func NewComplianceRepo() *ComplianceRepo {
	return &ComplianceRepo{}
}

func (r *ComplianceRepo) CreateFramework(_ context.Context, f *domain.ComplianceFramework) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *f
	c.Controls = slices.Clone(f.Controls)
	r.frameworks = append(r.frameworks, &c)
	return nil
}

func (r *ComplianceRepo) ListActiveFrameworks(_ context.Context, tenantID uuid.UUID) ([]*domain.ComplianceFramework, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.ComplianceFramework
	for _, f := range r.frameworks {
		if f.TenantID == tenantID && f.IsActive {
			c := *f
			c.Controls = slices.Clone(f.Controls)
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *ComplianceRepo) RecordMonitoring(_ context.Context, m *domain.ComplianceMonitoring) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *m
	c.ImplementedControls = slices.Clone(m.ImplementedControls)
	c.MissingControls = slices.Clone(m.MissingControls)
	c.RequiredControls = slices.Clone(m.RequiredControls)
	r.monitoring = append(r.monitoring, &c)
	return nil
}

func (r *ComplianceRepo) CreateViolation(_ context.Context, v *domain.ComplianceViolation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *v
	r.violations = append(r.violations, &c)
	return nil
}

func (r *ComplianceRepo) ListViolations(_ context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.ComplianceViolation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.ComplianceViolation
	for i := len(r.violations) - 1; i >= 0; i-- {
		if r.violations[i].TenantID == tenantID {
			c := *r.violations[i]
			out = append(out, &c)
		}
	}
	return page(out, limit, offset), nil
}

// MonitoringRecords returns every recorded monitoring result, oldest first.
func (r *ComplianceRepo) MonitoringRecords() []*domain.ComplianceMonitoring {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.ComplianceMonitoring, 0, len(r.monitoring))
	for _, m := range r.monitoring {
		c := *m
		out = append(out, &c)
	}
	return out
}
