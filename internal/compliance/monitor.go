// Package compliance checks audit events against compliance frameworks.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/costtrail/internal/domain"
)

// Monitor evaluates framework controls. It satisfies audit.ComplianceScanner.
type Monitor struct {
	repo   domain.ComplianceRepository
	events domain.AuditRepository
	now    func() time.Time
}

func NewMonitor(repo domain.ComplianceRepository, events domain.AuditRepository) *Monitor {
	return &Monitor{repo: repo, events: events, now: time.Now}
}

// SetClock overrides the time source.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// CheckEvent records a violation for every active control the event breaks.
// Frameworks of the event's tenant are consulted.
func (m *Monitor) CheckEvent(ctx context.Context, e *domain.AuditEvent) error {
	frameworks, err := m.repo.ListActiveFrameworks(ctx, e.TenantID)
	if err != nil {
		return fmt.Errorf("compliance.Monitor.CheckEvent: %w", err)
	}

	var errs []error
	for _, f := range frameworks {
		for _, c := range f.Controls {
			broken, reason := c.Violates(e)
			if !broken {
				continue
			}
			v := &domain.ComplianceViolation{
				ID:          uuid.New(),
				TenantID:    e.TenantID,
				FrameworkID: f.ID,
				ControlCode: c.Code,
				EventID:     e.ID,
				Severity:    violationSeverity(e.RiskLevel),
				Description: f.Code + " " + c.Code + ": " + reason,
				DetectedAt:  m.now().UTC(),
			}
			if err := m.repo.CreateViolation(ctx, v); err != nil {
				errs = append(errs, fmt.Errorf("%s/%s: %w", f.Code, c.Code, err))
				continue
			}
			log.Info().
				Str("framework", f.Code).
				Str("control", c.Code).
				Str("event_id", e.ID.String()).
				Msg("compliance.Monitor.CheckEvent: violation recorded")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("compliance.Monitor.CheckEvent: %w", errors.Join(errs...))
	}
	return nil
}

func violationSeverity(r domain.RiskLevel) domain.RiskLevel {
	if r.Rank() >= domain.RiskHigh.Rank() {
		return domain.RiskHigh
	}
	return domain.RiskMedium
}

// RunChecks evaluates every active framework of a tenant over the events of
// [from, to]. Frameworks are checked concurrently; a failing framework does
// not stop the others. The successful results are returned together with the
// joined errors of the failed ones.
func (m *Monitor) RunChecks(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]*domain.ComplianceMonitoring, error) {
	frameworks, err := m.repo.ListActiveFrameworks(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("compliance.Monitor.RunChecks: %w", err)
	}
	events, _, err := m.events.Search(ctx, domain.AuditFilter{TenantID: tenantID, From: &from, To: &to})
	if err != nil {
		return nil, fmt.Errorf("compliance.Monitor.RunChecks: %w", err)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []*domain.ComplianceMonitoring
		errs    []error
	)
	for _, f := range frameworks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.checkFramework(ctx, tenantID, f, events, from, to)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("framework %s: %w", f.Code, err))
				return
			}
			results = append(results, res)
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		return results, fmt.Errorf("compliance.Monitor.RunChecks: %w", errors.Join(errs...))
	}
	return results, nil
}

func (m *Monitor) checkFramework(ctx context.Context, tenantID uuid.UUID, f *domain.ComplianceFramework, events []*domain.AuditEvent, from, to time.Time) (*domain.ComplianceMonitoring, error) {
	res := &domain.ComplianceMonitoring{
		ID:                  uuid.New(),
		TenantID:            tenantID,
		FrameworkID:         f.ID,
		PeriodStart:         from,
		PeriodEnd:           to,
		EventsChecked:       len(events),
		ImplementedControls: []string{},
		MissingControls:     []string{},
		RequiredControls:    []string{},
		CheckedAt:           m.now().UTC(),
	}

	for _, c := range f.Controls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		satisfied := true
		for _, e := range events {
			if broken, _ := c.Violates(e); broken {
				satisfied = false
				break
			}
		}
		if satisfied {
			res.ImplementedControls = append(res.ImplementedControls, c.Code)
		} else {
			res.MissingControls = append(res.MissingControls, c.Code)
		}
	}
	res.Score = Score(len(res.ImplementedControls), len(res.MissingControls))

	if err := m.repo.RecordMonitoring(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Score is the share of implemented controls in percent, rounded to two
// places. The denominator is implemented + missing only; required controls
// are not counted. Zero controls score 0.
func Score(implemented, missing int) float64 {
	total := implemented + missing
	if total == 0 {
		return 0
	}
	return math.Round(float64(implemented)/float64(total)*10000) / 100
}

// Violations lists recorded violations, newest first.
func (m *Monitor) Violations(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.ComplianceViolation, error) {
	vs, err := m.repo.ListViolations(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("compliance.Monitor.Violations: %w", err)
	}
	return vs, nil
}
