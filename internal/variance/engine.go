package variance

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gosuda/costtrail/internal/audit"
	"github.com/gosuda/costtrail/internal/domain"
	"github.com/gosuda/costtrail/internal/feed"
)

// DefaultTopN is the number of outliers reported when none is requested.
const DefaultTopN = 10

// AuditLogger records chained audit events.
type AuditLogger interface {
	LogEvent(ctx context.Context, in audit.Event) (*domain.AuditEvent, error)
}

// Escalator pages administrators about critical alerts.
type Escalator interface {
	Escalate(ctx context.Context, severity domain.RiskLevel, subject, detail string) error
}

type Option func(*Engine)

func WithAudit(a AuditLogger) Option {
	return func(e *Engine) { e.audit = a }
}

func WithEscalator(esc Escalator) Option {
	return func(e *Engine) { e.escalator = esc }
}

func WithFeed(f *feed.Emitter) Option {
	return func(e *Engine) { e.feed = f }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine aggregates project variance and maintains variance alerts.
type Engine struct {
	nodes     domain.BreakdownRepository
	alerts    domain.VarianceAlertRepository
	audit     AuditLogger
	escalator Escalator
	feed      *feed.Emitter
	now       func() time.Time
}

func NewEngine(nodes domain.BreakdownRepository, alerts domain.VarianceAlertRepository, opts ...Option) *Engine {
	e := &Engine{nodes: nodes, alerts: alerts, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Totals carries summed amounts together with their variance.
type Totals struct {
	Planned   decimal.Decimal `json:"planned"`
	Committed decimal.Decimal `json:"committed"`
	Actual    decimal.Decimal `json:"actual"`
	Variance  Data            `json:"variance"`
	NodeCount int             `json:"node_count"`
}

func (t *Totals) add(n *domain.POBreakdown) {
	t.Planned = t.Planned.Add(n.PlannedAmount)
	t.Committed = t.Committed.Add(n.CommittedAmount)
	t.Actual = t.Actual.Add(n.ActualAmount)
	t.NodeCount++
}

func (t *Totals) finish() {
	t.Variance = CalculateVariance(t.Planned, t.Committed, t.Actual)
}

type CategoryVariance struct {
	Category string `json:"category"`
	Totals
}

type LevelVariance struct {
	Level int `json:"level"`
	Totals
}

// NodeVariance is the variance of a single node.
type NodeVariance struct {
	NodeID    uuid.UUID       `json:"node_id"`
	Name      string          `json:"name"`
	Code      string          `json:"code,omitempty"`
	Level     int             `json:"level"`
	Category  string          `json:"category,omitempty"`
	Planned   decimal.Decimal `json:"planned"`
	Committed decimal.Decimal `json:"committed"`
	Actual    decimal.Decimal `json:"actual"`
	Variance  Data            `json:"variance"`
}

// ProjectVariance is the variance picture of a whole project.
type ProjectVariance struct {
	ProjectID    uuid.UUID                     `json:"project_id"`
	Overall      Totals                        `json:"overall"`
	ByCategory   []CategoryVariance            `json:"by_category"`
	ByLevel      []LevelVariance               `json:"by_level"`
	Outliers     []NodeVariance                `json:"outliers"`
	StatusCounts map[domain.VarianceStatus]int `json:"status_counts"`
	CalculatedAt time.Time                     `json:"calculated_at"`
}

// ProjectVariance aggregates the active nodes of a project. Overall and
// per-category totals sum leaf nodes only, because parent amounts already
// hold the sum of their children; per-level totals use every node on the
// level. Outliers are the topN nodes by absolute variance percentage.
func (e *Engine) ProjectVariance(ctx context.Context, tenantID, projectID uuid.UUID, topN int) (*ProjectVariance, error) {
	if topN <= 0 {
		topN = DefaultTopN
	}

	nodes, err := e.nodes.ListByProject(ctx, tenantID, projectID, false)
	if err != nil {
		return nil, fmt.Errorf("variance.Engine.ProjectVariance: %w", err)
	}

	hasChildren := make(map[uuid.UUID]bool, len(nodes))
	for _, n := range nodes {
		if n.ParentID != nil {
			hasChildren[*n.ParentID] = true
		}
	}

	pv := &ProjectVariance{
		ProjectID:    projectID,
		StatusCounts: make(map[domain.VarianceStatus]int),
		CalculatedAt: e.now().UTC(),
	}
	categories := make(map[string]*CategoryVariance)
	levels := make(map[int]*LevelVariance)
	all := make([]NodeVariance, 0, len(nodes))

	for _, n := range nodes {
		nv := NodeVariance{
			NodeID:    n.ID,
			Name:      n.Name,
			Code:      n.Code,
			Level:     n.Level,
			Category:  n.Category,
			Planned:   n.PlannedAmount,
			Committed: n.CommittedAmount,
			Actual:    n.ActualAmount,
			Variance:  Of(n),
		}
		all = append(all, nv)
		pv.StatusCounts[nv.Variance.Status]++

		lv, ok := levels[n.Level]
		if !ok {
			lv = &LevelVariance{Level: n.Level}
			levels[n.Level] = lv
		}
		lv.add(n)

		if hasChildren[n.ID] {
			continue
		}
		pv.Overall.add(n)
		cv, ok := categories[n.Category]
		if !ok {
			cv = &CategoryVariance{Category: n.Category}
			categories[n.Category] = cv
		}
		cv.add(n)
	}
	pv.Overall.finish()

	pv.ByCategory = make([]CategoryVariance, 0, len(categories))
	for _, cv := range categories {
		cv.finish()
		pv.ByCategory = append(pv.ByCategory, *cv)
	}
	slices.SortFunc(pv.ByCategory, func(a, b CategoryVariance) int { return cmp.Compare(a.Category, b.Category) })

	pv.ByLevel = make([]LevelVariance, 0, len(levels))
	for _, lv := range levels {
		lv.finish()
		pv.ByLevel = append(pv.ByLevel, *lv)
	}
	slices.SortFunc(pv.ByLevel, func(a, b LevelVariance) int { return cmp.Compare(a.Level, b.Level) })

	slices.SortStableFunc(all, func(a, b NodeVariance) int {
		return b.Variance.Percentage.Abs().Cmp(a.Variance.Percentage.Abs())
	})
	pv.Outliers = all[:min(topN, len(all))]

	return pv, nil
}

// GenerateAlerts raises a critical alert for every active node whose variance
// exceeds the significant threshold, unless the node already has an open
// alert of the same type. It returns the alerts it created.
func (e *Engine) GenerateAlerts(ctx context.Context, tenantID, projectID uuid.UUID) ([]*domain.VarianceAlert, error) {
	nodes, err := e.nodes.ListByProject(ctx, tenantID, projectID, false)
	if err != nil {
		return nil, fmt.Errorf("variance.Engine.GenerateAlerts: %w", err)
	}
	existing, err := e.alerts.ListByProject(ctx, tenantID, projectID, "")
	if err != nil {
		return nil, fmt.Errorf("variance.Engine.GenerateAlerts: %w", err)
	}

	type key struct {
		node uuid.UUID
		kind domain.AlertType
	}
	open := make(map[key]bool)
	for _, a := range existing {
		if a.IsOpen() {
			open[key{a.BreakdownID, a.AlertType}] = true
		}
	}

	var created []*domain.VarianceAlert
	for _, n := range nodes {
		v := Of(n)
		if v.Status != domain.VarianceCritical {
			continue
		}

		kind := domain.AlertBudgetOverrun
		if v.Percentage.IsNegative() {
			kind = domain.AlertBudgetUnderrun
		}
		if open[key{n.ID, kind}] {
			continue
		}

		a := &domain.VarianceAlert{
			ID:                 uuid.New(),
			TenantID:           tenantID,
			ProjectID:          projectID,
			BreakdownID:        n.ID,
			AlertType:          kind,
			Severity:           domain.RiskCritical,
			ThresholdExceeded:  SignificantThreshold,
			VarianceAmount:     n.ActualAmount.Sub(n.PlannedAmount),
			VariancePercentage: v.Percentage,
			Message:            alertMessage(n, v, kind),
			RecommendedActions: recommendedActions(kind),
			Status:             domain.AlertActive,
			CreatedAt:          e.now().UTC(),
		}
		if err := e.alerts.Create(ctx, a); err != nil {
			return created, fmt.Errorf("variance.Engine.GenerateAlerts: %w", err)
		}
		created = append(created, a)
		open[key{n.ID, kind}] = true

		e.announce(ctx, n, a)
	}
	return created, nil
}

// Recalculate regenerates alerts from the current node amounts. It runs
// synchronously after every hierarchy mutation.
func (e *Engine) Recalculate(ctx context.Context, tenantID, projectID uuid.UUID) error {
	if _, err := e.GenerateAlerts(ctx, tenantID, projectID); err != nil {
		return fmt.Errorf("variance.Engine.Recalculate: %w", err)
	}
	return nil
}

// announce audits, escalates and publishes a new alert. Each step is best effort.
func (e *Engine) announce(ctx context.Context, n *domain.POBreakdown, a *domain.VarianceAlert) {
	if e.audit != nil {
		if _, err := e.audit.LogEvent(ctx, audit.Event{
			TenantID:    a.TenantID,
			EntityType:  domain.EntityPOBreakdown,
			EntityID:    n.ID,
			EventType:   domain.AuditEventDeviation,
			Description: a.Message,
			Details: map[string]any{
				"alert_id":            a.ID.String(),
				"alert_type":          string(a.AlertType),
				"variance_percentage": a.VariancePercentage.String(),
				"project_id":          a.ProjectID.String(),
			},
			Actor:     domain.SystemActor(),
			RiskLevel: domain.RiskCritical,
		}); err != nil {
			log.Warn().Err(err).Str("alert_id", a.ID.String()).Msg("variance.Engine: failed to audit alert")
		}
	}

	if e.escalator != nil {
		if err := e.escalator.Escalate(ctx, a.Severity, "Critical budget variance", a.Message); err != nil {
			log.Warn().Err(err).Str("alert_id", a.ID.String()).Msg("variance.Engine: failed to escalate alert")
		}
	}

	e.feed.Emit(ctx, feed.Event{
		Type:      feed.VarianceAlert,
		TenantID:  a.TenantID,
		ProjectID: a.ProjectID,
		EntityID:  a.ID,
		Data:      a,
	})
}

func alertMessage(n *domain.POBreakdown, v Data, kind domain.AlertType) string {
	label := n.Name
	if n.Code != "" {
		label = n.Code + " " + n.Name
	}
	direction := "over"
	if kind == domain.AlertBudgetUnderrun {
		direction = "under"
	}
	return fmt.Sprintf("%s is %s%% %s plan (planned %s, actual %s %s)",
		label, v.Percentage.Abs().StringFixed(2), direction,
		n.PlannedAmount.StringFixed(2), n.ActualAmount.StringFixed(2), n.Currency)
}

func recommendedActions(kind domain.AlertType) []string {
	if kind == domain.AlertBudgetUnderrun {
		return []string{
			"Confirm that all actual costs have been recorded",
			"Check whether scope was removed or deferred",
			"Consider releasing unused budget",
		}
	}
	return []string{
		"Review actual costs against the approved scope",
		"Raise a change request to adjust the planned budget",
		"Escalate to the project controller for approval",
		"Identify cost containment measures for remaining work",
	}
}

// Acknowledge marks an active alert as seen by actor.
func (e *Engine) Acknowledge(ctx context.Context, tenantID, alertID uuid.UUID, actor domain.Actor) (*domain.VarianceAlert, error) {
	a, err := e.alerts.GetByID(ctx, tenantID, alertID)
	if err != nil {
		return nil, fmt.Errorf("variance.Engine.Acknowledge: %w", err)
	}
	if err := a.Acknowledge(actor.ID, e.now().UTC()); err != nil {
		return nil, transitionError(err, a.Status)
	}
	if err := e.alerts.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("variance.Engine.Acknowledge: %w", err)
	}
	return a, nil
}

// Resolve closes an active or acknowledged alert.
func (e *Engine) Resolve(ctx context.Context, tenantID, alertID uuid.UUID, actor domain.Actor, notes string) (*domain.VarianceAlert, error) {
	a, err := e.alerts.GetByID(ctx, tenantID, alertID)
	if err != nil {
		return nil, fmt.Errorf("variance.Engine.Resolve: %w", err)
	}
	if err := a.Resolve(actor.ID, e.now().UTC(), notes); err != nil {
		return nil, transitionError(err, a.Status)
	}
	if err := e.alerts.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("variance.Engine.Resolve: %w", err)
	}
	return a, nil
}

// ListAlerts returns a project's alerts, filtered by status when non-empty.
func (e *Engine) ListAlerts(ctx context.Context, tenantID, projectID uuid.UUID, status domain.AlertStatus) ([]*domain.VarianceAlert, error) {
	alerts, err := e.alerts.ListByProject(ctx, tenantID, projectID, status)
	if err != nil {
		return nil, fmt.Errorf("variance.Engine.ListAlerts: %w", err)
	}
	return alerts, nil
}

func transitionError(err error, status domain.AlertStatus) error {
	if errors.Is(err, domain.ErrInvalidAlertTransition) {
		return domain.NewValidationError("status", "alert is "+string(status), err)
	}
	return err
}
