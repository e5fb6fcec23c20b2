// Package breakdown manages PO breakdown hierarchies: node lifecycle, moves,
// parent total propagation and per-mutation version records.
package breakdown

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gosuda/costtrail/internal/audit"
	"github.com/gosuda/costtrail/internal/domain"
	"github.com/gosuda/costtrail/internal/feed"
)

// AuditLogger records chained audit events.
type AuditLogger interface {
	LogEvent(ctx context.Context, in audit.Event) (*domain.AuditEvent, error)
}

// VarianceRecalculator refreshes variance alerts for a project.
type VarianceRecalculator interface {
	Recalculate(ctx context.Context, tenantID, projectID uuid.UUID) error
}

// Option configures a Service.
type Option func(*Service)

func WithVariance(v VarianceRecalculator) Option {
	return func(s *Service) { s.variance = v }
}

func WithFeed(e *feed.Emitter) Option {
	return func(s *Service) { s.feed = e }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service implements the hierarchy engine.
type Service struct {
	nodes    domain.BreakdownRepository
	versions domain.VersionRepository
	audit    AuditLogger
	variance VarianceRecalculator
	feed     *feed.Emitter
	now      func() time.Time
}

func NewService(nodes domain.BreakdownRepository, versions domain.VersionRepository, auditLog AuditLogger, opts ...Option) *Service {
	s := &Service{
		nodes:    nodes,
		versions: versions,
		audit:    auditLog,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput holds the fields of a new node.
type CreateInput struct {
	TenantID        uuid.UUID
	ProjectID       uuid.UUID
	ParentID        *uuid.UUID
	Name            string
	Code            string
	Type            domain.BreakdownType
	SAPPONumber     string
	SAPLineItem     string
	PlannedAmount   decimal.Decimal
	CommittedAmount decimal.Decimal
	ActualAmount    decimal.Decimal
	Currency        string
	ExchangeRate    decimal.Decimal
	Category        string
	Subcategory     string
	CustomFields    map[string]any
	Tags            []string
	Notes           string
	DisplayOrder    int
	ImportBatchID   *uuid.UUID
	Actor           domain.Actor
}

func (in *CreateInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return domain.NewValidationError("name", "is required", nil)
	}
	if err := domain.ValidateCode(in.Code); err != nil {
		return err
	}
	for field, amount := range map[string]decimal.Decimal{
		"planned_amount":   in.PlannedAmount,
		"committed_amount": in.CommittedAmount,
		"actual_amount":    in.ActualAmount,
	} {
		if amount.IsNegative() {
			return domain.NewValidationError(field, "must not be negative", domain.ErrNegativeAmount)
		}
	}
	if in.ExchangeRate.IsNegative() {
		return domain.NewValidationError("exchange_rate", "must be positive", nil)
	}
	return nil
}

// change describes one persisted node mutation.
type change struct {
	kind      domain.ChangeType
	event     domain.AuditEventType
	risk      domain.RiskLevel
	summary   string
	reason    string
	actor     domain.Actor
	batchID   *uuid.UUID
	versionNo int // 0 means previous version + 1
}

// Create adds a node under an optional active parent.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.POBreakdown, error) {
	n, err := s.create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.recalculateVariance(ctx, n.TenantID, n.ProjectID)
	return n, nil
}

func (s *Service) create(ctx context.Context, in CreateInput) (*domain.POBreakdown, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	level := 0
	path := []string{}
	if in.ParentID != nil {
		parent, err := s.nodes.GetByID(ctx, in.TenantID, *in.ParentID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("parent_id", "parent not found", domain.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("breakdown.Service.Create: load parent: %w", err)
		}
		if parent.ProjectID != in.ProjectID {
			return nil, domain.NewValidationError("parent_id", "parent belongs to another project", domain.ErrParentMismatch)
		}
		if !parent.IsActive {
			return nil, domain.NewValidationError("parent_id", "parent is inactive", domain.ErrInactiveNode)
		}
		level = parent.Level + 1
		path = append(slices.Clone(parent.HierarchyPath), parent.ID.String())
	}
	if level > domain.MaxHierarchyDepth {
		return nil, domain.NewValidationError("parent_id",
			fmt.Sprintf("level %d exceeds maximum depth %d", level, domain.MaxHierarchyDepth), domain.ErrMaxDepthExceeded)
	}

	if err := s.ensureCodeFree(ctx, in.TenantID, in.ProjectID, in.Code, uuid.Nil); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	n := &domain.POBreakdown{
		ID:              uuid.New(),
		TenantID:        in.TenantID,
		ProjectID:       in.ProjectID,
		ParentID:        in.ParentID,
		Name:            strings.TrimSpace(in.Name),
		Code:            in.Code,
		Type:            in.Type,
		Level:           level,
		SAPPONumber:     in.SAPPONumber,
		SAPLineItem:     in.SAPLineItem,
		HierarchyPath:   path,
		PlannedAmount:   in.PlannedAmount,
		CommittedAmount: in.CommittedAmount,
		ActualAmount:    in.ActualAmount,
		Currency:        in.Currency,
		ExchangeRate:    in.ExchangeRate,
		Category:        in.Category,
		Subcategory:     in.Subcategory,
		CustomFields:    domain.CloneMap(in.CustomFields),
		Tags:            domain.NormalizeTags(in.Tags),
		Notes:           in.Notes,
		DisplayOrder:    in.DisplayOrder,
		ImportBatchID:   in.ImportBatchID,
		Version:         1,
		IsActive:        true,
		CreatedBy:       in.Actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if n.Type == "" {
		n.Type = domain.BreakdownCustomHierarchy
	}
	if n.Currency == "" {
		n.Currency = domain.DefaultCurrency
	}
	if n.ExchangeRate.IsZero() {
		n.ExchangeRate = decimal.NewFromInt(1)
	}
	if n.Type == domain.BreakdownSAPStandard && in.ParentID != nil {
		n.OriginalParentID = cloneID(in.ParentID)
	}
	n.RecalculateRemaining()

	if err := s.nodes.Create(ctx, n); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.NewValidationError("code", fmt.Sprintf("code %q already exists in project", n.Code), domain.ErrDuplicateCode)
		}
		return nil, fmt.Errorf("breakdown.Service.Create: %w", err)
	}

	summary := fmt.Sprintf("Created breakdown %q", n.Name)
	if err := s.record(ctx, nil, n, change{
		kind:    domain.ChangeCreate,
		event:   domain.AuditEventCreation,
		risk:    domain.RiskLow,
		summary: summary,
		actor:   in.Actor,
		batchID: in.ImportBatchID,
	}); err != nil {
		return nil, fmt.Errorf("breakdown.Service.Create: %w", err)
	}

	if n.ParentID != nil {
		if err := s.recalcAncestors(ctx, n.TenantID, n.ProjectID, *n.ParentID); err != nil {
			return nil, fmt.Errorf("breakdown.Service.Create: %w", err)
		}
	}

	s.emit(ctx, feed.BreakdownCreated, n)
	return n, nil
}

// Update applies a typed partial update to an active node.
func (s *Service) Update(ctx context.Context, tenantID, id uuid.UUID, patch domain.BreakdownPatch, actor domain.Actor, reason string) (*domain.POBreakdown, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	cur, err := s.nodes.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("breakdown.Service.Update: %w", err)
	}
	if !cur.IsActive {
		return nil, domain.NewValidationError("id", "node is inactive", domain.ErrInactiveNode)
	}

	next := cur.Clone()
	changes := patch.Apply(next)
	if len(changes) == 0 {
		return cur, nil
	}
	if field := amountField(changes); field != "" {
		if err := s.ensureLeaf(ctx, cur, field); err != nil {
			return nil, err
		}
	}
	if _, ok := changes["code"]; ok {
		if err := s.ensureCodeFree(ctx, tenantID, cur.ProjectID, next.Code, cur.ID); err != nil {
			return nil, err
		}
	}

	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	if err := s.persist(ctx, cur, next, change{
		kind:    domain.ChangeTypeFor(changes),
		event:   domain.AuditEventUpdate,
		risk:    updateRisk(changes),
		summary: "Updated " + strings.Join(fields, ", "),
		reason:  reason,
		actor:   actor,
	}); err != nil {
		return nil, fmt.Errorf("breakdown.Service.Update: %w", err)
	}

	if domain.HasFinancialChange(changes) && next.ParentID != nil {
		if err := s.recalcAncestors(ctx, tenantID, next.ProjectID, *next.ParentID); err != nil {
			return nil, fmt.Errorf("breakdown.Service.Update: %w", err)
		}
	}

	s.recalculateVariance(ctx, tenantID, next.ProjectID)
	s.emit(ctx, feed.BreakdownUpdated, next)
	return next, nil
}

// amountField returns the first aggregated amount field touched by changes.
func amountField(changes map[string]domain.FieldChange) string {
	for _, f := range []string{"planned_amount", "committed_amount", "actual_amount"} {
		if _, ok := changes[f]; ok {
			return f
		}
	}
	return ""
}

// ensureLeaf refuses direct amount edits on a node whose totals are derived
// from its active children.
func (s *Service) ensureLeaf(ctx context.Context, n *domain.POBreakdown, field string) error {
	all, err := s.nodes.ListByProject(ctx, n.TenantID, n.ProjectID, false)
	if err != nil {
		return fmt.Errorf("breakdown.Service.Update: %w", err)
	}
	if len(newTree(all).activeChildren(n.ID)) > 0 {
		return domain.NewValidationError(field, "amounts of a node with active children are derived from its children", domain.ErrHasActiveChildren)
	}
	return nil
}

func updateRisk(changes map[string]domain.FieldChange) domain.RiskLevel {
	if domain.HasFinancialChange(changes) {
		return domain.RiskMedium
	}
	return domain.RiskLow
}

// MoveResult describes an executed or would-be move.
type MoveResult struct {
	Node                *domain.POBreakdown `json:"node"`
	OldParentID         *uuid.UUID          `json:"old_parent_id"`
	NewParentID         *uuid.UUID          `json:"new_parent_id"`
	OldLevel            int                 `json:"old_level"`
	NewLevel            int                 `json:"new_level"`
	AffectedDescendants int                 `json:"affected_descendants"`
	ValidateOnly        bool                `json:"validate_only"`
}

// movePlan is a validated reparenting of one node.
type movePlan struct {
	tree        *tree
	node        *domain.POBreakdown
	newParentID *uuid.UUID
	newLevel    int
	newPath     []string
	descendants []uuid.UUID
}

// planMove runs every move check against a fresh index of the project.
func (s *Service) planMove(ctx context.Context, node *domain.POBreakdown, newParentID *uuid.UUID) (*movePlan, error) {
	all, err := s.nodes.ListByProject(ctx, node.TenantID, node.ProjectID, true)
	if err != nil {
		return nil, fmt.Errorf("list project nodes: %w", err)
	}
	t := newTree(all)

	newLevel := 0
	if newParentID != nil {
		if *newParentID == node.ID {
			return nil, domain.NewValidationError("parent_id", "node cannot be its own parent", domain.ErrCircularReference)
		}
		parent, ok := t.get(*newParentID)
		if !ok {
			if _, err := s.nodes.GetByID(ctx, node.TenantID, *newParentID); err == nil {
				return nil, domain.NewValidationError("parent_id", "parent belongs to another project", domain.ErrParentMismatch)
			}
			return nil, domain.NewValidationError("parent_id", "parent not found", domain.ErrNotFound)
		}
		if !parent.IsActive {
			return nil, domain.NewValidationError("parent_id", "parent is inactive", domain.ErrInactiveNode)
		}
		if t.isDescendant(node.ID, parent.ID) {
			return nil, domain.NewValidationError("parent_id", "target parent is a descendant of the node", domain.ErrCircularReference)
		}
		newLevel = parent.Level + 1
	}

	depth := t.maxRelativeDepth(node.ID)
	if newLevel+depth > domain.MaxHierarchyDepth {
		return nil, domain.NewValidationError("parent_id",
			fmt.Sprintf("move would place a descendant at level %d, maximum is %d", newLevel+depth, domain.MaxHierarchyDepth),
			domain.ErrMaxDepthExceeded)
	}

	return &movePlan{
		tree:        t,
		node:        node,
		newParentID: cloneID(newParentID),
		newLevel:    newLevel,
		newPath:     t.pathTo(newParentID),
		descendants: t.descendants(node.ID),
	}, nil
}

// Move reparents a node (nil newParentID makes it a root). With validateOnly
// every check runs and the would-be result is returned without writing.
func (s *Service) Move(ctx context.Context, tenantID, id uuid.UUID, newParentID *uuid.UUID, actor domain.Actor, validateOnly bool) (*MoveResult, error) {
	cur, err := s.nodes.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("breakdown.Service.Move: %w", err)
	}
	if !cur.IsActive {
		return nil, domain.NewValidationError("id", "node is inactive", domain.ErrInactiveNode)
	}

	plan, err := s.planMove(ctx, cur, newParentID)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("breakdown.Service.Move: %w", err)
	}

	next := cur.Clone()
	applyPlacement(next, plan)

	res := &MoveResult{
		Node:                next,
		OldParentID:         cloneID(cur.ParentID),
		NewParentID:         cloneID(newParentID),
		OldLevel:            cur.Level,
		NewLevel:            plan.newLevel,
		AffectedDescendants: len(plan.descendants),
		ValidateOnly:        validateOnly,
	}
	if validateOnly || domain.SameParent(cur.ParentID, newParentID) {
		if !validateOnly {
			res.Node = cur
		}
		return res, nil
	}

	if err := s.persist(ctx, cur, next, change{
		kind:    domain.ChangeMove,
		event:   domain.AuditEventMove,
		risk:    domain.RiskMedium,
		summary: fmt.Sprintf("Moved from level %d to level %d", cur.Level, plan.newLevel),
		actor:   actor,
	}); err != nil {
		return nil, fmt.Errorf("breakdown.Service.Move: %w", err)
	}
	if err := s.relevelDescendants(ctx, plan, next); err != nil {
		return nil, fmt.Errorf("breakdown.Service.Move: %w", err)
	}
	if err := s.recalcBoth(ctx, cur, next); err != nil {
		return nil, fmt.Errorf("breakdown.Service.Move: %w", err)
	}

	s.recalculateVariance(ctx, tenantID, cur.ProjectID)
	s.emit(ctx, feed.BreakdownMoved, next)
	return res, nil
}

// applyPlacement sets parent, level, path and SAP lineage on n from plan.
func applyPlacement(n *domain.POBreakdown, plan *movePlan) {
	if n.OriginalParentID == nil && plan.node.ParentID != nil && !domain.SameParent(plan.node.ParentID, plan.newParentID) {
		n.OriginalParentID = cloneID(plan.node.ParentID)
	}
	n.ParentID = cloneID(plan.newParentID)
	n.Level = plan.newLevel
	n.HierarchyPath = slices.Clone(plan.newPath)
	n.HasCustomParent = n.OriginalParentID != nil && !domain.SameParent(n.OriginalParentID, n.ParentID)
}

// relevelDescendants rewrites level and path of every node under the moved
// one, parents before children. Each rewrite is a versioned system change.
func (s *Service) relevelDescendants(ctx context.Context, plan *movePlan, moved *domain.POBreakdown) error {
	plan.tree.replace(moved)
	for _, did := range plan.descendants {
		d, ok := plan.tree.get(did)
		if !ok || d.ParentID == nil {
			continue
		}
		parent, ok := plan.tree.get(*d.ParentID)
		if !ok {
			continue
		}

		next := d.Clone()
		next.Level = parent.Level + 1
		next.HierarchyPath = append(slices.Clone(parent.HierarchyPath), parent.ID.String())
		if next.Level == d.Level && slices.Equal(next.HierarchyPath, d.HierarchyPath) {
			continue
		}

		if err := s.persist(ctx, d, next, change{
			kind:    domain.ChangeMove,
			event:   domain.AuditEventMove,
			risk:    domain.RiskLow,
			summary: fmt.Sprintf("Re-leveled after ancestor %s moved", moved.ID),
			actor:   domain.SystemActor(),
		}); err != nil {
			return fmt.Errorf("relevel %s: %w", d.ID, err)
		}
		plan.tree.replace(next)
	}
	return nil
}

// recalcBoth refreshes the totals above the old and the new position.
func (s *Service) recalcBoth(ctx context.Context, before, after *domain.POBreakdown) error {
	if before.ParentID != nil {
		if err := s.recalcAncestors(ctx, before.TenantID, before.ProjectID, *before.ParentID); err != nil {
			return err
		}
	}
	if after.ParentID != nil && !domain.SameParent(before.ParentID, after.ParentID) {
		if err := s.recalcAncestors(ctx, after.TenantID, after.ProjectID, *after.ParentID); err != nil {
			return err
		}
	}
	return nil
}

// Delete soft-deletes a node, or removes it permanently when hard is set.
// Nodes with active children are refused; a hard delete also refuses
// soft-deleted children, which would otherwise be orphaned.
func (s *Service) Delete(ctx context.Context, tenantID, id uuid.UUID, hard bool, actor domain.Actor, reason string) error {
	n, err := s.delete(ctx, tenantID, id, hard, actor, reason)
	if err != nil {
		return err
	}
	s.recalculateVariance(ctx, tenantID, n.ProjectID)
	return nil
}

func (s *Service) delete(ctx context.Context, tenantID, id uuid.UUID, hard bool, actor domain.Actor, reason string) (*domain.POBreakdown, error) {
	cur, err := s.nodes.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("breakdown.Service.Delete: %w", err)
	}

	all, err := s.nodes.ListByProject(ctx, tenantID, cur.ProjectID, true)
	if err != nil {
		return nil, fmt.Errorf("breakdown.Service.Delete: %w", err)
	}
	t := newTree(all)
	if len(t.activeChildren(cur.ID)) > 0 {
		return nil, domain.NewValidationError("id", "node has active children", domain.ErrHasActiveChildren)
	}

	if hard {
		if len(t.children[cur.ID]) > 0 {
			return nil, domain.NewValidationError("id", "node has soft-deleted children", domain.ErrHasActiveChildren)
		}
		if err := s.nodes.Delete(ctx, tenantID, id); err != nil {
			return nil, fmt.Errorf("breakdown.Service.Delete: %w", err)
		}
		if err := s.record(ctx, cur, nil, change{
			kind:      domain.ChangeDelete,
			event:     domain.AuditEventDeletion,
			risk:      domain.RiskHigh,
			summary:   fmt.Sprintf("Permanently deleted breakdown %q", cur.Name),
			reason:    reason,
			actor:     actor,
			versionNo: domain.DeleteVersionNumber,
		}); err != nil {
			return nil, fmt.Errorf("breakdown.Service.Delete: %w", err)
		}
	} else {
		if !cur.IsActive {
			return nil, domain.NewValidationError("id", "node is already deleted", domain.ErrInactiveNode)
		}
		next := cur.Clone()
		next.IsActive = false
		if err := s.persist(ctx, cur, next, change{
			kind:    domain.ChangeDelete,
			event:   domain.AuditEventDeletion,
			risk:    domain.RiskMedium,
			summary: fmt.Sprintf("Deleted breakdown %q", cur.Name),
			reason:  reason,
			actor:   actor,
		}); err != nil {
			return nil, fmt.Errorf("breakdown.Service.Delete: %w", err)
		}
	}

	// A parent left without active children keeps its last aggregated totals
	// and becomes editable as a leaf again.
	if cur.ParentID != nil && cur.IsActive {
		if err := s.recalcAncestors(ctx, tenantID, cur.ProjectID, *cur.ParentID); err != nil {
			return nil, fmt.Errorf("breakdown.Service.Delete: %w", err)
		}
	}

	s.emit(ctx, feed.BreakdownDeleted, cur)
	return cur, nil
}

// RestoreSoftDeleted reactivates a soft-deleted node. History is kept; the
// restoration itself is appended as an update version.
func (s *Service) RestoreSoftDeleted(ctx context.Context, tenantID, id uuid.UUID, actor domain.Actor, reason string) (*domain.POBreakdown, error) {
	cur, err := s.nodes.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("breakdown.Service.RestoreSoftDeleted: %w", err)
	}
	if cur.IsActive {
		return nil, domain.NewValidationError("id", "node is not deleted", nil)
	}
	if cur.ParentID != nil {
		parent, err := s.nodes.GetByID(ctx, tenantID, *cur.ParentID)
		if err != nil {
			return nil, fmt.Errorf("breakdown.Service.RestoreSoftDeleted: load parent: %w", err)
		}
		if !parent.IsActive {
			return nil, domain.NewValidationError("parent_id", "parent is inactive; restore it first", domain.ErrInactiveNode)
		}
	}
	if err := s.ensureCodeFree(ctx, tenantID, cur.ProjectID, cur.Code, cur.ID); err != nil {
		return nil, err
	}

	next := cur.Clone()
	next.IsActive = true
	why := "Restored from soft delete"
	if reason != "" {
		why += ": " + reason
	}
	if err := s.persist(ctx, cur, next, change{
		kind:    domain.ChangeUpdate,
		event:   domain.AuditEventRestoration,
		risk:    domain.RiskMedium,
		summary: fmt.Sprintf("Restored breakdown %q", cur.Name),
		reason:  why,
		actor:   actor,
	}); err != nil {
		return nil, fmt.Errorf("breakdown.Service.RestoreSoftDeleted: %w", err)
	}

	if next.ParentID != nil {
		if err := s.recalcAncestors(ctx, tenantID, next.ProjectID, *next.ParentID); err != nil {
			return nil, fmt.Errorf("breakdown.Service.RestoreSoftDeleted: %w", err)
		}
	}

	s.recalculateVariance(ctx, tenantID, next.ProjectID)
	s.emit(ctx, feed.BreakdownRestored, next)
	return next, nil
}

// RestoreToVersion reapplies the business fields of the given version's
// before-snapshot. System fields are left alone; the restoration is recorded
// as a new update version.
func (s *Service) RestoreToVersion(ctx context.Context, tenantID, id uuid.UUID, version int, actor domain.Actor, reason string) (*domain.POBreakdown, error) {
	rec, err := s.versions.GetByNumber(ctx, tenantID, id, version)
	if err != nil {
		return nil, fmt.Errorf("breakdown.Service.RestoreToVersion: %w", err)
	}
	if rec.BeforeValues == nil {
		return nil, domain.NewValidationError("version", fmt.Sprintf("version %d has no prior state to restore", version), nil)
	}
	snap, err := domain.ParseSnapshot(rec.BeforeValues)
	if err != nil {
		return nil, fmt.Errorf("breakdown.Service.RestoreToVersion: %w", err)
	}

	cur, err := s.nodes.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("breakdown.Service.RestoreToVersion: %w", err)
	}
	if !cur.IsActive {
		return nil, domain.NewValidationError("id", "node is inactive; restore it first", domain.ErrInactiveNode)
	}

	next := cur.Clone()
	next.Name = snap.Name
	next.Code = snap.Code
	next.PlannedAmount = snap.PlannedAmount
	next.CommittedAmount = snap.CommittedAmount
	next.ActualAmount = snap.ActualAmount
	next.Currency = snap.Currency
	next.ExchangeRate = snap.ExchangeRate
	next.Category = snap.Category
	next.Subcategory = snap.Subcategory
	next.Tags = domain.NormalizeTags(snap.Tags)
	next.CustomFields = domain.CloneMap(snap.CustomFields)
	next.Notes = snap.Notes
	next.RecalculateRemaining()

	if next.Code != cur.Code {
		if err := domain.ValidateCode(next.Code); err != nil {
			return nil, err
		}
		if err := s.ensureCodeFree(ctx, tenantID, cur.ProjectID, next.Code, cur.ID); err != nil {
			return nil, err
		}
	}

	var plan *movePlan
	if !domain.SameParent(cur.ParentID, snap.ParentID) {
		if plan, err = s.planMove(ctx, cur, snap.ParentID); err != nil {
			if errors.Is(err, domain.ErrValidation) {
				return nil, err
			}
			return nil, fmt.Errorf("breakdown.Service.RestoreToVersion: %w", err)
		}
		applyPlacement(next, plan)
	}

	why := fmt.Sprintf("Restored to version %d", version)
	if reason != "" {
		why += ": " + reason
	}
	if err := s.persist(ctx, cur, next, change{
		kind:    domain.ChangeUpdate,
		event:   domain.AuditEventRestoration,
		risk:    domain.RiskMedium,
		summary: why,
		reason:  why,
		actor:   actor,
	}); err != nil {
		return nil, fmt.Errorf("breakdown.Service.RestoreToVersion: %w", err)
	}

	if plan != nil {
		if err := s.relevelDescendants(ctx, plan, next); err != nil {
			return nil, fmt.Errorf("breakdown.Service.RestoreToVersion: %w", err)
		}
	}
	// Restored amounts on a parent are re-derived from its active children.
	if err := s.recalcAncestors(ctx, tenantID, next.ProjectID, next.ID); err != nil {
		return nil, fmt.Errorf("breakdown.Service.RestoreToVersion: %w", err)
	}
	if err := s.recalcBoth(ctx, cur, next); err != nil {
		return nil, fmt.Errorf("breakdown.Service.RestoreToVersion: %w", err)
	}

	s.recalculateVariance(ctx, tenantID, next.ProjectID)
	s.emit(ctx, feed.BreakdownUpdated, next)
	return next, nil
}

// Get returns one node, active or not.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.POBreakdown, error) {
	n, err := s.nodes.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("breakdown.Service.Get: %w", err)
	}
	return n, nil
}

// List returns the nodes of a project ordered by level.
func (s *Service) List(ctx context.Context, tenantID, projectID uuid.UUID, includeInactive bool) ([]*domain.POBreakdown, error) {
	nodes, err := s.nodes.ListByProject(ctx, tenantID, projectID, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("breakdown.Service.List: %w", err)
	}
	return nodes, nil
}

// Rollups computes subtree totals over the active nodes of a project.
func (s *Service) Rollups(ctx context.Context, tenantID, projectID uuid.UUID) (map[uuid.UUID]Rollup, error) {
	nodes, err := s.nodes.ListByProject(ctx, tenantID, projectID, false)
	if err != nil {
		return nil, fmt.Errorf("breakdown.Service.Rollups: %w", err)
	}
	return CalculateCostRollups(nodes), nil
}

// Validate runs ValidateHierarchy over the active nodes of a project.
func (s *Service) Validate(ctx context.Context, tenantID, projectID uuid.UUID) (HierarchyReport, error) {
	nodes, err := s.nodes.ListByProject(ctx, tenantID, projectID, false)
	if err != nil {
		return HierarchyReport{}, fmt.Errorf("breakdown.Service.Validate: %w", err)
	}
	return ValidateHierarchy(nodes), nil
}

// recalcAncestors walks from startID to the root and sets each node's
// planned, committed and actual amounts to the sum over its active children.
// A node without active children keeps its own amounts, including a former
// parent whose last child was deleted or moved away: its stale totals stay
// until they are edited directly.
func (s *Service) recalcAncestors(ctx context.Context, tenantID, projectID, startID uuid.UUID) error {
	all, err := s.nodes.ListByProject(ctx, tenantID, projectID, true)
	if err != nil {
		return fmt.Errorf("recalculate totals: %w", err)
	}
	t := newTree(all)

	chain := append([]uuid.UUID{startID}, t.ancestors(startID)...)
	for _, id := range chain {
		n, ok := t.get(id)
		if !ok || !n.IsActive {
			return nil
		}
		children := t.activeChildren(id)
		if len(children) == 0 {
			continue
		}

		var planned, committed, actual decimal.Decimal
		for _, c := range children {
			planned = planned.Add(c.PlannedAmount)
			committed = committed.Add(c.CommittedAmount)
			actual = actual.Add(c.ActualAmount)
		}
		if n.PlannedAmount.Equal(planned) && n.CommittedAmount.Equal(committed) && n.ActualAmount.Equal(actual) {
			continue
		}

		next := n.Clone()
		next.PlannedAmount = planned
		next.CommittedAmount = committed
		next.ActualAmount = actual
		next.RecalculateRemaining()

		if err := s.persist(ctx, n, next, change{
			kind:    domain.ChangeFinancialUpdate,
			event:   domain.AuditEventUpdate,
			risk:    domain.RiskLow,
			summary: "Totals recalculated from children",
			actor:   domain.SystemActor(),
		}); err != nil {
			return fmt.Errorf("recalculate totals of %s: %w", id, err)
		}
		t.replace(next)
	}
	return nil
}

// persist writes the updated node, then its version record and audit event.
func (s *Service) persist(ctx context.Context, before, after *domain.POBreakdown, c change) error {
	after.Version = before.Version + 1
	after.UpdatedAt = s.now().UTC()

	if err := s.nodes.Update(ctx, after); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.NewValidationError("code", fmt.Sprintf("code %q already exists in project", after.Code), domain.ErrDuplicateCode)
		}
		return err
	}
	return s.record(ctx, before, after, c)
}

// record writes the version record and audit event of a mutation. before is
// nil for creations and after is nil for hard deletes.
func (s *Service) record(ctx context.Context, before, after *domain.POBreakdown, c change) error {
	var beforeSnap, afterSnap map[string]any
	ref := after
	if before != nil {
		beforeSnap = before.Snapshot()
		ref = before
	}
	if after != nil {
		afterSnap = after.Snapshot()
		ref = after
	}

	versionNo := c.versionNo
	if versionNo == 0 {
		versionNo = ref.Version
	}

	v := &domain.VersionRecord{
		ID:            uuid.New(),
		TenantID:      ref.TenantID,
		ProjectID:     ref.ProjectID,
		EntityType:    domain.EntityPOBreakdown,
		EntityID:      ref.ID,
		VersionNumber: versionNo,
		ChangeType:    c.kind,
		ChangeSummary: c.summary,
		Changes:       diffSnapshots(beforeSnap, afterSnap),
		BeforeValues:  beforeSnap,
		AfterValues:   afterSnap,
		ChangedBy:     c.actor.ID,
		ChangedAt:     s.now().UTC(),
		Reason:        c.reason,
		ImportBatchID: c.batchID,
		IPAddress:     c.actor.IPAddress,
		UserAgent:     c.actor.UserAgent,
	}
	if err := s.versions.Create(ctx, v); err != nil {
		return fmt.Errorf("create version record: %w", err)
	}

	details := map[string]any{
		"change_type":    string(c.kind),
		"version_number": versionNo,
		"project_id":     ref.ProjectID.String(),
	}
	if c.reason != "" {
		details["reason"] = c.reason
	}
	if _, err := s.audit.LogEvent(ctx, audit.Event{
		TenantID:    ref.TenantID,
		EntityType:  domain.EntityPOBreakdown,
		EntityID:    ref.ID,
		EventType:   c.event,
		Description: c.summary,
		Details:     details,
		OldValues:   beforeSnap,
		NewValues:   afterSnap,
		Actor:       c.actor,
		RiskLevel:   c.risk,
	}); err != nil {
		return fmt.Errorf("log audit event: %w", err)
	}
	return nil
}

// diffSnapshots returns the per-field changes between two snapshots, leaving
// out the version counter.
func diffSnapshots(before, after map[string]any) map[string]domain.FieldChange {
	out := make(map[string]domain.FieldChange)
	for k, nv := range after {
		if k == "version" {
			continue
		}
		ov, ok := before[k]
		if !ok || !reflect.DeepEqual(ov, nv) {
			out[k] = domain.FieldChange{Old: ov, New: nv}
		}
	}
	for k, ov := range before {
		if k == "version" {
			continue
		}
		if _, ok := after[k]; !ok {
			out[k] = domain.FieldChange{Old: ov, New: nil}
		}
	}
	return out
}

// ensureCodeFree rejects code when another active node of the project uses it.
func (s *Service) ensureCodeFree(ctx context.Context, tenantID, projectID uuid.UUID, code string, self uuid.UUID) error {
	if code == "" {
		return nil
	}
	existing, err := s.nodes.GetByCode(ctx, tenantID, projectID, code)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("breakdown: check code: %w", err)
	}
	if existing.ID == self {
		return nil
	}
	return domain.NewValidationError("code", fmt.Sprintf("code %q already exists in project", code), domain.ErrDuplicateCode)
}

// recalculateVariance refreshes project variance after a mutation. The
// mutation has already been committed, so a failure here is only logged.
func (s *Service) recalculateVariance(ctx context.Context, tenantID, projectID uuid.UUID) {
	if s.variance == nil {
		return
	}
	sideEffect(ctx, "breakdown: variance recalculation", func(ctx context.Context) error {
		return s.variance.Recalculate(ctx, tenantID, projectID)
	})
}

func (s *Service) emit(ctx context.Context, kind string, n *domain.POBreakdown) {
	s.feed.Emit(ctx, feed.Event{
		Type:      kind,
		TenantID:  n.TenantID,
		ProjectID: n.ProjectID,
		EntityID:  n.ID,
		Data:      n.Snapshot(),
	})
}

// sideEffect runs a non-critical step: failures are logged and never
// returned to the caller.
func sideEffect(ctx context.Context, what string, fn func(ctx context.Context) error) {
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Str("step", what).Msg("breakdown: side effect failed")
	}
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
