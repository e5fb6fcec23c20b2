package breakdown

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gosuda/costtrail/internal/audit"
	"github.com/gosuda/costtrail/internal/domain"
	"github.com/gosuda/costtrail/internal/feed"
)

// ImportRow is one already-parsed and column-mapped row of an import file.
type ImportRow struct {
	RowNumber       int                  `json:"row_number"`
	Name            string               `json:"name"`
	Code            string               `json:"code,omitempty"`
	ParentCode      string               `json:"parent_code,omitempty"`
	Type            domain.BreakdownType `json:"breakdown_type,omitempty"`
	SAPPONumber     string               `json:"sap_po_number,omitempty"`
	SAPLineItem     string               `json:"sap_line_item,omitempty"`
	PlannedAmount   decimal.Decimal      `json:"planned_amount"`
	CommittedAmount decimal.Decimal      `json:"committed_amount"`
	ActualAmount    decimal.Decimal      `json:"actual_amount"`
	Currency        string               `json:"currency,omitempty"`
	Category        string               `json:"category,omitempty"`
	Subcategory     string               `json:"subcategory,omitempty"`
	Tags            []string             `json:"tags,omitempty"`
	Notes           string               `json:"notes,omitempty"`
	CustomFields    map[string]any       `json:"custom_fields,omitempty"`
}

type ImportOptions struct {
	// CreateMissingParents synthesizes a placeholder root for a parent code
	// that is neither in the file nor in the project.
	CreateMissingParents bool
	// SkipDuplicates counts rows with an existing code as skipped instead of failed.
	SkipDuplicates bool
}

// ImportRequest describes one import run.
type ImportRequest struct {
	TenantID  uuid.UUID
	ProjectID uuid.UUID
	FileName  string
	Rows      []ImportRow
	Options   ImportOptions
	Actor     domain.Actor
}

// Importer feeds import rows through the create path of a Service and
// tracks the outcome in an import batch.
type Importer struct {
	svc     *Service
	batches domain.ImportBatchRepository
}

func NewImporter(svc *Service, batches domain.ImportBatchRepository) *Importer {
	return &Importer{svc: svc, batches: batches}
}

// importRun holds the mutable state of a single Import call.
type importRun struct {
	req    ImportRequest
	batch  *domain.ImportBatch
	byCode map[string]*domain.POBreakdown
}

// Import creates nodes for rows in parent-before-child order. A failing row
// is recorded and processing continues; the batch status reflects the mix.
func (im *Importer) Import(ctx context.Context, req ImportRequest) (*domain.ImportBatch, error) {
	now := im.svc.now().UTC()
	batch := &domain.ImportBatch{
		ID:        uuid.New(),
		TenantID:  req.TenantID,
		ProjectID: req.ProjectID,
		FileName:  req.FileName,
		Status:    domain.ImportPending,
		TotalRows: len(req.Rows),
		CreatedBy: req.Actor.ID,
		CreatedAt: now,
	}
	if err := im.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("breakdown.Importer.Import: %w", err)
	}

	run := &importRun{req: req, batch: batch, byCode: make(map[string]*domain.POBreakdown)}

	pending := slices.Clone(req.Rows)
	slices.SortStableFunc(pending, func(a, b ImportRow) int { return cmp.Compare(a.RowNumber, b.RowNumber) })

	// Each pass creates the rows whose parent is resolvable; children of rows
	// still pending wait for the next pass.
	for len(pending) > 0 {
		inFile := make(map[string]bool, len(pending))
		for _, r := range pending {
			if r.Code != "" {
				inFile[r.Code] = true
			}
		}

		var deferred []ImportRow
		for _, row := range pending {
			parent, ready, err := im.resolveParent(ctx, run, row, inFile)
			if err != nil {
				return nil, fmt.Errorf("breakdown.Importer.Import: %w", err)
			}
			if !ready {
				deferred = append(deferred, row)
				continue
			}
			im.processRow(ctx, run, row, parent)
		}
		if len(deferred) == len(pending) {
			for _, row := range deferred {
				batch.ProcessedRows++
				batch.FailedRows++
				batch.AddIssue(row.RowNumber, domain.IssueError, "parent_code", row.ParentCode,
					"circular or unresolvable parent reference", im.svc.now().UTC())
			}
			break
		}
		pending = deferred
	}

	batch.Finalize(im.svc.now().UTC())
	if err := im.batches.Update(ctx, batch); err != nil {
		return nil, fmt.Errorf("breakdown.Importer.Import: %w", err)
	}

	im.svc.recalculateVariance(ctx, req.TenantID, req.ProjectID)
	im.logBatch(ctx, batch, req.Actor, fmt.Sprintf("Imported %d of %d rows from %s", batch.SuccessfulRows, batch.TotalRows, batch.FileName))
	im.svc.feed.Emit(ctx, feed.Event{
		Type:      feed.ImportFinished,
		TenantID:  batch.TenantID,
		ProjectID: batch.ProjectID,
		EntityID:  batch.ID,
		Data:      map[string]any{"status": batch.Status, "successful_rows": batch.SuccessfulRows, "failed_rows": batch.FailedRows},
	})
	return batch, nil
}

// resolveParent finds the parent of a row. ready is false while the parent
// row has not been created yet.
func (im *Importer) resolveParent(ctx context.Context, run *importRun, row ImportRow, inFile map[string]bool) (*domain.POBreakdown, bool, error) {
	if row.ParentCode == "" {
		return nil, true, nil
	}
	if p, ok := run.byCode[row.ParentCode]; ok {
		return p, true, nil
	}
	if inFile[row.ParentCode] && row.ParentCode != row.Code {
		return nil, false, nil
	}

	existing, err := im.svc.nodes.GetByCode(ctx, run.req.TenantID, run.req.ProjectID, row.ParentCode)
	if err == nil {
		run.byCode[row.ParentCode] = existing
		return existing, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	// Parent is missing everywhere; processRow reports or synthesizes it.
	return nil, true, nil
}

func (im *Importer) processRow(ctx context.Context, run *importRun, row ImportRow, parent *domain.POBreakdown) {
	batch := run.batch
	batch.ProcessedRows++
	at := im.svc.now().UTC()

	if row.ParentCode != "" && parent == nil {
		if row.ParentCode == row.Code {
			batch.FailedRows++
			batch.AddIssue(row.RowNumber, domain.IssueError, "parent_code", row.ParentCode, "row cannot be its own parent", at)
			return
		}
		if !run.req.Options.CreateMissingParents {
			batch.FailedRows++
			batch.AddIssue(row.RowNumber, domain.IssueError, "parent_code", row.ParentCode, "parent code not found", at)
			return
		}
		placeholder, err := im.createPlaceholder(ctx, run, row.ParentCode)
		if err != nil {
			batch.FailedRows++
			batch.AddIssue(row.RowNumber, domain.IssueError, "parent_code", row.ParentCode, "create missing parent: "+err.Error(), at)
			return
		}
		batch.AddIssue(row.RowNumber, domain.IssueWarning, "parent_code", row.ParentCode, "missing parent was auto-created", at)
		parent = placeholder
	}

	if row.Code != "" {
		if _, dup := run.byCode[row.Code]; dup || im.codeExists(ctx, run, row.Code) {
			batch.AddIssue(row.RowNumber, domain.IssueConflict, "code", row.Code, "code already exists in project", at)
			if run.req.Options.SkipDuplicates {
				batch.SkippedRows++
			} else {
				batch.FailedRows++
			}
			return
		}
	}

	in := CreateInput{
		TenantID:        run.req.TenantID,
		ProjectID:       run.req.ProjectID,
		Name:            row.Name,
		Code:            row.Code,
		Type:            row.Type,
		SAPPONumber:     row.SAPPONumber,
		SAPLineItem:     row.SAPLineItem,
		PlannedAmount:   row.PlannedAmount,
		CommittedAmount: row.CommittedAmount,
		ActualAmount:    row.ActualAmount,
		Currency:        row.Currency,
		Category:        row.Category,
		Subcategory:     row.Subcategory,
		CustomFields:    row.CustomFields,
		Tags:            row.Tags,
		Notes:           row.Notes,
		ImportBatchID:   &batch.ID,
		Actor:           run.req.Actor,
	}
	if in.Type == "" {
		in.Type = domain.BreakdownSAPStandard
	}
	if parent != nil {
		in.ParentID = &parent.ID
	}

	n, err := im.svc.create(ctx, in)
	if err != nil {
		batch.FailedRows++
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			batch.AddIssue(row.RowNumber, domain.IssueError, ve.Field, "", ve.Reason, at)
		} else {
			batch.AddIssue(row.RowNumber, domain.IssueError, "", "", err.Error(), at)
			log.Error().Err(err).Int("row", row.RowNumber).Str("batch_id", batch.ID.String()).Msg("breakdown.Importer.Import: row failed")
		}
		return
	}

	batch.SuccessfulRows++
	im.track(run, n)
}

func (im *Importer) codeExists(ctx context.Context, run *importRun, code string) bool {
	_, err := im.svc.nodes.GetByCode(ctx, run.req.TenantID, run.req.ProjectID, code)
	return err == nil
}

func (im *Importer) createPlaceholder(ctx context.Context, run *importRun, code string) (*domain.POBreakdown, error) {
	n, err := im.svc.create(ctx, CreateInput{
		TenantID:      run.req.TenantID,
		ProjectID:     run.req.ProjectID,
		Name:          "Auto-created: " + code,
		Code:          code,
		Type:          domain.BreakdownSAPStandard,
		Notes:         "Placeholder created for a missing parent during import",
		ImportBatchID: &run.batch.ID,
		Actor:         domain.SystemActor(),
	})
	if err != nil {
		return nil, err
	}
	im.track(run, n)
	return n, nil
}

func (im *Importer) track(run *importRun, n *domain.POBreakdown) {
	b := run.batch
	b.CreatedNodeIDs = append(b.CreatedNodeIDs, n.ID)
	b.MaxHierarchyDepth = max(b.MaxHierarchyDepth, n.Level)
	if n.ParentID == nil {
		b.HierarchiesCreated++
	}
	if n.Code != "" {
		run.byCode[n.Code] = n
	}
}

// Get returns an import batch with its issues.
func (im *Importer) Get(ctx context.Context, tenantID, batchID uuid.UUID) (*domain.ImportBatch, error) {
	b, err := im.batches.GetByID(ctx, tenantID, batchID)
	if err != nil {
		return nil, fmt.Errorf("breakdown.Importer.Get: %w", err)
	}
	return b, nil
}

// Rollback hard-deletes the nodes an import created, newest first, and marks
// the batch rolled back. Nodes already gone are skipped. A node that cannot
// be removed leaves the batch unchanged and the error is returned.
func (im *Importer) Rollback(ctx context.Context, tenantID, batchID uuid.UUID, actor domain.Actor) (*domain.ImportBatch, error) {
	batch, err := im.batches.GetByID(ctx, tenantID, batchID)
	if err != nil {
		return nil, fmt.Errorf("breakdown.Importer.Rollback: %w", err)
	}
	if !batch.CanRollback || batch.Status == domain.ImportRolledBack {
		return nil, domain.NewValidationError("batch_id", "batch cannot be rolled back", nil)
	}

	reason := "Rollback of import batch " + batch.ID.String()
	var failed []string
	for i := len(batch.CreatedNodeIDs) - 1; i >= 0; i-- {
		id := batch.CreatedNodeIDs[i]
		_, err := im.svc.delete(ctx, tenantID, id, true, actor, reason)
		if err == nil || errors.Is(err, domain.ErrNotFound) {
			continue
		}
		failed = append(failed, id.String()+": "+err.Error())
	}
	im.svc.recalculateVariance(ctx, tenantID, batch.ProjectID)

	if len(failed) > 0 {
		return nil, fmt.Errorf("breakdown.Importer.Rollback: %d nodes not removed: %s: %w",
			len(failed), strings.Join(failed, "; "), domain.ErrConflict)
	}

	batch.Status = domain.ImportRolledBack
	batch.CanRollback = false
	at := im.svc.now().UTC()
	batch.CompletedAt = &at
	if err := im.batches.Update(ctx, batch); err != nil {
		return nil, fmt.Errorf("breakdown.Importer.Rollback: %w", err)
	}

	im.logBatch(ctx, batch, actor, reason)
	return batch, nil
}

// logBatch records the batch outcome in the audit log. The nodes themselves
// are already audited individually, so a failure here is only logged.
func (im *Importer) logBatch(ctx context.Context, batch *domain.ImportBatch, actor domain.Actor, description string) {
	sideEffect(ctx, "breakdown: import audit", func(ctx context.Context) error {
		_, err := im.svc.audit.LogEvent(ctx, audit.Event{
			TenantID:    batch.TenantID,
			EntityType:  "po_import_batch",
			EntityID:    batch.ID,
			EventType:   domain.AuditEventImport,
			Description: description,
			Details: map[string]any{
				"project_id":      batch.ProjectID.String(),
				"file_name":       batch.FileName,
				"status":          string(batch.Status),
				"total_rows":      batch.TotalRows,
				"successful_rows": batch.SuccessfulRows,
				"failed_rows":     batch.FailedRows,
				"skipped_rows":    batch.SkippedRows,
			},
			Actor:     actor,
			RiskLevel: domain.RiskMedium,
		})
		return err
	})
}
