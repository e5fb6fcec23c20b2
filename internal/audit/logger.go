// Package audit writes hash-chained audit events and verifies tenant chains.
package audit

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/costtrail/internal/audit/chain"
	"github.com/gosuda/costtrail/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000

	// encryptedKey wraps ciphertext in stored old/new value maps.
	encryptedKey = "__encrypted"
)

var errNoCipher = errors.New("event is encrypted but no cipher is configured") //nolint:gochecknoglobals // sentinel error

// ComplianceScanner inspects a freshly written event for control violations.
type ComplianceScanner interface {
	CheckEvent(ctx context.Context, e *domain.AuditEvent) error
}

// Escalator pages administrators about failures that must not go unnoticed.
type Escalator interface {
	Escalate(ctx context.Context, severity domain.RiskLevel, subject, detail string) error
}

// Cipher encrypts stored value maps. *secrets.Vault satisfies it.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Event is the caller-supplied content of an audit entry.
type Event struct {
	TenantID            uuid.UUID
	EntityType          string
	EntityID            uuid.UUID
	EventType           domain.AuditEventType
	Description         string
	Details             map[string]any
	OldValues           map[string]any
	NewValues           map[string]any
	Actor               domain.Actor
	RiskLevel           domain.RiskLevel
	ComplianceNotes     string
	RegulatoryReference string
}

// SearchResult is one page of audit events.
type SearchResult struct {
	Events   []*domain.AuditEvent `json:"events"`
	Total    int                  `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// Option configures a Logger.
type Option func(*Logger)

// WithCompliance runs s against every written event in the background.
func WithCompliance(s ComplianceScanner) Option {
	return func(l *Logger) { l.compliance = s }
}

// WithEscalator sets the escalation path for write failures and chain breaks.
func WithEscalator(e Escalator) Option {
	return func(l *Logger) { l.escalator = e }
}

// WithCipher enables encryption of old/new values at rest.
func WithCipher(c Cipher) Option {
	return func(l *Logger) { l.cipher = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// Logger appends events to per-tenant hash chains.
type Logger struct {
	events     domain.AuditRepository
	alerts     domain.IntegrityAlertRepository
	compliance ComplianceScanner
	escalator  Escalator
	cipher     Cipher
	now        func() time.Time

	mu     sync.Mutex
	chains map[string]*chainTail

	pending sync.WaitGroup
}

// NewLogger creates a Logger. alerts may be nil, in which case chain breaks
// are only logged and escalated.
func NewLogger(events domain.AuditRepository, alerts domain.IntegrityAlertRepository, opts ...Option) *Logger {
	l := &Logger{
		events: events,
		alerts: alerts,
		now:    time.Now,
		chains: make(map[string]*chainTail),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cipher == nil {
		log.Warn().Msg("audit.NewLogger: no cipher configured, audit values are stored in plaintext")
	}
	return l
}

// chainTail serializes tail lookup and append for one tenant chain and keeps
// timestamps non-decreasing within the process.
type chainTail struct {
	sync.Mutex
	last time.Time
}

func (l *Logger) tail(scope string) *chainTail {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.chains[scope]
	if !ok {
		t = &chainTail{}
		l.chains[scope] = t
	}
	return t
}

// LogEvent writes a chained event and returns it with plaintext values.
// The compliance scan runs after the write and never fails the call; a
// failed write is escalated and returned.
func (l *Logger) LogEvent(ctx context.Context, in Event) (*domain.AuditEvent, error) {
	if in.EventType == "" {
		return nil, domain.NewValidationError("event_type", "is required", nil)
	}
	if in.EntityType == "" {
		return nil, domain.NewValidationError("entity_type", "is required", nil)
	}
	if in.RiskLevel == "" {
		in.RiskLevel = domain.RiskLow
	}

	details := domain.CloneMap(in.Details)
	if details == nil {
		details = make(map[string]any)
	}
	details["description"] = in.Description
	details["risk_level"] = string(in.RiskLevel)
	details = domain.ToMap(details)

	integrity, err := chain.DataIntegrityHash(in.OldValues, in.NewValues)
	if err != nil {
		return nil, fmt.Errorf("audit.Logger.LogEvent: %w", err)
	}

	e := &domain.AuditEvent{
		ID:                  uuid.New(),
		TenantID:            in.TenantID,
		EntityType:          in.EntityType,
		EntityID:            in.EntityID,
		EventType:           in.EventType,
		Description:         in.Description,
		ActionDetails:       details,
		OldValues:           domain.CloneMap(in.OldValues),
		NewValues:           domain.CloneMap(in.NewValues),
		ActorID:             in.Actor.ID,
		IPAddress:           in.Actor.IPAddress,
		UserAgent:           in.Actor.UserAgent,
		SessionID:           in.Actor.SessionID,
		RiskLevel:           in.RiskLevel,
		ComplianceNotes:     in.ComplianceNotes,
		RegulatoryReference: in.RegulatoryReference,
		DataIntegrityHash:   integrity,
	}

	if err := l.append(ctx, e); err != nil {
		log.Error().Err(err).
			Str("severity", string(domain.RiskCritical)).
			Str("entity_type", e.EntityType).
			Str("entity_id", e.EntityID.String()).
			Str("event_type", string(e.EventType)).
			Msg("audit.Logger.LogEvent: audit write failed")
		l.escalate(ctx, domain.RiskCritical, "Audit write failed",
			fmt.Sprintf("event %s on %s %s was not recorded: %v", e.EventType, e.EntityType, e.EntityID, err))
		return nil, fmt.Errorf("audit.Logger.LogEvent: %w", err)
	}

	if l.compliance != nil {
		scanned := e.Clone()
		bg := context.WithoutCancel(ctx)
		l.pending.Add(1)
		go func() {
			defer l.pending.Done()
			if err := l.compliance.CheckEvent(bg, scanned); err != nil {
				log.Warn().Err(err).Str("event_id", scanned.ID.String()).Msg("audit.Logger.LogEvent: compliance scan failed")
			}
		}()
	}

	return e, nil
}

func (l *Logger) append(ctx context.Context, e *domain.AuditEvent) error {
	tail := l.tail(e.TenantScope())
	tail.Lock()
	defer tail.Unlock()

	// Stored timestamps have microsecond precision; hash what will be read back.
	ts := l.now().UTC().Truncate(time.Microsecond)
	if ts.Before(tail.last) {
		ts = tail.last
	}
	e.Timestamp, e.PerformedAt, e.CreatedAt = ts, ts, ts

	prev, ok, err := l.events.LatestHash(ctx, e.TenantID)
	if err != nil {
		return fmt.Errorf("latest hash: %w", err)
	}
	if !ok {
		prev = chain.GenesisHash
	}

	e.PreviousHash = prev
	e.Hash, err = chain.ComputeHash(chain.FieldsOf(e), prev)
	if err != nil {
		return err
	}

	stored := e.Clone()
	if l.cipher != nil {
		if stored.OldValues, err = l.seal(e.OldValues); err != nil {
			return err
		}
		if stored.NewValues, err = l.seal(e.NewValues); err != nil {
			return err
		}
		stored.Encrypted = true
	}

	if err := l.events.Append(ctx, stored); err != nil {
		return err
	}
	e.Seq = stored.Seq
	tail.last = ts
	return nil
}

// Wait blocks until every background compliance scan has finished.
func (l *Logger) Wait() {
	l.pending.Wait()
}

// GetTrail returns the events of one entity in ascending performed_at order,
// optionally bounded by from/to.
func (l *Logger) GetTrail(ctx context.Context, tenantID uuid.UUID, entityID uuid.UUID, from, to *time.Time) ([]*domain.AuditEvent, error) {
	events, _, err := l.events.Search(ctx, domain.AuditFilter{
		TenantID: tenantID,
		EntityID: &entityID,
		From:     from,
		To:       to,
	})
	if err != nil {
		return nil, fmt.Errorf("audit.Logger.GetTrail: %w", err)
	}

	slices.SortStableFunc(events, func(a, b *domain.AuditEvent) int {
		if c := a.PerformedAt.Compare(b.PerformedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})

	if err := l.openAll(events); err != nil {
		return nil, fmt.Errorf("audit.Logger.GetTrail: %w", err)
	}
	return events, nil
}

// Search returns one page of events matching filter, newest first. page is
// 1-based; pageSize defaults to 50 and is capped at 1000.
func (l *Logger) Search(ctx context.Context, filter domain.AuditFilter, page, pageSize int) (*SearchResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	events, total, err := l.events.Search(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("audit.Logger.Search: %w", err)
	}
	if err := l.openAll(events); err != nil {
		return nil, fmt.Errorf("audit.Logger.Search: %w", err)
	}

	return &SearchResult{Events: events, Total: total, Page: page, PageSize: pageSize}, nil
}

// Get returns a single decrypted event.
func (l *Logger) Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.AuditEvent, error) {
	e, err := l.events.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("audit.Logger.Get: %w", err)
	}
	if err := l.open(e); err != nil {
		return nil, fmt.Errorf("audit.Logger.Get: %w", err)
	}
	return e, nil
}

// VerifyChain checks the links of the tenant chain. A break is reported in
// the result, not as an error.
func (l *Logger) VerifyChain(ctx context.Context, tenantID uuid.UUID) (chain.Result, error) {
	return l.verify(ctx, tenantID, false)
}

// VerifyTenantChain checks the links and recomputes every hash, which also
// detects payload edits that kept the links intact.
func (l *Logger) VerifyTenantChain(ctx context.Context, tenantID uuid.UUID) (chain.Result, error) {
	return l.verify(ctx, tenantID, true)
}

func (l *Logger) verify(ctx context.Context, tenantID uuid.UUID, content bool) (chain.Result, error) {
	events, err := l.events.ListChain(ctx, tenantID)
	if err != nil {
		return chain.Result{}, fmt.Errorf("audit.Logger.VerifyChain: %w", err)
	}

	var res chain.Result
	if content {
		if res, err = chain.VerifyContent(events); err != nil {
			return chain.Result{}, fmt.Errorf("audit.Logger.VerifyChain: %w", err)
		}
	} else {
		res = chain.VerifyChain(events)
	}

	if !res.Valid {
		l.reportBreak(ctx, tenantID, res)
	}
	return res, nil
}

// reportBreak records and escalates a chain break. Failures here are logged
// and never hide the break from the caller.
func (l *Logger) reportBreak(ctx context.Context, tenantID uuid.UUID, res chain.Result) {
	log.Error().
		Str("severity", string(domain.RiskCritical)).
		Str("tenant", domain.TenantScopeOf(tenantID)).
		Int("break_point", res.BreakPoint).
		Str("event_id", res.BrokenEventID.String()).
		Str("expected_hash", res.ExpectedHash).
		Str("actual_hash", res.ActualHash).
		Msg("audit.Logger.VerifyChain: hash chain integrity violation")

	msg := fmt.Sprintf("hash chain broken at position %d (event %s): %s", res.BreakPoint, res.BrokenEventID, res.Reason)

	if l.alerts != nil {
		alert := &domain.IntegrityAlert{
			ID:                    uuid.New(),
			TenantID:              tenantID,
			EventID:               res.BrokenEventID,
			BreakPoint:            res.BreakPoint,
			ExpectedHash:          res.ExpectedHash,
			ActualHash:            res.ActualHash,
			Severity:              domain.RiskCritical,
			Message:               msg,
			RequiresInvestigation: true,
			DetectedAt:            l.now().UTC(),
		}
		if err := l.alerts.Create(ctx, alert); err != nil {
			log.Warn().Err(err).Msg("audit.Logger.VerifyChain: failed to record integrity alert")
		}
	}

	l.escalate(ctx, domain.RiskCritical, "Audit chain integrity violation", msg)
}

func (l *Logger) escalate(ctx context.Context, severity domain.RiskLevel, subject, detail string) {
	if l.escalator == nil {
		return
	}
	if err := l.escalator.Escalate(context.WithoutCancel(ctx), severity, subject, detail); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("audit.Logger: escalation failed")
	}
}

func (l *Logger) seal(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode values: %w", err)
	}
	ct, err := l.cipher.Encrypt(string(raw))
	if err != nil {
		return nil, fmt.Errorf("encrypt values: %w", err)
	}
	return map[string]any{encryptedKey: ct}, nil
}

func (l *Logger) unseal(m map[string]any) (map[string]any, error) {
	ct, ok := m[encryptedKey].(string)
	if !ok {
		return m, nil
	}
	if l.cipher == nil {
		return nil, errNoCipher
	}
	pt, err := l.cipher.Decrypt(ct)
	if err != nil {
		return nil, fmt.Errorf("decrypt values: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(pt), &out); err != nil {
		return nil, fmt.Errorf("decode values: %w", err)
	}
	return out, nil
}

func (l *Logger) open(e *domain.AuditEvent) error {
	if !e.Encrypted {
		return nil
	}
	var err error
	if e.OldValues, err = l.unseal(e.OldValues); err != nil {
		return fmt.Errorf("event %s: %w", e.ID, err)
	}
	if e.NewValues, err = l.unseal(e.NewValues); err != nil {
		return fmt.Errorf("event %s: %w", e.ID, err)
	}
	e.Encrypted = false
	return nil
}

func (l *Logger) openAll(events []*domain.AuditEvent) error {
	for _, e := range events {
		if err := l.open(e); err != nil {
			return err
		}
	}
	return nil
}
