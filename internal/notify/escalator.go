package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/costtrail/internal/domain"
	"github.com/gosuda/costtrail/internal/messenger"
)

// ErrPlatformNotFound is returned when a messenger platform is not registered.
var ErrPlatformNotFound = errors.New("notify: platform not found") //nolint:gochecknoglobals // sentinel error

// DefaultThreadWindow is how long repeats of the same subject are threaded
// under the first alert instead of posting a new one.
const DefaultThreadWindow = 30 * time.Minute

// MessengerRegistry maps platform names to Messenger implementations.
type MessengerRegistry interface {
	Get(platform string) (messenger.Messenger, bool)
}

// Target is a channel on a messenger platform that receives escalations.
type Target struct {
	Platform  string
	ChannelID string
}

type threadKey struct {
	target  Target
	subject string
}

type openThread struct {
	parent messenger.MessageID
	at     time.Time
}

// Escalator pages administrators through the configured messenger channels.
type Escalator struct {
	messengers  MessengerRegistry
	targets     []Target
	minSeverity domain.RiskLevel
	window      time.Duration
	now         func() time.Time

	mu      sync.Mutex
	threads map[threadKey]openThread
}

// EscalatorOption configures an Escalator.
type EscalatorOption func(*Escalator)

// WithMinSeverity drops escalations below the given risk level.
func WithMinSeverity(s domain.RiskLevel) EscalatorOption {
	return func(e *Escalator) { e.minSeverity = s }
}

// WithThreadWindow overrides DefaultThreadWindow. Zero disables threading.
func WithThreadWindow(d time.Duration) EscalatorOption {
	return func(e *Escalator) { e.window = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EscalatorOption {
	return func(e *Escalator) { e.now = now }
}

// NewEscalator creates an Escalator posting to targets.
func NewEscalator(messengers MessengerRegistry, targets []Target, opts ...EscalatorOption) *Escalator {
	e := &Escalator{
		messengers:  messengers,
		targets:     targets,
		minSeverity: domain.RiskHigh,
		window:      DefaultThreadWindow,
		now:         time.Now,
		threads:     make(map[threadKey]openThread),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Escalate posts an alert to every target. A subject already escalated to a
// target within the thread window is posted as a reply to the first alert.
// Falls back to logging if no targets are configured. Returns an error only
// when every target failed.
func (e *Escalator) Escalate(ctx context.Context, severity domain.RiskLevel, subject, detail string) error {
	if severity.Rank() < e.minSeverity.Rank() {
		return nil
	}

	if len(e.targets) == 0 {
		log.Warn().Str("severity", string(severity)).Str("subject", subject).Str("detail", detail).
			Msg("notify: no escalation targets configured")
		return nil
	}

	alert := messenger.Alert{Severity: string(severity), Subject: subject, Detail: detail}

	var lastErr error
	delivered := 0
	for _, t := range e.targets {
		if err := e.send(ctx, t, alert); err != nil {
			log.Error().Err(err).Str("platform", t.Platform).Str("channel", t.ChannelID).
				Msg("notify.Escalator.Escalate: send failed")
			lastErr = err
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return fmt.Errorf("notify.Escalator.Escalate: all targets failed: %w", lastErr)
	}

	return nil
}

func (e *Escalator) send(ctx context.Context, t Target, alert messenger.Alert) error {
	msg, ok := e.messengers.Get(t.Platform)
	if !ok {
		return fmt.Errorf("notify.Escalator.send: platform %q: %w", t.Platform, ErrPlatformNotFound)
	}

	key := threadKey{target: t, subject: alert.Subject}
	now := e.now()

	e.mu.Lock()
	th, open := e.threads[key]
	e.mu.Unlock()

	if open && e.window > 0 && now.Sub(th.at) < e.window {
		if _, err := msg.Reply(ctx, t.ChannelID, th.parent, alert.Detail); err != nil {
			return fmt.Errorf("notify.Escalator.send: reply: %w", err)
		}
		return nil
	}

	id, err := msg.SendAlert(ctx, t.ChannelID, alert)
	if err != nil {
		return fmt.Errorf("notify.Escalator.send: alert: %w", err)
	}

	e.mu.Lock()
	e.threads[key] = openThread{parent: id, at: now}
	e.mu.Unlock()

	return nil
}
