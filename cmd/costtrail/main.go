package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/costtrail/internal/audit"
	"github.com/gosuda/costtrail/internal/auth"
	"github.com/gosuda/costtrail/internal/breakdown"
	"github.com/gosuda/costtrail/internal/compliance"
	"github.com/gosuda/costtrail/internal/config"
	"github.com/gosuda/costtrail/internal/domain"
	"github.com/gosuda/costtrail/internal/feed"
	"github.com/gosuda/costtrail/internal/messenger/slack"
	"github.com/gosuda/costtrail/internal/notify"
	"github.com/gosuda/costtrail/internal/report"
	"github.com/gosuda/costtrail/internal/secrets"
	"github.com/gosuda/costtrail/internal/server"
	"github.com/gosuda/costtrail/internal/server/middleware"
	"github.com/gosuda/costtrail/internal/store/memory"
	"github.com/gosuda/costtrail/internal/store/postgres"
	redisstore "github.com/gosuda/costtrail/internal/store/redis"
	"github.com/gosuda/costtrail/internal/variance"
)

// store is the repository set shared by the Postgres and in-memory backends.
type store interface {
	Breakdowns() domain.BreakdownRepository
	Versions() domain.VersionRepository
	Audit() domain.AuditRepository
	ChangeAudit() domain.AuditRepository
	IntegrityAlerts() domain.IntegrityAlertRepository
	VarianceAlerts() domain.VarianceAlertRepository
	ImportBatches() domain.ImportBatchRepository
	Compliance() domain.ComplianceRepository
	Close()
}

// pubsub is the live feed broker shared by Redis and the in-process fallback.
type pubsub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "token" {
		err = runToken(os.Args[2:])
	} else {
		err = run()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("costtrail failed")
	}
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

func run() error {
	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	health := make(map[string]server.Pinger)

	st, err := openStore(ctx, cfg, health)
	if err != nil {
		return err
	}
	defer st.Close()

	ps, closePubSub, err := openPubSub(ctx, cfg, health)
	if err != nil {
		return err
	}
	defer closePubSub()
	emitter := feed.NewEmitter(ps)

	// Key material: audit value encryption and report signing.
	var (
		auditOpts []audit.Option
		signer    *report.Signer
	)
	if cfg.Audit.MasterKey != "" {
		master, keyErr := secrets.ParseMasterKey(cfg.Audit.MasterKey)
		if keyErr != nil {
			return fmt.Errorf("master key: %w", keyErr)
		}
		keys, keyErr := secrets.DeriveKeys(master, []byte(cfg.Audit.KeySalt))
		if keyErr != nil {
			return fmt.Errorf("derive keys: %w", keyErr)
		}
		vault, keyErr := secrets.NewVault(keys.Encryption)
		if keyErr != nil {
			return fmt.Errorf("audit vault: %w", keyErr)
		}
		signer, keyErr = report.NewSigner(keys.Signing)
		if keyErr != nil {
			return fmt.Errorf("report signer: %w", keyErr)
		}
		auditOpts = append(auditOpts, audit.WithCipher(vault))
	}

	// Escalation of integrity breaches and critical variances.
	var varianceOpts []variance.Option
	if cfg.Slack.BotToken != "" {
		slackMessenger := slack.NewFromToken(cfg.Slack.BotToken)
		targets := make([]notify.Target, 0, len(cfg.Slack.AlertChannels))
		for _, ch := range cfg.Slack.AlertChannels {
			targets = append(targets, notify.Target{Platform: slackMessenger.Platform(), ChannelID: ch})
		}
		messengers := notify.NewRegistry(slackMessenger)
		escalator := notify.NewEscalator(
			messengers,
			targets,
			notify.WithMinSeverity(cfg.Audit.MinSeverity),
			notify.WithThreadWindow(cfg.Audit.ThreadWindow),
		)
		auditOpts = append(auditOpts, audit.WithEscalator(escalator))
		varianceOpts = append(varianceOpts, variance.WithEscalator(escalator))
		log.Info().Strs("platforms", messengers.Platforms()).Int("channels", len(targets)).Msg("escalation enabled")
	}

	monitor := compliance.NewMonitor(st.Compliance(), st.Audit())
	auditOpts = append(auditOpts, audit.WithCompliance(monitor))

	auditLog := audit.NewLogger(st.Audit(), st.IntegrityAlerts(), auditOpts...)
	changeLog := audit.NewChangeRequestLog(audit.NewLogger(st.ChangeAudit(), st.IntegrityAlerts(), auditOpts...))
	// Compliance scans still in flight must finish before the store closes.
	defer changeLog.Wait()
	defer auditLog.Wait()

	varianceOpts = append(varianceOpts, variance.WithAudit(auditLog), variance.WithFeed(emitter))
	engine := variance.NewEngine(st.Breakdowns(), st.VarianceAlerts(), varianceOpts...)
	breakdowns := breakdown.NewService(st.Breakdowns(), st.Versions(), auditLog,
		breakdown.WithVariance(engine),
		breakdown.WithFeed(emitter),
	)

	svc := server.Services{
		Breakdowns:     breakdowns,
		Variance:       engine,
		Audit:          auditLog,
		IntegrityAlert: st.IntegrityAlerts(),
		Imports:        breakdown.NewImporter(breakdowns, st.ImportBatches()),
		Reports:        report.NewGenerator(st.Versions(), engine, auditLog, signer),
		Compliance:     monitor,
		ChangeRequests: changeLog,
		PubSub:         ps,
		Health:         health,
	}
	if signer != nil {
		svc.Verifier = signer
	}

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, svc)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// Block until shutdown signal or listener failure.
	select {
	case <-ctx.Done():
	case startErr := <-errCh:
		if startErr != nil {
			return startErr
		}
	}
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, health map[string]server.Pinger) (store, error) {
	if cfg.Store == config.StoreMemory {
		return memory.New(), nil
	}

	if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
		return nil, fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
	}

	// Connect to PostgreSQL.
	pg, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	health["postgres"] = pg
	return pg, nil
}

func openPubSub(ctx context.Context, cfg *config.Config, health map[string]server.Pinger) (pubsub, func(), error) {
	if cfg.Redis.Addr == "" {
		log.Info().Msg("redis not configured; live feed is in-process")
		return memory.NewPubSub(), func() {}, nil
	}

	// Connect to Redis.
	ps, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	health["redis"] = ps
	return ps, func() { _ = ps.Close() }, nil
}

// runToken mints a JWT pair for a principal. Identity is managed outside the
// service; operators hand these tokens to users and integrations.
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	tenant := fs.String("tenant", "", "tenant UUID")
	user := fs.String("user", "", "user UUID (generated when empty)")
	role := fs.String("role", middleware.RoleViewer, "admin, editor, auditor or viewer")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	tenantID, err := uuid.Parse(*tenant)
	if err != nil {
		return fmt.Errorf("token: -tenant: %w", err)
	}
	userID := uuid.New()
	if *user != "" {
		if userID, err = uuid.Parse(*user); err != nil {
			return fmt.Errorf("token: -user: %w", err)
		}
	}
	if !slices.Contains(middleware.AllRoles(), *role) {
		return errors.New("token: -role must be admin, editor, auditor or viewer")
	}

	p := auth.Principal{TenantID: tenantID, UserID: userID, Role: *role}
	access, err := auth.IssueAccessToken(cfg.JWT.Secret, p, cfg.JWT.AccessTTL)
	if err != nil {
		return err
	}
	refresh, err := auth.IssueRefreshToken(cfg.JWT.Secret, p, cfg.JWT.RefreshTTL)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(os.Stdout, "user_id=%s\naccess_token=%s\nrefresh_token=%s\n", userID, access, refresh)
	return err
}

