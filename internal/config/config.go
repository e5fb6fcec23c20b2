package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/costtrail/internal/domain"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Store      string
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Server     ServerConfig
	Slack      SlackConfig
	Audit      AuditConfig
	Log        LogConfig
	SelfHosted bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. An empty Addr keeps the live
// feed in-process.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// JWTConfig holds JWT authentication settings.
type JWTConfig struct {
	Secret     string //nolint:gosec // G117: JWT signing secret config
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// Per-tenant limit on authenticated API calls.
	TenantRPS   float64
	TenantBurst int
	// Per-client-IP limit applied before authentication.
	IPRPS   float64
	IPBurst int
}

// SlackConfig holds Slack escalation settings. Escalation is off without a
// bot token.
type SlackConfig struct {
	BotToken      string //nolint:gosec // G117: Slack bot token config
	AlertChannels []string
}

// AuditConfig holds audit trail protection settings.
type AuditConfig struct {
	// MasterKey (hex or base64) derives the value encryption and report
	// signing keys. Empty disables both.
	MasterKey string //nolint:gosec // G117: key material config
	KeySalt   string
	// Escalations below MinSeverity are dropped; repeats of a subject within
	// ThreadWindow are posted as thread replies.
	MinSeverity  domain.RiskLevel
	ThreadWindow time.Duration
}

// LogConfig holds zerolog settings.
type LogConfig struct {
	Level  string
	Format string // json or console
}

// Load reads configuration from environment variables, after loading the
// optional dotenv file named by COSTTRAIL_ENV_FILE (default .env). Variables
// already set in the environment win over the file.
// Defaults are safe for local development only. In production,
// sensitive values (JWT secret, DB password, master key) must be set explicitly.
func Load() (*Config, error) {
	envFile := getEnv("COSTTRAIL_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config.Load: %s: %w", envFile, err)
	}

	var errs []error
	intVar := func(key string, fallback int) int {
		n, err := getEnvInt(key, fallback)
		errs = append(errs, err)
		return n
	}
	floatVar := func(key string, fallback float64) float64 {
		f, err := getEnvFloat(key, fallback)
		errs = append(errs, err)
		return f
	}
	durationVar := func(key string, fallback time.Duration) time.Duration {
		d, err := getEnvDuration(key, fallback)
		errs = append(errs, err)
		return d
	}
	selfHosted, err := getEnvBool("COSTTRAIL_SELF_HOSTED", false)
	errs = append(errs, err)

	cfg := &Config{
		Store: getEnv("COSTTRAIL_STORE", StorePostgres),
		Database: DatabaseConfig{
			Host:     getEnv("COSTTRAIL_DB_HOST", "localhost"),
			Port:     intVar("COSTTRAIL_DB_PORT", 5432),
			User:     getEnv("COSTTRAIL_DB_USER", "costtrail"),
			Password: getEnv("COSTTRAIL_DB_PASSWORD", ""),
			DBName:   getEnv("COSTTRAIL_DB_NAME", "costtrail_dev"),
			SSLMode:  getEnv("COSTTRAIL_DB_SSLMODE", "disable"),
			MaxConns: intVar("COSTTRAIL_DB_MAX_CONNS", 25),
		},
		Redis: RedisConfig{
			Addr:     getEnv("COSTTRAIL_REDIS_ADDR", ""),
			Password: getEnv("COSTTRAIL_REDIS_PASSWORD", ""),
			DB:       intVar("COSTTRAIL_REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:     getEnv("COSTTRAIL_JWT_SECRET", ""),
			AccessTTL:  durationVar("COSTTRAIL_JWT_ACCESS_TTL", 15*time.Minute),
			RefreshTTL: durationVar("COSTTRAIL_JWT_REFRESH_TTL", 7*24*time.Hour),
		},
		Server: ServerConfig{
			Addr:            getEnv("COSTTRAIL_SERVER_ADDR", ":8080"),
			ReadTimeout:     durationVar("COSTTRAIL_SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    durationVar("COSTTRAIL_SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: durationVar("COSTTRAIL_SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			CORSOrigins:     getEnvList("COSTTRAIL_CORS_ORIGINS", []string{"http://localhost:5173"}),
			TenantRPS:       floatVar("COSTTRAIL_RATE_LIMIT_RPS", 100),
			TenantBurst:     intVar("COSTTRAIL_RATE_LIMIT_BURST", 200),
			IPRPS:           floatVar("COSTTRAIL_IP_RATE_LIMIT_RPS", 20),
			IPBurst:         intVar("COSTTRAIL_IP_RATE_LIMIT_BURST", 40),
		},
		Slack: SlackConfig{
			BotToken:      getEnv("COSTTRAIL_SLACK_BOT_TOKEN", ""),
			AlertChannels: getEnvList("COSTTRAIL_SLACK_ALERT_CHANNELS", nil),
		},
		Audit: AuditConfig{
			MasterKey:    getEnv("COSTTRAIL_MASTER_KEY", ""),
			KeySalt:      getEnv("COSTTRAIL_KEY_SALT", "costtrail"),
			MinSeverity:  domain.RiskLevel(getEnv("COSTTRAIL_ESCALATION_MIN_SEVERITY", string(domain.RiskHigh))),
			ThreadWindow: durationVar("COSTTRAIL_ESCALATION_THREAD_WINDOW", 30*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("COSTTRAIL_LOG_LEVEL", "info"),
			Format: getEnv("COSTTRAIL_LOG_FORMAT", "json"),
		},
		SelfHosted: selfHosted,
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// JWT secret is required (no insecure default).
	if c.JWT.Secret == "" {
		return errors.New("COSTTRAIL_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("COSTTRAIL_JWT_SECRET must be at least 32 characters")
	}

	switch c.Store {
	case StorePostgres:
		// DB SSL mode warning for non-self-hosted deployments.
		if c.Database.SSLMode == "disable" && !c.SelfHosted {
			log.Warn().Msg("COSTTRAIL_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
		}
	case StoreMemory:
		log.Warn().Msg("COSTTRAIL_STORE=memory keeps all data in process; it is lost on restart")
	default:
		return fmt.Errorf("COSTTRAIL_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}

	// Bounds checks.
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("COSTTRAIL_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("COSTTRAIL_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.JWT.AccessTTL <= 0 {
		return fmt.Errorf("COSTTRAIL_JWT_ACCESS_TTL must be positive, got %s", c.JWT.AccessTTL)
	}
	if c.JWT.RefreshTTL <= 0 {
		return fmt.Errorf("COSTTRAIL_JWT_REFRESH_TTL must be positive, got %s", c.JWT.RefreshTTL)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("COSTTRAIL_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("COSTTRAIL_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("COSTTRAIL_SERVER_SHUTDOWN_TIMEOUT must be positive, got %s", c.Server.ShutdownTimeout)
	}
	if c.Server.TenantRPS <= 0 || c.Server.TenantBurst < 1 {
		return errors.New("COSTTRAIL_RATE_LIMIT_RPS and COSTTRAIL_RATE_LIMIT_BURST must be positive")
	}
	if c.Server.IPRPS <= 0 || c.Server.IPBurst < 1 {
		return errors.New("COSTTRAIL_IP_RATE_LIMIT_RPS and COSTTRAIL_IP_RATE_LIMIT_BURST must be positive")
	}

	if c.Audit.MinSeverity.Rank() == 0 {
		return fmt.Errorf("COSTTRAIL_ESCALATION_MIN_SEVERITY must be low, medium, high or critical, got %q", c.Audit.MinSeverity)
	}
	if c.Audit.ThreadWindow <= 0 {
		return fmt.Errorf("COSTTRAIL_ESCALATION_THREAD_WINDOW must be positive, got %s", c.Audit.ThreadWindow)
	}
	if c.Audit.MasterKey == "" {
		log.Warn().Msg("COSTTRAIL_MASTER_KEY is not set; audit values are stored in clear and reports cannot be signed")
	}
	if c.Slack.BotToken != "" && len(c.Slack.AlertChannels) == 0 {
		return errors.New("COSTTRAIL_SLACK_ALERT_CHANNELS is required when COSTTRAIL_SLACK_BOT_TOKEN is set")
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("COSTTRAIL_LOG_LEVEL: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("COSTTRAIL_LOG_FORMAT must be json or console, got %q", c.Log.Format)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
