package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/costtrail/internal/domain"
)

const testSecret = "test-secret-that-is-at-least-32ch"

// ---------------------------------------------------------------------------
// Helper function tests
// ---------------------------------------------------------------------------

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string // nil = don't set; pointer to distinguish "" from unset
		fallback string
		want     string
	}{
		{name: "returns fallback when unset", key: "COSTTRAIL_TEST_GETENV_UNSET", setVal: nil, fallback: "default", want: "default"},
		{name: "returns env value when set", key: "COSTTRAIL_TEST_GETENV_SET", setVal: strPtr("custom"), fallback: "default", want: "custom"},
		{name: "returns fallback when empty string", key: "COSTTRAIL_TEST_GETENV_EMPTY", setVal: strPtr(""), fallback: "default", want: "default"},
		{name: "preserves whitespace", key: "COSTTRAIL_TEST_GETENV_WS", setVal: strPtr("  spaced  "), fallback: "x", want: "  spaced  "},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}
			assert.Equal(t, tc.want, getEnv(tc.key, tc.fallback))
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback int
		want     int
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "COSTTRAIL_TEST_INT_UNSET", fallback: 42, want: 42},
		{name: "parses valid int", key: "COSTTRAIL_TEST_INT_VALID", setVal: strPtr("8080"), want: 8080},
		{name: "parses negative int", key: "COSTTRAIL_TEST_INT_NEG", setVal: strPtr("-1"), want: -1},
		{name: "returns fallback for empty string", key: "COSTTRAIL_TEST_INT_EMPTY", setVal: strPtr(""), fallback: 25, want: 25},
		{name: "errors on non-numeric", key: "COSTTRAIL_TEST_INT_NAN", setVal: strPtr("abc"), wantErr: true},
		{name: "errors on float", key: "COSTTRAIL_TEST_INT_FLOAT", setVal: strPtr("3.14"), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvInt(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback float64
		want     float64
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "COSTTRAIL_TEST_FLOAT_UNSET", fallback: 2.5, want: 2.5},
		{name: "parses fraction", key: "COSTTRAIL_TEST_FLOAT_FRAC", setVal: strPtr("0.5"), want: 0.5},
		{name: "parses integer", key: "COSTTRAIL_TEST_FLOAT_INT", setVal: strPtr("100"), want: 100},
		{name: "errors on invalid", key: "COSTTRAIL_TEST_FLOAT_INV", setVal: strPtr("fast"), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvFloat(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback bool
		want     bool
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "COSTTRAIL_TEST_BOOL_UNSET", fallback: true, want: true},
		{name: "parses true", key: "COSTTRAIL_TEST_BOOL_TRUE", setVal: strPtr("true"), want: true},
		{name: "parses 0", key: "COSTTRAIL_TEST_BOOL_ZERO", setVal: strPtr("0"), fallback: true, want: false},
		{name: "errors on invalid", key: "COSTTRAIL_TEST_BOOL_INV", setVal: strPtr("yes"), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvBool(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "COSTTRAIL_TEST_DUR_UNSET", fallback: 5 * time.Second, want: 5 * time.Second},
		{name: "parses composite", key: "COSTTRAIL_TEST_DUR_COMP", setVal: strPtr("1h30m"), want: 90 * time.Minute},
		{name: "errors on bare number", key: "COSTTRAIL_TEST_DUR_BARE", setVal: strPtr("30"), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvDuration(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("COSTTRAIL_TEST_LIST", " a, ,b ,c")
	assert.Equal(t, []string{"a", "b", "c"}, getEnvList("COSTTRAIL_TEST_LIST", nil))
	assert.Equal(t, []string{"x"}, getEnvList("COSTTRAIL_TEST_LIST_UNSET", []string{"x"}))
}

// ---------------------------------------------------------------------------
// Load() error cases
// ---------------------------------------------------------------------------

func TestLoad_MissingJWTSecret(t *testing.T) {
	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "COSTTRAIL_JWT_SECRET")
}

func TestLoad_InvalidEnvVars(t *testing.T) {
	tests := []struct {
		name   string
		envs   map[string]string
		errMsg string
	}{
		{name: "DB_PORT not a number", envs: map[string]string{"COSTTRAIL_DB_PORT": "abc"}, errMsg: "COSTTRAIL_DB_PORT"},
		{name: "DB_PORT too high", envs: map[string]string{"COSTTRAIL_DB_PORT": "65536"}, errMsg: "COSTTRAIL_DB_PORT"},
		{name: "DB_MAX_CONNS zero", envs: map[string]string{"COSTTRAIL_DB_MAX_CONNS": "0"}, errMsg: "COSTTRAIL_DB_MAX_CONNS"},
		{name: "JWT_ACCESS_TTL negative", envs: map[string]string{"COSTTRAIL_JWT_ACCESS_TTL": "-5m"}, errMsg: "COSTTRAIL_JWT_ACCESS_TTL"},
		{name: "SERVER_READ_TIMEOUT invalid", envs: map[string]string{"COSTTRAIL_SERVER_READ_TIMEOUT": "soon"}, errMsg: "COSTTRAIL_SERVER_READ_TIMEOUT"},
		{name: "REDIS_DB not a number", envs: map[string]string{"COSTTRAIL_REDIS_DB": "abc"}, errMsg: "COSTTRAIL_REDIS_DB"},
		{name: "SELF_HOSTED not a bool", envs: map[string]string{"COSTTRAIL_SELF_HOSTED": "yes"}, errMsg: "COSTTRAIL_SELF_HOSTED"},
		{name: "unknown store", envs: map[string]string{"COSTTRAIL_STORE": "sqlite"}, errMsg: "COSTTRAIL_STORE"},
		{name: "rate limit zero", envs: map[string]string{"COSTTRAIL_RATE_LIMIT_RPS": "0"}, errMsg: "COSTTRAIL_RATE_LIMIT_RPS"},
		{name: "ip rate limit invalid", envs: map[string]string{"COSTTRAIL_IP_RATE_LIMIT_RPS": "lots"}, errMsg: "COSTTRAIL_IP_RATE_LIMIT_RPS"},
		{name: "unknown severity", envs: map[string]string{"COSTTRAIL_ESCALATION_MIN_SEVERITY": "urgent"}, errMsg: "COSTTRAIL_ESCALATION_MIN_SEVERITY"},
		{name: "slack without channels", envs: map[string]string{"COSTTRAIL_SLACK_BOT_TOKEN": "xoxb-test"}, errMsg: "COSTTRAIL_SLACK_ALERT_CHANNELS"},
		{name: "bad log level", envs: map[string]string{"COSTTRAIL_LOG_LEVEL": "loud"}, errMsg: "COSTTRAIL_LOG_LEVEL"},
		{name: "bad log format", envs: map[string]string{"COSTTRAIL_LOG_FORMAT": "xml"}, errMsg: "COSTTRAIL_LOG_FORMAT"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// Always set JWT secret so failures are from the var under test.
			t.Setenv("COSTTRAIL_JWT_SECRET", testSecret)
			for k, v := range tc.envs {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

// ---------------------------------------------------------------------------
// Load() happy paths
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("COSTTRAIL_JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "costtrail", cfg.Database.User)
	assert.Equal(t, "costtrail_dev", cfg.Database.DBName)
	assert.Equal(t, 25, cfg.Database.MaxConns)

	assert.Empty(t, cfg.Redis.Addr)

	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshTTL)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSOrigins)
	assert.InDelta(t, 100.0, cfg.Server.TenantRPS, 1e-9)
	assert.Equal(t, 200, cfg.Server.TenantBurst)

	assert.Empty(t, cfg.Slack.BotToken)
	assert.Empty(t, cfg.Audit.MasterKey)
	assert.Equal(t, domain.RiskHigh, cfg.Audit.MinSeverity)
	assert.Equal(t, 30*time.Minute, cfg.Audit.ThreadWindow)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.SelfHosted)
}

func TestLoad_AllCustomValues(t *testing.T) {
	envs := map[string]string{
		"COSTTRAIL_STORE":                    "memory",
		"COSTTRAIL_DB_HOST":                  "db.prod.internal",
		"COSTTRAIL_DB_PORT":                  "5433",
		"COSTTRAIL_DB_PASSWORD":              "s3cret!",
		"COSTTRAIL_REDIS_ADDR":               "redis.prod:6380",
		"COSTTRAIL_REDIS_DB":                 "3",
		"COSTTRAIL_JWT_SECRET":               "prod-jwt-secret-256-bits-long!!!",
		"COSTTRAIL_JWT_ACCESS_TTL":           "30m",
		"COSTTRAIL_SERVER_ADDR":              ":9090",
		"COSTTRAIL_CORS_ORIGINS":             "https://a.example, https://b.example",
		"COSTTRAIL_RATE_LIMIT_RPS":           "2.5",
		"COSTTRAIL_RATE_LIMIT_BURST":         "5",
		"COSTTRAIL_SLACK_BOT_TOKEN":          "xoxb-test",
		"COSTTRAIL_SLACK_ALERT_CHANNELS":     "C01,C02",
		"COSTTRAIL_MASTER_KEY":               "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff",
		"COSTTRAIL_ESCALATION_MIN_SEVERITY":  "critical",
		"COSTTRAIL_ESCALATION_THREAD_WINDOW": "1h",
		"COSTTRAIL_LOG_FORMAT":               "console",
		"COSTTRAIL_SELF_HOSTED":              "true",
	}
	for k, v := range envs {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "db.prod.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "redis.prod:6380", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 30*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.InDelta(t, 2.5, cfg.Server.TenantRPS, 1e-9)
	assert.Equal(t, 5, cfg.Server.TenantBurst)
	assert.Equal(t, []string{"C01", "C02"}, cfg.Slack.AlertChannels)
	assert.Equal(t, domain.RiskCritical, cfg.Audit.MinSeverity)
	assert.Equal(t, time.Hour, cfg.Audit.ThreadWindow)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.SelfHosted)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "costtrail.env")
	content := "COSTTRAIL_JWT_SECRET=" + testSecret + "\nCOSTTRAIL_SERVER_ADDR=:7070\nCOSTTRAIL_DB_NAME=from_file\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("COSTTRAIL_ENV_FILE", path)
	// Process environment wins over the file.
	t.Setenv("COSTTRAIL_DB_NAME", "from_env")
	// godotenv writes into the process environment and skips keys that are
	// already present, so register cleanup and then unset.
	for _, k := range []string{"COSTTRAIL_JWT_SECRET", "COSTTRAIL_SERVER_ADDR"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "from_env", cfg.Database.DBName)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	t.Setenv("COSTTRAIL_ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("COSTTRAIL_JWT_SECRET", testSecret)

	_, err := Load()
	require.NoError(t, err)
}

// ---------------------------------------------------------------------------
// DSN() output format
// ---------------------------------------------------------------------------

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "default dev values",
			cfg: DatabaseConfig{
				Host: "localhost", Port: 5432, User: "costtrail",
				Password: "", DBName: "costtrail_dev", SSLMode: "disable",
			},
			want: "host=localhost port=5432 user=costtrail password= dbname=costtrail_dev sslmode=disable",
		},
		{
			name: "special characters in password",
			cfg: DatabaseConfig{
				Host: "h", Port: 1, User: "u",
				Password: "p=a&b c", DBName: "d", SSLMode: "s",
			},
			want: "host=h port=1 user=u password=p=a&b c dbname=d sslmode=s",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.cfg.DSN())
		})
	}
}

// ---------------------------------------------------------------------------
// validate() direct tests
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	t.Parallel()

	validBase := func() *Config {
		return &Config{
			Store:    StorePostgres,
			Database: DatabaseConfig{Port: 5432, MaxConns: 25, SSLMode: "require"},
			JWT: JWTConfig{
				Secret:     testSecret,
				AccessTTL:  15 * time.Minute,
				RefreshTTL: 7 * 24 * time.Hour,
			},
			Server: ServerConfig{
				ReadTimeout:     10 * time.Second,
				WriteTimeout:    30 * time.Second,
				ShutdownTimeout: 15 * time.Second,
				TenantRPS:       10,
				TenantBurst:     20,
				IPRPS:           5,
				IPBurst:         10,
			},
			Audit: AuditConfig{MasterKey: "k", MinSeverity: domain.RiskHigh, ThreadWindow: time.Minute},
			Log:   LogConfig{Level: "debug", Format: "json"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid config passes", mutate: func(*Config) {}},
		{name: "JWT secret exactly 32 chars passes", mutate: func(c *Config) { c.JWT.Secret = "exactly-32-characters-long-sec!!" }},
		{name: "JWT secret too short", mutate: func(c *Config) { c.JWT.Secret = "only-31-characters-long-secret!" }, wantErr: "COSTTRAIL_JWT_SECRET"},
		{name: "port 0", mutate: func(c *Config) { c.Database.Port = 0 }, wantErr: "COSTTRAIL_DB_PORT"},
		{name: "MaxConns negative", mutate: func(c *Config) { c.Database.MaxConns = -10 }, wantErr: "COSTTRAIL_DB_MAX_CONNS"},
		{name: "RefreshTTL zero", mutate: func(c *Config) { c.JWT.RefreshTTL = 0 }, wantErr: "COSTTRAIL_JWT_REFRESH_TTL"},
		{name: "WriteTimeout zero", mutate: func(c *Config) { c.Server.WriteTimeout = 0 }, wantErr: "COSTTRAIL_SERVER_WRITE_TIMEOUT"},
		{name: "ShutdownTimeout zero", mutate: func(c *Config) { c.Server.ShutdownTimeout = 0 }, wantErr: "COSTTRAIL_SERVER_SHUTDOWN_TIMEOUT"},
		{name: "burst zero", mutate: func(c *Config) { c.Server.IPBurst = 0 }, wantErr: "COSTTRAIL_IP_RATE_LIMIT_BURST"},
		{name: "memory store passes", mutate: func(c *Config) { c.Store = StoreMemory }},
		{name: "empty store", mutate: func(c *Config) { c.Store = "" }, wantErr: "COSTTRAIL_STORE"},
		{name: "thread window zero", mutate: func(c *Config) { c.Audit.ThreadWindow = 0 }, wantErr: "COSTTRAIL_ESCALATION_THREAD_WINDOW"},
		{name: "slack channels present", mutate: func(c *Config) {
			c.Slack = SlackConfig{BotToken: "xoxb", AlertChannels: []string{"C01"}}
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := validBase()
			tc.mutate(c)
			err := c.validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func strPtr(s string) *string { return &s }
