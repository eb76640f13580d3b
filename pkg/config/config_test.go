package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/vault/pkg/config"
)

var envKeys = []string{
	"PORT", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_DRIVER", "DATABASE_URL",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_EVENTS_CHANNEL", "REDIS_EXECUTOR_STREAM",
	"EXECUTOR_WEBHOOK_URL", "POLICY_FILE", "OTEL_ENABLED", "OTEL_ENDPOINT",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "JWT_ISSUER", "JWT_SIGNING_KEY", "JWT_SIGNING_KEY_FILE", "CORS_ORIGINS",
}

func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		// t.Setenv restores the original value; unset so godotenv may fill it.
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

// TestLoad_Defaults verifies that the daemon boots with safe defaults in dev mode.
func TestLoad_Defaults(t *testing.T) {
	cleanEnv(t)

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "memory", cfg.DatabaseDriver)
	assert.Equal(t, "vault:events", cfg.RedisEventsChannel)
	assert.Equal(t, 10.0, cfg.RateLimitRPS)
	assert.Equal(t, 20, cfg.RateLimitBurst)
	assert.False(t, cfg.OTelEnabled)
	assert.Empty(t, cfg.CORSOrigins)
}

// TestLoad_Overrides verifies that environment variables override defaults.
func TestLoad_Overrides(t *testing.T) {
	cleanEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "TEXT")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://vault@db:5432/vault")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_EXECUTOR_STREAM", "vault.actions")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "vault.actions", cfg.RedisExecutorStream)
	assert.True(t, cfg.OTelEnabled)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_DotEnvDoesNotOverride(t *testing.T) {
	cleanEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=7000\nJWT_ISSUER=from-file\n"), 0o600))
	t.Setenv("PORT", "9000")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port, "real environment wins")
	assert.Equal(t, "from-file", cfg.JWTIssuer)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":    {"DATABASE_DRIVER": "mongo"},
		"sqlite needs url":  {"DATABASE_DRIVER": "sqlite"},
		"bad redis db":      {"REDIS_DB": "two"},
		"bad bool":          {"OTEL_ENABLED": "maybe"},
		"bad level":         {"LOG_LEVEL": "LOUD"},
		"bad format":        {"LOG_FORMAT": "xml"},
		"two executors":     {"REDIS_ADDR": "r:6379", "REDIS_EXECUTOR_STREAM": "s", "EXECUTOR_WEBHOOK_URL": "http://x"},
		"stream needs addr": {"REDIS_EXECUTOR_STREAM": "s"},
		"negative rps":      {"RATE_LIMIT_RPS": "-1"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			cleanEnv(t)
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := config.ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
}
