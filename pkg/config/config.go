package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds daemon configuration read from the environment.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	DatabaseDriver string
	DatabaseURL    string

	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	RedisEventsChannel  string
	RedisExecutorStream string

	ExecutorWebhookURL string
	PolicyFile         string

	OTelEnabled  bool
	OTelEndpoint string

	RateLimitRPS   float64
	RateLimitBurst int

	JWTIssuer      string
	JWTSigningKey  string
	JWTSigningFile string
	CORSOrigins    []string
}

// Load reads configuration from environment variables. The given env files
// (default ".env") are loaded first without overriding variables already
// set; a missing file is not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Port:                env("PORT", "8080"),
		LogLevel:            strings.ToUpper(env("LOG_LEVEL", "INFO")),
		LogFormat:           strings.ToLower(env("LOG_FORMAT", "json")),
		DatabaseDriver:      strings.ToLower(env("DATABASE_DRIVER", "memory")),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisEventsChannel:  env("REDIS_EVENTS_CHANNEL", "vault:events"),
		RedisExecutorStream: os.Getenv("REDIS_EXECUTOR_STREAM"),
		ExecutorWebhookURL:  os.Getenv("EXECUTOR_WEBHOOK_URL"),
		PolicyFile:          os.Getenv("POLICY_FILE"),
		OTelEndpoint:        env("OTEL_ENDPOINT", "localhost:4317"),
		JWTIssuer:           os.Getenv("JWT_ISSUER"),
		JWTSigningKey:       os.Getenv("JWT_SIGNING_KEY"),
		JWTSigningFile:      os.Getenv("JWT_SIGNING_KEY_FILE"),
		CORSOrigins:         splitList(os.Getenv("CORS_ORIGINS")),
	}

	var err error
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.OTelEnabled, err = boolEnv("OTEL_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = intEnv("RATE_LIMIT_BURST", 20); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = floatEnv("RATE_LIMIT_RPS", 10); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks combinations Load cannot catch per variable.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "memory":
	case "sqlite", "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for driver %q", c.DatabaseDriver)
		}
	default:
		return fmt.Errorf("config: unknown DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("config: LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.RedisExecutorStream != "" && c.ExecutorWebhookURL != "" {
		return errors.New("config: set at most one of REDIS_EXECUTOR_STREAM and EXECUTOR_WEBHOOK_URL")
	}
	if c.RedisExecutorStream != "" && c.RedisAddr == "" {
		return errors.New("config: REDIS_EXECUTOR_STREAM needs REDIS_ADDR")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("config: rate limits must not be negative")
	}
	return nil
}

// ParseLevel maps LOG_LEVEL names to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return level, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
