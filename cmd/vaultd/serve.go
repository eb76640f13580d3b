package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/Mindburn-Labs/vault/pkg/api"
	"github.com/Mindburn-Labs/vault/pkg/audit"
	"github.com/Mindburn-Labs/vault/pkg/auth"
	"github.com/Mindburn-Labs/vault/pkg/config"
	"github.com/Mindburn-Labs/vault/pkg/engine"
	"github.com/Mindburn-Labs/vault/pkg/executor"
	"github.com/Mindburn-Labs/vault/pkg/identity"
	"github.com/Mindburn-Labs/vault/pkg/ledger"
	"github.com/Mindburn-Labs/vault/pkg/observability"
)

const (
	shutdownTimeout = 15 * time.Second
	streamMaxLen    = 100_000
)

// app is a fully wired daemon.
type app struct {
	engine  *engine.Engine
	handler http.Handler
	tokens  *identity.TokenManager
	closers []func(context.Context) error
}

func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}

func runServe(args []string, _, stderr io.Writer) int {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	envFile := flags.String("env-file", ".env", "dotenv file loaded before the environment is read")
	policyPath := flags.String("policy", "", "policy file (overrides POLICY_FILE)")
	port := flags.String("port", "", "listen port (overrides PORT)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *policyPath != "" {
		cfg.PolicyFile = *policyPath
	}
	if *port != "" {
		cfg.Port = *port
	}

	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.PolicyFile == "" {
		logger.Error("no policy file configured; set POLICY_FILE or --policy")
		return 1
	}
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		logger.Error("invalid policy", "error", err)
		return 1
	}

	a, err := buildApp(ctx, cfg, policy, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
			return 1
		}
	}
	return 0
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// buildApp wires store, sinks, executor, engine and HTTP surface.
func buildApp(ctx context.Context, cfg *config.Config, policy *config.Policy, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	obs := observability.Disabled()
	if cfg.OTelEnabled {
		oc := observability.DefaultConfig()
		oc.Enabled = true
		oc.Insecure = true
		oc.OTLPEndpoint = cfg.OTelEndpoint
		oc.ServiceVersion = version
		if obs, err = observability.New(ctx, oc); err != nil {
			return nil, fmt.Errorf("observability: %w", err)
		}
		a.closers = append(a.closers, obs.Shutdown)
	}

	store, err := ledger.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	chain := audit.NewChainStore()
	sinks := []audit.Sink{audit.NewLogSink(logger), chain}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
		}
		sinks = append(sinks, audit.NewRedisSink(rdb, cfg.RedisEventsChannel))
	}

	var ex executor.Executor = executor.Noop{Logger: logger.With("component", "executor")}
	switch {
	case cfg.ExecutorWebhookURL != "":
		ex = executor.NewWebhook(cfg.ExecutorWebhookURL, nil)
	case cfg.RedisExecutorStream != "":
		ex = executor.NewRedisStream(rdb, cfg.RedisExecutorStream, streamMaxLen)
	}

	opts, err := policy.EngineOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		engine.WithLogger(logger.With("component", "engine")),
		engine.WithExecutor(ex),
		engine.WithSink(audit.Multi(sinks...)),
		engine.WithObservability(obs),
	)
	if a.engine, err = engine.New(ctx, store, policy.EngineConfig(), opts...); err != nil {
		return nil, err
	}

	keys, err := loadKeySet(cfg)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		logger.Warn("no JWT signing key configured; using an ephemeral key")
		if keys, err = identity.NewInMemoryKeySet(); err != nil {
			return nil, err
		}
	}
	a.tokens = identity.NewTokenManager(keys, identity.WithIssuer(cfg.JWTIssuer))

	var limiter *api.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 0)
		a.closers = append(a.closers, func(context.Context) error { limiter.Close(); return nil })
	}

	srv := api.NewServer(a.engine,
		api.WithCaller(auth.Caller),
		api.WithAuditChain(chain),
		api.WithServerLogger(logger.With("component", "api")),
		api.WithMiddleware(
			auth.RequestIDMiddleware,
			auth.CORSMiddleware(cfg.CORSOrigins),
			auth.NewMiddleware(a.tokens),
			auth.RateLimitMiddleware(limiter),
		),
	)
	a.handler = srv.Handler()
	return a, nil
}

// loadKeySet returns nil when no signing key is configured.
func loadKeySet(cfg *config.Config) (*identity.InMemoryKeySet, error) {
	switch {
	case cfg.JWTSigningKey != "":
		seed, err := identity.ParseSeed(cfg.JWTSigningKey)
		if err != nil {
			return nil, fmt.Errorf("JWT_SIGNING_KEY: %w", err)
		}
		return identity.NewSeedKeySet(seed)
	case cfg.JWTSigningFile != "":
		return identity.LoadSeedFile(cfg.JWTSigningFile)
	default:
		return nil, nil
	}
}
