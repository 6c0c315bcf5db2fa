package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/gradepipe/gradepipe/internal/backoff"
	"github.com/gradepipe/gradepipe/internal/providers"
	"github.com/gradepipe/gradepipe/internal/ratelimit"
	"github.com/gradepipe/gradepipe/internal/repository"
	"github.com/gradepipe/gradepipe/internal/services"
	"github.com/gradepipe/gradepipe/internal/tracing"
	"github.com/gradepipe/gradepipe/pkg/config"
	"github.com/gradepipe/gradepipe/pkg/persistence"
)

// Application wires config, store, repositories and services into one
// ready-to-use object. Embedders and the CLI both go through here so the
// wiring never diverges.
type Application struct {
	Config      *config.Config
	Store       persistence.Store
	Definitions services.DefinitionService
	Assignments services.AssignmentService
	Logger      *slog.Logger

	// ShutdownTracing flushes spans; nil when tracing is disabled.
	ShutdownTracing func(context.Context) error
}

// ApplicationOption configures the Application.
type ApplicationOption func(*appDeps) error

type appDeps struct {
	parser services.DocumentParser
	stamps services.TimestampProvider
	store  persistence.Store
	now    func() time.Time
}

// WithParser sets the document parser used on the stale path. Read-only
// embedders can omit it.
func WithParser(parser services.DocumentParser) ApplicationOption {
	return func(d *appDeps) error {
		d.parser = parser
		return nil
	}
}

// WithTimestampProvider sets the source-document timestamp resolver.
func WithTimestampProvider(stamps services.TimestampProvider) ApplicationOption {
	return func(d *appDeps) error {
		d.stamps = stamps
		return nil
	}
}

// WithStore overrides the config-selected store; used by tests.
func WithStore(store persistence.Store) ApplicationOption {
	return func(d *appDeps) error {
		d.store = store
		return nil
	}
}

// WithClock overrides the wall clock; used by tests.
func WithClock(now func() time.Time) ApplicationOption {
	return func(d *appDeps) error {
		d.now = now
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler).With("service", "gradepipe", "env", cfg.Env)
	slog.SetDefault(logger)

	deps := &appDeps{}
	for _, opt := range opts {
		if err := opt(deps); err != nil {
			return nil, err
		}
	}

	store := deps.store
	if store == nil {
		var err error
		store, err = openStore(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	var shutdownTracing func(context.Context) error
	if cfg.TracingEnabled {
		var err error
		shutdownTracing, err = tracing.Setup(context.Background(), tracing.Config{
			Enabled:      true,
			ServiceName:  cfg.TracingServiceName,
			OTLPEndpoint: cfg.OTLPEndpoint,
			OTLPInsecure: cfg.OTLPInsecure,
			SampleRatio:  cfg.TraceSampleRatio,
		}, logger)
		if err != nil {
			logger.Warn("tracing setup failed, continuing without export", "error", err)
		}
	}

	parser := deps.parser
	if parser != nil && cfg.StoreProvider == "redis" {
		bucket := ratelimit.Bucket(cfg.RateLimit.Parser)
		if bucket.Enabled() {
			limiter := ratelimit.NewTokenBucketLimiter(providers.NewRedisProvider(cfg.RedisAddr))
			parser = services.NewThrottledParser(parser, limiter, bucket, logger)
		}
	}

	defRepo := repository.NewDefinitionRepository(store, logger)
	runRepo := repository.NewAssignmentRunRepository(store, logger)

	return &Application{
		Config:          cfg,
		Store:           store,
		Definitions:     services.NewDefinitionService(defRepo, parser, deps.stamps, logger, deps.now),
		Assignments:     services.NewAssignmentService(runRepo, logger, deps.now),
		Logger:          logger,
		ShutdownTracing: shutdownTracing,
	}, nil
}

// openStore connects with retries; transient store outages at boot are the
// common failure on fresh environments.
func openStore(cfg *config.Config, logger *slog.Logger) (persistence.Store, error) {
	store, err := persistence.NewStore(persistence.ProviderConfig{
		Type:      cfg.StoreProvider,
		RedisAddr: cfg.RedisAddr,
		KeyPrefix: cfg.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}

	base := time.Duration(cfg.BackoffBaseSeconds) * time.Second
	max := time.Duration(cfg.BackoffMaxSeconds) * time.Second
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	ctx := context.Background()
	var lastErr error
	for attempt := 0; attempt < cfg.StoreConnectAttempts; attempt++ {
		if lastErr = store.Health(ctx); lastErr == nil {
			return store, nil
		}
		delay := backoff.Delay(cfg.BackoffPolicy, base, max, attempt, rng)
		logger.Warn("store unreachable, retrying",
			"provider", cfg.StoreProvider, "attempt", attempt+1, "delay", delay, "error", lastErr)
		time.Sleep(delay)
	}
	store.Close()
	return nil, fmt.Errorf("store %q unreachable after %d attempts: %w", cfg.StoreProvider, cfg.StoreConnectAttempts, lastErr)
}

// Close releases the store and flushes tracing.
func (a *Application) Close(ctx context.Context) error {
	var firstErr error
	if a.ShutdownTracing != nil {
		if err := a.ShutdownTracing(ctx); err != nil {
			firstErr = err
		}
	}
	if err := a.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
