// Package bootstrap wires each process's dependency graph from config: a
// WatcherApp (C2 observer feeding C1 validation and the C4 discovery use
// case, which publishes on C3 and enqueues into C5), a WorkerApp (C5 queue
// consumer, C10 pipeline), and a RealtimeApp (C11). No component is shared
// in-process across the three; each opens and owns its own storage/bus/queue
// connections and tears them down in its own Close.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/repowatch/internal/config"
	"github.com/kirillkom/repowatch/internal/core/ports"
	"github.com/kirillkom/repowatch/internal/core/usecase"
	"github.com/kirillkom/repowatch/internal/infrastructure/cache/rediscache"
	contextpkg "github.com/kirillkom/repowatch/internal/infrastructure/context"
	"github.com/kirillkom/repowatch/internal/infrastructure/eventbus/nats"
	"github.com/kirillkom/repowatch/internal/infrastructure/llm/analyzer"
	"github.com/kirillkom/repowatch/internal/infrastructure/queue/asynqueue"
	"github.com/kirillkom/repowatch/internal/infrastructure/realtime/wsfanout"
	"github.com/kirillkom/repowatch/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/repowatch/internal/infrastructure/resilience"
	"github.com/kirillkom/repowatch/internal/infrastructure/validator"
	"github.com/kirillkom/repowatch/internal/infrastructure/watcher/fswatch"
	"github.com/kirillkom/repowatch/internal/observability/logging"
	"github.com/kirillkom/repowatch/internal/observability/metrics"
)

// WatcherApp runs C2 (debounced filesystem observer) and C4 (discovery
// subscriber), publishing discovery events on the bus.
type WatcherApp struct {
	Config    config.Config
	Logger    *slog.Logger
	Metrics   *metrics.WatcherMetrics
	Observer  *fswatch.Observer
	Discovery ports.DiscoverySubscriber

	closeFn func()
}

func NewWatcherApp(ctx context.Context, cfg config.Config) (*WatcherApp, error) {
	logger := logging.NewJSONLogger("watcher", cfg.LogLevel)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	projectRepo := postgres.NewProjectRepository(db)
	if err := projectRepo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	bus, err := nats.New(cfg.NATSURL, nats.Options{Subject: cfg.NATSSubject}, logger)
	if err != nil {
		return nil, fmt.Errorf("init event bus: %w", err)
	}

	observer, err := fswatch.New(fswatch.Config{
		RootPath:           cfg.WatchRootPath,
		Depth:              cfg.WatchDepth,
		DebounceDelay:      cfg.WatchDebounceDelay(),
		StabilityThreshold: cfg.WatchStabilityThreshold(),
		UnhealthyAfter:     cfg.WatchUnhealthyAfter,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init observer: %w", err)
	}

	v := validator.New()
	queue := asynqueue.New(asynqueue.Config{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		Attempts:      cfg.QueueAttempts,
	}, logger)

	discovery := usecase.NewDiscoverySubscriberUseCase(projectRepo, v, bus, queue)

	return &WatcherApp{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics.NewWatcherMetrics("watcher"),
		Observer:  observer,
		Discovery: discovery,
		closeFn: func() {
			_ = bus.Close()
			_ = queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *WatcherApp) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// WorkerApp runs the asynq consumer side of C5 and the C10 pipeline
// (C6 rate limiting, C7 context extraction, C8 analyzer, C9 cache).
type WorkerApp struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.WorkerMetrics
	Queue   ports.AnalysisQueue
	Worker  ports.WorkerProcessor

	closeFn func()
}

func NewWorkerApp(ctx context.Context, cfg config.Config) (*WorkerApp, error) {
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	projectRepo := postgres.NewProjectRepository(db)
	if err := projectRepo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	analysisRepo := postgres.NewAnalysisRepository(db)

	bus, err := nats.New(cfg.NATSURL, nats.Options{
		Subject:            cfg.NATSSubject,
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init event bus: %w", err)
	}

	queue := asynqueue.New(asynqueue.Config{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		Attempts:      cfg.QueueAttempts,
	}, logger)

	ctxExtractor := contextpkg.New()
	rateLimited := resilience.NewRateLimitedExecutor(resilience.RateLimitConfig{
		MaxConcurrent:     cfg.RateLimitMaxConcurrent,
		RequestsPerMinute: cfg.RateLimitRequestsPerMinute,
		BackoffMultiplier: cfg.RateLimitBackoffMultiplier,
		MaxRetries:        cfg.RateLimitMaxRetries,
		InitialDelay:      cfg.RateLimitInitialDelay(),
	}, logger)
	analyzerClient := analyzer.New(analyzer.Config{
		APIKey:      cfg.AnthropicAPIKey,
		Model:       cfg.AnthropicModel,
		MaxTokens:   cfg.AnalyzerMaxTokens,
	}, logger)
	cache := rediscache.New(rediscache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	worker := usecase.NewWorkerProcessorUseCase(
		projectRepo, analysisRepo, bus, ctxExtractor, rateLimited, analyzerClient, cache, queue,
		cfg.CacheTTL(), cfg.ContextMaxTokens,
	)

	return &WorkerApp{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewWorkerMetrics("worker"),
		Queue:   queue,
		Worker:  worker,
		closeFn: func() {
			_ = bus.Close()
			cache.Close()
			_ = queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *WorkerApp) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// RealtimeApp runs C11, subscribing to the bus and fanning out to
// connected clients.
type RealtimeApp struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.FanoutMetrics
	Server  *wsfanout.Server

	closeFn func()
}

func NewRealtimeApp(_ context.Context, cfg config.Config) (*RealtimeApp, error) {
	logger := logging.NewJSONLogger("realtime", cfg.LogLevel)

	bus, err := nats.New(cfg.NATSURL, nats.Options{Subject: cfg.NATSSubject}, logger)
	if err != nil {
		return nil, fmt.Errorf("init event bus: %w", err)
	}

	m := metrics.NewFanoutMetrics("realtime")
	server := wsfanout.New(bus, logger, m, wsfanout.Options{})

	return &RealtimeApp{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Server:  server,
		closeFn: func() {
			_ = bus.Close()
		},
	}, nil
}

func (a *RealtimeApp) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
