// Package localrag provides a top-level convenience entry point for opening
// a fully wired question-answering engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/localrag"
//
//	cfg := config.DefaultConfig()
//	cfg.Store.Path = "corpus.db"
//	client, err := localrag.Open(ctx, cfg, localrag.WithLogger(logger))
//	defer client.Close(context.Background())
//
//	events, err := client.Engine.Ask(ctx, "what changed last week?", "")
//
// Open assembles the embedding cache, hybrid store, provider registry,
// reranker client, and metrics collector from one Config. Callers that need
// finer control can wire the packages directly the way Open does.
package localrag

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/localrag/config"
	"github.com/BaSui01/localrag/embedding"
	"github.com/BaSui01/localrag/engine"
	"github.com/BaSui01/localrag/graph"
	"github.com/BaSui01/localrag/internal/metrics"
	"github.com/BaSui01/localrag/internal/telemetry"
	"github.com/BaSui01/localrag/llm"
	"github.com/BaSui01/localrag/rerank"
	"github.com/BaSui01/localrag/store"
)

// Option configures the client created by [Open].
type Option func(*settings)

type settings struct {
	logger     *zap.Logger
	webSearch  graph.WebSearchFunc
	reranker   engine.Reranker
	providers  map[string]llm.Provider
	workerPath string
	workerArgs []string
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithWebSearch injects the web-search fallback used by the self-correcting
// retrieval graph. Without it, zero surviving documents means generating
// empty-handed.
func WithWebSearch(search graph.WebSearchFunc) Option {
	return func(s *settings) { s.webSearch = search }
}

// WithReranker injects a custom reranker, overriding the spawned worker
// process.
func WithReranker(r engine.Reranker) Option {
	return func(s *settings) { s.reranker = r }
}

// WithProvider registers an additional LLM provider under the given name.
func WithProvider(name string, p llm.Provider) Option {
	return func(s *settings) {
		if s.providers == nil {
			s.providers = make(map[string]llm.Provider)
		}
		s.providers[name] = p
	}
}

// WithWorkerCommand overrides how the reranker worker process is launched.
// Defaults to the configured worker path, or the current executable with a
// "worker" argument.
func WithWorkerCommand(path string, args ...string) Option {
	return func(s *settings) {
		s.workerPath = path
		s.workerArgs = args
	}
}

// Client holds an assembled engine and the resources behind it.
type Client struct {
	Engine *engine.Engine

	store  *store.Store
	rerank *rerank.Client
	otel   *telemetry.Providers
	logger *zap.Logger
}

// Open assembles a ready-to-use engine from one Config. The store receives
// an embedder already wrapped in the two-level query cache, so ingestion and
// query embedding share cache hits.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	s := settings{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&s)
	}
	logger := s.logger

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	registry := llm.NewProviderRegistry()
	local := llm.NewLocalProvider(llm.LocalConfig{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Timeout:     cfg.LLM.Timeout,
		Temperature: float32(cfg.LLM.Temperature),
		MaxTokens:   cfg.LLM.MaxTokens,
	}, logger)
	registry.Register(local.Name(), local)
	for name, p := range s.providers {
		registry.Register(name, p)
	}
	if err := registry.SetDefault(cfg.LLM.DefaultProvider); err != nil {
		return nil, fmt.Errorf("default provider: %w", err)
	}

	// 指标收集器在校验之后创建：promauto 重复注册会 panic，
	// 必须保证只有能走到装配末尾的调用才注册
	collector := metrics.NewCollector("localrag", logger)

	base := embedding.NewHTTPProvider(embedding.Config{
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
		Timeout: cfg.Embedding.Timeout,
	}, logger)

	cacheOpts := []embedding.CacheOption{embedding.WithCacheMetrics(collector)}
	if cfg.Embedding.RedisCache {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cacheOpts = append(cacheOpts, embedding.WithRedis(rdb, cfg.Redis.TTL))
	}
	embedder := embedding.NewCachedProvider(base, cfg.Embedding.CacheCapacity, logger, cacheOpts...)

	st, err := store.New(ctx, store.Config{
		Path:      cfg.Store.Path,
		BatchSize: cfg.Store.BatchSize,
	}, embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reranker := s.reranker
	var rerankClient *rerank.Client
	if reranker == nil && cfg.Retrieval.RerankEnabled {
		workerPath, workerArgs := s.workerPath, s.workerArgs
		if workerPath == "" {
			workerPath = cfg.Rerank.WorkerPath
		}
		if workerPath == "" {
			self, err := os.Executable()
			if err != nil {
				_ = st.Close()
				return nil, fmt.Errorf("resolve worker binary: %w", err)
			}
			workerPath = self
			workerArgs = []string{"worker"}
		}
		rerankClient = rerank.NewClient(
			rerank.CommandSpawner(workerPath, workerArgs, logger),
			rerank.Config{
				RequestTimeout: cfg.Rerank.RequestTimeout,
				ReadyTimeout:   cfg.Rerank.ReadyTimeout,
				Metrics:        collector,
			}, logger)
		reranker = rerankClient
	}

	eng, err := engine.New(engine.Options{
		Config:    cfg,
		Store:     st,
		Registry:  registry,
		Reranker:  reranker,
		WebSearch: s.webSearch,
		Metrics:   collector,
		Logger:    logger,
	})
	if err != nil {
		if rerankClient != nil {
			_ = rerankClient.Close()
		}
		_ = st.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}

	return &Client{
		Engine: eng,
		store:  st,
		rerank: rerankClient,
		otel:   otelProviders,
		logger: logger,
	}, nil
}

// Close releases the reranker worker, the store, and telemetry, in reverse
// dependency order.
func (c *Client) Close(ctx context.Context) error {
	var errs []error
	if c.rerank != nil {
		if err := c.rerank.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reranker: %w", err))
		}
	}
	if err := c.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := c.otel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	return errors.Join(errs...)
}
