package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/localrag/config"
	"github.com/BaSui01/localrag/graph"
	"github.com/BaSui01/localrag/internal/metrics"
	"github.com/BaSui01/localrag/llm"
	"github.com/BaSui01/localrag/store"
	"github.com/BaSui01/localrag/types"
)

// Reranker 重排依赖。生产实现是 rerank.Client；测试注入伪实现。
type Reranker interface {
	RerankResults(ctx context.Context, query string, candidates []types.RetrievalResult) ([]types.RetrievalResult, error)
}

// Options 引擎依赖
type Options struct {
	Config   *config.Config
	Store    *store.Store
	Registry *llm.ProviderRegistry
	// Reranker 可为 nil：rerank_enabled 为真但缺重排器时按禁用处理
	Reranker Reranker
	// WebSearch 可为 nil：CRAG 零存活时直接空手生成
	WebSearch graph.WebSearchFunc
	// Metrics 可为 nil：不记录指标
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// Engine 问答引擎
type Engine struct {
	cfg       *config.Config
	store     *store.Store
	registry  *llm.ProviderRegistry
	reranker  Reranker
	graph     *graph.Graph // 仅 crag_enabled 时构建，跨提问共享网络搜索缓存
	collector *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
	counter   tokenCounter
	cancels   cancelManager
}

// New 创建引擎
func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:       opts.Config,
		store:     opts.Store,
		registry:  opts.Registry,
		reranker:  opts.Reranker,
		collector: opts.Metrics,
		tracer:    otel.Tracer("localrag/engine"),
		logger:    logger.With(zap.String("component", "engine")),
		counter:   newTokenCounter(),
	}

	if opts.Config.Retrieval.CRAGEnabled {
		fallback, err := opts.Registry.Default()
		if err != nil {
			return nil, fmt.Errorf("crag needs a grading provider: %w", err)
		}
		webSearch := opts.WebSearch
		if webSearch != nil && opts.Config.Graph.WebSearchTimeout > 0 {
			webSearch = withTimeout(opts.WebSearch, opts.Config.Graph.WebSearchTimeout)
		}
		e.graph = graph.New(e.retrieve, e.graderProvider(fallback), webSearch,
			graph.Config{WebCacheTTL: opts.Config.Graph.WebCacheTTL}, logger)
	}
	return e, nil
}

// withTimeout 给注入的网络搜索套上请求级超时。
func withTimeout(search graph.WebSearchFunc, timeout time.Duration) graph.WebSearchFunc {
	return func(ctx context.Context, query string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return search(ctx, query)
	}
}

// provider 解析生成用的提供方：providerID 为空用注册表默认。
func (e *Engine) provider(providerID string) (llm.Provider, error) {
	if providerID == "" {
		return e.registry.Default()
	}
	p, ok := e.registry.Get(providerID)
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", providerID)
	}
	return p, nil
}

// graderProvider 解析评分用的提供方，未单独配置时复用问答提供方。
func (e *Engine) graderProvider(fallback llm.Provider) llm.Provider {
	if e.cfg.Graph.GraderProvider == "" {
		return fallback
	}
	if p, ok := e.registry.Get(e.cfg.Graph.GraderProvider); ok {
		return p
	}
	e.logger.Warn("grader provider not registered, using ask provider",
		zap.String("grader_provider", e.cfg.Graph.GraderProvider))
	return fallback
}

// StopGeneration 取消当前在飞的生成，没有则是空操作。
func (e *Engine) StopGeneration() {
	e.cancels.stop()
}
