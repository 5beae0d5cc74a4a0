// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 检索管线指标收集器
type Collector struct {
	// 检索指标
	retrievalTotal    *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec
	retrievalResults  *prometheus.HistogramVec

	// 重排指标
	rerankTotal    *prometheus.CounterVec
	rerankDuration prometheus.Histogram
	workerRestarts prometheus.Counter

	// 生成指标
	generationTotal    *prometheus.CounterVec
	generationDuration prometheus.Histogram

	// 嵌入缓存指标
	embeddingCacheHits   prometheus.Counter
	embeddingCacheMisses prometheus.Counter

	// 存储指标
	ingestTotal   *prometheus.CounterVec
	ingestedChunk prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器。同一进程内只应创建一次
// （promauto 重复注册会 panic）。
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 检索指标
	c.retrievalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_total",
			Help:      "Total number of retrieval operations",
		},
		[]string{"mode", "status"},
	)

	c.retrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	c.retrievalResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_results",
			Help:      "Number of results returned by retrieval",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"mode"},
	)

	// 重排指标
	c.rerankTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_total",
			Help:      "Total number of rerank round-trips",
		},
		[]string{"status"},
	)

	c.rerankDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rerank_duration_seconds",
			Help:      "Rerank round-trip duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	c.workerRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_worker_restarts_total",
			Help:      "Total number of reranker worker respawns",
		},
	)

	// 生成指标
	c.generationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_total",
			Help:      "Total number of answer generations",
		},
		[]string{"status"},
	)

	c.generationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Answer generation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	// 嵌入缓存指标
	c.embeddingCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_hits_total",
			Help:      "Total number of embedding cache hits",
		},
	)

	c.embeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_misses_total",
			Help:      "Total number of embedding cache misses",
		},
	)

	// 存储指标
	c.ingestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Total number of ingest batches",
		},
		[]string{"status"},
	)

	c.ingestedChunk = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_chunks_total",
			Help:      "Total number of chunks ingested",
		},
	)

	return c
}

// ObserveRetrieval 记录一次检索
func (c *Collector) ObserveRetrieval(mode string, n int, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.retrievalTotal.WithLabelValues(mode, status).Inc()
	c.retrievalDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	if err == nil {
		c.retrievalResults.WithLabelValues(mode).Observe(float64(n))
	}
}

// ObserveRerank 记录一次重排往返
func (c *Collector) ObserveRerank(elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.rerankTotal.WithLabelValues(status).Inc()
	c.rerankDuration.Observe(elapsed.Seconds())
}

// WorkerRestarted 记录一次工作进程重启
func (c *Collector) WorkerRestarted() {
	c.workerRestarts.Inc()
}

// ObserveGeneration 记录一次生成。status: ok / error / aborted
func (c *Collector) ObserveGeneration(status string, elapsed time.Duration) {
	c.generationTotal.WithLabelValues(status).Inc()
	c.generationDuration.Observe(elapsed.Seconds())
}

// EmbeddingCacheHit 记录嵌入缓存命中
func (c *Collector) EmbeddingCacheHit() { c.embeddingCacheHits.Inc() }

// EmbeddingCacheMiss 记录嵌入缓存未命中
func (c *Collector) EmbeddingCacheMiss() { c.embeddingCacheMisses.Inc() }

// ObserveIngest 记录一次摄取批次
func (c *Collector) ObserveIngest(chunks int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.ingestTotal.WithLabelValues(status).Inc()
	if err == nil {
		c.ingestedChunk.Add(float64(chunks))
	}
}
