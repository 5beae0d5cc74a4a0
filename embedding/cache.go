package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisKeyPrefix Redis 二级缓存键前缀。
const redisKeyPrefix = "localrag:emb:"

// CacheMetrics 缓存命中计数的上报口，生产实现是 internal/metrics 的
// Collector。L1 与 L2 命中都算命中，未命中按真正送去计算的文本数记。
type CacheMetrics interface {
	EmbeddingCacheHit()
	EmbeddingCacheMiss()
}

// CachedProvider 在底层 Provider 前加两级缓存：
//
//	L1 进程内 FIFO（容量固定，满时淘汰最旧条目）
//	L2 可选 Redis（跨进程、跨重启共享）
//
// 只缓存成功结果。缓存层故障降级为直接计算，绝不让缓存拖垮嵌入。
type CachedProvider struct {
	provider Provider
	capacity int
	ttl      time.Duration
	rdb      redis.UniversalClient
	metrics  CacheMetrics
	logger   *zap.Logger

	mu    sync.Mutex
	items map[string][]float32
	order []string // 插入顺序，队首最旧
}

// CacheOption 缓存配置项
type CacheOption func(*CachedProvider)

// WithRedis 启用 Redis 二级缓存
func WithRedis(rdb redis.UniversalClient, ttl time.Duration) CacheOption {
	return func(c *CachedProvider) {
		c.rdb = rdb
		c.ttl = ttl
	}
}

// WithCacheMetrics 启用命中/未命中计数上报
func WithCacheMetrics(m CacheMetrics) CacheOption {
	return func(c *CachedProvider) {
		c.metrics = m
	}
}

// NewCachedProvider 创建带缓存的嵌入器。capacity 必须为正。
func NewCachedProvider(provider Provider, capacity int, logger *zap.Logger, opts ...CacheOption) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = 512
	}
	c := &CachedProvider{
		provider: provider,
		capacity: capacity,
		logger:   logger.With(zap.String("component", "embedding_cache")),
		items:    make(map[string][]float32, capacity),
		order:    make([]string, 0, capacity),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Embed 逐条查缓存，只把未命中的文本发给底层 Provider。
// 任一文本嵌入失败则整批失败，失败结果不会进入缓存。
func (c *CachedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if vec, ok := c.getL1(text); ok {
			results[i] = vec
			c.recordHit()
			continue
		}
		if vec, ok := c.getL2(ctx, text); ok {
			results[i] = vec
			c.putL1(text, vec)
			c.recordHit()
			continue
		}
		c.recordMiss()
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	computed, err := c.provider.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, vec := range computed {
		text := missTexts[j]
		results[missIdx[j]] = vec
		c.putL1(text, vec)
		c.putL2(ctx, text, vec)
	}

	c.logger.Debug("embedding cache",
		zap.Int("hits", len(texts)-len(missTexts)),
		zap.Int("misses", len(missTexts)))
	return results, nil
}

func (c *CachedProvider) recordHit() {
	if c.metrics != nil {
		c.metrics.EmbeddingCacheHit()
	}
}

func (c *CachedProvider) recordMiss() {
	if c.metrics != nil {
		c.metrics.EmbeddingCacheMiss()
	}
}

// Len 返回 L1 当前条目数，测试用。
func (c *CachedProvider) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *CachedProvider) getL1(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.items[text]
	return vec, ok
}

func (c *CachedProvider) putL1(text string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[text]; exists {
		return
	}
	if len(c.items) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.items[text] = vec
	c.order = append(c.order, text)
}

func (c *CachedProvider) getL2(ctx context.Context, text string) ([]float32, bool) {
	if c.rdb == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, redisKey(text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("redis cache read failed", zap.Error(err))
		}
		return nil, false
	}
	vec, ok := decodeCacheValue(data)
	return vec, ok
}

func (c *CachedProvider) putL2(ctx context.Context, text string, vec []float32) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, redisKey(text), encodeCacheValue(vec), c.ttl).Err(); err != nil {
		c.logger.Warn("redis cache write failed", zap.Error(err))
	}
}

func redisKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return redisKeyPrefix + hex.EncodeToString(sum[:])
}

func encodeCacheValue(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeCacheValue(data []byte) ([]float32, bool) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, true
}
