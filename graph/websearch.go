package graph

import (
	"context"
	"sync"
	"time"
)

// WebSearchFunc 外部网络搜索：返回对问题的原始文本结果。
// 由上层注入，核心不绑定任何具体搜索服务。
type WebSearchFunc func(ctx context.Context, query string) (string, error)

// webCacheEntry 带过期时间的缓存条目
type webCacheEntry struct {
	result    string
	expiresAt time.Time
}

// webResultCache 网络搜索结果的 TTL 缓存，同一问题短期内重复提问
// 不再打外网。
type webResultCache struct {
	mu      sync.Mutex
	entries map[string]webCacheEntry
	ttl     time.Duration
}

func newWebResultCache(ttl time.Duration) *webResultCache {
	return &webResultCache{
		entries: make(map[string]webCacheEntry),
		ttl:     ttl,
	}
}

func (c *webResultCache) get(query string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[query]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(c.entries, query)
		return "", false
	}
	return entry.result, true
}

func (c *webResultCache) set(query, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[query] = webCacheEntry{
		result:    result,
		expiresAt: time.Now().Add(c.ttl),
	}
}
