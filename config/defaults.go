// =============================================================================
// 📦 LocalRAG 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Store:     DefaultStoreConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Rerank:    DefaultRerankConfig(),
		Graph:     DefaultGraphConfig(),
		LLM:       DefaultLLMConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Path:      "localrag.db",
		BatchSize: 64,
	}
}

// DefaultEmbeddingConfig 返回默认嵌入配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		BaseURL:       "http://localhost:11434",
		Model:         "nomic-embed-text",
		Timeout:       60 * time.Second,
		CacheCapacity: 512,
		RedisCache:    false,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:                5,
		HybridSearch:        true,
		KeywordWeight:       0.4,
		RerankEnabled:       false,
		CRAGEnabled:         false,
		SimilarityThreshold: 1.5,
		HistoryWindow:       6,
	}
}

// DefaultRerankConfig 返回默认重排配置
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		WorkerPath:     "",
		ModelCacheDir:  ".localrag/models",
		ScorerBaseURL:  "http://localhost:11434",
		Model:          "bge-reranker-base",
		RequestTimeout: 300 * time.Second,
		ReadyTimeout:   5 * time.Minute,
	}
}

// DefaultGraphConfig 返回默认检索图配置
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		GraderProvider:   "",
		WebSearchTimeout: 15 * time.Second,
		WebCacheTTL:      30 * time.Minute,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		DefaultProvider: "local",
		BaseURL:         "http://localhost:11434",
		Model:           "llama3.1",
		Timeout:         5 * time.Minute,
		Temperature:     0.2,
		MaxTokens:       2048,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
		TTL:      24 * time.Hour,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stderr"},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "localrag",
		SampleRate:   1.0,
	}
}
