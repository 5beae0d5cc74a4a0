// =============================================================================
// 📦 LocalRAG 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("LOCALRAG").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 LocalRAG 引擎的完整配置结构
type Config struct {
	// Store 混合存储配置
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Embedding 嵌入服务配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Retrieval 检索管线配置（由外层设置界面拥有，引擎只消费）
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Rerank 重排工作进程配置
	Rerank RerankConfig `yaml:"rerank" env:"RERANK"`

	// Graph 自纠错检索图配置
	Graph GraphConfig `yaml:"graph" env:"GRAPH"`

	// LLM 大语言模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Redis 可选的二级嵌入缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// StoreConfig 混合存储配置
type StoreConfig struct {
	// SQLite 数据库文件路径（":memory:" 用于测试）
	Path string `yaml:"path" env:"PATH"`
	// 批量写入的最大块数
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`
}

// EmbeddingConfig 嵌入服务配置
type EmbeddingConfig struct {
	// 本地推理服务的基础 URL（OpenAI 兼容 /v1/embeddings）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 查询向量缓存容量（FIFO 淘汰）
	CacheCapacity int `yaml:"cache_capacity" env:"CACHE_CAPACITY"`
	// 是否启用 Redis 二级缓存
	RedisCache bool `yaml:"redis_cache" env:"REDIS_CACHE"`
}

// RetrievalConfig 检索管线配置
type RetrievalConfig struct {
	// 最终返回的块数
	TopK int `yaml:"top_k" env:"TOP_K"`
	// 是否启用混合检索（向量 + 关键词融合）
	HybridSearch bool `yaml:"hybrid_search" env:"HYBRID_SEARCH"`
	// 关键词信号在融合中的权重（0-1，向量权重 = 1 - 该值）
	KeywordWeight float64 `yaml:"keyword_weight" env:"KEYWORD_WEIGHT"`
	// 是否启用交叉编码器重排
	RerankEnabled bool `yaml:"rerank_enabled" env:"RERANK_ENABLED"`
	// 是否启用自纠错检索图（替代默认管线）
	CRAGEnabled bool `yaml:"crag_enabled" env:"CRAG_ENABLED"`
	// 纯向量检索的距离阈值（混合结果不做阈值过滤）
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
	// 提示词携带的最近对话轮数（一问一答算一轮，即两条历史记录）
	HistoryWindow int `yaml:"history_window" env:"HISTORY_WINDOW"`
}

// RerankConfig 重排工作进程配置
type RerankConfig struct {
	// 工作进程可执行文件（为空时使用当前二进制 + "worker" 子命令）
	WorkerPath string `yaml:"worker_path" env:"WORKER_PATH"`
	// 模型缓存目录
	ModelCacheDir string `yaml:"model_cache_dir" env:"MODEL_CACHE_DIR"`
	// 交叉编码器推理服务的基础 URL
	ScorerBaseURL string `yaml:"scorer_base_url" env:"SCORER_BASE_URL"`
	// 交叉编码器模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 单次重排请求超时
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// 模型加载就绪超时
	ReadyTimeout time.Duration `yaml:"ready_timeout" env:"READY_TIMEOUT"`
}

// GraphConfig 自纠错检索图配置
type GraphConfig struct {
	// 评分阶段使用的模型提供者 ID（为空时复用问答提供者）
	GraderProvider string `yaml:"grader_provider" env:"GRADER_PROVIDER"`
	// 网络搜索超时
	WebSearchTimeout time.Duration `yaml:"web_search_timeout" env:"WEB_SEARCH_TIMEOUT"`
	// 网络搜索结果缓存 TTL
	WebCacheTTL time.Duration `yaml:"web_cache_ttl" env:"WEB_CACHE_TTL"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// 默认 Provider
	DefaultProvider string `yaml:"default_provider" env:"DEFAULT_PROVIDER"`
	// 本地推理服务基础 URL（OpenAI 兼容）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 生成温度
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 最大生成 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 缓存键过期时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率 [0, 1]
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "LOCALRAG",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Retrieval.TopK <= 0 {
		errs = append(errs, "retrieval.top_k must be positive")
	}
	if c.Retrieval.KeywordWeight < 0 || c.Retrieval.KeywordWeight > 1 {
		errs = append(errs, "retrieval.keyword_weight must be between 0 and 1")
	}
	if c.Retrieval.SimilarityThreshold < 0 {
		errs = append(errs, "retrieval.similarity_threshold must be non-negative")
	}
	if c.Retrieval.HistoryWindow < 0 {
		errs = append(errs, "retrieval.history_window must be non-negative")
	}
	if c.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}
	if c.Embedding.CacheCapacity <= 0 {
		errs = append(errs, "embedding.cache_capacity must be positive")
	}
	if c.Rerank.RequestTimeout <= 0 {
		errs = append(errs, "rerank.request_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
