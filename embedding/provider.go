package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/localrag/types"
)

// Provider 文本嵌入接口。实现必须保证同一文本得到同一向量。
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config 嵌入服务配置
type Config struct {
	// OpenAI 兼容服务的基础 URL，如 http://localhost:11434
	BaseURL string
	// 模型名称
	Model string
	// 请求超时
	Timeout time.Duration
}

// HTTPProvider 调用 OpenAI 兼容的 /v1/embeddings 端点（Ollama、vLLM、
// LM Studio 都暴露这个接口）。
type HTTPProvider struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewHTTPProvider 创建嵌入服务客户端
func NewHTTPProvider(cfg Config, logger *zap.Logger) *HTTPProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "embedding")),
	}
}

// embeddingRequest OpenAI 兼容请求体
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingResponse OpenAI 兼容响应体
type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed 批量嵌入。向量按输入顺序返回。
func (p *HTTPProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingRequest{Model: p.config.Model, Input: texts})
	if err != nil {
		return nil, types.NewError(types.ErrEmbedding, "marshal embedding request").WithCause(err)
	}

	url := strings.TrimSuffix(p.config.BaseURL, "/") + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrEmbedding, "build embedding request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrEmbedding, "embedding service unreachable").
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		e := types.NewError(types.ErrEmbedding,
			fmt.Sprintf("embedding service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
		// 5xx 可重试，4xx（模型名错误等）不可
		return nil, e.WithRetryable(resp.StatusCode >= 500)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.NewError(types.ErrEmbedding, "decode embedding response").WithCause(err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, types.NewError(types.ErrEmbedding,
			fmt.Sprintf("embedding service returned %d vectors for %d inputs", len(parsed.Data), len(texts)))
	}

	// 按 index 还原输入顺序，服务端不保证 data 有序
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if len(d.Embedding) == 0 {
			return nil, types.NewError(types.ErrEmbedding, fmt.Sprintf("empty embedding at index %d", i))
		}
		vectors[i] = d.Embedding
	}

	p.logger.Debug("embedded batch",
		zap.Int("texts", len(texts)),
		zap.Duration("elapsed", time.Since(start)))
	return vectors, nil
}
