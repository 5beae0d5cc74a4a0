package rerank

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
)

// HTTPScorer 通过本地推理服务的 /v1/rerank 端点打分的交叉编码器后端
//（Jina / Cohere 兼容的请求与响应形状）。
type HTTPScorer struct {
	baseURL string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPScorer 创建 HTTP 打分后端
func NewHTTPScorer(baseURL, model string, timeout time.Duration, logger *zap.Logger) *HTTPScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPScorer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(zap.String("component", "rerank_scorer")),
	}
}

// Load 探测推理服务可达性。服务自己管理模型权重，这里没有本地缓存
// 可清，所以永远不返回 CorruptModelError。
func (s *HTTPScorer) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("rerank service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("rerank service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

// rerankRequest Jina 兼容请求体
type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

// rerankResponse Jina 兼容响应体
type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Score 调用 /v1/rerank，按输入顺序返回分数。
func (s *HTTPScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Model: s.model, Query: query, Documents: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(parsed.Results) != len(texts) {
		return nil, fmt.Errorf("rerank service returned %d scores for %d documents", len(parsed.Results), len(texts))
	}

	// 服务端按相关性排序返回，这里按 index 还原输入顺序
	sort.Slice(parsed.Results, func(i, j int) bool { return parsed.Results[i].Index < parsed.Results[j].Index })
	scores := make([]float64, len(parsed.Results))
	for i, r := range parsed.Results {
		scores[i] = r.RelevanceScore
	}
	return scores, nil
}
