package llm

import (
	"bufio"
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

// === 📦 本地 OpenAI 兼容提供方 ===

// LocalConfig 本地推理服务配置（Ollama / vLLM / LM Studio）。
type LocalConfig struct {
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float32
	MaxTokens   int
}

// LocalProvider 调用本地推理服务的 OpenAI 兼容 /v1/chat/completions。
// 流式路径在提供方内部装配分片的工具调用：文本增量实时转发，
// 工具调用分片按 index 累积，流结束时作为完整调用一次性交付。
type LocalProvider struct {
	cfg    LocalConfig
	client *http.Client
	logger *zap.Logger
}

// NewLocalProvider 创建本地提供方
func NewLocalProvider(cfg LocalConfig, logger *zap.Logger) *LocalProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &LocalProvider{
		cfg: cfg,
		// 流式响应可能持续很久，超时只约束拨号和响应头
		client: &http.Client{Transport: http.DefaultTransport},
		logger: logger.With(zap.String("component", "llm_local")),
	}
}

// Name 提供方标识
func (p *LocalProvider) Name() string { return "local" }

// --- OpenAI 线格式 ---

type openAIMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream"`
}

type openAIChoice struct {
	Index        int            `json:"index"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Message      *openAIMessage `json:"message,omitempty"`
	Delta        *openAIMessage `json:"delta,omitempty"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
}

func convertMessages(messages []types.Message) []openAIMessage {
	out := make([]openAIMessage, len(messages))
	for i, m := range messages {
		out[i] = openAIMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func (p *LocalProvider) buildRequest(ctx context.Context, req *ChatRequest, stream bool) (*http.Request, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.cfg.Temperature
	}

	payload, err := json.Marshal(openAIRequest{
		Model:       model,
		Messages:    convertMessages(req.Messages),
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stop:        req.Stop,
		Stream:      stream,
	})
	if err != nil {
		return nil, types.NewError(types.ErrGeneration, "marshal chat request").WithCause(err).WithProvider(p.Name())
	}

	url := strings.TrimSuffix(p.cfg.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrGeneration, "build chat request").WithCause(err).WithProvider(p.Name())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// Completion 非流式补全
func (p *LocalProvider) Completion(ctx context.Context, req *ChatRequest) (*types.Message, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = p.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := p.buildRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrGeneration, "inference service unreachable").
			WithCause(err).WithRetryable(true).WithProvider(p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, types.NewError(types.ErrGeneration,
			fmt.Sprintf("inference service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))).
			WithRetryable(resp.StatusCode >= 500).WithProvider(p.Name())
	}

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.NewError(types.ErrGeneration, "decode chat response").WithCause(err).WithProvider(p.Name())
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil {
		return nil, types.NewError(types.ErrGeneration, "inference service returned no choices").WithProvider(p.Name())
	}

	choice := parsed.Choices[0].Message
	msg := types.NewAssistantMessage(choice.Content)
	for _, tc := range choice.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return &msg, nil
}

// pendingToolCall 流式工具调用的装配状态：名称和 ID 取首个分片，
// 参数按分片顺序拼接 JSON 文本。
type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

// Stream 流式补全。返回的通道在 [DONE]、错误或 ctx 取消后关闭。
func (p *LocalProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	httpReq, err := p.buildRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrGeneration, "inference service unreachable").
			WithCause(err).WithRetryable(true).WithProvider(p.Name())
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, types.NewError(types.ErrGeneration,
			fmt.Sprintf("inference service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))).
			WithRetryable(resp.StatusCode >= 500).WithProvider(p.Name())
	}

	ch := make(chan StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		// 工具调用分片按 index 累积，流结束时整体交付
		accumulator := make(map[int]*pendingToolCall)
		finishReason := ""

		emit := func(chunk StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		flush := func() {
			if len(accumulator) == 0 && finishReason == "" {
				return
			}
			final := StreamChunk{FinishReason: finishReason}
			if final.FinishReason == "" {
				final.FinishReason = "stop"
			}
			if len(accumulator) > 0 {
				indexes := make([]int, 0, len(accumulator))
				for idx := range accumulator {
					indexes = append(indexes, idx)
				}
				sort.Ints(indexes)
				final.Delta.Role = types.RoleAssistant
				for _, idx := range indexes {
					tc := accumulator[idx]
					final.Delta.ToolCalls = append(final.Delta.ToolCalls, types.ToolCall{
						ID:        tc.id,
						Name:      tc.name,
						Arguments: json.RawMessage(tc.args.String()),
					})
				}
			}
			emit(final)
		}

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF && ctx.Err() == nil {
					emit(StreamChunk{Err: types.NewError(types.ErrGeneration, "stream read").
						WithCause(err).WithRetryable(true).WithProvider(p.Name())})
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				flush()
				return
			}

			var parsed openAIResponse
			if err := json.Unmarshal([]byte(data), &parsed); err != nil {
				emit(StreamChunk{Err: types.NewError(types.ErrGeneration, "decode stream chunk").
					WithCause(err).WithProvider(p.Name())})
				return
			}

			for _, choice := range parsed.Choices {
				if choice.FinishReason != "" {
					finishReason = choice.FinishReason
				}
				if choice.Delta == nil {
					continue
				}
				for _, tc := range choice.Delta.ToolCalls {
					pending, ok := accumulator[tc.Index]
					if !ok {
						pending = &pendingToolCall{}
						accumulator[tc.Index] = pending
					}
					if tc.ID != "" {
						pending.id = tc.ID
					}
					if tc.Function.Name != "" {
						pending.name = tc.Function.Name
					}
					pending.args.WriteString(tc.Function.Arguments)
				}
				if choice.Delta.Content != "" {
					if !emit(StreamChunk{Delta: types.Message{
						Role:    types.RoleAssistant,
						Content: choice.Delta.Content,
					}}) {
						return
					}
				}
			}
		}
	}()
	return ch, nil
}
