// Package llm 定义语言模型提供方接口和本地推理实现。
package llm

import (
	"context"
	"time"

	"github.com/BaSui01/localrag/types"
)

// ChatRequest 一次补全或流式生成的请求。
type ChatRequest struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Timeout     time.Duration   `json:"timeout,omitempty"`
}

// StreamChunk 流式生成的一个增量。Delta.Content 是文本增量；
// Delta.ToolCalls 只在增量携带完整装配好的工具调用时非空。
// Err 非空表示流异常中止，之后不再有增量。
type StreamChunk struct {
	Delta        types.Message `json:"delta"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Err          error         `json:"-"`
}

// Provider 语言模型提供方。
type Provider interface {
	// Name 提供方标识，注册表按它查找
	Name() string
	// Completion 非流式补全，返回完整的助手消息
	Completion(ctx context.Context, req *ChatRequest) (*types.Message, error)
	// Stream 流式补全。通道在生成结束或出错后关闭；
	// 取消 ctx 会尽快终止流并关闭通道
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
}
