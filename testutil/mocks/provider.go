// =============================================================================
// 🎭 Mock LLM Provider
// =============================================================================
// 脚本化的 llm.Provider 实现，支持 Builder 模式与错误注入
//
// 使用方法:
//
//	provider := mocks.NewScriptedProvider("local").
//	    WithStreamText("Hello", ", world").
//	    WithToolCall("call-1", "search", `{"query":"go"}`)
// =============================================================================
package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/localrag/llm"
	"github.com/BaSui01/localrag/types"
)

// ScriptedProvider 按脚本回放补全与流式增量的 Provider。
// 所有 With* 方法返回自身以便链式调用；并发安全。
type ScriptedProvider struct {
	name string

	mu             sync.Mutex
	completions    []string
	completionErr  error
	completionSeen int
	chunks         []llm.StreamChunk
	streamErr      error
	blocking       bool
	chunkDelay     time.Duration
	requests       []*llm.ChatRequest
}

// NewScriptedProvider 创建脚本化 Provider
func NewScriptedProvider(name string) *ScriptedProvider {
	return &ScriptedProvider{name: name}
}

// WithCompletion 设置 Completion 的脚本回答，按调用顺序消费，
// 用尽后重复最后一个。
func (p *ScriptedProvider) WithCompletion(texts ...string) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completions = append(p.completions, texts...)
	return p
}

// WithCompletionErr 让所有 Completion 调用返回该错误
func (p *ScriptedProvider) WithCompletionErr(err error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completionErr = err
	return p
}

// WithStreamText 追加若干文本增量到流脚本
func (p *ScriptedProvider) WithStreamText(parts ...string) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, part := range parts {
		p.chunks = append(p.chunks, llm.StreamChunk{
			Delta: types.Message{Role: types.RoleAssistant, Content: part},
		})
	}
	return p
}

// WithToolCall 追加一个完整工具调用增量到流脚本
func (p *ScriptedProvider) WithToolCall(id, name, arguments string) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = append(p.chunks, llm.StreamChunk{
		Delta: types.Message{
			Role: types.RoleAssistant,
			ToolCalls: []types.ToolCall{{
				ID:        id,
				Name:      name,
				Arguments: json.RawMessage(arguments),
			}},
		},
	})
	return p
}

// WithStreamFailure 追加一个携带错误的增量（流中途失败）
func (p *ScriptedProvider) WithStreamFailure(err error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = append(p.chunks, llm.StreamChunk{Err: err})
	return p
}

// WithStreamErr 让 Stream 调用本身失败（流打不开）
func (p *ScriptedProvider) WithStreamErr(err error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streamErr = err
	return p
}

// WithBlockingStream 让流不产出任何增量，直到 ctx 被取消。
// 用于测试取消路径。
func (p *ScriptedProvider) WithBlockingStream() *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocking = true
	return p
}

// WithChunkDelay 在每个增量之间插入延迟
func (p *ScriptedProvider) WithChunkDelay(d time.Duration) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunkDelay = d
	return p
}

// Requests 返回收到的全部请求（Completion 与 Stream 共用）
func (p *ScriptedProvider) Requests() []*llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*llm.ChatRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// LastRequest 返回最近一次收到的请求，没有则为 nil
func (p *ScriptedProvider) LastRequest() *llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[len(p.requests)-1]
}

// Name 实现 llm.Provider
func (p *ScriptedProvider) Name() string { return p.name }

// Completion 实现 llm.Provider
func (p *ScriptedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*types.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)

	if p.completionErr != nil {
		return nil, p.completionErr
	}
	if len(p.completions) == 0 {
		return nil, fmt.Errorf("no scripted completion")
	}
	idx := p.completionSeen
	if idx >= len(p.completions) {
		idx = len(p.completions) - 1
	}
	p.completionSeen++
	msg := types.NewAssistantMessage(p.completions[idx])
	return &msg, nil
}

// Stream 实现 llm.Provider
func (p *ScriptedProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	streamErr := p.streamErr
	blocking := p.blocking
	delay := p.chunkDelay
	chunks := make([]llm.StreamChunk, len(p.chunks))
	copy(chunks, p.chunks)
	p.mu.Unlock()

	if streamErr != nil {
		return nil, streamErr
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		if blocking {
			<-ctx.Done()
			return
		}
		for _, chunk := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
