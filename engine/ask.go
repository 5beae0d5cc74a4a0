package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/localrag/llm"
	"github.com/BaSui01/localrag/types"
)

// snippetLimit 来源归属的内容片段长度（按 rune 计）。
const snippetLimit = 200

// Ask 回答一个问题，返回单一事件流：文本增量、完整工具调用、
// 来源归属、Done/Failed 终止事件。调用方必须消费到通道关闭。
//
// 全局至多一个生成在飞：Ask 先取消上一个未完成的问题。用户取消的
// 流以 GENERATION_ABORTED 的 Failed 事件终止，不算失败，也不提交历史。
func (e *Engine) Ask(ctx context.Context, question, providerID string) (<-chan types.StreamEvent, error) {
	provider, err := e.provider(providerID)
	if err != nil {
		return nil, err
	}

	genCtx, finish := e.cancels.begin(ctx)
	events := make(chan types.StreamEvent, 16)
	go e.runAsk(genCtx, finish, provider, question, events)
	return events, nil
}

func (e *Engine) runAsk(ctx context.Context, finish func(), provider llm.Provider, question string, events chan<- types.StreamEvent) {
	defer close(events)
	defer finish()

	ctx, span := e.tracer.Start(ctx, "engine.ask")
	defer span.End()
	start := time.Now()

	fail := func(err error) {
		if errors.Is(err, context.Canceled) && !types.IsAborted(err) {
			err = types.NewError(types.ErrGenerationAborted, "generation cancelled").WithCause(err)
		}
		status := "error"
		if types.IsAborted(err) {
			status = "aborted"
		}
		if e.collector != nil {
			e.collector.ObserveGeneration(status, time.Since(start))
		}
		e.logger.Info("ask finished",
			zap.String("status", status),
			zap.Duration("elapsed", time.Since(start)))
		events <- types.StreamEvent{Type: types.EventFailed, Err: err}
	}

	generate := func(gctx context.Context, q string, docs []types.RetrievalResult) error {
		return e.generate(gctx, provider, q, docs, events)
	}

	if e.graph != nil {
		if _, err := e.graph.Run(ctx, question, generate); err != nil {
			fail(err)
			return
		}
	} else {
		docs, err := e.retrieve(ctx, question)
		if err != nil {
			fail(err)
			return
		}
		if len(docs) == 0 {
			fail(types.NewError(types.ErrNoRelevantContent, "no relevant content found for question"))
			return
		}
		if err := generate(ctx, question, docs); err != nil {
			fail(err)
			return
		}
	}

	if e.collector != nil {
		e.collector.ObserveGeneration("ok", time.Since(start))
	}
	e.logger.Info("ask finished",
		zap.String("status", "ok"),
		zap.Duration("elapsed", time.Since(start)))
}

// generate 组提示词、流式生成、把增量分路成事件。成功时先发 Sources
// 再发 Done，并提交一问一答两条历史；被取消则直接返回 GENERATION_ABORTED，
// 不提交任何历史。
func (e *Engine) generate(ctx context.Context, provider llm.Provider, question string,
	docs []types.RetrievalResult, events chan<- types.StreamEvent) error {

	// 窗口按轮计：一轮是一问一答两条记录
	var history []types.ChatHistoryEntry
	if window := e.cfg.Retrieval.HistoryWindow; window > 0 {
		var err error
		history, err = e.store.GetHistory(ctx, window*2)
		if err != nil {
			return err
		}
	}
	messages := buildPrompt(e.counter, question, docs, history, e.cfg.Retrieval.HistoryWindow)

	stream, err := provider.Stream(ctx, &llm.ChatRequest{
		Model:       e.cfg.LLM.Model,
		Messages:    messages,
		MaxTokens:   e.cfg.LLM.MaxTokens,
		Temperature: float32(e.cfg.LLM.Temperature),
		Timeout:     e.cfg.LLM.Timeout,
	})
	if err != nil {
		return err
	}

	var answer strings.Builder
	var toolCalls []types.ToolCall

loop:
	for {
		select {
		case chunk, ok := <-stream:
			if !ok {
				break loop
			}
			if chunk.Err != nil {
				return chunk.Err
			}
			if chunk.Delta.Content != "" {
				answer.WriteString(chunk.Delta.Content)
				events <- types.StreamEvent{Type: types.EventTextDelta, Text: chunk.Delta.Content}
			}
			for i := range chunk.Delta.ToolCalls {
				tc := chunk.Delta.ToolCalls[i]
				toolCalls = append(toolCalls, tc)
				events <- types.StreamEvent{Type: types.EventToolCall, ToolCall: &tc}
			}
		case <-ctx.Done():
			return types.NewError(types.ErrGenerationAborted, "generation cancelled").WithCause(ctx.Err())
		}
	}
	if ctx.Err() != nil {
		return types.NewError(types.ErrGenerationAborted, "generation cancelled").WithCause(ctx.Err())
	}

	// 历史提交用独立 ctx：生成已经成功，迟到的取消不该打断提交
	commitCtx := context.Background()
	if err := e.store.AddHistory(commitCtx, types.RoleUser, question); err != nil {
		return err
	}
	if err := e.store.AddHistory(commitCtx, types.RoleAssistant, answer.String()); err != nil {
		return err
	}

	sources := make([]types.SourceAttribution, len(docs))
	for i, doc := range docs {
		sources[i] = types.SourceAttribution{
			Source:  doc.Chunk.Source,
			Snippet: snippet(doc.Chunk.Content, snippetLimit),
			Score:   doc.Score,
		}
	}
	events <- types.StreamEvent{Type: types.EventSources, Sources: sources}
	events <- types.StreamEvent{Type: types.EventDone, Answer: answer.String(), ToolCalls: toolCalls}
	return nil
}
