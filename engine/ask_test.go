// 编排器测试：事件流、历史提交、工具调用分路、取消语义。
package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/localrag/config"
	"github.com/BaSui01/localrag/graph"
	"github.com/BaSui01/localrag/llm"
	"github.com/BaSui01/localrag/store"
	"github.com/BaSui01/localrag/testutil"
	"github.com/BaSui01/localrag/testutil/mocks"
	"github.com/BaSui01/localrag/types"
)

type testEnv struct {
	eng      *Engine
	store    *store.Store
	embedder *mocks.Embedder
	provider *mocks.ScriptedProvider
	registry *llm.ProviderRegistry
	cfg      *config.Config
}

// newTestEnv 搭一套内存引擎：确定性嵌入器 + 脚本化 Provider。
// 默认纯向量检索、不过滤阈值，测试按需开混合/重排/CRAG。
func newTestEnv(t *testing.T, mutateCfg func(*config.Config), mutateOpts func(*Options)) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Store.Path = ":memory:"
	cfg.Retrieval.HybridSearch = false
	cfg.Retrieval.SimilarityThreshold = 0
	if mutateCfg != nil {
		mutateCfg(cfg)
	}

	embedder := mocks.NewEmbedder(2)
	st, err := store.New(context.Background(),
		store.Config{Path: cfg.Store.Path}, embedder, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	provider := mocks.NewScriptedProvider("local")
	registry := llm.NewProviderRegistry()
	registry.Register("local", provider)
	require.NoError(t, registry.SetDefault("local"))

	opts := Options{Config: cfg, Store: st, Registry: registry, Logger: zap.NewNop()}
	if mutateOpts != nil {
		mutateOpts(&opts)
	}
	eng, err := New(opts)
	require.NoError(t, err)

	return &testEnv{
		eng:      eng,
		store:    st,
		embedder: embedder,
		provider: provider,
		registry: registry,
		cfg:      cfg,
	}
}

// ingest 摄取一个来源的若干块并断言成功
func (env *testEnv) ingest(t *testing.T, source string, contents ...string) {
	t.Helper()
	chunks := make([]types.Chunk, len(contents))
	for i, content := range contents {
		chunks[i] = types.Chunk{
			Source:      source,
			Filename:    source,
			Content:     content,
			ChunkIndex:  i,
			TotalChunks: len(contents),
		}
	}
	results, err := env.eng.Ingest(context.Background(), chunks)
	require.NoError(t, err)
	for _, r := range results {
		require.NoError(t, r.Err)
	}
}

func eventsOfType(events []types.StreamEvent, typ types.StreamEventType) []types.StreamEvent {
	var out []types.StreamEvent
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	cfg := config.DefaultConfig()
	_, err = New(Options{Config: cfg})
	assert.Error(t, err)
}

func TestAsk_StreamsAnswerSourcesAndHistory(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.ingest(t, "notes/paris.md", "Paris is the capital of France.")
	env.provider.WithStreamText("Paris", " is the capital.")

	events, err := env.eng.Ask(testutil.TestContext(t), "What is the capital of France?", "")
	require.NoError(t, err)
	all := testutil.CollectEvents(events)

	deltas := eventsOfType(all, types.EventTextDelta)
	require.Len(t, deltas, 2)
	assert.Equal(t, "Paris", deltas[0].Text)
	assert.Equal(t, " is the capital.", deltas[1].Text)

	sources := eventsOfType(all, types.EventSources)
	require.Len(t, sources, 1)
	require.Len(t, sources[0].Sources, 1)
	assert.Equal(t, "notes/paris.md", sources[0].Sources[0].Source)
	assert.Contains(t, sources[0].Sources[0].Snippet, "Paris is the capital")

	// Sources 在 Done 之前
	last := all[len(all)-1]
	require.Equal(t, types.EventDone, last.Type)
	assert.Equal(t, "Paris is the capital.", last.Answer)

	history, err := env.eng.GetHistory(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, types.RoleUser, history[0].Role)
	assert.Equal(t, "What is the capital of France?", history[0].Content)
	assert.Equal(t, types.RoleAssistant, history[1].Role)
	assert.Equal(t, "Paris is the capital.", history[1].Content)
}

func TestAsk_PromptCarriesContextAndHistory(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.ingest(t, "notes/paris.md", "Paris is the capital of France.")
	require.NoError(t, env.eng.AddHistoryEntry(context.Background(), types.RoleUser, "earlier question"))
	require.NoError(t, env.eng.AddHistoryEntry(context.Background(), types.RoleAssistant, "earlier answer"))
	env.provider.WithStreamText("ok")

	events, err := env.eng.Ask(testutil.TestContext(t), "And its population?", "")
	require.NoError(t, err)
	testutil.CollectEvents(events)

	req := env.provider.LastRequest()
	require.NotNil(t, req)
	require.GreaterOrEqual(t, len(req.Messages), 4)
	assert.Equal(t, types.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "[1] Source: notes/paris.md")
	assert.Contains(t, req.Messages[0].Content, "Paris is the capital of France.")
	assert.Equal(t, "earlier question", req.Messages[1].Content)
	assert.Equal(t, "earlier answer", req.Messages[2].Content)
	assert.Equal(t, "And its population?", req.Messages[len(req.Messages)-1].Content)
}

// history_window=1 必须带上完整的最后一轮问答，而不是只有最后一条记录。
func TestAsk_HistoryWindowCountsTurns(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Retrieval.HistoryWindow = 1
	}, nil)
	env.ingest(t, "notes/paris.md", "Paris is the capital of France.")
	ctx := context.Background()
	require.NoError(t, env.eng.AddHistoryEntry(ctx, types.RoleUser, "old question"))
	require.NoError(t, env.eng.AddHistoryEntry(ctx, types.RoleAssistant, "old answer"))
	require.NoError(t, env.eng.AddHistoryEntry(ctx, types.RoleUser, "recent question"))
	require.NoError(t, env.eng.AddHistoryEntry(ctx, types.RoleAssistant, "recent answer"))
	env.provider.WithStreamText("ok")

	events, err := env.eng.Ask(testutil.TestContext(t), "follow-up", "")
	require.NoError(t, err)
	testutil.CollectEvents(events)

	req := env.provider.LastRequest()
	require.NotNil(t, req)
	// system + 一轮历史 + 当前问题
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "recent question", req.Messages[1].Content)
	assert.Equal(t, "recent answer", req.Messages[2].Content)
}

func TestAsk_EmitsCompleteToolCalls(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.ingest(t, "notes/tools.md", "The search_docs tool looks things up.")
	env.provider.
		WithStreamText("Let me check.").
		WithToolCall("call-1", "search_docs", `{"query":"france"}`)

	events, err := env.eng.Ask(testutil.TestContext(t), "look it up", "")
	require.NoError(t, err)
	all := testutil.CollectEvents(events)

	calls := eventsOfType(all, types.EventToolCall)
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].ToolCall)
	assert.Equal(t, "search_docs", calls[0].ToolCall.Name)
	assert.JSONEq(t, `{"query":"france"}`, string(calls[0].ToolCall.Arguments))

	last := all[len(all)-1]
	require.Equal(t, types.EventDone, last.Type)
	require.Len(t, last.ToolCalls, 1)
	assert.Equal(t, "call-1", last.ToolCalls[0].ID)
}

func TestAsk_NoRelevantContent(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	events, err := env.eng.Ask(testutil.TestContext(t), "anything", "")
	require.NoError(t, err)
	last := testutil.LastEvent(events)

	require.Equal(t, types.EventFailed, last.Type)
	assert.Equal(t, types.ErrNoRelevantContent, types.GetErrorCode(last.Err))

	history, err := env.eng.GetHistory(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAsk_StreamFailureCommitsNoHistory(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.ingest(t, "notes/a.md", "some indexed content here")
	env.provider.
		WithStreamText("partial").
		WithStreamFailure(errors.New("backend went away"))

	events, err := env.eng.Ask(testutil.TestContext(t), "q", "")
	require.NoError(t, err)
	all := testutil.CollectEvents(events)

	last := all[len(all)-1]
	require.Equal(t, types.EventFailed, last.Type)
	assert.False(t, types.IsAborted(last.Err))
	// 失败前已发出的增量不收回
	assert.NotEmpty(t, eventsOfType(all, types.EventTextDelta))

	history, err := env.eng.GetHistory(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStopGeneration_AbortsWithoutHistory(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.ingest(t, "notes/a.md", "some indexed content here")
	env.provider.WithBlockingStream()

	events, err := env.eng.Ask(testutil.TestContext(t), "q", "")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	env.eng.StopGeneration()

	last := testutil.LastEvent(events)
	require.Equal(t, types.EventFailed, last.Type)
	assert.True(t, types.IsAborted(last.Err))

	history, err := env.eng.GetHistory(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAsk_NewQuestionCancelsPrevious(t *testing.T) {
	slow := mocks.NewScriptedProvider("slow").WithBlockingStream()
	env := newTestEnv(t, nil, func(o *Options) {
		o.Registry.Register("slow", slow)
	})
	env.ingest(t, "notes/a.md", "some indexed content here")
	env.provider.WithStreamText("fresh answer")

	first, err := env.eng.Ask(testutil.TestContext(t), "first question", "slow")
	require.NoError(t, err)
	firstLast := make(chan types.StreamEvent, 1)
	go func() { firstLast <- testutil.LastEvent(first) }()

	time.Sleep(100 * time.Millisecond)

	second, err := env.eng.Ask(testutil.TestContext(t), "second question", "")
	require.NoError(t, err)
	secondLast := testutil.LastEvent(second)
	require.Equal(t, types.EventDone, secondLast.Type)
	assert.Equal(t, "fresh answer", secondLast.Answer)

	ev, ok := testutil.WaitForChannel(firstLast, 2*time.Second)
	require.True(t, ok, "first stream should terminate once superseded")
	require.Equal(t, types.EventFailed, ev.Type)
	assert.True(t, types.IsAborted(ev.Err))

	// 只有第二个问题进了历史
	history, err := env.eng.GetHistory(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "second question", history[0].Content)
}

func TestAsk_CRAGFallsBackToWebSearch(t *testing.T) {
	grader := mocks.NewScriptedProvider("grader").WithCompletion("no")
	var searched []string
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Retrieval.CRAGEnabled = true
		cfg.Graph.GraderProvider = "grader"
	}, func(o *Options) {
		o.Registry.Register("grader", grader)
		o.WebSearch = graph.WebSearchFunc(func(_ context.Context, query string) (string, error) {
			searched = append(searched, query)
			return "Web says the capital is Paris.", nil
		})
	})
	env.ingest(t, "notes/unrelated.md", "Nothing about capitals in here.")
	env.provider.WithStreamText("Paris, per the web.")

	events, err := env.eng.Ask(testutil.TestContext(t), "capital of France?", "")
	require.NoError(t, err)
	all := testutil.CollectEvents(events)

	require.Equal(t, []string{"capital of France?"}, searched)
	sources := eventsOfType(all, types.EventSources)
	require.Len(t, sources, 1)
	require.NotEmpty(t, sources[0].Sources)
	assert.Equal(t, "web:search", sources[0].Sources[0].Source)
	assert.Equal(t, types.EventDone, all[len(all)-1].Type)
}

func TestAsk_CRAGKeepsRelevantDocuments(t *testing.T) {
	grader := mocks.NewScriptedProvider("grader").WithCompletion("yes")
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Retrieval.CRAGEnabled = true
		cfg.Graph.GraderProvider = "grader"
	}, func(o *Options) {
		o.Registry.Register("grader", grader)
	})
	env.ingest(t, "notes/paris.md", "Paris is the capital of France.")
	env.provider.WithStreamText("Paris.")

	events, err := env.eng.Ask(testutil.TestContext(t), "capital of France?", "")
	require.NoError(t, err)
	all := testutil.CollectEvents(events)

	sources := eventsOfType(all, types.EventSources)
	require.Len(t, sources, 1)
	require.NotEmpty(t, sources[0].Sources)
	assert.Equal(t, "notes/paris.md", sources[0].Sources[0].Source)
	assert.Equal(t, types.EventDone, all[len(all)-1].Type)
}

func TestAsk_UnknownProvider(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	_, err := env.eng.Ask(testutil.TestContext(t), "q", "missing")
	assert.Error(t, err)
}
