package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/localrag/llm"
	"github.com/BaSui01/localrag/types"
)

// Node 状态机节点
type Node string

// 四个节点：检索（入口）→ 评分 →（可选）网络搜索 → 生成（终点）。
const (
	NodeRetrieve  Node = "retrieve"
	NodeGrade     Node = "grade_documents"
	NodeWebSearch Node = "web_search"
	NodeGenerate  Node = "generate"
)

// webSourceLabel 网络搜索兜底结果的合成来源标识。
const webSourceLabel = "web:search"

// RetrieveFunc 候选检索，由编排器注入（混合或纯向量）。
type RetrieveFunc func(ctx context.Context, question string) ([]types.RetrievalResult, error)

// GenerateFunc 终点节点的生成动作，由编排器注入（流式生成）。
type GenerateFunc func(ctx context.Context, question string, documents []types.RetrievalResult) error

// Config 图配置
type Config struct {
	// 评分用的模型名，空则用提供方默认
	GradeModel string
	// 网络搜索结果缓存时长
	WebCacheTTL time.Duration
}

// DefaultConfig 返回默认图配置
func DefaultConfig() Config {
	return Config{WebCacheTTL: 30 * time.Minute}
}

// State 一次运行的状态，每次提问全新创建。
type State struct {
	Question  string
	Documents []types.RetrievalResult
	// Visited 按序记录走过的节点
	Visited []Node
	// WebSearched 本次运行是否触发了网络搜索兜底
	WebSearched bool
}

// Graph 自纠错检索图。评分提供方和网络搜索都是注入的依赖，
// 图本身只负责状态转移。
type Graph struct {
	retrieve  RetrieveFunc
	grader    llm.Provider
	webSearch WebSearchFunc // 可为 nil：零存活时直接空手生成
	cache     *webResultCache
	config    Config
	logger    *zap.Logger
}

// New 创建检索图
func New(retrieve RetrieveFunc, grader llm.Provider, webSearch WebSearchFunc, cfg Config, logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WebCacheTTL <= 0 {
		cfg.WebCacheTTL = DefaultConfig().WebCacheTTL
	}
	return &Graph{
		retrieve:  retrieve,
		grader:    grader,
		webSearch: webSearch,
		cache:     newWebResultCache(cfg.WebCacheTTL),
		config:    cfg,
		logger:    logger.With(zap.String("component", "crag")),
	}
}

// Run 为一个问题跑完整个状态机。generate 是终点动作；它的错误
// 包装为 GRAPH_GENERATE 返回。
func (g *Graph) Run(ctx context.Context, question string, generate GenerateFunc) (*State, error) {
	state := &State{Question: question}

	node := NodeRetrieve
	for {
		state.Visited = append(state.Visited, node)
		switch node {
		case NodeRetrieve:
			docs, err := g.retrieve(ctx, question)
			if err != nil {
				return state, fmt.Errorf("retrieve: %w", err)
			}
			state.Documents = docs
			node = NodeGrade

		case NodeGrade:
			state.Documents = g.gradeDocuments(ctx, question, state.Documents)
			if len(state.Documents) == 0 {
				node = NodeWebSearch
			} else {
				node = NodeGenerate
			}

		case NodeWebSearch:
			g.runWebSearch(ctx, state)
			node = NodeGenerate

		case NodeGenerate:
			if err := generate(ctx, question, state.Documents); err != nil {
				return state, types.NewError(types.ErrGraphGenerate, "generate answer").WithCause(err)
			}
			g.logger.Info("graph run complete",
				zap.Int("documents", len(state.Documents)),
				zap.Bool("web_searched", state.WebSearched))
			return state, nil
		}
	}
}

// gradeDocuments 逐文档问一次严格的 yes/no。评分调用出错保留该文档
//（fail-open），绝不因瞬时故障丢文档。
func (g *Graph) gradeDocuments(ctx context.Context, question string, docs []types.RetrievalResult) []types.RetrievalResult {
	kept := docs[:0]
	for _, doc := range docs {
		relevant, err := g.gradeOne(ctx, question, doc.Chunk.Content)
		if err != nil {
			g.logger.Warn("grading failed, keeping document",
				zap.String("source", doc.Chunk.Source),
				zap.Error(err))
			kept = append(kept, doc)
			continue
		}
		if relevant {
			kept = append(kept, doc)
		} else {
			g.logger.Debug("document graded irrelevant", zap.String("source", doc.Chunk.Source))
		}
	}
	return kept
}

func (g *Graph) gradeOne(ctx context.Context, question, document string) (bool, error) {
	prompt := fmt.Sprintf(
		"You are grading whether a document is relevant to a question.\n"+
			"Question: %s\n\nDocument:\n%s\n\n"+
			"Answer with a single word, yes or no.", question, document)

	msg, err := g.grader.Completion(ctx, &llm.ChatRequest{
		Model:    g.config.GradeModel,
		Messages: []types.Message{types.NewUserMessage(prompt)},
	})
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(msg.Content))
	return strings.HasPrefix(answer, "yes"), nil
}

// runWebSearch 网络搜索兜底：结果包装成合成文档插到候选列表最前面。
// 搜索失败不致命，带着手头已有的文档继续生成。
func (g *Graph) runWebSearch(ctx context.Context, state *State) {
	if g.webSearch == nil {
		return
	}
	state.WebSearched = true

	result, ok := g.cache.get(state.Question)
	if !ok {
		var err error
		result, err = g.webSearch(ctx, state.Question)
		if err != nil {
			g.logger.Warn("web search failed, generating without it", zap.Error(err))
			return
		}
		if result != "" {
			g.cache.set(state.Question, result)
		}
	}
	if result == "" {
		return
	}

	synthetic := types.RetrievalResult{
		Chunk: types.Chunk{Source: webSourceLabel, Content: result},
		Score: types.Score{Kind: types.ScoreFused, Value: 0},
	}
	state.Documents = append([]types.RetrievalResult{synthetic}, state.Documents...)
}
