package engine

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/localrag/types"
)

// IngestResult 单个来源的摄取结果。批量摄取按来源分组提交，
// 一个来源失败不影响其他来源。
type IngestResult struct {
	Source string `json:"source"`
	Chunks int    `json:"chunks"`
	Err    error  `json:"-"`
}

// Ingest 摄取一批文本块。块按 Source 分组，每组一个存储事务：
// 组内全有或全无，组间互不影响。返回值与分组一一对应，按来源
// 名排序，调用方据此报告哪些来源失败及原因。
func (e *Engine) Ingest(ctx context.Context, chunks []types.Chunk) ([]IngestResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.ingest")
	defer span.End()

	groups := make(map[string][]types.Chunk)
	var order []string
	for _, c := range chunks {
		if _, seen := groups[c.Source]; !seen {
			order = append(order, c.Source)
		}
		groups[c.Source] = append(groups[c.Source], c)
	}
	sort.Strings(order)

	results := make([]IngestResult, 0, len(order))
	for _, source := range order {
		group := groups[source]

		stored, err := e.store.AddChunks(ctx, group)
		if e.collector != nil {
			e.collector.ObserveIngest(len(stored), err)
		}
		if err != nil {
			e.logger.Warn("ingest failed for source",
				zap.String("source", source),
				zap.Int("chunks", len(group)),
				zap.String("error_code", string(types.GetErrorCode(err))),
				zap.Error(err))
			results = append(results, IngestResult{Source: source, Err: err})
			continue
		}

		e.logger.Info("source ingested",
			zap.String("source", source),
			zap.Int("chunks", len(stored)))
		results = append(results, IngestResult{Source: source, Chunks: len(stored)})
	}
	return results, ctx.Err()
}

// DeleteSource 删除一个来源的所有块，返回剩余来源列表。
// 删除不存在的来源不报错。
func (e *Engine) DeleteSource(ctx context.Context, source string) ([]string, error) {
	if err := e.store.DeleteBySource(ctx, source); err != nil {
		return nil, err
	}
	e.logger.Info("source deleted", zap.String("source", source))
	return e.store.ListSources(ctx)
}

// ListSources 列出语料库里的全部来源。
func (e *Engine) ListSources(ctx context.Context) ([]string, error) {
	return e.store.ListSources(ctx)
}

// CountChunks 返回语料库的块总数。
func (e *Engine) CountChunks(ctx context.Context) (int64, error) {
	return e.store.CountChunks(ctx)
}

// AddHistoryEntry 手工追加一条对话历史（正常问答的历史由 Ask 提交）。
func (e *Engine) AddHistoryEntry(ctx context.Context, role types.Role, content string) error {
	return e.store.AddHistory(ctx, role, content)
}

// GetHistory 返回最近 limit 条对话历史，时间正序。
func (e *Engine) GetHistory(ctx context.Context, limit int) ([]types.ChatHistoryEntry, error) {
	return e.store.GetHistory(ctx, limit)
}

// ClearHistory 清空全部对话历史。
func (e *Engine) ClearHistory(ctx context.Context) error {
	return e.store.ClearHistory(ctx)
}
