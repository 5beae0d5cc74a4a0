package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/localrag/fusion"
	"github.com/BaSui01/localrag/types"
)

// minRerankCandidates 重排时的最小候选数：重排需要比最终 top-K
// 更宽的网才有意义。
const minRerankCandidates = 20

// retrieve 对一个问题跑完整检索：混合或纯向量召回、融合、
// 重排或阈值过滤，返回最终 top-K。
func (e *Engine) retrieve(ctx context.Context, question string) ([]types.RetrievalResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.retrieve")
	defer span.End()

	cfg := e.cfg.Retrieval
	candidateK := cfg.TopK
	reranking := cfg.RerankEnabled && e.reranker != nil
	if reranking {
		candidateK = max(cfg.TopK*4, minRerankCandidates)
	}

	mode := "vector"
	if cfg.HybridSearch {
		mode = "hybrid"
	}
	start := time.Now()

	var candidates []types.RetrievalResult
	var err error
	if cfg.HybridSearch {
		candidates, err = e.hybridSearch(ctx, question, candidateK)
	} else {
		candidates, err = e.store.SimilaritySearch(ctx, question, candidateK)
	}
	if e.collector != nil {
		e.collector.ObserveRetrieval(mode, len(candidates), time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	if reranking {
		return e.rerankOrFallback(ctx, question, candidates)
	}

	// 阈值只约束向量距离：融合分没有自然截断点，混合结果不过滤
	if !cfg.HybridSearch && cfg.SimilarityThreshold > 0 {
		filtered := candidates[:0]
		for _, r := range candidates {
			if r.Score.Kind == types.ScoreDistance && r.Score.Value < cfg.SimilarityThreshold {
				filtered = append(filtered, r)
			}
		}
		candidates = filtered
	}

	if len(candidates) > cfg.TopK {
		candidates = candidates[:cfg.TopK]
	}
	return candidates, nil
}

// hybridSearch 并行跑向量检索和关键词检索，按配置权重融合。
func (e *Engine) hybridSearch(ctx context.Context, question string, k int) ([]types.RetrievalResult, error) {
	var vector, keyword []types.RetrievalResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vector, err = e.store.SimilaritySearch(gctx, question, k)
		return err
	})
	g.Go(func() error {
		var err error
		keyword, err = e.store.KeywordSearch(gctx, question, k)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fusion.FuseWeighted(vector, keyword, e.cfg.Retrieval.KeywordWeight)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

// rerankOrFallback 把候选送工作进程重排。重排失败（超时、崩溃、终态）
// 降级为重排前顺序截到 top-K，问题照常回答。
func (e *Engine) rerankOrFallback(ctx context.Context, question string, candidates []types.RetrievalResult) ([]types.RetrievalResult, error) {
	topK := e.cfg.Retrieval.TopK

	start := time.Now()
	reranked, err := e.reranker.RerankResults(ctx, question, candidates)
	if e.collector != nil {
		e.collector.ObserveRerank(time.Since(start), err)
	}
	if err != nil {
		e.logger.Warn("rerank failed, falling back to pre-rerank ordering",
			zap.String("error_code", string(types.GetErrorCode(err))),
			zap.Error(err))
		if len(candidates) > topK {
			candidates = candidates[:topK]
		}
		return candidates, nil
	}

	if len(reranked) > topK {
		reranked = reranked[:topK]
	}
	return reranked, nil
}
