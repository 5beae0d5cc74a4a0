package store

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/localrag/types"
)

// BM25 参数，业界常用取值。
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// candidate 排序阶段的中间结果，score 的含义由调用方决定。
type candidate struct {
	chunkID string
	score   float64
}

// SimilaritySearch 嵌入查询后做余弦距离暴力扫描，返回距离最小的 k 个块。
// 距离 = 1 - 余弦相似度，范围 [0, 2]，越小越相似。
func (s *Store) SimilaritySearch(ctx context.Context, query string, k int) ([]types.RetrievalResult, error) {
	if k <= 0 {
		return nil, nil
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, types.NewError(types.ErrEmbedding, "embed query").WithCause(err)
	}
	if len(vecs) != 1 || len(vecs[0]) != s.dim {
		return nil, types.NewError(types.ErrEmbedding,
			fmt.Sprintf("query embedding dimension mismatch, store expects %d", s.dim))
	}
	queryVec := vecs[0]

	var records []VectorRecord
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	candidates := make([]candidate, 0, len(records))
	for _, rec := range records {
		vec, err := decodeVector(rec.Vec, rec.Dim)
		if err != nil {
			return nil, fmt.Errorf("decode vector for chunk %s: %w", rec.ChunkID, err)
		}
		candidates = append(candidates, candidate{
			chunkID: rec.ChunkID,
			score:   1.0 - cosineSimilarity(queryVec, vec),
		})
	}

	// 距离升序，平局按 ID 稳定排序
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].chunkID < candidates[j].chunkID
	})
	if k < len(candidates) {
		candidates = candidates[:k]
	}

	results, err := s.resolveChunks(ctx, candidates, types.ScoreDistance)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("similarity search",
		zap.Int("candidates", len(records)),
		zap.Int("returned", len(results)))
	return results, nil
}

// KeywordSearch 对倒排索引做 BM25 排名，返回分数最高的 k 个块。
// 分数越大越相关。查询与索引使用同一分词器。
func (s *Store) KeywordSearch(ctx context.Context, query string, k int) ([]types.RetrievalResult, error) {
	if k <= 0 {
		return nil, nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	// 去重：同一词项在查询里出现多次不应放大权重
	unique := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		if len(t) > 64 {
			t = t[:64]
		}
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			unique = append(unique, t)
		}
	}

	var totalChunks int64
	if err := s.db.WithContext(ctx).Model(&ChunkStat{}).Count(&totalChunks).Error; err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	if totalChunks == 0 {
		return nil, nil
	}

	var sumTokens int64
	if err := s.db.WithContext(ctx).Model(&ChunkStat{}).
		Select("COALESCE(SUM(token_count), 0)").Scan(&sumTokens).Error; err != nil {
		return nil, fmt.Errorf("sum token counts: %w", err)
	}
	avgDocLen := float64(sumTokens) / float64(totalChunks)
	if avgDocLen == 0 {
		avgDocLen = 1
	}

	var postings []KeywordPosting
	if err := s.db.WithContext(ctx).Where("term IN ?", unique).Find(&postings).Error; err != nil {
		return nil, fmt.Errorf("load postings: %w", err)
	}
	if len(postings) == 0 {
		return nil, nil
	}

	// 文档频率：每个词项命中的块数
	df := make(map[string]int, len(unique))
	byChunk := make(map[string][]KeywordPosting)
	for _, p := range postings {
		df[p.Term]++
		byChunk[p.ChunkID] = append(byChunk[p.ChunkID], p)
	}

	chunkIDs := make([]string, 0, len(byChunk))
	for id := range byChunk {
		chunkIDs = append(chunkIDs, id)
	}
	var stats []ChunkStat
	if err := s.db.WithContext(ctx).Where("chunk_id IN ?", chunkIDs).Find(&stats).Error; err != nil {
		return nil, fmt.Errorf("load chunk stats: %w", err)
	}
	docLen := make(map[string]int, len(stats))
	for _, st := range stats {
		docLen[st.ChunkID] = st.TokenCount
	}

	candidates := make([]candidate, 0, len(byChunk))
	for chunkID, ps := range byChunk {
		dl := float64(docLen[chunkID])
		if dl == 0 {
			dl = 1
		}
		var score float64
		for _, p := range ps {
			idf := math.Log((float64(totalChunks)-float64(df[p.Term])+0.5)/(float64(df[p.Term])+0.5) + 1)
			tf := float64(p.TF)
			score += idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*(1-bm25B+bm25B*(dl/avgDocLen)))
		}
		candidates = append(candidates, candidate{chunkID: chunkID, score: score})
	}

	// 分数降序，平局按 ID 稳定排序
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].chunkID < candidates[j].chunkID
	})
	if k < len(candidates) {
		candidates = candidates[:k]
	}

	results, err := s.resolveChunks(ctx, candidates, types.ScoreKeyword)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("keyword search",
		zap.Int("terms", len(unique)),
		zap.Int("returned", len(results)))
	return results, nil
}

// resolveChunks 批量加载块内容，保持候选顺序组装检索结果。
// 候选中出现但块表里已不存在的 ID（并发删除）会被跳过。
func (s *Store) resolveChunks(ctx context.Context, candidates []candidate, kind types.ScoreKind) ([]types.RetrievalResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.chunkID
	}
	var records []ChunkRecord
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	byID := make(map[string]ChunkRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	results := make([]types.RetrievalResult, 0, len(candidates))
	for _, c := range candidates {
		rec, ok := byID[c.chunkID]
		if !ok {
			continue
		}
		results = append(results, types.RetrievalResult{
			Chunk: toChunk(rec),
			Score: types.Score{Kind: kind, Value: c.score},
		})
	}
	return results, nil
}
