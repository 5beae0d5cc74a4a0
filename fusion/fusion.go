// Package fusion 实现倒数排名融合（RRF）：把多路检索的有序结果列表
// 合并成一个列表。RRF 只依赖排名位置，不要求各路分数可比 ——
// 向量距离和 BM25 分数因此可以直接融合。
package fusion

import (
	"sort"

	"github.com/BaSui01/localrag/types"
)

// DefaultC RRF 平滑常数。取 60 使头部排名差异主导、长尾贡献可忽略。
const DefaultC = 60.0

// RankedList 一路有序检索结果及其融合权重。
type RankedList struct {
	Results []types.RetrievalResult
	Weight  float64
}

// fusedEntry 融合过程中每个唯一块的累积状态。
type fusedEntry struct {
	chunk     types.Chunk
	score     float64
	firstList int
	firstRank int
}

// Fuse 按 RRF 合并多路结果：列表 i（权重 wᵢ）中排名 r（0 起）的块
// 贡献 wᵢ/(c+r+1)，按 (source, content) 身份累加去重。输出按融合分
// 降序；分数完全相等时按列表提供顺序决胜（先出现者在前），保证确定性。
//
// 融合分只有序数意义，跨查询不可比。
func Fuse(lists []RankedList, c float64) []types.RetrievalResult {
	if c <= 0 {
		c = DefaultC
	}

	entries := make(map[types.ChunkIdentity]*fusedEntry)
	var order []types.ChunkIdentity

	for listIdx, list := range lists {
		if list.Weight <= 0 {
			continue
		}
		for rank, result := range list.Results {
			id := result.Chunk.Identity()
			contribution := list.Weight / (c + float64(rank) + 1)

			entry, ok := entries[id]
			if !ok {
				entry = &fusedEntry{
					chunk:     result.Chunk,
					firstList: listIdx,
					firstRank: rank,
				}
				entries[id] = entry
				order = append(order, id)
			}
			entry.score += contribution
		}
	}

	out := make([]*fusedEntry, 0, len(order))
	for _, id := range order {
		out = append(out, entries[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].firstList != out[j].firstList {
			return out[i].firstList < out[j].firstList
		}
		return out[i].firstRank < out[j].firstRank
	})

	results := make([]types.RetrievalResult, len(out))
	for i, e := range out {
		results[i] = types.RetrievalResult{
			Chunk: e.chunk,
			Score: types.Score{Kind: types.ScoreFused, Value: e.score},
		}
	}
	return results
}

// FuseWeighted 双路融合的便捷入口：keywordWeight 给关键词路，
// 其余权重给向量路。
func FuseWeighted(vector, keyword []types.RetrievalResult, keywordWeight float64) []types.RetrievalResult {
	if keywordWeight < 0 {
		keywordWeight = 0
	}
	if keywordWeight > 1 {
		keywordWeight = 1
	}
	return Fuse([]RankedList{
		{Results: vector, Weight: 1 - keywordWeight},
		{Results: keyword, Weight: keywordWeight},
	}, DefaultC)
}

// FuseEqual 等权重融合任意多路结果。
func FuseEqual(lists ...[]types.RetrievalResult) []types.RetrievalResult {
	if len(lists) == 0 {
		return nil
	}
	w := 1.0 / float64(len(lists))
	ranked := make([]RankedList, len(lists))
	for i, l := range lists {
		ranked[i] = RankedList{Results: l, Weight: w}
	}
	return Fuse(ranked, DefaultC)
}
