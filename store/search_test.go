// 检索测试：向量距离排序与 BM25 关键词排名。
package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/localrag/types"
)

// 向量完全可控的存储：查询和文档的嵌入都来自 vecs 表。
func newVectorStore(t *testing.T, vecs map[string][]float32) *Store {
	t.Helper()
	s, err := New(context.Background(),
		Config{Path: ":memory:"},
		&fakeEmbedder{dim: 2, vecs: vecs},
		zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSimilaritySearch_OrdersByDistance(t *testing.T) {
	// 单位向量：near 与查询同向（距离 0），mid 正交（距离 1），far 反向（距离 2）
	vecs := map[string][]float32{
		"query": {1, 0},
		"near":  {1, 0},
		"mid":   {0, 1},
		"far":   {-1, 0},
	}
	s := newVectorStore(t, vecs)
	ctx := context.Background()

	_, err := s.AddChunks(ctx, []types.Chunk{
		chunk("docs/far.md", "far"),
		chunk("docs/mid.md", "mid"),
		chunk("docs/near.md", "near"),
	})
	require.NoError(t, err)

	results, err := s.SimilaritySearch(ctx, "query", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "near", results[0].Chunk.Content)
	assert.Equal(t, "mid", results[1].Chunk.Content)
	assert.Equal(t, "far", results[2].Chunk.Content)

	assert.InDelta(t, 0.0, results[0].Score.Value, 1e-9)
	assert.InDelta(t, 1.0, results[1].Score.Value, 1e-9)
	assert.InDelta(t, 2.0, results[2].Score.Value, 1e-9)
	for _, r := range results {
		assert.Equal(t, types.ScoreDistance, r.Score.Kind)
	}
}

func TestSimilaritySearch_TruncatesToK(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddChunks(ctx, []types.Chunk{
		chunk("docs/a.md", "one"),
		chunk("docs/a.md", "two"),
		chunk("docs/a.md", "three"),
	})
	require.NoError(t, err)

	results, err := s.SimilaritySearch(ctx, "anything", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSimilaritySearch_EmptyStore(t *testing.T) {
	s := newTestStore(t)
	results, err := s.SimilaritySearch(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestKeywordSearch_RanksByBM25(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddChunks(ctx, []types.Chunk{
		chunk("docs/a.md", "paris paris paris is a city"),
		chunk("docs/b.md", "paris appears once in this much longer chunk about many unrelated subjects and topics"),
		chunk("docs/c.md", "berlin is a city"),
	})
	require.NoError(t, err)

	results, err := s.KeywordSearch(ctx, "paris", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// 高词频 + 短文档应排在前面
	assert.Equal(t, "docs/a.md", results[0].Chunk.Source)
	assert.Equal(t, "docs/b.md", results[1].Chunk.Source)
	assert.Greater(t, results[0].Score.Value, results[1].Score.Value)
	for _, r := range results {
		assert.Equal(t, types.ScoreKeyword, r.Score.Kind)
	}
}

func TestKeywordSearch_MultiTermCoverage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddChunks(ctx, []types.Chunk{
		chunk("docs/both.md", "capital france paris"),
		chunk("docs/one.md", "capital city budget"),
	})
	require.NoError(t, err)

	results, err := s.KeywordSearch(ctx, "capital paris", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// 命中两个查询词的块应排在只命中一个的前面
	assert.Equal(t, "docs/both.md", results[0].Chunk.Source)
}

func TestKeywordSearch_CaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddChunks(ctx, []types.Chunk{
		chunk("docs/a.md", "The Capital Of France"),
	})
	require.NoError(t, err)

	results, err := s.KeywordSearch(ctx, "CAPITAL france", 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestKeywordSearch_NoMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddChunks(ctx, []types.Chunk{chunk("docs/a.md", "alpha bravo")})
	require.NoError(t, err)

	results, err := s.KeywordSearch(ctx, "zulu", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestKeywordSearch_EmptyQuery(t *testing.T) {
	s := newTestStore(t)
	results, err := s.KeywordSearch(context.Background(), "   ...   ", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTokenize_SameForIndexAndQuery(t *testing.T) {
	assert.Equal(t,
		tokenize("The CAPITAL, of-France: is Paris!"),
		tokenize("the capital of france is paris"))
}
