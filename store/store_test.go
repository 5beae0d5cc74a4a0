// 存储引擎测试：初始化守卫、事务写入、来源删除、历史记录。
package store

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/localrag/types"
)

// fakeEmbedder 确定性嵌入器：同一文本永远得到同一向量。
// vecs 里登记的文本用固定向量，便于精确控制相似度；其余文本由哈希派生。
type fakeEmbedder struct {
	dim  int
	vecs map[string][]float32
	fail bool
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, errors.New("embedder down")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := f.vecs[text]; ok {
			out[i] = v
			continue
		}
		out[i] = hashVector(text, f.dim)
	}
	return out, nil
}

func hashVector(text string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33)) / float32(math.MaxInt32)
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(),
		Config{Path: ":memory:"},
		&fakeEmbedder{dim: 8},
		zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func chunk(source, content string) types.Chunk {
	return types.Chunk{Source: source, Filename: filepath.Base(source), Content: content, TotalChunks: 1}
}

// --- 初始化测试 ---

func TestNew_ProbesDimension(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, 8, s.Dimension())
}

func TestNew_NilEmbedder(t *testing.T) {
	_, err := New(context.Background(), Config{Path: ":memory:"}, nil, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, types.ErrStorageInit, types.GetErrorCode(err))
}

func TestNew_EmbedderFailureIsStorageInit(t *testing.T) {
	_, err := New(context.Background(), Config{Path: ":memory:"},
		&fakeEmbedder{dim: 8, fail: true}, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, types.ErrStorageInit, types.GetErrorCode(err))
}

func TestNew_DimensionGuard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guard.db")

	s, err := New(context.Background(), Config{Path: path}, &fakeEmbedder{dim: 8}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// 同一个库文件换成不同维度的嵌入器，必须在初始化时失败
	_, err = New(context.Background(), Config{Path: path}, &fakeEmbedder{dim: 16}, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, types.ErrStorageInit, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "dimension")

	// 相同维度可以重新打开
	s, err = New(context.Background(), Config{Path: path}, &fakeEmbedder{dim: 8}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

// --- 写入测试 ---

func TestAddChunks_AssignsIDsAndPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.AddChunks(ctx, []types.Chunk{
		chunk("docs/a.md", "the capital of France is Paris"),
		chunk("docs/a.md", "the capital of Germany is Berlin"),
	})
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	assert.NotEmpty(t, inserted[0].ID)
	assert.NotEmpty(t, inserted[1].ID)
	assert.NotEqual(t, inserted[0].ID, inserted[1].ID)

	count, err := s.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestAddChunks_EmptyBatch(t *testing.T) {
	s := newTestStore(t)
	inserted, err := s.AddChunks(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, inserted)
}

func TestAddChunks_EmbeddingFailureWritesNothing(t *testing.T) {
	emb := &fakeEmbedder{dim: 8}
	s, err := New(context.Background(), Config{Path: ":memory:"}, emb, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	emb.fail = true
	_, err = s.AddChunks(context.Background(), []types.Chunk{chunk("docs/x.md", "hello")})
	require.Error(t, err)
	assert.Equal(t, types.ErrEmbedding, types.GetErrorCode(err))

	emb.fail = false
	count, err := s.CountChunks(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

// 事务内任一行写失败时，整批的块行、向量行、统计行、倒排行都必须回滚。
func TestAddChunks_PartialWriteRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 在倒排行写入处注入失败：此刻块行、向量行、统计行已在事务内落下
	require.NoError(t, s.db.Callback().Create().Before("gorm:create").
		Register("test_fail_posting_insert", func(db *gorm.DB) {
			if _, ok := db.Statement.Dest.(*KeywordPosting); ok {
				_ = db.AddError(errors.New("disk full"))
			}
		}))
	defer func() {
		_ = s.db.Callback().Create().Remove("test_fail_posting_insert")
	}()

	_, err := s.AddChunks(ctx, []types.Chunk{chunk("docs/a.md", "alpha bravo charlie")})
	require.Error(t, err)
	assert.Equal(t, types.ErrStorageWrite, types.GetErrorCode(err))

	// 不留任何孤儿行
	var chunks, vectors, postings, stats int64
	require.NoError(t, s.db.Model(&ChunkRecord{}).Count(&chunks).Error)
	require.NoError(t, s.db.Model(&VectorRecord{}).Count(&vectors).Error)
	require.NoError(t, s.db.Model(&KeywordPosting{}).Count(&postings).Error)
	require.NoError(t, s.db.Model(&ChunkStat{}).Count(&stats).Error)
	assert.Zero(t, chunks)
	assert.Zero(t, vectors)
	assert.Zero(t, postings)
	assert.Zero(t, stats)
}

// 索引一致性：新插入的块必须同时能被向量检索和关键词检索找到。
func TestAddChunks_IndexConsistency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddChunks(ctx, []types.Chunk{
		chunk("docs/paris.md", "Paris is the capital of France"),
	})
	require.NoError(t, err)

	byVector, err := s.SimilaritySearch(ctx, "Paris is the capital of France", 5)
	require.NoError(t, err)
	require.Len(t, byVector, 1)
	assert.Equal(t, types.ScoreDistance, byVector[0].Score.Kind)

	byKeyword, err := s.KeywordSearch(ctx, "capital paris", 5)
	require.NoError(t, err)
	require.Len(t, byKeyword, 1)
	assert.Equal(t, types.ScoreKeyword, byKeyword[0].Score.Kind)

	assert.Equal(t, byVector[0].Chunk.Identity(), byKeyword[0].Chunk.Identity())
}

// --- 删除测试 ---

func TestDeleteBySource_RemovesAllIndexRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddChunks(ctx, []types.Chunk{
		chunk("docs/a.md", "alpha bravo charlie"),
		chunk("docs/b.md", "delta echo foxtrot"),
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteBySource(ctx, "docs/a.md"))

	count, err := s.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// 被删来源的关键词不再可检索
	hits, err := s.KeywordSearch(ctx, "alpha", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// 另一来源不受影响
	hits, err = s.KeywordSearch(ctx, "delta", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	sources, err := s.ListSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/b.md"}, sources)
}

func TestDeleteBySource_UnknownSourceIsNoop(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.DeleteBySource(context.Background(), "docs/never-ingested.md"))
}

// 幂等性：同一来源删两次，两次都成功且第二次不改变库状态。
func TestDeleteBySource_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddChunks(ctx, []types.Chunk{
		chunk("docs/a.md", "alpha bravo"),
		chunk("docs/b.md", "charlie delta"),
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteBySource(ctx, "docs/a.md"))
	count, err := s.CountChunks(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	require.NoError(t, s.DeleteBySource(ctx, "docs/a.md"))
	count, err = s.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	sources, err := s.ListSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/b.md"}, sources)

	// 幸存来源仍可检索
	hits, err := s.KeywordSearch(ctx, "charlie", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

// --- 历史测试 ---

func TestHistory_AppendAndWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddHistory(ctx, types.RoleUser, "first question"))
	require.NoError(t, s.AddHistory(ctx, types.RoleAssistant, "first answer"))
	require.NoError(t, s.AddHistory(ctx, types.RoleUser, "second question"))

	all, err := s.GetHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "first question", all[0].Content)
	assert.Equal(t, types.RoleAssistant, all[1].Role)
	assert.Equal(t, "second question", all[2].Content)

	// 窗口只保留最近 N 条，仍按时间正序
	recent, err := s.GetHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "first answer", recent[0].Content)
	assert.Equal(t, "second question", recent[1].Content)
}

func TestHistory_Clear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddHistory(ctx, types.RoleUser, "question"))
	require.NoError(t, s.ClearHistory(ctx))

	all, err := s.GetHistory(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}
