package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/localrag/types"
)

// metaKeyEmbeddingDim 维度守卫的元数据键。
const metaKeyEmbeddingDim = "embedding_dim"

// dimProbeText 初始化时探测嵌入维度用的探针文本。
const dimProbeText = "dimension probe"

// Embedder 是存储引擎需要的最小嵌入接口。
// 完整实现见 embedding 包。
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config 存储配置
type Config struct {
	// SQLite 数据库文件路径（":memory:" 用于测试）
	Path string
	// 批量写入的最大块数
	BatchSize int
}

// DefaultConfig 返回默认存储配置
func DefaultConfig() Config {
	return Config{
		Path:      "localrag.db",
		BatchSize: 64,
	}
}

// Store 混合存储引擎。写路径由互斥锁串行化（SQLite 单写者）；
// 读路径不加锁。
type Store struct {
	db       *gorm.DB
	embedder Embedder
	dim      int
	config   Config
	logger   *zap.Logger
	writeMu  sync.Mutex
}

// New 打开（或创建）存储：建表、探测嵌入维度并校验维度守卫。
// 任何一步失败都返回 STORAGE_INIT —— 语料在修复前不可用。
func New(ctx context.Context, cfg Config, embedder Embedder, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if embedder == nil {
		return nil, types.NewError(types.ErrStorageInit, "embedder is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, types.NewError(types.ErrStorageInit, "open sqlite database").WithCause(err)
	}

	if err := db.AutoMigrate(
		&ChunkRecord{},
		&VectorRecord{},
		&KeywordPosting{},
		&ChunkStat{},
		&HistoryRecord{},
		&MetaRecord{},
	); err != nil {
		return nil, types.NewError(types.ErrStorageInit, "create schema").WithCause(err)
	}

	s := &Store{
		db:       db,
		embedder: embedder,
		config:   cfg,
		logger:   logger.With(zap.String("component", "store")),
	}

	if err := s.probeDimension(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("store initialized",
		zap.String("path", cfg.Path),
		zap.Int("embedding_dim", s.dim))

	return s, nil
}

// probeDimension 嵌入探针文本得到维度，并与已持久化的维度比对。
// 用不同维度的嵌入模型重新打开旧库会损坏相似度检索，必须快速失败。
func (s *Store) probeDimension(ctx context.Context) error {
	vecs, err := s.embedder.Embed(ctx, []string{dimProbeText})
	if err != nil {
		return types.NewError(types.ErrStorageInit, "probe embedding dimensionality").WithCause(err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return types.NewError(types.ErrStorageInit, "embedding provider returned an empty probe vector")
	}
	dim := len(vecs[0])

	var meta MetaRecord
	err = s.db.Where("key = ?", metaKeyEmbeddingDim).First(&meta).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		meta = MetaRecord{Key: metaKeyEmbeddingDim, Value: strconv.Itoa(dim)}
		if err := s.db.Create(&meta).Error; err != nil {
			return types.NewError(types.ErrStorageInit, "persist embedding dimension").WithCause(err)
		}
	case err != nil:
		return types.NewError(types.ErrStorageInit, "read embedding dimension").WithCause(err)
	default:
		stored, convErr := strconv.Atoi(meta.Value)
		if convErr != nil {
			return types.NewError(types.ErrStorageInit, "corrupt embedding dimension metadata").WithCause(convErr)
		}
		if stored != dim {
			return types.NewError(types.ErrStorageInit,
				fmt.Sprintf("store was created with embedding dimension %d, current model produces %d", stored, dim))
		}
	}

	s.dim = dim
	return nil
}

// Dimension 返回本实例的嵌入维度（初始化时探测，实例生命周期内不变）。
func (s *Store) Dimension() int { return s.dim }

// AddChunks 为缺少向量的块计算嵌入，然后把块 + 向量 + 倒排索引行
// 作为单个事务批量写入 —— 要么全部落盘，要么全部回滚。
// 返回带存储分配 ID 的块。
func (s *Store) AddChunks(ctx context.Context, chunks []types.Chunk) ([]types.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	// 嵌入在事务外计算：失败时不写任何行
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, types.NewError(types.ErrEmbedding, "embed chunk batch").WithCause(err)
	}
	if len(vecs) != len(chunks) {
		return nil, types.NewError(types.ErrEmbedding,
			fmt.Sprintf("embedding provider returned %d vectors for %d chunks", len(vecs), len(chunks)))
	}
	for i, v := range vecs {
		if len(v) != s.dim {
			return nil, types.NewError(types.ErrEmbedding,
				fmt.Sprintf("chunk %d embedding has dimension %d, store expects %d", i, len(v), s.dim))
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	inserted := make([]types.Chunk, len(chunks))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, c := range chunks {
			c.ID = uuid.NewString()
			inserted[i] = c

			if err := tx.Create(&ChunkRecord{
				ID:          c.ID,
				Source:      c.Source,
				Filename:    c.Filename,
				ChunkIndex:  c.ChunkIndex,
				TotalChunks: c.TotalChunks,
				Content:     c.Content,
			}).Error; err != nil {
				return fmt.Errorf("insert chunk: %w", err)
			}

			if err := tx.Create(&VectorRecord{
				ChunkID: c.ID,
				Dim:     s.dim,
				Vec:     encodeVector(vecs[i]),
			}).Error; err != nil {
				return fmt.Errorf("insert vector: %w", err)
			}

			tokens := tokenize(c.Content)
			if err := tx.Create(&ChunkStat{ChunkID: c.ID, TokenCount: len(tokens)}).Error; err != nil {
				return fmt.Errorf("insert chunk stats: %w", err)
			}
			for term, tf := range termFrequencies(tokens) {
				if len(term) > 64 {
					term = term[:64]
				}
				if err := tx.Create(&KeywordPosting{Term: term, ChunkID: c.ID, TF: tf}).Error; err != nil {
					return fmt.Errorf("insert keyword posting: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, types.NewError(types.ErrStorageWrite, "insert chunk batch").
			WithCause(err).WithRetryable(true)
	}

	s.logger.Info("chunks added",
		zap.Int("count", len(inserted)),
		zap.String("source", chunks[0].Source))

	return inserted, nil
}

// DeleteBySource 原子地删除某个来源的全部块及其向量和倒排索引行。
// 删除不存在的来源是成功的空操作。
func (s *Store) DeleteBySource(ctx context.Context, source string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&ChunkRecord{}).Where("source = ?", source).Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("list chunk ids: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("chunk_id IN ?", ids).Delete(&KeywordPosting{}).Error; err != nil {
			return fmt.Errorf("delete keyword postings: %w", err)
		}
		if err := tx.Where("chunk_id IN ?", ids).Delete(&ChunkStat{}).Error; err != nil {
			return fmt.Errorf("delete chunk stats: %w", err)
		}
		if err := tx.Where("chunk_id IN ?", ids).Delete(&VectorRecord{}).Error; err != nil {
			return fmt.Errorf("delete vectors: %w", err)
		}
		if err := tx.Where("id IN ?", ids).Delete(&ChunkRecord{}).Error; err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}

		s.logger.Info("source deleted",
			zap.String("source", source),
			zap.Int("chunks", len(ids)))
		return nil
	})
	if err != nil {
		return types.NewError(types.ErrStorageWrite, "delete source").
			WithCause(err).WithRetryable(true)
	}
	return nil
}

// ListSources 返回去重后的来源路径列表。
func (s *Store) ListSources(ctx context.Context) ([]string, error) {
	var sources []string
	err := s.db.WithContext(ctx).Model(&ChunkRecord{}).
		Distinct("source").Order("source").Pluck("source", &sources).Error
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

// CountChunks 返回块总数。
func (s *Store) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ChunkRecord{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// Close 关闭底层数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	s.logger.Info("closing store")
	return sqlDB.Close()
}

func toChunk(r ChunkRecord) types.Chunk {
	return types.Chunk{
		ID:          r.ID,
		Content:     r.Content,
		Source:      r.Source,
		Filename:    r.Filename,
		ChunkIndex:  r.ChunkIndex,
		TotalChunks: r.TotalChunks,
	}
}
