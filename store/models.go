package store

import "time"

// ChunkRecord 块表行。块一经插入不再修改，只按 source 删除。
type ChunkRecord struct {
	ID          string `gorm:"primaryKey;size:36"`
	Source      string `gorm:"index;not null"`
	Filename    string `gorm:"size:255"`
	ChunkIndex  int    `gorm:"not null"`
	TotalChunks int    `gorm:"not null"`
	Content     string `gorm:"type:text;not null"`
}

// TableName 指定表名
func (ChunkRecord) TableName() string { return "chunks" }

// VectorRecord 向量表行，与块 1:1，float32 小端序 BLOB。
type VectorRecord struct {
	ChunkID string `gorm:"primaryKey;size:36"`
	Dim     int    `gorm:"not null"`
	Vec     []byte `gorm:"not null"`
}

// TableName 指定表名
func (VectorRecord) TableName() string { return "chunk_vectors" }

// KeywordPosting 倒排索引行：词项 → 块，带词频。
// 与块表在同一事务内插入/删除。
type KeywordPosting struct {
	Term    string `gorm:"primaryKey;size:64"`
	ChunkID string `gorm:"primaryKey;size:36;index"`
	TF      int    `gorm:"not null"`
}

// TableName 指定表名
func (KeywordPosting) TableName() string { return "keyword_postings" }

// ChunkStat 每块的词数，BM25 的文档长度归一化需要。
type ChunkStat struct {
	ChunkID    string `gorm:"primaryKey;size:36"`
	TokenCount int    `gorm:"not null"`
}

// TableName 指定表名
func (ChunkStat) TableName() string { return "chunk_stats" }

// HistoryRecord 对话历史行，仅追加，按插入顺序排序。
type HistoryRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Role      string `gorm:"size:16;not null"`
	Content   string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

// TableName 指定表名
func (HistoryRecord) TableName() string { return "chat_history" }

// MetaRecord 存储级元数据（目前只有 embedding_dim 维度守卫）。
type MetaRecord struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value string `gorm:"size:255;not null"`
}

// TableName 指定表名
func (MetaRecord) TableName() string { return "store_meta" }
