package store

import (
	"context"
	"fmt"

	"github.com/BaSui01/localrag/types"
)

// AddHistory 追加一条对话记录。历史只追加、不修改。
func (s *Store) AddHistory(ctx context.Context, role types.Role, content string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec := HistoryRecord{Role: string(role), Content: content}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return types.NewError(types.ErrStorageWrite, "append chat history").
			WithCause(err).WithRetryable(true)
	}
	return nil
}

// GetHistory 返回最近 limit 条对话记录，按插入顺序（最旧在前）。
// limit <= 0 返回全部。
func (s *Store) GetHistory(ctx context.Context, limit int) ([]types.ChatHistoryEntry, error) {
	var records []HistoryRecord
	q := s.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}

	// 查询按 id 倒序取最近 N 条，这里翻回时间正序
	entries := make([]types.ChatHistoryEntry, len(records))
	for i, r := range records {
		entries[len(records)-1-i] = types.ChatHistoryEntry{
			Role:      types.Role(r.Role),
			Content:   r.Content,
			Timestamp: r.CreatedAt,
		}
	}
	return entries, nil
}

// ClearHistory 清空全部对话历史。
func (s *Store) ClearHistory(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&HistoryRecord{}).Error; err != nil {
		return types.NewError(types.ErrStorageWrite, "clear chat history").
			WithCause(err).WithRetryable(true)
	}
	return nil
}
