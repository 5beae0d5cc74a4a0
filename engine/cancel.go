package engine

import (
	"context"
	"sync"
)

// cancelManager 保证至多一个生成在飞：开始新生成先取消旧的。
type cancelManager struct {
	mu      sync.Mutex
	seq     uint64
	current context.CancelFunc
}

// begin 取消上一个在飞生成（如果有），然后派生本次生成的 ctx。
// 返回的 finish 必须在生成结束时调用，它只清理仍属于本次的句柄。
func (m *cancelManager) begin(parent context.Context) (context.Context, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current()
	}

	ctx, cancel := context.WithCancel(parent)
	m.seq++
	seq := m.seq
	m.current = cancel

	finish := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.seq == seq {
			m.current = nil
		}
		cancel()
	}
	return ctx, finish
}

// stop 取消当前在飞生成，没有则是空操作。
func (m *cancelManager) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current()
		m.current = nil
	}
}
