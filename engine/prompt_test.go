// 提示词组装测试：上下文编号、历史双闸裁剪、片段截断。
package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/localrag/types"
)

func doc(source, content string) types.RetrievalResult {
	return types.RetrievalResult{
		Chunk: types.Chunk{Source: source, Content: content},
		Score: types.Score{Kind: types.ScoreDistance, Value: 0.1},
	}
}

func turn(role types.Role, content string) types.ChatHistoryEntry {
	return types.ChatHistoryEntry{Role: role, Content: content}
}

func TestBuildPrompt_NumbersContextBlocks(t *testing.T) {
	messages := buildPrompt(wordCounter{}, "the question",
		[]types.RetrievalResult{
			doc("a.md", "first passage"),
			doc("b.md", "second passage"),
		}, nil, 6)

	require.Len(t, messages, 2)
	system := messages[0]
	assert.Equal(t, types.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "[1] Source: a.md")
	assert.Contains(t, system.Content, "[2] Source: b.md")
	assert.Less(t,
		strings.Index(system.Content, "first passage"),
		strings.Index(system.Content, "second passage"))

	last := messages[len(messages)-1]
	assert.Equal(t, types.RoleUser, last.Role)
	assert.Equal(t, "the question", last.Content)
}

func TestBuildPrompt_HistoryWindowKeepsNewestTurns(t *testing.T) {
	history := []types.ChatHistoryEntry{
		turn(types.RoleUser, "q1"), turn(types.RoleAssistant, "a1"),
		turn(types.RoleUser, "q2"), turn(types.RoleAssistant, "a2"),
		turn(types.RoleUser, "q3"), turn(types.RoleAssistant, "a3"),
	}
	messages := buildPrompt(wordCounter{}, "now", nil, history, 2)

	// system + 最近 2 轮（4 条）历史 + 当前问题
	require.Len(t, messages, 6)
	assert.Equal(t, "q2", messages[1].Content)
	assert.Equal(t, "a3", messages[4].Content)
}

// 窗口按轮计：window=1 保留完整的最后一轮（一问一答），而不是最后一条记录。
func TestBuildPrompt_WindowCountsTurnsNotEntries(t *testing.T) {
	history := []types.ChatHistoryEntry{
		turn(types.RoleUser, "q1"), turn(types.RoleAssistant, "a1"),
		turn(types.RoleUser, "q2"), turn(types.RoleAssistant, "a2"),
	}
	messages := buildPrompt(wordCounter{}, "now", nil, history, 1)

	require.Len(t, messages, 4)
	assert.Equal(t, types.RoleUser, messages[1].Role)
	assert.Equal(t, "q2", messages[1].Content)
	assert.Equal(t, "a2", messages[2].Content)
}

func TestBuildPrompt_TokenBudgetDropsOldTurns(t *testing.T) {
	huge := strings.Repeat("word ", historyTokenBudget+1)
	history := []types.ChatHistoryEntry{
		turn(types.RoleUser, "old question"),
		turn(types.RoleAssistant, huge),
		turn(types.RoleUser, "recent question"),
	}
	messages := buildPrompt(wordCounter{}, "now", nil, history, 10)

	// 超预算的一轮连同更早的轮次一起被丢弃
	require.Len(t, messages, 3)
	assert.Equal(t, "recent question", messages[1].Content)
}

func TestBuildPrompt_ZeroWindowSkipsHistory(t *testing.T) {
	history := []types.ChatHistoryEntry{turn(types.RoleUser, "q1")}
	messages := buildPrompt(wordCounter{}, "now", nil, history, 0)
	require.Len(t, messages, 2)
}

func TestSnippet_RuneSafeTruncation(t *testing.T) {
	assert.Equal(t, "short", snippet("short", 10))

	cjk := strings.Repeat("知", 30)
	got := snippet(cjk, 10)
	assert.Equal(t, strings.Repeat("知", 10)+"…", got)
}
