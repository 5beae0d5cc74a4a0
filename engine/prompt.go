package engine

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/localrag/types"
)

// historyTokenBudget 历史注入提示词的 token 预算。
const historyTokenBudget = 1024

// systemPreamble 接地指令：只依据给出的上下文回答。
const systemPreamble = "You are a helpful assistant. Answer the question using ONLY the " +
	"context below. If the context does not contain the answer, say you do not know. " +
	"Cite the source label when you use a passage."

// tokenCounter 估算文本 token 数，历史窗口按它裁剪。
type tokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// wordCounter 无法加载 BPE 词表时的保守退路。
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func newTokenCounter() tokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return wordCounter{}
	}
	return tiktokenCounter{enc: enc}
}

// buildPrompt 组装提示词：接地前言 + 带来源标签的上下文块 +
// 裁剪后的对话历史 + 当前问题。
//
// 历史裁剪两道闸：最多 window 轮（一问一答算一轮，即两条记录），
// 且总 token 不超预算（从最新往回取，越新越优先保留）。
func buildPrompt(counter tokenCounter, question string, docs []types.RetrievalResult,
	history []types.ChatHistoryEntry, window int) []types.Message {

	var sb strings.Builder
	sb.WriteString(systemPreamble)
	if len(docs) > 0 {
		sb.WriteString("\n\nContext:\n")
		for i, doc := range docs {
			fmt.Fprintf(&sb, "\n[%d] Source: %s\n%s\n", i+1, doc.Chunk.Source, doc.Chunk.Content)
		}
	}

	messages := []types.Message{types.NewSystemMessage(sb.String())}

	if window > 0 && len(history) > 0 {
		recent := history
		if maxEntries := window * 2; len(recent) > maxEntries {
			recent = recent[len(recent)-maxEntries:]
		}
		// 从最新往回累积 token，超预算即停
		budget := historyTokenBudget
		start := len(recent)
		for i := len(recent) - 1; i >= 0; i-- {
			cost := counter.Count(recent[i].Content)
			if cost > budget {
				break
			}
			budget -= cost
			start = i
		}
		for _, entry := range recent[start:] {
			messages = append(messages, types.NewMessage(entry.Role, entry.Content))
		}
	}

	messages = append(messages, types.NewUserMessage(question))
	return messages
}

// snippet 截取来源归属展示用的内容片段。
func snippet(content string, limit int) string {
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "…"
}
