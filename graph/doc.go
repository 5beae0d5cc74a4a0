// Package graph 实现自纠错检索图（CRAG）：检索 → 逐文档相关性评分 →
// 零存活时网络搜索兜底 → 生成。每次提问都是一次全新的状态机运行。
//
// 评分失败采取 fail-open：瞬时的评分错误不应该丢掉可能相关的文档。
package graph
