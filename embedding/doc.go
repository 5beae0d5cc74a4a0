// Package embedding 提供文本嵌入：OpenAI 兼容的本地推理服务客户端，
// 外加两级查询向量缓存（进程内 FIFO + 可选 Redis）。
//
// 缓存只存成功结果，失败永不缓存 —— 嵌入服务恢复后下一次调用立即重试。
package embedding
