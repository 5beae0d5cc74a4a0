// Package store 实现混合存储引擎：块文本、元数据、稠密向量和倒排关键词
// 索引保存在同一个嵌入式 SQLite 文件中，三者在同一事务内保持一致 ——
// 任何组件都不会观察到有向量却没有关键词条目的块，反之亦然。
//
// 分数约定：向量检索返回距离（越小越相似），关键词检索返回 BM25 分数
// （越大越相关）。两种分数由 types.Score 显式打标，不可直接比较。
package store
