// localrag 是本地优先 RAG 引擎的命令行入口。
//
// 同一个二进制承担两种角色：常规子命令（ask/ingest/sources/delete/history）
// 装配完整引擎；worker 子命令把进程变成重排工作进程，通过 stdin/stdout
// 的 JSON-lines RPC 为主进程打分。重排启用且未配置独立工作进程路径时，
// 主进程会用自己的可执行文件加 worker 参数拉起工作进程。
package main
