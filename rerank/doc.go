// Package rerank 在独立工作进程中运行交叉编码器重排模型。
//
// 主进程持有至多一个工作进程句柄，通过换行分隔的 JSON 在 stdin/stdout
// 上做异步请求/响应，相关 ID 区分并发请求。工作进程崩溃时所有挂起
// 请求立即失败，由客户端限速重启；模型加载与首次打分解耦（就绪门），
// 加载再慢也不会吃掉打分请求的超时预算。
package rerank
