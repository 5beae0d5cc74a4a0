// Package engine 是问答编排器：对一个问题串起嵌入缓存、混合检索、
// 排名融合、重排（或阈值过滤）、提示词组装和流式生成，把文本增量、
// 工具调用和来源归属作为单一事件流交付。
//
// 全局至多一个生成在飞：新问题先取消旧问题，中途取消丢弃部分答案、
// 不提交任何历史。
package engine
