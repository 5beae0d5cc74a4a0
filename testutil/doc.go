// Copyright 2026 LocalRAG Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 LocalRAG 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup 防止泄漏
  - 流式辅助: CollectEvents / CollectStreamChunks，排干事件流或增量流
  - 数据工具: MustJSON，简化测试数据构造

# 子包

  - testutil/mocks: Mock 实现，包括 ScriptedProvider（LLM Provider，
    支持脚本化的流式增量、工具调用和错误注入）和 Embedder
    （确定性嵌入器，支持固定向量与哈希退路）

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewScriptedProvider("local").WithStreamText("hello", " world")
	events, err := eng.Ask(ctx, "question", "")
*/
package testutil
