// =============================================================================
// 🎭 Mock Embedder
// =============================================================================
// 确定性嵌入器：同一文本永远得到同一向量，无需推理服务
// =============================================================================
package mocks

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
)

// Embedder 确定性嵌入器。Vectors 中有精确匹配时返回固定向量，
// 否则用文本哈希播种生成稳定的归一化向量。
type Embedder struct {
	// Dim 输出向量维度
	Dim int
	// Vectors 按精确文本匹配的固定向量（可为 nil）
	Vectors map[string][]float32
	// Err 非空时所有 Embed 调用返回该错误
	Err error
	// FailOn 文本级错误注入：批次包含任一命中文本时整批失败
	FailOn map[string]bool

	mu    sync.Mutex
	calls int
}

// NewEmbedder 创建指定维度的确定性嵌入器
func NewEmbedder(dim int) *Embedder {
	return &Embedder{Dim: dim}
}

// WithVector 为一段精确文本固定输出向量
func (e *Embedder) WithVector(text string, vec []float32) *Embedder {
	if e.Vectors == nil {
		e.Vectors = make(map[string][]float32)
	}
	e.Vectors[text] = vec
	return e
}

// WithFailOn 登记一段让整批嵌入失败的文本
func (e *Embedder) WithFailOn(text string) *Embedder {
	if e.FailOn == nil {
		e.FailOn = make(map[string]bool)
	}
	e.FailOn[text] = true
	return e
}

// Calls 返回 Embed 的调用次数
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Embed 实现 store.Embedder
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if e.Err != nil {
		return nil, e.Err
	}
	for _, text := range texts {
		if e.FailOn[text] {
			return nil, fmt.Errorf("embedding rejected for %q", text)
		}
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if vec, ok := e.Vectors[text]; ok {
			out[i] = vec
			continue
		}
		out[i] = hashVector(text, e.Dim)
	}
	return out, nil
}

// hashVector 用 FNV 哈希播种的线性同余序列生成归一化向量
func hashVector(text string, dim int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed>>16)) / float64(1<<47)
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
