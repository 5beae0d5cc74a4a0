package rerank

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// CrossEncoder 交叉编码器后端：对 (query, text) 逐对打分，
// 分数顺序与输入文本一致。
type CrossEncoder interface {
	// Load 加载模型，可能很慢。Run 在加载完成前不回应任何请求。
	Load(ctx context.Context) error
	// Score 返回每个候选文本与查询的相关性分数，越大越相关。
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// CorruptModelError 模型缓存损坏（反序列化失败）的可识别错误类。
// 工作进程看到它会清一次模型缓存并重试加载。
type CorruptModelError struct {
	Path string
	Err  error
}

func (e *CorruptModelError) Error() string {
	return fmt.Sprintf("corrupt model cache at %s: %v", e.Path, e.Err)
}

func (e *CorruptModelError) Unwrap() error { return e.Err }

// Worker 工作进程侧的服务循环：stdin 读请求、stdout 写响应，
// 请求各自并发处理，写出由互斥锁串行化。
type Worker struct {
	encoder  CrossEncoder
	cacheDir string
	in       io.Reader
	out      io.Writer
	logger   *zap.Logger
	writeMu  sync.Mutex
}

// NewWorker 创建服务循环。cacheDir 是模型缓存目录，缓存损坏时会被清除。
func NewWorker(encoder CrossEncoder, cacheDir string, in io.Reader, out io.Writer, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		encoder:  encoder,
		cacheDir: cacheDir,
		in:       in,
		out:      out,
		logger:   logger.With(zap.String("component", "rerank_worker")),
	}
}

// Run 加载模型、发出就绪通知，然后服务请求直到 stdin 关闭。
// 模型缓存损坏时清空缓存目录并恰好重试一次加载。
func (w *Worker) Run(ctx context.Context) error {
	if err := w.loadModel(ctx); err != nil {
		return err
	}

	if err := w.writeMessage(response{Method: methodReady}); err != nil {
		return fmt.Errorf("announce readiness: %w", err)
	}
	w.logger.Info("model loaded, serving requests")

	var wg sync.WaitGroup
	scanner := bufio.NewScanner(w.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			w.logger.Warn("malformed request", zap.Error(err))
			continue
		}
		if req.Method != methodRerank {
			w.logger.Warn("unknown method", zap.String("method", req.Method))
			continue
		}

		// 并发打分：客户端靠相关 ID 匹配，响应顺序无关紧要
		wg.Add(1)
		go func(req request) {
			defer wg.Done()
			w.handle(ctx, req)
		}(req)
	}
	wg.Wait()
	return scanner.Err()
}

func (w *Worker) loadModel(ctx context.Context) error {
	err := w.encoder.Load(ctx)
	if err == nil {
		return nil
	}

	var corrupt *CorruptModelError
	if !errors.As(err, &corrupt) {
		return fmt.Errorf("load model: %w", err)
	}

	w.logger.Warn("model cache corrupt, clearing and retrying once",
		zap.String("cache_dir", w.cacheDir),
		zap.Error(err))
	if w.cacheDir != "" {
		if rmErr := os.RemoveAll(w.cacheDir); rmErr != nil {
			return fmt.Errorf("clear model cache: %w", rmErr)
		}
	}
	if err := w.encoder.Load(ctx); err != nil {
		return fmt.Errorf("load model after cache clear: %w", err)
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, req request) {
	scores, err := w.encoder.Score(ctx, req.Query, req.Texts)
	if err != nil {
		w.logger.Error("scoring failed", zap.String("id", req.ID), zap.Error(err))
		_ = w.writeMessage(response{
			ID:    req.ID,
			Error: &wireError{Code: "SCORING_FAILED", Message: err.Error()},
		})
		return
	}
	_ = w.writeMessage(response{ID: req.ID, Scores: scores})
}

func (w *Worker) writeMessage(resp response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	data = append(data, '\n')

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_, err = w.out.Write(data)
	return err
}
