package rerank

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/localrag/types"
)

// 单行消息的扫描缓冲上限，重排候选文本可能很长。
const maxLineBytes = 8 * 1024 * 1024

// Metrics 工作进程重启计数的上报口，生产实现是 internal/metrics 的
// Collector。首次启动不算重启。
type Metrics interface {
	WorkerRestarted()
}

// Config 客户端配置
type Config struct {
	// 单个重排请求的超时
	RequestTimeout time.Duration
	// 就绪门超时：模型加载的预算，与请求超时互相独立
	ReadyTimeout time.Duration
	// Metrics 可为 nil：不上报重启计数
	Metrics Metrics
}

// DefaultConfig 返回默认客户端配置
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 300 * time.Second,
		ReadyTimeout:   5 * time.Minute,
	}
}

// Transport 一个已启动的工作进程的双向通道。
type Transport struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	// Wait 阻塞到进程退出，可为 nil（测试用管道传输）
	Wait func() error
	// Kill 强制终止进程，可为 nil
	Kill func()
}

// SpawnFunc 启动一个新的工作进程。测试可以用 io.Pipe 伪造。
type SpawnFunc func(ctx context.Context) (*Transport, error)

// CommandSpawner 返回以子进程方式启动工作进程的 SpawnFunc，
// stderr 逐行转发到日志。
func CommandSpawner(path string, args []string, logger *zap.Logger) SpawnFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context) (*Transport, error) {
		cmd := exec.Command(path, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("worker stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("worker stdout pipe: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("worker stderr pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start worker %s: %w", path, err)
		}

		go func() {
			scanner := bufio.NewScanner(stderr)
			for scanner.Scan() {
				logger.Warn("worker stderr", zap.String("line", scanner.Text()))
			}
		}()

		return &Transport{
			Stdin:  stdin,
			Stdout: stdout,
			Wait:   cmd.Wait,
			Kill:   func() { _ = cmd.Process.Kill() },
		}, nil
	}
}

// workerProc 一个活跃工作进程的运行时状态。
type workerProc struct {
	transport *Transport
	ready     chan struct{} // 收到 ready 通知后关闭
	done      chan struct{} // 进程退出后关闭，挂起请求据此全部失败

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan response
}

// Client 工作进程的持有者：负责启动、读循环、相关 ID 分发、
// 崩溃后的限速重启。并发安全。
type Client struct {
	spawn   SpawnFunc
	config  Config
	logger  *zap.Logger
	limiter *rate.Limiter // 重启节流：每秒至多一次

	mu       sync.Mutex
	proc     *workerProc
	spawned  bool // 已成功启动过至少一次，之后的启动都算重启
	failures int  // 连续启动失败计数
	terminal bool
	closed   bool
}

// NewClient 创建重排客户端。进程在首次调用 Rerank 时才启动。
func NewClient(spawn SpawnFunc, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultConfig().ReadyTimeout
	}
	return &Client{
		spawn:   spawn,
		config:  cfg,
		logger:  logger.With(zap.String("component", "rerank_client")),
		limiter: rate.NewLimiter(rate.Limit(1), 1),
	}
}

// Rerank 把 (query, texts) 发给工作进程，返回与 texts 同序的相关性分数。
// 可并发调用，请求纯靠相关 ID 区分。
func (c *Client) Rerank(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	proc, err := c.ensureWorker(ctx)
	if err != nil {
		return nil, err
	}

	// 就绪门：模型加载完成前不发请求
	select {
	case <-proc.ready:
	case <-proc.done:
		return nil, types.NewError(types.ErrWorkerCrashed, "worker exited before becoming ready").WithRetryable(true)
	case <-time.After(c.config.ReadyTimeout):
		return nil, types.NewError(types.ErrRerankTimeout, "worker did not become ready in time")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	id := uuid.NewString()
	ch := make(chan response, 1)
	proc.pendingMu.Lock()
	proc.pending[id] = ch
	proc.pendingMu.Unlock()
	defer func() {
		proc.pendingMu.Lock()
		delete(proc.pending, id)
		proc.pendingMu.Unlock()
	}()

	if err := proc.write(request{ID: id, Method: methodRerank, Query: query, Texts: texts}); err != nil {
		return nil, types.NewError(types.ErrWorkerCrashed, "write rerank request").
			WithCause(err).WithRetryable(true)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, types.NewError(types.ErrRerankTimeout,
				fmt.Sprintf("worker rejected request: %s: %s", resp.Error.Code, resp.Error.Message))
		}
		if len(resp.Scores) != len(texts) {
			return nil, types.NewError(types.ErrWorkerCrashed,
				fmt.Sprintf("worker returned %d scores for %d texts", len(resp.Scores), len(texts)))
		}
		return resp.Scores, nil
	case <-proc.done:
		return nil, types.NewError(types.ErrWorkerCrashed, "worker exited with requests in flight").WithRetryable(true)
	case <-time.After(c.config.RequestTimeout):
		return nil, types.NewError(types.ErrRerankTimeout,
			fmt.Sprintf("no response within %s", c.config.RequestTimeout))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RerankResults 对候选块重排：分数打上 relevance 标签，按相关性降序返回。
func (c *Client) RerankResults(ctx context.Context, query string, candidates []types.RetrievalResult) ([]types.RetrievalResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	texts := make([]string, len(candidates))
	for i, r := range candidates {
		texts[i] = r.Chunk.Content
	}

	scores, err := c.Rerank(ctx, query, texts)
	if err != nil {
		return nil, err
	}

	out := make([]types.RetrievalResult, len(candidates))
	for i, r := range candidates {
		out[i] = types.RetrievalResult{
			Chunk: r.Chunk,
			Score: types.Score{Kind: types.ScoreRelevance, Value: scores[i]},
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score.Value > out[j].Score.Value })
	return out, nil
}

// ensureWorker 返回活跃的工作进程，必要时限速重启。
// 连续两次启动失败后进入终态，之后所有调用立即失败。
func (c *Client) ensureWorker(ctx context.Context) (*workerProc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, types.NewError(types.ErrWorkerCrashed, "client is closed")
	}
	if c.terminal {
		return nil, types.NewError(types.ErrRespawnExhausted, "worker respawn failed twice in a row")
	}
	if c.proc != nil {
		select {
		case <-c.proc.done:
			c.proc = nil // 已崩溃，走重启路径
		default:
			return c.proc, nil
		}
	}

	// 重启节流：至多每秒一次
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	transport, err := c.spawn(ctx)
	if err != nil {
		c.failures++
		c.logger.Error("worker spawn failed",
			zap.Int("consecutive_failures", c.failures),
			zap.Error(err))
		if c.failures >= 2 {
			c.terminal = true
			return nil, types.NewError(types.ErrRespawnExhausted, "worker respawn failed twice in a row").WithCause(err)
		}
		return nil, types.NewError(types.ErrWorkerCrashed, "spawn worker").WithCause(err).WithRetryable(true)
	}
	c.failures = 0

	proc := &workerProc{
		transport: transport,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		pending:   make(map[string]chan response),
	}
	c.proc = proc
	go c.readLoop(proc)

	if c.spawned {
		if c.config.Metrics != nil {
			c.config.Metrics.WorkerRestarted()
		}
		c.logger.Info("worker respawned")
	} else {
		c.spawned = true
		c.logger.Info("worker spawned")
	}
	return proc, nil
}

// readLoop 读取工作进程输出并按相关 ID 分发。进程退出（EOF）时
// 关闭 done，让所有挂起请求以 WORKER_CRASHED 失败。
func (c *Client) readLoop(proc *workerProc) {
	defer func() {
		close(proc.done)
		if proc.transport.Wait != nil {
			_ = proc.transport.Wait()
		}
		c.mu.Lock()
		if c.proc == proc {
			c.proc = nil
		}
		c.mu.Unlock()
		c.logger.Warn("worker exited")
	}()

	scanner := bufio.NewScanner(proc.transport.Stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("malformed worker message", zap.Error(err))
			continue
		}

		if resp.Method == methodReady {
			select {
			case <-proc.ready:
			default:
				close(proc.ready)
				c.logger.Info("worker ready")
			}
			continue
		}

		proc.pendingMu.Lock()
		ch, ok := proc.pending[resp.ID]
		proc.pendingMu.Unlock()
		if !ok {
			// 超时后才到达的迟到响应，丢弃
			c.logger.Debug("response for unknown correlation id", zap.String("id", resp.ID))
			continue
		}
		ch <- resp
	}
}

// Close 终止工作进程并拒绝后续调用。
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.proc != nil {
		_ = c.proc.transport.Stdin.Close()
		if c.proc.transport.Kill != nil {
			c.proc.transport.Kill()
		}
		c.proc = nil
	}
	return nil
}

// write 串行化对 stdin 的写入，多个并发请求共享一条管道。
func (p *workerProc) write(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err = p.transport.Stdin.Write(data)
	return err
}
