// 工作进程服务循环测试：就绪通知、模型缓存恢复、错误响应。
package rerank

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// runWorker 在后台跑服务循环，返回客户端侧的读写端。
func runWorker(t *testing.T, encoder CrossEncoder, cacheDir string) (io.WriteCloser, *bufio.Scanner, chan error) {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	w := NewWorker(encoder, cacheDir, inR, outW, zap.NewNop())
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run(context.Background())
		_ = outW.Close()
	}()
	t.Cleanup(func() { _ = inW.Close() })

	scanner := bufio.NewScanner(outR)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return inW, scanner, errCh
}

func readMessage(t *testing.T, scanner *bufio.Scanner) response {
	t.Helper()
	require.True(t, scanner.Scan(), "expected a message from worker")
	var resp response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	return resp
}

func writeRequest(t *testing.T, w io.Writer, req request) {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	data = append(data, '\n')
	_, err = w.Write(data)
	require.NoError(t, err)
}

func TestWorker_ReadyThenServes(t *testing.T) {
	stdin, scanner, _ := runWorker(t, &stubEncoder{}, "")

	// 第一条消息必须是就绪通知
	ready := readMessage(t, scanner)
	assert.Equal(t, methodReady, ready.Method)

	writeRequest(t, stdin, request{ID: "req-1", Method: methodRerank, Query: "q", Texts: []string{"ab", "c"}})
	resp := readMessage(t, scanner)
	assert.Equal(t, "req-1", resp.ID)
	assert.Nil(t, resp.Error)
	assert.Equal(t, []float64{2, 1}, resp.Scores)
}

func TestWorker_CorruptCacheClearedOnceAndRetried(t *testing.T) {
	cacheDir := filepath.Join(t.TempDir(), "model-cache")
	require.NoError(t, os.MkdirAll(cacheDir, 0o755))
	artifact := filepath.Join(cacheDir, "weights.bin")
	require.NoError(t, os.WriteFile(artifact, []byte("garbage"), 0o644))

	encoder := &stubEncoder{loadErrs: []error{
		&CorruptModelError{Path: artifact, Err: errors.New("deserialize failed")},
	}}
	_, scanner, _ := runWorker(t, encoder, cacheDir)

	// 第二次 Load 成功，进程照常就绪
	ready := readMessage(t, scanner)
	assert.Equal(t, methodReady, ready.Method)

	// 损坏的缓存目录已被清除
	_, err := os.Stat(artifact)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 1, encoder.loadIdx)
}

func TestWorker_CorruptCacheRetryOnlyOnce(t *testing.T) {
	corrupt := &CorruptModelError{Path: "x", Err: errors.New("deserialize failed")}
	encoder := &stubEncoder{loadErrs: []error{corrupt, corrupt}}

	_, _, errCh := runWorker(t, encoder, t.TempDir())
	err := <-errCh
	require.Error(t, err)
	assert.Equal(t, 2, encoder.loadIdx)
}

func TestWorker_NonCorruptLoadErrorFailsImmediately(t *testing.T) {
	encoder := &stubEncoder{loadErrs: []error{errors.New("out of memory")}}

	_, _, errCh := runWorker(t, encoder, t.TempDir())
	err := <-errCh
	require.Error(t, err)
	// 非缓存损坏的加载错误不触发重试
	assert.Equal(t, 1, encoder.loadIdx)
}

func TestWorker_ScoringErrorResponse(t *testing.T) {
	encoder := &stubEncoder{scoreFn: func(string, []string) ([]float64, error) {
		return nil, errors.New("cuda gone")
	}}
	stdin, scanner, _ := runWorker(t, encoder, "")

	readMessage(t, scanner) // ready
	writeRequest(t, stdin, request{ID: "req-err", Method: methodRerank, Query: "q", Texts: []string{"x"}})

	resp := readMessage(t, scanner)
	assert.Equal(t, "req-err", resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "SCORING_FAILED", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "cuda gone")
}

func TestWorker_ExitsCleanlyOnStdinClose(t *testing.T) {
	stdin, scanner, errCh := runWorker(t, &stubEncoder{}, "")
	readMessage(t, scanner) // ready

	require.NoError(t, stdin.Close())
	assert.NoError(t, <-errCh)
}

func TestCorruptModelError_Unwrap(t *testing.T) {
	inner := errors.New("bincode: invalid tag")
	err := &CorruptModelError{Path: "/tmp/m", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "/tmp/m")
}
