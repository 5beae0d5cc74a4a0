// =============================================================================
// 🖥️ 子命令实现
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/localrag"
	"github.com/BaSui01/localrag/rerank"
	"github.com/BaSui01/localrag/types"
)

// signalContext 返回在 SIGINT/SIGTERM 时取消的上下文
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// --- ask ---

func runAsk(args []string) {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	providerID := fs.String("provider", "", "LLM provider to answer with")
	fs.Parse(args)

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		fmt.Fprintln(os.Stderr, "Usage: localrag ask [options] <question>")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	client, err := localrag.Open(ctx, cfg, localrag.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer client.Close(context.Background())

	events, err := client.Engine.Ask(ctx, question, *providerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
		os.Exit(1)
	}

	for ev := range events {
		switch ev.Type {
		case types.EventTextDelta:
			fmt.Print(ev.Text)
		case types.EventToolCall:
			fmt.Fprintf(os.Stderr, "\n[tool call] %s %s\n", ev.ToolCall.Name, ev.ToolCall.Arguments)
		case types.EventSources:
			fmt.Println()
			fmt.Println("\nSources:")
			for i, src := range ev.Sources {
				fmt.Printf("  [%d] %s (%s=%.4f)\n", i+1, src.Source, src.Score.Kind, src.Score.Value)
			}
		case types.EventDone:
			// 答案已经流式打完
		case types.EventFailed:
			if types.IsAborted(ev.Err) {
				fmt.Fprintln(os.Stderr, "\nAborted.")
				os.Exit(130)
			}
			fmt.Fprintf(os.Stderr, "\nFailed: %v\n", ev.Err)
			os.Exit(1)
		}
	}
}

// --- ingest ---

// maxChunkRunes 单块的最大长度，超长段落按这个粒度硬切
const maxChunkRunes = 1200

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: localrag ingest [options] <file>...")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	client, err := localrag.Open(ctx, cfg, localrag.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer client.Close(context.Background())

	var chunks []types.Chunk
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", path, err)
			os.Exit(1)
		}
		source := filepath.ToSlash(filepath.Clean(path))
		parts := splitText(string(data))
		for i, part := range parts {
			chunks = append(chunks, types.Chunk{
				Source:      source,
				Filename:    filepath.Base(path),
				Content:     part,
				ChunkIndex:  i,
				TotalChunks: len(parts),
			})
		}
	}

	results, err := client.Engine.Ingest(ctx, chunks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", r.Source, r.Err)
			continue
		}
		fmt.Printf("ok   %s (%d chunks)\n", r.Source, r.Chunks)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// splitText 把纯文本按空行切成段落，相邻段落聚到块上限以内，
// 超长段落按字符数硬切。
func splitText(text string) []string {
	paragraphs := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")

	var chunks []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		for _, piece := range hardSplit(p, maxChunkRunes) {
			if current.Len() > 0 && len([]rune(current.String()))+len([]rune(piece))+2 > maxChunkRunes {
				flush()
			}
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(piece)
		}
	}
	flush()
	return chunks
}

func hardSplit(s string, limit int) []string {
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}
	var out []string
	for len(runes) > limit {
		out = append(out, string(runes[:limit]))
		runes = runes[limit:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// --- sources / delete ---

func runSources(args []string) {
	fs := flag.NewFlagSet("sources", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	client, err := localrag.Open(ctx, cfg, localrag.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer client.Close(context.Background())

	sources, err := client.Engine.ListSources(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list sources: %v\n", err)
		os.Exit(1)
	}
	count, err := client.Engine.CountChunks(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to count chunks: %v\n", err)
		os.Exit(1)
	}
	for _, s := range sources {
		fmt.Println(s)
	}
	fmt.Printf("%d sources, %d chunks\n", len(sources), count)
}

func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: localrag delete [options] <source>")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	client, err := localrag.Open(ctx, cfg, localrag.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer client.Close(context.Background())

	remaining, err := client.Engine.DeleteSource(ctx, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("deleted %s, %d sources remain\n", fs.Arg(0), len(remaining))
}

// --- history ---

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	clear := fs.Bool("clear", false, "Clear the conversation history")
	limit := fs.Int("limit", 20, "Number of recent turns to show")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	client, err := localrag.Open(ctx, cfg, localrag.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer client.Close(context.Background())

	if *clear {
		if err := client.Engine.ClearHistory(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clear history: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("history cleared")
		return
	}

	entries, err := client.Engine.GetHistory(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read history: %v\n", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Printf("%s: %s\n", e.Role, e.Content)
	}
}

// --- worker ---

// runWorker 作为重排工作进程运行：stdout 是 RPC 通道，日志必须走 stderr。
func runWorker(args []string) {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logCfg := cfg.Log
	logCfg.OutputPaths = []string{"stderr"}
	logger := initLogger(logCfg)
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	scorer := rerank.NewHTTPScorer(
		cfg.Rerank.ScorerBaseURL,
		cfg.Rerank.Model,
		cfg.Rerank.RequestTimeout,
		logger)
	worker := rerank.NewWorker(scorer, cfg.Rerank.ModelCacheDir, os.Stdin, os.Stdout, logger)

	if err := worker.Run(ctx); err != nil {
		logger.Error("worker exited with error", zap.Error(err))
		os.Exit(1)
	}
}
