// =============================================================================
// LocalRAG 主入口
// =============================================================================
// 本地优先的检索增强问答引擎命令行
//
// 使用方法:
//
//	localrag ask "question"               # 流式回答一个问题
//	localrag ingest notes/*.txt           # 摄取文本文件
//	localrag sources                      # 列出语料来源
//	localrag delete <source>              # 删除一个来源
//	localrag history [--clear]            # 查看/清空对话历史
//	localrag worker                       # 作为重排工作进程运行（stdio RPC）
//	localrag version                      # 显示版本信息
// =============================================================================
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/localrag/config"
)

// 构建时注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ask":
		runAsk(os.Args[2:])
	case "ingest":
		runIngest(os.Args[2:])
	case "sources":
		runSources(os.Args[2:])
	case "delete":
		runDelete(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	case "worker":
		runWorker(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("LocalRAG %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`LocalRAG - local-first retrieval-augmented answering engine

Usage:
  localrag <command> [options]

Commands:
  ask       Answer a question against the local corpus (streams to stdout)
  ingest    Ingest plain-text files into the corpus
  sources   List corpus sources
  delete    Delete all chunks of one source
  history   Show or clear the conversation history
  worker    Run as the reranker worker process (stdio RPC)
  version   Show version information
  help      Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)

Examples:
  localrag ingest docs/guide.txt docs/faq.txt
  localrag ask "how do I configure hybrid search?"
  localrag ask --provider local "what changed last week?"
  localrag history --clear
  localrag delete docs/faq.txt`)
}

// loadConfig 加载并校验配置
func loadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// initLogger 按配置构建 zap logger
func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
