// =============================================================================
// DBFlow 主入口
// =============================================================================
// 事务数据访问层的命令行工具：数据库迁移、连通性检查、版本信息
//
// 使用方法:
//
//	dbflow check                        # 打开连接池并报告健康状态
//	dbflow check --config config.yaml   # 指定配置文件
//	dbflow migrate up                   # 运行数据库迁移
//	dbflow migrate down                 # 回滚最后一次迁移
//	dbflow migrate status               # 查看迁移状态
//	dbflow version                      # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/dbflow"
	"github.com/BaSui01/dbflow/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "check":
		runCheck(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
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

// =============================================================================
// 🏥 check 命令
// =============================================================================

// runCheck 打开连接池、报告健康状态后关闭，用于部署前的连通性验证。
func runCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	timeout := fs.Duration("timeout", 15*time.Second, "Overall check timeout")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := dbflow.Open(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	h := db.Health()
	fmt.Printf("OK  driver=%s capacity=%d available=%d in_use=%d\n",
		cfg.Database.DriverName(), h.Capacity, h.Available, h.InUse)
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("DBFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`DBFlow - Transactional Data Access Layer

Usage:
  dbflow <command> [options]

Commands:
  check     Open the connection pool and report health
  migrate   Database migration commands
  version   Show version information
  help      Show this help message

Options for 'check':
  --config <path>   Path to configuration file (YAML)
  --timeout <dur>   Overall check timeout (default 15s)

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate status    Show migration status
  migrate version   Show current migration version
  migrate reset     Rollback all migrations

Examples:
  dbflow check --config /etc/dbflow/config.yaml
  dbflow migrate up
  dbflow migrate status
  dbflow version`)
}

// loadConfig 加载并校验配置。
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
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

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
