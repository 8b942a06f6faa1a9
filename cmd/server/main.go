// cmd/server/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Corphon/ChronoAtlas/internal/app"
	"github.com/Corphon/ChronoAtlas/internal/config"
	"github.com/Corphon/ChronoAtlas/internal/utils"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults to $CONFIG_FILE)")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ 加载配置失败: %v", err)
	}

	// 2. 初始化日志
	logger, err := utils.InitLogger(cfg.LogLevel, cfg.LogFile, cfg.Debug)
	if err != nil {
		log.Fatalf("❌ 初始化日志失败: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("🚀 starting ChronoAtlas server",
		zap.String("port", cfg.Port),
		zap.String("provider", cfg.LLM.Provider))

	// 3. 初始化服务
	application, err := app.New(cfg)
	if err != nil {
		logger.Fatal("❌ failed to initialize services", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application.StartBackground(ctx)

	// 4. 配置热更新
	path := *configPath
	if path == "" {
		path = config.ConfigFileFromEnv()
	}
	if watcher, err := application.WatchConfig(ctx, path); err != nil {
		logger.Warn("⚠️ config watcher disabled", zap.Error(err))
	} else if watcher != nil {
		defer watcher.Stop()
	}

	// 5. 启动服务器，收到信号后优雅关闭
	if err := application.Run(ctx); err != nil {
		logger.Fatal("❌ server error", zap.Error(err))
	}
	logger.Info("✅ server stopped")
}
