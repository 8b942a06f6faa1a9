// cmd/atlas/serve.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Corphon/ChronoAtlas/internal/app"
	"github.com/Corphon/ChronoAtlas/internal/config"
	"github.com/Corphon/ChronoAtlas/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logger, err := utils.InitLogger(level, cfg.LogFile, cfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application.StartBackground(ctx)

	path := configPath
	if path == "" {
		path = config.ConfigFileFromEnv()
	}
	if watcher, err := application.WatchConfig(ctx, path); err != nil {
		logger.Warn("config watcher disabled", zap.Error(err))
	} else if watcher != nil {
		defer watcher.Stop()
	}

	return application.Run(ctx)
}
