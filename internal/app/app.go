// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Corphon/ChronoAtlas/internal/api"
	"github.com/Corphon/ChronoAtlas/internal/config"
	"github.com/Corphon/ChronoAtlas/internal/di"
	"github.com/Corphon/ChronoAtlas/internal/geocode"
	"github.com/Corphon/ChronoAtlas/internal/services"
	"github.com/Corphon/ChronoAtlas/internal/storage"
	"github.com/Corphon/ChronoAtlas/internal/utils"

	// 注册提供商
	_ "github.com/Corphon/ChronoAtlas/internal/llm/providers/google"
	_ "github.com/Corphon/ChronoAtlas/internal/llm/providers/offline"
	_ "github.com/Corphon/ChronoAtlas/internal/llm/providers/openai"
)

const (
	mediaURLPrefix    = "/media"
	cleanupInterval   = 10 * time.Minute
	shutdownTimeout   = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// App 持有配置、容器和已初始化的服务
type App struct {
	Config    *config.Config
	Container *di.Container

	LLM       *services.LLMService
	Atlas     *services.AtlasService
	Progress  *services.ProgressService
	Narration *services.NarrationService
	Chat      *services.ChatService
	Geocoder  *geocode.Client
	Media     *storage.MediaStore
	Archive   *storage.TimelineArchive
	Metrics   *utils.PipelineMetrics
}

// New 按依赖顺序初始化所有服务并注册到新的容器
func New(cfg *config.Config) (*App, error) {
	return NewWithContainer(cfg, di.NewContainer())
}

// NewWithContainer 与 New 相同，但使用给定的容器
func NewWithContainer(cfg *config.Config, container *di.Container) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	config.Set(cfg)

	media, err := storage.NewMediaStore(cfg.MediaDir, mediaURLPrefix)
	if err != nil {
		return nil, fmt.Errorf("初始化媒体存储失败: %w", err)
	}

	archive, err := storage.NewTimelineArchive(filepath.Join(cfg.DataDir, "timelines"))
	if err != nil {
		return nil, fmt.Errorf("初始化时间线归档失败: %w", err)
	}

	a := &App{
		Config:    cfg,
		Container: container,
		Media:     media,
		Archive:   archive,
		Metrics:   utils.NewPipelineMetrics(nil),
		Progress:  services.NewProgressService(),
		Geocoder:  geocode.NewClient(cfg.Geocoder.BaseURL, cfg.Geocoder.UserAgent, cfg.Geocoder.Timeout),
		LLM:       services.NewLLMService(cfg),
	}

	a.Atlas = services.NewAtlasService(a.LLM, services.AtlasOptions{
		Geocoder: a.Geocoder,
		Media:    a.Media,
		Retry:    cfg.Pipeline.Retry,
		Video:    cfg.Video,
		Metrics:  a.Metrics,
	})
	a.Narration = services.NewNarrationService(a.LLM, cfg.Pipeline.Retry, a.Metrics)
	a.Chat = services.NewChatService(a.LLM, a.Metrics)

	container.Register(di.ServiceConfig, cfg)
	container.Register(di.ServiceLLM, a.LLM)
	container.Register(di.ServiceMedia, a.Media)
	container.Register(di.ServiceArchive, a.Archive)
	container.Register(di.ServiceMetrics, a.Metrics)
	container.Register(di.ServiceProgress, a.Progress)
	container.Register(di.ServiceGeocoder, a.Geocoder)
	container.Register(di.ServiceAtlas, a.Atlas)
	container.Register(di.ServiceNarration, a.Narration)
	container.Register(di.ServiceChat, a.Chat)

	ready, state := a.LLM.GetProviderStatus()
	utils.GetLogger().Info("services initialized",
		zap.String("provider", a.LLM.GetProviderName()),
		zap.Bool("ready", ready),
		zap.String("state", state),
		zap.Strings("services", container.GetNames()))

	return a, nil
}

// StartBackground 启动媒体文件、归档和已结束任务的定期清理。
// 归档与媒体使用相同的保留时间，归档中的媒体链接不会先于归档失效。
func (a *App) StartBackground(ctx context.Context) {
	a.Media.StartCleanup(ctx, cleanupInterval, a.Config.MediaTTL)
	a.Archive.StartCleanup(ctx, cleanupInterval, a.Config.MediaTTL)
	a.Progress.StartCleanup(ctx, cleanupInterval, a.Config.TaskTTL)
}

// ApplyConfig 应用重新加载的配置：提供商和日志级别可以热更新，其他设置需要重启
func (a *App) ApplyConfig(cfg *config.Config) {
	logger := utils.GetLogger()

	if err := a.LLM.UpdateProvider(cfg); err != nil {
		logger.Warn("provider update failed, running in demo mode", zap.Error(err))
	} else {
		logger.Info("provider updated", zap.String("provider", a.LLM.GetProviderName()))
	}

	if err := utils.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn("invalid log level in reloaded config", zap.String("level", cfg.LogLevel), zap.Error(err))
	}
}

// WatchConfig 监听配置文件变化；path 为空时不做任何事
func (a *App) WatchConfig(ctx context.Context, path string) (*config.Watcher, error) {
	if path == "" {
		return nil, nil
	}

	watcher, err := config.NewWatcher(path)
	if err != nil {
		return nil, fmt.Errorf("创建配置监听失败: %w", err)
	}
	watcher.OnChange(a.ApplyConfig)

	if err := watcher.Start(ctx); err != nil {
		watcher.Stop()
		return nil, fmt.Errorf("启动配置监听失败: %w", err)
	}
	return watcher, nil
}

// Run 启动HTTP服务器，ctx 结束时优雅关闭
func (a *App) Run(ctx context.Context) error {
	// 后台任务使用独立上下文，关闭服务器之后再取消
	tasksCtx, cancelTasks := context.WithCancel(context.Background())
	defer cancelTasks()

	router, handler, err := api.SetupRouter(tasksCtx, a.Container)
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}

	srv := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger := utils.GetLogger()
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("启动服务器失败: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	handler.WebSocket.Shutdown()
	cancelTasks()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}

	logger.Info("http server stopped")
	return nil
}
