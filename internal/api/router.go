// internal/api/router.go
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/ChronoAtlas/internal/config"
	"github.com/Corphon/ChronoAtlas/internal/di"
	"github.com/Corphon/ChronoAtlas/internal/geocode"
	"github.com/Corphon/ChronoAtlas/internal/services"
	"github.com/Corphon/ChronoAtlas/internal/storage"
	"github.com/Corphon/ChronoAtlas/internal/utils"
)

const rateLimitCleanupInterval = 5 * time.Minute

// SetupRouter 配置HTTP路由。ctx 结束时后台任务和限流清理一并停止。
func SetupRouter(ctx context.Context, container *di.Container) (*gin.Engine, *Handler, error) {
	cfg, err := di.Resolve[*config.Config](container, di.ServiceConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("配置未正确初始化: %w", err)
	}

	handler, err := newHandlerFromContainer(ctx, container)
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(handler.Metrics))
	r.Use(corsMiddleware())

	limiter := NewRateLimiter()
	limiter.StartCleanup(ctx, rateLimitCleanupInterval)
	defaultLimit := limiter.RateLimitByIP("default", cfg.RateLimit.Default)

	// 生成的媒体
	r.GET("/media/:name", defaultLimit, handler.ServeMedia)

	// WebSocket 支持
	r.GET("/ws/atlas/:taskID", handler.TaskWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	{
		api.GET("/health", handler.Health)
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/ws/status", func(c *gin.Context) {
			handler.Response.Success(c, handler.WebSocket.GetStatus())
		})

		// ===============================
		// 地图集检索
		// ===============================
		atlasGroup := api.Group("/atlas")
		{
			atlasGroup.POST("/search", limiter.RateLimitByIP("search", cfg.RateLimit.Search), handler.Search)
			atlasGroup.GET("/tasks/:taskID", defaultLimit, handler.GetTask)
			atlasGroup.GET("/history", defaultLimit, handler.History)
			atlasGroup.POST("/narration", defaultLimit, handler.Narration)
		}

		// 进度与取消
		api.GET("/progress/:taskID", handler.SubscribeProgress)
		api.POST("/cancel/:taskID", defaultLimit, handler.CancelTask)

		// 聊天
		api.POST("/chat", limiter.RateLimitByIP("chat", cfg.RateLimit.Chat), handler.Chat)

		// 地理编码
		geocodeGroup := api.Group("/geocode", defaultLimit)
		{
			geocodeGroup.GET("", handler.Geocode)
			geocodeGroup.GET("/reverse", handler.ReverseGeocode)
		}
	}

	return r, handler, nil
}

// newHandlerFromContainer 只从容器获取服务，不创建新实例
func newHandlerFromContainer(ctx context.Context, container *di.Container) (*Handler, error) {
	atlasService, err := di.Resolve[*services.AtlasService](container, di.ServiceAtlas)
	if err != nil {
		return nil, fmt.Errorf("流水线服务未正确初始化: %w", err)
	}
	progressService, err := di.Resolve[*services.ProgressService](container, di.ServiceProgress)
	if err != nil {
		return nil, fmt.Errorf("进度服务未正确初始化: %w", err)
	}
	narrationService, err := di.Resolve[*services.NarrationService](container, di.ServiceNarration)
	if err != nil {
		return nil, fmt.Errorf("旁白服务未正确初始化: %w", err)
	}
	chatService, err := di.Resolve[*services.ChatService](container, di.ServiceChat)
	if err != nil {
		return nil, fmt.Errorf("聊天服务未正确初始化: %w", err)
	}
	llmService, err := di.Resolve[*services.LLMService](container, di.ServiceLLM)
	if err != nil {
		return nil, fmt.Errorf("LLM服务未正确初始化: %w", err)
	}
	geocoder, err := di.Resolve[*geocode.Client](container, di.ServiceGeocoder)
	if err != nil {
		return nil, fmt.Errorf("地理编码服务未正确初始化: %w", err)
	}
	media, err := di.Resolve[*storage.MediaStore](container, di.ServiceMedia)
	if err != nil {
		return nil, fmt.Errorf("媒体存储未正确初始化: %w", err)
	}
	archive, err := di.Resolve[*storage.TimelineArchive](container, di.ServiceArchive)
	if err != nil {
		return nil, fmt.Errorf("时间线归档未正确初始化: %w", err)
	}
	metrics, err := di.Resolve[*utils.PipelineMetrics](container, di.ServiceMetrics)
	if err != nil {
		return nil, fmt.Errorf("指标未正确初始化: %w", err)
	}

	return NewHandler(ctx, Handler{
		AtlasService:     atlasService,
		ProgressService:  progressService,
		NarrationService: narrationService,
		ChatService:      chatService,
		LLMService:       llmService,
		Geocoder:         geocoder,
		Media:            media,
		Archive:          archive,
		Metrics:          metrics,
	}), nil
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
