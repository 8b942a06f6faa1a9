// internal/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/Corphon/ChronoAtlas/internal/errors"
	"github.com/Corphon/ChronoAtlas/internal/geocode"
	"github.com/Corphon/ChronoAtlas/internal/llm"
	"github.com/Corphon/ChronoAtlas/internal/models"
	"github.com/Corphon/ChronoAtlas/internal/services"
	"github.com/Corphon/ChronoAtlas/internal/storage"
	"github.com/Corphon/ChronoAtlas/internal/utils"
)

const sseHeartbeatInterval = 15 * time.Second

// Handler 处理API请求
type Handler struct {
	// 核心服务
	AtlasService     *services.AtlasService     // 流水线
	ProgressService  *services.ProgressService  // 进度跟踪服务
	NarrationService *services.NarrationService // 语音旁白
	ChatService      *services.ChatService      // 历史向导聊天
	LLMService       *services.LLMService       // 提供商状态
	Geocoder         *geocode.Client            // 地理编码
	Media            *storage.MediaStore        // 生成的媒体文件
	Archive          *storage.TimelineArchive   // 已完成的时间线
	Metrics          *utils.PipelineMetrics     // 指标
	WebSocket        *WebSocketManager          // WebSocket 连接管理
	Response         *ResponseHelper            // 响应助手

	// 后台任务的父上下文，服务器关闭时取消
	baseCtx context.Context
}

// SearchRequest 检索请求
type SearchRequest struct {
	Query string `json:"query" binding:"required"`
}

// NarrationRequest 旁白请求：直接给出时代，或者引用已完成任务中的时代
type NarrationRequest struct {
	Location string      `json:"location"`
	Era      *models.Era `json:"era,omitempty"`
	TaskID   string      `json:"task_id,omitempty"`
	EraName  string      `json:"era_name,omitempty"`
}

// ChatRequest 聊天请求
type ChatRequest struct {
	History []models.ChatMessage `json:"history"`
	Message string               `json:"message" binding:"required"`
	Context models.ChatContext   `json:"context"`
}

// TaskView 任务状态
type TaskView struct {
	TaskID    string               `json:"task_id"`
	Query     string               `json:"query"`
	Status    string               `json:"status"`
	Progress  int                  `json:"progress"`
	Message   string               `json:"message"`
	StartTime time.Time            `json:"start_time"`
	Snapshot  *models.TimelineData `json:"snapshot,omitempty"`
}

// NewHandler 创建API处理器。baseCtx 为 nil 时使用 context.Background()。
func NewHandler(baseCtx context.Context, h Handler) *Handler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	handler := h
	handler.baseCtx = baseCtx
	if handler.Response == nil {
		handler.Response = NewResponseHelper()
	}
	if handler.Metrics == nil {
		handler.Metrics = utils.NewPipelineMetrics(nil)
	}
	if handler.WebSocket == nil {
		handler.WebSocket = NewWebSocketManager()
	}
	return &handler
}

// Search 启动后台流水线，返回任务ID
func (h *Handler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "query is required", err.Error())
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		h.Response.BadRequest(c, "query is required")
		return
	}

	taskID := uuid.NewString()
	tracker := h.ProgressService.CreateTracker(taskID)
	tracker.Query = query

	ctx, cancel := context.WithCancel(h.baseCtx)
	tracker.SetCancel(cancel)

	go h.runSearch(ctx, cancel, tracker, query)

	h.Response.Accepted(c, gin.H{"task_id": taskID}, "Search started; subscribe to progress updates")
}

func (h *Handler) runSearch(ctx context.Context, cancel context.CancelFunc, tracker *services.ProgressTracker, query string) {
	defer cancel()

	logger := utils.GetLogger().With(zap.String("task_id", tracker.TaskID), zap.String("query", query))

	// 提供商错误（包括 429）在流水线内降级，Run 只返回取消或校验错误
	result, err := h.AtlasService.Run(ctx, query, tracker.Observer())
	switch {
	case err == nil:
		tracker.Complete(services.MsgFinalizing, result)
		logger.Info("search completed")
		h.archive(tracker.TaskID, query, result)
	case apperrors.TypeOf(err) == apperrors.ErrorTypeCancelled:
		tracker.Cancel()
		logger.Info("search cancelled")
	default:
		tracker.Fail(MsgSearchFailed)
		logger.Error("search failed", zap.Error(err))
	}
}

// archive 保存已完成的结果；失败只记录日志
func (h *Handler) archive(taskID, query string, result *models.TimelineData) {
	if h.Archive == nil {
		return
	}
	err := h.Archive.Save(storage.ArchivedTimeline{TaskID: taskID, Query: query, Timeline: result})
	if err != nil {
		utils.GetLogger().Warn("failed to archive timeline", zap.String("task_id", taskID), zap.Error(err))
	}
}

// GetTask 返回任务状态和最新快照。跟踪器被清理后从归档中读取。
func (h *Handler) GetTask(c *gin.Context) {
	taskID := c.Param("taskID")
	tracker, exists := h.ProgressService.GetTracker(taskID)
	if !exists {
		if record := h.archived(taskID); record != nil {
			h.Response.Success(c, TaskView{
				TaskID:    record.TaskID,
				Query:     record.Query,
				Status:    services.StatusCompleted,
				Progress:  100,
				Message:   services.MsgFinalizing,
				StartTime: record.CompletedAt,
				Snapshot:  record.Timeline,
			})
			return
		}
		h.Response.NotFound(c, ErrorTaskNotFound, "task not found")
		return
	}

	state := tracker.State()
	h.Response.Success(c, TaskView{
		TaskID:    state.TaskID,
		Query:     tracker.Query,
		Status:    state.Status,
		Progress:  state.Progress,
		Message:   state.Message,
		StartTime: tracker.StartTime,
		Snapshot:  state.Snapshot,
	})
}

// SubscribeProgress 订阅任务进度的SSE端点
func (h *Handler) SubscribeProgress(c *gin.Context) {
	tracker, ok := h.tracker(c)
	if !ok {
		return
	}

	// 设置SSE响应头
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()

	updateChan := tracker.Subscribe()
	defer tracker.Unsubscribe(updateChan)

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	// 初始事件
	writeSSE(c, "connected", gin.H{"task_id": tracker.TaskID, "message": "connected"})

	for {
		select {
		case <-clientGone:
			return
		case update, ok := <-updateChan:
			if !ok {
				return
			}
			writeSSE(c, "progress", update)

			// 任务结束后关闭连接
			if update.Status != services.StatusRunning {
				return
			}
		case <-tracker.Done:
			// 缓冲区满时可能错过终态，直接发送最终状态
			writeSSE(c, "progress", tracker.State())
			return
		case <-ticker.C:
			writeSSE(c, "heartbeat", gin.H{"time": time.Now().Unix()})
		}
	}
}

func writeSSE(c *gin.Context, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		utils.GetLogger().Warn("failed to encode SSE payload", zap.String("event", event), zap.Error(err))
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
	c.Writer.Flush()
}

// CancelTask 取消正在进行的检索任务
func (h *Handler) CancelTask(c *gin.Context) {
	tracker, ok := h.tracker(c)
	if !ok {
		return
	}

	if !tracker.Cancel() {
		h.Response.Error(c, http.StatusConflict, ErrorTaskFinished, "task has already finished")
		return
	}
	h.Response.Success(c, gin.H{"task_id": tracker.TaskID, "status": services.StatusCancelled}, "task cancelled")
}

// Narration 生成时代旁白，返回 audio/wav
func (h *Handler) Narration(c *gin.Context) {
	var req NarrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid narration request", err.Error())
		return
	}

	location, era, ok := h.resolveEra(c, req)
	if !ok {
		return
	}

	audio, err := h.NarrationService.GenerateEraSpeech(c.Request.Context(), location, era)
	if err != nil {
		switch {
		case apperrors.IsValidationError(err):
			h.Response.BadRequest(c, "location and era are required")
		case apperrors.IsRateLimitError(err):
			h.Response.Error(c, http.StatusTooManyRequests, ErrorRateLimited, MsgSpeechQuota)
		default:
			h.Response.FromError(c, err, ErrorSpeechFailed, MsgSpeechFailed)
		}
		return
	}

	c.Data(http.StatusOK, "audio/wav", audio)
}

// History 列出归档的检索结果，最新的在前
func (h *Handler) History(c *gin.Context) {
	if h.Archive == nil {
		h.Response.Success(c, []storage.ArchiveSummary{})
		return
	}
	summaries, err := h.Archive.List()
	if err != nil {
		h.Response.InternalError(c, "failed to list archived timelines")
		return
	}
	h.Response.Success(c, summaries)
}

// archived 读取归档，不存在或ID无效时返回 nil
func (h *Handler) archived(taskID string) *storage.ArchivedTimeline {
	if h.Archive == nil {
		return nil
	}
	record, err := h.Archive.Load(taskID)
	if err != nil {
		return nil
	}
	return record
}

// resolveEra 从请求体或已完成任务的快照中取出时代
func (h *Handler) resolveEra(c *gin.Context, req NarrationRequest) (string, models.Era, bool) {
	if req.Era != nil {
		return req.Location, *req.Era, true
	}

	if req.TaskID == "" || req.EraName == "" {
		h.Response.BadRequest(c, "either era or task_id with era_name is required")
		return "", models.Era{}, false
	}

	var snapshot *models.TimelineData
	if tracker, exists := h.ProgressService.GetTracker(req.TaskID); exists {
		snapshot = tracker.State().Snapshot
	} else if record := h.archived(req.TaskID); record != nil {
		snapshot = record.Timeline
	} else {
		h.Response.NotFound(c, ErrorTaskNotFound, "task not found")
		return "", models.Era{}, false
	}

	if snapshot != nil {
		if era, found := snapshot.FindEra(req.EraName); found {
			return snapshot.Location, era, true
		}
	}

	h.Response.NotFound(c, ErrorEraNotFound, "era not found in task")
	return "", models.Era{}, false
}

// Chat 与历史向导对话，失败时返回演示回复
func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "message is required", err.Error())
		return
	}

	reply := h.ChatService.SendChatMessage(c.Request.Context(), req.History, req.Message, req.Context)
	h.Response.Success(c, gin.H{"reply": reply})
}

// Geocode 地名转坐标
func (h *Handler) Geocode(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		h.Response.BadRequest(c, "q is required")
		return
	}

	place, err := h.Geocoder.Search(c.Request.Context(), query)
	if err != nil {
		h.Response.FromError(c, err, ErrorGeocodeFailed, "geocoding failed")
		return
	}
	h.Response.Success(c, place)
}

// ReverseGeocode 坐标转地名
func (h *Handler) ReverseGeocode(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
	if latErr != nil || lngErr != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		h.Response.BadRequest(c, "lat and lng must be valid coordinates")
		return
	}

	place, err := h.Geocoder.Reverse(c.Request.Context(), lat, lng)
	if err != nil {
		h.Response.FromError(c, err, ErrorGeocodeFailed, "reverse geocoding failed")
		return
	}
	h.Response.Success(c, place)
}

// ServeMedia 返回生成的图片或视频
func (h *Handler) ServeMedia(c *gin.Context) {
	path, err := h.Media.Path(c.Param("name"))
	if err != nil {
		if apperrors.IsValidationError(err) {
			h.Response.BadRequest(c, "invalid media name")
			return
		}
		h.Response.NotFound(c, ErrorMediaNotFound, "media not found")
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.File(path)
}

// Health 服务健康状态
func (h *Handler) Health(c *gin.Context) {
	ready, state := h.LLMService.GetProviderStatus()
	h.Response.Success(c, gin.H{
		"status":       "ok",
		"provider":     h.LLMService.GetProviderName(),
		"providers":    llm.ListProviders(),
		"ready":        ready,
		"provider_msg": state,
		"tasks":        h.ProgressService.Count(),
		"websockets":   h.WebSocket.ConnectionCount(),
	})
}

// GetMetrics 流水线与API指标
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, h.Metrics.Snapshot())
}

// tracker 取路径中的任务，不存在时直接写 404
func (h *Handler) tracker(c *gin.Context) (*services.ProgressTracker, bool) {
	tracker, exists := h.ProgressService.GetTracker(c.Param("taskID"))
	if !exists {
		h.Response.NotFound(c, ErrorTaskNotFound, "task not found")
		return nil, false
	}
	return tracker, true
}
