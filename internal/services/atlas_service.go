// internal/services/atlas_service.go
package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Corphon/ChronoAtlas/internal/config"
	apperrors "github.com/Corphon/ChronoAtlas/internal/errors"
	"github.com/Corphon/ChronoAtlas/internal/geocode"
	"github.com/Corphon/ChronoAtlas/internal/llm"
	"github.com/Corphon/ChronoAtlas/internal/models"
	"github.com/Corphon/ChronoAtlas/internal/utils"
)

// 流水线阶段名称，用于日志和指标
const (
	StageTimeline     = "timeline"
	StageSites        = "sites"
	StageEntityImages = "entity_images"
	StageEraImages    = "era_images"
	StageVideo        = "video"
)

// 状态消息
const (
	MsgConnecting     = "Connecting to historical archives..."
	MsgTimeline       = "Retrieving historical timeline data..."
	MsgSites          = "Mapping historical sites..."
	MsgEntityImages   = "Gathering archival images for records..."
	MsgVideo          = "Initializing cinematic reconstruction of full history..."
	MsgFinalizing     = "Finalizing temporal reconstruction..."
	msgEraImageFormat = "Synthesizing visual archives for %s (%d/%d)..."
)

// 各阶段开始时的进度百分比
const (
	progressConnect      = 5
	progressTimeline     = 20
	progressSites        = 35
	progressEntityImages = 50
	progressEraImagesEnd = 80
	progressVideo        = 90
	progressFinalize     = 100
)

// Geocoder 解析地标名称的坐标
type Geocoder interface {
	Search(ctx context.Context, query string) (*geocode.Place, error)
}

// MediaSaver 保存生成的媒体并返回可访问的 URL
type MediaSaver interface {
	Save(data []byte, mimeType string) (name string, url string, err error)
}

// PipelineObserver 接收流水线的状态消息和每个阶段之后的快照
type PipelineObserver interface {
	OnStatus(progress int, message string)
	OnSnapshot(snapshot *models.TimelineData)
}

// PipelineObserverFuncs adapts plain functions to PipelineObserver. Nil fields are
// skipped.
type PipelineObserverFuncs struct {
	StatusFunc   func(progress int, message string)
	SnapshotFunc func(snapshot *models.TimelineData)
}

func (o PipelineObserverFuncs) OnStatus(progress int, message string) {
	if o.StatusFunc != nil {
		o.StatusFunc(progress, message)
	}
}

func (o PipelineObserverFuncs) OnSnapshot(snapshot *models.TimelineData) {
	if o.SnapshotFunc != nil {
		o.SnapshotFunc(snapshot)
	}
}

// AtlasOptions 流水线依赖和行为设置
type AtlasOptions struct {
	Geocoder Geocoder
	Media    MediaSaver
	Retry    config.RetryPolicy
	Video    config.VideoConfig
	Metrics  *utils.PipelineMetrics
}

// AtlasService 编排五个生成阶段，任何阶段失败都退回到占位数据
type AtlasService struct {
	llm      *LLMService
	geocoder Geocoder
	media    MediaSaver
	retry    config.RetryPolicy
	video    config.VideoConfig
	metrics  *utils.PipelineMetrics
}

// NewAtlasService 创建流水线服务
func NewAtlasService(llmService *LLMService, opts AtlasOptions) *AtlasService {
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry = config.Default().Pipeline.Retry
	}
	if opts.Video.PollInterval <= 0 {
		opts.Video.PollInterval = config.Default().Video.PollInterval
	}
	if opts.Video.Timeout < opts.Video.PollInterval {
		opts.Video.Timeout = config.Default().Video.Timeout
	}
	if opts.Metrics == nil {
		opts.Metrics = utils.NewPipelineMetrics(nil)
	}

	return &AtlasService{
		llm:      llmService,
		geocoder: opts.Geocoder,
		media:    opts.Media,
		retry:    opts.Retry,
		video:    opts.Video,
		metrics:  opts.Metrics,
	}
}

// Run 执行完整流水线。只有上下文取消会中止运行，提供商失败总是降级处理。
func (s *AtlasService) Run(ctx context.Context, query string, observer PipelineObserver) (*models.TimelineData, error) {
	location := strings.TrimSpace(query)
	if location == "" {
		return nil, apperrors.NewValidationError("query is required", nil)
	}
	if observer == nil {
		observer = PipelineObserverFuncs{}
	}

	s.metrics.RunStarted()
	status := StatusCompleted
	defer func() { s.metrics.RunFinished(status) }()

	cancelled := func() error {
		if err := ctx.Err(); err != nil {
			status = StatusCancelled
			return apperrors.Classify(err, "pipeline cancelled")
		}
		return nil
	}

	logger := utils.GetLogger().With(zap.String("location", location))
	logger.Info("pipeline started")

	observer.OnStatus(progressConnect, MsgConnecting)

	// 1. 时间线
	observer.OnStatus(progressTimeline, MsgTimeline)
	data := s.FetchHistoricalTimeline(ctx, location)
	if err := cancelled(); err != nil {
		return nil, err
	}
	observer.OnSnapshot(data)

	// 后续阶段使用时间线给出的规范地名
	if name := strings.TrimSpace(data.Location); name != "" && name != location {
		logger.Debug("using canonical location", zap.String("canonical", name))
		location = name
	}

	// 2. 地标
	observer.OnStatus(progressSites, MsgSites)
	sites := s.FetchHistoricalSites(ctx, location)
	if err := cancelled(); err != nil {
		return nil, err
	}
	data = data.WithSites(sites)
	observer.OnSnapshot(data)

	// 3. 条目图片
	observer.OnStatus(progressEntityImages, MsgEntityImages)
	eras := s.FetchTimelineEntityImages(ctx, location, data.Eras)
	if err := cancelled(); err != nil {
		return nil, err
	}
	data = data.WithEras(eras)
	observer.OnSnapshot(data)

	// 4. 时代图像（逐个生成以保证状态消息顺序）
	images := s.generateAllEraImages(ctx, location, data.Eras, observer)
	if err := cancelled(); err != nil {
		return nil, err
	}
	data = data.WithEraImages(images)
	observer.OnSnapshot(data)

	// 5. 全局视频
	if len(data.Eras) > 0 && s.video.Enabled {
		observer.OnStatus(progressVideo, MsgVideo)
		video := s.GenerateTimelineVideo(ctx, location, data.Eras)
		if err := cancelled(); err != nil {
			return nil, err
		}
		if video != nil {
			data = data.WithVideo(*video)
		}
		observer.OnSnapshot(data)
	}

	observer.OnStatus(progressFinalize, MsgFinalizing)
	logger.Info("pipeline finished", zap.Int("eras", len(data.Eras)))
	return data, nil
}

// FetchHistoricalTimeline 先用主模型，再用备用模型，都失败时返回演示数据
func (s *AtlasService) FetchHistoricalTimeline(ctx context.Context, location string) *models.TimelineData {
	start := time.Now()
	modelConfig := s.llm.Models()
	prompt := timelinePrompt(location)

	candidates := []string{modelConfig.Timeline}
	if modelConfig.TimelineFallback != modelConfig.Timeline {
		candidates = append(candidates, modelConfig.TimelineFallback)
	}

	for _, model := range candidates {
		data, err := s.requestTimeline(ctx, prompt, model)
		if err == nil {
			if data.Location == "" {
				data.Location = location
			}
			s.metrics.RecordStage(StageTimeline, false, time.Since(start))
			return data
		}

		s.stageFailed(StageTimeline, location, err, zap.String("model", model))
		if ctx.Err() != nil {
			break
		}
	}

	utils.GetLogger().Info("serving fallback timeline", zap.String("location", location))
	s.metrics.RecordStage(StageTimeline, true, time.Since(start))
	return models.FallbackTimelineFor(location)
}

func (s *AtlasService) requestTimeline(ctx context.Context, prompt, model string) (*models.TimelineData, error) {
	text, err := s.generateText(ctx, StageTimeline, llm.CompletionRequest{Prompt: prompt, Model: model})
	if err != nil {
		return nil, err
	}

	jsonText := llm.CleanJSON(text)
	if llm.IsEmptyJSON(jsonText) {
		return nil, fmt.Errorf("empty JSON from timeline: %w", llm.ErrEmptyResponse)
	}

	var data models.TimelineData
	if err := json.Unmarshal([]byte(jsonText), &data); err != nil {
		return nil, fmt.Errorf("failed to decode timeline: %w", err)
	}
	if len(data.Eras) == 0 {
		return nil, fmt.Errorf("timeline has no eras: %w", llm.ErrEmptyResponse)
	}
	return &data, nil
}

// sitePayload 容忍模型把坐标写成字符串或遗漏坐标
type sitePayload struct {
	Text  string `json:"text"`
	Links []struct {
		Title string      `json:"title"`
		URI   string      `json:"uri"`
		Lat   interface{} `json:"lat"`
		Lng   interface{} `json:"lng"`
	} `json:"links"`
}

// FetchHistoricalSites 查询地标坐标；缺失坐标先走地理编码，再退回罗马市中心
func (s *AtlasService) FetchHistoricalSites(ctx context.Context, location string) models.HistoricalSitesData {
	start := time.Now()

	sites, err := s.requestSites(ctx, location)
	if err != nil {
		s.stageFailed(StageSites, location, err)
		utils.GetLogger().Info("serving fallback sites", zap.String("location", location))
		s.metrics.RecordStage(StageSites, true, time.Since(start))
		return models.FallbackSites()
	}

	s.metrics.RecordStage(StageSites, false, time.Since(start))
	return sites
}

func (s *AtlasService) requestSites(ctx context.Context, location string) (models.HistoricalSitesData, error) {
	text, err := s.generateText(ctx, StageSites, llm.CompletionRequest{
		Prompt: sitesPrompt(location),
		Model:  s.llm.Models().Lookup,
		Tools:  []llm.Tool{llm.ToolGoogleMaps},
	})
	if err != nil {
		return models.HistoricalSitesData{}, err
	}

	jsonText := llm.CleanJSON(text)
	if llm.IsEmptyJSON(jsonText) {
		return models.HistoricalSitesData{}, fmt.Errorf("empty JSON from historical sites: %w", llm.ErrEmptyResponse)
	}

	var payload sitePayload
	if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
		return models.HistoricalSitesData{}, fmt.Errorf("failed to decode historical sites: %w", err)
	}

	sites := models.HistoricalSitesData{
		Text:  payload.Text,
		Links: make([]models.SiteLink, 0, len(payload.Links)),
	}
	for _, raw := range payload.Links {
		link := models.SiteLink{Title: raw.Title, URI: raw.URI}
		lat, latOK := coordinate(raw.Lat)
		lng, lngOK := coordinate(raw.Lng)
		if latOK && lngOK {
			link.Lat, link.Lng = &lat, &lng
		} else {
			link.Lat, link.Lng = s.resolveCoordinates(ctx, raw.Title, location)
		}
		sites.Links = append(sites.Links, link)
	}
	return sites, nil
}

func (s *AtlasService) resolveCoordinates(ctx context.Context, title, location string) (*float64, *float64) {
	lat, lng := models.DefaultLat, models.DefaultLng

	if s.geocoder != nil && title != "" {
		place, err := s.geocoder.Search(ctx, title+", "+location)
		if err == nil {
			lat, lng = place.Lat, place.Lng
		} else {
			utils.GetLogger().Debug("geocoding landmark failed",
				zap.String("landmark", title),
				zap.Error(err))
		}
	}
	return &lat, &lng
}

func coordinate(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// FetchTimelineEntityImages 并发地为每个时代查询条目图片，保持时代顺序
func (s *AtlasService) FetchTimelineEntityImages(ctx context.Context, location string, eras []models.Era) []models.Era {
	start := time.Now()
	updated := make([]models.Era, len(eras))
	fellBack := make([]bool, len(eras))

	// 单个时代的失败只影响自己，因此 goroutine 从不返回错误
	var group errgroup.Group
	for i, era := range eras {
		group.Go(func() error {
			updated[i], fellBack[i] = s.eraEntityImages(ctx, location, era)
			return nil
		})
	}
	_ = group.Wait()

	anyFallback := false
	for _, fb := range fellBack {
		anyFallback = anyFallback || fb
	}
	s.metrics.RecordStage(StageEntityImages, anyFallback, time.Since(start))
	return updated
}

func (s *AtlasService) eraEntityImages(ctx context.Context, location string, era models.Era) (models.Era, bool) {
	names := era.EntityNames()
	if len(names) == 0 {
		return era, false
	}

	urls, err := s.requestEntityImages(ctx, location, names)
	if err != nil {
		s.stageFailed(StageEntityImages, location, err, zap.String("era", era.EraName))
		return era.WithEntityImages(models.EntityPlaceholder), true
	}

	return era.WithEntityImages(func(name string) string {
		if u := urls[name]; u != "" {
			return u
		}
		return models.EntityPlaceholder(name)
	}), false
}

func (s *AtlasService) requestEntityImages(ctx context.Context, location string, names []string) (map[string]string, error) {
	text, err := s.generateText(ctx, StageEntityImages, llm.CompletionRequest{
		Prompt: entityImagesPrompt(location, names),
		Model:  s.llm.Models().Lookup,
		Tools:  []llm.Tool{llm.ToolGoogleSearch},
	})
	if err != nil {
		return nil, err
	}

	urls := make(map[string]string)
	jsonText := llm.CleanJSON(text)
	if llm.IsEmptyJSON(jsonText) {
		return urls, nil
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(jsonText), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode image map: %w", err)
	}
	for name, value := range raw {
		if u, ok := value.(string); ok && isHTTPURL(u) {
			urls[name] = u
		}
	}
	return urls, nil
}

func isHTTPURL(value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	return strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://")
}

// GenerateEraImage 生成时代的等距微缩场景图，失败时返回占位图
func (s *AtlasService) GenerateEraImage(ctx context.Context, location, eraName, visualPrompt string) string {
	start := time.Now()

	imageURL, err := s.requestEraImage(ctx, location, eraName, visualPrompt)
	if err != nil {
		s.stageFailed(StageEraImages, location, err, zap.String("era", eraName))
		s.metrics.RecordStage(StageEraImages, true, time.Since(start))
		return models.EraPlaceholder(eraName)
	}

	s.metrics.RecordStage(StageEraImages, false, time.Since(start))
	return imageURL
}

func (s *AtlasService) requestEraImage(ctx context.Context, location, eraName, visualPrompt string) (string, error) {
	provider := s.llm.Provider()
	image, err := callWithRetry(ctx, s.retry, StageEraImages, func(ctx context.Context) (*llm.ImageResponse, error) {
		return provider.GenerateImage(ctx, llm.ImageRequest{
			Prompt: eraImagePrompt(location, eraName, visualPrompt),
			Model:  s.llm.Models().Image,
		})
	})
	if err != nil {
		return "", err
	}
	if image == nil || len(image.Data) == 0 {
		return "", fmt.Errorf("no image part returned: %w", llm.ErrEmptyResponse)
	}

	mimeType := image.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}

	if s.media != nil {
		_, mediaURL, saveErr := s.media.Save(image.Data, mimeType)
		if saveErr == nil {
			return mediaURL, nil
		}
		utils.GetLogger().Warn("failed to store era image, inlining data URL",
			zap.String("era", eraName),
			zap.Error(saveErr))
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image.Data), nil
}

// GenerateAllEraImages 逐个生成所有时代图像，每个时代名称对应一项
func (s *AtlasService) GenerateAllEraImages(ctx context.Context, location string, eras []models.Era) map[string]*string {
	return s.generateAllEraImages(ctx, location, eras, PipelineObserverFuncs{})
}

func (s *AtlasService) generateAllEraImages(ctx context.Context, location string, eras []models.Era, observer PipelineObserver) map[string]*string {
	images := make(map[string]*string, len(eras))
	total := len(eras)
	span := progressEraImagesEnd - progressEntityImages

	for i, era := range eras {
		if ctx.Err() != nil {
			break
		}
		observer.OnStatus(progressEntityImages+span*i/total, fmt.Sprintf(msgEraImageFormat, era.EraName, i+1, total))

		imageURL := s.GenerateEraImage(ctx, location, era.EraName, era.VisualPrompt)
		images[era.EraName] = &imageURL
	}
	return images
}

// GenerateTimelineVideo 生成跨时代的全局视频；任何失败都返回演示视频
func (s *AtlasService) GenerateTimelineVideo(ctx context.Context, location string, eras []models.Era) *string {
	start := time.Now()

	videoURL, err := s.requestVideo(ctx, location, eras)
	if err != nil {
		s.stageFailed(StageVideo, location, err)
		utils.GetLogger().Info("serving demo video", zap.String("location", location))
		s.metrics.RecordStage(StageVideo, true, time.Since(start))
		demo := models.DemoVideoURL
		return &demo
	}

	s.metrics.RecordStage(StageVideo, false, time.Since(start))
	return &videoURL
}

func (s *AtlasService) requestVideo(ctx context.Context, location string, eras []models.Era) (string, error) {
	if s.media == nil {
		return "", fmt.Errorf("no media store configured: %w", llm.ErrUnsupported)
	}

	provider := s.llm.Provider()
	op, err := callWithRetry(ctx, s.retry, StageVideo, func(ctx context.Context) (*llm.VideoOperation, error) {
		return provider.StartVideo(ctx, llm.VideoRequest{
			Prompt:      videoPrompt(location, eras),
			Model:       s.llm.Models().Video,
			AspectRatio: "16:9",
			Resolution:  "720p",
		})
	})
	if err != nil {
		return "", err
	}

	utils.GetLogger().Info("video operation started",
		zap.String("location", location),
		zap.String("operation", op.Name))

	pollCtx, cancel := context.WithTimeout(ctx, s.video.Timeout)
	defer cancel()

	for !op.Done {
		if err := sleepContext(pollCtx, s.video.PollInterval); err != nil {
			return "", fmt.Errorf("video polling stopped: %w", err)
		}
		updated, err := provider.PollVideo(pollCtx, op)
		if err != nil {
			return "", fmt.Errorf("failed to poll status: %w", err)
		}
		op = updated
	}

	if op.Error != "" {
		return "", fmt.Errorf("generation failed: %s", op.Error)
	}

	data, mimeType, err := provider.DownloadVideo(ctx, op)
	if err != nil {
		return "", fmt.Errorf("failed to download video: %w", err)
	}
	if mimeType == "" {
		mimeType = "video/mp4"
	}

	_, mediaURL, err := s.media.Save(data, mimeType)
	if err != nil {
		return "", err
	}
	return mediaURL, nil
}

// generateText 带重试地调用文本生成，返回原始文本
func (s *AtlasService) generateText(ctx context.Context, stage string, req llm.CompletionRequest) (string, error) {
	provider := s.llm.Provider()
	resp, err := callWithRetry(ctx, s.retry, stage, func(ctx context.Context) (*llm.CompletionResponse, error) {
		return provider.GenerateText(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (s *AtlasService) stageFailed(stage, location string, err error, fields ...zap.Field) {
	fields = append([]zap.Field{
		zap.String("stage", stage),
		zap.String("location", location),
		zap.Error(err),
	}, fields...)
	utils.GetLogger().Warn("pipeline stage failed", fields...)
}
