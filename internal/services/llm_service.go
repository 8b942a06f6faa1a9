// internal/services/llm_service.go
package services

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Corphon/ChronoAtlas/internal/config"
	"github.com/Corphon/ChronoAtlas/internal/llm"
	"github.com/Corphon/ChronoAtlas/internal/llm/providers/offline"
	"github.com/Corphon/ChronoAtlas/internal/utils"
)

// 各提供商在各流水线阶段使用的默认模型
var providerDefaultModels = map[string]config.ModelsConfig{
	config.ProviderGoogle: {
		Timeline:         "gemini-3-pro-preview",
		TimelineFallback: "gemini-2.5-flash-lite",
		Lookup:           "gemini-2.5-flash",
		Chat:             "gemini-2.5-flash-lite",
	},
	config.ProviderOpenAI: {
		Timeline:         "gpt-4o",
		TimelineFallback: "gpt-4o-mini",
		Lookup:           "gpt-4o-mini",
		Chat:             "gpt-4o-mini",
	},
}

// LLMService 持有当前的 AI 提供商以及各阶段的模型选择
type LLMService struct {
	providerMutex sync.RWMutex
	provider      llm.Provider
	providerName  string
	models        config.ModelsConfig
	isReady       bool
	readyState    string
}

// NewLLMService 根据配置创建提供商；没有 API key 或初始化失败时退回离线模式
func NewLLMService(cfg *config.Config) *LLMService {
	service := &LLMService{}
	if err := service.UpdateProvider(cfg); err != nil {
		utils.GetLogger().Warn("LLM provider unavailable, running in demo mode",
			zap.String("provider", cfg.LLM.Provider),
			zap.Error(err))
	}
	return service
}

// NewLLMServiceWithProvider 直接使用给定的提供商，主要用于测试和命令行
func NewLLMServiceWithProvider(provider llm.Provider, models config.ModelsConfig) *LLMService {
	return &LLMService{
		provider:     provider,
		providerName: provider.GetName(),
		models:       models,
		isReady:      true,
		readyState:   "Ready",
	}
}

// UpdateProvider 按新配置重建提供商；失败时切换到离线提供商并返回错误
func (s *LLMService) UpdateProvider(cfg *config.Config) error {
	name := cfg.LLM.Provider
	models := resolveModels(name, cfg.LLM.Models)

	var (
		provider llm.Provider
		err      error
	)
	switch {
	case name == config.ProviderOffline:
		err = fmt.Errorf("provider %q selected", name)
	case !cfg.HasAPIKey():
		err = fmt.Errorf("API key not configured for provider %q", name)
	default:
		provider, err = llm.GetProvider(name, providerConfig(cfg, models))
	}

	// 文本结果缓存随提供商一起重建
	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	if err != nil {
		offlineProvider, _ := llm.GetProvider(offline.Name, nil)
		s.provider = offlineProvider
		s.providerName = offline.Name
		s.models = models
		s.isReady = false
		s.readyState = fmt.Sprintf("Demo mode: %v", err)
		return err
	}

	s.provider = llm.WithCache(provider, llm.NewTextCache(0, 0))
	s.providerName = name
	s.models = models
	s.isReady = true
	s.readyState = "Ready"
	return nil
}

// Provider 返回当前提供商
func (s *LLMService) Provider() llm.Provider {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider
}

// Models 返回当前的模型选择
func (s *LLMService) Models() config.ModelsConfig {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.models
}

// GetProviderName 返回提供商名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// GetProviderStatus 返回服务是否就绪以及可读描述
func (s *LLMService) GetProviderStatus() (bool, string) {
	if s == nil {
		return false, "LLM service not initialized"
	}
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.isReady, s.readyState
}

func resolveModels(providerName string, configured config.ModelsConfig) config.ModelsConfig {
	models := providerDefaultModels[providerName]
	override := func(dst *string, value string) {
		if value != "" {
			*dst = value
		}
	}
	override(&models.Timeline, configured.Timeline)
	override(&models.TimelineFallback, configured.TimelineFallback)
	override(&models.Lookup, configured.Lookup)
	override(&models.Image, configured.Image)
	override(&models.Speech, configured.Speech)
	override(&models.Voice, configured.Voice)
	override(&models.Video, configured.Video)
	override(&models.Chat, configured.Chat)
	return models
}

func providerConfig(cfg *config.Config, models config.ModelsConfig) map[string]string {
	values := map[string]string{
		"api_key":       cfg.LLM.APIKey,
		"default_model": models.Timeline,
		"chat_model":    models.Chat,
		"image_model":   models.Image,
		"speech_model":  models.Speech,
		"voice":         models.Voice,
		"video_model":   models.Video,
	}
	if cfg.LLM.BaseURL != "" {
		values["base_url"] = cfg.LLM.BaseURL
	}
	return values
}
