// internal/llm/interface.go
package llm

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// 错误定义
var (
	ErrUnknownProvider = errors.New("未知的AI提供者")
	// ErrOffline is returned by every call of the offline provider.
	ErrOffline = errors.New("ai provider offline (demo mode)")
	// ErrUnsupported is returned when a provider lacks a capability (e.g. video).
	ErrUnsupported = errors.New("operation not supported by provider")
	// ErrEmptyResponse means the provider answered without usable content.
	ErrEmptyResponse = errors.New("empty response from provider")
)

// Tool 可选的检索工具
type Tool string

const (
	ToolGoogleSearch Tool = "google_search"
	ToolGoogleMaps   Tool = "google_maps"
)

// 请求参数标准化
type CompletionRequest struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Model        string  `json:"model,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float32 `json:"temperature,omitempty"`
	Tools        []Tool  `json:"tools,omitempty"`
}

// 响应结构标准化
type CompletionResponse struct {
	Text         string `json:"text"`
	ModelName    string `json:"model_name,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
}

// ChatTurn is one prior message of a conversation. Role is "user" or "model".
type ChatTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ChatRequest 多轮对话请求
type ChatRequest struct {
	SystemPrompt string     `json:"system_prompt,omitempty"`
	Model        string     `json:"model,omitempty"`
	History      []ChatTurn `json:"history,omitempty"`
	Message      string     `json:"message"`
}

// ImageRequest asks for a single generated image.
type ImageRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// ImageResponse holds raw image bytes. Data is empty when the model returned no image.
type ImageResponse struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
}

// SpeechRequest 文本转语音请求
type SpeechRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
	Voice string `json:"voice,omitempty"`
}

// SpeechResponse carries signed 16-bit little-endian PCM.
type SpeechResponse struct {
	PCM        []byte `json:"-"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// VideoRequest starts a long-running video generation.
type VideoRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
}

// VideoOperation tracks a video generation. Handle is provider-owned state.
type VideoOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	URI   string `json:"uri,omitempty"`
	Error string `json:"error,omitempty"`

	Handle interface{} `json:"-"`
}

// Provider 定义所有AI提供者必须实现的接口
type Provider interface {
	// 初始化提供者，传入配置
	Initialize(config map[string]string) error

	// 获取提供者名称
	GetName() string

	// 获取支持的模型列表
	GetSupportedModels() []string

	// 文本生成
	GenerateText(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// 带历史的对话
	Chat(ctx context.Context, req ChatRequest) (*CompletionResponse, error)

	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error)

	GenerateSpeech(ctx context.Context, req SpeechRequest) (*SpeechResponse, error)

	// 视频生成是长时间运行的操作：启动、轮询、下载
	StartVideo(ctx context.Context, req VideoRequest) (*VideoOperation, error)
	PollVideo(ctx context.Context, op *VideoOperation) (*VideoOperation, error)
	DownloadVideo(ctx context.Context, op *VideoOperation) ([]byte, string, error)
}

// 注册表和工厂函数类型
type ProviderFactory func() Provider

var (
	providers   = make(map[string]ProviderFactory)
	providersMu sync.RWMutex
)

// Register 注册提供者工厂
func Register(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// GetProvider 创建指定名称的提供者实例
func GetProvider(name string, config map[string]string) (Provider, error) {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()
	if !exists {
		return nil, errors.Join(ErrUnknownProvider, errors.New("provider: "+name))
	}

	provider := factory()
	if err := provider.Initialize(config); err != nil {
		return nil, err
	}
	return provider, nil
}

// ListProviders 返回所有已注册的提供者名称
func ListProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderError carries the HTTP status of a failed provider call so callers can
// recognise upstream rate limits.
type ProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StatusCode returns the upstream HTTP status.
func (e *ProviderError) StatusCode() int { return e.Status }
