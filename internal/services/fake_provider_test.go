// internal/services/fake_provider_test.go
package services

import (
	"context"
	"strings"
	"sync"

	"github.com/Corphon/ChronoAtlas/internal/config"
	"github.com/Corphon/ChronoAtlas/internal/geocode"
	"github.com/Corphon/ChronoAtlas/internal/llm"
)

// fakeProvider 按请求内容返回预设结果
type fakeProvider struct {
	mu sync.Mutex

	textFunc   func(req llm.CompletionRequest) (string, error)
	chatFunc   func(req llm.ChatRequest) (string, error)
	imageFunc  func(req llm.ImageRequest) (*llm.ImageResponse, error)
	speechFunc func(req llm.SpeechRequest) (*llm.SpeechResponse, error)
	videoPolls int
	videoErr   error
	videoData  []byte

	textCalls  []llm.CompletionRequest
	chatCalls  []llm.ChatRequest
	imageCalls int
	polls      int
}

func (p *fakeProvider) Initialize(map[string]string) error { return nil }
func (p *fakeProvider) GetName() string                    { return "fake" }
func (p *fakeProvider) GetSupportedModels() []string       { return []string{"fake-model"} }

func (p *fakeProvider) GenerateText(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.textCalls = append(p.textCalls, req)
	p.mu.Unlock()

	if p.textFunc == nil {
		return nil, llm.ErrOffline
	}
	text, err := p.textFunc(req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Text: text, ModelName: req.Model, ProviderName: "fake"}, nil
}

func (p *fakeProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.chatCalls = append(p.chatCalls, req)
	p.mu.Unlock()

	if p.chatFunc == nil {
		return nil, llm.ErrOffline
	}
	text, err := p.chatFunc(req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Text: text}, nil
}

func (p *fakeProvider) GenerateImage(_ context.Context, req llm.ImageRequest) (*llm.ImageResponse, error) {
	p.mu.Lock()
	p.imageCalls++
	p.mu.Unlock()

	if p.imageFunc == nil {
		return nil, llm.ErrOffline
	}
	return p.imageFunc(req)
}

func (p *fakeProvider) GenerateSpeech(_ context.Context, req llm.SpeechRequest) (*llm.SpeechResponse, error) {
	if p.speechFunc == nil {
		return nil, llm.ErrOffline
	}
	return p.speechFunc(req)
}

func (p *fakeProvider) StartVideo(_ context.Context, req llm.VideoRequest) (*llm.VideoOperation, error) {
	if p.videoData == nil && p.videoErr == nil {
		return nil, llm.ErrUnsupported
	}
	if p.videoErr != nil {
		return nil, p.videoErr
	}
	return &llm.VideoOperation{Name: "operations/test", Done: p.videoPolls == 0, Handle: req.Prompt}, nil
}

func (p *fakeProvider) PollVideo(_ context.Context, op *llm.VideoOperation) (*llm.VideoOperation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	updated := *op
	updated.Done = p.polls >= p.videoPolls
	return &updated, nil
}

func (p *fakeProvider) DownloadVideo(context.Context, *llm.VideoOperation) ([]byte, string, error) {
	return p.videoData, "video/mp4", nil
}

func (p *fakeProvider) textRequests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.textCalls...)
}

// fakeMedia 把保存的内容记录在内存中
type fakeMedia struct {
	mu    sync.Mutex
	saved map[string][]byte
	err   error
}

func (m *fakeMedia) Save(data []byte, mimeType string) (string, string, error) {
	if m.err != nil {
		return "", "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	name := strings.ReplaceAll(mimeType, "/", "-") + "-" + string(rune('a'+len(m.saved)))
	m.saved[name] = data
	return name, "/media/" + name, nil
}

// fakeGeocoder 返回固定坐标
type fakeGeocoder struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func (g *fakeGeocoder) Search(_ context.Context, query string) (*geocode.Place, error) {
	g.mu.Lock()
	g.queries = append(g.queries, query)
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return &geocode.Place{Name: query, Lat: 48.8584, Lng: 2.2945}, nil
}

func testModels() config.ModelsConfig {
	return config.ModelsConfig{
		Timeline:         "primary",
		TimelineFallback: "fallback",
		Lookup:           "lookup",
		Chat:             "chat",
	}
}

func testRetry() config.RetryPolicy {
	return config.RetryPolicy{MaxAttempts: 2, InitialDelayMs: 0, BackoffMultiplier: 1}
}

func newTestAtlas(provider llm.Provider, media MediaSaver, geocoder Geocoder) *AtlasService {
	return NewAtlasService(NewLLMServiceWithProvider(provider, testModels()), AtlasOptions{
		Geocoder: geocoder,
		Media:    media,
		Retry:    testRetry(),
		Video:    config.VideoConfig{Enabled: true, PollInterval: 1, Timeout: config.Default().Video.Timeout},
	})
}
