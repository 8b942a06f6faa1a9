// internal/llm/providers/offline/offline.go
package offline

import (
	"context"

	"github.com/Corphon/ChronoAtlas/internal/llm"
)

// Name is the registry name of the demo-mode provider.
const Name = "offline"

func init() {
	llm.Register(Name, func() llm.Provider { return &Provider{} })
}

// Provider fails every call with llm.ErrOffline, so each pipeline stage serves its
// fallback data.
type Provider struct{}

func (p *Provider) Initialize(map[string]string) error { return nil }

func (p *Provider) GetName() string { return Name }

func (p *Provider) GetSupportedModels() []string { return nil }

func (p *Provider) GenerateText(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, llm.ErrOffline
}

func (p *Provider) Chat(context.Context, llm.ChatRequest) (*llm.CompletionResponse, error) {
	return nil, llm.ErrOffline
}

func (p *Provider) GenerateImage(context.Context, llm.ImageRequest) (*llm.ImageResponse, error) {
	return nil, llm.ErrOffline
}

func (p *Provider) GenerateSpeech(context.Context, llm.SpeechRequest) (*llm.SpeechResponse, error) {
	return nil, llm.ErrOffline
}

func (p *Provider) StartVideo(context.Context, llm.VideoRequest) (*llm.VideoOperation, error) {
	return nil, llm.ErrOffline
}

func (p *Provider) PollVideo(context.Context, *llm.VideoOperation) (*llm.VideoOperation, error) {
	return nil, llm.ErrOffline
}

func (p *Provider) DownloadVideo(context.Context, *llm.VideoOperation) ([]byte, string, error) {
	return nil, "", llm.ErrOffline
}
