// internal/llm/providers/google/google.go
package google

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/Corphon/ChronoAtlas/internal/llm"
)

const (
	DefaultTextModel   = "gemini-2.5-flash"
	DefaultChatModel   = "gemini-2.5-flash-lite"
	DefaultImageModel  = "gemini-3-pro-image-preview"
	DefaultSpeechModel = "gemini-2.5-flash-preview-tts"
	DefaultVoice       = "Kore"
	DefaultVideoModel  = "veo-3.1-fast-generate-preview"

	defaultSampleRate = 24000
)

func init() {
	llm.Register("google", func() llm.Provider {
		return &Provider{
			models: []string{
				"gemini-3-pro-preview",
				"gemini-2.5-flash",
				"gemini-2.5-flash-lite",
				DefaultImageModel,
				DefaultSpeechModel,
				DefaultVideoModel,
			},
		}
	})
}

// Provider talks to the Gemini API through google.golang.org/genai.
type Provider struct {
	client       *genai.Client
	defaultModel string
	chatModel    string
	imageModel   string
	speechModel  string
	voice        string
	videoModel   string
	models       []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("google_api密钥未提供")
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL := config["base_url"]; baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return fmt.Errorf("failed to create GenAI client: %w", err)
	}
	p.client = client

	p.defaultModel = valueOr(config["default_model"], DefaultTextModel)
	p.chatModel = valueOr(config["chat_model"], DefaultChatModel)
	p.imageModel = valueOr(config["image_model"], DefaultImageModel)
	p.speechModel = valueOr(config["speech_model"], DefaultSpeechModel)
	p.voice = valueOr(config["voice"], DefaultVoice)
	p.videoModel = valueOr(config["video_model"], DefaultVideoModel)
	return nil
}

func (p *Provider) GetName() string {
	return "google gemini"
}

func (p *Provider) GetSupportedModels() []string {
	return p.models
}

func (p *Provider) GenerateText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := valueOr(req.Model, p.defaultModel)

	config := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature > 0 {
		temperature := req.Temperature
		config.Temperature = &temperature
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	for _, tool := range req.Tools {
		switch tool {
		case llm.ToolGoogleSearch:
			config.Tools = append(config.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
		case llm.ToolGoogleMaps:
			config.Tools = append(config.Tools, &genai.Tool{GoogleMaps: &genai.GoogleMaps{}})
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), config)
	if err != nil {
		return nil, p.wrap(err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, llm.ErrEmptyResponse
	}
	return &llm.CompletionResponse{Text: text, ModelName: model, ProviderName: p.GetName()}, nil
}

func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.CompletionResponse, error) {
	model := valueOr(req.Model, p.chatModel)

	config := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	history := make([]*genai.Content, 0, len(req.History))
	for _, turn := range req.History {
		role := genai.Role(genai.RoleUser)
		if turn.Role == genai.RoleModel {
			role = genai.RoleModel
		}
		history = append(history, genai.NewContentFromText(turn.Text, role))
	}

	chat, err := p.client.Chats.Create(ctx, model, config, history)
	if err != nil {
		return nil, p.wrap(err)
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: req.Message})
	if err != nil {
		return nil, p.wrap(err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, llm.ErrEmptyResponse
	}
	return &llm.CompletionResponse{Text: text, ModelName: model, ProviderName: p.GetName()}, nil
}

func (p *Provider) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.ImageResponse, error) {
	model := valueOr(req.Model, p.imageModel)

	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), nil)
	if err != nil {
		return nil, p.wrap(err)
	}

	// 取第一个内联图片
	if part := firstInlinePart(resp); part != nil {
		return &llm.ImageResponse{Data: part.InlineData.Data, MIMEType: valueOr(part.InlineData.MIMEType, "image/png")}, nil
	}
	return &llm.ImageResponse{}, nil
}

func (p *Provider) GenerateSpeech(ctx context.Context, req llm.SpeechRequest) (*llm.SpeechResponse, error) {
	model := valueOr(req.Model, p.speechModel)
	voice := valueOr(req.Voice, p.voice)

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.Text), config)
	if err != nil {
		return nil, p.wrap(err)
	}

	part := firstInlinePart(resp)
	if part == nil || len(part.InlineData.Data) == 0 {
		return nil, fmt.Errorf("no audio data returned: %w", llm.ErrEmptyResponse)
	}

	return &llm.SpeechResponse{
		PCM:        part.InlineData.Data,
		SampleRate: sampleRateFromMIME(part.InlineData.MIMEType),
		Channels:   1,
	}, nil
}

func (p *Provider) StartVideo(ctx context.Context, req llm.VideoRequest) (*llm.VideoOperation, error) {
	model := valueOr(req.Model, p.videoModel)

	op, err := p.client.Models.GenerateVideos(ctx, model, req.Prompt, nil, &genai.GenerateVideosConfig{
		AspectRatio: valueOr(req.AspectRatio, "16:9"),
		Resolution:  valueOr(req.Resolution, "720p"),
	})
	if err != nil {
		return nil, p.wrap(err)
	}
	if op == nil || op.Name == "" {
		return nil, errors.New("failed to initialize video generation operation")
	}
	return toOperation(op), nil
}

func (p *Provider) PollVideo(ctx context.Context, op *llm.VideoOperation) (*llm.VideoOperation, error) {
	handle, ok := op.Handle.(*genai.GenerateVideosOperation)
	if !ok || handle == nil {
		handle = &genai.GenerateVideosOperation{Name: op.Name}
	}

	updated, err := p.client.Operations.GetVideosOperation(ctx, handle, nil)
	if err != nil {
		return nil, p.wrap(err)
	}
	if updated == nil {
		return nil, errors.New("failed to poll status: operation not found")
	}
	return toOperation(updated), nil
}

func (p *Provider) DownloadVideo(ctx context.Context, op *llm.VideoOperation) ([]byte, string, error) {
	handle, ok := op.Handle.(*genai.GenerateVideosOperation)
	if !ok || handle == nil || handle.Response == nil || len(handle.Response.GeneratedVideos) == 0 {
		return nil, "", errors.New("operation has no generated video")
	}

	generated := handle.Response.GeneratedVideos[0]
	if generated.Video == nil {
		return nil, "", errors.New("operation has no generated video")
	}
	mimeType := valueOr(generated.Video.MIMEType, "video/mp4")

	if len(generated.Video.VideoBytes) > 0 {
		return generated.Video.VideoBytes, mimeType, nil
	}

	// Files.Download 使用客户端的 API key 授权，不把密钥暴露给前端
	data, err := p.client.Files.Download(ctx, genai.NewDownloadURIFromGeneratedVideo(generated), nil)
	if err != nil {
		return nil, "", p.wrap(err)
	}
	return data, mimeType, nil
}

func (p *Provider) wrap(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.ProviderError{Provider: p.GetName(), Status: apiErr.Code, Err: err}
	}
	return err
}

func toOperation(op *genai.GenerateVideosOperation) *llm.VideoOperation {
	result := &llm.VideoOperation{Name: op.Name, Done: op.Done, Handle: op}

	if op.Error != nil {
		result.Error = fmt.Sprintf("%v", op.Error["message"])
		if result.Error == "" || result.Error == "<nil>" {
			result.Error = "video generation failed"
		}
	}
	if op.Response != nil && len(op.Response.GeneratedVideos) > 0 && op.Response.GeneratedVideos[0].Video != nil {
		result.URI = op.Response.GeneratedVideos[0].Video.URI
	}
	return result
}

func firstInlinePart(resp *genai.GenerateContentResponse) *genai.Part {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil {
			return part
		}
	}
	return nil
}

// sampleRateFromMIME reads "rate=24000" from e.g. "audio/L16;codec=pcm;rate=24000".
func sampleRateFromMIME(mimeType string) int {
	for _, param := range strings.Split(mimeType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && key == "rate" {
			if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
				return rate
			}
		}
	}
	return defaultSampleRate
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
