// internal/llm/providers/openai/openai.go
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/Corphon/ChronoAtlas/internal/llm"
)

const (
	DefaultTextModel   = "gpt-4o-mini"
	DefaultImageModel  = "gpt-image-1"
	DefaultSpeechModel = "gpt-4o-mini-tts"
	DefaultVoice       = "alloy"

	// OpenAI 的 pcm 输出固定为 24kHz 16-bit 单声道
	pcmSampleRate = 24000
)

func init() {
	llm.Register("openai", func() llm.Provider {
		return &Provider{
			models: []string{
				DefaultTextModel,
				"gpt-4o",
				DefaultImageModel,
				DefaultSpeechModel,
			},
		}
	})
}

// Provider implements llm.Provider with github.com/openai/openai-go. Video generation
// is not available.
type Provider struct {
	client       openai.Client
	defaultModel string
	chatModel    string
	imageModel   string
	speechModel  string
	voice        string
	models       []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("openai_api密钥未提供")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// 重试由流水线的重试策略负责
		option.WithMaxRetries(0),
	}
	if baseURL := config["base_url"]; baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	p.client = openai.NewClient(opts...)

	p.defaultModel = valueOr(config["default_model"], DefaultTextModel)
	p.chatModel = valueOr(config["chat_model"], p.defaultModel)
	p.imageModel = valueOr(config["image_model"], DefaultImageModel)
	p.speechModel = valueOr(config["speech_model"], DefaultSpeechModel)
	p.voice = valueOr(config["voice"], DefaultVoice)
	return nil
}

func (p *Provider) GetName() string {
	return "openai"
}

func (p *Provider) GetSupportedModels() []string {
	return p.models
}

// GenerateText ignores req.Tools; OpenAI chat completions have no maps/search grounding.
func (p *Provider) GenerateText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := valueOr(req.Model, p.defaultModel)

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	return p.complete(ctx, model, params)
}

func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.CompletionResponse, error) {
	model := valueOr(req.Model, p.chatModel)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, turn := range req.History {
		if turn.Role == "model" {
			messages = append(messages, openai.AssistantMessage(turn.Text))
		} else {
			messages = append(messages, openai.UserMessage(turn.Text))
		}
	}
	messages = append(messages, openai.UserMessage(req.Message))

	return p.complete(ctx, model, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	})
}

func (p *Provider) complete(ctx context.Context, model string, params openai.ChatCompletionNewParams) (*llm.CompletionResponse, error) {
	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.wrap(err)
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return nil, llm.ErrEmptyResponse
	}

	return &llm.CompletionResponse{
		Text:         completion.Choices[0].Message.Content,
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}

func (p *Provider) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.ImageResponse, error) {
	model := valueOr(req.Model, p.imageModel)

	params := openai.ImageGenerateParams{
		Prompt: req.Prompt,
		Model:  openai.ImageModel(model),
		Size:   openai.ImageGenerateParamsSize1024x1024,
	}
	// gpt-image-* 总是返回 base64，dall-e 需要显式指定
	if strings.HasPrefix(model, "dall-e") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}

	resp, err := p.client.Images.Generate(ctx, params)
	if err != nil {
		return nil, p.wrap(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return &llm.ImageResponse{}, nil
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return &llm.ImageResponse{Data: data, MIMEType: "image/png"}, nil
}

func (p *Provider) GenerateSpeech(ctx context.Context, req llm.SpeechRequest) (*llm.SpeechResponse, error) {
	resp, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          openai.SpeechModel(valueOr(req.Model, p.speechModel)),
		Voice:          openai.AudioSpeechNewParamsVoice(strings.ToLower(valueOr(req.Voice, p.voice))),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, p.wrap(err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("no audio data returned: %w", llm.ErrEmptyResponse)
	}

	return &llm.SpeechResponse{PCM: pcm, SampleRate: pcmSampleRate, Channels: 1}, nil
}

func (p *Provider) StartVideo(context.Context, llm.VideoRequest) (*llm.VideoOperation, error) {
	return nil, llm.ErrUnsupported
}

func (p *Provider) PollVideo(context.Context, *llm.VideoOperation) (*llm.VideoOperation, error) {
	return nil, llm.ErrUnsupported
}

func (p *Provider) DownloadVideo(context.Context, *llm.VideoOperation) ([]byte, string, error) {
	return nil, "", llm.ErrUnsupported
}

func (p *Provider) wrap(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &llm.ProviderError{Provider: p.GetName(), Status: apiErr.StatusCode, Err: err}
	}
	return err
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
