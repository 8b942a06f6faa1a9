// internal/services/narration_service.go
package services

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Corphon/ChronoAtlas/internal/config"
	apperrors "github.com/Corphon/ChronoAtlas/internal/errors"
	"github.com/Corphon/ChronoAtlas/internal/llm"
	"github.com/Corphon/ChronoAtlas/internal/models"
	"github.com/Corphon/ChronoAtlas/internal/utils"
)

const (
	defaultSpeechSampleRate = 24000
	bitsPerSample           = 16
	wavHeaderSize           = 44
	stageNarration          = "narration"
)

// NarrationService 生成时代旁白音频
type NarrationService struct {
	llm     *LLMService
	retry   config.RetryPolicy
	metrics *utils.PipelineMetrics
}

// NewNarrationService 创建旁白服务
func NewNarrationService(llmService *LLMService, retry config.RetryPolicy, metrics *utils.PipelineMetrics) *NarrationService {
	if retry.MaxAttempts < 1 {
		retry = config.Default().Pipeline.Retry
	}
	if metrics == nil {
		metrics = utils.NewPipelineMetrics(nil)
	}
	return &NarrationService{llm: llmService, retry: retry, metrics: metrics}
}

// GenerateEraSpeech 返回 WAV 格式的旁白。与流水线不同，这里的错误会直接返回。
func (s *NarrationService) GenerateEraSpeech(ctx context.Context, location string, era models.Era) ([]byte, error) {
	if strings.TrimSpace(location) == "" || strings.TrimSpace(era.EraName) == "" {
		return nil, apperrors.NewValidationError("location and era are required", nil)
	}

	start := time.Now()
	provider := s.llm.Provider()
	modelConfig := s.llm.Models()
	narrative := BuildNarrative(location, era)

	speech, err := callWithRetry(ctx, s.retry, stageNarration, func(ctx context.Context) (*llm.SpeechResponse, error) {
		return provider.GenerateSpeech(ctx, llm.SpeechRequest{
			Text:  narrative,
			Model: modelConfig.Speech,
			Voice: modelConfig.Voice,
		})
	})
	if err != nil {
		utils.GetLogger().Warn("speech generation failed",
			zap.String("location", location),
			zap.String("era", era.EraName),
			zap.Error(err))
		s.metrics.RecordStage(stageNarration, true, time.Since(start))
		return nil, apperrors.Classify(err, "Unable to generate speech")
	}

	s.metrics.RecordStage(stageNarration, false, time.Since(start))
	return EncodeWAV(speech.PCM, speech.SampleRate, speech.Channels), nil
}

// EncodeWAV 给 16 位小端 PCM 加上 RIFF/WAVE 头
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	if sampleRate <= 0 {
		sampleRate = defaultSpeechSampleRate
	}
	if channels <= 0 {
		channels = 1
	}
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
