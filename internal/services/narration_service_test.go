// internal/services/narration_service_test.go
package services

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/ChronoAtlas/internal/errors"
	"github.com/Corphon/ChronoAtlas/internal/llm"
	"github.com/Corphon/ChronoAtlas/internal/models"
)

func sampleEra() models.Era {
	return models.Era{
		EraName:   "The Roman Empire",
		YearRange: "27 BC – 476 AD",
		Summary:   "The peak of Roman power.",
		People:    []models.Person{{Name: "Augustus", Role: "Emperor"}, {Name: "Nero", Role: "Emperor"}},
		Events:    []models.Event{{Title: "Great Fire of Rome", Year: "64 AD"}},
	}
}

func TestBuildNarrative(t *testing.T) {
	narrative := BuildNarrative("Rome", sampleEra())

	assert.Contains(t, narrative, "Exploring Rome during the era of The Roman Empire, covering the years 27 BC – 476 AD.")
	assert.Contains(t, narrative, "Overview: The peak of Roman power.")
	assert.Contains(t, narrative, "Notable Historical Figures: Augustus, Emperor. Nero, Emperor.")
	assert.Contains(t, narrative, "Key Events: 64 AD: Great Fire of Rome.")
}

func TestEncodeWAV(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0}
	wav := EncodeWAV(pcm, 24000, 1)

	require.Len(t, wav, wavHeaderSize+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]))
	assert.Equal(t, uint32(24000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:36]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, pcm, wav[44:])

	// 缺省采样率和声道
	defaults := EncodeWAV(nil, 0, 0)
	assert.Equal(t, uint32(defaultSpeechSampleRate), binary.LittleEndian.Uint32(defaults[24:28]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(defaults[22:24]))
}

func TestGenerateEraSpeech(t *testing.T) {
	var got llm.SpeechRequest
	provider := &fakeProvider{speechFunc: func(req llm.SpeechRequest) (*llm.SpeechResponse, error) {
		got = req
		return &llm.SpeechResponse{PCM: []byte{0, 1}, SampleRate: 24000, Channels: 1}, nil
	}}
	modelConfig := testModels()
	modelConfig.Voice = "Kore"
	service := NewNarrationService(NewLLMServiceWithProvider(provider, modelConfig), testRetry(), nil)

	wav, err := service.GenerateEraSpeech(context.Background(), "Rome", sampleEra())
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(wav[:4]))
	assert.Equal(t, "Kore", got.Voice)
	assert.Contains(t, got.Text, "Exploring Rome")
}

func TestGenerateEraSpeech_Errors(t *testing.T) {
	rateLimited := &fakeProvider{speechFunc: func(llm.SpeechRequest) (*llm.SpeechResponse, error) {
		return nil, &llm.ProviderError{Provider: "fake", Status: 429, Err: errors.New("quota")}
	}}
	service := NewNarrationService(NewLLMServiceWithProvider(rateLimited, testModels()), testRetry(), nil)

	_, err := service.GenerateEraSpeech(context.Background(), "Rome", sampleEra())
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimitError(err))

	_, err = service.GenerateEraSpeech(context.Background(), "", sampleEra())
	assert.True(t, apperrors.IsValidationError(err))
}
