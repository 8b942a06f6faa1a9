// internal/llm/providers/openai/openai_test.go
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ChronoAtlas/internal/llm"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) llm.Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := llm.GetProvider("openai", map[string]string{
		"api_key":  "sk-test",
		"base_url": server.URL + "/",
	})
	require.NoError(t, err)
	return provider
}

func completionHandler(t *testing.T, captured *map[string]interface{}, reply string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(captured))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []interface{}{
				map[string]interface{}{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]interface{}{"role": "assistant", "content": reply},
				},
			},
		})
	}
}

func TestGenerateText(t *testing.T) {
	var body map[string]interface{}
	provider := newTestProvider(t, completionHandler(t, &body, `{"location":"Lima","eras":[]}`))

	resp, err := provider.GenerateText(context.Background(), llm.CompletionRequest{
		Prompt:       "Perform a deep historical analysis of Lima.",
		SystemPrompt: "You are a historian.",
	})
	require.NoError(t, err)

	assert.Equal(t, `{"location":"Lima","eras":[]}`, resp.Text)
	assert.Equal(t, DefaultTextModel, body["model"])
	messages := body["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
}

func TestChat_MapsHistoryRoles(t *testing.T) {
	var body map[string]interface{}
	provider := newTestProvider(t, completionHandler(t, &body, "Built in 80 AD."))

	resp, err := provider.Chat(context.Background(), llm.ChatRequest{
		SystemPrompt: "guide",
		History: []llm.ChatTurn{
			{Role: "user", Text: "Hi"},
			{Role: "model", Text: "Hello traveller"},
		},
		Message: "When was the Colosseum built?",
	})
	require.NoError(t, err)
	assert.Equal(t, "Built in 80 AD.", resp.Text)

	messages := body["messages"].([]interface{})
	require.Len(t, messages, 4)
	roles := make([]string, len(messages))
	for i, m := range messages {
		roles[i] = m.(map[string]interface{})["role"].(string)
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
}

func TestRateLimitCarriesStatus(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests"}}`))
	})

	_, err := provider.GenerateText(context.Background(), llm.CompletionRequest{Prompt: "x"})
	var providerErr *llm.ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, http.StatusTooManyRequests, providerErr.StatusCode())
}

func TestGenerateSpeech_ReturnsPCM(t *testing.T) {
	var body map[string]interface{}
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/speech", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{1, 2, 3, 4})
	})

	speech, err := provider.GenerateSpeech(context.Background(), llm.SpeechRequest{Text: "Exploring Lima", Voice: "Kore"})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, speech.PCM)
	assert.Equal(t, 24000, speech.SampleRate)
	assert.Equal(t, "pcm", body["response_format"])
}

func TestGenerateImage_DecodesBase64(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"created":1,"data":[{"b64_json":"cG5nLWJ5dGVz"}]}`))
	})

	img, err := provider.GenerateImage(context.Background(), llm.ImageRequest{Prompt: "isometric Lima"})
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), img.Data)
}

func TestVideoUnsupported(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := provider.StartVideo(context.Background(), llm.VideoRequest{Prompt: "x"})
	assert.ErrorIs(t, err, llm.ErrUnsupported)
}
