// internal/llm/interface_test.go
package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ChronoAtlas/internal/llm"
	_ "github.com/Corphon/ChronoAtlas/internal/llm/providers/google"
	_ "github.com/Corphon/ChronoAtlas/internal/llm/providers/offline"
	_ "github.com/Corphon/ChronoAtlas/internal/llm/providers/openai"
)

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"google", "offline", "openai"}, llm.ListProviders())

	_, err := llm.GetProvider("anthropic", nil)
	assert.ErrorIs(t, err, llm.ErrUnknownProvider)
}

func TestOfflineProviderAlwaysFails(t *testing.T) {
	provider, err := llm.GetProvider("offline", nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = provider.GenerateText(ctx, llm.CompletionRequest{Prompt: "Rome"})
	assert.ErrorIs(t, err, llm.ErrOffline)
	_, err = provider.GenerateImage(ctx, llm.ImageRequest{Prompt: "Rome"})
	assert.ErrorIs(t, err, llm.ErrOffline)
	_, err = provider.StartVideo(ctx, llm.VideoRequest{Prompt: "Rome"})
	assert.ErrorIs(t, err, llm.ErrOffline)
	_, _, err = provider.DownloadVideo(ctx, &llm.VideoOperation{})
	assert.ErrorIs(t, err, llm.ErrOffline)
}

func TestProviderErrorUnwraps(t *testing.T) {
	inner := errors.New("quota")
	err := &llm.ProviderError{Provider: "google gemini", Status: 429, Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Equal(t, 429, err.StatusCode())
	assert.Equal(t, "google gemini: quota", err.Error())
}
