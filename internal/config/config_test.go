// internal/config/config_test.go
package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "DEBUG_MODE", "DATA_DIR", "MEDIA_DIR", "LOG_LEVEL", "LOG_FILE",
		"LLM_PROVIDER", "LLM_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "API_KEY",
		"VIDEO_ENABLED", "GEOCODER_BASE_URL", "CONFIG_FILE",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
port: "9090"
media_ttl: 2h
llm:
  provider: openai
  models:
    chat: gpt-4o-mini
pipeline:
  retry:
    max_attempts: 4
    initial_delay_ms: 100
    backoff_multiplier: 3
video:
  enabled: false
  poll_interval: 2s
  timeout: 1m
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 2*time.Hour, cfg.MediaTTL)
	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Models.Chat)
	assert.Equal(t, 4, cfg.Pipeline.Retry.MaxAttempts)
	assert.False(t, cfg.Video.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Video.PollInterval)
	// 未指定的字段保留默认值
	assert.Equal(t, 10, cfg.RateLimit.Search)
	assert.Equal(t, "https://nominatim.openstreetmap.org", cfg.Geocoder.BaseURL)
}

func TestLoadFile_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"bad port", `port: "http"`, ErrInvalidPort},
		{"unknown provider", "llm:\n  provider: claude", ErrUnknownProvider},
		{"zero attempts", "pipeline:\n  retry:\n    max_attempts: 0", ErrInvalidMaxAttempts},
		{"shrinking backoff", "pipeline:\n  retry:\n    backoff_multiplier: 0.5", ErrInvalidBackoffMultiplier},
		{"timeout below poll", "video:\n  poll_interval: 10s\n  timeout: 5s", ErrInvalidVideoTimeout},
		{"zero rate limit", "rate_limit:\n  chat: 0", ErrInvalidRateLimit},
		{"log level", "log_level: verbose", ErrInvalidLogLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			_, err := LoadFile(path)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, t.TempDir(), "port: \"9090\"\nllm:\n  provider: google\n  api_key: from-file\n")

	t.Setenv("PORT", "7070")
	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("VIDEO_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
	assert.False(t, cfg.Video.Enabled)
	assert.True(t, cfg.HasAPIKey())
}

func TestLoad_OpenAIKeyAndOffline(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GEMINI_API_KEY", "ignored")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)

	cfg.LLM.Provider = ProviderOffline
	assert.False(t, cfg.HasAPIKey())
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialDelayMs: 100, MaxDelayMs: 350, BackoffMultiplier: 2}

	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 350*time.Millisecond, p.Delay(3))
}

func TestSaveFileOmitsAPIKey(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "secret"
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, cfg.SaveFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")

	reloaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Video.Timeout, reloaded.Video.Timeout)
	assert.Equal(t, "secret", cfg.LLM.APIKey)
}

func TestCurrentReturnsCopy(t *testing.T) {
	Set(nil)
	assert.Equal(t, "8080", Current().Port)

	cfg := Default()
	cfg.Port = "9999"
	Set(cfg)
	t.Cleanup(func() { Set(nil) })

	got := Current()
	got.Port = "1"
	assert.Equal(t, "9999", Current().Port)
}

func TestWatcherReloads(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, t.TempDir(), "log_level: info\n")
	t.Cleanup(func() { Set(nil) })

	w, err := NewWatcher(path)
	require.NoError(t, err)

	changes := make(chan *Config, 4)
	w.OnChange(func(cfg *Config) { changes <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0644))

	select {
	case cfg := <-changes:
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "debug", Current().LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}
