// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 配置校验错误
var (
	ErrInvalidPort              = errors.New("port must be a number between 1 and 65535")
	ErrMissingMediaDir          = errors.New("media_dir is required")
	ErrInvalidMediaTTL          = errors.New("media_ttl must be positive")
	ErrInvalidTaskTTL           = errors.New("task_ttl must be positive")
	ErrUnknownProvider          = errors.New("llm.provider must be one of: google, openai, offline")
	ErrInvalidMaxAttempts       = errors.New("pipeline.retry.max_attempts must be at least 1")
	ErrInvalidInitialDelay      = errors.New("pipeline.retry.initial_delay_ms must be non-negative")
	ErrInvalidBackoffMultiplier = errors.New("pipeline.retry.backoff_multiplier must be >= 1.0")
	ErrInvalidPollInterval      = errors.New("video.poll_interval must be positive")
	ErrInvalidVideoTimeout      = errors.New("video.timeout must be at least video.poll_interval")
	ErrMissingGeocoderURL       = errors.New("geocoder.base_url is required")
	ErrInvalidRateLimit         = errors.New("rate_limit values must be at least 1")
	ErrInvalidLogLevel          = errors.New("log_level must be one of: debug, info, warn, error")
)

// Provider names accepted by llm.provider.
const (
	ProviderGoogle  = "google"
	ProviderOpenAI  = "openai"
	ProviderOffline = "offline"
)

// 当前配置的单例实例
var (
	currentConfig *Config
	configMutex   sync.RWMutex
)

// Config 包含应用程序的所有配置
type Config struct {
	Port     string        `yaml:"port"`
	Debug    bool          `yaml:"debug"`
	DataDir  string        `yaml:"data_dir"`
	MediaDir string        `yaml:"media_dir"`
	MediaTTL time.Duration `yaml:"media_ttl"`
	TaskTTL  time.Duration `yaml:"task_ttl"`
	LogLevel string        `yaml:"log_level"`
	LogFile  string        `yaml:"log_file"`

	LLM       LLMConfig       `yaml:"llm"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Video     VideoConfig     `yaml:"video"`
	Geocoder  GeocoderConfig  `yaml:"geocoder"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// LLMConfig selects the AI provider and its models.
type LLMConfig struct {
	Provider string       `yaml:"provider"`
	APIKey   string       `yaml:"api_key"`
	BaseURL  string       `yaml:"base_url"`
	Models   ModelsConfig `yaml:"models"`
}

// ModelsConfig names the model used by each pipeline stage. Empty values fall back to
// the provider's defaults.
type ModelsConfig struct {
	Timeline         string `yaml:"timeline"`
	TimelineFallback string `yaml:"timeline_fallback"`
	Lookup           string `yaml:"lookup"`
	Image            string `yaml:"image"`
	Speech           string `yaml:"speech"`
	Voice            string `yaml:"voice"`
	Video            string `yaml:"video"`
	Chat             string `yaml:"chat"`
}

// PipelineConfig 流水线行为
type PipelineConfig struct {
	Retry RetryPolicy `yaml:"retry"`
}

// RetryPolicy defines retry behavior for a single provider call.
type RetryPolicy struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// Delay returns the wait before the given retry (1 = first retry).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := float64(p.InitialDelayMs)
	for i := 1; i < attempt; i++ {
		delay *= p.BackoffMultiplier
	}
	if p.MaxDelayMs > 0 && delay > float64(p.MaxDelayMs) {
		delay = float64(p.MaxDelayMs)
	}
	return time.Duration(delay) * time.Millisecond
}

// VideoConfig 视频生成轮询设置
type VideoConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// GeocoderConfig Nominatim 设置
type GeocoderConfig struct {
	BaseURL   string        `yaml:"base_url"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RateLimitConfig is requests per minute per client IP.
type RateLimitConfig struct {
	Search  int `yaml:"search"`
	Chat    int `yaml:"chat"`
	Default int `yaml:"default"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:     "8080",
		DataDir:  "data",
		MediaDir: filepath.Join("data", "media"),
		MediaTTL: 24 * time.Hour,
		TaskTTL:  time.Hour,
		LogLevel: "info",
		LLM: LLMConfig{
			Provider: ProviderGoogle,
		},
		Pipeline: PipelineConfig{
			Retry: RetryPolicy{
				MaxAttempts:       2,
				InitialDelayMs:    500,
				MaxDelayMs:        5000,
				BackoffMultiplier: 2.0,
			},
		},
		Video: VideoConfig{
			Enabled:      true,
			PollInterval: 5 * time.Second,
			Timeout:      10 * time.Minute,
		},
		Geocoder: GeocoderConfig{
			BaseURL:   "https://nominatim.openstreetmap.org",
			UserAgent: "ChronoAtlas/1.0 (historical atlas service)",
			Timeout:   10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Search:  10,
			Chat:    30,
			Default: 100,
		},
	}
}

// Load 加载 .env、可选的 YAML 文件和环境变量（环境变量优先）
func Load(path string) (*Config, error) {
	// .env 是可选的
	_ = godotenv.Load()

	if path == "" {
		path = ConfigFileFromEnv()
	}

	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// ConfigFileFromEnv returns the YAML path named by CONFIG_FILE, if any.
func ConfigFileFromEnv() string {
	return os.Getenv("CONFIG_FILE")
}

// LoadFile loads configuration from a YAML file on top of the defaults, without
// environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.readFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// SaveFile writes the configuration as YAML. The API key is never written.
func (c *Config) SaveFile(path string) error {
	clone := *c
	clone.LLM.APIKey = ""

	data, err := yaml.Marshal(&clone)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnv 环境变量覆盖文件配置
func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Debug = getEnvBool("DEBUG_MODE", c.Debug)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.MediaDir = getEnv("MEDIA_DIR", c.MediaDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)

	c.LLM.Provider = strings.ToLower(getEnv("LLM_PROVIDER", c.LLM.Provider))
	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.Video.Enabled = getEnvBool("VIDEO_ENABLED", c.Video.Enabled)
	c.Geocoder.BaseURL = getEnv("GEOCODER_BASE_URL", c.Geocoder.BaseURL)

	if key := os.Getenv("LLM_API_KEY"); key != "" {
		c.LLM.APIKey = key
		return
	}
	switch c.LLM.Provider {
	case ProviderOpenAI:
		c.LLM.APIKey = getEnv("OPENAI_API_KEY", c.LLM.APIKey)
	case ProviderGoogle:
		c.LLM.APIKey = getEnv("GEMINI_API_KEY", getEnv("API_KEY", c.LLM.APIKey))
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%w: %q", ErrInvalidPort, c.Port)
	}
	if c.MediaDir == "" {
		return ErrMissingMediaDir
	}
	if c.MediaTTL <= 0 {
		return ErrInvalidMediaTTL
	}
	if c.TaskTTL <= 0 {
		return ErrInvalidTaskTTL
	}

	switch c.LLM.Provider {
	case ProviderGoogle, ProviderOpenAI, ProviderOffline:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.LLM.Provider)
	}

	retry := c.Pipeline.Retry
	if retry.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}
	if retry.InitialDelayMs < 0 {
		return ErrInvalidInitialDelay
	}
	if retry.BackoffMultiplier < 1.0 {
		return ErrInvalidBackoffMultiplier
	}

	if c.Video.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	if c.Video.Timeout < c.Video.PollInterval {
		return ErrInvalidVideoTimeout
	}

	if c.Geocoder.BaseURL == "" {
		return ErrMissingGeocoderURL
	}

	if c.RateLimit.Search < 1 || c.RateLimit.Chat < 1 || c.RateLimit.Default < 1 {
		return ErrInvalidRateLimit
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}

// HasAPIKey reports whether a real provider can be used.
func (c *Config) HasAPIKey() bool {
	return c.LLM.Provider != ProviderOffline && strings.TrimSpace(c.LLM.APIKey) != ""
}

// Current 返回当前配置的副本；未初始化时返回默认配置
func Current() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		return Default()
	}
	configCopy := *currentConfig
	return &configCopy
}

// Set 替换当前配置
func Set(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	currentConfig = cfg
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}
