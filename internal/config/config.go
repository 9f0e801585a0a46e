package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete bot configuration. Defaults cover everything except
// credentials; a YAML file (CONFIG_PATH) and environment variables override
// individual fields, with the environment winning.
type Config struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Audio    AudioConfig    `yaml:"audio"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DiscordConfig contains gateway credentials and command registration scope.
type DiscordConfig struct {
	Token string `yaml:"token"`
}

// AudioConfig is the single source of truth for the PCM format used across
// the whole capture/encode/playback path: the Opus decoder, the WAV turn
// container, and the playback encoder all derive from these values, so the
// formats cannot drift apart.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"` // Hz, Discord decodes at 48000
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
	FrameMs    int `yaml:"frame_ms"` // tick period and opus frame duration
}

// OpenAIConfig configures the external inference services.
type OpenAIConfig struct {
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	Prompt          string `yaml:"prompt"`
	ChatModel       string `yaml:"chat_model"`
	TranscribeModel string `yaml:"transcribe_model"`
	SpeechModel     string `yaml:"speech_model"`
	ImageModel      string `yaml:"image_model"`
	Voice           string `yaml:"voice"`
	MaxTokens       int    `yaml:"max_tokens"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"` // per external call
}

// PipelineConfig controls turn artifacts on local storage.
type PipelineConfig struct {
	DataDir          string `yaml:"data_dir"`
	RetentionMinutes int    `yaml:"retention_minutes"`
	MaxAssets        int    `yaml:"max_assets"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_PATH, and environment overrides, then validates it.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate: 48000,
			Channels:   2,
			BitDepth:   16,
			FrameMs:    20,
		},
		OpenAI: OpenAIConfig{
			BaseURL:         "https://api.openai.com/v1",
			ChatModel:       "gpt-4o",
			TranscribeModel: "whisper-1",
			SpeechModel:     "tts-1",
			ImageModel:      "dall-e-3",
			Voice:           "fable",
			MaxTokens:       512,
			TimeoutSeconds:  30,
		},
		Pipeline: PipelineConfig{
			DataDir:          "./data",
			RetentionMinutes: 60,
			MaxAssets:        500,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
	}
}

func (c *Config) applyEnv() {
	setString(&c.Discord.Token, "DISCORD_BOT_TOKEN")
	setString(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.OpenAI.Prompt, "PROMPT")
	setString(&c.OpenAI.ChatModel, "OPENAI_MODEL")
	setString(&c.OpenAI.Voice, "OPENAI_VOICE")
	setInt(&c.OpenAI.MaxTokens, "LLM_MAX_TOKENS")
	setInt(&c.OpenAI.TimeoutSeconds, "INFERENCE_TIMEOUT_S")
	setString(&c.Pipeline.DataDir, "DATA_DIR")
	setBool(&c.Metrics.Enabled, "METRICS_ENABLED")
	setString(&c.Metrics.Address, "METRICS_ADDR")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate performs validation of the full configuration.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord config: token cannot be empty (set DISCORD_BOT_TOKEN)")
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.OpenAI.Validate(); err != nil {
		return fmt.Errorf("openai config: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics config: address cannot be empty when metrics are enabled")
	}
	return nil
}

// Validate validates the audio format. Discord's voice transport decodes to
// 48 kHz 16-bit PCM, so the sample rate is pinned rather than free-form.
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 48000 {
		return fmt.Errorf("sample_rate must be 48000 Hz to match the voice transport, got %d", a.SampleRate)
	}
	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}
	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}
	switch a.FrameMs {
	case 10, 20, 40, 60:
	default:
		return fmt.Errorf("frame_ms must be one of 10, 20, 40, 60, got %d", a.FrameMs)
	}
	return nil
}

// Validate validates inference configuration.
func (o *OpenAIConfig) Validate() error {
	if o.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}
	if o.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", o.MaxTokens)
	}
	if o.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be at least 1, got %d", o.TimeoutSeconds)
	}
	return nil
}

// Validate validates artifact storage configuration.
func (p *PipelineConfig) Validate() error {
	if p.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if p.RetentionMinutes < 1 {
		return fmt.Errorf("retention_minutes must be at least 1, got %d", p.RetentionMinutes)
	}
	if p.MaxAssets < 0 {
		return fmt.Errorf("max_assets cannot be negative, got %d", p.MaxAssets)
	}
	return nil
}

// FrameSamples returns the per-channel sample count of one transport frame.
func (a *AudioConfig) FrameSamples() int {
	return a.SampleRate * a.FrameMs / 1000
}

// FrameDuration returns the tick period.
func (a *AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameMs) * time.Millisecond
}

// Timeout returns the per-call inference timeout.
func (o *OpenAIConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// Retention returns the asset retention window.
func (p *PipelineConfig) Retention() time.Duration {
	return time.Duration(p.RetentionMinutes) * time.Minute
}
