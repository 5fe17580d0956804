// Package config loads go-voice configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables (a .env file in the working directory is loaded
// first when present).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default endpoints and models.
const (
	DefaultRealtimeURL   = "wss://api.openai.com/v1/realtime"
	DefaultRealtimeModel = "gpt-4o-realtime-preview-2024-10-01"
	DefaultVoice         = "alloy"
	DefaultTTSModel      = "tts-1"
	DefaultPort          = 8080
	DefaultRelayURL      = "ws://localhost:8080/realtime-voice"
)

var (
	// ErrConfiguration is the root of every configuration failure.
	ErrConfiguration = errors.New("config: invalid configuration")

	// ErrMissingAPIKey indicates the upstream credential is not set.
	ErrMissingAPIKey = fmt.Errorf("%w: OPENAI_API_KEY is required", ErrConfiguration)
)

// Config is the complete go-voice configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Realtime RealtimeConfig `yaml:"realtime"`
	TTS      TTSConfig      `yaml:"tts"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Client   ClientConfig   `yaml:"client"`
}

// ServerConfig configures the relay HTTP listener.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Debug          bool     `yaml:"debug"`
}

// RealtimeConfig configures the upstream realtime connection.
type RealtimeConfig struct {
	APIKey           string        `yaml:"api_key"`
	URL              string        `yaml:"url"`
	Model            string        `yaml:"model"`
	Voice            string        `yaml:"voice"`
	Instructions     string        `yaml:"instructions"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// ReadyTimeout bounds the wait for session.created. Zero disables it.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// TTSConfig configures the one-shot speech endpoint.
type TTSConfig struct {
	Model   string        `yaml:"model"`
	Voice   string        `yaml:"voice"`
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig configures the optional session registry.
// An empty URL disables the registry.
type RedisConfig struct {
	URL        string        `yaml:"url"`
	Password   string        `yaml:"password"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ClientConfig configures the terminal voice client.
type ClientConfig struct {
	RelayURL   string `yaml:"relay_url"`
	Backend    string `yaml:"backend"`
	Device     string `yaml:"device"`
	SampleRate int    `yaml:"sample_rate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           DefaultPort,
			AllowedOrigins: []string{"*"},
		},
		Realtime: RealtimeConfig{
			URL:              DefaultRealtimeURL,
			Model:            DefaultRealtimeModel,
			Voice:            DefaultVoice,
			HandshakeTimeout: 15 * time.Second,
		},
		TTS: TTSConfig{
			Model:   DefaultTTSModel,
			Voice:   DefaultVoice,
			Timeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			SessionTTL: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Client: ClientConfig{
			RelayURL:   DefaultRelayURL,
			Backend:    "auto",
			SampleRate: 24000,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (*Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Realtime.APIKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: invalid PORT %q", ErrConfiguration, v)
		}
		c.Server.Port = p
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("REALTIME_URL"); v != "" {
		c.Realtime.URL = v
	}
	if v := os.Getenv("REALTIME_MODEL"); v != "" {
		c.Realtime.Model = v
	}
	if v := os.Getenv("VOICE"); v != "" {
		c.Realtime.Voice = v
		c.TTS.Voice = v
	}
	if v := os.Getenv("READY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: invalid READY_TIMEOUT %q", ErrConfiguration, v)
		}
		c.Realtime.ReadyTimeout = d
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("RELAY_URL"); v != "" {
		c.Client.RelayURL = v
	}
	if v := os.Getenv("AUDIO_BACKEND"); v != "" {
		c.Client.Backend = v
	}
	if v := os.Getenv("AUDIO_DEVICE"); v != "" {
		c.Client.Device = v
	}
	return nil
}

// ValidateRelay checks the settings the relay cannot start without.
func (c *Config) ValidateRelay() error {
	if c.Realtime.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d", ErrConfiguration, c.Server.Port)
	}
	if c.Realtime.URL == "" {
		return fmt.Errorf("%w: realtime url cannot be empty", ErrConfiguration)
	}
	if c.Realtime.ReadyTimeout < 0 {
		return fmt.Errorf("%w: ready_timeout cannot be negative", ErrConfiguration)
	}
	return nil
}

// ValidateClient checks the settings the voice client needs.
func (c *Config) ValidateClient() error {
	if c.Client.RelayURL == "" {
		return fmt.Errorf("%w: relay_url cannot be empty", ErrConfiguration)
	}
	if c.Client.SampleRate <= 0 {
		return fmt.Errorf("%w: sample_rate must be positive, got %d", ErrConfiguration, c.Client.SampleRate)
	}
	return nil
}

// UpstreamURL returns the realtime endpoint including the model query.
func (c *Config) UpstreamURL() string {
	if c.Realtime.Model == "" {
		return c.Realtime.URL
	}
	sep := "?"
	if strings.Contains(c.Realtime.URL, "?") {
		sep = "&"
	}
	return c.Realtime.URL + sep + "model=" + c.Realtime.Model
}

// TTSURL derives the relay's text-to-speech endpoint from the relay websocket URL.
func (c *Config) TTSURL() string {
	u := c.Client.RelayURL
	switch {
	case strings.HasPrefix(u, "wss://"):
		u = "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		u = "http://" + strings.TrimPrefix(u, "ws://")
	}
	u = strings.TrimSuffix(u, "/realtime-voice")
	return strings.TrimSuffix(u, "/") + "/text-to-speech"
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
