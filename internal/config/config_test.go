package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envKeys = []string{
	"OPENAI_API_KEY", "PORT", "ALLOWED_ORIGINS", "REALTIME_URL", "REALTIME_MODEL",
	"VOICE", "READY_TIMEOUT", "REDIS_URL", "REDIS_PASSWORD", "LOG_LEVEL",
	"LOG_FORMAT", "RELAY_URL", "AUDIO_BACKEND", "AUDIO_DEVICE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Server.Port)
	}
	if cfg.Realtime.Voice != "alloy" {
		t.Errorf("expected voice alloy, got %s", cfg.Realtime.Voice)
	}
	if cfg.Realtime.ReadyTimeout != 0 {
		t.Errorf("expected ready timeout disabled, got %v", cfg.Realtime.ReadyTimeout)
	}
	if cfg.Client.SampleRate != 24000 {
		t.Errorf("expected sample rate 24000, got %d", cfg.Client.SampleRate)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("READY_TIMEOUT", "15s")
	t.Setenv("VOICE", "verse")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Realtime.APIKey != "sk-test" {
		t.Errorf("expected api key from env, got %q", cfg.Realtime.APIKey)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Realtime.ReadyTimeout != 15*time.Second {
		t.Errorf("expected 15s ready timeout, got %v", cfg.Realtime.ReadyTimeout)
	}
	if cfg.Realtime.Voice != "verse" || cfg.TTS.Voice != "verse" {
		t.Errorf("expected voice verse for realtime and tts, got %s/%s", cfg.Realtime.Voice, cfg.TTS.Voice)
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-port")

	_, err := Load("")
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "voice.yaml")
	data := []byte(`
server:
  port: 7070
realtime:
  api_key: sk-file
  model: custom-model
  ready_timeout: 5s
redis:
  url: redis://localhost:6379/0
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Realtime.APIKey != "sk-file" {
		t.Errorf("expected api key from file, got %q", cfg.Realtime.APIKey)
	}
	if cfg.Realtime.ReadyTimeout != 5*time.Second {
		t.Errorf("expected 5s ready timeout, got %v", cfg.Realtime.ReadyTimeout)
	}
	if cfg.Realtime.Voice != DefaultVoice {
		t.Errorf("expected default voice to survive partial file, got %s", cfg.Realtime.Voice)
	}

	t.Run("env wins over file", func(t *testing.T) {
		t.Setenv("PORT", "6060")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 6060 {
			t.Errorf("expected port 6060, got %d", cfg.Server.Port)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestValidateRelay(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		cfg := Default()
		err := cfg.ValidateRelay()
		if !errors.Is(err, ErrMissingAPIKey) {
			t.Errorf("expected ErrMissingAPIKey, got %v", err)
		}
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("expected missing key to be a configuration error, got %v", err)
		}
	})

	t.Run("valid", func(t *testing.T) {
		cfg := Default()
		cfg.Realtime.APIKey = "sk-test"
		if err := cfg.ValidateRelay(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := Default()
		cfg.Realtime.APIKey = "sk-test"
		cfg.Server.Port = 70000
		if err := cfg.ValidateRelay(); err == nil {
			t.Error("expected error for out of range port")
		}
	})
}

func TestUpstreamURL(t *testing.T) {
	cfg := Default()
	want := "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"
	if got := cfg.UpstreamURL(); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}

	cfg.Realtime.URL = "ws://localhost:9000/rt?debug=1"
	cfg.Realtime.Model = "m"
	if got := cfg.UpstreamURL(); got != "ws://localhost:9000/rt?debug=1&model=m" {
		t.Errorf("unexpected url with existing query: %s", got)
	}
}

func TestTTSURL(t *testing.T) {
	tests := []struct {
		relay string
		want  string
	}{
		{"ws://localhost:8080/realtime-voice", "http://localhost:8080/text-to-speech"},
		{"wss://voice.example.com/realtime-voice", "https://voice.example.com/text-to-speech"},
		{"ws://localhost:8080/", "http://localhost:8080/text-to-speech"},
	}

	for _, tt := range tests {
		t.Run(tt.relay, func(t *testing.T) {
			cfg := Default()
			cfg.Client.RelayURL = tt.relay
			if got := cfg.TTSURL(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
