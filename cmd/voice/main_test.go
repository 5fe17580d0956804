package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/teslashibe/go-voice/internal/config"
	"github.com/teslashibe/go-voice/pkg/audioio"
	"github.com/teslashibe/go-voice/pkg/tts"
)

// speechServer answers /text-to-speech with n bytes of silence.
func speechServer(t *testing.T, n int) *config.Config {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tts.SpeechResponse{
			AudioContent: base64.StdEncoding.EncodeToString(make([]byte, n)),
		})
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Client.RelayURL = srv.URL
	cfg.TTS.Timeout = 5 * time.Second
	return cfg
}

func mockAudio() audioio.Config {
	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendMock
	return cfg
}

func runSpeak(t *testing.T, cfg *config.Config, sigChan <-chan os.Signal) time.Duration {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	start := time.Now()
	errc := make(chan error, 1)
	go func() {
		errc <- speak(context.Background(), cfg, mockAudio(), "hello", "alloy", sigChan, logger)
	}()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("speak: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("speak did not return")
	}
	return time.Since(start)
}

func TestSpeakPlaysToEnd(t *testing.T) {
	// 100ms of 24kHz PCM16.
	cfg := speechServer(t, 4800)

	elapsed := runSpeak(t, cfg, make(chan os.Signal, 1))
	if elapsed < 100*time.Millisecond {
		t.Errorf("Expected speak to wait for playback, returned after %v", elapsed)
	}
}

func TestSpeakInterruptedBySignal(t *testing.T) {
	// 10s of 24kHz PCM16.
	cfg := speechServer(t, 480000)

	sigChan := make(chan os.Signal, 1)
	sigChan <- os.Interrupt

	if elapsed := runSpeak(t, cfg, sigChan); elapsed > 2*time.Second {
		t.Errorf("Expected signal to cut playback short, took %v", elapsed)
	}
}
