package tts_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-voice/pkg/tts"
)

func TestMockProvider(t *testing.T) {
	mock := tts.NewMock()
	ctx := context.Background()

	t.Run("Synthesize returns silence", func(t *testing.T) {
		result, err := mock.Synthesize(ctx, "Hello world", tts.WithSpeechFormat(tts.EncodingPCM))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Audio) != 11*960 {
			t.Errorf("expected %d bytes, got %d", 11*960, len(result.Audio))
		}
		if result.CharCount != 11 {
			t.Errorf("expected 11 chars, got %d", result.CharCount)
		}
		if result.Format.SampleRate != tts.PCMSampleRate {
			t.Errorf("expected %d sample rate, got %d", tts.PCMSampleRate, result.Format.SampleRate)
		}
		if result.Duration != 220*time.Millisecond {
			t.Errorf("expected 220ms, got %v", result.Duration)
		}
	})

	t.Run("Health is not recorded", func(t *testing.T) {
		if err := mock.Health(ctx); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		calls := mock.Calls()
		if len(calls) != 1 {
			t.Fatalf("expected 1 call, got %d", len(calls))
		}
		if calls[0].Format != tts.EncodingPCM || calls[0].Voice != tts.VoiceAlloy {
			t.Errorf("expected pcm/alloy, got %s/%s", calls[0].Format, calls[0].Voice)
		}
	})

	t.Run("Reset clears calls", func(t *testing.T) {
		mock.Reset()
		if len(mock.Calls()) != 0 {
			t.Error("expected calls to be cleared")
		}
	})
}

func TestMockWithError(t *testing.T) {
	testErr := errors.New("test error")
	mock := tts.WithError(testErr)

	_, err := mock.Synthesize(context.Background(), "Hello")
	if !errors.Is(err, testErr) {
		t.Errorf("expected test error, got %v", err)
	}
	if !errors.Is(err, tts.ErrSpeech) {
		t.Errorf("expected ErrSpeech, got %v", err)
	}
	if err := mock.Health(context.Background()); !errors.Is(err, testErr) {
		t.Errorf("expected Health to fail with test error, got %v", err)
	}
}

func TestMockWithLatency(t *testing.T) {
	mock := tts.WithLatency(tts.NewMock(), 50*time.Millisecond)

	start := time.Now()
	if _, err := mock.Synthesize(context.Background(), "Hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected at least 50ms latency, got %v", elapsed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := mock.Synthesize(ctx, "Hello"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := tts.NewOpenAI(tts.WithVoice("nova")); !errors.Is(err, tts.ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestParseEncoding(t *testing.T) {
	tests := []struct {
		in      string
		want    tts.Encoding
		wantErr bool
	}{
		{"", tts.EncodingMP3, false},
		{"mp3", tts.EncodingMP3, false},
		{"PCM", tts.EncodingPCM, false},
		{"wav", tts.EncodingWAV, false},
		{"ulaw", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := tts.ParseEncoding(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEncoding(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, tts.ErrUnsupportedFormat) {
				t.Errorf("expected ErrUnsupportedFormat, got %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseEncoding(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// speechServer records the last JSON payload and answers with 100ms of PCM.
func speechServer(t *testing.T, payload *map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(payload)
		w.Write(make([]byte, 4800))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAISynthesize(t *testing.T) {
	var payload map[string]string
	srv := speechServer(t, &payload)

	t.Run("request options override defaults", func(t *testing.T) {
		provider, err := tts.NewOpenAI(tts.WithAPIKey("test-key"), tts.WithEndpoint(srv.URL))
		if err != nil {
			t.Fatalf("NewOpenAI() error = %v", err)
		}
		defer provider.Close()

		result, err := provider.Synthesize(context.Background(), "Hi there",
			tts.WithSpeechVoice("nova"), tts.WithSpeechFormat(tts.EncodingPCM))
		if err != nil {
			t.Fatalf("Synthesize() error = %v", err)
		}

		want := map[string]string{
			"model":           tts.ModelTTS1,
			"voice":           "nova",
			"input":           "Hi there",
			"response_format": "pcm",
		}
		for k, v := range want {
			if payload[k] != v {
				t.Errorf("payload[%q] = %q, want %q", k, payload[k], v)
			}
		}
		if result.Duration != 100*time.Millisecond {
			t.Errorf("expected 100ms of audio, got %v", result.Duration)
		}
	})

	t.Run("provider options set defaults", func(t *testing.T) {
		provider, err := tts.NewOpenAI(
			tts.WithAPIKey("test-key"),
			tts.WithEndpoint(srv.URL),
			tts.WithModel(tts.ModelTTS1HD),
			tts.WithVoice(tts.VoiceShimmer),
			tts.WithFormat(tts.EncodingWAV),
			tts.WithTimeout(5*time.Second),
		)
		if err != nil {
			t.Fatalf("NewOpenAI() error = %v", err)
		}

		result, err := provider.Synthesize(context.Background(), "Hello")
		if err != nil {
			t.Fatalf("Synthesize() error = %v", err)
		}
		if payload["model"] != tts.ModelTTS1HD || payload["voice"] != tts.VoiceShimmer || payload["response_format"] != "wav" {
			t.Errorf("unexpected payload %v", payload)
		}
		if result.Format.Encoding != tts.EncodingWAV {
			t.Errorf("expected wav result, got %s", result.Format.Encoding)
		}
		if result.Duration != 0 {
			t.Errorf("expected unknown duration for wav, got %v", result.Duration)
		}
	})

	t.Run("empty text", func(t *testing.T) {
		provider, _ := tts.NewOpenAI(tts.WithAPIKey("test-key"), tts.WithEndpoint(srv.URL))
		if _, err := provider.Synthesize(context.Background(), "  "); !errors.Is(err, tts.ErrEmptyText) {
			t.Errorf("expected ErrEmptyText, got %v", err)
		}
	})
}

func TestOpenAIRetry(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch n := attempts.Add(1); {
		case r.Header.Get("Authorization") == "Bearer bad":
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"invalid_api_key","message":"Incorrect API key"}}`))
		case n < 3:
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"message":"overloaded","code":"server_busy"}}`))
		default:
			w.Write([]byte("mp3-bytes"))
		}
	}))
	defer srv.Close()

	t.Run("recovers after 5xx", func(t *testing.T) {
		attempts.Store(0)
		provider, _ := tts.NewOpenAI(tts.WithAPIKey("k"), tts.WithEndpoint(srv.URL), tts.WithRetry(2, time.Millisecond))
		result, err := provider.Synthesize(context.Background(), "Hello")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(result.Audio) != "mp3-bytes" {
			t.Errorf("unexpected audio %q", result.Audio)
		}
		if attempts.Load() != 3 {
			t.Errorf("expected 3 attempts, got %d", attempts.Load())
		}
	})

	t.Run("gives up after retries", func(t *testing.T) {
		attempts.Store(-10)
		provider, _ := tts.NewOpenAI(tts.WithAPIKey("k"), tts.WithEndpoint(srv.URL), tts.WithRetry(1, time.Millisecond))
		_, err := provider.Synthesize(context.Background(), "Hello")

		var apiErr *tts.APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if apiErr.StatusCode != http.StatusServiceUnavailable || apiErr.Code != "server_busy" {
			t.Errorf("unexpected APIError %+v", apiErr)
		}
		if !apiErr.Temporary() {
			t.Error("expected 503 to be temporary")
		}
		if got := attempts.Load(); got != -8 {
			t.Errorf("expected 2 attempts, got %d", got+10)
		}
	})

	t.Run("does not retry 401", func(t *testing.T) {
		attempts.Store(0)
		provider, _ := tts.NewOpenAI(tts.WithAPIKey("bad"), tts.WithEndpoint(srv.URL), tts.WithRetry(3, time.Millisecond))
		_, err := provider.Synthesize(context.Background(), "Hello")

		var apiErr *tts.APIError
		if !errors.As(err, &apiErr) || !apiErr.Unauthorized() {
			t.Fatalf("expected unauthorized APIError, got %v", err)
		}
		if apiErr.Type != "invalid_request_error" {
			t.Errorf("expected error type to be decoded, got %q", apiErr.Type)
		}
		if attempts.Load() != 1 {
			t.Errorf("expected 1 attempt, got %d", attempts.Load())
		}
	})
}

func TestRelayClientSpeak(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tts.SpeechRequest
		json.NewDecoder(r.Body).Decode(&req)
		switch req.Text {
		case "fail":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"boom"}`))
		case "garbled":
			json.NewEncoder(w).Encode(tts.SpeechResponse{AudioContent: "%%%"})
		default:
			json.NewEncoder(w).Encode(tts.SpeechResponse{
				AudioContent: base64.StdEncoding.EncodeToString([]byte(req.Voice + ":" + req.Format)),
			})
		}
	}))
	defer srv.Close()

	client := tts.NewRelayClient(srv.URL, nil)

	t.Run("decodes audio", func(t *testing.T) {
		audio, err := client.Speak(context.Background(), "hello", "alloy", tts.EncodingPCM)
		if err != nil {
			t.Fatalf("Speak() error = %v", err)
		}
		if string(audio) != "alloy:pcm" {
			t.Errorf("expected alloy:pcm, got %q", audio)
		}
	})

	t.Run("server error", func(t *testing.T) {
		_, err := client.Speak(context.Background(), "fail", "alloy", tts.EncodingMP3)
		var se *tts.SpeechError
		if !errors.As(err, &se) {
			t.Fatalf("expected SpeechError, got %v", err)
		}
		if se.Source != "relay" || se.Op != "speak" {
			t.Errorf("unexpected SpeechError %+v", se)
		}
	})

	t.Run("bad base64", func(t *testing.T) {
		_, err := client.Speak(context.Background(), "garbled", "alloy", tts.EncodingMP3)
		if !errors.Is(err, tts.ErrSpeech) {
			t.Fatalf("expected ErrSpeech, got %v", err)
		}
	})

	t.Run("empty text", func(t *testing.T) {
		if _, err := client.Speak(context.Background(), "", "alloy", tts.EncodingMP3); !errors.Is(err, tts.ErrEmptyText) {
			t.Errorf("expected ErrEmptyText, got %v", err)
		}
	})
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		status       int
		temporary    bool
		unauthorized bool
	}{
		{400, false, false},
		{401, false, true},
		{429, true, false},
		{500, true, false},
		{503, true, false},
	}
	for _, tt := range tests {
		err := &tts.APIError{StatusCode: tt.status}
		if err.Temporary() != tt.temporary {
			t.Errorf("%d: Temporary() = %v", tt.status, err.Temporary())
		}
		if err.Unauthorized() != tt.unauthorized {
			t.Errorf("%d: Unauthorized() = %v", tt.status, err.Unauthorized())
		}
	}

	err := &tts.APIError{StatusCode: 400, Code: "invalid_input", Message: "bad request"}
	if msg := err.Error(); msg != "tts: speech API returned 400 (invalid_input): bad request" {
		t.Errorf("unexpected error message: %s", msg)
	}
}

func TestSpeechErrorWrapsPlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("  not json  "))
	}))
	defer srv.Close()

	provider, _ := tts.NewOpenAI(tts.WithAPIKey("k"), tts.WithEndpoint(srv.URL))
	_, err := provider.Synthesize(context.Background(), "Hello")

	var apiErr *tts.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != "not json" {
		t.Errorf("expected trimmed body as message, got %q", apiErr.Message)
	}
	if !strings.HasPrefix(err.Error(), "tts: openai synthesize: ") {
		t.Errorf("unexpected error text %q", err.Error())
	}
}
