// Command voice is a terminal client for the voice relay.
//
// Usage:
//
//	go run ./cmd/voice                           # talk with the assistant
//	go run ./cmd/voice --relay ws://host:8080/realtime-voice
//	go run ./cmd/voice --say "Hello there"       # one-shot speech
//
// Audio goes through arecord/aplay on Linux and rec/play (SoX) elsewhere.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-voice/internal/config"
	"github.com/teslashibe/go-voice/internal/log"
	"github.com/teslashibe/go-voice/pkg/audioio"
	"github.com/teslashibe/go-voice/pkg/playback"
	"github.com/teslashibe/go-voice/pkg/session"
	"github.com/teslashibe/go-voice/pkg/tts"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	relayURL := flag.String("relay", "", "Relay websocket URL (overrides config)")
	backend := flag.String("backend", "", "Audio backend: auto, alsa, sox")
	device := flag.String("device", "", "Audio device name")
	say := flag.String("say", "", "Speak this text once and exit")
	voice := flag.String("voice", "", "Voice for --say")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config error: %v\n", err)
		os.Exit(1)
	}
	if *relayURL != "" {
		cfg.Client.RelayURL = *relayURL
	}
	if *backend != "" {
		cfg.Client.Backend = *backend
	}
	if *device != "" {
		cfg.Client.Device = *device
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.ValidateClient(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config error: %v\n", err)
		os.Exit(1)
	}

	log.InitFormat(cfg.Logging.Level, cfg.Logging.Format)
	logger := log.Component("voice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	audioCfg := audioio.DefaultConfig()
	audioCfg.Backend = audioio.Backend(cfg.Client.Backend)
	audioCfg.Device = cfg.Client.Device
	audioCfg.SampleRate = cfg.Client.SampleRate

	if *say != "" {
		v := *voice
		if v == "" {
			v = cfg.TTS.Voice
		}
		if err := speak(ctx, cfg, audioCfg, *say, v, sigChan, logger); err != nil {
			logger.Error("speech failed", "error", err)
			fmt.Println("❌ Speech Error: Failed to generate speech")
			os.Exit(1)
		}
		return
	}

	if err := converse(ctx, cfg, audioCfg, sigChan, logger); err != nil {
		os.Exit(1)
	}
}

// converse runs one voice session until Ctrl+C or until the relay ends it.
func converse(ctx context.Context, cfg *config.Config, audioCfg audioio.Config, sigChan <-chan os.Signal, logger *slog.Logger) error {
	src, err := audioio.NewSource(audioCfg, logger)
	if err != nil {
		fmt.Printf("❌ Microphone Error: %v\n", err)
		return err
	}
	capturer := audioio.NewCapturer(src,
		audioio.WithTargetRate(audioio.DefaultConfig().SampleRate),
		audioio.WithCaptureLogger(logger),
	)

	outCfg := audioio.DefaultConfig()
	outCfg.Backend = audioCfg.Backend
	sink, err := audioio.NewSink(outCfg, logger)
	if err != nil {
		fmt.Printf("❌ Playback Error: %v\n", err)
		return err
	}
	clock, err := playback.NewSinkClock(ctx, sink, logger)
	if err != nil {
		fmt.Printf("❌ Playback Error: %v\n", err)
		return err
	}

	ctrl := session.New(session.DefaultConfig(),
		session.Deps{
			Dialer:   session.NewWSDialer(cfg.Client.RelayURL),
			Capturer: capturer,
			Clock:    clock,
		},
		session.WithLogger(logger),
		session.WithTranscriptHandler(func(text string, isUser bool) {
			if isUser {
				fmt.Printf("🗣️  You: %s\n", text)
			} else {
				fmt.Printf("🤖 Assistant: %s\n", text)
			}
		}),
		session.WithSpeakingHandler(func(speaking bool) {
			if speaking {
				fmt.Println("🔊 ...")
			}
		}),
		session.WithNotifier(func(n session.Notification) {
			fmt.Printf("ℹ️  %s: %s\n", n.Title, n.Message)
		}),
	)

	fmt.Println("🎤 Voice chat")
	fmt.Printf("   Relay: %s\n", cfg.Client.RelayURL)
	fmt.Println("   Press Ctrl+C to end")
	fmt.Println()

	startCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	err = ctrl.Start(startCtx)
	cancel()
	if err != nil {
		src.Close()
		return err
	}

	select {
	case <-sigChan:
		fmt.Println()
		ctrl.End()
	case <-ctrl.Wait():
	}

	src.Close()

	stats := ctrl.Stats()
	logger.Info("session finished",
		"state", ctrl.State(),
		"frames_sent", stats.FramesSent,
		"frames_dropped", stats.FramesDropped,
		"chunks_played", stats.Playback.Enqueued,
	)
	if err := ctrl.Err(); err != nil && !errors.Is(err, session.ErrEnded) {
		return err
	}
	return nil
}

// speak requests one utterance from the relay and plays it as a single
// buffer. A signal cuts playback short.
func speak(ctx context.Context, cfg *config.Config, audioCfg audioio.Config, text, voice string, sigChan <-chan os.Signal, logger *slog.Logger) error {
	client := tts.NewRelayClient(cfg.TTSURL(), nil)

	reqCtx, cancel := context.WithTimeout(ctx, cfg.TTS.Timeout)
	pcm, err := client.Speak(reqCtx, text, voice, tts.EncodingPCM)
	cancel()
	if err != nil {
		return err
	}

	outCfg := audioio.DefaultConfig()
	outCfg.Backend = audioCfg.Backend
	outCfg.SampleRate = tts.PCMSampleRate
	sink, err := audioio.NewSink(outCfg, logger)
	if err != nil {
		return err
	}
	clock, err := playback.NewSinkClock(ctx, sink, logger)
	if err != nil {
		return err
	}
	defer clock.Close()

	finished := make(chan struct{})
	queue := playback.NewQueue(clock, outCfg,
		playback.WithLogger(logger),
		playback.WithPlayingCallback(func(playing bool) {
			if !playing {
				close(finished)
			}
		}),
	)
	if err := queue.Enqueue(pcm); err != nil {
		return err
	}

	fmt.Printf("🔊 Speaking %s of audio\n", outCfg.DurationOf(len(pcm)).Round(time.Millisecond))
	select {
	case <-finished:
	case <-sigChan:
		fmt.Println()
		logger.Info("playback interrupted")
		queue.Clear()
	}
	return nil
}
