// voice-relay: realtime voice relay
// Accepts client websockets on /realtime-voice and bridges each one to its
// own upstream realtime session, configuring it on session.created.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-voice/internal/config"
	"github.com/teslashibe/go-voice/internal/log"
	"github.com/teslashibe/go-voice/pkg/relay"
)

var (
	version    = "1.0.0"
	configPath = flag.String("config", "", "Path to YAML config file")
	port       = flag.Int("port", 0, "HTTP server port (overrides config)")
	debug      = flag.Bool("debug", false, "Enable debug logging and request logs")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *debug {
		cfg.Server.Debug = true
		cfg.Logging.Level = "debug"
	}

	log.InitFormat(cfg.Logging.Level, cfg.Logging.Format)
	logger := log.Component("voice-relay")

	if err := cfg.ValidateRelay(); err != nil {
		if errors.Is(err, config.ErrMissingAPIKey) {
			logger.Error("OPENAI_API_KEY is not set; refusing to start")
		} else {
			logger.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}

	opts := []relay.ServerOption{
		relay.WithVersion(version),
		relay.WithServerLogger(log.L()),
	}

	var redisRegistry *relay.RedisRegistry
	if cfg.Redis.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		redisRegistry, err = relay.NewRedisRegistry(ctx, cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.SessionTTL)
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, using in-memory session registry", "error", err)
		} else {
			opts = append(opts, relay.WithSessionRegistry(redisRegistry))
			logger.Info("session registry", "backend", "redis")
		}
	}

	srv := relay.NewServer(cfg, opts...)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.Info("starting",
			"version", version,
			"realtime", fmt.Sprintf("ws://localhost:%d/realtime-voice", cfg.Server.Port),
			"health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port),
			"model", cfg.Realtime.Model,
		)
		if err := srv.Listen(addr); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if redisRegistry != nil {
		redisRegistry.Close()
	}

	logger.Info("goodbye")
}
