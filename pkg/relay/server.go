package relay

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-voice/internal/config"
	"github.com/teslashibe/go-voice/pkg/hub"
	"github.com/teslashibe/go-voice/pkg/protocol"
	"github.com/teslashibe/go-voice/pkg/tts"
)

// Response bodies for rejected realtime requests.
const (
	msgExpectedWebSocket = "Expected WebSocket connection"
	msgMissingAPIKey     = "OpenAI API key not configured"
)

// Server is the relay's HTTP and websocket front end.
type Server struct {
	cfg      *config.Config
	app      *fiber.App
	dialer   UpstreamDialer
	speech   tts.Provider
	metrics  *Metrics
	registry Registry
	events   *hub.Hub
	session  protocol.SessionConfig
	logger   *slog.Logger
	version  string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithDialer replaces the upstream dialer.
func WithDialer(d UpstreamDialer) ServerOption {
	return func(s *Server) {
		s.dialer = d
	}
}

// WithSpeechProvider sets the provider behind /text-to-speech.
func WithSpeechProvider(p tts.Provider) ServerOption {
	return func(s *Server) {
		s.speech = p
	}
}

// WithSessionRegistry replaces the in-memory session registry.
func WithSessionRegistry(r Registry) ServerOption {
	return func(s *Server) {
		s.registry = r
	}
}

// WithServerLogger sets the logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer builds the relay server and starts its event hub. Call
// Shutdown to stop it.
func NewServer(cfg *config.Config, opts ...ServerOption) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  slog.Default(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "relay.server")

	if s.dialer == nil {
		s.dialer = NewDialer(cfg.UpstreamURL(), cfg.Realtime.APIKey, cfg.Realtime.HandshakeTimeout)
	}
	if s.registry == nil {
		s.registry = NewMemoryRegistry()
	}
	if s.speech == nil && cfg.Realtime.APIKey != "" {
		provider, err := tts.NewOpenAI(
			tts.WithAPIKey(cfg.Realtime.APIKey),
			tts.WithModel(cfg.TTS.Model),
			tts.WithVoice(cfg.TTS.Voice),
			tts.WithTimeout(cfg.TTS.Timeout),
			tts.WithLogger(s.logger),
		)
		if err != nil {
			s.logger.Warn("speech provider unavailable", "error", err)
		} else {
			s.speech = provider
		}
	}

	s.session = protocol.DefaultSessionConfig()
	if cfg.Realtime.Voice != "" {
		s.session.Voice = cfg.Realtime.Voice
	}
	if cfg.Realtime.Instructions != "" {
		s.session.Instructions = cfg.Realtime.Instructions
	}

	s.metrics = NewMetrics("")
	s.events = hub.New("events", s.logger)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.events.Run(s.ctx)

	s.app = fiber.New(fiber.Config{
		AppName:               "voice-relay",
		DisableStartupMessage: true,
	})
	s.app.Use(recover.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowHeaders: "authorization, x-client-info, apikey, content-type",
	}))
	if cfg.Server.Debug {
		s.app.Use(logger.New())
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	s.app.Get("/api/sessions", s.handleSessions)
	s.app.Post("/text-to-speech", s.handleTextToSpeech)

	s.app.Get("/realtime-voice", s.realtimeGuard, websocket.New(s.handleRealtime))
	s.app.Get("/ws/events", upgradeRequired, websocket.New(s.handleEvents))
}

// App returns the fiber app, for Listen and tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Metrics returns the server's metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("relay listening", "addr", addr, "upstream_model", s.cfg.Realtime.Model)
	return s.app.Listen(addr)
}

// Shutdown closes every bridge, stops the event hub and the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	err := s.app.ShutdownWithContext(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("bridges still open at shutdown deadline", "sessions", s.registry.Count())
	}

	if s.speech != nil {
		s.speech.Close()
	}
	return err
}

func (s *Server) realtimeGuard(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusBadRequest).SendString(msgExpectedWebSocket)
	}
	if s.cfg.Realtime.APIKey == "" {
		s.logger.Error("rejecting realtime session", "error", config.ErrMissingAPIKey)
		return c.Status(fiber.StatusInternalServerError).SendString(msgMissingAPIKey)
	}
	c.Locals("remote_addr", c.IP())
	return c.Next()
}

func upgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (s *Server) handleRealtime(c *websocket.Conn) {
	s.wg.Add(1)
	defer s.wg.Done()

	remote, _ := c.Locals("remote_addr").(string)

	b := NewBridge(c, s.dialer,
		WithSessionConfig(s.session),
		WithReadyTimeout(s.cfg.Realtime.ReadyTimeout),
		WithMetrics(s.metrics),
		WithRegistry(s.registry),
		WithEvents(s.events),
		WithRemoteAddr(remote),
		WithBridgeLogger(s.logger),
	)

	if err := b.Run(s.ctx); err != nil {
		s.logger.Warn("session ended with error", "session_id", b.ID(), "error", err)
	}
}

func (s *Server) handleEvents(c *websocket.Conn) {
	client := hub.NewClient(s.events, c)
	if client == nil {
		return
	}
	client.Run()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"version":  s.version,
		"sessions": s.registry.Count(),
	})
}

func (s *Server) handleSessions(c *fiber.Ctx) error {
	sessions, err := s.registry.List(c.UserContext())
	if err != nil {
		s.logger.Error("list sessions", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) handleTextToSpeech(c *fiber.Ctx) error {
	var req tts.SpeechRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Text is required"})
	}
	enc, err := tts.ParseEncoding(req.Format)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if s.speech == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": msgMissingAPIKey})
	}

	result, err := s.speech.Synthesize(c.UserContext(), req.Text,
		tts.WithSpeechVoice(req.Voice),
		tts.WithSpeechFormat(enc),
	)
	if err != nil {
		s.metrics.TTSRequests.WithLabelValues("error").Inc()
		s.logger.Error("speech synthesis failed", "error", err, "chars", len(req.Text))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	s.metrics.TTSRequests.WithLabelValues("ok").Inc()
	return c.JSON(tts.SpeechResponse{
		AudioContent: base64.StdEncoding.EncodeToString(result.Audio),
	})
}
