package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"captiongen/config"
	"captiongen/session"
	"captiongen/transcribe"
)

// AudioExtractor demuxes and re-encodes the audio track of a video file,
// returning the path of the produced artifact.
type AudioExtractor interface {
	Extract(ctx context.Context, videoPath string) (string, error)
}

// Server wires the upload/extract/transcribe/deliver pipeline behind a
// Fiber app. Each stage is user-gated: nothing runs until the browser asks.
type Server struct {
	app         *fiber.App
	cfg         *config.Config
	store       session.Store
	extractor   AudioExtractor
	transcriber transcribe.Transcriber
	hub         *Hub
	logger      *slog.Logger
}

func New(cfg *config.Config, store session.Store, extractor AudioExtractor, transcriber transcribe.Transcriber, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	app := fiber.New(fiber.Config{
		AppName:               "captiongen",
		BodyLimit:             cfg.Server.BodyLimitMB << 20,
		DisableStartupMessage: true,
	})

	s := &Server{
		app:         app,
		cfg:         cfg,
		store:       store,
		extractor:   extractor,
		transcriber: transcriber,
		hub:         NewHub(),
		logger:      logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Use(s.requestLogger)

	s.app.Get("/", s.handleIndex)

	api := s.app.Group("/api")
	api.Post("/sessions", s.handleUpload)
	api.Get("/sessions/current", s.handleCurrent)
	api.Get("/sessions/:id", s.handleGet)
	api.Post("/sessions/:id/format", s.handleFormat)
	api.Post("/sessions/:id/extract", s.handleExtract)
	api.Post("/sessions/:id/transcribe", s.handleTranscribe)
	api.Post("/sessions/:id/back", s.handleBack)
	api.Put("/sessions/:id/transcript", s.handleEditTranscript)
	api.Get("/sessions/:id/audio", s.handleAudio)
	api.Get("/sessions/:id/download", s.handleDownload)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws/:id", websocket.New(s.handleEvents))
}

// App exposes the fiber app for tests and custom listeners.
func (s *Server) App() *fiber.App { return s.app }

// Hub exposes the progress hub; the CLI health probe and tests use it.
func (s *Server) Hub() *Hub { return s.hub }

// Listen blocks serving on addr.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Info("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration", time.Since(start),
	)
	return err
}
