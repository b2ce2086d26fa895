// Package web serves the camel beauty HTTP API and a live event feed.
package web

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-camelbeauty/pkg/hub"
	"github.com/teslashibe/go-camelbeauty/pkg/pipeline"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "CamelBeauty ML API"

// Runner runs inference on decoded RGB images. *pipeline.Context implements it.
type Runner interface {
	RunSingle(ctx context.Context, img gocv.Mat) (*pipeline.Result, error)
	RunBatch(ctx context.Context, imgs []gocv.Mat) ([]pipeline.Ranked, error)
}

// Config holds server settings.
type Config struct {
	Port        string
	MaxUploadMB int

	// Models is reported as-is by GET /api/v1/config/models.
	Models map[string]string

	// AccessLog enables the per-request log line.
	AccessLog bool

	Logger *slog.Logger
}

// Server is the HTTP API server
type Server struct {
	app    *fiber.App
	cfg    Config
	runner Runner
	events *hub.Hub
	logger *slog.Logger

	// notify replaces hub publishing when set
	notify func(Event)
}

// NewServer creates a server backed by runner.
func NewServer(runner Runner, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxUploadMB < 1 {
		cfg.MaxUploadMB = 32
	}

	s := &Server{
		cfg:    cfg,
		runner: runner,
		events: hub.New("events"),
		logger: cfg.Logger.With("component", "web"),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               ServiceName,
		DisableStartupMessage: true,
		BodyLimit:             cfg.MaxUploadMB << 20,
	})
	s.app.Use(recover.New())
	s.app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	if cfg.AccessLog {
		s.app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${latency} ${method} ${path} ${respHeader:X-Request-ID}\n",
		}))
	}
	s.app.Use(cors.New())

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)

	api := s.app.Group("/api/v1")
	api.Get("/config/models", s.handleModels)
	api.Post("/detect/single", s.handleDetectSingle)
	api.Post("/detect/batch", s.handleDetectBatch)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws/events", websocket.New(s.handleEventsWS))
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Events returns the hub that receives one message per completed inference.
func (s *Server) Events() *hub.Hub {
	return s.events
}

// Start runs the event hub and serves until Shutdown is called or the
// listener fails. The hub stops when ctx is done.
func (s *Server) Start(ctx context.Context) error {
	go s.events.Run(ctx)

	addr := fmt.Sprintf(":%s", s.cfg.Port)
	s.logger.Info("listening", "addr", addr, "max_upload_mb", s.cfg.MaxUploadMB)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleEventsWS(c *websocket.Conn) {
	hub.NewClient(s.events, c).Run()
}
