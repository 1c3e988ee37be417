// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes the engine over HTTP: an SSE stream, a WebSocket
// stream, a routing-only endpoint, health, and Prometheus metrics.
package server

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/events"
	"github.com/pdiddy/evidence-engine/internal/logging"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Runner starts journeys. *engine.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, req types.Request) <-chan events.Envelope
}

// Classifier routes a query without running it. *router.Router satisfies it.
type Classifier interface {
	Route(ctx context.Context, q types.Query) (types.RouterDecision, error)
}

// maxReplayRequests bounds how many journeys keep events for resume.
const maxReplayRequests = 256

// Server is the fiber application wrapping a Runner.
type Server struct {
	app     *fiber.App
	runner  Runner
	router  Classifier
	history *events.History
	cfg     types.ServerConfig
	logger  *zap.Logger
}

// New builds the application and registers its routes.
func New(runner Runner, router Classifier, cfg types.ServerConfig, logger *zap.Logger) *Server {
	s := &Server{
		runner:  runner,
		router:  router,
		history: events.NewHistory(cfg.ReplayBuffer, maxReplayRequests),
		cfg:     cfg,
		logger:  logging.OrNop(logger),
	}
	s.app = fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(s.requestLogger)
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Last-Event-ID",
		AllowMethods:  "GET, POST, OPTIONS",
		ExposeHeaders: "X-Request-ID",
	}))

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().Unix()})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := s.app.Group("/v1")
	v1.Post("/ask", s.handleAsk)
	v1.Get("/ask/:id/events", s.handleResume)
	v1.Post("/route", s.handleRoute)
	v1.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	v1.Get("/ws", websocket.New(s.handleWS))
	return s
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr, or the configured address when addr is empty.
func (s *Server) Listen(addr string) error {
	if addr == "" {
		addr = s.cfg.Addr
	}
	s.logger.Info("server listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Info("request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("latency", time.Since(start)),
		zap.String("ip", c.IP()))
	return err
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal error"
	if fe, ok := err.(*fiber.Error); ok {
		code, msg = fe.Code, fe.Message
	} else {
		s.logger.Error("handler failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

// parseRequest decodes and validates an ask body.
func parseRequest(c *fiber.Ctx) (types.Request, error) {
	var req types.Request
	if err := c.BodyParser(&req); err != nil {
		return req, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return req, fiber.NewError(fiber.StatusBadRequest, "query is required")
	}
	return req, nil
}

type routeRequest struct {
	Query               string          `json:"query"`
	ConversationHistory []types.Message `json:"conversationHistory"`
	Language            string          `json:"language"`
}

func (s *Server) handleRoute(c *fiber.Ctx) error {
	if s.router == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "routing is not configured")
	}
	var req routeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "query is required")
	}
	q := types.Query{
		ID:         uuid.NewString(),
		Text:       strings.TrimSpace(req.Query),
		Language:   req.Language,
		History:    req.ConversationHistory,
		ReceivedAt: time.Now(),
	}
	d, err := s.router.Route(c.UserContext(), q)
	if err != nil {
		s.logger.Warn("routing failed", zap.String("request_id", q.ID), zap.Error(err))
		return fiber.NewError(fiber.StatusBadGateway, types.SafeMessage(err))
	}
	return c.JSON(d)
}
