// Package server is the agent's local HTTP API: health, status, metrics,
// session control and the live point feed.
package server

import (
	"context"
	"time"

	"fieldtrack-agent/internal/auth"
	"fieldtrack-agent/internal/config"
	"fieldtrack-agent/internal/state"
	"fieldtrack-agent/internal/store"
	"fieldtrack-agent/internal/stream"
	"fieldtrack-agent/internal/syncer"
	"fieldtrack-agent/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const statusTimeout = 2 * time.Second

// SyncStatus is implemented by both uplink transports.
type SyncStatus interface {
	Status() syncer.Status
}

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	State    *state.Context
	Store    store.Store
	Sync     SyncStatus
	Tracking *tracking.Service
	Stream   *stream.Hub
}

// Status is the body of GET /status.
type Status struct {
	State   state.Snapshot   `json:"state"`
	Pending int              `json:"pending_points"`
	Summary tracking.Summary `json:"summary"`
	Sync    syncer.Status    `json:"sync"`
	Viewers int              `json:"viewers"`
}

func NewServer(cfg config.Config, sc *state.Context, st store.Store, sy SyncStatus, svc *tracking.Service, hub *stream.Hub) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	if cfg.DevMode {
		app.Use(fiberlogger.New())
	}

	if hub == nil {
		hub = stream.NewHub(nil)
	}
	s := &Server{
		App:      app,
		Cfg:      cfg,
		State:    sc,
		Store:    st,
		Sync:     sy,
		Tracking: svc,
		Stream:   hub,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.StatusJWTSecret)

	s.App.Get("/status", jwtMiddleware, func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
		defer cancel()
		status, err := s.status(ctx)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(status)
	})

	if s.Tracking != nil {
		tracking.RegisterRoutes(s.App.Group("/tracking"), s.Tracking, jwtMiddleware)
	}
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, jwtMiddleware)
}

func (s *Server) status(ctx context.Context) (Status, error) {
	out := Status{State: s.State.Snapshot(), Viewers: s.Stream.Viewers()}
	if s.Store != nil {
		n, err := s.Store.CountPending(ctx)
		if err != nil {
			return Status{}, err
		}
		out.Pending = n
	}
	if s.Tracking != nil {
		out.Summary = s.Tracking.Summary()
	}
	if s.Sync != nil {
		out.Sync = s.Sync.Status()
	}
	return out, nil
}
