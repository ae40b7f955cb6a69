// Package httpserver serves the downstream WebSocket endpoint plus health,
// version, metrics and read-only source inspection routes.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/sensorbridge/internal/adapter/metrics"
	"github.com/pscheid92/sensorbridge/internal/app"
	"github.com/pscheid92/sensorbridge/internal/domain"
	"github.com/pscheid92/sensorbridge/internal/platform/config"
	"golang.org/x/sync/singleflight"
)

// LivenessMessage is the body of GET /.
const LivenessMessage = "Telemetry bridge is running."

type hubService interface {
	Register(conn *websocket.Conn, remoteAddr string) (uuid.UUID, error)
	Unregister(id uuid.UUID)
	ClientCount() int
}

type sourceService interface {
	Statuses() []domain.SourceStatus
	Status(id domain.SourceID) (domain.SourceStatus, error)
	Snapshot(seq uint64, now time.Time) domain.MergedSnapshot
}

type schedulerService interface {
	Stats() app.SchedulerStats
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	hub       hubService
	sources   sourceService
	scheduler schedulerService

	upgrader     websocket.Upgrader
	limits       *ConnectionLimits
	wsMetrics    *metrics.WebSocketMetrics
	httpMetrics  *metrics.HTTPMetrics
	registry     *prometheus.Registry
	healthChecks []HealthCheck
	probes       singleflight.Group
	startTime    time.Time
}

// Deps groups the collaborators the server fronts.
type Deps struct {
	Hub          hubService
	Sources      sourceService
	Registry     *prometheus.Registry
	WSMetrics    *metrics.WebSocketMetrics
	HealthChecks []HealthCheck
	Clock        clockwork.Clock
	// Scheduler is optional; when set its counters appear on /health/live.
	Scheduler schedulerService
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	registry := deps.Registry
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	wsMetrics := deps.WSMetrics
	if wsMetrics == nil {
		wsMetrics = metrics.NewWebSocketMetrics(prometheus.NewRegistry())
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:      e,
		config:    cfg,
		clock:     clock,
		hub:       deps.Hub,
		sources:   deps.Sources,
		scheduler: deps.Scheduler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewCheckOrigin(cfg.Origins()),
		},
		limits: NewConnectionLimits(clock, int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP,
			cfg.ConnectionRate, cfg.ConnectionBurst),
		wsMetrics:    wsMetrics,
		httpMetrics:  metrics.NewHTTPMetrics(registry),
		registry:     registry,
		healthChecks: deps.HealthChecks,
		startTime:    clock.Now(),
	}

	srv.registerRoutes()
	return srv
}

// Start blocks serving on the configured port. Failing to bind is the only
// error it reports; a clean shutdown returns nil.
func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}
