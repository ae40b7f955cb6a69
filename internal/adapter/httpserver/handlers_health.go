package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/sensorbridge/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named health check function.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type probeResult struct {
	status int
	body   map[string]any
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	return s.runHealthChecks(c, "startup", startupProbeTimeout)
}

func (s *Server) handleReadiness(c echo.Context) error {
	return s.runHealthChecks(c, "ready", readinessProbeTimeout)
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status":  "ok",
		"uptime":  s.clock.Since(s.startTime).Seconds(),
		"clients": s.hub.ClientCount(),
	}
	if s.scheduler != nil {
		response["scheduler"] = s.scheduler.Stats()
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

// runHealthChecks collapses concurrent probes of the same kind into one run.
// The shared run is detached from any single request's context.
func (s *Server) runHealthChecks(c echo.Context, probe string, timeout time.Duration) error {
	v, _, _ := s.probes.Do(probe, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.checkAll(ctx), nil
	})
	res := v.(probeResult)

	if err := c.JSON(res.status, res.body); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) checkAll(ctx context.Context) probeResult {
	for _, hc := range s.healthChecks {
		if err := hc.Check(ctx); err != nil {
			return probeResult{
				status: http.StatusServiceUnavailable,
				body: map[string]any{
					"status":       "unhealthy",
					"failed_check": hc.Name,
					"error":        err.Error(),
				},
			}
		}
	}
	return probeResult{status: http.StatusOK, body: map[string]any{"status": "ready"}}
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
