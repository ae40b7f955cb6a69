package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/sensorbridge/internal/domain"
	apperrors "github.com/pscheid92/sensorbridge/internal/platform/errors"
)

func (s *Server) registerAPIRoutes() {
	api := s.echo.Group("/api", newRateLimiter(apiRatePerSecond, apiBurst))
	api.GET("/sources", s.handleListSources)
	api.GET("/sources/:id", s.handleGetSource)
	api.GET("/snapshot", s.handleSnapshot)
}

func (s *Server) handleListSources(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.sources.Statuses()); err != nil {
		return fmt.Errorf("failed to write sources response: %w", err)
	}
	return nil
}

func (s *Server) handleGetSource(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return apperrors.ValidationError("source id is required")
	}

	status, err := s.sources.Status(domain.SourceID(id))
	if err != nil {
		return apperrors.AsStructuredError(err).WithContext("source_id", id)
	}

	if err := c.JSON(http.StatusOK, status); err != nil {
		return fmt.Errorf("failed to write source response: %w", err)
	}
	return nil
}

// handleSnapshot builds the merged view on demand. It is not a broadcast and
// carries no sequence number.
func (s *Server) handleSnapshot(c echo.Context) error {
	snap := s.sources.Snapshot(0, s.clock.Now())
	body, err := snap.MarshalJSON()
	if err != nil {
		return apperrors.InternalError("failed to encode snapshot", err)
	}
	if err := c.JSONBlob(http.StatusOK, body); err != nil {
		return fmt.Errorf("failed to write snapshot response: %w", err)
	}
	return nil
}
