package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/sensorbridge/internal/platform/correlation"
	apperrors "github.com/pscheid92/sensorbridge/internal/platform/errors"
)

const (
	readLimit      = 4096
	rejectOrigin   = "origin"
	rejectUpgrade  = "upgrade_failed"
	rejectRegister = "register_failed"
)

// handleWebSocket upgrades, registers the session with the hub and then
// drains inbound frames until the peer goes away. Client payloads are ignored.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	ok, reason := s.limits.Acquire(ip)
	if !ok {
		s.wsMetrics.Rejected.WithLabelValues(string(reason)).Inc()
		slog.WarnContext(c.Request().Context(), "WebSocket connection rejected", "remote_ip", ip, "reason", reason)
		return c.JSON(http.StatusTooManyRequests, map[string]string{
			"error":  "connection limit exceeded",
			"reason": string(reason),
		})
	}
	defer s.limits.Release(ip)

	if !s.upgrader.CheckOrigin(c.Request()) {
		s.wsMetrics.Rejected.WithLabelValues(rejectOrigin).Inc()
		return apperrors.ValidationError("origin not allowed").WithContext("origin", c.Request().Header.Get("Origin"))
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.wsMetrics.Rejected.WithLabelValues(rejectUpgrade).Inc()
		slog.DebugContext(c.Request().Context(), "WebSocket upgrade failed", "remote_ip", ip, "error", err)
		return nil
	}

	id, err := s.hub.Register(conn, c.Request().RemoteAddr)
	if err != nil {
		s.wsMetrics.Rejected.WithLabelValues(rejectRegister).Inc()
		slog.WarnContext(c.Request().Context(), "WebSocket register failed", "remote_ip", ip, "error", err)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"))
		if cerr := conn.Close(); cerr != nil {
			return fmt.Errorf("failed to close rejected connection: %w", cerr)
		}
		return nil
	}

	ctx := correlation.WithID(c.Request().Context(), id.String()[:8])
	slog.InfoContext(ctx, "WebSocket session opened", "session_id", id, "remote_ip", ip)

	conn.SetReadLimit(readLimit)
	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.DebugContext(ctx, "WebSocket read ended", "session_id", id, "error", err)
			}
			break
		}
	}

	s.hub.Unregister(id)
	slog.InfoContext(ctx, "WebSocket session closed", "session_id", id)
	return nil
}
