package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_RegisterOnSharedRegistry(t *testing.T) {
	reg := NewRegistry()

	require.NotPanics(t, func() {
		NewHTTPMetrics(reg)
		NewWebSocketMetrics(reg)
		NewSourceMetrics(reg)
		NewSchedulerMetrics(reg)
		NewRedisMetrics(reg)
	})

	// Registering the same set twice on one registry is a programming error.
	assert.Panics(t, func() { NewSchedulerMetrics(reg) })
}

func TestHandler_ServesNamespacedMetrics(t *testing.T) {
	reg := NewRegistry()
	m := NewSourceMetrics(reg)
	m.MessagesReceived.WithLabelValues("lidar").Add(3)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sensorbridge_source_messages_received_total{source="lidar"} 3`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHTTPMiddleware_RecordsRoutes(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/sources/:id", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/health/live", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	for _, path := range []string{"/api/sources/lidar", "/api/sources/imu", "/health/live"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.InDelta(t, 2, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/sources/:id", "200")), 0,
		"requests are labelled by route pattern, not raw path")
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestsTotal), "health probes are not recorded")
	assert.InDelta(t, 0, testutil.ToFloat64(m.InFlightGauge), 0)
}

func TestMetricNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	ws := NewWebSocketMetrics(reg)
	ws.ActiveConnections.Set(2)
	ws.Evictions.WithLabelValues("slow_client").Inc()

	expected := `
# HELP sensorbridge_websocket_active_connections Number of registered WebSocket sessions.
# TYPE sensorbridge_websocket_active_connections gauge
sensorbridge_websocket_active_connections 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "sensorbridge_websocket_active_connections"))
	assert.Equal(t, 1, testutil.CollectAndCount(ws.Evictions))
}
