package upstream

import (
	"testing"

	"github.com/pscheid92/sensorbridge/internal/adapter/mqtt"
	"github.com/pscheid92/sensorbridge/internal/adapter/nats"
	"github.com/pscheid92/sensorbridge/internal/adapter/redis"
	"github.com/pscheid92/sensorbridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Unreachable brokers are fine here: every transport connects in the
// background and constructing a feed never dials synchronously.
func TestNewFeed_DispatchesOnScheme(t *testing.T) {
	tests := []struct {
		endpoint string
		want     any
	}{
		{"nats://127.0.0.1:1/lidar", &nats.Feed{}},
		{"redis://127.0.0.1:1/0?channel=lidar", &redis.Feed{}},
		{"mqtt://127.0.0.1:1/lidar", &mqtt.Feed{}},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			feed, err := NewFeed(domain.SourceSpec{ID: "lidar", Endpoint: tt.endpoint}, nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = feed.Close() })
			assert.IsType(t, tt.want, feed)
		})
	}
}

func TestNewFeed_UnsupportedScheme(t *testing.T) {
	_, err := NewFeed(domain.SourceSpec{ID: "cam", Endpoint: "tcp://127.0.0.1:5555"}, nil)
	assert.ErrorContains(t, err, `unsupported endpoint scheme "tcp"`)
}

func TestNewPublisher_UnsupportedScheme(t *testing.T) {
	_, err := NewPublisher("zmq://127.0.0.1:5555", "cam")
	assert.Error(t, err)
}
