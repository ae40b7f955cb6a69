// Package upstream picks the transport adapter for a source endpoint by its
// URL scheme.
package upstream

import (
	"fmt"
	"net/url"

	"github.com/pscheid92/sensorbridge/internal/adapter/metrics"
	"github.com/pscheid92/sensorbridge/internal/adapter/mqtt"
	"github.com/pscheid92/sensorbridge/internal/adapter/nats"
	"github.com/pscheid92/sensorbridge/internal/adapter/redis"
	"github.com/pscheid92/sensorbridge/internal/domain"
)

func scheme(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	return u.Scheme, nil
}

// NewFeed opens a subscription-capable connection for spec. Redis clients
// report their commands on redisMetrics when it is non-nil.
func NewFeed(spec domain.SourceSpec, redisMetrics *metrics.RedisMetrics) (domain.Feed, error) {
	s, err := scheme(spec.Endpoint)
	if err != nil {
		return nil, err
	}

	switch s {
	case "nats":
		return nats.NewFeed(spec.Endpoint, spec.ID)
	case "redis", "rediss":
		return redis.NewFeed(spec.Endpoint, spec.ID, redisMetrics)
	case "mqtt":
		return mqtt.NewFeed(spec.Endpoint, spec.ID)
	default:
		return nil, fmt.Errorf("source %s: unsupported endpoint scheme %q", spec.ID, s)
	}
}

// NewPublisher opens a publishing connection to endpoint.
func NewPublisher(endpoint string, id domain.SourceID) (domain.Publisher, error) {
	s, err := scheme(endpoint)
	if err != nil {
		return nil, err
	}

	switch s {
	case "nats":
		return nats.NewPublisher(endpoint, id)
	case "redis", "rediss":
		return redis.NewPublisher(endpoint, id)
	case "mqtt":
		return mqtt.NewPublisher(endpoint, id)
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", s)
	}
}
