// Package redis connects sources to Redis Pub/Sub channels.
package redis

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pscheid92/sensorbridge/internal/adapter/metrics"
	"github.com/pscheid92/sensorbridge/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// Endpoint is a parsed redis://host:port/db?channel=<name> URL.
type Endpoint struct {
	Options *goredis.Options
	Channel string
}

// ParseEndpoint extracts the Pub/Sub channel and hands the remaining URL to
// go-redis. A missing channel falls back to the source id.
func ParseEndpoint(endpoint string, id domain.SourceID) (Endpoint, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse redis endpoint: %w", err)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return Endpoint{}, fmt.Errorf("not a redis endpoint: %q", endpoint)
	}

	q := u.Query()
	channel := strings.TrimSpace(q.Get("channel"))
	q.Del("channel")
	u.RawQuery = q.Encode()
	if channel == "" {
		channel = string(id)
	}

	opts, err := goredis.ParseURL(u.String())
	if err != nil {
		return Endpoint{}, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return Endpoint{Options: opts, Channel: channel}, nil
}

// NewClient creates a go-redis client for ep. Metrics are recorded when m is
// non-nil.
func NewClient(ep Endpoint, m *metrics.RedisMetrics) *goredis.Client {
	rdb := goredis.NewClient(ep.Options)
	if m != nil {
		rdb.AddHook(NewMetricsHook(m))
	}
	return rdb
}

func ping(ctx context.Context, rdb *goredis.Client) error {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
