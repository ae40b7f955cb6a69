package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pscheid92/sensorbridge/internal/adapter/metrics"
	"github.com/pscheid92/sensorbridge/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// Feed subscribes to one Pub/Sub channel. go-redis re-establishes the
// subscription on its own after a dropped connection.
type Feed struct {
	rdb     *goredis.Client
	channel string
}

var _ domain.Feed = (*Feed)(nil)

func NewFeed(endpoint string, id domain.SourceID, m *metrics.RedisMetrics) (*Feed, error) {
	ep, err := ParseEndpoint(endpoint, id)
	if err != nil {
		return nil, err
	}
	return &Feed{rdb: NewClient(ep, m), channel: ep.Channel}, nil
}

// Subscribe delivers every message published on the channel until ctx is done
// or the client is closed.
func (f *Feed) Subscribe(ctx context.Context, deliver func([]byte)) error {
	sub := f.rdb.Subscribe(ctx, f.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			slog.Debug("Redis unsubscribe failed", "channel", f.channel, "error", err)
		}
	}()

	// Wait for the subscription confirmation so connection errors surface here.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("subscribe %s: %w", f.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return domain.ErrFeedClosed
			}
			deliver([]byte(msg.Payload))
		}
	}
}

func (f *Feed) Ping(ctx context.Context) error { return ping(ctx, f.rdb) }
func (f *Feed) Close() error                   { return f.rdb.Close() }

// Publisher publishes documents to one channel.
type Publisher struct {
	rdb     *goredis.Client
	channel string
}

var _ domain.Publisher = (*Publisher)(nil)

func NewPublisher(endpoint string, id domain.SourceID) (*Publisher, error) {
	ep, err := ParseEndpoint(endpoint, id)
	if err != nil {
		return nil, err
	}
	return &Publisher{rdb: NewClient(ep, nil), channel: ep.Channel}, nil
}

func (p *Publisher) Publish(ctx context.Context, data []byte) error {
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}

func (p *Publisher) Close() error { return p.rdb.Close() }
