// Package nats connects sources to NATS subjects.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	gonats "github.com/nats-io/nats.go"
	"github.com/pscheid92/sensorbridge/internal/domain"
)

const (
	reconnectWait  = 2 * time.Second
	connectTimeout = 5 * time.Second
	pingInterval   = 20 * time.Second
)

// Endpoint is a parsed nats://host:port/<subject> URL.
type Endpoint struct {
	ServerURL string
	Subject   string
}

// ParseEndpoint splits endpoint into server URL and subject. A missing
// subject falls back to the source id.
func ParseEndpoint(endpoint string, id domain.SourceID) (Endpoint, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse nats endpoint: %w", err)
	}
	if u.Scheme != "nats" || u.Host == "" {
		return Endpoint{}, fmt.Errorf("not a nats endpoint: %q", endpoint)
	}

	subject := strings.Trim(u.Path, "/")
	subject = strings.ReplaceAll(subject, "/", ".")
	if subject == "" {
		subject = string(id)
	}

	server := url.URL{Scheme: u.Scheme, User: u.User, Host: u.Host}
	return Endpoint{ServerURL: server.String(), Subject: subject}, nil
}

// conn wraps one NATS connection with reconnect-forever settings. The
// connection is usable immediately even if the server is down.
type conn struct {
	nc       *gonats.Conn
	endpoint Endpoint
	closed   chan struct{}
}

func dial(endpoint Endpoint, name string) (*conn, error) {
	c := &conn{endpoint: endpoint, closed: make(chan struct{})}

	nc, err := gonats.Connect(endpoint.ServerURL,
		gonats.Name(name),
		gonats.RetryOnFailedConnect(true),
		gonats.MaxReconnects(-1),
		gonats.ReconnectWait(reconnectWait),
		gonats.Timeout(connectTimeout),
		gonats.PingInterval(pingInterval),
		gonats.DisconnectErrHandler(func(_ *gonats.Conn, err error) {
			slog.Warn("NATS disconnected", "server", endpoint.ServerURL, "subject", endpoint.Subject, "error", err)
		}),
		gonats.ReconnectHandler(func(*gonats.Conn) {
			slog.Info("NATS reconnected", "server", endpoint.ServerURL, "subject", endpoint.Subject)
		}),
		gonats.ClosedHandler(func(*gonats.Conn) {
			close(c.closed)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", endpoint.ServerURL, err)
	}
	c.nc = nc
	return c, nil
}

func (c *conn) ping(ctx context.Context) error {
	if status := c.nc.Status(); status != gonats.CONNECTED {
		return fmt.Errorf("nats %s: %s", c.endpoint.ServerURL, status)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, connectTimeout)
		defer cancel()
	}
	if err := c.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

func (c *conn) close() error {
	c.nc.Close()
	return nil
}

// Feed subscribes to one subject.
type Feed struct {
	*conn
}

var _ domain.Feed = (*Feed)(nil)

func NewFeed(endpoint string, id domain.SourceID) (*Feed, error) {
	ep, err := ParseEndpoint(endpoint, id)
	if err != nil {
		return nil, err
	}
	c, err := dial(ep, "sensorbridge-"+string(id))
	if err != nil {
		return nil, err
	}
	return &Feed{conn: c}, nil
}

// Subscribe delivers every message on the subject until ctx is done or the
// connection is closed for good. Transient outages are handled by the client's
// reconnect logic and do not end the subscription.
func (f *Feed) Subscribe(ctx context.Context, deliver func([]byte)) error {
	sub, err := f.nc.Subscribe(f.endpoint.Subject, func(msg *gonats.Msg) {
		deliver(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", f.endpoint.Subject, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, gonats.ErrConnectionClosed) {
			slog.Debug("NATS unsubscribe failed", "subject", f.endpoint.Subject, "error", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.closed:
		return domain.ErrFeedClosed
	}
}

func (f *Feed) Ping(ctx context.Context) error { return f.ping(ctx) }
func (f *Feed) Close() error                   { return f.close() }

// Publisher sends documents to one subject.
type Publisher struct {
	*conn
}

var _ domain.Publisher = (*Publisher)(nil)

func NewPublisher(endpoint string, id domain.SourceID) (*Publisher, error) {
	ep, err := ParseEndpoint(endpoint, id)
	if err != nil {
		return nil, err
	}
	c, err := dial(ep, "sensorbridge-feedsim-"+string(id))
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: c}, nil
}

func (p *Publisher) Publish(_ context.Context, data []byte) error {
	if err := p.nc.Publish(p.endpoint.Subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.endpoint.Subject, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		return p.close()
	}
	return nil
}
