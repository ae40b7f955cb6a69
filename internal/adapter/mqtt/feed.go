// Package mqtt connects sources to MQTT topics.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pscheid92/sensorbridge/internal/domain"
)

const (
	connectRetryInterval = 2 * time.Second
	maxReconnectInterval = 30 * time.Second
	tokenTimeout         = 5 * time.Second
	disconnectQuiesce    = 250 // ms
)

var errAlreadySubscribed = errors.New("feed already has an active subscription")

// Endpoint is a parsed mqtt://host:port/<topic>?qos=N URL.
type Endpoint struct {
	Broker   string
	Topic    string
	QoS      byte
	Username string
	Password string
}

// ParseEndpoint converts endpoint into broker address and topic. A missing
// topic falls back to the source id; qos defaults to 0.
func ParseEndpoint(endpoint string, id domain.SourceID) (Endpoint, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse mqtt endpoint: %w", err)
	}
	if u.Scheme != "mqtt" || u.Host == "" {
		return Endpoint{}, fmt.Errorf("not an mqtt endpoint: %q", endpoint)
	}

	ep := Endpoint{
		Broker: "tcp://" + u.Host,
		Topic:  strings.Trim(u.Path, "/"),
	}
	if ep.Topic == "" {
		ep.Topic = string(id)
	}
	if raw := u.Query().Get("qos"); raw != "" {
		qos, err := strconv.Atoi(raw)
		if err != nil || qos < 0 || qos > 2 {
			return Endpoint{}, fmt.Errorf("invalid qos %q", raw)
		}
		ep.QoS = byte(qos)
	}
	if u.User != nil {
		ep.Username = u.User.Username()
		ep.Password, _ = u.User.Password()
	}
	return ep, nil
}

func clientOptions(ep Endpoint, clientID string) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(ep.Broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(connectRetryInterval)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetConnectTimeout(tokenTimeout)
	if ep.Username != "" {
		opts.SetUsername(ep.Username)
		opts.SetPassword(ep.Password)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		slog.Warn("MQTT connection lost, will auto-reconnect", "broker", ep.Broker, "topic", ep.Topic, "error", err)
	}
	return opts
}

func clientID(prefix string, id domain.SourceID) string {
	return fmt.Sprintf("%s-%s-%s", prefix, id, uuid.NewString()[:8])
}

func awaitToken(token paho.Token, what string) error {
	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("mqtt %s timeout", what)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt %s failed: %w", what, err)
	}
	return nil
}

// Feed subscribes to one topic. The subscription is re-issued on every
// (re)connect because the broker forgets it with a clean session.
type Feed struct {
	client   paho.Client
	endpoint Endpoint

	mu      sync.Mutex
	deliver func([]byte)

	closeOnce sync.Once
	closed    chan struct{}
}

var _ domain.Feed = (*Feed)(nil)

func NewFeed(endpoint string, id domain.SourceID) (*Feed, error) {
	ep, err := ParseEndpoint(endpoint, id)
	if err != nil {
		return nil, err
	}

	f := &Feed{endpoint: ep, closed: make(chan struct{})}
	opts := clientOptions(ep, clientID("sensorbridge", id))
	opts.OnConnect = func(paho.Client) {
		slog.Info("MQTT connection established", "broker", ep.Broker, "topic", ep.Topic)
		if f.subscribed() {
			if err := f.subscribe(); err != nil {
				slog.Error("MQTT resubscribe failed", "topic", ep.Topic, "error", err)
			}
		}
	}

	f.client = paho.NewClient(opts)
	// With connect retry enabled the token only completes once connected, so
	// it is not awaited.
	f.client.Connect()
	return f, nil
}

func (f *Feed) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deliver != nil
}

func (f *Feed) subscribe() error {
	token := f.client.Subscribe(f.endpoint.Topic, f.endpoint.QoS, func(_ paho.Client, msg paho.Message) {
		f.mu.Lock()
		deliver := f.deliver
		f.mu.Unlock()
		if deliver != nil {
			deliver(msg.Payload())
		}
	})
	return awaitToken(token, "subscribe "+f.endpoint.Topic)
}

// Subscribe delivers every message on the topic until ctx is done or the feed
// is closed.
func (f *Feed) Subscribe(ctx context.Context, deliver func([]byte)) error {
	f.mu.Lock()
	if f.deliver != nil {
		f.mu.Unlock()
		return errAlreadySubscribed
	}
	f.deliver = deliver
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.deliver = nil
		f.mu.Unlock()
		if f.client.IsConnectionOpen() {
			f.client.Unsubscribe(f.endpoint.Topic).WaitTimeout(tokenTimeout)
		}
	}()

	// Not yet connected: OnConnect subscribes once the broker is reachable.
	if f.client.IsConnectionOpen() {
		if err := f.subscribe(); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.closed:
		return domain.ErrFeedClosed
	}
}

func (f *Feed) Ping(context.Context) error {
	if !f.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt %s: not connected", f.endpoint.Broker)
	}
	return nil
}

func (f *Feed) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		f.client.Disconnect(disconnectQuiesce)
	})
	return nil
}

// Publisher publishes documents to one topic.
type Publisher struct {
	client   paho.Client
	endpoint Endpoint
}

var _ domain.Publisher = (*Publisher)(nil)

func NewPublisher(endpoint string, id domain.SourceID) (*Publisher, error) {
	ep, err := ParseEndpoint(endpoint, id)
	if err != nil {
		return nil, err
	}
	client := paho.NewClient(clientOptions(ep, clientID("sensorbridge-feedsim", id)))
	client.Connect()
	return &Publisher{client: client, endpoint: ep}, nil
}

func (p *Publisher) Publish(ctx context.Context, data []byte) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt %s: not connected", p.endpoint.Broker)
	}
	token := p.client.Publish(p.endpoint.Topic, p.endpoint.QoS, false, data)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", p.endpoint.Topic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) Close() error {
	p.client.Disconnect(disconnectQuiesce)
	return nil
}
