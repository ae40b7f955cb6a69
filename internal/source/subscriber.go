package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pscheid92/sensorbridge/internal/adapter/metrics"
	"github.com/pscheid92/sensorbridge/internal/domain"
	"github.com/pscheid92/sensorbridge/internal/platform/retry"
	"github.com/sony/gobreaker"
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultOpenBackoff    = 5 * time.Second
	defaultMaxBackoff     = 10 * time.Second
	defaultStableRun      = 30 * time.Second

	breakerFailureThreshold = 5
	breakerOpenTimeout      = 30 * time.Second
	breakerCountWindow      = time.Minute
)

// Subscriber keeps one source's cache entry current for the lifetime of the process.
type Subscriber struct {
	spec     domain.SourceSpec
	feed     domain.Feed
	decoder  *Decoder
	registry *Registry
	breaker  *gobreaker.CircuitBreaker
	policy   retry.Policy
	metrics  *metrics.SourceMetrics
}

// SubscriberOption customizes a Subscriber.
type SubscriberOption func(*Subscriber)

// WithRetryPolicy overrides the resubscribe backoff.
func WithRetryPolicy(p retry.Policy) SubscriberOption {
	return func(s *Subscriber) { s.policy = p }
}

// WithMetrics records resubscribe and breaker state metrics.
func WithMetrics(m *metrics.SourceMetrics) SubscriberOption {
	return func(s *Subscriber) { s.metrics = m }
}

// NewSubscriber wires a feed to the registry entry for spec.ID.
func NewSubscriber(spec domain.SourceSpec, feed domain.Feed, registry *Registry, opts ...SubscriberOption) (*Subscriber, error) {
	if _, err := registry.Status(spec.ID); err != nil {
		return nil, err
	}
	decoder, err := NewDecoder(spec)
	if err != nil {
		return nil, err
	}

	s := &Subscriber{
		spec:     spec,
		feed:     feed,
		decoder:  decoder,
		registry: registry,
		policy: retry.Policy{
			InitialBackoff:   defaultInitialBackoff,
			RateLimitBackoff: defaultOpenBackoff,
			MaxBackoff:       defaultMaxBackoff,
			ResetAfter:       defaultStableRun,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(spec.ID),
		MaxRequests: 1,
		Interval:    breakerCountWindow,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: s.onBreakerStateChange,
	})

	userOnRetry := s.policy.OnRetry
	s.policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Source subscription failed, retrying",
			"source", spec.ID, "attempt", attempt, "backoff", backoff, "error", err)
		if s.metrics != nil {
			s.metrics.Resubscribes.WithLabelValues(string(spec.ID)).Inc()
		}
		if userOnRetry != nil {
			userOnRetry(attempt, err, backoff)
		}
	}
	return s, nil
}

// ID returns the source this subscriber feeds.
func (s *Subscriber) ID() domain.SourceID { return s.spec.ID }

// Ping checks the underlying transport.
func (s *Subscriber) Ping(ctx context.Context) error { return s.feed.Ping(ctx) }

// Run subscribes and keeps resubscribing until ctx is done. It never returns an
// error: an unreachable source simply keeps its last value or placeholder.
func (s *Subscriber) Run(ctx context.Context) {
	slog.Info("Source subscriber started", "source", s.spec.ID, "endpoint", s.spec.Endpoint, "format", s.decoder.format)

	err := retry.DoVoid(ctx, s.policy, s.classify, func() error {
		_, err := s.breaker.Execute(func() (any, error) {
			return nil, s.subscribeOnce(ctx)
		})
		return err
	})
	if err != nil && ctx.Err() == nil {
		slog.Error("Source subscriber gave up", "source", s.spec.ID, "error", err)
		return
	}
	slog.Info("Source subscriber stopped", "source", s.spec.ID)
}

func (s *Subscriber) subscribeOnce(ctx context.Context) error {
	err := s.feed.Subscribe(ctx, s.deliver)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err == nil {
		return domain.ErrFeedClosed
	}
	return fmt.Errorf("subscribe %s: %w", s.spec.ID, err)
}

func (s *Subscriber) classify(err error) retry.Action {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retry.Stop
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return retry.After
	default:
		return retry.Retry
	}
}

func (s *Subscriber) deliver(raw []byte) {
	payload, err := s.decoder.Decode(raw)
	if err != nil {
		s.registry.RecordDecodeError(s.spec.ID)
		slog.Debug("Dropped undecodable message", "source", s.spec.ID, "bytes", len(raw), "error", err)
		return
	}
	if err := s.registry.Update(s.spec.ID, payload); err != nil {
		if errors.Is(err, domain.ErrDecode) {
			s.registry.RecordDecodeError(s.spec.ID)
			slog.Debug("Dropped undecodable message", "source", s.spec.ID, "bytes", len(raw), "error", err)
			return
		}
		slog.Error("Failed to cache message", "source", s.spec.ID, "error", err)
	}
}

func (s *Subscriber) onBreakerStateChange(name string, from, to gobreaker.State) {
	slog.Warn("Circuit breaker state changed", "component", "source", "source", name, "from", from.String(), "to", to.String())
	if s.metrics == nil {
		return
	}
	open := 0.0
	if to == gobreaker.StateOpen {
		open = 1
	}
	s.metrics.BreakerOpen.WithLabelValues(name).Set(open)
}
