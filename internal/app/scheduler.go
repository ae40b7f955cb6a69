package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/sensorbridge/internal/adapter/metrics"
	"github.com/pscheid92/sensorbridge/internal/domain"
	"github.com/pscheid92/sensorbridge/internal/platform/correlation"
)

const (
	DefaultPollTimeout = 100 * time.Millisecond
	DefaultTickYield   = 10 * time.Millisecond

	triggerData    = "data"
	triggerTimeout = "timeout"
)

// SnapshotSource is the latest-value cache the scheduler reads from.
type SnapshotSource interface {
	Updates() <-chan struct{}
	Snapshot(seq uint64, now time.Time) domain.MergedSnapshot
}

// SnapshotSink receives each assembled snapshot.
type SnapshotSink interface {
	Broadcast(ctx context.Context, snap domain.MergedSnapshot) (int, error)
}

// SchedulerStats is a point-in-time view of the merge loop.
type SchedulerStats struct {
	Ticks        uint64    `json:"ticks"`
	Failures     uint64    `json:"failures"`
	LastTick     time.Time `json:"last_tick"`
	LastAttempts int64     `json:"last_attempts"`
}

// Scheduler drives the merge loop: wait for fresh data (bounded by the poll
// timeout), assemble a snapshot, hand it to the sink, yield, repeat. It
// broadcasts at least once per poll timeout even when every source is idle.
type Scheduler struct {
	source      SnapshotSource
	sink        SnapshotSink
	clock       clockwork.Clock
	pollTimeout time.Duration
	yield       time.Duration
	metrics     *metrics.SchedulerMetrics

	ticks        atomic.Uint64
	failures     atomic.Uint64
	lastTick     atomic.Int64
	lastAttempts atomic.Int64
}

func NewScheduler(source SnapshotSource, sink SnapshotSink, clock clockwork.Clock, pollTimeout, yield time.Duration, m *metrics.SchedulerMetrics) *Scheduler {
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	if yield < 0 {
		yield = DefaultTickYield
	}
	return &Scheduler{
		source:      source,
		sink:        sink,
		clock:       clock,
		pollTimeout: pollTimeout,
		yield:       yield,
		metrics:     m,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("Merge scheduler started", "poll_timeout", s.pollTimeout, "yield", s.yield)
	defer slog.Info("Merge scheduler stopped", "ticks", s.ticks.Load(), "failures", s.failures.Load())

	for {
		trigger, ok := s.wait(ctx)
		if !ok {
			return
		}

		s.tick(ctx, trigger)

		if s.yield > 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(s.yield):
			}
		}
	}
}

func (s *Scheduler) wait(ctx context.Context) (string, bool) {
	timer := s.clock.NewTimer(s.pollTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", false
	case <-s.source.Updates():
		return triggerData, true
	case <-timer.Chan():
		return triggerTimeout, true
	}
}

func (s *Scheduler) tick(ctx context.Context, trigger string) {
	seq := s.ticks.Add(1)
	tickCtx := correlation.WithID(ctx, correlation.NewID())
	start := s.clock.Now()

	attempts, err := s.step(tickCtx, seq, start)

	s.lastTick.Store(start.UnixNano())
	if s.metrics != nil {
		s.metrics.Ticks.WithLabelValues(trigger).Inc()
		s.metrics.TickDuration.Observe(s.clock.Since(start).Seconds())
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.failures.Add(1)
		if s.metrics != nil {
			s.metrics.TickFailures.Inc()
		}
		slog.ErrorContext(tickCtx, "Merge tick failed", "seq", seq, "trigger", trigger, "error", err)
		return
	}

	s.lastAttempts.Store(int64(attempts))
	slog.DebugContext(tickCtx, "Merge tick", "seq", seq, "trigger", trigger, "clients", attempts)
}

// step is one assemble-and-broadcast. Panics are converted to errors so a
// single bad tick never ends the loop.
func (s *Scheduler) step(ctx context.Context, seq uint64, now time.Time) (attempts int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in merge tick: %v", r)
		}
	}()

	snap := s.source.Snapshot(seq, now)
	return s.sink.Broadcast(ctx, snap)
}

// Stats returns counters for the health endpoints.
func (s *Scheduler) Stats() SchedulerStats {
	stats := SchedulerStats{
		Ticks:        s.ticks.Load(),
		Failures:     s.failures.Load(),
		LastAttempts: s.lastAttempts.Load(),
	}
	if ns := s.lastTick.Load(); ns != 0 {
		stats.LastTick = time.Unix(0, ns)
	}
	return stats
}

// ErrSchedulerStalled is returned by CheckFresh when no tick happened recently.
var ErrSchedulerStalled = errors.New("merge scheduler stalled")

// CheckFresh fails if the loop has not ticked within maxAge. Before the first
// tick it also fails, so startup probes wait for the loop to come up.
func (s *Scheduler) CheckFresh(maxAge time.Duration) error {
	ns := s.lastTick.Load()
	if ns == 0 {
		return fmt.Errorf("%w: no tick yet", ErrSchedulerStalled)
	}
	if age := s.clock.Since(time.Unix(0, ns)); age > maxAge {
		return fmt.Errorf("%w: last tick %v ago", ErrSchedulerStalled, age.Round(time.Millisecond))
	}
	return nil
}
