package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pscheid92/sensorbridge/internal/domain"
)

// Subscriber keeps one source current until its context ends.
type Subscriber interface {
	ID() domain.SourceID
	Run(ctx context.Context)
}

// Hub is the downstream side the bridge shuts down last.
type Hub interface {
	SnapshotSink
	Stop()
}

// Bridge owns the long-running goroutines: one per source subscriber plus the
// merge scheduler. Subscribers and the scheduler share nothing but the registry.
type Bridge struct {
	subscribers []Subscriber
	scheduler   *Scheduler
	hub         Hub

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewBridge(subscribers []Subscriber, scheduler *Scheduler, hub Hub) *Bridge {
	return &Bridge{subscribers: subscribers, scheduler: scheduler, hub: hub}
}

// Start launches every subscriber and the scheduler. It returns immediately.
func (b *Bridge) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	for _, sub := range b.subscribers {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			sub.Run(ctx)
		}()
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.scheduler.Run(ctx)
	}()

	slog.Info("Bridge started", "sources", len(b.subscribers))
}

// Stop cancels all loops, waits up to timeout for them, then closes every client.
func (b *Bridge) Stop(timeout time.Duration) {
	b.once.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}

		done := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			slog.Warn("Bridge loops did not stop in time", "timeout", timeout)
		}

		b.hub.Stop()
		slog.Info("Bridge stopped")
	})
}
