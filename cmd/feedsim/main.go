// Command feedsim publishes synthetic detection, lidar or imu documents to a
// source endpoint, for running the bridge without real sensors.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/sensorbridge/internal/adapter/upstream"
	"github.com/pscheid92/sensorbridge/internal/domain"
	"github.com/pscheid92/sensorbridge/internal/platform/logging"
)

type options struct {
	kind         string
	endpoint     string
	format       domain.Format
	interval     time.Duration
	count        uint64
	garbageEvery uint64
	seed         uint64
}

func main() {
	var (
		kind         = flag.String("kind", "lidar", "Document kind: detection, lidar or imu")
		endpoint     = flag.String("endpoint", "nats://localhost:4222/lidar", "Source endpoint (nats://, redis://, mqtt://)")
		format       = flag.String("format", "json", "Wire format: json or msgpack")
		rate         = flag.Float64("rate", 10, "Messages per second")
		count        = flag.Uint64("count", 0, "Stop after this many messages (0 = run until interrupted)")
		garbageEvery = flag.Uint64("garbage-every", 0, "Replace every Nth message with an undecodable frame (0 = never)")
		seed         = flag.Uint64("seed", 1, "Random seed")
		verbose      = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	logging.InitLogger(level, "text")

	f, err := domain.ParseFormat(*format)
	if err != nil {
		log.Fatalf("Invalid format: %v", err)
	}
	if _, ok := generators[*kind]; !ok {
		log.Fatalf("Unknown kind %q", *kind)
	}
	if *rate <= 0 {
		log.Fatal("Rate must be positive")
	}

	opts := options{
		kind:         *kind,
		endpoint:     *endpoint,
		format:       f,
		interval:     time.Duration(float64(time.Second) / *rate),
		count:        *count,
		garbageEvery: *garbageEvery,
		seed:         *seed,
	}

	pub, err := upstream.NewPublisher(opts.endpoint, domain.SourceID(opts.kind))
	if err != nil {
		log.Fatalf("Failed to create publisher: %v", err)
	}
	defer func() { _ = pub.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Publishing", "kind", opts.kind, "endpoint", opts.endpoint, "format", opts.format, "interval", opts.interval)
	sent, err := run(ctx, pub, clockwork.NewRealClock(), opts)
	if err != nil {
		slog.Error("Publishing stopped", "sent", sent, "error", err)
		os.Exit(1)
	}
	slog.Info("Done", "sent", sent)
}

// run publishes until ctx ends or opts.count messages went out. Publish
// failures are logged and skipped; the broker connection reconnects on its own.
func run(ctx context.Context, pub domain.Publisher, clock clockwork.Clock, opts options) (uint64, error) {
	gen, ok := generators[opts.kind]
	if !ok {
		return 0, fmt.Errorf("unknown kind %q", opts.kind)
	}
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed))

	ticker := clock.NewTicker(opts.interval)
	defer ticker.Stop()

	var n uint64
	for opts.count == 0 || n < opts.count {
		n++

		frame := garbageFrame
		if opts.garbageEvery == 0 || n%opts.garbageEvery != 0 {
			var err error
			frame, err = encode(gen(n, clock.Now(), rng), opts.format)
			if err != nil {
				return n - 1, err
			}
		}

		if err := pub.Publish(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return n - 1, nil
			}
			slog.Warn("Publish failed", "seq", n, "error", err)
		} else {
			slog.Debug("Published", "seq", n, "bytes", len(frame))
		}

		if opts.count != 0 && n >= opts.count {
			break
		}
		select {
		case <-ctx.Done():
			return n, nil
		case <-ticker.Chan():
		}
	}
	return n, nil
}
