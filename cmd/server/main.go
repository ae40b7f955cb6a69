package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/sensorbridge/internal/adapter/httpserver"
	"github.com/pscheid92/sensorbridge/internal/adapter/metrics"
	"github.com/pscheid92/sensorbridge/internal/adapter/upstream"
	"github.com/pscheid92/sensorbridge/internal/app"
	"github.com/pscheid92/sensorbridge/internal/broadcast"
	"github.com/pscheid92/sensorbridge/internal/domain"
	"github.com/pscheid92/sensorbridge/internal/platform/config"
	"github.com/pscheid92/sensorbridge/internal/platform/logging"
	"github.com/pscheid92/sensorbridge/internal/platform/version"
	"github.com/pscheid92/sensorbridge/internal/source"
)

// The scheduler is considered stalled after this many missed poll windows.
const staleTickFactor = 20

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

type sourceSet struct {
	registry    *source.Registry
	subscribers []app.Subscriber
	feeds       []domain.Feed
	checks      []httpserver.HealthCheck
}

func (s *sourceSet) close() {
	for _, f := range s.feeds {
		if err := f.Close(); err != nil {
			slog.Warn("Failed to close feed", "error", err)
		}
	}
}

// setupSources builds the registry and one subscriber per configured source.
// Misconfiguration is fatal; an unreachable broker is not.
func setupSources(specs []domain.SourceSpec, clock clockwork.Clock, reg prometheus.Registerer) (*sourceSet, error) {
	sourceMetrics := metrics.NewSourceMetrics(reg)
	redisMetrics := metrics.NewRedisMetrics(reg)

	registry, err := source.NewRegistry(specs, clock, sourceMetrics)
	if err != nil {
		return nil, fmt.Errorf("build source registry: %w", err)
	}

	set := &sourceSet{registry: registry}
	for _, spec := range specs {
		feed, err := upstream.NewFeed(spec, redisMetrics)
		if err != nil {
			set.close()
			return nil, err
		}
		set.feeds = append(set.feeds, feed)

		sub, err := source.NewSubscriber(spec, feed, registry, source.WithMetrics(sourceMetrics))
		if err != nil {
			set.close()
			return nil, fmt.Errorf("source %s: %w", spec.ID, err)
		}
		set.subscribers = append(set.subscribers, sub)
		set.checks = append(set.checks, httpserver.HealthCheck{Name: "source:" + string(spec.ID), Check: sub.Ping})

		slog.Info("Source configured", "source", spec.ID, "endpoint", spec.Endpoint, "format", spec.Format)
	}
	return set, nil
}

func runGracefulShutdown(cfg *config.Config, srv *httpserver.Server, bridge *app.Bridge) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		bridge.Stop(cfg.ShutdownTimeout)
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	specs, err := cfg.SourceSpecs()
	if err != nil {
		slog.Error("Invalid source configuration", "error", err)
		os.Exit(1)
	}

	overflow, err := broadcast.ParseOverflowPolicy(cfg.OverflowPolicy)
	if err != nil {
		slog.Error("Invalid overflow policy", "error", err)
		os.Exit(1)
	}

	reg := metrics.NewRegistry()

	sources, err := setupSources(specs, clock, reg)
	if err != nil {
		slog.Error("Failed to set up sources", "error", err)
		os.Exit(1)
	}
	defer sources.close()

	wsMetrics := metrics.NewWebSocketMetrics(reg)
	hub := broadcast.NewHub(broadcast.Config{
		MaxClients:   cfg.MaxWebSocketConnections,
		ClientBuffer: cfg.ClientBuffer,
		Overflow:     overflow,
	}, clock, wsMetrics)

	scheduler := app.NewScheduler(sources.registry, hub, clock, cfg.PollTimeout, cfg.TickYield, metrics.NewSchedulerMetrics(reg))
	bridge := app.NewBridge(sources.subscribers, scheduler, hub)

	checks := append(sources.checks, httpserver.HealthCheck{
		Name: "scheduler",
		Check: func(context.Context) error {
			return scheduler.CheckFresh(staleTickFactor * cfg.PollTimeout)
		},
	})

	srv := httpserver.NewServer(cfg, httpserver.Deps{
		Hub:          hub,
		Sources:      sources.registry,
		Registry:     reg,
		WSMetrics:    wsMetrics,
		HealthChecks: checks,
		Clock:        clock,
		Scheduler:    scheduler,
	})

	bridge.Start(context.Background())
	done := runGracefulShutdown(cfg, srv, bridge)

	if err := srv.Start(); err != nil {
		slog.Error("Server error", "error", err)
		bridge.Stop(cfg.ShutdownTimeout)
		sources.close()
		os.Exit(1)
	}

	<-done
}
