package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	Sources     string `env:"SOURCES" default:"detection=nats://localhost:4222/detection,lidar=nats://localhost:4222/lidar"`
	SourcesFile string `env:"SOURCES_FILE"`

	PollTimeout time.Duration `env:"POLL_TIMEOUT" default:"100ms"`
	TickYield   time.Duration `env:"TICK_YIELD" default:"10ms"`

	ClientBuffer            int     `env:"CLIENT_BUFFER" default:"4"`
	OverflowPolicy          string  `env:"OVERFLOW_POLICY" default:"drop-oldest"`
	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"1000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"50"`
	ConnectionRate          float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"20"`
	AllowedOrigins          string  `env:"ALLOWED_ORIGINS"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.PollTimeout <= 0 {
		return errors.New("POLL_TIMEOUT must be positive")
	}
	if cfg.TickYield < 0 {
		return errors.New("TICK_YIELD must not be negative")
	}
	if cfg.ClientBuffer < 1 {
		return errors.New("CLIENT_BUFFER must be at least 1")
	}
	switch cfg.OverflowPolicy {
	case "drop-oldest", "disconnect":
	default:
		return fmt.Errorf("OVERFLOW_POLICY must be drop-oldest or disconnect, got %q", cfg.OverflowPolicy)
	}
	if cfg.MaxWebSocketConnections < 1 || cfg.MaxConnectionsPerIP < 1 {
		return errors.New("MAX_WEBSOCKET_CONNECTIONS and MAX_CONNECTIONS_PER_IP must be at least 1")
	}
	if cfg.ConnectionRate <= 0 || cfg.ConnectionBurst < 1 {
		return errors.New("CONNECTION_RATE must be positive and CONNECTION_BURST at least 1")
	}

	if _, err := cfg.SourceSpecs(); err != nil {
		return err
	}
	return nil
}
