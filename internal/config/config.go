// Package config loads the broker's runtime configuration from the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every environment-tunable knob the broker reads at startup.
type Config struct {
	Port int `env:"PORT" envDefault:"8080"`

	// ClientInactivityTimeout is T_idle: a Session with no inbound frame and
	// no pong for longer than this is evicted by the sweep.
	ClientInactivityTimeout time.Duration `env:"CLIENT_INACTIVITY_TIMEOUT_MS" envDefault:"60000ms"`

	// WebsocketPingInterval is T_ping, the cadence of protocol-level pings.
	WebsocketPingInterval time.Duration `env:"WEBSOCKET_PING_INTERVAL_MS" envDefault:"20000ms"`

	// ClientCleanupInterval is T_sweep, the registry's sweep cadence.
	ClientCleanupInterval time.Duration `env:"CLIENT_CLEANUP_INTERVAL_MS" envDefault:"15000ms"`

	// RequestTimeout is T_request, bounding one dispatched HTTP->WS round trip.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT_MS" envDefault:"30000ms"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// JWTSigningKey, when set, switches the auth adapter to the
	// JWT-verifying provider (internal/auth.JWTProvider) instead of the
	// in-memory one.
	JWTSigningKey string `env:"WORLDBROKER_JWT_SIGNING_KEY"`

	// RedisAddr, when set, enables the Redis-backed quota store and the
	// distributed daily-reset job.
	RedisAddr string `env:"WORLDBROKER_REDIS_ADDR"`

	DailyQuota int `env:"WORLDBROKER_DAILY_QUOTA" envDefault:"10000"`
}

// ParseEnv loads a Config from the process environment, applying defaults
// for anything unset.
func ParseEnv() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("PORT must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.ClientInactivityTimeout <= 0 {
		return Config{}, fmt.Errorf("CLIENT_INACTIVITY_TIMEOUT_MS must be positive")
	}
	if cfg.WebsocketPingInterval <= 0 {
		return Config{}, fmt.Errorf("WEBSOCKET_PING_INTERVAL_MS must be positive")
	}
	if cfg.ClientCleanupInterval <= 0 {
		return Config{}, fmt.Errorf("CLIENT_CLEANUP_INTERVAL_MS must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		return Config{}, fmt.Errorf("REQUEST_TIMEOUT_MS must be positive")
	}
	return cfg, nil
}
