// Package config loads StudyDeck offline-layer configuration from the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime configuration for the offline layer.
type Config struct {
	// DataDir is where the durable store keeps its database file.
	DataDir string `env:"STUDYDECK_DATA_DIR" envDefault:"./data"`

	// ListenAddr is the local HTTP address for the gateway and health endpoints.
	ListenAddr string `env:"STUDYDECK_LISTEN_ADDR" envDefault:"localhost:8970"`

	// RemoteBaseURL is the base URL of the remote task API.
	RemoteBaseURL string `env:"STUDYDECK_REMOTE_URL" envDefault:"https://api.studydeck.app"`

	// RealtimeURL is the websocket endpoint for change subscriptions.
	RealtimeURL string `env:"STUDYDECK_REALTIME_URL" envDefault:"wss://api.studydeck.app/realtime"`

	// CacheVersion names the live static/dynamic cache buckets.
	CacheVersion int `env:"STUDYDECK_CACHE_VERSION" envDefault:"4"`

	// StaleMaxAge bounds how old a cached record may grow before eviction.
	StaleMaxAge time.Duration `env:"STUDYDECK_STALE_MAX_AGE" envDefault:"4h"`

	// KeepAliveInterval is how often the supervisor pings the gateway.
	KeepAliveInterval time.Duration `env:"STUDYDECK_KEEPALIVE_INTERVAL" envDefault:"30s"`

	// PingTimeout bounds each keep-alive/health round-trip.
	PingTimeout time.Duration `env:"STUDYDECK_PING_TIMEOUT" envDefault:"3s"`

	// RegisterTimeout bounds a fresh gateway installation.
	RegisterTimeout time.Duration `env:"STUDYDECK_REGISTER_TIMEOUT" envDefault:"5s"`

	// SandboxHostPatterns lists hostname substrings that mark embedded preview
	// environments where the supervisor must stay inert.
	SandboxHostPatterns []string `env:"STUDYDECK_SANDBOX_HOSTS" envSeparator:"," envDefault:"webcontainer,stackblitz,csb.app"`
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
