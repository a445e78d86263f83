// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Fetch     FetchConfig
	Rewrite   RewriteConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds per-IP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// FetchConfig bounds the outbound request.
type FetchConfig struct {
	TimeoutSeconds   int    `envconfig:"FETCH_TIMEOUT_SECONDS" default:"12"`
	MaxBodyBytes     int64  `envconfig:"FETCH_MAX_BODY_BYTES" default:"2000000"`
	UserAgent        string `envconfig:"FETCH_USER_AGENT" default:""`
	SniffContentType bool   `envconfig:"FETCH_SNIFF_CONTENT_TYPE" default:"true"`

	// AllowLoopback exempts loopback addresses from SSRF blocking. Only
	// meant for local development against servers on this machine.
	AllowLoopback bool `envconfig:"FETCH_ALLOW_LOOPBACK" default:"false"`
}

// Timeout returns the fetch deadline as a duration.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// RewriteConfig holds HTML rewrite policy.
type RewriteConfig struct {
	KeepCSP        bool `envconfig:"REWRITE_KEEP_CSP" default:"false"`
	StripScripts   bool `envconfig:"REWRITE_STRIP_SCRIPTS" default:"false"`
	MaxTitleLength int  `envconfig:"REWRITE_MAX_TITLE_LENGTH" default:"140"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: "8000", Host: "0.0.0.0"},
		Logging: LogConfig{Level: "info"},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Fetch: FetchConfig{
			TimeoutSeconds:   12,
			MaxBodyBytes:     2_000_000,
			SniffContentType: true,
		},
		Rewrite: RewriteConfig{MaxTitleLength: 140},
	}
}
