// Package api provides the HTTP server for pestwatch: image upload
// detection, on-demand detection of the newest camera record, and the
// annotated image mount.
package api

import (
	"fmt"
	"net"
	"time"

	"github.com/hydroguard/pestwatch/internal/api/middleware"
	"github.com/hydroguard/pestwatch/internal/conf"
	"github.com/hydroguard/pestwatch/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = "8001"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "20M"
	DefaultBanner          = "API Model AI Next-Gen Hydroponics"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host      string
	Port      string
	PublicURL string // origin used in photo URLs; empty derives it per request
	Banner    string

	AllowedOrigins []string
	BodyLimit      string // echo size notation, e.g. "20M"

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RateLimitEnabled bool
	RateLimit        middleware.RateLimitConfig

	MetricsPath string // empty disables the exposition route
	Version     string
	Debug       bool
}

// DefaultConfig returns a Config with the service defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:             DefaultHost,
		Port:             DefaultPort,
		Banner:           DefaultBanner,
		AllowedOrigins:   middleware.DefaultAllowedOrigins,
		BodyLimit:        DefaultBodyLimit,
		ReadTimeout:      DefaultReadTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		IdleTimeout:      DefaultIdleTimeout,
		ShutdownTimeout:  DefaultShutdownTimeout,
		RateLimitEnabled: true,
		RateLimit:        middleware.RateLimitConfig{Requests: 100, Window: time.Minute},
		MetricsPath:      "/metrics",
	}
}

// ConfigFromSettings creates a Config from the application settings. Zero
// values keep the defaults.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	ws := settings.WebServer

	if ws.Host != "" {
		cfg.Host = ws.Host
	}
	if ws.Port != "" {
		cfg.Port = ws.Port
	}
	cfg.PublicURL = ws.PublicURL
	if settings.Main.Banner != "" {
		cfg.Banner = settings.Main.Banner
	}
	if len(ws.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = ws.AllowedOrigins
	}
	if ws.BodyLimit != "" {
		cfg.BodyLimit = ws.BodyLimit
	}
	if ws.ReadTimeout > 0 {
		cfg.ReadTimeout = ws.ReadTimeout
	}
	if ws.WriteTimeout > 0 {
		cfg.WriteTimeout = ws.WriteTimeout
	}
	if ws.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = ws.ShutdownTimeout
	}

	cfg.RateLimitEnabled = ws.RateLimit.Enabled
	if ws.RateLimit.Requests > 0 {
		cfg.RateLimit.Requests = ws.RateLimit.Requests
	}
	if ws.RateLimit.Window > 0 {
		cfg.RateLimit.Window = ws.RateLimit.Window
	}

	cfg.MetricsPath = ""
	if settings.Telemetry.Enabled {
		cfg.MetricsPath = settings.Telemetry.Path
		if cfg.MetricsPath == "" {
			cfg.MetricsPath = "/metrics"
		}
	}

	cfg.Version = settings.Version
	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.RateLimitEnabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit needs positive requests and window")
	}
	return nil
}

// Address returns the full address string for the server to listen on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	rl := "disabled"
	if c.RateLimitEnabled {
		rl = fmt.Sprintf("%d/%s", c.RateLimit.Requests, c.RateLimit.Window)
	}
	return fmt.Sprintf("Server Config: address=%s, ratelimit=%s, debug=%v", c.Address(), rl, c.Debug)
}
