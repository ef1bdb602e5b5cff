// Package config loads service settings from environment variables.
package config

import (
	"errors"
	"os"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	Port            string
	DatabaseURL     string // empty → in-memory store
	RedisURL        string // empty → no cache layer
	CacheTTL        time.Duration
	LogLevel        string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	cacheTTL, err := parseDuration("CACHE_TTL", "30s")
	if err != nil {
		return nil, errors.New("invalid CACHE_TTL")
	}

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "5s")
	if err != nil {
		return nil, errors.New("invalid SHUTDOWN_TIMEOUT")
	}

	cfg := &Config{
		Port:            envOrDefault("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		CacheTTL:        cacheTTL,
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		ShutdownTimeout: shutdownTimeout,
	}

	if cfg.RedisURL != "" && cfg.DatabaseURL == "" {
		return nil, errors.New("REDIS_URL requires DATABASE_URL (cache wraps the database store)")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, errors.New("invalid duration")
	}
	return d, nil
}
