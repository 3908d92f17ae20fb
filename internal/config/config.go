package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the requirements assistant backend.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL string

	FillerMode    string
	FillerHTTPURL string

	DefaultPattern  string
	MaxRetries      int
	BackoffBase     time.Duration
	PartialInterval time.Duration
	QueueCapacity   int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "bridgeai"),
		AllowAnyOrigin:   false,
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		FillerMode:       envOrDefault("CRS_FILLER_MODE", "auto"),
		FillerHTTPURL:    stringsTrimSpace("CRS_FILLER_HTTP_URL"),
		DefaultPattern:   envOrDefault("CRS_DEFAULT_PATTERN", "babok"),
		MaxRetries:       3,
		BackoffBase:      time.Second,
		// Partial document snapshots are throttled to roughly 10Hz so the
		// live UI is not flooded during streaming extraction.
		PartialInterval: 100 * time.Millisecond,
		QueueCapacity:   256,
		ShutdownTimeout: 15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxRetries, err = intFromEnv("CRS_MAX_RETRIES", cfg.MaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.BackoffBase, err = durationFromEnv("CRS_BACKOFF_BASE", cfg.BackoffBase)
	if err != nil {
		return Config{}, err
	}
	cfg.PartialInterval, err = durationFromEnv("CRS_PARTIAL_INTERVAL", cfg.PartialInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.QueueCapacity, err = intFromEnv("CRS_QUEUE_CAPACITY", cfg.QueueCapacity)
	if err != nil {
		return Config{}, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.FillerMode)) {
	case "auto", "http", "mock":
	default:
		return Config{}, fmt.Errorf("CRS_FILLER_MODE must be one of auto|http|mock, got %q", cfg.FillerMode)
	}
	if cfg.MaxRetries < 1 {
		return Config{}, fmt.Errorf("CRS_MAX_RETRIES must be at least 1")
	}
	if cfg.BackoffBase <= 0 {
		return Config{}, fmt.Errorf("CRS_BACKOFF_BASE must be positive")
	}
	if cfg.PartialInterval <= 0 {
		return Config{}, fmt.Errorf("CRS_PARTIAL_INTERVAL must be positive")
	}
	if cfg.QueueCapacity <= 0 {
		return Config{}, fmt.Errorf("CRS_QUEUE_CAPACITY must be positive")
	}
	if strings.TrimSpace(cfg.DefaultPattern) == "" {
		return Config{}, fmt.Errorf("CRS_DEFAULT_PATTERN must not be empty")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
