package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the streaming speech service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	SynthCommand    string
	SynthChunkBytes int
	DefaultVoiceID  string

	DatabaseURL        string
	ReportHistoryLimit int
	LatencyWindowSize  int

	WSWriteTimeout time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "voicewire"),
		AllowAnyOrigin:     false,
		SynthCommand:       trimmedEnv("SYNTH_COMMAND"),
		SynthChunkBytes:    8192,
		DefaultVoiceID:     envOrDefault("DEFAULT_VOICE_ID", "en"),
		DatabaseURL:        trimmedEnv("DATABASE_URL"),
		ReportHistoryLimit: 512,
		LatencyWindowSize:  256,
		ShutdownTimeout:    15 * time.Second,
		WSWriteTimeout:     10 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WSWriteTimeout, err = durationFromEnv("APP_WS_WRITE_TIMEOUT", cfg.WSWriteTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthChunkBytes, err = intFromEnv("SYNTH_CHUNK_BYTES", cfg.SynthChunkBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.ReportHistoryLimit, err = intFromEnv("REPORT_HISTORY_LIMIT", cfg.ReportHistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.LatencyWindowSize, err = intFromEnv("LATENCY_WINDOW_SIZE", cfg.LatencyWindowSize)
	if err != nil {
		return Config{}, err
	}

	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_WS_WRITE_TIMEOUT must be positive")
	}
	if cfg.SynthChunkBytes <= 0 || cfg.SynthChunkBytes > 1<<20 {
		return Config{}, fmt.Errorf("SYNTH_CHUNK_BYTES must be in (0, 1MiB]")
	}
	if cfg.ReportHistoryLimit <= 0 {
		return Config{}, fmt.Errorf("REPORT_HISTORY_LIMIT must be positive")
	}
	if cfg.LatencyWindowSize <= 0 {
		return Config{}, fmt.Errorf("LATENCY_WINDOW_SIZE must be positive")
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

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
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
	v := trimmedEnv(key)
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
	v := strings.ToLower(trimmedEnv(key))
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
