package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string
	Port        string
	LogLevel    string
	LogFormat   string

	// Store
	QueryTimeout        time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	// Editing sessions and caches
	SessionIdleTimeout time.Duration
	MapConfigCacheTTL  time.Duration

	// Auto-id counters; empty RedisAddr selects the scan allocator
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Plugin notifications
	NotifyRetryMax     int
	NotifyRetryBackoff time.Duration
	NotifyRPCTimeout   time.Duration
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	dsn, err := getEnvRequired("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		DatabaseURL:         dsn,
		Port:                getEnv("PORT", "8080"),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(getEnv("LOG_FORMAT", "json")),
		QueryTimeout:        getEnvDuration("QUERY_TIMEOUT", 5*time.Second),
		BreakerMaxFailures:  getEnvInt("BREAKER_MAX_FAILURES", 5),
		BreakerResetTimeout: getEnvDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
		SessionIdleTimeout:  getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		MapConfigCacheTTL:   getEnvDuration("MAP_CONFIG_CACHE_TTL", 30*time.Second),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		NotifyRetryMax:      getEnvInt("NOTIFY_RETRY_MAX", 3),
		NotifyRetryBackoff:  getEnvDuration("NOTIFY_RETRY_BACKOFF", 100*time.Millisecond),
		NotifyRPCTimeout:    getEnvDuration("NOTIFY_RPC_TIMEOUT", 5*time.Second),
	}
	if cfg.BreakerMaxFailures < 1 {
		return Config{}, fmt.Errorf("BREAKER_MAX_FAILURES must be at least 1, got %d", cfg.BreakerMaxFailures)
	}
	return cfg, nil
}

// Level maps LOG_LEVEL to a slog level; unknown values mean info.
func (c Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger builds the process logger: JSON unless LOG_FORMAT is "text".
func (c Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level()}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func getEnvRequired(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return v, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "error", err)
			return fallback
		}
		return n
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "error", err)
			return fallback
		}
		return d
	}
	return fallback
}
