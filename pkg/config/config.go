package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds control-plane configuration.
type Config struct {
	DailyLimitCents   int64
	MonthlyLimitCents int64
	TrackerURL        string
	TrackerToken      string
	TrackerTimeout    time.Duration
	StorePath         string
	RedisAddr         string
	DatabaseURL       string
	OTLPEndpoint      string
	CheckTimeout      time.Duration
	LogLevel          string
}

// Load loads configuration from environment variables. Unset or malformed
// values fall back to defaults; the control plane must come up governable
// even on a bare environment.
func Load() *Config {
	return &Config{
		DailyLimitCents:   envInt64("GOVERN_DAILY_LIMIT", 10_000),
		MonthlyLimitCents: envInt64("GOVERN_MONTHLY_LIMIT", 300_000),
		TrackerURL:        os.Getenv("GOVERN_TRACKER_URL"),
		TrackerToken:      os.Getenv("GOVERN_TRACKER_TOKEN"),
		TrackerTimeout:    envDuration("GOVERN_TRACKER_TIMEOUT", 5*time.Second),
		StorePath:         envString("GOVERN_STORE_PATH", "govern.db"),
		RedisAddr:         os.Getenv("GOVERN_REDIS_ADDR"),
		DatabaseURL:       os.Getenv("GOVERN_DATABASE_URL"),
		OTLPEndpoint:      os.Getenv("GOVERN_OTLP_ENDPOINT"),
		CheckTimeout:      envDuration("GOVERN_CHECK_TIMEOUT", 10*time.Second),
		LogLevel:          envString("GOVERN_LOG_LEVEL", "INFO"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
