package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the coordination engine.
type Config struct {
	ServerAddr string
	JWTSecret  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DatabaseURL string
	NatsURL     string

	// Trading window during which suppliers may open a market. Hours are
	// evaluated in the configured market timezone (default IST, UTC+5:30).
	MarketOpenHour    int
	MarketCloseHour   int
	MarketTZOffsetMin int

	MarketDuration   time.Duration
	ChatHistoryLimit int
}

// Load reads configuration from environment variables, applying defaults.
func Load() *Config {
	return &Config{
		ServerAddr:        GetEnv("SERVER_ADDR", ":8080"),
		JWTSecret:         GetEnv("JWT_SECRET", ""),
		RedisAddr:         GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     GetEnv("REDIS_PASSWORD", ""),
		RedisDB:           GetEnvInt("REDIS_DB", 0),
		DatabaseURL:       GetEnv("DATABASE_URL", "postgres://localhost:5432/sourcebazaar?sslmode=disable"),
		NatsURL:           GetEnv("NATS_URL", "nats://localhost:4222"),
		MarketOpenHour:    GetEnvInt("MARKET_OPEN_HOUR", 6),
		MarketCloseHour:   GetEnvInt("MARKET_CLOSE_HOUR", 18),
		MarketTZOffsetMin: GetEnvInt("MARKET_TZ_OFFSET_MIN", 330),
		MarketDuration:    GetEnvDuration("MARKET_DURATION", 10*time.Minute),
		ChatHistoryLimit:  GetEnvInt("CHAT_HISTORY_LIMIT", 50),
	}
}

// MarketLocation returns the timezone the trading window is evaluated in.
func (c *Config) MarketLocation() *time.Location {
	return time.FixedZone("market", c.MarketTZOffsetMin*60)
}

// GetEnv returns the value of an environment variable or a fallback.
func GetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// GetEnvInt returns an integer environment variable or a fallback.
func GetEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration returns a duration environment variable (e.g. "10m") or a fallback.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
