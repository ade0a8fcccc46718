// Package config centralizes environment variables and runtime parameters.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds connections, the HTTP port, and wave issuance parameters.
// Empty DatabaseURL selects the in-memory store; empty RedisURL and
// KafkaBrokers disable caching and event publishing.
type Config struct {
	Port         string
	DatabaseURL  string
	RedisURL     string
	KafkaBrokers string

	CacheTTL time.Duration

	Wave1Pool      decimal.Decimal
	Wave3Pool      decimal.Decimal
	ClawbackRate   decimal.Decimal
	ActivityWindow time.Duration
	DormancyWindow time.Duration
	TopN           int
}

// Load reads environment variables and applies defaults.
func Load() Config {
	return Config{
		Port:         getEnv("PORT", "8080"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		KafkaBrokers: getEnv("KAFKA_BROKERS", ""),

		CacheTTL: getDuration("CACHE_TTL", 30*time.Second),

		Wave1Pool:      getDecimal("WAVE1_POOL", decimal.NewFromInt(10000)),
		Wave3Pool:      getDecimal("WAVE3_POOL", decimal.NewFromInt(5000)),
		ClawbackRate:   getDecimal("WAVE2_CLAWBACK_RATE", decimal.NewFromFloat(0.10)),
		ActivityWindow: getDuration("WAVE_ACTIVITY_WINDOW", 7*24*time.Hour),
		DormancyWindow: getDuration("WAVE_DORMANCY_WINDOW", 30*24*time.Hour),
		TopN:           getInt("WAVE3_TOP_N", 10),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getDecimal(key string, def decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return def
}
