// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Reddit's informal limit for unauthenticated clients is about 60
// requests per minute. The default stays well under it and the cap
// refuses configurations that would risk a ban.
const (
	defaultRateLimitPerMinute = 20
	maxRateLimitPerMinute     = 50
)

// Config holds the application configuration.
type Config struct {
	DatabasePath       string
	RateLimitPerMinute int
	UserAgent          string
	LogLevel           string
	RetentionDays      int

	DBMaxRetries   int
	DBInitialDelay time.Duration
	DBMaxDelay     time.Duration
}

// Load reads configuration from environment variables. A requested rate
// limit above the safety cap is silently lowered to the cap.
func Load() (*Config, error) {
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/notifier.db"
	}

	rate, err := intEnv("REDDIT_RATE_LIMIT_PER_MINUTE", defaultRateLimitPerMinute)
	if err != nil {
		return nil, err
	}
	if rate <= 0 {
		return nil, fmt.Errorf("REDDIT_RATE_LIMIT_PER_MINUTE must be positive, got %d", rate)
	}
	if rate > maxRateLimitPerMinute {
		rate = maxRateLimitPerMinute
	}

	userAgent := os.Getenv("REDDIT_USER_AGENT")
	if userAgent == "" {
		userAgent = "reddit-notifier (github.com/mandreko/reddit-notifier)"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	retentionDays, err := intEnv("RETENTION_DAYS", 30)
	if err != nil {
		return nil, err
	}
	if retentionDays < 0 {
		return nil, fmt.Errorf("RETENTION_DAYS must not be negative, got %d", retentionDays)
	}

	maxRetries, err := intEnv("DB_MAX_RETRIES", 5)
	if err != nil {
		return nil, err
	}
	if maxRetries < 1 {
		return nil, fmt.Errorf("DB_MAX_RETRIES must be at least 1, got %d", maxRetries)
	}
	initialDelayMS, err := intEnv("DB_INITIAL_DELAY_MS", 500)
	if err != nil {
		return nil, err
	}
	maxDelayMS, err := intEnv("DB_MAX_DELAY_MS", 5000)
	if err != nil {
		return nil, err
	}

	return &Config{
		DatabasePath:       dbPath,
		RateLimitPerMinute: rate,
		UserAgent:          userAgent,
		LogLevel:           logLevel,
		RetentionDays:      retentionDays,
		DBMaxRetries:       maxRetries,
		DBInitialDelay:     time.Duration(initialDelayMS) * time.Millisecond,
		DBMaxDelay:         time.Duration(maxDelayMS) * time.Millisecond,
	}, nil
}

// RefillInterval returns the token refill interval implied by the
// configured requests-per-minute rate.
func (c *Config) RefillInterval() time.Duration {
	return time.Minute / time.Duration(c.RateLimitPerMinute)
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q for %s: %w", raw, key, err)
	}
	return v, nil
}
