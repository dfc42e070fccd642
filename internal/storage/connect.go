package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// ConnectConfig controls the retry behavior when establishing the
// database connection at startup.
type ConnectConfig struct {
	// MaxRetries is the total number of connection attempts.
	MaxRetries int
	// InitialDelay is the delay after the first failed attempt.
	InitialDelay time.Duration
	// MaxDelay caps the exponentially growing delay.
	MaxDelay time.Duration
}

// DefaultConnectConfig returns the default retry configuration:
// 5 attempts starting at 500ms, delay doubling up to 5s.
func DefaultConnectConfig() ConnectConfig {
	return ConnectConfig{
		MaxRetries:   5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

// Backoff returns the backoff schedule implied by the config: the delay
// doubles each attempt, capped at MaxDelay.
func (c ConnectConfig) Backoff() retry.Backoff {
	return retry.WithCappedDuration(c.MaxDelay, retry.NewExponential(c.InitialDelay))
}

// OpenWithRetry opens the SQLite store, retrying transient failures
// (locked database file, filesystem lag) with exponential backoff.
// The final error is returned once MaxRetries attempts have failed;
// the caller cannot run without the store and should treat it as fatal.
func OpenWithRetry(ctx context.Context, dsn string, cfg ConnectConfig, log *slog.Logger) (*SQLite, error) {
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("connect config: MaxRetries must be at least 1, got %d", cfg.MaxRetries)
	}

	backoff := retry.WithMaxRetries(uint64(cfg.MaxRetries-1), cfg.Backoff())

	var store *SQLite
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		s, err := NewSQLite(dsn, log)
		if err != nil {
			log.Warn("database connection attempt failed",
				"attempt", attempt, "max_retries", cfg.MaxRetries, "error", err)
			return retry.RetryableError(err)
		}
		store = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database after %d attempt(s): %w", attempt, err)
	}

	if attempt > 1 {
		log.Info("database connection successful", "attempts", attempt)
	}
	return store, nil
}
