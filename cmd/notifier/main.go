package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mandreko/reddit-notifier/internal/config"
	"github.com/mandreko/reddit-notifier/internal/notifier"
	"github.com/mandreko/reddit-notifier/internal/poller"
	"github.com/mandreko/reddit-notifier/internal/ratelimit"
	"github.com/mandreko/reddit-notifier/internal/reddit"
	"github.com/mandreko/reddit-notifier/internal/retention"
	"github.com/mandreko/reddit-notifier/internal/shutdown"
	"github.com/mandreko/reddit-notifier/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.OpenWithRetry(ctx, cfg.DatabasePath, storage.ConnectConfig{
		MaxRetries:   cfg.DBMaxRetries,
		InitialDelay: cfg.DBInitialDelay,
		MaxDelay:     cfg.DBMaxDelay,
	}, log)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	subreddits, err := store.UniqueSubreddits(ctx)
	if err != nil {
		log.Error("list subreddits", "error", err)
		os.Exit(1)
	}
	if len(subreddits) == 0 {
		log.Info("no subscriptions with active endpoints; use the admin tool to add some")
		return
	}

	client := &http.Client{Timeout: 30 * time.Second}
	fetcher := reddit.NewClient(client, cfg.UserAgent)
	limiter := ratelimit.New(cfg.RateLimitPerMinute, cfg.RefillInterval())
	builder := notifier.NewBuilder(client)
	p := poller.New(store, fetcher, limiter, builder, subreddits, log)

	job := retention.New(store, cfg.RetentionDays, log)
	if err := job.Start(); err != nil {
		log.Error("start retention job", "error", err)
		os.Exit(1)
	}
	defer job.Stop()

	log.Info("starting notifier",
		"subreddits", len(subreddits),
		"rate_limit_per_minute", cfg.RateLimitPerMinute)

	outcome, err := shutdown.Race(ctx, p.Run)
	switch {
	case outcome == shutdown.Cancelled:
		log.Info("shutdown requested")
	case err != nil:
		log.Warn("poller exited unexpectedly", "error", err)
	default:
		log.Warn("poller exited unexpectedly")
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
