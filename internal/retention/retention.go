// Package retention prunes old notified-post records on a schedule.
// The poller's freshness window means pruned posts can never become
// eligible for notification again, so pruning is safe at any time.
package retention

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// prune daily at a quiet hour
const schedule = "30 3 * * *"

// Store is the slice of the storage interface the job needs.
type Store interface {
	CleanupOldPosts(ctx context.Context, daysToKeep int64) (int64, error)
}

// Job deletes ledger rows older than the configured retention period.
type Job struct {
	store Store
	days  int
	log   *slog.Logger
	cron  *cron.Cron
}

// New creates a retention Job keeping days worth of ledger rows.
// A non-positive days disables the job.
func New(store Store, days int, log *slog.Logger) *Job {
	return &Job{store: store, days: days, log: log}
}

// Start schedules the daily prune. It is a no-op when retention is disabled.
func (j *Job) Start() error {
	if j.days <= 0 {
		j.log.Info("ledger retention disabled")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		j.RunOnce(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule retention job: %w", err)
	}
	c.Start()
	j.cron = c

	j.log.Info("ledger retention scheduled", "days", j.days, "schedule", schedule)
	return nil
}

// Stop halts the schedule and waits for a running prune to finish.
func (j *Job) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// RunOnce prunes immediately. Failures are logged, not returned: a
// missed prune only delays cleanup until the next run.
func (j *Job) RunOnce(ctx context.Context) {
	deleted, err := j.store.CleanupOldPosts(ctx, int64(j.days))
	if err != nil {
		j.log.Error("prune notified posts", "days", j.days, "error", err)
		return
	}
	if deleted > 0 {
		j.log.Info("pruned notified posts", "days", j.days, "deleted", deleted)
	}
}
