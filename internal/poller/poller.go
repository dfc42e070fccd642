// Package poller implements the combined-subreddit polling loop: it
// fetches batched listings as fast as the rate limiter allows, filters
// posts by freshness, deduplicates against the ledger, and fans out
// notifications to the endpoints subscribed to each subreddit.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/mandreko/reddit-notifier/internal/model"
	"github.com/mandreko/reddit-notifier/internal/notifier"
	"github.com/mandreko/reddit-notifier/internal/reddit"
)

// freshnessWindow bounds how far a post's creation time may differ from
// now in either direction. Reddit occasionally returns stale posts in
// /new listings; the absolute comparison also tolerates minor clock skew.
const freshnessWindow = 24 * time.Hour

// Store is the slice of the storage interface the poller needs.
type Store interface {
	AllEndpointMappings(ctx context.Context) (map[string][]model.Endpoint, error)
	RecordIfNew(ctx context.Context, subreddit, postID string) (bool, error)
}

// Fetcher fetches combined listings and builds canonical post URLs.
type Fetcher interface {
	FetchNew(ctx context.Context, subreddits []string) ([]reddit.Post, error)
	PostURL(p reddit.Post) string
}

// Limiter gates outbound listing fetches.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Poller polls all subscribed subreddits in batches and dispatches
// notifications for new posts.
type Poller struct {
	store   Store
	fetcher Fetcher
	limiter Limiter
	builder notifier.Builder
	log     *slog.Logger
	batches [][]string
}

// New creates a Poller for the given subreddits, partitioned into
// batches of at most reddit.MaxSubredditsPerFetch names.
func New(store Store, fetcher Fetcher, limiter Limiter, builder notifier.Builder, subreddits []string, log *slog.Logger) *Poller {
	return &Poller{
		store:   store,
		fetcher: fetcher,
		limiter: limiter,
		builder: builder,
		log:     log,
		batches: partition(subreddits, reddit.MaxSubredditsPerFetch),
	}
}

// Run polls forever. It returns only when ctx is cancelled; by design
// the loop itself never finishes. Pacing comes entirely from the rate
// limiter, one token per batch fetch.
func (p *Poller) Run(ctx context.Context) error {
	if len(p.batches) == 0 {
		p.log.Info("no subreddits to poll")
		return nil
	}

	count := 0
	for _, b := range p.batches {
		count += len(b)
	}
	p.log.Info("starting combined poller", "subreddits", count, "batches", len(p.batches))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.runCycle(ctx)
	}
}

// runCycle performs one full pass over all batches. The endpoint
// mapping is re-read every cycle so configuration edits take effect
// within one cycle without restarting the daemon.
func (p *Poller) runCycle(ctx context.Context) {
	mappings, err := p.store.AllEndpointMappings(ctx)
	if err != nil {
		p.log.Error("fetch endpoint mappings", "error", err)
		return
	}

	for _, batch := range p.batches {
		if ctx.Err() != nil {
			return
		}
		if err := p.limiter.Acquire(ctx); err != nil {
			return
		}
		p.pollBatch(ctx, batch, mappings)
	}
}

// pollBatch fetches one combined listing and processes its posts in
// listing order. A failed or unparseable fetch abandons only this
// batch; it will be retried on the next cycle.
func (p *Poller) pollBatch(ctx context.Context, batch []string, mappings map[string][]model.Endpoint) {
	posts, err := p.fetcher.FetchNew(ctx, batch)
	if err != nil {
		p.log.Warn("fetch listing", "subreddits", len(batch), "error", err)
		return
	}
	p.log.Debug("fetched posts", "count", len(posts), "subreddits", len(batch))

	for _, post := range posts {
		p.processPost(ctx, post, mappings)
	}
}

func (p *Poller) processPost(ctx context.Context, post reddit.Post, mappings map[string][]model.Endpoint) {
	age := time.Since(post.CreatedUTC)
	if age < 0 {
		age = -age
	}
	if age > freshnessWindow {
		p.log.Info("skipping post outside freshness window",
			"subreddit", post.Subreddit, "post_id", post.ID, "created_at", post.CreatedUTC)
		return
	}

	// The ledger insert is the single dedup gate. On error we skip
	// the post rather than notify: a failed check must never cause a
	// double send.
	isNew, err := p.store.RecordIfNew(ctx, post.Subreddit, post.ID)
	if err != nil {
		p.log.Error("record post", "subreddit", post.Subreddit, "post_id", post.ID, "error", err)
		return
	}
	if !isNew {
		return
	}

	endpoints, ok := mappings[post.Subreddit]
	if !ok {
		// Mappings can change between the cycle's snapshot and now.
		p.log.Info("no endpoints for subreddit", "subreddit", post.Subreddit, "post_id", post.ID)
		return
	}
	unique := dedupeEndpoints(endpoints)

	url := p.fetcher.PostURL(post)
	p.log.Info("new post", "subreddit", post.Subreddit, "post_id", post.ID, "endpoints", len(unique))

	for _, ep := range unique {
		n, err := p.builder.Build(ep)
		if err != nil {
			p.log.Error("build notifier", "endpoint_id", ep.ID, "error", err)
			continue
		}
		if err := n.Send(ctx, post.Subreddit, post.Title, url); err != nil {
			p.log.Error("send notification",
				"kind", n.Kind(), "endpoint_id", ep.ID, "post_id", post.ID, "error", err)
		}
	}
}

// partition splits subreddits into chunks of at most size names.
func partition(subreddits []string, size int) [][]string {
	var batches [][]string
	for len(subreddits) > size {
		batches = append(batches, subreddits[:size])
		subreddits = subreddits[size:]
	}
	if len(subreddits) > 0 {
		batches = append(batches, subreddits)
	}
	return batches
}

// dedupeEndpoints drops duplicate endpoint ids, keeping first
// occurrence order. A subreddit linked to the same endpoint through
// several subscriptions should notify it once.
func dedupeEndpoints(endpoints []model.Endpoint) []model.Endpoint {
	seen := make(map[int64]bool, len(endpoints))
	unique := endpoints[:0:0]
	for _, ep := range endpoints {
		if seen[ep.ID] {
			continue
		}
		seen[ep.ID] = true
		unique = append(unique, ep)
	}
	return unique
}
