package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mandreko/reddit-notifier/internal/model"
	"github.com/mandreko/reddit-notifier/internal/notifier"
	"github.com/mandreko/reddit-notifier/internal/reddit"
	"github.com/mandreko/reddit-notifier/internal/storage"
)

type fakeStore struct {
	mappings    map[string][]model.Endpoint
	mappingsErr error
	recordErr   error

	mu       sync.Mutex
	seen     map[string]bool
	recorded []string
}

func (f *fakeStore) AllEndpointMappings(_ context.Context) (map[string][]model.Endpoint, error) {
	if f.mappingsErr != nil {
		return nil, f.mappingsErr
	}
	return f.mappings, nil
}

func (f *fakeStore) RecordIfNew(_ context.Context, subreddit, postID string) (bool, error) {
	if f.recordErr != nil {
		return false, f.recordErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := subreddit + "/" + postID
	f.recorded = append(f.recorded, key)
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func (f *fakeStore) recordedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.recorded...)
}

type fakeFetcher struct {
	posts   []reddit.Post
	err     error
	fetches int
}

func (f *fakeFetcher) FetchNew(_ context.Context, _ []string) ([]reddit.Post, error) {
	f.fetches++
	return f.posts, f.err
}

func (f *fakeFetcher) PostURL(p reddit.Post) string {
	return "https://www.reddit.com/r/" + p.Subreddit + "/comments/" + p.ID
}

type fakeLimiter struct {
	acquired int
}

func (f *fakeLimiter) Acquire(_ context.Context) error {
	f.acquired++
	return nil
}

type sentNotification struct {
	EndpointID int64
	Subreddit  string
	Title      string
	URL        string
}

type fakeNotifier struct {
	endpointID int64
	failSend   bool
	sink       *[]sentNotification
	mu         *sync.Mutex
}

func (f *fakeNotifier) Kind() string { return "fake" }

func (f *fakeNotifier) Send(_ context.Context, subreddit, title, url string) error {
	if f.failSend {
		return errors.New("delivery refused")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.sink = append(*f.sink, sentNotification{
		EndpointID: f.endpointID, Subreddit: subreddit, Title: title, URL: url,
	})
	return nil
}

// fakeBuilder fails building for endpoints whose note is "bad-config"
// and returns failing notifiers for note "fail-send".
type fakeBuilder struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (b *fakeBuilder) Build(ep model.Endpoint) (notifier.Notifier, error) {
	if ep.Note == "bad-config" {
		return nil, errors.New("parse config: unexpected end of JSON input")
	}
	return &fakeNotifier{
		endpointID: ep.ID,
		failSend:   ep.Note == "fail-send",
		sink:       &b.sent,
		mu:         &b.mu,
	}, nil
}

func (b *fakeBuilder) sentNotifications() []sentNotification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentNotification(nil), b.sent...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPoller(store Store, fetcher Fetcher, builder notifier.Builder, subreddits []string) *Poller {
	return New(store, fetcher, &fakeLimiter{}, builder, subreddits, discardLogger())
}

func TestFreshnessWindow(t *testing.T) {
	tests := []struct {
		name       string
		createdAgo time.Duration
		wantRecord bool
	}{
		{name: "recent post passes", createdAgo: 5 * time.Minute, wantRecord: true},
		{name: "just inside window passes", createdAgo: 23*time.Hour + 59*time.Minute, wantRecord: true},
		{name: "just outside window skipped", createdAgo: 24*time.Hour + 1*time.Minute, wantRecord: false},
		{name: "future inside window passes", createdAgo: -(23*time.Hour + 59*time.Minute), wantRecord: true},
		{name: "future outside window skipped", createdAgo: -(24*time.Hour + 1*time.Minute), wantRecord: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{mappings: map[string][]model.Endpoint{}}
			builder := &fakeBuilder{}
			p := newTestPoller(store, &fakeFetcher{}, builder, []string{"rust"})

			post := reddit.Post{
				ID:         "abc",
				Subreddit:  "rust",
				CreatedUTC: time.Now().UTC().Add(-tt.createdAgo),
			}
			p.processPost(context.Background(), post, store.mappings)

			gotRecord := len(store.recordedKeys()) > 0
			if gotRecord != tt.wantRecord {
				t.Errorf("dedup gate called = %v, want %v", gotRecord, tt.wantRecord)
			}
		})
	}
}

func TestProcessPostFailsClosedOnDedupError(t *testing.T) {
	endpoints := map[string][]model.Endpoint{
		"rust": {{ID: 1, Kind: model.KindDiscord}},
	}
	store := &fakeStore{mappings: endpoints, recordErr: errors.New("database is locked")}
	builder := &fakeBuilder{}
	p := newTestPoller(store, &fakeFetcher{}, builder, []string{"rust"})

	post := reddit.Post{ID: "abc", Subreddit: "rust", CreatedUTC: time.Now().UTC()}
	p.processPost(context.Background(), post, endpoints)

	if sent := builder.sentNotifications(); len(sent) != 0 {
		t.Errorf("no notification may be sent when the dedup gate errors, got %d", len(sent))
	}
}

func TestProcessPostSkipsMissingMapping(t *testing.T) {
	store := &fakeStore{}
	builder := &fakeBuilder{}
	p := newTestPoller(store, &fakeFetcher{}, builder, []string{"rust"})

	post := reddit.Post{ID: "abc", Subreddit: "rust", CreatedUTC: time.Now().UTC()}
	p.processPost(context.Background(), post, map[string][]model.Endpoint{})

	if sent := builder.sentNotifications(); len(sent) != 0 {
		t.Errorf("expected no notifications without a mapping, got %d", len(sent))
	}
	// the post still enters the ledger; it will not re-notify later
	if got := store.recordedKeys(); len(got) != 1 {
		t.Errorf("expected one ledger insert, got %v", got)
	}
}

func TestProcessPostDeduplicatesEndpoints(t *testing.T) {
	// the same endpoint linked through two subscriptions appears twice
	endpoints := map[string][]model.Endpoint{
		"rust": {{ID: 7}, {ID: 7}, {ID: 9}},
	}
	store := &fakeStore{mappings: endpoints}
	builder := &fakeBuilder{}
	p := newTestPoller(store, &fakeFetcher{}, builder, []string{"rust"})

	post := reddit.Post{ID: "abc", Subreddit: "rust", CreatedUTC: time.Now().UTC()}
	p.processPost(context.Background(), post, endpoints)

	var gotIDs []int64
	for _, s := range builder.sentNotifications() {
		gotIDs = append(gotIDs, s.EndpointID)
	}
	if diff := cmp.Diff([]int64{7, 9}, gotIDs); diff != "" {
		t.Errorf("endpoint fan-out mismatch (-want +got):\n%s", diff)
	}
}

func TestFanoutIsolation(t *testing.T) {
	tests := []struct {
		name    string
		badNote string
	}{
		{name: "send failure does not stop siblings", badNote: "fail-send"},
		{name: "config failure does not stop siblings", badNote: "bad-config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoints := map[string][]model.Endpoint{
				"rust": {{ID: 1, Note: tt.badNote}, {ID: 2}},
			}
			store := &fakeStore{mappings: endpoints}
			builder := &fakeBuilder{}
			p := newTestPoller(store, &fakeFetcher{}, builder, []string{"rust"})

			post := reddit.Post{ID: "abc", Subreddit: "rust", CreatedUTC: time.Now().UTC()}
			p.processPost(context.Background(), post, endpoints)

			sent := builder.sentNotifications()
			if len(sent) != 1 || sent[0].EndpointID != 2 {
				t.Errorf("expected delivery to the healthy endpoint only, got %+v", sent)
			}
		})
	}
}

func TestRunCycleMappingFailureSkipsFetching(t *testing.T) {
	store := &fakeStore{mappingsErr: errors.New("database is locked")}
	fetcher := &fakeFetcher{}
	limiter := &fakeLimiter{}
	p := New(store, fetcher, limiter, &fakeBuilder{}, []string{"rust"}, discardLogger())

	p.runCycle(context.Background())

	if limiter.acquired != 0 {
		t.Errorf("no token should be spent when the mapping fetch fails, got %d", limiter.acquired)
	}
	if fetcher.fetches != 0 {
		t.Errorf("no listing fetch should happen when the mapping fetch fails, got %d", fetcher.fetches)
	}
}

func TestRunCycleFetchFailureContinues(t *testing.T) {
	endpoints := map[string][]model.Endpoint{"rust": {{ID: 1}}}
	store := &fakeStore{mappings: endpoints}
	fetcher := &fakeFetcher{err: errors.New("connection reset")}
	limiter := &fakeLimiter{}
	p := New(store, fetcher, limiter, &fakeBuilder{}, []string{"rust"}, discardLogger())

	// a failing batch fetch must not panic or abort the cycle
	p.runCycle(context.Background())

	if limiter.acquired != 1 {
		t.Errorf("expected one rate limiter acquire, got %d", limiter.acquired)
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	endpoints := map[string][]model.Endpoint{"rust": {{ID: 1}}}
	store := &fakeStore{mappings: endpoints}
	p := newTestPoller(store, &fakeFetcher{}, &fakeBuilder{}, []string{"rust"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestPartition(t *testing.T) {
	subs := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("sub%d", i)
		}
		return out
	}

	tests := []struct {
		name      string
		count     int
		wantSizes []int
	}{
		{name: "empty", count: 0, wantSizes: nil},
		{name: "single batch", count: 10, wantSizes: []int{10}},
		{name: "exactly full batch", count: 100, wantSizes: []int{100}},
		{name: "two batches", count: 150, wantSizes: []int{100, 50}},
		{name: "three batches", count: 250, wantSizes: []int{100, 100, 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := partition(subs(tt.count), 100)
			var sizes []int
			for _, b := range batches {
				sizes = append(sizes, len(b))
			}
			if diff := cmp.Diff(tt.wantSizes, sizes); diff != "" {
				t.Errorf("batch sizes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type listingTransport struct {
	body string
}

func (l *listingTransport) Do(_ *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(bytes.NewBufferString(l.body)),
	}, nil
}

// End-to-end: real store, real listing client, real Discord notifier
// against a local webhook server. One post in r/rust produces exactly
// one webhook POST with the decoded title; a second cycle produces none.
func TestPollCycleEndToEnd(t *testing.T) {
	ctx := context.Background()

	store, err := storage.NewSQLite(":memory:", discardLogger())
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	var mu sync.Mutex
	var webhookBodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		_ = json.Unmarshal(body, &decoded)
		mu.Lock()
		webhookBodies = append(webhookBodies, decoded)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	subID, err := store.CreateSubscription(ctx, "rust")
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	epID, err := store.CreateEndpoint(ctx, model.KindDiscord,
		fmt.Sprintf(`{"webhook_url":%q}`, srv.URL), "")
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	if err := store.LinkSubscriptionEndpoint(ctx, subID, epID); err != nil {
		t.Fatalf("link: %v", err)
	}

	created := float64(time.Now().Add(-5*time.Minute).Unix())
	listing := fmt.Sprintf(`{"data":{"children":[{"data":{
		"id":"abc","title":"Hello &amp; World","subreddit":"rust",
		"permalink":"/r/rust/comments/abc","url":"","created_utc":%f}}]}}`, created)

	fetcher := reddit.NewClient(&listingTransport{body: listing}, "test-agent/1.0")
	builder := notifier.NewBuilder(srv.Client())
	p := New(store, fetcher, &fakeLimiter{}, builder, []string{"rust"}, discardLogger())

	p.runCycle(ctx)
	p.runCycle(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(webhookBodies) != 1 {
		t.Fatalf("expected exactly one webhook POST across two cycles, got %d", len(webhookBodies))
	}
	embeds := webhookBodies[0]["embeds"].([]any)
	embed := embeds[0].(map[string]any)
	if diff := cmp.Diff("Hello & World", embed["description"]); diff != "" {
		t.Errorf("title mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("https://www.reddit.com/r/rust/comments/abc", embed["url"]); diff != "" {
		t.Errorf("url mismatch (-want +got):\n%s", diff)
	}
}
