// Package notifier delivers new-post notifications to configured endpoints.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mandreko/reddit-notifier/internal/model"
)

// Notifier sends a notification about a single post to one endpoint.
type Notifier interface {
	Kind() string
	Send(ctx context.Context, subreddit, title, url string) error
}

// Builder constructs a Notifier from a stored endpoint record.
type Builder interface {
	Build(ep model.Endpoint) (Notifier, error)
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPBuilder builds notifiers that deliver over the given HTTP client.
type HTTPBuilder struct {
	client HTTPClient
}

// NewBuilder creates an HTTPBuilder.
func NewBuilder(client HTTPClient) *HTTPBuilder {
	return &HTTPBuilder{client: client}
}

// Build parses the endpoint's config JSON into the kind-specific
// configuration and returns the matching notifier. A malformed config
// is an error for this endpoint only.
func (b *HTTPBuilder) Build(ep model.Endpoint) (Notifier, error) {
	switch ep.Kind {
	case model.KindDiscord:
		var cfg DiscordConfig
		if err := json.Unmarshal([]byte(ep.ConfigJSON), &cfg); err != nil {
			return nil, fmt.Errorf("parse discord config: %w", err)
		}
		return &Discord{client: b.client, cfg: cfg}, nil
	case model.KindPushover:
		var cfg PushoverConfig
		if err := json.Unmarshal([]byte(ep.ConfigJSON), &cfg); err != nil {
			return nil, fmt.Errorf("parse pushover config: %w", err)
		}
		return &Pushover{client: b.client, cfg: cfg, apiURL: pushoverAPIURL}, nil
	default:
		return nil, fmt.Errorf("unknown endpoint kind %q", ep.Kind)
	}
}

// readBody returns up to 4KB of a response body for error messages.
func readBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	return string(b)
}
