// Package reddit fetches new-post listings from Reddit's public JSON API.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultBaseURL is the public Reddit host listings are fetched from.
const DefaultBaseURL = "https://www.reddit.com"

// MaxSubredditsPerFetch is the most subreddit names Reddit accepts
// combined into a single /r/a+b+c/new.json request.
const MaxSubredditsPerFetch = 100

const maxBodyBytes = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches and parses Reddit listings.
type Client struct {
	client    HTTPClient
	baseURL   string
	userAgent string
}

// NewClient creates a Client using the given HTTP client and User-Agent.
func NewClient(client HTTPClient, userAgent string) *Client {
	return &Client{
		client:    client,
		baseURL:   DefaultBaseURL,
		userAgent: userAgent,
	}
}

// SetBaseURL overrides the Reddit host (useful for testing).
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimSuffix(u, "/")
}

// FetchNew fetches the newest posts for the given subreddits in one
// combined request and returns them in listing order.
func (c *Client) FetchNew(ctx context.Context, subreddits []string) ([]Post, error) {
	if len(subreddits) == 0 {
		return nil, nil
	}

	url := fmt.Sprintf("%s/r/%s/new.json?limit=100", c.baseURL, strings.Join(subreddits, "+"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var l listing
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	posts := make([]Post, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		posts = append(posts, child.Data)
	}
	return posts, nil
}

// PostURL builds the canonical URL for a post: the permalink resolved
// against the Reddit host, falling back to the post's external URL,
// then to a synthesized comments link.
func (c *Client) PostURL(p Post) string {
	switch {
	case p.Permalink != "":
		return c.baseURL + p.Permalink
	case p.URL != "":
		return p.URL
	default:
		return fmt.Sprintf("%s/r/%s/comments/%s", c.baseURL, p.Subreddit, p.ID)
	}
}
