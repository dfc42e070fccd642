package notifier

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
)

const pushoverAPIURL = "https://api.pushover.net/1/messages.json"

// PushoverConfig is the per-endpoint configuration for Pushover.
type PushoverConfig struct {
	Token  string `json:"token"`
	User   string `json:"user"`
	Device string `json:"device,omitempty"`
}

// Pushover sends a message through the Pushover API.
type Pushover struct {
	client HTTPClient
	cfg    PushoverConfig
	apiURL string
}

// Kind returns "pushover".
func (p *Pushover) Kind() string {
	return "pushover"
}

// Send posts a form-encoded message to the Pushover API.
func (p *Pushover) Send(ctx context.Context, subreddit, title, postURL string) error {
	form := url.Values{}
	form.Set("token", p.cfg.Token)
	form.Set("user", p.cfg.User)
	form.Set("title", fmt.Sprintf("New Reddit Post Alert (%s)", subreddit))
	form.Set("message", html.UnescapeString(title))
	form.Set("url", postURL)
	if p.cfg.Device != "" {
		form.Set("device", p.cfg.Device)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("pushover status %d: %s", resp.StatusCode, readBody(resp.Body))
	}
	return nil
}
