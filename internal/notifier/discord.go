package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
)

const defaultDiscordUsername = "Reddit Notifier"

// DiscordConfig is the per-endpoint configuration for Discord webhooks.
type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"`
	Username   string `json:"username,omitempty"`
}

// Discord posts a rich embed to a Discord webhook.
type Discord struct {
	client HTTPClient
	cfg    DiscordConfig
}

// Kind returns "discord".
func (d *Discord) Kind() string {
	return "discord"
}

// Send posts the new-post embed to the configured webhook URL.
func (d *Discord) Send(ctx context.Context, subreddit, title, url string) error {
	username := d.cfg.Username
	if username == "" {
		username = defaultDiscordUsername
	}

	payload := map[string]any{
		"username": username,
		"embeds": []map[string]any{{
			"title": fmt.Sprintf("New Reddit Post Alert (%s)", subreddit),
			// Reddit titles arrive with HTML entities encoded.
			"description": html.UnescapeString(title),
			"url":         url,
			"type":        "rich",
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("discord webhook status %d: %s", resp.StatusCode, readBody(resp.Body))
	}
	return nil
}
