// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"time"
)

// EndpointKind identifies the delivery backend of a notification endpoint.
type EndpointKind string

// Supported endpoint kinds.
const (
	KindDiscord  EndpointKind = "discord"
	KindPushover EndpointKind = "pushover"
)

// ParseEndpointKind converts a stored kind string into an EndpointKind.
func ParseEndpointKind(s string) (EndpointKind, error) {
	switch EndpointKind(s) {
	case KindDiscord:
		return KindDiscord, nil
	case KindPushover:
		return KindPushover, nil
	default:
		return "", fmt.Errorf("unknown endpoint kind %q", s)
	}
}

// Subscription names a subreddit that should be polled for new posts.
type Subscription struct {
	ID        int64
	Subreddit string
	CreatedAt time.Time
}

// Endpoint is a configured notification delivery target. ConfigJSON is
// interpreted per Kind when a notifier is built from the endpoint.
type Endpoint struct {
	ID         int64
	Kind       EndpointKind
	ConfigJSON string
	Active     bool
	Note       string
}

// NotifiedPost is one row of the dedup ledger: a post that has already
// triggered a notification for a subreddit.
type NotifiedPost struct {
	ID          int64
	Subreddit   string
	PostID      string
	FirstSeenAt time.Time
}
