// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"

	"github.com/mandreko/reddit-notifier/internal/model"
)

// Storage is the interface for all persistence operations. It is shared
// by the polling engine and the admin front-end; the engine only uses
// the read paths plus RecordIfNew.
type Storage interface {
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	CreateSubscription(ctx context.Context, subreddit string) (int64, error)
	DeleteSubscription(ctx context.Context, id int64) error
	SubscriptionEndpoints(ctx context.Context, subscriptionID int64) ([]model.Endpoint, error)

	ListEndpoints(ctx context.Context) ([]model.Endpoint, error)
	GetEndpoint(ctx context.Context, id int64) (*model.Endpoint, error)
	CreateEndpoint(ctx context.Context, kind model.EndpointKind, configJSON, note string) (int64, error)
	UpdateEndpoint(ctx context.Context, id int64, configJSON, note string) error
	DeleteEndpoint(ctx context.Context, id int64) error
	ToggleEndpointActive(ctx context.Context, id int64) (bool, error)

	LinkSubscriptionEndpoint(ctx context.Context, subscriptionID, endpointID int64) error
	UnlinkSubscriptionEndpoint(ctx context.Context, subscriptionID, endpointID int64) error

	ListNotifiedPosts(ctx context.Context, subreddit string, limit, offset int64) ([]model.NotifiedPost, error)
	DeleteNotifiedPost(ctx context.Context, id int64) error
	CleanupOldPosts(ctx context.Context, daysToKeep int64) (int64, error)

	UniqueSubreddits(ctx context.Context) ([]string, error)
	AllEndpointMappings(ctx context.Context) (map[string][]model.Endpoint, error)
	RecordIfNew(ctx context.Context, subreddit, postID string) (bool, error)

	Close() error
}
