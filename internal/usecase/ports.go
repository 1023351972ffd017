package usecase

import (
	"context"

	"github.com/tentsuite/tent"
	"github.com/tentsuite/tent/internal/domain"
)

// PostRepository is the range-query capable post store.
type PostRepository interface {
	// Get returns one post; an empty versionID selects the last version,
	// ordered by (receivedAt desc, versionID desc).
	Get(ctx context.Context, userID, postID, versionID string) (*tent.Post[any], error)
	// FirstVersion returns the oldest persisted version of a post.
	FirstVersion(ctx context.Context, userID, postID string) (*tent.Post[any], error)
	// Create persists a post version and advances the latest-version
	// pointer only when the incoming (receivedAt, id) is strictly greater.
	Create(ctx context.Context, post *tent.Post[any]) error
	Query(ctx context.Context, q domain.RangeQuery) ([]*tent.Post[any], error)
	Count(ctx context.Context, q domain.CountQuery) (int64, error)
	// FindRelationship looks up the relationship post between two users.
	FindRelationship(ctx context.Context, userID, targetUserID string) (*tent.Post[any], error)
}

// UserRepository persists identities and performs discovery for unknown
// federated entities.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEntity(ctx context.Context, entity string) (domain.User, error)
	Register(ctx context.Context, user domain.User) (domain.User, error)
	// Discover resolves an entity to a user, looking locally first and
	// triggering federated discovery for unknown external entities.
	Discover(ctx context.Context, entity string) (domain.User, error)
}

// EntityResolver is the narrow capability the reference resolver needs:
// turn an entity URI into a user.
type EntityResolver interface {
	ResolveEntity(ctx context.Context, entity string) (domain.User, error)
}

// PostFetcher fetches a specific post readable by the requester.
type PostFetcher interface {
	FetchPost(ctx context.Context, userID, postID, versionID, requesterID string) (*tent.Post[any], error)
}

// SocialGraph resolves the special feed user sets.
type SocialGraph interface {
	Followings(ctx context.Context, userID string) ([]string, error)
	Followers(ctx context.Context, userID string) ([]string, error)
	Friends(ctx context.Context, userID string) ([]string, error)
}

// BewitRepository stores issued capability-token records. Expired records
// are pruned by the store.
type BewitRepository interface {
	Create(ctx context.Context, bewit domain.Bewit) error
	Get(ctx context.Context, id string) (domain.Bewit, error)
}

// QueueGateway enqueues propagation envelopes, at-least-once.
type QueueGateway interface {
	Enqueue(ctx context.Context, queue string, env domain.QueueEnvelope) error
}

// EventPublisher publishes realtime events.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, event tent.Event) error
}

// Credential carries a hawk key pair for signing federated requests.
type Credential struct {
	ID  string
	Key string
}

// FederationGateway is the outbound HTTP surface to other servers.
// A federated 404 is (nil, nil), not an error.
type FederationGateway interface {
	// Discover fetches the meta post advertised for an entity.
	Discover(ctx context.Context, entity string) (*tent.Post[any], error)
	GetPost(ctx context.Context, entity, postID, versionID string, cred *Credential) (*tent.PostEnvelope, error)
	// GetURL fetches a post envelope from a fully formed (bewit) URL.
	GetURL(ctx context.Context, url string) (*tent.PostEnvelope, error)
	// PutRelationship delivers a relationship post with a credentials
	// link header to the target server.
	PutRelationship(ctx context.Context, entity string, rel *tent.Post[any], credsURL string) (*tent.PostEnvelope, error)
}
