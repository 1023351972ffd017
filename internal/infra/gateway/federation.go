package gateway

import (
	"context"

	"github.com/tentsuite/tent"
	"github.com/tentsuite/tent/client"
	"github.com/tentsuite/tent/internal/usecase"
)

// FederationGateway adapts the outbound client to the shapes the
// usecases and repositories consume.
type FederationGateway struct {
	client *client.Client
}

func NewFederationGateway(c *client.Client) *FederationGateway {
	return &FederationGateway{client: c}
}

func (g *FederationGateway) Discover(ctx context.Context, entity string) (*tent.Post[any], error) {
	return g.client.Discover(ctx, entity)
}

// DiscoverMeta is the user repository's discovery hook.
func (g *FederationGateway) DiscoverMeta(ctx context.Context, entity string) (*tent.Post[any], error) {
	return g.client.Discover(ctx, entity)
}

func (g *FederationGateway) GetPost(ctx context.Context, entity, postID, versionID string, cred *usecase.Credential) (*tent.PostEnvelope, error) {
	var cc *client.Credential
	if cred != nil {
		cc = &client.Credential{ID: cred.ID, Key: cred.Key}
	}
	return g.client.GetPost(ctx, entity, postID, versionID, cc)
}

func (g *FederationGateway) GetURL(ctx context.Context, url string) (*tent.PostEnvelope, error) {
	return g.client.GetURL(ctx, url)
}

func (g *FederationGateway) PutRelationship(ctx context.Context, entity string, rel *tent.Post[any], credsURL string) (*tent.PostEnvelope, error) {
	return g.client.PutRelationship(ctx, entity, rel, credsURL)
}
