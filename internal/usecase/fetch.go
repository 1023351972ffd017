package usecase

import (
	"context"

	"github.com/pkg/errors"

	"github.com/tentsuite/tent"
	"github.com/tentsuite/tent/internal/domain"
)

// PostFetchService serves reference-resolver fetches. Local posts are
// answered from the store with the requester's read access enforced.
// Posts of external authors fall back to the author's home server,
// signed with the credentials that relationship negotiation left
// behind, and the fetched version is persisted locally.
type PostFetchService struct {
	posts PostRepository
	users UserRepository
	fed   FederationGateway
}

func NewPostFetchService(posts PostRepository, users UserRepository, fed FederationGateway) *PostFetchService {
	return &PostFetchService{posts: posts, users: users, fed: fed}
}

func (s *PostFetchService) FetchPost(ctx context.Context, userID, postID, versionID, requesterID string) (*tent.Post[any], error) {
	ctx, span := tracer.Start(ctx, "Fetch.Service.FetchPost")
	defer span.End()

	post, err := s.posts.Get(ctx, userID, postID, versionID)
	if err == nil {
		if !Readable(post, requesterID) {
			return nil, domain.ErrPostNotFound
		}
		return post, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		return nil, err
	}

	author, err := s.users.GetByID(ctx, userID)
	if err != nil || author.Internal {
		return nil, domain.ErrPostNotFound
	}

	cred, err := s.credentialFor(ctx, author.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	env, err := s.fed.GetPost(ctx, author.Entity, postID, versionID, cred)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if env == nil || env.Post == nil {
		return nil, domain.ErrPostNotFound
	}
	if err := importRemotePost(ctx, s.posts, env.Post, author.ID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return env.Post, nil
}

// credentialFor digs out the MAC key an external author handed over
// during relationship negotiation, nil when only public access is
// available.
func (s *PostFetchService) credentialFor(ctx context.Context, authorID string) (*Credential, error) {
	rows, err := s.posts.Query(ctx, domain.RangeQuery{
		OwnerID: authorID,
		Sort:    domain.SortReceivedAt,
		Limit:   1,
		Filter: domain.FilterSpec{
			Types: []tent.PostType{tent.TypeCredentials},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	content, err := tent.DecodeContent[tent.CredentialsContent](rows[0])
	if err != nil || content.HawkKey == "" {
		return nil, nil
	}
	return &Credential{ID: rows[0].ID, Key: content.HawkKey}, nil
}
