package usecase

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/tentsuite/tent"
	"github.com/tentsuite/tent/internal/domain"
)

var tracer = otel.Tracer("usecase")

// PostUsecase owns the post create pipeline: id assignment, reference
// resolution, canonical hashing, persistence, and propagation fan-out.
type PostUsecase struct {
	posts    PostRepository
	users    UserRepository
	resolver *Resolver
	queues   QueueGateway
	events   EventPublisher
}

func NewPostUsecase(
	posts PostRepository,
	users UserRepository,
	resolver *Resolver,
	queues QueueGateway,
	events EventPublisher,
) *PostUsecase {
	return &PostUsecase{
		posts:    posts,
		users:    users,
		resolver: resolver,
		queues:   queues,
		events:   events,
	}
}

// Create runs the full pipeline for one post version. The post is only
// persisted once every reference in every collection has finished
// resolving; cancellation anywhere leaves nothing behind.
func (uc *PostUsecase) Create(ctx context.Context, post *tent.Post[any]) (*tent.Post[any], error) {
	ctx, span := tracer.Start(ctx, "Post.Usecase.Create")
	defer span.End()

	author, err := uc.users.GetByID(ctx, post.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "author lookup failed")
	}
	if post.Entity == "" {
		post.Entity = author.Entity
	}

	isEdit := post.ID != ""
	tent.AssignID(post)

	if post.Version == nil {
		if isEdit {
			// a new version of an existing post must say so explicitly
			return nil, tent.ErrVersionMissing
		}
		post.Version = &tent.Version{}
	}

	if isEdit {
		first, err := uc.posts.FirstVersion(ctx, post.UserID, post.ID)
		if err == nil && first != nil {
			tent.CarryForwardDates(post, first)
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			span.RecordError(err)
			return nil, err
		}
	}
	tent.FillDefaultDates(post, time.Now())

	if err := uc.resolver.ResolveAll(ctx, author, post); err != nil {
		span.RecordError(err)
		return nil, err
	}

	tent.ResolvePermissions(post)

	if _, err := tent.ComputeVersionID(post); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := uc.posts.Create(ctx, post); err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "post persist failed")
	}

	uc.fanOut(ctx, post)
	return post, nil
}

// fanOut enqueues propagation work after a successful persist. Queue
// failures are logged by the gateway and never fail the create.
func (uc *PostUsecase) fanOut(ctx context.Context, post *tent.Post[any]) {
	env := domain.QueueEnvelope{
		UserID:    post.UserID,
		PostID:    post.ID,
		VersionID: post.Version.ID,
		Entity:    post.Entity,
	}

	for _, m := range post.Mentions {
		if m.UserID == "" {
			continue
		}
		mentionEnv := env
		mentionEnv.Target = m.UserID
		uc.queues.Enqueue(ctx, domain.QueueMentions, mentionEnv)
	}

	switch {
	case post.Type.Base() == tent.TypeSubscription.Base():
		uc.queues.Enqueue(ctx, domain.QueueSubscriptions, env)
	case post.Type.Base() == tent.TypeMeta.Base():
		uc.queues.Enqueue(ctx, domain.QueueMetaSubscriptions, env)
	}
	if post.App != nil {
		uc.queues.Enqueue(ctx, domain.QueueAppNotifications, env)
	}

	if uc.events != nil {
		uc.events.Publish(ctx, "posts", tent.Event{
			Action:    "create",
			UserID:    post.UserID,
			PostID:    post.ID,
			VersionID: post.Version.ID,
			Type:      string(post.Type),
		})
	}
}

// Get returns one readable post version, the last version when versionID
// is empty.
func (uc *PostUsecase) Get(ctx context.Context, userID, postID, versionID, requesterID string) (*tent.Post[any], error) {
	post, err := uc.posts.Get(ctx, userID, postID, versionID)
	if err != nil {
		return nil, err
	}
	if !Readable(post, requesterID) {
		return nil, domain.ErrPostNotFound
	}
	return post, nil
}

// ReplyChain walks a post's conversation line, loading each ancestor. A
// missing ancestor is fatal to the traversal.
func (uc *PostUsecase) ReplyChain(ctx context.Context, userID, postID, requesterID string) ([]*tent.Post[any], error) {
	ctx, span := tracer.Start(ctx, "Post.Usecase.ReplyChain")
	defer span.End()

	post, err := uc.Get(ctx, userID, postID, "", requesterID)
	if err != nil {
		return nil, err
	}

	var chain []*tent.Post[any]
	for _, link := range tent.ReplyChain(post) {
		ancestor, err := uc.posts.Get(ctx, link.UserID, link.PostID, link.VersionID)
		if err != nil {
			span.RecordError(err)
			return nil, domain.ErrPostNotFound
		}
		chain = append(chain, ancestor)
	}
	return chain, nil
}

// Readable reports whether the requester may see the post: public posts
// always, the owner always, otherwise the resolved allow-list decides.
func Readable(post *tent.Post[any], requesterID string) bool {
	if post.Permissions == nil || post.Permissions.Public {
		return true
	}
	if post.UserID == requesterID {
		return true
	}
	for _, id := range post.Permissions.UserIDs {
		if id == requesterID {
			return true
		}
	}
	return false
}
