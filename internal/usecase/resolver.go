package usecase

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tentsuite/tent"
	"github.com/tentsuite/tent/internal/domain"
)

// Resolver resolves the cross-entity references of a post being created:
// mentions, refs, and version parents. Every entry resolves independently
// and concurrently; one entry's failure never aborts a sibling. The caller
// only proceeds once the whole set has finished.
type Resolver struct {
	users EntityResolver
	posts PostFetcher
}

func NewResolver(users EntityResolver, posts PostFetcher) *Resolver {
	return &Resolver{users: users, posts: posts}
}

// entryOutcome is the explicit per-entry result; failures are recorded,
// logged, and swallowed, leaving FoundPost unset on the entry.
type entryOutcome struct {
	kind string
	err  error
}

// ResolveAll resolves all three reference collections of post and joins on
// the full set. Cancellation propagates into every in-flight entry and
// aborts the barrier; nothing is persisted by this call.
func (r *Resolver) ResolveAll(ctx context.Context, author domain.User, post *tent.Post[any]) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := range post.Mentions {
		m := &post.Mentions[i]
		g.Go(func() error {
			return r.finish(ctx, entryOutcome{"mention", r.resolveMention(ctx, author, m)})
		})
	}
	for i := range post.Refs {
		ref := &post.Refs[i]
		g.Go(func() error {
			return r.finish(ctx, entryOutcome{"ref", r.resolveRef(ctx, author, ref)})
		})
	}
	if post.Version != nil {
		for i := range post.Version.Parents {
			parent := &post.Version.Parents[i]
			g.Go(func() error {
				return r.finish(ctx, entryOutcome{"parent", r.resolveParent(ctx, author, post, parent)})
			})
		}
	}

	return g.Wait()
}

func (r *Resolver) finish(ctx context.Context, out entryOutcome) error {
	if out.err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	slog.DebugContext(
		ctx, "reference resolution failed",
		slog.String("kind", out.kind),
		slog.String("error", out.err.Error()),
		slog.String("module", "resolver"),
	)
	return nil
}

// resolveUser runs steps 1-3 shared by all three reference kinds: use an
// already-attached user id, default to the author when no entity was
// given, or resolve the entity (with federated discovery behind the
// EntityResolver).
func (r *Resolver) resolveUser(ctx context.Context, author domain.User, userID, entity string) (domain.User, error) {
	if userID != "" {
		if userID == author.ID {
			return author, nil
		}
		return domain.User{ID: userID}, nil
	}
	if entity == "" {
		return author, nil
	}
	return r.users.ResolveEntity(ctx, entity)
}

// selfEntity reports whether the reference's entity text is the authoring
// user's own; such entities are normalized away once resolved so the
// canonical form carries no redundant self-references.
func selfEntity(author domain.User, entity string) bool {
	return entity != "" && tent.NormalizeEntity(entity) == tent.NormalizeEntity(author.Entity)
}

func (r *Resolver) resolveMention(ctx context.Context, author domain.User, m *tent.Mention) error {
	user, err := r.resolveUser(ctx, author, m.UserID, m.Entity)
	if err != nil {
		return err
	}
	m.UserID = user.ID
	if selfEntity(author, m.Entity) {
		m.Entity = ""
	}

	if m.Post == "" {
		return nil
	}

	target, err := r.posts.FetchPost(ctx, user.ID, m.Post, m.Version, author.ID)
	if err != nil {
		return err
	}
	if target == nil {
		return domain.ErrPostNotFound
	}

	m.FoundPost = true
	if m.Type == "" {
		m.Type = target.Type
	}

	// Propagate the conversation line one hop: the target's own first
	// resolved mention, prefixed by that mention itself. Only this single
	// line is carried; the full mention graph is never re-walked.
	if fm := tent.FirstResolvedMention(target); fm != nil {
		chain := make([]tent.ChainLink, 0, len(fm.ReplyChain)+1)
		chain = append(chain, tent.ChainLink{UserID: fm.UserID, PostID: fm.Post, VersionID: fm.Version})
		m.ReplyChain = append(chain, fm.ReplyChain...)
	}
	return nil
}

func (r *Resolver) resolveRef(ctx context.Context, author domain.User, ref *tent.PostRef) error {
	user, err := r.resolveUser(ctx, author, ref.UserID, ref.Entity)
	if err != nil {
		return err
	}
	ref.UserID = user.ID
	if selfEntity(author, ref.Entity) {
		ref.Entity = ""
	}

	if ref.Post == "" {
		return nil
	}

	target, err := r.posts.FetchPost(ctx, user.ID, ref.Post, ref.Version, author.ID)
	if err != nil {
		return err
	}
	if target == nil {
		return domain.ErrPostNotFound
	}

	ref.FoundPost = true
	if ref.Type == "" {
		ref.Type = target.Type
	}
	return nil
}

func (r *Resolver) resolveParent(ctx context.Context, author domain.User, post *tent.Post[any], parent *tent.VersionParent) error {
	user, err := r.resolveUser(ctx, author, parent.UserID, parent.Entity)
	if err != nil {
		return err
	}
	parent.UserID = user.ID
	if selfEntity(author, parent.Entity) {
		parent.Entity = ""
	}

	// a parent with no post id points at a prior version of this post
	postID := parent.Post
	if postID == "" {
		postID = post.ID
	}

	target, err := r.posts.FetchPost(ctx, user.ID, postID, parent.Version, author.ID)
	if err != nil {
		return err
	}
	if target == nil {
		return domain.ErrPostNotFound
	}
	parent.FoundPost = true
	return nil
}
