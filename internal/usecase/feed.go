package usecase

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/tentsuite/tent"
	"github.com/tentsuite/tent/internal/domain"
)

const (
	DefaultFeedLimit = 25
	MaxFeedLimit     = 200
)

var (
	ErrZeroLimit      = errors.New("feed limit must be positive")
	ErrTwoLowerBounds = errors.New("since and until cannot both be set")
)

// SpecialSet names a server-resolved group of users usable in place of an
// explicit entity list.
type SpecialSet string

const (
	SetFollowings SpecialSet = "followings"
	SetFollowers  SpecialSet = "followers"
	SetFriends    SpecialSet = "friends"
)

// FeedMention is one unresolved mention predicate: a target user by id or
// entity, optionally narrowed to one of their posts.
type FeedMention struct {
	Entity string
	UserID string
	Post   string
}

// FeedBoundary anchors one end of the scanned range, either directly at a
// time or at a specific post whose sort-field value becomes the anchor.
type FeedBoundary struct {
	Time   time.Time
	Entity string
	Post   string
}

// FeedSpec is the immutable filter set produced by the builder. It holds
// raw, unresolved values; Resolve turns it into something compilable.
type FeedSpec struct {
	Types       []tent.PostType
	Entities    []string
	UserIDs     []string
	Special     []SpecialSet
	Mentions    [][]FeedMention
	NotMentions [][]FeedMention
	Sort        domain.SortKey
	Since       *FeedBoundary
	Until       *FeedBoundary
	Before      *FeedBoundary
	Limit       int
	Skip        int
	MaxRefs     int
	Profiles    bool
}

// FeedRequest accumulates filters in any order and validates them into a
// FeedSpec. It is not safe for concurrent mutation; the spec it produces
// is a plain value and is.
type FeedRequest struct {
	spec FeedSpec
	err  error
}

func NewFeedRequest() *FeedRequest {
	return &FeedRequest{spec: FeedSpec{
		Sort:  domain.SortReceivedAt,
		Limit: DefaultFeedLimit,
	}}
}

func (b *FeedRequest) Types(types ...tent.PostType) *FeedRequest {
	b.spec.Types = append(b.spec.Types, types...)
	return b
}

func (b *FeedRequest) Entities(entities ...string) *FeedRequest {
	b.spec.Entities = append(b.spec.Entities, entities...)
	return b
}

func (b *FeedRequest) Users(ids ...string) *FeedRequest {
	b.spec.UserIDs = append(b.spec.UserIDs, ids...)
	return b
}

func (b *FeedRequest) SpecialSet(set SpecialSet) *FeedRequest {
	b.spec.Special = append(b.spec.Special, set)
	return b
}

// Mentions adds one AND-clause; the predicates within it are OR-ed.
func (b *FeedRequest) Mentions(clause ...FeedMention) *FeedRequest {
	if len(clause) > 0 {
		b.spec.Mentions = append(b.spec.Mentions, clause)
	}
	return b
}

func (b *FeedRequest) NotMentions(clause ...FeedMention) *FeedRequest {
	if len(clause) > 0 {
		b.spec.NotMentions = append(b.spec.NotMentions, clause)
	}
	return b
}

func (b *FeedRequest) Sort(key domain.SortKey) *FeedRequest {
	b.spec.Sort = key
	return b
}

func (b *FeedRequest) Since(bound FeedBoundary) *FeedRequest {
	if b.spec.Until != nil {
		b.err = ErrTwoLowerBounds
	}
	b.spec.Since = &bound
	return b
}

func (b *FeedRequest) Until(bound FeedBoundary) *FeedRequest {
	if b.spec.Since != nil {
		b.err = ErrTwoLowerBounds
	}
	b.spec.Until = &bound
	return b
}

func (b *FeedRequest) Before(bound FeedBoundary) *FeedRequest {
	b.spec.Before = &bound
	return b
}

func (b *FeedRequest) Limit(n int) *FeedRequest {
	if n <= 0 {
		b.err = ErrZeroLimit
		return b
	}
	if n > MaxFeedLimit {
		n = MaxFeedLimit
	}
	b.spec.Limit = n
	return b
}

func (b *FeedRequest) Skip(n int) *FeedRequest {
	if n > 0 {
		b.spec.Skip = n
	}
	return b
}

func (b *FeedRequest) MaxRefs(n int) *FeedRequest {
	if n > 0 {
		b.spec.MaxRefs = n
	}
	return b
}

func (b *FeedRequest) Profiles() *FeedRequest {
	b.spec.Profiles = true
	return b
}

// Build returns the accumulated spec. The builder may keep being mutated
// afterwards without affecting the returned value.
func (b *FeedRequest) Build() (FeedSpec, error) {
	if b.err != nil {
		return FeedSpec{}, b.err
	}
	return b.spec, nil
}

// ResolvedFeed is a FeedSpec with every external dependency settled:
// entities turned into user ids, special sets expanded, boundary posts
// turned into dates. Compile never touches the network, so repeated
// compilations cannot re-resolve anything.
type ResolvedFeed struct {
	spec        FeedSpec
	userIDs     []string
	mentions    [][]domain.MentionFilter
	notMentions [][]domain.MentionFilter
	lower       *domain.Bound
	upper       *domain.Bound
}

// FeedResolver settles a FeedSpec's external references.
type FeedResolver struct {
	users EntityResolver
	posts PostFetcher
	graph SocialGraph
}

func NewFeedResolver(users EntityResolver, posts PostFetcher, graph SocialGraph) *FeedResolver {
	return &FeedResolver{users: users, posts: posts, graph: graph}
}

// Resolve is a pure function of the spec and the viewing user; the spec is
// not mutated.
func (r *FeedResolver) Resolve(ctx context.Context, spec FeedSpec, viewerID string) (*ResolvedFeed, error) {
	ctx, span := tracer.Start(ctx, "Feed.Resolver.Resolve")
	defer span.End()

	rf := &ResolvedFeed{spec: spec}
	rf.userIDs = append(rf.userIDs, spec.UserIDs...)

	for _, entity := range spec.Entities {
		user, err := r.users.ResolveEntity(ctx, entity)
		if err != nil {
			span.RecordError(err)
			return nil, errors.Wrapf(err, "cannot resolve feed entity %s", entity)
		}
		rf.userIDs = append(rf.userIDs, user.ID)
	}

	for _, set := range spec.Special {
		members, err := r.resolveSet(ctx, set, viewerID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		rf.userIDs = append(rf.userIDs, members...)
	}

	var err error
	if rf.mentions, err = r.resolveClauses(ctx, spec.Mentions); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if rf.notMentions, err = r.resolveClauses(ctx, spec.NotMentions); err != nil {
		span.RecordError(err)
		return nil, err
	}

	lowerSpec := spec.Since
	if lowerSpec == nil {
		lowerSpec = spec.Until
	}
	if rf.lower, err = r.resolveBound(ctx, lowerSpec, spec.Sort, viewerID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if rf.upper, err = r.resolveBound(ctx, spec.Before, spec.Sort, viewerID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return rf, nil
}

func (r *FeedResolver) resolveSet(ctx context.Context, set SpecialSet, viewerID string) ([]string, error) {
	switch set {
	case SetFollowings:
		return r.graph.Followings(ctx, viewerID)
	case SetFollowers:
		return r.graph.Followers(ctx, viewerID)
	case SetFriends:
		return r.graph.Friends(ctx, viewerID)
	default:
		return nil, errors.Errorf("unknown entity set %q", set)
	}
}

func (r *FeedResolver) resolveClauses(ctx context.Context, clauses [][]FeedMention) ([][]domain.MentionFilter, error) {
	var out [][]domain.MentionFilter
	for _, clause := range clauses {
		resolved := make([]domain.MentionFilter, 0, len(clause))
		for _, fm := range clause {
			userID := fm.UserID
			if userID == "" {
				user, err := r.users.ResolveEntity(ctx, fm.Entity)
				if err != nil {
					return nil, errors.Wrapf(err, "cannot resolve mention filter %s", fm.Entity)
				}
				userID = user.ID
			}
			resolved = append(resolved, domain.MentionFilter{UserID: userID, PostID: fm.Post})
		}
		out = append(out, resolved)
	}
	return out, nil
}

// resolveBound turns a boundary into a concrete time, loading the anchor
// post when the boundary was given as a post reference.
func (r *FeedResolver) resolveBound(ctx context.Context, b *FeedBoundary, sort domain.SortKey, viewerID string) (*domain.Bound, error) {
	if b == nil {
		return nil, nil
	}
	if b.Post == "" {
		return &domain.Bound{Time: b.Time}, nil
	}

	user, err := r.users.ResolveEntity(ctx, b.Entity)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve boundary entity %s", b.Entity)
	}
	anchor, err := r.posts.FetchPost(ctx, user.ID, b.Post, "", viewerID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, domain.ErrPostNotFound
	}
	ts := sortFieldValue(anchor, sort)
	if ts == nil {
		return nil, errors.Errorf("boundary post %s has no %s value", b.Post, sort)
	}
	return &domain.Bound{Time: ts.Time}, nil
}

func sortFieldValue(post *tent.Post[any], sort domain.SortKey) *tent.UnixMillis {
	switch sort {
	case domain.SortPublishedAt:
		return post.PublishedAt
	case domain.SortVersionReceivedAt:
		if post.Version != nil {
			return post.Version.ReceivedAt
		}
	case domain.SortVersionPublishedAt:
		if post.Version != nil {
			return post.Version.PublishedAt
		}
	default:
		return post.ReceivedAt
	}
	return nil
}

// Compile produces the range scan and its matching count query for one
// owner's feed. The scan runs ascending only when a since boundary anchors
// the lower end; both bounds are open.
func (rf *ResolvedFeed) Compile(ownerID string) (domain.RangeQuery, domain.CountQuery) {
	filter := domain.FilterSpec{
		UserIDs:     rf.userIDs,
		Types:       rf.spec.Types,
		Mentions:    rf.mentions,
		NotMentions: rf.notMentions,
	}

	rq := domain.RangeQuery{
		OwnerID:   ownerID,
		Sort:      rf.spec.Sort,
		Lower:     rf.lower,
		Upper:     rf.upper,
		Ascending: rf.spec.Since != nil,
		Skip:      rf.spec.Skip,
		Limit:     rf.spec.Limit,
		MaxRefs:   rf.spec.MaxRefs,
		Filter:    filter,
	}
	cq := domain.CountQuery{
		OwnerID: ownerID,
		Sort:    rf.spec.Sort,
		Lower:   rf.lower,
		Upper:   rf.upper,
		Filter:  filter,
	}
	return rq, cq
}

// Spec returns the spec this feed was resolved from.
func (rf *ResolvedFeed) Spec() FeedSpec {
	return rf.spec
}
