package usecase

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"

	"github.com/tentsuite/tent"
	"github.com/tentsuite/tent/hawk"
	"github.com/tentsuite/tent/internal/domain"
)

// BewitTTL bounds the lifetime of credential handoff links.
const BewitTTL = 24 * time.Hour

// RelationshipUsecase drives the relationship state machine between two
// users: NONE, INITIAL, SUBSCRIBING or SUBSCRIBER, then established. Every
// negotiation failure surfaces as a nil relationship, never an error, so
// callers can retry safely.
type RelationshipUsecase struct {
	posts   PostRepository
	users   UserRepository
	creator *PostUsecase
	bewits  BewitRepository
	fed     FederationGateway
	config  domain.Config
	secret  []byte
}

func NewRelationshipUsecase(
	posts PostRepository,
	users UserRepository,
	creator *PostUsecase,
	bewits BewitRepository,
	fed FederationGateway,
	config domain.Config,
	secret []byte,
) *RelationshipUsecase {
	return &RelationshipUsecase{
		posts:   posts,
		users:   users,
		creator: creator,
		bewits:  bewits,
		fed:     fed,
		config:  config,
		secret:  secret,
	}
}

// GetRelationship returns the relationship post from userID toward
// targetEntity. With createIfMissing an INITIAL relationship and its
// credentials post are created when none exists; with propagate the
// negotiation is driven to SUBSCRIBING, mirroring directly for internal
// targets and over federation otherwise.
func (uc *RelationshipUsecase) GetRelationship(
	ctx context.Context,
	userID, targetEntity string,
	createIfMissing, propagate bool,
) (*tent.Post[any], error) {
	ctx, span := tracer.Start(ctx, "Relationship.Usecase.GetRelationship")
	defer span.End()

	target, err := uc.users.Discover(ctx, targetEntity)
	if err != nil {
		span.RecordError(err)
		return nil, nil
	}

	rel, err := uc.posts.FindRelationship(ctx, userID, target.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		return nil, err
	}
	if rel != nil && !tent.TypeRelationshipInitial.Matches(rel.Type) {
		return rel, nil
	}

	var creds *tent.Post[any]
	if rel == nil {
		if !createIfMissing {
			return nil, nil
		}
		rel, creds, err = uc.createInitial(ctx, userID, target)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	} else {
		creds, err = uc.findCredentials(ctx, userID, rel.ID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	if !propagate {
		return rel, nil
	}

	var remoteRel *tent.Mention
	if target.Internal {
		remoteRel, err = uc.propagateInternal(ctx, rel, creds, target)
	} else {
		remoteRel, err = uc.propagateExternal(ctx, rel, creds, target)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if remoteRel == nil {
		// negotiation incomplete, leave INITIAL in place for a retry
		return nil, nil
	}

	return uc.upgrade(ctx, rel, tent.TypeRelationshipSubscribing, target, remoteRel)
}

// AcceptRelationship handles an inbound relationship offer: verify the
// credentials link really points at the claimed entity's advertised
// server, import the remote credentials, and finalize the local side.
// The second return is the local credentials post granting the remote
// party access, sent back as the response of the handoff.
func (uc *RelationshipUsecase) AcceptRelationship(
	ctx context.Context,
	userID, remoteEntity, credsURL string,
) (*tent.Post[any], *tent.Post[any], error) {
	ctx, span := tracer.Start(ctx, "Relationship.Usecase.AcceptRelationship")
	defer span.End()

	remote, err := uc.users.Discover(ctx, remoteEntity)
	if err != nil {
		span.RecordError(err)
		return nil, nil, nil
	}

	meta, err := uc.fed.Discover(ctx, remoteEntity)
	if err != nil || meta == nil {
		return nil, nil, nil
	}
	if !servedBy(meta, credsURL) {
		return nil, nil, nil
	}

	env, err := uc.fed.GetURL(ctx, credsURL)
	if err != nil || env == nil || env.Post == nil {
		return nil, nil, nil
	}
	remoteCreds := env.Post
	if err := importRemotePost(ctx, uc.posts, remoteCreds, remote.ID); err != nil {
		span.RecordError(err)
		if errors.Is(err, tent.ErrVersionMissing) || errors.Is(err, tent.ErrVersionMismatch) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	remoteRel := relationshipMention(remoteCreds)
	if remoteRel == nil {
		return nil, nil, nil
	}
	remoteRel.UserID = remote.ID

	rel, err := uc.posts.FindRelationship(ctx, userID, remote.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		return nil, nil, err
	}
	var creds *tent.Post[any]
	if rel == nil {
		rel, creds, err = uc.createInitial(ctx, userID, remote)
	} else {
		creds, err = uc.findCredentials(ctx, userID, rel.ID)
	}
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	if creds != nil && creds.Permissions != nil {
		creds.Permissions.UserIDs = append(creds.Permissions.UserIDs, remote.ID)
	}

	rel, err = uc.upgrade(ctx, rel, tent.TypeRelationship, remote, remoteRel)
	if err != nil {
		return nil, nil, err
	}
	return rel, creds, nil
}

// createInitial writes the INITIAL relationship post and a credentials
// post carrying a fresh MAC key that mentions it.
func (uc *RelationshipUsecase) createInitial(ctx context.Context, userID string, target domain.User) (*tent.Post[any], *tent.Post[any], error) {
	private := false
	rel := &tent.Post[any]{
		UserID: userID,
		Type:   tent.TypeRelationshipInitial,
		Mentions: []tent.Mention{{
			Entity: target.Entity,
			UserID: target.ID,
			Public: &private,
		}},
		Permissions: &tent.Permissions{},
	}
	rel, err := uc.creator.Create(ctx, rel)
	if err != nil {
		return nil, nil, err
	}

	key, err := uc.newMACKey(userID, rel.ID)
	if err != nil {
		return nil, nil, err
	}
	creds := &tent.Post[any]{
		UserID: userID,
		Type:   tent.TypeCredentials,
		Mentions: []tent.Mention{{
			Post:   rel.ID,
			UserID: userID,
			Type:   rel.Type,
			Public: &private,
		}},
		Permissions: &tent.Permissions{UserIDs: []string{target.ID}},
		Content: tent.CredentialsContent{
			HawkKey:       key,
			HawkAlgorithm: "sha256",
		},
	}
	creds, err = uc.creator.Create(ctx, creds)
	if err != nil {
		return nil, nil, err
	}
	return rel, creds, nil
}

// propagateInternal mirrors the relationship into the internal target's
// own store without touching the network, exchanging credentials posts
// between both feeds.
func (uc *RelationshipUsecase) propagateInternal(ctx context.Context, rel, creds *tent.Post[any], target domain.User) (*tent.Mention, error) {
	private := false
	initiator, err := uc.users.GetByID(ctx, rel.UserID)
	if err != nil {
		return nil, err
	}

	mirror := &tent.Post[any]{
		UserID: target.ID,
		Type:   tent.TypeRelationshipSubscriber,
		Mentions: []tent.Mention{{
			Entity:  initiator.Entity,
			UserID:  rel.UserID,
			Post:    rel.ID,
			Version: rel.Version.ID,
			Type:    rel.Type,
			Public:  &private,
		}},
		Permissions: &tent.Permissions{UserIDs: []string{rel.UserID}},
	}
	mirror, err = uc.creator.Create(ctx, mirror)
	if err != nil {
		return nil, err
	}

	key, err := uc.newMACKey(target.ID, mirror.ID)
	if err != nil {
		return nil, err
	}
	mirrorCreds := &tent.Post[any]{
		UserID: target.ID,
		Type:   tent.TypeCredentials,
		Mentions: []tent.Mention{{
			Post:   mirror.ID,
			UserID: target.ID,
			Type:   mirror.Type,
			Public: &private,
		}},
		Permissions: &tent.Permissions{UserIDs: []string{rel.UserID}},
		Content: tent.CredentialsContent{
			HawkKey:       key,
			HawkAlgorithm: "sha256",
		},
	}
	if _, err := uc.creator.Create(ctx, mirrorCreds); err != nil {
		return nil, err
	}

	// the initiator's credentials post becomes readable by the target
	if creds != nil && creds.Permissions != nil {
		creds.Permissions.UserIDs = append(creds.Permissions.UserIDs, target.ID)
	}

	return &tent.Mention{
		Entity:  target.Entity,
		UserID:  target.ID,
		Post:    mirror.ID,
		Version: mirror.Version.ID,
		Type:    mirror.Type,
	}, nil
}

// propagateExternal delivers the relationship offer to the target's
// advertised server with a bewit link to the local credentials post. Any
// federated miss aborts the negotiation with a nil mention.
func (uc *RelationshipUsecase) propagateExternal(ctx context.Context, rel, creds *tent.Post[any], target domain.User) (*tent.Mention, error) {
	meta, err := uc.fed.Discover(ctx, target.Entity)
	if err != nil || meta == nil {
		return nil, nil
	}

	credsURL, err := uc.bewitURL(ctx, rel.Entity, creds.ID, "GET")
	if err != nil {
		return nil, err
	}

	env, err := uc.fed.PutRelationship(ctx, target.Entity, rel, credsURL)
	if err != nil {
		return nil, err
	}
	if env == nil || env.Post == nil {
		return nil, nil
	}

	remoteCreds := env.Post
	if err := importRemotePost(ctx, uc.posts, remoteCreds, target.ID); err != nil {
		if errors.Is(err, tent.ErrVersionMissing) || errors.Is(err, tent.ErrVersionMismatch) {
			return nil, nil
		}
		return nil, err
	}

	remoteRel := relationshipMention(remoteCreds)
	if remoteRel == nil {
		return nil, nil
	}
	remoteRel.UserID = target.ID
	return remoteRel, nil
}

// upgrade persists a new version of the relationship with the remote side
// attached as a mention; the mention fan-out then carries it downstream.
func (uc *RelationshipUsecase) upgrade(ctx context.Context, rel *tent.Post[any], state tent.PostType, target domain.User, remote *tent.Mention) (*tent.Post[any], error) {
	private := false
	next := &tent.Post[any]{
		UserID: rel.UserID,
		ID:     rel.ID,
		Type:   state,
		Version: &tent.Version{
			Parents: []tent.VersionParent{{Version: rel.Version.ID}},
		},
		Mentions: []tent.Mention{{
			Entity:  target.Entity,
			UserID:  target.ID,
			Post:    remote.Post,
			Version: remote.Version,
			Type:    remote.Type,
			Public:  &private,
		}},
		Permissions: &tent.Permissions{UserIDs: []string{target.ID}},
	}
	return uc.creator.Create(ctx, next)
}

// importRemotePost persists a post another server handed us. A version
// envelope is mandatory and its id must match the recomputed canonical
// hash, so a peer cannot smuggle tampered or versionless content into
// the store.
func importRemotePost(ctx context.Context, posts PostRepository, post *tent.Post[any], ownerID string) error {
	if post.Version == nil || post.Version.ID == "" {
		return tent.ErrVersionMissing
	}
	post.UserID = ownerID
	now := tent.Millis(time.Now())
	if post.ReceivedAt == nil {
		post.ReceivedAt = &now
	}
	if post.Version.ReceivedAt == nil {
		post.Version.ReceivedAt = &now
	}
	if _, err := tent.ComputeVersionID(post); err != nil {
		return err
	}
	return posts.Create(ctx, post)
}

// bewitURL issues a fresh capability token for one post and returns the
// full delegated-access URL.
func (uc *RelationshipUsecase) bewitURL(ctx context.Context, entity, postID, verb string) (string, error) {
	raw := uc.config.APIRoot + "/posts/" + url.PathEscape(entity) + "/" + url.PathEscape(postID)
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrap(err, "cannot build bewit url")
	}

	id := tent.NewPostID()
	key, err := randomKey()
	if err != nil {
		return "", err
	}
	expiresAt := time.Now().Add(BewitTTL)
	if err := uc.bewits.Create(ctx, domain.Bewit{ID: id, Key: key, ExpiresAt: expiresAt}); err != nil {
		return "", err
	}

	token := hawk.NewBewit(id, key, "", expiresAt, verb, u)
	q := u.Query()
	q.Set("bewit", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// findCredentials locates the credentials post mentioning a relationship
// post in the same user's store.
func (uc *RelationshipUsecase) findCredentials(ctx context.Context, userID, relID string) (*tent.Post[any], error) {
	rows, err := uc.posts.Query(ctx, domain.RangeQuery{
		OwnerID: userID,
		Sort:    domain.SortReceivedAt,
		Limit:   DefaultFeedLimit,
		Filter: domain.FilterSpec{
			Types:    []tent.PostType{tent.TypeCredentials},
			Mentions: [][]domain.MentionFilter{{{UserID: userID, PostID: relID}}},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.ErrPostNotFound
	}
	return rows[0], nil
}

// relationshipMention picks the mention pointing at a relationship post,
// the first mention as fallback.
func relationshipMention(creds *tent.Post[any]) *tent.Mention {
	for i := range creds.Mentions {
		if creds.Mentions[i].Type.Base() == tent.TypeRelationship.Base() {
			return &creds.Mentions[i]
		}
	}
	if len(creds.Mentions) > 0 {
		return &creds.Mentions[0]
	}
	return nil
}

// servedBy reports whether a URL is hosted by one of the servers the meta
// post advertises.
func servedBy(meta *tent.Post[any], target string) bool {
	content, err := tent.DecodeContent[tent.MetaContent](meta)
	if err != nil {
		return false
	}
	tu, err := url.Parse(target)
	if err != nil {
		return false
	}
	for _, server := range content.Servers {
		for _, raw := range server.URLs {
			su, err := url.Parse(raw)
			if err != nil {
				continue
			}
			if strings.EqualFold(su.Host, tu.Host) && su.Scheme == tu.Scheme {
				return true
			}
		}
	}
	return false
}

// newMACKey derives a per-relationship MAC key from the server secret,
// bound to the owning user and relationship post.
func (uc *RelationshipUsecase) newMACKey(userID, relID string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	kdf := hkdf.New(sha256.New, uc.secret, salt, []byte(userID+"/"+relID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return "", errors.Wrap(err, "key derivation failed")
	}
	return base64.RawURLEncoding.EncodeToString(append(salt, key...)), nil
}

func randomKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
