package tent

import (
	"strconv"
	"strings"
	"time"
)

const (
	MediaTypePost = "application/vnd.tent.post.v0+json"

	TypeMeta         PostType = "https://tent.io/types/meta/v0#"
	TypeStatus       PostType = "https://tent.io/types/status/v0#"
	TypeStatusReply  PostType = "https://tent.io/types/status/v0#reply"
	TypeApp          PostType = "https://tent.io/types/app/v0#"
	TypeSubscription PostType = "https://tent.io/types/subscription/v0#"

	TypeRelationship            PostType = "https://tent.io/types/relationship/v0#"
	TypeRelationshipInitial     PostType = "https://tent.io/types/relationship/v0#initial"
	TypeRelationshipSubscriber  PostType = "https://tent.io/types/relationship/v0#subscriber"
	TypeRelationshipSubscribing PostType = "https://tent.io/types/relationship/v0#subscribing"

	TypeCredentials PostType = "https://tent.io/types/credentials/v0#"
)

// PostType is a `base#subtype` pair. A type with no fragment separator is a
// wildcard matching every subtype of its base.
type PostType string

func (t PostType) Base() string {
	if i := strings.Index(string(t), "#"); i >= 0 {
		return string(t)[:i]
	}
	return string(t)
}

func (t PostType) Subtype() string {
	if i := strings.Index(string(t), "#"); i >= 0 {
		return string(t)[i+1:]
	}
	return ""
}

// IsWildcard reports whether the type stands for every subtype of its
// base: either no fragment separator at all, or a bare trailing one with
// an empty subtype.
func (t PostType) IsWildcard() bool {
	i := strings.Index(string(t), "#")
	return i < 0 || i == len(t)-1
}

// Matches reports whether a concrete post type satisfies this filter type.
// Wildcard types match on base, exact types on the full pair.
func (t PostType) Matches(other PostType) bool {
	if t.IsWildcard() {
		return t.Base() == other.Base()
	}
	return t == other
}

// WithSubtype replaces the fragment, keeping the base.
func (t PostType) WithSubtype(subtype string) PostType {
	return PostType(t.Base() + "#" + subtype)
}

// UnixMillis is a point in time carried on the wire as epoch milliseconds.
// All protocol timestamps are truncated to millisecond precision.
type UnixMillis struct {
	time.Time
}

func Millis(t time.Time) UnixMillis {
	return UnixMillis{t.Truncate(time.Millisecond)}
}

func (t UnixMillis) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(t.UnixMilli(), 10)), nil
}

func (t *UnixMillis) UnmarshalJSON(b []byte) error {
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

// ChainLink is one ancestor hop in a mention's reply chain.
type ChainLink struct {
	UserID    string `json:"userId"`
	PostID    string `json:"postId"`
	VersionID string `json:"versionId"`
}

// Mention references another entity, optionally a specific post of theirs.
// UserID, FoundPost and ReplyChain are resolution results; they are persisted
// but never emitted on the wire.
type Mention struct {
	Entity         string   `json:"entity,omitempty"`
	OriginalEntity string   `json:"original_entity,omitempty"`
	Post           string   `json:"post,omitempty"`
	Version        string   `json:"version,omitempty"`
	Type           PostType `json:"type,omitempty"`
	Public         *bool    `json:"public,omitempty"`

	UserID     string      `json:"-"`
	FoundPost  bool        `json:"-"`
	ReplyChain []ChainLink `json:"-"`
}

// IsPublic reports the mention's visibility; unset means public.
func (m Mention) IsPublic() bool {
	return m.Public == nil || *m.Public
}

// PostRef is a non-conversational cross-reference to another post.
type PostRef struct {
	Entity         string   `json:"entity,omitempty"`
	OriginalEntity string   `json:"original_entity,omitempty"`
	Post           string   `json:"post"`
	Version        string   `json:"version,omitempty"`
	Type           PostType `json:"type,omitempty"`

	UserID    string `json:"-"`
	FoundPost bool   `json:"-"`
}

// VersionParent points at a prior version, possibly of another post on
// another entity.
type VersionParent struct {
	Entity  string `json:"entity,omitempty"`
	Post    string `json:"post,omitempty"`
	Version string `json:"version"`

	UserID    string `json:"-"`
	FoundPost bool   `json:"-"`
}

type Version struct {
	ID          string          `json:"id,omitempty"`
	PublishedAt *UnixMillis     `json:"published_at,omitempty"`
	ReceivedAt  *UnixMillis     `json:"received_at,omitempty"`
	Parents     []VersionParent `json:"parents,omitempty"`
}

// Permissions is the resolved access list of a post. Public posts carry no
// list at all.
type Permissions struct {
	Public   bool     `json:"public"`
	Entities []string `json:"entities,omitempty"`
	Groups   []string `json:"groups,omitempty"`

	UserIDs []string `json:"-"`
}

type Attachment struct {
	Category    string `json:"category"`
	ContentType string `json:"content_type"`
	Name        string `json:"name"`
	Digest      string `json:"digest,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// AppRef identifies the application a post was published through.
type AppRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Post is one versioned, typed unit of content published by an entity.
// Identity is (UserID, ID); each edit produces a new Version under the same
// ID.
type Post[T any] struct {
	ID             string       `json:"id,omitempty"`
	Entity         string       `json:"entity,omitempty"`
	OriginalEntity string       `json:"original_entity,omitempty"`
	Type           PostType     `json:"type"`
	PublishedAt    *UnixMillis  `json:"published_at,omitempty"`
	ReceivedAt     *UnixMillis  `json:"received_at,omitempty"`
	Version        *Version     `json:"version,omitempty"`
	Mentions       []Mention    `json:"mentions,omitempty"`
	Refs           []PostRef    `json:"refs,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Permissions    *Permissions `json:"permissions,omitempty"`
	App            *AppRef      `json:"app,omitempty"`
	Content        T            `json:"content,omitempty"`

	UserID string `json:"-"`
}

// PageLinks are the paging cursors of a feed or versions listing.
type PageLinks struct {
	First string `json:"first,omitempty"`
	Prev  string `json:"prev,omitempty"`
	Next  string `json:"next,omitempty"`
	Last  string `json:"last,omitempty"`
}

// PostEnvelope is the wire shape of a single-post response.
type PostEnvelope struct {
	Post     *Post[any] `json:"post"`
	Pages    *PageLinks `json:"pages,omitempty"`
	Mentions []Mention  `json:"mentions,omitempty"`
	Versions []Version  `json:"versions,omitempty"`
}

// MetaContent is the discovery document advertised by a server for an
// entity: its canonical entity URI and API endpoints.
type MetaContent struct {
	Entity   string       `json:"entity"`
	Previous []string     `json:"previous_entities,omitempty"`
	Servers  []MetaServer `json:"servers"`
}

type MetaServer struct {
	Version    string            `json:"version"`
	Preference int               `json:"preference"`
	URLs       map[string]string `json:"urls"`
}

// PreferredServer picks the advertised server with the lowest preference
// value, nil when none is advertised.
func (m MetaContent) PreferredServer() *MetaServer {
	var best *MetaServer
	for i := range m.Servers {
		if best == nil || m.Servers[i].Preference < best.Preference {
			best = &m.Servers[i]
		}
	}
	return best
}

// CredentialsContent carries the MAC key tied to a relationship.
type CredentialsContent struct {
	HawkKey       string `json:"hawk_key"`
	HawkAlgorithm string `json:"hawk_algorithm"`
}

// RelationshipContent is intentionally empty; relationship state lives in
// the post's subtype.
type RelationshipContent struct{}

// StatusContent is a plain status update.
type StatusContent struct {
	Text     string `json:"text"`
	Location string `json:"location,omitempty"`
}

// Event is the envelope published to the realtime firehose.
type Event struct {
	Action    string `json:"action"`
	UserID    string `json:"userId"`
	PostID    string `json:"postId"`
	VersionID string `json:"versionId"`
	Type      string `json:"type"`
}
