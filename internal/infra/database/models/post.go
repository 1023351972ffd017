package models

import (
	"time"
)

// Post is one immutable version row. The wire document and the resolution
// results are stored as separate JSON blobs; the wire form never carries
// resolved user ids.
type Post struct {
	AuthorID  string `json:"authorId" gorm:"type:text;primaryKey"`
	PostID    string `json:"postId" gorm:"type:text;primaryKey"`
	VersionID string `json:"versionId" gorm:"type:text;primaryKey"`

	Type     string `json:"type" gorm:"type:text;index"`
	TypeBase string `json:"typeBase" gorm:"type:text;index"`
	Document string `json:"document" gorm:"type:json"`
	Resolved string `json:"resolved" gorm:"type:json"`
	Public   bool   `json:"public" gorm:"type:boolean;not null;default:true"`

	PublishedAt        time.Time `json:"publishedAt" gorm:"type:timestamp with time zone;index"`
	ReceivedAt         time.Time `json:"receivedAt" gorm:"type:timestamp with time zone;index"`
	VersionPublishedAt time.Time `json:"versionPublishedAt" gorm:"type:timestamp with time zone"`
	VersionReceivedAt  time.Time `json:"versionReceivedAt" gorm:"type:timestamp with time zone;index"`

	CDate time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// PostLatest is the latest-version pointer per post. It only advances when
// the incoming (versionReceivedAt, versionId) pair is strictly greater.
type PostLatest struct {
	AuthorID  string `json:"authorId" gorm:"type:text;primaryKey"`
	PostID    string `json:"postId" gorm:"type:text;primaryKey"`
	VersionID string `json:"versionId" gorm:"type:text;not null"`

	VersionReceivedAt time.Time `json:"versionReceivedAt" gorm:"type:timestamp with time zone;not null"`
}

// PostMention indexes resolved mention targets so relationship and mention
// lookups don't parse documents.
type PostMention struct {
	AuthorID     string `json:"authorId" gorm:"type:text;primaryKey"`
	PostID       string `json:"postId" gorm:"type:text;primaryKey"`
	VersionID    string `json:"versionId" gorm:"type:text;primaryKey"`
	TargetUserID string `json:"targetUserId" gorm:"type:text;primaryKey;index"`
	TargetPostID string `json:"targetPostId" gorm:"type:text"`
}

// FeedItem is one row of an owner's feed, keyed by the index the feed
// range scans run over. The author's own posts land here at create time;
// propagation consumers insert rows into other owners' feeds.
type FeedItem struct {
	OwnerID   string `json:"ownerId" gorm:"type:text;primaryKey;index:idx_feed_received,priority:1;index:idx_feed_published,priority:1"`
	AuthorID  string `json:"authorId" gorm:"type:text;primaryKey"`
	PostID    string `json:"postId" gorm:"type:text;primaryKey"`
	VersionID string `json:"versionId" gorm:"type:text;not null"`

	PublishedAt        time.Time `json:"publishedAt" gorm:"type:timestamp with time zone;index:idx_feed_published,priority:2"`
	ReceivedAt         time.Time `json:"receivedAt" gorm:"type:timestamp with time zone;index:idx_feed_received,priority:2"`
	VersionPublishedAt time.Time `json:"versionPublishedAt" gorm:"type:timestamp with time zone"`
	VersionReceivedAt  time.Time `json:"versionReceivedAt" gorm:"type:timestamp with time zone"`
}
