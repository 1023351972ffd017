package domain

import (
	"time"

	"github.com/tentsuite/tent"
)

// SortKey selects which timestamp a feed scan is ordered by.
type SortKey string

const (
	SortReceivedAt         SortKey = "received_at"
	SortVersionReceivedAt  SortKey = "version_received_at"
	SortPublishedAt        SortKey = "published_at"
	SortVersionPublishedAt SortKey = "version_published_at"
)

// Bound anchors one end of a range scan. Bounds are always open: the
// anchor value itself is excluded.
type Bound struct {
	Time time.Time
}

// MentionFilter matches a row carrying a mention of the target user,
// optionally narrowed to one post.
type MentionFilter struct {
	UserID string
	PostID string
}

func (f MentionFilter) match(post *tent.Post[any]) bool {
	for _, m := range post.Mentions {
		if m.UserID != f.UserID {
			continue
		}
		if f.PostID == "" || m.Post == f.PostID {
			return true
		}
	}
	return false
}

// FilterSpec is the post-scan filter applied to every row of a range scan:
// a single AND across an OR of users, an OR of types, an AND of mention
// OR-clauses, and the negated mention clauses.
type FilterSpec struct {
	UserIDs     []string
	Types       []tent.PostType
	Mentions    [][]MentionFilter
	NotMentions [][]MentionFilter
}

func (f FilterSpec) Match(post *tent.Post[any]) bool {
	if len(f.UserIDs) > 0 {
		ok := false
		for _, id := range f.UserIDs {
			if post.UserID == id {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if len(f.Types) > 0 && !tent.SamePostType(f.Types, post.Type) {
		return false
	}

	for _, clause := range f.Mentions {
		if !anyMention(clause, post) {
			return false
		}
	}
	for _, clause := range f.NotMentions {
		if anyMention(clause, post) {
			return false
		}
	}
	return true
}

func anyMention(clause []MentionFilter, post *tent.Post[any]) bool {
	for _, m := range clause {
		if m.match(post) {
			return true
		}
	}
	return false
}

// RangeQuery is an ordered open-interval scan over the (owner, sort key)
// index. A nil bound means the scan is unbounded on that end.
type RangeQuery struct {
	OwnerID   string
	Sort      SortKey
	Lower     *Bound
	Upper     *Bound
	Ascending bool
	Skip      int
	Limit     int
	MaxRefs   int
	Filter    FilterSpec
}

// CountQuery is the same range and filter without skip or limit.
type CountQuery struct {
	OwnerID string
	Sort    SortKey
	Lower   *Bound
	Upper   *Bound
	Filter  FilterSpec
}
