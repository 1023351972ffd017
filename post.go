package tent

import "time"

// AssignID generates a unique post id only when none is present.
func AssignID(p *Post[any]) {
	if p.ID == "" {
		p.ID = NewPostID()
	}
}

// FillDefaultDates defaults published/received to now, truncated to
// millisecond precision, on both the post and its version envelope.
func FillDefaultDates(p *Post[any], now time.Time) {
	ts := Millis(now)
	if p.PublishedAt == nil {
		p.PublishedAt = &ts
	}
	if p.ReceivedAt == nil {
		p.ReceivedAt = &ts
	}
	if p.Version == nil {
		return
	}
	if p.Version.PublishedAt == nil {
		p.Version.PublishedAt = p.PublishedAt
	}
	if p.Version.ReceivedAt == nil {
		p.Version.ReceivedAt = &ts
	}
}

// CarryForwardDates pins the post-level dates of a new version to the very
// first version's dates. Post-level dates are fixed at creation; only the
// version-level dates move per edit.
func CarryForwardDates(p *Post[any], first *Post[any]) {
	if first == nil {
		return
	}
	p.PublishedAt = first.PublishedAt
	p.ReceivedAt = first.ReceivedAt
}

// ResolvePermissions finalizes the access list: default public, and public
// posts carry no list at all. Non-public posts merge every resolved
// mentioned user into the allow-list.
func ResolvePermissions(p *Post[any]) {
	if p.Permissions == nil {
		p.Permissions = &Permissions{Public: true}
	}
	if p.Permissions.Public {
		p.Permissions.Entities = nil
		p.Permissions.Groups = nil
		p.Permissions.UserIDs = nil
		return
	}
	seen := make(map[string]bool, len(p.Permissions.UserIDs))
	for _, id := range p.Permissions.UserIDs {
		seen[id] = true
	}
	for _, m := range p.Mentions {
		if m.UserID != "" && !seen[m.UserID] {
			p.Permissions.UserIDs = append(p.Permissions.UserIDs, m.UserID)
			seen[m.UserID] = true
		}
	}
}

// FirstResolvedMention returns the first mention whose target post was
// found, nil when the post has none. Reply chains follow only this single
// conversation line.
func FirstResolvedMention(p *Post[any]) *Mention {
	for i := range p.Mentions {
		if p.Mentions[i].FoundPost && p.Mentions[i].Post != "" {
			return &p.Mentions[i]
		}
	}
	return nil
}

// ReplyChain derives the full conversation line of a post: its first
// resolved mention followed by that mention's stored chain.
func ReplyChain(p *Post[any]) []ChainLink {
	fm := FirstResolvedMention(p)
	if fm == nil {
		return nil
	}
	chain := make([]ChainLink, 0, len(fm.ReplyChain)+1)
	chain = append(chain, ChainLink{UserID: fm.UserID, PostID: fm.Post, VersionID: fm.Version})
	return append(chain, fm.ReplyChain...)
}
