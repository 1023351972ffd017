package repository

import (
	"encoding/json"

	"github.com/tentsuite/tent"
)

// resolution carries everything the wire document deliberately omits:
// resolved user ids, found flags, reply chains, and the access list. It is
// stored next to the document and merged back by array index on load.
type resolution struct {
	UserID   string            `json:"userId"`
	Mentions []entryResolution `json:"mentions,omitempty"`
	Refs     []entryResolution `json:"refs,omitempty"`
	Parents  []entryResolution `json:"parents,omitempty"`
	Readers  []string          `json:"readers,omitempty"`
}

type entryResolution struct {
	UserID     string           `json:"userId,omitempty"`
	FoundPost  bool             `json:"foundPost,omitempty"`
	ReplyChain []tent.ChainLink `json:"replyChain,omitempty"`
}

func encodePost(post *tent.Post[any]) (document, resolved string, err error) {
	doc, err := json.Marshal(post)
	if err != nil {
		return "", "", err
	}

	res := resolution{UserID: post.UserID}
	for _, m := range post.Mentions {
		res.Mentions = append(res.Mentions, entryResolution{
			UserID:     m.UserID,
			FoundPost:  m.FoundPost,
			ReplyChain: m.ReplyChain,
		})
	}
	for _, ref := range post.Refs {
		res.Refs = append(res.Refs, entryResolution{UserID: ref.UserID, FoundPost: ref.FoundPost})
	}
	if post.Version != nil {
		for _, p := range post.Version.Parents {
			res.Parents = append(res.Parents, entryResolution{UserID: p.UserID, FoundPost: p.FoundPost})
		}
	}
	if post.Permissions != nil {
		res.Readers = post.Permissions.UserIDs
	}

	raw, err := json.Marshal(res)
	if err != nil {
		return "", "", err
	}
	return string(doc), string(raw), nil
}

func decodePost(document, resolved string) (*tent.Post[any], error) {
	var post tent.Post[any]
	if err := json.Unmarshal([]byte(document), &post); err != nil {
		return nil, err
	}

	var res resolution
	if resolved != "" {
		if err := json.Unmarshal([]byte(resolved), &res); err != nil {
			return nil, err
		}
	}

	post.UserID = res.UserID
	for i := range post.Mentions {
		if i >= len(res.Mentions) {
			break
		}
		post.Mentions[i].UserID = res.Mentions[i].UserID
		post.Mentions[i].FoundPost = res.Mentions[i].FoundPost
		post.Mentions[i].ReplyChain = res.Mentions[i].ReplyChain
	}
	for i := range post.Refs {
		if i >= len(res.Refs) {
			break
		}
		post.Refs[i].UserID = res.Refs[i].UserID
		post.Refs[i].FoundPost = res.Refs[i].FoundPost
	}
	if post.Version != nil {
		for i := range post.Version.Parents {
			if i >= len(res.Parents) {
				break
			}
			post.Version.Parents[i].UserID = res.Parents[i].UserID
			post.Version.Parents[i].FoundPost = res.Parents[i].FoundPost
		}
	}
	if post.Permissions != nil {
		post.Permissions.UserIDs = res.Readers
	}
	return &post, nil
}
