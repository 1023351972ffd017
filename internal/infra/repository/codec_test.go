package repository

import (
	"strings"
	"testing"

	"github.com/tentsuite/tent"
)

func TestPostCodecRoundTrip(t *testing.T) {
	public := false
	post := &tent.Post[any]{
		UserID: "u-alice",
		ID:     "post-1",
		Entity: "https://alice.example.com",
		Type:   tent.TypeStatusReply,
		Version: &tent.Version{
			ID:      "v1",
			Parents: []tent.VersionParent{{Version: "v0", UserID: "u-alice", FoundPost: true}},
		},
		Mentions: []tent.Mention{{
			Entity:    "https://bob.example.com",
			Post:      "post-b",
			Public:    &public,
			UserID:    "u-bob",
			FoundPost: true,
			ReplyChain: []tent.ChainLink{
				{UserID: "u-carol", PostID: "post-c", VersionID: "vc"},
			},
		}},
		Refs: []tent.PostRef{{
			Post:      "post-r",
			UserID:    "u-bob",
			FoundPost: true,
		}},
		Permissions: &tent.Permissions{UserIDs: []string{"u-bob"}},
		Content:     map[string]any{"text": "hi"},
	}

	document, resolved, err := encodePost(post)
	if err != nil {
		t.Fatalf("encodePost: %v", err)
	}

	// resolution results must never leak into the wire document
	for _, leaked := range []string{"u-bob", "u-carol", "foundPost", "replyChain"} {
		if strings.Contains(document, leaked) {
			t.Errorf("document leaks %q: %s", leaked, document)
		}
	}

	got, err := decodePost(document, resolved)
	if err != nil {
		t.Fatalf("decodePost: %v", err)
	}

	if got.UserID != post.UserID {
		t.Errorf("userID = %q", got.UserID)
	}
	m := got.Mentions[0]
	if m.UserID != "u-bob" || !m.FoundPost {
		t.Errorf("mention resolution lost: %+v", m)
	}
	if len(m.ReplyChain) != 1 || m.ReplyChain[0].PostID != "post-c" {
		t.Errorf("reply chain lost: %+v", m.ReplyChain)
	}
	if !got.Refs[0].FoundPost || got.Refs[0].UserID != "u-bob" {
		t.Errorf("ref resolution lost: %+v", got.Refs[0])
	}
	if !got.Version.Parents[0].FoundPost {
		t.Errorf("parent resolution lost: %+v", got.Version.Parents[0])
	}
	if len(got.Permissions.UserIDs) != 1 || got.Permissions.UserIDs[0] != "u-bob" {
		t.Errorf("access list lost: %+v", got.Permissions.UserIDs)
	}
}

func TestDecodePostWithoutResolution(t *testing.T) {
	post := &tent.Post[any]{
		ID:      "post-1",
		Type:    tent.TypeStatus,
		Version: &tent.Version{ID: "v1"},
	}
	document, _, err := encodePost(post)
	if err != nil {
		t.Fatal(err)
	}

	got, err := decodePost(document, "")
	if err != nil {
		t.Fatalf("decodePost: %v", err)
	}
	if got.ID != "post-1" || got.UserID != "" {
		t.Errorf("post = %+v", got)
	}
}
