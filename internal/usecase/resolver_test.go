package usecase

import (
	"context"
	"testing"

	"github.com/tentsuite/tent"
	"github.com/tentsuite/tent/internal/domain"
)

var (
	alice = domain.User{ID: "u-alice", Entity: "https://alice.example.com", Internal: true}
	bob   = domain.User{ID: "u-bob", Entity: "https://bob.example.com", Internal: true}
)

func TestResolveAllReplyChain(t *testing.T) {
	users := newMemUsers(alice, bob)
	posts := newMemPosts()

	// bob's post already carries a resolved conversation line C -> D
	target := &tent.Post[any]{
		UserID: bob.ID,
		ID:     "post-b",
		Type:   tent.TypeStatus.WithSubtype("reply"),
		Version: &tent.Version{ID: "vb"},
		Mentions: []tent.Mention{{
			UserID:    "u-carol",
			Post:      "post-c",
			Version:   "vc",
			FoundPost: true,
			ReplyChain: []tent.ChainLink{
				{UserID: "u-dave", PostID: "post-d", VersionID: "vd"},
			},
		}},
	}
	if err := posts.Create(context.Background(), target); err != nil {
		t.Fatal(err)
	}

	post := &tent.Post[any]{
		UserID: alice.ID,
		ID:     "post-a",
		Type:   tent.TypeStatus.WithSubtype("reply"),
		Mentions: []tent.Mention{{
			Entity:  bob.Entity,
			Post:    "post-b",
			Version: "vb",
		}},
	}

	r := NewResolver(users, posts)
	if err := r.ResolveAll(context.Background(), alice, post); err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}

	m := post.Mentions[0]
	if !m.FoundPost {
		t.Fatal("mention target not marked found")
	}
	if m.UserID != bob.ID {
		t.Fatalf("mention user = %q, want %q", m.UserID, bob.ID)
	}

	chain := tent.ReplyChain(post)
	want := []tent.ChainLink{
		{UserID: bob.ID, PostID: "post-b", VersionID: "vb"},
		{UserID: "u-carol", PostID: "post-c", VersionID: "vc"},
		{UserID: "u-dave", PostID: "post-d", VersionID: "vd"},
	}
	if len(chain) != len(want) {
		t.Fatalf("chain length = %d, want %d", len(chain), len(want))
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Errorf("chain[%d] = %+v, want %+v", i, chain[i], want[i])
		}
	}
}

func TestResolveAllFailureIsolation(t *testing.T) {
	users := newMemUsers(alice, bob)
	posts := newMemPosts()

	target := &tent.Post[any]{
		UserID:  bob.ID,
		ID:      "post-b",
		Type:    tent.TypeStatus,
		Version: &tent.Version{ID: "vb"},
	}
	if err := posts.Create(context.Background(), target); err != nil {
		t.Fatal(err)
	}

	post := &tent.Post[any]{
		UserID: alice.ID,
		ID:     "post-a",
		Type:   tent.TypeStatus,
		Mentions: []tent.Mention{
			{Entity: "https://nowhere.example.com", Post: "gone"},
			{Entity: bob.Entity, Post: "post-b"},
		},
	}

	r := NewResolver(users, posts)
	if err := r.ResolveAll(context.Background(), alice, post); err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}

	if post.Mentions[0].FoundPost {
		t.Error("unresolvable mention marked found")
	}
	if !post.Mentions[1].FoundPost {
		t.Error("resolvable mention not marked found, sibling failure leaked")
	}
}

func TestResolveAllSelfEntityNormalized(t *testing.T) {
	users := newMemUsers(alice)
	posts := newMemPosts()

	post := &tent.Post[any]{
		UserID:   alice.ID,
		ID:       "post-a",
		Type:     tent.TypeStatus,
		Mentions: []tent.Mention{{Entity: "HTTPS://ALICE.example.com/"}},
	}

	r := NewResolver(users, posts)
	if err := r.ResolveAll(context.Background(), alice, post); err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}

	if post.Mentions[0].Entity != "" {
		t.Errorf("self entity not normalized away, got %q", post.Mentions[0].Entity)
	}
	if post.Mentions[0].UserID != alice.ID {
		t.Errorf("mention user = %q, want %q", post.Mentions[0].UserID, alice.ID)
	}
}

func TestResolveAllEmptyEntityDefaultsToAuthor(t *testing.T) {
	users := newMemUsers(alice)
	posts := newMemPosts()

	prior := &tent.Post[any]{
		UserID:  alice.ID,
		ID:      "post-a",
		Type:    tent.TypeStatus,
		Version: &tent.Version{ID: "v1"},
	}
	if err := posts.Create(context.Background(), prior); err != nil {
		t.Fatal(err)
	}

	post := &tent.Post[any]{
		UserID:  alice.ID,
		ID:      "post-a",
		Type:    tent.TypeStatus,
		Version: &tent.Version{Parents: []tent.VersionParent{{Version: "v1"}}},
	}

	r := NewResolver(users, posts)
	if err := r.ResolveAll(context.Background(), alice, post); err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}

	parent := post.Version.Parents[0]
	if parent.UserID != alice.ID {
		t.Errorf("parent user = %q, want author", parent.UserID)
	}
	if !parent.FoundPost {
		t.Error("prior version not found")
	}
}
