package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tentsuite/tent"
	"github.com/tentsuite/tent/internal/domain"
)

func newPostUsecase(users *memUsers, posts *memPosts) (*PostUsecase, *memQueue, *memEvents) {
	queue := &memQueue{}
	events := &memEvents{}
	uc := NewPostUsecase(posts, users, NewResolver(users, posts), queue, events)
	return uc, queue, events
}

func TestCreateEndToEnd(t *testing.T) {
	users := newMemUsers(alice, bob)
	posts := newMemPosts()
	uc, queue, events := newPostUsecase(users, posts)

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
		Type:   tent.TypeStatus,
		Content: map[string]any{
			"text": "hello bob",
		},
		Mentions: []tent.Mention{{Entity: bob.Entity, Post: "post-b"}},
	}
	if post.Mentions[0].FoundPost {
		t.Fatal("mention found before resolution")
	}

	created, err := uc.Create(context.Background(), post)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if !created.Mentions[0].FoundPost {
		t.Error("mention not resolved")
	}
	id := created.Version.ID
	if !strings.HasPrefix(id, tent.DefaultHashPrefix) {
		t.Errorf("version id %q missing prefix %q", id, tent.DefaultHashPrefix)
	}
	if len(id) != len(tent.DefaultHashPrefix)+tent.DefaultHashLength {
		t.Errorf("version id length = %d, want %d", len(id), len(tent.DefaultHashPrefix)+tent.DefaultHashLength)
	}

	stored, err := posts.Get(context.Background(), alice.ID, created.ID, "")
	if err != nil {
		t.Fatalf("stored post missing: %v", err)
	}
	if stored.Version.ID != id {
		t.Errorf("stored version = %q, want %q", stored.Version.ID, id)
	}

	mentionEnvs := queue.onQueue(domain.QueueMentions)
	if len(mentionEnvs) != 1 {
		t.Fatalf("mention queue envelopes = %d, want 1", len(mentionEnvs))
	}
	if mentionEnvs[0].Target != bob.ID {
		t.Errorf("mention envelope target = %q, want %q", mentionEnvs[0].Target, bob.ID)
	}

	if len(events.events) != 1 || events.events[0].PostID != created.ID {
		t.Errorf("realtime events = %+v", events.events)
	}
}

func TestCreateVersionMismatchNotPersisted(t *testing.T) {
	users := newMemUsers(alice)
	posts := newMemPosts()
	uc, _, _ := newPostUsecase(users, posts)

	post := &tent.Post[any]{
		UserID:  alice.ID,
		Type:    tent.TypeStatus,
		Content: map[string]any{"text": "tampered"},
		Version: &tent.Version{ID: "t0000000000000000000000000000000000"},
	}

	_, err := uc.Create(context.Background(), post)
	if !errors.Is(err, tent.ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}

	rows, err := posts.Query(context.Background(), domain.RangeQuery{OwnerID: alice.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("mismatched post was persisted, %d rows", len(rows))
	}
}

func TestCreateEditRequiresVersionEnvelope(t *testing.T) {
	users := newMemUsers(alice)
	posts := newMemPosts()
	uc, _, _ := newPostUsecase(users, posts)

	post := &tent.Post[any]{
		UserID: alice.ID,
		ID:     "existing",
		Type:   tent.TypeStatus,
	}
	_, err := uc.Create(context.Background(), post)
	if !errors.Is(err, tent.ErrVersionMissing) {
		t.Fatalf("err = %v, want ErrVersionMissing", err)
	}
}

func TestCreateEditCarriesForwardPostDates(t *testing.T) {
	users := newMemUsers(alice)
	posts := newMemPosts()
	uc, _, _ := newPostUsecase(users, posts)

	first, err := uc.Create(context.Background(), &tent.Post[any]{
		UserID:  alice.ID,
		Type:    tent.TypeStatus,
		Content: map[string]any{"text": "v1"},
	})
	if err != nil {
		t.Fatal(err)
	}

	edit, err := uc.Create(context.Background(), &tent.Post[any]{
		UserID:  alice.ID,
		ID:      first.ID,
		Type:    tent.TypeStatus,
		Content: map[string]any{"text": "v2"},
		Version: &tent.Version{
			Parents: []tent.VersionParent{{Version: first.Version.ID}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if !edit.PublishedAt.Equal(first.PublishedAt.Time) {
		t.Errorf("published_at moved on edit: %v -> %v", first.PublishedAt, edit.PublishedAt)
	}
	if !edit.ReceivedAt.Equal(first.ReceivedAt.Time) {
		t.Errorf("received_at moved on edit: %v -> %v", first.ReceivedAt, edit.ReceivedAt)
	}
	if edit.Version.ID == first.Version.ID {
		t.Error("edit produced identical version id")
	}
	if !edit.Version.Parents[0].FoundPost {
		t.Error("version parent not resolved")
	}
}

func TestCreateNonPublicMergesMentionedUsers(t *testing.T) {
	users := newMemUsers(alice, bob)
	posts := newMemPosts()
	uc, _, _ := newPostUsecase(users, posts)

	created, err := uc.Create(context.Background(), &tent.Post[any]{
		UserID:      alice.ID,
		Type:        tent.TypeStatus,
		Content:     map[string]any{"text": "just us"},
		Mentions:    []tent.Mention{{Entity: bob.Entity}},
		Permissions: &tent.Permissions{},
	})
	if err != nil {
		t.Fatal(err)
	}

	if created.Permissions.Public {
		t.Fatal("explicit permissions overridden to public")
	}
	found := false
	for _, id := range created.Permissions.UserIDs {
		if id == bob.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("mentioned user not merged into access list: %v", created.Permissions.UserIDs)
	}
}

func TestGetRespectsPermissions(t *testing.T) {
	users := newMemUsers(alice, bob)
	posts := newMemPosts()
	uc, _, _ := newPostUsecase(users, posts)

	created, err := uc.Create(context.Background(), &tent.Post[any]{
		UserID:      alice.ID,
		Type:        tent.TypeStatus,
		Content:     map[string]any{"text": "private"},
		Mentions:    []tent.Mention{{Entity: bob.Entity}},
		Permissions: &tent.Permissions{},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := uc.Get(context.Background(), alice.ID, created.ID, "", bob.ID); err != nil {
		t.Errorf("mentioned user denied: %v", err)
	}
	if _, err := uc.Get(context.Background(), alice.ID, created.ID, "", "u-stranger"); !errors.Is(err, domain.ErrPostNotFound) {
		t.Errorf("stranger err = %v, want ErrPostNotFound", err)
	}
}

func TestReplyChainTraversal(t *testing.T) {
	users := newMemUsers(alice, bob)
	posts := newMemPosts()
	uc, _, _ := newPostUsecase(users, posts)

	root, err := uc.Create(context.Background(), &tent.Post[any]{
		UserID:  bob.ID,
		Type:    tent.TypeStatus,
		Content: map[string]any{"text": "root"},
	})
	if err != nil {
		t.Fatal(err)
	}

	reply, err := uc.Create(context.Background(), &tent.Post[any]{
		UserID:   alice.ID,
		Type:     tent.TypeStatusReply,
		Content:  map[string]any{"text": "reply"},
		Mentions: []tent.Mention{{Entity: bob.Entity, Post: root.ID}},
	})
	if err != nil {
		t.Fatal(err)
	}

	chain, err := uc.ReplyChain(context.Background(), alice.ID, reply.ID, alice.ID)
	if err != nil {
		t.Fatalf("ReplyChain: %v", err)
	}
	if len(chain) != 1 || chain[0].ID != root.ID {
		t.Fatalf("chain = %d posts, want root %q", len(chain), root.ID)
	}
}
