package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tentsuite/tent/internal/domain"
)

func newTestQueue(t *testing.T) (*QueueGateway, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewQueueGateway(rdb), mr
}

func TestEnqueueDequeue(t *testing.T) {
	g, _ := newTestQueue(t)
	ctx := context.Background()

	want := domain.QueueEnvelope{
		UserID:    "u-alice",
		PostID:    "post-1",
		VersionID: "v1",
		Target:    "u-bob",
	}
	if err := g.Enqueue(ctx, domain.QueueMentions, want); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, ok, err := g.Dequeue(ctx, domain.QueueMentions, time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if !ok {
		t.Fatal("dequeue returned no envelope")
	}
	if got != want {
		t.Errorf("envelope = %+v, want %+v", got, want)
	}
}

func TestEnqueuePreservesOrder(t *testing.T) {
	g, _ := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		if err := g.Enqueue(ctx, domain.QueueSubscriptions, domain.QueueEnvelope{PostID: id}); err != nil {
			t.Fatal(err)
		}
	}

	for _, want := range []string{"p1", "p2", "p3"} {
		env, ok, err := g.Dequeue(ctx, domain.QueueSubscriptions, time.Second)
		if err != nil || !ok {
			t.Fatalf("dequeue: ok=%v err=%v", ok, err)
		}
		if env.PostID != want {
			t.Errorf("post = %q, want %q", env.PostID, want)
		}
	}
}

func TestInitializeOnceUnderConcurrency(t *testing.T) {
	g, mr := newTestQueue(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Enqueue(ctx, domain.QueueMentions, domain.QueueEnvelope{PostID: "p"})
		}()
	}
	wg.Wait()

	if !g.ready.Load() {
		t.Fatal("gateway never became ready")
	}
	if !mr.Exists(domain.QueueMentions + ":meta") {
		t.Fatal("queue metadata key missing")
	}
	if got, err := mr.List(domain.QueueMentions); err != nil || len(got) != 16 {
		t.Fatalf("queued = %d (err %v), want 16", len(got), err)
	}
}
