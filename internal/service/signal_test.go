package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tentsuite/tent"
)

func TestSignalPublishReachesRealtime(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	signal := NewSignalService(rdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := make(chan []string)
	output := make(chan tent.Event, 1)
	go signal.Realtime(ctx, input, output)

	event := tent.Event{Action: "create", UserID: "u1", PostID: "p1", VersionID: "v1"}

	// the subscription races the publish; retry until the bridge is up
	deadline := time.After(2 * time.Second)
	for {
		if err := signal.Publish(ctx, ChannelPosts, event); err != nil {
			t.Fatal(err)
		}
		select {
		case got := <-output:
			if got != event {
				t.Fatalf("got %+v want %+v", got, event)
			}
			return
		case <-deadline:
			t.Fatal("event never arrived")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestRealtimeStopsWhenInputCloses(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	signal := NewSignalService(rdb)

	input := make(chan []string)
	output := make(chan tent.Event)

	done := make(chan struct{})
	go func() {
		signal.Realtime(context.Background(), input, output)
		close(done)
	}()

	close(input)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("realtime bridge did not stop when input closed")
	}
}
