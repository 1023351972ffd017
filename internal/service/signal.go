package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/tentsuite/tent"
)

// ChannelPosts is the firehose channel every post create is announced on.
const ChannelPosts = "posts"

// SignalService fans realtime events out over redis pub/sub so every node
// holding a websocket can deliver them.
type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(rdb *redis.Client) *SignalService {
	return &SignalService{rdb: rdb}
}

func (s *SignalService) Publish(ctx context.Context, channel string, event tent.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	err = s.rdb.Publish(ctx, channel, payload).Err()
	if err != nil {
		slog.ErrorContext(
			ctx, "failed to publish event",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
			slog.String("module", "signal"),
		)
	}
	return err
}

// Realtime bridges a pub/sub subscription to a websocket session. The
// firehose channel is always on; additional channels arrive over input.
// Returns when the context ends or input closes.
func (s *SignalService) Realtime(ctx context.Context, input <-chan []string, output chan<- tent.Event) {
	pubsub := s.rdb.Subscribe(ctx, ChannelPosts)
	defer pubsub.Close()

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case channels, ok := <-input:
			if !ok {
				return
			}
			if err := pubsub.Subscribe(ctx, channels...); err != nil {
				slog.ErrorContext(
					ctx, "failed to subscribe",
					slog.String("error", err.Error()),
					slog.String("module", "signal"),
				)
			}
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var event tent.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.DebugContext(
					ctx, "dropping malformed event",
					slog.String("error", err.Error()),
					slog.String("module", "signal"),
				)
				continue
			}
			select {
			case output <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}
