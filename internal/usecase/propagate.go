package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/tentsuite/tent/internal/domain"
)

const dequeueTimeout = 5 * time.Second

// QueueConsumer drains propagation envelopes. A false ok means the wait
// timed out with nothing queued.
type QueueConsumer interface {
	Dequeue(ctx context.Context, queue string, timeout time.Duration) (domain.QueueEnvelope, bool, error)
}

// FeedDeliverer lands an already-stored post into another owner's feed.
type FeedDeliverer interface {
	Deliver(ctx context.Context, ownerID, authorID, postID string) error
}

// PropagationWorker drains the mention queue and delivers each mentioned
// post into the mentioned local user's feed. Envelopes are at-least-once,
// so delivery must be idempotent; the feed store upserts.
type PropagationWorker struct {
	queues QueueConsumer
	posts  FeedDeliverer
	users  UserRepository
}

func NewPropagationWorker(
	queues QueueConsumer,
	posts FeedDeliverer,
	users UserRepository,
) *PropagationWorker {
	return &PropagationWorker{
		queues: queues,
		posts:  posts,
		users:  users,
	}
}

// Run consumes until the context is cancelled. Failed envelopes are
// logged and dropped; the producer side re-mentions on the next version.
func (w *PropagationWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, ok, err := w.queues.Dequeue(ctx, domain.QueueMentions, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.ErrorContext(
				ctx, "dequeue failed",
				slog.String("error", err.Error()),
				slog.String("module", "propagation"),
			)
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}

		if err := w.handle(ctx, env); err != nil {
			slog.ErrorContext(
				ctx, "mention delivery failed",
				slog.String("target", env.Target),
				slog.String("postId", env.PostID),
				slog.String("error", err.Error()),
				slog.String("module", "propagation"),
			)
		}
	}
}

func (w *PropagationWorker) handle(ctx context.Context, env domain.QueueEnvelope) error {
	target, err := w.users.GetByID(ctx, env.Target)
	if err != nil {
		return err
	}
	if !target.Internal {
		// remote targets learn about mentions when they fetch; only local
		// feeds are materialized here
		return nil
	}
	if target.ID == env.UserID {
		return nil
	}
	return w.posts.Deliver(ctx, target.ID, env.UserID, env.PostID)
}
