package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/tentsuite/tent/internal/domain"
)

// QueueGateway feeds the propagation queues backed by redis lists.
// Delivery is at-least-once; consumers must process idempotently.
type QueueGateway struct {
	rdb   *redis.Client
	init  singleflight.Group
	ready atomic.Bool
}

func NewQueueGateway(rdb *redis.Client) *QueueGateway {
	return &QueueGateway{rdb: rdb}
}

// ensureReady marks every queue key once under concurrent first use. All
// concurrent callers await the same in-flight initialization; later calls
// are no-ops.
func (g *QueueGateway) ensureReady(ctx context.Context) error {
	if g.ready.Load() {
		return nil
	}
	_, err, _ := g.init.Do("init", func() (any, error) {
		queues := []string{
			domain.QueueMentions,
			domain.QueueSubscriptions,
			domain.QueueAppNotifications,
			domain.QueueMetaSubscriptions,
		}
		for _, q := range queues {
			if err := g.rdb.SetNX(ctx, q+":meta", time.Now().Unix(), 0).Err(); err != nil {
				slog.ErrorContext(
					ctx, "queue initialization failed",
					slog.String("queue", q),
					slog.String("error", err.Error()),
					slog.String("module", "queue"),
				)
				return nil, err
			}
		}
		g.ready.Store(true)
		return nil, nil
	})
	return err
}

func (g *QueueGateway) Enqueue(ctx context.Context, queue string, env domain.QueueEnvelope) error {
	if err := g.ensureReady(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	err = g.rdb.LPush(ctx, queue, payload).Err()
	if err != nil {
		slog.ErrorContext(
			ctx, "enqueue failed",
			slog.String("queue", queue),
			slog.String("error", err.Error()),
			slog.String("module", "queue"),
		)
	}
	return err
}

// Dequeue blocks up to timeout for the next envelope on a queue. A zero
// envelope and nil error means the wait timed out.
func (g *QueueGateway) Dequeue(ctx context.Context, queue string, timeout time.Duration) (domain.QueueEnvelope, bool, error) {
	if err := g.ensureReady(ctx); err != nil {
		return domain.QueueEnvelope{}, false, err
	}

	res, err := g.rdb.BRPop(ctx, timeout, queue).Result()
	if err != nil {
		if err == redis.Nil {
			return domain.QueueEnvelope{}, false, nil
		}
		return domain.QueueEnvelope{}, false, err
	}
	if len(res) < 2 {
		return domain.QueueEnvelope{}, false, nil
	}

	var env domain.QueueEnvelope
	if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
		return domain.QueueEnvelope{}, false, err
	}
	return env, true, nil
}
