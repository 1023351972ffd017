package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tentsuite/tent/internal/domain"
)

const bewitKeyPrefix = "bewit:"

// BewitRepository stores capability-token records in redis; expiry pruning
// comes from the key TTL.
type BewitRepository struct {
	rdb *redis.Client
}

func NewBewitRepository(rdb *redis.Client) *BewitRepository {
	return &BewitRepository{rdb: rdb}
}

func (r *BewitRepository) Create(ctx context.Context, bewit domain.Bewit) error {
	ctx, span := tracer.Start(ctx, "Bewit.Repository.Create")
	defer span.End()

	raw, err := json.Marshal(bewit)
	if err != nil {
		span.RecordError(err)
		return err
	}
	ttl := time.Until(bewit.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return r.rdb.Set(ctx, bewitKeyPrefix+bewit.ID, raw, ttl).Err()
}

func (r *BewitRepository) Get(ctx context.Context, id string) (domain.Bewit, error) {
	ctx, span := tracer.Start(ctx, "Bewit.Repository.Get")
	defer span.End()

	raw, err := r.rdb.Get(ctx, bewitKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.Bewit{}, domain.NotFoundError{Resource: "bewit"}
		}
		span.RecordError(err)
		return domain.Bewit{}, err
	}

	var bewit domain.Bewit
	if err := json.Unmarshal(raw, &bewit); err != nil {
		span.RecordError(err)
		return domain.Bewit{}, err
	}
	return bewit, nil
}
