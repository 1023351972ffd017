package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tentsuite/tent"
	"github.com/tentsuite/tent/internal/domain"
	"github.com/tentsuite/tent/internal/infra/database/models"
)

const (
	userCacheTTL = 300 // seconds

	// rediscoveryInterval is how long a federated user's meta post is
	// trusted before discovery runs again.
	rediscoveryInterval = 24 * time.Hour
)

// MetaDiscoverer fetches the meta post an entity advertises.
type MetaDiscoverer interface {
	DiscoverMeta(ctx context.Context, entity string) (*tent.Post[any], error)
}

type UserRepository struct {
	db         *gorm.DB
	mc         *memcache.Client
	discoverer MetaDiscoverer
}

func NewUserRepository(db *gorm.DB, mc *memcache.Client, discoverer MetaDiscoverer) *UserRepository {
	return &UserRepository{db: db, mc: mc, discoverer: discoverer}
}

func userCacheKey(kind, value string) string {
	return fmt.Sprintf("user:%s:%x", kind, xxh3.HashString(value))
}

func (r *UserRepository) cacheGet(key string) (domain.User, bool) {
	if r.mc == nil {
		return domain.User{}, false
	}
	item, err := r.mc.Get(key)
	if err != nil {
		return domain.User{}, false
	}
	var user domain.User
	if err := json.Unmarshal(item.Value, &user); err != nil {
		return domain.User{}, false
	}
	return user, true
}

func (r *UserRepository) cacheSet(key string, user domain.User) {
	if r.mc == nil {
		return
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return
	}
	err = r.mc.Set(&memcache.Item{Key: key, Value: raw, Expiration: userCacheTTL})
	if err != nil {
		slog.Debug(
			"user cache set failed",
			slog.String("error", err.Error()),
			slog.String("module", "repository"),
		)
	}
}

func (r *UserRepository) cacheInvalidate(user domain.User) {
	if r.mc == nil {
		return
	}
	r.mc.Delete(userCacheKey("id", user.ID))
	r.mc.Delete(userCacheKey("entity", tent.NormalizeEntity(user.Entity)))
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	key := userCacheKey("id", id)
	if user, ok := r.cacheGet(key); ok {
		return user, nil
	}

	var row models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, err
	}

	user := fromRow(row)
	r.cacheSet(key, user)
	return user, nil
}

func (r *UserRepository) GetByEntity(ctx context.Context, entity string) (domain.User, error) {
	entity = tent.NormalizeEntity(entity)
	key := userCacheKey("entity", entity)
	if user, ok := r.cacheGet(key); ok {
		return user, nil
	}

	var row models.User
	err := r.db.WithContext(ctx).Where("entity = ?", entity).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, err
	}

	user := fromRow(row)
	r.cacheSet(key, user)
	return user, nil
}

func (r *UserRepository) Register(ctx context.Context, user domain.User) (domain.User, error) {
	ctx, span := tracer.Start(ctx, "User.Repository.Register")
	defer span.End()

	if user.ID == "" {
		user.ID = tent.NewPostID()
	}
	user.Entity = tent.NormalizeEntity(user.Entity)

	row, err := toRow(user)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, err
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity"}},
		DoUpdates: clause.Assignments(map[string]any{
			"handle":             row.Handle,
			"meta_post_id":       row.MetaPostID,
			"last_discovered_at": row.LastDiscoveredAt,
		}),
	}).Create(&row).Error
	if err != nil {
		span.RecordError(err)
		return domain.User{}, errors.Wrap(err, "user persist failed")
	}

	r.cacheInvalidate(user)
	return fromRow(row), nil
}

// Discover resolves an entity to a user. Unknown or stale federated
// entities trigger a network discovery; bare local handles never do.
func (r *UserRepository) Discover(ctx context.Context, entity string) (domain.User, error) {
	ctx, span := tracer.Start(ctx, "User.Repository.Discover")
	defer span.End()

	user, err := r.GetByEntity(ctx, entity)
	if err == nil {
		if user.Internal || fresh(user.LastDiscoveredAt) {
			return user, nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		return domain.User{}, err
	}

	if !tent.IsEntity(entity) || r.discoverer == nil {
		if err == nil {
			return user, nil
		}
		return domain.User{}, domain.ErrUserNotFound
	}

	meta, err := r.discoverer.DiscoverMeta(ctx, entity)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, errors.Wrap(err, "discovery failed")
	}
	if meta == nil {
		return domain.User{}, domain.ErrMetaNotFound
	}
	content, err := tent.DecodeContent[tent.MetaContent](meta)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, errors.Wrap(err, "unreadable meta post")
	}

	now := time.Now()
	canonical := content.Entity
	if canonical == "" {
		canonical = entity
	}
	return r.Register(ctx, domain.User{
		ID:               user.ID,
		Entity:           canonical,
		PreviousEntities: content.Previous,
		Internal:         false,
		MetaPostID:       meta.ID,
		LastDiscoveredAt: &now,
	})
}

// ResolveEntity is the reference resolver's view of discovery.
func (r *UserRepository) ResolveEntity(ctx context.Context, entity string) (domain.User, error) {
	return r.Discover(ctx, entity)
}

func fresh(t *time.Time) bool {
	return t != nil && time.Since(*t) < rediscoveryInterval
}

func fromRow(row models.User) domain.User {
	var previous []string
	if row.PreviousEntities != "" {
		json.Unmarshal([]byte(row.PreviousEntities), &previous)
	}
	return domain.User{
		ID:               row.ID,
		Entity:           row.Entity,
		PreviousEntities: previous,
		Handle:           row.Handle,
		Internal:         row.Internal,
		MetaPostID:       row.MetaPostID,
		LastDiscoveredAt: row.LastDiscoveredAt,
	}
}

func toRow(user domain.User) (models.User, error) {
	previous, err := json.Marshal(user.PreviousEntities)
	if err != nil {
		return models.User{}, err
	}
	return models.User{
		ID:               user.ID,
		Entity:           user.Entity,
		PreviousEntities: string(previous),
		Handle:           user.Handle,
		Internal:         user.Internal,
		MetaPostID:       user.MetaPostID,
		LastDiscoveredAt: user.LastDiscoveredAt,
	}, nil
}
