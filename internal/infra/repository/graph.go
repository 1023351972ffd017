package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/tentsuite/tent"
)

// GraphRepository answers the special feed sets from the relationship
// posts in the store.
type GraphRepository struct {
	db *gorm.DB
}

func NewGraphRepository(db *gorm.DB) *GraphRepository {
	return &GraphRepository{db: db}
}

// Followings are the users this user holds an outbound relationship with,
// either still subscribing or fully established.
func (r *GraphRepository) Followings(ctx context.Context, userID string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Graph.Repository.Followings")
	defer span.End()

	var ids []string
	err := r.latestRelationships(ctx).
		Where("post_mentions.author_id = ?", userID).
		Where("posts.type IN ?", []string{
			string(tent.TypeRelationship),
			string(tent.TypeRelationshipSubscribing),
		}).
		Pluck("post_mentions.target_user_id", &ids).Error
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return ids, nil
}

// Followers are the users holding an inbound relationship toward this
// user.
func (r *GraphRepository) Followers(ctx context.Context, userID string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Graph.Repository.Followers")
	defer span.End()

	var ids []string
	err := r.latestRelationships(ctx).
		Where("post_mentions.target_user_id = ?", userID).
		Where("posts.type IN ?", []string{
			string(tent.TypeRelationship),
			string(tent.TypeRelationshipSubscriber),
			string(tent.TypeRelationshipSubscribing),
		}).
		Pluck("post_mentions.author_id", &ids).Error
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return ids, nil
}

// Friends is the intersection of followings and followers.
func (r *GraphRepository) Friends(ctx context.Context, userID string) ([]string, error) {
	followings, err := r.Followings(ctx, userID)
	if err != nil {
		return nil, err
	}
	followers, err := r.Followers(ctx, userID)
	if err != nil {
		return nil, err
	}

	inbound := make(map[string]bool, len(followers))
	for _, id := range followers {
		inbound[id] = true
	}
	var friends []string
	for _, id := range followings {
		if inbound[id] {
			friends = append(friends, id)
		}
	}
	return friends, nil
}

func (r *GraphRepository) latestRelationships(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("post_mentions").
		Joins("JOIN post_latests ON post_latests.author_id = post_mentions.author_id AND post_latests.post_id = post_mentions.post_id AND post_latests.version_id = post_mentions.version_id").
		Joins("JOIN posts ON posts.author_id = post_latests.author_id AND posts.post_id = post_latests.post_id AND posts.version_id = post_latests.version_id").
		Where("posts.type_base = ?", tent.TypeRelationship.Base())
}
