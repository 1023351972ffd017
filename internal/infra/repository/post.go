package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tentsuite/tent"
	"github.com/tentsuite/tent/internal/domain"
	"github.com/tentsuite/tent/internal/infra/database/models"
)

var tracer = otel.Tracer("repository")

// scanBatch is how many candidate feed rows are pulled per round while
// filling a filtered page.
const scanBatch = 256

type PostRepository struct {
	db *gorm.DB
}

func NewPostRepository(db *gorm.DB) *PostRepository {
	return &PostRepository{db: db}
}

// Create persists one version row, indexes its resolved mentions, lands it
// in the author's own feed, and advances the latest pointer only when the
// incoming (versionReceivedAt, versionId) pair is strictly greater.
func (r *PostRepository) Create(ctx context.Context, post *tent.Post[any]) error {
	ctx, span := tracer.Start(ctx, "Post.Repository.Create")
	defer span.End()

	document, resolved, err := encodePost(post)
	if err != nil {
		span.RecordError(err)
		return err
	}

	row := models.Post{
		AuthorID:           post.UserID,
		PostID:             post.ID,
		VersionID:          post.Version.ID,
		Type:               string(post.Type),
		TypeBase:           post.Type.Base(),
		Document:           document,
		Resolved:           resolved,
		Public:             post.Permissions == nil || post.Permissions.Public,
		PublishedAt:        timeOf(post.PublishedAt),
		ReceivedAt:         timeOf(post.ReceivedAt),
		VersionPublishedAt: timeOf(post.Version.PublishedAt),
		VersionReceivedAt:  timeOf(post.Version.ReceivedAt),
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			DoNothing: true,
		}).Create(&row).Error; err != nil {
			return err
		}

		latest := models.PostLatest{
			AuthorID:          row.AuthorID,
			PostID:            row.PostID,
			VersionID:         row.VersionID,
			VersionReceivedAt: row.VersionReceivedAt,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "author_id"}, {Name: "post_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"version_id":          latest.VersionID,
				"version_received_at": latest.VersionReceivedAt,
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Or(
					clause.Lt{Column: "post_latests.version_received_at", Value: latest.VersionReceivedAt},
					clause.And(
						clause.Eq{Column: "post_latests.version_received_at", Value: latest.VersionReceivedAt},
						clause.Lt{Column: "post_latests.version_id", Value: latest.VersionID},
					),
				),
			}},
		}).Create(&latest).Error
		if err != nil {
			return err
		}

		for _, m := range post.Mentions {
			if m.UserID == "" {
				continue
			}
			err := tx.Clauses(clause.OnConflict{
				DoNothing: true,
			}).Create(&models.PostMention{
				AuthorID:     row.AuthorID,
				PostID:       row.PostID,
				VersionID:    row.VersionID,
				TargetUserID: m.UserID,
				TargetPostID: m.Post,
			}).Error
			if err != nil {
				return err
			}
		}

		item := models.FeedItem{
			OwnerID:            row.AuthorID,
			AuthorID:           row.AuthorID,
			PostID:             row.PostID,
			VersionID:          row.VersionID,
			PublishedAt:        row.PublishedAt,
			ReceivedAt:         row.ReceivedAt,
			VersionPublishedAt: row.VersionPublishedAt,
			VersionReceivedAt:  row.VersionReceivedAt,
		}
		return tx.Clauses(feedItemUpsert(item)).Create(&item).Error
	})
}

// feedItemUpsert replaces an existing feed row only when the incoming
// (versionReceivedAt, versionId) pair is strictly greater, the same
// guard the latest pointer uses, so replayed or out-of-order deliveries
// cannot move a feed entry backwards.
func feedItemUpsert(item models.FeedItem) clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}, {Name: "author_id"}, {Name: "post_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"version_id":           item.VersionID,
			"version_published_at": item.VersionPublishedAt,
			"version_received_at":  item.VersionReceivedAt,
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Or(
				clause.Lt{Column: "feed_items.version_received_at", Value: item.VersionReceivedAt},
				clause.And(
					clause.Eq{Column: "feed_items.version_received_at", Value: item.VersionReceivedAt},
					clause.Lt{Column: "feed_items.version_id", Value: item.VersionID},
				),
			),
		}},
	}
}

// Deliver lands an already-stored post into another owner's feed. The
// propagation consumers call this for mentions and subscriptions.
func (r *PostRepository) Deliver(ctx context.Context, ownerID, authorID, postID string) error {
	ctx, span := tracer.Start(ctx, "Post.Repository.Deliver")
	defer span.End()

	post, err := r.Get(ctx, authorID, postID, "")
	if err != nil {
		span.RecordError(err)
		return err
	}

	item := models.FeedItem{
		OwnerID:            ownerID,
		AuthorID:           authorID,
		PostID:             postID,
		VersionID:          post.Version.ID,
		PublishedAt:        timeOf(post.PublishedAt),
		ReceivedAt:         timeOf(post.ReceivedAt),
		VersionPublishedAt: timeOf(post.Version.PublishedAt),
		VersionReceivedAt:  timeOf(post.Version.ReceivedAt),
	}
	return r.db.WithContext(ctx).Clauses(feedItemUpsert(item)).Create(&item).Error
}

func (r *PostRepository) Get(ctx context.Context, userID, postID, versionID string) (*tent.Post[any], error) {
	ctx, span := tracer.Start(ctx, "Post.Repository.Get")
	defer span.End()

	tx := r.db.WithContext(ctx).
		Where("author_id = ? AND post_id = ?", userID, postID)
	if versionID == "" {
		tx = tx.Order("version_received_at DESC, version_id DESC")
	} else {
		tx = tx.Where("version_id = ?", versionID)
	}

	var row models.Post
	if err := tx.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPostNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return decodePost(row.Document, row.Resolved)
}

func (r *PostRepository) FirstVersion(ctx context.Context, userID, postID string) (*tent.Post[any], error) {
	ctx, span := tracer.Start(ctx, "Post.Repository.FirstVersion")
	defer span.End()

	var row models.Post
	err := r.db.WithContext(ctx).
		Where("author_id = ? AND post_id = ?", userID, postID).
		Order("version_received_at ASC, version_id ASC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPostNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return decodePost(row.Document, row.Resolved)
}

// Query runs an open range scan over one owner's feed index and applies
// the post-scan filter, skip, and limit. Candidates are pulled in batches
// because the filter can reject arbitrarily many rows.
func (r *PostRepository) Query(ctx context.Context, q domain.RangeQuery) ([]*tent.Post[any], error) {
	ctx, span := tracer.Start(ctx, "Post.Repository.Query")
	defer span.End()

	var out []*tent.Post[any]
	skip := q.Skip
	offset := 0

	for {
		var rows []models.Post
		err := r.feedScan(ctx, q.OwnerID, q.Sort, q.Lower, q.Upper, q.Ascending).
			Offset(offset).
			Limit(scanBatch).
			Find(&rows).Error
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		for i := range rows {
			post, err := decodePost(rows[i].Document, rows[i].Resolved)
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
			if !q.Filter.Match(post) {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			out = append(out, post)
			if q.Limit > 0 && len(out) >= q.Limit {
				return out, nil
			}
		}

		if len(rows) < scanBatch {
			return out, nil
		}
		offset += scanBatch
	}
}

func (r *PostRepository) Count(ctx context.Context, q domain.CountQuery) (int64, error) {
	ctx, span := tracer.Start(ctx, "Post.Repository.Count")
	defer span.End()

	var total int64
	offset := 0
	for {
		var rows []models.Post
		err := r.feedScan(ctx, q.OwnerID, q.Sort, q.Lower, q.Upper, false).
			Offset(offset).
			Limit(scanBatch).
			Find(&rows).Error
		if err != nil {
			span.RecordError(err)
			return 0, err
		}

		for i := range rows {
			post, err := decodePost(rows[i].Document, rows[i].Resolved)
			if err != nil {
				span.RecordError(err)
				return 0, err
			}
			if q.Filter.Match(post) {
				total++
			}
		}

		if len(rows) < scanBatch {
			return total, nil
		}
		offset += scanBatch
	}
}

// feedScan builds the joined scan from feed rows to the latest version of
// each post, ordered over the (owner, sort field) index.
func (r *PostRepository) feedScan(ctx context.Context, ownerID string, sort domain.SortKey, lower, upper *domain.Bound, ascending bool) *gorm.DB {
	col := "feed_items." + sortColumn(sort)
	dir := "DESC"
	if ascending {
		dir = "ASC"
	}

	tx := r.db.WithContext(ctx).
		Table("feed_items").
		Select("posts.*").
		Joins("JOIN post_latests ON post_latests.author_id = feed_items.author_id AND post_latests.post_id = feed_items.post_id").
		Joins("JOIN posts ON posts.author_id = post_latests.author_id AND posts.post_id = post_latests.post_id AND posts.version_id = post_latests.version_id").
		Where("feed_items.owner_id = ?", ownerID)

	if lower != nil {
		tx = tx.Where(col+" > ?", lower.Time)
	}
	if upper != nil {
		tx = tx.Where(col+" < ?", upper.Time)
	}
	return tx.Order(col + " " + dir)
}

func sortColumn(sort domain.SortKey) string {
	switch sort {
	case domain.SortPublishedAt:
		return "published_at"
	case domain.SortVersionReceivedAt:
		return "version_received_at"
	case domain.SortVersionPublishedAt:
		return "version_published_at"
	default:
		return "received_at"
	}
}

// FindRelationship returns the latest relationship-typed post authored by
// userID that mentions targetUserID.
func (r *PostRepository) FindRelationship(ctx context.Context, userID, targetUserID string) (*tent.Post[any], error) {
	ctx, span := tracer.Start(ctx, "Post.Repository.FindRelationship")
	defer span.End()

	var row models.Post
	err := r.db.WithContext(ctx).
		Table("post_mentions").
		Select("posts.*").
		Joins("JOIN post_latests ON post_latests.author_id = post_mentions.author_id AND post_latests.post_id = post_mentions.post_id AND post_latests.version_id = post_mentions.version_id").
		Joins("JOIN posts ON posts.author_id = post_latests.author_id AND posts.post_id = post_latests.post_id AND posts.version_id = post_latests.version_id").
		Where("post_mentions.author_id = ? AND post_mentions.target_user_id = ?", userID, targetUserID).
		Where("posts.type_base = ?", tent.TypeRelationship.Base()).
		Order("posts.version_received_at DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPostNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return decodePost(row.Document, row.Resolved)
}

// GetCredentialsPost looks a credentials post up by id alone, for mapping
// a signature key id back to its owner.
func (r *PostRepository) GetCredentialsPost(ctx context.Context, postID string) (*tent.Post[any], error) {
	ctx, span := tracer.Start(ctx, "Post.Repository.GetCredentialsPost")
	defer span.End()

	var row models.Post
	err := r.db.WithContext(ctx).
		Table("post_latests").
		Select("posts.*").
		Joins("JOIN posts ON posts.author_id = post_latests.author_id AND posts.post_id = post_latests.post_id AND posts.version_id = post_latests.version_id").
		Where("post_latests.post_id = ?", postID).
		Where("posts.type_base = ?", tent.TypeCredentials.Base()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPostNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return decodePost(row.Document, row.Resolved)
}

func timeOf(t *tent.UnixMillis) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.Time
}
