package repository

import (
	"testing"
	"time"

	"gorm.io/gorm/clause"

	"github.com/tentsuite/tent/internal/infra/database/models"
)

func TestFeedItemUpsertGuardsStaleVersions(t *testing.T) {
	item := models.FeedItem{
		OwnerID:           "u-owner",
		AuthorID:          "u-author",
		PostID:            "p1",
		VersionID:         "t0002",
		VersionReceivedAt: time.UnixMilli(2000).UTC(),
	}
	conflict := feedItemUpsert(item)

	wantCols := []string{"owner_id", "author_id", "post_id"}
	if len(conflict.Columns) != len(wantCols) {
		t.Fatalf("conflict columns = %+v, want %v", conflict.Columns, wantCols)
	}
	for i, col := range conflict.Columns {
		if col.Name != wantCols[i] {
			t.Errorf("conflict column %d = %q, want %q", i, col.Name, wantCols[i])
		}
	}

	assigned := map[string]any{}
	for _, a := range conflict.DoUpdates {
		assigned[a.Column.Name] = a.Value
	}
	if assigned["version_id"] != item.VersionID {
		t.Errorf("version_id assignment = %v, want %q", assigned["version_id"], item.VersionID)
	}
	if assigned["version_received_at"] != item.VersionReceivedAt {
		t.Errorf("version_received_at assignment = %v", assigned["version_received_at"])
	}

	if len(conflict.Where.Exprs) != 1 {
		t.Fatalf("guard exprs = %d, want 1", len(conflict.Where.Exprs))
	}
	or, ok := conflict.Where.Exprs[0].(clause.OrConditions)
	if !ok {
		t.Fatalf("guard is %T, want OrConditions", conflict.Where.Exprs[0])
	}
	if len(or.Exprs) != 2 {
		t.Fatalf("guard branches = %d, want 2", len(or.Exprs))
	}

	newer, ok := or.Exprs[0].(clause.Lt)
	if !ok || newer.Column != "feed_items.version_received_at" || newer.Value != item.VersionReceivedAt {
		t.Errorf("first branch = %+v, want strictly newer version_received_at", or.Exprs[0])
	}

	tie, ok := or.Exprs[1].(clause.AndConditions)
	if !ok || len(tie.Exprs) != 2 {
		t.Fatalf("second branch = %+v, want a two-clause tiebreak", or.Exprs[1])
	}
	sameAt, ok := tie.Exprs[0].(clause.Eq)
	if !ok || sameAt.Column != "feed_items.version_received_at" {
		t.Errorf("tiebreak condition = %+v, want equal version_received_at", tie.Exprs[0])
	}
	higherID, ok := tie.Exprs[1].(clause.Lt)
	if !ok || higherID.Column != "feed_items.version_id" || higherID.Value != item.VersionID {
		t.Errorf("tiebreak comparison = %+v, want strictly greater version_id", tie.Exprs[1])
	}
}
