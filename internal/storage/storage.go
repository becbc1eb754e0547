// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"rssel/internal/model"
)

// ErrNotFound is returned when an item or feed does not exist.
var ErrNotFound = errors.New("not found")

// FeedSelector picks feeds. Explicit handles or URLs take precedence over
// groups and tiers; with no criteria every feed matches.
type FeedSelector struct {
	Handles         []int64
	URLs            []string
	Groups          []string
	Tiers           []int
	IncludeArchived bool
}

// Explicit reports whether the selector names feeds directly.
func (s FeedSelector) Explicit() bool {
	return len(s.Handles) > 0 || len(s.URLs) > 0
}

// IngestCount reports the outcome of persisting one feed's entries.
type IngestCount struct {
	Seen     int
	Inserted int
}

// TagScope selects the items considered by the auto-tagger.
type TagScope struct {
	Groups   []string
	Tiers    []int
	FeedURLs []string
	// All ignores the tag watermark.
	All   bool
	Limit int
}

// PurgeRequest describes which items to remove physically.
type PurgeRequest struct {
	Deleted    bool
	ReadBefore *time.Time
	Force      bool
}

// Storage is the interface for all persistence operations.
type Storage interface {
	UpsertFeeds(ctx context.Context, sources []model.Source) error
	ListFeeds(ctx context.Context, sel FeedSelector) ([]model.Feed, error)
	ResolveFeed(ctx context.Context, ref string) (*model.Feed, error)
	SetFeedsArchived(ctx context.Context, urls []string, archived bool) (int, error)
	ArchiveFeedItems(ctx context.Context, urls []string, force bool) (int, error)
	Groups(ctx context.Context) ([]string, error)

	IngestEntries(ctx context.Context, feedURL string, items []model.Item, fetchedAt time.Time) (IngestCount, error)

	GetItem(ctx context.Context, id int64) (*model.Item, error)
	GetItems(ctx context.Context, ids []int64) ([]model.Item, error)
	SetRead(ctx context.Context, ids []int64, read bool) (int, error)
	SetStarred(ctx context.Context, ids []int64, starred bool) (int, error)
	ArchiveItemIDs(ctx context.Context, ids []int64, force bool) (ArchiveResult, error)
	ArchiveItems(ctx context.Context, ids []int64, force bool) (int, error)
	RestoreItems(ctx context.Context, ids []int64) (int, error)
	Purge(ctx context.Context, req PurgeRequest) (int, error)
	NextUnread(ctx context.Context, groups []string) (*model.Item, error)

	TagCandidates(ctx context.Context, scope TagScope) ([]model.Item, error)
	ReplaceItemTags(ctx context.Context, id int64, tags []string, taggedAt time.Time) error
	ItemTags(ctx context.Context, id int64) ([]string, error)
	TagsForItems(ctx context.Context, ids []int64) (map[int64][]string, error)

	MarkExported(ctx context.Context, ids []int64, at time.Time) error
	MarkNotified(ctx context.Context, ids []int64, at time.Time) error

	// DB exposes the handle used by the query engine.
	DB() *sqlx.DB

	Close() error
}
