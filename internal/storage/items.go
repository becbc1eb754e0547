package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"rssel/internal/model"
)

// ItemFields lists every item column plus its feed's title and primary
// group, for use with ItemFrom. The result scans into ItemRecord.
const ItemFields = `i.id, i.feed_url, COALESCE(f.title, '') AS feed_title, f.grp,
	i.guid, i.uid, i.title, i.link, i.summary, i.content, i.published_ts, i.created_ts,
	i.read, i.starred, i.deleted, i.auto_tagged_ts, i.fs_exported_ts, i.notified_ts`

// ItemFrom joins items (i) with their feeds (f).
const ItemFrom = ` FROM items i JOIN feeds f ON f.url = i.feed_url`

const itemColumns = `SELECT ` + ItemFields + ItemFrom

// ItemRecord is the row shape produced by ItemFields.
type ItemRecord struct {
	ID           int64          `db:"id"`
	FeedURL      string         `db:"feed_url"`
	FeedTitle    string         `db:"feed_title"`
	Group        string         `db:"grp"`
	GUID         sql.NullString `db:"guid"`
	UID          string         `db:"uid"`
	Title        string         `db:"title"`
	Link         string         `db:"link"`
	Summary      string         `db:"summary"`
	Content      string         `db:"content"`
	PublishedTS  sql.NullString `db:"published_ts"`
	CreatedTS    string         `db:"created_ts"`
	Read         bool           `db:"read"`
	Starred      bool           `db:"starred"`
	Deleted      bool           `db:"deleted"`
	AutoTaggedTS sql.NullString `db:"auto_tagged_ts"`
	ExportedTS   sql.NullString `db:"fs_exported_ts"`
	NotifiedTS   sql.NullString `db:"notified_ts"`
}

// Model converts the row to a domain item.
func (d ItemRecord) Model() model.Item {
	it := model.Item{
		ID:           d.ID,
		FeedURL:      d.FeedURL,
		FeedTitle:    d.FeedTitle,
		Group:        d.Group,
		GUID:         d.GUID.String,
		UID:          d.UID,
		Title:        d.Title,
		Link:         d.Link,
		Summary:      d.Summary,
		Content:      d.Content,
		Created:      ParseTime(d.CreatedTS),
		Read:         d.Read,
		Starred:      d.Starred,
		Deleted:      d.Deleted,
		AutoTaggedAt: parseNullTime(d.AutoTaggedTS),
		ExportedAt:   parseNullTime(d.ExportedTS),
		NotifiedAt:   parseNullTime(d.NotifiedTS),
	}
	if d.PublishedTS.Valid {
		it.Published = ParseTime(d.PublishedTS.String)
	}
	if it.Group == "" {
		it.Group = model.UngroupedLabel
	}
	return it
}

func toModels(rows []ItemRecord) []model.Item {
	return lo.Map(rows, func(d ItemRecord, _ int) model.Item { return d.Model() })
}

// IngestEntries persists one feed's entries in a single transaction with
// insert-or-ignore semantics and stamps the feed's last fetch time. The new
// item count is the difference of the feed's row counts before and after.
func (s *SQLite) IngestEntries(ctx context.Context, feedURL string, items []model.Item, fetchedAt time.Time) (IngestCount, error) {
	res := IngestCount{Seen: len(items)}
	created := FormatTime(fetchedAt)

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		before, err := countFeedItems(ctx, tx, feedURL)
		if err != nil {
			return err
		}

		stmt, err := tx.PreparexContext(ctx,
			`INSERT OR IGNORE INTO items
			   (feed_url, guid, uid, title, link, summary, content, published_ts, created_ts)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, it := range items {
			if _, err := stmt.ExecContext(ctx,
				feedURL, nullString(it.GUID), it.UID, it.Title, it.Link, it.Summary, it.Content,
				nullTime(it.Published), created,
			); err != nil {
				return fmt.Errorf("insert item %s: %w", it.UID, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE feeds SET last_fetch_ts = ? WHERE url = ?`, created, feedURL,
		); err != nil {
			return fmt.Errorf("update last fetch: %w", err)
		}

		after, err := countFeedItems(ctx, tx, feedURL)
		if err != nil {
			return err
		}
		res.Inserted = after - before
		return nil
	})
	if err != nil {
		return IngestCount{}, err
	}
	return res, nil
}

func countFeedItems(ctx context.Context, tx *sqlx.Tx, feedURL string) (int, error) {
	var n int
	if err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM items WHERE feed_url = ?`, feedURL); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// GetItem returns a single item by id.
func (s *SQLite) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	var d ItemRecord
	err := s.db.GetContext(ctx, &d, itemColumns+` WHERE i.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	it := d.Model()
	return &it, nil
}

// GetItems returns the items with the given ids ordered by id. Unknown ids
// are skipped.
func (s *SQLite) GetItems(ctx context.Context, ids []int64) ([]model.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(itemColumns+` WHERE i.id IN (?) ORDER BY i.id`, uniqueIDs(ids))
	if err != nil {
		return nil, fmt.Errorf("build item query: %w", err)
	}
	var rows []ItemRecord
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	return toModels(rows), nil
}

// SetRead marks items read or unread. Every id must exist.
func (s *SQLite) SetRead(ctx context.Context, ids []int64, read bool) (int, error) {
	return s.setFlag(ctx, ids, `UPDATE items SET read = ? WHERE id IN (?)`, read)
}

// SetStarred stars or unstars items. Every id must exist.
func (s *SQLite) SetStarred(ctx context.Context, ids []int64, starred bool) (int, error) {
	return s.setFlag(ctx, ids, `UPDATE items SET starred = ? WHERE id IN (?)`, starred)
}

func (s *SQLite) setFlag(ctx context.Context, ids []int64, query string, v bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := requireItems(ctx, tx, ids); err != nil {
			return err
		}
		var err error
		n, err = execIn(ctx, tx, query, boolToInt(v), uniqueIDs(ids))
		return err
	})
	return n, err
}

// ArchiveResult reports an archive by id.
type ArchiveResult struct {
	Archived int
	// Kept lists starred items left alone because force was not set.
	Kept []int64
}

// ArchiveItemIDs soft-deletes the given items in one transaction. Every id
// must exist or nothing changes. Starred items are kept unless force is set.
func (s *SQLite) ArchiveItemIDs(ctx context.Context, ids []int64, force bool) (ArchiveResult, error) {
	var res ArchiveResult
	if len(ids) == 0 {
		return res, nil
	}
	ids = uniqueIDs(ids)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := requireItems(ctx, tx, ids); err != nil {
			return err
		}
		if !force {
			query, args, err := sqlx.In(`SELECT id FROM items WHERE id IN (?) AND starred = 1 AND deleted = 0 ORDER BY id`, ids)
			if err != nil {
				return fmt.Errorf("build starred lookup: %w", err)
			}
			if err := tx.SelectContext(ctx, &res.Kept, query, args...); err != nil {
				return fmt.Errorf("lookup starred items: %w", err)
			}
		}
		query := `UPDATE items SET deleted = 1 WHERE id IN (?) AND deleted = 0`
		if !force {
			query += ` AND starred = 0`
		}
		n, err := execIn(ctx, tx, query, ids)
		if err != nil {
			return fmt.Errorf("archive items: %w", err)
		}
		res.Archived = n
		return nil
	})
	if err != nil {
		return ArchiveResult{}, err
	}
	return res, nil
}

// ArchiveItems soft-deletes items in bulk, silently skipping starred ones
// unless force is set. It returns the number of items changed.
func (s *SQLite) ArchiveItems(ctx context.Context, ids []int64, force bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `UPDATE items SET deleted = 1 WHERE id IN (?) AND deleted = 0`
	if !force {
		query += ` AND starred = 0`
	}
	n, err := execIn(ctx, s.db, query, uniqueIDs(ids))
	if err != nil {
		return 0, fmt.Errorf("archive items: %w", err)
	}
	return n, nil
}

// RestoreItems clears the soft-deleted flag. Every id must exist.
func (s *SQLite) RestoreItems(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := requireItems(ctx, tx, ids); err != nil {
			return err
		}
		var err error
		n, err = execIn(ctx, tx, `UPDATE items SET deleted = 0 WHERE id IN (?) AND deleted = 1`, uniqueIDs(ids))
		if err != nil {
			return fmt.Errorf("restore items: %w", err)
		}
		return nil
	})
	return n, err
}

// Purge physically removes soft-deleted items and/or read items older than
// a cutoff. Starred items survive unless forced. Orphaned tags are dropped.
func (s *SQLite) Purge(ctx context.Context, req PurgeRequest) (int, error) {
	var targets []string
	var args []any
	if req.Deleted {
		targets = append(targets, "deleted = 1")
	}
	if req.ReadBefore != nil {
		targets = append(targets, "(read = 1 AND COALESCE(published_ts, created_ts) < ?)")
		args = append(args, FormatTime(*req.ReadBefore))
	}
	if len(targets) == 0 {
		return 0, errors.New("purge: nothing selected")
	}

	query := `DELETE FROM items WHERE (` + strings.Join(targets, " OR ") + `)`
	if !req.Force {
		query += ` AND starred = 0`
	}

	var n int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("purge items: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		n = int(affected)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM tags WHERE id NOT IN (SELECT tag_id FROM item_tags)`,
		); err != nil {
			return fmt.Errorf("drop orphan tags: %w", err)
		}
		return nil
	})
	return n, err
}

// NextUnread returns the newest unread, non-deleted item, optionally
// restricted to groups.
func (s *SQLite) NextUnread(ctx context.Context, groups []string) (*model.Item, error) {
	var w where
	w.add("i.read = 0")
	w.add("i.deleted = 0")
	if len(groups) > 0 {
		w.add("EXISTS (SELECT 1 FROM feed_groups g WHERE g.url = i.feed_url AND g.grp IN (?))", groups)
	}
	query, args, err := sqlx.In(itemColumns+w.sql()+
		` ORDER BY COALESCE(i.published_ts, i.created_ts) DESC, i.id DESC LIMIT 1`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("build next query: %w", err)
	}
	var d ItemRecord
	err = s.db.GetContext(ctx, &d, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("unread item: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("next unread: %w", err)
	}
	it := d.Model()
	return &it, nil
}
