package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"rssel/internal/model"
)

// TagCandidates returns non-deleted items in scope. Unless scope.All is set
// only items without a tag watermark are returned.
func (s *SQLite) TagCandidates(ctx context.Context, scope TagScope) ([]model.Item, error) {
	var w where
	w.add("i.deleted = 0")
	if !scope.All {
		w.add("i.auto_tagged_ts IS NULL")
	}
	if len(scope.FeedURLs) > 0 {
		w.add("i.feed_url IN (?)", scope.FeedURLs)
	}
	if len(scope.Groups) > 0 {
		w.add("EXISTS (SELECT 1 FROM feed_groups g WHERE g.url = i.feed_url AND g.grp IN (?))", scope.Groups)
	}
	if len(scope.Tiers) > 0 {
		w.add("f.tier IN (?)", scope.Tiers)
	}

	query := itemColumns + w.sql() + ` ORDER BY i.id`
	args := w.args
	if scope.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, scope.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build candidate query: %w", err)
	}
	var rows []ItemRecord
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query tag candidates: %w", err)
	}
	return toModels(rows), nil
}

// ReplaceItemTags replaces the item's tag set in full and stamps its tag
// watermark, all in one transaction.
func (s *SQLite) ReplaceItemTags(ctx context.Context, id int64, tags []string, taggedAt time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE items SET auto_tagged_ts = ? WHERE id = ?`, FormatTime(taggedAt), id)
		if err != nil {
			return fmt.Errorf("stamp tag watermark: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("item %d: %w", id, ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM item_tags WHERE item_id = ?`, id); err != nil {
			return fmt.Errorf("clear item tags: %w", err)
		}

		for _, name := range tags {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tags (name) VALUES (?)`, name); err != nil {
				return fmt.Errorf("upsert tag: %w", err)
			}
			var tagID int64
			if err := tx.GetContext(ctx, &tagID, `SELECT id FROM tags WHERE name = ?`, name); err != nil {
				return fmt.Errorf("lookup tag: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO item_tags (item_id, tag_id) VALUES (?, ?)`, id, tagID,
			); err != nil {
				return fmt.Errorf("link tag: %w", err)
			}
		}
		return nil
	})
}

// ItemTags returns the tag names of one item, sorted.
func (s *SQLite) ItemTags(ctx context.Context, id int64) ([]string, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names,
		`SELECT t.name FROM tags t JOIN item_tags it ON it.tag_id = t.id
		 WHERE it.item_id = ? ORDER BY t.name`, id)
	if err != nil {
		return nil, fmt.Errorf("query item tags: %w", err)
	}
	return names, nil
}

// TagsForItems returns sorted tag names keyed by item id.
func (s *SQLite) TagsForItems(ctx context.Context, ids []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(
		`SELECT it.item_id, t.name FROM item_tags it JOIN tags t ON t.id = it.tag_id
		 WHERE it.item_id IN (?) ORDER BY it.item_id, t.name`, uniqueIDs(ids))
	if err != nil {
		return nil, fmt.Errorf("build tag query: %w", err)
	}
	var rows []struct {
		ItemID int64  `db:"item_id"`
		Name   string `db:"name"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	for _, r := range rows {
		out[r.ItemID] = append(out[r.ItemID], r.Name)
	}
	return out, nil
}

// MarkExported stamps the export watermark.
func (s *SQLite) MarkExported(ctx context.Context, ids []int64, at time.Time) error {
	return s.stamp(ctx, "fs_exported_ts", ids, at)
}

// MarkNotified stamps the notification watermark.
func (s *SQLite) MarkNotified(ctx context.Context, ids []int64, at time.Time) error {
	return s.stamp(ctx, "notified_ts", ids, at)
}

func (s *SQLite) stamp(ctx context.Context, column string, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := execIn(ctx, s.db,
		`UPDATE items SET `+column+` = ? WHERE id IN (?)`, FormatTime(at), uniqueIDs(ids),
	); err != nil {
		return fmt.Errorf("stamp %s: %w", column, err)
	}
	return nil
}
