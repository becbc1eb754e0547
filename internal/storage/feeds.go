package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"rssel/internal/model"
)

const feedColumns = `SELECT f.rowid, f.url, f.grp, COALESCE(f.title, ''), f.archived, f.tier, f.last_fetch_ts FROM feeds f`

// UpsertFeeds registers or updates sources. The first group becomes the
// primary group and group membership is replaced. A missing title keeps the
// stored one; the archived flag is never touched.
func (s *SQLite) UpsertFeeds(ctx context.Context, sources []model.Source) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, src := range sources {
			primary := ""
			if len(src.Groups) > 0 {
				primary = src.Groups[0]
			}
			tier := src.Tier
			if tier < model.MinTier || tier > model.MaxTier {
				tier = model.DefaultTier
			}

			_, err := tx.ExecContext(ctx,
				`INSERT INTO feeds (url, grp, title, tier) VALUES (?, ?, ?, ?)
				 ON CONFLICT(url) DO UPDATE SET
				   grp = excluded.grp,
				   title = COALESCE(excluded.title, feeds.title),
				   tier = excluded.tier`,
				src.URL, primary, nullString(src.Title), tier,
			)
			if err != nil {
				return fmt.Errorf("upsert feed %s: %w", src.URL, err)
			}

			if _, err := tx.ExecContext(ctx, `DELETE FROM feed_groups WHERE url = ?`, src.URL); err != nil {
				return fmt.Errorf("clear groups: %w", err)
			}
			for _, g := range src.Groups {
				if _, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO feed_groups (url, grp) VALUES (?, ?)`, src.URL, g,
				); err != nil {
					return fmt.Errorf("insert group: %w", err)
				}
			}
		}
		return nil
	})
}

// ListFeeds returns the feeds matching sel ordered by handle.
func (s *SQLite) ListFeeds(ctx context.Context, sel FeedSelector) ([]model.Feed, error) {
	var w where
	switch {
	case sel.Explicit():
		var parts []string
		if len(sel.Handles) > 0 {
			parts = append(parts, "f.rowid IN (?)")
			w.args = append(w.args, sel.Handles)
		}
		if len(sel.URLs) > 0 {
			parts = append(parts, "f.url IN (?)")
			w.args = append(w.args, sel.URLs)
		}
		w.conds = append(w.conds, "("+strings.Join(parts, " OR ")+")")
	default:
		if len(sel.Groups) > 0 {
			w.add("EXISTS (SELECT 1 FROM feed_groups g WHERE g.url = f.url AND g.grp IN (?))", sel.Groups)
		}
		if len(sel.Tiers) > 0 {
			w.add("f.tier IN (?)", sel.Tiers)
		}
	}
	if !sel.IncludeArchived {
		w.add("f.archived = 0")
	}

	query, args, err := sqlx.In(feedColumns+w.sql()+" ORDER BY f.rowid", w.args...)
	if err != nil {
		return nil, fmt.Errorf("build feed query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	feeds, err := scanFeeds(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	if err := s.attachGroups(ctx, feeds); err != nil {
		return nil, err
	}
	return feeds, nil
}

// ResolveFeed finds a feed by numeric handle or URL.
func (s *SQLite) ResolveFeed(ctx context.Context, ref string) (*model.Feed, error) {
	ref = strings.TrimSpace(ref)
	var row *sql.Row
	if h, err := strconv.ParseInt(ref, 10, 64); err == nil {
		row = s.db.QueryRowContext(ctx, feedColumns+` WHERE f.rowid = ?`, h)
	} else {
		row = s.db.QueryRowContext(ctx, feedColumns+` WHERE f.url = ?`, ref)
	}
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %q: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	feeds := []model.Feed{*f}
	if err := s.attachGroups(ctx, feeds); err != nil {
		return nil, err
	}
	return &feeds[0], nil
}

// SetFeedsArchived flips the archived flag and returns the number of feeds changed.
func (s *SQLite) SetFeedsArchived(ctx context.Context, urls []string, archived bool) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	n, err := execIn(ctx, s.db, `UPDATE feeds SET archived = ? WHERE url IN (?)`, boolToInt(archived), urls)
	if err != nil {
		return 0, fmt.Errorf("archive feeds: %w", err)
	}
	return n, nil
}

// ArchiveFeedItems soft-deletes the items of the given feeds. Starred items
// are kept unless force is set.
func (s *SQLite) ArchiveFeedItems(ctx context.Context, urls []string, force bool) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	query := `UPDATE items SET deleted = 1 WHERE feed_url IN (?) AND deleted = 0`
	if !force {
		query += ` AND starred = 0`
	}
	n, err := execIn(ctx, s.db, query, urls)
	if err != nil {
		return 0, fmt.Errorf("archive feed items: %w", err)
	}
	return n, nil
}

// Groups returns every group label in use, sorted.
func (s *SQLite) Groups(ctx context.Context) ([]string, error) {
	var groups []string
	if err := s.db.SelectContext(ctx, &groups, `SELECT DISTINCT grp FROM feed_groups ORDER BY grp`); err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	return groups, nil
}

func (s *SQLite) attachGroups(ctx context.Context, feeds []model.Feed) error {
	if len(feeds) == 0 {
		return nil
	}
	urls := make([]string, len(feeds))
	for i, f := range feeds {
		urls[i] = f.URL
	}
	query, args, err := sqlx.In(`SELECT url, grp FROM feed_groups WHERE url IN (?) ORDER BY rowid`, urls)
	if err != nil {
		return fmt.Errorf("build group query: %w", err)
	}
	var memberships []struct {
		URL   string `db:"url"`
		Group string `db:"grp"`
	}
	if err := s.db.SelectContext(ctx, &memberships, query, args...); err != nil {
		return fmt.Errorf("query feed groups: %w", err)
	}
	byURL := make(map[string][]string, len(feeds))
	for _, m := range memberships {
		byURL[m.URL] = append(byURL[m.URL], m.Group)
	}
	for i := range feeds {
		feeds[i].Groups = byURL[feeds[i].URL]
	}
	return nil
}

func scanFeed(row scannable) (*model.Feed, error) {
	var f model.Feed
	var archived int
	var lastFetch sql.NullString
	err := row.Scan(&f.Handle, &f.URL, &f.PrimaryGroup, &f.Title, &archived, &f.Tier, &lastFetch)
	if err != nil {
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	f.Archived = archived == 1
	f.LastFetchAt = parseNullTime(lastFetch)
	return &f, nil
}

func scanFeeds(rows *sql.Rows) ([]model.Feed, error) {
	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}
