// Package query composes typed filters, sort orders and groupings into
// parameterized queries over the item store.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"rssel/internal/model"
	"rssel/internal/storage"
)

// Unlimited disables the result cap.
const Unlimited = -1

// DefaultLimit caps results when neither the query nor the engine sets one.
const DefaultLimit = 500

// tagBatch bounds the number of ids bound in one tag lookup.
const tagBatch = 500

// ParseError reports an unknown sort, grouping or date field name.
type ParseError struct {
	Kind  string
	Value string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Value)
}

// Sort is a result ordering.
type Sort string

// Sort orders. Date sorts use the query's DateField and break ties by id.
const (
	SortID       Sort = "id"
	SortIDDesc   Sort = "id-desc"
	SortTitle    Sort = "title"
	SortTags     Sort = "tags"
	SortDate     Sort = "date"
	SortDateDesc Sort = "date-desc"
)

// ParseSort parses a sort name. The empty string selects SortDateDesc.
func ParseSort(s string) (Sort, error) {
	switch v := Sort(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return SortDateDesc, nil
	case SortID, SortIDDesc, SortTitle, SortTags, SortDate, SortDateDesc:
		return v, nil
	default:
		return "", &ParseError{Kind: "sort", Value: s}
	}
}

func (s Sort) orderBy(field DateField) string {
	date := field.expr()
	switch s {
	case SortID:
		return "i.id ASC"
	case SortIDDesc:
		return "i.id DESC"
	case SortTitle:
		return "i.title COLLATE NOCASE ASC, i.id ASC"
	case SortTags:
		return "tag_count DESC, " + date + " DESC, i.id DESC"
	case SortDate:
		return date + " ASC, i.id ASC"
	default:
		return date + " DESC, i.id DESC"
	}
}

// Query is a complete item query.
type Query struct {
	Predicates []Predicate
	Sort       Sort
	DateField  DateField
	// Limit of 0 applies the engine default; Unlimited removes the cap.
	Limit int
}

// Where appends predicates and returns the query for chaining.
func (q Query) Where(p ...Predicate) Query {
	q.Predicates = append(append([]Predicate(nil), q.Predicates...), p...)
	return q
}

// Row is one matching item with its feed tier and tags.
type Row struct {
	model.Item
	Tier int
	Tags []string
}

type record struct {
	storage.ItemRecord
	Tier     int `db:"tier"`
	TagCount int `db:"tag_count"`
}

// Engine runs queries against the item store.
type Engine struct {
	db           *sqlx.DB
	defaultLimit int
	now          func() time.Time
}

// New creates an Engine. A non-positive defaultLimit selects DefaultLimit.
func New(db *sqlx.DB, defaultLimit int) *Engine {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Engine{
		db:           db,
		defaultLimit: defaultLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the reference time of relative predicates.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Build lowers q to SQL with bind arguments.
func (e *Engine) Build(q Query) (string, []any, error) {
	b := &builder{now: e.now()}
	for _, p := range q.Predicates {
		p.lower(b)
	}
	switch b.deleted {
	case DeletedExclude:
		b.add("i.deleted = 0")
	case DeletedOnly:
		b.add("i.deleted = 1")
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + storage.ItemFields + `, f.tier,
		(SELECT COUNT(*) FROM item_tags x WHERE x.item_id = i.id) AS tag_count` + storage.ItemFrom)
	if len(b.conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.conds, " AND "))
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(q.Sort.orderBy(q.DateField))

	limit := q.Limit
	if limit == 0 {
		limit = e.defaultLimit
	}
	args := b.args
	if limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	query, args, err := sqlx.In(sb.String(), args...)
	if err != nil {
		return "", nil, fmt.Errorf("build item query: %w", err)
	}
	return query, args, nil
}

// Find returns the items matching q in the requested order.
func (e *Engine) Find(ctx context.Context, q Query) ([]Row, error) {
	query, args, err := e.Build(q)
	if err != nil {
		return nil, err
	}
	var recs []record
	if err := e.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}

	rows := lo.Map(recs, func(r record, _ int) Row {
		return Row{Item: r.Model(), Tier: r.Tier}
	})
	if err := e.attachTags(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *Engine) attachTags(ctx context.Context, rows []Row) error {
	index := make(map[int64]int, len(rows))
	for i, r := range rows {
		index[r.ID] = i
	}
	ids := lo.Map(rows, func(r Row, _ int) int64 { return r.ID })
	for _, chunk := range lo.Chunk(ids, tagBatch) {
		query, args, err := sqlx.In(`SELECT it.item_id, t.name FROM item_tags it
			JOIN tags t ON t.id = it.tag_id WHERE it.item_id IN (?) ORDER BY t.name`, chunk)
		if err != nil {
			return fmt.Errorf("build tag query: %w", err)
		}
		var pairs []struct {
			ItemID int64  `db:"item_id"`
			Name   string `db:"name"`
		}
		if err := e.db.SelectContext(ctx, &pairs, query, args...); err != nil {
			return fmt.Errorf("query item tags: %w", err)
		}
		for _, p := range pairs {
			i := index[p.ItemID]
			rows[i].Tags = append(rows[i].Tags, p.Name)
		}
	}
	return nil
}

// TagCounts returns the number of live items per tag, most used first,
// optionally limited to feeds in groups.
func (e *Engine) TagCounts(ctx context.Context, groups []string) ([]model.TagCount, error) {
	query := `SELECT t.name, COUNT(*) AS count FROM tags t
		JOIN item_tags it ON it.tag_id = t.id
		JOIN items i ON i.id = it.item_id
		WHERE i.deleted = 0`
	var args []any
	if len(groups) > 0 {
		query += ` AND EXISTS (SELECT 1 FROM feed_groups g WHERE g.url = i.feed_url AND g.grp IN (?))`
		args = append(args, groups)
	}
	query += ` GROUP BY t.name ORDER BY COUNT(*) DESC, t.name ASC`

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build tag count query: %w", err)
	}
	var counts []model.TagCount
	if err := e.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("query tag counts: %w", err)
	}
	return counts, nil
}

// SourceSummary describes one feed with its item counts.
type SourceSummary struct {
	Handle      int64      `json:"handle"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Group       string     `json:"group"`
	Tier        int        `json:"tier"`
	Archived    bool       `json:"archived"`
	Items       int        `json:"items"`
	Unread      int        `json:"unread"`
	LastFetchAt *time.Time `json:"last_fetch_at,omitempty"`
	TopTags     []string   `json:"top_tags"`
}

type sourceRecord struct {
	Handle      int64          `db:"handle"`
	URL         string         `db:"url"`
	Title       string         `db:"title"`
	Group       string         `db:"grp"`
	Tier        int            `db:"tier"`
	Archived    bool           `db:"archived"`
	Items       int            `db:"items"`
	Unread      int            `db:"unread"`
	LastFetchTS sql.NullString `db:"last_fetch_ts"`
}

// topTagCount is the number of tags listed per source.
const topTagCount = 3

// Sources summarizes every feed, archived ones included, in handle order.
func (e *Engine) Sources(ctx context.Context) ([]SourceSummary, error) {
	var recs []sourceRecord
	err := e.db.SelectContext(ctx, &recs, `SELECT f.rowid AS handle, f.url, COALESCE(f.title, '') AS title,
		f.grp, f.tier, f.archived, f.last_fetch_ts,
		COUNT(i.id) AS items,
		COALESCE(SUM(CASE WHEN i.read = 0 THEN 1 ELSE 0 END), 0) AS unread
		FROM feeds f LEFT JOIN items i ON i.feed_url = f.url AND i.deleted = 0
		GROUP BY f.url ORDER BY f.rowid`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}

	out := make([]SourceSummary, 0, len(recs))
	for _, r := range recs {
		s := SourceSummary{
			Handle:   r.Handle,
			URL:      r.URL,
			Title:    r.Title,
			Group:    r.Group,
			Tier:     r.Tier,
			Archived: r.Archived,
			Items:    r.Items,
			Unread:   r.Unread,
		}
		if r.LastFetchTS.Valid {
			t := storage.ParseTime(r.LastFetchTS.String)
			s.LastFetchAt = &t
		}
		if err := e.db.SelectContext(ctx, &s.TopTags, `SELECT t.name FROM tags t
			JOIN item_tags it ON it.tag_id = t.id
			JOIN items i ON i.id = it.item_id
			WHERE i.feed_url = ? AND i.deleted = 0
			GROUP BY t.name ORDER BY COUNT(*) DESC, t.name ASC LIMIT ?`, r.URL, topTagCount); err != nil {
			return nil, fmt.Errorf("query source tags: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}
