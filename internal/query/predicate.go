package query

import (
	"strconv"
	"strings"
	"time"

	"rssel/internal/storage"
)

// Predicate is one filter node. Predicates of different kinds are AND-ed.
type Predicate interface {
	lower(b *builder)
}

// GroupIn matches items whose feed belongs to any of the groups.
type GroupIn []string

// TierIn matches items whose feed has one of the tiers.
type TierIn []int

// TagAll matches items carrying every listed tag.
type TagAll []string

// Source matches items of one feed, by numeric handle or URL.
type Source string

// ReadState matches read (true) or unread (false) items.
type ReadState bool

// StarState matches starred (true) or unstarred (false) items.
type StarState bool

// DeletedState controls soft-deleted items. Without it they are excluded.
type DeletedState int

// Soft-delete handling.
const (
	DeletedExclude DeletedState = iota
	DeletedInclude
	DeletedOnly
)

// CreatedWithin matches items ingested within the window before now.
type CreatedWithin time.Duration

// DateRange bounds the selected date field. Zero bounds are open; To is
// exclusive.
type DateRange struct {
	Field DateField
	From  time.Time
	To    time.Time
}

// TextMatch is a case-insensitive substring match over title and summary.
type TextMatch string

// ExportPending matches items never exported.
type ExportPending struct{}

// NotifyPending matches items never notified.
type NotifyPending struct{}

// FeedIn matches items of the listed feed URLs.
type FeedIn []string

// IDIn matches the listed item ids.
type IDIn []int64

// DateField selects which timestamp date predicates, sorts and buckets use.
type DateField string

// Date fields.
const (
	// DatePublished falls back to the ingestion time when the feed gave none.
	DatePublished DateField = "published"
	DateCreated   DateField = "created"
)

func (f DateField) expr() string {
	if f == DateCreated {
		return "i.created_ts"
	}
	return "COALESCE(i.published_ts, i.created_ts)"
}

// ParseDateField parses "published" or "created".
func ParseDateField(s string) (DateField, error) {
	switch f := DateField(strings.ToLower(strings.TrimSpace(s))); f {
	case "", DatePublished:
		return DatePublished, nil
	case DateCreated:
		return DateCreated, nil
	default:
		return "", &ParseError{Kind: "date field", Value: s}
	}
}

type builder struct {
	conds   []string
	args    []any
	now     time.Time
	deleted DeletedState
}

func (b *builder) add(cond string, args ...any) {
	b.conds = append(b.conds, cond)
	b.args = append(b.args, args...)
}

func (p GroupIn) lower(b *builder) {
	if len(p) == 0 {
		return
	}
	b.add("EXISTS (SELECT 1 FROM feed_groups g WHERE g.url = i.feed_url AND g.grp IN (?))", []string(p))
}

func (p TierIn) lower(b *builder) {
	if len(p) == 0 {
		return
	}
	b.add("f.tier IN (?)", []int(p))
}

func (p TagAll) lower(b *builder) {
	for _, tag := range p {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		b.add(`EXISTS (SELECT 1 FROM item_tags it JOIN tags t ON t.id = it.tag_id
			WHERE it.item_id = i.id AND t.name = ?)`, tag)
	}
}

func (p Source) lower(b *builder) {
	ref := strings.TrimSpace(string(p))
	if ref == "" {
		return
	}
	if h, err := strconv.ParseInt(ref, 10, 64); err == nil {
		b.add("f.rowid = ?", h)
		return
	}
	b.add("i.feed_url = ?", ref)
}

func (p ReadState) lower(b *builder) {
	b.add("i.read = ?", boolToInt(bool(p)))
}

func (p StarState) lower(b *builder) {
	b.add("i.starred = ?", boolToInt(bool(p)))
}

func (p DeletedState) lower(b *builder) {
	b.deleted = p
}

func (p CreatedWithin) lower(b *builder) {
	if p <= 0 {
		return
	}
	b.add("i.created_ts >= ?", storage.FormatTime(b.now.Add(-time.Duration(p))))
}

func (p DateRange) lower(b *builder) {
	expr := p.Field.expr()
	if !p.From.IsZero() {
		b.add(expr+" >= ?", storage.FormatTime(p.From))
	}
	if !p.To.IsZero() {
		b.add(expr+" < ?", storage.FormatTime(p.To))
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (p TextMatch) lower(b *builder) {
	text := strings.TrimSpace(string(p))
	if text == "" {
		return
	}
	pattern := "%" + likeEscaper.Replace(text) + "%"
	b.add(`(i.title LIKE ? ESCAPE '\' OR i.summary LIKE ? ESCAPE '\')`, pattern, pattern)
}

func (ExportPending) lower(b *builder) {
	b.add("i.fs_exported_ts IS NULL")
}

func (NotifyPending) lower(b *builder) {
	b.add("i.notified_ts IS NULL")
}

func (p FeedIn) lower(b *builder) {
	if len(p) == 0 {
		return
	}
	b.add("i.feed_url IN (?)", []string(p))
}

func (p IDIn) lower(b *builder) {
	if len(p) == 0 {
		b.add("0 = 1")
		return
	}
	b.add("i.id IN (?)", []int64(p))
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
