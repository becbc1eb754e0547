package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/pflag"

	"rssel/internal/query"
	"rssel/internal/storage"
)

// selectorFlags pick the feeds a fetch, sync or tag run covers.
type selectorFlags struct {
	ids     []int64
	sources []string
	groups  []string
	tiers   []int
}

func (s *selectorFlags) register(fs *pflag.FlagSet) {
	fs.Int64SliceVar(&s.ids, "id", nil, "source handle (repeatable)")
	fs.StringArrayVar(&s.sources, "source", nil, "source handle or URL (repeatable)")
	fs.StringArrayVar(&s.groups, "group", nil, "groups, comma or space separated")
	fs.IntSliceVar(&s.tiers, "tier", nil, "tiers 1-5")
}

func (s *selectorFlags) selector() storage.FeedSelector {
	return storage.FeedSelector{
		Handles: s.ids,
		Groups:  splitAll(s.groups),
		Tiers:   s.tiers,
	}
}

func splitAll(values []string) []string {
	return lo.FlatMap(values, func(v string, _ int) []string { return query.SplitList(v) })
}

// filterFlags map onto query.Filter.
type filterFlags struct {
	selectorFlags
	tags      []string
	text      string
	unread    bool
	read      bool
	starred   bool
	newOnly   bool
	since     string
	until     string
	on        string
	dateField string
	deleted   string
}

func (f *filterFlags) register(fs *pflag.FlagSet) {
	fs.StringArrayVar(&f.groups, "group", nil, "groups, comma or space separated")
	fs.IntSliceVar(&f.tiers, "tier", nil, "tiers 1-5")
	fs.StringArrayVar(&f.sources, "source", nil, "source handle or URL")
	fs.StringArrayVar(&f.tags, "tag", nil, "tags the items must all carry")
	fs.StringVarP(&f.text, "query", "q", "", "text to find in title or summary")
	fs.BoolVar(&f.unread, "unread", false, "only unread items")
	fs.BoolVar(&f.read, "read", false, "only read items")
	fs.BoolVar(&f.starred, "starred", false, "only starred items")
	fs.BoolVar(&f.newOnly, "new", false, "only items ingested within query.new_hours")
	fs.StringVar(&f.since, "since", "", "from this date (YYYY-MM-DD, today, yesterday)")
	fs.StringVar(&f.until, "until", "", "before this date")
	fs.StringVar(&f.on, "on", "", "on this day; overrides --since and --until")
	fs.StringVar(&f.dateField, "date-field", "", "date used by date filters: published or created")
	fs.StringVar(&f.deleted, "deleted", "", "archived items: include or only")
}

func (f *filterFlags) filter(newHours int, now time.Time) (query.Filter, error) {
	if f.read && f.unread {
		return query.Filter{}, errors.New("--read and --unread are mutually exclusive")
	}
	if len(f.sources) > 1 {
		return query.Filter{}, errors.New("list takes at most one --source")
	}

	out := query.Filter{
		Groups: splitAll(f.groups),
		Tiers:  f.tiers,
		Tags:   splitAll(f.tags),
		Text:   f.text,
	}
	if len(f.sources) == 1 {
		out.Source = f.sources[0]
	}
	switch {
	case f.unread:
		out.Read = lo.ToPtr(false)
	case f.read:
		out.Read = lo.ToPtr(true)
	}
	if f.starred {
		out.Starred = lo.ToPtr(true)
	}
	if f.newOnly {
		out.NewWithin = time.Duration(newHours) * time.Hour
	}

	switch f.deleted {
	case "":
	case "include":
		out.Deleted = query.DeletedInclude
	case "only":
		out.Deleted = query.DeletedOnly
	default:
		return out, fmt.Errorf("invalid --deleted %q, want include or only", f.deleted)
	}

	var err error
	if out.DateField, err = query.ParseDateField(f.dateField); err != nil {
		return out, err
	}
	if out.Since, err = query.ParseDate(f.since, now); err != nil {
		return out, err
	}
	if out.Until, err = query.ParseDate(f.until, now); err != nil {
		return out, err
	}
	if out.On, err = query.ParseDate(f.on, now); err != nil {
		return out, err
	}
	return out, nil
}

// parseIDs accepts ids as separate arguments or comma separated lists.
func parseIDs(args []string) ([]int64, error) {
	var ids []int64
	for _, raw := range splitAll(args) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid item id %q", raw)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("no item ids given")
	}
	return lo.Uniq(ids), nil
}
