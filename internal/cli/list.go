package cli

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rssel/internal/query"
	"rssel/internal/storage"
	"rssel/internal/textnorm"
)

const listTimeLayout = "2006-01-02 15:04"

const listLongDesc string = `List archived items.

Filters combine with AND. Lists (--group, --tag, --tier) accept comma or
space separated values. Dates accept YYYY-MM-DD, an optional time, or the
words today and yesterday.

In the output * marks unread items and + marks starred ones.

Examples:
  rssel list --unread
  rssel list --group go --tag generics --sort title
  rssel list --on yesterday --group-by source
  rssel list --query sqlite --deleted include --all`

type listCommander struct {
	filter  filterFlags
	sort    string
	groupBy string
	limit   int
	all     bool
}

func newListCmd(g *globals) *cobra.Command {
	cmder := &listCommander{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items",
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE:  withApp(g, cmder.run),
	}
	cmder.filter.register(cmd.Flags())
	cmd.Flags().StringVar(&cmder.sort, "sort", "", "id, id-desc, title, tags, date or date-desc (default date-desc)")
	cmd.Flags().StringVar(&cmder.groupBy, "group-by", "", "day, week, month, group, tier, tag or source")
	cmd.Flags().IntVar(&cmder.limit, "limit", 0, "maximum items (default from config)")
	cmd.Flags().BoolVar(&cmder.all, "all", false, "no item limit")

	return cmd
}

func (c *listCommander) run(cmd *cobra.Command, a *app, _ []string) error {
	f, err := c.filter.filter(a.cfg.Query.NewHours, time.Now())
	if err != nil {
		return err
	}
	sort, err := query.ParseSort(c.sort)
	if err != nil {
		return err
	}
	groupBy, err := query.ParseGroupBy(c.groupBy)
	if err != nil {
		return err
	}
	limit := c.limit
	if c.all {
		limit = query.Unlimited
	}

	rows, err := a.engine.Find(cmd.Context(), f.Query(sort, limit))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.printf("no items\n")
		return nil
	}

	if groupBy == query.GroupNone {
		for _, r := range rows {
			a.printRow(r, f.DateField)
		}
		return nil
	}
	for i, b := range query.Group(rows, groupBy, f.DateField, time.Local) {
		if i > 0 {
			a.printf("\n")
		}
		a.printf("== %s (%d)\n", b.Label, len(b.Rows))
		for _, r := range b.Rows {
			a.printRow(r, f.DateField)
		}
	}
	return nil
}

func (a *app) printRow(r query.Row, field query.DateField) {
	mark := []byte("  ")
	if !r.Read {
		mark[0] = '*'
	}
	if r.Starred {
		mark[1] = '+'
	}
	when := r.EffectiveTime()
	if field == query.DateCreated {
		when = r.Created
	}
	line := string(mark) + " " + when.Local().Format(listTimeLayout) + " [" + r.Group + "] " + r.Title
	if len(r.Tags) > 0 {
		line += "  #" + strings.Join(r.Tags, " #")
	}
	if r.Deleted {
		line += "  (archived)"
	}
	a.printf("%6d %s\n", r.ID, line)
}

const nextLongDesc string = `Show the newest unread item and mark it read.

Examples:
  rssel next
  rssel next --group go --keep`

type nextCommander struct {
	groups []string
	keep   bool
}

func newNextCmd(g *globals) *cobra.Command {
	cmder := &nextCommander{}

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Read the next unread item",
		Long:  nextLongDesc,
		Args:  cobra.NoArgs,
		RunE:  withApp(g, cmder.run),
	}
	cmd.Flags().StringArrayVar(&cmder.groups, "group", nil, "groups, comma or space separated")
	cmd.Flags().BoolVar(&cmder.keep, "keep", false, "leave the item unread")

	return cmd
}

func (c *nextCommander) run(cmd *cobra.Command, a *app, _ []string) error {
	it, err := a.store.NextUnread(cmd.Context(), splitAll(c.groups))
	if errors.Is(err, storage.ErrNotFound) {
		a.printf("no unread items\n")
		return nil
	}
	if err != nil {
		return err
	}

	source := it.FeedTitle
	if source == "" {
		source = it.FeedURL
	}
	a.printf("#%d %s\n", it.ID, it.Title)
	a.printf("%s | %s | %s\n", source, it.Group, it.EffectiveTime().Local().Format(listTimeLayout))
	if it.Link != "" {
		a.printf("%s\n", it.Link)
	}
	if body := textnorm.HTMLToText(it.Body()); body != "" {
		a.printf("\n%s\n", body)
	}

	if c.keep {
		return nil
	}
	_, err = a.store.SetRead(cmd.Context(), []int64{it.ID}, true)
	return err
}
