package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"rssel/internal/model"
	"rssel/internal/query"
	"rssel/internal/storage"
)

type markCommander struct {
	g      *globals
	unread bool
}

func newMarkCmd(g *globals) *cobra.Command {
	cmder := &markCommander{g: g}

	cmd := &cobra.Command{
		Use:   "mark <id>...",
		Short: "Mark items read or unread",
		Long: `Mark items read, or unread with --unread.

Examples:
  rssel mark 12 13
  rssel mark 12,13 --unread`,
		Args: cobra.MinimumNArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			n, err := a.store.SetRead(cmd.Context(), ids, !cmder.unread)
			if err != nil {
				return err
			}
			a.printf("marked %d items %s\n", n, lo.Ternary(cmder.unread, "unread", "read"))
			return nil
		}),
	}
	cmd.Flags().BoolVar(&cmder.unread, "unread", false, "mark unread instead")

	return cmd
}

type starCommander struct {
	g      *globals
	remove bool
}

func newStarCmd(g *globals) *cobra.Command {
	cmder := &starCommander{g: g}

	cmd := &cobra.Command{
		Use:   "star <id>...",
		Short: "Star or unstar items",
		Long: `Star items, or unstar them with --remove. Starred items survive
archiving and purging unless forced.`,
		Args: cobra.MinimumNArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			n, err := a.store.SetStarred(cmd.Context(), ids, !cmder.remove)
			if err != nil {
				return err
			}
			a.printf("%s %d items\n", lo.Ternary(cmder.remove, "unstarred", "starred"), n)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&cmder.remove, "remove", false, "unstar instead")

	return cmd
}

const archiveLongDesc string = `Archive (soft-delete) items by id, source, group or date.

Archived items are hidden from lists unless --deleted is given and can be
restored with --undo. Starred items are kept unless --force is given.`

func newArchiveCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive items or sources",
		Long:  archiveLongDesc,
	}
	cmd.AddCommand(
		newArchiveIDCmd(g),
		newArchiveFeedsCmd(g, "source <handle|url>", "Archive a source", resolveSource),
		newArchiveFeedsCmd(g, "group <name>", "Archive every source of a group", resolveGroup),
		newArchiveDateCmd(g),
	)
	return cmd
}

type archiveOpts struct {
	force bool
	undo  bool
}

func newArchiveIDCmd(g *globals) *cobra.Command {
	opts := &archiveOpts{}

	cmd := &cobra.Command{
		Use:   "id <id>...",
		Short: "Archive items by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if opts.undo {
				n, err := a.store.RestoreItems(ctx, ids)
				if err != nil {
					return err
				}
				a.printf("restored %d items\n", n)
				return nil
			}

			res, err := a.store.ArchiveItemIDs(ctx, ids, opts.force)
			if err != nil {
				return err
			}
			for _, id := range res.Kept {
				a.printf("kept %d: starred (use --force)\n", id)
			}
			a.printf("archived %d items\n", res.Archived)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&opts.force, "force", false, "archive starred items too")
	cmd.Flags().BoolVar(&opts.undo, "undo", false, "restore instead")

	return cmd
}

type feedResolver func(ctx context.Context, store storage.Storage, arg string) ([]model.Feed, error)

func resolveSource(ctx context.Context, store storage.Storage, ref string) ([]model.Feed, error) {
	f, err := store.ResolveFeed(ctx, ref)
	if err != nil {
		return nil, err
	}
	return []model.Feed{*f}, nil
}

func resolveGroup(ctx context.Context, store storage.Storage, name string) ([]model.Feed, error) {
	feeds, err := store.ListFeeds(ctx, storage.FeedSelector{Groups: query.SplitList(name), IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("group %q: %w", name, storage.ErrNotFound)
	}
	return feeds, nil
}

type archiveFeedsCommander struct {
	archiveOpts
	deleteItems bool
	resolve     feedResolver
}

func newArchiveFeedsCmd(g *globals, use, short string, resolve feedResolver) *cobra.Command {
	cmder := &archiveFeedsCommander{resolve: resolve}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

An archived source is no longer fetched. --delete-items also archives its
items; with --undo it restores them.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(g, cmder.run),
	}
	cmd.Flags().BoolVar(&cmder.deleteItems, "delete-items", false, "archive the items too")
	cmd.Flags().BoolVar(&cmder.force, "force", false, "archive starred items too")
	cmd.Flags().BoolVar(&cmder.undo, "undo", false, "restore instead")

	return cmd
}

func (c *archiveFeedsCommander) run(cmd *cobra.Command, a *app, args []string) error {
	ctx := cmd.Context()
	feeds, err := c.resolve(ctx, a.store, args[0])
	if err != nil {
		return err
	}
	urls := lo.Map(feeds, func(f model.Feed, _ int) string { return f.URL })

	n, err := a.store.SetFeedsArchived(ctx, urls, !c.undo)
	if err != nil {
		return err
	}
	a.printf("%s %d sources\n", lo.Ternary(c.undo, "restored", "archived"), n)
	if !c.deleteItems {
		return nil
	}

	if !c.undo {
		n, err = a.store.ArchiveFeedItems(ctx, urls, c.force)
		if err != nil {
			return err
		}
		a.printf("archived %d items\n", n)
		return nil
	}

	rows, err := a.engine.Find(ctx, query.Query{Limit: query.Unlimited}.Where(query.FeedIn(urls), query.DeletedOnly))
	if err != nil {
		return err
	}
	n, err = a.store.RestoreItems(ctx, lo.Map(rows, func(r query.Row, _ int) int64 { return r.ID }))
	if err != nil {
		return err
	}
	a.printf("restored %d items\n", n)
	return nil
}

const archiveDateLongDesc string = `Archive items by date range.

At least one of --since, --until or --on is required. --on selects a single
day. The range applies to the publication date unless --date-field created.

Examples:
  rssel archive date --until 2024-01-01
  rssel archive date --on yesterday --group news
  rssel archive date --on 2024-03-01 --undo`

type archiveDateCommander struct {
	archiveOpts
	filter filterFlags
}

func newArchiveDateCmd(g *globals) *cobra.Command {
	cmder := &archiveDateCommander{}

	cmd := &cobra.Command{
		Use:   "date",
		Short: "Archive items by date range",
		Long:  archiveDateLongDesc,
		Args:  cobra.NoArgs,
		RunE:  withApp(g, cmder.run),
	}
	f := &cmder.filter
	cmd.Flags().StringVar(&f.since, "since", "", "from this date")
	cmd.Flags().StringVar(&f.until, "until", "", "before this date")
	cmd.Flags().StringVar(&f.on, "on", "", "on this day")
	cmd.Flags().StringVar(&f.dateField, "date-field", "", "published or created")
	cmd.Flags().StringArrayVar(&f.groups, "group", nil, "groups, comma or space separated")
	cmd.Flags().StringArrayVar(&f.sources, "source", nil, "source handle or URL")
	cmd.Flags().BoolVar(&cmder.force, "force", false, "archive starred items too")
	cmd.Flags().BoolVar(&cmder.undo, "undo", false, "restore instead")

	return cmd
}

func (c *archiveDateCommander) run(cmd *cobra.Command, a *app, _ []string) error {
	if c.filter.since == "" && c.filter.until == "" && c.filter.on == "" {
		return errors.New("archive date needs --since, --until or --on")
	}
	f, err := c.filter.filter(a.cfg.Query.NewHours, time.Now())
	if err != nil {
		return err
	}
	if c.undo {
		f.Deleted = query.DeletedOnly
	}

	ctx := cmd.Context()
	rows, err := a.engine.Find(ctx, f.Query(query.SortID, query.Unlimited))
	if err != nil {
		return err
	}
	ids := lo.Map(rows, func(r query.Row, _ int) int64 { return r.ID })

	if c.undo {
		n, err := a.store.RestoreItems(ctx, ids)
		if err != nil {
			return err
		}
		a.printf("restored %d items\n", n)
		return nil
	}
	n, err := a.store.ArchiveItems(ctx, ids, c.force)
	if err != nil {
		return err
	}
	if kept := len(ids) - n; kept > 0 {
		a.printf("archived %d items, kept %d starred\n", n, kept)
		return nil
	}
	a.printf("archived %d items\n", n)
	return nil
}

const purgeLongDesc string = `Permanently remove items from the database.

--deleted removes archived items. --read-before removes read items older
than a date. Starred items survive unless --force is given. Tags no longer
used by any item are dropped.

Examples:
  rssel purge --deleted
  rssel purge --read-before 2024-01-01 --force`

type purgeCommander struct {
	deleted    bool
	readBefore string
	force      bool
}

func newPurgeCmd(g *globals) *cobra.Command {
	cmder := &purgeCommander{}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Permanently remove items",
		Long:  purgeLongDesc,
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, _ []string) error {
			req := storage.PurgeRequest{Deleted: cmder.deleted, Force: cmder.force}
			if cmder.readBefore != "" {
				t, err := query.ParseDate(cmder.readBefore, time.Now())
				if err != nil {
					return err
				}
				req.ReadBefore = &t
			}
			if !req.Deleted && req.ReadBefore == nil {
				return errors.New("purge needs --deleted or --read-before")
			}
			n, err := a.store.Purge(cmd.Context(), req)
			if err != nil {
				return err
			}
			a.printf("purged %d items\n", n)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&cmder.deleted, "deleted", false, "remove archived items")
	cmd.Flags().StringVar(&cmder.readBefore, "read-before", "", "remove read items published before this date")
	cmd.Flags().BoolVar(&cmder.force, "force", false, "remove starred items too")

	return cmd
}
