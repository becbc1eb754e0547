package cli

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"rssel/internal/tagger"
)

const tagsLongDesc string = `Work with item tags.

Tags are extracted from titles and content by word weight, skipping the
built-in stopwords and those in stopwords.txt.`

func newTagsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Auto-tag items and list tags",
		Long:  tagsLongDesc,
	}
	cmd.AddCommand(newTagsAutoCmd(g), newTagsListCmd(g))
	return cmd
}

const tagsAutoLongDesc string = `Compute tags for items that have not been tagged yet.

--retag-all recomputes tags for every item in scope. --dry-run prints the
tags without storing them.

Examples:
  rssel tags auto
  rssel tags auto --group go --retag-all --max-tags 3
  rssel tags auto --dry-run --limit 20`

type tagsAutoCommander struct {
	sel           selectorFlags
	dryRun        bool
	retagAll      bool
	limit         int
	maxTags       int
	includeDomain bool
}

func newTagsAutoCmd(g *globals) *cobra.Command {
	cmder := &tagsAutoCommander{}

	cmd := &cobra.Command{
		Use:   "auto",
		Short: "Auto-tag items",
		Long:  tagsAutoLongDesc,
		Args:  cobra.NoArgs,
		RunE:  withApp(g, cmder.run),
	}
	cmder.sel.register(cmd.Flags())
	cmd.Flags().BoolVar(&cmder.dryRun, "dry-run", false, "print tags without storing them")
	cmd.Flags().BoolVar(&cmder.retagAll, "retag-all", false, "re-tag items that already have tags")
	cmd.Flags().IntVar(&cmder.limit, "limit", 0, "maximum items to process")
	cmd.Flags().IntVar(&cmder.maxTags, "max-tags", 0, "tags per item (default from config)")
	cmd.Flags().BoolVar(&cmder.includeDomain, "include-domain", false, "add the link domain as a tag")

	return cmd
}

func (c *tagsAutoCommander) run(cmd *cobra.Command, a *app, _ []string) error {
	ctx := cmd.Context()
	feedURLs, err := c.feedURLs(ctx, a)
	if err != nil {
		return err
	}
	stopwords, err := tagger.LoadStopwords(a.cfg.StopwordsFile)
	if err != nil {
		return err
	}

	opts := tagger.Options{
		MaxTags:   a.cfg.Tagging.MaxTags,
		MinLength: a.cfg.Tagging.MinLength,
		Stopwords: stopwords,
	}
	if c.maxTags > 0 {
		opts.MaxTags = c.maxTags
	}
	includeDomain := a.cfg.Tagging.IncludeDomain
	if cmd.Flags().Changed("include-domain") {
		includeDomain = c.includeDomain
	}

	sel := c.sel.selector()
	report, err := tagger.New(a.store, opts, includeDomain, a.log).Run(ctx, tagger.Scope{
		Groups:   sel.Groups,
		Tiers:    sel.Tiers,
		FeedURLs: feedURLs,
		RetagAll: c.retagAll,
		Limit:    c.limit,
		DryRun:   c.dryRun,
	})
	if report != nil {
		for _, p := range report.Proposals {
			a.printf("%6d %s -> %s\n", p.ItemID, p.Title, strings.Join(p.Tags, ", "))
		}
		if c.dryRun {
			a.printf("would tag %d items\n", report.Processed)
		} else {
			a.printf("tagged %d items\n", report.Processed)
		}
	}
	return err
}

// feedURLs resolves --id and --source into feed URLs.
func (c *tagsAutoCommander) feedURLs(ctx context.Context, a *app) ([]string, error) {
	refs := append([]string(nil), c.sel.sources...)
	for _, id := range c.sel.ids {
		refs = append(refs, strconv.FormatInt(id, 10))
	}
	var urls []string
	for _, ref := range refs {
		f, err := a.store.ResolveFeed(ctx, ref)
		if err != nil {
			return nil, err
		}
		urls = append(urls, f.URL)
	}
	return urls, nil
}

type tagsListCommander struct {
	groups []string
}

func newTagsListCmd(g *globals) *cobra.Command {
	cmder := &tagsListCommander{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tags by item count",
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, _ []string) error {
			counts, err := a.engine.TagCounts(cmd.Context(), splitAll(cmder.groups))
			if err != nil {
				return err
			}
			if len(counts) == 0 {
				a.printf("no tags\n")
				return nil
			}
			for _, tc := range counts {
				a.printf("%6d %s\n", tc.Count, tc.Name)
			}
			return nil
		}),
	}
	cmd.Flags().StringArrayVar(&cmder.groups, "group", nil, "groups, comma or space separated")

	return cmd
}
