package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"rssel/internal/fetcher"
	"rssel/internal/filter"
	"rssel/internal/notify"
	"rssel/internal/scheduler"
	"rssel/internal/tagger"
)

// scheduler wires the pipeline. The notifier is attached only when notify
// is enabled in the config.
func (a *app) scheduler(withNotify bool) (*scheduler.Scheduler, error) {
	timeout, err := a.cfg.FetchTimeoutDuration()
	if err != nil {
		return nil, err
	}
	f := fetcher.New(&http.Client{}).WithTimeout(timeout).WithUserAgent(a.cfg.UserAgent)

	stopwords, err := tagger.LoadStopwords(a.cfg.StopwordsFile)
	if err != nil {
		return nil, err
	}

	var n scheduler.Notifier
	if withNotify && a.cfg.Notify.Enabled {
		rules, err := filter.Compile(a.cfg.NotifyFilters())
		if err != nil {
			return nil, fmt.Errorf("notify filters: %w", err)
		}
		nt, err := notify.New(a.cfg.Notify.TelegramBotToken, a.store, a.engine, rules, notify.Options{
			ChatID:    a.cfg.Notify.ChatID,
			MaxPerRun: a.cfg.Notify.MaxPerRun,
			Window:    time.Duration(a.cfg.Notify.WindowHours) * time.Hour,
		}, a.log)
		if err != nil {
			return nil, err
		}
		n = nt
	}
	return scheduler.New(a.cfg, a.store, f, stopwords, n, a.log), nil
}

func (a *app) printReport(r *scheduler.Report) {
	if r == nil {
		return
	}
	if r.Ingest != nil {
		a.printf("fetched %d sources, %d new items\n", len(r.Feeds), r.Ingest.Inserted())
		for _, f := range r.Ingest.Failed() {
			a.printf("  failed %s (%s): %v\n", f.FeedURL, f.Stage, f.Err)
		}
	}
	if r.Tag != nil {
		a.printf("tagged %d items\n", r.Tag.Processed)
	}
	if r.Exported > 0 {
		a.printf("exported %d items\n", r.Exported)
	}
	if r.Notify != nil {
		a.printf("notified %d of %d items (%d filtered)\n", r.Notify.Sent, r.Notify.Considered, r.Notify.Skipped)
	}
}

const fetchLongDesc string = `Register the sources in sources.json and fetch new items.

Only ingestion runs; tagging, export and notification are left to sync.
Explicit --id or --source selectors take precedence over --group and --tier.

Examples:
  rssel fetch
  rssel fetch --group go,tech
  rssel fetch --source https://go.dev/blog/feed.atom`

type fetchCommander struct {
	sel selectorFlags
}

func newFetchCmd(g *globals) *cobra.Command {
	cmder := &fetchCommander{}

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch new items",
		Long:  fetchLongDesc,
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, _ []string) error {
			s, err := a.scheduler(false)
			if err != nil {
				return err
			}
			report, err := s.Fetch(cmd.Context(), scheduler.Request{
				Feeds: cmder.sel.selector(),
				Refs:  cmder.sel.sources,
			})
			if err != nil {
				return err
			}
			a.printReport(report)
			return nil
		}),
	}
	cmder.sel.register(cmd.Flags())

	return cmd
}

const syncLongDesc string = `Run the full pipeline: fetch, auto-tag, export and notify.

Each stage only handles items it has not processed before. --retag-all and
--export-all reprocess every item in scope. --watch repeats the sync every
--interval until interrupted.

Examples:
  rssel sync
  rssel sync --tier 1 --no-write-files
  rssel sync --export-all --format html --dest ./site --clean
  rssel sync --watch --interval 15m`

type syncCommander struct {
	sel selectorFlags

	retagAll      bool
	exportAll     bool
	writeFiles    bool
	noWriteFiles  bool
	maxTags       int
	includeDomain bool
	dest          string
	format        string
	clean         bool
	watch         bool
	interval      time.Duration
}

func newSyncCmd(g *globals) *cobra.Command {
	cmder := &syncCommander{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch, tag, export and notify",
		Long:  syncLongDesc,
		Args:  cobra.NoArgs,
		RunE:  withApp(g, cmder.run),
	}
	cmder.sel.register(cmd.Flags())
	cmd.Flags().BoolVar(&cmder.retagAll, "retag-all", false, "re-tag every item in scope")
	cmd.Flags().BoolVar(&cmder.exportAll, "export-all", false, "re-export every item in scope")
	cmd.Flags().BoolVar(&cmder.writeFiles, "write-files", false, "force the export stage on")
	cmd.Flags().BoolVar(&cmder.noWriteFiles, "no-write-files", false, "skip the export stage")
	cmd.Flags().IntVar(&cmder.maxTags, "max-tags", 0, "tags per item (default from config)")
	cmd.Flags().BoolVar(&cmder.includeDomain, "include-domain", false, "add the link domain as a tag")
	cmd.Flags().StringVar(&cmder.dest, "dest", "", "export directory (default from config)")
	cmd.Flags().StringVar(&cmder.format, "format", "", "export format: md, txt, json, html")
	cmd.Flags().BoolVar(&cmder.clean, "clean", false, "empty the export directory first")
	cmd.Flags().BoolVar(&cmder.watch, "watch", false, "repeat until interrupted")
	cmd.Flags().DurationVar(&cmder.interval, "interval", scheduler.DefaultInterval, "watch period")
	cmd.MarkFlagsMutuallyExclusive("write-files", "no-write-files")

	return cmd
}

func (c *syncCommander) request(cmd *cobra.Command) scheduler.Request {
	req := scheduler.Request{
		Feeds:     c.sel.selector(),
		Refs:      c.sel.sources,
		RetagAll:  c.retagAll,
		ExportAll: c.exportAll,
		MaxTags:   c.maxTags,
		Dest:      c.dest,
		Format:    c.format,
		Clean:     c.clean,
	}
	switch {
	case cmd.Flags().Changed("write-files"):
		req.WriteFiles = &c.writeFiles
	case cmd.Flags().Changed("no-write-files"):
		off := !c.noWriteFiles
		req.WriteFiles = &off
	}
	if cmd.Flags().Changed("include-domain") {
		req.IncludeDomain = &c.includeDomain
	}
	return req
}

func (c *syncCommander) run(cmd *cobra.Command, a *app, _ []string) error {
	s, err := a.scheduler(true)
	if err != nil {
		return err
	}
	req := c.request(cmd)

	if c.watch {
		a.log.Info("watching sources", "interval", c.interval)
		s.Run(cmd.Context(), req, c.interval)
		return nil
	}

	report, err := s.Sync(cmd.Context(), req)
	a.printReport(report)
	return err
}
