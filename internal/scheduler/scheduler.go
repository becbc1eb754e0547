// Package scheduler runs the sync pipeline: register sources, fetch, tag,
// export and notify. It can repeat the pipeline on an interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"rssel/internal/config"
	"rssel/internal/export"
	"rssel/internal/ingest"
	"rssel/internal/model"
	"rssel/internal/notify"
	"rssel/internal/query"
	"rssel/internal/sources"
	"rssel/internal/storage"
	"rssel/internal/tagger"
)

// DefaultInterval is the watch mode period.
const DefaultInterval = 30 * time.Minute

// ErrNoFeeds is returned when an explicit selector matches no feed.
var ErrNoFeeds = errors.New("no feeds match the selector")

// Notifier pushes pending items somewhere.
type Notifier interface {
	Notify(ctx context.Context, scope notify.Scope) (*notify.Report, error)
}

// Request configures one sync run. Zero values fall back to the config.
type Request struct {
	Feeds storage.FeedSelector
	// Refs are feed handles or URLs resolved into Feeds.URLs.
	Refs []string

	RetagAll  bool
	ExportAll bool
	// WriteFiles overrides export.enabled when set.
	WriteFiles    *bool
	MaxTags       int
	IncludeDomain *bool
	Dest          string
	Format        string
	Clean         bool

	SkipNotify bool
}

// Report summarizes one sync run.
type Report struct {
	Feeds    []model.Feed
	Ingest   *ingest.BatchReport
	Tag      *tagger.Report
	Exported int
	Notify   *notify.Report
}

// Scheduler orchestrates sync runs.
type Scheduler struct {
	cfg       *config.Config
	store     storage.Storage
	ingest    *ingest.Engine
	engine    *query.Engine
	stopwords tagger.Stopwords
	notifier  Notifier
	log       *slog.Logger
	now       func() time.Time
}

// New creates a Scheduler. notifier may be nil.
func New(cfg *config.Config, store storage.Storage, f ingest.Fetcher, stopwords tagger.Stopwords, notifier Notifier, log *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		ingest:    ingest.New(store, f, log),
		engine:    query.New(store.DB(), cfg.Query.DefaultLimit),
		stopwords: stopwords,
		notifier:  notifier,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source of every stage.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
	s.ingest.SetClock(now)
	s.engine.SetClock(now)
}

// Run syncs immediately and then on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, req Request, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s.syncAndLog(ctx, req)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncAndLog(ctx, req)
		}
	}
}

func (s *Scheduler) syncAndLog(ctx context.Context, req Request) {
	report, err := s.Sync(ctx, req)
	if err != nil {
		s.log.Error("sync", "error", err)
	}
	if report != nil {
		s.log.Info("sync done",
			"feeds", len(report.Feeds),
			"inserted", report.Ingest.Inserted(),
			"failed", len(report.Ingest.Failed()),
			"exported", report.Exported,
		)
	}
}

// Fetch registers the configured sources and ingests the selected feeds
// without running the later stages.
func (s *Scheduler) Fetch(ctx context.Context, req Request) (*Report, error) {
	report, _, err := s.fetch(ctx, req)
	return report, err
}

func (s *Scheduler) fetch(ctx context.Context, req Request) (*Report, storage.FeedSelector, error) {
	srcs, err := sources.Load(s.cfg.SourcesFile)
	if err != nil {
		return nil, storage.FeedSelector{}, err
	}
	sel, err := s.selector(ctx, req, srcs)
	if err != nil {
		return nil, sel, err
	}
	if len(srcs) > 0 {
		if err := s.ingest.Register(ctx, srcs); err != nil {
			return nil, sel, err
		}
	}

	feeds, err := s.store.ListFeeds(ctx, sel)
	if err != nil {
		return nil, sel, fmt.Errorf("list feeds: %w", err)
	}
	if sel.Explicit() && len(feeds) == 0 {
		return nil, sel, ErrNoFeeds
	}

	report := &Report{Feeds: feeds}
	report.Ingest = s.ingest.Ingest(ctx, feeds)
	return report, sel, nil
}

// Sync runs one pipeline pass. Duplicate sources and unknown feed refs
// abort before any network access. Per-feed fetch failures are only
// recorded in the report; stage failures are joined into the error.
func (s *Scheduler) Sync(ctx context.Context, req Request) (*Report, error) {
	report, sel, err := s.fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	sc := stageScope(sel, report.Feeds)
	var errs []error

	if s.cfg.Tagging.Enabled || req.RetagAll {
		report.Tag, err = s.tag(ctx, req, sc)
		if err != nil {
			errs = append(errs, fmt.Errorf("auto-tag: %w", err))
		}
	}

	if s.exportEnabled(req) {
		report.Exported, err = s.export(ctx, req, sc)
		if err != nil {
			errs = append(errs, fmt.Errorf("export: %w", err))
		}
	}

	if s.notifier != nil && !req.SkipNotify {
		report.Notify, err = s.notifier.Notify(ctx, notify.Scope(sc))
		if err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}
	return report, errors.Join(errs...)
}

// selector resolves feed refs before anything is written. A ref may name a
// source that is listed in the sources file but not registered yet.
func (s *Scheduler) selector(ctx context.Context, req Request, srcs []model.Source) (storage.FeedSelector, error) {
	sel := req.Feeds
	sel.URLs = append([]string(nil), sel.URLs...)
	listed := lo.SliceToMap(srcs, func(src model.Source) (string, bool) { return src.URL, true })
	for _, ref := range req.Refs {
		if listed[ref] {
			sel.URLs = append(sel.URLs, ref)
			continue
		}
		f, err := s.store.ResolveFeed(ctx, ref)
		if err != nil {
			return sel, err
		}
		sel.URLs = append(sel.URLs, f.URL)
	}
	return sel, nil
}

// scope limits the tag, export and notify stages.
type scope struct {
	Groups   []string
	Tiers    []int
	FeedURLs []string
}

// stageScope keeps groups and tiers when given; otherwise an explicit
// selector scopes the stages to the fetched feeds.
func stageScope(sel storage.FeedSelector, feeds []model.Feed) scope {
	if len(sel.Groups) > 0 || len(sel.Tiers) > 0 {
		return scope{Groups: sel.Groups, Tiers: sel.Tiers}
	}
	if sel.Explicit() {
		return scope{FeedURLs: lo.Map(feeds, func(f model.Feed, _ int) string { return f.URL })}
	}
	return scope{}
}

func (s *Scheduler) tag(ctx context.Context, req Request, sc scope) (*tagger.Report, error) {
	opts := tagger.Options{
		MaxTags:   s.cfg.Tagging.MaxTags,
		MinLength: s.cfg.Tagging.MinLength,
		Stopwords: s.stopwords,
	}
	if req.MaxTags > 0 {
		opts.MaxTags = req.MaxTags
	}
	includeDomain := s.cfg.Tagging.IncludeDomain
	if req.IncludeDomain != nil {
		includeDomain = *req.IncludeDomain
	}

	t := tagger.New(s.store, opts, includeDomain, s.log)
	t.SetClock(s.now)
	return t.Run(ctx, tagger.Scope{
		Groups:   sc.Groups,
		Tiers:    sc.Tiers,
		FeedURLs: sc.FeedURLs,
		RetagAll: req.RetagAll,
	})
}

func (s *Scheduler) exportEnabled(req Request) bool {
	if req.WriteFiles != nil {
		return *req.WriteFiles
	}
	return s.cfg.Export.Enabled || req.ExportAll
}

func (s *Scheduler) export(ctx context.Context, req Request, sc scope) (int, error) {
	w := &export.Writer{
		Dir:    lo.CoalesceOrEmpty(req.Dest, s.cfg.Export.Dir),
		Format: lo.CoalesceOrEmpty(req.Format, s.cfg.Export.Format),
		Clean:  req.Clean,
	}

	q := query.Query{Sort: query.SortID, Limit: query.Unlimited}.Where(
		query.GroupIn(sc.Groups),
		query.TierIn(sc.Tiers),
		query.FeedIn(sc.FeedURLs),
	)
	// A cleaned tree is rebuilt from every matching item.
	if !req.ExportAll && !req.Clean {
		q = q.Where(query.ExportPending{})
	}
	rows, err := s.engine.Find(ctx, q)
	if err != nil {
		return 0, err
	}

	items := lo.Map(rows, func(r query.Row, _ int) model.Item { return r.Item })
	tags := lo.SliceToMap(rows, func(r query.Row) (int64, []string) { return r.ID, r.Tags })
	written, werr := w.Write(items, tags)
	if len(written) > 0 {
		if err := s.store.MarkExported(ctx, written, s.now()); err != nil {
			return 0, errors.Join(werr, fmt.Errorf("stamp exported items: %w", err))
		}
		s.log.Info("exported items", "count", len(written), "dir", w.Dir, "format", w.Format)
	}
	return len(written), werr
}
