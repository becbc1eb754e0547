// Package ingest fetches feeds, deduplicates their entries and persists
// new items.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rssel/internal/feedparse"
	"rssel/internal/model"
	"rssel/internal/sources"
	"rssel/internal/storage"
)

// Stage names the step at which a feed failed.
type Stage string

// Ingestion stages.
const (
	StageFetch Stage = "fetch"
	StageParse Stage = "parse"
	StageStore Stage = "store"
)

// Fetcher downloads a raw feed document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FeedResult is the outcome of ingesting one feed.
type FeedResult struct {
	FeedURL  string
	Seen     int
	Inserted int
	// Stage and Err are set when the feed was skipped.
	Stage Stage
	Err   error
}

// OK reports whether the feed was ingested.
func (r FeedResult) OK() bool {
	return r.Err == nil
}

// BatchReport collects per-feed results in processing order.
type BatchReport struct {
	Results []FeedResult
}

// Inserted returns the total number of new items.
func (b *BatchReport) Inserted() int {
	n := 0
	for _, r := range b.Results {
		n += r.Inserted
	}
	return n
}

// Failed returns the results of skipped feeds.
func (b *BatchReport) Failed() []FeedResult {
	var out []FeedResult
	for _, r := range b.Results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Err joins the per-feed failures, or returns nil when every feed succeeded.
func (b *BatchReport) Err() error {
	var errs []error
	for _, r := range b.Failed() {
		errs = append(errs, fmt.Errorf("%s %s: %w", r.Stage, r.FeedURL, r.Err))
	}
	return errors.Join(errs...)
}

// Engine runs the fetch, parse, dedupe and persist sequence per feed.
type Engine struct {
	store   storage.Storage
	fetcher Fetcher
	log     *slog.Logger
	now     func() time.Time
}

// New creates an Engine.
func New(store storage.Storage, f Fetcher, log *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		fetcher: f,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for ingestion timestamps.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Register validates the configured sources and upserts them as feeds. A
// url listed twice aborts registration with a *sources.DuplicateError.
func (e *Engine) Register(ctx context.Context, srcs []model.Source) error {
	if err := sources.CheckDuplicates(srcs); err != nil {
		return err
	}
	if err := e.store.UpsertFeeds(ctx, srcs); err != nil {
		return fmt.Errorf("register sources: %w", err)
	}
	return nil
}

// Ingest processes feeds one at a time. A failing feed is logged and
// recorded in the report; it never stops the batch.
func (e *Engine) Ingest(ctx context.Context, feeds []model.Feed) *BatchReport {
	report := &BatchReport{}
	for _, feed := range feeds {
		if ctx.Err() != nil {
			break
		}
		res := e.ingestFeed(ctx, feed)
		if res.OK() {
			e.log.Info("fetched feed", "feed_url", feed.URL, "seen", res.Seen, "count", res.Inserted)
		} else {
			e.log.Error("skip feed", "feed_url", feed.URL, "stage", res.Stage, "error", res.Err)
		}
		report.Results = append(report.Results, res)
	}
	return report
}

func (e *Engine) ingestFeed(ctx context.Context, feed model.Feed) FeedResult {
	res := FeedResult{FeedURL: feed.URL}

	raw, err := e.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		res.Stage, res.Err = StageFetch, err
		return res
	}

	entries, err := feedparse.Parse(feed.URL, raw)
	if err != nil {
		res.Stage, res.Err = StageParse, err
		return res
	}

	items := make([]model.Item, 0, len(entries))
	for _, en := range entries {
		key := DedupKey(en.GUID, en.Link, en.Title)
		if key == "" {
			e.log.Debug("skip entry without identity", "feed_url", feed.URL)
			continue
		}
		items = append(items, model.Item{
			GUID:      strings.TrimSpace(en.GUID),
			UID:       key,
			Title:     en.Title,
			Link:      en.Link,
			Summary:   en.Summary,
			Content:   en.Body,
			Published: en.Published,
		})
	}

	count, err := e.store.IngestEntries(ctx, feed.URL, items, e.now())
	if err != nil {
		res.Stage, res.Err = StageStore, err
		return res
	}
	res.Seen, res.Inserted = count.Seen, count.Inserted
	return res
}

// DedupKey derives the per-feed uniqueness key from the first non-empty of
// guid, link and title. It returns "" when all three are empty.
func DedupKey(guid, link, title string) string {
	var basis string
	for _, v := range []string{guid, link, title} {
		if v = strings.TrimSpace(v); v != "" {
			basis = v
			break
		}
	}
	if basis == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(basis))
	return "sha256:" + hex.EncodeToString(sum[:16])
}
