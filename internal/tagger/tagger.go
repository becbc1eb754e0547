// Package tagger derives tags from item text and applies them to stored
// items.
package tagger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"rssel/internal/model"
	"rssel/internal/storage"
	"rssel/internal/textnorm"
)

// Scope selects the items a run processes.
type Scope struct {
	Groups   []string
	Tiers    []int
	FeedURLs []string
	// RetagAll ignores the tag watermark.
	RetagAll bool
	Limit    int
	// DryRun computes tags without writing them.
	DryRun bool
}

// Proposal is the tag set computed for one item.
type Proposal struct {
	ItemID int64
	Title  string
	Tags   []string
}

// Report summarizes a tagging run.
type Report struct {
	Processed int
	Proposals []Proposal
}

// Tagger applies extracted tags to stored items.
type Tagger struct {
	store         storage.Storage
	opts          Options
	includeDomain bool
	log           *slog.Logger
	now           func() time.Time
}

// New creates a Tagger. When includeDomain is set the item's domain is
// appended to its tags.
func New(store storage.Storage, opts Options, includeDomain bool, log *slog.Logger) *Tagger {
	return &Tagger{
		store:         store,
		opts:          opts.withDefaults(),
		includeDomain: includeDomain,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for tag watermarks.
func (t *Tagger) SetClock(now func() time.Time) {
	t.now = now
}

// Tags computes the full tag set for an item.
func (t *Tagger) Tags(it model.Item) []string {
	tags := Extract(it.Title, textnorm.HTMLToText(it.Body()), t.opts)
	if t.includeDomain {
		d := Domain(it.Link)
		if d == "" {
			d = Domain(it.FeedURL)
		}
		if d != "" {
			tags = append(tags, d)
		}
	}
	return lo.Uniq(tags)
}

// Run tags the items in scope. Items that fail to update are logged and
// reported in the joined error; the rest are still processed.
func (t *Tagger) Run(ctx context.Context, scope Scope) (*Report, error) {
	items, err := t.store.TagCandidates(ctx, storage.TagScope{
		Groups:   scope.Groups,
		Tiers:    scope.Tiers,
		FeedURLs: scope.FeedURLs,
		All:      scope.RetagAll,
		Limit:    scope.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("select items to tag: %w", err)
	}

	report := &Report{}
	var errs []error
	at := t.now()
	for _, it := range items {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		tags := t.Tags(it)
		if scope.DryRun {
			report.Proposals = append(report.Proposals, Proposal{ItemID: it.ID, Title: it.Title, Tags: tags})
			report.Processed++
			continue
		}
		if err := t.store.ReplaceItemTags(ctx, it.ID, tags, at); err != nil {
			t.log.Error("tag item", "item_id", it.ID, "error", err)
			errs = append(errs, fmt.Errorf("tag item %d: %w", it.ID, err))
			continue
		}
		t.log.Debug("tagged item", "item_id", it.ID, "tags", tags)
		report.Processed++
	}
	return report, errors.Join(errs...)
}
