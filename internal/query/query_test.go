package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/samber/lo"

	"rssel/internal/model"
	"rssel/internal/storage"
)

var (
	fetchedAt = time.Date(2024, 1, 6, 12, 0, 0, 0, time.UTC)
	now       = fetchedAt.Add(time.Hour)
)

func day(d, h int) time.Time {
	return time.Date(2024, 1, d, h, 0, 0, 0, time.UTC)
}

// newTestEngine seeds three feeds:
//
//	a (go, tech; tier 1): 1 "Go generics deep dive" [generics go], 2 "SQLite tuning" [go sqlite] starred
//	b (news; tier 3):     3 "World news today" [news] read, 4 "Markets 100%_up" no date, exported
//	c (no group; tier 2): 5 "Random notes" archived
func newTestEngine(t *testing.T) (*Engine, *storage.SQLite) {
	t.Helper()
	ctx := context.Background()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(s.UpsertFeeds(ctx, []model.Source{
		{URL: "https://a", Title: "Alpha", Groups: []string{"go", "tech"}, Tier: 1},
		{URL: "https://b", Groups: []string{"news"}, Tier: 3},
		{URL: "https://c", Tier: 2},
	}))

	ingest := func(feed string, at time.Time, items ...model.Item) {
		t.Helper()
		if _, err := s.IngestEntries(ctx, feed, items, at); err != nil {
			t.Fatalf("ingest %s: %v", feed, err)
		}
	}
	ingest("https://a", fetchedAt,
		model.Item{UID: "a1", Title: "Go generics deep dive", Summary: "generics in go", Published: day(5, 10)},
		model.Item{UID: "a2", Title: "SQLite tuning", Published: day(3, 9)},
	)
	ingest("https://b", fetchedAt,
		model.Item{UID: "b1", Title: "World news today", Published: day(4, 9)},
		model.Item{UID: "b2", Title: "Markets 100%_up"},
	)
	ingest("https://c", day(1, 12),
		model.Item{UID: "c1", Title: "Random notes", Published: day(1, 8)},
	)

	must(s.ReplaceItemTags(ctx, 1, []string{"go", "generics"}, fetchedAt))
	must(s.ReplaceItemTags(ctx, 2, []string{"sqlite", "go"}, fetchedAt))
	must(s.ReplaceItemTags(ctx, 3, []string{"news"}, fetchedAt))
	_, err = s.SetStarred(ctx, []int64{2}, true)
	must(err)
	_, err = s.SetRead(ctx, []int64{3}, true)
	must(err)
	must(s.MarkExported(ctx, []int64{4}, fetchedAt))
	_, err = s.ArchiveItemIDs(ctx, []int64{5}, false)
	must(err)

	e := New(s.DB(), 0)
	e.SetClock(func() time.Time { return now })
	return e, s
}

func ids(rows []Row) []int64 {
	return lo.Map(rows, func(r Row, _ int) int64 { return r.ID })
}

func TestFindPredicates(t *testing.T) {
	e, _ := newTestEngine(t)

	tests := []struct {
		name  string
		preds []Predicate
		want  []int64
	}{
		{name: "no predicates hides archived", want: []int64{1, 2, 3, 4}},
		{name: "single group", preds: []Predicate{GroupIn{"news"}}, want: []int64{3, 4}},
		{name: "secondary group", preds: []Predicate{GroupIn{"tech"}}, want: []int64{1, 2}},
		{name: "groups are OR-ed", preds: []Predicate{GroupIn{"go", "news"}}, want: []int64{1, 2, 3, 4}},
		{name: "tier", preds: []Predicate{TierIn{1}}, want: []int64{1, 2}},
		{name: "one tag", preds: []Predicate{TagAll{"go"}}, want: []int64{1, 2}},
		{name: "tags are AND-ed", preds: []Predicate{TagAll{"GO", "sqlite"}}, want: []int64{2}},
		{name: "disjoint tags", preds: []Predicate{TagAll{"generics", "sqlite"}}, want: []int64{}},
		{name: "source by handle", preds: []Predicate{Source("2")}, want: []int64{3, 4}},
		{name: "source by url", preds: []Predicate{Source("https://a")}, want: []int64{1, 2}},
		{name: "unread", preds: []Predicate{ReadState(false)}, want: []int64{1, 2, 4}},
		{name: "starred", preds: []Predicate{StarState(true)}, want: []int64{2}},
		{name: "archived only", preds: []Predicate{DeletedOnly}, want: []int64{5}},
		{name: "archived included", preds: []Predicate{DeletedInclude}, want: []int64{1, 2, 3, 4, 5}},
		{
			name:  "created within",
			preds: []Predicate{DeletedInclude, CreatedWithin(48 * time.Hour)},
			want:  []int64{1, 2, 3, 4},
		},
		{
			name:  "published range",
			preds: []Predicate{DateRange{Field: DatePublished, From: day(3, 0), To: day(5, 0)}},
			want:  []int64{2, 3},
		},
		{
			name:  "undated items use ingestion time",
			preds: []Predicate{DateRange{Field: DatePublished, From: day(6, 0)}},
			want:  []int64{4},
		},
		{
			name:  "created range",
			preds: []Predicate{DeletedInclude, DateRange{Field: DateCreated, To: day(2, 0)}},
			want:  []int64{5},
		},
		{name: "text is case-insensitive", preds: []Predicate{TextMatch("GENERICS")}, want: []int64{1}},
		{name: "text wildcards are literal", preds: []Predicate{TextMatch("100%_")}, want: []int64{4}},
		{name: "text percent", preds: []Predicate{TextMatch("%")}, want: []int64{4}},
		{name: "export pending", preds: []Predicate{ExportPending{}}, want: []int64{1, 2, 3}},
		{name: "notify pending", preds: []Predicate{NotifyPending{}}, want: []int64{1, 2, 3, 4}},
		{name: "feed list", preds: []Predicate{FeedIn{"https://b"}}, want: []int64{3, 4}},
		{name: "ids", preds: []Predicate{IDIn{3, 1}}, want: []int64{1, 3}},
		{
			name:  "composed",
			preds: []Predicate{GroupIn{"go"}, ReadState(false), TagAll{"go"}, TierIn{1, 2}},
			want:  []int64{1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := e.Find(context.Background(), Query{Predicates: tt.preds, Sort: SortID, Limit: Unlimited})
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(rows), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFindMultiGroupMembership(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	requested := []string{"tech", "news"}

	rows, err := e.Find(ctx, Query{Predicates: []Predicate{GroupIn(requested)}, Limit: Unlimited})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	for _, r := range rows {
		feed, err := s.ResolveFeed(ctx, r.FeedURL)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if len(lo.Intersect(feed.Groups, requested)) == 0 {
			t.Errorf("item %d from feed in %v, none requested", r.ID, feed.Groups)
		}
	}
}

func TestFindSortAndLimit(t *testing.T) {
	e, _ := newTestEngine(t)

	tests := []struct {
		name  string
		query Query
		want  []int64
	}{
		{name: "default is date desc", query: Query{Limit: Unlimited}, want: []int64{4, 1, 3, 2}},
		{name: "date asc", query: Query{Sort: SortDate, Limit: Unlimited}, want: []int64{2, 3, 1, 4}},
		{name: "created date ties by id", query: Query{Sort: SortDateDesc, DateField: DateCreated, Limit: Unlimited}, want: []int64{4, 3, 2, 1}},
		{name: "id desc", query: Query{Sort: SortIDDesc, Limit: Unlimited}, want: []int64{4, 3, 2, 1}},
		{name: "title", query: Query{Sort: SortTitle, Limit: Unlimited}, want: []int64{1, 4, 2, 3}},
		{name: "tag count", query: Query{Sort: SortTags, Limit: Unlimited}, want: []int64{1, 2, 3, 4}},
		{name: "explicit limit", query: Query{Sort: SortID, Limit: 2}, want: []int64{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := e.Find(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(rows)); diff != "" {
				t.Errorf("order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEngineDefaultLimit(t *testing.T) {
	_, s := newTestEngine(t)
	e := New(s.DB(), 3)

	capped, err := e.Find(context.Background(), Query{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(capped) != 3 {
		t.Errorf("default cap returned %d rows, want 3", len(capped))
	}
	all, err := e.Find(context.Background(), Query{Limit: Unlimited})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("unlimited returned %d rows, want 4", len(all))
	}
}

func TestFindRowMetadata(t *testing.T) {
	e, _ := newTestEngine(t)
	rows, err := e.Find(context.Background(), Query{Predicates: []Predicate{IDIn{1, 5}}, Limit: Unlimited, Sort: SortID})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected archived item hidden, got %d rows", len(rows))
	}
	got := rows[0]
	if got.Tier != 1 || got.Group != "go" || got.FeedTitle != "Alpha" {
		t.Errorf("unexpected metadata %+v", got)
	}
	if diff := cmp.Diff([]string{"generics", "go"}, got.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestGroup(t *testing.T) {
	e, _ := newTestEngine(t)
	rows, err := e.Find(context.Background(), Query{Limit: Unlimited})
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	type bucket struct {
		Key string
		IDs []int64
	}
	flatten := func(bs []Bucket) []bucket {
		return lo.Map(bs, func(b Bucket, _ int) bucket { return bucket{Key: b.Key, IDs: ids(b.Rows)} })
	}

	tests := []struct {
		by   GroupBy
		loc  *time.Location
		want []bucket
	}{
		{by: GroupNone, want: []bucket{{Key: "", IDs: []int64{4, 1, 3, 2}}}},
		{by: GroupDay, want: []bucket{
			{Key: "2024-01-06", IDs: []int64{4}},
			{Key: "2024-01-05", IDs: []int64{1}},
			{Key: "2024-01-04", IDs: []int64{3}},
			{Key: "2024-01-03", IDs: []int64{2}},
		}},
		{by: GroupDay, loc: time.FixedZone("UTC-12", -12*3600), want: []bucket{
			{Key: "2024-01-06", IDs: []int64{4}},
			{Key: "2024-01-04", IDs: []int64{1}},
			{Key: "2024-01-03", IDs: []int64{3}},
			{Key: "2024-01-02", IDs: []int64{2}},
		}},
		{by: GroupWeek, want: []bucket{{Key: "2024-W01", IDs: []int64{4, 1, 3, 2}}}},
		{by: GroupMonth, want: []bucket{{Key: "2024-01", IDs: []int64{4, 1, 3, 2}}}},
		{by: GroupGroup, want: []bucket{{Key: "news", IDs: []int64{4, 3}}, {Key: "go", IDs: []int64{1, 2}}}},
		{by: GroupTier, want: []bucket{{Key: "tier 3", IDs: []int64{4, 3}}, {Key: "tier 1", IDs: []int64{1, 2}}}},
		{by: GroupSource, want: []bucket{{Key: "https://b", IDs: []int64{4, 3}}, {Key: "https://a", IDs: []int64{1, 2}}}},
		{by: GroupTag, want: []bucket{
			{Key: UntaggedLabel, IDs: []int64{4}},
			{Key: "generics", IDs: []int64{1}},
			{Key: "go", IDs: []int64{1, 2}},
			{Key: "news", IDs: []int64{3}},
			{Key: "sqlite", IDs: []int64{2}},
		}},
	}

	for _, tt := range tests {
		name := string(tt.by)
		if tt.loc != nil {
			name += " " + tt.loc.String()
		}
		t.Run(name, func(t *testing.T) {
			got := flatten(Group(rows, tt.by, DatePublished, tt.loc))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("buckets mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGroupSourceKeepsFeedsApart(t *testing.T) {
	row := func(id int64, url string) Row {
		return Row{Item: model.Item{ID: id, FeedURL: url, FeedTitle: "Blog"}}
	}
	rows := []Row{row(1, "https://a.example/rss"), row(2, "https://b.example/rss"), row(3, "https://a.example/rss")}

	type bucket struct {
		Key, Label string
		IDs        []int64
	}
	got := lo.Map(Group(rows, GroupSource, DatePublished, nil), func(b Bucket, _ int) bucket {
		return bucket{Key: b.Key, Label: b.Label, IDs: ids(b.Rows)}
	})
	want := []bucket{
		{Key: "https://a.example/rss", Label: "Blog", IDs: []int64{1, 3}},
		{Key: "https://b.example/rss", Label: "Blog", IDs: []int64{2}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("buckets mismatch (-want +got):\n%s", diff)
	}
}

func TestParse(t *testing.T) {
	if s, err := ParseSort(""); err != nil || s != SortDateDesc {
		t.Errorf("ParseSort(\"\") = %q, %v", s, err)
	}
	if s, err := ParseSort("Tags"); err != nil || s != SortTags {
		t.Errorf("ParseSort(Tags) = %q, %v", s, err)
	}
	var perr *ParseError
	if _, err := ParseSort("random"); !errors.As(err, &perr) {
		t.Errorf("expected ParseError, got %v", err)
	}
	if g, err := ParseGroupBy("week"); err != nil || g != GroupWeek {
		t.Errorf("ParseGroupBy(week) = %q, %v", g, err)
	}
	if _, err := ParseGroupBy("year"); err == nil {
		t.Error("expected error for unknown grouping")
	}
	if f, err := ParseDateField("created"); err != nil || f != DateCreated {
		t.Errorf("ParseDateField(created) = %q, %v", f, err)
	}
}

func TestTagCounts(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	got, err := e.TagCounts(ctx, nil)
	if err != nil {
		t.Fatalf("tag counts: %v", err)
	}
	want := []model.TagCount{{Name: "go", Count: 2}, {Name: "generics", Count: 1}, {Name: "news", Count: 1}, {Name: "sqlite", Count: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tag counts mismatch (-want +got):\n%s", diff)
	}

	news, err := e.TagCounts(ctx, []string{"news"})
	if err != nil {
		t.Fatalf("tag counts: %v", err)
	}
	if diff := cmp.Diff([]model.TagCount{{Name: "news", Count: 1}}, news); diff != "" {
		t.Errorf("group tag counts mismatch (-want +got):\n%s", diff)
	}
}

func TestSources(t *testing.T) {
	e, _ := newTestEngine(t)
	got, err := e.Sources(context.Background())
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	want := []SourceSummary{
		{Handle: 1, URL: "https://a", Title: "Alpha", Group: "go", Tier: 1, Items: 2, Unread: 2, TopTags: []string{"go", "generics", "sqlite"}},
		{Handle: 2, URL: "https://b", Group: "news", Tier: 3, Items: 2, Unread: 1, TopTags: []string{"news"}},
		{Handle: 3, URL: "https://c", Tier: 2},
	}
	opts := []cmp.Option{cmpopts.IgnoreFields(SourceSummary{}, "LastFetchAt"), cmpopts.EquateEmpty()}
	if diff := cmp.Diff(want, got, opts...); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}
	if got[0].LastFetchAt == nil || !got[0].LastFetchAt.Equal(fetchedAt) {
		t.Errorf("last fetch = %v", got[0].LastFetchAt)
	}
}
