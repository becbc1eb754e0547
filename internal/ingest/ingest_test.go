package ingest

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rssel/internal/logger"
	"rssel/internal/model"
	"rssel/internal/sources"
	"rssel/internal/storage"
)

type fakeFetcher struct {
	bodies map[string][]byte
	errs   map[string]error
	calls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	return f.bodies[url], nil
}

func loadFixture(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test-only fixture loading
	if err != nil {
		t.Fatalf("read fixture %s: %v", path, err)
	}
	return data
}

var clock = time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, f Fetcher) (*Engine, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	e := New(store, f, logger.Discard())
	e.SetClock(func() time.Time { return clock })
	return e, store
}

const (
	goURL   = "https://example.com/feed.xml"
	newsURL = "https://news.example.com/rss"
)

func TestDedupKey(t *testing.T) {
	tests := []struct {
		name        string
		a, b        [3]string
		wantSameKey bool
	}{
		{name: "same guid", a: [3]string{"g1", "https://x/1", "A"}, b: [3]string{"g1", "https://x/2", "B"}, wantSameKey: true},
		{name: "different guid same link", a: [3]string{"g1", "https://x/1", "A"}, b: [3]string{"g2", "https://x/1", "A"}, wantSameKey: false},
		{name: "no guid same link", a: [3]string{"", "https://x/1", "A"}, b: [3]string{"", "https://x/1", "B"}, wantSameKey: true},
		{name: "whitespace guid falls back to link", a: [3]string{"  ", "https://x/1", "A"}, b: [3]string{"", "https://x/1", "Z"}, wantSameKey: true},
		{name: "title only", a: [3]string{"", "", "Hello"}, b: [3]string{"", "", " Hello "}, wantSameKey: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka := DedupKey(tt.a[0], tt.a[1], tt.a[2])
			kb := DedupKey(tt.b[0], tt.b[1], tt.b[2])
			if (ka == kb) != tt.wantSameKey {
				t.Errorf("keys %q and %q: same=%v, want %v", ka, kb, ka == kb, tt.wantSameKey)
			}
		})
	}

	key := DedupKey("post-1", "", "")
	if len(key) != len("sha256:")+32 {
		t.Errorf("unexpected key format %q", key)
	}
	if DedupKey("", " ", "") != "" {
		t.Error("expected empty key without identity fields")
	}
}

func TestIngestFreshFeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{bodies: map[string][]byte{goURL: loadFixture(t, "../../testdata/sample.xml")}}
	e, store := newTestEngine(t, f)

	if err := e.Register(ctx, []model.Source{{URL: goURL, Groups: []string{"go"}, Tier: 1}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	feeds, err := store.ListFeeds(ctx, storage.FeedSelector{})
	if err != nil {
		t.Fatalf("list feeds: %v", err)
	}

	first := e.Ingest(ctx, feeds)
	want := []FeedResult{{FeedURL: goURL, Seen: 3, Inserted: 3}}
	if diff := cmp.Diff(want, first.Results); diff != "" {
		t.Errorf("first ingest mismatch (-want +got):\n%s", diff)
	}

	candidates, err := store.TagCandidates(ctx, storage.TagScope{})
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 3 {
		t.Errorf("expected 3 untagged items, got %d", len(candidates))
	}

	second := e.Ingest(ctx, feeds)
	if second.Inserted() != 0 {
		t.Errorf("second ingest inserted %d, want 0", second.Inserted())
	}

	f.bodies[goURL] = loadFixture(t, "../../testdata/sample_updated.xml")
	third := e.Ingest(ctx, feeds)
	if diff := cmp.Diff([]FeedResult{{FeedURL: goURL, Seen: 4, Inserted: 1}}, third.Results); diff != "" {
		t.Errorf("updated ingest mismatch (-want +got):\n%s", diff)
	}
}

func TestIngestLinkOnlyEntriesCollapse(t *testing.T) {
	ctx := context.Background()
	doc := func(title string) []byte {
		return []byte(`<rss version="2.0"><channel><title>t</title>
			<item><title>` + title + `</title><link>https://example.com/a</link></item>
			</channel></rss>`)
	}
	f := &fakeFetcher{bodies: map[string][]byte{goURL: doc("Original")}}
	e, store := newTestEngine(t, f)
	if err := e.Register(ctx, []model.Source{{URL: goURL}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	feeds, _ := store.ListFeeds(ctx, storage.FeedSelector{})

	e.Ingest(ctx, feeds)
	f.bodies[goURL] = doc("Edited title")
	report := e.Ingest(ctx, feeds)
	if report.Inserted() != 0 {
		t.Errorf("edited title produced %d new items, want 0", report.Inserted())
	}
}

func TestIngestFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	badURL := "https://bad.example.com/rss"
	f := &fakeFetcher{
		bodies: map[string][]byte{
			goURL:  loadFixture(t, "../../testdata/sample.xml"),
			badURL: loadFixture(t, "../../testdata/malformed.xml"),
		},
		errs: map[string]error{newsURL: errors.New("connection refused")},
	}
	e, store := newTestEngine(t, f)
	if err := e.Register(ctx, []model.Source{{URL: newsURL}, {URL: badURL}, {URL: goURL}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	feeds, _ := store.ListFeeds(ctx, storage.FeedSelector{})

	report := e.Ingest(ctx, feeds)
	if len(report.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(report.Results))
	}

	stages := map[string]Stage{}
	for _, r := range report.Failed() {
		stages[r.FeedURL] = r.Stage
	}
	if diff := cmp.Diff(map[string]Stage{newsURL: StageFetch, badURL: StageParse}, stages); diff != "" {
		t.Errorf("failure stages mismatch (-want +got):\n%s", diff)
	}
	if report.Inserted() != 3 {
		t.Errorf("inserted %d, want 3 from the healthy feed", report.Inserted())
	}
	if report.Err() == nil {
		t.Error("expected joined error")
	}

	failed, err := store.ResolveFeed(ctx, newsURL)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if failed.LastFetchAt != nil {
		t.Errorf("failed feed has last fetch %v", failed.LastFetchAt)
	}
}

func TestIngestTierSelection(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{bodies: map[string][]byte{
		goURL:   loadFixture(t, "../../testdata/sample.xml"),
		newsURL: loadFixture(t, "../../testdata/atom.xml"),
	}}
	e, store := newTestEngine(t, f)
	if err := e.Register(ctx, []model.Source{{URL: goURL, Tier: 1}, {URL: newsURL, Tier: 3}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	feeds, err := store.ListFeeds(ctx, storage.FeedSelector{Tiers: []int{1}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	e.Ingest(ctx, feeds)

	if diff := cmp.Diff([]string{goURL}, f.calls); diff != "" {
		t.Errorf("fetched feeds mismatch (-want +got):\n%s", diff)
	}
	tier1, _ := store.ResolveFeed(ctx, goURL)
	tier3, _ := store.ResolveFeed(ctx, newsURL)
	if tier1.LastFetchAt == nil || !tier1.LastFetchAt.Equal(clock) {
		t.Errorf("tier 1 last fetch = %v", tier1.LastFetchAt)
	}
	if tier3.LastFetchAt != nil {
		t.Errorf("tier 3 feed was touched: %v", tier3.LastFetchAt)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{}
	e, store := newTestEngine(t, f)

	err := e.Register(ctx, []model.Source{{URL: goURL}, {URL: newsURL}, {URL: goURL}})
	var dup *sources.DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	feeds, _ := store.ListFeeds(ctx, storage.FeedSelector{IncludeArchived: true})
	if len(feeds) != 0 {
		t.Errorf("duplicate batch registered %d feeds", len(feeds))
	}
	if len(f.calls) != 0 {
		t.Error("network touched before validation")
	}
}
