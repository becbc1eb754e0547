// Package sources loads the configured list of feeds.
//
// The sources file is JSON extended with comments and trailing commas. It
// holds either a bare array of entries or an object with a "sources" key:
//
//	{
//	  "sources": [
//	    // url is required, everything else is optional
//	    {"url": "https://go.dev/blog/feed.atom", "title": "Go Blog", "groups": ["go"], "tier": 1},
//	  ],
//	}
package sources

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/jsonc"

	"rssel/internal/model"
)

// DuplicateError reports feed URLs listed more than once.
type DuplicateError struct {
	URLs []string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate source urls: %s", strings.Join(e.URLs, ", "))
}

type rawEntry struct {
	URL    string          `json:"url"`
	Title  *string         `json:"title"`
	Groups []any           `json:"groups"`
	Tier   json.RawMessage `json:"tier"`
}

// Parse decodes a sources document. Entries without a url are dropped,
// non-string groups are ignored and tiers are clamped to the valid range.
func Parse(data []byte) ([]model.Source, error) {
	stripped := bytes.TrimSpace(jsonc.ToJSON(data))
	if len(stripped) == 0 {
		return nil, nil
	}

	var entries []json.RawMessage
	if stripped[0] == '{' {
		var doc struct {
			Sources []json.RawMessage `json:"sources"`
		}
		if err := json.Unmarshal(stripped, &doc); err != nil {
			return nil, fmt.Errorf("parse sources: %w", err)
		}
		entries = doc.Sources
	} else if err := json.Unmarshal(stripped, &entries); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}

	var out []model.Source
	for _, raw := range entries {
		var e rawEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			// Not an object, or a url that is not a string.
			continue
		}
		url := strings.TrimSpace(e.URL)
		if url == "" {
			continue
		}
		src := model.Source{URL: url, Tier: parseTier(e.Tier)}
		if e.Title != nil {
			src.Title = strings.TrimSpace(*e.Title)
		}
		src.Groups = lo.Uniq(lo.FilterMap(e.Groups, func(g any, _ int) (string, bool) {
			s, ok := g.(string)
			s = strings.TrimSpace(s)
			return s, ok && s != ""
		}))
		out = append(out, src)
	}
	return out, nil
}

func parseTier(raw json.RawMessage) int {
	if len(raw) == 0 {
		return model.DefaultTier
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return model.DefaultTier
	}
	var n int
	switch t := v.(type) {
	case float64:
		if t != float64(int(t)) {
			return model.DefaultTier
		}
		n = int(t)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return model.DefaultTier
		}
		n = parsed
	default:
		return model.DefaultTier
	}
	return ClampTier(n)
}

// ClampTier bounds a tier to the valid range.
func ClampTier(n int) int {
	return max(model.MinTier, min(model.MaxTier, n))
}

// Load reads and parses the sources file at path. A missing file yields no
// sources.
func Load(path string) ([]model.Source, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sources: %w", err)
	}
	srcs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return srcs, nil
}

// CheckDuplicates returns a *DuplicateError when a url appears more than once.
func CheckDuplicates(srcs []model.Source) error {
	counts := lo.CountValuesBy(srcs, func(s model.Source) string { return s.URL })
	var dups []string
	for url, n := range counts {
		if n > 1 {
			dups = append(dups, url)
		}
	}
	if len(dups) == 0 {
		return nil
	}
	sort.Strings(dups)
	return &DuplicateError{URLs: dups}
}

// Sample returns the starter sources file written by init.
func Sample() []byte {
	return []byte(`{
  // Each source needs a url. Groups organize listings and exports; the first
  // group is the primary one. Tier is 1..5 and defaults to 3.
  "sources": [
    {"url": "https://go.dev/blog/feed.atom", "title": "The Go Blog", "groups": ["go", "tech"], "tier": 1},
    {"url": "https://news.ycombinator.com/rss", "title": "Hacker News", "groups": ["news"]},
  ],
}
`)
}
