package query

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Filter holds the list criteria shared by the command line and the HTTP
// API. Zero fields do not filter.
type Filter struct {
	Groups []string
	Tiers  []int
	Tags   []string
	// Source is a feed handle or URL.
	Source  string
	Text    string
	Read    *bool
	Starred *bool
	Deleted DeletedState
	// NewWithin keeps items ingested within the duration.
	NewWithin time.Duration
	DateField DateField
	Since     time.Time
	Until     time.Time
	// On selects the day starting at On; it overrides Since and Until.
	On time.Time
}

// Predicates lowers f to query predicates.
func (f Filter) Predicates() []Predicate {
	ps := []Predicate{f.Deleted}
	if len(f.Groups) > 0 {
		ps = append(ps, GroupIn(f.Groups))
	}
	if len(f.Tiers) > 0 {
		ps = append(ps, TierIn(f.Tiers))
	}
	if len(f.Tags) > 0 {
		ps = append(ps, TagAll(f.Tags))
	}
	if f.Source != "" {
		ps = append(ps, Source(f.Source))
	}
	if f.Text != "" {
		ps = append(ps, TextMatch(f.Text))
	}
	if f.Read != nil {
		ps = append(ps, ReadState(*f.Read))
	}
	if f.Starred != nil {
		ps = append(ps, StarState(*f.Starred))
	}
	if f.NewWithin > 0 {
		ps = append(ps, CreatedWithin(f.NewWithin))
	}
	switch {
	case !f.On.IsZero():
		ps = append(ps, DateRange{Field: f.DateField, From: f.On, To: f.On.AddDate(0, 0, 1)})
	case !f.Since.IsZero() || !f.Until.IsZero():
		ps = append(ps, DateRange{Field: f.DateField, From: f.Since, To: f.Until})
	}
	return ps
}

// Query builds a query over f.
func (f Filter) Query(sort Sort, limit int) Query {
	return Query{Predicates: f.Predicates(), Sort: sort, DateField: f.DateField, Limit: limit}
}

var listSep = regexp.MustCompile(`[,\s]+`)

// SplitList splits a comma or space separated list, dropping empty parts.
func SplitList(s string) []string {
	var out []string
	for _, p := range listSep.Split(strings.TrimSpace(s), -1) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseDate parses "today", "yesterday" or a date with optional time in
// the location of now. Relative names resolve to local midnight.
func ParseDate(s string, now time.Time) (time.Time, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch s {
	case "":
		return time.Time{}, nil
	case "today":
		return midnight, nil
	case "yesterday":
		return midnight.AddDate(0, 0, -1), nil
	}
	t, err := dateparse.ParseIn(s, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}
