package query

import (
	"fmt"
	"strings"
	"time"
)

// GroupBy names a presentation bucketing of query results.
type GroupBy string

// Groupings.
const (
	GroupNone   GroupBy = ""
	GroupDay    GroupBy = "day"
	GroupWeek   GroupBy = "week"
	GroupMonth  GroupBy = "month"
	GroupGroup  GroupBy = "group"
	GroupTier   GroupBy = "tier"
	GroupTag    GroupBy = "tag"
	GroupSource GroupBy = "source"
)

// UntaggedLabel is the bucket of items without tags when grouping by tag.
const UntaggedLabel = "(untagged)"

// ParseGroupBy parses a grouping name; the empty string means no grouping.
func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(s))); g {
	case GroupNone, GroupDay, GroupWeek, GroupMonth, GroupGroup, GroupTier, GroupTag, GroupSource:
		return g, nil
	default:
		return "", &ParseError{Kind: "grouping", Value: s}
	}
}

// Bucket is a labeled slice of rows. Key identifies the bucket; Label is
// what to show, which differs from Key only for sources.
type Bucket struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Rows  []Row  `json:"items"`
}

// Group partitions rows into buckets ordered by first appearance. Rows keep
// their relative order inside a bucket. Grouping by tag puts a row in one
// bucket per tag. Dates are bucketed in loc, or UTC when loc is nil.
func Group(rows []Row, by GroupBy, field DateField, loc *time.Location) []Bucket {
	if loc == nil {
		loc = time.UTC
	}
	if by == GroupNone {
		return []Bucket{{Rows: rows}}
	}

	var buckets []Bucket
	index := make(map[string]int)
	put := func(key string, r Row) {
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, Bucket{Key: key, Label: label(r, by, key)})
		}
		buckets[i].Rows = append(buckets[i].Rows, r)
	}

	for _, r := range rows {
		for _, key := range keys(r, by, field, loc) {
			put(key, r)
		}
	}
	return buckets
}

func keys(r Row, by GroupBy, field DateField, loc *time.Location) []string {
	switch by {
	case GroupDay:
		return []string{dateOf(r, field).In(loc).Format("2006-01-02")}
	case GroupWeek:
		y, w := dateOf(r, field).In(loc).ISOWeek()
		return []string{fmt.Sprintf("%04d-W%02d", y, w)}
	case GroupMonth:
		return []string{dateOf(r, field).In(loc).Format("2006-01")}
	case GroupGroup:
		return []string{r.Group}
	case GroupTier:
		return []string{fmt.Sprintf("tier %d", r.Tier)}
	case GroupTag:
		if len(r.Tags) == 0 {
			return []string{UntaggedLabel}
		}
		return r.Tags
	case GroupSource:
		return []string{r.FeedURL}
	}
	return []string{""}
}

// label names a source bucket by feed title. Feeds may share a title, so
// the URL stays the key.
func label(r Row, by GroupBy, key string) string {
	if by == GroupSource && r.FeedTitle != "" {
		return r.FeedTitle
	}
	return key
}

func dateOf(r Row, field DateField) time.Time {
	if field == DateCreated {
		return r.Created
	}
	return r.EffectiveTime()
}
