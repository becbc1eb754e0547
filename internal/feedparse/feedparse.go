// Package feedparse turns raw RSS and Atom documents into candidate entries.
package feedparse

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	"github.com/mmcdole/gofeed/rss"

	"rssel/internal/model"
)

// ErrUnknownFormat is returned when the document root is neither RSS nor Atom.
var ErrUnknownFormat = errors.New("unrecognized feed format")

// timeLayouts are tried in order; RFC 2822 variants first, then ISO-8601.
var timeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"02 Jan 2006 15:04:05 -0700",
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Parse detects the document type from its root element and returns its
// entries. Malformed input yields no entries and an error; Parse never panics.
func Parse(feedURL string, raw []byte) (entries []model.Entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			entries, err = nil, fmt.Errorf("parse feed: %v", r)
		}
	}()

	switch gofeed.DetectFeedType(bytes.NewReader(raw)) {
	case gofeed.FeedTypeAtom:
		feed, err := (&atom.Parser{}).Parse(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse atom: %w", err)
		}
		return atomEntries(feedURL, feed), nil
	case gofeed.FeedTypeRSS:
		feed, err := (&rss.Parser{}).Parse(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse rss: %w", err)
		}
		return rssEntries(feed), nil
	default:
		return nil, ErrUnknownFormat
	}
}

func atomEntries(feedURL string, feed *atom.Feed) []model.Entry {
	base, _ := url.Parse(feedURL)
	out := make([]model.Entry, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		link := resolve(base, atomLink(e.Links))
		title := strings.TrimSpace(e.Title)

		body := ""
		if e.Content != nil {
			body = e.Content.Value
		}
		if strings.TrimSpace(body) == "" {
			body = e.Summary
		}

		published := ParseTimestamp(e.Published)
		if published.IsZero() {
			published = ParseTimestamp(e.Updated)
		}

		entry := model.Entry{
			GUID:      firstNonEmpty(e.ID, link, title),
			Link:      link,
			Title:     title,
			Summary:   e.Summary,
			Body:      body,
			Published: published,
		}
		if entry.GUID == "" {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// atomLink prefers the alternate link, then any link with an href.
func atomLink(links []*atom.Link) string {
	for _, l := range links {
		if l == nil || l.Href == "" {
			continue
		}
		if l.Rel == "" || l.Rel == "alternate" {
			return l.Href
		}
	}
	for _, l := range links {
		if l != nil && l.Href != "" {
			return l.Href
		}
	}
	return ""
}

func rssEntries(feed *rss.Feed) []model.Entry {
	out := make([]model.Entry, 0, len(feed.Items))
	for _, it := range feed.Items {
		link := strings.TrimSpace(it.Link)
		title := strings.TrimSpace(it.Title)

		guid := ""
		if it.GUID != nil {
			guid = it.GUID.Value
		}

		body := it.Content
		if strings.TrimSpace(body) == "" {
			body = it.Description
		}

		published := ParseTimestamp(it.PubDate)
		if published.IsZero() && it.DublinCoreExt != nil && len(it.DublinCoreExt.Date) > 0 {
			published = ParseTimestamp(it.DublinCoreExt.Date[0])
		}

		entry := model.Entry{
			GUID:      firstNonEmpty(guid, link, title),
			Link:      link,
			Title:     title,
			Summary:   it.Description,
			Body:      body,
			Published: published,
		}
		if entry.GUID == "" {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// ParseTimestamp tries the known layouts in order and returns the zero time
// when none match.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil || ref.IsAbs() {
		return href
	}
	return base.ResolveReference(ref).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
