// Package model defines the domain types used across the application.
package model

import "time"

// Tier bounds for feeds.
const (
	MinTier     = 1
	MaxTier     = 5
	DefaultTier = 3
)

// UngroupedLabel is used wherever a feed has no group.
const UngroupedLabel = "ungrouped"

// Feed represents a subscribed source.
type Feed struct {
	// Handle is the locally assigned numeric identity (SQLite rowid).
	Handle       int64
	URL          string
	Title        string
	PrimaryGroup string
	Groups       []string
	Archived     bool
	Tier         int
	LastFetchAt  *time.Time
}

// DisplayTitle returns the feed title, falling back to its URL.
func (f Feed) DisplayTitle() string {
	if f.Title != "" {
		return f.Title
	}
	return f.URL
}

// Source is one entry of the configured sources list.
type Source struct {
	URL    string
	Title  string
	Groups []string
	Tier   int
}

// Entry is a candidate item produced by the feed parser.
type Entry struct {
	GUID      string
	Link      string
	Title     string
	Summary   string
	Body      string
	Published time.Time
}

// Item is one syndicated entry persisted in the archive.
type Item struct {
	ID        int64
	FeedURL   string
	FeedTitle string
	Group     string
	GUID      string
	UID       string
	Title     string
	Link      string
	Summary   string
	Content   string
	Published time.Time
	Created   time.Time
	Read      bool
	Starred   bool
	Deleted   bool

	// Watermarks; nil means the stage never processed the item.
	AutoTaggedAt *time.Time
	ExportedAt   *time.Time
	NotifiedAt   *time.Time
}

// EffectiveTime returns the publication time, or the ingestion time when
// the feed did not supply one.
func (i Item) EffectiveTime() time.Time {
	if i.Published.IsZero() {
		return i.Created
	}
	return i.Published
}

// Body returns the full content, falling back to the summary.
func (i Item) Body() string {
	if i.Content != "" {
		return i.Content
	}
	return i.Summary
}

// TagCount pairs a tag name with the number of items carrying it.
type TagCount struct {
	Name  string `db:"name" json:"name"`
	Count int    `db:"count" json:"count"`
}

// FilterKind defines the type of a notification filter rule.
type FilterKind string

// Supported filter kinds.
const (
	FilterInclude   FilterKind = "include"
	FilterExclude   FilterKind = "exclude"
	FilterIncludeRe FilterKind = "include_re"
	FilterExcludeRe FilterKind = "exclude_re"
)

// FilterScope defines which part of an item a filter matches against.
type FilterScope string

// Supported filter scopes.
const (
	ScopeTitle   FilterScope = "title"
	ScopeContent FilterScope = "content"
	ScopeAll     FilterScope = "all"
)

// Filter is a single keyword rule selecting items for notification.
type Filter struct {
	Kind  FilterKind
	Scope FilterScope
	Value string
}
