package feed

import (
	"time"
)

// Document is a fetched and parsed feed.
type Document struct {
	URL      string
	Title    string
	FeedType string
	Entries  []RawEntry
}

// RawEntry is one feed entry before normalization. Atom entries carry Summary,
// RSS items carry Description; an entry with neither is not supported.
type RawEntry struct {
	Source      string
	Title       string
	Link        string
	Author      string
	Published   string
	Summary     *string
	Description *string
}

// Article is the canonical form of a feed entry. Values are never mutated;
// WithSummary returns a modified copy.
type Article struct {
	Title       string
	PublishedAt time.Time
	Author      string
	Summary     string
	Link        string
	Identity    string
	Source      string
}

func (a Article) WithSummary(summary string) Article {
	a.Summary = summary
	return a
}
