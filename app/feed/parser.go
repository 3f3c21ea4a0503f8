package feed

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
)

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

// Run parses an RSS or Atom document into raw entries.
func (p *Parser) Run(data []byte) (*Document, error) {
	parsed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	doc := &Document{
		Title:    strings.TrimSpace(parsed.Title),
		FeedType: parsed.FeedType,
		Entries:  make([]RawEntry, 0, len(parsed.Items)),
	}

	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		doc.Entries = append(doc.Entries, p.toRawEntry(parsed.FeedType, item))
	}

	return doc, nil
}

func (p *Parser) toRawEntry(feedType string, item *gofeed.Item) RawEntry {
	entry := RawEntry{
		Title:     item.Title,
		Link:      strings.TrimSpace(item.Link),
		Author:    p.extractAuthor(item),
		Published: firstNonEmpty(item.Published, item.Updated),
	}

	if entry.Link == "" && len(item.Links) > 0 {
		entry.Link = strings.TrimSpace(item.Links[0])
	}

	// gofeed maps <summary> and <description> to Description, <content> and
	// content:encoded to Content
	body := firstNonEmpty(item.Description, item.Content)
	if body == "" {
		return entry
	}

	switch feedType {
	case "atom":
		entry.Summary = &body
	case "rss":
		entry.Description = &body
	}

	return entry
}

func (p *Parser) extractAuthor(item *gofeed.Item) string {
	if item.Author != nil {
		if name := formatAuthor(item.Author.Name, item.Author.Email); name != "" {
			return name
		}
	}

	for _, author := range item.Authors {
		if author == nil {
			continue
		}
		if name := formatAuthor(author.Name, author.Email); name != "" {
			return name
		}
	}

	return ""
}

func formatAuthor(name, email string) string {
	name = strings.TrimSpace(name)
	if name != "" {
		return name
	}
	return strings.TrimSpace(email)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
