package feed

import (
	"crypto/md5"
	"encoding/hex"
	"html"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/unicode/norm"
)

const (
	// SummaryLimit is the number of runes kept before the truncation marker.
	SummaryLimit     = 300
	TruncationMarker = " ..."
	// MinContentLength is the rune count a summary must exceed once bare URLs
	// are removed.
	MinContentLength = 10
	AnonymousAuthor  = "anonymous"
)

var (
	markupPattern   = regexp.MustCompile(`(?s)<.*?>|&([a-z0-9]+|#[0-9]{1,6}|#x[0-9a-f]{1,6});`)
	tagPattern      = regexp.MustCompile(`(?s)<.*?>`)
	readMorePattern = regexp.MustCompile(`(?i)read more`)
	bareURLPattern  = regexp.MustCompile(`(https?://)?([\da-z.-]+)\.([a-z.]{2,6})([/\w.-]*)`)
)

type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize turns a raw entry into an Article or returns a *RejectedError.
// The result depends only on the entry, so normalizing twice is idempotent.
func (n *Normalizer) Normalize(entry RawEntry) (Article, error) {
	link := strings.ToLower(strings.TrimSpace(entry.Link))

	var body string
	switch {
	case entry.Summary != nil:
		body = *entry.Summary
	case entry.Description != nil:
		body = *entry.Description
	default:
		return Article{}, reject(ReasonUnsupportedFormat, link)
	}

	if link == "" {
		return Article{}, reject(ReasonUnsupportedFormat, link)
	}

	summary, ok := cleanSummary(body)
	if !ok {
		return Article{}, reject(ReasonEmptyContent, link)
	}

	publishedAt, err := parseDate(entry.Published)
	if err != nil {
		return Article{}, reject(ReasonInvalidDate, link)
	}

	author := collapseSpaces(entry.Author)
	if author == "" {
		author = AuthorFromLink(link)
	}

	return Article{
		Title:       collapseSpaces(entry.Title),
		PublishedAt: publishedAt,
		Author:      author,
		Summary:     summary,
		Link:        link,
		Identity:    Identity(link),
		Source:      entry.Source,
	}, nil
}

// Identity is the hex MD5 digest of the lowercased, trimmed link.
func Identity(link string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(link))))
	return hex.EncodeToString(sum[:])
}

// AuthorFromLink returns the registrable domain of link, or AnonymousAuthor
// when the link has no host.
func AuthorFromLink(link string) string {
	host := hostOf(link)
	if host == "" {
		return AnonymousAuthor
	}

	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	return host
}

func hostOf(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	if !strings.Contains(link, "://") {
		link = "http://" + link
	}

	u, err := url.Parse(link)
	if err != nil {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// cleanSummary measures the body with markup and entities removed outright,
// while the returned summary keeps word boundaries and decoded entities.
func cleanSummary(body string) (string, bool) {
	stripped := markupPattern.ReplaceAllString(body, "")
	stripped = collapseSpaces(readMorePattern.ReplaceAllString(stripped, ""))

	// bare URLs and domain-like words ("example.com") do not count as content
	measured := strings.TrimSpace(bareURLPattern.ReplaceAllString(stripped, ""))
	if utf8.RuneCountInString(measured) <= MinContentLength {
		return "", false
	}

	text := html.UnescapeString(tagPattern.ReplaceAllString(body, " "))
	text = collapseSpaces(readMorePattern.ReplaceAllString(text, " "))

	return truncate(text, SummaryLimit), true
}

func truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + TruncationMarker
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

func parseDate(raw string) (time.Time, error) {
	t, err := dateparse.ParseIn(strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Round(0), nil
}
