package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
)

type Validator struct {
	fetcher *Fetcher
	timeout time.Duration
}

func NewValidator(fetcher *Fetcher, timeout time.Duration) *Validator {
	return &Validator{fetcher: fetcher, timeout: timeout}
}

// IsWellFormedFeed reports whether url can be fetched and parsed as RSS or Atom.
func (v *Validator) IsWellFormedFeed(ctx context.Context, url string) bool {
	doc, err := v.fetcher.Fetch(ctx, url, v.timeout)
	if err != nil {
		slog.Debug("Feed validation failed", "url", url, "error", err)
		return false
	}
	return doc != nil
}

// Discoverer finds feeds advertised by an HTML page through
// <link rel="alternate"> elements.
type Discoverer struct {
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
}

func NewDiscoverer(httpClient *http.Client, userAgent string, timeout time.Duration) *Discoverer {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Discoverer{httpClient: httpClient, userAgent: userAgent, timeout: timeout}
}

func (d *Discoverer) Discover(ctx context.Context, pageURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page URL: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("HTTP error: " + resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var feeds []string
	doc.Find(`link[rel="alternate"]`).Each(func(_ int, s *goquery.Selection) {
		linkType := strings.ToLower(s.AttrOr("type", ""))
		if !strings.Contains(linkType, "rss") && !strings.Contains(linkType, "atom") {
			return
		}

		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		feeds = append(feeds, base.ResolveReference(ref).String())
	})

	return lo.Uniq(feeds), nil
}
